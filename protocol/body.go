package protocol

import (
	"bufio"
	"io"
	"strconv"

	httperrors "github.com/quillhttp/httpcore/errors"
)

// defaultBodyReadBlockSize is used when ReadBody is called with
// blockSize <= 0.
const defaultBodyReadBlockSize = 32 * 1024

// ReadBody consumes head's body from r according to its Framing, writing
// every chunk to dest. onBytes, if non-nil, is called after each
// successful write with the number of bytes just written — the executor
// uses it to drive the bytes_downloaded counter (§4.5.a). blockSize sizes
// the read buffer for content-length and read-to-close framing (§10.3's
// configurable read block size); blockSize <= 0 uses the default.
func ReadBody(r *bufio.Reader, head *ResponseHead, dest io.Writer, blockSize int, onBytes func(int)) error {
	if blockSize <= 0 {
		blockSize = defaultBodyReadBlockSize
	}
	switch head.Framing {
	case FramingChunked:
		return readChunkedBody(r, dest, blockSize, onBytes)
	case FramingContentLength:
		return copyExactly(r, dest, head.ContentLength, blockSize, onBytes)
	default:
		return copyUntilClose(r, dest, blockSize, onBytes)
	}
}

// readChunkedBody implements §4.4.c's chunked algorithm: read a line,
// interpret its leading run of hex digits as the chunk size (chunk
// extensions after ';' are ignored), read exactly that many body bytes
// plus the trailing CRLF, and stop at the zero-size chunk after discarding
// its trailing CRLF line.
func readChunkedBody(r *bufio.Reader, dest io.Writer, blockSize int, onBytes func(int)) error {
	for {
		line, err := readLine(r)
		if err != nil {
			return err
		}

		size, err := parseChunkSize(line)
		if err != nil {
			return err
		}

		if size == 0 {
			if _, err := readLine(r); err != nil {
				return err
			}
			return nil
		}

		if err := copyExactly(r, dest, size, blockSize, onBytes); err != nil {
			return err
		}
		if _, err := readLine(r); err != nil {
			return err
		}
	}
}

// parseChunkSize stops at the first non-hex character, per §4.4.c, and
// accepts both cases.
func parseChunkSize(line string) (int64, error) {
	end := 0
	for end < len(line) && isHexDigit(line[end]) {
		end++
	}
	if end == 0 {
		return 0, httperrors.NewProtocolError(httperrors.ProtocolErrorInvalidChunkedEncoding, "invalid chunk size line: "+line)
	}
	size, err := strconv.ParseInt(line[:end], 16, 64)
	if err != nil || size < 0 {
		return 0, httperrors.NewProtocolError(httperrors.ProtocolErrorInvalidChunkedEncoding, "invalid chunk size: "+line[:end])
	}
	return size, nil
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// copyExactly reads exactly n bytes from r into dest, failing if the
// stream ends early.
func copyExactly(r io.Reader, dest io.Writer, n int64, blockSize int, onBytes func(int)) error {
	if n == 0 {
		return nil
	}
	buf := make([]byte, blockSize)
	var remaining = n
	for remaining > 0 {
		want := int64(len(buf))
		if remaining < want {
			want = remaining
		}
		read, err := r.Read(buf[:want])
		if read > 0 {
			if _, werr := dest.Write(buf[:read]); werr != nil {
				return httperrors.NewKindError(httperrors.KindWriteFailed, "body write failed", werr)
			}
			if onBytes != nil {
				onBytes(read)
			}
			remaining -= int64(read)
		}
		if err != nil {
			if err == io.EOF {
				if remaining > 0 {
					return httperrors.NewProtocolError(httperrors.ProtocolErrorIncompleteResponse,
						"connection closed before complete response received")
				}
				return nil
			}
			return err
		}
	}
	return nil
}

// copyUntilClose reads fixed-size blocks until the peer closes (io.EOF) or
// an error occurs, per §4.4.c's read-to-close framing.
func copyUntilClose(r io.Reader, dest io.Writer, blockSize int, onBytes func(int)) error {
	buf := make([]byte, blockSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := dest.Write(buf[:n]); werr != nil {
				return httperrors.NewKindError(httperrors.KindWriteFailed, "body write failed", werr)
			}
			if onBytes != nil {
				onBytes(n)
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

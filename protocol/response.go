package protocol

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	httperrors "github.com/quillhttp/httpcore/errors"
)

// readLine implements the line-reading contract in §4.4.d: bytes up to and
// including "\r\n", with the terminator stripped from the returned value. A
// lone '\r' not immediately followed by '\n' is ordinary data and is left
// in place. Reaching EOF with a partial, unterminated line is a parse
// error.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return "", httperrors.NewProtocolError(httperrors.ProtocolErrorIncompleteResponse,
				"connection closed mid-line")
		}
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

// ReadResponseHead reads the status line and header block from r, up to
// and including the terminating blank line, and classifies the body
// framing per §4.4.b's priority rule: chunked beats content-length beats
// read-to-close.
func ReadResponseHead(r *bufio.Reader) (*ResponseHead, error) {
	statusLine, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if statusLine == "" {
		return nil, httperrors.NewProtocolError(httperrors.ProtocolErrorInvalidStatusLine, "empty status line")
	}

	code, message, err := parseStatusLine(statusLine)
	if err != nil {
		return nil, err
	}

	head := &ResponseHead{
		StatusCode:    code,
		StatusMessage: message,
		ContentLength: -1,
	}

	var rawHeaders strings.Builder
	for {
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		rawHeaders.WriteString(line)
		rawHeaders.WriteByte('\n')

		name, value, ok := splitHeaderLine(line)
		if !ok {
			return nil, httperrors.NewProtocolError(httperrors.ProtocolErrorInvalidHeader, "malformed header line: "+line)
		}
		head.Headers = append(head.Headers, Header{Name: name, Value: value})
	}
	head.RawHeaders = rawHeaders.String()

	if te, ok := head.HeaderValue("Transfer-Encoding"); ok && strings.Contains(strings.ToLower(te), "chunked") {
		head.Framing = FramingChunked
	} else if cl, ok := head.HeaderValue("Content-Length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return nil, httperrors.NewProtocolError(httperrors.ProtocolErrorInvalidHeader, "invalid Content-Length: "+cl)
		}
		head.Framing = FramingContentLength
		head.ContentLength = n
	} else {
		head.Framing = FramingReadToClose
	}

	if loc, ok := head.HeaderValue("Location"); ok {
		head.Location = loc
	}

	return head, nil
}

// parseStatusLine extracts the integer status code after the first run of
// non-space characters, per §4.4.b step 1.
func parseStatusLine(line string) (int, string, error) {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 {
		return 0, "", httperrors.NewProtocolError(httperrors.ProtocolErrorInvalidStatusLine, "invalid status line: "+line)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, "", httperrors.NewProtocolError(httperrors.ProtocolErrorInvalidStatusLine, "invalid status code: "+fields[1])
	}
	message := ""
	if len(fields) == 3 {
		message = fields[2]
	}
	return code, message, nil
}

func splitHeaderLine(line string) (name, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}
	return line[:idx], strings.TrimSpace(line[idx+1:]), true
}

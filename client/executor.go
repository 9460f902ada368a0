package client

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	httperrors "github.com/quillhttp/httpcore/errors"
	"github.com/quillhttp/httpcore/protocol"
	"github.com/quillhttp/httpcore/transport"
	"github.com/quillhttp/httpcore/urlparse"
)

var errNoSuchHandle = errors.New("client: no such handle")

// run drives one request's full lifecycle (§4.5) and publishes the
// terminal outcome onto r before returning.
func (m *Manager) run(handle Handle, r *request) {
	logger := log.With().Str("handle", handle.String()).Logger()

	resumeOffset, err := resumeOffsetFor(r.descriptor)
	if err != nil {
		r.finish(Error, 0, nil, nil, err)
		return
	}

	method := r.descriptor.Method
	if method == "" {
		method = "GET"
	}
	currentURL := r.descriptor.URL
	headers := r.descriptor.Headers

	var deadline time.Time
	if r.descriptor.Timeout > 0 {
		deadline = time.Now().Add(r.descriptor.Timeout)
	}

	var head *protocol.ResponseHead
	var conn *transport.Connection
	var reader *bufio.Reader

	for hop := 0; ; hop++ {
		if hop > m.maxRedirects {
			r.finish(Error, 0, nil, nil, httperrors.NewKindError(httperrors.KindTooManyRedirects,
				fmt.Sprintf("too many redirects (max %d)", m.maxRedirects), nil))
			return
		}

		parsed, err := urlparse.Parse(currentURL)
		if err != nil {
			r.finish(Error, 0, nil, nil, err)
			return
		}

		if parsed.Secure && !transport.Available() {
			r.finish(Error, 0, nil, nil, httperrors.NewTransportError(httperrors.KindTLSUnavailable,
				httperrors.TransportErrorTLSUnavailable, "no TLS backend available", nil))
			return
		}

		conn, err = transport.Dial(m.transportFactory, parsed.Host, parsed.Port, parsed.Secure, parsed.Host)
		if err != nil {
			r.finish(Error, 0, nil, nil, err)
			return
		}

		if !deadline.IsZero() {
			if err := conn.SetDeadline(deadline); err != nil {
				conn.Close()
				r.finish(Error, 0, nil, nil, err)
				return
			}
		}

		req := &protocol.Request{
			Method:       method,
			Host:         parsed.Host,
			Path:         parsed.Path,
			Headers:      headers,
			Body:         r.descriptor.Body,
			ResumeOffset: resumeOffset,
		}

		sent, err := protocol.WriteRequest(conn, req)
		if sent > 0 {
			r.uploaded.Add(int64(sent))
		}
		if err != nil {
			conn.Close()
			r.finish(Error, 0, nil, nil, httperrors.NewTransportError(httperrors.KindSendFailed,
				httperrors.TransportErrorSocketWriteFailure, "failed to send request", err))
			return
		}

		reader = bufio.NewReader(connReader{conn})
		head, err = protocol.ReadResponseHead(reader)
		if err != nil {
			conn.Close()
			r.finish(Error, 0, nil, nil, httperrors.NewTransportError(httperrors.KindReceiveFailed,
				httperrors.TransportErrorSocketReadFailure, "failed to read response headers", err))
			return
		}

		if head.IsRedirect() && head.Location != "" {
			logger.Debug().Int("status", head.StatusCode).Str("location", head.Location).Msg("following redirect")

			// Drain and close before moving to the next hop (§4.5 step 3).
			conn.DrainToClose()
			conn.Close()

			next, err := parsed.ResolveLocation(head.Location)
			if err != nil {
				r.finish(Error, 0, nil, nil, err)
				return
			}
			currentURL = next.String()
			if head.StatusCode == 303 {
				method = "GET"
			}
			continue
		}

		break
	}
	defer conn.Close()

	dest, destFile, effectiveResume, totalOverride, err := selectBodyDestination(r.descriptor, head, resumeOffset)
	if err != nil {
		r.finish(Error, head.StatusCode, nil, nil, err)
		return
	}
	if destFile != nil {
		defer destFile.Close()
	}

	r.downloaded.Store(effectiveResume)
	if totalOverride >= 0 {
		r.contentLength.Store(totalOverride)
	} else if head.Framing == protocol.FramingContentLength {
		r.contentLength.Store(head.ContentLength)
	}

	if err := protocol.ReadBody(reader, head, dest, m.readBlockSize, func(n int) {
		r.downloaded.Add(int64(n))
	}); err != nil {
		var httpErr *httperrors.HttpError
		if !errors.As(err, &httpErr) {
			err = httperrors.NewTransportError(httperrors.KindReceiveFailed,
				httperrors.TransportErrorSocketReadFailure, "failed to read response body", err)
		}
		r.finish(Error, head.StatusCode, nil, nil, err)
		return
	}

	respHeaders := make(map[string]string, len(head.Headers))
	for _, h := range head.Headers {
		respHeaders[lowerASCII(h.Name)] = h.Value
	}

	var body []byte
	if destFile == nil {
		body = dest.(*bytes.Buffer).Bytes()
	}

	r.finish(Done, head.StatusCode, respHeaders, body, nil)
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// resumeOffsetFor stats an existing output file to find the byte offset
// to resume from (§4.5 step 2), unless Override is set.
func resumeOffsetFor(d Descriptor) (int64, error) {
	if d.OutputPath == "" || d.Override {
		return 0, nil
	}
	info, err := os.Stat(d.OutputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, httperrors.NewKindError(httperrors.KindFileOpenFailed, "failed to stat output file", err)
	}
	return info.Size(), nil
}

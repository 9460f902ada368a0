package protocol

import (
	"fmt"
	"io"
	"strconv"
)

// WriteRequest serializes req onto w in the fixed order spec §4.4.a
// requires: request line, Host, User-Agent, Connection: close, user
// headers in insertion order, then the optional Range and Content-Length
// headers, then the blank line and body. It returns the total number of
// bytes actually written to w — the executor's bytes_uploaded counter
// (§4.5.a) tracks this, not just the body length, since headers are sent
// over the wire too.
func WriteRequest(w io.Writer, req *Request) (int, error) {
	buf := make([]byte, 0, 256+len(req.Body))

	buf = append(buf, req.Method...)
	buf = append(buf, ' ')
	buf = append(buf, req.Path...)
	buf = append(buf, " HTTP/1.1\r\n"...)

	buf = appendHeader(buf, "Host", req.Host)
	buf = appendHeader(buf, "User-Agent", UserAgent)
	buf = appendHeader(buf, "Connection", "close")

	for _, h := range req.Headers {
		buf = appendHeader(buf, h.Name, h.Value)
	}

	if req.ResumeOffset > 0 {
		buf = appendHeader(buf, "Range", fmt.Sprintf("bytes=%d-", req.ResumeOffset))
	}

	if len(req.Body) > 0 {
		buf = appendHeader(buf, "Content-Length", strconv.Itoa(len(req.Body)))
	}

	buf = append(buf, "\r\n"...)
	buf = append(buf, req.Body...)

	return w.Write(buf)
}

func appendHeader(buf []byte, name, value string) []byte {
	buf = append(buf, name...)
	buf = append(buf, ": "...)
	buf = append(buf, value...)
	buf = append(buf, "\r\n"...)
	return buf
}

package client

import (
	"io"

	"github.com/quillhttp/httpcore/transport"
)

// connReader adapts a transport.Connection's C-style "0 means peer closed"
// Read contract to the idiomatic io.Reader contract (0, io.EOF) that
// bufio.Reader and the protocol package's body readers expect.
type connReader struct {
	conn *transport.Connection
}

func (c connReader) Read(p []byte) (int, error) {
	n, err := c.conn.Read(p)
	if n < 0 {
		n = 0
	}
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

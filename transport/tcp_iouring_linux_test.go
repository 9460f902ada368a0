//go:build linux

package transport

import (
	"fmt"
	"net"
	"testing"
)

func setupIOUringTestServer(t *testing.T, handler func(net.Conn)) (string, int, func()) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := listener.Addr().(*net.TCPAddr)

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}()

	return addr.IP.String(), addr.Port, func() { listener.Close() }
}

func TestIOURingTransport_WriteAndRead(t *testing.T) {
	responseBody := "hello from io_uring"
	response := fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(responseBody), responseBody)

	host, port, cleanup := setupIOUringTestServer(t, func(conn net.Conn) {
		buf := make([]byte, 1024)
		conn.Read(buf)
		conn.Write([]byte(response))
	})
	defer cleanup()

	tr, err := NewIOUringTransport()
	if err != nil {
		t.Fatalf("NewIOUringTransport: %v", err)
	}
	defer tr.Close()

	if err := tr.Connect(host, port); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if _, err := tr.Write([]byte("GET /x HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 1024)
	n, err := tr.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n == 0 {
		t.Fatalf("expected to read bytes from server response")
	}
}

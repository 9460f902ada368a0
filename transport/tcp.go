package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"syscall"
	"time"

	httperrors "github.com/quillhttp/httpcore/errors"
)

// netTransport is the default Transport implementation: a single blocking
// TCP socket dialed through the standard resolver. It is the grounding
// source's (the zero-dep sibling's) net.Dial-based style, generalized to
// walk every resolved address in turn per spec §4.3 rather than trusting
// net.Dial's own (unspecified) address selection.
type netTransport struct {
	conn net.Conn
}

// NewTCPTransport creates a new, not-yet-connected TCP transport.
func NewTCPTransport() *netTransport {
	return &netTransport{}
}

// Connect resolves host:port, then tries each resolved address in turn
// until one connects or the list is exhausted.
func (t *netTransport) Connect(host string, port int) error {
	if t.conn != nil {
		return httperrors.NewTransportError(httperrors.KindConnectFailed, httperrors.TransportErrorSocketConnectFailure, "already connected", nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return httperrors.NewTransportError(httperrors.KindResolveFailed, httperrors.TransportErrorDnsFailure,
			fmt.Sprintf("resolve %s failed", host), err)
	}

	portStr := strconv.Itoa(port)
	dialer := net.Dialer{Timeout: 10 * time.Second}

	var lastErr error
	for _, ip := range ips {
		addr := net.JoinHostPort(ip.IP.String(), portStr)
		conn, dialErr := dialer.DialContext(ctx, "tcp", addr)
		if dialErr == nil {
			if tcpConn, ok := conn.(*net.TCPConn); ok {
				_ = tcpConn.SetNoDelay(true)
			}
			t.conn = conn
			return nil
		}
		lastErr = dialErr
	}

	return httperrors.NewTransportError(httperrors.KindConnectFailed, httperrors.TransportErrorSocketConnectFailure,
		fmt.Sprintf("connect(%s:%s) failed", host, portStr), lastErr)
}

// Write sends data over the TCP connection.
func (t *netTransport) Write(buf []byte) (int, error) {
	if t.conn == nil {
		return 0, httperrors.NewTransportError(httperrors.KindSendFailed, httperrors.TransportErrorSocketWriteFailure, "not connected", nil)
	}

	n, err := t.conn.Write(buf)
	if err != nil {
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
			return n, httperrors.NewTransportError(httperrors.KindSendFailed, httperrors.TransportErrorConnectionClosed, "connection closed during write", err)
		}
		return n, httperrors.NewTransportError(httperrors.KindSendFailed, httperrors.TransportErrorSocketWriteFailure, "write failed", err)
	}
	return n, nil
}

// Read receives data from the TCP connection. EOF is reported as (0, nil)
// to match the spec's "0 on peer close" contract rather than as an error.
func (t *netTransport) Read(buf []byte) (int, error) {
	if t.conn == nil {
		return 0, httperrors.NewTransportError(httperrors.KindReceiveFailed, httperrors.TransportErrorSocketReadFailure, "not connected", nil)
	}

	n, err := t.conn.Read(buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		return n, httperrors.NewTransportError(httperrors.KindReceiveFailed, httperrors.TransportErrorSocketReadFailure, "read failed", err)
	}
	return n, nil
}

// Close closes the TCP connection. Idempotent.
func (t *netTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	if err != nil {
		return httperrors.NewTransportError(httperrors.KindConnectFailed, httperrors.TransportErrorSocketWriteFailure, "close failed", err)
	}
	return nil
}

// SetDeadline enforces the request timeout (spec §9's open question: we
// choose to enforce rather than silently ignore it) on the underlying
// socket ahead of each blocking read/write.
func (t *netTransport) SetDeadline(deadline time.Time) error {
	if t.conn == nil {
		return nil
	}
	return t.conn.SetDeadline(deadline)
}

// Fd exposes the underlying socket file descriptor, needed by the
// dlopen'd OpenSSL backend's SSL_set_fd.
func (t *netTransport) Fd() (uintptr, error) {
	sc, ok := t.conn.(syscall.Conn)
	if !ok {
		return 0, httperrors.NewInvalidArgumentError("connection does not expose a raw file descriptor")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd uintptr
	ctrlErr := raw.Control(func(fdVal uintptr) { fd = fdVal })
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}

package transport

import (
	"io"
	"strconv"
	"time"

	httperrors "github.com/quillhttp/httpcore/errors"
)

// Transport is the uniform byte read/write interface every network
// backend (plain TCP, io_uring-accelerated TCP) implements. It doubles as
// an io.ReadWriter so a TLSSession's Handshake can drive it directly.
type Transport interface {
	// Connect establishes a connection to the specified host and port.
	Connect(host string, port int) error

	// Write sends data over the connection. Returns the number of bytes
	// written, with a non-nil error on failure.
	Write(buf []byte) (int, error)

	// Read receives data from the connection. Returns (0, nil) on peer
	// close, and a non-nil error on failure.
	Read(buf []byte) (int, error)

	// Close closes the connection. Idempotent.
	Close() error
}

// deadlineSetter is implemented by transports that can enforce the
// request timeout on the socket. Backends that can't (e.g. the io_uring
// transport, which has no per-call deadline primitive wired up) simply
// don't implement it — Connection then leaves the timeout unenforced for
// that call and this is not silently pretended otherwise.
type deadlineSetter interface {
	SetDeadline(time.Time) error
}

var _ io.ReadWriter = Transport(nil)

// TransportFactory builds a fresh, unconnected Transport. The default
// factory returns the blocking net.Conn-based implementation; a consumer
// can install the io_uring-accelerated one on Linux via
// client.WithTransportFactory.
type TransportFactory func() Transport

// DefaultTransportFactory returns the blocking TCP transport.
func DefaultTransportFactory() Transport {
	return NewTCPTransport()
}

// Connection owns one connected socket and, when the target URL is
// secure, one TLS session layered on top of it. It exposes the same
// uniform Read/Write/Close surface regardless of whether TLS is in play.
type Connection struct {
	transport Transport
	tls       TLSSession
	secure    bool
}

// Dial resolves and connects to host:port via the given factory, then
// performs a TLS handshake if secure is set. On any failure the partially
// constructed connection is closed before the error is returned.
func Dial(factory TransportFactory, host, port string, secure bool, hostnameForSNI string) (*Connection, error) {
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, httperrors.NewKindError(httperrors.KindURLInvalid, "port is not numeric", err)
	}

	if secure && !Available() {
		return nil, httperrors.NewTransportError(httperrors.KindTLSUnavailable, httperrors.TransportErrorTLSUnavailable, "no TLS backend available", nil)
	}

	t := factory()
	if err := t.Connect(host, portNum); err != nil {
		return nil, err
	}

	conn := &Connection{transport: t, secure: secure}

	if secure {
		session, err := NewTLSSession()
		if err != nil {
			_ = t.Close()
			return nil, err
		}
		if err := session.Handshake(t, hostnameForSNI); err != nil {
			_ = session.Close()
			_ = t.Close()
			return nil, httperrors.NewTransportError(httperrors.KindTLSHandshakeFailed, httperrors.TransportErrorTLSHandshakeFailure, "TLS handshake failed", err)
		}
		conn.tls = session
	}

	return conn, nil
}

// Write sends bytes, transparently through TLS if present.
func (c *Connection) Write(buf []byte) (int, error) {
	if c.tls != nil {
		return c.tls.Send(buf)
	}
	return c.transport.Write(buf)
}

// Read receives bytes, transparently through TLS if present.
func (c *Connection) Read(buf []byte) (int, error) {
	if c.tls != nil {
		return c.tls.Recv(buf)
	}
	return c.transport.Read(buf)
}

// Close closes TLS first (if present), then the socket. Idempotent.
func (c *Connection) Close() error {
	log.Debug().Bool("secure", c.secure).Msg("connection: tearing down")
	if c.tls != nil {
		_ = c.tls.Close()
		c.tls = nil
	}
	return c.transport.Close()
}

// SetDeadline enforces a timeout on the underlying socket when the
// transport backend supports it; otherwise it is a silent no-op (the
// backend does not support deadline enforcement — see deadlineSetter).
func (c *Connection) SetDeadline(deadline time.Time) error {
	if ds, ok := c.transport.(deadlineSetter); ok {
		return ds.SetDeadline(deadline)
	}
	return nil
}

// DrainToClose reads and discards bytes until the peer closes or an error
// occurs. Used by the redirect loop to cleanly retire a connection whose
// body was never consumed (spec §4.5 step 3).
func (c *Connection) DrainToClose() {
	buf := make([]byte, 4096)
	for {
		n, err := c.Read(buf)
		if err != nil || n <= 0 {
			return
		}
	}
}

package transport

import "io"

// TLSSession is the pluggable TLS record-layer interface (spec §4.2): one
// handshake, then symmetric send/recv, then close. rw is whatever raw byte
// transport the handshake and subsequent encryption should ride on top of
// — usually the Transport already Connect()-ed to the peer.
type TLSSession interface {
	// Handshake performs the TLS handshake over rw, authenticating the
	// peer as hostname (used for SNI and, where the backend validates
	// certificates, for name checking).
	Handshake(rw io.ReadWriter, hostname string) error

	// Send encrypts and transmits plaintext, returning the number of
	// plaintext bytes consumed, or -1 on failure.
	Send(plaintext []byte) (int, error)

	// Recv decrypts into buf, returning the number of plaintext bytes
	// produced: 0 on a graceful TLS close_notify, -1 on failure.
	Recv(buf []byte) (int, error)

	// Close tears down the session. Idempotent.
	Close() error
}

// NewTLSSession constructs a fresh session using whichever backend this
// build was compiled with (native Secure Channel on Windows, dlopen'd
// OpenSSL elsewhere). Selection is a build-time decision, exactly as spec
// §4.2.c specifies.
func NewTLSSession() (TLSSession, error) {
	return newPlatformTLSSession()
}

// Available reports whether a TLS backend is ready to use — the library's
// tls_available() probe (spec §6). It never performs network I/O.
func Available() bool {
	return platformTLSAvailable()
}

// Shutdown releases whatever process-wide TLS resources Available (or any
// prior Dial into a secure host) caused to be acquired — the SChannel
// credentials handle on Windows, the dlopen'd OpenSSL libraries elsewhere
// — and resets the one-shot gate so a later Available call re-acquires
// from scratch, per spec §5/§6. Idempotent; safe to call when TLS was
// never touched.
func Shutdown() {
	shutdownPlatformTLS()
}

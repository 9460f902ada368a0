//go:build !windows

package transport

import (
	"fmt"
	"io"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"

	httperrors "github.com/quillhttp/httpcore/errors"
)

// Candidate shared-library names, versioned names first, matching the
// original implementation's probe order (spec §4.2.b / SPEC_FULL §12).
var (
	libsslCandidates = []string{
		"libssl.so.3", "libssl.so.1.1", "libssl.so",
		"libssl.3.dylib", "libssl.1.1.dylib", "libssl.dylib",
	}
	libcryptoCandidates = []string{
		"libcrypto.so.3", "libcrypto.so.1.1", "libcrypto.so",
		"libcrypto.3.dylib", "libcrypto.1.1.dylib", "libcrypto.dylib",
	}
)

// gate states for the one-shot OpenSSL symbol resolution (spec §5).
const (
	gateUninit int32 = iota
	gateInitializing
	gateReady
	gateFailed
)

var opensslGate atomic.Int32

type opensslSymbols struct {
	initSSL      func(opts uint64, settings uintptr) int32
	clientMethod func() uintptr
	ctxNew       func(method uintptr) uintptr
	ctxFree      func(ctx uintptr)
	sslNew       func(ctx uintptr) uintptr
	sslFree      func(ssl uintptr)
	setFd        func(ssl uintptr, fd int32) int32
	connect      func(ssl uintptr) int32
	read         func(ssl uintptr, buf unsafe.Pointer, num int32) int32
	write        func(ssl uintptr, buf unsafe.Pointer, num int32) int32
	shutdown     func(ssl uintptr) int32
	ctrl         func(ssl uintptr, cmd int32, larg int64, parg unsafe.Pointer) int64
	getError     func() uint64
}

var openssl opensslSymbols

// sslLibHandle and cryptoLibHandle are the dlopen'd library handles
// loadOpenSSL resolved symbols from; shutdownPlatformTLS closes them.
var sslLibHandle, cryptoLibHandle uintptr

// SSL_ctrl command used by the SSL_set_tlsext_host_name macro, and the
// accompanying name-type constant — both fixed by the OpenSSL ABI.
const (
	sslCtrlSetTLSExtHostname = 55
	tlsExtNameTypeHostName   = 0
)

func dlopenFirst(candidates []string) (uintptr, string, error) {
	var lastErr error
	for _, name := range candidates {
		handle, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			return handle, name, nil
		}
		lastErr = err
	}
	return 0, "", lastErr
}

func loadOpenSSL() (err error) {
	// purego.RegisterLibFunc panics when a symbol is missing; turn that into
	// an ordinary load failure so the backend reports TLS unavailable.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("OpenSSL symbol resolution failed: %v", r)
		}
	}()

	sslHandle, sslName, err := dlopenFirst(libsslCandidates)
	if err != nil {
		return fmt.Errorf("no OpenSSL libssl found: %w", err)
	}
	cryptoHandle, _, err := dlopenFirst(libcryptoCandidates)
	if err != nil {
		return fmt.Errorf("no OpenSSL libcrypto found: %w", err)
	}
	sslLibHandle, cryptoLibHandle = sslHandle, cryptoHandle
	log.Debug().Str("library", sslName).Msg("openssl: resolved libssl")

	purego.RegisterLibFunc(&openssl.clientMethod, sslHandle, "TLS_client_method")
	purego.RegisterLibFunc(&openssl.ctxNew, sslHandle, "SSL_CTX_new")
	purego.RegisterLibFunc(&openssl.ctxFree, sslHandle, "SSL_CTX_free")
	purego.RegisterLibFunc(&openssl.sslNew, sslHandle, "SSL_new")
	purego.RegisterLibFunc(&openssl.sslFree, sslHandle, "SSL_free")
	purego.RegisterLibFunc(&openssl.setFd, sslHandle, "SSL_set_fd")
	purego.RegisterLibFunc(&openssl.connect, sslHandle, "SSL_connect")
	purego.RegisterLibFunc(&openssl.read, sslHandle, "SSL_read")
	purego.RegisterLibFunc(&openssl.write, sslHandle, "SSL_write")
	purego.RegisterLibFunc(&openssl.shutdown, sslHandle, "SSL_shutdown")
	purego.RegisterLibFunc(&openssl.ctrl, sslHandle, "SSL_ctrl")
	purego.RegisterLibFunc(&openssl.getError, cryptoHandle, "ERR_get_error")

	// OPENSSL_init_ssl is the 1.1.0+ init entry point. Like every symbol
	// above it is required: a library that lacks it (such as a pre-1.1.0
	// one, which named it SSL_library_init) fails resolution.
	var initFn func(opts uint64, settings uintptr) int32
	purego.RegisterLibFunc(&initFn, sslHandle, "OPENSSL_init_ssl")
	openssl.initSSL = initFn

	log.Debug().Msg("openssl: symbol resolution complete")
	return nil
}

// shutdownPlatformTLS closes the dlopen'd libssl/libcrypto handles and
// resets the gate so a later call can re-resolve, per spec §5/§6.
func shutdownPlatformTLS() {
	if opensslGate.Load() != gateReady {
		opensslGate.Store(gateUninit)
		return
	}
	if sslLibHandle != 0 {
		purego.Dlclose(sslLibHandle)
		sslLibHandle = 0
	}
	if cryptoLibHandle != 0 {
		purego.Dlclose(cryptoLibHandle)
		cryptoLibHandle = 0
	}
	openssl = opensslSymbols{}
	log.Debug().Msg("openssl: released libssl/libcrypto")
	opensslGate.Store(gateUninit)
}

// platformTLSAvailable probes (and, on first call, performs) OpenSSL
// symbol resolution exactly once, regardless of how many goroutines call
// it concurrently.
func platformTLSAvailable() bool {
	for {
		switch opensslGate.Load() {
		case gateReady:
			return true
		case gateFailed:
			return false
		case gateUninit:
			if opensslGate.CompareAndSwap(gateUninit, gateInitializing) {
				if err := loadOpenSSL(); err != nil {
					log.Warn().Err(err).Msg("openssl: symbol resolution failed")
					opensslGate.Store(gateFailed)
					return false
				}
				if openssl.initSSL != nil {
					openssl.initSSL(0, 0)
				}
				opensslGate.Store(gateReady)
				return true
			}
		default: // gateInitializing: spin until the winner finishes.
		}
	}
}

// fdAccessor is implemented by Transports that expose their underlying
// socket file descriptor — required because SSL_set_fd binds a raw fd,
// not a Go io.ReadWriter.
type fdAccessor interface {
	Fd() (uintptr, error)
}

type opensslSession struct {
	ctx uintptr
	ssl uintptr
}

func newPlatformTLSSession() (TLSSession, error) {
	if !platformTLSAvailable() {
		return nil, httperrors.NewTransportError(httperrors.KindTLSUnavailable, httperrors.TransportErrorTLSUnavailable, "OpenSSL libraries could not be loaded", nil)
	}
	return &opensslSession{}, nil
}

func (s *opensslSession) Handshake(rw io.ReadWriter, hostname string) error {
	fa, ok := rw.(fdAccessor)
	if !ok {
		return fmt.Errorf("transport does not expose a file descriptor for the OpenSSL backend")
	}
	fd, err := fa.Fd()
	if err != nil {
		return err
	}

	method := openssl.clientMethod()
	if method == 0 {
		return fmt.Errorf("TLS_client_method returned NULL")
	}
	s.ctx = openssl.ctxNew(method)
	if s.ctx == 0 {
		return fmt.Errorf("SSL_CTX_new failed (err %d)", openssl.getError())
	}
	s.ssl = openssl.sslNew(s.ctx)
	if s.ssl == 0 {
		openssl.ctxFree(s.ctx)
		s.ctx = 0
		return fmt.Errorf("SSL_new failed (err %d)", openssl.getError())
	}
	if openssl.setFd(s.ssl, int32(fd)) != 1 {
		return fmt.Errorf("SSL_set_fd failed (err %d)", openssl.getError())
	}

	hostnameBytes := append([]byte(hostname), 0)
	openssl.ctrl(s.ssl, sslCtrlSetTLSExtHostname, tlsExtNameTypeHostName, unsafe.Pointer(&hostnameBytes[0]))

	if rc := openssl.connect(s.ssl); rc <= 0 {
		return fmt.Errorf("SSL_connect failed: rc=%d err=%d", rc, openssl.getError())
	}
	return nil
}

func (s *opensslSession) Send(plaintext []byte) (int, error) {
	if len(plaintext) == 0 {
		return 0, nil
	}
	n := openssl.write(s.ssl, unsafe.Pointer(&plaintext[0]), int32(len(plaintext)))
	if n <= 0 {
		return -1, fmt.Errorf("SSL_write failed: rc=%d err=%d", n, openssl.getError())
	}
	return int(n), nil
}

func (s *opensslSession) Recv(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n := openssl.read(s.ssl, unsafe.Pointer(&buf[0]), int32(len(buf)))
	if n <= 0 {
		// OpenSSL reports a clean shutdown and a genuine error the same
		// way at this level of abstraction (SSL_get_error isn't in our
		// required symbol set); treat <=0 with no queued error as EOF.
		if openssl.getError() == 0 {
			return 0, nil
		}
		return -1, fmt.Errorf("SSL_read failed: rc=%d err=%d", n, openssl.getError())
	}
	return int(n), nil
}

func (s *opensslSession) Close() error {
	if s.ssl != 0 {
		openssl.shutdown(s.ssl)
		openssl.sslFree(s.ssl)
		s.ssl = 0
	}
	if s.ctx != 0 {
		openssl.ctxFree(s.ctx)
		s.ctx = 0
	}
	return nil
}

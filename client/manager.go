package client

import (
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quillhttp/httpcore/transport"
)

// log defaults to disabled, matching the teacher's restraint about logging
// inside a library meant to be embedded (§10.1). A consumer installs its
// own sink with SetLogger.
var log = zerolog.New(io.Discard)

// SetLogger installs the sink every client/transport log line is written
// to. Pass zerolog.New(io.Discard) (the default) to silence it again.
func SetLogger(l zerolog.Logger) {
	log = l
	transport.SetLogger(l)
}

const defaultMaxRedirects = 10

// Manager is the consumer-facing library API of spec §6: submit, poll,
// collect, watch progress, probe TLS availability, shut down.
type Manager struct {
	transportFactory transport.TransportFactory
	maxRedirects     int
	readBlockSize    int

	mu       sync.Mutex
	requests map[Handle]*request
}

// Option configures a Manager at construction time (§10.3).
type Option func(*Manager)

// WithTransportFactory installs an alternate Transport implementation —
// e.g. the Linux io_uring transport — in place of the default blocking
// net.Conn-based one.
func WithTransportFactory(f transport.TransportFactory) Option {
	return func(m *Manager) { m.transportFactory = f }
}

// WithMaxRedirects overrides the 10-hop redirect bound of §4.5.
func WithMaxRedirects(n int) Option {
	return func(m *Manager) { m.maxRedirects = n }
}

// WithReadBlockSize overrides the buffer size used to read content-length
// and read-to-close response bodies (§10.3).
func WithReadBlockSize(n int) Option {
	return func(m *Manager) { m.readBlockSize = n }
}

// NewManager constructs a Manager ready to accept Submit calls.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		transportFactory: transport.DefaultTransportFactory,
		maxRedirects:     defaultMaxRedirects,
		readBlockSize:    32 * 1024,
		requests:         make(map[Handle]*request),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit starts a task for d and returns a handle used to poll/collect it
// (§6 submit()).
func (m *Manager) Submit(d Descriptor) Handle {
	r := newRequest(d)
	handle := uuid.New()

	m.mu.Lock()
	m.requests[handle] = r
	m.mu.Unlock()

	log.Debug().Str("handle", handle.String()).Str("url", d.URL).Str("method", d.Method).Msg("submitting request")

	go m.run(handle, r)

	return handle
}

// IsDone reports whether handle's request has left the Running state
// (§6 is_done()), without blocking.
func (m *Manager) IsDone(handle Handle) bool {
	r := m.lookup(handle)
	if r == nil {
		return true
	}
	return r.Lifecycle() != Running
}

// Progress returns the lock-free snapshot of §4.5.a's atomic counters
// (§6 progress()).
func (m *Manager) Progress(handle Handle) Progress {
	r := m.lookup(handle)
	if r == nil {
		return Progress{Total: -1}
	}
	return r.progress()
}

// Result blocks until handle's request reaches a terminal lifecycle, then
// returns its outcome (§6 result()). Calling Result a second time for the
// same handle returns the same outcome; the request is not removed from
// the Manager until Shutdown.
func (m *Manager) Result(handle Handle) Result {
	r := m.lookup(handle)
	if r == nil {
		return Result{Err: errNoSuchHandle}
	}
	<-r.done
	if r.Lifecycle() == Error {
		return Result{StatusCode: r.statusCode, Err: r.err}
	}
	return Result{StatusCode: r.statusCode, Headers: r.headers, Body: r.body}
}

// TLSAvailable probes TLS backend initialization (§6 tls_available())
// without performing any network I/O.
func (m *Manager) TLSAvailable() bool {
	return transport.Available()
}

// Shutdown releases every tracked request and, by contract, must be
// called exactly once after every submitted request has reached a
// terminal lifecycle (§5's "shared resources" rule). It also tears down
// the process-wide TLS singletons acquired by Available/Dial — the
// SChannel credentials handle or the dlopen'd OpenSSL libraries — so a
// later call into this package re-acquires them from scratch rather than
// leaking them past the Manager's own lifetime.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.requests = make(map[Handle]*request)
	m.mu.Unlock()

	transport.Shutdown()
}

func (m *Manager) lookup(handle Handle) *request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[handle]
}

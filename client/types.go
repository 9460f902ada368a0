// Package client implements the Request Executor (spec §4.5) and the
// consumer-facing library API of §6: submit a request descriptor, poll for
// completion, read back status/headers/body, and watch lock-free progress
// counters from any other goroutine while the request runs.
package client

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quillhttp/httpcore/protocol"
)

// Lifecycle is the tri-state atomic word described in spec §4.5.b.
type Lifecycle int32

const (
	Running Lifecycle = iota
	Done
	Error
)

// Handle is the opaque identifier submit() hands back (§6).
type Handle = uuid.UUID

// Descriptor is the immutable request input (§3 "Request descriptor").
type Descriptor struct {
	URL        string
	Method     string
	Body       []byte
	Headers    []protocol.Header
	Timeout    time.Duration
	OutputPath string
	Override   bool // true skips resume even if OutputPath already exists
}

// Progress is the lock-free snapshot returned by Manager.Progress (§6).
type Progress struct {
	Uploaded   int64
	Downloaded int64
	Total      int64 // -1 when unknown
}

// Result is what Manager.Result hands back once a request reaches a
// terminal lifecycle (§6): body is nil when an output file was written.
type Result struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Err        error
}

// request is the mutable, shared Request state of §3: the executor
// goroutine owns every non-atomic field until lifecycle leaves Running;
// the only fields any other goroutine may touch directly are the three
// atomic counters and lifecycle itself.
type request struct {
	descriptor Descriptor

	lifecycle     atomic.Int32 // Lifecycle
	uploaded      atomic.Int64
	downloaded    atomic.Int64
	contentLength atomic.Int64 // -1 when unknown

	// done is closed exactly once, after every field below has its final
	// value, so Manager.Result can block on it instead of spinning on the
	// lifecycle word.
	done chan struct{}

	// Set by the executor goroutine before it publishes lifecycle != Running
	// with release ordering; read by consumers only after observing that.
	statusCode int
	headers    map[string]string
	body       []byte
	err        error
}

func newRequest(d Descriptor) *request {
	r := &request{descriptor: d, done: make(chan struct{})}
	r.lifecycle.Store(int32(Running))
	r.contentLength.Store(-1)
	return r
}

func (r *request) Lifecycle() Lifecycle {
	return Lifecycle(r.lifecycle.Load())
}

func (r *request) finish(lc Lifecycle, statusCode int, headers map[string]string, body []byte, err error) {
	r.statusCode = statusCode
	r.headers = headers
	r.body = body
	r.err = err
	r.lifecycle.Store(int32(lc))
	close(r.done)
}

func (r *request) progress() Progress {
	return Progress{
		Uploaded:   r.uploaded.Load(),
		Downloaded: r.downloaded.Load(),
		Total:      r.contentLength.Load(),
	}
}

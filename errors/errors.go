// Package errors defines the error taxonomy shared by every layer of the
// HTTP client: URL parsing, transport, TLS, the HTTP/1.1 codec, and the
// request executor all report failures as a single *HttpError.
package errors

import "fmt"

// ErrorType represents the broad category of error.
type ErrorType int

const (
	ErrorNone ErrorType = iota
	ErrorTransport
	ErrorProtocol
	ErrorInvalidArgument
	ErrorMemory
)

// TransportError represents transport-layer specific errors.
type TransportError int

const (
	TransportErrorNone TransportError = iota
	TransportErrorSocketCreateFailure
	TransportErrorSocketConnectFailure
	TransportErrorSocketReadFailure
	TransportErrorSocketWriteFailure
	TransportErrorConnectionClosed
	TransportErrorDnsFailure
	TransportErrorTimeout
	TransportErrorIoUringInit
	TransportErrorIoUringSubmit
	TransportErrorTLSUnavailable
	TransportErrorTLSHandshakeFailure
)

// ProtocolError represents protocol-layer specific errors.
type ProtocolError int

const (
	ProtocolErrorNone ProtocolError = iota
	ProtocolErrorInvalidStatusLine
	ProtocolErrorInvalidHeader
	ProtocolErrorInvalidChunkedEncoding
	ProtocolErrorMessageTooLarge
	ProtocolErrorIncompleteResponse
	ProtocolErrorInvalidURL
	ProtocolErrorTooManyRedirects
)

// Kind is the coarse-grained classification the request executor attaches
// to a Request's terminal error.
type Kind int

const (
	KindNone Kind = iota
	KindURLInvalid
	KindTLSUnavailable
	KindResolveFailed
	KindConnectFailed
	KindTLSHandshakeFailed
	KindSendFailed
	KindReceiveFailed
	KindWriteFailed
	KindFileOpenFailed
	KindTooManyRedirects
	KindMemoryExhausted
)

func (k Kind) String() string {
	switch k {
	case KindURLInvalid:
		return "url invalid"
	case KindTLSUnavailable:
		return "tls unavailable"
	case KindResolveFailed:
		return "resolve failed"
	case KindConnectFailed:
		return "connect failed"
	case KindTLSHandshakeFailed:
		return "tls handshake failed"
	case KindSendFailed:
		return "send failed"
	case KindReceiveFailed:
		return "receive failed"
	case KindWriteFailed:
		return "write failed"
	case KindFileOpenFailed:
		return "file open failed"
	case KindTooManyRedirects:
		return "too many redirects"
	case KindMemoryExhausted:
		return "memory exhausted"
	default:
		return "none"
	}
}

// HttpError is the main error type for the HTTP client.
type HttpError struct {
	Type          ErrorType
	Kind          Kind
	TransportErr  TransportError
	ProtocolErr   ProtocolError
	Message       string
	UnderlyingErr error
}

// Error implements the error interface.
func (e *HttpError) Error() string {
	if e == nil {
		return "no error"
	}

	var typeStr string
	switch e.Type {
	case ErrorTransport:
		typeStr = fmt.Sprintf("transport error (%d)", e.TransportErr)
	case ErrorProtocol:
		typeStr = fmt.Sprintf("protocol error (%d)", e.ProtocolErr)
	case ErrorInvalidArgument:
		typeStr = "invalid argument"
	case ErrorMemory:
		typeStr = "memory error"
	default:
		typeStr = "unknown error"
	}

	if e.Kind != KindNone {
		typeStr = fmt.Sprintf("%s [%s]", typeStr, e.Kind)
	}

	if e.Message != "" {
		typeStr = fmt.Sprintf("%s: %s", typeStr, e.Message)
	}

	if e.UnderlyingErr != nil {
		return fmt.Sprintf("%s (caused by: %v)", typeStr, e.UnderlyingErr)
	}

	return typeStr
}

// Unwrap returns the underlying error for error chain support.
func (e *HttpError) Unwrap() error {
	return e.UnderlyingErr
}

// NewTransportError creates a new transport error tagged with an
// executor-facing Kind.
func NewTransportError(kind Kind, err TransportError, message string, underlying error) *HttpError {
	return &HttpError{
		Type:          ErrorTransport,
		Kind:          kind,
		TransportErr:  err,
		Message:       message,
		UnderlyingErr: underlying,
	}
}

// NewProtocolError creates a new protocol error.
func NewProtocolError(err ProtocolError, message string) *HttpError {
	return &HttpError{
		Type:        ErrorProtocol,
		Kind:        KindReceiveFailed,
		ProtocolErr: err,
		Message:     message,
	}
}

// NewInvalidArgumentError creates a new invalid argument error.
func NewInvalidArgumentError(message string) *HttpError {
	return &HttpError{
		Type:    ErrorInvalidArgument,
		Message: message,
	}
}

// NewKindError creates an error tagged only with an executor-facing Kind,
// used for failures (redirect overflow, file I/O, memory exhaustion) that
// don't map cleanly onto a transport or protocol sub-code.
func NewKindError(kind Kind, message string, underlying error) *HttpError {
	return &HttpError{
		Type:          errorTypeForKind(kind),
		Kind:          kind,
		Message:       message,
		UnderlyingErr: underlying,
	}
}

// errorTypeForKind picks the broad ErrorType a Kind not already tied to a
// transport or protocol sub-code falls under.
func errorTypeForKind(kind Kind) ErrorType {
	switch kind {
	case KindURLInvalid:
		return ErrorInvalidArgument
	case KindMemoryExhausted:
		return ErrorMemory
	default:
		// KindFileOpenFailed, KindTooManyRedirects, KindWriteFailed: I/O and
		// policy failures the executor surfaces during the transport phase.
		return ErrorTransport
	}
}

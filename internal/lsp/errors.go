package lsp

import (
	"errors"
	"fmt"
)

// Standard errors returned by the LSP client core.
var (
	// ErrTransportClosed indicates the transport has been closed or the
	// server process has exited.
	ErrTransportClosed = errors.New("transport closed")

	// ErrClientCancelled indicates the caller cancelled a pending request.
	ErrClientCancelled = errors.New("request cancelled by client")

	// ErrNoServerForLanguage indicates no session is registered for the language.
	ErrNoServerForLanguage = errors.New("no server registered for language")

	// ErrServerAlreadyRegistered indicates a session already exists for the language.
	ErrServerAlreadyRegistered = errors.New("server already registered for language")

	// ErrSessionNotRunning indicates the session is not ready to handle requests.
	ErrSessionNotRunning = errors.New("session not running")

	// ErrDocumentNotOpen indicates the document is not open.
	ErrDocumentNotOpen = errors.New("document not open")

	// ErrDocumentAlreadyOpen indicates the document is already open.
	ErrDocumentAlreadyOpen = errors.New("document already open")
)

// TransportError wraps a byte-level read/write failure on the subprocess pipes.
type TransportError struct {
	Op  string // "write header", "write body", "read"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed frame or message body. It is recovered
// locally by dropping the single message and never fails an unrelated caller.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// RequestTimeoutError indicates no response arrived within the request's
// timeout. A late response for a timed-out id is ignored.
type RequestTimeoutError struct {
	Method string
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("request timed out: %s", e.Method)
}

// ResponseError is a JSON-RPC error object reported by the server,
// surfaced to the feature caller.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("server error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// CapabilityError indicates the server did not advertise the capability
// required for a feature request. No I/O is issued.
type CapabilityError struct {
	Method string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability not supported by server: %s", e.Method)
}

// ServerStartFailedError indicates a server could not be started, or
// recovery exhausted its bounded retry count.
type ServerStartFailedError struct {
	LanguageID string
	Attempts   int
	Err        error
}

func (e *ServerStartFailedError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("server %s failed to start after %d attempts: %v", e.LanguageID, e.Attempts, e.Err)
	}
	return fmt.Sprintf("server %s failed to start: %v", e.LanguageID, e.Err)
}

func (e *ServerStartFailedError) Unwrap() error { return e.Err }

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// LSP-specific errors
	CodeServerNotInitialized = -32002
	CodeUnknownErrorCode     = -32001
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
	CodeServerCancelled      = -32802
	CodeRequestFailed        = -32803
)

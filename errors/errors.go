package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType int

const (
	ErrorNone ErrorType = iota
	ErrorTransport
	ErrorProtocol
	ErrorClient
	ErrorStorage
	ErrorIO
	ErrorStartup
)

func (t ErrorType) String() string {
	switch t {
	case ErrorNone:
		return "none"
	case ErrorTransport:
		return "transport"
	case ErrorProtocol:
		return "protocol"
	case ErrorClient:
		return "client"
	case ErrorStorage:
		return "storage"
	case ErrorIO:
		return "io"
	case ErrorStartup:
		return "startup"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// TransportError represents transport-layer specific errors
type TransportError int

const (
	TransportErrorNone TransportError = iota
	TransportErrorAcceptFailure
	TransportErrorSocketReadFailure
	TransportErrorSocketWriteFailure
	TransportErrorConnectionClosed
	TransportErrorTimeout
	TransportErrorIoUringInit
	TransportErrorIoUringSubmit
)

func (e TransportError) String() string {
	switch e {
	case TransportErrorNone:
		return "none"
	case TransportErrorAcceptFailure:
		return "accept failed"
	case TransportErrorSocketReadFailure:
		return "socket read failed"
	case TransportErrorSocketWriteFailure:
		return "socket write failed"
	case TransportErrorConnectionClosed:
		return "connection closed"
	case TransportErrorTimeout:
		return "timeout"
	case TransportErrorIoUringInit:
		return "io_uring init failed"
	case TransportErrorIoUringSubmit:
		return "io_uring submit failed"
	default:
		return fmt.Sprintf("unknown transport error %d", int(e))
	}
}

// ProtocolError represents protocol-layer specific errors
type ProtocolError int

const (
	ProtocolErrorNone ProtocolError = iota
	ProtocolErrorInvalidRequestLine
	ProtocolErrorMessageTooLarge
	ProtocolErrorIncompleteRequest
	ProtocolErrorIncompleteBody
	ProtocolErrorInvalidContentLength
)

func (e ProtocolError) String() string {
	switch e {
	case ProtocolErrorNone:
		return "none"
	case ProtocolErrorInvalidRequestLine:
		return "invalid request line"
	case ProtocolErrorMessageTooLarge:
		return "message too large"
	case ProtocolErrorIncompleteRequest:
		return "incomplete request"
	case ProtocolErrorIncompleteBody:
		return "incomplete body"
	case ProtocolErrorInvalidContentLength:
		return "invalid content length"
	default:
		return fmt.Sprintf("unknown protocol error %d", int(e))
	}
}

// HttpError is the main error type of the server. Status is only meaningful
// for ErrorClient.
type HttpError struct {
	Type          ErrorType
	TransportErr  TransportError
	ProtocolErr   ProtocolError
	Status        int
	Message       string
	UnderlyingErr error
}

// Error implements the error interface
func (e *HttpError) Error() string {
	if e == nil {
		return "no error"
	}

	var typeStr string
	switch e.Type {
	case ErrorTransport:
		typeStr = fmt.Sprintf("Transport error (%s)", e.TransportErr)
	case ErrorProtocol:
		typeStr = fmt.Sprintf("Protocol error (%s)", e.ProtocolErr)
	case ErrorClient:
		typeStr = fmt.Sprintf("Client error (%d)", e.Status)
	case ErrorStorage:
		typeStr = "Storage error"
	case ErrorIO:
		typeStr = "IO error"
	case ErrorStartup:
		typeStr = "Startup error"
	default:
		typeStr = "Unknown error"
	}

	if e.Message != "" {
		typeStr = fmt.Sprintf("%s: %s", typeStr, e.Message)
	}

	if e.UnderlyingErr != nil {
		return fmt.Sprintf("%s (caused by: %v)", typeStr, e.UnderlyingErr)
	}

	return typeStr
}

// Unwrap returns the underlying error for error chain support
func (e *HttpError) Unwrap() error {
	return e.UnderlyingErr
}

// NewTransportError creates a new transport error
func NewTransportError(err TransportError, message string, underlying error) *HttpError {
	return &HttpError{
		Type:          ErrorTransport,
		TransportErr:  err,
		Message:       message,
		UnderlyingErr: underlying,
	}
}

// NewProtocolError creates a new protocol error
func NewProtocolError(err ProtocolError, message string) *HttpError {
	return &HttpError{
		Type:        ErrorProtocol,
		ProtocolErr: err,
		Message:     message,
	}
}

// NewClientError creates an error that is reported to the peer with a 4xx status
func NewClientError(status int, message string) *HttpError {
	return &HttpError{
		Type:    ErrorClient,
		Status:  status,
		Message: message,
	}
}

// NewStorageError creates a new persistence error
func NewStorageError(message string, underlying error) *HttpError {
	return &HttpError{
		Type:          ErrorStorage,
		Message:       message,
		UnderlyingErr: underlying,
	}
}

// NewIOError creates a new filesystem error
func NewIOError(message string, underlying error) *HttpError {
	return &HttpError{
		Type:          ErrorIO,
		Message:       message,
		UnderlyingErr: underlying,
	}
}

// NewStartupError creates an error that must stop the process before it serves
func NewStartupError(message string, underlying error) *HttpError {
	return &HttpError{
		Type:          ErrorStartup,
		Message:       message,
		UnderlyingErr: underlying,
	}
}

// TypeOf returns the category of the first *HttpError in err's chain.
func TypeOf(err error) ErrorType {
	var httpErr *HttpError
	if stderrors.As(err, &httpErr) {
		return httpErr.Type
	}
	return ErrorNone
}

// IsTransport reports whether err's chain holds a transport error with the given code.
func IsTransport(err error, code TransportError) bool {
	return findInChain(err, func(e *HttpError) bool {
		return e.Type == ErrorTransport && e.TransportErr == code
	})
}

// IsProtocol reports whether err's chain holds a protocol error with the given code.
func IsProtocol(err error, code ProtocolError) bool {
	return findInChain(err, func(e *HttpError) bool {
		return e.Type == ErrorProtocol && e.ProtocolErr == code
	})
}

func findInChain(err error, match func(*HttpError) bool) bool {
	for err != nil {
		var httpErr *HttpError
		if !stderrors.As(err, &httpErr) {
			return false
		}
		if match(httpErr) {
			return true
		}
		err = httpErr.UnderlyingErr
	}
	return false
}

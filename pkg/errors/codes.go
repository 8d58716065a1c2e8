package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique identifier for specific error conditions in Fopwatch.
type ErrorCode int

const (
	ErrCodeUnknown        ErrorCode = 1000
	ErrCodeConfigInvalid  ErrorCode = 1001
	ErrCodeInvalidRequest ErrorCode = 1002

	// Engine discovery
	ErrCodeEngineNotFound ErrorCode = 2001

	// Worker lifecycle
	ErrCodeProcessStartFail  ErrorCode = 3001
	ErrCodeStartTimeout      ErrorCode = 3002
	ErrCodeNotReady          ErrorCode = 3003
	ErrCodeProcessTerminated ErrorCode = 3004
	ErrCodeRequestTimeout    ErrorCode = 3005

	// Generation
	ErrCodeInputNotFound  ErrorCode = 4001
	ErrCodeEngineFailure  ErrorCode = 4002
	ErrCodeProtocolDecode ErrorCode = 4003

	// Workspace
	ErrCodeWatchFailed ErrorCode = 5001
	ErrCodeWorkspaceIO ErrorCode = 5002
)

var codeNames = map[ErrorCode]string{
	ErrCodeUnknown:           "Unknown",
	ErrCodeConfigInvalid:     "ConfigInvalid",
	ErrCodeInvalidRequest:    "InvalidRequest",
	ErrCodeEngineNotFound:    "EngineNotFound",
	ErrCodeProcessStartFail:  "ProcessStartFail",
	ErrCodeStartTimeout:      "StartTimeout",
	ErrCodeNotReady:          "NotReady",
	ErrCodeProcessTerminated: "ProcessTerminated",
	ErrCodeRequestTimeout:    "RequestTimeout",
	ErrCodeInputNotFound:     "InputNotFound",
	ErrCodeEngineFailure:     "EngineFailure",
	ErrCodeProtocolDecode:    "ProtocolDecodeError",
	ErrCodeWatchFailed:       "WatchFailed",
	ErrCodeWorkspaceIO:       "WorkspaceIO",
}

// String returns the taxonomy name of the code, e.g. "NotReady".
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// FopError is a custom error type that provides structured error information,
// including an error code, the operation being performed, and the underlying cause.
// Msg is always suitable for direct display in a log or console surface.
type FopError struct {
	// Code is the specific error code.
	Code ErrorCode
	// Msg is a human-readable description of the error.
	Msg string
	// Operation describes the action being performed when the error occurred.
	Operation string
	// Err is the underlying error that caused this error, if any.
	Err error
}

// Error returns a formatted string representation of the error.
func (e *FopError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %s (cause: %v)", e.Code, e.Operation, e.Msg, e.Err)
	}
	return fmt.Sprintf("[%d] %s: %s", e.Code, e.Operation, e.Msg)
}

// Unwrap returns the underlying error.
func (e *FopError) Unwrap() error {
	return e.Err
}

// New creates a new FopError with the specified code, operation, message, and underlying error.
func New(code ErrorCode, op, msg string, err error) error {
	return &FopError{
		Code:      code,
		Msg:       msg,
		Operation: op,
		Err:       err,
	}
}

// CodeOf extracts the code of the first FopError in err's chain.
// Errors outside the taxonomy report ErrCodeUnknown; nil reports 0.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return 0
	}
	var fe *FopError
	if stderrors.As(err, &fe) {
		return fe.Code
	}
	return ErrCodeUnknown
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// Message returns the display message of err: Msg for a FopError, err.Error() otherwise.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var fe *FopError
	if stderrors.As(err, &fe) {
		return fe.Msg
	}
	return err.Error()
}

// Personal.AI order the ending

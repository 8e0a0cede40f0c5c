package pictor

import "errors"

// ErrorCode classifies a domain error from sync, mutation or cache
// operations.
//
// These are business outcomes (path escaped the root, record not found,
// target occupied) as opposed to infrastructure failures. API layers map
// codes to transport-specific responses; the CLI maps them to exit text.
type ErrorCode int

const (
	// CodeInternal indicates an unexpected infrastructure failure.
	CodeInternal ErrorCode = iota

	// CodeSecurity indicates a rejected path (escape attempt, reserved
	// name, bad component) or a denied permission check.
	CodeSecurity

	// CodeNotFound indicates the referenced file, folder or record does
	// not exist.
	CodeNotFound

	// CodeExists indicates a move or create target is already occupied.
	CodeExists

	// CodeConflict indicates an operation that is structurally invalid,
	// such as moving a folder into its own subtree.
	CodeConflict
)

// Error is the domain error type shared by the sync engine, the mutation
// orchestrator and the derivative cache.
type Error struct {
	Code    ErrorCode
	Message string
	Path    string // related root-relative path, if applicable
	Err     error  // wrapped cause, if any
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a domain error for the given path.
func E(code ErrorCode, message, path string) *Error {
	return &Error{Code: code, Message: message, Path: path}
}

// Wrap builds a domain error around an underlying cause.
func Wrap(code ErrorCode, message, path string, err error) *Error {
	return &Error{Code: code, Message: message, Path: path, Err: err}
}

// CodeOf extracts the ErrorCode from err, or CodeInternal when err is not a
// domain error.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// IsSecurity reports whether err is a security rejection.
func IsSecurity(err error) bool { return is(err, CodeSecurity) }

// IsNotFound reports whether err indicates a missing file, folder or record.
func IsNotFound(err error) bool { return is(err, CodeNotFound) }

// IsExists reports whether err indicates an occupied target.
func IsExists(err error) bool { return is(err, CodeExists) }

// IsConflict reports whether err indicates a structurally invalid operation.
func IsConflict(err error) bool { return is(err, CodeConflict) }

func is(err error, code ErrorCode) bool {
	var de *Error
	return errors.As(err, &de) && de.Code == code
}

// Package errs defines the activation error taxonomy shared by every remoting package.
package errs

import (
	"errors"
	"fmt"
)

// Code identifies a class of infrastructure failure.
type Code string

// Error codes. They travel over the wire as plain strings.
const (
	CodeInvalidArgument            Code = "INVALID_ARGUMENT"
	CodeBadInternalState           Code = "BAD_INTERNAL_STATE"
	CodeBadAttribute               Code = "BAD_ATTRIBUTE"
	CodeSecurityViolation          Code = "SECURITY_VIOLATION"
	CodeActivationPermissionDenied Code = "ACTIVATION_PERMISSION_DENIED"
	CodeActivationBadObject        Code = "ACTIVATION_BAD_OBJECT"
	CodeActivationConnectFailed    Code = "ACTIVATION_CONNECT_FAILED"
	CodeActivationFailed           Code = "ACTIVATION_FAILED"
	CodeTypeNotFound               Code = "TYPE_NOT_FOUND"
	CodeMethodNotFound             Code = "METHOD_NOT_FOUND"
	CodeObjectDisconnected         Code = "OBJECT_DISCONNECTED"
	CodeInternal                   Code = "INTERNAL_ERROR"
)

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrInvalidArgument            = &Error{Code: CodeInvalidArgument}
	ErrBadInternalState           = &Error{Code: CodeBadInternalState}
	ErrBadAttribute               = &Error{Code: CodeBadAttribute}
	ErrSecurityViolation          = &Error{Code: CodeSecurityViolation}
	ErrActivationPermissionDenied = &Error{Code: CodeActivationPermissionDenied}
	ErrActivationBadObject        = &Error{Code: CodeActivationBadObject}
	ErrActivationConnectFailed    = &Error{Code: CodeActivationConnectFailed}
	ErrActivationFailed           = &Error{Code: CodeActivationFailed}
	ErrTypeNotFound               = &Error{Code: CodeTypeNotFound}
	ErrMethodNotFound             = &Error{Code: CodeMethodNotFound}
	ErrObjectDisconnected         = &Error{Code: CodeObjectDisconnected}
)

// Error is an infrastructure failure raised by the activation machinery.
type Error struct {
	Code    Code
	Message string
	// Target is the URL, URI or type name the failure relates to, if any.
	Target string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Target != "" {
		msg += " (" + e.Target + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error carrying the target and the underlying cause.
func Wrap(code Code, target string, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Target: target, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// UserCodeError reports that the user's own constructor or method failed.
// It is never produced by the infrastructure itself.
type UserCodeError struct {
	TypeName string
	Member   string
	Err      error
}

func (e *UserCodeError) Error() string {
	if e.Member != "" {
		return fmt.Sprintf("%s.%s: %v", e.TypeName, e.Member, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.TypeName, e.Err)
}

func (e *UserCodeError) Unwrap() error { return e.Err }

// IsUserCode reports whether err was raised by user code rather than the infrastructure.
func IsUserCode(err error) bool {
	var u *UserCodeError
	return errors.As(err, &u)
}

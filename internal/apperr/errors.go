// Package apperr defines the error taxonomy shared by the identity and
// policy core. Errors carry a machine-readable code; callers match them with
// errors.Is against the exported sentinels.
package apperr

import "errors"

// Code is a machine-readable error code. It doubles as the wire error string.
type Code string

const (
	CodeUnknown             Code = "unknown"
	CodeMalformed           Code = "malformed"
	CodeExpired             Code = "expired"
	CodeWrongKind           Code = "wrong_kind"
	CodeRevoked             Code = "revoked"
	CodeDeactivated         Code = "deactivated"
	CodeProviderRejected    Code = "provider_rejected"
	CodeProviderUnreachable Code = "provider_unreachable"
	CodePolicyDenied        Code = "policy_denied"
	CodeNotFound            Code = "not_found"
	CodeConflict            Code = "conflict"
	CodeAlreadyBound        Code = "already_bound"
	CodeAlreadyAnswered     Code = "already_answered"
	CodeInvalidCredentials  Code = "invalid_credentials"
	CodeInvalidArgument     Code = "invalid_argument"
	CodeFailedPrecondition  Code = "failed_precondition"
	CodeSessionInvalid      Code = "session_invalid"
	CodeUnavailable         Code = "unavailable"
)

// Error is the domain error type.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Internal message, never sent to clients
	Cause   error  // Wrapped underlying error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by code. Deactivated also matches Revoked: a deactivated
// identity is one particular way a refresh credential stops being honoured.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Code == t.Code {
		return true
	}
	return e.Code == CodeDeactivated && t.Code == CodeRevoked
}

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the code of the first domain error in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// Sentinels for errors.Is comparisons.
var (
	ErrMalformed           = New(CodeMalformed, "malformed credential")
	ErrExpired             = New(CodeExpired, "credential expired")
	ErrWrongKind           = New(CodeWrongKind, "wrong credential kind")
	ErrRevoked             = New(CodeRevoked, "credential revoked")
	ErrDeactivated         = New(CodeDeactivated, "identity deactivated")
	ErrProviderRejected    = New(CodeProviderRejected, "external token rejected")
	ErrProviderUnreachable = New(CodeProviderUnreachable, "identity provider unreachable")
	ErrPolicyDenied        = New(CodePolicyDenied, "action not permitted")
	ErrNotFound            = New(CodeNotFound, "not found")
	ErrConflict            = New(CodeConflict, "uniqueness conflict")
	ErrAlreadyBound        = New(CodeAlreadyBound, "external identity already bound")
	ErrAlreadyAnswered     = New(CodeAlreadyAnswered, "question already answered")
	ErrInvalidCredentials  = New(CodeInvalidCredentials, "invalid email or password")
	ErrInvalidArgument     = New(CodeInvalidArgument, "invalid argument")
	ErrFailedPrecondition  = New(CodeFailedPrecondition, "failed precondition")
	ErrSessionInvalid      = New(CodeSessionInvalid, "session invalid")
	ErrUnavailable         = New(CodeUnavailable, "dependency unavailable")
)

// Invalid builds an invalid-argument error with a specific message.
func Invalid(message string) *Error {
	return New(CodeInvalidArgument, message)
}

// Precondition builds a failed-precondition error with a specific message.
func Precondition(message string) *Error {
	return New(CodeFailedPrecondition, message)
}

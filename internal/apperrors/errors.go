// Package apperrors defines the error taxonomy shared by the access-control
// and download-token workflows. Every failure is a returned value; callers
// branch with errors.Is against the sentinel kinds or errors.As against
// *Error and *AccessDeniedError.
package apperrors

import (
	"errors"
	"fmt"
)

// Kinds.
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrAccessDenied     = errors.New("access denied")
	ErrAlreadyUsed      = errors.New("download token already used")
	ErrExpired          = errors.New("download token expired")
	ErrInvalidRecipient = errors.New("download token issued to another user")
	ErrConflict         = errors.New("conflict")
	ErrDatabase         = errors.New("database error")
	ErrRateLimited      = errors.New("rate limited")
)

const (
	CodeValidation       = "VALIDATION"
	CodeNotFound         = "NOT_FOUND"
	CodeAccessDenied     = "ACCESS_DENIED"
	CodeAlreadyUsed      = "ALREADY_USED"
	CodeExpired          = "EXPIRED"
	CodeInvalidRecipient = "INVALID_RECIPIENT"
	CodeConflict         = "CONFLICT"
	CodeDatabase         = "DATABASE"
	CodeRateLimited      = "RATE_LIMITED"
)

// Error carries a machine-readable code, a message, the sentinel kind and
// an optional underlying cause.
type Error struct {
	Code    string
	Message string
	Kind    error
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// AccessDeniedError reports that userID may not perform action on the
// given resource kind.
type AccessDeniedError struct {
	UserID       string
	ResourceKind string
	Action       string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: user %q may not %s %s", e.UserID, e.Action, e.ResourceKind)
}

func (e *AccessDeniedError) Is(target error) bool { return target == ErrAccessDenied }

// AccessDenied returns a typed denial.
func AccessDenied(userID, resourceKind, action string) *AccessDeniedError {
	return &AccessDeniedError{UserID: userID, ResourceKind: resourceKind, Action: action}
}

func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg, Kind: ErrValidation}
}

func Validationf(format string, args ...any) *Error {
	return Validation(fmt.Sprintf(format, args...))
}

// NotFound reports a missing entity, e.g. NotFound("document", id).
func NotFound(entity, id string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %q not found", entity, id), Kind: ErrNotFound}
}

func AlreadyUsed(tokenID string) *Error {
	return &Error{Code: CodeAlreadyUsed, Message: fmt.Sprintf("download token %q already used", tokenID), Kind: ErrAlreadyUsed}
}

func Expired(tokenID string) *Error {
	return &Error{Code: CodeExpired, Message: fmt.Sprintf("download token %q expired", tokenID), Kind: ErrExpired}
}

func InvalidRecipient(tokenID string) *Error {
	return &Error{Code: CodeInvalidRecipient, Message: fmt.Sprintf("download token %q was issued to another user", tokenID), Kind: ErrInvalidRecipient}
}

func Conflict(msg string, cause error) *Error {
	return &Error{Code: CodeConflict, Message: msg, Kind: ErrConflict, Cause: cause}
}

// Database wraps an infrastructure failure of operation op.
func Database(op string, cause error) *Error {
	return &Error{Code: CodeDatabase, Message: op, Kind: ErrDatabase, Cause: cause}
}

func RateLimited(userID string) *Error {
	return &Error{Code: CodeRateLimited, Message: fmt.Sprintf("too many redemption attempts by %q", userID), Kind: ErrRateLimited}
}

// IsTransient reports whether err is an infrastructure fault that the
// caller may retry. Business outcomes are never transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrDatabase)
}

// Code returns the code of the first *Error or denial in err's chain, or "".
func Code(err error) string {
	var denied *AccessDeniedError
	if errors.As(err, &denied) {
		return CodeAccessDenied
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

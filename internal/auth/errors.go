package auth

import "fmt"

// Code is a provider error classification, in the "auth/..." namespace.
type Code string

const (
	CodeUserNotFound  Code = "auth/user-not-found"
	CodeWrongPassword Code = "auth/wrong-password"
	CodeEmailInUse    Code = "auth/email-already-in-use"
	CodeWeakPassword  Code = "auth/weak-password"
	CodeInvalidEmail  Code = "auth/invalid-email"
	CodeInvalidToken  Code = "auth/invalid-token"
	CodeInternal      Code = "auth/internal-error"
)

// Error is returned by the provider for every classified failure.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so wrapped provider errors compare equal to the
// sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrUserNotFound  = &Error{Code: CodeUserNotFound, Message: "no user for this email"}
	ErrWrongPassword = &Error{Code: CodeWrongPassword, Message: "password does not match"}
	ErrEmailInUse    = &Error{Code: CodeEmailInUse, Message: "email already registered"}
	ErrWeakPassword  = &Error{Code: CodeWeakPassword, Message: "password too short"}
	ErrInvalidEmail  = &Error{Code: CodeInvalidEmail, Message: "malformed email"}
	ErrInvalidToken  = &Error{Code: CodeInvalidToken, Message: "token invalid or expired"}
)

func internalError(msg string, err error) error {
	return &Error{Code: CodeInternal, Message: msg, Err: err}
}

package provider

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	MojangAuthFailed       ErrorCode = "MOJANG_AUTH_FAILED"
	MojangChallengesFailed ErrorCode = "MOJANG_CHALLENGES_FAILED"
	MicrosoftAuthFailed    ErrorCode = "MICROSOFT_AUTH_FAILED"
	DoesNotOwnMinecraft    ErrorCode = "DOES_NOT_OWN_MINECRAFT"
	ProfileFetchFailed     ErrorCode = "PROFILE_FETCH_FAILED"
)

// AuthError is returned by every provider hop. Cause holds the transport or
// status error that triggered it, if any.
type AuthError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}

func newAuthError(code ErrorCode, message string, cause error) *AuthError {
	return &AuthError{Code: code, Message: message, Cause: cause}
}

// IsCode reports whether err carries an AuthError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.Code == code
}

// StatusError describes a non-2xx provider response.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s responded with status %d", e.URL, e.Status)
}

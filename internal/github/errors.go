package github

import (
	"errors"
	"fmt"
)

// Poll outcomes and response failures returned by the Client.
var (
	ErrInvalidResponse      = errors.New("invalid response from GitHub")
	ErrAuthorizationPending = errors.New("authorization pending")
	ErrSlowDown             = errors.New("please wait before trying again")
	ErrAuthorizationExpired = errors.New("authorization code expired")
	ErrAccessDenied         = errors.New("access denied by user")
)

// NetworkError represents a transport failure or an unexpected HTTP status
type NetworkError struct {
	Status int
	Detail string
	Err    error
}

func NewNetworkError(status int, detail string) *NetworkError {
	return &NetworkError{
		Status: status,
		Detail: detail,
	}
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("network error: GitHub API returned status %d: %s", e.Status, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("network error: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("network error: %s", e.Detail)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) WithCause(err error) *NetworkError {
	e.Err = err
	return e
}

// UnknownError carries an OAuth error code or GraphQL message GitHub sent back
type UnknownError struct {
	Detail string
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("unknown error: %s", e.Detail)
}

// IsTransient reports whether err only means "poll again later"
func IsTransient(err error) bool {
	return errors.Is(err, ErrAuthorizationPending) || errors.Is(err, ErrSlowDown)
}

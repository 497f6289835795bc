package notifyws

import (
	"fmt"
	"net/url"

	"github.com/pkg/errors"
)

var (
	ErrConnectionClosed   = errors.New("connection has been closed")
	ErrCannotConnect      = errors.New("connection cannot be established")
	ErrTerminated         = errors.New("program exit")
	ErrRateLimit          = errors.New("rate limit exceeded")
	ErrReconnectExhausted = errors.New("reconnection attempts exhausted")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrInvalidFrame       = errors.New("invalid frame")
)

// ErrUnrecoverableConnection is returned by the dial error adapters when retrying
// the same endpoint cannot succeed, e.g. the server rejected the credentials.
type ErrUnrecoverableConnection struct {
	err error
	url url.URL
}

func (e ErrUnrecoverableConnection) Error() string {
	return fmt.Sprintf("Unrecoverable connection error: %s to %s", e.err, e.url.String())
}

func (e ErrUnrecoverableConnection) Unwrap() error { return e.err }

func WrapErrorUnrecoverableConnection(err error, url url.URL) *ErrUnrecoverableConnection {
	if err == nil {
		return nil
	}
	return &ErrUnrecoverableConnection{
		err: err,
		url: url,
	}
}

// APIError is a non-2xx answer from the notifications REST API.
type APIError struct {
	StatusCode int
	Body       string
	err        error
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("notifications api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("notifications api: status %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error { return e.err }

package notesapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

var (
	ErrUnauthorized = errors.New("notesapi unauthorized")
	ErrNotFound     = errors.New("notesapi not found")
)

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("notesapi %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("notesapi status %d", e.Code)
}

// Transient reports server-side failures worth one more try.
func (e *StatusError) Transient() bool {
	return e.Code >= 500
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Code == 401
	case ErrNotFound:
		return e.Code == 404
	}
	return false
}

// IsTransient classifies network failures, timeouts and 5xx answers as
// transient. Validation, permission and other 4xx answers are not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

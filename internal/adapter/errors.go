package adapter

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotFound is returned when a requested resource is not found.
var ErrNotFound = errors.New("resource not found")

// UpstreamError is a failed call to a Google Photos API. Status is the HTTP
// status, or 0 when no response was received.
type UpstreamError struct {
	Status   int
	Endpoint string
	Message  string

	// RetryAfter is the server's Retry-After hint, if any.
	RetryAfter time.Duration

	Err error
}

func (e *UpstreamError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("google photos %s: %s", e.Endpoint, e.Message)
	}
	return fmt.Sprintf("google photos %s: %d %s", e.Endpoint, e.Status, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrNotFound) match a 404.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// StatusOf returns the upstream HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var uerr *UpstreamError
	if errors.As(err, &uerr) {
		return uerr.Status
	}
	return 0
}

package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUpstreamUnavailable wraps every failure to get bytes or metadata from
// the upstream that is not a plain EOF.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

var ErrTooManyRedirects = fmt.Errorf("too many redirects: %w", ErrUpstreamUnavailable)

// StatusError is returned for unexpected HTTP statuses.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s from %s", e.Code, http.StatusText(e.Code), e.URL)
}

func (e *StatusError) Unwrap() error {
	return ErrUpstreamUnavailable
}

// ServerError reports whether the upstream answered with a 5xx.
func (e *StatusError) ServerError() bool {
	return e.Code >= 500 && e.Code <= 599
}

// IsRetryable reports whether err is a 5xx answer worth retrying with a
// smaller window.
func IsRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.ServerError()
	}
	return false
}

// IsNotFound reports whether the upstream answered 404.
func IsNotFound(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusNotFound
	}
	return false
}

// ABOUTME: Error taxonomy for upstream API calls
// ABOUTME: Separates retryable transient failures from permanent client errors
package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrPageLimit is returned when a listing never produced an empty page
// within the configured page cap.
var ErrPageLimit = errors.New("page limit exceeded")

// TransientError is a failure that may succeed on retry: 429, 5xx, timeouts
// and other network errors. Exhausted is set once the client gave up.
type TransientError struct {
	StatusCode int
	Attempts   int
	Exhausted  bool
	Err        error
}

func (e *TransientError) Error() string {
	prefix := "transient upstream error"
	if e.Exhausted {
		prefix = fmt.Sprintf("upstream retries exhausted after %d attempts", e.Attempts)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", prefix, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError is a non-retryable 4xx response.
type PermanentError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *PermanentError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned HTTP %d for %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("upstream returned HTTP %d for %s: %s", e.StatusCode, e.URL, e.Body)
}

// IsNotFound reports whether err is a permanent 404.
func IsNotFound(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm) && perm.StatusCode == http.StatusNotFound
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var tErr *TransientError
	return errors.As(err, &tErr)
}

// IsPermanent reports whether err is (or wraps) a PermanentError.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

func statusError(code int) error {
	return errors.New(http.StatusText(code))
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

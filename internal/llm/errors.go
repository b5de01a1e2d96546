package llm

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// AttemptError is a failed backend call together with the verdict on
// whether another attempt may succeed. Backends return it through
// Retryable, RetryableAfter and Permanent; any other error is retried.
type AttemptError struct {
	Err   error
	Retry bool
	// Wait is the least delay the server asked for, zero when it gave none.
	Wait time.Duration
}

func (e *AttemptError) Error() string { return e.Err.Error() }

func (e *AttemptError) Unwrap() error { return e.Err }

// Retryable marks err worth another attempt after the normal backoff.
func Retryable(err error) error { return &AttemptError{Err: err, Retry: true} }

// RetryableAfter marks err worth another attempt no sooner than wait.
func RetryableAfter(err error, wait time.Duration) error {
	return &AttemptError{Err: err, Retry: true, Wait: wait}
}

// Permanent marks err as final: the same request will fail again.
func Permanent(err error) error { return &AttemptError{Err: err} }

// IsPermanent reports whether err carries a Permanent verdict.
func IsPermanent(err error) bool {
	retry, _ := verdict(err)
	return !retry
}

// verdict returns whether err may succeed on retry and the server's
// requested wait. Errors without a verdict are retried.
func verdict(err error) (retry bool, wait time.Duration) {
	var ae *AttemptError
	if errors.As(err, &ae) {
		return ae.Retry, ae.Wait
	}
	return true, 0
}

// retryableStatus reports whether an HTTP status is worth retrying: 408,
// 429 and 5xx.
func retryableStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

// statusError turns a non-200 model API reply into an AttemptError, with
// the Retry-After header as its wait.
func statusError(resp *http.Response, body []byte, now time.Time) error {
	msg := string(body)
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	err := &apiError{Status: resp.StatusCode, Body: msg}
	if !retryableStatus(resp.StatusCode) {
		return Permanent(err)
	}
	return RetryableAfter(err, parseRetryAfter(resp.Header.Get("Retry-After"), now))
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return "model API error (status " + strconv.Itoa(e.Status) + "): " + e.Body
}

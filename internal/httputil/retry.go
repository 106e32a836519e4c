// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers shared across stages.
package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pdiddy/paper-digest/internal/retry"
)

// StatusError reports a retryable HTTP status (429 or 5xx).
type StatusError struct {
	StatusCode int
	after      time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// RetryAfter returns the server-requested wait, or zero.
func (e *StatusError) RetryAfter() time.Duration { return e.after }

// IsRetryableStatus reports whether code is worth retrying: 429 Too Many
// Requests and every 5xx.
func IsRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// IsTransient classifies errors returned by DoWithRetry's attempts: status
// errors and transport failures are transient, cancellation is not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// DoWithRetry executes a bodiless HTTP request under policy. Network
// errors, HTTP 429 and 5xx responses are retried with exponential backoff;
// a Retry-After header in seconds extends the wait. Any other response,
// including 4xx, is returned to the caller unchanged.
//
// Retryable responses are drained and closed before waiting. When the
// attempts run out the error wraps retry.ErrExhausted and the last failure.
// If policy.Retryable is nil, IsTransient is used.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, policy retry.Policy) (*http.Response, error) {
	if policy.Retryable == nil {
		policy.Retryable = IsTransient
	}

	var resp *http.Response
	err := retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		r, err := client.Do(req.Clone(ctx))
		if err != nil {
			return err
		}
		if !IsRetryableStatus(r.StatusCode) {
			resp = r
			return nil
		}

		io.Copy(io.Discard, r.Body)
		r.Body.Close()
		return &StatusError{StatusCode: r.StatusCode, after: parseRetryAfter(r.Header.Get("Retry-After"))}
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// parseRetryAfter reads a delay-seconds Retry-After value. HTTP-date values
// are ignored.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

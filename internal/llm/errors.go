// Package llm wraps outbound LLM API calls: a typed error taxonomy, retry
// with capped exponential backoff, connection normalization, and a thin
// chat/completions/embeddings HTTP client.
package llm

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrExceededMaxRetries marks a call abandoned after exhausting its retry
// budget. The final underlying error is wrapped alongside it.
var ErrExceededMaxRetries = errors.New("llm: exceeded max retries")

// UserError marks failures caused by the caller's input: bad templates,
// malformed function definitions, unknown connection types. Never retried.
type UserError struct {
	Message string
}

func (e *UserError) Error() string {
	return "llm: " + e.Message
}

// SystemError marks internal failures that are not the caller's fault and
// not attributable to the remote API. Never retried.
type SystemError struct {
	Message string
	Err     error
}

func (e *SystemError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm: %s: %v", e.Message, e.Err)
	}
	return "llm: " + e.Message
}

func (e *SystemError) Unwrap() error { return e.Err }

// ConnectionError marks a transport-level failure (aborted connection,
// timeout, DNS). Retried only when the failure is a timeout or a mid-flight
// connection abort; failures that repeat identically on every attempt (DNS,
// TLS, refused dials) are terminal.
type ConnectionError struct {
	Err     error
	Timeout bool
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("llm: connection error: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// StatusError is a non-2xx API response that is not a rate limit.
// RetryAfter is zero when the server sent no Retry-After header.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: api returned status %d: %s", e.StatusCode, e.Message)
}

// RateLimitError is a 429 response. InsufficientQuota means the account is
// out of quota entirely; waiting cannot help, so it is never retried.
type RateLimitError struct {
	RetryAfter        time.Duration
	InsufficientQuota bool
	Message           string
}

func (e *RateLimitError) Error() string {
	if e.InsufficientQuota {
		return "llm: insufficient quota: " + e.Message
	}
	return "llm: rate limited: " + e.Message
}

// retryDelay classifies err and, when it is retriable, returns the delay to
// wait before the next attempt. Server-suggested delays win over the
// computed backoff.
//
// Retriable: server-side failures (5xx), throttling (429 except quota
// exhaustion), 422, timeouts and connection aborts.
func retryDelay(err error, attempt int) (time.Duration, bool) {
	var rateLimit *RateLimitError
	if errors.As(err, &rateLimit) {
		if rateLimit.InsufficientQuota {
			return 0, false
		}
		if rateLimit.RetryAfter > 0 {
			return rateLimit.RetryAfter, true
		}
		return backoffDelay(attempt), true
	}

	var status *StatusError
	if errors.As(err, &status) {
		if status.StatusCode >= 500 || status.StatusCode == 422 {
			if status.RetryAfter > 0 {
				return status.RetryAfter, true
			}
			return backoffDelay(attempt), true
		}
		return 0, false
	}

	var conn *ConnectionError
	if errors.As(err, &conn) {
		if conn.retriable() {
			return backoffDelay(attempt), true
		}
		return 0, false
	}

	return 0, false
}

// connectionAbortMarkers identify a remote side dropping an established
// connection mid-flight, the one transport failure worth waiting out.
var connectionAbortMarkers = []string{
	"connection aborted",
	"connection reset",
	"broken pipe",
	"unexpected eof",
}

func (e *ConnectionError) retriable() bool {
	if e.Timeout {
		return true
	}
	msg := strings.ToLower(fmt.Sprint(e.Err))
	for _, marker := range connectionAbortMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// backoffDelay computes the capped exponential backoff for the n-th retry:
// min(60, 3+2^n-1) seconds.
func backoffDelay(attempt int) time.Duration {
	if attempt > 6 {
		attempt = 6
	}
	secs := 3 + (1 << attempt) - 1
	if secs > 60 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}

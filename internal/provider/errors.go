package provider

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind classifies provider failures.
type Kind string

const (
	// KindContextLengthExceeded means the conversation no longer fits the model.
	KindContextLengthExceeded Kind = "context_length_exceeded"
	// KindRequestFailed is a request the vendor rejected; retrying will not help.
	KindRequestFailed Kind = "request_failed"
	// KindRateLimited is a throttled request; retryable.
	KindRateLimited Kind = "rate_limited"
	// KindServer is a transient vendor or network failure; retryable.
	KindServer Kind = "server_error"
	// KindAuth is a credential failure.
	KindAuth Kind = "authentication"
	// KindFatal is any other unrecoverable failure.
	KindFatal Kind = "execution_error"
)

// Error is a classified provider failure.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

// NewError creates a classified error.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindContextLengthExceeded:
		return "context length exceeded: " + e.Message
	case KindRequestFailed:
		return "request failed: " + e.Message
	case KindRateLimited:
		return "rate limit exceeded: " + e.Message
	case KindServer:
		return "server error: " + e.Message
	case KindAuth:
		return "authentication error: " + e.Message
	default:
		return "execution error: " + e.Message
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the retry policy should try again.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindServer
}

// KindOf returns the kind of a provider error, or "" for other errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsContextLengthExceeded reports whether err is a context length failure.
func IsContextLengthExceeded(err error) bool {
	return KindOf(err) == KindContextLengthExceeded
}

// IsRetryable reports whether err is a retryable provider error.
func IsRetryable(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Retryable()
}

var (
	statusPattern     = regexp.MustCompile(`(?i)(?:status code|status|http|code|":)[:=]?\s*([1-5]\d{2})\b`)
	retryAfterPattern = regexp.MustCompile(`(?i)retry[- ]after[:= ]\s*(\d+)`)
)

// Classify maps a raw vendor or transport error onto the provider taxonomy.
// Already classified errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindFatal, Message: err.Error(), Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindServer, Message: err.Error(), Err: err}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	status := 0
	if m := statusPattern.FindStringSubmatch(msg); m != nil {
		status, _ = strconv.Atoi(m[1])
	}

	out := &Error{Message: msg, StatusCode: status, Err: err}
	switch {
	case isContextLengthMessage(lower) && (status == 0 || status == 400 || status == 413):
		out.Kind = KindContextLengthExceeded
	case status == 401 || status == 403:
		out.Kind = KindAuth
	case status == 429 || strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests"):
		out.Kind = KindRateLimited
		if m := retryAfterPattern.FindStringSubmatch(msg); m != nil {
			secs, _ := strconv.Atoi(m[1])
			out.RetryAfter = time.Duration(secs) * time.Second
		}
	case status >= 500:
		out.Kind = KindServer
	case status >= 400:
		out.Kind = KindRequestFailed
	case isTransient(lower):
		out.Kind = KindServer
	default:
		out.Kind = KindRequestFailed
	}
	return out
}

func isContextLengthMessage(lower string) bool {
	for _, marker := range []string{"too long", "too many tokens", "context length", "context_length_exceeded", "maximum context", "context window"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func isTransient(lower string) bool {
	for _, marker := range []string{"connection reset", "connection refused", "timeout", "timed out", "eof", "broken pipe", "overloaded", "temporarily unavailable"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

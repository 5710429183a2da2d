package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error is the unified error interface returned by provider adapters and
// the client for upstream failures.
type Error interface {
	error
	Provider() string
	StatusCode() int
}

// ConfigurationError means the call could never have succeeded as
// configured (missing credential, unknown provider, malformed request).
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + strings.TrimSpace(e.Message)
}
func (e *ConfigurationError) Provider() string { return "" }
func (e *ConfigurationError) StatusCode() int  { return 0 }

type httpErrorBase struct {
	provider   string
	statusCode int
	message    string
	raw        any
}

func (e *httpErrorBase) Error() string {
	msg := strings.TrimSpace(e.message)
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Sprintf("%s error (status=%d): %s", e.provider, e.statusCode, msg)
}
func (e *httpErrorBase) Provider() string { return e.provider }
func (e *httpErrorBase) StatusCode() int  { return e.statusCode }

type InvalidRequestError struct{ httpErrorBase }
type AuthenticationError struct{ httpErrorBase }
type AccessDeniedError struct{ httpErrorBase }
type NotFoundError struct{ httpErrorBase }
type ContextLengthError struct{ httpErrorBase }
type ContentFilterError struct{ httpErrorBase }
type RateLimitError struct{ httpErrorBase }
type ServerError struct{ httpErrorBase }
type UnknownHTTPError struct{ httpErrorBase }

// ErrorFromHTTPStatus classifies a non-2xx completion response. The engine
// never retries; classification exists for reporting and logs.
func ErrorFromHTTPStatus(provider string, statusCode int, message string, raw any) error {
	base := httpErrorBase{
		provider:   strings.TrimSpace(provider),
		statusCode: statusCode,
		message:    message,
		raw:        raw,
	}
	switch statusCode {
	case 400, 422:
		// Ambiguous status codes: use message hints for specific classification.
		if err := classifyByMessage(base); err != nil {
			return err
		}
		return &InvalidRequestError{base}
	case 401:
		return &AuthenticationError{base}
	case 403:
		return &AccessDeniedError{base}
	case 404:
		return &NotFoundError{base}
	case 413:
		return &ContextLengthError{base}
	case 429:
		return &RateLimitError{base}
	case 500, 502, 503, 504:
		return &ServerError{base}
	default:
		return &UnknownHTTPError{base}
	}
}

// classifyByMessage refines classification when the status code is
// ambiguous and providers tunnel domain failures in text.
func classifyByMessage(base httpErrorBase) error {
	lower := strings.ToLower(base.message)
	switch {
	case strings.Contains(lower, "content filter") || strings.Contains(lower, "safety"):
		return &ContentFilterError{base}
	case strings.Contains(lower, "context length") || strings.Contains(lower, "too many tokens"):
		return &ContextLengthError{base}
	case strings.Contains(lower, "not found") || strings.Contains(lower, "does not exist"):
		return &NotFoundError{base}
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid key"):
		return &AuthenticationError{base}
	}
	return nil
}

// TransportError wraps a non-HTTP failure (connection refused, body read
// error) so it carries the provider name and fits the unified interface.
type TransportError struct {
	provider string
	err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport error: %v", e.provider, e.err)
}
func (e *TransportError) Provider() string { return e.provider }
func (e *TransportError) StatusCode() int  { return 0 }
func (e *TransportError) Unwrap() error    { return e.err }

// StreamError is a failure that occurred mid-stream, after the HTTP
// response was accepted.
type StreamError struct {
	provider string
	message  string
}

func NewStreamError(provider, message string) error {
	return &StreamError{provider: strings.TrimSpace(provider), message: message}
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s stream error: %s", e.provider, e.message)
}
func (e *StreamError) Provider() string { return e.provider }
func (e *StreamError) StatusCode() int  { return 0 }

// WrapContextError passes context cancellation through untouched so callers
// can distinguish user-initiated aborts with errors.Is, and wraps everything
// else as a TransportError.
func WrapContextError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &TransportError{provider: strings.TrimSpace(provider), err: err}
}

// IsCancelled reports whether err is a user-initiated abort. Cancelled
// streams are not failures and are filtered from user-facing reporting.
func IsCancelled(err error) bool {
	return err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

func IsAuthenticationError(err error) bool {
	var e *AuthenticationError
	return errors.As(err, &e)
}

package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnavailable matches every downstream failure via errors.Is.
var ErrUnavailable = errors.New("processor unavailable")

// FailureReason categorizes why a downstream request failed.
type FailureReason string

const (
	FailureRateLimit      FailureReason = "rate_limit"
	FailureAuth           FailureReason = "auth"
	FailureTimeout        FailureReason = "timeout"
	FailureServerError    FailureReason = "server_error"
	FailureInvalidRequest FailureReason = "invalid_request"
	FailureEmpty          FailureReason = "empty_response"
	FailureUnknown        FailureReason = "unknown"
)

// IsRetryable returns true if retrying may succeed.
func (r FailureReason) IsRetryable() bool {
	switch r {
	case FailureRateLimit, FailureTimeout, FailureServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a structured downstream failure. Its details stay in
// server logs; clients only ever see a generic message.
type ProviderError struct {
	Reason   FailureReason
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error { return e.Cause }

func (e *ProviderError) Is(target error) bool { return target == ErrUnavailable }

// NewProviderError classifies cause and wraps it.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{Provider: provider, Model: model, Cause: cause, Reason: FailureUnknown}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}
	return err
}

// WithStatus records the HTTP status and reclassifies.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	e.Reason = classifyStatusCode(status)
	return e
}

// ClassifyError inspects an error message for well-known failure patterns.
func ClassifyError(err error) FailureReason {
	if err == nil {
		return FailureUnknown
	}
	if errors.Is(err, errEmptyResponse) {
		return FailureEmpty
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return FailureTimeout
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "too many requests"), strings.Contains(msg, "429"):
		return FailureRateLimit
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "401"), strings.Contains(msg, "403"):
		return FailureAuth
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "internal server"), strings.Contains(msg, "502"),
		strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return FailureServerError
	default:
		return FailureUnknown
	}
}

func classifyStatusCode(status int) FailureReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailureAuth
	case status == http.StatusTooManyRequests:
		return FailureRateLimit
	case status == http.StatusBadRequest:
		return FailureInvalidRequest
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return FailureTimeout
	case status >= 500:
		return FailureServerError
	default:
		return FailureUnknown
	}
}

var errEmptyResponse = errors.New("empty response")

// errors.go - Provider error taxonomy and classification

package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
)

// ErrEmptyResponse is returned when a provider answers without any content.
var ErrEmptyResponse = errors.New("empty response from provider")

// Error categories.
const (
	CategoryBadRequest      = "bad_request"
	CategoryUnauthorized    = "unauthorized"
	CategoryForbidden       = "forbidden"
	CategoryNotFound        = "not_found"
	CategoryPayloadTooLarge = "payload_too_large"
	CategoryRateLimit       = "rate_limit"
	CategoryServerError     = "server_error"
	CategoryTimeout         = "timeout"
	CategoryNetwork         = "network_error"
	CategoryQuotaExceeded   = "quota_exceeded"
	CategoryUnknown         = "unknown"
)

// TransientProviderError marks a failure that may succeed when retried:
// rate limiting, server errors, timeouts and dropped connections.
type TransientProviderError struct {
	Provider   string
	Category   string
	StatusCode int
	Err        error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("%s [%s] transient error (status: %d): %v", e.Provider, e.Category, e.StatusCode, e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// ProviderError is a categorised failure that retrying will not fix.
type ProviderError struct {
	Provider   string
	Category   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s [%s] %s (status: %d)", e.Provider, e.Category, e.Message, e.StatusCode)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// MalformedResponseError reports a provider answer that could not be parsed.
type MalformedResponseError struct {
	Provider string
	Body     string
	Err      error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s returned a malformed response: %v", e.Provider, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// IsTransient reports whether err carries a TransientProviderError.
func IsTransient(err error) bool {
	var t *TransientProviderError
	return errors.As(err, &t)
}

// IsRateLimit reports whether err is a transient rate-limit failure.
func IsRateLimit(err error) bool {
	var t *TransientProviderError
	return errors.As(err, &t) && t.Category == CategoryRateLimit
}

// ClassifyError wraps a raw provider or transport error into the taxonomy.
// Already classified errors and context cancellation are returned as is.
func ClassifyError(provider string, err error) error {
	if err == nil {
		return nil
	}

	var t *TransientProviderError
	var p *ProviderError
	if errors.As(err, &t) || errors.As(err, &p) {
		return err
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return ClassifyStatus(provider, apiErr.Code, apiErr.Message, err)
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientProviderError{Provider: provider, Category: CategoryTimeout, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		category := CategoryNetwork
		if netErr.Timeout() {
			category = CategoryTimeout
		}
		return &TransientProviderError{Provider: provider, Category: category, Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "quota"):
		return &ProviderError{Provider: provider, Category: CategoryQuotaExceeded, Message: "API quota exceeded", Err: err}
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return &TransientProviderError{Provider: provider, Category: CategoryTimeout, Err: err}
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network"):
		return &TransientProviderError{Provider: provider, Category: CategoryNetwork, Err: err}
	}

	return &ProviderError{Provider: provider, Category: CategoryUnknown, Message: err.Error(), Err: err}
}

// ClassifyStatus maps an HTTP status returned by a provider to the taxonomy.
func ClassifyStatus(provider string, code int, message string, err error) error {
	if err == nil {
		err = fmt.Errorf("status %d: %s", code, message)
	}
	transient := func(category string) error {
		return &TransientProviderError{Provider: provider, Category: category, StatusCode: code, Err: err}
	}
	permanent := func(category, msg string) error {
		return &ProviderError{Provider: provider, Category: category, StatusCode: code, Message: msg, Err: err}
	}

	switch code {
	case http.StatusBadRequest:
		return permanent(CategoryBadRequest, "invalid request format or parameters")
	case http.StatusUnauthorized:
		return permanent(CategoryUnauthorized, "invalid API key or authentication failed")
	case http.StatusForbidden:
		return permanent(CategoryForbidden, "API key lacks required permissions")
	case http.StatusNotFound:
		return permanent(CategoryNotFound, "model or endpoint not found")
	case http.StatusRequestEntityTooLarge:
		return permanent(CategoryPayloadTooLarge, "request size exceeds limit")
	case http.StatusTooManyRequests:
		return transient(CategoryRateLimit)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return transient(CategoryServerError)
	}

	if code >= 500 {
		return transient(CategoryServerError)
	}
	if message == "" {
		message = http.StatusText(code)
	}
	return permanent(CategoryUnknown, message)
}

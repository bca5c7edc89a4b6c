package api

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError reports a problem detected before any network I/O:
// a missing credential, an unknown provider key, an invalid endpoint or request.
type ConfigurationError struct {
	Provider string
	Message  string
	Cause    error
}

func (e *ConfigurationError) Error() string {
	return format("configuration error", e.Provider, 0, e.Message, e.Cause)
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

func NewConfigurationError(provider, msg string) error {
	return &ConfigurationError{Provider: provider, Message: msg}
}

// MissingCredential names the credential and where it is expected to come from.
func MissingCredential(provider, display, env string) error {
	msg := fmt.Sprintf("%s API key not found. Set %s or configure %s.api_key", display, env, provider)
	if env == "" {
		msg = fmt.Sprintf("%s API key not found. Configure %s.api_key", display, provider)
	}
	return NewConfigurationError(provider, msg)
}

// ProviderError is a permanent rejection by the upstream backend.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	return format("provider error", e.Provider, e.StatusCode, e.Message, e.Cause)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// RetryableProviderError is a transient failure. The caller decides whether to retry.
type RetryableProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *RetryableProviderError) Error() string {
	return format("retryable provider error", e.Provider, e.StatusCode, e.Message, e.Cause)
}

func (e *RetryableProviderError) Unwrap() error { return e.Cause }

func NewProviderError(provider string, status int, msg string, cause error) error {
	return &ProviderError{Provider: provider, StatusCode: status, Message: msg, Cause: cause}
}

func NewRetryableProviderError(provider string, status int, msg string, cause error) error {
	return &RetryableProviderError{Provider: provider, StatusCode: status, Message: msg, Cause: cause}
}

func IsConfigurationError(err error) bool {
	var e *ConfigurationError
	return errors.As(err, &e)
}

// IsProviderError reports true for both permanent and retryable upstream failures.
func IsProviderError(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return true
	}
	return IsRetryable(err)
}

func IsRetryable(err error) bool {
	var e *RetryableProviderError
	return errors.As(err, &e)
}

// StatusCode returns the upstream HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	var re *RetryableProviderError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}

func format(kind, provider string, status int, msg string, cause error) string {
	var sb strings.Builder
	if provider != "" {
		sb.WriteString(provider)
		sb.WriteString(": ")
	}
	sb.WriteString(kind)
	if status != 0 {
		sb.WriteString(fmt.Sprintf(" (http %d)", status))
	}
	if msg != "" {
		sb.WriteString(": ")
		sb.WriteString(msg)
	}
	if cause != nil && (msg == "" || !strings.Contains(msg, cause.Error())) {
		sb.WriteString(": ")
		sb.WriteString(cause.Error())
	}
	return sb.String()
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"fmt"
)

// Error kinds shared across stages. Callers wrap them with fmt.Errorf and
// classify with errors.Is.
var (
	// ErrSourceUnavailable means the paper source failed after all retries.
	ErrSourceUnavailable = errors.New("paper source unavailable")

	// ErrSummarizationTransient is a retryable failure of the summarization service.
	ErrSummarizationTransient = errors.New("summarization service transient failure")

	// ErrSummarizationParse means the service response could not be split
	// into exactly one summary per paper.
	ErrSummarizationParse = errors.New("summarization response parse failure")

	// ErrDeliveryFailure means one or more blocks could not be posted.
	ErrDeliveryFailure = errors.New("delivery failure")

	// ErrConfiguration covers missing credentials and invalid settings.
	ErrConfiguration = errors.New("configuration error")
)

// ConfigError names the setting that failed validation. It unwraps to
// ErrConfiguration.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// NewConfigError returns a ConfigError for field.
func NewConfigError(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is, or wraps, a configuration error.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// Package errors provides the poll error taxonomy and retry helpers for the exporter.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Error constants for common validation errors
var (
	ErrInvalidInterval    = errors.New("invalid interval")
	ErrInvalidTimeout     = errors.New("invalid timeout")
	ErrInvalidConcurrency = errors.New("invalid concurrency")
	ErrUnknownDevice      = errors.New("unknown device")
	ErrNoMandatoryField   = errors.New("no mandatory field found")
)

// Kind classifies a poll failure. Kinds only appear in logs, never in exposed metrics.
type Kind string

const (
	KindTransport Kind = "transport"
	KindParse     Kind = "parse"
	KindInternal  Kind = "internal"
)

// TransportError represents a failure reaching the device: connection refused,
// timeout, TLS or authentication failure, or a non-2xx HTTP status.
type TransportError struct {
	Device     string
	URL        string
	StatusCode int
	Underlying error
	Timestamp  time.Time
}

func (e TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("device %s transport: unexpected status %d from %s: %v", e.Device, e.StatusCode, e.URL, e.Underlying)
	}
	return fmt.Sprintf("device %s transport: %v", e.Device, e.Underlying)
}

func (e TransportError) Unwrap() error {
	return e.Underlying
}

// Kind implements the classified interface.
func (e TransportError) Kind() Kind {
	return KindTransport
}

// ParseError represents a status page that could not be interpreted.
type ParseError struct {
	Device     string
	Underlying error
}

func (e ParseError) Error() string {
	return fmt.Sprintf("device %s parse: %v", e.Device, e.Underlying)
}

func (e ParseError) Unwrap() error {
	return e.Underlying
}

// Kind implements the classified interface.
func (e ParseError) Kind() Kind {
	return KindParse
}

// InternalError represents an unexpected failure inside a poll, such as a
// recovered panic. CorrelationID ties the error to the logged stack trace.
type InternalError struct {
	Device        string
	CorrelationID string
	Underlying    error
}

func (e InternalError) Error() string {
	if e.CorrelationID != "" {
		return fmt.Sprintf("device %s internal (correlation_id: %s): %v", e.Device, e.CorrelationID, e.Underlying)
	}
	return fmt.Sprintf("device %s internal: %v", e.Device, e.Underlying)
}

func (e InternalError) Unwrap() error {
	return e.Underlying
}

// Kind implements the classified interface.
func (e InternalError) Kind() Kind {
	return KindInternal
}

// Classify returns the kind of a poll error. Anything that is not explicitly
// a transport or parse failure is internal.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var classified interface{ Kind() Kind }
	if errors.As(err, &classified) {
		return classified.Kind()
	}
	return KindInternal
}

// ConfigurationError represents an error in configuration validation.
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in field %s (value: %s): %s", e.Field, e.Value, e.Reason)
}

// BackoffMode selects how the delay between retries grows.
type BackoffMode string

const (
	BackoffFixed       BackoffMode = "fixed"
	BackoffLinear      BackoffMode = "linear"
	BackoffExponential BackoffMode = "exponential"
)

// ParseBackoffMode validates a backoff mode name. Empty means linear.
func ParseBackoffMode(s string) (BackoffMode, error) {
	switch BackoffMode(s) {
	case "", BackoffLinear:
		return BackoffLinear, nil
	case BackoffFixed:
		return BackoffFixed, nil
	case BackoffExponential:
		return BackoffExponential, nil
	default:
		return "", fmt.Errorf("unknown backoff mode %q (expected fixed, linear or exponential)", s)
	}
}

// RetryConfig configures retry behavior for a device poll.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Mode        BackoffMode
}

// Attempts returns the number of requests to make, never less than one.
func (rc RetryConfig) Attempts() int {
	if rc.MaxAttempts < 1 {
		return 1
	}
	return rc.MaxAttempts
}

// CalculateDelay calculates the delay after the given zero-based failed attempt.
func (rc RetryConfig) CalculateDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	var delay time.Duration
	switch rc.Mode {
	case BackoffFixed:
		delay = rc.BaseDelay
	case BackoffExponential:
		delay = rc.BaseDelay
		for i := 0; i < attempt; i++ {
			delay *= 2
			if rc.MaxDelay > 0 && delay > rc.MaxDelay {
				break
			}
		}
	default:
		delay = rc.BaseDelay * time.Duration(attempt+1)
	}

	if rc.MaxDelay > 0 && delay > rc.MaxDelay {
		return rc.MaxDelay
	}

	return delay
}

package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportError(t *testing.T) {
	underlying := errors.New("connection refused")
	err := TransportError{Device: "inverter-1", URL: "http://10.0.0.2/status.html", Underlying: underlying}

	assert.Contains(t, err.Error(), "inverter-1")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, KindTransport, err.Kind())
	assert.ErrorIs(t, err, underlying)

	withStatus := TransportError{Device: "inverter-1", URL: "http://x/status.html", StatusCode: 401, Underlying: errors.New("unauthorized")}
	assert.Contains(t, withStatus.Error(), "401")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"transport", TransportError{Underlying: context.DeadlineExceeded}, KindTransport},
		{"wrapped transport", fmt.Errorf("attempt 3: %w", TransportError{Underlying: errors.New("x")}), KindTransport},
		{"parse", ParseError{Underlying: ErrNoMandatoryField}, KindParse},
		{"internal", InternalError{CorrelationID: "abc", Underlying: errors.New("panic")}, KindInternal},
		{"plain error", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestInternalErrorCarriesCorrelationID(t *testing.T) {
	err := InternalError{Device: "inverter-1", CorrelationID: "1234", Underlying: errors.New("nil map")}
	assert.Contains(t, err.Error(), "correlation_id: 1234")
}

func TestParseBackoffMode(t *testing.T) {
	mode, err := ParseBackoffMode("")
	require.NoError(t, err)
	assert.Equal(t, BackoffLinear, mode)

	mode, err = ParseBackoffMode("exponential")
	require.NoError(t, err)
	assert.Equal(t, BackoffExponential, mode)

	_, err = ParseBackoffMode("random")
	assert.Error(t, err)
}

func TestRetryConfigCalculateDelay(t *testing.T) {
	base := 100 * time.Millisecond

	tests := []struct {
		name    string
		mode    BackoffMode
		attempt int
		want    time.Duration
	}{
		{"fixed first", BackoffFixed, 0, base},
		{"fixed third", BackoffFixed, 2, base},
		{"linear first", BackoffLinear, 0, base},
		{"linear third", BackoffLinear, 2, 3 * base},
		{"exponential first", BackoffExponential, 0, base},
		{"exponential third", BackoffExponential, 2, 4 * base},
		{"exponential capped", BackoffExponential, 20, time.Second},
		{"linear capped", BackoffLinear, 50, time.Second},
		{"negative attempt", BackoffLinear, -1, base},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := RetryConfig{MaxAttempts: 3, BaseDelay: base, MaxDelay: time.Second, Mode: tt.mode}
			assert.Equal(t, tt.want, rc.CalculateDelay(tt.attempt))
		})
	}
}

func TestRetryConfigAttempts(t *testing.T) {
	assert.Equal(t, 1, RetryConfig{MaxAttempts: 0}.Attempts())
	assert.Equal(t, 1, RetryConfig{MaxAttempts: -3}.Attempts())
	assert.Equal(t, 4, RetryConfig{MaxAttempts: 4}.Attempts())
}

func TestConfigurationError(t *testing.T) {
	err := ConfigurationError{Field: "solis[0].host", Value: "", Reason: "host is required"}
	assert.Equal(t, "configuration error in field solis[0].host (value: ): host is required", err.Error())
}

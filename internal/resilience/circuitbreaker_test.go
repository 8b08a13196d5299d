package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransport = errors.New("connection reset")

func fail(context.Context) error    { return errTransport }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("edgar", CircuitBreakerConfig{FailureThreshold: 3})

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errTransport)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	calls := 0
	err := cb.Execute(ctx, func(context.Context) error { calls++; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls)

	stats := cb.Stats()
	assert.Equal(t, int64(1), stats.TotalRejected)
	assert.Equal(t, int64(3), stats.TotalFailures)
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("edgar", CircuitBreakerConfig{FailureThreshold: 2})

	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, succeed))
	_ = cb.Execute(ctx, fail)

	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_IgnoresNonFailures(t *testing.T) {
	ctx := context.Background()
	notFound := errors.New("404")
	cb := NewCircuitBreaker("edgar", CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, notFound) },
	})

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, func(context.Context) error { return notFound })
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("edgar", CircuitBreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	_ = cb.Execute(ctx, fail)
	require.Equal(t, CircuitOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_DisabledNeverOpens(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("edgar", CircuitBreakerConfig{FailureThreshold: 0})

	for i := 0; i < 20; i++ {
		_ = cb.Execute(ctx, fail)
	}
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestExecuteWithResult(t *testing.T) {
	ctx := context.Background()
	cb := NewCircuitBreaker("edgar", CircuitBreakerConfig{FailureThreshold: 1})

	v, err := ExecuteWithResult(ctx, cb, func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
}

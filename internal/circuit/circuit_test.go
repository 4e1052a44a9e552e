package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentcore/core/internal/corerr"
)

func TestBreakerOpensAfterThresholdConsecutiveFailures(t *testing.T) {
	b := New(Config{FailureThreshold: 3, SuccessThreshold: 2, ResetTimeout: time.Second})

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		err := b.Execute(context.Background(), func(context.Context) error { return boom })
		require.ErrorIs(t, err, boom)
	}

	require.Equal(t, StateOpen, b.State())
}

func TestBreakerShortCircuitsWhileOpen(t *testing.T) {
	b := New(Config{FailureThreshold: 1, ResetTimeout: time.Minute})
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	require.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	require.False(t, called)
	require.Equal(t, corerr.KindCircuitOpen, corerr.KindOf(err))
}

// TestBreakerHalfOpenProbeCyclesBackToClosed exercises spec.md §8's
// end-to-end scenario 6 with threshold=3 and resetTimeout shortened to
// 10ms so the test runs fast — three failures
// open the circuit, a probe after the reset timeout elapses transitions
// to half_open, and consecutive successes meeting SuccessThreshold close
// it again.
func TestBreakerHalfOpenProbeCyclesBackToClosed(t *testing.T) {
	b := New(Config{FailureThreshold: 3, SuccessThreshold: 2, ResetTimeout: 10 * time.Millisecond})

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	}
	require.Equal(t, StateOpen, b.State())

	// Before the reset timeout elapses, calls remain short-circuited.
	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	require.Equal(t, corerr.KindCircuitOpen, corerr.KindOf(err))
	require.Equal(t, StateOpen, b.State())

	time.Sleep(15 * time.Millisecond)

	// First probe after the timeout is admitted and transitions to
	// half_open; a success counts toward SuccessThreshold but does not
	// yet close the breaker.
	err = b.Execute(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	require.Equal(t, StateHalfOpen, b.State())

	err = b.Execute(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	require.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 2, ResetTimeout: 10 * time.Millisecond})

	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	require.Equal(t, StateOpen, b.State())

	time.Sleep(15 * time.Millisecond)

	err := b.Execute(context.Background(), func(context.Context) error { return errors.New("boom again") })
	require.Error(t, err)
	require.Equal(t, StateOpen, b.State())
}

func TestRegistryCreatesPerNameBreakersWithDefaults(t *testing.T) {
	reg := NewRegistry(Config{FailureThreshold: 2, ResetTimeout: time.Minute})

	a := reg.Get("endpoint-a")
	b := reg.Get("endpoint-b")
	require.NotSame(t, a, b)
	require.Same(t, a, reg.Get("endpoint-a"))

	_ = a.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	_ = a.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	require.Equal(t, []string{"endpoint-a"}, reg.OpenBreakers())
}

func TestExecuteWithResultReturnsZeroValueWhenCircuitOpen(t *testing.T) {
	b := New(Config{FailureThreshold: 1, ResetTimeout: time.Minute})
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })

	val, err := ExecuteWithResult(b, context.Background(), func(context.Context) (int, error) {
		return 42, nil
	})
	require.Equal(t, 0, val)
	require.Equal(t, corerr.KindCircuitOpen, corerr.KindOf(err))
}

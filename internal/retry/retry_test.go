package retry

import (
	"context"
	"testing"
	"time"

	"github.com/agentcore/core/internal/corerr"
	"github.com/stretchr/testify/require"
)

func TestDelayHonorsRateLimitHint(t *testing.T) {
	p := DefaultPolicy()
	d := Delay(p, 0, RateLimitHint{HasHint: true, RetryAfter: 2 * time.Second})
	require.Equal(t, 2*time.Second, d)
}

func TestDelayIgnoresInsaneRateLimitHint(t *testing.T) {
	p := DefaultPolicy()
	d := Delay(p, 0, RateLimitHint{HasHint: true, RetryAfter: 10 * time.Minute})
	require.Less(t, d, 10*time.Minute)
}

func TestDoExhaustsAndWrapsMaxRetries(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Strategy: StrategyExponential}
	res := Do(context.Background(), p, nil, func(ctx context.Context, attempt int) (int, error) {
		return 0, corerr.New(corerr.KindServerTransient, "test", "boom")
	})
	require.Error(t, res.Err)
	require.Equal(t, corerr.KindMaxRetriesExceeded, corerr.KindOf(res.Err))
	require.Equal(t, 3, res.Attempts)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	p := DefaultPolicy()
	calls := 0
	res := Do(context.Background(), p, nil, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, corerr.New(corerr.KindClientError, "test", "bad request")
	})
	require.Error(t, res.Err)
	require.Equal(t, 1, calls)
}

func TestClassifyHTTPStatus(t *testing.T) {
	require.Equal(t, corerr.KindRateLimit, ClassifyHTTPStatus(429))
	require.Equal(t, corerr.KindServerOverloaded, ClassifyHTTPStatus(529))
	require.Equal(t, corerr.KindServerTransient, ClassifyHTTPStatus(503))
	require.Equal(t, corerr.KindClientError, ClassifyHTTPStatus(404))
}

// Package retry implements the backoff strategies and attempt loop of
// spec.md §4.G. Grounded on Dhanuzh-dcode's internal/session/retry.go
// (ComputeRetryDelay/SleepWithAbort), generalized into the full strategy
// set the spec requires and rebuilt against the corerr taxonomy instead of
// string-matching error messages. github.com/cenkalti/backoff/v4 supplies
// the exponential-backoff primitive that Strategy "exponential" wraps;
// the other strategies (linear, fibonacci, decorrelated jitter) have no
// equivalent in that library and are implemented directly.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/agentcore/core/internal/corerr"
	"github.com/cenkalti/backoff/v4"
)

// Strategy names the backoff algorithm.
type Strategy string

const (
	StrategyExponential         Strategy = "exponential"
	StrategyLinear              Strategy = "linear"
	StrategyFibonacci           Strategy = "fibonacci"
	StrategyDecorrelatedJitter  Strategy = "decorrelated_jitter"
)

// Jitter names the jitter applied on top of the base delay.
type Jitter string

const (
	JitterNone         Jitter = "none"
	JitterFull         Jitter = "full"
	JitterDecorrelated Jitter = "decorrelated"
)

// Policy mirrors spec.md §3's Retry Policy. Immutable per call site.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Strategy     Strategy
	Jitter       Jitter
	ClassifyFn   func(error) corerr.Kind
}

// DefaultPolicy matches the teacher's tuned constants in retry.go, adapted
// into the full Policy shape.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  10,
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		Strategy:     StrategyExponential,
		Jitter:       JitterFull,
	}
}

// RateLimitHint carries a server-provided reset point, e.g. from
// `Retry-After` or `x-ratelimit-reset` headers, honored when present and
// within a sane bound (<=5 minutes), per §4.G.
type RateLimitHint struct {
	RetryAfter time.Duration
	HasHint    bool
}

const maxSaneRateLimitWait = 5 * time.Minute

// Delay computes the delay before the given 0-based attempt index, applying
// the configured strategy and jitter, and honoring a rate-limit hint when
// present and sane.
func Delay(p Policy, attempt int, hint RateLimitHint) time.Duration {
	if hint.HasHint && hint.RetryAfter > 0 && hint.RetryAfter <= maxSaneRateLimitWait {
		return hint.RetryAfter
	}

	base := strategyDelay(p, attempt)
	if base > p.MaxDelay && p.MaxDelay > 0 {
		base = p.MaxDelay
	}
	return applyJitter(p, base, attempt)
}

func strategyDelay(p Policy, attempt int) time.Duration {
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	switch p.Strategy {
	case StrategyLinear:
		return p.InitialDelay * time.Duration(attempt+1)
	case StrategyFibonacci:
		return p.InitialDelay * time.Duration(fibonacci(attempt+1))
	case StrategyDecorrelatedJitter:
		// Decorrelated jitter folds its randomness into the base delay
		// itself; callers should prefer JitterNone alongside this
		// strategy to avoid double-sampling.
		return decorrelatedBase(p, attempt)
	case StrategyExponential:
		fallthrough
	default:
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = p.InitialDelay
		b.Multiplier = multiplier
		b.RandomizationFactor = 0
		b.MaxInterval = maxDuration(p.MaxDelay, p.InitialDelay)
		b.Reset()
		var delay time.Duration
		for i := 0; i <= attempt; i++ {
			delay = b.NextBackOff()
		}
		return delay
	}
}

func fibonacci(n int) int64 {
	if n <= 1 {
		return 1
	}
	var a, b int64 = 1, 1
	for i := 2; i <= n; i++ {
		a, b = b, a+b
	}
	return b
}

// decorrelatedBase implements AWS's "decorrelated jitter": delay ∈
// [initial, min(cap, previous*3)], uniformly sampled. Since this package's
// Delay is stateless per call, "previous" is approximated from the
// strategy's exponential growth at the given attempt index — callers
// wanting true history-based decorrelation should track the previous
// delay and pass it via DecorrelatedNext instead.
func decorrelatedBase(p Policy, attempt int) time.Duration {
	prev := p.InitialDelay * time.Duration(math.Pow(3, float64(attempt)))
	upper := minDuration(maxDuration(p.MaxDelay, p.InitialDelay), prev)
	if upper <= p.InitialDelay {
		return p.InitialDelay
	}
	return p.InitialDelay + time.Duration(rand.Int63n(int64(upper-p.InitialDelay)))
}

// DecorrelatedNext computes the next decorrelated-jitter delay given the
// previous one, for callers that retain attempt-to-attempt state.
func DecorrelatedNext(p Policy, previous time.Duration) time.Duration {
	if previous <= 0 {
		previous = p.InitialDelay
	}
	cap := maxDuration(p.MaxDelay, p.InitialDelay)
	upper := minDuration(cap, previous*3)
	if upper <= p.InitialDelay {
		return p.InitialDelay
	}
	return p.InitialDelay + time.Duration(rand.Int63n(int64(upper-p.InitialDelay)))
}

func applyJitter(p Policy, base time.Duration, attempt int) time.Duration {
	switch p.Jitter {
	case JitterFull:
		// 0-25% noise, per §4.G.
		noise := time.Duration(rand.Float64() * 0.25 * float64(base))
		return base + noise
	case JitterDecorrelated:
		return DecorrelatedNext(p, base)
	case JitterNone:
		fallthrough
	default:
		return base
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// Result is returned by Do describing the terminal outcome.
type Result[T any] struct {
	Value    T
	Attempts int
	Err      error
}

// Do runs fn under the retry policy, classifying failures with
// p.ClassifyFn (or corerr.KindOf if nil) and sleeping the computed delay
// between retryable attempts. On exhaustion it returns a
// KindMaxRetriesExceeded error wrapping the last underlying error, per
// §4.G and §7.
func Do[T any](ctx context.Context, p Policy, hint func(error) RateLimitHint, fn func(ctx context.Context, attempt int) (T, error)) Result[T] {
	var zero T
	var lastErr error

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return Result[T]{Value: zero, Attempts: attempt, Err: corerr.Wrap(corerr.KindCancelled, "retry", "attempt-loop", ctx.Err())}
		default:
		}

		val, err := fn(ctx, attempt)
		if err == nil {
			return Result[T]{Value: val, Attempts: attempt + 1}
		}
		lastErr = err

		kind := corerr.KindOf(err)
		if p.ClassifyFn != nil {
			kind = p.ClassifyFn(err)
		}
		if !isRetryableKind(kind) {
			return Result[T]{Value: zero, Attempts: attempt + 1, Err: err}
		}
		if attempt == maxAttempts-1 {
			break
		}

		h := RateLimitHint{}
		if hint != nil {
			h = hint(err)
		}
		delay := Delay(p, attempt, h)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result[T]{Value: zero, Attempts: attempt + 1, Err: corerr.Wrap(corerr.KindCancelled, "retry", "sleep", ctx.Err())}
		case <-timer.C:
		}
	}

	return Result[T]{
		Value:    zero,
		Attempts: maxAttempts,
		Err: corerr.Wrap(corerr.KindMaxRetriesExceeded, "retry", "attempt-loop", lastErr).
			WithSuggestion(corerr.Suggestion{Text: "max retry attempts exhausted"}),
	}
}

func isRetryableKind(k corerr.Kind) bool {
	switch k {
	case corerr.KindNetwork, corerr.KindRateLimit, corerr.KindServerTransient,
		corerr.KindServerOverloaded, corerr.KindTimeout, corerr.KindCircuitOpen:
		return true
	default:
		return false
	}
}

// ClassifyHTTPStatus maps an HTTP status code to a taxonomy Kind, replacing
// the teacher's regex-over-error-string approach (provider.go's
// overflowPatterns) with a direct, typed classification per spec.md §9's
// "string-based error matching" design note.
func ClassifyHTTPStatus(status int) corerr.Kind {
	switch {
	case status == 429:
		return corerr.KindRateLimit
	case status == 529:
		return corerr.KindServerOverloaded
	case status == 408 || status == 500 || status == 502 || status == 503 || status == 504:
		return corerr.KindServerTransient
	case status >= 400 && status < 500:
		return corerr.KindClientError
	default:
		return corerr.KindExecutionFailed
	}
}

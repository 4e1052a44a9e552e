// Package circuit implements the per-endpoint circuit breaker state
// machine of spec.md §4.G. Adapted from the supplementary pack's
// infra.CircuitBreaker (haasonsaas-nexus), generalized to the spec's
// closed/open/half_open vocabulary and wired into the corerr taxonomy
// instead of a bare error sentinel.
package circuit

import (
	"context"
	"sync"
	"time"

	"github.com/agentcore/core/internal/corerr"
	"golang.org/x/time/rate"
)

// State is one of the three circuit states of spec.md §3's Circuit State.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config configures a Breaker.
type Config struct {
	Name             string
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // successes in half_open before closing
	ResetTimeout     time.Duration // time in open before a half_open probe is allowed
	// ProbeLimit bounds how often a half_open probe may be attempted,
	// beyond the bare reset-timeout check — guards against a thundering
	// herd of callers all hitting the reset boundary simultaneously.
	ProbeLimit rate.Limit
	OnStateChange func(from, to State)
}

func (c *Config) setDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.ProbeLimit <= 0 {
		c.ProbeLimit = rate.Every(100 * time.Millisecond)
	}
}

// Stats mirrors §3's Circuit State fields plus running counters retained
// for observability (§4.G "Stats retained").
type Stats struct {
	Name             string
	State            State
	FailureCount     int
	SuccessCount     int
	OpenedAt         time.Time
	Total            uint64
	Successful       uint64
	Failed           uint64
	OpenCount        uint64
	ErrorKindCounts  map[corerr.Kind]uint64
}

// Breaker is a single per-endpoint circuit breaker.
type Breaker struct {
	cfg Config

	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	openedAt        time.Time
	lastStateChange time.Time
	probeLimiter    *rate.Limiter
	halfOpenInFlight bool

	total, successful, failed, openCount uint64
	errorKinds                           map[corerr.Kind]uint64
}

// New creates a Breaker in the closed state.
func New(cfg Config) *Breaker {
	cfg.setDefaults()
	return &Breaker{
		cfg:             cfg,
		state:           StateClosed,
		lastStateChange: time.Now(),
		probeLimiter:    rate.NewLimiter(cfg.ProbeLimit, 1),
		errorKinds:      make(map[corerr.Kind]uint64),
	}
}

// Execute runs fn under circuit-breaker protection. While open (and before
// the reset timeout elapses) it short-circuits with a corerr KindCircuitOpen
// error carrying a RetryAfter suggestion, without invoking fn, per
// invariant 7 of spec.md §8.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	retryAfter, err := b.admit()
	if err != nil {
		return corerr.New(corerr.KindCircuitOpen, "circuit", "circuit breaker open").
			WithSuggestion(corerr.Suggestion{Text: "retry later", RetryAfter: retryAfter})
	}

	err = fn(ctx)
	b.record(err)
	return err
}

// ExecuteWithResult is the generic form for functions producing a value.
func ExecuteWithResult[T any](b *Breaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	retryAfter, err := b.admit()
	if err != nil {
		return zero, corerr.New(corerr.KindCircuitOpen, "circuit", "circuit breaker open").
			WithSuggestion(corerr.Suggestion{Text: "retry later", RetryAfter: retryAfter})
	}

	result, err := fn(ctx)
	b.record(err)
	return result, err
}

// admit decides whether a call may proceed, transitioning open->half_open
// when the reset timeout has elapsed. Returns the remaining wait if denied.
func (b *Breaker) admit() (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return 0, nil
	case StateHalfOpen:
		// Only one probe in flight at a time; additional callers are
		// rejected with circuit_open.
		if b.halfOpenInFlight || !b.probeLimiter.Allow() {
			return 0, corerr.New(corerr.KindCircuitOpen, "circuit", "half-open probe in flight")
		}
		b.halfOpenInFlight = true
		return 0, nil
	case StateOpen:
		elapsed := time.Since(b.lastStateChange)
		if elapsed >= b.cfg.ResetTimeout {
			b.transition(StateHalfOpen)
			b.halfOpenInFlight = true
			return 0, nil
		}
		return b.cfg.ResetTimeout - elapsed, corerr.New(corerr.KindCircuitOpen, "circuit", "open")
	default:
		return 0, nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total++
	if b.state == StateHalfOpen {
		b.halfOpenInFlight = false
	}

	if err != nil {
		b.failed++
		if k := corerr.KindOf(err); k != "" {
			b.errorKinds[k]++
		}
		b.onFailure()
		return
	}
	b.successful++
	b.onSuccess()
}

func (b *Breaker) onFailure() {
	b.failures++
	b.successes = 0

	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.lastStateChange = time.Now()
	b.failures = 0
	b.successes = 0
	if to == StateOpen {
		b.openedAt = b.lastStateChange
		b.openCount++
	}
	if to != StateHalfOpen {
		b.halfOpenInFlight = false
	}
	if b.cfg.OnStateChange != nil {
		go b.cfg.OnStateChange(from, to)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the breaker's counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	kinds := make(map[corerr.Kind]uint64, len(b.errorKinds))
	for k, v := range b.errorKinds {
		kinds[k] = v
	}
	return Stats{
		Name:            b.cfg.Name,
		State:           b.state,
		FailureCount:    b.failures,
		SuccessCount:    b.successes,
		OpenedAt:        b.openedAt,
		Total:           b.total,
		Successful:      b.successful,
		Failed:          b.failed,
		OpenCount:       b.openCount,
		ErrorKindCounts: kinds,
	}
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.halfOpenInFlight = false
	b.lastStateChange = time.Now()
}

// Registry manages one Breaker per named endpoint, mirroring the
// supplementary pack's CircuitBreakerRegistry.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults Config
}

// NewRegistry creates an empty registry applying defaults to breakers
// created via Get.
func NewRegistry(defaults Config) *Registry {
	defaults.setDefaults()
	return &Registry{breakers: make(map[string]*Breaker), defaults: defaults}
}

// Get returns the named breaker, creating it with the registry's defaults
// on first access.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	cfg := r.defaults
	cfg.Name = name
	b = New(cfg)
	r.breakers[name] = b
	return b
}

// OpenBreakers returns the names of all currently open breakers.
func (r *Registry) OpenBreakers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var open []string
	for name, b := range r.breakers {
		if b.State() == StateOpen {
			open = append(open, name)
		}
	}
	return open
}

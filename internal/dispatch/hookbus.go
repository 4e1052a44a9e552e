package dispatch

import "sync"

// HookEvent is the payload delivered to pre/post invocation hooks, per
// spec.md §4.D steps 4 and 6.
type HookEvent struct {
	Phase  string // "pre" or "post"
	Tool   string
	Input  map[string]any
	Result map[string]any // populated for "post" only
	Err    error           // populated for "post" when the tool failed
}

// HookFunc observes a dispatch phase; its error never aborts dispatch,
// per §4.D. Fire returns the errors, and the Harness discards them
// without logging.
type HookFunc func(HookEvent) error

// HookBus is a small pub/sub used by the harness to fire tool:pre and
// tool:post notifications. Grounded on the teacher's OnQuestion-style
// single-callback hooks, generalized into a multi-subscriber bus since
// the spec calls for an observable "bus" rather than one fixed callback.
type HookBus struct {
	mu   sync.RWMutex
	subs []HookFunc
}

// NewHookBus constructs an empty bus.
func NewHookBus() *HookBus { return &HookBus{} }

// Subscribe registers fn to be called for every fired event.
func (b *HookBus) Subscribe(fn HookFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

// Fire invokes every subscriber with ev, collecting (not propagating)
// errors; callers should log the returned errors rather than abort.
func (b *HookBus) Fire(ev HookEvent) []error {
	b.mu.RLock()
	subs := append([]HookFunc(nil), b.subs...)
	b.mu.RUnlock()

	var errs []error
	for _, fn := range subs {
		if err := fn(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

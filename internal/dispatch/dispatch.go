// Package dispatch implements the Tool Dispatch Harness of spec.md §4.D:
// the single pipeline every tool invocation passes through — resolve,
// validate, permit, pre-hook, invoke, post-hook, format-result. Grounded
// on Dhanuzh-dcode's ToolDef.Execute call sites in internal/session, with
// the permission/hook/phase-error machinery spec.md requires layered on
// top of that shape.
package dispatch

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/agentcore/core/internal/corerr"
	"github.com/agentcore/core/internal/permission"
	"github.com/agentcore/core/internal/registry"
)

// EventKind tags the values a single dispatch yields on its event
// channel.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventResult   EventKind = "result"
	EventError    EventKind = "error"
)

// Event is one value yielded by Dispatch.
type Event struct {
	Kind     EventKind
	Progress map[string]any
	Result   *registry.Result
	Err      *corerr.Error
}

// Call is one tool invocation request.
type Call struct {
	ToolName string
	Input    map[string]any
}

// Harness wires the registry, permission gate, and hook bus into the
// 7-phase pipeline of spec.md §4.D.
type Harness struct {
	registry *registry.Registry
	gate     *permission.Gate
	hooks    *HookBus

	// HasUser reports whether a human is present to resolve an `ask`
	// decision; when false, ask is treated as permission_denied, per §4.D
	// step 3.
	HasUser func() bool

	mu       sync.Mutex
	resource map[string]*sync.Mutex // one lock per conflict key, created on first use
}

// New builds a Harness. hasUser may be nil, meaning no user is ever
// present (every `ask` resolves to denial).
func New(reg *registry.Registry, gate *permission.Gate, hooks *HookBus, hasUser func() bool) *Harness {
	if hasUser == nil {
		hasUser = func() bool { return false }
	}
	return &Harness{
		registry: reg,
		gate:     gate,
		hooks:    hooks,
		HasUser:  hasUser,
		resource: make(map[string]*sync.Mutex),
	}
}

// Dispatch runs call through the full pipeline, streaming progress events
// and exactly one terminal result or error event, per §4.D step 5's
// forwarding requirement.
func (h *Harness) Dispatch(ctx context.Context, ec registry.ExecContext, call Call, state permission.AppState) <-chan Event {
	out := make(chan Event, 8)

	go func() {
		defer close(out)

		// Phase 1: resolve.
		def, enabled, err := h.registry.Resolve(call.ToolName)
		if err != nil {
			out <- errEvent(corerr.Wrap(corerr.KindToolNotFound, "dispatch", "resolve", err).WithTool(call.ToolName))
			return
		}
		if !enabled {
			out <- errEvent(corerr.New(corerr.KindToolNotFound, "dispatch", "tool is disabled").WithTool(call.ToolName).WithPhase("resolve"))
			return
		}

		// Phase 2: validate.
		input := call.Input
		if def.Validate != nil {
			if violations := def.Validate(input); len(violations) > 0 {
				out <- errEvent(validationError(call.ToolName, violations))
				return
			}
		}

		// Phase 3: permission check. A tool's own CheckPermissions gets
		// first say (e.g. a tool that is always safe regardless of policy);
		// absent an override, the shared gate of §4.C decides.
		overridden := false
		if def.CheckPermissions != nil {
			if override, allow, reason := def.CheckPermissions(ec, input); override {
				if !allow {
					out <- errEvent(corerr.New(corerr.KindPermissionDenied, "dispatch", reason).WithTool(call.ToolName).WithPhase("permission").WithInput(input))
					return
				}
				overridden = true
			}
		}

		if !overridden {
			decision := h.gate.Check(call.ToolName, input, state)
			switch decision.Outcome {
			case permission.OutcomeDeny:
				out <- errEvent(corerr.New(corerr.KindPermissionDenied, "dispatch", decision.Reason).WithTool(call.ToolName).WithPhase("permission").WithInput(input))
				return
			case permission.OutcomeAsk:
				if !h.HasUser() {
					out <- errEvent(corerr.New(corerr.KindPermissionDenied, "dispatch", "no user present to resolve ask").WithTool(call.ToolName).WithPhase("permission").WithInput(input))
					return
				}
			case permission.OutcomeAllowUpdate:
				input = decision.UpdatedInput
				if def.Validate != nil {
					if violations := def.Validate(input); len(violations) > 0 {
						out <- errEvent(validationError(call.ToolName, violations))
						return
					}
				}
			}
		}

		// Phase 4: pre-invocation hook.
		if h.hooks != nil {
			h.hooks.Fire(HookEvent{Phase: "pre", Tool: call.ToolName, Input: input})
		}

		if def.ConflictKey != nil {
			key := def.ConflictKey(input)
			if key != "" {
				h.lockConflict(key)
				defer h.unlockConflict(key)
			}
		}

		// Phase 5: invoke, forwarding progress and capturing the terminal
		// result.
		var result *registry.Result
		var invokeErr error
		if def.Invoke == nil {
			invokeErr = corerr.New(corerr.KindExecutionFailed, "dispatch", "tool has no invoke operation").WithTool(call.ToolName)
		} else {
			events := def.Invoke(ctx, ec, input)
			for ev := range events {
				if ev.Progress != nil {
					out <- Event{Kind: EventProgress, Progress: ev.Progress.Data}
				}
				if ev.Err != nil {
					invokeErr = ev.Err
				}
				if ev.Result != nil {
					result = ev.Result
				}
			}
		}

		// Phase 6: post-invocation hook.
		if h.hooks != nil {
			var resultMap map[string]any
			if result != nil {
				resultMap = map[string]any{"output": result.Output, "isError": result.IsError}
			}
			h.hooks.Fire(HookEvent{Phase: "post", Tool: call.ToolName, Input: input, Result: resultMap, Err: invokeErr})
		}

		if invokeErr != nil {
			out <- errEvent(corerr.Wrap(corerr.KindExecutionFailed, "dispatch", "invoke", invokeErr).WithTool(call.ToolName).WithInput(input))
			return
		}
		if result == nil {
			out <- errEvent(corerr.New(corerr.KindExecutionFailed, "dispatch", "tool produced no result").WithTool(call.ToolName))
			return
		}

		// Phase 7: format result.
		if def.FormatResult != nil {
			_ = def.FormatResult(result) // embedding into a tool_result block is the agent loop's concern
		}

		out <- Event{Kind: EventResult, Result: result}
	}()

	return out
}

// DispatchMany runs a batch of calls, honoring each tool's
// ConcurrencySafe declaration: tools that are all concurrency-safe run in
// parallel via a bounded pool; any non-safe tool in the batch forces the
// whole batch to run sequentially, per spec.md §4.D.
func (h *Harness) DispatchMany(ctx context.Context, ec registry.ExecContext, calls []Call, state permission.AppState) []Event {
	allSafe := true
	for _, c := range calls {
		if def, _, err := h.registry.Resolve(c.ToolName); err != nil || !def.ConcurrencySafe {
			allSafe = false
			break
		}
	}

	results := make([]Event, len(calls))

	if !allSafe {
		for i, c := range calls {
			results[i] = lastTerminal(h.Dispatch(ctx, ec, c, state))
		}
		return results
	}

	p := pool.New().WithMaxGoroutines(8)
	for i, c := range calls {
		i, c := i, c
		p.Go(func() {
			results[i] = lastTerminal(h.Dispatch(ctx, ec, c, state))
		})
	}
	p.Wait()
	return results
}

func lastTerminal(events <-chan Event) Event {
	var last Event
	for ev := range events {
		if ev.Kind == EventResult || ev.Kind == EventError {
			last = ev
		}
	}
	return last
}

func errEvent(err *corerr.Error) Event {
	return Event{Kind: EventError, Err: err}
}

func validationError(tool string, violations []registry.Violation) *corerr.Error {
	msg := "invalid parameters"
	if len(violations) > 0 {
		msg = violations[0].Message
	}
	data := make(map[string]any, len(violations))
	for _, v := range violations {
		data[v.Field] = v.Message
	}
	return corerr.New(corerr.KindInvalidParameters, "dispatch", msg).WithTool(tool).WithPhase("validate").WithInput(data)
}

// lockConflict blocks until the named resource's lock is free, then
// holds it; unlockConflict releases it. Using a per-key *sync.Mutex
// (rather than a busy-polled map membership check) lets a waiter block
// without spinning.
func (h *Harness) lockConflict(key string) {
	h.mu.Lock()
	lock, ok := h.resource[key]
	if !ok {
		lock = &sync.Mutex{}
		h.resource[key] = lock
	}
	h.mu.Unlock()
	lock.Lock()
}

func (h *Harness) unlockConflict(key string) {
	h.mu.Lock()
	lock := h.resource[key]
	h.mu.Unlock()
	if lock != nil {
		lock.Unlock()
	}
}

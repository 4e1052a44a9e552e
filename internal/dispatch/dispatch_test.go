package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentcore/core/internal/permission"
	"github.com/agentcore/core/internal/registry"
)

type fakeState struct{}

func (fakeState) InputSubstitution(string, map[string]any) (map[string]any, bool) { return nil, false }

func echoDef(name string, concurrencySafe bool) *registry.Def {
	return &registry.Def{
		Name:            name,
		ConcurrencySafe: concurrencySafe,
		Invoke: func(ctx context.Context, ec registry.ExecContext, input map[string]any) <-chan registry.InvokeEvent {
			ch := make(chan registry.InvokeEvent, 2)
			go func() {
				defer close(ch)
				ch <- registry.InvokeEvent{Progress: &registry.ProgressEvent{Data: map[string]any{"step": 1}}}
				ch <- registry.InvokeEvent{Result: &registry.Result{Output: input["text"].(string)}}
			}()
			return ch
		},
	}
}

func newTestHarness(t *testing.T, hasUser bool) *Harness {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(echoDef("echo", true), "test"))
	require.NoError(t, reg.Register(echoDef("echo_unsafe", false), "test"))

	cfg := permission.DefaultConfig("/tmp/project")
	cfg.DefaultMode = permission.ModeAllow
	gate, err := permission.New(cfg, nil)
	require.NoError(t, err)

	return New(reg, gate, NewHookBus(), func() bool { return hasUser })
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestDispatchHappyPath(t *testing.T) {
	h := newTestHarness(t, false)
	events := drain(h.Dispatch(context.Background(), registry.ExecContext{}, Call{ToolName: "echo", Input: map[string]any{"text": "hi"}}, fakeState{}))

	require.Len(t, events, 2)
	require.Equal(t, EventProgress, events[0].Kind)
	require.Equal(t, EventResult, events[1].Kind)
	require.Equal(t, "hi", events[1].Result.Output)
}

func TestDispatchUnknownToolIsToolNotFound(t *testing.T) {
	h := newTestHarness(t, false)
	events := drain(h.Dispatch(context.Background(), registry.ExecContext{}, Call{ToolName: "nope"}, fakeState{}))
	require.Len(t, events, 1)
	require.Equal(t, EventError, events[0].Kind)
	require.Equal(t, "tool_not_found", string(events[0].Err.Kind))
}

func TestDispatchValidationFailureShortCircuits(t *testing.T) {
	reg := registry.New()
	def := echoDef("echo", true)
	def.Validate = func(input map[string]any) []registry.Violation {
		return []registry.Violation{{Field: "text", Message: "required"}}
	}
	require.NoError(t, reg.Register(def, "test"))

	cfg := permission.DefaultConfig("/tmp/project")
	gate, err := permission.New(cfg, nil)
	require.NoError(t, err)

	h := New(reg, gate, NewHookBus(), nil)
	events := drain(h.Dispatch(context.Background(), registry.ExecContext{}, Call{ToolName: "echo"}, fakeState{}))
	require.Len(t, events, 1)
	require.Equal(t, "invalid_parameters", string(events[0].Err.Kind))
}

func TestDispatchAskWithoutUserIsPermissionDenied(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(echoDef("echo", true), "test"))

	cfg := permission.DefaultConfig("/tmp/project")
	cfg.DefaultMode = permission.ModeAsk
	gate, err := permission.New(cfg, nil)
	require.NoError(t, err)

	h := New(reg, gate, NewHookBus(), func() bool { return false })
	events := drain(h.Dispatch(context.Background(), registry.ExecContext{}, Call{ToolName: "echo", Input: map[string]any{"text": "hi"}}, fakeState{}))
	require.Len(t, events, 1)
	require.Equal(t, "permission_denied", string(events[0].Err.Kind))
}

func TestDispatchManyRunsSafeToolsConcurrently(t *testing.T) {
	h := newTestHarness(t, false)
	calls := []Call{
		{ToolName: "echo", Input: map[string]any{"text": "a"}},
		{ToolName: "echo", Input: map[string]any{"text": "b"}},
	}
	results := h.DispatchMany(context.Background(), registry.ExecContext{}, calls, fakeState{})
	require.Len(t, results, 2)
	require.Equal(t, "a", results[0].Result.Output)
	require.Equal(t, "b", results[1].Result.Output)
}

func TestDispatchManyForcesSequentialWhenAnyToolUnsafe(t *testing.T) {
	h := newTestHarness(t, false)
	calls := []Call{
		{ToolName: "echo", Input: map[string]any{"text": "a"}},
		{ToolName: "echo_unsafe", Input: map[string]any{"text": "b"}},
	}
	results := h.DispatchMany(context.Background(), registry.ExecContext{}, calls, fakeState{})
	require.Len(t, results, 2)
	require.Equal(t, "a", results[0].Result.Output)
	require.Equal(t, "b", results[1].Result.Output)
}

package agentloop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentcore/core/internal/compactor"
	"github.com/agentcore/core/internal/conversation"
	"github.com/agentcore/core/internal/corerr"
	"github.com/agentcore/core/internal/dispatch"
	"github.com/agentcore/core/internal/permission"
	"github.com/agentcore/core/internal/registry"
	"github.com/agentcore/core/internal/stream"
)

type fakeState struct{}

func (fakeState) InputSubstitution(string, map[string]any) (map[string]any, bool) { return nil, false }

type fakeSink struct {
	deltas   []string
	complete int
}

func (s *fakeSink) TextDelta(text string)                          { s.deltas = append(s.deltas, text) }
func (s *fakeSink) ToolProgress(toolUseID string, data map[string]any) {}
func (s *fakeSink) TurnComplete()                                  { s.complete++ }

// scriptedModel replays a fixed sequence of turns; each call to Stream pops
// the next scripted turn's events.
type scriptedModel struct {
	turns [][]stream.Event
	calls int
}

func (m *scriptedModel) Stream(ctx context.Context, req ModelRequest) <-chan stream.Event {
	out := make(chan stream.Event, 16)
	turn := m.turns[m.calls]
	m.calls++
	go func() {
		defer close(out)
		for _, ev := range turn {
			out <- ev
		}
	}()
	return out
}

func textOnlyTurn(text string) []stream.Event {
	return []stream.Event{
		{Type: stream.EventTextDelta, Text: text},
		{Type: stream.EventMessageStop, FinalContent: []stream.Block{{Type: "text", Text: text}}},
	}
}

func toolUseTurn(id, name string, input map[string]any) []stream.Event {
	return []stream.Event{
		{Type: stream.EventMessageStop, FinalContent: []stream.Block{{Type: "tool_use", ToolUseID: id, ToolName: name, ToolInput: input}}},
	}
}

func echoDef(name string) *registry.Def {
	return &registry.Def{
		Name:            name,
		ConcurrencySafe: true,
		Invoke: func(ctx context.Context, ec registry.ExecContext, input map[string]any) <-chan registry.InvokeEvent {
			ch := make(chan registry.InvokeEvent, 1)
			go func() {
				defer close(ch)
				ch <- registry.InvokeEvent{Result: &registry.Result{Output: "ok"}}
			}()
			return ch
		},
	}
}

func newTestHarness(t *testing.T) *dispatch.Harness {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(echoDef("echo"), "test"))

	cfg := permission.DefaultConfig("/tmp/project")
	cfg.DefaultMode = permission.ModeAllow
	gate, err := permission.New(cfg, nil)
	require.NoError(t, err)

	return dispatch.New(reg, gate, dispatch.NewHookBus(), nil)
}

func TestRunTurnTextOnlyCompletesImmediately(t *testing.T) {
	conv := conversation.New("test-model")
	model := &scriptedModel{turns: [][]stream.Event{textOnlyTurn("hello there")}}
	sink := &fakeSink{}
	loop := New(conv, model, newTestHarness(t), compactor.DefaultConfig(), sink)

	err := loop.RunTurn(context.Background(), "hi", registry.ExecContext{}, fakeState{}, nil, "test-model")
	require.NoError(t, err)
	require.Equal(t, 1, sink.complete)
	require.Equal(t, conversation.StateIdle, conv.State())
	require.Equal(t, []string{"hello there"}, sink.deltas)

	msgs := conv.Messages()
	require.Len(t, msgs, 2) // user + assistant
	require.Equal(t, conversation.RoleAssistant, msgs[1].Role)
}

func TestRunTurnDispatchesToolUseThenCompletes(t *testing.T) {
	conv := conversation.New("test-model")
	model := &scriptedModel{turns: [][]stream.Event{
		toolUseTurn("tu_1", "echo", map[string]any{"text": "x"}),
		textOnlyTurn("done"),
	}}
	sink := &fakeSink{}
	loop := New(conv, model, newTestHarness(t), compactor.DefaultConfig(), sink)

	err := loop.RunTurn(context.Background(), "run echo", registry.ExecContext{}, fakeState{}, nil, "test-model")
	require.NoError(t, err)
	require.Equal(t, 1, sink.complete)

	statuses := loop.ToolCallStatuses()
	require.Equal(t, StatusResolved, statuses["tu_1"])

	msgs := conv.Messages()
	// user, assistant(tool_use), user(tool_result), assistant(text)
	require.Len(t, msgs, 4)
	require.Equal(t, conversation.BlockToolResult, msgs[2].Content[0].Type)
	require.False(t, msgs[2].Content[0].IsError)
}

func TestRunTurnCancellationMarksInProgressErrored(t *testing.T) {
	conv := conversation.New("test-model")
	model := &scriptedModel{turns: [][]stream.Event{textOnlyTurn("irrelevant")}}
	sink := &fakeSink{}
	loop := New(conv, model, newTestHarness(t), compactor.DefaultConfig(), sink)
	loop.inProgress["tu_stuck"] = StatusInProgress

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := loop.RunTurn(ctx, "hi", registry.ExecContext{}, fakeState{}, nil, "test-model")
	require.Error(t, err)
	require.Equal(t, corerr.KindCancelled, corerr.KindOf(err))
	require.Equal(t, StatusErrored, loop.ToolCallStatuses()["tu_stuck"])
}

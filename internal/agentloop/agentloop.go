// Package agentloop implements the top-level agent loop of spec.md §4.J:
// user-turn → model-stream → tool-dispatch → model-stream, feeding the
// streaming engine, the dispatch harness, and the conversation store.
// Grounded on Dhanuzh-dcode's internal/session/prompt.go Run method,
// which drives the same user→model→tool cycle but without the explicit
// tool-call reconciliation sets or the streaming-engine abstraction this
// spec requires.
package agentloop

import (
	"context"
	"sync"

	"github.com/agentcore/core/internal/compactor"
	"github.com/agentcore/core/internal/conversation"
	"github.com/agentcore/core/internal/corerr"
	"github.com/agentcore/core/internal/dispatch"
	"github.com/agentcore/core/internal/permission"
	"github.com/agentcore/core/internal/registry"
	"github.com/agentcore/core/internal/stream"
)

// ToolCallStatus is the per-turn reconciliation state of one tool_use id,
// per §4.J's "every tool_use id must end in exactly one terminal set" rule.
type ToolCallStatus string

const (
	StatusInProgress ToolCallStatus = "in_progress"
	StatusResolved   ToolCallStatus = "resolved"
	StatusErrored    ToolCallStatus = "errored"
)

// ModelClient issues the streaming model call of §4.F; the loop depends
// only on this narrow interface so providers remain swappable.
type ModelClient interface {
	Stream(ctx context.Context, req ModelRequest) <-chan stream.Event
}

// ModelRequest bundles the parameters a streaming call needs.
type ModelRequest struct {
	Messages []conversation.Message
	Model    string
	Tools    []registry.Description
}

// Sink receives UI-facing events as the loop progresses: text deltas,
// tool progress, and turn completion.
type Sink interface {
	TextDelta(text string)
	ToolProgress(toolUseID string, data map[string]any)
	TurnComplete()
}

// StepTokens is the token/cost accounting for one model-stream step,
// attached to the loop after every Stream call completes so callers (the
// serve command's structured log output, in particular) can report
// per-turn spend without re-deriving it from the raw event stream.
type StepTokens struct {
	InputTokens      int
	OutputTokens     int
	EstimatedCostUSD float64
}

// Loop coordinates one conversation's turns, wiring together the
// conversation store (§4.H), the microcompactor (§4.I), the streaming
// engine (§4.F), and the dispatch harness (§4.D).
type Loop struct {
	Conv       *conversation.Conversation
	Model      ModelClient
	Dispatch   *dispatch.Harness
	Compaction compactor.Config
	Sink       Sink

	// ProviderName selects the pricing row EstimateCost looks up; left
	// empty, LastStepTokens.EstimatedCostUSD stays zero.
	ProviderName string

	// TitleHook, when set, runs once after the first turn that leaves the
	// conversation without a title, receiving the user input and the
	// assistant's final text. Ambient UX sugar — nil by default, so
	// headless/server callers opt in explicitly.
	TitleHook func(userInput, assistantText string)

	mu             sync.Mutex
	inProgress     map[string]ToolCallStatus
	LastStepTokens StepTokens
}

// New constructs a Loop over an existing conversation.
func New(conv *conversation.Conversation, model ModelClient, harness *dispatch.Harness, compaction compactor.Config, sink Sink) *Loop {
	return &Loop{
		Conv:       conv,
		Model:      model,
		Dispatch:   harness,
		Compaction: compaction,
		Sink:       sink,
		inProgress: make(map[string]ToolCallStatus),
	}
}

// RunTurn executes one full turn of §4.J's 5-step iteration, looping
// through the tool cycle until the assistant produces a turn with no
// tool_use blocks, or ctx is cancelled.
func (l *Loop) RunTurn(ctx context.Context, userInput string, ec registry.ExecContext, state permission.AppState, tools []registry.Description, model string) error {
	if err := l.Conv.SetState(conversation.StateWaiting); err != nil {
		return err
	}
	if err := l.Conv.SetState(conversation.StateProcessing); err != nil {
		return err
	}

	// Step 1: append the user message.
	if _, err := l.Conv.AddMessage(conversation.RoleUser, []conversation.ContentBlock{conversation.TextBlock(userInput)}, nil); err != nil {
		return err
	}

	for {
		// Step 2: compact if over threshold.
		result := compactor.Compact(l.Compaction, l.Conv.Messages())
		if result.Compacted {
			l.Conv.Replace(result.Messages)
		}

		select {
		case <-ctx.Done():
			return l.handleCancellation(nil)
		default:
		}

		// Step 3: begin the streaming model call.
		if err := l.Conv.SetState(conversation.StateStreaming); err != nil {
			return err
		}
		events := l.Model.Stream(ctx, ModelRequest{Messages: l.Conv.Messages(), Model: model, Tools: tools})

		assistantBlocks, usage, cancelled, streamErr := l.consumeStream(ctx, events)
		if streamErr != nil {
			_ = l.Conv.SetState(conversation.StateError)
			return streamErr
		}
		if cancelled {
			return l.handleCancellation(assistantBlocks)
		}
		l.recordUsage(usage)

		if len(assistantBlocks) > 0 {
			if _, err := l.Conv.AddMessage(conversation.RoleAssistant, assistantBlocks, nil); err != nil {
				return err
			}
		}

		toolUses := filterToolUse(assistantBlocks)
		if len(toolUses) == 0 {
			// Step 5: turn complete.
			if err := l.Conv.SetState(conversation.StateIdle); err != nil {
				return err
			}
			l.Sink.TurnComplete()
			l.maybeGenerateTitle(userInput, assistantBlocks)
			return nil
		}

		// Step 4 continued: dispatch every tool_use, respecting
		// concurrency safety, and reconcile ids into resolved/errored.
		resultBlocks := l.dispatchToolUses(ctx, ec, state, toolUses)

		if _, err := l.Conv.AddMessage(conversation.RoleUser, resultBlocks, nil); err != nil {
			return err
		}
		// loop back to step 3.
	}
}

func (l *Loop) consumeStream(ctx context.Context, events <-chan stream.Event) (blocks []conversation.ContentBlock, usage stream.Usage, cancelled bool, err error) {
	for ev := range events {
		switch ev.Type {
		case stream.EventTextDelta:
			l.Sink.TextDelta(ev.Text)
		case stream.EventCancelled:
			cancelled = true
		case stream.EventError:
			err = corerr.Wrap(corerr.KindNetwork, "agentloop", "model_stream", ev.Err)
		case stream.EventMessageStop:
			blocks = blocksFromStream(ev.FinalContent)
			usage = ev.Usage
		}
	}
	return blocks, usage, cancelled, err
}

// recordUsage attaches this step's token counts and estimated cost to the
// loop, grounded on Dhanuzh-dcode's session/prompt.go calculateCost.
func (l *Loop) recordUsage(usage stream.Usage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.LastStepTokens = StepTokens{
		InputTokens:      usage.InputTokens,
		OutputTokens:     usage.OutputTokens,
		EstimatedCostUSD: EstimateCost(l.ProviderName, usage.InputTokens, usage.OutputTokens),
	}
}

// maybeGenerateTitle runs TitleHook once, the first time a turn completes
// on a still-untitled conversation, mirroring Dhanuzh-dcode's
// session/prompt.go generateTitle without its goroutine/store coupling —
// callers that want the original's "don't block the main flow" behavior
// run the hook itself in a goroutine.
func (l *Loop) maybeGenerateTitle(userInput string, assistantBlocks []conversation.ContentBlock) {
	if l.TitleHook == nil || l.Conv.Title() != "" {
		return
	}
	l.TitleHook(userInput, textOf(assistantBlocks))
}

func textOf(blocks []conversation.ContentBlock) string {
	var out []string
	for _, b := range blocks {
		if b.Type == conversation.BlockText && b.Text != "" {
			out = append(out, b.Text)
		}
	}
	return joinLines(out)
}

func joinLines(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n"
		}
		out += p
	}
	return out
}

// pricePerMillion holds approximate per-million-token pricing (input,
// output), grounded on Dhanuzh-dcode's session/prompt.go calculateCost
// table.
var pricePerMillion = map[string][2]float64{
	"anthropic":  {3.0, 15.0},
	"openai":     {2.0, 8.0},
	"google":     {0.15, 0.60},
	"copilot":    {0.0, 0.0},
	"groq":       {0.59, 0.79},
	"openrouter": {3.0, 15.0},
	"deepseek":   {0.14, 0.28},
	"mistral":    {2.0, 6.0},
	"xai":        {2.0, 10.0},
}

// EstimateCost approximates a step's USD cost from token counts and the
// provider's per-million-token pricing. Unknown providers cost 0 rather
// than erroring, since this feeds best-effort log output, not billing.
func EstimateCost(providerName string, inputTokens, outputTokens int) float64 {
	price, ok := pricePerMillion[providerName]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1_000_000*price[0] + float64(outputTokens)/1_000_000*price[1]
}

func blocksFromStream(final []stream.Block) []conversation.ContentBlock {
	out := make([]conversation.ContentBlock, 0, len(final))
	for _, b := range final {
		switch b.Type {
		case "text":
			out = append(out, conversation.TextBlock(b.Text))
		case "tool_use":
			out = append(out, conversation.ToolUseBlock(b.ToolUseID, b.ToolName, b.ToolInput))
		}
	}
	return out
}

func filterToolUse(blocks []conversation.ContentBlock) []conversation.ContentBlock {
	var out []conversation.ContentBlock
	for _, b := range blocks {
		if b.Type == conversation.BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// dispatchToolUses runs every tool_use block through the harness,
// concurrently when every involved tool is concurrency-safe (delegated
// to dispatch.Harness.DispatchMany), and reconciles each id into the
// resolved or errored set, per §4.J's tool-call reconciliation.
func (l *Loop) dispatchToolUses(ctx context.Context, ec registry.ExecContext, state permission.AppState, toolUses []conversation.ContentBlock) []conversation.ContentBlock {
	l.mu.Lock()
	for _, tu := range toolUses {
		l.inProgress[tu.ToolUseID] = StatusInProgress
	}
	l.mu.Unlock()

	calls := make([]dispatch.Call, len(toolUses))
	for i, tu := range toolUses {
		calls[i] = dispatch.Call{ToolName: tu.ToolName, Input: tu.ToolInput}
	}

	events := l.Dispatch.DispatchMany(ctx, ec, calls, state)

	results := make([]conversation.ContentBlock, len(toolUses))
	l.mu.Lock()
	for i, tu := range toolUses {
		ev := events[i]
		if ev.Kind == dispatch.EventResult {
			results[i] = conversation.ToolResultBlock(tu.ToolUseID, ev.Result.Output, ev.Result.IsError)
			l.inProgress[tu.ToolUseID] = StatusResolved
		} else {
			msg := "tool invocation failed"
			if ev.Err != nil {
				msg = ev.Err.Error()
			}
			results[i] = conversation.ToolResultBlock(tu.ToolUseID, msg, true)
			l.inProgress[tu.ToolUseID] = StatusErrored
		}
	}
	l.mu.Unlock()

	return results
}

// handleCancellation appends whatever partial assistant content exists
// with a cancelled marker and moves any tool calls still in progress into
// the errored set, per §4.J's cancellation rule: a user cancel during
// steps 3/4 trips the stream token and all in-flight tool cancellations,
// and the partial assistant message is still appended with a cancelled
// marker.
func (l *Loop) handleCancellation(partial []conversation.ContentBlock) error {
	l.mu.Lock()
	for id, status := range l.inProgress {
		if status == StatusInProgress {
			l.inProgress[id] = StatusErrored
		}
	}
	l.mu.Unlock()

	if len(partial) > 0 {
		if _, err := l.Conv.AddMessage(conversation.RoleAssistant, partial, map[string]any{"cancelled": true}); err != nil {
			return err
		}
	}
	// Error then Idle is always a legal two-step path regardless of which
	// state cancellation interrupted (Processing or Streaming).
	_ = l.Conv.SetState(conversation.StateError)
	_ = l.Conv.SetState(conversation.StateIdle)
	return corerr.New(corerr.KindCancelled, "agentloop", "turn cancelled")
}

// ToolCallStatuses returns a snapshot of the current turn's reconciliation
// table, for diagnostics and tests.
func (l *Loop) ToolCallStatuses() map[string]ToolCallStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]ToolCallStatus, len(l.inProgress))
	for k, v := range l.inProgress {
		out[k] = v
	}
	return out
}

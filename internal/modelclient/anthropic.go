// Package modelclient adapts internal/provider's callback-based
// Provider interface onto internal/agentloop's channel-based
// ModelClient, so the agent loop's Stream call can be served by any of
// the teacher's provider backends without the loop knowing about HTTP,
// SSE framing, or per-vendor wire formats. Grounded on
// Dhanuzh-dcode/internal/provider/anthropic.go's StreamMessage
// callback shape, bridged into internal/stream's event vocabulary.
package modelclient

import (
	"context"
	"encoding/base64"

	"github.com/agentcore/core/internal/agentloop"
	"github.com/agentcore/core/internal/conversation"
	"github.com/agentcore/core/internal/corerr"
	"github.com/agentcore/core/internal/provider"
	"github.com/agentcore/core/internal/registry"
	"github.com/agentcore/core/internal/stream"
)

// Adapter wraps a provider.Provider, translating its StreamMessage
// callback stream into a channel of stream.Event values. It satisfies
// agentloop.ModelClient.
type Adapter struct {
	Provider  provider.Provider
	MaxTokens int
	System    string
}

// New constructs an Adapter over p, defaulting MaxTokens to 8192 when
// unset.
func New(p provider.Provider, maxTokens int, system string) *Adapter {
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	return &Adapter{Provider: p, MaxTokens: maxTokens, System: system}
}

// Stream satisfies agentloop.ModelClient: it runs req against the
// wrapped provider and emits stream.Event values as the provider's
// StreamMessage callback fires, closing the channel once the provider
// call returns.
func (a *Adapter) Stream(ctx context.Context, req agentloop.ModelRequest) <-chan stream.Event {
	out := make(chan stream.Event, 32)
	go a.run(ctx, req, out)
	return out
}

func (a *Adapter) run(ctx context.Context, req agentloop.ModelRequest, out chan<- stream.Event) {
	defer close(out)

	pr := &provider.MessageRequest{
		Model:     req.Model,
		Messages:  toProviderMessages(req.Messages),
		MaxTokens: a.MaxTokens,
		System:    a.System,
		Tools:     toProviderTools(req.Tools),
		Stream:    true,
	}

	acc := newAccumulator()
	var usage stream.Usage

	err := a.Provider.StreamMessage(ctx, pr, func(chunk *provider.StreamChunk) error {
		if chunk.Type == "message_start" && chunk.Message != nil {
			usage = stream.Usage{InputTokens: chunk.Message.Usage.InputTokens, OutputTokens: chunk.Message.Usage.OutputTokens}
		}
		for _, ev := range acc.absorb(chunk) {
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	if ctx.Err() != nil {
		out <- stream.Event{Type: stream.EventCancelled}
		return
	}
	if err != nil {
		out <- stream.Event{Type: stream.EventError, Err: corerr.Wrap(corerr.KindNetwork, "modelclient", "stream", err)}
		return
	}

	out <- stream.Event{Type: stream.EventMessageStop, FinalContent: acc.finalBlocks(), Usage: usage}
}

// accumulator rebuilds finalized stream.Block values from the
// provider's content_block_start/delta/stop-free chunk sequence (the
// teacher's Anthropic adapter never emits content_block_stop, so
// finalization happens once at message_stop instead).
type accumulator struct {
	blocks []stream.Block
	index  map[int]int // chunk Index -> blocks slice position
}

func newAccumulator() *accumulator {
	return &accumulator{index: make(map[int]int)}
}

func (a *accumulator) absorb(chunk *provider.StreamChunk) []stream.Event {
	switch chunk.Type {
	case "content_block_start":
		if chunk.ContentBlock == nil {
			return nil
		}
		b := stream.Block{Index: chunk.Index, Type: chunk.ContentBlock.Type}
		if chunk.ContentBlock.Type == "tool_use" {
			b.ToolUseID = chunk.ContentBlock.ID
			b.ToolName = chunk.ContentBlock.Name
			b.ToolInput = chunk.ContentBlock.Input
		}
		a.index[chunk.Index] = len(a.blocks)
		a.blocks = append(a.blocks, b)
		return []stream.Event{{Type: stream.EventBlockStart, Index: chunk.Index, Block: &b}}

	case "content_block_delta":
		if chunk.Delta == nil {
			return nil
		}
		pos, ok := a.index[chunk.Index]
		if !ok {
			return nil
		}
		switch chunk.Delta.Type {
		case "text_delta":
			a.blocks[pos].Text += chunk.Delta.Text
			return []stream.Event{{Type: stream.EventTextDelta, Index: chunk.Index, Text: chunk.Delta.Text}}
		case "input_json_delta":
			mergeInput(&a.blocks[pos], chunk.Delta)
			return []stream.Event{{Type: stream.EventJSONDelta, Index: chunk.Index, Partial: chunk.Delta.PartialJSON}}
		}

	case "message_start":
		if chunk.Message != nil {
			return []stream.Event{{
				Type:  stream.EventMessageStart,
				Usage: stream.Usage{InputTokens: chunk.Message.Usage.InputTokens, OutputTokens: chunk.Message.Usage.OutputTokens},
			}}
		}
	}
	return nil
}

// mergeInput merges a streamed tool_use argument delta into the block's
// ToolInput.
func mergeInput(b *stream.Block, delta *provider.Delta) {
	if delta.Input == nil {
		return
	}
	if b.ToolInput == nil {
		b.ToolInput = make(map[string]any)
	}
	for k, v := range delta.Input {
		b.ToolInput[k] = v
	}
}

func (a *accumulator) finalBlocks() []stream.Block {
	return a.blocks
}

func toProviderMessages(messages []conversation.Message) []provider.Message {
	out := make([]provider.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, provider.Message{
			Role:    string(m.Role),
			Content: toProviderBlocks(m.Content),
		})
	}
	return out
}

func toProviderBlocks(blocks []conversation.ContentBlock) []provider.ContentBlock {
	out := make([]provider.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case conversation.BlockText:
			out = append(out, provider.ContentBlock{Type: "text", Text: b.Text})
		case conversation.BlockImage:
			out = append(out, provider.ContentBlock{
				Type:   "image",
				Source: &provider.ImageSource{Type: "base64", MediaType: b.MediaType, Data: base64.StdEncoding.EncodeToString(b.ImageData)},
			})
		case conversation.BlockToolUse:
			out = append(out, provider.ContentBlock{Type: "tool_use", ID: b.ToolUseID, Name: b.ToolName, Input: b.ToolInput})
		case conversation.BlockToolResult:
			out = append(out, provider.ContentBlock{
				Type:      "tool_result",
				ToolUseID: b.ToolUseRefID,
				Content:   b.ResultContent,
				IsError:   b.IsError,
			})
		}
	}
	return out
}

func toProviderTools(descs []registry.Description) []provider.Tool {
	out := make([]provider.Tool, 0, len(descs))
	for _, d := range descs {
		out = append(out, provider.Tool{Name: d.Name, Description: d.Description, InputSchema: d.Schema})
	}
	return out
}

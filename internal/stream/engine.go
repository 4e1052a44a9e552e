package stream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/agentcore/core/internal/corerr"
)

// EventType tags the engine's emitted events, per the "Emitted" column of
// spec.md §4.F's content-block state-machine table, plus cancellation and
// redirect.
type EventType string

const (
	EventMessageStart EventType = "message_start"
	EventBlockStart    EventType = "block_start"
	EventTextDelta     EventType = "text_delta"
	EventJSONDelta     EventType = "json_delta"
	EventBlockStop     EventType = "block_stop"
	EventUsageUpdate   EventType = "usage_update"
	EventMessageStop   EventType = "message_stop"
	EventError         EventType = "error"
	EventParseError    EventType = "parse_error"
	EventCancelled     EventType = "cancelled"
	EventRedirect      EventType = "redirect"
)

// Usage accumulates token usage across message_start and message_delta
// events.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Block is one content block assembled by the engine, in final form.
type Block struct {
	Index int
	Type  string // "text" or "tool_use"
	Text  string
	ToolUseID   string
	ToolName    string
	ToolInput   map[string]any
	ParseFailed bool
}

// Event is a single value yielded to the consumer of Run.
type Event struct {
	Type EventType

	Index int    // block_start/text_delta/json_delta/block_stop
	Text  string // text_delta
	Partial string // json_delta

	Block *Block // block_start (type only), finalized in FinalContent

	Usage      Usage
	StopReason string

	FinalContent []Block
	Err          error

	Redirect *Redirect
}

// Redirect is surfaced when a cross-host redirect is encountered, per
// spec.md §4.F; the caller decides policy rather than the engine following
// it silently.
type Redirect struct {
	Original string
	Target   string
	Status   int
}

// wireEvent mirrors the JSON shape of a single model SSE data payload.
// Only the fields relevant to each event type are populated by the
// provider.
type wireEvent struct {
	Type  string `json:"type"`
	Message *struct {
		ID    string `json:"id"`
		Model string `json:"model"`
		Role  string `json:"role"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Index        int `json:"index"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	StopReason *string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type blockState struct {
	typ           string
	text          strings.Builder
	partialInput  strings.Builder
	toolID        string
	toolName      string
}

// Run decodes an SSE body from r and emits Events on the returned channel,
// closing it after the terminal event (message_stop, error, or cancelled),
// per spec.md §4.F/§9's "exactly one terminal event" rule. Cancellation via
// ctx aborts the underlying read and flushes a cancelled terminal event.
func Run(ctx context.Context, r io.ReadCloser) <-chan Event {
	out := make(chan Event, 16)

	go func() {
		defer close(out)
		defer r.Close()
		stopAbort := context.AfterFunc(ctx, func() { _ = r.Close() })
		defer stopAbort()

		dec := NewDecoder(r)
		blocks := map[int]*blockState{}
		order := []int{}
		var usage Usage
		var stopReason string
		var carry string // partial-JSON carryover across split wire payloads

		emit := func(e Event) bool {
			select {
			case out <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}
		cancelled := func() {
			select {
			case out <- Event{Type: EventCancelled}:
			default:
			}
		}

		for {
			select {
			case <-ctx.Done():
				cancelled()
				return
			default:
			}

			raw, err := dec.Next()
			if ctx.Err() != nil {
				cancelled()
				return
			}
			if err == io.EOF {
				emit(Event{Type: EventError, Err: corerr.New(corerr.KindNetwork, "stream", "stream ended before message_stop")})
				return
			}
			if err != nil {
				emit(Event{Type: EventError, Err: corerr.Wrap(corerr.KindNetwork, "stream", "read", err)})
				return
			}

			payload := carry + raw.Data
			var we wireEvent
			if jsonErr := json.Unmarshal([]byte(payload), &we); jsonErr != nil {
				// Tolerate a chunk-boundary split: carry the fragment into
				// the next event rather than failing immediately.
				carry = payload
				continue
			}
			carry = ""

			switch we.Type {
			case "message_start":
				if we.Message != nil {
					usage.InputTokens = we.Message.Usage.InputTokens
					usage.OutputTokens = we.Message.Usage.OutputTokens
				}
				if !emit(Event{Type: EventMessageStart, Usage: usage}) {
					return
				}

			case "content_block_start":
				if we.ContentBlock == nil {
					continue
				}
				bs := &blockState{typ: we.ContentBlock.Type, toolID: we.ContentBlock.ID, toolName: we.ContentBlock.Name}
				blocks[we.Index] = bs
				order = append(order, we.Index)
				if !emit(Event{Type: EventBlockStart, Index: we.Index, Block: &Block{Index: we.Index, Type: bs.typ, ToolUseID: bs.toolID, ToolName: bs.toolName}}) {
					return
				}

			case "content_block_delta":
				bs := blocks[we.Index]
				if bs == nil || we.Delta == nil {
					continue
				}
				switch we.Delta.Type {
				case "text_delta":
					bs.text.WriteString(we.Delta.Text)
					if !emit(Event{Type: EventTextDelta, Index: we.Index, Text: we.Delta.Text}) {
						return
					}
				case "input_json_delta":
					bs.partialInput.WriteString(we.Delta.PartialJSON)
					if !emit(Event{Type: EventJSONDelta, Index: we.Index, Partial: we.Delta.PartialJSON}) {
						return
					}
				}

			case "content_block_stop":
				bs := blocks[we.Index]
				if bs == nil {
					continue
				}
				if bs.typ == "tool_use" {
					raw := bs.partialInput.String()
					if raw != "" {
						var input map[string]any
						if jsonErr := json.Unmarshal([]byte(raw), &input); jsonErr != nil {
							if !emit(Event{Type: EventParseError, Index: we.Index, Err: corerr.New(corerr.KindParseError, "stream", "tool_use input parse failure")}) {
								return
							}
						}
					}
				}
				if !emit(Event{Type: EventBlockStop, Index: we.Index}) {
					return
				}

			case "message_delta":
				if we.Usage != nil {
					usage.OutputTokens += we.Usage.OutputTokens
				}
				if we.StopReason != nil {
					stopReason = *we.StopReason
				}
				if !emit(Event{Type: EventUsageUpdate, Usage: usage, StopReason: stopReason}) {
					return
				}

			case "message_stop":
				final := finalizeBlocks(order, blocks)
				if !emit(Event{Type: EventMessageStop, FinalContent: final, Usage: usage, StopReason: stopReason}) {
					return
				}
				return

			case "error":
				msg := "stream error"
				if we.Error != nil {
					msg = we.Error.Message
				}
				emit(Event{Type: EventError, Err: corerr.New(corerr.KindNetwork, "stream", msg)})
				return

			case "ping":
				// ignored, per spec.md §4.F.
			}
		}
	}()

	return out
}

// finalizeBlocks reassembles blocks by index at stream end, tolerating
// out-of-order completion — ordering is determined by index, not arrival
// order, per §4.F's ordering guarantee.
func finalizeBlocks(order []int, blocks map[int]*blockState) []Block {
	indices := append([]int(nil), order...)
	sortInts(indices)

	out := make([]Block, 0, len(indices))
	for _, idx := range indices {
		bs := blocks[idx]
		b := Block{Index: idx, Type: bs.typ, ToolUseID: bs.toolID, ToolName: bs.toolName}
		switch bs.typ {
		case "text":
			b.Text = bs.text.String()
		case "tool_use":
			raw := bs.partialInput.String()
			if raw != "" {
				var input map[string]any
				if err := json.Unmarshal([]byte(raw), &input); err != nil {
					b.ParseFailed = true
				} else {
					b.ToolInput = input
				}
			}
		}
		out = append(out, b)
	}
	return out
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// redirectCheckFunc builds an http.Client CheckRedirect hook: same-host
// redirects are followed transparently; cross-host redirects are reported
// via onCrossHost instead of being followed, per §4.F.
func redirectCheckFunc(onCrossHost func(Redirect)) func(req *http.Request, via []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) == 0 {
			return nil
		}
		orig := via[0].URL
		if req.URL.Host != orig.Host {
			onCrossHost(Redirect{Original: orig.String(), Target: req.URL.String(), Status: 0})
			return http.ErrUseLastResponse
		}
		return nil
	}
}

// NewClientWithRedirectPolicy returns an *http.Client whose CheckRedirect
// follows same-host redirects transparently and reports cross-host
// redirects via onCrossHost instead of following them, per §4.F.
func NewClientWithRedirectPolicy(base *http.Client, onCrossHost func(Redirect)) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	clone := *base
	clone.CheckRedirect = redirectCheckFunc(onCrossHost)
	return &clone
}

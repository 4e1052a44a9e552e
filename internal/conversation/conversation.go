// Package conversation implements the Conversation Store of spec.md §4.H:
// an append-only message log with incremental token accounting and a
// typed state machine. Grounded on Dhanuzh-dcode's internal/session
// package, generalized from that package's loose Status string field and
// provider-shaped Part structs into the tagged ContentBlock variants and
// explicit state machine spec.md §3/§4.H require.
package conversation

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentcore/core/internal/corerr"
	"github.com/google/uuid"
)

// Role is a message's role, per spec.md §3.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// BlockType tags a ContentBlock variant.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is a tagged union over the four variants of spec.md §3.
// Only the fields relevant to Type are populated; this mirrors the
// teacher's Part struct but replaces its loose "Type string" + grab-bag
// fields with named accessors enforcing the tag.
type ContentBlock struct {
	Type BlockType

	// text
	Text string

	// image
	MediaType string
	ImageData []byte

	// tool_use
	ToolUseID string
	ToolName  string
	ToolInput map[string]any

	// tool_result
	ToolUseRefID string
	ResultContent string
	IsError       bool
}

func TextBlock(text string) ContentBlock { return ContentBlock{Type: BlockText, Text: text} }

func ImageBlock(mediaType string, data []byte) ContentBlock {
	return ContentBlock{Type: BlockImage, MediaType: mediaType, ImageData: data}
}

func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ToolUseID: id, ToolName: name, ToolInput: input}
}

func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseRefID: toolUseID, ResultContent: content, IsError: isError}
}

// Message is one entry in a Conversation's log, per spec.md §3.
type Message struct {
	ID            string
	Role          Role
	Content       []ContentBlock
	Timestamp     time.Time
	TokenEstimate int
	Metadata      map[string]any
}

// State is the conversation-level state machine of spec.md §4.H.
type State string

const (
	StateIdle       State = "idle"
	StateWaiting    State = "waiting"
	StateProcessing State = "processing"
	StateStreaming  State = "streaming"
	StateError      State = "error"
	StateTerminated State = "terminated"
)

// validTransitions encodes the machine diagram of §4.H verbatim.
var validTransitions = map[State]map[State]bool{
	StateIdle:       {StateWaiting: true, StateTerminated: true},
	StateWaiting:    {StateProcessing: true, StateError: true, StateTerminated: true},
	StateProcessing: {StateStreaming: true, StateError: true, StateTerminated: true},
	StateStreaming:  {StateIdle: true, StateError: true, StateTerminated: true},
	StateError:      {StateIdle: true, StateTerminated: true},
	StateTerminated: {},
}

// Conversation is the append-only message log plus its state machine.
// Single-writer discipline: the agent loop is the sole writer in normal
// operation (§5); all mutating methods take the internal lock so external
// callers (BashOutput polling, etc.) may safely read concurrently.
type Conversation struct {
	mu sync.RWMutex

	id           string
	messages     []Message
	systemPrompt string
	title        string
	state        State
	tokenCount   int
	createdAt    time.Time
	updatedAt    time.Time
	model        string
}

// New creates an empty Conversation in the idle state.
func New(model string) *Conversation {
	now := time.Now()
	return &Conversation{
		id:        uuid.NewString(),
		state:     StateIdle,
		createdAt: now,
		updatedAt: now,
		model:     model,
	}
}

func (c *Conversation) ID() string { return c.id }

// AddMessage validates role, normalizes content, enforces the sequencing
// invariant (§3 invariant 2/3), computes the token estimate, and appends.
func (c *Conversation) AddMessage(role Role, content []ContentBlock, metadata map[string]any) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := validateRole(role); err != nil {
		return Message{}, err
	}

	if len(c.messages) == 0 && role != RoleUser && role != RoleSystem {
		return Message{}, corerr.New(corerr.KindInvalidParameters, "conversation", "first message must be user or system").WithPhase("sequence-check")
	}

	if err := c.checkSequenceInvariant(role, content); err != nil {
		return Message{}, err
	}

	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
	msg.TokenEstimate = EstimateTokens(msg)

	c.messages = append(c.messages, msg)
	c.tokenCount += msg.TokenEstimate
	c.updatedAt = msg.Timestamp
	return msg, nil
}

func validateRole(role Role) error {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return nil
	default:
		return corerr.New(corerr.KindInvalidParameters, "conversation", fmt.Sprintf("unknown role %q", role))
	}
}

// checkSequenceInvariant enforces §3 invariants 2 and 3: alternation with
// the tool-loop exception, and that every tool_result references an
// earlier tool_use id.
func (c *Conversation) checkSequenceInvariant(role Role, content []ContentBlock) error {
	knownToolUseIDs := map[string]bool{}
	for _, m := range c.messages {
		for _, b := range m.Content {
			if b.Type == BlockToolUse {
				knownToolUseIDs[b.ToolUseID] = true
			}
		}
	}
	for _, b := range content {
		if b.Type == BlockToolResult && !knownToolUseIDs[b.ToolUseRefID] {
			return corerr.New(corerr.KindInvalidParameters, "conversation",
				fmt.Sprintf("tool_result references unknown tool_use id %q", b.ToolUseRefID)).WithPhase("sequence-check")
		}
	}

	if len(c.messages) == 0 {
		return nil
	}
	prev := c.messages[len(c.messages)-1]
	if prev.Role == role && role != RoleSystem {
		// Same-role repeats are only legal for the tool-loop exception,
		// which always alternates user/assistant — a same-role repeat of
		// user or assistant is otherwise a violation of invariant 2.
		if !(role == RoleUser && hasToolResult(content) && hasToolUse(prev.Content)) {
			return corerr.New(corerr.KindInvalidParameters, "conversation", "messages must alternate roles").WithPhase("sequence-check")
		}
	}
	return nil
}

func hasToolUse(blocks []ContentBlock) bool {
	for _, b := range blocks {
		if b.Type == BlockToolUse {
			return true
		}
	}
	return false
}

func hasToolResult(blocks []ContentBlock) bool {
	for _, b := range blocks {
		if b.Type == BlockToolResult {
			return true
		}
	}
	return false
}

// Messages returns a copy of the log for §4.H's getMessages operation.
// Each message keeps its Metadata map; internal metadata is not stripped.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// SetSystemPrompt sets the conversation's system prompt text.
func (c *Conversation) SetSystemPrompt(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemPrompt = text
}

func (c *Conversation) SystemPrompt() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.systemPrompt
}

// SetTitle records the conversation's display title, generated ambiently
// after a turn completes (see agentloop's TitleHook). A title is only
// ever set once a real one is produced; the zero value means "untitled".
func (c *Conversation) SetTitle(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.title = title
}

func (c *Conversation) Title() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.title
}

// SetState transitions the conversation's state, refusing invalid
// transitions per the machine in §4.H.
func (c *Conversation) SetState(next State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == next {
		return nil
	}
	if !validTransitions[c.state][next] {
		return corerr.New(corerr.KindInvalidParameters, "conversation",
			fmt.Sprintf("invalid state transition %s -> %s", c.state, next)).WithPhase("state-machine")
	}
	c.state = next
	return nil
}

func (c *Conversation) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// TokenCount returns the running total, equal to the sum of per-message
// estimates by construction (invariant 1 of §8).
func (c *Conversation) TokenCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokenCount
}

// HistoryFilter narrows History's results.
type HistoryFilter struct {
	Role  Role
	Since time.Time
}

// History returns a read-only filtered view of the log.
func (c *Conversation) History(filter HistoryFilter) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Message
	for _, m := range c.messages {
		if filter.Role != "" && m.Role != filter.Role {
			continue
		}
		if !filter.Since.IsZero() && m.Timestamp.Before(filter.Since) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Replace atomically replaces the message log (used by the microcompactor)
// and recomputes the token count from scratch, per §4.I's "recomputed from
// scratch" requirement. The caller is responsible for ensuring the
// replacement still satisfies the sequence invariants.
func (c *Conversation) Replace(messages []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = messages
	total := 0
	for i, m := range c.messages {
		if m.TokenEstimate == 0 {
			m.TokenEstimate = EstimateTokens(m)
			c.messages[i] = m
		}
		total += m.TokenEstimate
	}
	c.tokenCount = total
	c.updatedAt = time.Now()
}

func (c *Conversation) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

func (c *Conversation) CreatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.createdAt
}

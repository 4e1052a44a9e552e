// Package compactor implements the Microcompactor of spec.md §4.I: a
// boundary-scoring search over a conversation's message list plus a
// structured summarization of the prefix it selects. Grounded on
// Dhanuzh-dcode's internal/session/compaction.go, which only implements a
// simpler backward-pruning pass (PruneToolOutputs); the boundary-search
// and structured-summary algorithm below is built fresh against the
// additive scoring table in spec.md §4.I since the teacher has no
// equivalent.
package compactor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agentcore/core/internal/conversation"
)

// Config tunes the compactor's thresholds, defaults per §4.I.
type Config struct {
	TokenThreshold   int
	MinMessageCount  int
	TargetRatio      float64
	SearchWindow     int
	ScoreFloor       int
	NaturalBreakGap  time.Duration
}

func DefaultConfig() Config {
	return Config{
		TokenThreshold:  150000,
		MinMessageCount: 10,
		TargetRatio:     0.5,
		SearchWindow:    5,
		ScoreFloor:      0,
		NaturalBreakGap: 5 * time.Minute,
	}
}

// ShouldCompact reports whether compaction should trigger, per §9 Open
// Question 3: "<" to skip, ">=" to trigger, standardized.
func ShouldCompact(cfg Config, tokenCount, messageCount int) bool {
	if tokenCount < cfg.TokenThreshold {
		return false
	}
	return messageCount >= cfg.MinMessageCount
}

// topicShiftPhrases are explicit phrases treated as a natural break, per
// §4.I's boundary-score table ("explicit topic-shift phrase").
var topicShiftPhrases = []string{
	"let's switch to", "moving on to", "new task:", "next, let's",
	"switching gears", "different topic",
}

// boundaryCandidate is one scored candidate index plus its score.
type boundaryCandidate struct {
	index int
	score int
}

// SelectBoundary implements §4.I's boundary-selection algorithm: search
// indices around target = floor(messageCount*targetRatio), score each
// candidate additively, and pick the maximum (ties broken by lower index).
// Returns ok=false if the best score is below cfg.ScoreFloor, signaling the
// caller to skip compaction and retry after more growth.
func SelectBoundary(cfg Config, messages []conversation.Message) (int, bool) {
	n := len(messages)
	target := int(float64(n) * cfg.TargetRatio)

	lo := target - cfg.SearchWindow
	if lo < cfg.MinMessageCount {
		lo = cfg.MinMessageCount
	}
	hi := target + cfg.SearchWindow
	if hi > n-5 {
		hi = n - 5
	}
	if lo > hi {
		return 0, false
	}

	var candidates []boundaryCandidate
	for i := lo; i <= hi; i++ {
		candidates = append(candidates, boundaryCandidate{index: i, score: scoreBoundary(messages, i)})
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		return candidates[a].index < candidates[b].index
	})

	best := candidates[0]
	if best.score < cfg.ScoreFloor {
		return 0, false
	}
	return best.index, true
}

// scoreBoundary computes the additive score for placing the boundary
// immediately before messages[i], per §4.I's table.
func scoreBoundary(messages []conversation.Message, i int) int {
	score := 100 // base

	prev := messages[i-1]

	if prev.Role == conversation.RoleUser && hasBlock(prev, conversation.BlockToolResult) {
		score += 50
	}
	if prev.Role == conversation.RoleAssistant {
		score += 30
	}

	if splitsToolPair(messages, i) {
		score -= 100
	}

	if isNaturalBreak(messages, i) {
		score += 20
	}

	if nearError(messages, i, 2) {
		score -= 30
	}

	if topicChangeHeuristic(messages, i) {
		score += 25
	}

	return score
}

func hasBlock(m conversation.Message, t conversation.BlockType) bool {
	for _, b := range m.Content {
		if b.Type == t {
			return true
		}
	}
	return false
}

// splitsToolPair reports whether placing the boundary at i would separate
// a tool_use in messages[i-1] from its tool_result in messages[i] (or vice
// versa across the cut), per §4.I's "never split a tool pair" rule.
func splitsToolPair(messages []conversation.Message, i int) bool {
	if i <= 0 || i >= len(messages) {
		return false
	}
	before := messages[i-1]
	after := messages[i]

	toolUseIDs := map[string]bool{}
	for _, b := range before.Content {
		if b.Type == conversation.BlockToolUse {
			toolUseIDs[b.ToolUseID] = true
		}
	}
	for _, b := range after.Content {
		if b.Type == conversation.BlockToolResult && toolUseIDs[b.ToolUseRefID] {
			return true
		}
	}
	return false
}

func isNaturalBreak(messages []conversation.Message, i int) bool {
	if i <= 0 || i >= len(messages) {
		return false
	}
	before := messages[i-1]
	after := messages[i]

	if before.Role == conversation.RoleUser && after.Role == conversation.RoleUser {
		return true
	}
	if !after.Timestamp.IsZero() && !before.Timestamp.IsZero() && after.Timestamp.Sub(before.Timestamp) >= 5*time.Minute {
		return true
	}
	text := blockText(after)
	lower := strings.ToLower(text)
	for _, phrase := range topicShiftPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func nearError(messages []conversation.Message, i, window int) bool {
	lo := i - window
	if lo < 0 {
		lo = 0
	}
	hi := i + window
	if hi > len(messages) {
		hi = len(messages)
	}
	for j := lo; j < hi; j++ {
		for _, b := range messages[j].Content {
			if b.Type == conversation.BlockToolResult && b.IsError {
				return true
			}
		}
	}
	return false
}

// topicChangeHeuristic is a lightweight lexical-overlap check: if the
// message immediately after the candidate boundary shares almost no
// vocabulary with the message immediately before, treat it as a topic
// change.
func topicChangeHeuristic(messages []conversation.Message, i int) bool {
	if i <= 0 || i >= len(messages) {
		return false
	}
	before := wordSet(blockText(messages[i-1]))
	after := wordSet(blockText(messages[i]))
	if len(before) == 0 || len(after) == 0 {
		return false
	}
	overlap := 0
	for w := range after {
		if before[w] {
			overlap++
		}
	}
	ratio := float64(overlap) / float64(len(after))
	return ratio < 0.1
}

func wordSet(text string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		out[w] = true
	}
	return out
}

func blockText(m conversation.Message) string {
	var sb strings.Builder
	for _, b := range m.Content {
		if b.Type == conversation.BlockText {
			sb.WriteString(b.Text)
			sb.WriteString(" ")
		}
	}
	return sb.String()
}

// Result is the outcome of a Compact call.
type Result struct {
	Messages        []conversation.Message
	Boundary        int
	TokensBefore    int
	TokensAfter     int
	Compacted       bool
}

// fileMutatingTools and systemChangingTools are tools whose calls are preserved verbatim in the
// summary regardless of age, mirroring the teacher's PruneProtectedTools
// plus the file-mutating/system-changing rule of §4.I.
var fileMutatingTools = map[string]bool{
	"write": true, "edit": true, "multiedit": true, "notebookedit": true,
}
var systemChangingTools = map[string]bool{
	"bash": true, "git": true, "docker": true,
}

// Compact runs the full microcompaction algorithm: select a boundary,
// partition the prefix, emit a structured summary, and return the new
// message list. If the input is below threshold, or no boundary clears
// cfg.ScoreFloor, Compact is a no-op (Result.Compacted == false), per the
// idempotence property of §8.
func Compact(cfg Config, messages []conversation.Message) Result {
	tokensBefore := sumTokens(messages)
	if !ShouldCompact(cfg, tokensBefore, len(messages)) {
		return Result{Messages: messages, TokensBefore: tokensBefore, TokensAfter: tokensBefore}
	}

	boundary, ok := SelectBoundary(cfg, messages)
	if !ok {
		return Result{Messages: messages, TokensBefore: tokensBefore, TokensAfter: tokensBefore}
	}

	prefix := messages[:boundary]
	suffix := messages[boundary:]

	summaryBlocks := summarize(prefix)

	boundaryMarker := conversation.Message{
		Role:      conversation.RoleSystem,
		Content:   []conversation.ContentBlock{conversation.TextBlock(fmt.Sprintf("[compaction boundary: %d prior messages summarized]", len(prefix)))},
		Timestamp: time.Now(),
	}

	newMessages := make([]conversation.Message, 0, 1+len(summaryBlocks)+len(suffix))
	newMessages = append(newMessages, boundaryMarker)
	newMessages = append(newMessages, summaryBlocks...)
	newMessages = append(newMessages, suffix...)

	for i := range newMessages {
		newMessages[i].TokenEstimate = conversation.EstimateTokens(newMessages[i])
	}

	return Result{
		Messages:     newMessages,
		Boundary:     boundary,
		TokensBefore: tokensBefore,
		TokensAfter:  sumTokens(newMessages),
		Compacted:    true,
	}
}

func sumTokens(messages []conversation.Message) int {
	total := 0
	for _, m := range messages {
		if m.TokenEstimate != 0 {
			total += m.TokenEstimate
		} else {
			total += conversation.EstimateTokens(m)
		}
	}
	return total
}

// summarize partitions the prefix by content kind and emits the four
// structured blocks named in §4.I.
func summarize(prefix []conversation.Message) []conversation.Message {
	toolCounts := map[string]int{}
	var userTopics, actions, errorCategories []string
	var criticalCalls []conversation.Message
	imageCount, docCount := 0, 0
	toolCallCount, toolResultCount, errorCount := 0, 0, 0

	for _, m := range prefix {
		isCriticalMessage := false
		for _, b := range m.Content {
			switch b.Type {
			case conversation.BlockText:
				if m.Role == conversation.RoleUser && len(userTopics) < 5 {
					userTopics = append(userTopics, truncate(b.Text, 80))
				}
				if m.Role == conversation.RoleAssistant && len(actions) < 7 {
					actions = append(actions, truncate(b.Text, 80))
				}
			case conversation.BlockToolUse:
				toolCounts[b.ToolName]++
				toolCallCount++
				if fileMutatingTools[b.ToolName] || systemChangingTools[b.ToolName] {
					isCriticalMessage = true
				}
			case conversation.BlockToolResult:
				toolResultCount++
				if b.IsError {
					errorCount++
					isCriticalMessage = true
					errorCategories = append(errorCategories, truncate(b.ResultContent, 60))
				}
			case conversation.BlockImage:
				imageCount++
			}
		}
		if isCriticalMessage {
			criticalCalls = append(criticalCalls, m)
		}
	}

	systemCounts := fmt.Sprintf(
		"Summarized %d messages: %d user, %d assistant, %d tool calls, %d tool results, %d errors, %d images.",
		len(prefix), countRole(prefix, conversation.RoleUser), countRole(prefix, conversation.RoleAssistant),
		toolCallCount, toolResultCount, errorCount, imageCount,
	)

	var toolUsageLines []string
	names := make([]string, 0, len(toolCounts))
	for name := range toolCounts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		toolUsageLines = append(toolUsageLines, fmt.Sprintf("%s: %d calls", name, toolCounts[name]))
	}

	narrative := fmt.Sprintf(
		"Topics: %s\nKey actions: %s\nError categories: %s",
		strings.Join(userTopics, "; "), strings.Join(actions, "; "), strings.Join(dedupe(errorCategories), "; "),
	)

	blocks := []conversation.Message{
		{Role: conversation.RoleSystem, Content: []conversation.ContentBlock{conversation.TextBlock(systemCounts)}, Timestamp: time.Now()},
		{Role: conversation.RoleSystem, Content: []conversation.ContentBlock{conversation.TextBlock("Tool usage:\n" + strings.Join(toolUsageLines, "\n"))}, Timestamp: time.Now()},
		{Role: conversation.RoleAssistant, Content: []conversation.ContentBlock{conversation.TextBlock(narrative)}, Timestamp: time.Now()},
	}
	if len(criticalCalls) > 0 {
		var sb strings.Builder
		sb.WriteString("Critical tool calls preserved verbatim:\n")
		for _, m := range criticalCalls {
			for _, b := range m.Content {
				if b.Type == conversation.BlockToolUse {
					sb.WriteString(fmt.Sprintf("- %s(%v)\n", b.ToolName, b.ToolInput))
				}
				if b.Type == conversation.BlockToolResult && b.IsError {
					sb.WriteString(fmt.Sprintf("- error: %s\n", truncate(b.ResultContent, 200)))
				}
			}
		}
		blocks = append(blocks, conversation.Message{
			Role:      conversation.RoleSystem,
			Content:   []conversation.ContentBlock{conversation.TextBlock(sb.String())},
			Timestamp: time.Now(),
		})
	}
	_ = docCount
	return blocks
}

func countRole(messages []conversation.Message, role conversation.Role) int {
	n := 0
	for _, m := range messages {
		if m.Role == role {
			n++
		}
	}
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func dedupe(items []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	return out
}

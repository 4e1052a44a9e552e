package compactor

import (
	"testing"
	"time"

	"github.com/agentcore/core/internal/conversation"
	"github.com/stretchr/testify/require"
)

func buildConversation(n int, toolPairAt int) []conversation.Message {
	var messages []conversation.Message
	base := time.Now().Add(-time.Hour)
	for i := 0; i < n; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		if i == toolPairAt {
			messages = append(messages, conversation.Message{
				Role: conversation.RoleAssistant, Timestamp: ts,
				Content: []conversation.ContentBlock{conversation.ToolUseBlock("call_x", "bash", nil)},
			})
			continue
		}
		if i == toolPairAt+1 {
			messages = append(messages, conversation.Message{
				Role: conversation.RoleUser, Timestamp: ts,
				Content: []conversation.ContentBlock{conversation.ToolResultBlock("call_x", "output", false)},
			})
			continue
		}
		role := conversation.RoleUser
		if i%2 == 1 {
			role = conversation.RoleAssistant
		}
		messages = append(messages, conversation.Message{
			Role: role, Timestamp: ts,
			Content: []conversation.ContentBlock{conversation.TextBlock("message number filler text here")},
		})
	}
	for i := range messages {
		messages[i].TokenEstimate = conversation.EstimateTokens(messages[i])
	}
	return messages
}

func TestShouldCompactBelowThreshold(t *testing.T) {
	cfg := DefaultConfig()
	require.False(t, ShouldCompact(cfg, cfg.TokenThreshold-1, 100))
	require.True(t, ShouldCompact(cfg, cfg.TokenThreshold, 100))
	require.False(t, ShouldCompact(cfg, cfg.TokenThreshold, 5))
}

func TestSelectBoundaryAvoidsSplittingToolPair(t *testing.T) {
	cfg := DefaultConfig()
	messages := buildConversation(30, 14) // tool_use at 14, tool_result at 15
	boundary, ok := SelectBoundary(cfg, messages)
	require.True(t, ok)
	require.NotEqual(t, 15, boundary)
}

func TestCompactPreservesSuffixVerbatim(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TokenThreshold = 1
	cfg.MinMessageCount = 10
	messages := buildConversation(30, 14)

	result := Compact(cfg, messages)
	require.True(t, result.Compacted)
	require.Less(t, len(result.Messages), len(messages))
	require.Less(t, result.TokensAfter, result.TokensBefore)

	suffix := messages[result.Boundary:]
	gotSuffix := result.Messages[len(result.Messages)-len(suffix):]
	for i := range suffix {
		require.Equal(t, suffix[i].Content, gotSuffix[i].Content)
	}
}

func TestCompactNoOpBelowThreshold(t *testing.T) {
	cfg := DefaultConfig()
	messages := buildConversation(20, 5)
	result := Compact(cfg, messages)
	require.False(t, result.Compacted)
	require.Equal(t, messages, result.Messages)
}

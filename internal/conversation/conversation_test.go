package conversation

import (
	"testing"

	"github.com/agentcore/core/internal/corerr"
	"github.com/stretchr/testify/require"
)

func TestAddMessageEnforcesFirstRole(t *testing.T) {
	c := New("test-model")
	_, err := c.AddMessage(RoleAssistant, []ContentBlock{TextBlock("hi")}, nil)
	require.Error(t, err)
	require.Equal(t, corerr.KindInvalidParameters, corerr.KindOf(err))
}

func TestToolLoopAlternationAllowed(t *testing.T) {
	c := New("test-model")
	_, err := c.AddMessage(RoleUser, []ContentBlock{TextBlock("run ls")}, nil)
	require.NoError(t, err)

	_, err = c.AddMessage(RoleAssistant, []ContentBlock{ToolUseBlock("call_1", "bash", nil)}, nil)
	require.NoError(t, err)

	_, err = c.AddMessage(RoleUser, []ContentBlock{ToolResultBlock("call_1", "ok", false)}, nil)
	require.NoError(t, err)

	_, err = c.AddMessage(RoleAssistant, []ContentBlock{TextBlock("done")}, nil)
	require.NoError(t, err)
}

func TestToolResultUnknownIDRejected(t *testing.T) {
	c := New("test-model")
	_, _ = c.AddMessage(RoleUser, []ContentBlock{TextBlock("hi")}, nil)
	_, err := c.AddMessage(RoleAssistant, []ContentBlock{ToolResultBlock("nonexistent", "x", false)}, nil)
	require.Error(t, err)
}

func TestTokenCountMatchesSum(t *testing.T) {
	c := New("test-model")
	_, _ = c.AddMessage(RoleUser, []ContentBlock{TextBlock("hello world")}, nil)
	_, _ = c.AddMessage(RoleAssistant, []ContentBlock{TextBlock("hi there")}, nil)

	sum := 0
	for _, m := range c.Messages() {
		sum += m.TokenEstimate
	}
	require.Equal(t, sum, c.TokenCount())
}

func TestStateMachineRejectsInvalidTransition(t *testing.T) {
	c := New("test-model")
	err := c.SetState(StateStreaming)
	require.Error(t, err)

	require.NoError(t, c.SetState(StateWaiting))
	require.NoError(t, c.SetState(StateProcessing))
	require.NoError(t, c.SetState(StateStreaming))
	require.NoError(t, c.SetState(StateIdle))
}

func TestEstimateTokensImageConstant(t *testing.T) {
	require.Equal(t, 765, EstimateTokens(Message{Content: []ContentBlock{ImageBlock("image/png", nil)}}))
}

package permission

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGateDeniesForbiddenPrefix(t *testing.T) {
	cfg := DefaultConfig("/work")
	g, err := New(cfg, nil)
	require.NoError(t, err)

	d := g.Check("read", map[string]any{"path": "/root/.ssh/id_rsa"}, nil)
	require.Equal(t, OutcomeDeny, d.Outcome)
}

func TestGateDenyRuleBeatsAllowRule(t *testing.T) {
	cfg := DefaultConfig("/work")
	cfg.AllowedPaths = []string{"/work/**"}
	cfg.DeniedPaths = []string{"/work/secrets/**"}
	cfg.ActionModes[ActionEdit] = ModeAsk
	g, err := New(cfg, func(name string) Action { return ActionEdit })
	require.NoError(t, err)

	d := g.Check("edit", map[string]any{"path": "/work/secrets/creds.txt"}, nil)
	require.Equal(t, OutcomeDeny, d.Outcome)
}

func TestGateDefaultModeAsk(t *testing.T) {
	cfg := DefaultConfig("/work")
	g, err := New(cfg, func(name string) Action { return ActionEdit })
	require.NoError(t, err)

	d := g.Check("edit", map[string]any{"path": "/work/main.go"}, nil)
	require.Equal(t, OutcomeAsk, d.Outcome)
}

type fakeState struct{}

func (fakeState) InputSubstitution(toolName string, input map[string]any) (map[string]any, bool) {
	if toolName == "bash" {
		updated := map[string]any{}
		for k, v := range input {
			updated[k] = v
		}
		updated["command"] = "echo safe"
		return updated, true
	}
	return nil, false
}

func TestGateAllowWithUpdatedInput(t *testing.T) {
	cfg := DefaultConfig("/work")
	cfg.ActionModes[ActionBash] = ModeAllow
	g, err := New(cfg, func(name string) Action { return ActionBash })
	require.NoError(t, err)

	d := g.Check("bash", map[string]any{"command": "rm -rf /"}, fakeState{})
	require.Equal(t, OutcomeAllowUpdate, d.Outcome)
	require.Equal(t, "echo safe", d.UpdatedInput["command"])
}

package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentcore/core/internal/agentloop"
	"github.com/agentcore/core/internal/compactor"
	"github.com/agentcore/core/internal/config"
	"github.com/agentcore/core/internal/conversation"
	"github.com/agentcore/core/internal/dispatch"
	"github.com/agentcore/core/internal/modelclient"
	"github.com/agentcore/core/internal/permission"
	"github.com/agentcore/core/internal/provider"
	"github.com/agentcore/core/internal/registry"
)

// Runner dispatches Task-tool invocations onto a nested agentloop.Loop
// configured by one of BuiltinAgents()'s persona records, satisfying
// welltool.SubagentRunner without internal/welltool needing to import
// internal/agent. Grounded on GetAgent's persona lookup and
// Dhanuzh-dcode/internal/session/prompt.go's sub-task dispatch.
type Runner struct {
	Registry *registry.Registry
	Provider provider.Provider
	Cfg      *config.Config
	WorkDir  string
}

// RunSubagent resolves agentType to a persona, builds a scoped dispatch
// harness honoring that persona's permission ruleset, and runs prompt as
// a single bounded turn, returning the assistant's final text.
func (r *Runner) RunSubagent(ctx context.Context, agentType, prompt string) (string, error) {
	persona := GetAgent(agentType, r.Cfg)
	if persona.Mode == ModePrimary {
		return "", fmt.Errorf("agent %q is a primary agent, not a subagent", agentType)
	}

	gate, err := permission.New(personaPermissionConfig(r.WorkDir, persona), actionOfPersona(persona))
	if err != nil {
		return "", err
	}
	harness := dispatch.New(r.Registry, gate, dispatch.NewHookBus(), func() bool { return false })

	model := persona.Model
	if model == "" {
		model = r.Cfg.GetDefaultModel(r.Cfg.Provider)
	}
	conv := conversation.New(model)
	if persona.Prompt != "" {
		conv.SetSystemPrompt(persona.Prompt)
	}

	client := modelclient.New(r.Provider, r.Cfg.MaxTokens, persona.Prompt)
	sink := &captureSink{}
	loop := agentloop.New(conv, client, harness, compactor.DefaultConfig(), sink)

	ec := registry.ExecContext{WorkDir: r.WorkDir, ToolContext: ctx}
	if err := loop.RunTurn(ctx, prompt, ec, noopAppState{}, r.allowedTools(persona), model); err != nil {
		return "", err
	}
	return strings.TrimSpace(sink.text.String()), nil
}

// allowedTools narrows the shared registry's description list to the
// persona's Tools allowlist (when set) minus anything its permission
// ruleset denies outright, per DisabledTools's "last matching rule wins"
// semantics.
func (r *Runner) allowedTools(persona *Agent) []registry.Description {
	all := r.Registry.DescribeAll()
	names := make([]string, len(all))
	for i, d := range all {
		names[i] = d.Name
	}
	disabled := DisabledTools(names, persona.Permission)

	var allowSet map[string]bool
	if len(persona.Tools) > 0 {
		allowSet = make(map[string]bool, len(persona.Tools))
		for _, t := range persona.Tools {
			allowSet[t] = true
		}
	}

	out := make([]registry.Description, 0, len(all))
	for _, d := range all {
		if disabled[d.Name] {
			continue
		}
		if allowSet != nil && !allowSet[d.Name] {
			continue
		}
		out = append(out, d)
	}
	return out
}

// actionOfPersona maps a tool name to a permission.Action the way
// cmd/agentcore's top-level actionOf does; subagents share the same
// action taxonomy, only their allowed-tool set differs.
func actionOfPersona(persona *Agent) func(string) permission.Action {
	return func(toolName string) permission.Action {
		switch toolName {
		case "bash":
			return permission.ActionBash
		case "read":
			return permission.ActionRead
		case "write":
			return permission.ActionWrite
		case "edit", "multiedit", "notebookedit":
			return permission.ActionEdit
		case "webfetch", "websearch":
			return permission.ActionNetwork
		default:
			return permission.ActionRead
		}
	}
}

// personaPermissionConfig allows by default: the persona's own Tools
// allowlist and Permission deny-rules (applied in allowedTools) are
// already the enforcement point, so the gate itself stays permissive —
// it exists to satisfy dispatch.Harness's required collaborator. With no
// per-action modes set, every action (bash and network included) resolves
// to allow unless a path-policy check or rule denies it.
func personaPermissionConfig(workDir string, persona *Agent) *permission.Config {
	cfg := permission.DefaultConfig(workDir)
	cfg.DefaultMode = permission.ModeAllow
	cfg.ActionModes = map[permission.Action]permission.Mode{}
	return cfg
}

// captureSink accumulates a subagent turn's text deltas; tool progress
// and completion are not surfaced to the parent Task caller.
type captureSink struct {
	text strings.Builder
}

func (s *captureSink) TextDelta(text string)                        { s.text.WriteString(text) }
func (s *captureSink) ToolProgress(string, map[string]any)           {}
func (s *captureSink) TurnComplete()                                 {}

type noopAppState struct{}

func (noopAppState) InputSubstitution(string, map[string]any) (map[string]any, bool) {
	return nil, false
}

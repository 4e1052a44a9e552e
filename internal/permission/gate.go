package permission

import (
	"path/filepath"
	"strings"
)

// Outcome is the tagged result of a gate decision, matching spec.md §4.C's
// four variants exactly: allow, allow_with_updated_input, deny, ask.
type Outcome string

const (
	OutcomeAllow       Outcome = "allow"
	OutcomeAllowUpdate Outcome = "allow_with_updated_input"
	OutcomeDeny        Outcome = "deny"
	OutcomeAsk         Outcome = "ask"
)

// Decision is the gate's return value. UpdatedInput is set only when
// Outcome == OutcomeAllowUpdate; the dispatch harness must use it in place
// of the original input and re-validate against the tool's schema (Open
// Question 4, resolved in DESIGN.md).
type Decision struct {
	Outcome      Outcome
	Reason       string
	UpdatedInput map[string]any
}

// AppState is the read-only accessor the gate consults — a snapshot of
// background tasks and permission policy, per spec.md §3's Execution
// Context. The gate never mutates it.
type AppState interface {
	// InputSubstitution allows a caller-registered policy hook to propose
	// a replacement input for a given tool call (e.g. normalizing a path).
	// Returning ok=false means no substitution applies.
	InputSubstitution(toolName string, input map[string]any) (updated map[string]any, ok bool)
}

// Gate resolves allow/deny/ask decisions against a RuleSet and Config. It
// holds no mutable state and performs no I/O beyond the pure rule
// evaluation described in spec.md §4.C.
type Gate struct {
	cfg     *Config
	rules   *RuleSet
	actionOf func(toolName string) Action
}

// New compiles the rule set and builds a Gate. actionOf maps a concrete
// tool name to the Action category its permission rules are keyed on
// (e.g. "edit" and "multiedit" both map to ActionEdit); nil defaults to an
// identity mapping.
func New(cfg *Config, actionOf func(toolName string) Action) (*Gate, error) {
	rs, err := NewRuleSet(cfg)
	if err != nil {
		return nil, err
	}
	if actionOf == nil {
		actionOf = func(toolName string) Action { return Action(toolName) }
	}
	return &Gate{cfg: cfg, rules: rs, actionOf: actionOf}, nil
}

// pathOrCommand extracts the single string the gate should match rules
// against, from a tool's input map. Tools that operate on neither a path
// nor a command (e.g. WebSearch's query) fall back to "*", matching
// nothing but the wildcard allow/deny rules.
func pathOrCommand(toolName string, input map[string]any) string {
	for _, key := range []string{"path", "file_path", "filePath", "notebook_path"} {
		if v, ok := input[key].(string); ok && v != "" {
			return v
		}
	}
	if toolName == "bash" || toolName == "bashoutput" || toolName == "killshell" {
		if v, ok := input["command"].(string); ok {
			return v
		}
	}
	if toolName == "webfetch" || toolName == "websearch" {
		if v, ok := input["url"].(string); ok {
			return v
		}
	}
	return "*"
}

// normalizePath cleans a path for §4.C's path-policy checks; rejecting
// traversal that survives cleaning is done by Check.
func normalizePath(path string) string {
	return filepath.Clean(path)
}

// Check resolves a decision for (toolName, input, appState). Resolution
// order, per spec.md §4.C: deny-rules first, then allow-rules, then the
// default mode for the tool's Action.
func (g *Gate) Check(toolName string, input map[string]any, state AppState) Decision {
	action := g.actionOf(toolName)
	target := pathOrCommand(toolName, input)

	// Path-policy checks apply regardless of action-level rules.
	if isPathLike(toolName, input) {
		normalized := normalizePath(target)
		if strings.Contains(target, "..") && strings.Contains(normalized, "..") {
			return Decision{Outcome: OutcomeDeny, Reason: "path traversal rejected after normalization"}
		}
		for _, prefix := range g.cfg.ForbiddenPrefixes {
			if strings.HasPrefix(normalized, prefix) {
				return Decision{Outcome: OutcomeDeny, Reason: "forbidden path prefix: " + prefix}
			}
		}
		if len(g.cfg.PathWhitelist) > 0 && (action == ActionWrite || action == ActionEdit) {
			allowed := false
			for _, prefix := range g.cfg.PathWhitelist {
				if strings.HasPrefix(normalized, prefix) {
					allowed = true
					break
				}
			}
			if !allowed {
				return Decision{Outcome: OutcomeDeny, Reason: "path outside whitelist"}
			}
		}
		if !g.cfg.AllowExternalDir && g.cfg.ProjectDir != "" && IsExternalPath(normalized, g.cfg.ProjectDir) {
			if mode := g.cfg.ActionModes[ActionExternalDir]; mode == ModeDeny {
				return Decision{Outcome: OutcomeDeny, Reason: "external directory access denied"}
			}
		}
	}

	// Deny-rules first (highest precedence).
	if action == ActionEdit || action == ActionWrite || action == ActionRead {
		if g.rules.IsPathDenied(target) {
			return Decision{Outcome: OutcomeDeny, Reason: "path matches deny rule"}
		}
	}
	if action == ActionBash {
		if g.rules.IsCommandDenied(target) {
			return Decision{Outcome: OutcomeDeny, Reason: "command matches deny rule"}
		}
	}

	// Then allow-rules.
	if action == ActionEdit || action == ActionWrite || action == ActionRead {
		if g.rules.IsPathAllowed(target) {
			return decisionWithSubstitution(toolName, input, state, Decision{Outcome: OutcomeAllow, Reason: "path matches allow rule"})
		}
	}
	if action == ActionBash {
		if g.rules.IsCommandAllowed(target) {
			return decisionWithSubstitution(toolName, input, state, Decision{Outcome: OutcomeAllow, Reason: "command matches allow rule"})
		}
	}

	// Default mode for this action, falling back to the gate default.
	mode, ok := g.cfg.ActionModes[action]
	if !ok {
		mode = g.cfg.DefaultMode
	}

	// In ask mode, a command on the well-known safe list is auto-approved
	// rather than prompting, same heuristic opencode-style agents use to
	// avoid nagging on `ls`/`git status`/etc.
	if action == ActionBash && mode == ModeAsk && IsSafeCommand(target) {
		return decisionWithSubstitution(toolName, input, state, Decision{Outcome: OutcomeAllow, Reason: "command matches safe-command heuristic"})
	}

	switch mode {
	case ModeAllow:
		return decisionWithSubstitution(toolName, input, state, Decision{Outcome: OutcomeAllow, Reason: "default mode allow"})
	case ModeDeny:
		return Decision{Outcome: OutcomeDeny, Reason: "default mode deny"}
	default:
		return Decision{Outcome: OutcomeAsk, Reason: "default mode ask"}
	}
}

func decisionWithSubstitution(toolName string, input map[string]any, state AppState, base Decision) Decision {
	if state == nil {
		return base
	}
	if updated, ok := state.InputSubstitution(toolName, input); ok {
		base.Outcome = OutcomeAllowUpdate
		base.UpdatedInput = updated
	}
	return base
}

func isPathLike(toolName string, input map[string]any) bool {
	for _, key := range []string{"path", "file_path", "filePath", "notebook_path"} {
		if _, ok := input[key]; ok {
			return true
		}
	}
	return false
}

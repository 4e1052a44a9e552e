// Package permission implements the Permission Gate of spec.md §4.C: a
// pure function from (toolName, input, appState) to an allow/deny/ask
// decision. Grounded on Dhanuzh-dcode's internal/permission package, with
// its async PromptFunc side effect removed — the spec requires the gate
// perform no I/O beyond reading policy; "ask" decisions are routed back to
// the caller (internal/dispatch's Harness) to consult the user, not resolved here.
package permission

// Mode is the default resolution applied when no explicit rule matches.
type Mode string

const (
	ModeAllow Mode = "allow"
	ModeDeny  Mode = "deny"
	ModeAsk   Mode = "ask"
)

// Action names a category of operation a rule can target, independent of
// any single tool name (e.g. all file-editing tools share "edit").
type Action string

const (
	ActionBash         Action = "bash"
	ActionRead         Action = "read"
	ActionWrite        Action = "write"
	ActionEdit         Action = "edit"
	ActionNetwork      Action = "network"
	ActionExternalDir  Action = "external_dir"
	ActionDoomLoop     Action = "doom_loop"
)

// Config holds the static policy the Gate resolves against. It is supplied
// once at construction and never mutated by Check — the gate is pure given
// this config plus the per-call AppState snapshot.
type Config struct {
	DefaultMode Mode

	// Per-action overrides of DefaultMode.
	ActionModes map[Action]Mode

	AllowedPaths    []string // glob patterns
	DeniedPaths     []string // glob patterns
	AllowedCommands []string // regex patterns
	DeniedCommands  []string // regex patterns

	// ForbiddenPrefixes are path prefixes that are always denied, even if
	// an allow-rule would otherwise match (system/secret paths).
	ForbiddenPrefixes []string

	// PathWhitelist, if non-empty, restricts Write/Edit to only these
	// prefixes.
	PathWhitelist []string

	AllowExternalDir bool
	ProjectDir       string
}

// DefaultConfig returns a conservative default: ask for everything that
// mutates state, allow reads.
func DefaultConfig(projectDir string) *Config {
	return &Config{
		DefaultMode: ModeAsk,
		ActionModes: map[Action]Mode{
			ActionRead: ModeAllow,
		},
		ProjectDir: projectDir,
		ForbiddenPrefixes: []string{
			"/etc/shadow", "/etc/passwd", "/root/.ssh", "/root/.aws",
		},
	}
}

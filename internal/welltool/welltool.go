// Package welltool builds the well-known tools named explicitly by
// spec.md §4.D as registry.Def values: Read, Write, Edit, MultiEdit,
// Grep, Bash, BashOutput, KillShell, WebFetch, WebSearch, Task, and
// NotebookEdit. Each constructor is grounded on the matching teacher
// file under internal/tool (read.go, write.go, edit.go, grep.go,
// webfetch.go, websearch.go, bash.go, task.go), rewritten against
// registry.Def/registry.ExecContext, internal/shell for process
// execution, internal/stream for HTTP transport, and
// internal/schema for JSON-Schema-validated input — replacing the
// teacher's bespoke field-by-field type assertions and its 9-strategy
// FuzzyReplace with the exact-substring matching spec.md §4.D requires.
package welltool

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/agentcore/core/internal/registry"
	"github.com/agentcore/core/internal/schema"
)

// mustValidate compiles schemaDoc and panics on a malformed literal —
// acceptable here because every schema is a compile-time constant
// authored alongside its tool, not user input.
func mustValidate(toolName string, schemaDoc map[string]any) func(map[string]any) []registry.Violation {
	v, err := schema.Compile(toolName, schemaDoc)
	if err != nil {
		panic(err)
	}
	return v
}

// resolvePath joins a possibly-relative path against the execution
// context's working directory, mirroring every teacher tool file's
// repeated "if !filepath.IsAbs(path)" check.
func resolvePath(ec registry.ExecContext, path string) string {
	if path == "" || filepath.IsAbs(path) || ec.WorkDir == "" {
		return path
	}
	return filepath.Join(ec.WorkDir, path)
}

// languageOf returns a markdown fence language hint for path's
// extension, used when building diff data for the UI collaborator.
func languageOf(path string) string {
	langs := map[string]string{
		".go": "go", ".js": "javascript", ".ts": "typescript", ".tsx": "tsx",
		".py": "python", ".rb": "ruby", ".rs": "rust", ".java": "java",
		".c": "c", ".cpp": "cpp", ".sh": "bash", ".yaml": "yaml", ".yml": "yaml",
		".json": "json", ".md": "markdown", ".html": "html", ".css": "css",
		".sql": "sql",
	}
	return langs[strings.ToLower(filepath.Ext(path))]
}

// SubagentRunner lets Task dispatch a real nested turn once the agent
// loop exists; nil means Task reports a placeholder message instead.
type SubagentRunner interface {
	RunSubagent(ctx context.Context, agentType, prompt string) (string, error)
}

// Register installs every well-known tool that needs no process/network
// dependency into reg under the "core" category. Bash/BashOutput/KillShell
// are registered separately via RegisterShellTools since they depend on
// an internal/shell.Supervisor and SessionPool.
func Register(reg *registry.Registry, runner SubagentRunner) error {
	history := NewReadHistory()
	defs := []*registry.Def{
		ReadDef(history),
		WriteDef(history),
		EditDef(),
		MultiEditDef(),
		GrepDef(),
		WebFetchDef(),
		WebSearchDef(),
		TaskDef(runner),
		NotebookEditDef(),
	}
	for _, d := range defs {
		if err := reg.Register(d, "core"); err != nil {
			return err
		}
	}
	return nil
}

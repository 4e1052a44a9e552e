package welltool

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agentcore/core/internal/registry"
)

const grepIgnoreFileName = ".coreignore"

// defaultExclusions is the VCS/build-output/dep-cache exclusion set of
// spec.md §4.D's Grep description, grounded on the teacher's ripgrep
// invocation (which relies on rg's own defaults) made explicit here
// since this module builds the glob list itself rather than delegating
// to ripgrep's bundled ignore rules.
var defaultExclusions = []string{
	".git", ".hg", ".svn",
	"node_modules", "vendor", "dist", "build", "target", ".next",
	".cache", "__pycache__", ".venv",
}

var grepSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"pattern":      map[string]any{"type": "string", "minLength": 1},
		"path":         map[string]any{"type": "string"},
		"glob":         map[string]any{"type": "string"},
		"type":         map[string]any{"type": "string"},
		"output_mode":  map[string]any{"type": "string", "enum": []any{"content", "files_with_matches", "count"}},
	},
	"required": []any{"pattern"},
}

// GrepDef builds the Grep tool: delegates to ripgrep, sorts
// files_with_matches by mtime descending, honors a default exclusion
// set plus a project-local ignore file, per spec.md §4.D. Grounded on
// Dhanuzh-dcode's tool/grep.go, which lacked the mtime sort and ignore
// file this module adds.
func GrepDef() *registry.Def {
	return &registry.Def{
		Name:            "grep",
		Description:     "Search file contents by regex via ripgrep. files_with_matches sorted by mtime descending.",
		Schema:          grepSchema,
		ReadOnly:        true,
		ConcurrencySafe: true,
		Validate:        mustValidate("grep", grepSchema),
		Invoke: func(ctx context.Context, ec registry.ExecContext, input map[string]any) <-chan registry.InvokeEvent {
			ch := make(chan registry.InvokeEvent, 1)
			go func() {
				defer close(ch)
				ch <- registry.InvokeEvent{Result: doGrep(ctx, ec, input)}
			}()
			return ch
		},
	}
}

func doGrep(ctx context.Context, ec registry.ExecContext, input map[string]any) *registry.Result {
	pattern, _ := input["pattern"].(string)
	searchPath := ec.WorkDir
	if v, _ := input["path"].(string); v != "" {
		searchPath = resolvePath(ec, v)
	}
	if searchPath == "" {
		searchPath = "."
	}
	mode, _ := input["output_mode"].(string)
	if mode == "" {
		mode = "files_with_matches"
	}

	args := []string{"--color=never", "--line-number", "--no-heading"}
	for _, ex := range append(defaultExclusions, readIgnoreFile(searchPath)...) {
		args = append(args, "--glob", "!"+ex)
	}
	if g, _ := input["glob"].(string); g != "" {
		args = append(args, "--glob", g)
	}
	if t, _ := input["type"].(string); t != "" {
		args = append(args, "--type", t)
	}
	if mode == "files_with_matches" {
		args = append(args, "--files-with-matches")
	} else if mode == "count" {
		args = append(args, "--count")
	}
	args = append(args, pattern, searchPath)

	out, err := exec.CommandContext(ctx, "rg", args...).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return &registry.Result{Output: "no matches found"}
		}
		return &registry.Result{Output: fmt.Sprintf("grep failed: %v\n%s", err, text), IsError: true}
	}
	if text == "" {
		return &registry.Result{Output: "no matches found"}
	}

	if mode == "files_with_matches" {
		return filesWithMatchesResult(text)
	}
	return &registry.Result{Output: text}
}

// filesWithMatchesResult sorts the rg --files-with-matches output by
// modification time descending, per spec.md §4.D.
func filesWithMatchesResult(rgOutput string) *registry.Result {
	files := strings.Split(rgOutput, "\n")
	type entry struct {
		path    string
		modTime int64
	}
	entries := make([]entry, 0, len(files))
	for _, f := range files {
		info, err := os.Stat(f)
		mt := int64(0)
		if err == nil {
			mt = info.ModTime().UnixNano()
		}
		entries = append(entries, entry{path: f, modTime: mt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].modTime > entries[j].modTime })

	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.path
	}
	return &registry.Result{Output: strings.Join(lines, "\n")}
}

// readIgnoreFile reads the project-local ignore file of spec.md §6,
// returning additional glob exclusions (lines starting with # are
// comments).
func readIgnoreFile(dir string) []string {
	f, err := os.Open(filepath.Join(dir, grepIgnoreFileName))
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

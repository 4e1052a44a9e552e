package welltool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentcore/core/internal/registry"
)

var writeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"path":    map[string]any{"type": "string"},
		"content": map[string]any{"type": "string"},
		"force":   map[string]any{"type": "boolean", "description": "bypass the read-before-overwrite check"},
	},
	"required": []any{"path", "content"},
}

// WriteDef builds the Write tool: refuses to overwrite a file that
// wasn't previously read in this session (unless force is set), and
// writes via a temp file + rename for atomicity, per spec.md §4.D.
// Grounded on Dhanuzh-dcode's tool/write.go, generalized from a bare
// os.WriteFile into the tmp+rename sequence the spec requires.
func WriteDef(history *ReadHistory) *registry.Def {
	return &registry.Def{
		Name:            "write",
		Description:     "Write content to a file, creating parent directories as needed. Refuses to overwrite a file not previously read unless force is set.",
		Schema:          writeSchema,
		ConcurrencySafe: true,
		Validate:        mustValidate("write", writeSchema),
		ConflictKey:     func(input map[string]any) string { p, _ := input["path"].(string); return "file:" + p },
		Invoke: func(ctx context.Context, ec registry.ExecContext, input map[string]any) <-chan registry.InvokeEvent {
			ch := make(chan registry.InvokeEvent, 1)
			go func() {
				defer close(ch)
				ch <- registry.InvokeEvent{Result: doWrite(ec, input, history)}
			}()
			return ch
		},
	}
}

func doWrite(ec registry.ExecContext, input map[string]any, history *ReadHistory) *registry.Result {
	path, _ := input["path"].(string)
	content, _ := input["content"].(string)
	force, _ := input["force"].(bool)
	path = resolvePath(ec, path)

	existed := false
	var oldContent string
	if data, err := os.ReadFile(path); err == nil {
		existed = true
		oldContent = string(data)
		if !force && !history.WasRead(ec.SessionID, path) {
			return &registry.Result{
				Output:  fmt.Sprintf("%s already exists and has not been read in this session; read it first or pass force=true", path),
				IsError: true,
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &registry.Result{Output: fmt.Sprintf("error creating directories: %v", err), IsError: true}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".write-*.tmp")
	if err != nil {
		return &registry.Result{Output: fmt.Sprintf("error creating temp file: %v", err), IsError: true}
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &registry.Result{Output: fmt.Sprintf("error writing file: %v", err), IsError: true}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &registry.Result{Output: fmt.Sprintf("error closing temp file: %v", err), IsError: true}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &registry.Result{Output: fmt.Sprintf("error renaming into place: %v", err), IsError: true}
	}

	action := "created"
	if existed {
		action = "updated"
	}
	lines := strings.Count(content, "\n") + 1
	res := &registry.Result{Output: fmt.Sprintf("%s %s (%d lines, %d bytes)", action, path, lines, len(content))}
	if existed {
		res.Data = map[string]any{"diff": map[string]any{
			"old": oldContent, "new": content, "path": path, "language": languageOf(path), "fragment": false,
		}}
	}
	return res
}

package welltool

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/agentcore/core/internal/corerr"
	"github.com/agentcore/core/internal/registry"
)

var editSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"path":        map[string]any{"type": "string"},
		"old_string":  map[string]any{"type": "string", "minLength": 1},
		"new_string":  map[string]any{"type": "string"},
		"replace_all": map[string]any{"type": "boolean"},
	},
	"required": []any{"path", "old_string", "new_string"},
}

// EditDef builds the Edit tool: exact-substring match, failing if
// old_string is absent or matches more than once without replace_all,
// per spec.md §4.D's explicit correction of the teacher's fuzzy
// replacement. Grounded on Dhanuzh-dcode's tool/edit.go, with
// FuzzyReplace's 9 fallback strategies dropped in favor of the exact
// match the spec names.
func EditDef() *registry.Def {
	return &registry.Def{
		Name:            "edit",
		Description:     "Find-and-replace an exact substring in a file. The match must be unique unless replace_all is set.",
		Schema:          editSchema,
		ConcurrencySafe: true,
		Validate:        mustValidate("edit", editSchema),
		ConflictKey:     func(input map[string]any) string { p, _ := input["path"].(string); return "file:" + p },
		Invoke: func(ctx context.Context, ec registry.ExecContext, input map[string]any) <-chan registry.InvokeEvent {
			ch := make(chan registry.InvokeEvent, 1)
			go func() {
				defer close(ch)
				ch <- registry.InvokeEvent{Result: doEdit(ec, input)}
			}()
			return ch
		},
	}
}

func doEdit(ec registry.ExecContext, input map[string]any) *registry.Result {
	path, _ := input["path"].(string)
	oldStr, _ := input["old_string"].(string)
	newStr, _ := input["new_string"].(string)
	replaceAll, _ := input["replace_all"].(bool)
	path = resolvePath(ec, path)

	data, err := os.ReadFile(path)
	if err != nil {
		return &registry.Result{Output: fmt.Sprintf("error reading file: %v", err), IsError: true}
	}

	newContent, err := exactReplace(string(data), oldStr, newStr, replaceAll)
	if err != nil {
		return &registry.Result{Output: fmt.Sprintf("%s: %v", path, err), IsError: true}
	}

	if err := os.WriteFile(path, []byte(newContent), 0o644); err != nil {
		return &registry.Result{Output: fmt.Sprintf("error writing file: %v", err), IsError: true}
	}

	return &registry.Result{
		Output: fmt.Sprintf("edited %s", path),
		Data: map[string]any{"diff": map[string]any{
			"old": oldStr, "new": newStr, "path": path, "language": languageOf(path), "fragment": true,
		}},
	}
}

// exactReplace implements spec.md §4.D's Edit semantics: old must be a
// substring; with replaceAll false, it must occur exactly once.
func exactReplace(content, old, new string, replaceAll bool) (string, error) {
	count := strings.Count(content, old)
	if count == 0 {
		return "", corerr.New(corerr.KindInvalidParameters, "welltool", "old_string not found in file")
	}
	if !replaceAll && count > 1 {
		return "", corerr.New(corerr.KindInvalidParameters, "welltool", fmt.Sprintf("old_string matches %d times; pass replace_all=true or add context to make it unique", count))
	}
	if replaceAll {
		return strings.ReplaceAll(content, old, new), nil
	}
	return strings.Replace(content, old, new, 1), nil
}

var multiEditSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"path": map[string]any{"type": "string"},
		"edits": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"old_string": map[string]any{"type": "string", "minLength": 1},
					"new_string": map[string]any{"type": "string"},
				},
				"required": []any{"old_string", "new_string"},
			},
			"minItems": 1,
		},
	},
	"required": []any{"path", "edits"},
}

// MultiEditDef builds the MultiEdit tool: applies edits sequentially
// against a single in-memory buffer and fails the whole batch on any
// miss, per spec.md §4.D. Grounded on Dhanuzh-dcode's tool/multiedit.go.
func MultiEditDef() *registry.Def {
	return &registry.Def{
		Name:            "multiedit",
		Description:     "Apply several exact-substring edits to one file sequentially; the whole batch fails if any edit cannot be applied.",
		Schema:          multiEditSchema,
		ConcurrencySafe: true,
		Validate:        mustValidate("multiedit", multiEditSchema),
		ConflictKey:     func(input map[string]any) string { p, _ := input["path"].(string); return "file:" + p },
		Invoke: func(ctx context.Context, ec registry.ExecContext, input map[string]any) <-chan registry.InvokeEvent {
			ch := make(chan registry.InvokeEvent, 1)
			go func() {
				defer close(ch)
				ch <- registry.InvokeEvent{Result: doMultiEdit(ec, input)}
			}()
			return ch
		},
	}
}

type editOp struct {
	Old, New string
}

func doMultiEdit(ec registry.ExecContext, input map[string]any) *registry.Result {
	path, _ := input["path"].(string)
	path = resolvePath(ec, path)

	edits, err := parseEdits(input["edits"])
	if err != nil {
		return &registry.Result{Output: err.Error(), IsError: true}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return &registry.Result{Output: fmt.Sprintf("error reading file: %v", err), IsError: true}
	}
	content := string(data)

	// Apply against a scratch buffer first: the whole batch fails on any
	// miss, so nothing is written unless every edit succeeds.
	scratch := content
	var diffs []map[string]any
	for i, e := range edits {
		next, err := exactReplace(scratch, e.Old, e.New, false)
		if err != nil {
			return &registry.Result{Output: fmt.Sprintf("edit %d of %d failed: %v", i+1, len(edits), err), IsError: true}
		}
		scratch = next
		diffs = append(diffs, map[string]any{"old": e.Old, "new": e.New, "path": path, "language": languageOf(path), "fragment": true})
	}

	if err := os.WriteFile(path, []byte(scratch), 0o644); err != nil {
		return &registry.Result{Output: fmt.Sprintf("error writing file: %v", err), IsError: true}
	}

	return &registry.Result{
		Output: fmt.Sprintf("applied %d edits to %s", len(edits), path),
		Data:   map[string]any{"diffs": diffs},
	}
}

func parseEdits(raw any) ([]editOp, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, corerr.New(corerr.KindInvalidParameters, "welltool", "edits must be an array")
	}
	out := make([]editOp, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, corerr.New(corerr.KindInvalidParameters, "welltool", "each edit must be an object")
		}
		old, _ := m["old_string"].(string)
		newS, _ := m["new_string"].(string)
		out = append(out, editOp{Old: old, New: newS})
	}
	return out, nil
}

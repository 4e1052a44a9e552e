package welltool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/agentcore/core/internal/corerr"
	"github.com/agentcore/core/internal/registry"
)

// notebookCell mirrors the subset of the Jupyter notebook cell schema
// this module needs to edit cells without disturbing fields it doesn't
// understand (outputs, execution_count, unrecognized metadata).
type notebookCell struct {
	ID             string          `json:"id,omitempty"`
	CellType       string          `json:"cell_type"`
	Source         json.RawMessage `json:"source"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	ExecutionCount json.RawMessage `json:"execution_count,omitempty"`
	Outputs        json.RawMessage `json:"outputs,omitempty"`
}

type notebookDoc struct {
	Cells         []notebookCell  `json:"cells"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	NBFormat      int             `json:"nbformat"`
	NBFormatMinor int             `json:"nbformat_minor"`
}

func cellSource(c notebookCell) string {
	var asString string
	if json.Unmarshal(c.Source, &asString) == nil {
		return asString
	}
	var asLines []string
	if json.Unmarshal(c.Source, &asLines) == nil {
		return strings.Join(asLines, "")
	}
	return ""
}

// notebookReadResult renders a notebook's cells as numbered, typed
// source blocks for the Read tool, per spec.md §4.D's notebook
// classification.
func notebookReadResult(path string, data []byte) *registry.Result {
	var doc notebookDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return &registry.Result{Output: fmt.Sprintf("error parsing notebook: %v", err), IsError: true}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d cells)\n\n", path, len(doc.Cells))
	for i, c := range doc.Cells {
		id := c.ID
		if id == "" {
			id = fmt.Sprintf("cell-%d", i)
		}
		fmt.Fprintf(&b, "--- [%d] %s (id=%s) ---\n%s\n\n", i, c.CellType, id, cellSource(c))
	}
	return &registry.Result{Output: strings.TrimSpace(b.String())}
}

var notebookEditSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"path":        map[string]any{"type": "string"},
		"cell_id":     map[string]any{"type": "string", "description": "target cell by id; falls back to cell_index if absent"},
		"cell_index":  map[string]any{"type": "integer", "minimum": 0},
		"new_source":  map[string]any{"type": "string"},
		"cell_type":   map[string]any{"type": "string", "enum": []any{"code", "markdown"}},
		"edit_mode":   map[string]any{"type": "string", "enum": []any{"replace", "insert", "delete"}},
	},
	"required": []any{"path", "edit_mode"},
}

// NotebookEditDef builds the NotebookEdit tool, absent from the
// teacher entirely: replace/insert/delete a cell by id or index,
// preserving unrelated cell metadata and execution counts, per
// spec.md §4.D.
func NotebookEditDef() *registry.Def {
	return &registry.Def{
		Name:            "notebookedit",
		Description:     "Replace, insert, or delete a cell in a Jupyter notebook by id or index.",
		Schema:          notebookEditSchema,
		ConcurrencySafe: true,
		Validate:        mustValidate("notebookedit", notebookEditSchema),
		ConflictKey:     func(input map[string]any) string { p, _ := input["path"].(string); return "file:" + p },
		Invoke: func(ctx context.Context, ec registry.ExecContext, input map[string]any) <-chan registry.InvokeEvent {
			ch := make(chan registry.InvokeEvent, 1)
			go func() {
				defer close(ch)
				ch <- registry.InvokeEvent{Result: doNotebookEdit(ec, input)}
			}()
			return ch
		},
	}
}

func doNotebookEdit(ec registry.ExecContext, input map[string]any) *registry.Result {
	path, _ := input["path"].(string)
	path = resolvePath(ec, path)
	mode, _ := input["edit_mode"].(string)
	cellID, _ := input["cell_id"].(string)
	cellIndex, hasIndex := asInt(input["cell_index"])
	newSource, _ := input["new_source"].(string)
	cellType, _ := input["cell_type"].(string)

	data, err := os.ReadFile(path)
	if err != nil {
		return &registry.Result{Output: fmt.Sprintf("error reading notebook: %v", err), IsError: true}
	}
	var doc notebookDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return &registry.Result{Output: fmt.Sprintf("error parsing notebook: %v", err), IsError: true}
	}

	idx, err := resolveCellIndex(doc, cellID, cellIndex, hasIndex, mode)
	if err != nil {
		return &registry.Result{Output: err.Error(), IsError: true}
	}

	switch mode {
	case "delete":
		doc.Cells = append(doc.Cells[:idx], doc.Cells[idx+1:]...)
	case "insert":
		if cellType == "" {
			cellType = "code"
		}
		newCell := notebookCell{CellType: cellType, Source: mustMarshalSource(newSource)}
		doc.Cells = append(doc.Cells[:idx], append([]notebookCell{newCell}, doc.Cells[idx:]...)...)
	case "replace":
		c := doc.Cells[idx]
		c.Source = mustMarshalSource(newSource)
		if cellType != "" {
			c.CellType = cellType
		}
		doc.Cells[idx] = c
	default:
		return &registry.Result{Output: fmt.Sprintf("unknown edit_mode: %s", mode), IsError: true}
	}

	out, err := json.MarshalIndent(doc, "", " ")
	if err != nil {
		return &registry.Result{Output: fmt.Sprintf("error encoding notebook: %v", err), IsError: true}
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return &registry.Result{Output: fmt.Sprintf("error writing notebook: %v", err), IsError: true}
	}

	return &registry.Result{Output: fmt.Sprintf("%s cell %d in %s", mode, idx, path)}
}

func mustMarshalSource(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}

func resolveCellIndex(doc notebookDoc, cellID string, cellIndex int, hasIndex bool, mode string) (int, error) {
	if cellID != "" {
		for i, c := range doc.Cells {
			if c.ID == cellID {
				return i, nil
			}
		}
		return 0, corerr.New(corerr.KindInvalidParameters, "welltool", fmt.Sprintf("no cell with id %q", cellID))
	}
	if hasIndex {
		max := len(doc.Cells) - 1
		if mode == "insert" {
			max = len(doc.Cells)
		}
		if cellIndex < 0 || cellIndex > max {
			return 0, corerr.New(corerr.KindInvalidParameters, "welltool", fmt.Sprintf("cell_index %d out of range (0-%d)", cellIndex, max))
		}
		return cellIndex, nil
	}
	return 0, corerr.New(corerr.KindInvalidParameters, "welltool", "either cell_id or cell_index is required")
}

package welltool

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/agentcore/core/internal/registry"
)

const (
	defaultReadOffset   = 1
	defaultReadLimit    = 2000
	maxReadOutputBytes  = 20 * 1024
	perLineTruncateCols = 2000
)

// ReadHistory tracks, per session, which absolute paths have been read —
// Write consults it to enforce read-before-overwrite, per spec.md §4.D's
// Read/Write description.
type ReadHistory struct {
	mu    sync.Mutex
	seen  map[string]map[string]bool // sessionID -> path -> true
}

// NewReadHistory constructs an empty tracker.
func NewReadHistory() *ReadHistory {
	return &ReadHistory{seen: make(map[string]map[string]bool)}
}

func (h *ReadHistory) mark(sessionID, path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seen[sessionID] == nil {
		h.seen[sessionID] = make(map[string]bool)
	}
	h.seen[sessionID][path] = true
}

// WasRead reports whether path has been read in sessionID.
func (h *ReadHistory) WasRead(sessionID, path string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seen[sessionID] != nil && h.seen[sessionID][path]
}

var readSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"path":   map[string]any{"type": "string"},
		"offset": map[string]any{"type": "integer", "minimum": 1},
		"limit":  map[string]any{"type": "integer", "minimum": 1},
	},
	"required": []any{"path"},
}

// ReadDef builds the Read tool: offset/limit text reading with
// text/image/notebook/binary classification and per-line truncation,
// per spec.md §4.D. Grounded on Dhanuzh-dcode's tool/read.go. history is
// shared with WriteDef so Write can enforce read-before-overwrite.
func ReadDef(history *ReadHistory) *registry.Def {
	return &registry.Def{
		Name:            "read",
		Description:     "Read file contents with optional offset/limit. Classifies text, image, notebook, and binary files.",
		Schema:          readSchema,
		ReadOnly:        true,
		ConcurrencySafe: true,
		Validate:        mustValidate("read", readSchema),
		ConflictKey:     func(input map[string]any) string { return "" }, // reads never conflict
		Invoke: func(ctx context.Context, ec registry.ExecContext, input map[string]any) <-chan registry.InvokeEvent {
			ch := make(chan registry.InvokeEvent, 1)
			go func() {
				defer close(ch)
				ch <- registry.InvokeEvent{Result: doRead(ec, input, history)}
			}()
			return ch
		},
	}
}

func doRead(ec registry.ExecContext, input map[string]any, history *ReadHistory) *registry.Result {
	path, _ := input["path"].(string)
	path = resolvePath(ec, path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &registry.Result{Output: fileNotFoundMessage(path), IsError: true}
		}
		return &registry.Result{Output: fmt.Sprintf("error reading file: %v", err), IsError: true}
	}
	history.mark(ec.SessionID, path)

	ext := strings.ToLower(filepath.Ext(path))
	switch classifyFile(ext, data) {
	case classImage:
		return imageResult(path, data, mimeOf(ext))
	case classNotebook:
		return notebookReadResult(path, data)
	case classBinary:
		return &registry.Result{Output: fmt.Sprintf("cannot read binary file: %s", path), IsError: true}
	default:
		return textReadResult(path, data, input)
	}
}

type fileClass int

const (
	classText fileClass = iota
	classImage
	classNotebook
	classBinary
)

func classifyFile(ext string, data []byte) fileClass {
	if ext == ".ipynb" {
		return classNotebook
	}
	mime := mimeOf(ext)
	if strings.HasPrefix(mime, "image/") && mime != "image/svg+xml" {
		return classImage
	}
	if isBinary(ext, data) {
		return classBinary
	}
	return classText
}

func imageResult(path string, data []byte, mime string) *registry.Result {
	b64 := base64.StdEncoding.EncodeToString(data)
	return &registry.Result{
		Output: "image read successfully",
		Data: map[string]any{
			"attachment": map[string]any{
				"mime": mime,
				"url":  fmt.Sprintf("data:%s;base64,%s", mime, b64),
				"name": filepath.Base(path),
			},
		},
	}
}

func textReadResult(path string, data []byte, input map[string]any) *registry.Result {
	lines := strings.Split(string(data), "\n")

	offset := defaultReadOffset
	if v, ok := asInt(input["offset"]); ok && v > 0 {
		offset = v
	}
	limit := defaultReadLimit
	if v, ok := asInt(input["limit"]); ok && v > 0 {
		limit = v
	}

	start := offset - 1
	if start < 0 {
		start = 0
	}
	if start >= len(lines) {
		return &registry.Result{Output: fmt.Sprintf("offset %d exceeds file length (%d lines)", offset, len(lines))}
	}
	end := start + limit
	if end > len(lines) {
		end = len(lines)
	}

	numbered := make([]string, 0, end-start)
	for i, line := range lines[start:end] {
		if len(line) > perLineTruncateCols {
			line = line[:perLineTruncateCols] + "…"
		}
		numbered = append(numbered, fmt.Sprintf("%6d\t%s", start+i+1, line))
	}
	body := strings.Join(numbered, "\n")
	truncated := false
	if len(body) > maxReadOutputBytes {
		body = body[:maxReadOutputBytes]
		truncated = true
	}

	header := fmt.Sprintf("%s (%d lines total, showing %d-%d)\n", path, len(lines), start+1, end)
	if truncated {
		header += "[output truncated]\n"
	}
	return &registry.Result{Output: header + body}
}

func fileNotFoundMessage(path string) string {
	dir := filepath.Dir(path)
	entries, _ := os.ReadDir(dir)
	base := strings.ToLower(filepath.Base(path))
	prefix := base
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	var suggestions []string
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Name()), prefix) {
			suggestions = append(suggestions, e.Name())
		}
	}
	msg := fmt.Sprintf("file not found: %s", path)
	if len(suggestions) > 0 {
		msg += "\ndid you mean: " + strings.Join(suggestions, ", ")
	}
	return msg
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// Package registry implements the Tool Registry of spec.md §4.B: a
// name→definition map plus alias and category indices. Grounded on
// Dhanuzh-dcode's internal/tool.Registry, generalized away from its
// package-level singleton (GetRegistry/sync.Once) into an
// explicitly-constructed, dependency-injected type, per the
// no-global-singletons design note.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/agentcore/core/internal/corerr"
)

// Violation is one semantic validation failure surfaced by a tool's
// Validate operation, per spec.md §4.D step 2.
type Violation struct {
	Field   string
	Message string
}

// ProgressEvent is one intermediate event a tool's Invoke operation may
// emit before its terminal Result, per §4.D step 5's "generator" shape.
type ProgressEvent struct {
	Data map[string]any
}

// Result is the terminal value of a tool invocation, consumed by
// FormatResult to produce a tool_result content block.
type Result struct {
	Output  string
	IsError bool
	Data    map[string]any
}

// InvokeEvent is one value sent on the channel returned by Invoke: either
// a progress event, or (exactly once, terminal) a result or error.
type InvokeEvent struct {
	Progress *ProgressEvent
	Result   *Result
	Err      error
}

// ExecContext is the per-invocation bundle passed into a tool's
// operations, per spec.md §3's Execution Context.
type ExecContext struct {
	SessionID   string
	WorkDir     string
	Env         map[string]string
	AppState    any // read/write snapshot accessor; concrete shape owned by the caller
	ToolContext context.Context
}

// Def is a Tool Definition, per spec.md §3: immutable after registration,
// carrying capability flags and the four operations every tool exposes.
type Def struct {
	Name            string
	Description     string
	Schema          map[string]any
	ReadOnly        bool
	ConcurrencySafe bool

	Validate         func(input map[string]any) []Violation
	CheckPermissions func(ctx ExecContext, input map[string]any) (override bool, allow bool, reason string)
	Invoke           func(ctx context.Context, ec ExecContext, input map[string]any) <-chan InvokeEvent
	FormatResult     func(res *Result) map[string]any

	// ConflictKey serializes input into a string identifying a conflicting
	// resource (e.g. a file path), so the harness's parallel executor can
	// serialize invocations that would race even when ConcurrencySafe is
	// otherwise true for the tool in general. Nil means no conflict tracking.
	ConflictKey func(input map[string]any) string
}

// Description is the safe, model-facing subset of a Def, per §4.B's
// "metadata query returns a safe description."
type Description struct {
	Name        string
	Description string
	Schema      map[string]any
}

type record struct {
	def      *Def
	category string
	enabled  bool
}

// Registry maintains name→record, alias→canonical-name, and
// category→name[] indices, per spec.md §4.B. Constructed explicitly per
// caller rather than exposed as a package-level global.
type Registry struct {
	mu         sync.RWMutex
	byName     map[string]*record
	aliases    map[string]string
	categories map[string]map[string]struct{}
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{
		byName:     make(map[string]*record),
		aliases:    make(map[string]string),
		categories: make(map[string]map[string]struct{}),
	}
}

// Register adds def under category, with the given aliases. Duplicate
// registration of the same name fails.
func (r *Registry) Register(def *Def, category string, aliases ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[def.Name]; exists {
		return corerr.New(corerr.KindInvalidParameters, "registry", "tool already registered").WithTool(def.Name)
	}

	r.byName[def.Name] = &record{def: def, category: category, enabled: true}
	if r.categories[category] == nil {
		r.categories[category] = make(map[string]struct{})
	}
	r.categories[category][def.Name] = struct{}{}
	for _, a := range aliases {
		r.aliases[a] = def.Name
	}
	return nil
}

// Unregister removes name entirely, including its aliases and category
// membership. Unlike SetEnabled, this is a permanent removal.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byName[name]
	if !ok {
		return corerr.New(corerr.KindToolNotFound, "registry", "no such tool").WithTool(name)
	}
	delete(r.byName, name)
	delete(r.categories[rec.category], name)
	for alias, canonical := range r.aliases {
		if canonical == name {
			delete(r.aliases, alias)
		}
	}
	return nil
}

// Resolve looks up name, following the alias table first, per §4.B.
// Disabled tools still resolve (the toggle hides rather than removes
// them) — callers that must respect the toggle check Resolve's second
// result, the enabled flag.
func (r *Registry) Resolve(name string) (*Def, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	canonical := name
	if target, ok := r.aliases[name]; ok {
		canonical = target
	}
	rec, ok := r.byName[canonical]
	if !ok {
		return nil, false, corerr.New(corerr.KindToolNotFound, "registry", "no such tool").WithTool(name)
	}
	return rec.def, rec.enabled, nil
}

// SetEnabled toggles name without removing its registration record.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byName[name]
	if !ok {
		return corerr.New(corerr.KindToolNotFound, "registry", "no such tool").WithTool(name)
	}
	rec.enabled = enabled
	return nil
}

// Describe returns the model-facing safe description of name.
func (r *Registry) Describe(name string) (Description, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byName[name]
	if !ok {
		return Description{}, corerr.New(corerr.KindToolNotFound, "registry", "no such tool").WithTool(name)
	}
	return Description{Name: rec.def.Name, Description: rec.def.Description, Schema: rec.def.Schema}, nil
}

// ListByCategory returns the (sorted) tool names registered under
// category.
func (r *Registry) ListByCategory(category string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.categories[category]))
	for name := range r.categories[category] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DescribeAll returns safe descriptions for every enabled tool, sorted by
// name, suitable for inclusion in a model prompt's tool list.
func (r *Registry) DescribeAll() []Description {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Description, 0, len(r.byName))
	for _, rec := range r.byName {
		if !rec.enabled {
			continue
		}
		out = append(out, Description{Name: rec.def.Name, Description: rec.def.Description, Schema: rec.def.Schema})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

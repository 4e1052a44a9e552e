// Package corerr defines the error taxonomy shared by every component of
// the execution substrate. Callers classify and branch on Kind, never on
// error message text.
package corerr

import (
	"fmt"
	"regexp"
	"time"
)

// Kind enumerates the taxonomy of §7. Every error that crosses a component
// boundary carries exactly one Kind.
type Kind string

const (
	KindInvalidParameters  Kind = "invalid_parameters"
	KindPermissionDenied   Kind = "permission_denied"
	KindToolNotFound       Kind = "tool_not_found"
	KindForbiddenPath      Kind = "forbidden_path"
	KindTimeout            Kind = "timeout"
	KindCancelled          Kind = "cancelled"
	KindExecutionFailed    Kind = "execution_failed"
	KindNetwork            Kind = "network"
	KindRateLimit          Kind = "rate_limit"
	KindServerTransient    Kind = "server_transient"
	KindServerOverloaded   Kind = "server_overloaded"
	KindClientError        Kind = "client_error"
	KindCircuitOpen        Kind = "circuit_open"
	KindParseError         Kind = "parse_error"
	KindMaxRetriesExceeded Kind = "max_retries_exceeded"
	KindValidation         Kind = "validation"
)

// retryable records whether each Kind is retryable by default, per §7's table.
var retryable = map[Kind]bool{
	KindInvalidParameters:  false,
	KindPermissionDenied:   false,
	KindToolNotFound:       false,
	KindForbiddenPath:      false,
	KindTimeout:            true,
	KindCancelled:          false,
	KindExecutionFailed:    false, // "sometimes" — callers override via Error.Retryable
	KindNetwork:            true,
	KindRateLimit:          true,
	KindServerTransient:    true,
	KindServerOverloaded:   true,
	KindClientError:        false,
	KindCircuitOpen:        true,
	KindParseError:         false,
	KindMaxRetriesExceeded: false,
	KindValidation:         false,
}

// Suggestion is the structured hint attached to user-visible errors, e.g.
// a human-readable wait time for rate limiting. The core never formats
// prose for the end user beyond this; presentation belongs to the UI
// collaborator (out of scope, per spec.md §1).
type Suggestion struct {
	Text       string        `json:"text"`
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
}

// Error is the uniform error envelope produced at every component boundary.
// It carries id, timestamp, the originating phase/component, and redacted
// input, as required by §7.
type Error struct {
	Kind      Kind       `json:"kind"`
	Message   string     `json:"message"`
	Component string     `json:"component"`
	Phase     string     `json:"phase,omitempty"`
	ToolName  string     `json:"toolName,omitempty"`
	Input     any        `json:"input,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Retryable bool       `json:"retryable"`
	Suggest   Suggestion `json:"suggestion,omitempty"`
	Cause     error      `json:"-"`
}

func (e *Error) Error() string {
	if e.ToolName != "" {
		return fmt.Sprintf("%s: %s (%s)", e.ToolName, e.Message, e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind, defaulting Retryable from the
// taxonomy table and stamping the current time.
func New(kind Kind, component, message string) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Component: component,
		Timestamp: time.Now(),
		Retryable: retryable[kind],
	}
}

// Wrap attaches kind/component/phase to an underlying error, preserving it
// via Unwrap.
func Wrap(kind Kind, component, phase string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Message:   cause.Error(),
		Component: component,
		Phase:     phase,
		Timestamp: time.Now(),
		Retryable: retryable[kind],
		Cause:     cause,
	}
}

func (e *Error) WithTool(name string) *Error {
	e.ToolName = name
	return e
}

func (e *Error) WithPhase(phase string) *Error {
	e.Phase = phase
	return e
}

func (e *Error) WithInput(input any) *Error {
	e.Input = Redact(input)
	return e
}

func (e *Error) WithSuggestion(s Suggestion) *Error {
	e.Suggest = s
	return e
}

// IsRetryable reports whether the error should be retried by §4.G, honoring
// an explicit override on KindExecutionFailed.
func IsRetryable(err error) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Retryable
}

// KindOf extracts the Kind from an error, or "" if it is not a *Error.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return ""
}

// secretKeyPattern matches parameter keys that must be redacted, per §7's
// redaction rule: case-insensitive substring match against this list.
var secretKeyPattern = regexp.MustCompile(`(?i)(password|token|key|secret|credential)`)

const redactionMarker = "[REDACTED]"

// Redact walks a tool-input-shaped value (map[string]any, typically decoded
// from JSON) and replaces values whose key matches secretKeyPattern. Other
// value shapes are returned unchanged — redaction only applies to the
// structured tool-input case named by §7.
func Redact(input any) any {
	m, ok := input.(map[string]any)
	if !ok {
		return input
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if secretKeyPattern.MatchString(k) {
			out[k] = redactionMarker
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = Redact(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// StripHomePrefix removes a leading home-directory prefix from a filesystem
// path appearing in an error record or log line, per §7's redaction rule
// for stack frames.
func StripHomePrefix(path, home string) string {
	if home == "" || len(path) < len(home) {
		return path
	}
	if path[:len(home)] == home {
		return "~" + path[len(home):]
	}
	return path
}

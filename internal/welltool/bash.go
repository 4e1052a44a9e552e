package welltool

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/agentcore/core/internal/registry"
	"github.com/agentcore/core/internal/shell"
)

const defaultBashDeadline = 120 * time.Second

var bashSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"command":     map[string]any{"type": "string", "minLength": 1},
		"timeout_ms":  map[string]any{"type": "integer", "minimum": 1},
		"run_in_background": map[string]any{"type": "boolean"},
	},
	"required": []any{"command"},
}

// BashDef builds the Bash tool over a shell.Supervisor: foreground runs
// block until completion (or the deadline fires); run_in_background
// launches and returns a task id immediately, per spec.md §4.E.
// Grounded on Dhanuzh-dcode's tool/bash.go, generalized onto the
// Supervisor the teacher lacked.
func BashDef(supervisor *shell.Supervisor) *registry.Def {
	return &registry.Def{
		Name:        "bash",
		Description: "Run a shell command. Set run_in_background to launch it asynchronously and poll with bashoutput.",
		Schema:      bashSchema,
		Validate:    mustValidate("bash", bashSchema),
		Invoke: func(ctx context.Context, ec registry.ExecContext, input map[string]any) <-chan registry.InvokeEvent {
			ch := make(chan registry.InvokeEvent, 1)
			go func() {
				defer close(ch)
				ch <- registry.InvokeEvent{Result: doBash(ctx, ec, input, supervisor)}
			}()
			return ch
		},
	}
}

func doBash(ctx context.Context, ec registry.ExecContext, input map[string]any, supervisor *shell.Supervisor) *registry.Result {
	command, _ := input["command"].(string)
	background, _ := input["run_in_background"].(bool)
	deadline := defaultBashDeadline
	if ms, ok := asInt(input["timeout_ms"]); ok && ms > 0 {
		deadline = time.Duration(ms) * time.Millisecond
	}

	opts := shell.ForegroundOptions{Command: command, WorkDir: ec.WorkDir, Deadline: deadline}

	if background {
		id, err := supervisor.Launch(ctx, opts)
		if err != nil {
			return &registry.Result{Output: err.Error(), IsError: true}
		}
		return &registry.Result{Output: fmt.Sprintf("launched background task %s", id), Data: map[string]any{"task_id": id}}
	}

	res, err := shell.RunForeground(ctx, opts)
	if err != nil {
		return &registry.Result{Output: err.Error(), IsError: true}
	}
	return bashForegroundResult(res)
}

func bashForegroundResult(res shell.Result) *registry.Result {
	output := string(res.Stdout)
	if len(res.Stderr) > 0 {
		output += "\n--- stderr ---\n" + string(res.Stderr)
	}
	isError := res.ExitCode != 0 || res.Reason == shell.ReasonTimeout
	if res.Reason == shell.ReasonTimeout {
		output += "\n[command timed out after exceeding its deadline]"
	}
	return &registry.Result{
		Output:  output,
		IsError: isError,
		Data: map[string]any{
			"exit_code": res.ExitCode,
			"signal":    res.Signal,
			"reason":    string(res.Reason),
		},
	}
}

var bashOutputSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"task_id": map[string]any{"type": "string", "minLength": 1},
		"filter":  map[string]any{"type": "string", "description": "regex applied to each line before truncation"},
	},
	"required": []any{"task_id"},
}

// BashOutputDef builds the BashOutput tool: retrieves a background
// task's current output without disturbing it, per spec.md §4.E.
func BashOutputDef(supervisor *shell.Supervisor) *registry.Def {
	return &registry.Def{
		Name:            "bashoutput",
		Description:     "Fetch a background task's current stdout/stderr and status.",
		Schema:          bashOutputSchema,
		ReadOnly:        true,
		ConcurrencySafe: true,
		Validate:        mustValidate("bashoutput", bashOutputSchema),
		Invoke: func(ctx context.Context, ec registry.ExecContext, input map[string]any) <-chan registry.InvokeEvent {
			ch := make(chan registry.InvokeEvent, 1)
			go func() {
				defer close(ch)
				ch <- registry.InvokeEvent{Result: doBashOutput(input, supervisor)}
			}()
			return ch
		},
	}
}

func doBashOutput(input map[string]any, supervisor *shell.Supervisor) *registry.Result {
	taskID, _ := input["task_id"].(string)
	var filter *regexp.Regexp
	if pat, _ := input["filter"].(string); pat != "" {
		re, err := regexp.Compile(pat)
		if err != nil {
			return &registry.Result{Output: fmt.Sprintf("invalid filter regex: %v", err), IsError: true}
		}
		filter = re
	}

	res, err := supervisor.BashOutput(taskID, filter)
	if err != nil {
		return &registry.Result{Output: err.Error(), IsError: true}
	}

	output := fmt.Sprintf("status: %s\n%s", res.Status, res.Stdout)
	if res.Stderr != "" {
		output += "\n--- stderr ---\n" + res.Stderr
	}
	if res.Truncated {
		output += "\n[output truncated]"
	}
	return &registry.Result{
		Output: output,
		Data: map[string]any{
			"status":    string(res.Status),
			"exit_code": res.ExitCode,
			"signal":    res.Signal,
			"truncated": res.Truncated,
		},
	}
}

var killShellSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"task_id": map[string]any{"type": "string", "minLength": 1},
	},
	"required": []any{"task_id"},
}

// KillShellDef builds the KillShell tool: terminates a running
// background task, per spec.md §4.E.
func KillShellDef(supervisor *shell.Supervisor) *registry.Def {
	return &registry.Def{
		Name:        "killshell",
		Description: "Terminate a running background task by id.",
		Schema:      killShellSchema,
		Validate:    mustValidate("killshell", killShellSchema),
		Invoke: func(ctx context.Context, ec registry.ExecContext, input map[string]any) <-chan registry.InvokeEvent {
			ch := make(chan registry.InvokeEvent, 1)
			go func() {
				defer close(ch)
				taskID, _ := input["task_id"].(string)
				if err := supervisor.KillShell(taskID); err != nil {
					ch <- registry.InvokeEvent{Result: &registry.Result{Output: err.Error(), IsError: true}}
					return
				}
				ch <- registry.InvokeEvent{Result: &registry.Result{Output: fmt.Sprintf("killed task %s", taskID)}}
			}()
			return ch
		},
	}
}

// RegisterShellTools installs Bash, BashOutput, and KillShell into reg
// under the "core" category, wired against a single shared Supervisor.
func RegisterShellTools(reg *registry.Registry, supervisor *shell.Supervisor) error {
	defs := []*registry.Def{
		BashDef(supervisor),
		BashOutputDef(supervisor),
		KillShellDef(supervisor),
	}
	for _, d := range defs {
		if err := reg.Register(d, "core"); err != nil {
			return err
		}
	}
	return nil
}

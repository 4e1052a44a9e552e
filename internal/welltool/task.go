package welltool

import (
	"context"
	"fmt"

	"github.com/agentcore/core/internal/registry"
)

var taskSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"prompt": map[string]any{"type": "string", "minLength": 1},
		"agent":  map[string]any{"type": "string", "enum": []any{"explorer", "researcher"}},
	},
	"required": []any{"prompt"},
}

// TaskDef builds the Task tool: spawns a nested sub-agent turn via
// runner when non-nil, per spec.md §4.J's note that Task recurses into
// the agent loop with its own tool budget. When runner is nil (the
// agent loop isn't wired up yet), reports a placeholder, matching
// Dhanuzh-dcode's tool/task.go stub until the session engine existed.
func TaskDef(runner SubagentRunner) *registry.Def {
	return &registry.Def{
		Name:            "task",
		Description:     "Spawn a subtask as a separate agent session for parallel work.",
		Schema:          taskSchema,
		ConcurrencySafe: true,
		Validate:        mustValidate("task", taskSchema),
		Invoke: func(ctx context.Context, ec registry.ExecContext, input map[string]any) <-chan registry.InvokeEvent {
			ch := make(chan registry.InvokeEvent, 1)
			go func() {
				defer close(ch)
				ch <- registry.InvokeEvent{Result: doTask(ctx, input, runner)}
			}()
			return ch
		},
	}
}

func doTask(ctx context.Context, input map[string]any, runner SubagentRunner) *registry.Result {
	prompt, _ := input["prompt"].(string)
	agentType, _ := input["agent"].(string)
	if agentType == "" {
		agentType = "explorer"
	}

	if runner == nil {
		return &registry.Result{
			Output: fmt.Sprintf("[task spawned] agent: %s\nprompt: %s\n\nsubtask execution requires a wired subagent runner", agentType, prompt),
		}
	}

	out, err := runner.RunSubagent(ctx, agentType, prompt)
	if err != nil {
		return &registry.Result{Output: fmt.Sprintf("subtask failed: %v", err), IsError: true}
	}
	return &registry.Result{Output: out}
}

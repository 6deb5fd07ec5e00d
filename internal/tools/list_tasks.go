package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// ListTasksTool is a read-only introspection tool, additive to the core
// five: it lets the model re-check the current ordered task list mid-turn
// without forcing a context rebuild, since it never mutates anything.
type ListTasksTool struct{}

func (t *ListTasksTool) Name() string { return "list_tasks" }

func (t *ListTasksTool) Description() string {
	return "List the session's current tasks in order, with their id, order, status, and description."
}

func (t *ListTasksTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *ListTasksTool) InvalidatesContext() bool { return false }

type taskSummary struct {
	ID          string `json:"id"`
	Order       int    `json:"order"`
	Status      string `json:"status"`
	Description string `json:"description"`
}

func (t *ListTasksTool) Execute(ctx context.Context, tc *TaskContext, args map[string]any) *Result {
	summaries := make([]taskSummary, 0, len(tc.TaskIDsIndex))
	for _, id := range tc.TaskIDsIndex {
		task := tc.TaskIndex[id]
		summaries = append(summaries, taskSummary{
			ID:          task.ID.String(),
			Order:       task.Order,
			Status:      string(task.Status),
			Description: task.Description(),
		})
	}
	out, err := json.Marshal(summaries)
	if err != nil {
		return ErrorResult("list_tasks failed to marshal result", err)
	}
	return SilentResult(fmt.Sprintf("%s", out))
}

package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/taskloom/internal/model"
	"github.com/nextlevelbuilder/taskloom/internal/store/pg"
)

// InsertTaskTool creates a new task at after_order+1, shifting later tasks
// down one slot (§4.2's sign-flip reorder, §4.3's table row 1).
type InsertTaskTool struct{}

func (t *InsertTaskTool) Name() string { return "insert_task" }

func (t *InsertTaskTool) Description() string {
	return "Insert a new task into the session's ordered task list, immediately after the task at the given position. Use after_task_order=0 to insert at the head."
}

func (t *InsertTaskTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"after_task_order": map[string]any{
				"type":        "integer",
				"description": "Existing task_order to insert after; 0 inserts at the head of the list.",
			},
			"task_description": map[string]any{
				"type":        "string",
				"description": "Short human-readable description of the task.",
			},
		},
		"required": []string{"after_task_order", "task_description"},
	}
}

func (t *InsertTaskTool) InvalidatesContext() bool { return true }

func (t *InsertTaskTool) Execute(ctx context.Context, tc *TaskContext, args map[string]any) *Result {
	afterOrder, err := argInt(args, "after_task_order", true, 0)
	if err != nil {
		return ErrorResult(err.Error(), err)
	}
	description, err := argString(args, "task_description", true)
	if err != nil {
		return ErrorResult(err.Error(), err)
	}

	data := map[string]any{"task_description": description}
	created, err := pg.InsertTaskTx(ctx, tc.Tx, tc.SessionID, afterOrder, data, model.StatusPending)
	if err != nil {
		return ErrorResult(fmt.Sprintf("insert_task failed: %v", err), err)
	}
	return NewResult(fmt.Sprintf("inserted task %s at order %d", created.ID, created.Order))
}

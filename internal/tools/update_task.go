package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/taskloom/internal/model"
	"github.com/nextlevelbuilder/taskloom/internal/store/pg"
)

// UpdateTaskTool patches a task's status and/or description (§4.3's table
// row 2). A transition into "success" marks its Result with the task id
// so the agent loop can publish one NewTaskComplete notification — after
// its own transaction commits, since Execute runs inside that open tx and
// must never let a publish race ahead of the commit.
type UpdateTaskTool struct{}

func (t *UpdateTaskTool) Name() string { return "update_task" }

func (t *UpdateTaskTool) Description() string {
	return "Update a task's status and/or description. Transitioning to success or failed is terminal — no further messages can be appended to that task."
}

func (t *UpdateTaskTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task_order":       map[string]any{"type": "integer", "description": "1-based position of the task in the current task list."},
			"task_status":      map[string]any{"type": "string", "enum": []string{"pending", "running", "success", "failed"}},
			"task_description": map[string]any{"type": "string"},
		},
		"required": []string{"task_order"},
	}
}

func (t *UpdateTaskTool) InvalidatesContext() bool { return false }

func (t *UpdateTaskTool) Execute(ctx context.Context, tc *TaskContext, args map[string]any) *Result {
	taskOrder, err := argInt(args, "task_order", true, 0)
	if err != nil {
		return ErrorResult(err.Error(), err)
	}
	task, err := tc.TaskByOrder(taskOrder)
	if err != nil {
		return ErrorResult(err.Error(), err)
	}

	statusStr, err := argString(args, "task_status", false)
	if err != nil {
		return ErrorResult(err.Error(), err)
	}
	var status *model.Status
	if statusStr != "" {
		s := model.Status(statusStr)
		status = &s
	}

	var patch map[string]any
	if description, err := argString(args, "task_description", false); err != nil {
		return ErrorResult(err.Error(), err)
	} else if description != "" {
		patch = map[string]any{"task_description": description}
	}

	if err := pg.UpdateTaskTx(ctx, tc.Tx, task.ID, status, patch); err != nil {
		return ErrorResult(fmt.Sprintf("update_task failed: %v", err), err)
	}

	res := NewResult(fmt.Sprintf("updated task_order %d", taskOrder))
	if status != nil && *status == model.StatusSuccess {
		id := task.ID
		res.CompletedTaskID = &id
	}
	return res
}

package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/taskloom/internal/store/pg"
)

// AppendMessagesToTaskTool attaches messages from the current batch to an
// existing, non-terminal task (§4.3's table row 3).
type AppendMessagesToTaskTool struct{}

func (t *AppendMessagesToTaskTool) Name() string { return "append_messages_to_task" }

func (t *AppendMessagesToTaskTool) Description() string {
	return "Attach one or more messages (by zero-based index into the current batch) to an existing task, referenced by its 1-based task_order. The task must not already be in a terminal (success/failed) state."
}

func (t *AppendMessagesToTaskTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task_order":  map[string]any{"type": "integer", "description": "1-based position of the task in the current task list."},
			"message_ids": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}, "description": "Zero-based indices into the current batch."},
		},
		"required": []string{"task_order", "message_ids"},
	}
}

func (t *AppendMessagesToTaskTool) InvalidatesContext() bool { return false }

func (t *AppendMessagesToTaskTool) Execute(ctx context.Context, tc *TaskContext, args map[string]any) *Result {
	taskOrder, err := argInt(args, "task_order", true, 0)
	if err != nil {
		return ErrorResult(err.Error(), err)
	}
	task, err := tc.TaskByOrder(taskOrder)
	if err != nil {
		return ErrorResult(err.Error(), err)
	}
	if task.IsTerminal() {
		msg := fmt.Sprintf("task_order %d is already %s, cannot append more messages to it", taskOrder, task.Status)
		return ErrorResult(msg, fmt.Errorf("%s", msg))
	}

	indices, err := argIntSlice(args, "message_ids", true)
	if err != nil {
		return ErrorResult(err.Error(), err)
	}
	messageIDs, err := tc.MessageIDsByIndex(indices)
	if err != nil {
		return ErrorResult(err.Error(), err)
	}

	if err := pg.AppendMessagesToTaskTx(ctx, tc.Tx, messageIDs, task.ID); err != nil {
		return ErrorResult(fmt.Sprintf("append_messages_to_task failed: %v", err), err)
	}
	return NewResult(fmt.Sprintf("attached %d message(s) to task_order %d", len(messageIDs), taskOrder))
}

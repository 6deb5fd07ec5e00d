package tools

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/taskloom/internal/model"
)

func taskContextWith(task model.Task) *TaskContext {
	return &TaskContext{
		TaskIDsIndex:    []uuid.UUID{task.ID},
		TaskIndex:       map[uuid.UUID]*model.Task{task.ID: &task},
		MessageIDsIndex: []string{"m0", "m1"},
	}
}

func TestAppendMessagesToTaskTool_RejectsTerminalTasks(t *testing.T) {
	tool := &AppendMessagesToTaskTool{}
	for _, status := range []model.Status{model.StatusSuccess, model.StatusFailed} {
		t.Run(string(status), func(t *testing.T) {
			task := model.Task{ID: uuid.New(), Order: 1, Status: status}
			tc := taskContextWith(task)

			res := tool.Execute(context.Background(), tc, map[string]any{
				"task_order":  1,
				"message_ids": []any{0},
			})

			if !res.IsError {
				t.Fatalf("Execute() against a %s task = %+v, want IsError", status, res)
			}
		})
	}
}

func TestAppendMessagesToTaskTool_InvalidTaskOrderErrors(t *testing.T) {
	tool := &AppendMessagesToTaskTool{}
	task := model.Task{ID: uuid.New(), Order: 1, Status: model.StatusPending}
	tc := taskContextWith(task)

	res := tool.Execute(context.Background(), tc, map[string]any{
		"task_order":  2,
		"message_ids": []any{0},
	})

	if !res.IsError {
		t.Fatalf("Execute() with an out-of-range task_order = %+v, want IsError", res)
	}
}

func TestAppendMessagesToTaskTool_MissingTaskOrderErrors(t *testing.T) {
	tool := &AppendMessagesToTaskTool{}
	task := model.Task{ID: uuid.New(), Order: 1, Status: model.StatusPending}
	tc := taskContextWith(task)

	res := tool.Execute(context.Background(), tc, map[string]any{
		"message_ids": []any{0},
	})

	if !res.IsError {
		t.Fatalf("Execute() with no task_order = %+v, want IsError", res)
	}
}

package tools

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nextlevelbuilder/taskloom/internal/model"
)

// TaskLister is the read surface BuildTaskContext needs from the task
// store. *pg.TaskStore satisfies it; tests substitute a fake so the
// agent loop's dispatch logic can be driven without a database.
type TaskLister interface {
	FetchOrderedTasksTx(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID) ([]model.Task, error)
}

// TaskContext is the view every tool call reasons over (§4.3): the open
// transaction scope, the identifying ids, the ordered task list at build
// time, and the current batch's message ids. The task and message
// indices are not changed after build; the agent loop swaps in each tool
// call's own transaction as Tx when it reuses a context. A tool
// that mutates the task list returns InvalidatesContext() == true so
// the agent loop rebuilds a fresh TaskContext before the next call.
type TaskContext struct {
	Tx        pgx.Tx
	ProjectID uuid.UUID
	SessionID uuid.UUID

	TaskIDsIndex []uuid.UUID
	TaskIndex    map[uuid.UUID]*model.Task

	MessageIDsIndex []string
}

// BuildTaskContext loads the ordered task list for sessionID inside tx
// and assembles the indices tools read from.
func BuildTaskContext(ctx context.Context, tasks TaskLister, tx pgx.Tx, projectID, sessionID uuid.UUID, messageIDs []string) (*TaskContext, error) {
	ordered, err := tasks.FetchOrderedTasksTx(ctx, tx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("fetch ordered tasks: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(ordered))
	index := make(map[uuid.UUID]*model.Task, len(ordered))
	for i := range ordered {
		t := &ordered[i]
		ids = append(ids, t.ID)
		index[t.ID] = t
	}
	return &TaskContext{
		Tx:              tx,
		ProjectID:       projectID,
		SessionID:       sessionID,
		TaskIDsIndex:    ids,
		TaskIndex:       index,
		MessageIDsIndex: messageIDs,
	}, nil
}

// TaskByID looks up a task in the index, returning an error string
// suitable for feeding straight back to the model on a miss.
func (tc *TaskContext) TaskByID(id uuid.UUID) (*model.Task, error) {
	t, ok := tc.TaskIndex[id]
	if !ok {
		return nil, fmt.Errorf("no task with id %s in this session", id)
	}
	return t, nil
}

// TaskByOrder resolves the 1-based task_order the model references (§4.3)
// to the real task, via the dense TaskIDsIndex built at context-build time.
func (tc *TaskContext) TaskByOrder(order int) (*model.Task, error) {
	if order < 1 || order > len(tc.TaskIDsIndex) {
		return nil, fmt.Errorf("task_order %d out of range [1, %d]", order, len(tc.TaskIDsIndex))
	}
	return tc.TaskIndex[tc.TaskIDsIndex[order-1]], nil
}

// MessageIDsByIndex resolves zero-based indices into the current batch
// (§4.3) to real message ids, rejecting out-of-range indices.
func (tc *TaskContext) MessageIDsByIndex(indices []int) ([]string, error) {
	out := make([]string, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(tc.MessageIDsIndex) {
			return nil, fmt.Errorf("message index %d out of range [0, %d)", i, len(tc.MessageIDsIndex))
		}
		out = append(out, tc.MessageIDsIndex[i])
	}
	return out, nil
}

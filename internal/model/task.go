package model

import (
	"time"

	"github.com/google/uuid"
)

// Status is the shared lifecycle enum for both messages and tasks.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Task is an ordered, mutable record summarizing an objective within a
// session. The reserved planning task always has Order=0 and
// IsPlanning=true; all other tasks occupy a dense 1..N prefix.
type Task struct {
	ID            uuid.UUID      `json:"id"`
	SessionID     uuid.UUID      `json:"session_id"`
	Order         int            `json:"order"`
	Data          map[string]any `json:"data"`
	Status        Status         `json:"status"`
	IsPlanning    bool           `json:"is_planning"`
	SpaceDigested bool           `json:"space_digested"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`

	// MessageIDs is populated by fetch_ordered_tasks, sorted by the
	// attached messages' created_at. Not a persisted column.
	MessageIDs []string `json:"message_ids,omitempty"`
}

// Description returns the conventional task_description field of Data,
// or the empty string if absent.
func (t *Task) Description() string {
	if t.Data == nil {
		return ""
	}
	s, _ := t.Data["task_description"].(string)
	return s
}

// IsTerminal reports whether the task can no longer receive message
// attachments (append_messages_to_task rejects success/failed targets).
func (t *Task) IsTerminal() bool {
	return t.Status == StatusSuccess || t.Status == StatusFailed
}

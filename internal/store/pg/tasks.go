package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nextlevelbuilder/taskloom/internal/model"
)

// TaskStore implements the Task Store Operations of §4.2 against Postgres.
type TaskStore struct {
	db *DB
}

func NewTaskStore(db *DB) *TaskStore {
	return &TaskStore{db: db}
}

// FetchOrderedTasks returns non-planning tasks sorted ascending by order,
// each with its attached message IDs sorted by the messages' created_at.
func (s *TaskStore) FetchOrderedTasks(ctx context.Context, sessionID uuid.UUID) ([]model.Task, error) {
	return fetchOrderedTasks(ctx, s.db.pool, sessionID)
}

// FetchOrderedTasksTx is FetchOrderedTasks run against an open
// transaction, so a tool reading the task list observes the same
// snapshot its later writes commit into (§4.3's Task Context).
func (s *TaskStore) FetchOrderedTasksTx(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID) ([]model.Task, error) {
	return fetchOrderedTasks(ctx, tx, sessionID)
}

func fetchOrderedTasks(ctx context.Context, q Queryer, sessionID uuid.UUID) ([]model.Task, error) {
	rows, err := q.Query(ctx,
		`SELECT id, session_id, "order", data, status, is_planning, space_digested, created_at, updated_at
		 FROM tasks WHERE session_id = $1 AND is_planning = false ORDER BY "order" ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("fetch ordered tasks: %w", err)
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}

	for i := range tasks {
		ids, err := messageIDsForTask(ctx, q, tasks[i].ID)
		if err != nil {
			return nil, err
		}
		tasks[i].MessageIDs = ids
	}
	return tasks, nil
}

// FetchPlanningTask returns the session's reserved order=0 task, or nil.
func (s *TaskStore) FetchPlanningTask(ctx context.Context, sessionID uuid.UUID) (*model.Task, error) {
	rows, err := s.db.pool.Query(ctx,
		`SELECT id, session_id, "order", data, status, is_planning, space_digested, created_at, updated_at
		 FROM tasks WHERE session_id = $1 AND is_planning = true`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("fetch planning task: %w", err)
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return &tasks[0], nil
}

// InsertTask performs the two-phase sign-flip reordering from §4.2 in its
// own transaction and returns the newly created task at order=afterOrder+1.
func (s *TaskStore) InsertTask(ctx context.Context, sessionID uuid.UUID, afterOrder int, data map[string]any, status model.Status) (*model.Task, error) {
	var created model.Task
	err := s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		t, err := InsertTaskTx(ctx, tx, sessionID, afterOrder, data, status)
		if err != nil {
			return err
		}
		created = *t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// InsertTaskTx is InsertTask run against an already-open transaction, the
// shape the Tool Library needs so insert_task runs inside the transaction
// the agent loop opens for that tool call (§4.3).
func InsertTaskTx(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, afterOrder int, data map[string]any, status model.Status) (*model.Task, error) {
	if afterOrder < 0 {
		return nil, fmt.Errorf("after_order must be >= 0, got %d", afterOrder)
	}
	// 1. Row-lock the session's task set.
	if _, err := tx.Exec(ctx,
		`SELECT id FROM tasks WHERE session_id = $1 AND is_planning = false FOR UPDATE`, sessionID); err != nil {
		return nil, fmt.Errorf("lock task set: %w", err)
	}

	n, err := countNonPlanningTasks(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	newOrder, err := nextOrderAfterInsert(n, afterOrder)
	if err != nil {
		return nil, err
	}

	// 2. Shift tasks after the insertion point into negative space.
	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET "order" = -"order" WHERE session_id = $1 AND is_planning = false AND "order" > $2`,
		sessionID, afterOrder); err != nil {
		return nil, fmt.Errorf("shift: %w", err)
	}

	// 3. Flip+bump the shifted rows back into positive space, one past
	// their original slot.
	if _, err := tx.Exec(ctx,
		`UPDATE tasks SET "order" = -"order" + 1 WHERE session_id = $1 AND is_planning = false AND "order" < 0`,
		sessionID); err != nil {
		return nil, fmt.Errorf("flip: %w", err)
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal task data: %w", err)
	}

	var created model.Task
	id := uuid.New()
	row := tx.QueryRow(ctx,
		`INSERT INTO tasks (id, session_id, "order", data, status, is_planning, space_digested)
		 VALUES ($1, $2, $3, $4, $5, false, false)
		 RETURNING id, session_id, "order", data, status, is_planning, space_digested, created_at, updated_at`,
		id, sessionID, newOrder, dataJSON, status)
	if err := scanTaskRow(row, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateTask mutates only the provided fields; patchData is a shallow
// merge into the existing data column.
func (s *TaskStore) UpdateTask(ctx context.Context, taskID uuid.UUID, status *model.Status, patchData map[string]any) error {
	return s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return UpdateTaskTx(ctx, tx, taskID, status, patchData)
	})
}

// UpdateTaskTx is UpdateTask against an already-open transaction.
func UpdateTaskTx(ctx context.Context, tx pgx.Tx, taskID uuid.UUID, status *model.Status, patchData map[string]any) error {
	if len(patchData) > 0 {
		var existing json.RawMessage
		if err := tx.QueryRow(ctx, `SELECT data FROM tasks WHERE id = $1 FOR UPDATE`, taskID).Scan(&existing); err != nil {
			if err == pgx.ErrNoRows {
				return fmt.Errorf("task %s not found", taskID)
			}
			return fmt.Errorf("read task data: %w", err)
		}
		merged := map[string]any{}
		if len(existing) > 0 {
			if err := json.Unmarshal(existing, &merged); err != nil {
				return fmt.Errorf("unmarshal task data: %w", err)
			}
		}
		for k, v := range patchData {
			merged[k] = v
		}
		mergedJSON, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("marshal merged data: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE tasks SET data = $1, updated_at = now() WHERE id = $2`, mergedJSON, taskID); err != nil {
			return fmt.Errorf("update task data: %w", err)
		}
	}
	if status != nil {
		tag, err := tx.Exec(ctx, `UPDATE tasks SET status = $1, updated_at = now() WHERE id = $2`, *status, taskID)
		if err != nil {
			return fmt.Errorf("update task status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("task %s not found", taskID)
		}
	}
	return nil
}

// AppendMessagesToTask sets task_id on each message, silently tolerating
// IDs that don't exist.
func (s *TaskStore) AppendMessagesToTask(ctx context.Context, messageIDs []string, taskID uuid.UUID) error {
	return AppendMessagesToTaskTx(ctx, s.db.pool, messageIDs, taskID)
}

// AppendMessagesToTaskTx is AppendMessagesToTask against any Queryer that
// also supports Exec (the pool, or an open tx).
func AppendMessagesToTaskTx(ctx context.Context, q interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}, messageIDs []string, taskID uuid.UUID) error {
	if len(messageIDs) == 0 {
		return nil
	}
	_, err := q.Exec(ctx,
		`UPDATE messages SET task_id = $1, updated_at = now() WHERE id = ANY($2)`,
		taskID, messageIDs)
	if err != nil {
		return fmt.Errorf("append messages to task: %w", err)
	}
	return nil
}

// AppendMessagesToPlanningSection creates the planning task on demand then
// links messageIDs to it.
func (s *TaskStore) AppendMessagesToPlanningSection(ctx context.Context, sessionID uuid.UUID, messageIDs []string) error {
	return s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return AppendMessagesToPlanningSectionTx(ctx, tx, sessionID, messageIDs)
	})
}

// AppendMessagesToPlanningSectionTx is AppendMessagesToPlanningSection
// against an already-open transaction.
func AppendMessagesToPlanningSectionTx(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID, messageIDs []string) error {
	var planningID uuid.UUID
	err := tx.QueryRow(ctx,
		`SELECT id FROM tasks WHERE session_id = $1 AND is_planning = true`, sessionID).Scan(&planningID)
	if err != nil {
		if err != pgx.ErrNoRows {
			return fmt.Errorf("lookup planning task: %w", err)
		}
		planningID = uuid.New()
		_, err = tx.Exec(ctx,
			`INSERT INTO tasks (id, session_id, "order", data, status, is_planning, space_digested)
			 VALUES ($1, $2, 0, '{}'::jsonb, $3, true, false)`,
			planningID, sessionID, model.StatusPending)
		if err != nil {
			return fmt.Errorf("create planning task: %w", err)
		}
	}
	return AppendMessagesToTaskTx(ctx, tx, messageIDs, planningID)
}

// SetTaskSpaceDigested atomically flips space_digested false→true and
// returns the prior value, making repeated calls idempotent.
func (s *TaskStore) SetTaskSpaceDigested(ctx context.Context, taskID uuid.UUID) (alreadyDigested bool, err error) {
	err = s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		alreadyDigested, err = SetTaskSpaceDigestedTx(ctx, tx, taskID)
		return err
	})
	return alreadyDigested, err
}

// SetTaskSpaceDigestedTx is SetTaskSpaceDigested against an already-open
// transaction.
func SetTaskSpaceDigestedTx(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (alreadyDigested bool, err error) {
	if err := tx.QueryRow(ctx,
		`SELECT space_digested FROM tasks WHERE id = $1 FOR UPDATE`, taskID).Scan(&alreadyDigested); err != nil {
		if err == pgx.ErrNoRows {
			return false, fmt.Errorf("task %s not found", taskID)
		}
		return false, fmt.Errorf("read space_digested: %w", err)
	}
	if alreadyDigested {
		return true, nil
	}
	_, err = tx.Exec(ctx, `UPDATE tasks SET space_digested = true, updated_at = now() WHERE id = $1`, taskID)
	return false, err
}

// GetTask fetches a single task by ID (no message-ID hydration).
func (s *TaskStore) GetTask(ctx context.Context, taskID uuid.UUID) (*model.Task, error) {
	var t model.Task
	row := s.db.pool.QueryRow(ctx,
		`SELECT id, session_id, "order", data, status, is_planning, space_digested, created_at, updated_at
		 FROM tasks WHERE id = $1`, taskID)
	if err := scanTaskRow(row, &t); err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("task %s not found", taskID)
		}
		return nil, err
	}
	return &t, nil
}

func messageIDsForTask(ctx context.Context, q Queryer, taskID uuid.UUID) ([]string, error) {
	rows, err := q.Query(ctx,
		`SELECT id FROM messages WHERE task_id = $1 ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("message ids for task: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// nextOrderAfterInsert validates afterOrder against the session's current
// non-planning task count n and returns the order the new task will
// occupy. It is the one part of the sign-flip reorder (the two UPDATE
// statements above) that can be proven without a database: the shift
// moves every order > afterOrder up by exactly one slot, so the new task
// always lands at afterOrder+1, and afterOrder must fall in [0, n] for
// that slot to exist.
func nextOrderAfterInsert(n, afterOrder int) (int, error) {
	if afterOrder < 0 || afterOrder > n {
		return 0, fmt.Errorf("after_order %d out of range [0, %d]", afterOrder, n)
	}
	return afterOrder + 1, nil
}

func countNonPlanningTasks(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID) (int, error) {
	var n int
	err := tx.QueryRow(ctx,
		`SELECT count(*) FROM tasks WHERE session_id = $1 AND is_planning = false`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

func scanTasks(rows pgx.Rows) ([]model.Task, error) {
	var tasks []model.Task
	for rows.Next() {
		var t model.Task
		var dataJSON json.RawMessage
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Order, &dataJSON, &t.Status,
			&t.IsPlanning, &t.SpaceDigested, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &t.Data); err != nil {
				return nil, fmt.Errorf("unmarshal task data: %w", err)
			}
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTaskRow(row pgx.Row, t *model.Task) error {
	var dataJSON json.RawMessage
	if err := row.Scan(&t.ID, &t.SessionID, &t.Order, &dataJSON, &t.Status,
		&t.IsPlanning, &t.SpaceDigested, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return err
	}
	if len(dataJSON) > 0 {
		return json.Unmarshal(dataJSON, &t.Data)
	}
	return nil
}

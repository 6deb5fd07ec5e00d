package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nextlevelbuilder/taskloom/internal/model"
)

// MessageStore implements the message-side persistence operations the
// Buffer & Lock Controller needs: insertion, latest-wins lookup,
// threshold counting, batch claiming, and status transitions.
type MessageStore struct {
	db *DB
}

func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

// Insert persists a new message with status=pending. msg.PartsMeta is the
// locator written by the caller after it already staged the parts blob in
// object storage (out of scope here); msg.Parts itself is never persisted —
// it is reconstructed by HydrateMessage on read.
func (s *MessageStore) Insert(ctx context.Context, msg *model.Message) error {
	partsMeta, err := json.Marshal(msg.PartsMeta)
	if err != nil {
		return fmt.Errorf("marshal parts_meta: %w", err)
	}
	_, err = s.db.pool.Exec(ctx,
		`INSERT INTO messages (id, session_id, project_id, role, parts_meta, parent_id, task_id, session_task_process_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULL, $7, $8, $8)`,
		msg.MessageID, msg.SessionID, msg.ProjectID, msg.Role, partsMeta, msg.ParentID, model.StatusPending, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// LatestPendingID returns the newest pending message id for a session,
// or "" if none — the admission check behind the latest-wins rule.
func (s *MessageStore) LatestPendingID(ctx context.Context, sessionID uuid.UUID) (string, error) {
	var id string
	err := s.db.pool.QueryRow(ctx,
		`SELECT id FROM messages WHERE session_id = $1 AND session_task_process_status = $2
		 ORDER BY created_at DESC LIMIT 1`, sessionID, model.StatusPending).Scan(&id)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest pending id: %w", err)
	}
	return id, nil
}

// CountPending returns the number of pending messages in a session.
func (s *MessageStore) CountPending(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	err := s.db.pool.QueryRow(ctx,
		`SELECT count(*) FROM messages WHERE session_id = $1 AND session_task_process_status = $2`,
		sessionID, model.StatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// ClaimBatch transitions up to limit oldest pending messages to running
// and returns their rows (Parts not yet hydrated), in one transaction
// (§4.5 step 5).
func (s *MessageStore) ClaimBatch(ctx context.Context, sessionID uuid.UUID, limit int, workerID string) ([]model.Message, error) {
	var claimed []model.Message
	err := s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT id FROM messages WHERE session_id = $1 AND session_task_process_status = $2
			 ORDER BY created_at ASC LIMIT $3 FOR UPDATE SKIP LOCKED`,
			sessionID, model.StatusPending, limit)
		if err != nil {
			return fmt.Errorf("select pending batch: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if _, err := tx.Exec(ctx,
			`UPDATE messages SET session_task_process_status = $1, updated_at = now() WHERE id = ANY($2)`,
			model.StatusRunning, ids); err != nil {
			return fmt.Errorf("claim batch: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO message_task_process_log (id, message_ids, status, worker_id, created_at)
			 VALUES ($1, $2, $3, $4, now())`,
			uuid.New(), ids, model.StatusRunning, workerID); err != nil {
			return fmt.Errorf("log batch claim: %w", err)
		}

		claimed, err = scanMessagesByIDs(ctx, tx, ids)
		return err
	})
	return claimed, err
}

// PreviousMessages returns up to limit messages older than the batch's
// earliest message, by created_at descending then re-ordered ascending,
// for the prior-context window fed to the agent.
func (s *MessageStore) PreviousMessages(ctx context.Context, sessionID uuid.UUID, before time.Time, limit int) ([]model.Message, error) {
	rows, err := s.db.pool.Query(ctx,
		`SELECT id, session_id, project_id, role, parts_meta, parent_id, task_id, created_at
		 FROM messages WHERE session_id = $1 AND created_at < $2
		 ORDER BY created_at DESC LIMIT $3`, sessionID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("previous messages: %w", err)
	}
	defer rows.Close()
	msgs, err := scanMessageRows(rows)
	if err != nil {
		return nil, err
	}
	return reverseMessages(msgs), nil
}

// reverseMessages flips a created_at-descending slice into ascending
// order in place, returning it for convenience.
func reverseMessages(msgs []model.Message) []model.Message {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}

// TransitionBatch moves a claimed batch to a terminal status (§4.5 steps
// 7–8), recording one audit row per transition so the session-lock's
// mutual exclusion is independently observable (§8: "observable via
// lock waits").
func (s *MessageStore) TransitionBatch(ctx context.Context, ids []string, status model.Status, workerID string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE messages SET session_task_process_status = $1, updated_at = now() WHERE id = ANY($2)`,
			status, ids); err != nil {
			return fmt.Errorf("transition batch to %s: %w", status, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO message_task_process_log (id, message_ids, status, worker_id, created_at)
			 VALUES ($1, $2, $3, $4, now())`,
			uuid.New(), ids, status, workerID); err != nil {
			return fmt.Errorf("log batch transition: %w", err)
		}
		return nil
	})
}

func scanMessagesByIDs(ctx context.Context, tx pgx.Tx, ids []string) ([]model.Message, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, session_id, project_id, role, parts_meta, parent_id, task_id, created_at
		 FROM messages WHERE id = ANY($1) ORDER BY created_at ASC`, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate batch: %w", err)
	}
	defer rows.Close()
	return scanMessageRows(rows)
}

// scanMessageRows reads the persisted columns only: parts_meta, the
// locator, into m.PartsMeta. m.Parts is left nil — it is never a DB
// column, and is populated later by the object-store gateway's
// HydrateMessage against the locator this function scanned.
func scanMessageRows(rows pgx.Rows) ([]model.Message, error) {
	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		var partsMetaJSON json.RawMessage
		if err := rows.Scan(&m.MessageID, &m.SessionID, &m.ProjectID, &m.Role, &partsMetaJSON, &m.ParentID, &m.TaskID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(partsMetaJSON) > 0 {
			if err := json.Unmarshal(partsMetaJSON, &m.PartsMeta); err != nil {
				return nil, fmt.Errorf("unmarshal parts_meta: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Package buffer implements the Buffer & Lock Controller (§4.5): three
// broker consumers driving the admission/wait/flush state machine over
// per-session message buffers, plus the blocking flush_session primitive
// exposed to synchronous ingress callers.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/taskloom/internal/agent"
	"github.com/nextlevelbuilder/taskloom/internal/broker"
	"github.com/nextlevelbuilder/taskloom/internal/config"
	"github.com/nextlevelbuilder/taskloom/internal/lock"
	"github.com/nextlevelbuilder/taskloom/internal/model"
	"github.com/nextlevelbuilder/taskloom/internal/objectstore"
)

// LockManager is the distributed-lock surface the controller needs.
// *lock.Lock satisfies it; tests substitute a fake so contention and
// release paths can be driven without Redis.
type LockManager interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (*lock.Holder, error)
	Release(ctx context.Context, h *lock.Holder) error
}

// NotificationBus is the broker surface the controller needs: consuming
// the three session.message routing keys and republishing onto them.
// *broker.Broker satisfies it; tests substitute a fake so the
// admission/park/overflow paths can be driven without AMQP.
type NotificationBus interface {
	Publish(ctx context.Context, routingKey string, n broker.Notification) error
	Consume(ctx context.Context, routingKey string, handlerTimeout time.Duration, handler broker.Handler) error
}

// MessageQueue is the message-side persistence surface the controller
// needs. *pg.MessageStore satisfies it.
type MessageQueue interface {
	LatestPendingID(ctx context.Context, sessionID uuid.UUID) (string, error)
	CountPending(ctx context.Context, sessionID uuid.UUID) (int, error)
	ClaimBatch(ctx context.Context, sessionID uuid.UUID, limit int, workerID string) ([]model.Message, error)
	PreviousMessages(ctx context.Context, sessionID uuid.UUID, before time.Time, limit int) ([]model.Message, error)
	TransitionBatch(ctx context.Context, ids []string, status model.Status, workerID string) error
}

// TaskLister is the task-read surface the controller needs to pack the
// agent's prompt context. *pg.TaskStore satisfies it.
type TaskLister interface {
	FetchOrderedTasks(ctx context.Context, sessionID uuid.UUID) ([]model.Task, error)
}

// AgentRunner is the task-distillation surface the controller drives
// after claiming a batch. *agent.Loop satisfies it; tests substitute a
// fake wrapping a canned llm.Provider response so the flush pipeline can
// be driven without a database or a live model.
type AgentRunner interface {
	Run(ctx context.Context, in agent.Input) (*agent.Output, error)
}

// Controller wires the three consumers of §4.5 against one broker
// connection and one flush pipeline. WorkerID tags the audit log rows
// this process writes, so lock contention is independently observable.
type Controller struct {
	broker   NotificationBus
	lock     LockManager
	messages MessageQueue
	tasks    TaskLister
	loop     AgentRunner
	cfg      *config.Config
	objects  *objectstore.Store
	workerID string
}

// New wires a Controller. objects may be nil when no object store is
// configured — HydrateMessage is then skipped and batch messages reach
// the agent loop with Parts unset.
func New(b NotificationBus, l LockManager, messages MessageQueue, tasks TaskLister, loop AgentRunner, cfg *config.Config, objects *objectstore.Store) *Controller {
	return &Controller{
		broker:   b,
		lock:     l,
		messages: messages,
		tasks:    tasks,
		loop:     loop,
		cfg:      cfg,
		objects:  objects,
		workerID: uuid.NewString(),
	}
}

// Run starts all three consumers under one errgroup and blocks until ctx
// is cancelled and every in-flight handler has returned (§5 "Graceful
// shutdown", grounded on the teacher's signal.Notify + cancel-then-await
// sequence in cmd/gateway.go).
func (c *Controller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	timeout := time.Duration(c.cfg.Snapshot().HandlerTimeoutSeconds) * time.Second

	g.Go(func() error {
		return c.broker.Consume(ctx, broker.RoutingKeyInsert, timeout, c.handleInsertEntry)
	})
	g.Go(func() error {
		return c.broker.Consume(ctx, broker.RoutingKeyInsertRetry, timeout, c.handleInsertEntry)
	})
	g.Go(func() error {
		return c.broker.Consume(ctx, broker.RoutingKeyBufferProcess, timeout, c.handleBufferProcess)
	})
	return g.Wait()
}

// handleInsertEntry is the insert-entry (and, after a TTL-expired
// dead-letter, insert-retry) state machine of §4.5 steps 1–9.
func (c *Controller) handleInsertEntry(ctx context.Context, n broker.Notification) error {
	proj := c.cfg.Snapshot()

	latest, err := c.messages.LatestPendingID(ctx, n.SessionID)
	if err != nil {
		return fmt.Errorf("latest pending id: %w", err)
	}
	if isSuperseded(latest, n.MessageID) {
		// Step 1: a later notification already superseded this one.
		return nil
	}

	pending, err := c.messages.CountPending(ctx, n.SessionID)
	if err != nil {
		return fmt.Errorf("count pending: %w", err)
	}
	if belowThreshold(pending, proj.BufferMaxTurns) {
		// Step 2: below threshold — schedule the idle flush and return
		// without acquiring the lock. The delayed republish races with a
		// newer notification by design (§9 resolved: latest-wins makes a
		// stale buffer-process delivery a benign no-op).
		go c.scheduleIdleFlush(n, time.Duration(proj.BufferTTLSeconds)*time.Second)
		return nil
	}

	return c.acquireAndFlush(ctx, n, pending, proj, false)
}

// handleBufferProcess performs the latest-wins check and then steps 3–9 —
// its very invocation is the idle-timeout signal, so the threshold check
// is skipped (§4.5 "Buffer-process handler").
func (c *Controller) handleBufferProcess(ctx context.Context, n broker.Notification) error {
	proj := c.cfg.Snapshot()

	latest, err := c.messages.LatestPendingID(ctx, n.SessionID)
	if err != nil {
		return fmt.Errorf("latest pending id: %w", err)
	}
	if isSuperseded(latest, n.MessageID) {
		return nil
	}

	pending, err := c.messages.CountPending(ctx, n.SessionID)
	if err != nil {
		return fmt.Errorf("count pending: %w", err)
	}
	return c.acquireAndFlush(ctx, n, pending, proj, false)
}

// scheduleIdleFlush sleeps buffer_ttl_seconds then republishes to
// buffer-process, run from its own goroutine so the insert-entry handler
// returns (and acks) immediately rather than holding its broker slot.
func (c *Controller) scheduleIdleFlush(n broker.Notification, delay time.Duration) {
	time.Sleep(delay)
	if err := c.broker.Publish(context.Background(), broker.RoutingKeyBufferProcess, n); err != nil {
		slog.Warn("buffer: idle flush republish failed", "session_id", n.SessionID, "error", err)
	}
}

// acquireAndFlush is steps 3–9, shared by insert-entry (post-threshold)
// and buffer-process. FlushSession does its own spin-wait acquisition and
// calls flush directly.
func (c *Controller) acquireAndFlush(ctx context.Context, n broker.Notification, pendingAtCheck int, proj config.ProjectConfig, blocking bool) error {
	key := lock.SessionLockKey(n.SessionID.String())
	holder, err := c.lock.TryAcquire(ctx, key, time.Duration(proj.ProcessingTimeoutSeconds)*time.Second)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			// Step 3: contention — park on insert-retry, never raise to
			// the broker.
			if pubErr := c.broker.Publish(ctx, broker.RoutingKeyInsertRetry, n); pubErr != nil {
				return fmt.Errorf("park on insert-retry: %w", pubErr)
			}
			return nil
		}
		return fmt.Errorf("acquire session lock: %w", err)
	}
	defer func() {
		if relErr := c.lock.Release(context.Background(), holder); relErr != nil {
			slog.Warn("buffer: lock release failed", "session_id", n.SessionID, "error", relErr)
		}
	}()

	return c.flush(ctx, n, pendingAtCheck, proj)
}

// flush is §4.5 steps 4–9: overflow detection, batch claim, hydrate,
// agent invocation, terminal transition.
func (c *Controller) flush(ctx context.Context, n broker.Notification, pendingAtCheck int, proj config.ProjectConfig) error {
	limit := proj.BufferMaxTurns + proj.BufferMaxOverflow

	// Step 4: overflow — park a copy before claiming, so the remaining
	// backlog gets a second flush once this one completes.
	if isOverflow(pendingAtCheck, limit) {
		if err := c.broker.Publish(ctx, broker.RoutingKeyInsertRetry, n); err != nil {
			return fmt.Errorf("overflow republish: %w", err)
		}
	}

	// Step 5: batch claim.
	batch, err := c.messages.ClaimBatch(ctx, n.SessionID, limit, c.workerID)
	if err != nil {
		return fmt.Errorf("claim batch: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}
	claimedIDs := make([]string, len(batch))
	for i, m := range batch {
		claimedIDs[i] = m.MessageID
	}

	// Step 8 exception path: anything past this point that fails marks
	// the claimed batch failed and re-raises for the broker's own
	// retry/dead-letter policy to handle the notification.
	tasks, previous, agentErr := c.hydrateAndRun(ctx, n, batch, proj)
	if agentErr != nil {
		if transErr := c.messages.TransitionBatch(context.Background(), claimedIDs, model.StatusFailed, c.workerID); transErr != nil {
			slog.Error("buffer: failed to mark batch failed after agent error", "session_id", n.SessionID, "error", transErr)
		}
		return agentErr
	}

	// Step 7: success transition. tasks/previous are already consumed by
	// the agent loop and are not used further here.
	_ = tasks
	_ = previous
	return c.messages.TransitionBatch(context.Background(), claimedIDs, model.StatusSuccess, c.workerID)
}

func (c *Controller) hydrateAndRun(ctx context.Context, n broker.Notification, batch []model.Message, proj config.ProjectConfig) ([]model.Task, []model.Message, error) {
	if c.objects != nil {
		for i := range batch {
			c.objects.HydrateMessage(ctx, &batch[i])
		}
	}

	tasks, err := c.tasks.FetchOrderedTasks(ctx, n.SessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch ordered tasks: %w", err)
	}

	previous, err := c.messages.PreviousMessages(ctx, n.SessionID, batch[0].CreatedAt, proj.PreviousMessagesTurns)
	if err != nil {
		return nil, nil, fmt.Errorf("previous messages: %w", err)
	}

	_, err = c.loop.Run(ctx, agent.Input{
		ProjectID: n.ProjectID,
		SessionID: n.SessionID,
		Tasks:     tasks,
		Previous:  previous,
		Batch:     batch,
	})
	if err != nil {
		return tasks, previous, fmt.Errorf("agent loop: %w", err)
	}
	return tasks, previous, nil
}

// FlushResult is the structured {status, errmsg} contract of §7: status
// 0 is success, any other value a domain-specific error code.
type FlushResult struct {
	Status int    `json:"status"`
	ErrMsg string `json:"errmsg,omitempty"`
}

// FlushSession is the blocking flush_session primitive (§4.5): spin-wait
// acquiring the session lock with no deadline, then run steps 5–9
// directly (no insert-entry/threshold check — callers are asking for an
// immediate, synchronous commit).
func (c *Controller) FlushSession(ctx context.Context, projectID, sessionID uuid.UUID) FlushResult {
	proj := c.cfg.Snapshot()
	key := lock.SessionLockKey(sessionID.String())
	wait := time.Duration(proj.SessionLockWaitSeconds) * time.Second

	var holder *lock.Holder
	for {
		h, err := c.lock.TryAcquire(ctx, key, time.Duration(proj.ProcessingTimeoutSeconds)*time.Second)
		if err == nil {
			holder = h
			break
		}
		if !errors.Is(err, lock.ErrHeld) {
			return FlushResult{Status: 1, ErrMsg: err.Error()}
		}
		select {
		case <-ctx.Done():
			return FlushResult{Status: 1, ErrMsg: ctx.Err().Error()}
		case <-time.After(wait):
		}
	}
	defer func() {
		if relErr := c.lock.Release(context.Background(), holder); relErr != nil {
			slog.Warn("buffer: lock release failed", "session_id", sessionID, "error", relErr)
		}
	}()

	pending, err := c.messages.CountPending(ctx, sessionID)
	if err != nil {
		return FlushResult{Status: 2, ErrMsg: err.Error()}
	}
	if pending == 0 {
		return FlushResult{Status: 0}
	}

	n := broker.Notification{ProjectID: projectID, SessionID: sessionID}
	if err := c.flush(ctx, n, pending, proj); err != nil {
		return FlushResult{Status: 3, ErrMsg: err.Error()}
	}
	return FlushResult{Status: 0}
}

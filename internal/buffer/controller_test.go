package buffer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/taskloom/internal/agent"
	"github.com/nextlevelbuilder/taskloom/internal/broker"
	"github.com/nextlevelbuilder/taskloom/internal/config"
	"github.com/nextlevelbuilder/taskloom/internal/lock"
	"github.com/nextlevelbuilder/taskloom/internal/model"
)

// fakeLock scripts a sequence of TryAcquire outcomes, repeating the last
// one if called more times than scripted.
type fakeLock struct {
	holders  []*lock.Holder
	errs     []error
	calls    int
	released int
}

func (f *fakeLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*lock.Holder, error) {
	i := f.calls
	if i >= len(f.holders) {
		i = len(f.holders) - 1
	}
	f.calls++
	return f.holders[i], f.errs[i]
}

func (f *fakeLock) Release(ctx context.Context, h *lock.Holder) error {
	f.released++
	return nil
}

func heldLock() *fakeLock {
	return &fakeLock{holders: []*lock.Holder{nil}, errs: []error{lock.ErrHeld}}
}

func freeLock() *fakeLock {
	return &fakeLock{holders: []*lock.Holder{{}}, errs: []error{nil}}
}

type publishedMsg struct {
	routingKey string
	n          broker.Notification
}

// fakeBus records every publish; Consume is never exercised by these
// tests since Run's three goroutines aren't started.
type fakeBus struct {
	published []publishedMsg
}

func (f *fakeBus) Publish(ctx context.Context, routingKey string, n broker.Notification) error {
	f.published = append(f.published, publishedMsg{routingKey, n})
	return nil
}

func (f *fakeBus) Consume(ctx context.Context, routingKey string, handlerTimeout time.Duration, handler broker.Handler) error {
	return nil
}

type transitionCall struct {
	ids    []string
	status model.Status
}

// fakeQueue is an in-memory MessageQueue: ClaimBatch drains batch in
// limit-sized chunks, TransitionBatch just records what happened.
type fakeQueue struct {
	latestPendingID string
	pendingCount    int
	batch           []model.Message
	claimed         [][]string
	transitions     []transitionCall
}

func (f *fakeQueue) LatestPendingID(ctx context.Context, sessionID uuid.UUID) (string, error) {
	return f.latestPendingID, nil
}

func (f *fakeQueue) CountPending(ctx context.Context, sessionID uuid.UUID) (int, error) {
	return f.pendingCount, nil
}

func (f *fakeQueue) ClaimBatch(ctx context.Context, sessionID uuid.UUID, limit int, workerID string) ([]model.Message, error) {
	n := limit
	if n > len(f.batch) {
		n = len(f.batch)
	}
	claimed := f.batch[:n]
	f.batch = f.batch[n:]
	ids := make([]string, len(claimed))
	for i, m := range claimed {
		ids[i] = m.MessageID
	}
	f.claimed = append(f.claimed, ids)
	return claimed, nil
}

func (f *fakeQueue) PreviousMessages(ctx context.Context, sessionID uuid.UUID, before time.Time, limit int) ([]model.Message, error) {
	return nil, nil
}

func (f *fakeQueue) TransitionBatch(ctx context.Context, ids []string, status model.Status, workerID string) error {
	f.transitions = append(f.transitions, transitionCall{ids, status})
	return nil
}

type fakeTaskLister struct{}

func (fakeTaskLister) FetchOrderedTasks(ctx context.Context, sessionID uuid.UUID) ([]model.Task, error) {
	return nil, nil
}

// fakeAgentRunner stands in for the task agent loop: no LLM, no DB.
type fakeAgentRunner struct {
	calls int
	err   error
}

func (f *fakeAgentRunner) Run(ctx context.Context, in agent.Input) (*agent.Output, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &agent.Output{}, nil
}

func makeBatch(n int) []model.Message {
	msgs := make([]model.Message, n)
	for i := range msgs {
		msgs[i] = model.Message{MessageID: fmt.Sprintf("m%d", i), CreatedAt: time.Now()}
	}
	return msgs
}

func testController(bus *fakeBus, lk *fakeLock, q *fakeQueue, runner *fakeAgentRunner, proj config.ProjectConfig) *Controller {
	return New(bus, lk, q, fakeTaskLister{}, runner, &config.Config{Project: proj}, nil)
}

func TestHandleInsertEntry_SupersededNotificationIsNoOp(t *testing.T) {
	bus := &fakeBus{}
	lk := &fakeLock{}
	q := &fakeQueue{latestPendingID: "newer-message"}
	runner := &fakeAgentRunner{}
	c := testController(bus, lk, q, runner, config.ProjectConfig{BufferMaxTurns: 3})

	err := c.handleInsertEntry(context.Background(), broker.Notification{SessionID: uuid.New(), MessageID: "stale-message"})
	if err != nil {
		t.Fatalf("handleInsertEntry() error = %v", err)
	}
	if lk.calls != 0 || len(bus.published) != 0 {
		t.Errorf("superseded notification touched lock or broker: lock.calls=%d published=%v", lk.calls, bus.published)
	}
}

func TestHandleInsertEntry_BelowThresholdNeverAcquiresTheLock(t *testing.T) {
	bus := &fakeBus{}
	lk := &fakeLock{}
	q := &fakeQueue{latestPendingID: "m1", pendingCount: 1}
	runner := &fakeAgentRunner{}
	c := testController(bus, lk, q, runner, config.ProjectConfig{BufferMaxTurns: 3, BufferTTLSeconds: 0})

	err := c.handleInsertEntry(context.Background(), broker.Notification{SessionID: uuid.New(), MessageID: "m1"})
	if err != nil {
		t.Fatalf("handleInsertEntry() error = %v", err)
	}
	if lk.calls != 0 {
		t.Errorf("handleInsertEntry below threshold acquired the lock %d times, want 0", lk.calls)
	}
}

func TestHandleInsertEntry_AtThresholdFlushesImmediately(t *testing.T) {
	bus := &fakeBus{}
	lk := freeLock()
	q := &fakeQueue{latestPendingID: "m3", pendingCount: 3, batch: makeBatch(3)}
	runner := &fakeAgentRunner{}
	c := testController(bus, lk, q, runner, config.ProjectConfig{BufferMaxTurns: 3, BufferMaxOverflow: 2})

	err := c.handleInsertEntry(context.Background(), broker.Notification{SessionID: uuid.New(), MessageID: "m3"})
	if err != nil {
		t.Fatalf("handleInsertEntry() error = %v", err)
	}
	if lk.calls != 1 || lk.released != 1 {
		t.Errorf("lock.calls=%d released=%d, want 1 and 1", lk.calls, lk.released)
	}
	if runner.calls != 1 {
		t.Errorf("agent runner invoked %d times, want 1", runner.calls)
	}
	if len(q.transitions) != 1 || q.transitions[0].status != model.StatusSuccess || len(q.transitions[0].ids) != 3 {
		t.Errorf("transitions = %+v, want one success transition of 3 ids", q.transitions)
	}
}

func TestAcquireAndFlush_ContentionParksOnInsertRetry(t *testing.T) {
	bus := &fakeBus{}
	lk := heldLock()
	q := &fakeQueue{}
	runner := &fakeAgentRunner{}
	c := testController(bus, lk, q, runner, config.ProjectConfig{})
	n := broker.Notification{SessionID: uuid.New(), MessageID: "m1"}

	err := c.acquireAndFlush(context.Background(), n, 5, config.ProjectConfig{}, false)
	if err != nil {
		t.Fatalf("acquireAndFlush() error = %v", err)
	}
	if lk.released != 0 {
		t.Errorf("released = %d, want 0 — acquisition never succeeded", lk.released)
	}
	if len(bus.published) != 1 || bus.published[0].routingKey != broker.RoutingKeyInsertRetry {
		t.Fatalf("published = %+v, want one insert-retry park", bus.published)
	}
	if bus.published[0].n.MessageID != "m1" {
		t.Errorf("parked notification = %+v, want message_id m1", bus.published[0].n)
	}
}

func TestFlush_OverflowRepublishesBeforeClaimingTheLimit(t *testing.T) {
	bus := &fakeBus{}
	lk := freeLock()
	q := &fakeQueue{batch: makeBatch(10)}
	runner := &fakeAgentRunner{}
	c := testController(bus, lk, q, runner, config.ProjectConfig{})
	proj := config.ProjectConfig{BufferMaxTurns: 4, BufferMaxOverflow: 2}
	n := broker.Notification{SessionID: uuid.New()}

	if err := c.flush(context.Background(), n, 10, proj); err != nil {
		t.Fatalf("flush() error = %v", err)
	}
	if len(bus.published) != 1 || bus.published[0].routingKey != broker.RoutingKeyInsertRetry {
		t.Fatalf("published = %+v, want exactly one insert-retry republish", bus.published)
	}
	if len(q.claimed) != 1 || len(q.claimed[0]) != 6 {
		t.Fatalf("claimed = %v, want exactly 6 ids (buffer_max_turns + buffer_max_overflow)", q.claimed)
	}
}

func TestFlush_NoOverflowDoesNotRepublish(t *testing.T) {
	bus := &fakeBus{}
	lk := freeLock()
	q := &fakeQueue{batch: makeBatch(5)}
	runner := &fakeAgentRunner{}
	c := testController(bus, lk, q, runner, config.ProjectConfig{})
	proj := config.ProjectConfig{BufferMaxTurns: 4, BufferMaxOverflow: 2}

	if err := c.flush(context.Background(), broker.Notification{SessionID: uuid.New()}, 5, proj); err != nil {
		t.Fatalf("flush() error = %v", err)
	}
	if len(bus.published) != 0 {
		t.Errorf("published = %v, want none — 5 pending is within the 6-message limit", bus.published)
	}
}

func TestFlush_AgentErrorMarksTheClaimedBatchFailed(t *testing.T) {
	bus := &fakeBus{}
	lk := freeLock()
	q := &fakeQueue{batch: makeBatch(2)}
	runner := &fakeAgentRunner{err: fmt.Errorf("model unavailable")}
	c := testController(bus, lk, q, runner, config.ProjectConfig{})
	proj := config.ProjectConfig{BufferMaxTurns: 4, BufferMaxOverflow: 2}

	err := c.flush(context.Background(), broker.Notification{SessionID: uuid.New()}, 2, proj)
	if err == nil {
		t.Fatal("flush() with a failing agent run, want error")
	}
	if len(q.transitions) != 1 || q.transitions[0].status != model.StatusFailed || len(q.transitions[0].ids) != 2 {
		t.Errorf("transitions = %+v, want one failed transition of 2 ids", q.transitions)
	}
}

func TestFlush_EmptyClaimIsANoOp(t *testing.T) {
	bus := &fakeBus{}
	lk := freeLock()
	q := &fakeQueue{} // nothing left to claim — another worker already drained it
	runner := &fakeAgentRunner{}
	c := testController(bus, lk, q, runner, config.ProjectConfig{})
	proj := config.ProjectConfig{BufferMaxTurns: 4, BufferMaxOverflow: 2}

	if err := c.flush(context.Background(), broker.Notification{SessionID: uuid.New()}, 1, proj); err != nil {
		t.Fatalf("flush() error = %v", err)
	}
	if runner.calls != 0 || len(q.transitions) != 0 {
		t.Errorf("flush() with an empty claim ran the agent or transitioned messages, want neither")
	}
}

func TestFlushSession_NoPendingReturnsImmediateSuccess(t *testing.T) {
	bus := &fakeBus{}
	lk := freeLock()
	q := &fakeQueue{pendingCount: 0}
	runner := &fakeAgentRunner{}
	c := testController(bus, lk, q, runner, config.ProjectConfig{})

	result := c.FlushSession(context.Background(), uuid.New(), uuid.New())
	if result.Status != 0 {
		t.Errorf("FlushSession() = %+v, want Status 0", result)
	}
	if lk.calls != 1 || lk.released != 1 {
		t.Errorf("lock.calls=%d released=%d, want the lock acquired and released once even with nothing to flush", lk.calls, lk.released)
	}
	if runner.calls != 0 {
		t.Errorf("agent ran %d times with zero pending messages, want 0", runner.calls)
	}
}

func TestFlushSession_WithPendingDrivesAFullFlush(t *testing.T) {
	bus := &fakeBus{}
	lk := freeLock()
	q := &fakeQueue{pendingCount: 2, batch: makeBatch(2)}
	runner := &fakeAgentRunner{}
	c := testController(bus, lk, q, runner, config.ProjectConfig{BufferMaxTurns: 4, BufferMaxOverflow: 2})

	result := c.FlushSession(context.Background(), uuid.New(), uuid.New())
	if result.Status != 0 {
		t.Errorf("FlushSession() = %+v, want Status 0", result)
	}
	if runner.calls != 1 {
		t.Errorf("agent ran %d times, want 1", runner.calls)
	}
	if len(q.transitions) != 1 || q.transitions[0].status != model.StatusSuccess {
		t.Errorf("transitions = %+v, want one success transition", q.transitions)
	}
}

func TestScheduleIdleFlush_RepublishesToBufferProcess(t *testing.T) {
	bus := &fakeBus{}
	lk := &fakeLock{}
	q := &fakeQueue{}
	c := testController(bus, lk, q, &fakeAgentRunner{}, config.ProjectConfig{})
	n := broker.Notification{SessionID: uuid.New(), MessageID: "m1"}

	c.scheduleIdleFlush(n, 0)

	if len(bus.published) != 1 || bus.published[0].routingKey != broker.RoutingKeyBufferProcess {
		t.Fatalf("published = %+v, want one buffer-process republish", bus.published)
	}
	if bus.published[0].n.MessageID != "m1" {
		t.Errorf("republished notification = %+v, want message_id m1", bus.published[0].n)
	}
}

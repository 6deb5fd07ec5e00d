package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nextlevelbuilder/taskloom/internal/broker"
	"github.com/nextlevelbuilder/taskloom/internal/llm"
	"github.com/nextlevelbuilder/taskloom/internal/model"
	"github.com/nextlevelbuilder/taskloom/internal/tools"
	"github.com/nextlevelbuilder/taskloom/internal/tracing"
)

// fakeTxRunner runs fn against a nil transaction — sufficient for every
// tool under test here, none of which dereferences TaskContext.Tx.
type fakeTxRunner struct{ calls int }

func (f *fakeTxRunner) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	f.calls++
	return fn(ctx, nil)
}

// fakeTaskLister hands back a fixed task list and counts how many times
// the loop actually rebuilt the TaskContext from it.
type fakeTaskLister struct {
	tasks []model.Task
	calls int
}

func (f *fakeTaskLister) FetchOrderedTasksTx(ctx context.Context, tx pgx.Tx, sessionID uuid.UUID) ([]model.Task, error) {
	f.calls++
	return f.tasks, nil
}

// fakePublisher records every notification it was asked to publish.
type fakePublisher struct {
	published   []broker.Notification
	routingKeys []string
	err         error
}

func (f *fakePublisher) Publish(ctx context.Context, routingKey string, n broker.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, n)
	f.routingKeys = append(f.routingKeys, routingKey)
	return nil
}

// scriptedProvider returns one ChatResponse per call, in order, then
// repeats the last one if the loop calls it more times than scripted.
type scriptedProvider struct {
	responses []*llm.ChatResponse
	errs      []error
	calls     int
}

func (p *scriptedProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	i := p.calls
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	p.calls++
	var err error
	if i < len(p.errs) {
		err = p.errs[i]
	}
	return p.responses[i], err
}

func (p *scriptedProvider) Name() string  { return "fake" }
func (p *scriptedProvider) Model() string { return "fake-model" }

func noopTracer() *tracing.Tracer {
	tr, _ := tracing.New(tracing.Config{})
	return tr
}

func TestLoop_Run_NoToolCallsSucceedsImmediately(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.ChatResponse{
		{Content: "all done"},
	}}
	db := &fakeTxRunner{}
	taskLister := &fakeTaskLister{}
	loop := New(provider, tools.NewRegistry(nil), db, taskLister, &fakePublisher{}, 5, noopTracer(), nil)

	out, err := loop.Run(context.Background(), Input{SessionID: uuid.New(), ProjectID: uuid.New()})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Content != "all done" || out.Iterations != 1 {
		t.Errorf("Run() = %+v, want Content=%q Iterations=1", out, "all done")
	}
	if db.calls != 0 {
		t.Errorf("WithTx called %d times, want 0 — no tool calls were dispatched", db.calls)
	}
}

func TestLoop_Run_FinishStopsIterationWithoutDispatch(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.ChatResponse{
		{Content: "wrapping up", ToolCalls: []llm.ToolCall{{ID: "1", Name: "finish"}}},
	}}
	db := &fakeTxRunner{}
	loop := New(provider, tools.NewRegistry(nil), db, &fakeTaskLister{}, &fakePublisher{}, 5, noopTracer(), nil)

	out, err := loop.Run(context.Background(), Input{SessionID: uuid.New(), ProjectID: uuid.New()})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Iterations != 1 {
		t.Errorf("Iterations = %d, want 1", out.Iterations)
	}
	if db.calls != 0 {
		t.Errorf("WithTx called %d times, want 0 — finish never opens a transaction", db.calls)
	}
}

func TestLoop_Run_ListTasksRebuildsOnceThenReuses(t *testing.T) {
	taskID := uuid.New()
	provider := &scriptedProvider{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{{ID: "1", Name: "list_tasks"}}},
		{ToolCalls: []llm.ToolCall{{ID: "2", Name: "list_tasks"}}},
		{Content: "done"},
	}}
	taskLister := &fakeTaskLister{tasks: []model.Task{{ID: taskID, Order: 1}}}
	db := &fakeTxRunner{}
	loop := New(provider, tools.NewRegistry(nil), db, taskLister, &fakePublisher{}, 5, noopTracer(), nil)

	out, err := loop.Run(context.Background(), Input{SessionID: uuid.New(), ProjectID: uuid.New()})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Iterations != 3 {
		t.Errorf("Iterations = %d, want 3", out.Iterations)
	}
	if db.calls != 2 {
		t.Errorf("WithTx called %d times, want 2 (one per list_tasks dispatch)", db.calls)
	}
	if taskLister.calls != 1 {
		t.Errorf("FetchOrderedTasksTx called %d times, want 1 — list_tasks never invalidates the context", taskLister.calls)
	}
}

func TestLoop_Run_UnknownToolNameErrors(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{{ID: "1", Name: "does_not_exist"}}},
	}}
	loop := New(provider, tools.NewRegistry(nil), &fakeTxRunner{}, &fakeTaskLister{}, &fakePublisher{}, 5, noopTracer(), nil)

	_, err := loop.Run(context.Background(), Input{SessionID: uuid.New(), ProjectID: uuid.New()})
	if err == nil {
		t.Fatal("Run() with an unknown tool name, want error")
	}
}

func TestLoop_Run_LLMCallFailureIsFatal(t *testing.T) {
	boom := fmt.Errorf("provider unavailable")
	provider := &scriptedProvider{
		responses: []*llm.ChatResponse{{}},
		errs:      []error{boom},
	}
	loop := New(provider, tools.NewRegistry(nil), &fakeTxRunner{}, &fakeTaskLister{}, &fakePublisher{}, 5, noopTracer(), nil)

	_, err := loop.Run(context.Background(), Input{SessionID: uuid.New(), ProjectID: uuid.New()})
	if err == nil {
		t.Fatal("Run() with a failing LLM call, want error")
	}
}

func TestLoop_Run_IterationCapStopsTheLoop(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{{ID: "1", Name: "list_tasks"}}},
	}}
	loop := New(provider, tools.NewRegistry(nil), &fakeTxRunner{}, &fakeTaskLister{}, &fakePublisher{}, 3, noopTracer(), nil)

	out, err := loop.Run(context.Background(), Input{SessionID: uuid.New(), ProjectID: uuid.New()})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Iterations != 3 {
		t.Errorf("Iterations = %d, want the configured cap of 3", out.Iterations)
	}
}

func TestShouldEmitTaskComplete(t *testing.T) {
	id := uuid.New()
	boom := fmt.Errorf("tx rolled back")
	tests := []struct {
		name            string
		txErr           error
		completedTaskID *uuid.UUID
		want            bool
	}{
		{"committed and completed", nil, &id, true},
		{"committed but nothing completed", nil, nil, false},
		{"rolled back even though a task was marked complete", boom, &id, false},
		{"rolled back and nothing completed", boom, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldEmitTaskComplete(tt.txErr, tt.completedTaskID); got != tt.want {
				t.Errorf("shouldEmitTaskComplete(%v, %v) = %v, want %v", tt.txErr, tt.completedTaskID, got, tt.want)
			}
		})
	}
}

func TestLoop_EmitTaskComplete(t *testing.T) {
	t.Run("publishes with the expected routing key", func(t *testing.T) {
		pub := &fakePublisher{}
		loop := &Loop{broker: pub}
		projectID, sessionID, taskID := uuid.New(), uuid.New(), uuid.New()

		loop.emitTaskComplete(context.Background(), projectID, sessionID, taskID)

		if len(pub.published) != 1 {
			t.Fatalf("Publish called %d times, want 1", len(pub.published))
		}
		if pub.routingKeys[0] != broker.RoutingKeyTaskComplete {
			t.Errorf("routing key = %q, want %q", pub.routingKeys[0], broker.RoutingKeyTaskComplete)
		}
		got := pub.published[0]
		if got.ProjectID != projectID || got.SessionID != sessionID || got.TaskID == nil || *got.TaskID != taskID {
			t.Errorf("published notification = %+v, want matching ids for task %s", got, taskID)
		}
	})

	t.Run("nil broker is a no-op, not a panic", func(t *testing.T) {
		loop := &Loop{broker: nil}
		loop.emitTaskComplete(context.Background(), uuid.New(), uuid.New(), uuid.New())
	})

	t.Run("a publish error is swallowed, not propagated", func(t *testing.T) {
		pub := &fakePublisher{err: fmt.Errorf("amqp down")}
		loop := &Loop{broker: pub}
		loop.emitTaskComplete(context.Background(), uuid.New(), uuid.New(), uuid.New())
	})
}

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nextlevelbuilder/taskloom/internal/broker"
	"github.com/nextlevelbuilder/taskloom/internal/llm"
	"github.com/nextlevelbuilder/taskloom/internal/metrics"
	"github.com/nextlevelbuilder/taskloom/internal/model"
	"github.com/nextlevelbuilder/taskloom/internal/tools"
	"github.com/nextlevelbuilder/taskloom/internal/tracing"
)

// TxRunner is the transaction boundary the loop needs from the Postgres
// gateway. *pg.DB satisfies it; tests substitute a fake so dispatch logic
// can be driven without a database.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

// Publisher is the broker surface the loop needs to announce task
// completion once its own transaction has committed.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, n broker.Notification) error
}

// Loop drives one flush's bounded tool-calling conversation with the LLM
// (§4.4): build the prompt, call the provider, dispatch any returned tool
// calls against a per-call transaction, and repeat until the model stops
// calling tools, calls finish, or the iteration cap is hit.
type Loop struct {
	provider      llm.Provider
	registry      *tools.Registry
	db            TxRunner
	taskStore     tools.TaskLister
	broker        Publisher
	maxIterations int
	tracer        *tracing.Tracer
	metrics       *metrics.Metrics
}

func New(provider llm.Provider, registry *tools.Registry, db TxRunner, taskStore tools.TaskLister, b Publisher, maxIterations int, tracer *tracing.Tracer, m *metrics.Metrics) *Loop {
	return &Loop{
		provider:      provider,
		registry:      registry,
		db:            db,
		taskStore:     taskStore,
		broker:        b,
		maxIterations: maxIterations,
		tracer:        tracer,
		metrics:       m,
	}
}

// Input is the per-flush payload assembled by the buffer controller.
type Input struct {
	ProjectID uuid.UUID
	SessionID uuid.UUID
	Tasks     []model.Task
	Previous  []model.Message
	Batch     []model.Message
}

// Output is the result of one complete loop run.
type Output struct {
	Content    string
	Iterations int
	Usage      llm.Usage
}

// Run executes the loop to completion or returns an error if the loop hit
// a fatal condition (unknown tool name, handler panic, LLM call failure,
// or task-context rebuild failure).
func (l *Loop) Run(ctx context.Context, in Input) (out *Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("agent loop panic: %v", r)
		}
	}()

	messageIDs := make([]string, len(in.Batch))
	for i, m := range in.Batch {
		messageIDs[i] = m.MessageID
	}

	messages := []llm.Message{
		{Role: "user", Content: PackPrompt(in.Tasks, in.Previous, in.Batch)},
	}

	var tc *tools.TaskContext
	needRebuild := true
	toolDefs := l.registry.Definitions()

	var finalContent string
	var usage llm.Usage
	iteration := 0

	for iteration < l.maxIterations {
		iteration++

		llmCtx, span := l.tracer.TraceLLMCall(ctx, l.provider.Name(), l.provider.Model(), iteration)
		start := time.Now()
		resp, callErr := l.provider.Chat(llmCtx, llm.ChatRequest{
			System:   systemPrompt,
			Messages: messages,
			Tools:    toolDefs,
		})
		if l.metrics != nil {
			status := "success"
			if callErr != nil {
				status = "error"
			}
			l.metrics.LLMRequestDuration.WithLabelValues(l.provider.Name(), l.provider.Model()).Observe(time.Since(start).Seconds())
			l.metrics.LLMRequestCounter.WithLabelValues(l.provider.Name(), l.provider.Model(), status).Inc()
		}
		if callErr != nil {
			l.tracer.RecordError(span, callErr)
			span.End()
			return nil, fmt.Errorf("LLM call failed (iteration %d): %w", iteration, callErr)
		}
		span.End()

		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens
		if l.metrics != nil {
			l.metrics.LLMTokensUsed.WithLabelValues(l.provider.Name(), l.provider.Model(), "input").Add(float64(resp.Usage.InputTokens))
			l.metrics.LLMTokensUsed.WithLabelValues(l.provider.Name(), l.provider.Model(), "output").Add(float64(resp.Usage.OutputTokens))
		}

		// Step 3: no tool calls ⇒ success exit.
		if len(resp.ToolCalls) == 0 {
			finalContent = resp.Content
			break
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		justFinish := false
		toolResults, dispatchErr := l.dispatchToolCalls(ctx, resp.ToolCalls, &tc, &needRebuild, in, messageIDs, &justFinish)
		if dispatchErr != nil {
			return nil, dispatchErr
		}
		messages = append(messages, toolResults...)

		if justFinish {
			finalContent = resp.Content
			break
		}
	}

	if l.metrics != nil {
		l.metrics.TaskAgentIterations.Observe(float64(iteration))
	}

	return &Output{Content: finalContent, Iterations: iteration, Usage: usage}, nil
}

// dispatchToolCalls runs each tool call in order (step 4): the Task
// Context invalidate/rebuild state is inherently sequential (each call
// depends on whether the *previous* one invalidated it), so tool calls
// within one turn are dispatched one at a time rather than fanned out.
func (l *Loop) dispatchToolCalls(ctx context.Context, calls []llm.ToolCall, tcPtr **tools.TaskContext, needRebuild *bool, in Input, messageIDs []string, justFinish *bool) ([]llm.Message, error) {
	out := make([]llm.Message, 0, len(calls))
	for _, call := range calls {
		msg, finish, err := l.dispatchOne(ctx, call, tcPtr, needRebuild, in, messageIDs)
		if err != nil {
			return nil, err
		}
		if finish {
			*justFinish = true
		}
		out = append(out, msg)
	}
	return out, nil
}

// dispatchOne resolves, rebuilds context if needed, and executes one tool
// call inside its own transaction (§4.4 step 4, §5 "each tool handler
// typically one DB transaction").
func (l *Loop) dispatchOne(ctx context.Context, call llm.ToolCall, tcPtr **tools.TaskContext, needRebuild *bool, in Input, messageIDs []string) (llm.Message, bool, error) {
	if call.Name == "finish" {
		return llm.Message{Role: "tool", Content: "ok", ToolCallID: call.ID}, true, nil
	}

	tool, ok := l.registry.Get(call.Name)
	if !ok {
		return llm.Message{}, false, fmt.Errorf("unknown tool %q", call.Name)
	}

	toolCtx, span := l.tracer.TraceTool(ctx, call.Name)
	start := time.Now()
	defer span.End()

	var result *tools.Result
	txErr := l.db.WithTx(toolCtx, func(ctx context.Context, tx pgx.Tx) error {
		if *needRebuild || *tcPtr == nil {
			newTC, err := tools.BuildTaskContext(ctx, l.taskStore, tx, in.ProjectID, in.SessionID, messageIDs)
			if err != nil {
				return err
			}
			*tcPtr = newTC
		} else {
			(*tcPtr).Tx = tx
		}
		result = tool.Execute(ctx, *tcPtr, call.Arguments)
		return result.Err
	})

	status := "success"
	if result == nil {
		// BuildTaskContext failed before the tool ever ran — no
		// validation result to surface, this is fatal for the flush.
		if l.metrics != nil {
			l.metrics.ToolExecutionCounter.WithLabelValues(call.Name, "error").Inc()
		}
		l.tracer.RecordError(span, txErr)
		return llm.Message{}, false, fmt.Errorf("tool %s: rebuild task context: %w", call.Name, txErr)
	}
	if result.IsError {
		status = "error"
		slog.Warn("tool call failed, feeding result back to the model", "tool", call.Name, "error", result.ForLLM)
	}
	if l.metrics != nil {
		l.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
		l.metrics.ToolExecutionCounter.WithLabelValues(call.Name, status).Inc()
	}

	*needRebuild = tool.InvalidatesContext()

	// The tool's transaction has committed by this point — only now is it
	// safe to announce the task as complete (grounded on the teacher's
	// UpdateTodos, which publishes after its write already returned).
	if shouldEmitTaskComplete(txErr, result.CompletedTaskID) {
		l.emitTaskComplete(ctx, (*tcPtr).ProjectID, (*tcPtr).SessionID, *result.CompletedTaskID)
	}

	return llm.Message{Role: "tool", Content: result.ForLLM, ToolCallID: call.ID}, false, nil
}

// shouldEmitTaskComplete reports whether a just-dispatched tool call earned
// a completion notification: its transaction must have committed (a tool
// error rolls the transaction back, so a CompletedTaskID from that attempt
// can't be trusted) and it must have actually completed a task.
func shouldEmitTaskComplete(txErr error, completedTaskID *uuid.UUID) bool {
	return txErr == nil && completedTaskID != nil
}

// emitTaskComplete publishes the completion notification inline: the loop
// waits for Publish to return before it dispatches the next tool call. A
// broker error is logged, not returned, so it never fails the tool call —
// a lost notification only delays whatever observes
// space.task.new.complete, it never corrupts task state, since the row is
// already durably committed.
func (l *Loop) emitTaskComplete(ctx context.Context, projectID, sessionID, taskID uuid.UUID) {
	if l.broker == nil {
		return
	}
	id := taskID
	n := broker.Notification{ProjectID: projectID, SessionID: sessionID, TaskID: &id}
	if err := l.broker.Publish(ctx, broker.RoutingKeyTaskComplete, n); err != nil {
		slog.Warn("agent: failed to publish task-complete notification", "task_id", id, "error", err)
	}
}

package tools

import (
	"context"

	"github.com/nextlevelbuilder/taskloom/internal/llm"
	"github.com/nextlevelbuilder/taskloom/internal/store/pg"
)

// Tool is the contract every entry in the Tool Library satisfies (§4.3).
// InvalidatesContext tells the agent loop whether the TaskContext must be
// rebuilt from a fresh read before the next tool call is dispatched.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	InvalidatesContext() bool
	Execute(ctx context.Context, tc *TaskContext, args map[string]any) *Result
}

// Registry holds the fixed set of tools offered to the model each turn.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds the six-tool library: the five from the task store
// surface plus the read-only list_tasks introspection tool.
func NewRegistry(tasks *pg.TaskStore) *Registry {
	r := &Registry{tools: map[string]Tool{}}
	for _, t := range []Tool{
		&InsertTaskTool{},
		&UpdateTaskTool{},
		&AppendMessagesToTaskTool{},
		&AppendMessagesToPlanningSectionTool{},
		&FinishTool{},
		&ListTasksTool{},
	} {
		r.tools[t.Name()] = t
		r.order = append(r.order, t.Name())
	}
	return r
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the JSON-schema tool contracts in registration order,
// the shape the LLM provider seam expects.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

package tools

import "context"

// FinishTool signals the agent loop that no further tool calls are needed
// this flush (§4.3's table row 5, §4.4 step "model calls finish"). It
// performs no mutation — the loop recognizes the call by name and stops
// iterating rather than dispatching a generic tool result.
type FinishTool struct{}

func (t *FinishTool) Name() string { return "finish" }

func (t *FinishTool) Description() string {
	return "Call this once no further tool calls are needed for the current batch of messages."
}

func (t *FinishTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{
				"type":        "string",
				"description": "Optional short summary of what was done.",
			},
		},
	}
}

func (t *FinishTool) InvalidatesContext() bool { return false }

func (t *FinishTool) Execute(ctx context.Context, tc *TaskContext, args map[string]any) *Result {
	summary, _ := argString(args, "summary", false)
	return SilentResult(summary)
}

package tools

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/taskloom/internal/store/pg"
)

// AppendMessagesToPlanningSectionTool attaches messages to the session's
// reserved order=0 planning task, creating it on first use (§4.3's table
// row 4).
type AppendMessagesToPlanningSectionTool struct{}

func (t *AppendMessagesToPlanningSectionTool) Name() string {
	return "append_messages_to_planning_section"
}

func (t *AppendMessagesToPlanningSectionTool) Description() string {
	return "Attach one or more message ids from the current batch to the session's planning section — use this for messages that don't belong to any concrete task yet."
}

func (t *AppendMessagesToPlanningSectionTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message_ids": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}, "description": "Zero-based indices into the current batch."},
		},
		"required": []string{"message_ids"},
	}
}

func (t *AppendMessagesToPlanningSectionTool) InvalidatesContext() bool { return false }

func (t *AppendMessagesToPlanningSectionTool) Execute(ctx context.Context, tc *TaskContext, args map[string]any) *Result {
	indices, err := argIntSlice(args, "message_ids", true)
	if err != nil {
		return ErrorResult(err.Error(), err)
	}
	messageIDs, err := tc.MessageIDsByIndex(indices)
	if err != nil {
		return ErrorResult(err.Error(), err)
	}
	if err := pg.AppendMessagesToPlanningSectionTx(ctx, tc.Tx, tc.SessionID, messageIDs); err != nil {
		return ErrorResult(fmt.Sprintf("append_messages_to_planning_section failed: %v", err), err)
	}
	return NewResult(fmt.Sprintf("attached %d message(s) to the planning section", len(messageIDs)))
}

// Package agent implements the Task Agent Loop (§4.4): a bounded,
// tool-calling conversation with the LLM over one flush's worth of
// buffered messages.
package agent

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/taskloom/internal/model"
)

const systemPrompt = `You are the task agent for a conversational ingestion pipeline. You are given the session's current ordered task list, a window of prior messages, and a new batch of messages. Decide how the new messages relate to existing tasks, create new tasks where needed, and record progress using the available tools. Call finish once no further tool calls are needed.`

// PackPrompt renders the three prompt sections of §4.4 step 1: the
// current task list, a window of prior messages (tagged with whatever
// task they're already attached to), and the current batch wrapped in
// zero-based <message id=N> tags.
func PackPrompt(tasks []model.Task, previous []model.Message, batch []model.Message) string {
	var b strings.Builder

	b.WriteString("## Current Tasks\n")
	if len(tasks) == 0 {
		b.WriteString("(none)\n")
	}
	for _, t := range tasks {
		fmt.Fprintf(&b, "- [order=%d, status=%s] %s\n", t.Order, t.Status, t.Description())
	}

	b.WriteString("\n## Previous Messages\n")
	if len(previous) == 0 {
		b.WriteString("(none)\n")
	}
	for _, m := range previous {
		tag := "[unattached]"
		if m.TaskID != nil {
			tag = fmt.Sprintf("[task %s]", m.TaskID)
		}
		fmt.Fprintf(&b, "%s %s: %s\n", tag, m.Role, renderParts(m.Parts))
	}

	b.WriteString("\n## Current Messages\n")
	for i, m := range batch {
		fmt.Fprintf(&b, "<message id=%d>%s: %s</message>\n", i, m.Role, renderParts(m.Parts))
	}

	return b.String()
}

func renderParts(parts []model.Part) string {
	var texts []string
	for _, p := range parts {
		switch p.Kind {
		case model.PartText:
			texts = append(texts, p.Text)
		case model.PartImage, model.PartAudio, model.PartVideo, model.PartFile:
			texts = append(texts, fmt.Sprintf("[%s: %s]", p.Kind, p.Filename))
		case model.PartToolCall:
			texts = append(texts, fmt.Sprintf("[tool_call %s]", p.ToolName))
		case model.PartToolResult:
			texts = append(texts, fmt.Sprintf("[tool_result: %s]", p.ToolResultText))
		case model.PartData:
			texts = append(texts, "[data]")
		}
	}
	return strings.Join(texts, " ")
}

// Package model defines the persisted domain types shared across the
// buffer controller, task store, and agent loop.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PartKind identifies the tagged variant stored in a Part.
type PartKind string

const (
	PartText       PartKind = "text"
	PartImage      PartKind = "image"
	PartAudio      PartKind = "audio"
	PartVideo      PartKind = "video"
	PartFile       PartKind = "file"
	PartToolCall   PartKind = "tool-call"
	PartToolResult PartKind = "tool-result"
	PartData       PartKind = "data"
)

// Part is one tagged unit of a message's content. Only the field matching
// Kind is populated; the rest are left at their zero value.
type Part struct {
	Kind PartKind `json:"kind"`

	// PartText
	Text string `json:"text,omitempty"`

	// PartImage / PartAudio / PartVideo / PartFile — resolved lazily via
	// the object-store gateway; AssetKey is the only field guaranteed to
	// survive a parts-hydration failure.
	AssetKey string `json:"asset_key,omitempty"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`

	// PartToolCall
	ToolCallID   string          `json:"tool_call_id,omitempty"`
	ToolName     string          `json:"tool_name,omitempty"`
	ToolArgsJSON json.RawMessage `json:"tool_args,omitempty"`

	// PartToolResult
	ToolResultForCallID string `json:"tool_result_for_call_id,omitempty"`
	ToolResultText      string `json:"tool_result_text,omitempty"`
	ToolResultIsError   bool   `json:"tool_result_is_error,omitempty"`

	// PartData
	DataJSON json.RawMessage `json:"data,omitempty"`
}

// MessageRole identifies who produced a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
	RoleFunction  MessageRole = "function"
)

// PartsMeta is the persisted locator for a message's parts blob in object
// storage (§4.1's object-store gateway: download(key) → bytes). It is the
// only parts-related value written to the messages table; Parts itself is
// never persisted, only hydrated from this locator on read.
type PartsMeta struct {
	AssetKey string `json:"asset_key,omitempty"`
}

// IsZero reports whether m points at no blob, meaning the message carries
// no hydratable content (e.g. a bare status transition has no parts).
func (m PartsMeta) IsZero() bool { return m.AssetKey == "" }

// Message is one unit of conversational input buffered for a session.
// MessageID is a ULID so natural lexicographic sort order matches
// insertion order without a separate sequence column.
type Message struct {
	MessageID string      `json:"message_id"`
	SessionID uuid.UUID   `json:"session_id"`
	ProjectID uuid.UUID   `json:"project_id"`
	Role      MessageRole `json:"role"`
	ParentID  *string     `json:"parent_id,omitempty"`

	// PartsMeta is what the messages row actually stores. Parts is
	// populated from it at read time by the object-store gateway and
	// degrades to nil on a hydration miss (§4.1, §7).
	PartsMeta PartsMeta `json:"parts_meta,omitempty"`
	Parts     []Part    `json:"parts"`

	TaskID    *uuid.UUID `json:"task_id,omitempty"`
	Status    Status     `json:"session_task_process_status,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

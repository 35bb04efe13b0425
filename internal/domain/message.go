package domain

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolCall is a structured request issued by the upstream model.
// Input is decoded by the handler that owns Name. Result and IsError are
// filled in once the call has been dispatched.
type ToolCall struct {
	Name    string         `json:"name"`
	Input   map[string]any `json:"input"`
	Result  string         `json:"result,omitempty"`
	IsError bool           `json:"is_error,omitempty"`
}

// Message is a persisted chat turn.
type Message struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	TokenCount *int       `json:"token_count,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// PendingEvent is an ephemeral signal produced by a tool handler and
// forwarded to the transport once per turn. It is never persisted.
type PendingEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Event types surfaced to the transport.
const (
	EventUIReady = "ui:ready"
)

// ReadyData is the payload of a ui:ready event.
type ReadyData struct {
	Stage   Stage  `json:"stage"`
	Summary string `json:"summary"`
}

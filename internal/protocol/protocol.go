package protocol

import (
	"encoding/json"

	"github.com/syncline/syncline/internal/shared/types"
)

// Kind discriminates the two envelope families
type Kind string

const (
	KindChat   Kind = "chat"
	KindSystem Kind = "system"
)

// Envelope is the outer frame shape. Seq is a non-decreasing hint assigned
// by the peer; the client tracks the maximum seen value and never rewinds.
type Envelope struct {
	Kind      Kind            `json:"type"`
	Seq       int64           `json:"seq"`
	Timestamp int64           `json:"timestamp"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// ChatEventType tags chat payloads. The set is closed: validation rejects
// anything outside it.
type ChatEventType string

const (
	ChatSend       ChatEventType = "send"
	ChatToken      ChatEventType = "token"
	ChatToolStart  ChatEventType = "tool_start"
	ChatToolEnd    ChatEventType = "tool_end"
	ChatTodoUpdate ChatEventType = "todo_update"
	ChatThinking   ChatEventType = "thinking"
	ChatComplete   ChatEventType = "complete"
	ChatError      ChatEventType = "error"
	ChatCancel     ChatEventType = "cancel"
)

// Inbound reports whether the peer may legally send this event to us.
// send/cancel are client-to-server only; they parse but dispatch as no-ops.
func (t ChatEventType) Inbound() bool {
	return t != ChatSend && t != ChatCancel
}

// ChatEvent is the payload for chat envelopes.
type ChatEvent struct {
	Event     ChatEventType         `json:"event"`
	Content   string                `json:"content,omitempty"`
	Tool      *types.ToolInvocation `json:"tool,omitempty"`
	Todos     []types.TodoItem      `json:"todos,omitempty"`
	Error     string                `json:"error,omitempty"`
	SessionID string                `json:"sessionId,omitempty"`
}

// SystemEventType tags system payloads.
type SystemEventType string

const (
	SystemConnected SystemEventType = "connected"
	SystemSubscribe SystemEventType = "subscribe"
	SystemCatchUp   SystemEventType = "catch_up"
	SystemSnapshot  SystemEventType = "snapshot"
	SystemError     SystemEventType = "error"
)

// Inbound reports whether the peer may legally send this event to us.
func (t SystemEventType) Inbound() bool {
	return t != SystemSubscribe && t != SystemCatchUp
}

// ChatState is the peer's authoritative view of the in-flight turn,
// delivered inside a snapshot. Snapshot values win over any partial local
// reconstruction from replayed events.
type ChatState struct {
	Status             string                 `json:"status"`
	AccumulatedContent string                 `json:"accumulatedContent,omitempty"`
	Tools              []types.ToolInvocation `json:"tools,omitempty"`
	Todos              []types.TodoItem       `json:"todos,omitempty"`
}

// Streaming reports whether the turn was mid-stream at snapshot time.
func (s *ChatState) Streaming() bool {
	return s != nil && s.Status == "streaming"
}

// SystemEvent is the payload for system envelopes.
type SystemEvent struct {
	Event      SystemEventType `json:"event"`
	CurrentSeq *int64          `json:"currentSeq,omitempty"`
	SessionID  string          `json:"sessionId,omitempty"`
	Events     []Envelope      `json:"events,omitempty"`
	ChatState  *ChatState      `json:"chatState,omitempty"`
	Error      string          `json:"error,omitempty"`
}

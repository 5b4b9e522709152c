package session

import "github.com/syncline/syncline/internal/shared/types"

// Stats is the JSON snapshot served by the debug endpoint.
type Stats struct {
	SessionID    string       `json:"session_id,omitempty"`
	Status       types.Status `json:"status"`
	LastSeq      int64        `json:"last_seq"`
	MessageCount int          `json:"message_count"`
	Streaming    bool         `json:"streaming"`
	LastError    string       `json:"last_error,omitempty"`
}

// Messages returns a copy of the transcript.
func (c *Controller) Messages() []types.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.ChatMessage(nil), c.messages...)
}

// Status returns the current connection status.
func (c *Controller) Status() types.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SessionID returns the active session identity, empty until assigned.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// LastSeq returns the highest sequence number seen.
func (c *Controller) LastSeq() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}

// LastError returns the most recent user-visible error, empty when clear.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// IsStreaming reports whether a turn is in flight.
func (c *Controller) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

// StreamingText returns the flat text streamed so far for the in-flight
// turn. Empty between turns.
func (c *Controller) StreamingText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acc.FlatText()
}

// ActiveTools returns the currently open tool group.
func (c *Controller) ActiveTools() []types.ToolInvocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acc.ActiveTools()
}

// CompletedTools returns the flat historical tool list for the in-flight
// turn.
func (c *Controller) CompletedTools() []types.ToolInvocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acc.CompletedTools()
}

// Todos returns the current todo list.
func (c *Controller) Todos() []types.TodoItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acc.Todos()
}

// Snapshot returns the debug stats view.
func (c *Controller) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		SessionID:    c.sessionID,
		Status:       c.status,
		LastSeq:      c.lastSeq,
		MessageCount: len(c.messages),
		Streaming:    c.streaming,
		LastError:    c.lastError,
	}
}

package session

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/syncline/syncline/internal/protocol"
	"github.com/syncline/syncline/internal/shared/id"
	"github.com/syncline/syncline/internal/shared/types"
)

// applySnapshot recovers state missed while disconnected. Buffered events
// replay through handleFrame, the same entry point as live frames, and
// the peer's chatState then wins over anything the replay reconstructed,
// since it represents ground truth at a later point in time.
func (c *Controller) applySnapshot(env protocol.Envelope, ev protocol.SystemEvent) {
	c.mu.Lock()
	if c.replaying {
		// A snapshot nested inside a snapshot's own replay buffer is a
		// peer bug; applying it recursively could loop.
		c.mu.Unlock()
		c.logger.Warn("Ignoring nested snapshot during replay")
		return
	}
	if ev.SessionID != "" {
		c.sessionID = ev.SessionID
	} else if c.sessionID == "" && env.SessionID != "" {
		c.sessionID = env.SessionID
	}
	c.replaying = true
	c.mu.Unlock()

	replayed := 0
	for i := range ev.Events {
		data, err := json.Marshal(&ev.Events[i])
		if err != nil {
			c.logger.Warn("Skipping unreplayable buffered event", zap.Error(err))
			continue
		}
		c.handleFrame(data)
		replayed++
	}

	c.mu.Lock()
	c.replaying = false
	if ev.ChatState.Streaming() {
		if !c.streaming {
			placeholderID := id.NewMessageID().String()
			c.messages = append(c.messages, types.ChatMessage{
				ID:          placeholderID,
				Role:        types.RoleAssistant,
				Timestamp:   env.Timestamp,
				IsStreaming: true,
			})
			c.streaming = true
			c.streamingID = placeholderID
		}
		c.acc.SeedSnapshot(ev.ChatState.AccumulatedContent, ev.ChatState.Tools, ev.ChatState.Todos)
	}
	c.mu.Unlock()

	c.metrics.RecordSnapshot(replayed)
	c.logger.Info("Snapshot applied", zap.Int("replayed", replayed))
	c.notifyChange()
}

package session

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/syncline/syncline/internal/connection"
	"github.com/syncline/syncline/internal/infrastructure/logging"
	"github.com/syncline/syncline/internal/infrastructure/monitoring"
	"github.com/syncline/syncline/internal/protocol"
	"github.com/syncline/syncline/internal/shared/id"
	"github.com/syncline/syncline/internal/shared/types"
	"github.com/syncline/syncline/internal/stream"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrTurnInFlight = errors.New("a turn is already streaming")
)

// Transport is the slice of the connection manager the controller needs.
type Transport interface {
	Acquire(url string, onOpen func())
	OnFrame(url string, h connection.FrameHandler) func()
	OnStatus(url string, h connection.StatusHandler) func()
	Send(url string, payload any) bool
	IsConnected(url string) bool
	MarkSubscribed(url, sessionID string) bool
}

// Hooks notify the presentation layer. Both are optional and are invoked
// outside the controller's lock, so read accessors are safe to call from
// them; mutating operations are not.
type Hooks struct {
	OnChange func()
	OnError  func(message string)
}

// Options configures a Controller.
type Options struct {
	// SessionID resumes an existing session when non-empty; otherwise the
	// peer assigns one via connected/snapshot frames.
	SessionID string
	Hooks     Hooks
	Logger    *logging.Logger
	Metrics   *monitoring.Metrics
}

// Controller is the top-level orchestrator for one conversation.
type Controller struct {
	url     string
	manager Transport
	logger  *logging.Logger
	metrics *monitoring.Metrics
	hooks   Hooks

	mu          sync.Mutex
	acc         *stream.Accumulator
	messages    []types.ChatMessage
	sessionID   string
	lastSeq     int64
	status      types.Status
	lastError   string
	streaming   bool
	streamingID string
	replaying   bool

	unsubFrame  func()
	unsubStatus func()
}

// NewController creates a controller bound to a shared connection manager.
// The controller starts disconnected; call Connect to begin.
func NewController(url string, manager Transport, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Controller{
		url:       url,
		manager:   manager,
		logger:    logger,
		metrics:   opts.Metrics,
		hooks:     opts.Hooks,
		acc:       stream.NewAccumulator(),
		sessionID: opts.SessionID,
		status:    types.StatusDisconnected,
	}
}

// Connect registers this controller's interest in the shared socket and
// requests a connection attempt. Idempotent while already connected.
func (c *Controller) Connect() {
	c.mu.Lock()
	if c.status == types.StatusConnected {
		c.mu.Unlock()
		return
	}
	if c.unsubFrame == nil {
		c.unsubFrame = c.manager.OnFrame(c.url, c.handleFrame)
		c.unsubStatus = c.manager.OnStatus(c.url, c.handleStatus)
	}
	c.status = types.StatusConnecting
	c.mu.Unlock()

	c.notifyChange()
	c.manager.Acquire(c.url, nil)

	// Acquire is idempotent and may find the socket already open, in
	// which case no status transition will fire.
	if c.manager.IsConnected(c.url) {
		c.handleStatus(true, false)
	}
}

// Disconnect withdraws this controller's interest. The physical socket
// persists while other subscribers remain. The controller can safely
// Connect or Cancel later.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	unsubFrame, unsubStatus := c.unsubFrame, c.unsubStatus
	c.unsubFrame, c.unsubStatus = nil, nil
	c.status = types.StatusDisconnected
	c.mu.Unlock()

	if unsubFrame != nil {
		unsubFrame()
	}
	if unsubStatus != nil {
		unsubStatus()
	}
	c.notifyChange()
}

// Send transmits a user prompt and opens a new turn. The user message and
// its streaming placeholder appear atomically: no observer ever sees one
// without the other.
func (c *Controller) Send(content string) error {
	c.mu.Lock()
	if c.status != types.StatusConnected {
		c.lastError = "not connected"
		c.mu.Unlock()
		c.notifyError("not connected")
		return ErrNotConnected
	}
	if c.streaming {
		c.lastError = "a turn is already streaming"
		c.mu.Unlock()
		c.notifyError("a turn is already streaming")
		return ErrTurnInFlight
	}

	now := time.Now().UnixMilli()
	placeholderID := id.NewMessageID().String()
	c.messages = append(c.messages,
		types.ChatMessage{
			ID:        id.NewMessageID().String(),
			Role:      types.RoleUser,
			Content:   content,
			Timestamp: now,
		},
		types.ChatMessage{
			ID:          placeholderID,
			Role:        types.RoleAssistant,
			Timestamp:   now,
			IsStreaming: true,
		},
	)
	c.acc.Reset()
	c.streaming = true
	c.streamingID = placeholderID
	c.lastError = ""
	sid := c.sessionID
	c.mu.Unlock()

	if !c.manager.Send(c.url, protocol.NewSendFrame(content, sid)) {
		// The socket died between the status check and the write. Roll the
		// turn back so the transcript never shows a prompt that was never
		// transmitted.
		c.mu.Lock()
		c.messages = c.messages[:len(c.messages)-2]
		c.streaming = false
		c.streamingID = ""
		c.lastError = "not connected"
		c.mu.Unlock()
		c.notifyError("not connected")
		return ErrNotConnected
	}

	c.notifyChange()
	return nil
}

// Cancel asks the peer to stop the in-flight turn. Finalization still only
// happens when the peer answers with complete or error.
func (c *Controller) Cancel() {
	c.mu.Lock()
	connected := c.status == types.StatusConnected
	sid := c.sessionID
	c.mu.Unlock()

	if !connected {
		return
	}
	c.manager.Send(c.url, protocol.NewCancelFrame(sid))
}

// ClearMessages drops the history and all turn buffers. Connection state
// is untouched.
func (c *Controller) ClearMessages() {
	c.mu.Lock()
	c.messages = nil
	c.acc.Reset()
	c.streaming = false
	c.streamingID = ""
	c.lastError = ""
	c.mu.Unlock()

	c.notifyChange()
}

// handleStatus reacts to connectivity transitions from the shared socket.
func (c *Controller) handleStatus(connected, willReconnect bool) {
	if connected {
		c.mu.Lock()
		c.status = types.StatusConnected
		sid := c.sessionID
		c.mu.Unlock()

		// Subscribe exactly once per socket incarnation; other
		// controllers sharing the socket race through MarkSubscribed.
		if sid != "" && c.manager.MarkSubscribed(c.url, sid) {
			c.manager.Send(c.url, protocol.NewSubscribeFrame(sid))
			c.manager.Send(c.url, protocol.NewCatchUpFrame(sid))
		}
		c.notifyChange()
		return
	}

	c.mu.Lock()
	if willReconnect {
		c.status = types.StatusReconnecting
	} else {
		c.status = types.StatusDisconnected
	}
	c.mu.Unlock()
	c.notifyChange()
}

// handleFrame is the single dispatch entry point for inbound frames, both
// live and replayed from snapshots.
func (c *Controller) handleFrame(data []byte) {
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		c.logger.Warn("Dropping malformed frame", zap.Error(err))
		c.metrics.RecordFrameDropped("parse")
		return
	}

	c.mu.Lock()
	if env.Seq > c.lastSeq {
		c.lastSeq = env.Seq
	}
	c.mu.Unlock()

	switch env.Kind {
	case protocol.KindChat:
		ev, err := protocol.ParseChatEvent(env.Payload)
		if err != nil {
			c.logger.Warn("Dropping invalid chat event", zap.Error(err))
			c.metrics.RecordFrameDropped("validate")
			return
		}
		c.metrics.RecordFrame(string(protocol.KindChat), string(ev.Event))
		c.applyChatEvent(ev)

	case protocol.KindSystem:
		ev, err := protocol.ParseSystemEvent(env.Payload)
		if err != nil {
			c.logger.Warn("Dropping invalid system event", zap.Error(err))
			c.metrics.RecordFrameDropped("validate")
			return
		}
		c.metrics.RecordFrame(string(protocol.KindSystem), string(ev.Event))
		c.applySystemEvent(env, ev)
	}
}

// applyChatEvent routes a validated chat event to the accumulator. The
// switch is total over the closed tag set; validation already rejected
// everything else.
func (c *Controller) applyChatEvent(ev protocol.ChatEvent) {
	switch ev.Event {
	case protocol.ChatToken:
		c.mu.Lock()
		c.acc.AppendToken(ev.Content)
		c.mu.Unlock()
		c.notifyChange()

	case protocol.ChatToolStart:
		c.mu.Lock()
		c.acc.StartTool(*ev.Tool)
		c.mu.Unlock()
		c.notifyChange()

	case protocol.ChatToolEnd:
		c.mu.Lock()
		c.acc.EndTool(*ev.Tool)
		c.mu.Unlock()
		c.notifyChange()

	case protocol.ChatTodoUpdate:
		c.mu.Lock()
		c.acc.ReplaceTodos(ev.Todos)
		c.mu.Unlock()
		c.notifyChange()

	case protocol.ChatThinking:
		// Accepted, no observable state change.

	case protocol.ChatComplete:
		c.completeTurn(ev.Content)

	case protocol.ChatError:
		c.failTurn(ev.Error)

	case protocol.ChatSend, protocol.ChatCancel:
		// Outbound-only tags: a peer should never send these, but
		// receiving one must not crash the client.
		c.logger.Debug("Ignoring outbound-only chat event", zap.String("event", string(ev.Event)))
	}
}

// applySystemEvent routes a validated system event.
func (c *Controller) applySystemEvent(env protocol.Envelope, ev protocol.SystemEvent) {
	switch ev.Event {
	case protocol.SystemConnected:
		c.mu.Lock()
		if ev.CurrentSeq != nil && *ev.CurrentSeq > c.lastSeq {
			c.lastSeq = *ev.CurrentSeq
		}
		if c.sessionID == "" && env.SessionID != "" {
			c.sessionID = env.SessionID
		}
		c.mu.Unlock()
		c.notifyChange()

	case protocol.SystemSnapshot:
		c.applySnapshot(env, ev)

	case protocol.SystemError:
		c.mu.Lock()
		c.lastError = ev.Error
		c.mu.Unlock()
		c.logger.Error("Peer reported error", zap.String("error", ev.Error))
		c.notifyError(ev.Error)
		c.notifyChange()

	case protocol.SystemSubscribe, protocol.SystemCatchUp:
		c.logger.Debug("Ignoring outbound-only system event", zap.String("event", string(ev.Event)))
	}
}

// completeTurn seals the accumulator and resolves the streaming
// placeholder: by id first, then any message still marked streaming, and
// as a last resort a synthesized assistant message so accumulated content
// is never silently discarded.
func (c *Controller) completeTurn(trailing string) {
	c.mu.Lock()
	result := c.acc.Finalize(trailing)

	idx := c.findStreamingLocked()
	if idx >= 0 {
		msg := &c.messages[idx]
		msg.Content = result.Content
		msg.Tools = result.Tools
		msg.ContentBlocks = result.Blocks
		msg.IsStreaming = false
	} else if result.Content != "" || len(result.Tools) > 0 || len(result.Blocks) > 0 {
		c.messages = append(c.messages, types.ChatMessage{
			ID:            id.NewMessageID().String(),
			Role:          types.RoleAssistant,
			Content:       result.Content,
			Timestamp:     time.Now().UnixMilli(),
			Tools:         result.Tools,
			ContentBlocks: result.Blocks,
		})
	}
	c.streaming = false
	c.streamingID = ""
	c.mu.Unlock()

	c.metrics.RecordTurn("complete")
	c.notifyChange()
}

// failTurn aborts the in-flight turn on an application error from the
// peer. Partial content was never sealed into the message, so it is
// discarded from the transcript.
func (c *Controller) failTurn(message string) {
	c.mu.Lock()
	c.acc.Abort()
	if idx := c.findStreamingLocked(); idx >= 0 {
		c.messages[idx].IsStreaming = false
	}
	c.streaming = false
	c.streamingID = ""
	c.lastError = message
	c.mu.Unlock()

	c.metrics.RecordTurn("error")
	c.logger.Error("Turn failed", zap.String("error", message))
	c.notifyError(message)
	c.notifyChange()
}

// findStreamingLocked locates the in-flight placeholder: first by its
// assigned id, falling back to any message still marked streaming (the id
// can legitimately go missing across a snapshot restore). Caller holds mu.
func (c *Controller) findStreamingLocked() int {
	if c.streamingID != "" {
		for i := range c.messages {
			if c.messages[i].ID == c.streamingID {
				return i
			}
		}
	}
	for i := range c.messages {
		if c.messages[i].IsStreaming {
			return i
		}
	}
	return -1
}

func (c *Controller) notifyChange() {
	if c.hooks.OnChange != nil {
		c.hooks.OnChange()
	}
}

func (c *Controller) notifyError(message string) {
	if c.hooks.OnError != nil {
		c.hooks.OnError(message)
	}
}

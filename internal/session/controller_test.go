package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncline/syncline/internal/connection"
	"github.com/syncline/syncline/internal/protocol"
	"github.com/syncline/syncline/internal/shared/types"
)

// fakeTransport implements Transport in-memory so controller semantics can
// be tested without a socket.
type fakeTransport struct {
	mu             sync.Mutex
	connected      bool
	sendOK         bool
	sent           []protocol.OutboundFrame
	frameHandlers  []connection.FrameHandler
	statusHandlers []connection.StatusHandler
	subscribed     map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sendOK: true, subscribed: make(map[string]bool)}
}

func (f *fakeTransport) Acquire(url string, onOpen func()) {
	f.mu.Lock()
	connected := f.connected
	f.mu.Unlock()
	if connected && onOpen != nil {
		onOpen()
	}
}

func (f *fakeTransport) OnFrame(url string, h connection.FrameHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frameHandlers = append(f.frameHandlers, h)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.frameHandlers = nil
	}
}

func (f *fakeTransport) OnStatus(url string, h connection.StatusHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusHandlers = append(f.statusHandlers, h)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.statusHandlers = nil
	}
}

func (f *fakeTransport) Send(url string, payload any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected || !f.sendOK {
		return false
	}
	if frame, ok := payload.(protocol.OutboundFrame); ok {
		f.sent = append(f.sent, frame)
	}
	return true
}

func (f *fakeTransport) IsConnected(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) MarkSubscribed(url, sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected || f.subscribed[sessionID] {
		return false
	}
	f.subscribed[sessionID] = true
	return true
}

// open flips the fake socket to connected and notifies status listeners.
func (f *fakeTransport) open() {
	f.mu.Lock()
	f.connected = true
	handlers := append([]connection.StatusHandler(nil), f.statusHandlers...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(true, false)
	}
}

// deliver pushes a raw frame through every frame listener.
func (f *fakeTransport) deliver(data []byte) {
	f.mu.Lock()
	handlers := append([]connection.FrameHandler(nil), f.frameHandlers...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(data)
	}
}

func (f *fakeTransport) sentEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var events []string
	for _, frame := range f.sent {
		switch p := frame.Payload.(type) {
		case protocol.ChatEvent:
			events = append(events, "chat/"+string(p.Event))
		case protocol.SystemEvent:
			events = append(events, "system/"+string(p.Event))
		}
	}
	return events
}

func chatFrame(t *testing.T, seq int64, payload string) []byte {
	t.Helper()
	return []byte(fmt.Sprintf(`{"type":"chat","seq":%d,"timestamp":1,"payload":%s}`, seq, payload))
}

func systemFrame(t *testing.T, seq int64, payload string) []byte {
	t.Helper()
	return []byte(fmt.Sprintf(`{"type":"system","seq":%d,"timestamp":1,"payload":%s}`, seq, payload))
}

func connectedController(t *testing.T, opts Options) (*Controller, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport()
	c := NewController("ws://test/stream", transport, opts)
	c.Connect()
	transport.open()
	require.Equal(t, types.StatusConnected, c.Status())
	return c, transport
}

func TestSendAppendsUserAndPlaceholderTogether(t *testing.T) {
	c, transport := connectedController(t, Options{})

	require.NoError(t, c.Send("hi"))

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, types.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, types.RoleAssistant, msgs[1].Role)
	assert.True(t, msgs[1].IsStreaming)

	assert.Contains(t, transport.sentEvents(), "chat/send")
}

func TestSendRejectedWhenNotConnected(t *testing.T) {
	transport := newFakeTransport()
	c := NewController("ws://test/stream", transport, Options{})

	err := c.Send("hi")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, c.Messages())
	assert.Equal(t, "not connected", c.LastError())
}

func TestSendRejectedWhileTurnInFlight(t *testing.T) {
	c, _ := connectedController(t, Options{})

	require.NoError(t, c.Send("first"))
	err := c.Send("second")

	assert.ErrorIs(t, err, ErrTurnInFlight)
	assert.Len(t, c.Messages(), 2, "rejected send must produce no new messages")
}

func TestSendRollsBackWhenTransmitFails(t *testing.T) {
	c, transport := connectedController(t, Options{})
	transport.mu.Lock()
	transport.sendOK = false
	transport.mu.Unlock()

	err := c.Send("hi")

	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, c.Messages())
	assert.False(t, c.IsStreaming())
}

func TestTokenConcatenationScenario(t *testing.T) {
	c, transport := connectedController(t, Options{})
	require.NoError(t, c.Send("hi"))

	transport.deliver(chatFrame(t, 1, `{"event":"token","content":"Hel"}`))
	transport.deliver(chatFrame(t, 2, `{"event":"token","content":"lo"}`))
	assert.Equal(t, "Hello", c.StreamingText())

	transport.deliver(chatFrame(t, 3, `{"event":"complete"}`))

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello", msgs[1].Content)
	assert.False(t, msgs[1].IsStreaming)
	assert.Empty(t, c.StreamingText(), "buffers reset after complete")
}

func TestContentBlocksPreserveInterleaving(t *testing.T) {
	c, transport := connectedController(t, Options{})
	require.NoError(t, c.Send("go"))

	transport.deliver(chatFrame(t, 1, `{"event":"token","content":"A"}`))
	transport.deliver(chatFrame(t, 2, `{"event":"tool_start","tool":{"id":"t1","name":"Read"}}`))
	transport.deliver(chatFrame(t, 3, `{"event":"tool_end","tool":{"id":"t1","duration":5}}`))
	transport.deliver(chatFrame(t, 4, `{"event":"token","content":"B"}`))
	transport.deliver(chatFrame(t, 5, `{"event":"complete"}`))

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	blocks := msgs[1].ContentBlocks
	require.Len(t, blocks, 3)
	assert.Equal(t, types.BlockText, blocks[0].Type)
	assert.Equal(t, "A", blocks[0].Content)
	assert.Equal(t, types.BlockToolGroup, blocks[1].Type)
	assert.Equal(t, types.BlockText, blocks[2].Type)
	assert.Equal(t, "B", blocks[2].Content)
}

func TestLastSeqNeverDecreases(t *testing.T) {
	c, transport := connectedController(t, Options{})

	transport.deliver(chatFrame(t, 5, `{"event":"thinking"}`))
	transport.deliver(chatFrame(t, 3, `{"event":"thinking"}`))
	transport.deliver(chatFrame(t, 9, `{"event":"thinking"}`))
	transport.deliver(chatFrame(t, 2, `{"event":"thinking"}`))

	assert.Equal(t, int64(9), c.LastSeq())
}

func TestAtMostOneStreamingMessage(t *testing.T) {
	c, transport := connectedController(t, Options{})

	for turn := 0; turn < 3; turn++ {
		require.NoError(t, c.Send("prompt"))

		streaming := 0
		for _, m := range c.Messages() {
			if m.IsStreaming {
				streaming++
			}
		}
		assert.Equal(t, 1, streaming)

		transport.deliver(chatFrame(t, int64(turn), `{"event":"complete","content":"done"}`))
		for _, m := range c.Messages() {
			assert.False(t, m.IsStreaming)
		}
	}
}

func TestPeerErrorAbortsTurn(t *testing.T) {
	var reported string
	c, transport := connectedController(t, Options{
		Hooks: Hooks{OnError: func(msg string) { reported = msg }},
	})
	require.NoError(t, c.Send("hi"))
	transport.deliver(chatFrame(t, 1, `{"event":"token","content":"partial"}`))

	transport.deliver(chatFrame(t, 2, `{"event":"error","error":"model overloaded"}`))

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.False(t, msgs[1].IsStreaming)
	assert.Empty(t, msgs[1].Content, "partial content is discarded, never sealed")
	assert.Empty(t, c.StreamingText())
	assert.Equal(t, "model overloaded", c.LastError())
	assert.Equal(t, "model overloaded", reported)

	// A new turn can start after the failure.
	require.NoError(t, c.Send("retry"))
}

func TestCompleteFallsBackToAnyStreamingMessage(t *testing.T) {
	c, transport := connectedController(t, Options{})
	require.NoError(t, c.Send("hi"))
	transport.deliver(chatFrame(t, 1, `{"event":"token","content":"ok"}`))

	// Simulate the placeholder id getting lost (e.g. across a snapshot
	// restore): resolution must fall back to the streaming flag.
	c.mu.Lock()
	c.streamingID = "msg_lost"
	c.mu.Unlock()

	transport.deliver(chatFrame(t, 2, `{"event":"complete"}`))

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "ok", msgs[1].Content)
	assert.False(t, msgs[1].IsStreaming)
}

func TestCompleteSynthesizesMessageWhenPlaceholderMissing(t *testing.T) {
	c, transport := connectedController(t, Options{})

	// No send(): events arrive for a turn this controller never opened,
	// e.g. after a snapshot restore lost the placeholder entirely.
	transport.deliver(chatFrame(t, 1, `{"event":"token","content":"orphan"}`))
	transport.deliver(chatFrame(t, 2, `{"event":"complete"}`))

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, types.RoleAssistant, msgs[0].Role)
	assert.Equal(t, "orphan", msgs[0].Content)
	assert.False(t, msgs[0].IsStreaming)
}

func TestMalformedAndUnknownFramesDropped(t *testing.T) {
	c, transport := connectedController(t, Options{})
	require.NoError(t, c.Send("hi"))
	before := c.Messages()

	transport.deliver([]byte(`{not json`))
	transport.deliver([]byte(`{"type":"telemetry","seq":1,"timestamp":1,"payload":{}}`))
	transport.deliver(chatFrame(t, 1, `{"event":"mystery"}`))
	transport.deliver(chatFrame(t, 2, `{"event":"token"}`)) // token without content

	assert.Equal(t, before, c.Messages())
	assert.Empty(t, c.StreamingText())
}

func TestOutboundOnlyTagsAcceptedButIgnored(t *testing.T) {
	c, transport := connectedController(t, Options{})

	transport.deliver(chatFrame(t, 1, `{"event":"send","content":"echo"}`))
	transport.deliver(chatFrame(t, 2, `{"event":"cancel"}`))
	transport.deliver(systemFrame(t, 3, `{"event":"subscribe","sessionId":"sess_x"}`))
	transport.deliver(systemFrame(t, 4, `{"event":"catch_up"}`))

	assert.Empty(t, c.Messages())
	assert.Equal(t, int64(4), c.LastSeq(), "illegal tags still advance lastSeq")
}

func TestConnectedEventRecordsSeqAndSession(t *testing.T) {
	c, transport := connectedController(t, Options{})

	frame := []byte(`{"type":"system","seq":1,"timestamp":1,"sessionId":"sess_peer","payload":{"event":"connected","currentSeq":99}}`)
	transport.deliver(frame)

	assert.Equal(t, int64(99), c.LastSeq())
	assert.Equal(t, "sess_peer", c.SessionID())
}

func TestSubscribeSentOncePerSocket(t *testing.T) {
	transport := newFakeTransport()
	c := NewController("ws://test/stream", transport, Options{SessionID: "sess_resume"})
	c.Connect()
	transport.open()

	// A second open notification (e.g. another controller connecting)
	// must not produce a duplicate subscribe.
	transport.open()

	subscribes := 0
	for _, ev := range transport.sentEvents() {
		if ev == "system/subscribe" {
			subscribes++
		}
	}
	assert.Equal(t, 1, subscribes)
	assert.Contains(t, transport.sentEvents(), "system/catch_up")
}

func TestDisconnectKeepsHistory(t *testing.T) {
	c, transport := connectedController(t, Options{})
	require.NoError(t, c.Send("hi"))
	transport.deliver(chatFrame(t, 1, `{"event":"complete","content":"yo"}`))

	c.Disconnect()

	assert.Equal(t, types.StatusDisconnected, c.Status())
	assert.Len(t, c.Messages(), 2, "history survives disconnect")

	// Cancel after disconnect is a safe no-op.
	before := len(transport.sentEvents())
	c.Cancel()
	assert.Len(t, transport.sentEvents(), before)
}

func TestClearMessages(t *testing.T) {
	c, transport := connectedController(t, Options{})
	require.NoError(t, c.Send("hi"))
	transport.deliver(chatFrame(t, 1, `{"event":"token","content":"x"}`))

	c.ClearMessages()

	assert.Empty(t, c.Messages())
	assert.Empty(t, c.StreamingText())
	assert.Equal(t, types.StatusConnected, c.Status(), "clear does not touch the connection")
}

func TestCancelTransmitsFrame(t *testing.T) {
	c, transport := connectedController(t, Options{})
	require.NoError(t, c.Send("hi"))

	c.Cancel()

	assert.Contains(t, transport.sentEvents(), "chat/cancel")
	assert.True(t, c.IsStreaming(), "cancel does not locally finalize the turn")
}

func TestSnapshotReplayMatchesLiveDelivery(t *testing.T) {
	live, liveT := connectedController(t, Options{})
	rec, recT := connectedController(t, Options{})

	events := []string{
		`{"event":"token","content":"A"}`,
		`{"event":"tool_start","tool":{"id":"t1","name":"Read","startTime":100}}`,
		`{"event":"tool_end","tool":{"id":"t1","duration":7}}`,
		`{"event":"todo_update","todos":[{"content":"step","status":"in_progress"}]}`,
		`{"event":"token","content":"B"}`,
	}

	var buffered []json.RawMessage
	for i, payload := range events {
		frame := chatFrame(t, int64(i+1), payload)
		liveT.deliver(frame)
		buffered = append(buffered, json.RawMessage(frame))
	}

	envs, err := json.Marshal(buffered)
	require.NoError(t, err)
	snapshot := systemFrame(t, 5, fmt.Sprintf(`{"event":"snapshot","sessionId":"sess_snap","events":%s}`, envs))
	recT.deliver(snapshot)

	assert.Equal(t, live.StreamingText(), rec.StreamingText())
	assert.Equal(t, live.CompletedTools(), rec.CompletedTools())
	assert.Equal(t, live.Todos(), rec.Todos())
	assert.Equal(t, live.LastSeq(), rec.LastSeq())
	assert.Equal(t, "sess_snap", rec.SessionID())
}

func TestSnapshotChatStateOverridesReplay(t *testing.T) {
	c, transport := connectedController(t, Options{})

	payload := `{"event":"snapshot","sessionId":"sess_snap",` +
		`"events":[{"type":"chat","seq":1,"timestamp":1,"payload":{"event":"token","content":"par"}}],` +
		`"chatState":{"status":"streaming","accumulatedContent":"partial and more",` +
		`"tools":[{"id":"t9","name":"Bash","duration":4}],` +
		`"todos":[{"content":"resume","status":"pending"}]}}`
	transport.deliver(systemFrame(t, 2, payload))

	assert.Equal(t, "partial and more", c.StreamingText(), "snapshot values win over replay")
	require.Len(t, c.CompletedTools(), 1)
	assert.Equal(t, "t9", c.CompletedTools()[0].ID)
	require.Len(t, c.Todos(), 1)

	// A streaming chatState seeds a placeholder so the next complete
	// lands somewhere.
	assert.True(t, c.IsStreaming())
	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsStreaming)

	transport.deliver(chatFrame(t, 3, `{"event":"complete"}`))
	msgs = c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "partial and more", msgs[0].Content)
	assert.False(t, msgs[0].IsStreaming)
}

func TestSystemErrorSurfacesWithoutTouchingTurn(t *testing.T) {
	var reported string
	c, transport := connectedController(t, Options{
		Hooks: Hooks{OnError: func(msg string) { reported = msg }},
	})
	require.NoError(t, c.Send("hi"))
	transport.deliver(chatFrame(t, 1, `{"event":"token","content":"keep"}`))

	transport.deliver(systemFrame(t, 2, `{"event":"error","error":"backend restarting"}`))

	assert.Equal(t, "backend restarting", c.LastError())
	assert.Equal(t, "backend restarting", reported)
	assert.Equal(t, "keep", c.StreamingText(), "system errors do not reset the turn")
	assert.True(t, c.IsStreaming())
}

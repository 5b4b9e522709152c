package connection

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncline/syncline/internal/infrastructure/config"
	"github.com/syncline/syncline/internal/infrastructure/logging"
)

const waitTimeout = 3 * time.Second

type statusEvent struct {
	connected     bool
	willReconnect bool
}

// echoServer upgrades every request, echoes frames back, and publishes each
// accepted server-side conn so tests can drop it.
func echoServer(t *testing.T) (*httptest.Server, string, chan *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	conns := make(chan *websocket.Conn, 8)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return srv, "ws" + strings.TrimPrefix(srv.URL, "http"), conns
}

func fastBackoff(maxAttempts int) config.BackoffConfig {
	return config.BackoffConfig{BaseDelay: 10 * time.Millisecond, CapFactor: 3, MaxAttempts: maxAttempts}
}

func newTestManager(t *testing.T, backoff config.BackoffConfig) *Manager {
	t.Helper()
	m := NewManager(backoff, config.RateLimitConfig{}, logging.NewNop(), nil)
	t.Cleanup(m.Shutdown)
	return m
}

func waitStatus(t *testing.T, ch <-chan statusEvent) statusEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for status event")
		return statusEvent{}
	}
}

func waitConn(t *testing.T, ch <-chan *websocket.Conn) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ch:
		return conn
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for server-side connection")
		return nil
	}
}

// connect registers a frame listener plus a status feed and acquires the
// socket, returning once it is open.
func connect(t *testing.T, m *Manager, url string) (frames chan []byte, statuses chan statusEvent) {
	t.Helper()
	frames = make(chan []byte, 16)
	statuses = make(chan statusEvent, 16)

	m.OnFrame(url, func(data []byte) { frames <- data })
	m.OnStatus(url, func(connected, willReconnect bool) {
		statuses <- statusEvent{connected, willReconnect}
	})
	m.Acquire(url, nil)

	ev := waitStatus(t, statuses)
	require.True(t, ev.connected)
	return frames, statuses
}

func TestAcquireOpensSocketAndFiresCallback(t *testing.T) {
	_, url, _ := echoServer(t)
	m := newTestManager(t, fastBackoff(3))

	opened := make(chan struct{}, 1)
	m.OnFrame(url, func([]byte) {})
	m.Acquire(url, func() { opened <- struct{}{} })

	select {
	case <-opened:
	case <-time.After(waitTimeout):
		t.Fatal("open callback never fired")
	}
	assert.True(t, m.IsConnected(url))

	// A second Acquire on an open socket fires the callback immediately.
	m.Acquire(url, func() { opened <- struct{}{} })
	select {
	case <-opened:
	case <-time.After(waitTimeout):
		t.Fatal("open callback on already-open socket never fired")
	}
}

func TestSendRoundTrip(t *testing.T) {
	_, url, _ := echoServer(t)
	m := newTestManager(t, fastBackoff(3))
	frames, _ := connect(t, m, url)

	require.True(t, m.Send(url, map[string]string{"hello": "world"}))

	select {
	case data := <-frames:
		assert.JSONEq(t, `{"hello":"world"}`, string(data))
	case <-time.After(waitTimeout):
		t.Fatal("echoed frame never arrived")
	}
}

func TestSendWithoutOpenSocketReturnsFalse(t *testing.T) {
	m := newTestManager(t, fastBackoff(3))

	assert.False(t, m.Send("ws://127.0.0.1:1/nope", map[string]string{"x": "y"}))
	assert.False(t, m.IsConnected("ws://127.0.0.1:1/nope"))
}

func TestFrameListenersShareOneSocket(t *testing.T) {
	_, url, conns := echoServer(t)
	m := newTestManager(t, fastBackoff(3))

	a := make(chan []byte, 1)
	b := make(chan []byte, 1)
	m.OnFrame(url, func(data []byte) { a <- data })
	m.OnFrame(url, func(data []byte) { b <- data })

	opened := make(chan struct{}, 1)
	m.Acquire(url, func() { opened <- struct{}{} })
	<-opened

	server := waitConn(t, conns)
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"n":1}`)))

	for _, ch := range []chan []byte{a, b} {
		select {
		case data := <-ch:
			assert.Equal(t, `{"n":1}`, string(data))
		case <-time.After(waitTimeout):
			t.Fatal("listener missed the broadcast frame")
		}
	}

	// Exactly one physical connection was accepted.
	select {
	case <-conns:
		t.Fatal("second physical connection opened for a shared URL")
	default:
	}
}

func TestLastUnsubscribeReleasesSocket(t *testing.T) {
	_, url, _ := echoServer(t)
	m := newTestManager(t, fastBackoff(3))

	dispose1 := m.OnFrame(url, func([]byte) {})
	dispose2 := m.OnFrame(url, func([]byte) {})

	opened := make(chan struct{}, 1)
	m.Acquire(url, func() { opened <- struct{}{} })
	<-opened

	dispose1()
	assert.True(t, m.IsConnected(url), "socket survives while a subscriber remains")

	dispose2()
	assert.False(t, m.IsConnected(url), "last unsubscribe closes the socket")
	assert.False(t, m.Send(url, map[string]int{"n": 1}))
}

func TestReconnectAfterServerDrop(t *testing.T) {
	_, url, conns := echoServer(t)
	m := newTestManager(t, fastBackoff(5))
	_, statuses := connect(t, m, url)

	waitConn(t, conns).Close()

	ev := waitStatus(t, statuses)
	assert.False(t, ev.connected)
	assert.True(t, ev.willReconnect, "a drop with live subscribers schedules a retry")

	ev = waitStatus(t, statuses)
	assert.True(t, ev.connected, "socket reopens after backoff")
	assert.True(t, m.IsConnected(url))

	// A successful open resets the retry budget.
	m.mu.Lock()
	attempts := m.entries[url].attempts
	m.mu.Unlock()
	assert.Zero(t, attempts)
}

func TestRetryBudgetExhaustion(t *testing.T) {
	srv, url, _ := echoServer(t)
	srv.Close() // every dial now fails

	m := newTestManager(t, fastBackoff(2))
	statuses := make(chan statusEvent, 16)
	m.OnFrame(url, func([]byte) {})
	m.OnStatus(url, func(connected, willReconnect bool) {
		statuses <- statusEvent{connected, willReconnect}
	})
	m.Acquire(url, nil)

	ev := waitStatus(t, statuses)
	require.False(t, ev.connected)
	assert.True(t, ev.willReconnect, "first failure schedules attempt 1")

	ev = waitStatus(t, statuses)
	assert.True(t, ev.willReconnect, "second failure schedules attempt 2")

	ev = waitStatus(t, statuses)
	assert.False(t, ev.willReconnect, "budget of 2 exhausted, no further retries")

	select {
	case ev := <-statuses:
		t.Fatalf("unexpected status event after exhaustion: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNoReconnectWithoutSubscribers(t *testing.T) {
	_, url, conns := echoServer(t)
	m := newTestManager(t, fastBackoff(5))

	statuses := make(chan statusEvent, 16)
	dispose := m.OnFrame(url, func([]byte) {})
	m.OnStatus(url, func(connected, willReconnect bool) {
		statuses <- statusEvent{connected, willReconnect}
	})
	m.Acquire(url, nil)
	require.True(t, waitStatus(t, statuses).connected)

	server := waitConn(t, conns)
	dispose()
	server.Close()

	// The teardown already invalidated this incarnation, so the read-pump
	// close must not schedule a retry or produce a second connection.
	select {
	case <-conns:
		t.Fatal("socket reconnected after its last subscriber left")
	case <-time.After(100 * time.Millisecond):
	}
	assert.False(t, m.IsConnected(url))
}

func TestMarkSubscribedOncePerIncarnation(t *testing.T) {
	_, url, conns := echoServer(t)
	m := newTestManager(t, fastBackoff(5))
	_, statuses := connect(t, m, url)

	assert.True(t, m.MarkSubscribed(url, "sess_1"), "first subscriber wins")
	assert.False(t, m.MarkSubscribed(url, "sess_1"), "same session cannot win twice on one socket")
	assert.True(t, m.MarkSubscribed(url, "sess_2"), "distinct sessions subscribe independently")

	// Drop and reconnect: the set clears with the incarnation.
	waitConn(t, conns).Close()
	require.False(t, waitStatus(t, statuses).connected)
	require.True(t, waitStatus(t, statuses).connected)

	assert.True(t, m.MarkSubscribed(url, "sess_1"), "new incarnation re-subscribes")
}

func TestMarkSubscribedRequiresOpenSocket(t *testing.T) {
	m := newTestManager(t, fastBackoff(3))
	assert.False(t, m.MarkSubscribed("ws://127.0.0.1:1/nope", "sess_1"))
}

func TestRateLimiterRejectsExcessSends(t *testing.T) {
	_, url, _ := echoServer(t)
	m := NewManager(fastBackoff(3), config.RateLimitConfig{RequestsPerSecond: 1, Burst: 1, Enabled: true}, logging.NewNop(), nil)
	t.Cleanup(m.Shutdown)
	connect(t, m, url)

	assert.True(t, m.Send(url, map[string]int{"n": 1}))
	assert.False(t, m.Send(url, map[string]int{"n": 2}), "burst of 1 rejects the immediate second send")
}

func TestShutdownClosesEverything(t *testing.T) {
	_, url, _ := echoServer(t)
	m := newTestManager(t, fastBackoff(3))
	connect(t, m, url)

	m.Shutdown()

	assert.False(t, m.IsConnected(url))
	assert.False(t, m.Send(url, map[string]int{"n": 1}))
}

package connection

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/syncline/syncline/internal/infrastructure/config"
	"github.com/syncline/syncline/internal/infrastructure/logging"
	"github.com/syncline/syncline/internal/infrastructure/monitoring"
)

// FrameHandler receives raw inbound frames in socket delivery order.
type FrameHandler func(data []byte)

// StatusHandler receives connectivity transitions.
type StatusHandler func(connected, willReconnect bool)

// connState tracks the per-URL socket state machine.
type connState int

const (
	stateIdle connState = iota
	stateConnecting
	stateOpen
)

// entry holds all state for one endpoint URL. Fields are mutated only
// under the manager mutex; gen invalidates callbacks from torn-down
// socket incarnations.
type entry struct {
	state connState
	conn  *websocket.Conn
	gen   uint64

	writeMu sync.Mutex // gorilla allows a single concurrent writer

	frameListeners  map[string]FrameHandler
	frameOrder      []string
	statusListeners map[string]StatusHandler
	statusOrder     []string
	openCallbacks   []func()

	attempts       int
	exhausted      bool
	reconnectTimer *time.Timer

	// sessionSubs tracks which sessions already subscribed on this socket
	// incarnation, so controllers sharing it subscribe exactly once.
	sessionSubs map[string]bool
}

// Manager is the process-wide registry of shared connections, keyed by
// endpoint URL. All mutation goes through Acquire, the listener
// registrations, and the internal close handler.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry

	dialer  *websocket.Dialer
	backoff config.BackoffConfig
	limiter *rate.Limiter

	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewManager creates a connection manager. metrics may be nil.
func NewManager(backoff config.BackoffConfig, rl config.RateLimitConfig, logger *logging.Logger, metrics *monitoring.Metrics) *Manager {
	m := &Manager{
		entries: make(map[string]*entry),
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		backoff: backoff,
		logger:  logger,
		metrics: metrics,
	}
	if rl.Enabled {
		m.limiter = rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), rl.Burst)
	}
	return m
}

// Acquire ensures a connection attempt exists for url. Idempotent: if the
// socket is already open or opening, it only registers the optional
// one-shot open callback. A fresh Acquire also clears a previously
// exhausted retry budget.
func (m *Manager) Acquire(url string, onOpen func()) {
	m.mu.Lock()
	e := m.ensure(url)
	e.exhausted = false

	switch e.state {
	case stateOpen:
		m.mu.Unlock()
		if onOpen != nil {
			onOpen()
		}
		return
	case stateConnecting:
		if onOpen != nil {
			e.openCallbacks = append(e.openCallbacks, onOpen)
		}
		m.mu.Unlock()
		return
	}

	if onOpen != nil {
		e.openCallbacks = append(e.openCallbacks, onOpen)
	}
	e.state = stateConnecting
	gen := e.gen
	m.mu.Unlock()

	go m.dial(url, gen)
}

// OnFrame registers a frame listener and returns its disposer. When the
// last frame listener for a URL unsubscribes, the socket is closed and
// reconnect timers cancelled.
func (m *Manager) OnFrame(url string, h FrameHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.ensure(url)
	key := uuid.New().String()
	e.frameListeners[key] = h
	e.frameOrder = append(e.frameOrder, key)

	return func() { m.removeFrameListener(url, key) }
}

// OnStatus registers a connectivity listener and returns its disposer.
// Status listeners hold no reference on the socket.
func (m *Manager) OnStatus(url string, h StatusHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.ensure(url)
	key := uuid.New().String()
	e.statusListeners[key] = h
	e.statusOrder = append(e.statusOrder, key)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if e, ok := m.entries[url]; ok {
			delete(e.statusListeners, key)
			e.statusOrder = removeKey(e.statusOrder, key)
		}
	}
}

// Send writes payload as JSON if the socket is open. It never returns an
// error: a dead socket or a rejected rate-limit slot yields false.
func (m *Manager) Send(url string, payload any) bool {
	if m.limiter != nil && !m.limiter.Allow() {
		m.logger.Warn("Outbound frame rejected by rate limiter", zap.String("url", url))
		m.metrics.IncSendFailures()
		return false
	}

	m.mu.Lock()
	e, ok := m.entries[url]
	if !ok || e.state != stateOpen || e.conn == nil {
		m.mu.Unlock()
		m.metrics.IncSendFailures()
		return false
	}
	conn := e.conn
	m.mu.Unlock()

	e.writeMu.Lock()
	err := conn.WriteJSON(payload)
	e.writeMu.Unlock()

	if err != nil {
		m.logger.Warn("Send on closing socket", zap.String("url", url), zap.Error(err))
		m.metrics.IncSendFailures()
		return false
	}
	return true
}

// IsConnected reports whether the socket for url is currently open.
func (m *Manager) IsConnected(url string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[url]
	return ok && e.state == stateOpen
}

// MarkSubscribed records that sessionID subscribed on the current socket
// incarnation. Returns true exactly once per (incarnation, session); the
// set clears on close so a reconnect re-subscribes.
func (m *Manager) MarkSubscribed(url, sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[url]
	if !ok || e.state != stateOpen || e.sessionSubs[sessionID] {
		return false
	}
	e.sessionSubs[sessionID] = true
	return true
}

// Shutdown closes every socket and cancels every timer. Registrations are
// dropped; the manager must not be reused afterwards.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for url, e := range m.entries {
		e.gen++
		if e.reconnectTimer != nil {
			e.reconnectTimer.Stop()
			e.reconnectTimer = nil
		}
		if e.conn != nil {
			e.conn.Close()
			e.conn = nil
			m.metrics.DecConnections()
		}
		delete(m.entries, url)
	}
}

// ensure returns the entry for url, creating it if needed. Caller holds mu.
func (m *Manager) ensure(url string) *entry {
	e, ok := m.entries[url]
	if !ok {
		e = &entry{
			frameListeners:  make(map[string]FrameHandler),
			statusListeners: make(map[string]StatusHandler),
			sessionSubs:     make(map[string]bool),
		}
		m.entries[url] = e
	}
	return e
}

// dial attempts to open the socket for url. Any failure funnels into
// handleClose, the single place backoff is decided.
func (m *Manager) dial(url string, gen uint64) {
	conn, _, err := m.dialer.Dial(url, nil)

	m.mu.Lock()
	e, ok := m.entries[url]
	if !ok || e.gen != gen {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		m.mu.Unlock()
		m.logger.Warn("Dial failed", zap.String("url", url), zap.Error(err))
		m.handleClose(url, gen, false)
		return
	}

	e.state = stateOpen
	e.conn = conn
	e.attempts = 0
	e.sessionSubs = make(map[string]bool)
	callbacks := e.openCallbacks
	e.openCallbacks = nil
	status := m.statusSnapshot(e)
	m.mu.Unlock()

	m.logger.Info("Connected", zap.String("url", url))
	m.metrics.IncConnections()

	for _, h := range status {
		h(true, false)
	}
	for _, cb := range callbacks {
		cb()
	}

	go m.readPump(url, gen, conn)
}

// readPump delivers inbound frames to listeners in socket order, then
// funnels the close into handleClose.
func (m *Manager) readPump(url string, gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.logger.Warn("Socket closed", zap.String("url", url), zap.Error(err))
			break
		}

		m.mu.Lock()
		e, ok := m.entries[url]
		if !ok || e.gen != gen {
			m.mu.Unlock()
			return
		}
		handlers := make([]FrameHandler, 0, len(e.frameOrder))
		for _, key := range e.frameOrder {
			handlers = append(handlers, e.frameListeners[key])
		}
		m.mu.Unlock()

		for _, h := range handlers {
			h(data)
		}
	}

	m.handleClose(url, gen, true)
}

// handleClose transitions the entry back to idle and decides whether to
// schedule a reconnect. wasOpen distinguishes a lost socket from a dial
// that never opened.
func (m *Manager) handleClose(url string, gen uint64, wasOpen bool) {
	m.mu.Lock()
	e, ok := m.entries[url]
	if !ok || e.gen != gen {
		m.mu.Unlock()
		return
	}

	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.state = stateIdle
	e.gen++

	hasListeners := len(e.frameListeners) > 0
	willReconnect := hasListeners && !e.exhausted && e.attempts < m.backoff.MaxAttempts

	if willReconnect {
		e.attempts++
		delay := m.backoff.BaseDelay * time.Duration(minInt(e.attempts, m.backoff.CapFactor))
		attempt := e.attempts
		e.reconnectTimer = time.AfterFunc(delay, func() { m.retry(url) })
		m.logger.Info("Reconnect scheduled",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
	} else if hasListeners {
		e.exhausted = true
		m.logger.Warn("Retry budget exhausted", zap.String("url", url), zap.Int("attempts", e.attempts))
	}

	status := m.statusSnapshot(e)
	m.mu.Unlock()

	if wasOpen {
		m.metrics.DecConnections()
	}
	if willReconnect {
		m.metrics.IncReconnects()
	}
	for _, h := range status {
		h(false, willReconnect)
	}
}

// retry fires when a reconnect timer elapses.
func (m *Manager) retry(url string) {
	m.mu.Lock()
	e, ok := m.entries[url]
	if !ok || e.state != stateIdle || len(e.frameListeners) == 0 {
		m.mu.Unlock()
		return
	}
	e.reconnectTimer = nil
	e.state = stateConnecting
	gen := e.gen
	m.mu.Unlock()

	go m.dial(url, gen)
}

// removeFrameListener drops a listener and tears the socket down when it
// was the last one.
func (m *Manager) removeFrameListener(url, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[url]
	if !ok {
		return
	}
	delete(e.frameListeners, key)
	e.frameOrder = removeKey(e.frameOrder, key)

	if len(e.frameListeners) > 0 {
		return
	}

	// Reference count hit zero: close the socket, cancel any pending
	// reconnect, and invalidate in-flight callbacks.
	e.gen++
	if e.reconnectTimer != nil {
		e.reconnectTimer.Stop()
		e.reconnectTimer = nil
	}
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
		m.metrics.DecConnections()
	}
	e.state = stateIdle
	e.attempts = 0
	e.exhausted = false
	e.openCallbacks = nil
	e.sessionSubs = make(map[string]bool)
	m.logger.Info("Last subscriber gone, socket released", zap.String("url", url))
}

// statusSnapshot copies status handlers in registration order. Caller
// holds mu; handlers are invoked after it is released.
func (m *Manager) statusSnapshot(e *entry) []StatusHandler {
	handlers := make([]StatusHandler, 0, len(e.statusOrder))
	for _, key := range e.statusOrder {
		handlers = append(handlers, e.statusListeners[key])
	}
	return handlers
}

func removeKey(keys []string, key string) []string {
	for i, k := range keys {
		if k == key {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

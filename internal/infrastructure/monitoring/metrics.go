package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectsTotal     prometheus.Counter
	ReconnectsTotal   prometheus.Counter
	SendFailures      prometheus.Counter

	// Frame metrics
	FramesTotal   *prometheus.CounterVec
	FramesDropped *prometheus.CounterVec

	// Turn metrics
	TurnsTotal *prometheus.CounterVec

	// Recovery metrics
	SnapshotsApplied prometheus.Counter
	EventsReplayed   prometheus.Counter

	// Debug HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for the JSON debug API
type MetricsSnapshot struct {
	ActiveConnections int64
	TotalFrames       int64
	DroppedFrames     int64
	TotalReconnects   int64
	TotalTurns        int64
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		// Connection metrics
		ConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "syncline_connections_active",
				Help: "Number of open WebSocket connections",
			},
		),
		ConnectsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "syncline_connects_total",
				Help: "Total number of successful socket opens",
			},
		),
		ReconnectsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "syncline_reconnects_total",
				Help: "Total number of reconnect attempts scheduled",
			},
		),
		SendFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "syncline_send_failures_total",
				Help: "Total number of sends rejected because no socket was open",
			},
		),

		// Frame metrics
		FramesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syncline_frames_total",
				Help: "Total number of inbound frames dispatched",
			},
			[]string{"kind", "event"},
		),
		FramesDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syncline_frames_dropped_total",
				Help: "Total number of inbound frames dropped",
			},
			[]string{"reason"},
		),

		// Turn metrics
		TurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syncline_turns_total",
				Help: "Total number of turns finished",
			},
			[]string{"outcome"},
		),

		// Recovery metrics
		SnapshotsApplied: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "syncline_snapshots_applied_total",
				Help: "Total number of catch-up snapshots applied",
			},
		),
		EventsReplayed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "syncline_events_replayed_total",
				Help: "Total number of buffered events replayed from snapshots",
			},
		),

		// Debug HTTP metrics
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "syncline_http_requests_total",
				Help: "Total number of debug HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "syncline_http_request_duration_seconds",
				Help:    "Debug HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),

		// System metrics
		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "syncline_uptime_seconds",
				Help: "Engine uptime in seconds",
			},
		),
	}

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime updates the uptime gauge every 10 seconds
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// IncConnections records a socket open
func (m *Metrics) IncConnections() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Inc()
	m.ConnectsTotal.Inc()

	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecConnections records a socket close
func (m *Metrics) DecConnections() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()

	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// IncReconnects records a scheduled reconnect attempt
func (m *Metrics) IncReconnects() {
	if m == nil {
		return
	}
	m.ReconnectsTotal.Inc()

	m.mu.Lock()
	m.snapshot.TotalReconnects++
	m.mu.Unlock()
}

// IncSendFailures records a rejected send
func (m *Metrics) IncSendFailures() {
	if m == nil {
		return
	}
	m.SendFailures.Inc()
}

// RecordFrame records a dispatched inbound frame
func (m *Metrics) RecordFrame(kind, event string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(kind, event).Inc()

	m.mu.Lock()
	m.snapshot.TotalFrames++
	m.mu.Unlock()
}

// RecordFrameDropped records a dropped inbound frame
func (m *Metrics) RecordFrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()

	m.mu.Lock()
	m.snapshot.DroppedFrames++
	m.mu.Unlock()
}

// RecordTurn records a finished turn
func (m *Metrics) RecordTurn(outcome string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()

	m.mu.Lock()
	m.snapshot.TotalTurns++
	m.mu.Unlock()
}

// RecordSnapshot records an applied catch-up snapshot
func (m *Metrics) RecordSnapshot(replayedEvents int) {
	if m == nil {
		return
	}
	m.SnapshotsApplied.Inc()
	m.EventsReplayed.Add(float64(replayedEvents))
}

// RecordHTTPRequest records a debug HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Snapshot returns current metric values for the JSON debug API
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections    atomic.Int64 // transport connections accepted
	ActiveConnections   atomic.Int64 // current open connections
	RejectedConnections atomic.Int64 // refused with ServerFull
	Activations         atomic.Int64 // successful HELLOs
	TotalDisconnects    atomic.Int64
	IdleDisconnects     atomic.Int64
	SlowConsumers       atomic.Int64 // sessions dropped for a full send queue

	// Traffic counters
	FramesIn       atomic.Int64
	FramesOut      atomic.Int64
	BytesOut       atomic.Int64
	MessagesRouted atomic.Int64 // group, private, multi and secure messages accepted
	DecodeErrors   atomic.Int64
	CommandErrors  atomic.Int64 // ERROR frames sent
	RateLimited    atomic.Int64 // inbound frames dropped by the rate limit

	// Room counters
	RoomsCreated atomic.Int64
	RoomsDeleted atomic.Int64

	// Admin counters
	KickCount atomic.Int64
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections   int64 `json:"active_connections"`
	TotalConnections    int64 `json:"total_connections"`
	RejectedConnections int64 `json:"rejected_connections"`
	Activations         int64 `json:"activations"`
	TotalDisconnects    int64 `json:"total_disconnects"`
	IdleDisconnects     int64 `json:"idle_disconnects"`
	SlowConsumers       int64 `json:"slow_consumers"`

	FramesIn       int64 `json:"frames_in"`
	FramesOut      int64 `json:"frames_out"`
	BytesOut       int64 `json:"bytes_out"`
	MessagesRouted int64 `json:"messages_routed"`
	DecodeErrors   int64 `json:"decode_errors"`
	CommandErrors  int64 `json:"command_errors"`
	RateLimited    int64 `json:"rate_limited"`

	RoomsCreated int64 `json:"rooms_created"`
	RoomsDeleted int64 `json:"rooms_deleted"`
	KickCount    int64 `json:"kick_count"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:              uptime.Truncate(time.Second).String(),
		UptimeSeconds:       int64(uptime.Seconds()),
		ActiveConnections:   m.ActiveConnections.Load(),
		TotalConnections:    m.TotalConnections.Load(),
		RejectedConnections: m.RejectedConnections.Load(),
		Activations:         m.Activations.Load(),
		TotalDisconnects:    m.TotalDisconnects.Load(),
		IdleDisconnects:     m.IdleDisconnects.Load(),
		SlowConsumers:       m.SlowConsumers.Load(),
		FramesIn:            m.FramesIn.Load(),
		FramesOut:           m.FramesOut.Load(),
		BytesOut:            m.BytesOut.Load(),
		MessagesRouted:      m.MessagesRouted.Load(),
		DecodeErrors:        m.DecodeErrors.Load(),
		CommandErrors:       m.CommandErrors.Load(),
		RateLimited:         m.RateLimited.Load(),
		RoomsCreated:        m.RoomsCreated.Load(),
		RoomsDeleted:        m.RoomsDeleted.Load(),
		KickCount:           m.KickCount.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"frames_in", s.FramesIn,
		"frames_out", s.FramesOut,
		"messages", s.MessagesRouted,
		"slow_consumers", s.SlowConsumers,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}

// Collectors exposes the counters as Prometheus collectors reading the
// atomics at scrape time. sessions and rooms report current gauge values.
func (m *Metrics) Collectors(sessions, rooms func() int) []prometheus.Collector {
	counter := func(name, help string, v *atomic.Int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v.Load()) })
	}
	gauge := func(name, help string, f func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "roomchat",
			Name:      name,
			Help:      help,
		}, f)
	}

	return []prometheus.Collector{
		gauge("uptime_seconds", "Server uptime in seconds.", func() float64 {
			return time.Since(m.startTime).Seconds()
		}),
		gauge("connections_active", "Current open client connections.", func() float64 {
			return float64(m.ActiveConnections.Load())
		}),
		gauge("sessions", "Live sessions in the session table.", func() float64 { return float64(sessions()) }),
		gauge("rooms", "Rooms in the registry.", func() float64 { return float64(rooms()) }),

		counter("connections_total", "Client connections accepted.", &m.TotalConnections),
		counter("connections_rejected_total", "Connections refused because the server was full.", &m.RejectedConnections),
		counter("activations_total", "Sessions activated by HELLO.", &m.Activations),
		counter("disconnects_total", "Sessions torn down.", &m.TotalDisconnects),
		counter("idle_disconnects_total", "Sessions disconnected for inactivity.", &m.IdleDisconnects),
		counter("slow_consumers_total", "Sessions dropped because their send queue was full.", &m.SlowConsumers),

		counter("frames_in_total", "Frames received from clients.", &m.FramesIn),
		counter("frames_out_total", "Frames written to clients.", &m.FramesOut),
		counter("bytes_out_total", "Bytes written to clients.", &m.BytesOut),
		counter("messages_total", "Chat messages accepted for delivery.", &m.MessagesRouted),
		counter("decode_errors_total", "Malformed frames received.", &m.DecodeErrors),
		counter("command_errors_total", "Error frames sent to clients.", &m.CommandErrors),
		counter("rate_limited_total", "Inbound frames dropped by the rate limit.", &m.RateLimited),

		counter("rooms_created_total", "Rooms created.", &m.RoomsCreated),
		counter("rooms_deleted_total", "Rooms deleted.", &m.RoomsDeleted),
		counter("kicks_total", "Users kicked.", &m.KickCount),
	}
}

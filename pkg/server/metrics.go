package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime WebSocket connections accepted
	ActiveConnections atomic.Int64 // current live connections
	TotalDisconnects  atomic.Int64 // total client disconnects (clean + unclean)

	// Presence counters
	ProfileUpdates     atomic.Int64 // user_info updates applied
	PresenceBroadcasts atomic.Int64 // full user_list fan-outs

	// Call lifecycle counters
	CallsRequested atomic.Int64 // call requests created
	CallsAccepted  atomic.Int64 // requests that went active
	CallsRejected  atomic.Int64 // requests explicitly declined
	CallsExpired   atomic.Int64 // requests that timed out unanswered
	CallsEnded     atomic.Int64 // active calls ended (by message or disconnect)
	MatchFailures  atomic.Int64 // requests with no eligible speaker

	// Relay counters
	MessagesRelayed atomic.Int64 // opaque messages forwarded to their target
	RelayDropped    atomic.Int64 // relay messages with no reachable target

	// Input and persistence counters
	MalformedMessages   atomic.Int64 // inbound messages dropped as undecodable or invalid
	ReviewsSubmitted    atomic.Int64 // reviews accepted for persistence
	PersistenceFailures atomic.Int64 // sink writes that failed
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	ProfileUpdates     int64 `json:"profile_updates"`
	PresenceBroadcasts int64 `json:"presence_broadcasts"`

	CallsRequested int64 `json:"calls_requested"`
	CallsAccepted  int64 `json:"calls_accepted"`
	CallsRejected  int64 `json:"calls_rejected"`
	CallsExpired   int64 `json:"calls_expired"`
	CallsEnded     int64 `json:"calls_ended"`
	MatchFailures  int64 `json:"match_failures"`

	MessagesRelayed int64 `json:"messages_relayed"`
	RelayDropped    int64 `json:"relay_dropped"`

	MalformedMessages   int64 `json:"malformed_messages"`
	ReviewsSubmitted    int64 `json:"reviews_submitted"`
	PersistenceFailures int64 `json:"persistence_failures"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:              uptime.Truncate(time.Second).String(),
		UptimeSeconds:       int64(uptime.Seconds()),
		ActiveConnections:   m.ActiveConnections.Load(),
		TotalConnections:    m.TotalConnections.Load(),
		TotalDisconnects:    m.TotalDisconnects.Load(),
		ProfileUpdates:      m.ProfileUpdates.Load(),
		PresenceBroadcasts:  m.PresenceBroadcasts.Load(),
		CallsRequested:      m.CallsRequested.Load(),
		CallsAccepted:       m.CallsAccepted.Load(),
		CallsRejected:       m.CallsRejected.Load(),
		CallsExpired:        m.CallsExpired.Load(),
		CallsEnded:          m.CallsEnded.Load(),
		MatchFailures:       m.MatchFailures.Load(),
		MessagesRelayed:     m.MessagesRelayed.Load(),
		RelayDropped:        m.RelayDropped.Load(),
		MalformedMessages:   m.MalformedMessages.Load(),
		ReviewsSubmitted:    m.ReviewsSubmitted.Load(),
		PersistenceFailures: m.PersistenceFailures.Load(),
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
		"calls_requested", s.CallsRequested,
		"calls_accepted", s.CallsAccepted,
		"calls_ended", s.CallsEnded,
		"relayed", s.MessagesRelayed,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
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

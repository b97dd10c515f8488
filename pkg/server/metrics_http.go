package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StartMetricsHTTP starts a lightweight HTTP server that exposes /metrics
// in Prometheus text exposition format. It runs in the background and
// shuts down when the server context is cancelled.
//
// Bind address is :9090 by default — configurable via Config.MetricsAddr.
func (s *Server) StartMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return // metrics endpoint disabled
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Helper for gauge/counter lines.
	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("linguameet_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("linguameet_connections_active", "Current live WebSocket connections.", "gauge",
		m.ActiveConnections.Load())
	write("linguameet_connections_total", "Lifetime WebSocket connections accepted.", "counter",
		m.TotalConnections.Load())
	write("linguameet_disconnects_total", "Total client disconnects.", "counter",
		m.TotalDisconnects.Load())

	write("linguameet_profile_updates_total", "Profile updates applied.", "counter",
		m.ProfileUpdates.Load())
	write("linguameet_presence_broadcasts_total", "Full presence snapshots fanned out.", "counter",
		m.PresenceBroadcasts.Load())

	write("linguameet_calls_requested_total", "Call requests created.", "counter",
		m.CallsRequested.Load())
	write("linguameet_calls_accepted_total", "Call requests accepted.", "counter",
		m.CallsAccepted.Load())
	write("linguameet_calls_rejected_total", "Call requests declined.", "counter",
		m.CallsRejected.Load())
	write("linguameet_calls_expired_total", "Call requests that timed out.", "counter",
		m.CallsExpired.Load())
	write("linguameet_calls_ended_total", "Active calls ended.", "counter",
		m.CallsEnded.Load())
	write("linguameet_match_failures_total", "Call requests with no eligible speaker.", "counter",
		m.MatchFailures.Load())

	write("linguameet_messages_relayed_total", "Opaque messages forwarded.", "counter",
		m.MessagesRelayed.Load())
	write("linguameet_relay_dropped_total", "Relay messages with no reachable target.", "counter",
		m.RelayDropped.Load())

	write("linguameet_malformed_messages_total", "Inbound messages dropped as invalid.", "counter",
		m.MalformedMessages.Load())
	write("linguameet_reviews_submitted_total", "Reviews accepted for persistence.", "counter",
		m.ReviewsSubmitted.Load())
	write("linguameet_persistence_failures_total", "Persistence sink writes that failed.", "counter",
		m.PersistenceFailures.Load())
}

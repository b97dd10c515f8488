// Package server implements the LinguaMeet rendezvous coordinator: the
// connection registry, presence directory, call matching engine, message
// relay, and disconnect cleanup.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"math/rand"

	"github.com/linguameet/linguameet/pkg/datastore"
	"github.com/linguameet/linguameet/pkg/model"
)

// Config holds server configuration.
type Config struct {
	Addr           string        // HTTP/WebSocket bind address (e.g. ":8080")
	MetricsAddr    string        // HTTP bind address for /metrics endpoint (empty = disabled)
	DBPath         string        // SQLite database path for the persistence sink
	StaticDir      string        // directory of static client files to serve (empty = disabled)
	AllowedOrigins []string      // accepted WebSocket Origin headers (empty = allow all)
	PendingCallTTL time.Duration // how long a call request may stay unanswered (0 = forever)
	PingInterval   time.Duration // WebSocket keepalive ping interval (0 = disabled)
	WriteTimeout   time.Duration // per-message write deadline
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		MetricsAddr:    ":9090",
		DBPath:         "linguameet.db",
		PendingCallTTL: 60 * time.Second,
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Store datastore.Store
}

// Server is the LinguaMeet coordinator.
//
// All registry, presence, and session state is guarded by a single mutex,
// giving each inbound event exclusive access to shared state for the
// synchronous part of its handling. Every handler completes its state
// mutations under the lock, releases it, and only then dispatches
// notifications; the one slow side effect (the persistence-sink write
// after a call ends) runs on a detached goroutine operating purely on
// values captured before the state was released.
type Server struct {
	cfg Config

	mu       sync.Mutex // coordinator lock: registry, sessions, client profile/membership
	registry *registry
	sessions map[string]*model.Session

	metrics *Metrics
	store   datastore.Store

	bg sync.WaitGroup // in-flight background persistence writes

	ctx     context.Context
	cancel  context.CancelFunc
	httpSrv *http.Server

	// seams for deterministic tests
	now  func() time.Time
	pick func(n int) int // uniform [0,n), used for automatic speaker selection
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		registry: newRegistry(),
		sessions: make(map[string]*model.Session),
		metrics:  NewMetrics(),
		store:    deps.Store,
		ctx:      ctx,
		cancel:   cancel,
		now:      func() time.Time { return time.Now().UTC() },
		pick:     rand.Intn,
	}
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// error codes carried in error messages to clients
const (
	codeMalformed      = 1
	codeAlreadyInCall  = 20
	codeInvalidProfile = 21
)

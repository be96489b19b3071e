// Package server implements the roomchat server: session management, the
// room registry, message routing and the TCP and WebSocket transports.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/NicolasHaas/roomchat/pkg/datastore"
	"github.com/NicolasHaas/roomchat/pkg/logging"
	"github.com/NicolasHaas/roomchat/pkg/model"
)

// Config holds server configuration. Keys map to viper keys
// "<section>.<field>", e.g. "session.queue_size".
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Session SessionConfig `mapstructure:"session"`
	Rooms   RoomsConfig   `mapstructure:"rooms"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Listen             string        `mapstructure:"listen"`           // TCP bind address
	WebSocketListen    string        `mapstructure:"websocket_listen"` // empty = gateway disabled
	WebSocketPath      string        `mapstructure:"websocket_path"`
	WebSocketOrigins   []string      `mapstructure:"websocket_origins"` // empty = same origin only, "*" = any
	MetricsListen      string        `mapstructure:"metrics_listen"`    // empty = disabled
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval"`
	Admin              bool          `mapstructure:"admin"` // serve /admin/ on the metrics listener
	MaxSessions        int           `mapstructure:"max_sessions"` // 0 = unlimited
	DBPath             string        `mapstructure:"db"`           // empty = in-memory store
	ReapInterval       time.Duration `mapstructure:"reap_interval"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
}

type SessionConfig struct {
	QueueSize    int           `mapstructure:"queue_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"` // 0 = never
	RateLimit    float64       `mapstructure:"rate_limit"`   // frames per second, 0 = unlimited
	RateBurst    int           `mapstructure:"rate_burst"`
}

type RoomsConfig struct {
	Default    string        `mapstructure:"default"` // auto-joined on HELLO; empty disables
	File       string        `mapstructure:"file"`    // YAML file of pinned rooms
	EchoSender bool          `mapstructure:"echo_sender"`
	EmptyGrace time.Duration `mapstructure:"empty_grace"` // 0 disables the sweep
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen:             ":6060",
			WebSocketPath:      "/ws",
			MetricsListen:      ":6062",
			MetricsLogInterval: 60 * time.Second,
			ReapInterval:       15 * time.Second,
			ShutdownTimeout:    10 * time.Second,
		},
		Session: SessionConfig{
			QueueSize:    256,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  5 * time.Minute,
			RateLimit:    20,
			RateBurst:    40,
		},
		Rooms: RoomsConfig{
			Default:    model.DefaultRoomName,
			EmptyGrace: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	if c.Session.QueueSize <= 0 {
		return fmt.Errorf("server: config: session.queue_size must be positive, got %d", c.Session.QueueSize)
	}
	if c.Session.RateLimit < 0 || c.Session.RateBurst < 0 {
		return fmt.Errorf("server: config: session rate limit must not be negative")
	}
	if c.Server.MaxSessions < 0 {
		return fmt.Errorf("server: config: server.max_sessions must not be negative")
	}
	if c.Rooms.Default != "" {
		if err := model.ValidateRoomName(c.Rooms.Default); err != nil {
			return fmt.Errorf("server: config: rooms.default: %w", err)
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("server: config: %w", err)
	}
	return nil
}

// Dependencies holds external dependencies for the server. The caller keeps
// ownership of both and closes them after Shutdown.
type Dependencies struct {
	Store  datastore.DataStore // pinned rooms; nil uses an in-memory store
	Events EventSink           // nil logs events through slog only
}

// Server is the roomchat server.
type Server struct {
	cfg      Config
	sessions *SessionManager
	rooms    *RoomManager
	router   *Router
	metrics  *Metrics
	events   EventSink
	store    datastore.DataStore
	registry *prometheus.Registry

	controlLn net.Listener
	wsServer  *http.Server
	conns     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	metrics := NewMetrics()
	sessions := NewSessionManager(cfg.Server.MaxSessions, SessionOptions{
		QueueSize:    cfg.Session.QueueSize,
		WriteTimeout: cfg.Session.WriteTimeout,
		RateLimit:    cfg.Session.RateLimit,
		RateBurst:    cfg.Session.RateBurst,
	}, metrics)
	rooms := NewRoomManager(cfg.Rooms.EmptyGrace)

	st := deps.Store
	if st == nil {
		st = datastore.NewMemory()
	}
	events := deps.Events
	if events == nil {
		events = LogSink{}
	}

	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		rooms:    rooms,
		router:   NewRouter(sessions, rooms),
		metrics:  metrics,
		events:   events,
		store:    st,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.registry = s.newRegistry()
	return s
}

// Rooms returns the room registry.
func (s *Server) Rooms() *RoomManager {
	return s.rooms
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Addr is the bound TCP address once StartControl has run.
func (s *Server) Addr() net.Addr {
	if s.controlLn == nil {
		return nil
	}
	return s.controlLn.Addr()
}

func (s *Server) emit(kind model.EventKind, sess *Session, detail string) {
	e := model.Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if sess != nil {
		e.SessionID = sess.ID
		e.Username = sess.Username()
	}
	s.events.Emit(e)
}

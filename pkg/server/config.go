package server

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/roomchat/pkg/logging"
	"github.com/NicolasHaas/roomchat/pkg/model"
)

// EnvPrefix prefixes environment overrides, e.g. ROOMCHAT_SESSION_QUEUE_SIZE.
const EnvPrefix = "ROOMCHAT"

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"listen":               "server.listen",
	"ws-listen":            "server.websocket_listen",
	"ws-path":              "server.websocket_path",
	"ws-origins":           "server.websocket_origins",
	"metrics":              "server.metrics_listen",
	"metrics-log-interval": "server.metrics_log_interval",
	"admin":                "server.admin",
	"max-sessions":         "server.max_sessions",
	"db":                   "server.db",
	"queue-size":           "session.queue_size",
	"write-timeout":        "session.write_timeout",
	"idle-timeout":         "session.idle_timeout",
	"rate-limit":           "session.rate_limit",
	"rate-burst":           "session.rate_burst",
	"default-room":         "rooms.default",
	"rooms-file":           "rooms.file",
	"echo-sender":          "rooms.echo_sender",
	"empty-grace":          "rooms.empty_grace",
	"log-level":            "log.level",
	"log-format":           "log.format",
}

// RegisterFlags adds the server flags to fs with DefaultConfig values.
func RegisterFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()
	fs.String("config", "", "Config file (yaml, toml or json)")
	fs.String("listen", d.Server.Listen, "TCP bind address")
	fs.String("ws-listen", d.Server.WebSocketListen, "WebSocket gateway bind address (empty to disable)")
	fs.String("ws-path", d.Server.WebSocketPath, "WebSocket gateway HTTP path")
	fs.StringSlice("ws-origins", d.Server.WebSocketOrigins, "Allowed WebSocket origins (* for any, empty for same origin)")
	fs.String("metrics", d.Server.MetricsListen, "HTTP bind address for Prometheus /metrics (empty to disable)")
	fs.Duration("metrics-log-interval", d.Server.MetricsLogInterval, "Interval of the metrics log line (0 to disable)")
	fs.Bool("admin", d.Server.Admin, "Serve the /admin/ kick and room endpoints on the metrics address")
	fs.Int("max-sessions", d.Server.MaxSessions, "Maximum concurrent sessions (0 for unlimited)")
	fs.String("db", d.Server.DBPath, "SQLite database file (empty for in-memory)")
	fs.Int("queue-size", d.Session.QueueSize, "Outbound frames buffered per session")
	fs.Duration("write-timeout", d.Session.WriteTimeout, "Deadline for each outbound write")
	fs.Duration("idle-timeout", d.Session.IdleTimeout, "Disconnect sessions idle this long (0 to disable)")
	fs.Float64("rate-limit", d.Session.RateLimit, "Inbound frames per second per session (0 for unlimited)")
	fs.Int("rate-burst", d.Session.RateBurst, "Inbound frame burst per session")
	fs.String("default-room", d.Rooms.Default, "Room joined on HELLO (empty to disable)")
	fs.String("rooms-file", d.Rooms.File, "YAML file of pinned rooms to create on startup")
	fs.Bool("echo-sender", d.Rooms.EchoSender, "Deliver room messages back to their sender")
	fs.Duration("empty-grace", d.Rooms.EmptyGrace, "Remove never-used empty rooms after this long (0 to disable)")
	fs.String("log-level", d.Log.Level, "Log level: "+logging.LevelNames)
	fs.String("log-format", d.Log.Format, "Log format: text or json")
}

// LoadConfig resolves the configuration from defaults, an optional config
// file, ROOMCHAT_* environment variables and the flags in fs, in increasing
// priority. fs may be nil.
func LoadConfig(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.websocket_listen", d.Server.WebSocketListen)
	v.SetDefault("server.websocket_path", d.Server.WebSocketPath)
	v.SetDefault("server.websocket_origins", d.Server.WebSocketOrigins)
	v.SetDefault("server.metrics_listen", d.Server.MetricsListen)
	v.SetDefault("server.metrics_log_interval", d.Server.MetricsLogInterval)
	v.SetDefault("server.admin", d.Server.Admin)
	v.SetDefault("server.max_sessions", d.Server.MaxSessions)
	v.SetDefault("server.db", d.Server.DBPath)
	v.SetDefault("server.reap_interval", d.Server.ReapInterval)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("session.queue_size", d.Session.QueueSize)
	v.SetDefault("session.write_timeout", d.Session.WriteTimeout)
	v.SetDefault("session.idle_timeout", d.Session.IdleTimeout)
	v.SetDefault("session.rate_limit", d.Session.RateLimit)
	v.SetDefault("session.rate_burst", d.Session.RateBurst)

	v.SetDefault("rooms.default", d.Rooms.Default)
	v.SetDefault("rooms.file", d.Rooms.File)
	v.SetDefault("rooms.echo_sender", d.Rooms.EchoSender)
	v.SetDefault("rooms.empty_grace", d.Rooms.EmptyGrace)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("server: config: bind --%s: %w", name, err)
				}
			}
		}
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("server: config: read %s: %w", f.Value.String(), err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("server: config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RoomsFile is the YAML document listing pinned rooms.
type RoomsFile struct {
	Rooms []model.Room `yaml:"rooms"`
}

// LoadRoomsFromYAML reads and validates a rooms file.
func LoadRoomsFromYAML(path string) ([]model.Room, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from operator config
	if err != nil {
		return nil, fmt.Errorf("read rooms file: %w", err)
	}
	return ParseRoomsYAML(data)
}

// ParseRoomsYAML parses a rooms document. Invalid or duplicate names fail the
// whole document.
func ParseRoomsYAML(data []byte) ([]model.Room, error) {
	var f RoomsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rooms file: %w", err)
	}
	seen := make(map[string]bool, len(f.Rooms))
	var errs []error
	for _, r := range f.Rooms {
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("room %q: %w", r.Name, err))
			continue
		}
		if seen[r.Name] {
			errs = append(errs, fmt.Errorf("room %q: duplicate", r.Name))
		}
		seen[r.Name] = true
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("parse rooms file: %w", err)
	}
	return f.Rooms, nil
}

// ExportRoomsYAML renders rooms in the rooms file format.
func ExportRoomsYAML(rooms []model.Room) ([]byte, error) {
	return yaml.Marshal(&RoomsFile{Rooms: rooms})
}

// Package logging configures structured logging for the roomchat server and
// console client.
//
// Both binaries log through log/slog. Levels from most to least verbose:
// DEBUG, INFO, WARN, ERROR.
//
//	logging.Setup(logging.Options{Level: "debug", Format: "json"})
//	slog.Info("room created", "room", name, "session", id)
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options controls how logging is configured.
type Options struct {
	Level  string    // "debug", "info", "warn", "error" (default: "info")
	Format string    // "text" or "json" (default: "text")
	Output io.Writer // default: os.Stderr
}

// LevelNames lists the accepted level names, for --help text.
const LevelNames = "debug, info, warn, error"

// ParseLevel converts a level name to slog.Level. An empty name is INFO.
func ParseLevel(level string) (slog.Level, error) {
	name := strings.ToLower(strings.TrimSpace(level))
	switch name {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		name = "warn"
	case "debug", "info", "warn", "error":
	default:
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q (valid: %s)", level, LevelNames)
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging: parse level: %w", err)
	}
	return l, nil
}

// New builds a logger from opts without touching the process default.
func New(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	switch strings.ToLower(opts.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(out, handlerOpts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(out, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("logging: unknown format %q (valid: text, json)", opts.Format)
	}
}

// Setup installs the logger described by opts as the slog default.
// Call it early in main(), before anything logs.
func Setup(opts Options) error {
	logger, err := New(opts)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

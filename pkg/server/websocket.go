package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketHandler upgrades HTTP requests and serves a session on each
// connection. Every binary message carries one encoded frame.
func (s *Server) WebSocketHandler() http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin(s.cfg.Server.WebSocketOrigins),
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
			return
		}
		s.ServeConn(newWSConn(ws))
	})
}

// checkOrigin returns nil (gorilla's same-origin check) for an empty list,
// accepts any origin for "*", and otherwise matches the Origin header.
func checkOrigin(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	if slices.Contains(origins, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		return slices.Contains(origins, r.Header.Get("Origin"))
	}
}

// StartWebSocket starts the WebSocket gateway if one is configured.
func (s *Server) StartWebSocket() error {
	addr := s.cfg.Server.WebSocketListen
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen websocket: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Server.WebSocketPath, s.WebSocketHandler())
	s.wsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("websocket gateway listening", "addr", ln.Addr().String(), "path", s.cfg.Server.WebSocketPath)

	srv := s.wsServer
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("websocket gateway error", "err", err)
		}
	}()
	return nil
}

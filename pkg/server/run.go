package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NicolasHaas/roomchat/pkg/model"
	"github.com/NicolasHaas/roomchat/pkg/protocol"
)

// Start pins the configured rooms and starts every listener and background
// loop. It does not block.
func (s *Server) Start() error {
	if err := s.loadRooms(); err != nil {
		return err
	}
	if err := s.StartControl(); err != nil {
		return err
	}
	if err := s.StartWebSocket(); err != nil {
		_ = s.controlLn.Close()
		return err
	}
	s.StartMetricsHTTP()
	s.startReaper()
	s.metrics.StartPeriodicLog(s.cfg.Server.MetricsLogInterval, s.ctx.Done())

	slog.Info("roomchat server running",
		"listen", s.Addr().String(),
		"websocket", s.cfg.Server.WebSocketListen,
		"rooms", s.rooms.Count(),
	)
	return nil
}

// Run starts the server and blocks until SIGINT or SIGTERM, then shuts down
// within the configured timeout.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	<-sigCh

	slog.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// loadRooms pins the default room, the rooms saved in the datastore and the
// rooms listed in the rooms file.
func (s *Server) loadRooms() error {
	if def := s.cfg.Rooms.Default; def != "" {
		if _, err := s.rooms.Pin(def, ""); err != nil {
			return fmt.Errorf("server: default room: %w", err)
		}
	}

	stored, err := s.store.ListRooms()
	if err != nil {
		return fmt.Errorf("server: load rooms: %w", err)
	}
	for _, r := range stored {
		if _, err := s.rooms.Pin(r.Name, r.Topic); err != nil {
			slog.Warn("skipping stored room", "room", r.Name, "err", err)
		}
	}

	if path := s.cfg.Rooms.File; path != "" {
		rooms, err := LoadRoomsFromYAML(path)
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		for _, r := range rooms {
			if _, err := s.rooms.Pin(r.Name, r.Topic); err != nil {
				return fmt.Errorf("server: rooms file: %w", err)
			}
		}
		slog.Info("loaded rooms file", "path", path, "count", len(rooms))
	}
	return nil
}

// Shutdown stops accepting connections, tells every session the server is
// going away and waits for their teardown or ctx, whichever comes first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	if s.controlLn != nil {
		_ = s.controlLn.Close()
	}
	if s.wsServer != nil {
		_ = s.wsServer.Close()
	}

	for _, sess := range s.sessions.All() {
		go s.disconnect(sess, "server shutting down")
	}

	// Each connection goroutine ends once its session's transport is
	// released, which a graceful close only does after the flush.
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.metrics.LogSummary()
		return nil
	case <-ctx.Done():
		for _, sess := range s.sessions.All() {
			sess.Abort(ctx.Err())
		}
		return fmt.Errorf("server: shutdown: %w", ctx.Err())
	}
}

// disconnect sends a SERVER_DISCONNECT frame and closes the session once it
// has been flushed.
func (s *Server) disconnect(sess *Session, reason string) {
	_ = sess.Send(&protocol.Frame{Kind: protocol.KindServerDisconnect, Content: []byte(reason)})
	sess.Close()
}

// Kick disconnects the active session holding username.
func (s *Server) Kick(username, reason string) error {
	sess, err := s.router.ResolveUser(username)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "kicked"
	}
	s.metrics.KickCount.Add(1)
	sess.Logger().Info("kicking session", "reason", reason)
	s.disconnect(sess, reason)
	return nil
}

// RemoveRoom deletes a room whatever its pin state, forgets it in the
// datastore and tells its members.
func (s *Server) RemoveRoom(name string) error {
	r, err := s.rooms.Get(name)
	if err != nil {
		return err
	}
	members := r.Snapshot()
	if !s.rooms.Remove(name) {
		return model.Errorf(model.CodeNotFound, name, "room %q not found", name)
	}
	if err := s.store.DeleteRoom(name); err != nil {
		slog.Warn("delete stored room failed", "room", name, "err", err)
	}
	for _, id := range members {
		if sess := s.sessions.Get(id); sess != nil {
			sess.removeRoom(name)
		}
	}
	_, _ = s.router.Deliver(&protocol.Frame{
		Kind:    protocol.KindNotice,
		Target:  name,
		Content: []byte("room " + name + " removed"),
	}, members, 0)

	s.metrics.RoomsDeleted.Add(1)
	s.emit(model.EventRoomDeleted, nil, name)
	return nil
}

func (s *Server) startReaper() {
	interval := s.cfg.Server.ReapInterval
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				s.reap(now)
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// reap disconnects idle sessions and sweeps rooms left empty past their
// grace period.
func (s *Server) reap(now time.Time) {
	if idle := s.cfg.Session.IdleTimeout; idle > 0 {
		for _, sess := range s.sessions.All() {
			if sess.Closed() || sess.IdleFor(now) < idle {
				continue
			}
			s.metrics.IdleDisconnects.Add(1)
			sess.Logger().Info("disconnecting idle session", "idle", sess.IdleFor(now).Round(time.Second))
			go s.disconnect(sess, "idle timeout")
		}
	}

	if s.cfg.Rooms.EmptyGrace > 0 {
		for _, name := range s.rooms.Sweep(now) {
			s.metrics.RoomsDeleted.Add(1)
			s.emit(model.EventRoomDeleted, nil, name)
			slog.Debug("swept empty room", "room", name)
		}
	}
}

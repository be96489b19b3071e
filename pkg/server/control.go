package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/NicolasHaas/roomchat/pkg/model"
	"github.com/NicolasHaas/roomchat/pkg/protocol"
)

// StartControl starts the TCP listener for framed client connections.
func (s *Server) StartControl() error {
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.controlLn = ln
	slog.Info("chat listener started", "addr", ln.Addr().String())

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				slog.Error("accept error", "err", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
			go s.ServeConn(NewNetConn(conn))
		}
	}()
	return nil
}

// ServeConn runs one client session on conn until the transport ends or the
// session is closed. It returns after the session has been torn down.
func (s *Server) ServeConn(conn Conn) {
	s.conns.Add(1)
	defer s.conns.Done()

	s.metrics.TotalConnections.Add(1)
	sess, err := s.sessions.Add(conn)
	if err != nil {
		s.rejectConn(conn, err)
		return
	}
	s.metrics.ActiveConnections.Add(1)
	s.emit(model.EventSessionConnected, sess, conn.RemoteAddr())
	sess.Logger().Debug("session connected")

	defer s.teardownSession(sess)

	for f, err := range sess.Receive() {
		if err != nil {
			s.metrics.DecodeErrors.Add(1)
			if !s.fail(sess, err) {
				return
			}
			continue
		}
		if !s.Dispatch(sess, f) {
			return
		}
	}
}

// rejectConn answers a connection that never got a session with one ERROR
// frame and closes it.
func (s *Server) rejectConn(conn Conn, err error) {
	s.metrics.RejectedConnections.Add(1)
	slog.Warn("connection rejected", "remote", conn.RemoteAddr(), "err", err)
	if data, encErr := protocol.Encode(errorFrame(err)); encErr == nil {
		_ = conn.WriteFrame(data, time.Now().Add(time.Second))
	}
	_ = conn.Close()
}

// teardownSession releases everything a session holds: its transport, its
// room memberships (each remaining member sees a leave notice) and its name.
func (s *Server) teardownSession(sess *Session) {
	sess.Abort(nil)

	user := sess.Username()
	for _, name := range sess.Rooms() {
		sess.removeRoom(name)
		r, err := s.rooms.Get(name)
		if err != nil {
			continue
		}
		if r.Leave(sess.ID) != nil {
			continue
		}
		_, _ = r.Broadcast(&protocol.Frame{
			Kind:    protocol.KindNotice,
			Sender:  user,
			Target:  name,
			Content: []byte(user + " left"),
		}, 0, s.sessions)
		s.cleanupRoom(name, sess)
	}
	s.sessions.Remove(sess.ID)

	s.metrics.ActiveConnections.Add(-1)
	s.metrics.TotalDisconnects.Add(1)
	detail := ""
	if err := sess.Err(); err != nil {
		detail = err.Error()
	}
	s.emit(model.EventSessionDisconnected, sess, detail)
	sess.Logger().Info("session disconnected", "reason", detail)
}

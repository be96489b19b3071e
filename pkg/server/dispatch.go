package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/NicolasHaas/roomchat/pkg/command"
	"github.com/NicolasHaas/roomchat/pkg/model"
	"github.com/NicolasHaas/roomchat/pkg/protocol"
	"github.com/NicolasHaas/roomchat/pkg/version"
)

// Dispatch handles one inbound frame for sess. It returns false once the
// session has been closed and its reader should stop.
//
// A Connected session may only say HELLO or DISCONNECT. An Active session
// sends COMMAND frames carrying one line of user input.
func (s *Server) Dispatch(sess *Session, f *protocol.Frame) bool {
	if !sess.Allow() {
		s.metrics.RateLimited.Add(1)
		s.fail(sess, model.Errorf(model.CodeRateLimited, "", "rate limit exceeded, %s frame dropped", f.Kind))
		return true
	}

	switch sess.State() {
	case StateConnected:
		switch f.Kind {
		case protocol.KindHello:
			s.handleHello(sess, f)
		case protocol.KindDisconnect:
			sess.Close()
			return false
		default:
			s.fail(sess, model.Errorf(model.CodeBadCommand, f.Kind.String(), "send HELLO before %s", f.Kind))
		}
		return true

	case StateActive:
		switch f.Kind {
		case protocol.KindCommand:
			return s.handleCommand(sess, f.Text())
		case protocol.KindDisconnect:
			sess.Close()
			return false
		case protocol.KindHello:
			s.fail(sess, model.Errorf(model.CodeBadCommand, sess.Username(), "already signed in as %q", sess.Username()))
		default:
			s.fail(sess, model.Errorf(model.CodeBadCommand, f.Kind.String(), "unexpected %s frame", f.Kind))
		}
		return true

	default:
		return false
	}
}

func (s *Server) handleHello(sess *Session, f *protocol.Frame) {
	name := strings.TrimSpace(f.Text())
	if err := model.ValidateUsername(name); err != nil {
		s.fail(sess, model.Errorf(model.CodeBadCommand, name, "invalid username %q: %v", name, err))
		return
	}
	if err := s.sessions.Claim(sess.ID, name); err != nil {
		s.fail(sess, err)
		return
	}

	s.metrics.Activations.Add(1)
	s.emit(model.EventSessionActivated, sess, "")
	sess.Logger().Info("session activated")

	_ = sess.Send(&protocol.Frame{
		Kind:    protocol.KindHello,
		Target:  strconv.FormatUint(uint64(sess.ID), 10),
		Content: []byte(fmt.Sprintf("welcome %s, roomchat %s", name, version.String())),
	})

	if def := s.cfg.Rooms.Default; def != "" {
		if err := s.join(sess, def); err != nil {
			s.fail(sess, err)
		}
	}
}

func (s *Server) handleCommand(sess *Session, line string) bool {
	cmd, err := command.Parse(line)
	if err != nil {
		s.fail(sess, err)
		return true
	}

	switch c := cmd.(type) {
	case command.Create:
		err = s.create(sess, c.Room)
	case command.Join:
		err = s.join(sess, c.Room)
	case command.Leave:
		err = s.leave(sess, c.Room)
	case command.List:
		s.reply(sess, "list", s.listing())
	case command.Users:
		err = s.users(sess, c.Room)
	case command.Msg:
		err = s.private(sess, c.User, c.Text)
	case command.Multi:
		err = s.multi(sess, c.Rooms, c.Text)
	case command.Secure:
		err = s.toActiveRoom(sess, protocol.KindSecure, c.Text)
	case command.File:
		s.offerFile(sess, c.Name)
	case command.Quit:
		sess.Close()
		return false
	case command.Say:
		err = s.toActiveRoom(sess, protocol.KindGroup, c.Text)
	default:
		err = model.Errorf(model.CodeBadCommand, command.Name(cmd), "unsupported command")
	}
	if err != nil {
		s.fail(sess, err)
	}
	return true
}

func (s *Server) create(sess *Session, name string) error {
	if _, err := s.rooms.Create(name); err != nil {
		return err
	}
	s.metrics.RoomsCreated.Add(1)
	s.emit(model.EventRoomCreated, sess, name)
	s.reply(sess, "create", "created "+name)
	return nil
}

func (s *Server) join(sess *Session, name string) error {
	r, err := s.rooms.Get(name)
	if err != nil {
		return err
	}
	user := sess.Username()
	joined, err := r.Join(sess.ID, user)
	if err != nil {
		return err
	}
	sess.addRoom(name)
	if !joined {
		s.reply(sess, "join", "already in "+name)
		return nil
	}

	_, _ = r.Broadcast(&protocol.Frame{
		Kind:    protocol.KindNotice,
		Sender:  user,
		Target:  name,
		Content: []byte(user + " joined"),
	}, sess.ID, s.sessions)
	s.reply(sess, "join", "joined "+name)
	return nil
}

func (s *Server) leave(sess *Session, name string) error {
	r, err := s.rooms.Get(name)
	if err != nil {
		sess.removeRoom(name)
		return err
	}
	if err := r.Leave(sess.ID); err != nil {
		return err
	}
	sess.removeRoom(name)

	user := sess.Username()
	_, _ = r.Broadcast(&protocol.Frame{
		Kind:    protocol.KindNotice,
		Sender:  user,
		Target:  name,
		Content: []byte(user + " left"),
	}, 0, s.sessions)
	s.reply(sess, "leave", "left "+name)
	s.cleanupRoom(name, sess)
	return nil
}

// cleanupRoom removes name if it is unpinned and empty.
func (s *Server) cleanupRoom(name string, by *Session) {
	if s.rooms.RemoveIfEmpty(name) {
		s.metrics.RoomsDeleted.Add(1)
		s.emit(model.EventRoomDeleted, by, name)
	}
}

// listing renders one "name count [topic]" line per room in creation order.
func (s *Server) listing() string {
	var b strings.Builder
	for i, r := range s.rooms.List() {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s %d", r.Name, r.Members)
		if r.Topic != "" {
			b.WriteString(" " + r.Topic)
		}
	}
	return b.String()
}

func (s *Server) users(sess *Session, name string) error {
	r, err := s.rooms.Get(name)
	if err != nil {
		return err
	}
	s.reply(sess, "users", name+": "+strings.Join(r.Members(), ", "))
	return nil
}

func (s *Server) private(sess *Session, to, text string) error {
	target, err := s.router.ResolveUser(to)
	if err != nil {
		return err
	}
	if err := s.checkSend(target.Send(&protocol.Frame{
		Kind:    protocol.KindPrivate,
		Sender:  sess.Username(),
		Target:  to,
		Content: []byte(text),
	})); err != nil {
		return err
	}
	s.metrics.MessagesRouted.Add(1)
	return nil
}

// multi delivers one MULTI frame to every distinct member of the resolvable
// rooms, then reports the unresolvable ones in a single NotFound.
func (s *Server) multi(sess *Session, names []string, text string) error {
	found, missing := s.router.ResolveRooms(names)
	if len(found) > 0 {
		_, err := s.router.Deliver(&protocol.Frame{
			Kind:    protocol.KindMulti,
			Sender:  sess.Username(),
			Target:  roomNames(found),
			Content: []byte(text),
		}, unionMembers(found), s.echoExclude(sess))
		if err := s.checkSend(err); err != nil {
			return err
		}
		s.metrics.MessagesRouted.Add(1)
	}
	if len(missing) > 0 {
		return missingRoomsError(missing)
	}
	return nil
}

// toActiveRoom broadcasts a GROUP or SECURE frame to the session's active
// room. SECURE content is relayed as is; the server never reads it.
func (s *Server) toActiveRoom(sess *Session, kind protocol.Kind, text string) error {
	name, ok := sess.ActiveRoom()
	if !ok {
		return model.Errorf(model.CodeNotMember, "", "not in any room, /join one first")
	}
	r, err := s.rooms.Get(name)
	if err != nil {
		sess.removeRoom(name)
		return err
	}
	_, err = r.Broadcast(&protocol.Frame{
		Kind:    kind,
		Sender:  sess.Username(),
		Target:  name,
		Content: []byte(text),
	}, s.echoExclude(sess), s.sessions)
	if err := s.checkSend(err); err != nil {
		return err
	}
	s.metrics.MessagesRouted.Add(1)
	return nil
}

func (s *Server) offerFile(sess *Session, filename string) {
	id := uuid.NewString()
	_ = sess.Send(&protocol.Frame{
		Kind:    protocol.KindFile,
		Target:  id,
		Content: []byte(filename),
	})
	s.emit(model.EventFileOffered, sess, id+" "+filename)
}

func (s *Server) echoExclude(sess *Session) uint32 {
	if s.cfg.Rooms.EchoSender {
		return 0
	}
	return sess.ID
}

// checkSend turns an encode failure into an error for the sender. Enqueue
// failures on the recipient side are not the sender's problem.
func (s *Server) checkSend(err error) error {
	if err == nil || errors.Is(err, model.ErrUnreachable) {
		return nil
	}
	return model.Errorf(model.CodeBadCommand, "", "message not sent: %v", err)
}

func (s *Server) reply(sess *Session, cmd, text string) {
	_ = sess.Send(&protocol.Frame{Kind: protocol.KindReply, Target: cmd, Content: []byte(text)})
}

// fail reports err to sess as a single ERROR frame. When the code is fatal the
// session is closed after the frame is flushed and fail reports false.
func (s *Server) fail(sess *Session, err error) bool {
	f := errorFrame(err)
	_ = sess.Send(f)
	s.metrics.CommandErrors.Add(1)
	s.emit(model.EventCommandFailed, sess, err.Error())
	sess.Logger().Debug("command failed", "code", f.Target, "err", err)
	if model.CodeOf(err).Fatal() {
		sess.Close()
		return false
	}
	return true
}

func errorFrame(err error) *protocol.Frame {
	var ce *model.Error
	if !errors.As(err, &ce) {
		ce = &model.Error{Code: model.CodeUnknown, Msg: err.Error()}
	}
	msg := ce.Msg
	if msg == "" {
		msg = ce.Error()
	}
	return &protocol.Frame{Kind: protocol.KindError, Target: ce.Code.String(), Content: []byte(msg)}
}

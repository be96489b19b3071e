package server

import (
	"crypto/rand"
	"encoding/binary"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/NicolasHaas/roomchat/pkg/model"
	"github.com/NicolasHaas/roomchat/pkg/protocol"
)

// State is the lifecycle stage of a session.
type State int32

const (
	StateConnected State = iota // transport open, no username yet
	StateActive                 // HELLO accepted
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// SessionOptions are the per-session limits applied by a SessionManager.
type SessionOptions struct {
	QueueSize    int           // outbound frames buffered per session
	WriteTimeout time.Duration // deadline for each outbound write
	RateLimit    float64       // inbound frames per second, 0 = unlimited
	RateBurst    int
}

// Session is one connected client. Outbound frames go through a bounded queue
// drained by a dedicated goroutine, so producers never block on a slow peer.
type Session struct {
	ID uint32

	conn    Conn
	opts    SessionOptions
	metrics *Metrics
	limiter *rate.Limiter
	log     *slog.Logger

	out     chan []byte
	done    chan struct{} // closed when teardown starts
	drained chan struct{} // closed when the drain goroutine exits

	closeOnce     sync.Once
	transportOnce sync.Once
	graceful      atomic.Bool
	lastActive    atomic.Int64 // unix nanos of the last frame in or out

	mu       sync.Mutex
	state    State
	username string
	rooms    []string // join order; the last one is the active room
	closeErr error
}

func newSession(id uint32, conn Conn, opts SessionOptions, m *Metrics) *Session {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	s := &Session{
		ID:      id,
		conn:    conn,
		opts:    opts,
		metrics: m,
		log:     slog.With("session", id, "remote", conn.RemoteAddr()),
		out:     make(chan []byte, opts.QueueSize),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	s.touch()
	go s.drain()
	return s
}

// Receive yields inbound frames until the transport ends. A malformed frame
// yields (nil, DecodeError) once and ends the sequence; EOF and a closed
// transport end it silently.
func (s *Session) Receive() iter.Seq2[*protocol.Frame, error] {
	return func(yield func(*protocol.Frame, error) bool) {
		for {
			f, err := s.conn.ReadFrame()
			if err != nil {
				if protocol.IsMalformed(err) {
					yield(nil, model.Errorf(model.CodeDecodeError, "", "%v", err))
				} else if !s.Closed() {
					s.Logger().Debug("read ended", "err", err)
				}
				return
			}
			s.touch()
			if s.metrics != nil {
				s.metrics.FramesIn.Add(1)
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

// Enqueue hands an encoded frame to the drain goroutine without blocking.
// It fails with Unreachable when the session is closing or its queue is full;
// a full queue also tears the session down as a slow consumer.
func (s *Session) Enqueue(data []byte) error {
	select {
	case <-s.done:
		return model.Errorf(model.CodeUnreachable, s.Username(), "session %d is closed", s.ID)
	default:
	}
	select {
	case s.out <- data:
		return nil
	default:
		if s.metrics != nil {
			s.metrics.SlowConsumers.Add(1)
		}
		err := model.Errorf(model.CodeUnreachable, s.Username(), "session %d send queue full", s.ID)
		s.Logger().Warn("dropping slow consumer", "queued", len(s.out))
		s.teardown(false, err)
		// The drain goroutine may be stuck writing to this peer; closing the
		// transport can wait on that write, so it must not run on the producer.
		go s.closeTransport()
		return err
	}
}

// Send encodes f and enqueues it.
func (s *Session) Send(f *protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	return s.Enqueue(data)
}

// Close stops accepting frames, flushes what is queued, then releases the
// transport. It waits for the flush to finish.
func (s *Session) Close() {
	s.teardown(true, nil)
	<-s.drained
}

// Abort releases the transport immediately; queued frames are discarded.
func (s *Session) Abort(cause error) {
	s.teardown(false, cause)
	s.closeTransport()
}

func (s *Session) teardown(graceful bool, cause error) {
	s.closeOnce.Do(func() {
		s.graceful.Store(graceful)
		s.mu.Lock()
		s.state = StateDisconnected
		s.closeErr = cause
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Session) closeTransport() {
	s.transportOnce.Do(func() {
		_ = s.conn.Close()
	})
}

// Done is closed once teardown has started.
func (s *Session) Done() <-chan struct{} { return s.done }

// Closed reports whether teardown has started.
func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Err is the reason the session was aborted, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

func (s *Session) drain() {
	defer close(s.drained)
	for {
		select {
		case <-s.done:
			s.finish(nil)
			return
		case data := <-s.out:
			if s.Closed() {
				s.finish(data)
				return
			}
			if err := s.write(data); err != nil {
				s.Logger().Debug("write failed", "err", err)
				s.Abort(model.Errorf(model.CodeUnreachable, s.Username(), "write: %v", err))
				return
			}
		}
	}
}

// finish runs once teardown has started. Only a graceful close writes the
// frames still queued.
func (s *Session) finish(pending []byte) {
	defer s.closeTransport()
	if !s.graceful.Load() {
		return
	}
	if pending != nil {
		if err := s.write(pending); err != nil {
			return
		}
	}
	for {
		select {
		case data := <-s.out:
			if err := s.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) write(data []byte) error {
	var deadline time.Time
	if s.opts.WriteTimeout > 0 {
		deadline = time.Now().Add(s.opts.WriteTimeout)
	}
	if err := s.conn.WriteFrame(data, deadline); err != nil {
		return err
	}
	s.touch()
	if s.metrics != nil {
		s.metrics.FramesOut.Add(1)
		s.metrics.BytesOut.Add(int64(len(data)))
	}
	return nil
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// IdleFor reports how long the session has gone without traffic.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastActive.Load()))
}

// Allow reports whether one more inbound frame fits the rate limit.
func (s *Session) Allow() bool {
	return s.limiter == nil || s.limiter.Allow()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// Logger returns the session's structured logger.
func (s *Session) Logger() *slog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log
}

// addRoom records a joined room and makes it the active one.
func (s *Session) addRoom(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = slices.DeleteFunc(s.rooms, func(r string) bool { return r == name })
	s.rooms = append(s.rooms, name)
}

// removeRoom forgets a room; the most recently joined remaining room becomes
// active.
func (s *Session) removeRoom(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.rooms)
	s.rooms = slices.DeleteFunc(s.rooms, func(r string) bool { return r == name })
	return len(s.rooms) != n
}

// ActiveRoom is the most recently joined room still held.
func (s *Session) ActiveRoom() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rooms) == 0 {
		return "", false
	}
	return s.rooms[len(s.rooms)-1], true
}

// Rooms returns the joined rooms in join order.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rooms)
}

// SessionManager tracks live sessions by handle and active usernames.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[uint32]*Session
	byName   map[string]uint32

	max     int // 0 = unlimited
	opts    SessionOptions
	metrics *Metrics
}

// NewSessionManager creates a session manager. maxSessions 0 means unlimited.
func NewSessionManager(maxSessions int, opts SessionOptions, m *Metrics) *SessionManager {
	return &SessionManager{
		sessions: make(map[uint32]*Session),
		byName:   make(map[string]uint32),
		max:      maxSessions,
		opts:     opts,
		metrics:  m,
	}
}

// Add registers a new session on conn in the Connected state.
func (sm *SessionManager) Add(conn Conn) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.max > 0 && len(sm.sessions) >= sm.max {
		return nil, model.Errorf(model.CodeServerFull, "", "server is full (%d sessions)", sm.max)
	}

	var id uint32
	for {
		b := make([]byte, 4)
		if _, err := rand.Read(b); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		id = binary.BigEndian.Uint32(b)
		if id != 0 {
			if _, exists := sm.sessions[id]; !exists {
				break
			}
		}
	}

	sess := newSession(id, conn, sm.opts, sm.metrics)
	sm.sessions[id] = sess
	return sess, nil
}

// Claim binds username to the session and activates it. It fails with
// NameTaken while another active session holds the name.
func (sm *SessionManager) Claim(id uint32, username string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sess, ok := sm.sessions[id]
	if !ok {
		return model.Errorf(model.CodeUnreachable, username, "session %d is gone", id)
	}
	if holder, taken := sm.byName[username]; taken && holder != id {
		return model.Errorf(model.CodeNameTaken, username, "username %q is taken", username)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.state != StateConnected {
		return model.Errorf(model.CodeBadCommand, username, "session is already %s", sess.state)
	}
	sm.byName[username] = id
	sess.username = username
	sess.state = StateActive
	sess.log = sess.log.With("user", username)
	return nil
}

// Lookup finds the active session holding username.
func (sm *SessionManager) Lookup(username string) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	id, ok := sm.byName[username]
	if !ok {
		return nil, false
	}
	return sm.sessions[id], true
}

// Get retrieves a session by handle, or nil.
func (sm *SessionManager) Get(id uint32) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// Remove drops the session and releases its username.
func (sm *SessionManager) Remove(id uint32) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sess, ok := sm.sessions[id]
	if !ok {
		return
	}
	delete(sm.sessions, id)
	if name := sess.Username(); name != "" && sm.byName[name] == id {
		delete(sm.byName, name)
	}
}

// Enqueue hands an encoded frame to session id. Unknown handles are
// Unreachable.
func (sm *SessionManager) Enqueue(id uint32, data []byte) error {
	sess := sm.Get(id)
	if sess == nil {
		return model.Errorf(model.CodeUnreachable, "", "session %d is gone", id)
	}
	return sess.Enqueue(data)
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// All returns a snapshot of live sessions.
func (sm *SessionManager) All() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	result := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		result = append(result, s)
	}
	return result
}

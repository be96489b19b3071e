package server

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/NicolasHaas/roomchat/pkg/protocol"
)

// fakeConn is an in-memory Conn. Writes block while gate is non-nil and
// still open.
type fakeConn struct {
	in     chan *protocol.Frame
	gate   chan struct{}
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan *protocol.Frame, 16),
		closed: make(chan struct{}),
	}
}

// blocked returns a fakeConn whose writes wait until release is called.
func blockedConn() (*fakeConn, func()) {
	c := newFakeConn()
	c.gate = make(chan struct{})
	var once sync.Once
	return c, func() { once.Do(func() { close(c.gate) }) }
}

func (c *fakeConn) ReadFrame() (*protocol.Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteFrame(data []byte, _ time.Time) error {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-c.closed:
			return errors.New("fake conn closed")
		}
	}
	select {
	case <-c.closed:
		return errors.New("fake conn closed")
	default:
	}
	c.mu.Lock()
	c.written = append(c.written, data)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "fake" }

func (c *fakeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// recorder is an Enqueuer that keeps every frame per handle.
type recorder struct {
	mu   sync.Mutex
	got  map[uint32][][]byte
	fail map[uint32]bool
}

func newRecorder() *recorder {
	return &recorder{got: make(map[uint32][][]byte), fail: make(map[uint32]bool)}
}

func (r *recorder) Enqueue(id uint32, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[id] {
		return errors.New("unreachable")
	}
	r.got[id] = append(r.got[id], data)
	return nil
}

func (r *recorder) received(id uint32) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.got[id]
}

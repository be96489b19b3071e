package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/roomchat/pkg/protocol"
)

// Conn is a framed transport carrying one client's session. TCP and
// WebSocket connections both carry the same encoded frames.
type Conn interface {
	// ReadFrame blocks for the next frame. It returns io.EOF once the peer
	// has gone away cleanly.
	ReadFrame() (*protocol.Frame, error)
	// WriteFrame writes one encoded frame (length prefix included).
	WriteFrame(data []byte, deadline time.Time) error
	Close() error
	RemoteAddr() string
}

type netConn struct {
	c net.Conn
	r *bufio.Reader
}

// NewNetConn wraps a stream connection such as TCP or net.Pipe.
func NewNetConn(c net.Conn) Conn {
	return &netConn{c: c, r: bufio.NewReader(c)}
}

func (n *netConn) ReadFrame() (*protocol.Frame, error) {
	f, err := protocol.ReadFrame(n.r)
	if err != nil && errors.Is(err, net.ErrClosed) {
		return nil, io.EOF
	}
	return f, err
}

func (n *netConn) WriteFrame(data []byte, deadline time.Time) error {
	if err := n.c.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("server: set write deadline: %w", err)
	}
	_, err := n.c.Write(data)
	return err
}

func (n *netConn) Close() error {
	return n.c.Close()
}

func (n *netConn) RemoteAddr() string {
	return n.c.RemoteAddr().String()
}

// wsConn carries one encoded frame per binary WebSocket message. The session
// drain goroutine is its only writer.
type wsConn struct {
	ws *websocket.Conn
}

func newWSConn(ws *websocket.Conn) Conn {
	ws.SetReadLimit(protocol.LengthSize + protocol.MaxFrameSize)
	return &wsConn{ws: ws}
}

func (w *wsConn) ReadFrame() (*protocol.Frame, error) {
	mt, data, err := w.ws.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) || errors.Is(err, net.ErrClosed) {
			return nil, io.EOF
		}
		if errors.Is(err, websocket.ErrReadLimit) {
			return nil, fmt.Errorf("%w: websocket message over limit", protocol.ErrFrameTooLarge)
		}
		return nil, err
	}
	if mt != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: text websocket message", protocol.ErrShortFrame)
	}
	return protocol.Decode(data)
}

func (w *wsConn) WriteFrame(data []byte, deadline time.Time) error {
	if err := w.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("server: set write deadline: %w", err)
	}
	return w.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (w *wsConn) Close() error {
	_ = w.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.ws.Close()
}

func (w *wsConn) RemoteAddr() string {
	return w.ws.RemoteAddr().String()
}

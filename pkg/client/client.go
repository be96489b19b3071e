// Package client implements the roomchat client networking.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/roomchat/pkg/crypto"
	"github.com/NicolasHaas/roomchat/pkg/model"
	"github.com/NicolasHaas/roomchat/pkg/protocol"
)

const helloTimeout = 10 * time.Second

// FrameHandler is a callback for incoming frames.
type FrameHandler func(f *protocol.Frame)

// transport carries whole frames to and from the server.
type transport interface {
	ReadFrame() (*protocol.Frame, error)
	WriteFrame(f *protocol.Frame) error
	SetReadDeadline(t time.Time) error
	Close() error
}

type tcpTransport struct {
	conn net.Conn
	r    *bufio.Reader
}

func (t *tcpTransport) ReadFrame() (*protocol.Frame, error) { return protocol.ReadFrame(t.r) }
func (t *tcpTransport) WriteFrame(f *protocol.Frame) error  { return protocol.WriteFrame(t.conn, f) }
func (t *tcpTransport) SetReadDeadline(d time.Time) error   { return t.conn.SetReadDeadline(d) }
func (t *tcpTransport) Close() error                        { return t.conn.Close() }

type wsTransport struct {
	ws *websocket.Conn
}

func (t *wsTransport) ReadFrame() (*protocol.Frame, error) {
	_, data, err := t.ws.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, io.EOF
		}
		return nil, err
	}
	return protocol.Decode(data)
}

func (t *wsTransport) WriteFrame(f *protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	return t.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (t *wsTransport) SetReadDeadline(d time.Time) error { return t.ws.SetReadDeadline(d) }
func (t *wsTransport) Close() error                      { return t.ws.Close() }

// Client is one connection to a roomchat server.
type Client struct {
	tr      transport
	mu      sync.Mutex // serializes writes
	handler FrameHandler
	cipher  *crypto.TextCipher
	done    chan struct{}

	SessionID uint32
	Username  string
}

// Dial connects to the server's TCP listener.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: connect: %w", err)
	}
	return newClient(&tcpTransport{conn: conn, r: bufio.NewReader(conn)}), nil
}

// DialWebSocket connects to the server's WebSocket gateway, e.g.
// ws://host:6061/ws.
func DialWebSocket(ctx context.Context, url string) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("client: connect websocket: %w", err)
	}
	return newClient(&wsTransport{ws: ws}), nil
}

func newClient(tr transport) *Client {
	return &Client{tr: tr, done: make(chan struct{})}
}

// SetHandler sets the callback for incoming frames. Call before
// StartReceiving.
func (c *Client) SetHandler(h FrameHandler) {
	c.handler = h
}

// SetCipher enables sealing of /secure text and opening of SECURE frames.
func (c *Client) SetCipher(tc *crypto.TextCipher) {
	c.cipher = tc
}

// Send writes one frame.
func (c *Client) Send(f *protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tr.WriteFrame(f)
}

// Hello claims username and waits for the server's answer. It must be called
// before StartReceiving. A refusal comes back as a *model.Error.
func (c *Client) Hello(username string) error {
	if err := c.Send(&protocol.Frame{Kind: protocol.KindHello, Content: []byte(username)}); err != nil {
		return fmt.Errorf("client: send hello: %w", err)
	}

	_ = c.tr.SetReadDeadline(time.Now().Add(helloTimeout))
	defer func() { _ = c.tr.SetReadDeadline(time.Time{}) }()
	for {
		f, err := c.tr.ReadFrame()
		if err != nil {
			return fmt.Errorf("client: read hello response: %w", err)
		}
		switch f.Kind {
		case protocol.KindHello:
			id, err := strconv.ParseUint(f.Target, 10, 32)
			if err != nil {
				return fmt.Errorf("client: bad session id %q: %w", f.Target, err)
			}
			c.SessionID = uint32(id)
			c.Username = username
			slog.Debug("hello accepted", "session", c.SessionID, "welcome", f.Text())
			return nil
		case protocol.KindError:
			return FrameError(f)
		default:
			if c.handler != nil {
				c.handler(f)
			}
		}
	}
}

// SendLine sends one line of user input. With a cipher set, the text of a
// /secure command is sealed before it leaves the client.
func (c *Client) SendLine(line string) error {
	if c.cipher != nil {
		if text, ok := strings.CutPrefix(strings.TrimSpace(line), "/secure "); ok {
			sealed, err := c.cipher.Seal(strings.TrimSpace(text))
			if err != nil {
				return fmt.Errorf("client: seal: %w", err)
			}
			line = "/secure " + sealed
		}
	}
	return c.Send(&protocol.Frame{Kind: protocol.KindCommand, Content: []byte(line)})
}

// Quit tells the server the client is leaving.
func (c *Client) Quit() error {
	return c.Send(&protocol.Frame{Kind: protocol.KindDisconnect})
}

// StartReceiving starts a goroutine that reads incoming frames and
// dispatches them to the handler.
func (c *Client) StartReceiving() {
	go func() {
		defer close(c.done)
		for {
			f, err := c.tr.ReadFrame()
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					slog.Debug("connection closed")
					return
				}
				slog.Error("read error", "err", err)
				return
			}
			if c.handler != nil {
				c.handler(f)
			}
		}
	}()
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.tr.Close()
}

// Done returns a channel that's closed when the connection is lost.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// FrameError converts an ERROR frame into a *model.Error.
func FrameError(f *protocol.Frame) *model.Error {
	return &model.Error{Code: model.ParseCode(f.Target), Msg: f.Text()}
}

// Describe renders a frame as one console line. SECURE frames are opened
// when the client has a cipher.
func (c *Client) Describe(f *protocol.Frame) string {
	text := f.Text()
	switch f.Kind {
	case protocol.KindGroup:
		return fmt.Sprintf("[%s] %s: %s", f.Target, f.Sender, text)
	case protocol.KindMulti:
		return fmt.Sprintf("[%s] %s: %s", f.Target, f.Sender, text)
	case protocol.KindPrivate:
		return fmt.Sprintf("[pm] %s: %s", f.Sender, text)
	case protocol.KindSecure:
		if c.cipher == nil {
			return fmt.Sprintf("[%s] %s (secure, no passphrase)", f.Target, f.Sender)
		}
		plain, err := c.cipher.Open(text)
		if err != nil {
			return fmt.Sprintf("[%s] %s (secure, cannot decrypt)", f.Target, f.Sender)
		}
		return fmt.Sprintf("[%s] %s (secure): %s", f.Target, f.Sender, plain)
	case protocol.KindNotice:
		return fmt.Sprintf("[%s] * %s", f.Target, text)
	case protocol.KindReply, protocol.KindHello:
		return text
	case protocol.KindFile:
		return fmt.Sprintf("file %q offered, transfer id %s", text, f.Target)
	case protocol.KindError:
		return fmt.Sprintf("error %s: %s", f.Target, text)
	case protocol.KindServerDisconnect:
		return "disconnected by server: " + text
	default:
		return fmt.Sprintf("%s %s", f.Kind, text)
	}
}

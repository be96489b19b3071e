package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NicolasHaas/roomchat/pkg/crypto"
	"github.com/NicolasHaas/roomchat/pkg/datastore"
	"github.com/NicolasHaas/roomchat/pkg/model"
	"github.com/NicolasHaas/roomchat/pkg/protocol"
	"github.com/NicolasHaas/roomchat/pkg/server"
)

func startServer(t *testing.T) *server.Server {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Server.MetricsListen = ""
	cfg.Server.MetricsLogInterval = 0
	cfg.Server.ReapInterval = 0
	cfg.Session.RateLimit = 0
	srv := server.New(cfg, server.Dependencies{Store: datastore.NewMemory()})
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return srv
}

// connect dials, says HELLO and collects received frames on a channel.
func connect(t *testing.T, srv *server.Server, name string, tc *crypto.TextCipher) (*Client, <-chan *protocol.Frame) {
	t.Helper()
	c, err := Dial(context.Background(), srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	c.SetCipher(tc)

	frames := make(chan *protocol.Frame, 64)
	c.SetHandler(func(f *protocol.Frame) { frames <- f })
	require.NoError(t, c.Hello(name))
	c.StartReceiving()
	return c, frames
}

func waitFor(t *testing.T, frames <-chan *protocol.Frame, kind protocol.Kind) *protocol.Frame {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f := <-frames:
			if f.Kind == kind {
				return f
			}
		case <-timeout:
			t.Fatalf("no %s frame received", kind)
			return nil
		}
	}
}

func TestHelloAndGroupMessage(t *testing.T) {
	srv := startServer(t)
	alice, _ := connect(t, srv, "alice", nil)
	_, bobFrames := connect(t, srv, "bob", nil)

	require.NotZero(t, alice.SessionID)
	require.Equal(t, "alice", alice.Username)

	require.NoError(t, alice.SendLine("hello bob"))
	f := waitFor(t, bobFrames, protocol.KindGroup)
	require.Equal(t, "[lobby] alice: hello bob", alice.Describe(f))
}

func TestHelloNameTaken(t *testing.T) {
	srv := startServer(t)
	connect(t, srv, "alice", nil)

	c, err := Dial(context.Background(), srv.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	err = c.Hello("alice")
	var ce *model.Error
	require.True(t, errors.As(err, &ce), "Hello error %v", err)
	require.Equal(t, model.CodeNameTaken, ce.Code)

	require.NoError(t, c.Hello("alice2"))
}

func TestSecureTextIsSealed(t *testing.T) {
	srv := startServer(t)
	tc, err := crypto.NewTextCipherFromPassphrase("correct horse")
	require.NoError(t, err)
	other, err := crypto.NewTextCipherFromPassphrase("wrong horse")
	require.NoError(t, err)

	alice, _ := connect(t, srv, "alice", tc)
	bob, bobFrames := connect(t, srv, "bob", tc)
	eve, eveFrames := connect(t, srv, "eve", other)
	plain, plainFrames := connect(t, srv, "mallory", nil)

	require.NoError(t, alice.SendLine("/secure meet at noon"))

	f := waitFor(t, bobFrames, protocol.KindSecure)
	require.NotContains(t, f.Text(), "noon", "server relays ciphertext only")
	require.Equal(t, "[lobby] alice (secure): meet at noon", bob.Describe(f))

	f = waitFor(t, eveFrames, protocol.KindSecure)
	require.Equal(t, "[lobby] alice (secure, cannot decrypt)", eve.Describe(f))

	f = waitFor(t, plainFrames, protocol.KindSecure)
	require.Equal(t, "[lobby] alice (secure, no passphrase)", plain.Describe(f))
}

func TestWebSocketClient(t *testing.T) {
	srv := startServer(t)
	hs := httptest.NewServer(srv.WebSocketHandler())
	defer hs.Close()

	ws, err := DialWebSocket(context.Background(), "ws"+strings.TrimPrefix(hs.URL, "http"))
	require.NoError(t, err)
	defer ws.Close()
	frames := make(chan *protocol.Frame, 16)
	ws.SetHandler(func(f *protocol.Frame) { frames <- f })
	require.NoError(t, ws.Hello("alice"))
	ws.StartReceiving()

	require.NoError(t, ws.SendLine("/create dev"))
	f := waitFor(t, frames, protocol.KindReply)
	require.Equal(t, "created dev", ws.Describe(f))

	require.NoError(t, ws.Quit())
	select {
	case <-ws.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection not closed after quit")
	}
}

func TestDescribe(t *testing.T) {
	c := &Client{}
	tests := []struct {
		f    protocol.Frame
		want string
	}{
		{protocol.Frame{Kind: protocol.KindPrivate, Sender: "bob", Target: "alice", Content: []byte("hi")}, "[pm] bob: hi"},
		{protocol.Frame{Kind: protocol.KindMulti, Sender: "bob", Target: "a,b", Content: []byte("hi")}, "[a,b] bob: hi"},
		{protocol.Frame{Kind: protocol.KindNotice, Target: "lobby", Content: []byte("bob joined")}, "[lobby] * bob joined"},
		{protocol.Frame{Kind: protocol.KindError, Target: "NotFound", Content: []byte(`room "x" not found`)}, `error NotFound: room "x" not found`},
		{protocol.Frame{Kind: protocol.KindServerDisconnect, Content: []byte("idle timeout")}, "disconnected by server: idle timeout"},
		{protocol.Frame{Kind: protocol.KindFile, Target: "id-1", Content: []byte("a.txt")}, `file "a.txt" offered, transfer id id-1`},
	}
	for _, tt := range tests {
		if got := c.Describe(&tt.f); got != tt.want {
			t.Errorf("Describe(%s) = %q, want %q", tt.f.Kind, got, tt.want)
		}
	}

	err := FrameError(&protocol.Frame{Kind: protocol.KindError, Target: "UserNotFound", Content: []byte("user \"x\" not found")})
	if !errors.Is(err, model.ErrUserNotFound) {
		t.Fatalf("FrameError = %v, want UserNotFound", err)
	}
}

func TestBookmarks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.yaml")
	bs := NewBookmarkStore(path)
	require.NoError(t, bs.Load())
	require.Empty(t, bs.Bookmarks)

	require.True(t, bs.Add(Bookmark{Name: "home", Addr: "localhost:6060", Username: "alice", LastUsed: 1}))
	require.True(t, bs.Add(Bookmark{Name: "work", Addr: "ws://chat.example/ws", Username: "alice", LastUsed: 5}))
	require.False(t, bs.Add(Bookmark{Name: "home", Addr: "localhost:6060", Username: "alice", LastUsed: 9}))
	require.NoError(t, bs.Save())

	loaded := NewBookmarkStore(path)
	require.NoError(t, loaded.Load())
	require.Len(t, loaded.Bookmarks, 2)
	require.Equal(t, "home", loaded.Latest().Name)
	require.Equal(t, "ws://chat.example/ws", loaded.Find("work").Addr)
	require.Nil(t, loaded.Find("nowhere"))
}

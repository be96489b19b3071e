package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/NicolasHaas/roomchat/pkg/client"
	"github.com/NicolasHaas/roomchat/pkg/crypto"
	"github.com/NicolasHaas/roomchat/pkg/logging"
	"github.com/NicolasHaas/roomchat/pkg/protocol"
)

func main() {
	_ = godotenv.Load()

	// Default to "warn"; override with ROOMCHAT_LOG_LEVEL env var (debug, info, warn, error).
	level := "warn"
	if v := os.Getenv("ROOMCHAT_LOG_LEVEL"); v != "" {
		level = v
	}
	_ = logging.Setup(logging.Options{Level: level, Format: "text", Output: os.Stderr})

	addr := pflag.StringP("addr", "a", "", "Server address (host:port) or WebSocket URL (ws://host/ws)")
	user := pflag.StringP("user", "u", "", "Username")
	passphrase := pflag.String("passphrase", os.Getenv("ROOMCHAT_PASSPHRASE"), "Shared passphrase for /secure messages")
	bookmarksPath := pflag.String("bookmarks", "", "Bookmarks file (default servers.yaml next to the binary)")
	save := pflag.String("save", "", "Save this connection as a bookmark with the given name")
	pflag.Parse()

	bookmarks := client.NewBookmarkStore(*bookmarksPath)
	if err := bookmarks.Load(); err != nil {
		slog.Warn("load bookmarks", "err", err)
	}
	if *addr == "" || *user == "" {
		b := bookmarks.Latest()
		if *addr != "" {
			b = bookmarks.Find(*addr)
		}
		if b != nil {
			if *addr == "" {
				*addr = b.Addr
			}
			if *user == "" {
				*user = b.Username
			}
		}
	}
	if *addr == "" {
		*addr = "localhost:6060"
	}
	if *user == "" {
		fmt.Fprintln(os.Stderr, "a username is required (--user)")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	c, err := dial(ctx, *addr)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer c.Close()

	if *passphrase != "" {
		tc, err := crypto.NewTextCipherFromPassphrase(*passphrase)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		c.SetCipher(tc)
	}

	out := bufio.NewWriter(os.Stdout)
	c.SetHandler(func(f *protocol.Frame) {
		fmt.Fprintln(out, c.Describe(f))
		_ = out.Flush()
	})
	if err := c.Hello(*user); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	c.StartReceiving()

	if *save != "" {
		bookmarks.Add(client.Bookmark{Name: *save, Addr: *addr, Username: *user})
	}
	if b := bookmarks.Find(*addr); b != nil && b.Username == *user {
		b.LastUsed = time.Now().Unix()
	}
	if len(bookmarks.Bookmarks) > 0 {
		if err := bookmarks.Save(); err != nil {
			slog.Warn("save bookmarks", "err", err)
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-c.Done():
			return
		case line, ok := <-lines:
			if !ok {
				_ = c.Quit()
				<-c.Done()
				return
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := c.SendLine(line); err != nil {
				fmt.Fprintln(os.Stderr, err)
				return
			}
		}
	}
}

func dial(ctx context.Context, addr string) (*client.Client, error) {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return client.DialWebSocket(ctx, addr)
	}
	return client.Dial(ctx, addr)
}

package command

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/roomchat/pkg/model"
)

func TestParse(t *testing.T) {
	tests := []struct {
		line string
		want Command
	}{
		{"hello everyone", Say{Text: "hello everyone"}},
		{"  leading space kept", Say{Text: "  leading space kept"}},
		{"/create ops", Create{Room: "ops"}},
		{"/join ops", Join{Room: "ops"}},
		{"/leave ops\r\n", Leave{Room: "ops"}},
		{"/list", List{}},
		{"/users lobby", Users{Room: "lobby"}},
		{"/msg bob hi there  bob", Msg{User: "bob", Text: "hi there  bob"}},
		{"/multi a,b,,a hello", Multi{Rooms: []string{"a", "b"}, Text: "hello"}},
		{"/secure AAAA==", Secure{Text: "AAAA=="}},
		{"/file report final.pdf", File{Name: "report final.pdf"}},
		{"/quit", Quit{}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := Parse(tt.line)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.line, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.line, diff)
			}
		})
	}
}

func TestParseBadCommand(t *testing.T) {
	tests := []struct {
		line    string
		wantArg string
	}{
		{"", ""},
		{"   ", ""},
		{"/dance", "/dance"},
		{"/", "/"},
		{"/join", "/join"},
		{"/join a b", "/join"},
		{"/create", "/create"},
		{"/leave", "/leave"},
		{"/users", "/users"},
		{"/list now", "/list"},
		{"/quit please", "/quit"},
		{"/msg bob", "/msg"},
		{"/msg", "/msg"},
		{"/multi a,b", "/multi"},
		{"/multi ,, text", "/multi"},
		{"/secure", "/secure"},
		{"/file", "/file"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			_, err := Parse(tt.line)
			if !errors.Is(err, model.ErrBadCommand) {
				t.Fatalf("Parse(%q) error = %v, want BadCommand", tt.line, err)
			}
			var ce *model.Error
			if !errors.As(err, &ce) {
				t.Fatalf("Parse(%q) error is %T, want *model.Error", tt.line, err)
			}
			if ce.Arg != tt.wantArg {
				t.Errorf("Parse(%q) arg = %q, want %q", tt.line, ce.Arg, tt.wantArg)
			}
		})
	}
}

func TestName(t *testing.T) {
	for line, want := range map[string]string{
		"/create x": "create",
		"/list":     "list",
		"plain":     "say",
		"/quit":     "quit",
	} {
		c, err := Parse(line)
		if err != nil {
			t.Fatalf("Parse(%q): %v", line, err)
		}
		if got := Name(c); got != want {
			t.Errorf("Name(%q) = %q, want %q", line, got, want)
		}
	}
}

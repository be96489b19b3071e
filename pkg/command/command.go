// Package command parses one line of client input into a typed command.
package command

import (
	"strings"

	"github.com/NicolasHaas/roomchat/pkg/model"
)

// Command is one parsed line. The concrete types below are the complete set;
// the dispatcher switches over them exhaustively.
type Command interface {
	command()
}

type (
	Create struct{ Room string }
	Join   struct{ Room string }
	Leave  struct{ Room string }
	List   struct{}
	Users  struct{ Room string }
	Msg    struct {
		User string
		Text string
	}
	Multi struct {
		Rooms []string
		Text  string
	}
	Secure struct{ Text string }
	File   struct{ Name string }
	Quit   struct{}
	// Say is a plain line that does not start with '/'.
	Say struct{ Text string }
)

func (Create) command() {}
func (Join) command()   {}
func (Leave) command()  {}
func (List) command()   {}
func (Users) command()  {}
func (Msg) command()    {}
func (Multi) command()  {}
func (Secure) command() {}
func (File) command()   {}
func (Quit) command()   {}
func (Say) command()    {}

// Name returns the verb of c as typed by the user, without the slash.
func Name(c Command) string {
	switch c.(type) {
	case Create:
		return "create"
	case Join:
		return "join"
	case Leave:
		return "leave"
	case List:
		return "list"
	case Users:
		return "users"
	case Msg:
		return "msg"
	case Multi:
		return "multi"
	case Secure:
		return "secure"
	case File:
		return "file"
	case Quit:
		return "quit"
	case Say:
		return "say"
	default:
		return ""
	}
}

// Parse turns a line into a Command. Failures are *model.Error with
// CodeBadCommand and the offending verb or line as argument.
func Parse(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "/") {
		if strings.TrimSpace(line) == "" {
			return nil, model.Errorf(model.CodeBadCommand, "", "empty message")
		}
		return Say{Text: line}, nil
	}

	verb, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "create":
		room, err := oneArg(verb, rest, "<room>")
		return Create{Room: room}, err
	case "join":
		room, err := oneArg(verb, rest, "<room>")
		return Join{Room: room}, err
	case "leave":
		room, err := oneArg(verb, rest, "<room>")
		return Leave{Room: room}, err
	case "users":
		room, err := oneArg(verb, rest, "<room>")
		return Users{Room: room}, err
	case "list":
		if rest != "" {
			return nil, usage(verb, "")
		}
		return List{}, nil
	case "quit":
		if rest != "" {
			return nil, usage(verb, "")
		}
		return Quit{}, nil
	case "msg":
		user, text, ok := argAndText(rest)
		if !ok {
			return nil, usage(verb, "<user> <text>")
		}
		return Msg{User: user, Text: text}, nil
	case "multi":
		list, text, ok := argAndText(rest)
		if !ok {
			return nil, usage(verb, "<room1,room2,...> <text>")
		}
		rooms := splitRooms(list)
		if len(rooms) == 0 {
			return nil, usage(verb, "<room1,room2,...> <text>")
		}
		return Multi{Rooms: rooms, Text: text}, nil
	case "secure":
		if rest == "" {
			return nil, usage(verb, "<text>")
		}
		return Secure{Text: rest}, nil
	case "file":
		if rest == "" {
			return nil, usage(verb, "<filename>")
		}
		return File{Name: rest}, nil
	default:
		return nil, model.Errorf(model.CodeBadCommand, "/"+verb, "unknown command /%s", verb)
	}
}

func oneArg(verb, rest, args string) (string, error) {
	if rest == "" || strings.ContainsAny(rest, " \t") {
		return "", usage(verb, args)
	}
	return rest, nil
}

func argAndText(rest string) (arg, text string, ok bool) {
	arg, text, ok = strings.Cut(rest, " ")
	text = strings.TrimSpace(text)
	if !ok || arg == "" || text == "" {
		return "", "", false
	}
	return arg, text, true
}

// splitRooms splits a comma-separated list, dropping blanks and duplicates
// while keeping first-seen order.
func splitRooms(list string) []string {
	seen := make(map[string]bool)
	var rooms []string
	for _, r := range strings.Split(list, ",") {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		rooms = append(rooms, r)
	}
	return rooms
}

func usage(verb, args string) *model.Error {
	u := "/" + verb
	if args != "" {
		u += " " + args
	}
	return model.Errorf(model.CodeBadCommand, "/"+verb, "usage: %s", u)
}

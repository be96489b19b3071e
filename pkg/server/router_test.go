package server

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/roomchat/pkg/model"
)

func TestResolveRooms(t *testing.T) {
	rm := NewRoomManager(0)
	for _, n := range []string{"a", "b"} {
		if _, err := rm.Create(n); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	rt := NewRouter(NewSessionManager(0, SessionOptions{QueueSize: 1}, nil), rm)

	found, missing := rt.ResolveRooms([]string{"b", "x", "a", "b", "y", "x"})
	if got := roomNames(found); got != "b,a" {
		t.Fatalf("found = %q, want b,a", got)
	}
	if diff := cmp.Diff([]string{"x", "y"}, missing); diff != "" {
		t.Fatalf("missing (-want +got):\n%s", diff)
	}

	err := missingRoomsError(missing)
	if !errors.Is(err, model.ErrNotFound) || err.Arg != "x, y" {
		t.Fatalf("missingRoomsError = %#v", err)
	}
	if one := missingRoomsError([]string{"x"}); one.Msg != `room "x" not found` {
		t.Fatalf("single missing message = %q", one.Msg)
	}
}

func TestUnionMembers(t *testing.T) {
	rm := NewRoomManager(0)
	a, _ := rm.Create("a")
	b, _ := rm.Create("b")
	for _, id := range []uint32{1, 2, 3} {
		_, _ = a.Join(id, "")
	}
	for _, id := range []uint32{3, 4, 1} {
		_, _ = b.Join(id, "")
	}
	if diff := cmp.Diff([]uint32{1, 2, 3, 4}, unionMembers([]*Room{a, b})); diff != "" {
		t.Fatalf("unionMembers (-want +got):\n%s", diff)
	}
}

func TestResolveUser(t *testing.T) {
	sm := NewSessionManager(0, SessionOptions{QueueSize: 1}, nil)
	rt := NewRouter(sm, NewRoomManager(0))
	sess, err := sm.Add(newFakeConn())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	defer sess.Abort(nil)

	if _, err := rt.ResolveUser("alice"); !errors.Is(err, model.ErrUserNotFound) {
		t.Fatalf("ResolveUser before HELLO = %v, want UserNotFound", err)
	}
	if err := sm.Claim(sess.ID, "alice"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	got, err := rt.ResolveUser("alice")
	if err != nil || got != sess {
		t.Fatalf("ResolveUser = %v, %v", got, err)
	}
}

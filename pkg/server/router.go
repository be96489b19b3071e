package server

import (
	"strings"

	"github.com/NicolasHaas/roomchat/pkg/model"
	"github.com/NicolasHaas/roomchat/pkg/protocol"
)

// Router resolves users and room lists into target sessions and fans frames
// out to them.
type Router struct {
	sessions *SessionManager
	rooms    *RoomManager
}

func NewRouter(sessions *SessionManager, rooms *RoomManager) *Router {
	return &Router{sessions: sessions, rooms: rooms}
}

// ResolveUser finds the active session of username.
func (rt *Router) ResolveUser(username string) (*Session, error) {
	sess, ok := rt.sessions.Lookup(username)
	if !ok {
		return nil, model.Errorf(model.CodeUserNotFound, username, "user %q not found", username)
	}
	return sess, nil
}

// ResolveRooms looks up every name. Names that do not resolve are collected
// rather than stopping the lookup; duplicates are dropped.
func (rt *Router) ResolveRooms(names []string) (found []*Room, missing []string) {
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		r, err := rt.rooms.Get(name)
		if err != nil {
			missing = append(missing, name)
			continue
		}
		found = append(found, r)
	}
	return found, missing
}

// Deliver encodes f once and enqueues it to each handle except exclude.
// Delivery is fire-and-forget: a failed recipient does not stop the rest.
func (rt *Router) Deliver(f *protocol.Frame, ids []uint32, exclude uint32) (int, error) {
	return deliver(f, ids, exclude, rt.sessions)
}

// unionMembers merges room memberships, keeping first-seen order.
func unionMembers(rooms []*Room) []uint32 {
	var ids []uint32
	seen := make(map[uint32]bool)
	for _, r := range rooms {
		for _, id := range r.Snapshot() {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func roomNames(rooms []*Room) string {
	names := make([]string, len(rooms))
	for i, r := range rooms {
		names[i] = r.Name()
	}
	return strings.Join(names, ",")
}

func missingRoomsError(missing []string) *model.Error {
	list := strings.Join(missing, ", ")
	if len(missing) == 1 {
		return model.Errorf(model.CodeNotFound, list, "room %q not found", missing[0])
	}
	return model.Errorf(model.CodeNotFound, list, "rooms not found: %s", list)
}

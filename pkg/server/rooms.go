package server

import (
	"slices"
	"sync"
	"time"

	"github.com/NicolasHaas/roomchat/pkg/model"
	"github.com/NicolasHaas/roomchat/pkg/protocol"
)

// Enqueuer delivers an encoded frame to the session with the given handle.
// *SessionManager is the production implementation.
type Enqueuer interface {
	Enqueue(id uint32, data []byte) error
}

type member struct {
	id       uint32
	username string
}

// Room is a named membership set of session handles, kept in join order.
type Room struct {
	name      string
	createdAt time.Time

	mu         sync.RWMutex
	pinned     bool
	topic      string
	members    []member
	closed     bool // removed from the registry; joins fail
	emptySince time.Time
}

func newRoom(name string, now time.Time) *Room {
	return &Room{name: name, createdAt: now, emptySince: now}
}

func (r *Room) Name() string { return r.name }

// Join adds a member. Joining twice is not an error and reports joined=false.
// A room already removed from the registry fails with NotFound.
func (r *Room) Join(id uint32, username string) (joined bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, model.Errorf(model.CodeNotFound, r.name, "room %q not found", r.name)
	}
	if r.indexOf(id) >= 0 {
		return false, nil
	}
	r.members = append(r.members, member{id: id, username: username})
	return true, nil
}

// Leave removes a member, failing with NotMember when id is not in the room.
func (r *Room) Leave(id uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return model.Errorf(model.CodeNotMember, r.name, "not a member of %q", r.name)
	}
	r.members = slices.Delete(r.members, i, i+1)
	if len(r.members) == 0 {
		r.emptySince = time.Now()
	}
	return nil
}

func (r *Room) indexOf(id uint32) int {
	return slices.IndexFunc(r.members, func(m member) bool { return m.id == id })
}

// Has reports whether id is a member.
func (r *Room) Has(id uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.indexOf(id) >= 0
}

// Members returns member usernames in join order.
func (r *Room) Members() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.members))
	for i, m := range r.members {
		names[i] = m.username
	}
	return names
}

// Snapshot returns member handles in join order.
func (r *Room) Snapshot() []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uint32, len(r.members))
	for i, m := range r.members {
		ids[i] = m.id
	}
	return ids
}

func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *Room) Pinned() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pinned
}

func (r *Room) Topic() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.topic
}

// Broadcast encodes f once and enqueues the same bytes to every member of a
// membership snapshot except exclude (0 excludes nobody). No lock is held
// while enqueuing. It returns how many members accepted the frame.
func (r *Room) Broadcast(f *protocol.Frame, exclude uint32, to Enqueuer) (int, error) {
	return deliver(f, r.Snapshot(), exclude, to)
}

func deliver(f *protocol.Frame, ids []uint32, exclude uint32, to Enqueuer) (int, error) {
	data, err := protocol.Encode(f)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if id == exclude {
			continue
		}
		// A failed recipient is torn down on its own; the rest still get it.
		if to.Enqueue(id, data) == nil {
			n++
		}
	}
	return n, nil
}

// RoomInfo is one line of a room listing.
type RoomInfo struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
	Topic   string `json:"topic,omitempty"`
	Pinned  bool   `json:"pinned"`
}

// RoomManager is the registry of rooms by name. Lock order is registry
// before room.
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	order []string // creation order

	grace time.Duration
	now   func() time.Time
}

// NewRoomManager creates an empty registry. Unpinned rooms that stay empty
// longer than grace are removed by Sweep.
func NewRoomManager(grace time.Duration) *RoomManager {
	return &RoomManager{
		rooms: make(map[string]*Room),
		grace: grace,
		now:   time.Now,
	}
}

// Create adds an unpinned room. It fails with AlreadyExists for a taken name
// and BadCommand for an invalid one.
func (rm *RoomManager) Create(name string) (*Room, error) {
	if err := model.ValidateRoomName(name); err != nil {
		return nil, model.Errorf(model.CodeBadCommand, name, "invalid room name %q: %v", name, err)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.rooms[name]; ok {
		return nil, model.Errorf(model.CodeAlreadyExists, name, "room %q already exists", name)
	}
	r := newRoom(name, rm.now())
	rm.rooms[name] = r
	rm.order = append(rm.order, name)
	return r, nil
}

// Pin creates the room if needed and marks it pinned, so it is never removed
// for being empty.
func (rm *RoomManager) Pin(name, topic string) (*Room, error) {
	def := model.Room{Name: name, Topic: topic}
	if err := def.Validate(); err != nil {
		return nil, model.Errorf(model.CodeBadCommand, name, "invalid room %q: %v", name, err)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	r, ok := rm.rooms[name]
	if !ok {
		r = newRoom(name, rm.now())
		rm.rooms[name] = r
		rm.order = append(rm.order, name)
	}
	r.mu.Lock()
	r.pinned = true
	r.topic = topic
	r.mu.Unlock()
	return r, nil
}

// Get looks a room up by name.
func (rm *RoomManager) Get(name string) (*Room, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	r, ok := rm.rooms[name]
	if !ok {
		return nil, model.Errorf(model.CodeNotFound, name, "room %q not found", name)
	}
	return r, nil
}

// Remove deletes a room whatever its state. Members keep their handles but
// the room accepts no further joins.
func (rm *RoomManager) Remove(name string) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	r, ok := rm.rooms[name]
	if !ok {
		return false
	}
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	rm.removeLocked(name)
	return true
}

// RemoveIfEmpty deletes an unpinned room that has no members. It reports
// whether the room was removed.
func (rm *RoomManager) RemoveIfEmpty(name string) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	r, ok := rm.rooms[name]
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pinned || len(r.members) > 0 {
		return false
	}
	r.closed = true
	rm.removeLocked(name)
	return true
}

// Sweep removes unpinned rooms that have been empty for longer than the
// grace period and returns their names.
func (rm *RoomManager) Sweep(now time.Time) []string {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	var removed []string
	for _, name := range slices.Clone(rm.order) {
		r := rm.rooms[name]
		r.mu.Lock()
		if !r.pinned && len(r.members) == 0 && now.Sub(r.emptySince) >= rm.grace {
			r.closed = true
			rm.removeLocked(name)
			removed = append(removed, name)
		}
		r.mu.Unlock()
	}
	return removed
}

func (rm *RoomManager) removeLocked(name string) {
	delete(rm.rooms, name)
	rm.order = slices.DeleteFunc(rm.order, func(n string) bool { return n == name })
}

// List returns every room in creation order.
func (rm *RoomManager) List() []RoomInfo {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	infos := make([]RoomInfo, 0, len(rm.order))
	for _, name := range rm.order {
		r := rm.rooms[name]
		r.mu.RLock()
		infos = append(infos, RoomInfo{Name: name, Members: len(r.members), Topic: r.topic, Pinned: r.pinned})
		r.mu.RUnlock()
	}
	return infos
}

// Count returns the number of rooms.
func (rm *RoomManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.rooms)
}

// Pinned returns the definitions of pinned rooms in creation order.
func (rm *RoomManager) Pinned() []model.Room {
	var rooms []model.Room
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	for _, name := range rm.order {
		r := rm.rooms[name]
		r.mu.RLock()
		if r.pinned {
			rooms = append(rooms, model.Room{Name: name, Topic: r.topic, CreatedAt: r.createdAt})
		}
		r.mu.RUnlock()
	}
	return rooms
}

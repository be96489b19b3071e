package datastore

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasHaas/roomchat/pkg/model"
)

// MemoryStore is an in-memory DataStore. It mirrors the SQLite store's
// validation and ordering and is used by tests and by servers started
// without a database.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	rooms     map[string]*model.Room
	roomOrder []string
	events    []model.Event
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(nil)
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:   now,
		rooms: make(map[string]*model.Room),
	}
}

func (s *MemoryStore) SaveRoom(room *model.Room) error {
	if err := room.Validate(); err != nil {
		return fmt.Errorf("datastore: save room: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.rooms[room.Name]; ok {
		existing.Topic = room.Topic
		room.CreatedAt = existing.CreatedAt
		return nil
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = s.now().Truncate(time.Second)
	}
	stored := *room
	s.rooms[room.Name] = &stored
	s.roomOrder = append(s.roomOrder, room.Name)
	return nil
}

func (s *MemoryStore) DeleteRoom(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[name]; !ok {
		return nil
	}
	delete(s.rooms, name)
	for i, n := range s.roomOrder {
		if n == name {
			s.roomOrder = append(s.roomOrder[:i], s.roomOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) ListRooms() ([]model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rooms []model.Room
	for _, name := range s.roomOrder {
		rooms = append(rooms, *s.rooms[name])
	}
	return rooms, nil
}

func (s *MemoryStore) GetRoom(name string) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[name]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) AppendEvent(e *model.Event) error {
	if e.Kind == "" {
		return fmt.Errorf("datastore: append event: empty kind")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	for _, existing := range s.events {
		if existing.ID == e.ID {
			return fmt.Errorf("datastore: append event: duplicate id %s", e.ID)
		}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().Truncate(time.Second)
	}
	s.events = append(s.events, *e)
	return nil
}

func (s *MemoryStore) ListEvents(filters model.EventFilters) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := defaultEventLimit
	if filters.Limit != nil {
		limit = *filters.Limit
	}
	if limit < 0 {
		limit = len(s.events)
	}

	var events []model.Event
	for i := len(s.events) - 1; i >= 0 && len(events) < limit; i-- {
		e := s.events[i]
		if filters.Kind != nil && e.Kind != *filters.Kind {
			continue
		}
		if filters.Username != nil && e.Username != *filters.Username {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

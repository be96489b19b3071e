package datastore

import (
	"context"
	"fmt"

	"github.com/NicolasHaas/roomchat/pkg/model"
)

type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
	Close() error
}

type DataStoreTx interface {
	DataStore
	Rollback() error
	Commit() error
}

// DataStore is the persistence surface of the chat server: pinned room
// definitions and the event journal. Chat messages are never stored.
type DataStore interface {
	RoomReadProvider
	RoomWriteProvider

	EventReadProvider
	EventWriteProvider
}

var (
	_ DataProviderFactory = (*ProviderFactory)(nil)
	_ DataStore           = (*MemoryStore)(nil)
)

type RoomReadProvider interface {
	// ListRooms returns pinned rooms in the order they were first saved.
	ListRooms() ([]model.Room, error)
	// GetRoom returns (nil, nil) when no room has that name.
	GetRoom(name string) (*model.Room, error)
}

type RoomWriteProvider interface {
	// SaveRoom inserts the room or updates the topic of an existing one.
	SaveRoom(room *model.Room) error
	DeleteRoom(name string) error
}

type EventReadProvider interface {
	// ListEvents returns the newest events first.
	ListEvents(filters model.EventFilters) ([]model.Event, error)
}

type EventWriteProvider interface {
	// AppendEvent assigns ID and CreatedAt when they are unset.
	AppendEvent(event *model.Event) error
}

// ImportRooms saves every room in a single transaction.
func ImportRooms(ctx context.Context, f DataProviderFactory, rooms []model.Room) error {
	tx, err := f.Tx(ctx)
	if err != nil {
		return fmt.Errorf("datastore: import rooms: %w", err)
	}
	for i := range rooms {
		if err := tx.SaveRoom(&rooms[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("datastore: import rooms: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("datastore: import rooms: %w", err)
	}
	return nil
}

const defaultEventLimit = 100

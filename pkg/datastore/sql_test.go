package datastore_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/NicolasHaas/roomchat/pkg/datastore"
	"github.com/NicolasHaas/roomchat/pkg/model"
)

func NewTestSqlConn(t *testing.T) (*datastore.ProviderFactory, error) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	st, err := datastore.NewProviderFactory(dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore_test: failed to open db: %w", err)
	}

	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Logf("closing database: %v", err)
		}
	})

	return st, nil
}

// withStores runs fn against the SQLite store and the in-memory store.
func withStores(t *testing.T, fn func(t *testing.T, st datastore.DataStore)) {
	t.Helper()

	t.Run("sqlite", func(t *testing.T) {
		f, err := NewTestSqlConn(t)
		if err != nil {
			t.Fatalf("failed to open test connection: %v", err)
		}
		fn(t, f.NonTx())
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, datastore.NewMemory())
	})
}

var ignoreTimes = cmpopts.IgnoreFields(model.Room{}, "CreatedAt")

func TestSaveRoom(t *testing.T) {
	t.Parallel()

	type tcase struct {
		room      model.Room
		expectErr bool
	}

	tcases := map[string]tcase{
		"name_only":       {room: model.Room{Name: "ops"}},
		"with_topic":      {room: model.Room{Name: "team.dev", Topic: "builds and releases"}},
		"empty_name":      {room: model.Room{Name: ""}, expectErr: true},
		"comma_in_name":   {room: model.Room{Name: "a,b"}, expectErr: true},
		"injection_name":  {room: model.Room{Name: "'; DROP TABLE rooms; --"}, expectErr: true},
		"multiline_topic": {room: model.Room{Name: "ops", Topic: "a\nb"}, expectErr: true},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			withStores(t, func(t *testing.T, st datastore.DataStore) {
				room := tc.room
				err := st.SaveRoom(&room)
				if tc.expectErr {
					if err == nil {
						t.Fatalf("SaveRoom: expected error, got nil")
					}
					return
				}
				if err != nil {
					t.Fatalf("SaveRoom: unexpected error: %v", err)
				}
				if room.CreatedAt.IsZero() {
					t.Fatalf("SaveRoom: CreatedAt not set")
				}

				got, err := st.GetRoom(tc.room.Name)
				if err != nil {
					t.Fatalf("GetRoom: unexpected error: %v", err)
				}
				if diff := cmp.Diff(&tc.room, got, ignoreTimes); diff != "" {
					t.Errorf("GetRoom mismatch (-want +got):\n%s", diff)
				}
			})
		})
	}
}

func TestRoomsUpsertAndOrder(t *testing.T) {
	withStores(t, func(t *testing.T, st datastore.DataStore) {
		for _, r := range []model.Room{{Name: "zeta"}, {Name: "alpha"}, {Name: "mid", Topic: "old"}} {
			if err := st.SaveRoom(&r); err != nil {
				t.Fatalf("SaveRoom(%s): %v", r.Name, err)
			}
		}
		if err := st.SaveRoom(&model.Room{Name: "mid", Topic: "new"}); err != nil {
			t.Fatalf("SaveRoom upsert: %v", err)
		}

		got, err := st.ListRooms()
		if err != nil {
			t.Fatalf("ListRooms: %v", err)
		}
		want := []model.Room{{Name: "zeta"}, {Name: "alpha"}, {Name: "mid", Topic: "new"}}
		if diff := cmp.Diff(want, got, ignoreTimes); diff != "" {
			t.Errorf("ListRooms mismatch (-want +got):\n%s", diff)
		}

		if err := st.DeleteRoom("alpha"); err != nil {
			t.Fatalf("DeleteRoom: %v", err)
		}
		if err := st.DeleteRoom("never-existed"); err != nil {
			t.Fatalf("DeleteRoom missing: %v", err)
		}
		missing, err := st.GetRoom("alpha")
		if err != nil {
			t.Fatalf("GetRoom: %v", err)
		}
		if missing != nil {
			t.Fatalf("GetRoom after delete = %+v, want nil", missing)
		}
	})
}

func TestEvents(t *testing.T) {
	withStores(t, func(t *testing.T, st datastore.DataStore) {
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		in := []model.Event{
			{Kind: model.EventSessionConnected, SessionID: 7, CreatedAt: base},
			{Kind: model.EventSessionActivated, SessionID: 7, Username: "alice", CreatedAt: base.Add(time.Second)},
			{Kind: model.EventCommandFailed, SessionID: 7, Username: "alice", Detail: "NotFound: roomB", CreatedAt: base.Add(2 * time.Second)},
			{Kind: model.EventSessionActivated, SessionID: 9, Username: "bob", CreatedAt: base.Add(3 * time.Second)},
		}
		for i := range in {
			if err := st.AppendEvent(&in[i]); err != nil {
				t.Fatalf("AppendEvent #%d: %v", i, err)
			}
			if in[i].ID == "" {
				t.Fatalf("AppendEvent #%d: ID not assigned", i)
			}
		}

		all, err := st.ListEvents(model.EventFilters{})
		if err != nil {
			t.Fatalf("ListEvents: %v", err)
		}
		want := []model.Event{in[3], in[2], in[1], in[0]}
		if diff := cmp.Diff(want, all); diff != "" {
			t.Errorf("ListEvents mismatch (-want +got):\n%s", diff)
		}

		kind := model.EventSessionActivated
		activated, err := st.ListEvents(model.EventFilters{Kind: &kind})
		if err != nil {
			t.Fatalf("ListEvents by kind: %v", err)
		}
		if diff := cmp.Diff([]model.Event{in[3], in[1]}, activated); diff != "" {
			t.Errorf("ListEvents by kind mismatch (-want +got):\n%s", diff)
		}

		user, limit := "alice", 1
		latest, err := st.ListEvents(model.EventFilters{Username: &user, Limit: &limit})
		if err != nil {
			t.Fatalf("ListEvents by user: %v", err)
		}
		if diff := cmp.Diff([]model.Event{in[2]}, latest); diff != "" {
			t.Errorf("ListEvents by user mismatch (-want +got):\n%s", diff)
		}

		if err := st.AppendEvent(&model.Event{}); err == nil {
			t.Fatalf("AppendEvent without kind: expected error")
		}
	})
}

func TestImportRoomsTx(t *testing.T) {
	f, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	bad := []model.Room{{Name: "ok"}, {Name: "not ok"}}
	if err := datastore.ImportRooms(context.Background(), f, bad); err == nil {
		t.Fatalf("ImportRooms: expected error for invalid room")
	}
	rooms, err := f.NonTx().ListRooms()
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if len(rooms) != 0 {
		t.Fatalf("ListRooms after rollback = %v, want none", rooms)
	}

	good := []model.Room{{Name: "ops", Topic: "on call"}, {Name: "dev"}}
	if err := datastore.ImportRooms(context.Background(), f, good); err != nil {
		t.Fatalf("ImportRooms: %v", err)
	}
	rooms, err = f.NonTx().ListRooms()
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if diff := cmp.Diff(good, rooms, ignoreTimes); diff != "" {
		t.Errorf("ListRooms mismatch (-want +got):\n%s", diff)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	for i := 0; i < 2; i++ {
		f, err := datastore.NewProviderFactory(dbPath)
		if err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
		if err := f.NonTx().SaveRoom(&model.Room{Name: fmt.Sprintf("r%d", i)}); err != nil {
			t.Fatalf("SaveRoom #%d: %v", i, err)
		}
		if err := f.Close(); err != nil {
			t.Fatalf("Close #%d: %v", i, err)
		}
	}
}

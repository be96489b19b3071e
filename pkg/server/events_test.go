package server

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NicolasHaas/roomchat/pkg/datastore"
	"github.com/NicolasHaas/roomchat/pkg/model"
)

func TestJournalSinkWritesEvents(t *testing.T) {
	st := datastore.NewMemory()
	j := NewJournalSink(st, 16)
	for _, kind := range []model.EventKind{model.EventSessionConnected, model.EventRoomCreated, model.EventSessionDisconnected} {
		j.Emit(model.Event{Kind: kind, SessionID: 7, Username: "alice"})
	}
	j.Close()
	j.Emit(model.Event{Kind: model.EventRoomDeleted}) // ignored after Close

	events, err := st.ListEvents(model.EventFilters{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, model.EventSessionDisconnected, events[0].Kind)
	require.NotEmpty(t, events[0].ID)
	require.Zero(t, j.Dropped.Load())
}

// stuckStore blocks every append until release is closed.
type stuckStore struct {
	release chan struct{}
	*datastore.MemoryStore
}

func (s stuckStore) AppendEvent(e *model.Event) error {
	<-s.release
	return s.MemoryStore.AppendEvent(e)
}

func TestJournalSinkDropsWhenFull(t *testing.T) {
	st := stuckStore{release: make(chan struct{}), MemoryStore: datastore.NewMemory()}
	j := NewJournalSink(st, 1)
	for i := 0; i < 10; i++ {
		j.Emit(model.Event{Kind: model.EventCommandFailed})
	}
	// At most one event is in flight and one buffered.
	require.GreaterOrEqual(t, j.Dropped.Load(), int64(8))
	close(st.release)
	j.Close()

	events, err := st.ListEvents(model.EventFilters{})
	require.NoError(t, err)
	require.Equal(t, 10, len(events)+int(j.Dropped.Load()))
}

func TestLogSinkAndSinks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	st := datastore.NewMemory()
	j := NewJournalSink(st, 4)

	sink := Sinks(LogSink{Logger: logger}, nil, j)
	sink.Emit(model.Event{Kind: model.EventRoomCreated, Username: "alice", Detail: "dev"})
	sink.Emit(model.Event{Kind: model.EventCommandFailed, Username: "alice"})
	j.Close()

	out := buf.String()
	require.Contains(t, out, "kind=room_created")
	require.Contains(t, out, "detail=dev")
	require.False(t, strings.Contains(out, "command_failed"), "debug events are filtered at info level")

	events, err := st.ListEvents(model.EventFilters{})
	require.NoError(t, err)
	require.Len(t, events, 2)
}

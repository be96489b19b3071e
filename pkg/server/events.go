package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/NicolasHaas/roomchat/pkg/datastore"
	"github.com/NicolasHaas/roomchat/pkg/model"
)

// EventSink receives structured server events. Emit must not block.
type EventSink interface {
	Emit(e model.Event)
}

// LogSink writes events to a slog logger.
type LogSink struct {
	Logger *slog.Logger // nil uses slog.Default()
}

func (ls LogSink) Emit(e model.Event) {
	l := ls.Logger
	if l == nil {
		l = slog.Default()
	}
	attrs := []any{"kind", e.Kind, "id", e.ID}
	if e.SessionID != 0 {
		attrs = append(attrs, "session", e.SessionID)
	}
	if e.Username != "" {
		attrs = append(attrs, "user", e.Username)
	}
	if e.Detail != "" {
		attrs = append(attrs, "detail", e.Detail)
	}
	level := slog.LevelInfo
	if e.Kind == model.EventCommandFailed {
		level = slog.LevelDebug
	}
	l.Log(context.Background(), level, "event", attrs...)
}

// JournalSink appends events to the datastore from a background goroutine.
// Events arriving while its buffer is full are dropped and counted.
type JournalSink struct {
	store   datastore.EventWriteProvider
	ch      chan model.Event
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	Dropped atomic.Int64
}

// NewJournalSink starts the writer goroutine. Call Close to flush and stop it.
func NewJournalSink(store datastore.EventWriteProvider, buffer int) *JournalSink {
	if buffer <= 0 {
		buffer = 1
	}
	j := &JournalSink{
		store: store,
		ch:    make(chan model.Event, buffer),
		done:  make(chan struct{}),
	}
	j.wg.Add(1)
	go j.run()
	return j
}

func (j *JournalSink) Emit(e model.Event) {
	select {
	case <-j.done:
		return
	default:
	}
	select {
	case j.ch <- e:
	default:
		j.Dropped.Add(1)
	}
}

func (j *JournalSink) run() {
	defer j.wg.Done()
	for {
		select {
		case e := <-j.ch:
			j.append(e)
		case <-j.done:
			for {
				select {
				case e := <-j.ch:
					j.append(e)
				default:
					return
				}
			}
		}
	}
}

func (j *JournalSink) append(e model.Event) {
	if err := j.store.AppendEvent(&e); err != nil {
		slog.Warn("journal append failed", "kind", e.Kind, "err", err)
	}
}

// Close stops accepting events and waits until the buffered ones are written.
func (j *JournalSink) Close() {
	j.once.Do(func() { close(j.done) })
	j.wg.Wait()
}

type multiSink []EventSink

func (m multiSink) Emit(e model.Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Sinks fans events out to every non-nil sink.
func Sinks(sinks ...EventSink) EventSink {
	var m multiSink
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

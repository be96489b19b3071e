package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/roomchat/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type baseProvider struct {
	DB
}

type nonTxProvider struct {
	baseProvider
}

type txProvider struct {
	baseProvider
	tx *sql.Tx
}

func (c *txProvider) Rollback() error {
	return c.tx.Rollback()
}

func (c *txProvider) Commit() error {
	return c.tx.Commit()
}

// ProviderFactory hands out sqlite-backed stores, with or without a transaction.
type ProviderFactory struct {
	DB *sql.DB
}

func (sf *ProviderFactory) NonTx() DataStore {
	return &nonTxProvider{
		baseProvider: baseProvider{
			DB: sf.DB,
		},
	}
}

func (sf *ProviderFactory) Tx(ctx context.Context) (DataStoreTx, error) {
	tx, err := sf.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &txProvider{
		baseProvider: baseProvider{
			DB: tx,
		},
		tx: tx,
	}, nil
}

// NewProviderFactory opens (or creates) a SQLite database and runs migrations.
func NewProviderFactory(dbPath string) (*ProviderFactory, error) {
	DB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	if _, err := DB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	// journal writes come from a background goroutine while rooms are read
	if _, err := DB.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &ProviderFactory{DB: DB}
	if err := s.migrate(); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *ProviderFactory) Close() error {
	return s.DB.Close()
}

func (s *ProviderFactory) migrate() error {
	const rooms = `
	CREATE TABLE IF NOT EXISTS rooms (
		name       TEXT NOT NULL PRIMARY KEY CHECK(length(name) > 0 AND length(name) <= 64),
		topic      TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`
	const events = `
	CREATE TABLE IF NOT EXISTS events (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		id         TEXT    NOT NULL UNIQUE,
		kind       TEXT    NOT NULL,
		session_id INTEGER NOT NULL DEFAULT 0,
		username   TEXT    NOT NULL DEFAULT '',
		detail     TEXT    NOT NULL DEFAULT '',
		created_at TEXT    NOT NULL DEFAULT (datetime('now'))
	)`

	ctx := context.Background()
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{
			version:    1,
			statements: []string{rooms, events},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS events_kind ON events (kind)",
				"CREATE INDEX IF NOT EXISTS events_username ON events (username)",
			},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("datastore: migrate v%d: %w", m.version, err)
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *ProviderFactory) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *ProviderFactory) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *ProviderFactory) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// ---- Rooms ----

func (s *baseProvider) SaveRoom(room *model.Room) error {
	if err := room.Validate(); err != nil {
		return fmt.Errorf("datastore: save room: %w", err)
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	_, err := s.ExecContext(context.Background(),
		`INSERT INTO rooms (name, topic, created_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET topic = excluded.topic`,
		room.Name, room.Topic, formatDBTime(room.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("datastore: save room: %w", err)
	}
	return nil
}

func (s *baseProvider) DeleteRoom(name string) error {
	_, err := s.ExecContext(context.Background(), "DELETE FROM rooms WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("datastore: delete room: %w", err)
	}
	return nil
}

func (s *baseProvider) ListRooms() ([]model.Room, error) {
	rows, err := s.QueryContext(context.Background(), "SELECT name, topic, created_at FROM rooms ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("datastore: list rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rooms []model.Room
	for rows.Next() {
		var r model.Room
		var createdAt string
		if err := rows.Scan(&r.Name, &r.Topic, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan room: %w", err)
		}
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan room: %w", err)
		}
		r.CreatedAt = parsed
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

func (s *baseProvider) GetRoom(name string) (*model.Room, error) {
	r := &model.Room{}
	var createdAt string
	err := s.QueryRowContext(context.Background(), "SELECT name, topic, created_at FROM rooms WHERE name = ?", name).
		Scan(&r.Name, &r.Topic, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get room: %w", err)
	}
	parsed, err := parseDBTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("datastore: get room: %w", err)
	}
	r.CreatedAt = parsed
	return r, nil
}

// ---- Events ----

func (s *baseProvider) AppendEvent(e *model.Event) error {
	if e.Kind == "" {
		return fmt.Errorf("datastore: append event: empty kind")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	_, err := s.ExecContext(context.Background(),
		"INSERT INTO events (id, kind, session_id, username, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		e.ID, string(e.Kind), int64(e.SessionID), e.Username, e.Detail, formatDBTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("datastore: append event: %w", err)
	}
	return nil
}

func (s *baseProvider) ListEvents(filters model.EventFilters) ([]model.Event, error) {
	query := `
		SELECT id, kind, session_id, username, detail, created_at
		FROM events
		WHERE (? IS NULL OR kind = ?)
		AND (? IS NULL OR username = ?)
		ORDER BY seq DESC
		LIMIT ?
	`
	var kind, username any
	if filters.Kind != nil {
		kind = string(*filters.Kind)
	}
	if filters.Username != nil {
		username = *filters.Username
	}
	limit := defaultEventLimit
	if filters.Limit != nil {
		limit = *filters.Limit
	}

	rows, err := s.QueryContext(context.Background(), query, kind, kind, username, username, limit)
	if err != nil {
		return nil, fmt.Errorf("datastore: list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		var kindStr, createdAt string
		var sessionID int64
		if err := rows.Scan(&e.ID, &kindStr, &sessionID, &e.Username, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan event: %w", err)
		}
		e.Kind = model.EventKind(kindStr)
		e.SessionID = uint32(sessionID) //nolint:gosec // stored from a uint32
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan event: %w", err)
		}
		e.CreatedAt = parsed
		events = append(events, e)
	}
	return events, rows.Err()
}

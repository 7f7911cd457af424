package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nostrmart/core/pkg/event"
)

// SQLiteStore is the single-node durable backend. Used for local
// deployments and integration tests that need real SQL semantics without
// a Postgres instance.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc.org/sqlite connections do not tolerate concurrent writers.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("sqlite store migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS nostr_events (
		id          TEXT PRIMARY KEY,
		pubkey      TEXT NOT NULL,
		kind        INTEGER NOT NULL,
		created_at  INTEGER NOT NULL,
		tags        TEXT NOT NULL,
		content     TEXT NOT NULL,
		sig         TEXT NOT NULL,
		received_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS nostr_events_order_idx
		ON nostr_events (created_at DESC, id ASC);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// InsertIfAbsent relies on INSERT OR IGNORE against the id primary key.
func (s *SQLiteStore) InsertIfAbsent(ctx context.Context, ev event.Event) (bool, error) {
	tagsJSON, err := json.Marshal(ev.Tags)
	if err != nil {
		return false, fmt.Errorf("marshal tags: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO nostr_events (id, pubkey, kind, created_at, tags, content, sig, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.PubKey, ev.Kind, ev.CreatedAt, string(tagsJSON), ev.Content, ev.Sig,
		ev.ReceivedAt.UTC().UnixNano(),
	)
	if err != nil {
		return false, Unavailable("insert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, Unavailable("insert", err)
	}
	return n == 1, nil
}

// SelectPage mirrors the Postgres backend's ordering and cursor predicate.
func (s *SQLiteStore) SelectPage(ctx context.Context, f Filter, after *Position, limit int) ([]event.Event, error) {
	var (
		conds []string
		args  []interface{}
	)
	if f.PubKey != "" {
		conds = append(conds, "pubkey = ?")
		args = append(args, f.PubKey)
	}
	if f.Kind != nil {
		conds = append(conds, "kind = ?")
		args = append(args, *f.Kind)
	}
	if f.Since != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, *f.Since)
	}
	if f.Until != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, *f.Until)
	}
	// received_at is stored as unix nanoseconds so the snapshot predicate
	// compares numerically; formatted timestamps do not sort reliably once
	// fractional seconds differ in width.
	if !f.ReceivedBefore.IsZero() {
		conds = append(conds, "received_at <= ?")
		args = append(args, f.ReceivedBefore.UnixNano())
	}
	if after != nil {
		conds = append(conds, "(created_at < ? OR (created_at = ? AND id > ?))")
		args = append(args, after.CreatedAt, after.CreatedAt, after.ID)
	}

	query := "SELECT id, pubkey, kind, created_at, tags, content, sig, received_at FROM nostr_events"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Unavailable("select", err)
	}
	defer func() { _ = rows.Close() }()

	var events []event.Event
	for rows.Next() {
		ev, err := scanSQLiteRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable("select", err)
	}
	return events, nil
}

// GetByID fetches a single event.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*event.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, pubkey, kind, created_at, tags, content, sig, received_at
		 FROM nostr_events WHERE id = ?`, id)
	ev, err := scanSQLiteRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Unavailable("get", err)
	}
	return ev, nil
}

func scanSQLiteRow(r rowScanner) (*event.Event, error) {
	var (
		ev         event.Event
		tagsJSON   string
		receivedAt int64
	)
	if err := r.Scan(&ev.ID, &ev.PubKey, &ev.Kind, &ev.CreatedAt, &tagsJSON, &ev.Content, &ev.Sig, &receivedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &ev.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	ev.ReceivedAt = time.Unix(0, receivedAt).UTC()
	return &ev, nil
}

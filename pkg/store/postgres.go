package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/nostrmart/core/pkg/event"
)

// PostgresStore persists events in PostgreSQL. The primary key on id is
// the de-duplication arbiter; INSERT ... ON CONFLICT DO NOTHING turns a
// concurrent duplicate into inserted=false without an error.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps db and ensures the schema exists.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("postgres store migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS nostr_events (
		id          TEXT PRIMARY KEY,
		pubkey      TEXT NOT NULL,
		kind        INTEGER NOT NULL,
		created_at  BIGINT NOT NULL,
		tags        JSONB NOT NULL,
		content     TEXT NOT NULL,
		sig         TEXT NOT NULL,
		received_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS nostr_events_order_idx
		ON nostr_events (created_at DESC, id ASC);
	CREATE INDEX IF NOT EXISTS nostr_events_pubkey_idx
		ON nostr_events (pubkey);
	CREATE INDEX IF NOT EXISTS nostr_events_kind_idx
		ON nostr_events (kind);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// InsertIfAbsent writes ev unless the id already exists.
func (s *PostgresStore) InsertIfAbsent(ctx context.Context, ev event.Event) (bool, error) {
	tagsJSON, err := json.Marshal(ev.Tags)
	if err != nil {
		return false, fmt.Errorf("marshal tags: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO nostr_events (id, pubkey, kind, created_at, tags, content, sig, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.PubKey, ev.Kind, ev.CreatedAt, tagsJSON, ev.Content, ev.Sig, ev.ReceivedAt,
	)
	if err != nil {
		return false, mapPQError("insert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapPQError("insert", err)
	}
	return n == 1, nil
}

// SelectPage returns up to limit rows after the cursor position, ordered
// by created_at DESC, id ASC.
func (s *PostgresStore) SelectPage(ctx context.Context, f Filter, after *Position, limit int) ([]event.Event, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.PubKey != "" {
		conds = append(conds, "pubkey = "+arg(f.PubKey))
	}
	if f.Kind != nil {
		conds = append(conds, "kind = "+arg(*f.Kind))
	}
	if f.Since != nil {
		conds = append(conds, "created_at >= "+arg(*f.Since))
	}
	if f.Until != nil {
		conds = append(conds, "created_at <= "+arg(*f.Until))
	}
	if !f.ReceivedBefore.IsZero() {
		conds = append(conds, "received_at <= "+arg(f.ReceivedBefore))
	}
	if after != nil {
		ts := arg(after.CreatedAt)
		id := arg(after.ID)
		conds = append(conds, fmt.Sprintf("(created_at < %s OR (created_at = %s AND id > %s))", ts, ts, id))
	}

	query := "SELECT id, pubkey, kind, created_at, tags, content, sig, received_at FROM nostr_events"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC LIMIT " + arg(limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Unavailable("select", err)
	}
	defer func() { _ = rows.Close() }()

	var events []event.Event
	for rows.Next() {
		ev, err := scanEventRow(rows)
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
func (s *PostgresStore) GetByID(ctx context.Context, id string) (*event.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, pubkey, kind, created_at, tags, content, sig, received_at
		 FROM nostr_events WHERE id = $1`, id)
	ev, err := scanEventRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		if _, ok := err.(*UnavailableError); ok {
			return nil, err
		}
		return nil, Unavailable("get", err)
	}
	return ev, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEventRow(r rowScanner) (*event.Event, error) {
	var (
		ev       event.Event
		tagsJSON []byte
	)
	if err := r.Scan(&ev.ID, &ev.PubKey, &ev.Kind, &ev.CreatedAt, &tagsJSON, &ev.Content, &ev.Sig, &ev.ReceivedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tagsJSON, &ev.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return &ev, nil
}

// mapPQError surfaces connection-class and resource-class failures as
// transient. A constraint violation is a programming error, not an
// availability problem, and passes through wrapped.
func mapPQError(op string, err error) error {
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			return Unavailable(op, err)
		}
		return fmt.Errorf("postgres %s: %w", op, err)
	}
	// Driver-level failures (closed connection, timeout) arrive untyped.
	return Unavailable(op, err)
}

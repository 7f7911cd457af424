// Package store defines the durable event storage contract and its
// backends. The id uniqueness constraint lives here and is the sole
// arbiter of de-duplication; the coordinator never pre-checks and relies
// on InsertIfAbsent conflict signaling instead.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/nostrmart/core/pkg/event"
)

// Filter selects events by equality and range predicates. Zero values
// mean "no constraint". ReceivedBefore pins pagination to the snapshot
// taken when a cursor was first issued, so rows inserted mid-scan never
// surface in an in-progress pagination sequence.
type Filter struct {
	PubKey         string
	Kind           *int
	Since          *int64 // created_at >= Since
	Until          *int64 // created_at <= Until
	ReceivedBefore time.Time
}

// Position is a point in the (created_at DESC, id ASC) total order.
// SelectPage returns rows strictly after it.
type Position struct {
	CreatedAt int64
	ID        string
}

// EventStore is the contract every backend must honor.
//
// InsertIfAbsent is atomic with respect to the id uniqueness constraint:
// concurrent calls with the same id produce exactly one inserted=true.
// SelectPage orders rows by created_at DESC, id ASC. Backends surface
// transient infrastructure failures as *UnavailableError and never retry
// writes internally.
type EventStore interface {
	InsertIfAbsent(ctx context.Context, ev event.Event) (inserted bool, err error)
	SelectPage(ctx context.Context, f Filter, after *Position, limit int) ([]event.Event, error)
	GetByID(ctx context.Context, id string) (*event.Event, error)
}

// ErrNotFound is returned by GetByID when no row matches.
var ErrNotFound = fmt.Errorf("event not found")

// UnavailableError marks a transient storage failure (timeout, 5xx,
// connection refused). Callers may retry the whole operation; Submit is
// idempotent by id so a caller-level retry is safe.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Unavailable wraps err as an UnavailableError for the named operation.
func Unavailable(op string, err error) *UnavailableError {
	return &UnavailableError{Op: op, Err: err}
}

// after reports whether (createdAt, id) sorts strictly after pos in the
// (created_at DESC, id ASC) order.
func (p Position) after(createdAt int64, id string) bool {
	if createdAt != p.CreatedAt {
		return createdAt < p.CreatedAt
	}
	return id > p.ID
}

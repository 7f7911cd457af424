// Package ingest orchestrates the admit-or-reject decision for submitted
// events and serves paginated reads. It is the only component with side
// effects: validation is delegated to the admission policy, durability to
// the storage adapter. De-duplication leans entirely on the storage
// layer's id uniqueness constraint, so the coordinator stays correct when
// deployed as many stateless instances with no shared memory.
package ingest

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nostrmart/core/pkg/admission"
	"github.com/nostrmart/core/pkg/audit"
	"github.com/nostrmart/core/pkg/event"
	"github.com/nostrmart/core/pkg/ratelimit"
	"github.com/nostrmart/core/pkg/store"
)

// SubmitStatus is the successful terminal state of a submission.
type SubmitStatus string

const (
	StatusAdmitted  SubmitStatus = "admitted"
	StatusDuplicate SubmitStatus = "duplicate"
)

// SubmitResult is returned for every non-error submission. A duplicate is
// a success: resubmitting an already-admitted event is idempotent, never
// an error.
type SubmitResult struct {
	Status SubmitStatus `json:"status"`
	Event  *event.Event `json:"event"`
}

// Query selects a page of events. Zero-value fields are unconstrained.
type Query struct {
	PubKey string
	Kind   *int
	Since  *int64
	Until  *int64
	Limit  int
	Cursor string
}

// Page is an ordered slice of events plus the token for the next page.
// NextCursor is empty when the sequence is exhausted.
type Page struct {
	Events     []event.Event `json:"events"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// DefaultMaxPageSize clamps query limits when no override is configured.
const DefaultMaxPageSize = 100

// Coordinator wires policy, rate limiting, audit, and storage into the
// submit and query operations.
type Coordinator struct {
	store       store.EventStore
	policy      *admission.Policy
	limiter     ratelimit.Store
	ratePolicy  ratelimit.Policy
	auditor     audit.Logger
	tracer      trace.Tracer
	maxPageSize int
	now         func() time.Time
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithRateLimiter enables per-author backpressure.
func WithRateLimiter(s ratelimit.Store, p ratelimit.Policy) CoordinatorOption {
	return func(c *Coordinator) {
		c.limiter = s
		c.ratePolicy = p
	}
}

// WithAuditLogger replaces the default stdout audit stream.
func WithAuditLogger(l audit.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.auditor = l }
}

// WithMaxPageSize sets the query limit clamp.
func WithMaxPageSize(n int) CoordinatorOption {
	return func(c *Coordinator) { c.maxPageSize = n }
}

// WithCoordinatorClock injects the time source. Tests only.
func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator builds a Coordinator over the given store and policy.
func NewCoordinator(s store.EventStore, p *admission.Policy, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:       s,
		policy:      p,
		auditor:     audit.Nop{},
		tracer:      otel.Tracer("nostrmart.ingest"),
		maxPageSize: DefaultMaxPageSize,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitRaw decodes an untrusted JSON payload and submits it.
func (c *Coordinator) SubmitRaw(ctx context.Context, raw []byte) (SubmitResult, error) {
	ev, err := event.Decode(raw)
	if err != nil {
		c.recordRejection(ctx, nil, err)
		return SubmitResult{}, err
	}
	return c.Submit(ctx, ev)
}

// Submit validates ev and, if admissible, performs the conditional insert
// keyed by id. Lifecycle: Received -> Validating -> Rejected | Admitted |
// Duplicate; all terminal. Validation failures never touch storage.
// Once storage has been called, a caller that gave up may still own a
// durably admitted event; resubmission reconciles via id idempotency.
func (c *Coordinator) Submit(ctx context.Context, ev *event.Event) (SubmitResult, error) {
	ctx, span := c.tracer.Start(ctx, "ingest.Submit")
	defer span.End()

	if err := c.allow(ctx, ev); err != nil {
		span.SetAttributes(attribute.String("ingest.outcome", "rejected"))
		c.recordRejection(ctx, ev, err)
		return SubmitResult{}, err
	}

	if err := c.policy.Check(ev); err != nil {
		span.SetAttributes(attribute.String("ingest.outcome", "rejected"))
		c.recordRejection(ctx, ev, err)
		return SubmitResult{}, err
	}

	// Admission time is server-assigned, never author-supplied.
	ev.ReceivedAt = c.now().UTC()

	inserted, err := c.store.InsertIfAbsent(ctx, *ev)
	if err != nil {
		span.RecordError(err)
		return SubmitResult{}, err
	}

	if !inserted {
		// A concurrent or earlier submission won the insert. Not an error.
		span.SetAttributes(attribute.String("ingest.outcome", "duplicate"))
		_ = c.auditor.Record(ctx, audit.OutcomeDuplicate, ev.ID, ev.PubKey, "", nil)
		return SubmitResult{Status: StatusDuplicate, Event: c.storedDuplicate(ctx, ev)}, nil
	}

	span.SetAttributes(
		attribute.String("ingest.outcome", "admitted"),
		attribute.Int("event.kind", ev.Kind),
	)
	_ = c.auditor.Record(ctx, audit.OutcomeAdmitted, ev.ID, ev.PubKey, "", map[string]string{
		"kind": strconv.Itoa(ev.Kind),
	})
	return SubmitResult{Status: StatusAdmitted, Event: ev}, nil
}

// QueryEvents returns one page ordered by (created_at DESC, id ASC).
// Pagination is stable under concurrent inserts: the first page pins a
// received_at snapshot that every later page of the same cursor reuses,
// so mid-scan inserts neither appear nor cause skips.
func (c *Coordinator) QueryEvents(ctx context.Context, q Query) (Page, error) {
	ctx, span := c.tracer.Start(ctx, "ingest.Query")
	defer span.End()

	limit := q.Limit
	if limit <= 0 || limit > c.maxPageSize {
		limit = c.maxPageSize
	}

	var (
		after    *store.Position
		snapshot time.Time
	)
	if q.Cursor != "" {
		cur, err := decodeCursor(q.Cursor)
		if err != nil {
			return Page{}, err
		}
		after = cur.position()
		snapshot = cur.snapshotTime()
	} else {
		snapshot = c.now()
	}

	filter := store.Filter{
		PubKey:         q.PubKey,
		Kind:           q.Kind,
		Since:          q.Since,
		Until:          q.Until,
		ReceivedBefore: snapshot,
	}
	events, err := c.store.SelectPage(ctx, filter, after, limit)
	if err != nil {
		span.RecordError(err)
		return Page{}, err
	}

	page := Page{Events: events}
	if len(events) == limit {
		last := events[len(events)-1]
		page.NextCursor = encodeCursor(cursor{
			Snapshot: snapshot.UnixNano(),
			Created:  last.CreatedAt,
			ID:       last.ID,
		})
	}
	span.SetAttributes(attribute.Int("ingest.page_size", len(events)))
	_ = c.auditor.Record(ctx, audit.OutcomeQueried, "", q.PubKey, "", map[string]string{
		"returned": strconv.Itoa(len(events)),
	})
	return page, nil
}

// storedDuplicate resolves a duplicate submission to the stored row: its
// received_at is the admission time that was durably recorded, not this
// attempt's stamp. If the read-back fails, the resubmitted copy is
// returned with no admission time rather than one that was never stored.
func (c *Coordinator) storedDuplicate(ctx context.Context, ev *event.Event) *event.Event {
	stored, err := c.store.GetByID(ctx, ev.ID)
	if err != nil {
		dup := *ev
		dup.ReceivedAt = time.Time{}
		return &dup
	}
	return stored
}

// GetEvent fetches a single admitted event by id.
func (c *Coordinator) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	return c.store.GetByID(ctx, id)
}

// allow consults the rate limiter using the author key. It runs before
// the expensive cryptographic checks; a flood of well-formed events from
// one author should not cost a signature verification each.
func (c *Coordinator) allow(ctx context.Context, ev *event.Event) error {
	if c.limiter == nil {
		return nil
	}
	if err := ev.ValidateShape(); err != nil {
		return err
	}
	allowed, err := c.limiter.Allow(ctx, ev.PubKey, c.ratePolicy, 1)
	if err != nil {
		// Fail open on limiter backend errors; backpressure is advisory
		// and must not take down ingest.
		return nil
	}
	if !allowed {
		return event.RateLimited(ev.PubKey, int64(c.ratePolicy.EventsPerMinute))
	}
	return nil
}

func (c *Coordinator) recordRejection(ctx context.Context, ev *event.Event, cause error) {
	eventID, pubkey := "", ""
	if ev != nil {
		eventID, pubkey = ev.ID, ev.PubKey
	}
	_ = c.auditor.Record(ctx, audit.OutcomeRejected, eventID, pubkey, cause.Error(), nil)
}

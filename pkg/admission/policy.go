// Package admission is the stateless gatekeeper in front of storage.
// The rule chain runs in a fixed order — structure, id, signature, size,
// timestamp, kind rules — so malformed input is refused before any
// cryptographic work is spent on it. No rule mutates state; Check is a
// pure predicate over the candidate event.
package admission

import (
	"time"

	"github.com/nostrmart/core/pkg/crypto"
	"github.com/nostrmart/core/pkg/event"
)

// Default bounds, overridable from configuration.
const (
	DefaultMaxPayloadBytes = 65536
	DefaultMaxFutureSkew   = 15 * time.Minute
)

// Policy holds the tunable bounds and the kind-rule registry. Values are
// read-only after construction; a Policy is safe for concurrent use.
type Policy struct {
	verifier        crypto.Verifier
	maxPayloadBytes int64
	maxFutureSkew   time.Duration
	kinds           *Registry
	now             func() time.Time
}

// Option customizes a Policy.
type Option func(*Policy)

// WithMaxPayloadBytes sets the serialized-size bound (content plus tags).
func WithMaxPayloadBytes(n int64) Option {
	return func(p *Policy) { p.maxPayloadBytes = n }
}

// WithMaxFutureSkew sets the tolerated clock skew for created_at.
// Old timestamps are always accepted; historical backfill is legitimate.
func WithMaxFutureSkew(d time.Duration) Option {
	return func(p *Policy) { p.maxFutureSkew = d }
}

// WithKindRegistry replaces the default marketplace rule registry.
func WithKindRegistry(r *Registry) Option {
	return func(p *Policy) { p.kinds = r }
}

// WithClock injects the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) { p.now = now }
}

// NewPolicy builds a Policy around the given signature verifier.
func NewPolicy(verifier crypto.Verifier, opts ...Option) *Policy {
	p := &Policy{
		verifier:        verifier,
		maxPayloadBytes: DefaultMaxPayloadBytes,
		maxFutureSkew:   DefaultMaxFutureSkew,
		kinds:           DefaultRegistry(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxPayloadBytes reports the configured size bound.
func (p *Policy) MaxPayloadBytes() int64 { return p.maxPayloadBytes }

// Check applies the rule chain and returns the first violation, or nil
// when the event is admissible.
func (p *Policy) Check(ev *event.Event) error {
	if err := ev.ValidateShape(); err != nil {
		return err
	}

	computed, err := ev.DeriveID()
	if err != nil {
		return err
	}
	if computed != ev.ID {
		return event.IDMismatch(ev.ID, computed)
	}

	if err := p.verifier.Verify(ev.ID, ev.PubKey, ev.Sig); err != nil {
		return err
	}

	if size := ev.PayloadSize(); size > p.maxPayloadBytes {
		return event.PayloadTooLarge(size, p.maxPayloadBytes)
	}

	horizon := p.now().Add(p.maxFutureSkew).Unix()
	if ev.CreatedAt > horizon {
		return event.TimestampOutOfRange(ev.CreatedAt, int64(p.maxFutureSkew.Seconds()))
	}

	return p.kinds.Check(ev)
}

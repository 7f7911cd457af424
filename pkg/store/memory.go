package store

import (
	"context"
	"sort"
	"sync"

	"github.com/nostrmart/core/pkg/event"
)

// MemoryStore is an in-process EventStore for tests and single-instance
// development. It honors the same uniqueness and ordering contract as the
// durable backends.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]event.Event
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]event.Event)}
}

// InsertIfAbsent stores ev unless its id already exists.
func (s *MemoryStore) InsertIfAbsent(ctx context.Context, ev event.Event) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, Unavailable("insert", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[ev.ID]; exists {
		return false, nil
	}
	s.events[ev.ID] = ev
	return true, nil
}

// SelectPage scans and sorts; fine for the data volumes tests use.
func (s *MemoryStore) SelectPage(ctx context.Context, f Filter, after *Position, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable("select", err)
	}
	s.mu.RLock()
	matched := make([]event.Event, 0, len(s.events))
	for _, ev := range s.events {
		if matches(f, ev) {
			matched = append(matched, ev)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt != matched[j].CreatedAt {
			return matched[i].CreatedAt > matched[j].CreatedAt
		}
		return matched[i].ID < matched[j].ID
	})

	page := make([]event.Event, 0, limit)
	for _, ev := range matched {
		if after != nil && !after.after(ev.CreatedAt, ev.ID) {
			continue
		}
		page = append(page, ev)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

// GetByID returns the stored event or ErrNotFound.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable("get", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &ev, nil
}

// Len reports the number of stored rows. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func matches(f Filter, ev event.Event) bool {
	if f.PubKey != "" && ev.PubKey != f.PubKey {
		return false
	}
	if f.Kind != nil && ev.Kind != *f.Kind {
		return false
	}
	if f.Since != nil && ev.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && ev.CreatedAt > *f.Until {
		return false
	}
	if !f.ReceivedBefore.IsZero() && ev.ReceivedAt.After(f.ReceivedBefore) {
		return false
	}
	return true
}

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/nostrmart/core/pkg/event"
)

// PostgRESTStore talks to the hosted REST datastore (PostgREST / Supabase)
// the reference deployment uses. Reads are idempotent and retried with
// bounded exponential backoff; writes are never retried here — the id
// uniqueness constraint makes a caller-level retry of the whole submit
// safe instead.
type PostgRESTStore struct {
	baseURL    string
	apiKey     string
	table      string
	client     *http.Client
	maxRetries uint
}

// PostgRESTOption customizes the adapter.
type PostgRESTOption func(*PostgRESTStore)

// WithHTTPClient overrides the default client (10s timeout).
func WithHTTPClient(c *http.Client) PostgRESTOption {
	return func(s *PostgRESTStore) { s.client = c }
}

// WithGetRetries bounds the retry count for idempotent GETs.
func WithGetRetries(n uint) PostgRESTOption {
	return func(s *PostgRESTStore) { s.maxRetries = n }
}

// NewPostgRESTStore points the adapter at baseURL (the ".../rest/v1" root).
func NewPostgRESTStore(baseURL, apiKey string, opts ...PostgRESTOption) *PostgRESTStore {
	s := &PostgRESTStore{
		baseURL:    baseURL,
		apiKey:     apiKey,
		table:      "nostr_events",
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type restRow struct {
	ID         string     `json:"id"`
	PubKey     string     `json:"pubkey"`
	Kind       int        `json:"kind"`
	CreatedAt  int64      `json:"created_at"`
	Tags       [][]string `json:"tags"`
	Content    string     `json:"content"`
	Sig        string     `json:"sig"`
	ReceivedAt time.Time  `json:"received_at"`
}

func toRestRow(ev event.Event) restRow {
	return restRow{
		ID: ev.ID, PubKey: ev.PubKey, Kind: ev.Kind, CreatedAt: ev.CreatedAt,
		Tags: ev.Tags, Content: ev.Content, Sig: ev.Sig, ReceivedAt: ev.ReceivedAt,
	}
}

func (r restRow) toEvent() event.Event {
	return event.Event{
		ID: r.ID, PubKey: r.PubKey, Kind: r.Kind, CreatedAt: r.CreatedAt,
		Tags: r.Tags, Content: r.Content, Sig: r.Sig, ReceivedAt: r.ReceivedAt,
	}
}

// InsertIfAbsent POSTs the row with duplicate resolution delegated to the
// server's primary key. An ignored duplicate comes back as an empty
// representation; a bare 409 (older PostgREST) means the same thing.
func (s *PostgRESTStore) InsertIfAbsent(ctx context.Context, ev event.Event) (bool, error) {
	body, err := json.Marshal([]restRow{toRestRow(ev)})
	if err != nil {
		return false, fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tableURL(nil), bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build insert request: %w", err)
	}
	s.setHeaders(req)
	req.Header.Set("Prefer", "resolution=ignore-duplicates,return=representation")

	resp, err := s.client.Do(req)
	if err != nil {
		return false, Unavailable("insert", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return false, nil
	case resp.StatusCode >= 500:
		return false, Unavailable("insert", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return false, fmt.Errorf("insert rejected by datastore: status %d", resp.StatusCode)
	}

	var rows []restRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return false, Unavailable("insert", fmt.Errorf("decode response: %w", err))
	}
	return len(rows) == 1, nil
}

// SelectPage queries with PostgREST filter operators and the composite
// cursor predicate, ordered created_at DESC, id ASC.
func (s *PostgRESTStore) SelectPage(ctx context.Context, f Filter, after *Position, limit int) ([]event.Event, error) {
	params := url.Values{}
	params.Set("select", "*")
	params.Set("order", "created_at.desc,id.asc")
	params.Set("limit", strconv.Itoa(limit))
	if f.PubKey != "" {
		params.Set("pubkey", "eq."+f.PubKey)
	}
	if f.Kind != nil {
		params.Set("kind", "eq."+strconv.Itoa(*f.Kind))
	}
	if f.Since != nil {
		params.Add("created_at", "gte."+strconv.FormatInt(*f.Since, 10))
	}
	if f.Until != nil {
		params.Add("created_at", "lte."+strconv.FormatInt(*f.Until, 10))
	}
	if !f.ReceivedBefore.IsZero() {
		params.Set("received_at", "lte."+f.ReceivedBefore.UTC().Format(time.RFC3339Nano))
	}
	if after != nil {
		ts := strconv.FormatInt(after.CreatedAt, 10)
		params.Set("or", fmt.Sprintf("(created_at.lt.%s,and(created_at.eq.%s,id.gt.%s))", ts, ts, after.ID))
	}

	rows, err := s.getRows(ctx, s.tableURL(params))
	if err != nil {
		return nil, err
	}
	events := make([]event.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.toEvent())
	}
	return events, nil
}

// GetByID fetches a single row by primary key.
func (s *PostgRESTStore) GetByID(ctx context.Context, id string) (*event.Event, error) {
	params := url.Values{}
	params.Set("select", "*")
	params.Set("id", "eq."+id)
	params.Set("limit", "1")

	rows, err := s.getRows(ctx, s.tableURL(params))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	ev := rows[0].toEvent()
	return &ev, nil
}

// getRows performs an idempotent GET with bounded exponential backoff.
// Only transport failures and 5xx responses are retried.
func (s *PostgRESTStore) getRows(ctx context.Context, u string) ([]restRow, error) {
	operation := func() ([]restRow, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		s.setHeaders(req)

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err // transport failure, retryable
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 500 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return nil, backoff.Permanent(&queryRejectedError{status: resp.StatusCode})
		}

		var rows []restRow
		if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return rows, nil
	}

	rows, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(s.maxRetries),
	)
	if err != nil {
		var rejected *queryRejectedError
		if errors.As(err, &rejected) {
			return nil, fmt.Errorf("query rejected by datastore: %w", rejected)
		}
		return nil, Unavailable("select", err)
	}
	return rows, nil
}

// queryRejectedError marks a non-retryable 4xx from the datastore.
type queryRejectedError struct {
	status int
}

func (e *queryRejectedError) Error() string {
	return fmt.Sprintf("status %d", e.status)
}

func (s *PostgRESTStore) tableURL(params url.Values) string {
	u := s.baseURL + "/" + s.table
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (s *PostgRESTStore) setHeaders(req *http.Request) {
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

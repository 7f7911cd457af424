package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nostrmart/core/pkg/event"
	"github.com/nostrmart/core/pkg/ingest"
	"github.com/nostrmart/core/pkg/observability"
)

// Server exposes the ingest coordinator over HTTP.
type Server struct {
	coordinator *ingest.Coordinator
	logger      *slog.Logger
	maxBody     int64
	metrics     *observability.Provider
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithMetrics records submission outcomes on the given provider.
func WithMetrics(p *observability.Provider) ServerOption {
	return func(s *Server) { s.metrics = p }
}

// NewServer builds the HTTP surface. maxBody bounds request bodies a bit
// above the event payload limit so oversized events reach the policy and
// get the disclosed-bound rejection rather than an opaque read error.
func NewServer(c *ingest.Coordinator, logger *slog.Logger, maxBody int64, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{coordinator: c, logger: logger, maxBody: maxBody}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /nostr/events", s.handleSubmit)
	mux.HandleFunc("GET /nostr/events", s.handleQuery)
	mux.HandleFunc("GET /nostr/events/{id}", s.handleGet)
	mux.HandleFunc("GET /health", s.handleHealth)

	var h http.Handler = mux
	h = LoggingMiddleware(s.logger)(h)
	h = RecoverMiddleware(s.logger)(h)
	h = RequestIDMiddleware(h)
	return h
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	// Read one byte past the cap so an oversized body is detected and
	// refused instead of being silently truncated into a decode failure.
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBody+1))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Bad Request", "could not read body")
		return
	}
	if int64(len(body)) > s.maxBody {
		rej := &event.Rejection{
			Code:   event.CodePayloadTooLarge,
			Limit:  s.maxBody,
			Detail: fmt.Sprintf("request body exceeds %d bytes", s.maxBody),
		}
		s.recordSubmission(r.Context(), "rejected", rej, start)
		WriteRejection(w, r, rej)
		return
	}

	result, err := s.coordinator.SubmitRaw(r.Context(), body)
	if err != nil {
		s.recordSubmission(r.Context(), "rejected", err, start)
		WriteRejection(w, r, err)
		return
	}
	s.recordSubmission(r.Context(), string(result.Status), nil, start)

	status := http.StatusCreated
	if result.Status == ingest.StatusDuplicate {
		// Idempotent resubmission is a success, not a conflict.
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (s *Server) recordSubmission(ctx context.Context, outcome string, cause error, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordSubmission(ctx, outcome, time.Since(start))
	if rej, ok := event.AsRejection(cause); ok {
		s.metrics.RecordRejection(ctx, string(rej.Code))
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := ingest.Query{
		PubKey: r.URL.Query().Get("pubkey"),
		Cursor: r.URL.Query().Get("cursor"),
	}
	if v := r.URL.Query().Get("kind"); v != "" {
		kind, err := strconv.Atoi(v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "Bad Request", "kind must be an integer")
			return
		}
		q.Kind = &kind
	}
	var parseErr error
	q.Since, parseErr = optionalInt64(r, "since")
	if parseErr != nil {
		WriteError(w, http.StatusBadRequest, "Bad Request", "since must be an integer")
		return
	}
	q.Until, parseErr = optionalInt64(r, "until")
	if parseErr != nil {
		WriteError(w, http.StatusBadRequest, "Bad Request", "until must be an integer")
		return
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "Bad Request", "limit must be an integer")
			return
		}
		q.Limit = limit
	}

	page, err := s.coordinator.QueryEvents(r.Context(), q)
	if err != nil {
		WriteRejection(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := strings.ToLower(r.PathValue("id"))
	ev, err := s.coordinator.GetEvent(r.Context(), id)
	if err != nil {
		WriteRejection(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func optionalInt64(r *http.Request, name string) (*int64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

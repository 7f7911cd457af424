// Package api — the thin HTTP surface over the ingest core. Error
// responses use RFC 7807 Problem Details; the rejection taxonomy maps
// onto statuses here so the core never learns about HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nostrmart/core/pkg/event"
	"github.com/nostrmart/core/pkg/ingest"
	"github.com/nostrmart/core/pkg/store"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// Code is the stable rejection code for programmatic handling.
	Code string `json:"code,omitempty"`
	// Limit discloses the violated bound for size/skew/rate rejections.
	Limit int64 `json:"limit,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:   fmt.Sprintf("https://nostrmart.dev/errors/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteRejection maps a core error onto the appropriate HTTP status.
func WriteRejection(w http.ResponseWriter, r *http.Request, err error) {
	if rej, ok := event.AsRejection(err); ok {
		status := statusForCode(rej.Code)
		writeProblem(w, &ProblemDetail{
			Type:     "https://nostrmart.dev/errors/" + string(rej.Code),
			Title:    http.StatusText(status),
			Status:   status,
			Detail:   rej.Error(),
			Instance: r.URL.Path,
			Code:     string(rej.Code),
			Limit:    rej.Limit,
		})
		return
	}

	var unavailable *store.UnavailableError
	switch {
	case errors.As(err, &unavailable):
		// Submit is idempotent by id, so the client may safely retry.
		w.Header().Set("Retry-After", "1")
		WriteError(w, http.StatusServiceUnavailable, "Storage Unavailable", unavailable.Error())
	case errors.Is(err, ingest.ErrBadCursor):
		WriteError(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, store.ErrNotFound):
		WriteError(w, http.StatusNotFound, "Not Found", "no event with that id")
	default:
		WriteError(w, http.StatusInternalServerError, "Internal Server Error", "unexpected failure")
	}
}

func statusForCode(code event.Code) int {
	switch code {
	case event.CodeMalformedEvent, event.CodeIDMismatch:
		return http.StatusBadRequest
	case event.CodeInvalidSignature:
		return http.StatusUnauthorized
	case event.CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case event.CodeTimestampOutOfRange, event.CodeKindValidation:
		return http.StatusUnprocessableEntity
	case event.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}

func writeProblem(w http.ResponseWriter, p *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

package ingest

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/nostrmart/core/pkg/store"
)

// ErrBadCursor rejects pagination tokens this coordinator did not issue.
var ErrBadCursor = errors.New("invalid pagination cursor")

// cursor is the decoded form of the opaque pagination token: the last
// returned sort key plus the snapshot instant taken when pagination
// began. The snapshot keeps rows inserted mid-scan out of the sequence.
type cursor struct {
	Snapshot int64  `json:"s"` // unix nanos, received_at upper bound
	Created  int64  `json:"t"` // created_at of the last returned event
	ID       string `json:"i"` // id of the last returned event
}

func encodeCursor(c cursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(token string) (cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return cursor{}, ErrBadCursor
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return cursor{}, ErrBadCursor
	}
	if c.Snapshot <= 0 || c.ID == "" {
		return cursor{}, ErrBadCursor
	}
	return c, nil
}

func (c cursor) position() *store.Position {
	return &store.Position{CreatedAt: c.Created, ID: c.ID}
}

func (c cursor) snapshotTime() time.Time {
	return time.Unix(0, c.Snapshot)
}

package ingest

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	snapshot := time.Unix(1700000000, 123456789)
	in := cursor{Snapshot: snapshot.UnixNano(), Created: 42, ID: "abc123"}

	token := encodeCursor(in)
	out, err := decodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.True(t, snapshot.Equal(out.snapshotTime()))

	pos := out.position()
	assert.Equal(t, int64(42), pos.CreatedAt)
	assert.Equal(t, "abc123", pos.ID)
}

func TestCursorIsOpaque(t *testing.T) {
	token := encodeCursor(cursor{Snapshot: 1, Created: 2, ID: "x"})
	assert.NotContains(t, token, "=")
	assert.NotContains(t, token, "+")
	assert.NotContains(t, token, "/")
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	cases := map[string]string{
		"not base64":        "!!!not-base64!!!",
		"not json":          base64.RawURLEncoding.EncodeToString([]byte("hello")),
		"missing id":        base64.RawURLEncoding.EncodeToString([]byte(`{"s": 1, "t": 2}`)),
		"zero snapshot":     base64.RawURLEncoding.EncodeToString([]byte(`{"s": 0, "t": 2, "i": "x"}`)),
		"negative snapshot": base64.RawURLEncoding.EncodeToString([]byte(`{"s": -1, "t": 2, "i": "x"}`)),
		"empty":             "",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decodeCursor(token)
			assert.ErrorIs(t, err, ErrBadCursor)
		})
	}
}

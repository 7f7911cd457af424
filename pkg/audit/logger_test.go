package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordedChain(t *testing.T, buf *bytes.Buffer) []Record {
	t.Helper()
	var records []Record
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestLoggerChainsRecords(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, OutcomeAdmitted, "ev1", "pk1", "", map[string]string{"kind": "1"}))
	require.NoError(t, l.Record(ctx, OutcomeDuplicate, "ev1", "pk1", "", nil))
	require.NoError(t, l.Record(ctx, OutcomeRejected, "ev2", "pk2", "invalid_signature", nil))

	records := recordedChain(t, &buf)
	require.Len(t, records, 3)

	assert.Empty(t, records[0].PrevHash)
	assert.Equal(t, records[0].Hash, records[1].PrevHash)
	assert.Equal(t, records[1].Hash, records[2].PrevHash)
	assert.Equal(t, OutcomeRejected, records[2].Outcome)
	assert.Equal(t, "invalid_signature", records[2].Reason)

	idx, err := VerifyChain(records)
	require.NoError(t, err)
	assert.Equal(t, -1, idx)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Record(ctx, OutcomeAdmitted, "ev", "pk", "", nil))
	}
	records := recordedChain(t, &buf)

	t.Run("rewritten content", func(t *testing.T) {
		tampered := make([]Record, len(records))
		copy(tampered, records)
		tampered[1].EventID = "forged"
		idx, err := VerifyChain(tampered)
		require.NoError(t, err)
		assert.Equal(t, 1, idx)
	})

	t.Run("truncated middle", func(t *testing.T) {
		truncated := []Record{records[0], records[2]}
		idx, err := VerifyChain(truncated)
		require.NoError(t, err)
		assert.Equal(t, 1, idx)
	})

	t.Run("forged head", func(t *testing.T) {
		forged := make([]Record, len(records))
		copy(forged, records)
		forged[0].PrevHash = "deadbeef"
		idx, err := VerifyChain(forged)
		require.NoError(t, err)
		assert.Equal(t, 0, idx)
	})
}

func TestHashRecordExcludesHashField(t *testing.T) {
	rec := Record{ID: "r1", Outcome: OutcomeAdmitted, EventID: "ev", PrevHash: "prev"}
	h1, err := HashRecord(&rec)
	require.NoError(t, err)

	rec.Hash = "something else entirely"
	h2, err := HashRecord(&rec)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	rec.EventID = "other"
	h3, err := HashRecord(&rec)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestNopLoggerDiscards(t *testing.T) {
	assert.NoError(t, Nop{}.Record(context.Background(), OutcomeAdmitted, "ev", "pk", "", nil))
}

func TestLoggerCancelledContext(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(&buf)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, l.Record(ctx, OutcomeAdmitted, "ev", "pk", "", nil))
	assert.Zero(t, buf.Len())
}

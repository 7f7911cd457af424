// Package audit records admission decisions as a tamper-evident stream.
// Each record carries the RFC 8785 canonical hash of its own content
// chained to the previous record's hash, so an operator can detect
// truncation or rewriting of the decision history. Id-mismatch
// rejections land here as potential tampering signals.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// Outcome labels the terminal state of a submission or query.
type Outcome string

const (
	OutcomeAdmitted  Outcome = "ADMITTED"
	OutcomeDuplicate Outcome = "DUPLICATE"
	OutcomeRejected  Outcome = "REJECTED"
	OutcomeQueried   Outcome = "QUERIED"
)

// Record is one audit entry. Hash covers every field except Hash itself;
// PrevHash chains it to the preceding record.
type Record struct {
	ID        string            `json:"id"`
	Outcome   Outcome           `json:"outcome"`
	EventID   string            `json:"event_id,omitempty"`
	PubKey    string            `json:"pubkey,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	PrevHash  string            `json:"prev_hash"`
	Hash      string            `json:"hash"`
}

// Logger records admission outcomes.
type Logger interface {
	Record(ctx context.Context, outcome Outcome, eventID, pubkey, reason string, metadata map[string]string) error
}

// logger writes JSON lines to a writer, chaining hashes under a mutex so
// concurrent submissions serialize into one consistent chain.
type logger struct {
	mu       sync.Mutex
	writer   io.Writer
	prevHash string
}

// NewLogger writes to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter allows injection for testing and custom sinks.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w}
}

// Record appends one entry to the stream.
func (l *logger) Record(ctx context.Context, outcome Outcome, eventID, pubkey, reason string, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec := Record{
		ID:        uuid.NewString(),
		Outcome:   outcome,
		EventID:   eventID,
		PubKey:    pubkey,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
		PrevHash:  l.prevHash,
	}
	hash, err := HashRecord(&rec)
	if err != nil {
		return err
	}
	rec.Hash = hash

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	if _, err := l.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	l.prevHash = hash
	return nil
}

// HashRecord computes the SHA-256 of the record's RFC 8785 canonical form
// with the Hash field cleared. Exported so verification tooling can
// recompute the chain.
func HashRecord(rec *Record) (string, error) {
	clone := *rec
	clone.Hash = ""
	raw, err := json.Marshal(clone)
	if err != nil {
		return "", fmt.Errorf("marshal for hashing: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit record: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChain recomputes hashes over records in order and reports the
// index of the first inconsistent record, or -1 when the chain holds.
func VerifyChain(records []Record) (int, error) {
	prev := ""
	for i := range records {
		if records[i].PrevHash != prev {
			return i, nil
		}
		hash, err := HashRecord(&records[i])
		if err != nil {
			return i, err
		}
		if hash != records[i].Hash {
			return i, nil
		}
		prev = hash
	}
	return -1, nil
}

// Nop discards all records. Useful when audit is disabled.
type Nop struct{}

func (Nop) Record(context.Context, Outcome, string, string, string, map[string]string) error {
	return nil
}

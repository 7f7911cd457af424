// Package event defines the signed protocol event at the heart of the
// NostrMart ingest pipeline and the canonical-id derivation that makes
// events content-addressed. The serialization rule in serialize.go is the
// one byte-exact compatibility contract of the whole system.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Hex lengths of the fixed-size fields.
const (
	IDHexLen     = 64
	PubKeyHexLen = 64
	SigHexLen    = 128
)

// Event is an immutable signed record (listing, review, profile update).
// ID is never trusted as supplied; it must equal DeriveID over the signed
// fields. ReceivedAt is server-assigned at admission and is not part of
// the signed payload.
type Event struct {
	ID         string     `json:"id"`
	PubKey     string     `json:"pubkey"`
	CreatedAt  int64      `json:"created_at"`
	Kind       int        `json:"kind"`
	Tags       [][]string `json:"tags"`
	Content    string     `json:"content"`
	Sig        string     `json:"sig"`
	ReceivedAt time.Time  `json:"received_at,omitempty"`
}

// Decode strictly parses an untrusted JSON payload into an Event.
// Every field is type-checked individually so the rejection can name the
// offending field; partially-decoded values never escape this function.
func Decode(raw []byte) (*Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, Malformed("", "body is not a JSON object")
	}

	ev := &Event{}
	if err := decodeString(fields, "id", &ev.ID); err != nil {
		return nil, err
	}
	if err := decodeString(fields, "pubkey", &ev.PubKey); err != nil {
		return nil, err
	}
	if err := decodeInt(fields, "created_at", &ev.CreatedAt); err != nil {
		return nil, err
	}
	kindRaw, ok := fields["kind"]
	if !ok {
		return nil, Malformed("kind", "missing field")
	}
	var kind int64
	if err := strictUnmarshalInt(kindRaw, &kind); err != nil {
		return nil, Malformed("kind", "must be an integer")
	}
	ev.Kind = int(kind)
	if err := decodeTags(fields, &ev.Tags); err != nil {
		return nil, err
	}
	if err := decodeString(fields, "content", &ev.Content); err != nil {
		return nil, err
	}
	if err := decodeString(fields, "sig", &ev.Sig); err != nil {
		return nil, err
	}

	if err := ev.ValidateShape(); err != nil {
		return nil, err
	}
	return ev, nil
}

// ValidateShape checks structural completeness and field formats.
// It performs no cryptography; id and signature authenticity are checked
// by the admission chain.
func (e *Event) ValidateShape() error {
	if !isLowerHex(e.ID, IDHexLen) {
		return Malformed("id", fmt.Sprintf("must be %d lowercase hex characters", IDHexLen))
	}
	if !isLowerHex(e.PubKey, PubKeyHexLen) {
		return Malformed("pubkey", fmt.Sprintf("must be %d lowercase hex characters", PubKeyHexLen))
	}
	if e.Kind < 0 {
		return Malformed("kind", "must be a non-negative integer")
	}
	if e.CreatedAt < 0 {
		return Malformed("created_at", "must be a non-negative unix timestamp")
	}
	if e.Tags == nil {
		return Malformed("tags", "missing field")
	}
	for i, tag := range e.Tags {
		if tag == nil {
			return Malformed("tags", fmt.Sprintf("tag %d is not an array of strings", i))
		}
	}
	if !isLowerHex(e.Sig, SigHexLen) {
		return Malformed("sig", fmt.Sprintf("must be %d lowercase hex characters", SigHexLen))
	}
	return nil
}

// PayloadSize is the admission-relevant size of an event: the UTF-8 byte
// length of content plus every tag element.
func (e *Event) PayloadSize() int64 {
	size := int64(len(e.Content))
	for _, tag := range e.Tags {
		for _, el := range tag {
			size += int64(len(el))
		}
	}
	return size
}

func decodeString(fields map[string]json.RawMessage, name string, dst *string) error {
	raw, ok := fields[name]
	if !ok {
		return Malformed(name, "missing field")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return Malformed(name, "must be a string")
	}
	return nil
}

func decodeInt(fields map[string]json.RawMessage, name string, dst *int64) error {
	raw, ok := fields[name]
	if !ok {
		return Malformed(name, "missing field")
	}
	if err := strictUnmarshalInt(raw, dst); err != nil {
		return Malformed(name, "must be an integer")
	}
	return nil
}

// strictUnmarshalInt rejects floats and strings; only JSON integers pass.
func strictUnmarshalInt(raw json.RawMessage, dst *int64) error {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return err
	}
	v, err := n.Int64()
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func decodeTags(fields map[string]json.RawMessage, dst *[][]string) error {
	raw, ok := fields["tags"]
	if !ok {
		return Malformed("tags", "missing field")
	}
	var tags [][]string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return Malformed("tags", "must be an array of arrays of strings")
	}
	if tags == nil {
		return Malformed("tags", "must be an array, not null")
	}
	*dst = tags
	return nil
}

func isLowerHex(s string, length int) bool {
	if len(s) != length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

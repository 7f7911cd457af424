package event

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// Serialize returns the canonical byte encoding of the signed fields:
// a compact JSON array [0,pubkey,created_at,kind,tags,content] with no
// extraneous whitespace, integers as base-10 ASCII, and the fixed string
// escaping below. This encoding must stay bit-for-bit identical to what
// client software hashes before signing; it is hand-assembled rather than
// produced by encoding/json because the stdlib encoder escapes \b and \f
// as \u00XX, which diverges from the wire convention.
func (e *Event) Serialize() ([]byte, error) {
	if err := e.validateSerializable(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(128 + len(e.Content))
	buf.WriteString("[0,")
	writeEscapedString(&buf, e.PubKey)
	buf.WriteByte(',')
	buf.WriteString(strconv.FormatInt(e.CreatedAt, 10))
	buf.WriteByte(',')
	buf.WriteString(strconv.Itoa(e.Kind))
	buf.WriteByte(',')
	buf.WriteByte('[')
	for i, tag := range e.Tags {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('[')
		for j, el := range tag {
			if j > 0 {
				buf.WriteByte(',')
			}
			writeEscapedString(&buf, el)
		}
		buf.WriteByte(']')
	}
	buf.WriteByte(']')
	buf.WriteByte(',')
	writeEscapedString(&buf, e.Content)
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// DeriveID computes the content-addressed identifier: the SHA-256 digest
// of the canonical serialization, as 64 lowercase hex characters. Pure;
// identical logical input always yields an identical id.
func (e *Event) DeriveID() (string, error) {
	b, err := e.Serialize()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Digest returns the raw 32-byte hash that signatures are made over.
func (e *Event) Digest() ([32]byte, error) {
	b, err := e.Serialize()
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(b), nil
}

func (e *Event) validateSerializable() error {
	if e.Kind < 0 {
		return Malformed("kind", "must be a non-negative integer")
	}
	if e.Tags == nil {
		return Malformed("tags", "missing field")
	}
	for i, tag := range e.Tags {
		if tag == nil {
			return Malformed("tags", fmt.Sprintf("tag %d is not an array of strings", i))
		}
		for _, el := range tag {
			if !utf8.ValidString(el) {
				return Malformed("tags", fmt.Sprintf("tag %d contains invalid UTF-8", i))
			}
		}
	}
	if !utf8.ValidString(e.Content) {
		return Malformed("content", "invalid UTF-8")
	}
	return nil
}

// writeEscapedString writes s as a quoted JSON string with the fixed
// escape set: backslash, double quote, and the control characters
// \n \r \t \b \f; all other control characters as \uXXXX. Everything
// else, including non-ASCII, passes through as raw UTF-8.
func writeEscapedString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			buf.WriteString(`\"`)
		case c == '\\':
			buf.WriteString(`\\`)
		case c == '\n':
			buf.WriteString(`\n`)
		case c == '\r':
			buf.WriteString(`\r`)
		case c == '\t':
			buf.WriteString(`\t`)
		case c == '\b':
			buf.WriteString(`\b`)
		case c == '\f':
			buf.WriteString(`\f`)
		case c < 0x20:
			buf.WriteString(fmt.Sprintf(`\u%04x`, c))
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte('"')
}

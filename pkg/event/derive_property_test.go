//go:build property
// +build property

// Package event_test contains property-based tests for canonical
// serialization and id derivation.
package event_test

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/nostrmart/core/pkg/event"
)

// TestDeriveIDDeterminism verifies id derivation is a pure function of
// the signed fields.
// Property: DeriveID(ev) == DeriveID(ev) for any ev
func TestDeriveIDDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("id derivation is deterministic", prop.ForAll(
		func(createdAt int64, kind int, tagVals []string, content string) bool {
			ev := &event.Event{
				PubKey:    strings.Repeat("ab", 32),
				CreatedAt: createdAt,
				Kind:      kind,
				Tags:      tagsFrom(tagVals),
				Content:   content,
			}
			id1, err1 := ev.DeriveID()
			id2, err2 := ev.DeriveID()
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}
			return id1 == id2 && len(id1) == 64
		},
		gen.Int64Range(0, 1<<40),
		gen.IntRange(0, 65535),
		gen.SliceOf(gen.AlphaString()),
		gen.UnicodeString(),
	))

	properties.TestingRun(t)
}

// TestDeriveIDContentSensitivity verifies distinct content yields
// distinct ids.
// Property: content1 != content2 => DeriveID(ev1) != DeriveID(ev2)
func TestDeriveIDContentSensitivity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("distinct content yields distinct ids", prop.ForAll(
		func(c1, c2 string) bool {
			if c1 == c2 {
				return true
			}
			base := event.Event{
				PubKey:    strings.Repeat("ab", 32),
				CreatedAt: 1700000000,
				Kind:      1,
				Tags:      [][]string{},
			}
			ev1, ev2 := base, base
			ev1.Content = c1
			ev2.Content = c2
			id1, err1 := ev1.DeriveID()
			id2, err2 := ev2.DeriveID()
			if err1 != nil || err2 != nil {
				return true
			}
			return id1 != id2
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestDeriveIDTagOrderSensitivity verifies outer tag order is part of
// the signed bytes.
// Property: swapping two distinct tags changes the id
func TestDeriveIDTagOrderSensitivity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("outer tag order changes the id", prop.ForAll(
		func(a, b string) bool {
			if a == b {
				return true
			}
			forward := &event.Event{
				PubKey:    strings.Repeat("ab", 32),
				CreatedAt: 1700000000,
				Kind:      1,
				Tags:      [][]string{{"t", a}, {"t", b}},
				Content:   "x",
			}
			reversed := &event.Event{
				PubKey:    strings.Repeat("ab", 32),
				CreatedAt: 1700000000,
				Kind:      1,
				Tags:      [][]string{{"t", b}, {"t", a}},
				Content:   "x",
			}
			id1, err1 := forward.DeriveID()
			id2, err2 := reversed.DeriveID()
			if err1 != nil || err2 != nil {
				return true
			}
			return id1 != id2
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func tagsFrom(vals []string) [][]string {
	tags := make([][]string, 0, len(vals))
	for _, v := range vals {
		tags = append(tags, []string{"t", v})
	}
	return tags
}

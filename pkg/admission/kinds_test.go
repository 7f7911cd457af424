package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nostrmart/core/pkg/event"
)

func kindEvent(kind int, tags [][]string, content string) *event.Event {
	return &event.Event{Kind: kind, Tags: tags, Content: content}
}

func TestListingPriceRule(t *testing.T) {
	r := DefaultRegistry()

	assert.NoError(t, r.Check(kindEvent(KindListing, [][]string{{"price", "100"}}, "a book")))
	assert.NoError(t, r.Check(kindEvent(KindListing, [][]string{{"price", "0"}}, "free")))

	cases := map[string][][]string{
		"missing price":    {{"t", "books"}},
		"non-integer":      {{"price", "abc"}},
		"float price":      {{"price", "9.99"}},
		"negative price":   {{"price", "-1"}},
		"price without value": {{"price"}},
	}
	for name, tags := range cases {
		t.Run(name, func(t *testing.T) {
			err := r.Check(kindEvent(KindListing, tags, "a book"))
			rej, ok := event.AsRejection(err)
			require.True(t, ok)
			assert.Equal(t, event.CodeKindValidation, rej.Code)
			assert.Equal(t, "listing-price", rej.Rule)
		})
	}
}

func TestReviewRules(t *testing.T) {
	r := DefaultRegistry()
	subject := [][]string{{"rating", "5"}, {"e", "feedbeef"}}

	assert.NoError(t, r.Check(kindEvent(KindReview, subject, "great seller")))

	t.Run("rating out of range", func(t *testing.T) {
		for _, rating := range []string{"0", "6", "-1"} {
			err := r.Check(kindEvent(KindReview, [][]string{{"rating", rating}, {"e", "feedbeef"}}, ""))
			rej, ok := event.AsRejection(err)
			require.True(t, ok, "rating %s", rating)
			assert.Equal(t, "review-rating", rej.Rule)
		}
	})

	t.Run("missing subject", func(t *testing.T) {
		err := r.Check(kindEvent(KindReview, [][]string{{"rating", "3"}}, ""))
		rej, ok := event.AsRejection(err)
		require.True(t, ok)
		assert.Equal(t, "review-subject", rej.Rule)
	})

	t.Run("rating checked before subject", func(t *testing.T) {
		err := r.Check(kindEvent(KindReview, [][]string{}, ""))
		rej, ok := event.AsRejection(err)
		require.True(t, ok)
		assert.Equal(t, "review-rating", rej.Rule)
	})
}

func TestProfileSchemaRule(t *testing.T) {
	r := DefaultRegistry()

	assert.NoError(t, r.Check(kindEvent(KindProfile, [][]string{}, `{"name": "alice"}`)))
	assert.NoError(t, r.Check(kindEvent(KindProfile, [][]string{}, `{}`)))

	for name, content := range map[string]string{
		"not json":  "not json at all",
		"array":     `[1, 2]`,
		"string":    `"alice"`,
		"bare null": `null`,
	} {
		t.Run(name, func(t *testing.T) {
			err := r.Check(kindEvent(KindProfile, [][]string{}, content))
			rej, ok := event.AsRejection(err)
			require.True(t, ok)
			assert.Equal(t, "profile-metadata", rej.Rule)
		})
	}
}

func TestTagIntRuleUnboundedAbove(t *testing.T) {
	rule := &TagIntRule{RuleName: "big", Tag: "n", Min: 0}
	assert.NoError(t, rule.Check(kindEvent(1, [][]string{{"n", "922337203685477580"}}, "")))
}

func TestRegistryChainShortCircuits(t *testing.T) {
	r := NewRegistry()
	r.Register(5, &RequiredTagRule{RuleName: "first", Tag: "a"})
	r.Register(5, &RequiredTagRule{RuleName: "second", Tag: "b"})

	err := r.Check(kindEvent(5, [][]string{}, ""))
	rej, ok := event.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, "first", rej.Rule)

	err = r.Check(kindEvent(5, [][]string{{"a", "x"}}, ""))
	rej, ok = event.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, "second", rej.Rule)

	assert.NoError(t, r.Check(kindEvent(5, [][]string{{"a", "x"}, {"b", "y"}}, "")))
}

func TestNewSchemaRuleRejectsBadSchema(t *testing.T) {
	_, err := NewSchemaRule("broken", `{"type": 42}`)
	assert.Error(t, err)
}

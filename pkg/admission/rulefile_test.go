package admission

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nostrmart/core/pkg/event"
)

func TestCELRuleEvaluation(t *testing.T) {
	rule, err := NewCELRule("currency", `tags.exists(t, t[0] == "currency" && t[1] in ["sat", "usd"])`)
	require.NoError(t, err)

	assert.NoError(t, rule.Check(kindEvent(KindListing, [][]string{{"currency", "sat"}}, "")))

	err = rule.Check(kindEvent(KindListing, [][]string{{"currency", "gold"}}, ""))
	rej, ok := event.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, event.CodeKindValidation, rej.Code)
	assert.Equal(t, "currency", rej.Rule)
}

func TestCELRuleEvalErrorRefusesEvent(t *testing.T) {
	rule, err := NewCELRule("price-int", `tags.exists(t, t[0] == "price" && int(t[1]) >= 0)`)
	require.NoError(t, err)

	// int("abc") raises an evaluation error inside exists(); the event does
	// not satisfy the rule's assumptions and is refused.
	err = rule.Check(kindEvent(KindListing, [][]string{{"price", "abc"}}, ""))
	rej, ok := event.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, event.CodeKindValidation, rej.Code)
}

func TestNewCELRuleRejectsBadExpressions(t *testing.T) {
	_, err := NewCELRule("syntax", `tags.exists(`)
	assert.Error(t, err)

	_, err = NewCELRule("not-bool", `content`)
	assert.Error(t, err)

	_, err = NewCELRule("unknown-var", `author == "x"`)
	assert.Error(t, err)
}

func TestLoadRules(t *testing.T) {
	r := NewRegistry()
	err := LoadRules(r, []byte(`
kinds:
  - kind: 30402
    rules:
      - name: listing-currency
        cel: 'tags.exists(t, t[0] == "currency" && t[1] in ["sat", "usd"])'
  - kind: 0
    rules:
      - name: profile-shape
        schema: |
          {"type": "object", "required": ["name"]}
`))
	require.NoError(t, err)

	assert.NoError(t, r.Check(kindEvent(30402, [][]string{{"currency", "usd"}}, "")))
	assert.Error(t, r.Check(kindEvent(30402, [][]string{}, "")))

	assert.NoError(t, r.Check(kindEvent(0, [][]string{}, `{"name": "alice"}`)))
	assert.Error(t, r.Check(kindEvent(0, [][]string{}, `{}`)))
}

func TestLoadRulesValidation(t *testing.T) {
	cases := map[string]string{
		"nameless rule": `
kinds:
  - kind: 1
    rules:
      - cel: 'true == true'
`,
		"both cel and schema": `
kinds:
  - kind: 1
    rules:
      - name: both
        cel: 'kind == 1'
        schema: '{"type": "object"}'
`,
		"neither cel nor schema": `
kinds:
  - kind: 1
    rules:
      - name: empty
`,
		"bad cel": `
kinds:
  - kind: 1
    rules:
      - name: broken
        cel: 'tags.exists('
`,
		"not yaml": `{{{`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, LoadRules(NewRegistry(), []byte(doc)))
		})
	}
}

func TestLoadRuleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := `
kinds:
  - kind: 31555
    rules:
      - name: review-not-empty
        cel: 'content != ""'
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	r := NewRegistry()
	require.NoError(t, LoadRuleFile(r, path))
	assert.NoError(t, r.Check(kindEvent(31555, [][]string{}, "great")))
	assert.Error(t, r.Check(kindEvent(31555, [][]string{}, "")))

	assert.Error(t, LoadRuleFile(NewRegistry(), filepath.Join(t.TempDir(), "missing.yaml")))
}

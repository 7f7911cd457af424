package admission

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nostrmart/core/pkg/event"
)

// Marketplace event kinds. Profile and note kinds follow the protocol
// convention; listing and review are the NostrMart application kinds.
const (
	KindProfile = 0
	KindNote    = 1
	KindListing = 30402
	KindReview  = 31555
)

// Rule is a kind-specific shape check. Rules return a kind-validation
// rejection naming themselves, never a generic error.
type Rule interface {
	Name() string
	Check(ev *event.Event) error
}

// Registry maps kinds to their rule chains. Kinds with no entry are
// admitted with no extra checks. Safe for concurrent use; registration
// normally happens once at startup.
type Registry struct {
	mu    sync.RWMutex
	rules map[int][]Rule
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[int][]Rule)}
}

// DefaultRegistry carries the builtin marketplace rules: listings need a
// parseable non-negative price tag, reviews a 1..5 rating tag and a
// subject reference, profiles a JSON object as content.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KindListing, &TagIntRule{RuleName: "listing-price", Tag: "price", Min: 0})
	r.Register(KindReview, &TagIntRule{RuleName: "review-rating", Tag: "rating", Min: 1, Max: 5})
	r.Register(KindReview, &RequiredTagRule{RuleName: "review-subject", Tag: "e"})
	r.Register(KindProfile, MustSchemaRule("profile-metadata", `{"type": "object"}`))
	return r
}

// Register appends rules to a kind's chain.
func (r *Registry) Register(kind int, rules ...Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[kind] = append(r.rules[kind], rules...)
}

// Check runs the kind's chain in registration order, short-circuiting on
// the first violation.
func (r *Registry) Check(ev *event.Event) error {
	r.mu.RLock()
	chain := r.rules[ev.Kind]
	r.mu.RUnlock()
	for _, rule := range chain {
		if err := rule.Check(ev); err != nil {
			return err
		}
	}
	return nil
}

// RequiredTagRule demands that a tag with the given name exists and has a
// non-empty value.
type RequiredTagRule struct {
	RuleName string
	Tag      string
}

func (r *RequiredTagRule) Name() string { return r.RuleName }

func (r *RequiredTagRule) Check(ev *event.Event) error {
	if _, ok := findTagValue(ev.Tags, r.Tag); !ok {
		return event.KindViolation(r.RuleName, fmt.Sprintf("missing %q tag", r.Tag))
	}
	return nil
}

// TagIntRule demands a tag whose value parses as an integer within
// [Min, Max]. Max of zero with Min of zero means "non-negative".
type TagIntRule struct {
	RuleName string
	Tag      string
	Min      int64
	Max      int64 // 0 means unbounded above
}

func (r *TagIntRule) Name() string { return r.RuleName }

func (r *TagIntRule) Check(ev *event.Event) error {
	value, ok := findTagValue(ev.Tags, r.Tag)
	if !ok {
		return event.KindViolation(r.RuleName, fmt.Sprintf("missing %q tag", r.Tag))
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return event.KindViolation(r.RuleName, fmt.Sprintf("%q tag value %q is not an integer", r.Tag, value))
	}
	if n < r.Min {
		return event.KindViolation(r.RuleName, fmt.Sprintf("%q tag value %d is below minimum %d", r.Tag, n, r.Min))
	}
	if r.Max > 0 && n > r.Max {
		return event.KindViolation(r.RuleName, fmt.Sprintf("%q tag value %d is above maximum %d", r.Tag, n, r.Max))
	}
	return nil
}

// SchemaRule validates the event content as JSON against a JSON Schema.
type SchemaRule struct {
	RuleName string
	schema   *jsonschema.Schema
}

// NewSchemaRule compiles the schema source.
func NewSchemaRule(name, source string) (*SchemaRule, error) {
	compiler := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := compiler.AddResource(resource, strings.NewReader(source)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &SchemaRule{RuleName: name, schema: schema}, nil
}

// MustSchemaRule is NewSchemaRule for compile-time-constant schemas.
func MustSchemaRule(name, source string) *SchemaRule {
	rule, err := NewSchemaRule(name, source)
	if err != nil {
		panic(err)
	}
	return rule
}

func (r *SchemaRule) Name() string { return r.RuleName }

func (r *SchemaRule) Check(ev *event.Event) error {
	var doc interface{}
	if err := json.Unmarshal([]byte(ev.Content), &doc); err != nil {
		return event.KindViolation(r.RuleName, "content is not valid JSON")
	}
	if err := r.schema.Validate(doc); err != nil {
		return event.KindViolation(r.RuleName, fmt.Sprintf("content does not match schema: %v", err))
	}
	return nil
}

// findTagValue returns the second element of the first tag entry whose
// first element equals name. Tag entries are positional: [name, value, ...].
func findTagValue(tags [][]string, name string) (string, bool) {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1], true
		}
	}
	return "", false
}

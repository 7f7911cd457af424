package admission

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/nostrmart/core/pkg/event"
)

// celEnv exposes the signed event fields to rule expressions. Built once;
// CEL environments are immutable and safe to share.
var (
	celEnvOnce sync.Once
	celEnv     *cel.Env
	celEnvErr  error
)

func ruleEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("kind", cel.IntType),
			cel.Variable("created_at", cel.IntType),
			cel.Variable("content", cel.StringType),
			cel.Variable("tags", cel.ListType(cel.ListType(cel.StringType))),
		)
	})
	return celEnv, celEnvErr
}

// CELRule evaluates a CEL expression over the event. The expression must
// produce a boolean; false refuses the event. Operators express
// marketplace constraints in the rule file without recompiling, e.g.
//
//	tags.exists(t, t[0] == "price" && int(t[1]) >= 0)
type CELRule struct {
	RuleName string
	expr     string
	program  cel.Program
}

// NewCELRule compiles expr once; evaluation reuses the cached program.
func NewCELRule(name, expr string) (*CELRule, error) {
	env, err := ruleEnv()
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile rule %s: %w", name, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must produce a boolean, got %s", name, ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program rule %s: %w", name, err)
	}
	return &CELRule{RuleName: name, expr: expr, program: program}, nil
}

func (r *CELRule) Name() string { return r.RuleName }

func (r *CELRule) Check(ev *event.Event) error {
	out, _, err := r.program.Eval(map[string]interface{}{
		"kind":       ev.Kind,
		"created_at": ev.CreatedAt,
		"content":    ev.Content,
		"tags":       ev.Tags,
	})
	if err != nil {
		// Evaluation errors (bad int conversion, index out of range) mean
		// the event does not satisfy the rule's assumptions.
		return event.KindViolation(r.RuleName, fmt.Sprintf("expression failed: %v", err))
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return event.KindViolation(r.RuleName, "expression did not produce a boolean")
	}
	if !allowed {
		return event.KindViolation(r.RuleName, "expression evaluated to false")
	}
	return nil
}

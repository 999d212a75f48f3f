package auth

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-bexpr"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/sentinel"
)

// bexprCache stores compiled go-bexpr evaluators
// Key: filter expression string, Value: *bexpr.Evaluator
var bexprCache = &sync.Map{}

// Filter is a compiled go-bexpr expression over a flat field map, such as
// `Kind == "email" and Verified == true`.
type Filter struct {
	expr      string
	evaluator *bexpr.Evaluator
}

// CompileFilter compiles expr, reusing cached evaluators. The empty
// expression matches everything.
func CompileFilter(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return &Filter{}, nil
	}

	if cached, ok := bexprCache.Load(expr); ok {
		return &Filter{expr: expr, evaluator: cached.(*bexpr.Evaluator)}, nil
	}

	evaluator, err := bexpr.CreateEvaluator(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid filter %q: %v: %w", expr, err, sentinel.ErrInvalidInput)
	}
	bexprCache.Store(expr, evaluator)
	return &Filter{expr: expr, evaluator: evaluator}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	return f.expr
}

// Match evaluates the filter against fields. A field the expression names
// but fields lacks is a non-match, not an error.
func (f *Filter) Match(fields map[string]any) bool {
	if f == nil || f.evaluator == nil {
		return true
	}
	matches, err := f.evaluator.Evaluate(fields)
	if err != nil {
		return false
	}
	return matches
}

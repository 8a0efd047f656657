// Package conditions evaluates branch and condition expressions against
// node results and flow working state.
package conditions

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

const defaultMaxExpressionLength = 4096

// Env is the namespace a condition expression is evaluated against.
type Env struct {
	// Result is the completed node's result payload.
	Result map[string]any
	// WorkingState is the flow's shared scratch space.
	WorkingState map[string]any
	// Nodes holds the results of all completed nodes, keyed by node ID.
	Nodes map[string]any
}

func (e Env) toMap() map[string]any {
	return map[string]any{
		"result":        e.Result,
		"working_state": e.WorkingState,
		"nodes":         e.Nodes,
	}
}

// Evaluator compiles and caches condition expressions. Evaluation is pure:
// the same expression and environment always produce the same answer, and
// nothing in the flow is mutated.
type Evaluator struct {
	logger   *slog.Logger
	compiled map[string]*vm.Program
	mu       sync.RWMutex

	// MaxExpressionLength bounds expression size.
	MaxExpressionLength int
}

// NewEvaluator creates an evaluator with an empty program cache.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{
		logger:              logger.With("module", "conditions"),
		compiled:            make(map[string]*vm.Program),
		MaxExpressionLength: defaultMaxExpressionLength,
	}
}

// EvaluateBool evaluates a condition expression and coerces the outcome to
// a boolean. Malformed or unsupported expressions fail closed: the edge is
// treated as false and a warning is logged, so one bad condition never
// aborts a whole flow advance. An empty expression is true.
func (e *Evaluator) EvaluateBool(expression string, env Env) bool {
	if expression == "" {
		return true
	}

	result, err := e.evaluate(expression, env.toMap())
	if err != nil {
		e.logger.Warn("Condition evaluation failed, treating edge as false",
			"expression", expression, "error", err)

		return false
	}

	truthy, err := coerceBool(result)
	if err != nil {
		e.logger.Warn("Condition result is not a boolean, treating edge as false",
			"expression", expression, "error", err)

		return false
	}

	return truthy
}

func (e *Evaluator) evaluate(expression string, env map[string]any) (any, error) {
	if len(expression) > e.MaxExpressionLength {
		return nil, fmt.Errorf("expression exceeds maximum length of %d characters", e.MaxExpressionLength)
	}

	e.mu.RLock()
	program, ok := e.compiled[expression]
	e.mu.RUnlock()

	if !ok {
		var err error

		program, err = expr.Compile(expression, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("compile expression %q: %w", expression, err)
		}

		e.mu.Lock()
		e.compiled[expression] = program
		e.mu.Unlock()
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression %q: %w", expression, err)
	}

	return result, nil
}

func coerceBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", value)
	}
}

package rules

import (
	"fmt"
	"math"

	"github.com/algomatic/backtest-service/pkg/indicators"
)

// FieldError describes one invalid field in a strategy definition. A
// malformed condition fails the whole request up front rather than silently
// evaluating to an all-false or all-true flag.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks every condition in the strategy for unknown operators,
// unresolvable column names, and non-finite literals. It returns all
// problems found, not just the first.
func Validate(spec StrategySpec) []FieldError {
	var errs []FieldError
	errs = append(errs, validateConditions(spec.Entry, "entry")...)
	errs = append(errs, validateConditions(spec.Exit, "exit")...)
	return errs
}

func validateConditions(conds []Condition, set string) []FieldError {
	var errs []FieldError
	for i, cond := range conds {
		path := fmt.Sprintf("%s[%d]", set, i)
		if cond.Op == "" {
			errs = append(errs, FieldError{Field: path + ".op", Message: "missing operator"})
		} else if !knownOps[cond.Op] {
			errs = append(errs, FieldError{
				Field:   path + ".op",
				Message: fmt.Sprintf("unknown operator %q", cond.Op),
			})
		}
		errs = append(errs, validateOperand(cond.Left, path+".left")...)
		errs = append(errs, validateOperand(cond.Right, path+".right")...)
	}
	return errs
}

func validateOperand(o Operand, path string) []FieldError {
	if o.Literal {
		if math.IsNaN(o.Value) || math.IsInf(o.Value, 0) {
			return []FieldError{{Field: path, Message: "literal must be finite"}}
		}
		return nil
	}
	if o.Col == "" {
		return []FieldError{{Field: path, Message: "missing operand"}}
	}
	if err := indicators.Parse(o.Col); err != nil {
		return []FieldError{{Field: path, Message: err.Error()}}
	}
	return nil
}

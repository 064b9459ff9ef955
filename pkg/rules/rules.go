// Package rules evaluates declarative strategy conditions against bar and
// indicator data, producing per-bar entry/exit signal flags.
//
// A condition compares a left and right operand (each an indicator column
// name or a numeric literal) with a comparison or crossover operator.
// Conditions compile to closures over the bar slice and current index, the
// same shape the probe engines use, so evaluation cost is one function call
// per condition per bar.
package rules

import (
	"encoding/json"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/algomatic/backtest-service/pkg/types"
)

// Supported condition operators.
const (
	OpGT         = ">"
	OpLT         = "<"
	OpGTE        = ">="
	OpLTE        = "<="
	OpEQ         = "=="
	OpNEQ        = "!="
	OpCrossAbove = "cross_above"
	OpCrossBelow = "cross_below"
)

var knownOps = map[string]bool{
	OpGT: true, OpLT: true, OpGTE: true, OpLTE: true,
	OpEQ: true, OpNEQ: true,
	OpCrossAbove: true, OpCrossBelow: true,
}

// Operand is either an indicator/field column reference or a numeric
// literal. In JSON and YAML it is written as a bare string or number.
type Operand struct {
	Col     string
	Value   float64
	Literal bool
}

// ColOperand creates a column-reference operand.
func ColOperand(col string) Operand {
	return Operand{Col: col}
}

// NumOperand creates a numeric-literal operand.
func NumOperand(v float64) Operand {
	return Operand{Value: v, Literal: true}
}

// UnmarshalJSON accepts either a JSON string (column reference) or a JSON
// number (literal).
func (o *Operand) UnmarshalJSON(data []byte) error {
	var col string
	if err := json.Unmarshal(data, &col); err == nil {
		*o = ColOperand(col)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*o = NumOperand(v)
		return nil
	}
	return fmt.Errorf("operand must be a column name or a number, got %s", data)
}

// MarshalJSON emits the operand in its wire form.
func (o Operand) MarshalJSON() ([]byte, error) {
	if o.Literal {
		return json.Marshal(o.Value)
	}
	return json.Marshal(o.Col)
}

// UnmarshalYAML accepts the same scalar forms as UnmarshalJSON.
func (o *Operand) UnmarshalYAML(node *yaml.Node) error {
	var v float64
	if err := node.Decode(&v); err == nil {
		*o = NumOperand(v)
		return nil
	}
	var col string
	if err := node.Decode(&col); err == nil {
		*o = ColOperand(col)
		return nil
	}
	return fmt.Errorf("operand must be a column name or a number")
}

// String returns the operand as it appears in a strategy definition.
func (o Operand) String() string {
	if o.Literal {
		return fmt.Sprintf("%g", o.Value)
	}
	return o.Col
}

// Condition is a single binary comparison between two operands.
type Condition struct {
	Left  Operand `json:"left" yaml:"left"`
	Op    string  `json:"op" yaml:"op"`
	Right Operand `json:"right" yaml:"right"`
}

// StrategySpec holds the entry and exit rule sets. Each set is a
// conjunction: every member condition must hold at a bar for the flag to be
// true. An empty set never fires.
type StrategySpec struct {
	Entry []Condition `json:"entry" yaml:"entry"`
	Exit  []Condition `json:"exit" yaml:"exit"`
}

// ConditionFn evaluates a compiled condition at one bar index.
type ConditionFn func(bars []types.BarData, idx int) bool

// resolve returns the operand's numeric value at bar idx. Column references
// read raw price fields straight off the bar and everything else from the
// indicator row; missing or non-finite values report ok=false.
func resolve(bars []types.BarData, idx int, o Operand) (float64, bool) {
	if o.Literal {
		return o.Value, true
	}
	if idx < 0 || idx >= len(bars) {
		return math.NaN(), false
	}
	switch o.Col {
	case "open":
		return bars[idx].Bar.Open, true
	case "high":
		return bars[idx].Bar.High, true
	case "low":
		return bars[idx].Bar.Low, true
	case "close":
		return bars[idx].Bar.Close, true
	case "volume":
		return bars[idx].Bar.Volume, true
	}
	return bars[idx].Indicators.Get(o.Col)
}

// Compile turns a condition into a ConditionFn. Unknown operators surface as
// an error; operand resolution failures at evaluation time yield false.
func Compile(cond Condition) (ConditionFn, error) {
	switch cond.Op {
	case OpGT, OpLT, OpGTE, OpLTE, OpEQ, OpNEQ:
		op := cond.Op
		return func(bars []types.BarData, idx int) bool {
			l, ok := resolve(bars, idx, cond.Left)
			if !ok {
				return false
			}
			r, ok := resolve(bars, idx, cond.Right)
			if !ok {
				return false
			}
			return compare(l, op, r)
		}, nil
	case OpCrossAbove:
		return crossFn(cond, true), nil
	case OpCrossBelow:
		return crossFn(cond, false), nil
	default:
		return nil, fmt.Errorf("unknown operator %q", cond.Op)
	}
}

func compare(l float64, op string, r float64) bool {
	switch op {
	case OpGT:
		return l > r
	case OpLT:
		return l < r
	case OpGTE:
		return l >= r
	case OpLTE:
		return l <= r
	case OpEQ:
		return l == r
	case OpNEQ:
		return l != r
	}
	return false
}

// crossFn builds a crossover check. A crossover needs both the previous and
// current values of both operands, so it never fires on the first bar.
func crossFn(cond Condition, above bool) ConditionFn {
	return func(bars []types.BarData, idx int) bool {
		if idx < 1 {
			return false
		}
		currL, ok := resolve(bars, idx, cond.Left)
		if !ok {
			return false
		}
		prevL, ok := resolve(bars, idx-1, cond.Left)
		if !ok {
			return false
		}
		currR, ok := resolve(bars, idx, cond.Right)
		if !ok {
			return false
		}
		prevR, ok := resolve(bars, idx-1, cond.Right)
		if !ok {
			return false
		}
		if above {
			return prevL <= prevR && currL > currR
		}
		return prevL >= prevR && currL < currR
	}
}

// Signals holds per-bar entry and exit flags aligned 1:1 with the bar slice.
type Signals struct {
	Entry []bool
	Exit  []bool
}

// Evaluate compiles the strategy's condition sets and evaluates them at
// every bar. A flag is the AND of all member conditions; an empty condition
// list evaluates to false at every bar.
func Evaluate(spec StrategySpec, bars []types.BarData) (Signals, error) {
	entryFns, err := compileAll(spec.Entry, "entry")
	if err != nil {
		return Signals{}, err
	}
	exitFns, err := compileAll(spec.Exit, "exit")
	if err != nil {
		return Signals{}, err
	}

	sig := Signals{
		Entry: make([]bool, len(bars)),
		Exit:  make([]bool, len(bars)),
	}
	for i := range bars {
		sig.Entry[i] = allTrue(entryFns, bars, i)
		sig.Exit[i] = allTrue(exitFns, bars, i)
	}
	return sig, nil
}

func compileAll(conds []Condition, set string) ([]ConditionFn, error) {
	fns := make([]ConditionFn, 0, len(conds))
	for i, cond := range conds {
		fn, err := Compile(cond)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", set, i, err)
		}
		fns = append(fns, fn)
	}
	return fns, nil
}

func allTrue(fns []ConditionFn, bars []types.BarData, idx int) bool {
	if len(fns) == 0 {
		return false
	}
	for _, fn := range fns {
		if !fn(bars, idx) {
			return false
		}
	}
	return true
}

// RequiredColumns returns every column name referenced by the strategy's
// operands, including raw price fields. The caller hands these to the
// indicator engine.
func RequiredColumns(spec StrategySpec) []string {
	var cols []string
	seen := make(map[string]bool)
	add := func(o Operand) {
		if o.Literal || o.Col == "" || seen[o.Col] {
			return
		}
		seen[o.Col] = true
		cols = append(cols, o.Col)
	}
	for _, c := range spec.Entry {
		add(c.Left)
		add(c.Right)
	}
	for _, c := range spec.Exit {
		add(c.Left)
		add(c.Right)
	}
	return cols
}

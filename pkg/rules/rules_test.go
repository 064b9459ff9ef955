package rules

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/algomatic/backtest-service/pkg/types"
)

// makeBars creates a slice of BarData from close prices.
func makeBars(closes []float64) []types.BarData {
	bars := make([]types.BarData, len(closes))
	for i, c := range closes {
		bars[i] = types.BarData{
			Bar: types.Bar{
				Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
				Open:      c - 0.5,
				High:      c + 1.0,
				Low:       c - 1.0,
				Close:     c,
				Volume:    1000,
			},
			Indicators: make(types.IndicatorRow),
		}
	}
	return bars
}

// makeBarsWithIndicators creates bars from close prices and adds named
// indicator arrays.
func makeBarsWithIndicators(closes []float64, indicators map[string][]float64) []types.BarData {
	bars := makeBars(closes)
	for i := range bars {
		for name, values := range indicators {
			if i < len(values) {
				bars[i].Indicators[name] = values[i]
			}
		}
	}
	return bars
}

func TestOperandJSON(t *testing.T) {
	var col Operand
	if err := json.Unmarshal([]byte(`"sma_50"`), &col); err != nil {
		t.Fatalf("unmarshal column: %v", err)
	}
	if col.Literal || col.Col != "sma_50" {
		t.Errorf("got %+v, want column reference sma_50", col)
	}

	var num Operand
	if err := json.Unmarshal([]byte(`42.5`), &num); err != nil {
		t.Fatalf("unmarshal number: %v", err)
	}
	if !num.Literal || num.Value != 42.5 {
		t.Errorf("got %+v, want literal 42.5", num)
	}

	var bad Operand
	if err := json.Unmarshal([]byte(`[1,2]`), &bad); err == nil {
		t.Error("expected error for non-scalar operand")
	}

	out, err := json.Marshal(ColOperand("close"))
	if err != nil || string(out) != `"close"` {
		t.Errorf("marshal column = %s (%v), want \"close\"", out, err)
	}
	out, err = json.Marshal(NumOperand(30))
	if err != nil || string(out) != `30` {
		t.Errorf("marshal literal = %s (%v), want 30", out, err)
	}
}

func TestCompileComparisons(t *testing.T) {
	bars := makeBarsWithIndicators(
		[]float64{100, 101, 102},
		map[string][]float64{"rsi_14": {30, 55, 70}},
	)

	tests := []struct {
		op   string
		idx  int
		want bool
	}{
		{OpGT, 0, false},
		{OpGT, 2, true},
		{OpLT, 0, true},
		{OpGTE, 1, true},
		{OpLTE, 1, true},
		{OpEQ, 1, true},
		{OpEQ, 2, false},
		{OpNEQ, 2, true},
	}
	for _, tt := range tests {
		fn, err := Compile(Condition{Left: ColOperand("rsi_14"), Op: tt.op, Right: NumOperand(55)})
		if err != nil {
			t.Fatalf("Compile(%s): %v", tt.op, err)
		}
		if got := fn(bars, tt.idx); got != tt.want {
			t.Errorf("rsi_14 %s 55 at idx %d = %v, want %v", tt.op, tt.idx, got, tt.want)
		}
	}
}

func TestCompileUnknownOperator(t *testing.T) {
	_, err := Compile(Condition{Left: ColOperand("close"), Op: "~=", Right: NumOperand(1)})
	if err == nil {
		t.Error("expected error for unknown operator")
	}
}

func TestCrossAbove(t *testing.T) {
	bars := makeBarsWithIndicators(
		[]float64{100, 101, 102, 103, 104},
		map[string][]float64{
			"ema_20": {50, 49, 48, 51, 52},
			"ema_50": {50, 50, 50, 50, 50},
		},
	)
	fn, err := Compile(Condition{Left: ColOperand("ema_20"), Op: OpCrossAbove, Right: ColOperand("ema_50")})
	if err != nil {
		t.Fatal(err)
	}

	if fn(bars, 0) {
		t.Error("expected false at idx 0 (no prior bar)")
	}
	if fn(bars, 1) {
		t.Error("expected false at idx 1 (no cross)")
	}
	if !fn(bars, 3) {
		t.Error("expected true at idx 3 (48->51 crosses 50)")
	}
	if fn(bars, 4) {
		t.Error("expected false at idx 4 (already above)")
	}
}

func TestCrossDirectionsMutuallyExclusive(t *testing.T) {
	bars := makeBarsWithIndicators(
		[]float64{100, 101, 102, 103, 104, 105},
		map[string][]float64{
			"fast": {48, 51, 49, 50, 53, 47},
			"slow": {50, 50, 50, 50, 50, 50},
		},
	)
	above, _ := Compile(Condition{Left: ColOperand("fast"), Op: OpCrossAbove, Right: ColOperand("slow")})
	below, _ := Compile(Condition{Left: ColOperand("fast"), Op: OpCrossBelow, Right: ColOperand("slow")})

	for i := range bars {
		a, b := above(bars, i), below(bars, i)
		if a && b {
			t.Errorf("cross_above and cross_below both fired at idx %d", i)
		}
	}
	if !above(bars, 1) || !below(bars, 2) || !above(bars, 4) || !below(bars, 5) {
		t.Error("expected crossings at idx 1 (up), 2 (down), 4 (up), 5 (down)")
	}
}

func TestPriceFieldOperands(t *testing.T) {
	bars := makeBars([]float64{10, 11, 9})
	fn, err := Compile(Condition{Left: ColOperand("close"), Op: OpGT, Right: NumOperand(10)})
	if err != nil {
		t.Fatal(err)
	}
	want := []bool{false, true, false}
	for i := range bars {
		if got := fn(bars, i); got != want[i] {
			t.Errorf("close > 10 at idx %d = %v, want %v", i, got, want[i])
		}
	}
}

func TestMissingIndicatorIsFalse(t *testing.T) {
	bars := makeBars([]float64{100, 101})
	fn, err := Compile(Condition{Left: ColOperand("rsi_14"), Op: OpGT, Right: NumOperand(0)})
	if err != nil {
		t.Fatal(err)
	}
	for i := range bars {
		if fn(bars, i) {
			t.Errorf("condition on a missing indicator should be false at idx %d", i)
		}
	}
}

func TestEvaluateEmptyConditionList(t *testing.T) {
	bars := makeBars([]float64{10, 11, 12})
	sig, err := Evaluate(StrategySpec{}, bars)
	if err != nil {
		t.Fatal(err)
	}
	for i := range bars {
		if sig.Entry[i] || sig.Exit[i] {
			t.Errorf("empty condition lists must never fire (idx %d)", i)
		}
	}
}

func TestEvaluateConjunction(t *testing.T) {
	bars := makeBarsWithIndicators(
		[]float64{10, 11, 12},
		map[string][]float64{"rsi_3": {40, 60, 60}},
	)
	spec := StrategySpec{
		Entry: []Condition{
			{Left: ColOperand("close"), Op: OpGT, Right: NumOperand(10)},
			{Left: ColOperand("rsi_3"), Op: OpGT, Right: NumOperand(50)},
		},
	}
	sig, err := Evaluate(spec, bars)
	if err != nil {
		t.Fatal(err)
	}

	want := []bool{false, true, true}
	for i := range want {
		if sig.Entry[i] != want[i] {
			t.Errorf("entry[%d] = %v, want %v", i, sig.Entry[i], want[i])
		}
	}
}

func TestRequiredColumns(t *testing.T) {
	spec := StrategySpec{
		Entry: []Condition{
			{Left: ColOperand("sma_20"), Op: OpCrossAbove, Right: ColOperand("sma_50")},
			{Left: ColOperand("close"), Op: OpGT, Right: NumOperand(100)},
		},
		Exit: []Condition{
			{Left: ColOperand("sma_20"), Op: OpCrossBelow, Right: ColOperand("sma_50")},
		},
	}
	cols := RequiredColumns(spec)

	want := map[string]bool{"sma_20": true, "sma_50": true, "close": true}
	if len(cols) != len(want) {
		t.Fatalf("got %d columns %v, want %d unique", len(cols), cols, len(want))
	}
	for _, col := range cols {
		if !want[col] {
			t.Errorf("unexpected column %q", col)
		}
	}
}

func TestValidate(t *testing.T) {
	spec := StrategySpec{
		Entry: []Condition{
			{Left: ColOperand("wavetrend_9"), Op: OpGT, Right: NumOperand(5)},
			{Left: ColOperand("close"), Op: "between", Right: NumOperand(5)},
		},
		Exit: []Condition{
			{Left: Operand{}, Op: OpLT, Right: ColOperand("sma_20")},
		},
	}
	errs := Validate(spec)
	if len(errs) != 3 {
		t.Fatalf("got %d errors %v, want 3", len(errs), errs)
	}

	fields := make(map[string]bool)
	for _, e := range errs {
		fields[e.Field] = true
	}
	for _, want := range []string{"entry[0].left", "entry[1].op", "exit[0].left"} {
		if !fields[want] {
			t.Errorf("missing error for field %s (got %v)", want, errs)
		}
	}
}

func TestValidateOK(t *testing.T) {
	spec := StrategySpec{
		Entry: []Condition{{Left: ColOperand("rsi_14"), Op: OpLT, Right: NumOperand(30)}},
		Exit:  []Condition{{Left: ColOperand("rsi_14"), Op: OpGT, Right: NumOperand(70)}},
	}
	if errs := Validate(spec); len(errs) != 0 {
		t.Errorf("valid strategy reported errors: %v", errs)
	}
}

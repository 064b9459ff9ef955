package rules

import (
	"os"
	"path/filepath"
	"testing"
)

func writeStrategy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeStrategy(t, `
name: sma-cross
strategy:
  entry:
    - {left: sma_20, op: cross_above, right: sma_50}
    - {left: rsi_14, op: "<", right: 70}
  exit:
    - {left: sma_20, op: cross_below, right: sma_50}
execution:
  order_type: market
  quantity_pct: 50
  fee_bps: 10
  slippage_bps: 5
  starting_capital: 25000
`)

	sf, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if sf.Name != "sma-cross" {
		t.Errorf("name = %q, want sma-cross", sf.Name)
	}
	if len(sf.Strategy.Entry) != 2 || len(sf.Strategy.Exit) != 1 {
		t.Fatalf("got %d entry / %d exit conditions, want 2 / 1",
			len(sf.Strategy.Entry), len(sf.Strategy.Exit))
	}

	second := sf.Strategy.Entry[1]
	if second.Left.Col != "rsi_14" || second.Op != OpLT {
		t.Errorf("entry[1] = %+v, want rsi_14 < 70", second)
	}
	if !second.Right.Literal || second.Right.Value != 70 {
		t.Errorf("entry[1].right = %+v, want literal 70", second.Right)
	}

	if sf.Execution == nil || sf.Execution.QuantityPct != 50 || sf.Execution.StartingCapital != 25000 {
		t.Errorf("execution = %+v, want quantity_pct 50 and capital 25000", sf.Execution)
	}
}

func TestLoadFileDefaultsExecution(t *testing.T) {
	path := writeStrategy(t, `
name: bare
strategy:
  entry:
    - {left: close, op: ">", right: 100}
  exit:
    - {left: close, op: "<", right: 90}
`)

	sf, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if sf.Execution == nil {
		t.Fatal("expected default execution config")
	}
	if sf.Execution.QuantityPct != 100 || sf.Execution.StartingCapital != 10000 {
		t.Errorf("defaults = %+v, want quantity_pct 100 and capital 10000", sf.Execution)
	}
}

func TestLoadFileInvalidStrategy(t *testing.T) {
	path := writeStrategy(t, `
name: broken
strategy:
  entry:
    - {left: wavetrend_9, op: ">", right: 5}
`)
	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for unknown indicator in strategy file")
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

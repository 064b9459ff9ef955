package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/algomatic/backtest-service/pkg/types"
)

// StrategyFile is the on-disk YAML form of a strategy used by the CLI:
//
//	name: sma-cross
//	strategy:
//	  entry:
//	    - {left: sma_20, op: cross_above, right: sma_50}
//	  exit:
//	    - {left: sma_20, op: cross_below, right: sma_50}
//	execution:
//	  fee_bps: 10
//	  slippage_bps: 5
type StrategyFile struct {
	Name      string                 `yaml:"name"`
	Strategy  StrategySpec           `yaml:"strategy"`
	Execution *types.ExecutionConfig `yaml:"execution"`
}

// LoadFile reads and validates a strategy YAML file. Execution defaults are
// applied when the file omits the execution block.
func LoadFile(path string) (*StrategyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading strategy file: %w", err)
	}

	var sf StrategyFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parsing strategy file: %w", err)
	}

	if errs := Validate(sf.Strategy); len(errs) > 0 {
		return nil, fmt.Errorf("invalid strategy %s: %v", path, errs)
	}

	if sf.Execution == nil {
		cfg := types.DefaultExecutionConfig()
		sf.Execution = &cfg
	}
	return &sf, nil
}

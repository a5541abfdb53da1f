package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/quantfoundry/sigforge/internal/dataio"
	"github.com/quantfoundry/sigforge/internal/engine/detect"
)

// detectResult is the CLI payload for a detect run.
type detectResult struct {
	Operator detect.Operator `json:"operator"`
	Count    int             `json:"count"`
	Events   []detect.Event  `json:"events"`
}

func runDetect(cmd *cobra.Command, args []string) error {
	const op = "detect"

	path, _ := cmd.Flags().GetString("prices")
	primary, err := dataio.LoadPrices(path, "primary")
	if err != nil {
		return emit(cmd, op, nil, err)
	}

	rawOp, _ := cmd.Flags().GetString("operator")
	operator, err := detect.ParseOperator(rawOp)
	if err != nil {
		return emit(cmd, op, nil, err)
	}

	operand, err := buildOperand(cmd, operator)
	if err != nil {
		return emit(cmd, op, nil, err)
	}

	epsilon, _ := cmd.Flags().GetFloat64("epsilon")
	events, err := detect.Compare(primary, operand, operator, detect.WithEpsilon(epsilon))
	if err != nil {
		return emit(cmd, op, nil, err)
	}
	return emit(cmd, op, detectResult{Operator: operator, Count: len(events), Events: events}, nil)
}

// buildOperand assembles the right-hand side from the detect flags: a
// lower/upper band for band operators, otherwise a second series file or
// the constant --value.
func buildOperand(cmd *cobra.Command, operator detect.Operator) (detect.Operand, error) {
	if operator == detect.OpBetween || operator == detect.OpOutside {
		rawLower, _ := cmd.Flags().GetString("lower")
		rawUpper, _ := cmd.Flags().GetString("upper")
		if rawLower == "" || rawUpper == "" {
			return detect.Operand{}, fmt.Errorf("%s needs both --lower and --upper", operator)
		}
		lower, err := parseBound(rawLower)
		if err != nil {
			return detect.Operand{}, err
		}
		upper, err := parseBound(rawUpper)
		if err != nil {
			return detect.Operand{}, err
		}
		return detect.Band(lower, upper), nil
	}

	if path, _ := cmd.Flags().GetString("against"); path != "" {
		s, err := dataio.LoadPrices(path, "operand")
		if err != nil {
			return detect.Operand{}, err
		}
		return detect.With(s), nil
	}
	value, _ := cmd.Flags().GetFloat64("value")
	return detect.Const(value), nil
}

// parseBound reads a band bound: a numeric literal or a series file.
func parseBound(raw string) (detect.Operand, error) {
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return detect.Const(v), nil
	}
	s, err := dataio.LoadPrices(raw, "bound")
	if err != nil {
		return detect.Operand{}, fmt.Errorf("bound %q is neither a number nor a readable series file: %w", raw, err)
	}
	return detect.With(s), nil
}

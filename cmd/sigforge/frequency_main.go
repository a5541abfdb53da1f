package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantfoundry/sigforge/internal/engine/frequency"
)

func runFrequency(cmd *cobra.Command, args []string) error {
	const op = "frequency"

	path, _ := cmd.Flags().GetString("signals")
	set, err := loadSignalSet(path)
	if err != nil {
		return emit(cmd, op, nil, err)
	}

	raw, _ := cmd.Flags().GetString("granularity")
	granularity, ok := frequency.ParseGranularity(raw)
	if !ok {
		return emit(cmd, op, nil, fmt.Errorf("unknown granularity %q, want daily, weekly or monthly", raw))
	}

	report, err := frequency.Analyze(set, granularity)
	return emit(cmd, op, report, err)
}

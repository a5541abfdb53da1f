package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantfoundry/sigforge/internal/engine/falsesig"
	"github.com/quantfoundry/sigforge/internal/report"
)

func runFalseSignals(cmd *cobra.Command, args []string) error {
	const op = "falsesignals"

	sigPath, _ := cmd.Flags().GetString("signals")
	set, err := loadSignalSet(sigPath)
	if err != nil {
		return emit(cmd, op, nil, err)
	}
	prices, err := loadPriceInput(cmd)
	if err != nil {
		return emit(cmd, op, nil, err)
	}

	threshold, _ := cmd.Flags().GetFloat64("threshold")
	if threshold <= 0 {
		threshold = cfg.Engine.MoveThreshold
	}
	var opts []falsesig.Option
	if fail, _ := cmd.Flags().GetFloat64("fail-threshold"); fail > 0 {
		opts = append(opts, falsesig.WithFailThreshold(fail))
	}

	rep, err := falsesig.Evaluate(set, prices, threshold, opts...)
	if err != nil {
		return emit(cmd, op, nil, err)
	}

	if dir, _ := cmd.Flags().GetString("report"); dir != "" {
		writer := report.NewWriter(dir)
		if err := writer.WriteFalseSignalReport(rep); err != nil {
			return emit(cmd, op, nil, err)
		}
		log.Info().Str("dir", writer.GetOutputDir()).Msg("false signal report written")
	}
	return emit(cmd, op, rep, nil)
}

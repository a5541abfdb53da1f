package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantfoundry/sigforge/internal/engine/quality"
	"github.com/quantfoundry/sigforge/internal/report"
)

func runQuality(cmd *cobra.Command, args []string) error {
	const op = "quality"

	sigPath, _ := cmd.Flags().GetString("signals")
	set, err := loadSignalSet(sigPath)
	if err != nil {
		return emit(cmd, op, nil, err)
	}
	prices, err := loadPriceInput(cmd)
	if err != nil {
		return emit(cmd, op, nil, err)
	}

	var opts []quality.Option
	if horizons, _ := cmd.Flags().GetIntSlice("horizons"); len(horizons) > 0 {
		opts = append(opts, quality.WithHorizons(horizons...))
	}
	if primary, _ := cmd.Flags().GetInt("primary-horizon"); primary > 0 {
		opts = append(opts, quality.WithPrimaryHorizon(primary))
	}

	rep, err := quality.Analyze(set, prices, opts...)
	if err != nil {
		return emit(cmd, op, nil, err)
	}

	if dir, _ := cmd.Flags().GetString("report"); dir != "" {
		writer := report.NewWriter(dir)
		if err := writer.WriteQualityReport(rep); err != nil {
			return emit(cmd, op, nil, err)
		}
		log.Info().Str("dir", writer.GetOutputDir()).Msg("quality report written")
	}
	return emit(cmd, op, rep, nil)
}

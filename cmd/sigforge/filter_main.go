package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantfoundry/sigforge/internal/dataio"
	"github.com/quantfoundry/sigforge/internal/domain/signal"
	"github.com/quantfoundry/sigforge/internal/engine/filter"
)

// filterResult is the CLI payload for a filter run.
type filterResult struct {
	Signals signal.Set   `json:"signals"`
	Stats   filter.Stats `json:"stats"`
}

func runFilter(cmd *cobra.Command, args []string) error {
	const op = "filter"

	path, _ := cmd.Flags().GetString("signals")
	set, err := loadSignalSet(path)
	if err != nil {
		return emit(cmd, op, nil, err)
	}

	specs, err := buildFilterSpecs(cmd)
	if err != nil {
		return emit(cmd, op, nil, err)
	}

	filtered, stats := filter.Apply(set, specs)

	if save, _ := cmd.Flags().GetString("save"); save != "" {
		if err := dataio.SaveSignalsJSON(save, filtered); err != nil {
			return emit(cmd, op, nil, err)
		}
		log.Info().Str("path", save).Int("signals", len(filtered)).Msg("filtered set written")
	}
	return emit(cmd, op, filterResult{Signals: filtered, Stats: stats}, nil)
}

// buildFilterSpecs assembles the pipeline from whichever filter flags
// were set, in a fixed strength, type, time, interval, method order.
func buildFilterSpecs(cmd *cobra.Command) ([]filter.Spec, error) {
	var specs []filter.Spec

	if cmd.Flags().Changed("min-strength") || cmd.Flags().Changed("max-strength") {
		min, _ := cmd.Flags().GetFloat64("min-strength")
		max, _ := cmd.Flags().GetFloat64("max-strength")
		specs = append(specs, filter.StrengthRange(min, max))
	}
	if rawTypes, _ := cmd.Flags().GetStringSlice("types"); len(rawTypes) > 0 {
		types := make([]signal.Type, len(rawTypes))
		for i, raw := range rawTypes {
			types[i] = signal.ParseType(raw)
		}
		specs = append(specs, filter.Types(types...))
	}

	rawFrom, _ := cmd.Flags().GetString("from")
	rawTo, _ := cmd.Flags().GetString("to")
	if rawFrom != "" || rawTo != "" {
		spec := filter.Spec{Kind: filter.KindTimeRange}
		var err error
		if rawFrom != "" {
			if spec.From, err = dataio.ParseTimestamp(rawFrom); err != nil {
				return nil, fmt.Errorf("bad --from: %w", err)
			}
		}
		if rawTo != "" {
			if spec.To, err = dataio.ParseTimestamp(rawTo); err != nil {
				return nil, fmt.Errorf("bad --to: %w", err)
			}
		}
		specs = append(specs, spec)
	}

	if interval, _ := cmd.Flags().GetDuration("min-interval"); interval > 0 {
		specs = append(specs, filter.MinInterval(interval))
	}
	if methods, _ := cmd.Flags().GetStringSlice("methods"); len(methods) > 0 {
		specs = append(specs, filter.Methods(methods...))
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("no filter flags given, nothing to apply")
	}
	return specs, nil
}

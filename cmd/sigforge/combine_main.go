package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantfoundry/sigforge/internal/dataio"
	"github.com/quantfoundry/sigforge/internal/domain/signal"
	"github.com/quantfoundry/sigforge/internal/engine/combine"
)

// combineResult is the CLI payload for a combine run.
type combineResult struct {
	Signals signal.Set    `json:"signals"`
	Stats   combine.Stats `json:"stats"`
}

func runCombine(cmd *cobra.Command, args []string) error {
	const op = "combine"

	paths, _ := cmd.Flags().GetStringArray("signals")
	if len(paths) < 2 {
		return emit(cmd, op, nil, fmt.Errorf("need at least 2 --signals files, got %d", len(paths)))
	}

	sources := make([]signal.Set, 0, len(paths))
	for _, path := range paths {
		set, err := loadSignalSet(path)
		if err != nil {
			return emit(cmd, op, nil, fmt.Errorf("source %s: %w", path, err))
		}
		// Unlabeled sources inherit their file name so provenance
		// stays readable.
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		for i := range set {
			if set[i].Source == "" {
				set[i].Source = name
			}
		}
		sources = append(sources, set)
	}

	var opts []combine.Option
	if alignment, _ := cmd.Flags().GetDuration("alignment"); alignment > 0 {
		opts = append(opts, combine.WithAlignment(alignment))
	} else if d, err := cfg.Engine.GetAlignment(); err == nil {
		opts = append(opts, combine.WithAlignment(d))
	}
	if minSources, _ := cmd.Flags().GetInt("min-sources"); minSources > 0 {
		opts = append(opts, combine.WithMinSources(minSources))
	} else if cfg.Engine.MinSources > 0 {
		opts = append(opts, combine.WithMinSources(cfg.Engine.MinSources))
	}

	rawMethod, _ := cmd.Flags().GetString("method")
	method := combine.Method(strings.ToLower(strings.TrimSpace(rawMethod)))

	combined, stats, err := combine.Combine(sources, method, opts...)
	if err != nil {
		return emit(cmd, op, nil, err)
	}

	if save, _ := cmd.Flags().GetString("save"); save != "" {
		if err := dataio.SaveSignalsJSON(save, combined); err != nil {
			return emit(cmd, op, nil, err)
		}
		log.Info().Str("path", save).Int("signals", len(combined)).Msg("consensus set written")
	}
	return emit(cmd, op, combineResult{Signals: combined, Stats: stats}, nil)
}

package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantfoundry/sigforge/internal/config"
	"github.com/quantfoundry/sigforge/internal/engine/optimize"
	"github.com/quantfoundry/sigforge/internal/engine/strategy"
	applog "github.com/quantfoundry/sigforge/internal/log"
	"github.com/quantfoundry/sigforge/internal/report"
)

func runOptimize(cmd *cobra.Command, args []string) error {
	const op = "optimize"

	prices, err := loadPriceInput(cmd)
	if err != nil {
		return emit(cmd, op, nil, err)
	}

	strategyID, ranges, workers, err := resolveOptimizeInputs(cmd)
	if err != nil {
		return emit(cmd, op, nil, err)
	}
	if workers <= 0 {
		workers = cfg.Engine.Workers
	}

	opts := []optimize.Option{optimize.WithWorkers(workers)}
	if total := gridSize(strategyID, ranges); total > 0 {
		rawMode, _ := cmd.Flags().GetString("progress")
		indicator := applog.NewProgressIndicator("grid search", total, applog.ParseMode(rawMode))
		opts = append(opts, optimize.WithProgress(func(done, _ int) {
			indicator.Increment()
		}))
		defer indicator.Finish()
	}

	outcome, err := optimize.Optimize(cmd.Context(), prices, strategyID, ranges, opts...)
	if err != nil {
		return emit(cmd, op, nil, err)
	}

	if dir, _ := cmd.Flags().GetString("report"); dir != "" {
		if err := writeOptimizationArtifacts(cmd, dir, outcome); err != nil {
			return emit(cmd, op, nil, err)
		}
	}
	return emit(cmd, op, outcome, nil)
}

// resolveOptimizeInputs merges the three parameter sources: --range flags
// beat the profile, the profile beats strategy defaults (which the
// optimizer itself fills in).
func resolveOptimizeInputs(cmd *cobra.Command) (string, map[string][]float64, int, error) {
	strategyID, _ := cmd.Flags().GetString("strategy")
	workers, _ := cmd.Flags().GetInt("workers")

	rawRanges, _ := cmd.Flags().GetStringArray("range")
	ranges, err := parseRanges(rawRanges)
	if err != nil {
		return "", nil, 0, err
	}

	profilesPath, _ := cmd.Flags().GetString("profiles")
	profileName, _ := cmd.Flags().GetString("profile")
	if profilesPath == "" && profileName == "" {
		if strategyID == "" {
			return "", nil, 0, fmt.Errorf("either --strategy or a --profiles file is required")
		}
		return strategyID, ranges, workers, nil
	}

	if profilesPath == "" {
		profilesPath = config.GetProfilesConfigPath()
	}
	profiles, err := config.LoadProfilesConfig(profilesPath)
	if err != nil {
		return "", nil, 0, err
	}
	var profile *config.OptimizerProfile
	if profileName != "" {
		profile, err = profiles.GetProfile(profileName)
	} else {
		profile, err = profiles.GetActiveProfile()
	}
	if err != nil {
		return "", nil, 0, err
	}
	if problems := profile.ValidateProfile(); len(problems) > 0 {
		return "", nil, 0, fmt.Errorf("profile %s: %s", profile.Name, strings.Join(problems, "; "))
	}

	if strategyID == "" {
		strategyID = profile.Strategy
	}
	merged := make(map[string][]float64, len(profile.Ranges)+len(ranges))
	for name, values := range profile.Ranges {
		merged[name] = values
	}
	for name, values := range ranges {
		merged[name] = values
	}
	if workers <= 0 {
		workers = profile.Workers
	}
	log.Info().Str("profile", profile.Name).Str("strategy", strategyID).Msg("using optimization profile")
	return strategyID, merged, workers, nil
}

// gridSize predicts the combination count so the progress indicator can
// show an ETA. Unknown strategies report 0 and let the optimizer fail
// with its structured error.
func gridSize(strategyID string, ranges map[string][]float64) int {
	strat, ok := strategy.Get(strategyID)
	if !ok {
		return 0
	}
	names := make(map[string]int)
	for name, values := range strat.Defaults {
		names[name] = len(values)
	}
	for name, values := range ranges {
		names[name] = len(values)
	}
	size := 1
	for _, n := range names {
		if n == 0 {
			return 0
		}
		size *= n
	}
	if len(names) == 0 {
		return 0
	}
	return size
}

// writeOptimizationArtifacts renders the outcome in every requested
// format under the dated report directory.
func writeOptimizationArtifacts(cmd *cobra.Command, dir string, outcome *optimize.Outcome) error {
	rawFormats, _ := cmd.Flags().GetString("format")
	writer := report.NewWriter(dir)

	for _, format := range strings.Split(rawFormats, ",") {
		var err error
		switch strings.ToLower(strings.TrimSpace(format)) {
		case "md", "markdown":
			err = writer.WriteOptimizationReport(outcome)
		case "csv":
			err = writer.WriteOptimizationCSV(outcome)
		case "jsonl":
			err = writer.WriteOptimization(outcome)
		case "xlsx":
			err = writer.WriteOptimizationWorkbook(outcome)
		case "":
			continue
		default:
			err = fmt.Errorf("unknown report format %q", format)
		}
		if err != nil {
			return err
		}
	}
	log.Info().Str("dir", writer.GetOutputDir()).Str("formats", rawFormats).Msg("optimization artifacts written")
	return nil
}

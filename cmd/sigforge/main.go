package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/quantfoundry/sigforge/internal/config"
	applog "github.com/quantfoundry/sigforge/internal/log"
)

const (
	appName = "sigforge"
	version = "v1.2.0"
)

var buildStamp = "dev"

// cfg is loaded once in the root PersistentPreRunE and shared by every
// subcommand.
var cfg *config.Config

func main() {
	zerolog.TimeFieldFormat = time.RFC3339

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Signal detection and strategy validation engine",
		Version: version,
		Long: `sigforge detects conditions in price series, merges signals from
independent sources into consensus signals, backtests and scores signal
quality, flags likely-false signals, and grid-searches strategy
parameters.

All commands operate on finite, caller-supplied historical series. Price
files are CSV (timestamp,value) or JSON; signal files are JSON arrays or
CSV with timestamp and type columns.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			level, _ := cmd.Flags().GetString("log-level")

			var err error
			if configPath != "" {
				cfg, err = config.Load(configPath)
			} else {
				cfg, err = config.Default()
			}
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if level != "" {
				cfg.Log.Level = level
			}
			applog.Setup(cfg.Log.Level, cfg.Log.Console)
			return nil
		},
	}
	// Accept snake_case spellings of every flag, matching the YAML keys.
	rootCmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.PersistentFlags().String("config", "", "Path to sigforge.yaml (defaults built in)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level override (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Write the result envelope to this file instead of stdout")

	detectCmd := &cobra.Command{
		Use:   "detect",
		Short: "Detect condition events in a price series",
		Long: `Scans a series for indices where a comparison holds: threshold
operators against a constant or a second series, crossovers, or band
conditions (between/outside) against constant or series bounds.`,
		RunE: runDetect,
	}
	detectCmd.Flags().String("prices", "", "Primary series file (required)")
	detectCmd.Flags().String("operator", ">", "Comparison operator (>, <, >=, <=, ==, crossover_up, crossover_down, between, outside)")
	detectCmd.Flags().Float64("value", 0, "Constant operand")
	detectCmd.Flags().String("against", "", "Second series file operand")
	detectCmd.Flags().String("lower", "", "Band lower bound: a number or a series file")
	detectCmd.Flags().String("upper", "", "Band upper bound: a number or a series file")
	detectCmd.Flags().Float64("epsilon", 0, "Equality tolerance for ==")
	detectCmd.MarkFlagRequired("prices")

	frequencyCmd := &cobra.Command{
		Use:   "frequency",
		Short: "Analyze signal timing distribution",
		Long: `Buckets a signal set by calendar period and reports count, gap,
type, strength, and clustering statistics.`,
		RunE: runFrequency,
	}
	frequencyCmd.Flags().String("signals", "", "Signal set file (required)")
	frequencyCmd.Flags().String("granularity", "daily", "Bucket granularity (daily|weekly|monthly)")
	frequencyCmd.MarkFlagRequired("signals")

	combineCmd := &cobra.Command{
		Use:   "combine",
		Short: "Merge signal sets into consensus signals",
		Long: `Merges two or more independently generated signal sets. Signals are
grouped by rounded timestamp; each group with enough distinct sources is
resolved by the chosen consensus method.`,
		RunE: runCombine,
	}
	combineCmd.Flags().StringArray("signals", nil, "Signal set file, repeat per source (at least 2)")
	combineCmd.Flags().String("method", "majority", "Consensus method (majority|unanimous|weighted|any)")
	combineCmd.Flags().Duration("alignment", 0, "Timestamp rounding window (default from config)")
	combineCmd.Flags().Int("min-sources", 0, "Distinct sources a group needs (default from config)")
	combineCmd.Flags().String("save", "", "Also write the consensus set to this JSON file")

	filterCmd := &cobra.Command{
		Use:   "filter",
		Short: "Run a filter pipeline over a signal set",
		Long: `Applies filter steps in the order given on the command line. Each
step consumes the survivors of the previous one and records what it
removed.`,
		RunE: runFilter,
	}
	filterCmd.Flags().String("signals", "", "Signal set file (required)")
	filterCmd.Flags().Float64("min-strength", 0, "Keep signals with strength >= this")
	filterCmd.Flags().Float64("max-strength", 1, "Keep signals with strength <= this")
	filterCmd.Flags().StringSlice("types", nil, "Keep only these signal types")
	filterCmd.Flags().String("from", "", "Keep signals at or after this timestamp")
	filterCmd.Flags().String("to", "", "Keep signals at or before this timestamp")
	filterCmd.Flags().Duration("min-interval", 0, "Minimum gap between surviving signals")
	filterCmd.Flags().StringSlice("methods", nil, "Keep only signals from these methods")
	filterCmd.Flags().String("save", "", "Also write the surviving set to this JSON file")
	filterCmd.MarkFlagRequired("signals")

	qualityCmd := &cobra.Command{
		Use:   "quality",
		Short: "Backtest and score a signal set",
		Long: `Backtests every signal against the price series at the configured
holding horizons and reports win rate, return statistics, significance,
and a 0-100 composite quality score.`,
		RunE: runQuality,
	}
	addPriceSourceFlags(qualityCmd)
	qualityCmd.Flags().String("signals", "", "Signal set file (required)")
	qualityCmd.Flags().IntSlice("horizons", nil, "Holding horizons in periods (default 1,5,10,20)")
	qualityCmd.Flags().Int("primary-horizon", 0, "Horizon used as the scored outcome (default 5)")
	qualityCmd.Flags().String("report", "", "Write a markdown report under this directory")
	qualityCmd.MarkFlagRequired("signals")

	falseSignalsCmd := &cobra.Command{
		Use:   "falsesignals",
		Short: "Flag likely-false signals",
		Long: `Runs four independent validation checks per signal (immediate
direction, threshold reached, no quick reversal, volatility justified)
and flags signals failing too many of them.`,
		RunE: runFalseSignals,
	}
	addPriceSourceFlags(falseSignalsCmd)
	falseSignalsCmd.Flags().String("signals", "", "Signal set file (required)")
	falseSignalsCmd.Flags().Float64("threshold", 0, "Favorable move threshold, e.g. 0.02 (default from config)")
	falseSignalsCmd.Flags().Float64("fail-threshold", 0, "Weighted check votes needed to flag a signal (default 2)")
	falseSignalsCmd.Flags().String("report", "", "Write a markdown report under this directory")
	falseSignalsCmd.MarkFlagRequired("signals")

	optimizeCmd := &cobra.Command{
		Use:   "optimize",
		Short: "Grid search strategy parameters",
		Long: `Evaluates every combination of the parameter ranges for a strategy
against the price series, ranks combinations by composite score, and
reports parameter importance and top-decile stability.

Ranges come from --range flags, an optimization profile, or the
strategy's built-in defaults, in that order of precedence.`,
		RunE: runOptimize,
	}
	addPriceSourceFlags(optimizeCmd)
	optimizeCmd.Flags().String("strategy", "", "Strategy id (rsi|ma_cross|momentum|macd|bollinger)")
	optimizeCmd.Flags().StringArray("range", nil, "Parameter range, e.g. --range period=7,14,21 (repeatable)")
	optimizeCmd.Flags().String("profiles", "", "Optimization profiles YAML file")
	optimizeCmd.Flags().String("profile", "", "Profile name from the profiles file (default: its active profile)")
	optimizeCmd.Flags().Int("workers", 0, "Concurrent grid cells (default from config)")
	optimizeCmd.Flags().String("progress", "auto", "Progress output mode (auto|plain|json)")
	optimizeCmd.Flags().String("report", "", "Write report artifacts under this directory")
	optimizeCmd.Flags().String("format", "md", "Report formats, comma separated (md,csv,jsonl,xlsx)")

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch historical prices from the market data provider",
		Long: `Fetches historical OHLC candles for a pair and writes the close
series as a CSV usable by the analysis commands.`,
		RunE: runFetch,
	}
	fetchCmd.Flags().String("pair", "XBTUSD", "Trading pair")
	fetchCmd.Flags().Duration("interval", time.Hour, "Candle interval")
	fetchCmd.Flags().Duration("lookback", 90*24*time.Hour, "How far back to fetch")
	fetchCmd.Flags().String("save", "", "Destination CSV file (required)")
	fetchCmd.MarkFlagRequired("save")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis API over HTTP",
		Long: `Starts the local read-only HTTP server exposing one POST endpoint
per analysis operation plus /health and /metrics.`,
		RunE: runServe,
	}
	serveCmd.Flags().String("host", "", "Listen host override")
	serveCmd.Flags().Int("port", 0, "Listen port override")

	strategiesCmd := &cobra.Command{
		Use:   "strategies",
		Short: "List built-in strategies and their default grids",
		RunE:  runStrategies,
	}

	rootCmd.AddCommand(detectCmd, frequencyCmd, combineCmd, filterCmd,
		qualityCmd, falseSignalsCmd, optimizeCmd, fetchCmd, serveCmd,
		strategiesCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// addPriceSourceFlags attaches the shared price input flags: a local
// file, or a pair fetched through the provider.
func addPriceSourceFlags(cmd *cobra.Command) {
	cmd.Flags().String("prices", "", "Price series file (CSV or JSON)")
	cmd.Flags().String("pair", "", "Fetch prices for this pair instead of reading a file")
	cmd.Flags().Duration("interval", time.Hour, "Candle interval when fetching")
	cmd.Flags().Duration("lookback", 90*24*time.Hour, "Fetch lookback window")
}

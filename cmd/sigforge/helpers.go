package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantfoundry/sigforge/internal/dataio"
	"github.com/quantfoundry/sigforge/internal/domain/series"
	"github.com/quantfoundry/sigforge/internal/domain/signal"
	"github.com/quantfoundry/sigforge/internal/engine"
	"github.com/quantfoundry/sigforge/internal/provider"
)

// emit writes the result envelope for op: to the file named by the
// persistent --output flag when set, otherwise to stdout.
func emit(cmd *cobra.Command, op string, result interface{}, opErr error) error {
	var env engine.Envelope
	if opErr != nil {
		env = engine.WrapErr(op, opErr)
	} else {
		env = engine.Wrap(op, result)
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	data = append(data, '\n')

	if path, _ := cmd.Flags().GetString("output"); path != "" {
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("write envelope: %w", err)
		}
	} else if _, err := os.Stdout.Write(data); err != nil {
		return err
	}

	// The envelope already reports the failure in structured form;
	// surface it to the exit code as well.
	return opErr
}

// loadPriceInput resolves the shared price flags: --prices reads a local
// file, --pair fetches through the provider. Exactly one must be given.
func loadPriceInput(cmd *cobra.Command) (*series.TimeSeries, error) {
	path, _ := cmd.Flags().GetString("prices")
	pair, _ := cmd.Flags().GetString("pair")

	switch {
	case path != "" && pair != "":
		return nil, fmt.Errorf("--prices and --pair are mutually exclusive")
	case path != "":
		return dataio.LoadPrices(path, "prices")
	case pair != "":
		interval, _ := cmd.Flags().GetDuration("interval")
		lookback, _ := cmd.Flags().GetDuration("lookback")
		return fetchPrices(cmd, pair, interval, lookback)
	}
	return nil, fmt.Errorf("either --prices or --pair is required")
}

// fetchPrices pulls a close series for the pair through the guarded
// provider client.
func fetchPrices(cmd *cobra.Command, pair string, interval, lookback time.Duration) (*series.TimeSeries, error) {
	cache, err := provider.OpenCache(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	client, err := provider.NewClient(cfg.Provider, cache)
	if err != nil {
		return nil, fmt.Errorf("create provider client: %w", err)
	}
	client.SetCacheTTL(cfg.Cache.GetTTL())

	since := time.Now().Add(-lookback)
	return client.PriceSeries(cmd.Context(), pair, interval, since)
}

// loadSignalSet reads and validates one signal set file.
func loadSignalSet(path string) (signal.Set, error) {
	set, err := dataio.LoadSignals(path)
	if err != nil {
		return nil, err
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// parseRanges turns repeated --range name=v1,v2,... flags into a range
// map for the optimizer.
func parseRanges(raw []string) (map[string][]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ranges := make(map[string][]float64, len(raw))
	for _, entry := range raw {
		name, list, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("bad range %q, want name=v1,v2,...", entry)
		}
		name = strings.TrimSpace(name)
		var values []float64
		for _, field := range strings.Split(list, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("bad value %q in range %q", field, name)
			}
			values = append(values, v)
		}
		if name == "" || len(values) == 0 {
			return nil, fmt.Errorf("bad range %q, want name=v1,v2,...", entry)
		}
		ranges[name] = values
	}
	return ranges, nil
}

package main

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantfoundry/sigforge/internal/dataio"
)

// fetchResult is the CLI payload for a fetch run.
type fetchResult struct {
	Pair   string    `json:"pair"`
	Points int       `json:"points"`
	First  time.Time `json:"first,omitempty"`
	Last   time.Time `json:"last,omitempty"`
	Path   string    `json:"path"`
}

func runFetch(cmd *cobra.Command, args []string) error {
	const op = "fetch"

	pair, _ := cmd.Flags().GetString("pair")
	interval, _ := cmd.Flags().GetDuration("interval")
	lookback, _ := cmd.Flags().GetDuration("lookback")
	save, _ := cmd.Flags().GetString("save")

	prices, err := fetchPrices(cmd, pair, interval, lookback)
	if err != nil {
		return emit(cmd, op, nil, err)
	}
	if err := dataio.SavePricesCSV(save, prices); err != nil {
		return emit(cmd, op, nil, err)
	}

	result := fetchResult{Pair: pair, Points: prices.Len(), Path: save}
	if p, ok := prices.First(); ok {
		result.First = p.Timestamp
	}
	if p, ok := prices.Last(); ok {
		result.Last = p.Timestamp
	}
	log.Info().Str("pair", pair).Int("points", prices.Len()).Str("path", save).Msg("price history written")
	return emit(cmd, op, result, nil)
}

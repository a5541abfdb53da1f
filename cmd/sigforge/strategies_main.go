package main

import (
	"github.com/spf13/cobra"

	"github.com/quantfoundry/sigforge/internal/engine/strategy"
)

// strategyInfo describes one registered strategy for listing.
type strategyInfo struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Defaults    map[string][]float64 `json:"default_ranges"`
	GridSize    int                  `json:"default_grid_size"`
}

func runStrategies(cmd *cobra.Command, args []string) error {
	const op = "strategies"

	infos := make([]strategyInfo, 0)
	for _, id := range strategy.IDs() {
		strat, _ := strategy.Get(id)
		size := 1
		for _, values := range strat.Defaults {
			size *= len(values)
		}
		infos = append(infos, strategyInfo{
			ID:          strat.ID,
			Name:        strat.Name,
			Description: strat.Description,
			Defaults:    strat.Defaults,
			GridSize:    size,
		})
	}
	return emit(cmd, op, infos, nil)
}

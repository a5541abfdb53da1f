package optimize

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfoundry/sigforge/internal/domain/series"
	"github.com/quantfoundry/sigforge/internal/engine"
	"github.com/quantfoundry/sigforge/internal/engine/strategy"
)

var testStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// wave returns n daily prices oscillating around 100 with a 20 period
// cycle, enough to trigger every built-in strategy repeatedly.
func wave(n int) *series.TimeSeries {
	values := make([]float64, n)
	for i := range values {
		values[i] = 100 + 15*math.Sin(2*math.Pi*float64(i)/20)
	}
	return series.MustFromValues("px", testStart, values)
}

func flat(n int) *series.TimeSeries {
	values := make([]float64, n)
	for i := range values {
		values[i] = 100
	}
	return series.MustFromValues("px", testStart, values)
}

func TestGrid_EnumeratesCartesianProduct(t *testing.T) {
	g := newGrid([]string{"a", "b"}, [][]float64{{1, 2}, {10, 20, 30}})
	require.Equal(t, 6, g.Size())

	var combos []strategy.Params
	for {
		p, ok := g.Next()
		if !ok {
			break
		}
		combos = append(combos, p)
	}
	require.Len(t, combos, 6)
	assert.Equal(t, strategy.Params{"a": 1, "b": 10}, combos[0])
	assert.Equal(t, strategy.Params{"a": 1, "b": 30}, combos[2])
	assert.Equal(t, strategy.Params{"a": 2, "b": 10}, combos[3])
	assert.Equal(t, strategy.Params{"a": 2, "b": 30}, combos[5])

	g.Reset()
	p, ok := g.Next()
	require.True(t, ok)
	assert.Equal(t, strategy.Params{"a": 1, "b": 10}, p)
}

func TestOptimize_SingleCombination(t *testing.T) {
	out, err := Optimize(context.Background(), wave(120), "rsi", map[string][]float64{
		"period":     {7},
		"oversold":   {30},
		"overbought": {70},
	})
	require.NoError(t, err)

	assert.Equal(t, "rsi", out.Strategy)
	assert.Equal(t, 1, out.Evaluated)
	assert.Equal(t, 1, out.Valid)
	assert.Equal(t, 0, out.Skipped)
	require.Len(t, out.Results, 1)

	best := out.Results[0]
	assert.Equal(t, strategy.Params{"period": 7, "oversold": 30, "overbought": 70}, out.BestParams)
	assert.Equal(t, best.Composite, out.BestScore)
	assert.GreaterOrEqual(t, best.SignalCount, 5)
	assert.GreaterOrEqual(t, best.Scored, 5)
	assert.GreaterOrEqual(t, best.WinRate, 0.0)
	assert.LessOrEqual(t, best.WinRate, 1.0)
	assert.GreaterOrEqual(t, best.MaxDrawdown, 0.0)

	// Single tested value per parameter carries no correlation signal.
	assert.Equal(t, 0.0, out.Importance["period"])

	require.NotNil(t, out.Stability)
	assert.Equal(t, 1, out.Stability.TopCount)
	assert.Equal(t, 0.0, out.Stability.ScoreRange)
	assert.Equal(t, 7.0, out.Stability.Params["period"].Value)
	assert.Equal(t, 1.0, out.Stability.Params["period"].Consistency)
}

func TestOptimize_RanksDescending(t *testing.T) {
	out, err := Optimize(context.Background(), wave(120), "momentum", map[string][]float64{
		"lookback":  {5, 10},
		"threshold": {0.02},
	})
	require.NoError(t, err)
	require.Equal(t, 2, out.Valid)

	for i := 1; i < len(out.Results); i++ {
		assert.GreaterOrEqual(t, out.Results[i-1].Composite, out.Results[i].Composite)
	}
	assert.Equal(t, out.Results[0].Composite, out.BestScore)
	assert.Contains(t, out.Importance, "lookback")
	assert.Contains(t, out.Importance, "threshold")
}

func TestOptimize_SkipsGenerationFailures(t *testing.T) {
	out, err := Optimize(context.Background(), wave(120), "ma_cross", map[string][]float64{
		"fast": {5, 50},
		"slow": {20},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, out.Evaluated)
	assert.Equal(t, 1, out.Valid)
	assert.Equal(t, 1, out.Skipped)
	assert.Equal(t, 1, out.SkipReasons[SkipGenerationError])
	require.Len(t, out.Skips, 1)
	assert.Equal(t, strategy.Params{"fast": 50, "slow": 20}, out.Skips[0].Params)
	assert.Equal(t, 5.0, out.BestParams["fast"])
}

func TestOptimize_FlatSeriesYieldsZeroValid(t *testing.T) {
	out, err := Optimize(context.Background(), flat(120), "rsi", map[string][]float64{
		"period":     {7, 14},
		"oversold":   {30},
		"overbought": {70},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, out.Evaluated)
	assert.Equal(t, 0, out.Valid)
	assert.Equal(t, 2, out.Skipped)
	assert.Equal(t, 2, out.SkipReasons[SkipInsufficientSignals])
	assert.Nil(t, out.BestParams)
	assert.Empty(t, out.Results)
	assert.Nil(t, out.Importance)
	assert.Nil(t, out.Stability)
}

func TestOptimize_DefaultsFillOmittedRanges(t *testing.T) {
	out, err := Optimize(context.Background(), wave(120), "bollinger", nil)
	require.NoError(t, err)

	// Default grid is 2 periods x 3 multipliers.
	assert.Equal(t, 6, out.Evaluated)
}

func TestOptimize_InsufficientHistory(t *testing.T) {
	_, err := Optimize(context.Background(), wave(99), "rsi", nil)
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindInsufficientHistory))
}

func TestOptimize_UnknownStrategy(t *testing.T) {
	_, err := Optimize(context.Background(), wave(120), "alchemy", nil)
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindUnknownStrategy))
}

func TestOptimize_EmptyRangeFails(t *testing.T) {
	_, err := Optimize(context.Background(), wave(120), "rsi", map[string][]float64{
		"period": {},
	})
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindMissingField))
}

func TestOptimize_WorkerPoolMatchesSerial(t *testing.T) {
	prices := wave(120)
	ranges := map[string][]float64{
		"period":     {7, 14},
		"oversold":   {25, 30},
		"overbought": {70, 75},
	}

	serial, err := Optimize(context.Background(), prices, "rsi", ranges)
	require.NoError(t, err)
	parallel, err := Optimize(context.Background(), prices, "rsi", ranges, WithWorkers(4))
	require.NoError(t, err)

	require.GreaterOrEqual(t, serial.Valid, 1)
	assert.Equal(t, serial.Valid, parallel.Valid)
	assert.Equal(t, serial.Skipped, parallel.Skipped)
	assert.Equal(t, serial.BestScore, parallel.BestScore)
	require.Len(t, parallel.Results, len(serial.Results))
	for i := range serial.Results {
		assert.Equal(t, serial.Results[i].Params, parallel.Results[i].Params)
		assert.Equal(t, serial.Results[i].Composite, parallel.Results[i].Composite)
	}
}

func TestOptimize_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Optimize(ctx, wave(120), "rsi", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfoundry/sigforge/internal/domain/series"
	"github.com/quantfoundry/sigforge/internal/domain/signal"
)

var testStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func day(i int) time.Time {
	return testStart.AddDate(0, 0, i)
}

func TestRegistry_ListsAllStrategies(t *testing.T) {
	assert.Equal(t, []string{"bollinger", "ma_cross", "macd", "momentum", "rsi"}, IDs())

	s, ok := Get("rsi")
	require.True(t, ok)
	assert.Equal(t, "rsi", s.ID)
	assert.NotEmpty(t, s.Defaults["period"])
	assert.NotNil(t, s.Generate)

	_, ok = Get("fibonacci")
	assert.False(t, ok)
}

func TestParams_ReadsWithDefaults(t *testing.T) {
	p := Params{"period": 2.6, "mult": 1.5}

	assert.Equal(t, 3, p.Int("period", 14))
	assert.Equal(t, 14, p.Int("missing", 14))
	assert.Equal(t, 1.5, p.Float("mult", 2.0))
	assert.Equal(t, 2.0, p.Float("missing", 2.0))
}

func TestGenerateRSI_ReversalCrossings(t *testing.T) {
	prices := series.MustFromValues("px", testStart, []float64{100, 95, 90, 85, 88, 94, 100})

	s, _ := Get("rsi")
	set, err := s.Generate(prices, Params{"period": 3, "oversold": 30, "overbought": 70})
	require.NoError(t, err)
	require.Len(t, set, 2)

	buy := set[0]
	assert.Equal(t, signal.TypeBuy, buy.Type)
	assert.Equal(t, day(5), buy.Timestamp)
	assert.Equal(t, "rsi", buy.Method)
	require.True(t, buy.HasStrength())
	assert.InDelta(t, 0.731, buy.StrengthValue(), 0.001)

	sell := set[1]
	assert.Equal(t, signal.TypeSell, sell.Type)
	assert.Equal(t, day(6), sell.Timestamp)
	require.True(t, sell.HasStrength())
	assert.InDelta(t, 0.0, sell.StrengthValue(), 0.001)
}

func TestGenerateRSI_OverboughtRetreatEmitsNoSell(t *testing.T) {
	// RSI path (period 3): 0, 23.1, 54.5, 71.8, 52.0 — the sell fires
	// when RSI crosses up into overbought, not when it falls back out.
	prices := series.MustFromValues("px", testStart, []float64{100, 95, 90, 85, 88, 94, 100, 96})

	s, _ := Get("rsi")
	set, err := s.Generate(prices, Params{"period": 3, "oversold": 30, "overbought": 70})
	require.NoError(t, err)
	require.Len(t, set, 2)

	assert.Equal(t, signal.TypeSell, set[1].Type)
	assert.Equal(t, day(6), set[1].Timestamp)
}

func TestGenerateRSI_RejectsInvertedBands(t *testing.T) {
	prices := series.MustFromValues("px", testStart, []float64{100, 95, 90, 85, 88, 94, 100})

	s, _ := Get("rsi")
	_, err := s.Generate(prices, Params{"period": 3, "oversold": 70, "overbought": 30})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oversold")
}

func TestGenerateMACross_GoldenCross(t *testing.T) {
	prices := series.MustFromValues("px", testStart, []float64{100, 98, 96, 94, 92, 94, 98, 104, 112, 120})

	s, _ := Get("ma_cross")
	set, err := s.Generate(prices, Params{"fast": 2, "slow": 4})
	require.NoError(t, err)
	require.Len(t, set, 1)

	assert.Equal(t, signal.TypeBuy, set[0].Type)
	assert.Equal(t, day(6), set[0].Timestamp)
	assert.Equal(t, "ma_cross", set[0].Method)
	assert.False(t, set[0].HasStrength())
}

func TestGenerateMACross_RejectsFastAboveSlow(t *testing.T) {
	prices := series.MustFromValues("px", testStart, []float64{100, 98, 96, 94, 92, 94, 98, 104, 112, 120})

	s, _ := Get("ma_cross")
	_, err := s.Generate(prices, Params{"fast": 10, "slow": 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fast period")
}

func TestGenerateMomentum_ThresholdBreakouts(t *testing.T) {
	prices := series.MustFromValues("px", testStart, []float64{100, 100, 100, 106, 110, 110, 104, 98})

	s, _ := Get("momentum")
	set, err := s.Generate(prices, Params{"lookback": 2, "threshold": 0.03})
	require.NoError(t, err)
	require.Len(t, set, 2)

	buy := set[0]
	assert.Equal(t, signal.TypeBuy, buy.Type)
	assert.Equal(t, day(3), buy.Timestamp)
	require.True(t, buy.HasStrength())
	assert.InDelta(t, 1.0, buy.StrengthValue(), 0.001)

	sell := set[1]
	assert.Equal(t, signal.TypeSell, sell.Type)
	assert.Equal(t, day(6), sell.Timestamp)
	require.True(t, sell.HasStrength())
	assert.InDelta(t, 0.909, sell.StrengthValue(), 0.001)
}

func TestGenerateMACD_SignalLineCross(t *testing.T) {
	prices := series.MustFromValues("px", testStart, []float64{100, 98, 96, 94, 92, 90, 92, 96, 102, 110})

	s, _ := Get("macd")
	set, err := s.Generate(prices, Params{"fast": 2, "slow": 4, "signal": 2})
	require.NoError(t, err)
	require.Len(t, set, 1)

	assert.Equal(t, signal.TypeBuy, set[0].Type)
	assert.Equal(t, day(6), set[0].Timestamp)
	assert.Equal(t, "macd", set[0].Method)
}

func TestGenerateBollinger_LowerBandReentry(t *testing.T) {
	prices := series.MustFromValues("px", testStart, []float64{100, 101, 99, 93, 100, 100, 100})

	s, _ := Get("bollinger")
	set, err := s.Generate(prices, Params{"period": 3, "mult": 1.0})
	require.NoError(t, err)
	require.Len(t, set, 1)

	assert.Equal(t, signal.TypeBuy, set[0].Type)
	assert.Equal(t, day(4), set[0].Timestamp)
	assert.Equal(t, "bollinger", set[0].Method)
}

func TestGenerate_InsufficientHistory(t *testing.T) {
	prices := series.MustFromValues("px", testStart, []float64{100, 101})

	for _, id := range IDs() {
		s, _ := Get(id)
		_, err := s.Generate(prices, Params{})
		assert.Error(t, err, "strategy %s should reject a two point series", id)
	}
}

func TestGenerate_OutputIsSorted(t *testing.T) {
	prices := series.MustFromValues("px", testStart,
		[]float64{100, 95, 90, 85, 88, 94, 100, 96, 90, 84, 87, 93, 99})

	s, _ := Get("rsi")
	set, err := s.Generate(prices, Params{"period": 3, "oversold": 30, "overbought": 70})
	require.NoError(t, err)
	require.NotEmpty(t, set)

	for i := 1; i < len(set); i++ {
		assert.False(t, set[i].Timestamp.Before(set[i-1].Timestamp))
	}
}

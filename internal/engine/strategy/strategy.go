// Package strategy holds the built-in signal generation strategies used
// by the parameter optimizer. Each strategy derives indicator series from
// prices and turns detector events into signals.
package strategy

import (
	"fmt"
	"math"
	"sort"

	"github.com/quantfoundry/sigforge/internal/domain/indicators"
	"github.com/quantfoundry/sigforge/internal/domain/series"
	"github.com/quantfoundry/sigforge/internal/domain/signal"
	"github.com/quantfoundry/sigforge/internal/engine/detect"
	"github.com/quantfoundry/sigforge/internal/engine/stats"
)

// Params maps parameter names to numeric values.
type Params map[string]float64

// Int reads an integer parameter, rounding the stored float.
func (p Params) Int(key string, def int) int {
	if v, ok := p[key]; ok {
		return int(math.Round(v))
	}
	return def
}

// Float reads a float parameter.
func (p Params) Float(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Strategy is a registered signal generator with its default parameter
// grid.
type Strategy struct {
	ID          string
	Name        string
	Description string
	Defaults    map[string][]float64
	Generate    func(prices *series.TimeSeries, p Params) (signal.Set, error)
}

var registry = map[string]Strategy{
	"rsi": {
		ID:          "rsi",
		Name:        "RSI Reversal",
		Description: "Buys recoveries out of oversold, sells crosses into overbought on the RSI",
		Defaults: map[string][]float64{
			"period":     {7, 14, 21},
			"oversold":   {20, 25, 30, 35},
			"overbought": {65, 70, 75, 80},
		},
		Generate: generateRSI,
	},
	"ma_cross": {
		ID:          "ma_cross",
		Name:        "Moving Average Cross",
		Description: "Trades fast/slow simple moving average crossovers",
		Defaults: map[string][]float64{
			"fast": {5, 10, 20},
			"slow": {20, 50, 100},
		},
		Generate: generateMACross,
	},
	"momentum": {
		ID:          "momentum",
		Name:        "Momentum Breakout",
		Description: "Trades rate-of-change threshold breakouts",
		Defaults: map[string][]float64{
			"lookback":  {5, 10, 20},
			"threshold": {0.01, 0.02, 0.03, 0.05},
		},
		Generate: generateMomentum,
	},
	"macd": {
		ID:          "macd",
		Name:        "MACD Cross",
		Description: "Trades MACD line crossings of its signal line",
		Defaults: map[string][]float64{
			"fast":   {8, 12},
			"slow":   {21, 26},
			"signal": {9},
		},
		Generate: generateMACD,
	},
	"bollinger": {
		ID:          "bollinger",
		Name:        "Bollinger Reversion",
		Description: "Buys re-entries through the lower band, sells breaks of the upper",
		Defaults: map[string][]float64{
			"period": {10, 20},
			"mult":   {1.5, 2.0, 2.5},
		},
		Generate: generateBollinger,
	},
}

// Get looks up a strategy by id.
func Get(id string) (Strategy, bool) {
	s, ok := registry[id]
	return s, ok
}

// IDs returns the registered strategy ids in sorted order.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func generateRSI(prices *series.TimeSeries, p Params) (signal.Set, error) {
	period := p.Int("period", 14)
	oversold := p.Float("oversold", 30)
	overbought := p.Float("overbought", 70)
	if oversold >= overbought {
		return nil, fmt.Errorf("rsi: oversold %.0f must be below overbought %.0f", oversold, overbought)
	}
	rsi := indicators.CalculateRSI(prices, period)
	if !rsi.IsValid {
		return nil, fmt.Errorf("rsi: insufficient history for period %d", period)
	}

	buys, err := detect.Compare(rsi.Series, detect.Const(oversold), detect.OpCrossoverUp)
	if err != nil {
		return nil, fmt.Errorf("rsi buys: %w", err)
	}
	sells, err := detect.Compare(rsi.Series, detect.Const(overbought), detect.OpCrossoverUp)
	if err != nil {
		return nil, fmt.Errorf("rsi sells: %w", err)
	}

	buyStrength := func(e detect.Event) *float64 {
		prev := rsi.Series.At(e.Index - 1)
		if !prev.Valid {
			return nil
		}
		depth := (oversold - prev.Value) / oversold
		return signal.StrengthPtr(stats.Clip(0.5+depth, 0, 1))
	}
	sellStrength := func(e detect.Event) *float64 {
		prev := rsi.Series.At(e.Index - 1)
		if !prev.Valid || overbought >= 100 {
			return nil
		}
		depth := (prev.Value - overbought) / (100 - overbought)
		return signal.StrengthPtr(stats.Clip(0.5+depth, 0, 1))
	}
	return mergeSignals(
		toSignals(buys, signal.TypeBuy, "rsi", buyStrength),
		toSignals(sells, signal.TypeSell, "rsi", sellStrength),
	), nil
}

func generateMACross(prices *series.TimeSeries, p Params) (signal.Set, error) {
	fast := p.Int("fast", 10)
	slow := p.Int("slow", 50)
	if fast >= slow {
		return nil, fmt.Errorf("ma_cross: fast period %d must be below slow period %d", fast, slow)
	}
	fastMA := indicators.CalculateSMA(prices, fast)
	slowMA := indicators.CalculateSMA(prices, slow)
	if !fastMA.IsValid || !slowMA.IsValid {
		return nil, fmt.Errorf("ma_cross: insufficient history for slow period %d", slow)
	}

	buys, err := detect.Compare(fastMA.Series, detect.With(slowMA.Series), detect.OpCrossoverUp)
	if err != nil {
		return nil, fmt.Errorf("ma_cross buys: %w", err)
	}
	sells, err := detect.Compare(fastMA.Series, detect.With(slowMA.Series), detect.OpCrossoverDown)
	if err != nil {
		return nil, fmt.Errorf("ma_cross sells: %w", err)
	}
	return mergeSignals(
		toSignals(buys, signal.TypeBuy, "ma_cross", nil),
		toSignals(sells, signal.TypeSell, "ma_cross", nil),
	), nil
}

func generateMomentum(prices *series.TimeSeries, p Params) (signal.Set, error) {
	lookback := p.Int("lookback", 10)
	threshold := p.Float("threshold", 0.02)
	if threshold <= 0 {
		return nil, fmt.Errorf("momentum: threshold must be positive, got %.4f", threshold)
	}
	roc := indicators.CalculateROC(prices, lookback)
	if !roc.IsValid {
		return nil, fmt.Errorf("momentum: insufficient history for lookback %d", lookback)
	}

	buys, err := detect.Compare(roc.Series, detect.Const(threshold), detect.OpCrossoverUp)
	if err != nil {
		return nil, fmt.Errorf("momentum buys: %w", err)
	}
	sells, err := detect.Compare(roc.Series, detect.Const(-threshold), detect.OpCrossoverDown)
	if err != nil {
		return nil, fmt.Errorf("momentum sells: %w", err)
	}

	strength := func(e detect.Event) *float64 {
		return signal.StrengthPtr(stats.Clip(math.Abs(e.Value)/(2*threshold), 0, 1))
	}
	return mergeSignals(
		toSignals(buys, signal.TypeBuy, "momentum", strength),
		toSignals(sells, signal.TypeSell, "momentum", strength),
	), nil
}

func generateMACD(prices *series.TimeSeries, p Params) (signal.Set, error) {
	fast := p.Int("fast", 12)
	slow := p.Int("slow", 26)
	signalPeriod := p.Int("signal", 9)
	if fast >= slow {
		return nil, fmt.Errorf("macd: fast period %d must be below slow period %d", fast, slow)
	}
	macd := indicators.CalculateMACD(prices, fast, slow, signalPeriod)
	if !macd.MACD.IsValid || !macd.Signal.IsValid {
		return nil, fmt.Errorf("macd: insufficient history for periods %d/%d/%d", fast, slow, signalPeriod)
	}

	buys, err := detect.Compare(macd.MACD.Series, detect.With(macd.Signal.Series), detect.OpCrossoverUp)
	if err != nil {
		return nil, fmt.Errorf("macd buys: %w", err)
	}
	sells, err := detect.Compare(macd.MACD.Series, detect.With(macd.Signal.Series), detect.OpCrossoverDown)
	if err != nil {
		return nil, fmt.Errorf("macd sells: %w", err)
	}
	return mergeSignals(
		toSignals(buys, signal.TypeBuy, "macd", nil),
		toSignals(sells, signal.TypeSell, "macd", nil),
	), nil
}

func generateBollinger(prices *series.TimeSeries, p Params) (signal.Set, error) {
	period := p.Int("period", 20)
	mult := p.Float("mult", 2.0)
	bands := indicators.CalculateBollinger(prices, period, mult)
	if !bands.Upper.IsValid {
		return nil, fmt.Errorf("bollinger: insufficient history for period %d", period)
	}

	buys, err := detect.Compare(prices, detect.With(bands.Lower.Series), detect.OpCrossoverUp)
	if err != nil {
		return nil, fmt.Errorf("bollinger buys: %w", err)
	}
	sells, err := detect.Compare(prices, detect.With(bands.Upper.Series), detect.OpCrossoverDown)
	if err != nil {
		return nil, fmt.Errorf("bollinger sells: %w", err)
	}
	return mergeSignals(
		toSignals(buys, signal.TypeBuy, "bollinger", nil),
		toSignals(sells, signal.TypeSell, "bollinger", nil),
	), nil
}

func toSignals(events []detect.Event, typ signal.Type, method string, strength func(detect.Event) *float64) signal.Set {
	out := make(signal.Set, 0, len(events))
	for _, e := range events {
		s := signal.Signal{
			Timestamp: e.Timestamp,
			Type:      typ,
			Method:    method,
		}
		if strength != nil {
			s.Strength = strength(e)
		}
		out = append(out, s)
	}
	return out
}

func mergeSignals(sets ...signal.Set) signal.Set {
	var merged signal.Set
	for _, set := range sets {
		merged = append(merged, set...)
	}
	return merged.SortedByTime()
}

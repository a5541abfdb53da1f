// Package indicators computes technical indicator series from a price
// series. Every function returns a Result whose series is aligned one to
// one with the input timestamps; warmup slots are carried as invalid
// points so downstream comparisons skip them.
package indicators

import (
	"fmt"
	"math"

	"github.com/quantfoundry/sigforge/internal/domain/series"
)

// Result bundles a computed indicator series with its validity.
type Result struct {
	Name      string             `json:"name"`
	Period    int                `json:"period"`
	Series    *series.TimeSeries `json:"-"`
	IsValid   bool               `json:"is_valid"`
	DataCount int                `json:"data_count"`
}

func invalidResult(name string, period, count int) Result {
	return Result{Name: name, Period: period, IsValid: false, DataCount: count}
}

func buildResult(prices *series.TimeSeries, name string, period int, values []float64, valid []bool) Result {
	s, err := prices.Derive(name, values, valid)
	if err != nil {
		return invalidResult(name, period, prices.Len())
	}
	anyValid := false
	for _, v := range valid {
		if v {
			anyValid = true
			break
		}
	}
	return Result{Name: name, Period: period, Series: s, IsValid: anyValid, DataCount: prices.Len()}
}

// CalculateSMA computes the simple moving average over the given period.
func CalculateSMA(prices *series.TimeSeries, period int) Result {
	name := fmt.Sprintf("sma_%d", period)
	n := prices.Len()
	if period < 1 || n < period {
		return invalidResult(name, period, n)
	}
	values := make([]float64, n)
	valid := make([]bool, n)
	sum := 0.0
	raw := prices.Values()
	for i, v := range raw {
		sum += v
		if i >= period {
			sum -= raw[i-period]
		}
		if i >= period-1 {
			values[i] = sum / float64(period)
			valid[i] = true
		}
	}
	return buildResult(prices, name, period, values, valid)
}

// CalculateEMA computes the exponential moving average, seeded with the
// simple average of the first period values.
func CalculateEMA(prices *series.TimeSeries, period int) Result {
	name := fmt.Sprintf("ema_%d", period)
	n := prices.Len()
	if period < 1 || n < period {
		return invalidResult(name, period, n)
	}
	values, valid := emaValues(prices.Values(), period, 0)
	return buildResult(prices, name, period, values, valid)
}

// emaValues computes an EMA over raw[start:], returning slices aligned to
// the full input length. Slots before the warmup completes stay invalid.
func emaValues(raw []float64, period, start int) ([]float64, []bool) {
	n := len(raw)
	values := make([]float64, n)
	valid := make([]bool, n)
	if period < 1 || n-start < period {
		return values, valid
	}
	seed := 0.0
	for i := start; i < start+period; i++ {
		seed += raw[i]
	}
	ema := seed / float64(period)
	first := start + period - 1
	values[first] = ema
	valid[first] = true
	alpha := 2.0 / (float64(period) + 1.0)
	for i := first + 1; i < n; i++ {
		ema = raw[i]*alpha + ema*(1-alpha)
		values[i] = ema
		valid[i] = true
	}
	return values, valid
}

// CalculateRSI computes the Relative Strength Index with Wilder's
// smoothing. The first valid value appears once period changes have been
// observed; a window without losses reads 100.
func CalculateRSI(prices *series.TimeSeries, period int) Result {
	name := fmt.Sprintf("rsi_%d", period)
	n := prices.Len()
	if period < 1 || n < period+1 {
		return invalidResult(name, period, n)
	}
	raw := prices.Values()
	values := make([]float64, n)
	valid := make([]bool, n)

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := raw[i] - raw[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += -change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	values[period] = rsiFrom(avgGain, avgLoss)
	valid[period] = true

	alpha := 1.0 / float64(period)
	for i := period + 1; i < n; i++ {
		change := raw[i] - raw[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = avgGain*(1-alpha) + gain*alpha
		avgLoss = avgLoss*(1-alpha) + loss*alpha
		values[i] = rsiFrom(avgGain, avgLoss)
		valid[i] = true
	}
	return buildResult(prices, name, period, values, valid)
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// MACDResult carries the MACD line, its signal line, and the histogram.
type MACDResult struct {
	MACD      Result `json:"macd"`
	Signal    Result `json:"signal"`
	Histogram Result `json:"histogram"`
}

// CalculateMACD computes MACD as EMA(fast) - EMA(slow) with an EMA signal
// line over the MACD values.
func CalculateMACD(prices *series.TimeSeries, fast, slow, signalPeriod int) MACDResult {
	n := prices.Len()
	macdName := fmt.Sprintf("macd_%d_%d", fast, slow)
	signalName := fmt.Sprintf("macd_signal_%d", signalPeriod)
	histName := "macd_histogram"
	if fast < 1 || slow <= fast || signalPeriod < 1 || n < slow+signalPeriod {
		return MACDResult{
			MACD:      invalidResult(macdName, slow, n),
			Signal:    invalidResult(signalName, signalPeriod, n),
			Histogram: invalidResult(histName, signalPeriod, n),
		}
	}
	raw := prices.Values()
	fastVals, fastValid := emaValues(raw, fast, 0)
	slowVals, slowValid := emaValues(raw, slow, 0)

	macdVals := make([]float64, n)
	macdValid := make([]bool, n)
	for i := 0; i < n; i++ {
		if fastValid[i] && slowValid[i] {
			macdVals[i] = fastVals[i] - slowVals[i]
			macdValid[i] = true
		}
	}
	sigVals, sigValid := emaValues(macdVals, signalPeriod, slow-1)

	histVals := make([]float64, n)
	histValid := make([]bool, n)
	for i := 0; i < n; i++ {
		if macdValid[i] && sigValid[i] {
			histVals[i] = macdVals[i] - sigVals[i]
			histValid[i] = true
		}
	}
	return MACDResult{
		MACD:      buildResult(prices, macdName, slow, macdVals, macdValid),
		Signal:    buildResult(prices, signalName, signalPeriod, sigVals, sigValid),
		Histogram: buildResult(prices, histName, signalPeriod, histVals, histValid),
	}
}

// BollingerResult carries the three Bollinger band series.
type BollingerResult struct {
	Upper  Result `json:"upper"`
	Middle Result `json:"middle"`
	Lower  Result `json:"lower"`
}

// CalculateBollinger computes Bollinger bands: an SMA middle band with
// upper and lower bands offset by mult rolling standard deviations.
func CalculateBollinger(prices *series.TimeSeries, period int, mult float64) BollingerResult {
	n := prices.Len()
	if period < 2 || n < period || mult <= 0 {
		return BollingerResult{
			Upper:  invalidResult(fmt.Sprintf("bb_upper_%d", period), period, n),
			Middle: invalidResult(fmt.Sprintf("bb_middle_%d", period), period, n),
			Lower:  invalidResult(fmt.Sprintf("bb_lower_%d", period), period, n),
		}
	}
	middle := CalculateSMA(prices, period)
	sd := CalculateRollingStdDev(prices, period)

	midVals := make([]float64, n)
	upperVals := make([]float64, n)
	lowerVals := make([]float64, n)
	valid := make([]bool, n)
	for i := 0; i < n; i++ {
		mp, sp := middle.Series.At(i), sd.Series.At(i)
		if mp.Valid && sp.Valid {
			midVals[i] = mp.Value
			upperVals[i] = mp.Value + mult*sp.Value
			lowerVals[i] = mp.Value - mult*sp.Value
			valid[i] = true
		}
	}
	return BollingerResult{
		Upper:  buildResult(prices, fmt.Sprintf("bb_upper_%d", period), period, upperVals, valid),
		Middle: buildResult(prices, fmt.Sprintf("bb_middle_%d", period), period, midVals, valid),
		Lower:  buildResult(prices, fmt.Sprintf("bb_lower_%d", period), period, lowerVals, valid),
	}
}

// CalculateROC computes the rate of change over the given lookback as a
// fraction. Slots whose reference price is zero stay invalid.
func CalculateROC(prices *series.TimeSeries, period int) Result {
	name := fmt.Sprintf("roc_%d", period)
	n := prices.Len()
	if period < 1 || n < period+1 {
		return invalidResult(name, period, n)
	}
	raw := prices.Values()
	values := make([]float64, n)
	valid := make([]bool, n)
	for i := period; i < n; i++ {
		ref := raw[i-period]
		if ref == 0 {
			continue
		}
		values[i] = (raw[i] - ref) / ref
		valid[i] = true
	}
	return buildResult(prices, name, period, values, valid)
}

// CalculateAbsMove computes the average absolute period-to-period price
// change over the given window, an ATR analogue for close-only series.
func CalculateAbsMove(prices *series.TimeSeries, period int) Result {
	name := fmt.Sprintf("absmove_%d", period)
	n := prices.Len()
	if period < 1 || n < period+1 {
		return invalidResult(name, period, n)
	}
	raw := prices.Values()
	values := make([]float64, n)
	valid := make([]bool, n)
	for i := period; i < n; i++ {
		sum := 0.0
		for j := i - period + 1; j <= i; j++ {
			sum += math.Abs(raw[j] - raw[j-1])
		}
		values[i] = sum / float64(period)
		valid[i] = true
	}
	return buildResult(prices, name, period, values, valid)
}

// CalculateRollingStdDev computes the rolling sample standard deviation
// of prices over the given window.
func CalculateRollingStdDev(prices *series.TimeSeries, period int) Result {
	name := fmt.Sprintf("stddev_%d", period)
	n := prices.Len()
	if period < 2 || n < period {
		return invalidResult(name, period, n)
	}
	raw := prices.Values()
	values := make([]float64, n)
	valid := make([]bool, n)
	for i := period - 1; i < n; i++ {
		window := raw[i-period+1 : i+1]
		mean := 0.0
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)
		ss := 0.0
		for _, v := range window {
			d := v - mean
			ss += d * d
		}
		values[i] = math.Sqrt(ss / float64(period-1))
		valid[i] = true
	}
	return buildResult(prices, name, period, values, valid)
}

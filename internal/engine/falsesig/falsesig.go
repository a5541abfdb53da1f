// Package falsesig flags likely-false signals by voting four forward-looking
// checks over the price path after each signal. A signal is declared false
// when the weighted sum of failed checks reaches the fail threshold.
package falsesig

import (
	"github.com/rs/zerolog/log"

	"github.com/quantfoundry/sigforge/internal/domain/series"
	"github.com/quantfoundry/sigforge/internal/domain/signal"
	"github.com/quantfoundry/sigforge/internal/engine"
	"github.com/quantfoundry/sigforge/internal/engine/stats"
)

// Check names one validation criterion.
type Check string

const (
	// CheckImmediateDirection passes when the mean move over the first
	// three periods goes the signal's way.
	CheckImmediateDirection Check = "immediate_direction"
	// CheckThresholdReached passes when the favorable move reaches the
	// threshold within the threshold window.
	CheckThresholdReached Check = "threshold_reached"
	// CheckNoQuickReversal passes when no adverse move of threshold size
	// occurs within the reversal window.
	CheckNoQuickReversal Check = "no_quick_reversal"
	// CheckVolatilityJustified passes when the favorable move exceeds
	// what recent volatility alone would explain.
	CheckVolatilityJustified Check = "volatility_justified"
)

// AllChecks lists the checks in evaluation and reporting order.
var AllChecks = []Check{
	CheckImmediateDirection,
	CheckThresholdReached,
	CheckNoQuickReversal,
	CheckVolatilityJustified,
}

// Evaluation windows in price periods.
const (
	DirectionWindow  = 3
	ReversalWindow   = 10
	ThresholdWindow  = 20
	trailingReturns  = 10
	DefaultThreshold = 0.02
)

// DefaultFailThreshold declares a signal false when two unit-weight
// checks fail.
const DefaultFailThreshold = 2.0

// Skip reasons recorded for unevaluated signals.
const (
	SkipNearEnd        = "near_end"
	SkipNonDirectional = "non_directional"
	SkipInvalidEntry   = "invalid_entry"
)

type config struct {
	failThreshold float64
	weights       map[Check]float64
}

// Option adjusts the voting rule.
type Option func(*config)

// WithFailThreshold sets the weighted fail mass at which a signal is
// declared false.
func WithFailThreshold(v float64) Option {
	return func(c *config) {
		if v > 0 {
			c.failThreshold = v
		}
	}
}

// WithWeights overrides per-check weights. Checks not listed keep
// weight 1.
func WithWeights(weights map[Check]float64) Option {
	return func(c *config) {
		for check, w := range weights {
			c.weights[check] = w
		}
	}
}

// Verdict is the evaluation of a single signal.
type Verdict struct {
	Signal          signal.Signal  `json:"signal"`
	EntryIndex      int            `json:"entry_index"`
	EntryPrice      float64        `json:"entry_price"`
	Checks          map[Check]bool `json:"checks,omitempty"`
	DaysToThreshold int            `json:"days_to_threshold"`
	MaxFavorable    float64        `json:"max_favorable"`
	MaxAdverse      float64        `json:"max_adverse"`
	FailedWeight    float64        `json:"failed_weight"`
	IsFalse         bool           `json:"is_false"`
	Skipped         bool           `json:"skipped"`
	SkipReason      string         `json:"skip_reason,omitempty"`
}

// TypeCounts splits verdicts per signal type.
type TypeCounts struct {
	False int `json:"false"`
	Valid int `json:"valid"`
}

// Report aggregates the verdicts into a false-signal pattern profile.
type Report struct {
	MoveThreshold       float64                    `json:"move_threshold"`
	Evaluated           int                        `json:"evaluated"`
	FalseCount          int                        `json:"false_count"`
	ValidCount          int                        `json:"valid_count"`
	Skipped             int                        `json:"skipped"`
	SkipReasons         map[string]int             `json:"skip_reasons,omitempty"`
	FalseRate           float64                    `json:"false_rate"`
	FailureReasons      map[Check]int              `json:"failure_reasons,omitempty"`
	ByType              map[signal.Type]TypeCounts `json:"by_type,omitempty"`
	MeanStrengthFalse   *float64                   `json:"mean_strength_false,omitempty"`
	MeanStrengthValid   *float64                   `json:"mean_strength_valid,omitempty"`
	MeanDaysToThreshold float64                    `json:"mean_days_to_threshold"`
	Suggestions         []string                   `json:"suggestions"`
	Verdicts            []Verdict                  `json:"verdicts,omitempty"`
}

// Evaluate runs the four checks on every directional signal. threshold is
// the minimum favorable move counted as real; values at or below zero
// fall back to the default.
func Evaluate(set signal.Set, prices *series.TimeSeries, threshold float64, opts ...Option) (Report, error) {
	cfg := config{failThreshold: DefaultFailThreshold, weights: map[Check]float64{}}
	for _, check := range AllChecks {
		cfg.weights[check] = 1.0
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if threshold <= 0 {
		log.Debug().Float64("fallback", DefaultThreshold).Msg("Non-positive move threshold, using default")
		threshold = DefaultThreshold
	}
	if prices == nil || prices.Len() == 0 {
		return Report{}, engine.Errorf(engine.KindAlignmentFailure, "falsesig", "price series is empty")
	}

	report := Report{
		MoveThreshold:  threshold,
		SkipReasons:    map[string]int{},
		FailureReasons: map[Check]int{},
		ByType:         map[signal.Type]TypeCounts{},
	}
	var strengthFalse, strengthValid []float64
	var daysToThreshold []float64

	for i, s := range set {
		if s.Timestamp.IsZero() {
			return Report{}, engine.Errorf(engine.KindMissingField, "falsesig",
				"signal %d has no timestamp", i)
		}
		v := evaluateOne(s, prices, threshold, cfg)
		report.Verdicts = append(report.Verdicts, v)
		if v.Skipped {
			report.Skipped++
			report.SkipReasons[v.SkipReason]++
			continue
		}
		report.Evaluated++
		counts := report.ByType[s.Type]
		if v.IsFalse {
			report.FalseCount++
			counts.False++
			if s.HasStrength() {
				strengthFalse = append(strengthFalse, *s.Strength)
			}
		} else {
			report.ValidCount++
			counts.Valid++
			if s.HasStrength() {
				strengthValid = append(strengthValid, *s.Strength)
			}
		}
		report.ByType[s.Type] = counts
		for _, check := range AllChecks {
			if !v.Checks[check] {
				report.FailureReasons[check]++
			}
		}
		if v.DaysToThreshold > 0 {
			daysToThreshold = append(daysToThreshold, float64(v.DaysToThreshold))
		}
	}

	if report.Evaluated > 0 {
		report.FalseRate = float64(report.FalseCount) / float64(report.Evaluated)
	}
	if len(strengthFalse) > 0 {
		m := stats.Mean(strengthFalse)
		report.MeanStrengthFalse = &m
	}
	if len(strengthValid) > 0 {
		m := stats.Mean(strengthValid)
		report.MeanStrengthValid = &m
	}
	report.MeanDaysToThreshold = stats.Mean(daysToThreshold)
	report.Suggestions = suggestions(report)

	log.Debug().
		Int("evaluated", report.Evaluated).
		Int("false", report.FalseCount).
		Int("skipped", report.Skipped).
		Float64("false_rate", report.FalseRate).
		Msg("False signal evaluation complete")
	return report, nil
}

func evaluateOne(s signal.Signal, prices *series.TimeSeries, threshold float64, cfg config) Verdict {
	v := Verdict{Signal: s, EntryIndex: -1, DaysToThreshold: -1}
	if !s.Directional() {
		v.Skipped, v.SkipReason = true, SkipNonDirectional
		return v
	}
	entry := prices.NearestIndex(s.Timestamp)
	v.EntryIndex = entry
	entryPoint := prices.At(entry)
	v.EntryPrice = entryPoint.Value
	if !entryPoint.Valid || entryPoint.Value == 0 {
		v.Skipped, v.SkipReason = true, SkipInvalidEntry
		return v
	}
	if entry+DirectionWindow >= prices.Len() {
		v.Skipped, v.SkipReason = true, SkipNearEnd
		return v
	}

	favorable := favorableMoves(s.Type, prices, entry, ThresholdWindow)
	if len(favorable) < DirectionWindow {
		v.Skipped, v.SkipReason = true, SkipNearEnd
		return v
	}

	v.Checks = map[Check]bool{}

	// Immediate direction: the first few periods should already lean the
	// signal's way.
	v.Checks[CheckImmediateDirection] = stats.Mean(favorable[:DirectionWindow]) > 0

	// Threshold reached within the full window.
	for k, move := range favorable {
		if move > v.MaxFavorable {
			v.MaxFavorable = move
		}
		if v.DaysToThreshold < 0 && move >= threshold {
			v.DaysToThreshold = k + 1
		}
	}
	v.Checks[CheckThresholdReached] = v.DaysToThreshold > 0

	// No adverse move of threshold size inside the reversal window.
	reversal := favorable
	if len(reversal) > ReversalWindow {
		reversal = reversal[:ReversalWindow]
	}
	for _, move := range reversal {
		if adverse := -move; adverse > v.MaxAdverse {
			v.MaxAdverse = adverse
		}
	}
	v.Checks[CheckNoQuickReversal] = v.MaxAdverse < threshold

	// The best favorable move should beat what trailing volatility alone
	// would produce. Thin history passes by default.
	trailing := trailingReturnValues(prices, entry)
	if len(trailing) < 3 {
		v.Checks[CheckVolatilityJustified] = true
	} else {
		expected := 2 * stats.StdDev(trailing)
		v.Checks[CheckVolatilityJustified] = v.MaxFavorable > 0.5*expected
	}

	for check, passed := range v.Checks {
		if !passed {
			v.FailedWeight += cfg.weights[check]
		}
	}
	v.IsFalse = v.FailedWeight >= cfg.failThreshold
	return v
}

// favorableMoves returns the signed move in the signal's favor for each
// forward step until the window or history ends. Invalid price points cut
// the path short.
func favorableMoves(typ signal.Type, prices *series.TimeSeries, entry, window int) []float64 {
	entryPrice := prices.At(entry).Value
	moves := []float64{}
	for k := 1; k <= window; k++ {
		idx := entry + k
		if idx >= prices.Len() {
			break
		}
		p := prices.At(idx)
		if !p.Valid {
			break
		}
		move := (p.Value - entryPrice) / entryPrice
		if typ == signal.TypeSell {
			move = -move
		}
		moves = append(moves, move)
	}
	return moves
}

// trailingReturnValues collects up to trailingReturns one-period returns
// ending at the entry index.
func trailingReturnValues(prices *series.TimeSeries, entry int) []float64 {
	returns := []float64{}
	start := entry - trailingReturns + 1
	if start < 1 {
		start = 1
	}
	for j := start; j <= entry; j++ {
		prev, cur := prices.At(j-1), prices.At(j)
		if !prev.Valid || !cur.Valid || prev.Value == 0 {
			continue
		}
		returns = append(returns, (cur.Value-prev.Value)/prev.Value)
	}
	return returns
}

// suggestions renders actionable advice from the aggregate pattern.
func suggestions(r Report) []string {
	if r.Evaluated == 0 {
		return []string{"No signals could be evaluated; provide more price history after the signals."}
	}
	out := []string{}
	switch {
	case r.FalseRate > 0.5:
		out = append(out, "More than half of the evaluated signals look false; rework the generation logic before trading it.")
	case r.FalseRate > 0.3:
		out = append(out, "High false rate; tighten entry criteria or require confirmation from a second source.")
	}
	if dominant, count := dominantReason(r.FailureReasons); count > 0 && float64(count) >= 0.5*float64(r.Evaluated) {
		switch dominant {
		case CheckImmediateDirection:
			out = append(out, "Signals often move the wrong way immediately; consider delaying entries by one period.")
		case CheckThresholdReached:
			out = append(out, "Most signals never reach the move threshold; lower the threshold or extend the holding window.")
		case CheckNoQuickReversal:
			out = append(out, "Early gains frequently reverse; add a confirmation period or tighten exits.")
		case CheckVolatilityJustified:
			out = append(out, "Moves rarely exceed background volatility; filter signals during noisy regimes.")
		}
	}
	if r.MeanStrengthFalse != nil && r.MeanStrengthValid != nil &&
		*r.MeanStrengthFalse >= *r.MeanStrengthValid {
		out = append(out, "Declared strength does not separate false from valid signals; recalibrate strength assignment.")
	}
	if len(out) == 0 {
		out = append(out, "False-signal profile looks healthy; no adjustments suggested.")
	}
	return out
}

// dominantReason picks the most frequent failed check, breaking ties by
// check order.
func dominantReason(reasons map[Check]int) (Check, int) {
	best := Check("")
	bestCount := 0
	for _, check := range AllChecks {
		if reasons[check] > bestCount {
			best = check
			bestCount = reasons[check]
		}
	}
	return best, bestCount
}

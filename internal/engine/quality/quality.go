// Package quality backtests a signal set against a price series and
// scores the outcome distribution: return statistics, significance
// against zero, strength correlation, and a composite 0-100 score.
package quality

import (
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/quantfoundry/sigforge/internal/domain/series"
	"github.com/quantfoundry/sigforge/internal/domain/signal"
	"github.com/quantfoundry/sigforge/internal/engine"
	"github.com/quantfoundry/sigforge/internal/engine/stats"
)

// Default holding horizons in price periods; the primary horizon decides
// win/loss outcomes.
var DefaultHorizons = []int{1, 5, 10, 20}

const (
	DefaultPrimaryHorizon = 5
	DefaultAlpha          = 0.05
)

type config struct {
	horizons []int
	primary  int
	alpha    float64
}

// Option adjusts the analysis.
type Option func(*config)

// WithHorizons replaces the forward-return horizons.
func WithHorizons(horizons ...int) Option {
	return func(c *config) {
		if len(horizons) > 0 {
			c.horizons = horizons
		}
	}
}

// WithPrimaryHorizon sets the horizon that decides outcomes.
func WithPrimaryHorizon(h int) Option {
	return func(c *config) {
		if h > 0 {
			c.primary = h
		}
	}
}

// WithAlpha sets the significance level of the outcome test.
func WithAlpha(a float64) Option {
	return func(c *config) {
		if a > 0 && a < 1 {
			c.alpha = a
		}
	}
}

// Record is one backtested signal. Returns holds the signed forward
// return per horizon that fit inside the history; Scored marks records
// whose primary-horizon outcome exists on a directional signal.
type Record struct {
	Signal     signal.Signal   `json:"signal"`
	EntryIndex int             `json:"entry_index"`
	EntryPrice float64         `json:"entry_price"`
	Returns    map[int]float64 `json:"returns,omitempty"`
	Outcome    float64         `json:"outcome"`
	Scored     bool            `json:"scored"`
}

// Significance reports the one-sample test of outcomes against zero.
type Significance struct {
	TStat       float64 `json:"t_stat"`
	PValue      float64 `json:"p_value"`
	Significant bool    `json:"significant"`
	SampleSize  int     `json:"sample_size"`
}

// TypeReport is the per-direction breakdown.
type TypeReport struct {
	Count      int     `json:"count"`
	WinRate    float64 `json:"win_rate"`
	MeanReturn float64 `json:"mean_return"`
	MeanWin    float64 `json:"mean_win"`
	MeanLoss   float64 `json:"mean_loss"`
}

// Report is the full quality profile. Valid is false when nothing could
// be scored; every numeric field is zero in that case.
type Report struct {
	Valid           bool                       `json:"valid"`
	Reason          string                     `json:"reason,omitempty"`
	TotalSignals    int                        `json:"total_signals"`
	ScoredSignals   int                        `json:"scored_signals"`
	ExcludedSignals int                        `json:"excluded_signals"`
	PrimaryHorizon  int                        `json:"primary_horizon"`
	MeanReturn      float64                    `json:"mean_return"`
	MedianReturn    float64                    `json:"median_return"`
	StdDevReturn    float64                    `json:"stddev_return"`
	TotalReturn     float64                    `json:"total_return"`
	WinRate         float64                    `json:"win_rate"`
	MeanWin         float64                    `json:"mean_win"`
	MeanLoss        float64                    `json:"mean_loss"`
	ProfitFactor    *float64                   `json:"profit_factor,omitempty"`
	Sharpe          float64                    `json:"sharpe"`
	MaxDrawdown     float64                    `json:"max_drawdown"`
	Consistency     float64                    `json:"consistency"`
	HorizonMeans    map[int]float64            `json:"horizon_means,omitempty"`
	Significance    Significance               `json:"significance"`
	StrengthCorr    *float64                   `json:"strength_correlation,omitempty"`
	ByType          map[signal.Type]TypeReport `json:"by_type,omitempty"`
	CompositeScore  float64                    `json:"composite_score"`
	Rating          string                     `json:"rating"`
}

// Backtest builds one record per signal. Horizons that run past the end
// of the price history are left out of the record rather than failed.
func Backtest(set signal.Set, prices *series.TimeSeries, opts ...Option) ([]Record, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.ensurePrimary()
	return backtest(set, prices, cfg)
}

func backtest(set signal.Set, prices *series.TimeSeries, cfg config) ([]Record, error) {
	if prices == nil || prices.Len() == 0 {
		return nil, engine.Errorf(engine.KindAlignmentFailure, "quality", "price series is empty")
	}
	records := make([]Record, 0, len(set))
	for i, s := range set {
		if s.Timestamp.IsZero() {
			return nil, engine.Errorf(engine.KindMissingField, "quality",
				"signal %d has no timestamp", i)
		}
		records = append(records, backtestOne(s, prices, cfg))
	}
	return records, nil
}

func defaultConfig() config {
	horizons := make([]int, len(DefaultHorizons))
	copy(horizons, DefaultHorizons)
	return config{horizons: horizons, primary: DefaultPrimaryHorizon, alpha: DefaultAlpha}
}

// ensurePrimary guarantees the primary horizon is among the computed ones.
func (c *config) ensurePrimary() {
	for _, h := range c.horizons {
		if h == c.primary {
			return
		}
	}
	c.horizons = append(c.horizons, c.primary)
	sort.Ints(c.horizons)
}

func backtestOne(s signal.Signal, prices *series.TimeSeries, cfg config) Record {
	rec := Record{Signal: s, EntryIndex: -1}
	entry := prices.NearestIndex(s.Timestamp)
	if entry < 0 {
		return rec
	}
	entryPoint := prices.At(entry)
	rec.EntryIndex = entry
	rec.EntryPrice = entryPoint.Value
	if !entryPoint.Valid || entryPoint.Value == 0 {
		return rec
	}

	returns := map[int]float64{}
	for _, h := range cfg.horizons {
		exit := entry + h
		if h <= 0 || exit >= prices.Len() {
			continue
		}
		exitPoint := prices.At(exit)
		if !exitPoint.Valid {
			continue
		}
		r := (exitPoint.Value - entryPoint.Value) / entryPoint.Value
		if s.Type == signal.TypeSell {
			r = -r
		}
		returns[h] = r
	}
	if len(returns) > 0 {
		rec.Returns = returns
	}
	outcome, hasPrimary := returns[cfg.primary]
	if hasPrimary && s.Directional() {
		rec.Outcome = outcome
		rec.Scored = true
	}
	return rec
}

// Analyze backtests the set and aggregates the scored outcomes into a
// quality report.
func Analyze(set signal.Set, prices *series.TimeSeries, opts ...Option) (Report, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.ensurePrimary()

	records, err := backtest(set, prices, cfg)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		TotalSignals:   len(set),
		PrimaryHorizon: cfg.primary,
		Rating:         "poor",
	}
	if len(set) == 0 {
		report.Reason = "no signals"
		return report, nil
	}

	outcomes := []float64{}
	for _, rec := range records {
		if rec.Scored {
			outcomes = append(outcomes, rec.Outcome)
		}
	}
	report.ScoredSignals = len(outcomes)
	report.ExcludedSignals = len(set) - len(outcomes)
	if len(outcomes) == 0 {
		report.Reason = "no scorable signals"
		return report, nil
	}
	report.Valid = true

	report.MeanReturn = stats.Mean(outcomes)
	report.MedianReturn = stats.Median(outcomes)
	report.StdDevReturn = stats.StdDev(outcomes)
	report.TotalReturn = stats.CompoundReturn(outcomes)
	report.MaxDrawdown = stats.MaxDrawdown(outcomes)

	wins, losses := split(outcomes)
	report.WinRate = float64(len(wins)) / float64(len(outcomes))
	report.MeanWin = stats.Mean(wins)
	report.MeanLoss = stats.Mean(losses)
	if len(losses) > 0 && report.MeanLoss != 0 {
		pf := report.MeanWin / -report.MeanLoss
		report.ProfitFactor = &pf
	}
	if report.StdDevReturn > 0 {
		report.Sharpe = report.MeanReturn / report.StdDevReturn
	}
	report.Consistency = consistency(outcomes)
	report.HorizonMeans = horizonMeans(records, cfg.horizons)
	report.Significance = significance(outcomes, cfg.alpha)
	report.StrengthCorr = strengthCorrelation(records)
	report.ByType = byType(records)

	report.CompositeScore = composite(report)
	report.Rating = rating(report.CompositeScore)

	log.Debug().
		Int("scored", report.ScoredSignals).
		Int("excluded", report.ExcludedSignals).
		Float64("composite", report.CompositeScore).
		Str("rating", report.Rating).
		Msg("Quality analysis complete")
	return report, nil
}

func split(outcomes []float64) (wins, losses []float64) {
	for _, r := range outcomes {
		switch {
		case r > 0:
			wins = append(wins, r)
		case r < 0:
			losses = append(losses, r)
		}
	}
	return wins, losses
}

// consistency compares the spread of rolling outcome means to their
// level: 1 is steady, 0 is erratic. Too few outcomes score 0.
func consistency(outcomes []float64) float64 {
	window := len(outcomes) / 2
	if window > 10 {
		window = 10
	}
	if window < 2 {
		return 0
	}
	rolling := stats.RollingMeans(outcomes, window)
	level := stats.Mean(rolling)
	if level == 0 {
		return 0
	}
	return stats.Clip(1-stats.StdDev(rolling)/abs(level), 0, 1)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func horizonMeans(records []Record, horizons []int) map[int]float64 {
	means := map[int]float64{}
	for _, h := range horizons {
		values := []float64{}
		for _, rec := range records {
			if !rec.Signal.Directional() {
				continue
			}
			if r, ok := rec.Returns[h]; ok {
				values = append(values, r)
			}
		}
		if len(values) > 0 {
			means[h] = stats.Mean(values)
		}
	}
	if len(means) == 0 {
		return nil
	}
	return means
}

func significance(outcomes []float64, alpha float64) Significance {
	tstat, p, ok := stats.TTestOneSample(outcomes, 0)
	if !ok {
		return Significance{PValue: 1, SampleSize: len(outcomes)}
	}
	return Significance{
		TStat:       tstat,
		PValue:      p,
		Significant: p < alpha,
		SampleSize:  len(outcomes),
	}
}

// strengthCorrelation relates declared strength to realized outcome over
// scored records that declared one. Undefined correlations stay nil.
func strengthCorrelation(records []Record) *float64 {
	var strengths, outcomes []float64
	for _, rec := range records {
		if rec.Scored && rec.Signal.HasStrength() {
			strengths = append(strengths, *rec.Signal.Strength)
			outcomes = append(outcomes, rec.Outcome)
		}
	}
	r, ok := stats.Pearson(strengths, outcomes)
	if !ok {
		return nil
	}
	return &r
}

func byType(records []Record) map[signal.Type]TypeReport {
	grouped := map[signal.Type][]float64{}
	for _, rec := range records {
		if rec.Scored {
			grouped[rec.Signal.Type] = append(grouped[rec.Signal.Type], rec.Outcome)
		}
	}
	if len(grouped) == 0 {
		return nil
	}
	out := map[signal.Type]TypeReport{}
	for typ, outcomes := range grouped {
		wins, losses := split(outcomes)
		out[typ] = TypeReport{
			Count:      len(outcomes),
			WinRate:    float64(len(wins)) / float64(len(outcomes)),
			MeanReturn: stats.Mean(outcomes),
			MeanWin:    stats.Mean(wins),
			MeanLoss:   stats.Mean(losses),
		}
	}
	return out
}

// composite folds the headline metrics into a 0-100 score.
func composite(r Report) float64 {
	score := stats.Clip(r.MeanReturn*100, -50, 50) +
		r.WinRate*30 +
		stats.Clip(r.Sharpe*10, -10, 10) +
		r.Consistency*10 +
		50
	return stats.Clip(score, 0, 100)
}

func rating(score float64) string {
	switch {
	case score >= 80:
		return "excellent"
	case score >= 60:
		return "good"
	case score >= 40:
		return "fair"
	default:
		return "poor"
	}
}

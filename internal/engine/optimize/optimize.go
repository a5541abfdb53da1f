// Package optimize runs grid-search parameter optimization for the
// registered strategies, ranking parameter combinations by a composite
// backtest score and reporting importance and stability diagnostics.
package optimize

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfoundry/sigforge/internal/domain/series"
	"github.com/quantfoundry/sigforge/internal/engine"
	"github.com/quantfoundry/sigforge/internal/engine/quality"
	"github.com/quantfoundry/sigforge/internal/engine/stats"
	"github.com/quantfoundry/sigforge/internal/engine/strategy"
)

const (
	// MinHistory is the minimum number of price points required before a
	// grid search is allowed to run.
	MinHistory = 100

	// minSignals is the fewest usable signals a combination may produce
	// and still be backtested.
	minSignals = 5

	// horizon is the fixed forward return horizon, in periods, used to
	// score every combination.
	horizon = 5
)

// Skip reasons attached to combinations excluded from the ranking.
const (
	SkipGenerationError     = "generation_error"
	SkipInsufficientSignals = "insufficient_signals"
	SkipNoScorableSignals   = "no_scorable_signals"
)

// Result holds the backtest metrics for one parameter combination.
type Result struct {
	Params      strategy.Params `json:"parameters"`
	SignalCount int             `json:"signal_count"`
	Scored      int             `json:"scored_signals"`
	TotalReturn float64         `json:"total_return"`
	MeanReturn  float64         `json:"mean_return"`
	Volatility  float64         `json:"volatility"`
	Sharpe      float64         `json:"sharpe"`
	WinRate     float64         `json:"win_rate"`
	MaxDrawdown float64         `json:"max_drawdown"`
	Composite   float64         `json:"composite_score"`

	gridIndex int
}

// Skip records a combination that was excluded and why.
type Skip struct {
	Params strategy.Params `json:"parameters"`
	Reason string          `json:"reason"`
}

// ParamStability describes how consistent one parameter is among the top
// performing combinations.
type ParamStability struct {
	Value       float64 `json:"value"`
	Consistency float64 `json:"consistency"`
}

// Stability summarizes the top decile of the ranking.
type Stability struct {
	TopCount    int                       `json:"top_count"`
	ScoreRange  float64                   `json:"score_range"`
	ScoreStdDev float64                   `json:"score_std_dev"`
	Params      map[string]ParamStability `json:"parameters"`
}

// Outcome is the full result of one grid search.
type Outcome struct {
	Strategy    string             `json:"strategy"`
	Evaluated   int                `json:"evaluated"`
	Valid       int                `json:"valid"`
	Skipped     int                `json:"skipped"`
	SkipReasons map[string]int     `json:"skip_reasons,omitempty"`
	Skips       []Skip             `json:"skips,omitempty"`
	BestParams  strategy.Params    `json:"best_parameters,omitempty"`
	BestScore   float64            `json:"best_score"`
	Results     []Result           `json:"results"`
	Importance  map[string]float64 `json:"parameter_importance,omitempty"`
	Stability   *Stability         `json:"stability,omitempty"`
	Elapsed     time.Duration      `json:"elapsed"`
}

type config struct {
	workers  int
	progress func(done, total int)
}

// Option adjusts optimizer behavior.
type Option func(*config)

// WithWorkers sets how many combinations are evaluated concurrently.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithProgress installs a callback invoked after every evaluated
// combination. It is called from a single goroutine.
func WithProgress(fn func(done, total int)) Option {
	return func(c *config) { c.progress = fn }
}

// grid enumerates the Cartesian product of parameter ranges in sorted
// name order, rightmost name varying fastest.
type grid struct {
	names  []string
	values [][]float64
	idx    []int
	done   bool
}

func newGrid(names []string, values [][]float64) *grid {
	g := &grid{names: names, values: values}
	g.Reset()
	return g
}

// Size returns the total number of combinations.
func (g *grid) Size() int {
	size := 1
	for _, vs := range g.values {
		size *= len(vs)
	}
	if len(g.values) == 0 {
		return 0
	}
	return size
}

// Reset rewinds the iterator to the first combination.
func (g *grid) Reset() {
	g.idx = make([]int, len(g.names))
	g.done = len(g.names) == 0
}

// Next returns the current combination and advances the iterator.
func (g *grid) Next() (strategy.Params, bool) {
	if g.done {
		return nil, false
	}
	p := make(strategy.Params, len(g.names))
	for i, name := range g.names {
		p[name] = g.values[i][g.idx[i]]
	}
	for i := len(g.idx) - 1; i >= 0; i-- {
		g.idx[i]++
		if g.idx[i] < len(g.values[i]) {
			return p, true
		}
		g.idx[i] = 0
	}
	g.done = true
	return p, true
}

// Optimize evaluates every combination of the supplied parameter ranges
// for the given strategy against the price series. Ranges omitted by the
// caller fall back to the strategy's default grid. Zero valid
// combinations is a reportable outcome, not an error.
func Optimize(ctx context.Context, prices *series.TimeSeries, strategyID string, ranges map[string][]float64, opts ...Option) (*Outcome, error) {
	const op = "optimize"
	cfg := config{workers: 1}
	for _, opt := range opts {
		opt(&cfg)
	}

	if prices == nil || prices.Len() < MinHistory {
		n := 0
		if prices != nil {
			n = prices.Len()
		}
		return nil, engine.Errorf(engine.KindInsufficientHistory, op,
			"optimization requires at least %d price points, got %d", MinHistory, n)
	}
	strat, ok := strategy.Get(strategyID)
	if !ok {
		return nil, engine.Errorf(engine.KindUnknownStrategy, op,
			"unknown strategy %q, known: %v", strategyID, strategy.IDs())
	}
	g, err := buildGrid(strat, ranges)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	log.Debug().
		Str("strategy", strategyID).
		Int("combinations", g.Size()).
		Int("workers", cfg.workers).
		Msg("starting grid search")

	results, skips, err := runGrid(ctx, g, strat, prices, cfg)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Composite != results[j].Composite {
			return results[i].Composite > results[j].Composite
		}
		return results[i].gridIndex < results[j].gridIndex
	})

	out := &Outcome{
		Strategy:  strategyID,
		Evaluated: len(results) + len(skips),
		Valid:     len(results),
		Skipped:   len(skips),
		Skips:     skips,
		Results:   results,
		Elapsed:   time.Since(start),
	}
	if len(skips) > 0 {
		out.SkipReasons = make(map[string]int)
		for _, s := range skips {
			out.SkipReasons[s.Reason]++
		}
	}
	if len(results) > 0 {
		out.BestParams = results[0].Params
		out.BestScore = results[0].Composite
		out.Importance = importance(g.names, results)
		out.Stability = stability(g.names, results)
	}

	log.Info().
		Str("strategy", strategyID).
		Int("valid", out.Valid).
		Int("skipped", out.Skipped).
		Float64("best_score", out.BestScore).
		Dur("elapsed", out.Elapsed).
		Msg("grid search complete")
	return out, nil
}

func buildGrid(strat strategy.Strategy, ranges map[string][]float64) (*grid, error) {
	names := make(map[string]struct{}, len(strat.Defaults)+len(ranges))
	for name := range strat.Defaults {
		names[name] = struct{}{}
	}
	for name := range ranges {
		names[name] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	values := make([][]float64, len(sorted))
	for i, name := range sorted {
		vs, explicit := ranges[name]
		if !explicit {
			vs = strat.Defaults[name]
		}
		if len(vs) == 0 {
			return nil, engine.Errorf(engine.KindMissingField, "optimize",
				"empty range for parameter %q", name)
		}
		values[i] = vs
	}
	return newGrid(sorted, values), nil
}

type cell struct {
	index  int
	params strategy.Params
}

type verdict struct {
	result *Result
	skip   *Skip
}

func runGrid(ctx context.Context, g *grid, strat strategy.Strategy, prices *series.TimeSeries, cfg config) ([]Result, []Skip, error) {
	workers := cfg.workers
	if size := g.Size(); workers > size {
		workers = size
	}
	if workers < 1 {
		workers = 1
	}

	cells := make(chan cell)
	verdicts := make(chan verdict, workers)

	go func() {
		defer close(cells)
		for i := 0; ; i++ {
			params, ok := g.Next()
			if !ok {
				return
			}
			select {
			case cells <- cell{index: i, params: params}:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range cells {
				if ctx.Err() != nil {
					return
				}
				verdicts <- evaluateCell(c, strat, prices)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(verdicts)
	}()

	var (
		results []Result
		skips   []Skip
	)
	total := g.Size()
	for v := range verdicts {
		if v.result != nil {
			results = append(results, *v.result)
		} else {
			skips = append(skips, *v.skip)
		}
		if cfg.progress != nil {
			cfg.progress(len(results)+len(skips), total)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	sort.Slice(skips, func(i, j int) bool { return skips[i].Reason < skips[j].Reason })
	return results, skips, nil
}

func evaluateCell(c cell, strat strategy.Strategy, prices *series.TimeSeries) verdict {
	set, err := strat.Generate(prices, c.params)
	if err != nil {
		log.Debug().Err(err).Interface("params", c.params).Msg("combination skipped")
		return verdict{skip: &Skip{Params: c.params, Reason: SkipGenerationError}}
	}
	if len(set) < minSignals {
		return verdict{skip: &Skip{Params: c.params, Reason: SkipInsufficientSignals}}
	}

	records, err := quality.Backtest(set, prices,
		quality.WithHorizons(horizon), quality.WithPrimaryHorizon(horizon))
	if err != nil {
		log.Debug().Err(err).Interface("params", c.params).Msg("combination skipped")
		return verdict{skip: &Skip{Params: c.params, Reason: SkipGenerationError}}
	}
	var returns []float64
	for _, r := range records {
		if !r.Scored {
			continue
		}
		returns = append(returns, r.Returns[horizon])
	}
	if len(returns) == 0 {
		return verdict{skip: &Skip{Params: c.params, Reason: SkipNoScorableSignals}}
	}
	if len(returns) < minSignals {
		return verdict{skip: &Skip{Params: c.params, Reason: SkipInsufficientSignals}}
	}

	wins := 0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}
	winRate := float64(wins) / float64(len(returns))
	meanReturn := stats.Mean(returns)
	vol := stats.StdDev(returns)
	sharpe := 0.0
	if vol > 0 {
		sharpe = meanReturn / vol
	}
	totalReturn := stats.CompoundReturn(returns)
	maxDD := stats.MaxDrawdown(returns)

	res := &Result{
		Params:      c.params,
		SignalCount: len(set),
		Scored:      len(returns),
		TotalReturn: totalReturn,
		MeanReturn:  meanReturn,
		Volatility:  vol,
		Sharpe:      sharpe,
		WinRate:     winRate,
		MaxDrawdown: maxDD,
		Composite:   0.4*sharpe + 0.3*totalReturn + 0.2*winRate - 0.1*math.Abs(maxDD),
		gridIndex:   c.index,
	}
	return verdict{result: res}
}

// importance correlates each parameter's tested values with the
// composite scores. The correlation runs over the valid combinations
// only: skipped combinations carry no score, so including them would
// require inventing one. Parameters with a single tested value report
// zero.
func importance(names []string, results []Result) map[string]float64 {
	out := make(map[string]float64, len(names))
	scores := make([]float64, len(results))
	for i, r := range results {
		scores[i] = r.Composite
	}
	for _, name := range names {
		values := make([]float64, len(results))
		for i, r := range results {
			values[i] = r.Params[name]
		}
		r, ok := stats.Pearson(values, scores)
		if !ok {
			r = 0
		}
		out[name] = r
	}
	return out
}

// stability inspects the top decile of the ranking and reports, per
// parameter, the most frequent value and how consistently it appears.
func stability(names []string, results []Result) *Stability {
	topCount := len(results) / 10
	if topCount < 1 {
		topCount = 1
	}
	top := results[:topCount]

	scores := make([]float64, topCount)
	for i, r := range top {
		scores[i] = r.Composite
	}
	st := &Stability{
		TopCount:    topCount,
		ScoreRange:  scores[0] - scores[topCount-1],
		ScoreStdDev: stats.StdDev(scores),
		Params:      make(map[string]ParamStability, len(names)),
	}
	for _, name := range names {
		counts := make(map[float64]int, topCount)
		for _, r := range top {
			counts[r.Params[name]]++
		}
		values := make([]float64, 0, len(counts))
		for v := range counts {
			values = append(values, v)
		}
		sort.Float64s(values)
		best, bestCount := 0.0, 0
		for _, v := range values {
			if counts[v] > bestCount {
				best, bestCount = v, counts[v]
			}
		}
		st.Params[name] = ParamStability{
			Value:       best,
			Consistency: float64(bestCount) / float64(topCount),
		}
	}
	return st
}

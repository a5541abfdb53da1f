// Package frequency analyzes the temporal rhythm of a signal set: bucket
// counts per calendar period, gap statistics, type mix, and clustering.
package frequency

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfoundry/sigforge/internal/domain/signal"
	"github.com/quantfoundry/sigforge/internal/engine"
	"github.com/quantfoundry/sigforge/internal/engine/stats"
)

// Granularity selects the calendar bucketing of the analysis.
type Granularity string

const (
	Daily   Granularity = "daily"
	Weekly  Granularity = "weekly"
	Monthly Granularity = "monthly"
)

// ParseGranularity normalizes a raw label. Unrecognized labels fall back
// to Daily and the fallback is reported via ok.
func ParseGranularity(s string) (Granularity, bool) {
	switch Granularity(strings.ToLower(strings.TrimSpace(s))) {
	case Daily:
		return Daily, true
	case Weekly:
		return Weekly, true
	case Monthly:
		return Monthly, true
	}
	return Daily, false
}

// SpanStats describes the covered time range.
type SpanStats struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Days  float64   `json:"days"`
}

// BucketStats summarizes per-bucket signal counts. The mean, min, max,
// and spread cover active buckets only; Inactive counts the calendar
// buckets inside the span that saw no signals.
type BucketStats struct {
	Active          int     `json:"active"`
	Inactive        int     `json:"inactive"`
	Total           int     `json:"total"`
	MeanPerBucket   float64 `json:"mean_per_bucket"`
	MinPerBucket    int     `json:"min_per_bucket"`
	MaxPerBucket    int     `json:"max_per_bucket"`
	StdDevPerBucket float64 `json:"stddev_per_bucket"`
	MostActive      string  `json:"most_active,omitempty"`
	MostActiveCount int     `json:"most_active_count"`
}

// GapStats summarizes the spacing between consecutive signals in days.
type GapStats struct {
	MeanDays   float64 `json:"mean_days"`
	MedianDays float64 `json:"median_days"`
	MinDays    float64 `json:"min_days"`
	MaxDays    float64 `json:"max_days"`
}

// TypeBreakdown tallies signals per type with percentages of the total.
type TypeBreakdown struct {
	Counts  map[signal.Type]int     `json:"counts"`
	Percent map[signal.Type]float64 `json:"percent"`
}

// StrengthStats summarizes declared strengths. Absent on sets where no
// signal declares one.
type StrengthStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"stddev"`
}

// Report is the full frequency profile of a signal set.
type Report struct {
	Granularity  Granularity    `json:"granularity"`
	TotalSignals int            `json:"total_signals"`
	Span         SpanStats      `json:"span"`
	Buckets      BucketStats    `json:"buckets"`
	Gaps         GapStats       `json:"gaps"`
	Types        TypeBreakdown  `json:"types"`
	Methods      map[string]int `json:"methods,omitempty"`
	Strength     *StrengthStats `json:"strength,omitempty"`
}

// Analyze profiles the set at the given granularity. An empty set yields
// a zero report without error; a signal without a timestamp is a hard
// failure.
func Analyze(set signal.Set, g Granularity) (Report, error) {
	norm, ok := ParseGranularity(string(g))
	if !ok {
		log.Warn().Str("granularity", string(g)).Msg("Unknown granularity, defaulting to daily")
	}
	g = norm

	report := Report{
		Granularity: g,
		Types:       TypeBreakdown{Counts: map[signal.Type]int{}, Percent: map[signal.Type]float64{}},
	}
	if len(set) == 0 {
		return report, nil
	}
	for i, s := range set {
		if s.Timestamp.IsZero() {
			return Report{}, engine.Errorf(engine.KindMissingField, "frequency",
				"signal %d has no timestamp", i)
		}
	}

	sorted := set.SortedByTime()
	report.TotalSignals = len(sorted)
	first := sorted[0].Timestamp
	last := sorted[len(sorted)-1].Timestamp
	report.Span = SpanStats{
		Start: first,
		End:   last,
		Days:  last.Sub(first).Hours() / 24,
	}

	report.Buckets = bucketStats(sorted, g)
	report.Gaps = gapStats(sorted)
	report.Types = TypeBreakdown{
		Counts:  sorted.TypeCounts(),
		Percent: sorted.TypePercentages(),
	}

	methods := map[string]int{}
	for _, s := range sorted {
		if s.Method != "" {
			methods[s.Method]++
		}
	}
	if len(methods) > 0 {
		report.Methods = methods
	}
	report.Strength = strengthStats(sorted)

	log.Debug().
		Str("granularity", string(g)).
		Int("signals", report.TotalSignals).
		Int("active_buckets", report.Buckets.Active).
		Msg("Frequency analysis complete")
	return report, nil
}

// BucketKey renders the calendar bucket a timestamp falls into.
func BucketKey(t time.Time, g Granularity) string {
	switch g {
	case Weekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case Monthly:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

func bucketStats(sorted signal.Set, g Granularity) BucketStats {
	counts := map[string]int{}
	for _, s := range sorted {
		counts[BucketKey(s.Timestamp, g)]++
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bs := BucketStats{Active: len(counts)}
	perBucket := make([]float64, 0, len(counts))
	bs.MinPerBucket = counts[keys[0]]
	for _, k := range keys {
		n := counts[k]
		perBucket = append(perBucket, float64(n))
		if n > bs.MostActiveCount {
			bs.MostActive = k
			bs.MostActiveCount = n
		}
		if n < bs.MinPerBucket {
			bs.MinPerBucket = n
		}
		if n > bs.MaxPerBucket {
			bs.MaxPerBucket = n
		}
	}
	bs.MeanPerBucket = stats.Mean(perBucket)
	bs.StdDevPerBucket = stats.StdDev(perBucket)

	bs.Total = totalBuckets(sorted[0].Timestamp, sorted[len(sorted)-1].Timestamp, g)
	if bs.Total < bs.Active {
		bs.Total = bs.Active
	}
	bs.Inactive = bs.Total - bs.Active
	return bs
}

// totalBuckets counts calendar buckets from first to last inclusive.
func totalBuckets(first, last time.Time, g Granularity) int {
	var cursor, end time.Time
	var step func(time.Time) time.Time
	switch g {
	case Weekly:
		cursor, end = weekStart(first), weekStart(last)
		step = func(t time.Time) time.Time { return t.AddDate(0, 0, 7) }
	case Monthly:
		cursor = time.Date(first.Year(), first.Month(), 1, 0, 0, 0, 0, first.Location())
		end = time.Date(last.Year(), last.Month(), 1, 0, 0, 0, 0, last.Location())
		step = func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }
	default:
		cursor = time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, first.Location())
		end = time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, last.Location())
		step = func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }
	}
	n := 0
	for !cursor.After(end) {
		n++
		cursor = step(cursor)
	}
	return n
}

// weekStart truncates to the ISO week's Monday.
func weekStart(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func gapStats(sorted signal.Set) GapStats {
	if len(sorted) < 2 {
		return GapStats{}
	}
	gaps := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		gaps = append(gaps, sorted[i].Timestamp.Sub(sorted[i-1].Timestamp).Hours()/24)
	}
	gs := GapStats{
		MeanDays:   stats.Mean(gaps),
		MedianDays: stats.Median(gaps),
		MinDays:    gaps[0],
		MaxDays:    gaps[0],
	}
	for _, gap := range gaps {
		if gap < gs.MinDays {
			gs.MinDays = gap
		}
		if gap > gs.MaxDays {
			gs.MaxDays = gap
		}
	}
	return gs
}

func strengthStats(set signal.Set) *StrengthStats {
	declared := set.WithStrength()
	if len(declared) == 0 {
		return nil
	}
	values := make([]float64, len(declared))
	for i, s := range declared {
		values[i] = *s.Strength
	}
	ss := &StrengthStats{
		Count:  len(values),
		Mean:   stats.Mean(values),
		Min:    values[0],
		Max:    values[0],
		StdDev: stats.StdDev(values),
	}
	for _, v := range values {
		if v < ss.Min {
			ss.Min = v
		}
		if v > ss.Max {
			ss.Max = v
		}
	}
	return ss
}

// Package series provides the ordered numeric time series that every
// detector and analyzer consumes. Points carry an explicit validity flag
// so warmup gaps and bad samples survive alignment instead of being
// silently dropped.
package series

import (
	"math"
	"sort"
	"time"

	"github.com/quantfoundry/sigforge/internal/engine"
)

// Point is a single observation. Invalid points hold their timestamp slot
// but are skipped by comparisons and indicator math.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Valid     bool      `json:"valid"`
}

// TimeSeries is an immutable, strictly time-ascending sequence of points.
type TimeSeries struct {
	name   string
	points []Point
}

// New builds a series from pre-ordered points. Timestamps must be strictly
// increasing and non-zero.
func New(name string, points []Point) (*TimeSeries, error) {
	for i, p := range points {
		if p.Timestamp.IsZero() {
			return nil, engine.Errorf(engine.KindMissingField, "series",
				"point %d of %q has no timestamp", i, name)
		}
		if i > 0 && !points[i-1].Timestamp.Before(p.Timestamp) {
			return nil, engine.Errorf(engine.KindAlignmentFailure, "series",
				"timestamps of %q are not strictly increasing at index %d", name, i)
		}
	}
	cp := make([]Point, len(points))
	copy(cp, points)
	return &TimeSeries{name: name, points: cp}, nil
}

// FromSamples pairs timestamps with values. NaN and infinite values are
// kept as invalid points rather than rejected.
func FromSamples(name string, timestamps []time.Time, values []float64) (*TimeSeries, error) {
	if len(timestamps) != len(values) {
		return nil, engine.Errorf(engine.KindAlignmentFailure, "series",
			"%q has %d timestamps but %d values", name, len(timestamps), len(values))
	}
	points := make([]Point, len(values))
	for i, v := range values {
		points[i] = Point{
			Timestamp: timestamps[i],
			Value:     v,
			Valid:     !math.IsNaN(v) && !math.IsInf(v, 0),
		}
	}
	return New(name, points)
}

// MustFromValues builds a series with synthetic daily timestamps starting
// at start. Intended for fixtures and examples where only the shape of
// the values matters.
func MustFromValues(name string, start time.Time, values []float64) *TimeSeries {
	timestamps := make([]time.Time, len(values))
	for i := range values {
		timestamps[i] = start.AddDate(0, 0, i)
	}
	ts, err := FromSamples(name, timestamps, values)
	if err != nil {
		panic(err)
	}
	return ts
}

// Name returns the series label.
func (ts *TimeSeries) Name() string { return ts.name }

// Len returns the number of points, valid or not.
func (ts *TimeSeries) Len() int { return len(ts.points) }

// At returns the point at index i.
func (ts *TimeSeries) At(i int) Point { return ts.points[i] }

// First returns the earliest point and false when the series is empty.
func (ts *TimeSeries) First() (Point, bool) {
	if len(ts.points) == 0 {
		return Point{}, false
	}
	return ts.points[0], true
}

// Last returns the latest point and false when the series is empty.
func (ts *TimeSeries) Last() (Point, bool) {
	if len(ts.points) == 0 {
		return Point{}, false
	}
	return ts.points[len(ts.points)-1], true
}

// Values returns a copy of all point values, invalid slots included.
func (ts *TimeSeries) Values() []float64 {
	out := make([]float64, len(ts.points))
	for i, p := range ts.points {
		out[i] = p.Value
	}
	return out
}

// ValidValues returns the values of valid points only, in order.
func (ts *TimeSeries) ValidValues() []float64 {
	out := make([]float64, 0, len(ts.points))
	for _, p := range ts.points {
		if p.Valid {
			out = append(out, p.Value)
		}
	}
	return out
}

// Timestamps returns a copy of all point timestamps.
func (ts *TimeSeries) Timestamps() []time.Time {
	out := make([]time.Time, len(ts.points))
	for i, p := range ts.points {
		out[i] = p.Timestamp
	}
	return out
}

// Points returns a copy of the underlying points.
func (ts *TimeSeries) Points() []Point {
	cp := make([]Point, len(ts.points))
	copy(cp, ts.points)
	return cp
}

// NearestIndex returns the index of the point closest in time to t, or -1
// for an empty series. Ties resolve to the earlier point.
func (ts *TimeSeries) NearestIndex(t time.Time) int {
	n := len(ts.points)
	if n == 0 {
		return -1
	}
	i := sort.Search(n, func(j int) bool {
		return !ts.points[j].Timestamp.Before(t)
	})
	if i == 0 {
		return 0
	}
	if i == n {
		return n - 1
	}
	before := t.Sub(ts.points[i-1].Timestamp)
	after := ts.points[i].Timestamp.Sub(t)
	if after < before {
		return i
	}
	return i - 1
}

// Slice returns the half-open window [i, j) as a new series.
func (ts *TimeSeries) Slice(i, j int) *TimeSeries {
	cp := make([]Point, j-i)
	copy(cp, ts.points[i:j])
	return &TimeSeries{name: ts.name, points: cp}
}

// Derive builds a same-length series over ts's timestamps from computed
// values and their validity. Used by indicator transforms.
func (ts *TimeSeries) Derive(name string, values []float64, valid []bool) (*TimeSeries, error) {
	if len(values) != len(ts.points) || len(valid) != len(ts.points) {
		return nil, engine.Errorf(engine.KindAlignmentFailure, "series",
			"derived %q length %d does not match source length %d", name, len(values), len(ts.points))
	}
	points := make([]Point, len(values))
	for i := range values {
		points[i] = Point{
			Timestamp: ts.points[i].Timestamp,
			Value:     values[i],
			Valid:     valid[i] && !math.IsNaN(values[i]) && !math.IsInf(values[i], 0),
		}
	}
	return &TimeSeries{name: name, points: points}, nil
}

// Align inner-joins two series on exact timestamps and returns the
// overlapping portions in order. An empty overlap is an alignment failure.
func Align(a, b *TimeSeries) (*TimeSeries, *TimeSeries, error) {
	if a == nil || b == nil {
		return nil, nil, engine.Errorf(engine.KindAlignmentFailure, "series", "cannot align nil series")
	}
	var pa, pb []Point
	i, j := 0, 0
	for i < len(a.points) && j < len(b.points) {
		ta, tb := a.points[i].Timestamp, b.points[j].Timestamp
		switch {
		case ta.Equal(tb):
			pa = append(pa, a.points[i])
			pb = append(pb, b.points[j])
			i++
			j++
		case ta.Before(tb):
			i++
		default:
			j++
		}
	}
	if len(pa) == 0 {
		return nil, nil, engine.Errorf(engine.KindAlignmentFailure, "series",
			"%q and %q share no timestamps", a.name, b.name)
	}
	return &TimeSeries{name: a.name, points: pa}, &TimeSeries{name: b.name, points: pb}, nil
}

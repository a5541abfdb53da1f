// Package detect evaluates threshold, band, and crossover conditions over
// time series and reports every index where the condition holds. Invalid
// or missing slots on either side of a comparison are skipped, never
// treated as zero.
package detect

import (
	"math"
	"strings"
	"time"

	"github.com/quantfoundry/sigforge/internal/domain/series"
	"github.com/quantfoundry/sigforge/internal/engine"
)

// Operator names a supported comparison.
type Operator string

const (
	OpGreaterThan    Operator = ">"
	OpLessThan       Operator = "<"
	OpGreaterOrEqual Operator = ">="
	OpLessOrEqual    Operator = "<="
	OpEqual          Operator = "=="
	OpCrossoverUp    Operator = "crossover_up"
	OpCrossoverDown  Operator = "crossover_down"
	OpBetween        Operator = "between"
	OpOutside        Operator = "outside"
)

// ParseOperator maps a raw operator label onto an Operator.
func ParseOperator(s string) (Operator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ">", "gt", "greater_than":
		return OpGreaterThan, nil
	case "<", "lt", "less_than":
		return OpLessThan, nil
	case ">=", "ge", "gte":
		return OpGreaterOrEqual, nil
	case "<=", "le", "lte":
		return OpLessOrEqual, nil
	case "==", "=", "eq", "equals":
		return OpEqual, nil
	case "crossover_up", "cross_up", "crosses_above":
		return OpCrossoverUp, nil
	case "crossover_down", "cross_down", "crosses_below":
		return OpCrossoverDown, nil
	case "between":
		return OpBetween, nil
	case "outside":
		return OpOutside, nil
	}
	return "", engine.Errorf(engine.KindInvalidOperator, "compare", "unsupported operator %q", s)
}

type operandKind int

const (
	operandScalar operandKind = iota
	operandSeries
	operandBand
)

// Operand is the right-hand side of a comparison: a constant, a second
// series, or a (lower, upper) band of either.
type Operand struct {
	kind   operandKind
	scalar float64
	series *series.TimeSeries
	lower  *Operand
	upper  *Operand
}

// Const compares against a fixed value.
func Const(v float64) Operand {
	return Operand{kind: operandScalar, scalar: v}
}

// With compares against a second series, aligned by index. Slots past the
// operand's end are undefined and skipped.
func With(s *series.TimeSeries) Operand {
	return Operand{kind: operandSeries, series: s}
}

// Band bounds the primary between two operands, each a constant or a
// series. Only the between and outside operators accept a band.
func Band(lower, upper Operand) Operand {
	return Operand{kind: operandBand, lower: &lower, upper: &upper}
}

// valueAt resolves the operand at index i. ok is false when the slot is
// undefined there.
func (o Operand) valueAt(i int) (float64, bool) {
	switch o.kind {
	case operandScalar:
		return o.scalar, true
	case operandSeries:
		if o.series == nil || i >= o.series.Len() {
			return 0, false
		}
		p := o.series.At(i)
		return p.Value, p.Valid
	}
	return 0, false
}

// Event records one index where the condition held. Other carries the
// resolved operand value; Lower and Upper are set for band conditions.
type Event struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Other     *float64  `json:"other,omitempty"`
	Lower     *float64  `json:"lower,omitempty"`
	Upper     *float64  `json:"upper,omitempty"`
	Operator  Operator  `json:"operator"`
}

type config struct {
	epsilon float64
}

// Option adjusts comparison behavior.
type Option func(*config)

// WithEpsilon sets the tolerance used by equality comparisons. The
// default of 0 demands exact equality.
func WithEpsilon(eps float64) Option {
	return func(c *config) { c.epsilon = math.Abs(eps) }
}

// Compare evaluates the condition at every defined index of the primary
// series and returns the matching events in time order.
func Compare(primary *series.TimeSeries, against Operand, op Operator, opts ...Option) ([]Event, error) {
	if primary == nil {
		return nil, engine.Errorf(engine.KindMissingField, "compare", "no primary series")
	}
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	switch op {
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual, OpEqual:
		if against.kind == operandBand {
			return nil, engine.Errorf(engine.KindInvalidOperator, "compare",
				"operator %q takes a value or series operand, not a band", op)
		}
		return relational(primary, against, op, cfg.epsilon), nil
	case OpCrossoverUp, OpCrossoverDown:
		if against.kind == operandBand {
			return nil, engine.Errorf(engine.KindInvalidOperator, "compare",
				"operator %q takes a value or series operand, not a band", op)
		}
		return crossover(primary, against, op), nil
	case OpBetween, OpOutside:
		if against.kind != operandBand {
			return nil, engine.Errorf(engine.KindInvalidOperator, "compare",
				"operator %q requires a (lower, upper) band operand", op)
		}
		if against.lower.kind == operandBand || against.upper.kind == operandBand {
			return nil, engine.Errorf(engine.KindInvalidOperator, "compare",
				"band bounds must be values or series")
		}
		return band(primary, against, op), nil
	}
	return nil, engine.Errorf(engine.KindInvalidOperator, "compare", "unsupported operator %q", op)
}

func relational(primary *series.TimeSeries, against Operand, op Operator, eps float64) []Event {
	events := []Event{}
	for i := 0; i < primary.Len(); i++ {
		p := primary.At(i)
		if !p.Valid {
			continue
		}
		b, ok := against.valueAt(i)
		if !ok {
			continue
		}
		if !holds(p.Value, b, op, eps) {
			continue
		}
		other := b
		events = append(events, Event{
			Index:     i,
			Timestamp: p.Timestamp,
			Value:     p.Value,
			Other:     &other,
			Operator:  op,
		})
	}
	return events
}

// crossover requires both sides defined at the previous and current index.
// An up-cross holds when the primary was at or below the operand and is
// now strictly above; down is the mirror.
func crossover(primary *series.TimeSeries, against Operand, op Operator) []Event {
	events := []Event{}
	for i := 1; i < primary.Len(); i++ {
		prev, cur := primary.At(i-1), primary.At(i)
		if !prev.Valid || !cur.Valid {
			continue
		}
		bPrev, okPrev := against.valueAt(i - 1)
		bCur, okCur := against.valueAt(i)
		if !okPrev || !okCur {
			continue
		}
		crossed := false
		switch op {
		case OpCrossoverUp:
			crossed = prev.Value <= bPrev && cur.Value > bCur
		case OpCrossoverDown:
			crossed = prev.Value >= bPrev && cur.Value < bCur
		}
		if !crossed {
			continue
		}
		other := bCur
		events = append(events, Event{
			Index:     i,
			Timestamp: cur.Timestamp,
			Value:     cur.Value,
			Other:     &other,
			Operator:  op,
		})
	}
	return events
}

// band evaluates closed-bound membership: between holds on
// lower <= v <= upper, outside on v < lower or v > upper.
func band(primary *series.TimeSeries, against Operand, op Operator) []Event {
	events := []Event{}
	for i := 0; i < primary.Len(); i++ {
		p := primary.At(i)
		if !p.Valid {
			continue
		}
		lo, okLo := against.lower.valueAt(i)
		up, okUp := against.upper.valueAt(i)
		if !okLo || !okUp {
			continue
		}
		inside := p.Value >= lo && p.Value <= up
		if (op == OpBetween) != inside {
			continue
		}
		lower, upper := lo, up
		events = append(events, Event{
			Index:     i,
			Timestamp: p.Timestamp,
			Value:     p.Value,
			Lower:     &lower,
			Upper:     &upper,
			Operator:  op,
		})
	}
	return events
}

func holds(a, b float64, op Operator, eps float64) bool {
	switch op {
	case OpGreaterThan:
		return a > b
	case OpLessThan:
		return a < b
	case OpGreaterOrEqual:
		return a >= b
	case OpLessOrEqual:
		return a <= b
	case OpEqual:
		return math.Abs(a-b) <= eps
	}
	return false
}

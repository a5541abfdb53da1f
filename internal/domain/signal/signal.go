// Package signal defines the trading signal record shared by the
// detector, combiner, filter, and validation analyzers.
package signal

import (
	"sort"
	"strings"
	"time"

	"github.com/quantfoundry/sigforge/internal/engine"
)

// Type is the direction a signal argues for. Anything outside buy/sell is
// carried as TypeOther: such signals survive counting and filtering but
// are excluded from win/loss scoring.
type Type string

const (
	TypeBuy   Type = "buy"
	TypeSell  Type = "sell"
	TypeOther Type = "other"
)

// DefaultStrength substitutes for an absent strength wherever a numeric
// strength is required.
const DefaultStrength = 0.5

// ParseType normalizes a raw type label.
func ParseType(s string) Type {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long":
		return TypeBuy
	case "sell", "short":
		return TypeSell
	default:
		return TypeOther
	}
}

// Signal is one timestamped trading signal. Strength is optional and, when
// present, must sit in [0, 1].
type Signal struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      Type                   `json:"type"`
	Strength  *float64               `json:"strength,omitempty"`
	Method    string                 `json:"method,omitempty"`
	Source    string                 `json:"source,omitempty"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// StrengthPtr is a literal helper for optional strengths.
func StrengthPtr(v float64) *float64 { return &v }

// HasStrength reports whether an explicit strength was declared.
func (s Signal) HasStrength() bool { return s.Strength != nil }

// StrengthValue returns the declared strength, or DefaultStrength when
// none was declared.
func (s Signal) StrengthValue() float64 {
	if s.Strength == nil {
		return DefaultStrength
	}
	return *s.Strength
}

// Directional reports whether the signal participates in win/loss scoring.
func (s Signal) Directional() bool {
	return s.Type == TypeBuy || s.Type == TypeSell
}

// Validate checks the per-signal invariants.
func (s Signal) Validate() error {
	if s.Timestamp.IsZero() {
		return engine.Errorf(engine.KindMissingField, "signal", "signal has no timestamp")
	}
	if s.Strength != nil && (*s.Strength < 0 || *s.Strength > 1) {
		return engine.Errorf(engine.KindMissingField, "signal",
			"strength %.4f outside [0, 1]", *s.Strength)
	}
	return nil
}

// Set is an ordered collection of signals.
type Set []Signal

// Validate checks every member and reports the first violation.
func (set Set) Validate() error {
	for i, s := range set {
		if err := s.Validate(); err != nil {
			return engine.Errorf(engine.KindMissingField, "signal",
				"signal %d: %s", i, err.(*engine.Error).Message)
		}
	}
	return nil
}

// SortedByTime returns a time-ascending copy. The sort is stable so
// same-timestamp signals keep their input order.
func (set Set) SortedByTime() Set {
	cp := make(Set, len(set))
	copy(cp, set)
	sort.SliceStable(cp, func(i, j int) bool {
		return cp[i].Timestamp.Before(cp[j].Timestamp)
	})
	return cp
}

// TypeCounts tallies signals per type.
func (set Set) TypeCounts() map[Type]int {
	counts := make(map[Type]int)
	for _, s := range set {
		counts[s.Type]++
	}
	return counts
}

// TypePercentages expresses TypeCounts as percentages of the set size.
func (set Set) TypePercentages() map[Type]float64 {
	pct := make(map[Type]float64)
	if len(set) == 0 {
		return pct
	}
	for typ, n := range set.TypeCounts() {
		pct[typ] = float64(n) / float64(len(set)) * 100
	}
	return pct
}

// WithStrength returns the members that declare an explicit strength.
func (set Set) WithStrength() Set {
	out := make(Set, 0, len(set))
	for _, s := range set {
		if s.HasStrength() {
			out = append(out, s)
		}
	}
	return out
}

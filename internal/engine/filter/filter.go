// Package filter applies ordered filter pipelines to signal sets. Each
// step removes members and records what it removed; unrecognized steps
// pass everything through untouched and are tallied, not fatal.
package filter

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfoundry/sigforge/internal/domain/signal"
)

// Kind names a supported filter step.
type Kind string

const (
	KindStrengthRange Kind = "strength_range"
	KindTypes         Kind = "types"
	KindTimeRange     Kind = "time_range"
	KindMinInterval   Kind = "min_interval"
	KindMethods       Kind = "methods"
	KindPredicate     Kind = "predicate"
)

// Spec describes one filter step. Only the fields of its Kind are read.
type Spec struct {
	Kind        Kind                     `json:"kind"`
	Label       string                   `json:"label,omitempty"`
	MinStrength float64                  `json:"min_strength,omitempty"`
	MaxStrength float64                  `json:"max_strength,omitempty"`
	Types       []signal.Type            `json:"types,omitempty"`
	From        time.Time                `json:"from,omitempty"`
	To          time.Time                `json:"to,omitempty"`
	MinInterval time.Duration            `json:"min_interval,omitempty"`
	Methods     []string                 `json:"methods,omitempty"`
	Predicate   func(signal.Signal) bool `json:"-"`
}

// StrengthRange keeps signals whose strength falls inside [min, max].
// Undeclared strengths are judged at the default.
func StrengthRange(min, max float64) Spec {
	return Spec{Kind: KindStrengthRange, MinStrength: min, MaxStrength: max}
}

// Types keeps signals of the listed types.
func Types(types ...signal.Type) Spec {
	return Spec{Kind: KindTypes, Types: types}
}

// TimeRange keeps signals inside [from, to]. A zero bound leaves that
// side open.
func TimeRange(from, to time.Time) Spec {
	return Spec{Kind: KindTimeRange, From: from, To: to}
}

// MinInterval thins clusters: scanning chronologically, a signal survives
// only when at least d has passed since the last survivor.
func MinInterval(d time.Duration) Spec {
	return Spec{Kind: KindMinInterval, MinInterval: d}
}

// Methods keeps signals generated by the listed methods.
func Methods(methods ...string) Spec {
	return Spec{Kind: KindMethods, Methods: methods}
}

// Predicate keeps signals for which fn returns true. The label names the
// step in removal stats.
func Predicate(label string, fn func(signal.Signal) bool) Spec {
	return Spec{Kind: KindPredicate, Label: label, Predicate: fn}
}

// StepStats records the effect of one pipeline step.
type StepStats struct {
	Kind      Kind   `json:"kind"`
	Label     string `json:"label,omitempty"`
	Removed   int    `json:"removed"`
	Remaining int    `json:"remaining"`
}

// Stats summarizes a full pipeline run.
type Stats struct {
	OriginalCount    int                 `json:"original_count"`
	FinalCount       int                 `json:"final_count"`
	RemovalPct       float64             `json:"removal_pct"`
	RetentionPct     float64             `json:"retention_pct"`
	Steps            []StepStats         `json:"steps"`
	UnknownSpecs     int                 `json:"unknown_specs"`
	TypeDistribution map[signal.Type]int `json:"type_distribution"`
}

// Apply runs the specs in order against the set and returns the survivors
// with per-step removal stats. The input set is never modified.
func Apply(set signal.Set, specs []Spec) (signal.Set, Stats) {
	current := make(signal.Set, len(set))
	copy(current, set)

	st := Stats{
		OriginalCount: len(set),
		Steps:         make([]StepStats, 0, len(specs)),
	}

	for _, spec := range specs {
		before := len(current)
		next, known := applyStep(current, spec)
		if !known {
			st.UnknownSpecs++
			log.Warn().Str("kind", string(spec.Kind)).Msg("Unrecognized filter kind, passing signals through")
			next = current
		}
		st.Steps = append(st.Steps, StepStats{
			Kind:      spec.Kind,
			Label:     spec.Label,
			Removed:   before - len(next),
			Remaining: len(next),
		})
		current = next
	}

	st.FinalCount = len(current)
	if st.OriginalCount > 0 {
		st.RemovalPct = float64(st.OriginalCount-st.FinalCount) / float64(st.OriginalCount) * 100
		st.RetentionPct = 100 - st.RemovalPct
	}
	st.TypeDistribution = current.TypeCounts()

	log.Debug().
		Int("original", st.OriginalCount).
		Int("final", st.FinalCount).
		Int("steps", len(specs)).
		Msg("Filter pipeline complete")
	return current, st
}

// applyStep returns the survivors of one step. known is false for
// unrecognized kinds and for predicate steps without a function.
func applyStep(set signal.Set, spec Spec) (signal.Set, bool) {
	switch spec.Kind {
	case KindStrengthRange:
		return keep(set, func(s signal.Signal) bool {
			v := s.StrengthValue()
			return v >= spec.MinStrength && v <= spec.MaxStrength
		}), true
	case KindTypes:
		allowed := map[signal.Type]bool{}
		for _, t := range spec.Types {
			allowed[t] = true
		}
		return keep(set, func(s signal.Signal) bool { return allowed[s.Type] }), true
	case KindTimeRange:
		return keep(set, func(s signal.Signal) bool {
			if !spec.From.IsZero() && s.Timestamp.Before(spec.From) {
				return false
			}
			if !spec.To.IsZero() && s.Timestamp.After(spec.To) {
				return false
			}
			return true
		}), true
	case KindMinInterval:
		return thin(set, spec.MinInterval), true
	case KindMethods:
		allowed := map[string]bool{}
		for _, m := range spec.Methods {
			allowed[m] = true
		}
		return keep(set, func(s signal.Signal) bool { return allowed[s.Method] }), true
	case KindPredicate:
		if spec.Predicate == nil {
			return set, false
		}
		return keep(set, spec.Predicate), true
	}
	return set, false
}

func keep(set signal.Set, pred func(signal.Signal) bool) signal.Set {
	out := make(signal.Set, 0, len(set))
	for _, s := range set {
		if pred(s) {
			out = append(out, s)
		}
	}
	return out
}

// thin scans chronologically and keeps the first signal of every cluster.
func thin(set signal.Set, interval time.Duration) signal.Set {
	if interval <= 0 || len(set) == 0 {
		return set
	}
	sorted := set.SortedByTime()
	out := make(signal.Set, 0, len(sorted))
	var lastKept time.Time
	for _, s := range sorted {
		if len(out) > 0 && s.Timestamp.Sub(lastKept) < interval {
			continue
		}
		out = append(out, s)
		lastKept = s.Timestamp
	}
	return out
}

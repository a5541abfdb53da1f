// Package combine merges signal sets from multiple sources into consensus
// signals. Signals are grouped by rounded timestamp, groups below the
// source quorum are dropped, and each surviving group is resolved by the
// chosen consensus method.
package combine

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfoundry/sigforge/internal/domain/signal"
	"github.com/quantfoundry/sigforge/internal/engine"
	"github.com/quantfoundry/sigforge/internal/engine/stats"
)

// Method names a consensus resolution rule.
type Method string

const (
	// Majority emits when one type holds a strict majority of the group.
	Majority Method = "majority"
	// Unanimous emits only when every member agrees.
	Unanimous Method = "unanimous"
	// Weighted emits the type with the highest mean strength.
	Weighted Method = "weighted"
	// Any emits buy when any member says buy, else sell when any says sell.
	Any Method = "any"
)

// Attribute keys attached to emitted consensus signals.
const (
	AttrConfidence  = "confidence"
	AttrSourceCount = "source_count"
	AttrProvenance  = "provenance"
)

// DefaultAlignment is the timestamp rounding window for grouping.
const DefaultAlignment = time.Minute

// Provenance records one contributing signal inside a consensus group.
type Provenance struct {
	Source    string      `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
	Type      signal.Type `json:"type"`
	Strength  *float64    `json:"strength,omitempty"`
	Method    string      `json:"method,omitempty"`
}

// Stats summarizes a combination run.
type Stats struct {
	OriginalCount     int                 `json:"original_count"`
	CombinedCount     int                 `json:"combined_count"`
	ReductionPct      float64             `json:"reduction_pct"`
	GroupsConsidered  int                 `json:"groups_considered"`
	GroupsBelowQuorum int                 `json:"groups_below_quorum"`
	GroupsNoConsensus int                 `json:"groups_no_consensus"`
	MeanConfidence    float64             `json:"mean_confidence"`
	MeanSources       float64             `json:"mean_sources"`
	TypeDistribution  map[signal.Type]int `json:"type_distribution"`
}

type config struct {
	alignment  time.Duration
	minSources int
}

// Option adjusts combination behavior.
type Option func(*config)

// WithAlignment sets the rounding window used to group near-simultaneous
// signals. Zero groups on exact timestamps only.
func WithAlignment(d time.Duration) Option {
	return func(c *config) { c.alignment = d }
}

// WithMinSources sets how many distinct sources a group needs before it
// is resolved. The default of 2 requires actual corroboration.
func WithMinSources(n int) Option {
	return func(c *config) { c.minSources = n }
}

type member struct {
	source int
	sig    signal.Signal
}

// Combine merges the sources into consensus signals using the given
// method. It needs at least two non-empty sources to have anything to
// corroborate.
func Combine(sources []signal.Set, method Method, opts ...Option) (signal.Set, Stats, error) {
	cfg := config{alignment: DefaultAlignment, minSources: 2}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.minSources < 2 {
		cfg.minSources = 2
	}

	switch method {
	case Majority, Unanimous, Weighted, Any:
	default:
		return nil, Stats{}, engine.Errorf(engine.KindInvalidOperator, "combine",
			"unknown combination method %q", method)
	}

	nonEmpty := 0
	total := 0
	for _, src := range sources {
		total += len(src)
		if len(src) > 0 {
			nonEmpty++
		}
	}
	if nonEmpty < 2 {
		return nil, Stats{}, engine.Errorf(engine.KindInsufficientSources, "combine",
			"need at least 2 non-empty sources, got %d", nonEmpty)
	}

	groups := map[int64][]member{}
	for i, src := range sources {
		for j, s := range src {
			if s.Timestamp.IsZero() {
				return nil, Stats{}, engine.Errorf(engine.KindMissingField, "combine",
					"signal %d of source %d has no timestamp", j, i)
			}
			key := s.Timestamp.Round(cfg.alignment).UnixNano()
			groups[key] = append(groups[key], member{source: i, sig: s})
		}
	}

	keys := make([]int64, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	st := Stats{
		OriginalCount:    total,
		GroupsConsidered: len(groups),
		TypeDistribution: map[signal.Type]int{},
	}
	var combined signal.Set
	var confidences, sourceCounts []float64

	for _, key := range keys {
		group := groups[key]
		distinct := distinctSources(group)
		if distinct < cfg.minSources {
			st.GroupsBelowQuorum++
			continue
		}
		out, ok := resolve(group, method)
		if !ok {
			st.GroupsNoConsensus++
			continue
		}
		out.sig.Timestamp = time.Unix(0, key).UTC()
		out.sig.Method = fmt.Sprintf("consensus_%s", method)
		out.sig.Source = "combiner"
		out.sig.Attrs = map[string]interface{}{
			AttrConfidence:  out.confidence,
			AttrSourceCount: distinct,
			AttrProvenance:  provenance(group),
		}
		combined = append(combined, out.sig)
		confidences = append(confidences, out.confidence)
		sourceCounts = append(sourceCounts, float64(distinct))
		st.TypeDistribution[out.sig.Type]++
	}

	st.CombinedCount = len(combined)
	if total > 0 {
		st.ReductionPct = float64(total-len(combined)) / float64(total) * 100
	}
	st.MeanConfidence = stats.Mean(confidences)
	st.MeanSources = stats.Mean(sourceCounts)

	log.Debug().
		Str("method", string(method)).
		Int("original", total).
		Int("combined", len(combined)).
		Int("below_quorum", st.GroupsBelowQuorum).
		Msg("Signal combination complete")
	return combined, st, nil
}

func distinctSources(group []member) int {
	seen := map[int]bool{}
	for _, m := range group {
		seen[m.source] = true
	}
	return len(seen)
}

func provenance(group []member) []Provenance {
	out := make([]Provenance, len(group))
	for i, m := range group {
		label := m.sig.Source
		if label == "" {
			label = fmt.Sprintf("source_%d", m.source+1)
		}
		out[i] = Provenance{
			Source:    label,
			Timestamp: m.sig.Timestamp,
			Type:      m.sig.Type,
			Strength:  m.sig.Strength,
			Method:    m.sig.Method,
		}
	}
	return out
}

type resolution struct {
	sig        signal.Signal
	confidence float64
}

// resolve applies the consensus method to one group. ok is false when the
// group reaches no consensus.
func resolve(group []member, method Method) (resolution, bool) {
	byType := map[signal.Type][]member{}
	for _, m := range group {
		byType[m.sig.Type] = append(byType[m.sig.Type], m)
	}
	n := float64(len(group))

	switch method {
	case Majority:
		for _, typ := range typeOrder {
			members := byType[typ]
			if len(members)*2 > len(group) {
				return emit(typ, members, float64(len(members))/n), true
			}
		}
	case Unanimous:
		if len(byType) == 1 {
			return emit(group[0].sig.Type, group, 1.0), true
		}
	case Weighted:
		best := signal.Type("")
		bestMean, bestCount := 0.0, 0
		for _, typ := range typeOrder {
			members := byType[typ]
			if len(members) == 0 {
				continue
			}
			mean := meanStrength(members)
			if best == "" || mean > bestMean || (mean == bestMean && len(members) > bestCount) {
				best, bestMean, bestCount = typ, mean, len(members)
			}
		}
		if best != "" {
			return emit(best, byType[best], stats.Clip(bestMean, 0, 1)), true
		}
	case Any:
		if members := byType[signal.TypeBuy]; len(members) > 0 {
			return emit(signal.TypeBuy, members, float64(len(members))/n), true
		}
		if members := byType[signal.TypeSell]; len(members) > 0 {
			return emit(signal.TypeSell, members, float64(len(members))/n), true
		}
	}
	return resolution{}, false
}

// typeOrder fixes tie-breaking and iteration order across maps.
var typeOrder = []signal.Type{signal.TypeBuy, signal.TypeSell, signal.TypeOther}

func emit(typ signal.Type, agreeing []member, confidence float64) resolution {
	strength := meanStrength(agreeing)
	return resolution{
		sig: signal.Signal{
			Type:     typ,
			Strength: signal.StrengthPtr(strength),
		},
		confidence: confidence,
	}
}

// meanStrength averages member strengths with the default substituted for
// undeclared ones.
func meanStrength(members []member) float64 {
	values := make([]float64, len(members))
	for i, m := range members {
		values[i] = m.sig.StrengthValue()
	}
	return stats.Mean(values)
}

package http

import (
	"time"

	"github.com/quantfoundry/sigforge/internal/domain/series"
	"github.com/quantfoundry/sigforge/internal/domain/signal"
	"github.com/quantfoundry/sigforge/internal/engine"
	"github.com/quantfoundry/sigforge/internal/engine/combine"
	"github.com/quantfoundry/sigforge/internal/engine/detect"
	"github.com/quantfoundry/sigforge/internal/engine/filter"
)

// samplePayload is one timestamped observation in a request body.
type samplePayload struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// seriesPayload carries a named series of samples. Timestamps must be
// strictly increasing; non-finite values survive the decode and are
// marked invalid by the series constructor.
type seriesPayload struct {
	Name   string          `json:"name"`
	Points []samplePayload `json:"points"`
}

func (p seriesPayload) toSeries(op, fallbackName string) (*series.TimeSeries, error) {
	if len(p.Points) == 0 {
		return nil, engine.Errorf(engine.KindMissingField, op, "series has no points")
	}
	name := p.Name
	if name == "" {
		name = fallbackName
	}
	stamps := make([]time.Time, len(p.Points))
	values := make([]float64, len(p.Points))
	for i, pt := range p.Points {
		stamps[i] = pt.Timestamp
		values[i] = pt.Value
	}
	return series.FromSamples(name, stamps, values)
}

// operandPayload describes the right-hand side of a comparison: a fixed
// value, a second series, or a lower/upper band of either.
type operandPayload struct {
	Value  *float64        `json:"value,omitempty"`
	Series *seriesPayload  `json:"series,omitempty"`
	Lower  *operandPayload `json:"lower,omitempty"`
	Upper  *operandPayload `json:"upper,omitempty"`
}

func (p operandPayload) toOperand(op string) (detect.Operand, error) {
	if p.Lower != nil || p.Upper != nil {
		if p.Lower == nil || p.Upper == nil {
			return detect.Operand{}, engine.Errorf(engine.KindMissingField, op,
				"band operand needs both lower and upper bounds")
		}
		lower, err := p.Lower.toOperand(op)
		if err != nil {
			return detect.Operand{}, err
		}
		upper, err := p.Upper.toOperand(op)
		if err != nil {
			return detect.Operand{}, err
		}
		return detect.Band(lower, upper), nil
	}
	if p.Value != nil {
		return detect.Const(*p.Value), nil
	}
	if p.Series != nil {
		s, err := p.Series.toSeries(op, "operand")
		if err != nil {
			return detect.Operand{}, err
		}
		return detect.With(s), nil
	}
	return detect.Operand{}, engine.Errorf(engine.KindMissingField, op,
		"operand needs a value, series, or band")
}

type detectRequest struct {
	Series   seriesPayload  `json:"series"`
	Operator string         `json:"operator"`
	Operand  operandPayload `json:"operand"`
	Epsilon  float64        `json:"epsilon,omitempty"`
}

type detectResult struct {
	Operator detect.Operator `json:"operator"`
	Count    int             `json:"count"`
	Events   []detect.Event  `json:"events"`
}

type frequencyRequest struct {
	Signals     signal.Set `json:"signals"`
	Granularity string     `json:"granularity,omitempty"`
}

type combineRequest struct {
	Sources    []signal.Set `json:"sources"`
	Method     string       `json:"method"`
	Alignment  string       `json:"alignment,omitempty"`
	MinSources int          `json:"min_sources,omitempty"`
}

type combineResult struct {
	Signals signal.Set    `json:"signals"`
	Stats   combine.Stats `json:"stats"`
}

// filterStepPayload is the wire form of one filter step. Durations are
// Go duration strings. Predicate steps cannot cross the wire; they pass
// through and are tallied as unknown.
type filterStepPayload struct {
	Kind        string    `json:"kind"`
	Label       string    `json:"label,omitempty"`
	MinStrength float64   `json:"min_strength,omitempty"`
	MaxStrength *float64  `json:"max_strength,omitempty"`
	Types       []string  `json:"types,omitempty"`
	From        time.Time `json:"from,omitempty"`
	To          time.Time `json:"to,omitempty"`
	MinInterval string    `json:"min_interval,omitempty"`
	Methods     []string  `json:"methods,omitempty"`
}

func (p filterStepPayload) toSpec(op string) (filter.Spec, error) {
	spec := filter.Spec{Kind: filter.Kind(p.Kind), Label: p.Label}
	switch spec.Kind {
	case filter.KindStrengthRange:
		max := 1.0
		if p.MaxStrength != nil {
			max = *p.MaxStrength
		}
		spec.MinStrength = p.MinStrength
		spec.MaxStrength = max
	case filter.KindTypes:
		for _, t := range p.Types {
			spec.Types = append(spec.Types, signal.ParseType(t))
		}
	case filter.KindTimeRange:
		spec.From = p.From
		spec.To = p.To
	case filter.KindMinInterval:
		d, err := time.ParseDuration(p.MinInterval)
		if err != nil {
			return filter.Spec{}, engine.Errorf(engine.KindMissingField, op,
				"bad min_interval %q: %v", p.MinInterval, err)
		}
		spec.MinInterval = d
	case filter.KindMethods:
		spec.Methods = p.Methods
	}
	return spec, nil
}

type filterRequest struct {
	Signals signal.Set          `json:"signals"`
	Steps   []filterStepPayload `json:"steps"`
}

type filterResult struct {
	Signals signal.Set   `json:"signals"`
	Stats   filter.Stats `json:"stats"`
}

type qualityRequest struct {
	Signals        signal.Set    `json:"signals"`
	Prices         seriesPayload `json:"prices"`
	Horizons       []int         `json:"horizons,omitempty"`
	PrimaryHorizon int           `json:"primary_horizon,omitempty"`
}

type falseSignalRequest struct {
	Signals       signal.Set    `json:"signals"`
	Prices        seriesPayload `json:"prices"`
	MoveThreshold float64       `json:"move_threshold,omitempty"`
	FailThreshold float64       `json:"fail_threshold,omitempty"`
}

type optimizeRequest struct {
	Prices   seriesPayload        `json:"prices"`
	Strategy string               `json:"strategy"`
	Ranges   map[string][]float64 `json:"ranges,omitempty"`
	Workers  int                  `json:"workers,omitempty"`
}

// normalizeSignals folds type aliases and validates strengths on an
// incoming set.
func normalizeSignals(set signal.Set) (signal.Set, error) {
	for i := range set {
		set[i].Type = signal.ParseType(string(set[i].Type))
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

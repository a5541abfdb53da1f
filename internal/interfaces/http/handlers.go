package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/quantfoundry/sigforge/internal/engine"
	"github.com/quantfoundry/sigforge/internal/engine/combine"
	"github.com/quantfoundry/sigforge/internal/engine/detect"
	"github.com/quantfoundry/sigforge/internal/engine/falsesig"
	"github.com/quantfoundry/sigforge/internal/engine/filter"
	"github.com/quantfoundry/sigforge/internal/engine/frequency"
	"github.com/quantfoundry/sigforge/internal/engine/optimize"
	"github.com/quantfoundry/sigforge/internal/engine/quality"
)

const maxRequestBytes = 16 << 20

// operationFunc decodes one request and produces the operation result.
type operationFunc func(r *http.Request) (interface{}, error)

// runOperation wraps an operation with metrics and uniform envelope
// responses. Failures map onto HTTP status by error kind.
func (s *Server) runOperation(op string, fn operationFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

		s.metrics.IncrementActiveAnalyses()
		defer s.metrics.DecrementActiveAnalyses()

		timer := s.metrics.StartTimer(op)
		result, err := fn(r)
		if err != nil {
			timer.Stop("error")
			s.writeEnvelope(w, statusForError(err), engine.WrapErr(op, err))
			return
		}
		timer.Stop("success")
		s.writeEnvelope(w, http.StatusOK, engine.Wrap(op, result))
	}
}

func (s *Server) writeEnvelope(w http.ResponseWriter, status int, env engine.Envelope) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

// statusForError maps the failure taxonomy onto response codes: payload
// problems are 400, semantically unusable input is 422, anything outside
// the taxonomy is 500.
func statusForError(err error) int {
	switch engine.KindOf(err) {
	case engine.KindInvalidOperator, engine.KindMissingField, engine.KindUnknownStrategy:
		return http.StatusBadRequest
	case engine.KindInsufficientSources, engine.KindInsufficientHistory, engine.KindAlignmentFailure:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func decodeBody(r *http.Request, op string, dst interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return engine.Errorf(engine.KindMissingField, op, "malformed request body: %v", err)
	}
	return nil
}

func (s *Server) detectOperation(r *http.Request) (interface{}, error) {
	var req detectRequest
	if err := decodeBody(r, "detect", &req); err != nil {
		return nil, err
	}
	prices, err := req.Series.toSeries("detect", "primary")
	if err != nil {
		return nil, err
	}
	operator, err := detect.ParseOperator(req.Operator)
	if err != nil {
		return nil, err
	}
	operand, err := req.Operand.toOperand("detect")
	if err != nil {
		return nil, err
	}

	events, err := detect.Compare(prices, operand, operator, detect.WithEpsilon(req.Epsilon))
	if err != nil {
		return nil, err
	}
	s.metrics.RecordDetectEvents(string(operator), len(events))
	return detectResult{Operator: operator, Count: len(events), Events: events}, nil
}

func (s *Server) frequencyOperation(r *http.Request) (interface{}, error) {
	var req frequencyRequest
	if err := decodeBody(r, "frequency", &req); err != nil {
		return nil, err
	}
	set, err := normalizeSignals(req.Signals)
	if err != nil {
		return nil, err
	}
	return frequency.Analyze(set, frequency.Granularity(req.Granularity))
}

func (s *Server) combineOperation(r *http.Request) (interface{}, error) {
	var req combineRequest
	if err := decodeBody(r, "combine", &req); err != nil {
		return nil, err
	}
	for i := range req.Sources {
		if _, err := normalizeSignals(req.Sources[i]); err != nil {
			return nil, err
		}
	}

	var opts []combine.Option
	if req.Alignment != "" {
		d, err := time.ParseDuration(req.Alignment)
		if err != nil {
			return nil, engine.Errorf(engine.KindMissingField, "combine",
				"bad alignment %q: %v", req.Alignment, err)
		}
		opts = append(opts, combine.WithAlignment(d))
	} else if s.engineCfg.Alignment != "" {
		if d, err := s.engineCfg.GetAlignment(); err == nil {
			opts = append(opts, combine.WithAlignment(d))
		}
	}
	if req.MinSources > 0 {
		opts = append(opts, combine.WithMinSources(req.MinSources))
	} else if s.engineCfg.MinSources > 0 {
		opts = append(opts, combine.WithMinSources(s.engineCfg.MinSources))
	}

	combined, stats, err := combine.Combine(req.Sources, combine.Method(req.Method), opts...)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveCombineReduction(stats.ReductionPct)
	return combineResult{Signals: combined, Stats: stats}, nil
}

func (s *Server) filterOperation(r *http.Request) (interface{}, error) {
	var req filterRequest
	if err := decodeBody(r, "filter", &req); err != nil {
		return nil, err
	}
	set, err := normalizeSignals(req.Signals)
	if err != nil {
		return nil, err
	}
	specs := make([]filter.Spec, 0, len(req.Steps))
	for _, step := range req.Steps {
		spec, err := step.toSpec("filter")
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	filtered, stats := filter.Apply(set, specs)
	return filterResult{Signals: filtered, Stats: stats}, nil
}

func (s *Server) qualityOperation(r *http.Request) (interface{}, error) {
	var req qualityRequest
	if err := decodeBody(r, "quality", &req); err != nil {
		return nil, err
	}
	set, err := normalizeSignals(req.Signals)
	if err != nil {
		return nil, err
	}
	prices, err := req.Prices.toSeries("quality", "prices")
	if err != nil {
		return nil, err
	}

	var opts []quality.Option
	if len(req.Horizons) > 0 {
		opts = append(opts, quality.WithHorizons(req.Horizons...))
	}
	if req.PrimaryHorizon > 0 {
		opts = append(opts, quality.WithPrimaryHorizon(req.PrimaryHorizon))
	}
	return quality.Analyze(set, prices, opts...)
}

func (s *Server) falseSignalsOperation(r *http.Request) (interface{}, error) {
	var req falseSignalRequest
	if err := decodeBody(r, "falsesignals", &req); err != nil {
		return nil, err
	}
	set, err := normalizeSignals(req.Signals)
	if err != nil {
		return nil, err
	}
	prices, err := req.Prices.toSeries("falsesignals", "prices")
	if err != nil {
		return nil, err
	}

	threshold := req.MoveThreshold
	if threshold <= 0 {
		threshold = s.engineCfg.MoveThreshold
	}
	var opts []falsesig.Option
	if req.FailThreshold > 0 {
		opts = append(opts, falsesig.WithFailThreshold(req.FailThreshold))
	}
	return falsesig.Evaluate(set, prices, threshold, opts...)
}

func (s *Server) optimizeOperation(r *http.Request) (interface{}, error) {
	var req optimizeRequest
	if err := decodeBody(r, "optimize", &req); err != nil {
		return nil, err
	}
	if req.Strategy == "" {
		return nil, engine.Errorf(engine.KindMissingField, "optimize", "no strategy named")
	}
	prices, err := req.Prices.toSeries("optimize", "prices")
	if err != nil {
		return nil, err
	}

	var opts []optimize.Option
	if req.Workers > 0 {
		opts = append(opts, optimize.WithWorkers(req.Workers))
	} else if s.engineCfg.Workers > 0 {
		opts = append(opts, optimize.WithWorkers(s.engineCfg.Workers))
	}

	outcome, err := optimize.Optimize(r.Context(), prices, req.Strategy, req.Ranges, opts...)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveOptimizeCells(outcome.Strategy, outcome.Evaluated, outcome.Elapsed)
	return outcome, nil
}

package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfoundry/sigforge/internal/config"
	"github.com/quantfoundry/sigforge/internal/domain/signal"
	"github.com/quantfoundry/sigforge/internal/engine"
)

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	cfg := config.ServerConfig{
		Host:         "127.0.0.1",
		Port:         0,
		ReadTimeout:  5,
		WriteTimeout: 5,
		IdleTimeout:  5,
	}
	s, err := NewServer(cfg, opts...)
	require.NoError(t, err)
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	return doRaw(s, method, path, reader)
}

func doRaw(s *Server, method, path string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

type testEnvelope struct {
	OK        bool            `json:"ok"`
	Operation string          `json:"operation"`
	RunID     string          `json:"run_id"`
	Result    json.RawMessage `json:"result"`
	Error     *engine.Error   `json:"error"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), "body: %s", rr.Body.String())
	return env
}

func decodeResult(t *testing.T, env testEnvelope, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Result, dst))
}

var testStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func dailyPoints(values ...float64) []samplePayload {
	pts := make([]samplePayload, len(values))
	for i, v := range values {
		pts[i] = samplePayload{Timestamp: testStart.AddDate(0, 0, i), Value: v}
	}
	return pts
}

func testSignal(day int, typ signal.Type, strength float64, source string) signal.Signal {
	return signal.Signal{
		Timestamp: testStart.AddDate(0, 0, day),
		Type:      typ,
		Strength:  signal.StrengthPtr(strength),
		Source:    source,
	}
}

func TestServer_HealthEndpoint(t *testing.T) {
	s := newTestServer(t, WithVersion("v1.2.3", "test-build"))

	rr := doJSON(t, s, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var response HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Contains(t, []string{"healthy", "degraded"}, response.Status)
	assert.Equal(t, "v1.2.3", response.Version)
	assert.Equal(t, "test-build", response.BuildStamp)
	assert.NotEmpty(t, response.System.GoVersion)
	assert.Greater(t, response.System.NumGoroutines, 0)
	assert.Nil(t, response.Provider)
	assert.Contains(t, response.Checks, "memory")
	assert.Contains(t, response.Checks, "goroutines")
}

func TestServer_MetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	rr := doJSON(t, s, http.MethodPost, "/api/v1/detect", detectRequest{
		Series:   seriesPayload{Points: dailyPoints(1, 2, 3)},
		Operator: ">",
		Operand:  operandPayload{Value: floatPtr(2)},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/plain")

	body := rr.Body.String()
	assert.Contains(t, body, "sigforge_operations_total")
	assert.Contains(t, body, "sigforge_detect_events_total")
	assert.Contains(t, body, "sigforge_active_analyses")
	assert.Contains(t, body, "sigforge_analyses_total")
	assert.Contains(t, body, "go_goroutines")
}

func TestServer_Detect_GreaterThan(t *testing.T) {
	s := newTestServer(t)

	rr := doJSON(t, s, http.MethodPost, "/api/v1/detect", detectRequest{
		Series:   seriesPayload{Name: "close", Points: dailyPoints(100, 101, 102, 103, 104)},
		Operator: ">",
		Operand:  operandPayload{Value: floatPtr(102)},
	})

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeEnvelope(t, rr)
	assert.True(t, env.OK)
	assert.Equal(t, "detect", env.Operation)
	assert.NotEmpty(t, env.RunID)

	var result struct {
		Count  int `json:"count"`
		Events []struct {
			Index int     `json:"index"`
			Value float64 `json:"value"`
		} `json:"events"`
	}
	decodeResult(t, env, &result)
	require.Equal(t, 2, result.Count)
	assert.Equal(t, 3, result.Events[0].Index)
	assert.Equal(t, 4, result.Events[1].Index)
}

func TestServer_Detect_CrossoverAgainstSeries(t *testing.T) {
	s := newTestServer(t)

	rr := doJSON(t, s, http.MethodPost, "/api/v1/detect", detectRequest{
		Series:   seriesPayload{Name: "fast", Points: dailyPoints(1, 3, 2, 5)},
		Operator: "crossover_up",
		Operand: operandPayload{
			Series: &seriesPayload{Name: "slow", Points: dailyPoints(2, 2, 3, 3)},
		},
	})

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeEnvelope(t, rr)

	var result struct {
		Count  int `json:"count"`
		Events []struct {
			Index int `json:"index"`
		} `json:"events"`
	}
	decodeResult(t, env, &result)
	require.Equal(t, 2, result.Count)
	assert.Equal(t, 1, result.Events[0].Index)
	assert.Equal(t, 3, result.Events[1].Index)
}

func TestServer_Detect_InvalidOperator(t *testing.T) {
	s := newTestServer(t)

	rr := doJSON(t, s, http.MethodPost, "/api/v1/detect", detectRequest{
		Series:   seriesPayload{Points: dailyPoints(1, 2)},
		Operator: "resembles",
		Operand:  operandPayload{Value: floatPtr(1)},
	})

	require.Equal(t, http.StatusBadRequest, rr.Code)
	env := decodeEnvelope(t, rr)
	assert.False(t, env.OK)
	require.NotNil(t, env.Error)
	assert.Equal(t, engine.KindInvalidOperator, env.Error.Kind)
}

func TestServer_Detect_MalformedBody(t *testing.T) {
	s := newTestServer(t)

	rr := doRaw(s, http.MethodPost, "/api/v1/detect", strings.NewReader("{nope"))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	env := decodeEnvelope(t, rr)
	require.NotNil(t, env.Error)
	assert.Equal(t, engine.KindMissingField, env.Error.Kind)
	assert.Contains(t, env.Error.Message, "malformed request body")
}

func TestServer_Detect_EmptyOperand(t *testing.T) {
	s := newTestServer(t)

	rr := doJSON(t, s, http.MethodPost, "/api/v1/detect", detectRequest{
		Series:   seriesPayload{Points: dailyPoints(1, 2)},
		Operator: ">",
	})

	require.Equal(t, http.StatusBadRequest, rr.Code)
	env := decodeEnvelope(t, rr)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Message, "operand")
}

func TestServer_Frequency_DailyBuckets(t *testing.T) {
	s := newTestServer(t)

	rr := doJSON(t, s, http.MethodPost, "/api/v1/frequency", frequencyRequest{
		Signals: signal.Set{
			testSignal(0, signal.TypeBuy, 0.6, "a"),
			testSignal(0, signal.TypeSell, 0.4, "a"),
			testSignal(2, signal.TypeBuy, 0.8, "a"),
		},
		Granularity: "daily",
	})

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeEnvelope(t, rr)
	assert.True(t, env.OK)

	var result struct {
		Granularity  string `json:"granularity"`
		TotalSignals int    `json:"total_signals"`
		Buckets      struct {
			Active   int `json:"active"`
			Inactive int `json:"inactive"`
		} `json:"buckets"`
	}
	decodeResult(t, env, &result)
	assert.Equal(t, "daily", result.Granularity)
	assert.Equal(t, 3, result.TotalSignals)
	assert.Equal(t, 2, result.Buckets.Active)
	assert.Equal(t, 1, result.Buckets.Inactive)
}

func TestServer_Combine_WeightedConsensus(t *testing.T) {
	s := newTestServer(t)

	rr := doJSON(t, s, http.MethodPost, "/api/v1/combine", combineRequest{
		Sources: []signal.Set{
			{testSignal(0, signal.TypeBuy, 0.6, "alpha")},
			{testSignal(0, signal.TypeBuy, 0.8, "beta")},
		},
		Method: "weighted",
	})

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeEnvelope(t, rr)
	assert.True(t, env.OK)

	var result struct {
		Signals signal.Set `json:"signals"`
		Stats   struct {
			OriginalCount int `json:"original_count"`
			CombinedCount int `json:"combined_count"`
		} `json:"stats"`
	}
	decodeResult(t, env, &result)
	require.Len(t, result.Signals, 1)
	assert.Equal(t, signal.TypeBuy, result.Signals[0].Type)
	assert.Equal(t, 2, result.Stats.OriginalCount)
	assert.Equal(t, 1, result.Stats.CombinedCount)
}

func TestServer_Combine_SingleSourceRejected(t *testing.T) {
	s := newTestServer(t)

	rr := doJSON(t, s, http.MethodPost, "/api/v1/combine", combineRequest{
		Sources: []signal.Set{{testSignal(0, signal.TypeBuy, 0.6, "alpha")}},
		Method:  "majority",
	})

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	env := decodeEnvelope(t, rr)
	require.NotNil(t, env.Error)
	assert.Equal(t, engine.KindInsufficientSources, env.Error.Kind)
}

func TestServer_Filter_StrengthRange(t *testing.T) {
	s := newTestServer(t)

	rr := doJSON(t, s, http.MethodPost, "/api/v1/filter", filterRequest{
		Signals: signal.Set{
			testSignal(0, signal.TypeBuy, 0.2, "a"),
			testSignal(1, signal.TypeBuy, 0.5, "a"),
			testSignal(2, signal.TypeSell, 0.9, "a"),
		},
		Steps: []filterStepPayload{
			{Kind: "strength_range", MinStrength: 0.4, MaxStrength: floatPtr(1.0)},
		},
	})

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeEnvelope(t, rr)

	var result struct {
		Signals signal.Set `json:"signals"`
		Stats   struct {
			OriginalCount int `json:"original_count"`
			FinalCount    int `json:"final_count"`
		} `json:"stats"`
	}
	decodeResult(t, env, &result)
	assert.Len(t, result.Signals, 2)
	assert.Equal(t, 3, result.Stats.OriginalCount)
	assert.Equal(t, 2, result.Stats.FinalCount)
}

func TestServer_Filter_MinIntervalDurationString(t *testing.T) {
	s := newTestServer(t)

	set := signal.Set{
		{Timestamp: testStart, Type: signal.TypeBuy},
		{Timestamp: testStart.Add(1 * time.Hour), Type: signal.TypeBuy},
		{Timestamp: testStart.Add(30 * time.Hour), Type: signal.TypeBuy},
	}

	rr := doJSON(t, s, http.MethodPost, "/api/v1/filter", filterRequest{
		Signals: set,
		Steps:   []filterStepPayload{{Kind: "min_interval", MinInterval: "24h"}},
	})

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeEnvelope(t, rr)

	var result struct {
		Signals signal.Set `json:"signals"`
	}
	decodeResult(t, env, &result)
	assert.Len(t, result.Signals, 2)

	rr = doJSON(t, s, http.MethodPost, "/api/v1/filter", filterRequest{
		Signals: set,
		Steps:   []filterStepPayload{{Kind: "min_interval", MinInterval: "soon"}},
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestServer_Quality_RisingSeriesWins(t *testing.T) {
	s := newTestServer(t)

	values := make([]float64, 40)
	for i := range values {
		values[i] = 100 + float64(i)
	}

	rr := doJSON(t, s, http.MethodPost, "/api/v1/quality", qualityRequest{
		Signals: signal.Set{
			testSignal(5, signal.TypeBuy, 0.7, "a"),
			testSignal(10, signal.TypeBuy, 0.7, "a"),
			testSignal(15, signal.TypeBuy, 0.7, "a"),
		},
		Prices: seriesPayload{Name: "close", Points: dailyPoints(values...)},
	})

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeEnvelope(t, rr)
	assert.True(t, env.OK)

	var result struct {
		Valid        bool    `json:"valid"`
		TotalSignals int     `json:"total_signals"`
		WinRate      float64 `json:"win_rate"`
		Rating       string  `json:"rating"`
	}
	decodeResult(t, env, &result)
	assert.True(t, result.Valid)
	assert.Equal(t, 3, result.TotalSignals)
	assert.InDelta(t, 1.0, result.WinRate, 1e-9)
	assert.NotEmpty(t, result.Rating)
}

func TestServer_FalseSignals_RisingSeries(t *testing.T) {
	s := newTestServer(t)

	values := make([]float64, 40)
	for i := range values {
		values[i] = 100 * math.Pow(1.01, float64(i))
	}

	rr := doJSON(t, s, http.MethodPost, "/api/v1/falsesignals", falseSignalRequest{
		Signals:       signal.Set{testSignal(2, signal.TypeBuy, 0.8, "a")},
		Prices:        seriesPayload{Name: "close", Points: dailyPoints(values...)},
		MoveThreshold: 0.02,
	})

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeEnvelope(t, rr)
	assert.True(t, env.OK)

	var result struct {
		Evaluated  int     `json:"evaluated"`
		FalseCount int     `json:"false_count"`
		ValidCount int     `json:"valid_count"`
		FalseRate  float64 `json:"false_rate"`
	}
	decodeResult(t, env, &result)
	assert.Equal(t, 1, result.Evaluated)
	assert.Equal(t, 0, result.FalseCount)
	assert.Equal(t, 1, result.ValidCount)
	assert.Zero(t, result.FalseRate)
}

func TestServer_Optimize_SingleCell(t *testing.T) {
	s := newTestServer(t)

	values := make([]float64, 120)
	for i := range values {
		values[i] = 100 + 10*math.Sin(2*math.Pi*float64(i)/20)
	}

	rr := doJSON(t, s, http.MethodPost, "/api/v1/optimize", optimizeRequest{
		Prices:   seriesPayload{Name: "close", Points: dailyPoints(values...)},
		Strategy: "ma_cross",
		Ranges:   map[string][]float64{"fast": {3}, "slow": {8}},
		Workers:  2,
	})

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeEnvelope(t, rr)
	assert.True(t, env.OK)
	assert.Equal(t, "optimize", env.Operation)

	var result struct {
		Strategy  string `json:"strategy"`
		Evaluated int    `json:"evaluated"`
	}
	decodeResult(t, env, &result)
	assert.Equal(t, "ma_cross", result.Strategy)
	assert.Equal(t, 1, result.Evaluated)
}

func TestServer_Optimize_UnknownStrategy(t *testing.T) {
	s := newTestServer(t)

	values := make([]float64, 120)
	for i := range values {
		values[i] = 100 + float64(i%7)
	}

	rr := doJSON(t, s, http.MethodPost, "/api/v1/optimize", optimizeRequest{
		Prices:   seriesPayload{Points: dailyPoints(values...)},
		Strategy: "alchemy",
	})

	require.Equal(t, http.StatusBadRequest, rr.Code)
	env := decodeEnvelope(t, rr)
	require.NotNil(t, env.Error)
	assert.Equal(t, engine.KindUnknownStrategy, env.Error.Kind)
}

func TestServer_Optimize_ShortHistory(t *testing.T) {
	s := newTestServer(t)

	rr := doJSON(t, s, http.MethodPost, "/api/v1/optimize", optimizeRequest{
		Prices:   seriesPayload{Points: dailyPoints(1, 2, 3, 4, 5)},
		Strategy: "rsi",
	})

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	env := decodeEnvelope(t, rr)
	require.NotNil(t, env.Error)
	assert.Equal(t, engine.KindInsufficientHistory, env.Error.Kind)
}

func TestServer_NotFound(t *testing.T) {
	s := newTestServer(t)

	rr := doJSON(t, s, http.MethodGet, "/definitely/not", nil)

	require.Equal(t, http.StatusNotFound, rr.Code)
	env := decodeEnvelope(t, rr)
	assert.False(t, env.OK)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Message, "no such endpoint")
}

func TestServer_RequestIDHeader(t *testing.T) {
	s := newTestServer(t)

	rr := doJSON(t, s, http.MethodPost, "/api/v1/detect", detectRequest{
		Series:   seriesPayload{Points: dailyPoints(1, 2, 3)},
		Operator: ">",
		Operand:  operandPayload{Value: floatPtr(0)},
	})

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, rr.Header().Get("X-Request-ID"), 8)
}

func TestServer_CORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/detect", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestNewServer_PortBusy(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	port := listener.Addr().(*net.TCPAddr).Port

	cfg := config.ServerConfig{
		Host:         "127.0.0.1",
		Port:         port,
		ReadTimeout:  5,
		WriteTimeout: 5,
		IdleTimeout:  5,
	}
	_, err = NewServer(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("port %d is busy or unavailable", port))
}

func TestMetricsRegistry_CacheHitRatio(t *testing.T) {
	m := NewMetricsRegistry()

	m.RecordCacheHit("ohlc")
	m.RecordCacheHit("ohlc")
	m.RecordCacheHit("ohlc")
	m.RecordCacheMiss("ohlc")

	metric := &dto.Metric{}
	require.NoError(t, m.CacheHitRatio.Write(metric))
	assert.InDelta(t, 0.75, metric.GetGauge().GetValue(), 1e-9)
}

func TestMetricsRegistry_ProviderCallback(t *testing.T) {
	m := NewMetricsRegistry()
	cb := m.ProviderCallback()

	cb("provider_cache_hits_total", 1, map[string]string{"endpoint": "OHLC"})
	cb("provider_cache_misses_total", 1, map[string]string{"endpoint": "OHLC"})
	cb("provider_requests_total", 1, map[string]string{"endpoint": "OHLC", "status": "success"})

	metric := &dto.Metric{}
	require.NoError(t, m.CacheHitRatio.Write(metric))
	assert.InDelta(t, 0.5, metric.GetGauge().GetValue(), 1e-9)

	counter, err := m.ProviderRequests.GetMetricWithLabelValues("ohlc", "success")
	require.NoError(t, err)
	require.NoError(t, counter.Write(metric))
	assert.InDelta(t, 1.0, metric.GetCounter().GetValue(), 1e-9)
}

func floatPtr(v float64) *float64 { return &v }

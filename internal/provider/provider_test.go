package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfoundry/sigforge/internal/config"
)

const ohlcBody = `{"error":[],"result":{"XXBTZUSD":[` +
	`[1704067200,"42000.0","42100.5","41900.0","42050.2","42010.1","12.345",100],` +
	`[1704067260,"42050.2","42120.0","42000.0","42075.9","42060.3","8.2",57]` +
	`],"last":1704067260}}`

func testConfig(baseURL string) config.ProviderConfig {
	return config.ProviderConfig{
		BaseURL:     baseURL,
		RPS:         1000,
		Burst:       10,
		TimeoutSecs: 2,
		Circuit: config.CircuitConfig{
			MaxRequests:         3,
			IntervalSecs:        60,
			TimeoutSecs:         45,
			ErrorRateThreshold:  25,
			ConsecutiveFailures: 5,
		},
	}
}

func TestClient_GetOHLC_ParsesResponse(t *testing.T) {
	var gotPath, gotPair, gotInterval, gotSince string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotPair = r.URL.Query().Get("pair")
		gotInterval = r.URL.Query().Get("interval")
		gotSince = r.URL.Query().Get("since")
		w.Write([]byte(ohlcBody))
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), nil)
	require.NoError(t, err)

	candles, err := client.GetOHLC(context.Background(), "BTCUSD", time.Hour, time.Unix(1704067200, 0))
	require.NoError(t, err)

	assert.Equal(t, "/0/public/OHLC", gotPath)
	assert.Equal(t, "BTCUSD", gotPair)
	assert.Equal(t, "60", gotInterval)
	assert.Equal(t, "1704067200", gotSince)

	require.Len(t, candles, 2)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), candles[0].Timestamp)
	assert.Equal(t, 42000.0, candles[0].Open)
	assert.Equal(t, 42050.2, candles[0].Close)
	assert.Equal(t, 100, candles[0].Count)
	assert.True(t, candles[1].Timestamp.After(candles[0].Timestamp))
}

func TestClient_GetOHLC_ServesFromCache(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.Write([]byte(ohlcBody))
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), NewMemoryCache())
	require.NoError(t, err)

	var hits, misses int
	client.SetMetricsCallback(func(metric string, value float64, tags map[string]string) {
		switch metric {
		case "provider_cache_hits_total":
			hits++
		case "provider_cache_misses_total":
			misses++
		}
	})

	first, err := client.GetOHLC(context.Background(), "BTCUSD", time.Minute, time.Time{})
	require.NoError(t, err)
	second, err := client.GetOHLC(context.Background(), "BTCUSD", time.Minute, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
	assert.Equal(t, first, second)
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)
}

func TestClient_GetOHLC_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":["EQuery:Unknown asset pair"],"result":null}`))
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), nil)
	require.NoError(t, err)

	_, err = client.GetOHLC(context.Background(), "NOPEUSD", time.Minute, time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EQuery:Unknown asset pair")
}

func TestClient_GetOHLC_RejectsSubMinuteInterval(t *testing.T) {
	client, err := NewClient(testConfig("http://localhost:1"), nil)
	require.NoError(t, err)

	_, err = client.GetOHLC(context.Background(), "BTCUSD", 30*time.Second, time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below one minute")
}

func TestClient_BreakerOpensOnConsecutiveFailures(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Circuit.ConsecutiveFailures = 2

	client, err := NewClient(cfg, nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = client.GetOHLC(ctx, "BTCUSD", time.Minute, time.Time{})
	require.Error(t, err)
	_, err = client.GetOHLC(ctx, "BTCUSD", time.Minute, time.Time{})
	require.Error(t, err)

	// Circuit is open now; the third call must not reach the server.
	_, err = client.GetOHLC(ctx, "BTCUSD", time.Minute, time.Time{})
	require.Error(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
	assert.Equal(t, "open", client.BreakerStatus().State)
}

func TestClient_PriceSeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(ohlcBody))
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), nil)
	require.NoError(t, err)

	prices, err := client.PriceSeries(context.Background(), "BTCUSD", time.Minute, time.Time{})
	require.NoError(t, err)

	require.Equal(t, 2, prices.Len())
	assert.Equal(t, "BTCUSD", prices.Name())
	assert.Equal(t, 42050.2, prices.At(0).Value)
	assert.Equal(t, 42075.9, prices.At(1).Value)
}

func TestClient_LimiterStatsExposeHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(ohlcBody))
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL), nil)
	require.NoError(t, err)

	_, err = client.GetOHLC(context.Background(), "BTCUSD", time.Minute, time.Time{})
	require.NoError(t, err)

	stats := client.LimiterStats()
	require.Len(t, stats, 1)
	for host := range stats {
		assert.Contains(t, srv.URL, host)
	}
}

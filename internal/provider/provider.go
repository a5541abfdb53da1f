// Package provider fetches historical OHLC candles from the Kraken REST
// API with rate limiting, circuit breaking, and candle caching. The
// analysis engine never calls it directly; the CLI and HTTP layers use
// it to turn a pair name into a price series.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfoundry/sigforge/internal/config"
	"github.com/quantfoundry/sigforge/internal/domain/series"
	"github.com/quantfoundry/sigforge/internal/net/ratelimit"
)

// MetricsCallback receives provider telemetry as it is produced.
type MetricsCallback func(metric string, value float64, tags map[string]string)

// Client is a Kraken REST client for historical market data.
type Client struct {
	httpClient *http.Client
	baseURL    string
	host       string
	userAgent  string
	limiter    *ratelimit.Limiter
	breaker    *Breaker
	cache      Cache
	cacheTTL   time.Duration
	metrics    MetricsCallback
}

// NewClient creates a Kraken client. Empty config fields fall back to
// free tier defaults. A nil cache disables candle caching.
func NewClient(cfg config.ProviderConfig, cache Cache) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.kraken.com"
	}
	if cfg.RPS == 0 {
		cfg.RPS = 1.0
	}
	if cfg.Burst == 0 {
		cfg.Burst = 2
	}
	if cfg.TimeoutSecs == 0 {
		cfg.TimeoutSecs = 10
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "sigforge/1.0"
	}

	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		baseURL:   cfg.BaseURL,
		host:      parsed.Host,
		userAgent: cfg.UserAgent,
		limiter:   ratelimit.NewLimiter(cfg.RPS, cfg.Burst),
		breaker:   NewBreaker("kraken", cfg.Circuit),
		cache:     cache,
		cacheTTL:  5 * time.Minute,
	}, nil
}

// SetMetricsCallback sets the telemetry sink.
func (c *Client) SetMetricsCallback(callback MetricsCallback) {
	c.metrics = callback
}

// SetCacheTTL overrides how long fetched candles stay cached.
func (c *Client) SetCacheTTL(ttl time.Duration) {
	if ttl > 0 {
		c.cacheTTL = ttl
	}
}

// LimiterStats exposes the rate limiter state for health reporting.
func (c *Client) LimiterStats() map[string]ratelimit.LimiterStats {
	return c.limiter.Stats()
}

// BreakerStatus exposes the circuit breaker state for health reporting.
func (c *Client) BreakerStatus() BreakerStatus {
	return c.breaker.Status()
}

func (c *Client) emitMetric(metric string, value float64, tags map[string]string) {
	if c.metrics != nil {
		c.metrics(metric, value, tags)
	}
}

// krakenResponse is the envelope every Kraken REST endpoint returns.
type krakenResponse struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// Candle is one OHLC bar.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	VWAP      float64   `json:"vwap"`
	Volume    float64   `json:"volume"`
	Count     int       `json:"count"`
}

// GetOHLC fetches candles for a pair. interval is rounded down to whole
// minutes; a zero since fetches the provider's full retention window.
// Candles come back in ascending time order.
func (c *Client) GetOHLC(ctx context.Context, pair string, interval time.Duration, since time.Time) ([]Candle, error) {
	minutes := int(interval.Minutes())
	if minutes < 1 {
		return nil, fmt.Errorf("interval %s is below one minute", interval)
	}

	cacheKey := fmt.Sprintf("ohlc:%s:%d:%d", pair, minutes, since.Unix())
	if c.cache != nil {
		if data, ok := c.cache.Get(ctx, cacheKey); ok {
			var candles []Candle
			if err := json.Unmarshal(data, &candles); err == nil {
				c.emitMetric("provider_cache_hits_total", 1, map[string]string{"endpoint": "OHLC"})
				return candles, nil
			}
		}
		c.emitMetric("provider_cache_misses_total", 1, map[string]string{"endpoint": "OHLC"})
	}

	if err := c.limiter.Wait(ctx, c.host); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	params := url.Values{}
	params.Set("pair", pair)
	params.Set("interval", strconv.Itoa(minutes))
	if !since.IsZero() {
		params.Set("since", strconv.FormatInt(since.Unix(), 10))
	}
	endpoint := fmt.Sprintf("%s/0/public/OHLC?%s", c.baseURL, params.Encode())

	start := time.Now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchOHLC(ctx, endpoint, pair)
	})
	if err != nil {
		c.emitMetric("provider_requests_total", 1,
			map[string]string{"endpoint": "OHLC", "status": "error"})
		return nil, err
	}
	c.emitMetric("provider_requests_total", 1,
		map[string]string{"endpoint": "OHLC", "status": "success"})
	c.emitMetric("provider_request_duration_ms", float64(time.Since(start).Milliseconds()),
		map[string]string{"endpoint": "OHLC"})

	candles := result.([]Candle)
	if c.cache != nil {
		if data, err := json.Marshal(candles); err == nil {
			c.cache.Set(ctx, cacheKey, data, c.cacheTTL)
		}
	}
	return candles, nil
}

// PriceSeries fetches candles and exposes their closes as a time series
// named after the pair.
func (c *Client) PriceSeries(ctx context.Context, pair string, interval time.Duration, since time.Time) (*series.TimeSeries, error) {
	candles, err := c.GetOHLC(ctx, pair, interval, since)
	if err != nil {
		return nil, err
	}

	timestamps := make([]time.Time, len(candles))
	closes := make([]float64, len(candles))
	for i, candle := range candles {
		timestamps[i] = candle.Timestamp
		closes[i] = candle.Close
	}
	return series.FromSamples(pair, timestamps, closes)
}

func (c *Client) fetchOHLC(ctx context.Context, endpoint, pair string) ([]Candle, error) {
	resp, err := c.makeRequest(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp krakenResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(apiResp.Error) > 0 {
		return nil, fmt.Errorf("API error: %v", apiResp.Error)
	}

	var result map[string]json.RawMessage
	if err := json.Unmarshal(apiResp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OHLC result: %w", err)
	}

	candles, err := parseOHLCResult(result)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("no OHLC data returned for pair: %s", pair)
	}
	return candles, nil
}

// parseOHLCResult extracts the candle rows from the result map. The pair
// key varies with Kraken's naming, so any key other than "last" is taken
// as the candle array.
func parseOHLCResult(result map[string]json.RawMessage) ([]Candle, error) {
	for key, raw := range result {
		if key == "last" {
			continue
		}
		var rows [][]interface{}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("failed to unmarshal OHLC rows: %w", err)
		}

		candles := make([]Candle, 0, len(rows))
		for _, row := range rows {
			candle, err := parseOHLCRow(row)
			if err != nil {
				log.Warn().Err(err).Msg("dropped malformed OHLC row")
				continue
			}
			candles = append(candles, candle)
		}

		sort.Slice(candles, func(i, j int) bool {
			return candles[i].Timestamp.Before(candles[j].Timestamp)
		})
		return dedupeCandles(candles), nil
	}
	return nil, nil
}

// parseOHLCRow converts one wire row. Kraken emits
// [time, open, high, low, close, vwap, volume, count] with prices as
// strings.
func parseOHLCRow(row []interface{}) (Candle, error) {
	if len(row) < 8 {
		return Candle{}, fmt.Errorf("OHLC row has %d fields, want 8", len(row))
	}

	seconds, ok := row[0].(float64)
	if !ok {
		return Candle{}, fmt.Errorf("OHLC row timestamp is %T, want number", row[0])
	}

	fields := make([]float64, 6)
	for i := 0; i < 6; i++ {
		s, ok := row[i+1].(string)
		if !ok {
			return Candle{}, fmt.Errorf("OHLC row field %d is %T, want string", i+1, row[i+1])
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Candle{}, fmt.Errorf("OHLC row field %d: %w", i+1, err)
		}
		fields[i] = v
	}

	count, ok := row[7].(float64)
	if !ok {
		return Candle{}, fmt.Errorf("OHLC row count is %T, want number", row[7])
	}

	return Candle{
		Timestamp: time.Unix(int64(seconds), 0).UTC(),
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		VWAP:      fields[4],
		Volume:    fields[5],
		Count:     int(count),
	}, nil
}

// dedupeCandles drops repeated timestamps, keeping the later row, so the
// result satisfies the strictly increasing series invariant.
func dedupeCandles(candles []Candle) []Candle {
	out := candles[:0]
	for _, candle := range candles {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(candle.Timestamp) {
			out[n-1] = candle
			continue
		}
		out = append(out, candle)
	}
	return out
}

func (c *Client) makeRequest(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return resp, nil
}

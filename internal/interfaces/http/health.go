package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/quantfoundry/sigforge/internal/net/ratelimit"
	"github.com/quantfoundry/sigforge/internal/provider"
)

// HealthHandler provides the system health status endpoint.
type HealthHandler struct {
	client     *provider.Client
	startTime  time.Time
	version    string
	buildStamp string
}

// NewHealthHandler creates a health handler. client may be nil when no
// market data provider is wired.
func NewHealthHandler(client *provider.Client, version, buildStamp string) *HealthHandler {
	return &HealthHandler{
		client:     client,
		startTime:  time.Now(),
		version:    version,
		buildStamp: buildStamp,
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status     string    `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp  time.Time `json:"timestamp"`
	Uptime     string    `json:"uptime"`
	Version    string    `json:"version"`
	BuildStamp string    `json:"build_stamp"`

	System   SystemInfo      `json:"system"`
	Provider *ProviderStatus `json:"provider,omitempty"`

	Checks map[string]CheckResult `json:"checks"`
}

// SystemInfo provides system-level information.
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	MemAlloc      uint64 `json:"mem_alloc_bytes"`
	MemSys        uint64 `json:"mem_sys_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

// ProviderStatus reports the market data provider's guard state.
type ProviderStatus struct {
	Breaker provider.BreakerStatus            `json:"breaker"`
	Limits  map[string]ratelimit.LimiterStats `json:"limits,omitempty"`
}

// CheckResult represents one health check outcome.
type CheckResult struct {
	Status    string        `json:"status"` // "pass", "warn", "fail"
	Message   string        `json:"message"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// ServeHTTP implements the health check endpoint.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	response := h.gatherHealthInfo()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	switch response.Status {
	case "healthy", "degraded":
		w.WriteHeader(http.StatusOK)
	case "unhealthy":
		w.WriteHeader(http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}

	response.Checks["health_endpoint"] = CheckResult{
		Status:    "pass",
		Message:   "Health endpoint responding",
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (h *HealthHandler) gatherHealthInfo() HealthResponse {
	response := HealthResponse{
		Timestamp:  time.Now(),
		Uptime:     time.Since(h.startTime).String(),
		Version:    h.version,
		BuildStamp: h.buildStamp,
		System:     h.getSystemInfo(),
		Checks:     make(map[string]CheckResult),
	}

	if h.client != nil {
		response.Provider = &ProviderStatus{
			Breaker: h.client.BreakerStatus(),
			Limits:  h.client.LimiterStats(),
		}
		h.addProviderChecks(&response)
	}
	h.addSystemChecks(&response)

	response.Status = calculateOverallStatus(response.Checks)
	return response
}

func (h *HealthHandler) getSystemInfo() SystemInfo {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		MemAlloc:      memStats.Alloc,
		MemSys:        memStats.Sys,
		NumGC:         memStats.NumGC,
	}
}

func (h *HealthHandler) addProviderChecks(response *HealthResponse) {
	now := time.Now()
	switch response.Provider.Breaker.State {
	case "open":
		response.Checks["provider_breaker"] = CheckResult{
			Status:    "fail",
			Message:   "Provider circuit breaker is open",
			Timestamp: now,
		}
	case "half-open":
		response.Checks["provider_breaker"] = CheckResult{
			Status:    "warn",
			Message:   "Provider circuit breaker is probing recovery",
			Timestamp: now,
		}
	default:
		response.Checks["provider_breaker"] = CheckResult{
			Status:    "pass",
			Message:   "Provider circuit breaker closed",
			Timestamp: now,
		}
	}

	throttled := 0
	for _, stats := range response.Provider.Limits {
		if stats.IsThrottled() {
			throttled++
		}
	}
	if throttled > 0 {
		response.Checks["provider_rate_limit"] = CheckResult{
			Status:    "warn",
			Message:   fmt.Sprintf("%d host(s) currently throttled", throttled),
			Timestamp: now,
		}
	} else {
		response.Checks["provider_rate_limit"] = CheckResult{
			Status:    "pass",
			Message:   "No hosts throttled",
			Timestamp: now,
		}
	}
}

func (h *HealthHandler) addSystemChecks(response *HealthResponse) {
	now := time.Now()

	memUsagePercent := 0.0
	if response.System.MemSys > 0 {
		memUsagePercent = float64(response.System.MemAlloc) / float64(response.System.MemSys) * 100
	}
	switch {
	case memUsagePercent > 90:
		response.Checks["memory"] = CheckResult{
			Status:    "fail",
			Message:   fmt.Sprintf("Memory usage critical: %.1f%%", memUsagePercent),
			Timestamp: now,
		}
	case memUsagePercent > 75:
		response.Checks["memory"] = CheckResult{
			Status:    "warn",
			Message:   fmt.Sprintf("Memory usage high: %.1f%%", memUsagePercent),
			Timestamp: now,
		}
	default:
		response.Checks["memory"] = CheckResult{
			Status:    "pass",
			Message:   fmt.Sprintf("Memory usage normal: %.1f%%", memUsagePercent),
			Timestamp: now,
		}
	}

	if response.System.NumGoroutines > 1000 {
		response.Checks["goroutines"] = CheckResult{
			Status:    "warn",
			Message:   fmt.Sprintf("High goroutine count: %d", response.System.NumGoroutines),
			Timestamp: now,
		}
	} else {
		response.Checks["goroutines"] = CheckResult{
			Status:    "pass",
			Message:   fmt.Sprintf("Goroutine count normal: %d", response.System.NumGoroutines),
			Timestamp: now,
		}
	}
}

// calculateOverallStatus folds check outcomes into one service status.
// Any failing check is unhealthy; any warning degrades.
func calculateOverallStatus(checks map[string]CheckResult) string {
	status := "healthy"
	for _, check := range checks {
		switch check.Status {
		case "fail":
			return "unhealthy"
		case "warn":
			status = "degraded"
		}
	}
	return status
}

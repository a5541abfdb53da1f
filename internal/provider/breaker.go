package provider

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/quantfoundry/sigforge/internal/config"
)

// Breaker wraps a circuit breaker around one upstream provider.
type Breaker struct {
	name    string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
}

// BreakerStatus is a snapshot of breaker state for health reporting.
type BreakerStatus struct {
	Name                string           `json:"name"`
	State               string           `json:"state"`
	Counts              gobreaker.Counts `json:"counts"`
	ErrorRate           float64          `json:"error_rate"`
	ConsecutiveFailures uint32           `json:"consecutive_failures"`
	NextReset           time.Time        `json:"next_reset,omitempty"`
}

// NewBreaker builds a breaker from config. Zero config fields fall back
// to the package defaults baked into config.Default.
func NewBreaker(name string, cfg config.CircuitConfig) *Breaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 3
	}
	if cfg.IntervalSecs == 0 {
		cfg.IntervalSecs = 60
	}
	if cfg.TimeoutSecs == 0 {
		cfg.TimeoutSecs = 45
	}
	if cfg.ErrorRateThreshold == 0 {
		cfg.ErrorRateThreshold = 25
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.GetInterval(),
		Timeout:     cfg.GetTimeout(),
		ReadyToTrip: tripCondition(cfg),
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}

	return &Breaker{
		name:    name,
		timeout: cfg.GetTimeout(),
		cb:      gobreaker.NewCircuitBreaker(settings),
	}
}

// Execute runs fn through the breaker.
func (b *Breaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return b.cb.Execute(fn)
}

// Status returns the current breaker snapshot.
func (b *Breaker) Status() BreakerStatus {
	counts := b.cb.Counts()

	var errorRate float64
	if counts.Requests > 0 {
		errorRate = float64(counts.TotalFailures) / float64(counts.Requests) * 100
	}

	status := BreakerStatus{
		Name:                b.name,
		State:               b.cb.State().String(),
		Counts:              counts,
		ErrorRate:           errorRate,
		ConsecutiveFailures: counts.ConsecutiveFailures,
	}
	if b.cb.State() == gobreaker.StateOpen {
		status.NextReset = time.Now().Add(b.timeout)
	}
	return status
}

// tripCondition opens the circuit on a sustained error rate or a run of
// consecutive failures.
func tripCondition(cfg config.CircuitConfig) func(counts gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if counts.Requests >= 10 {
			errorRate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
			if errorRate >= cfg.ErrorRateThreshold {
				return true
			}
		}
		return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
	}
}

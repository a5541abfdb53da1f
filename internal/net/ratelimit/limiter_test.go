package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BurstThenThrottle(t *testing.T) {
	l := NewLimiter(2.0, 2)

	assert.True(t, l.Allow("api.kraken.com"))
	assert.True(t, l.Allow("api.kraken.com"))
	assert.False(t, l.Allow("api.kraken.com"))
}

func TestLimiter_HostsAreIndependent(t *testing.T) {
	l := NewLimiter(1.0, 1)

	assert.True(t, l.Allow("a.example.com"))
	assert.False(t, l.Allow("a.example.com"))
	assert.True(t, l.Allow("b.example.com"))
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	l := NewLimiter(0.1, 1)
	require.True(t, l.Allow("slow.example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Wait(ctx, "slow.example.com")

	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	l := NewLimiter(100.0, 10)
	host := "concurrent.example.com"

	const goroutines = 50
	const perGoroutine = 5

	var allowed, blocked int64
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				if l.Allow(host) {
					atomic.AddInt64(&allowed, 1)
				} else {
					atomic.AddInt64(&blocked, 1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(goroutines*perGoroutine), allowed+blocked)
	assert.GreaterOrEqual(t, allowed, int64(10))
	assert.Greater(t, blocked, int64(0))
}

func TestLimiter_SetRPSAppliesToExistingBuckets(t *testing.T) {
	l := NewLimiter(1.0, 1)
	l.Allow("api.kraken.com")

	l.SetRPS(100)

	stats := l.Stats()
	require.Contains(t, stats, "api.kraken.com")
	assert.Equal(t, 100.0, stats["api.kraken.com"].RPS)
}

func TestLimiter_StatsReportThrottling(t *testing.T) {
	l := NewLimiter(0.5, 1)
	require.True(t, l.Allow("api.kraken.com"))

	stats := l.Stats()
	s, ok := stats["api.kraken.com"]
	require.True(t, ok)
	assert.True(t, s.IsThrottled())
	assert.Equal(t, 1, s.Burst)
	assert.Less(t, s.TokensAvailable, 1.0)
}

func TestLimiter_ResetClearsBuckets(t *testing.T) {
	l := NewLimiter(1.0, 1)
	require.True(t, l.Allow("api.kraken.com"))
	require.False(t, l.Allow("api.kraken.com"))

	l.Reset()

	assert.True(t, l.Allow("api.kraken.com"))
	assert.Len(t, l.Stats(), 1)
}

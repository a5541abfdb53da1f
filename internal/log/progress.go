package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Mode selects how progress is rendered.
type Mode string

const (
	ModeAuto  Mode = "auto"  // bar on a TTY, plain otherwise
	ModePlain Mode = "plain" // periodic log lines
	ModeJSON  Mode = "json"  // machine readable JSON lines
)

// ParseMode normalizes a progress mode flag value.
func ParseMode(s string) Mode {
	switch strings.ToLower(s) {
	case "plain":
		return ModePlain
	case "json":
		return ModeJSON
	default:
		return ModeAuto
	}
}

// ProgressIndicator provides visual feedback for long running operations
// such as grid searches and batch backtests.
type ProgressIndicator struct {
	mu        sync.Mutex
	name      string
	total     int
	current   int
	startTime time.Time
	lastPct   int
	mode      Mode
	out       io.Writer
	isTTY     bool
}

// NewProgressIndicator creates a progress indicator writing to stderr.
func NewProgressIndicator(name string, total int, mode Mode) *ProgressIndicator {
	return &ProgressIndicator{
		name:      name,
		total:     total,
		startTime: time.Now(),
		lastPct:   -1,
		mode:      mode,
		out:       os.Stderr,
		isTTY:     term.IsTerminal(int(os.Stderr.Fd())),
	}
}

// Increment advances progress by one step.
func (pi *ProgressIndicator) Increment() {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	pi.current++
	pi.render("")
}

// UpdateWithMessage sets progress and displays a custom message.
func (pi *ProgressIndicator) UpdateWithMessage(current int, message string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	pi.current = current
	pi.render(message)
}

// Finish completes the progress indicator.
func (pi *ProgressIndicator) Finish() {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	duration := time.Since(pi.startTime).Round(time.Millisecond)
	switch pi.effectiveMode() {
	case ModeJSON:
		pi.writeJSON(map[string]interface{}{
			"name": pi.name, "done": true, "total": pi.total, "elapsed_ms": duration.Milliseconds(),
		})
	case ModePlain:
		log.Info().Str("name", pi.name).Int("total", pi.total).Dur("elapsed", duration).Msg("completed")
	default:
		fmt.Fprintf(pi.out, "\r\033[K✅ %s completed (%d items, %v)\n", pi.name, pi.total, duration)
	}
}

// Fail marks the operation as failed.
func (pi *ProgressIndicator) Fail(reason string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()

	duration := time.Since(pi.startTime).Round(time.Millisecond)
	switch pi.effectiveMode() {
	case ModeJSON:
		pi.writeJSON(map[string]interface{}{
			"name": pi.name, "failed": true, "reason": reason, "elapsed_ms": duration.Milliseconds(),
		})
	case ModePlain:
		log.Error().Str("name", pi.name).Str("reason", reason).Dur("elapsed", duration).Msg("failed")
	default:
		fmt.Fprintf(pi.out, "\r\033[K❌ %s failed: %s (%v)\n", pi.name, reason, duration)
	}
}

func (pi *ProgressIndicator) effectiveMode() Mode {
	if pi.mode == ModeAuto && !pi.isTTY {
		return ModePlain
	}
	return pi.mode
}

func (pi *ProgressIndicator) render(message string) {
	if pi.total <= 0 {
		return
	}
	pct := pi.current * 100 / pi.total

	switch pi.effectiveMode() {
	case ModeJSON:
		payload := map[string]interface{}{
			"name": pi.name, "current": pi.current, "total": pi.total, "pct": pct,
		}
		if message != "" {
			payload["message"] = message
		}
		pi.writeJSON(payload)
	case ModePlain:
		// Log at most once per 10% step to keep output readable.
		if pct/10 == pi.lastPct/10 && pi.lastPct >= 0 {
			return
		}
		pi.lastPct = pct
		log.Info().Str("name", pi.name).Int("current", pi.current).Int("total", pi.total).Int("pct", pct).Msg("progress")
	default:
		pi.lastPct = pct
		pi.printBar(pct, message)
	}
}

func (pi *ProgressIndicator) printBar(pct int, message string) {
	var output strings.Builder
	output.WriteString("\r\033[K")
	output.WriteString(pi.name)

	barWidth := 20
	filled := barWidth * pi.current / pi.total
	output.WriteString(" [")
	for i := 0; i < barWidth; i++ {
		if i < filled {
			output.WriteString("█")
		} else {
			output.WriteString("░")
		}
	}
	output.WriteString(fmt.Sprintf("] %d/%d (%d%%)", pi.current, pi.total, pct))

	if pi.current > 0 && pi.current < pi.total {
		elapsed := time.Since(pi.startTime)
		eta := time.Duration(float64(elapsed) / float64(pi.current) * float64(pi.total-pi.current))
		output.WriteString(fmt.Sprintf(" ETA %v", eta.Round(time.Second)))
	}
	if message != "" {
		output.WriteString(" ")
		output.WriteString(message)
	}
	fmt.Fprint(pi.out, output.String())
}

func (pi *ProgressIndicator) writeJSON(payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintln(pi.out, string(data))
}

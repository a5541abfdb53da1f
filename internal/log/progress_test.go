package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModePlain, ParseMode("plain"))
	assert.Equal(t, ModeJSON, ParseMode("JSON"))
	assert.Equal(t, ModeAuto, ParseMode("auto"))
	assert.Equal(t, ModeAuto, ParseMode("whatever"))
}

func TestProgress_JSONMode(t *testing.T) {
	var buf bytes.Buffer
	pi := NewProgressIndicator("grid search", 4, ModeJSON)
	pi.out = &buf

	pi.Increment()
	pi.UpdateWithMessage(3, "evaluating")
	pi.Finish()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "grid search", first["name"])
	assert.Equal(t, float64(1), first["current"])
	assert.Equal(t, float64(25), first["pct"])

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "evaluating", second["message"])

	var last map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &last))
	assert.Equal(t, true, last["done"])
}

func TestProgress_BarMode(t *testing.T) {
	var buf bytes.Buffer
	pi := NewProgressIndicator("backtest", 2, ModeAuto)
	pi.out = &buf
	pi.isTTY = true

	pi.Increment()
	pi.Increment()
	pi.Finish()

	out := buf.String()
	assert.Contains(t, out, "backtest [")
	assert.Contains(t, out, "1/2 (50%)")
	assert.Contains(t, out, "2/2 (100%)")
	assert.Contains(t, out, "completed")
}

func TestProgress_AutoFallsBackOffTTY(t *testing.T) {
	pi := NewProgressIndicator("x", 10, ModeAuto)
	pi.isTTY = false
	assert.Equal(t, ModePlain, pi.effectiveMode())

	pi.isTTY = true
	assert.Equal(t, ModeAuto, pi.effectiveMode())
}

func TestProgress_FailJSON(t *testing.T) {
	var buf bytes.Buffer
	pi := NewProgressIndicator("load", 1, ModeJSON)
	pi.out = &buf

	pi.Fail("file missing")

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))
	assert.Equal(t, true, payload["failed"])
	assert.Equal(t, "file missing", payload["reason"])
}

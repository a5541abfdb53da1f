package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_AppliesAndValidates(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
	assert.Equal(t, 10*time.Second, cfg.Server.GetReadTimeout())
	assert.Equal(t, "https://api.kraken.com", cfg.Provider.BaseURL)
	assert.Equal(t, 45*time.Second, cfg.Provider.Circuit.GetTimeout())
	assert.Equal(t, 5*time.Minute, cfg.Cache.GetTTL())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 4, cfg.Engine.Workers)

	align, err := cfg.Engine.GetAlignment()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, align)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: 9999
engine:
  workers: 8
  alignment: 5m
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)

	align, err := cfg.Engine.GetAlignment()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, align)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"bad port":      "server:\n  port: 99999\n",
		"bad level":     "log:\n  level: loud\n",
		"bad alignment": "engine:\n  alignment: sometimes\n",
		"zero workers":  "engine:\n  workers: 0\n",
	}
	for name, yaml := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestProfiles_RoundTripAndValidation(t *testing.T) {
	cfg := GetDefaultProfilesConfig()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, SaveProfilesConfig(cfg, path))

	loaded, err := LoadProfilesConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "quick", loaded.Active)

	active, err := loaded.GetActiveProfile()
	require.NoError(t, err)
	assert.Equal(t, "rsi", active.Strategy)
	assert.Empty(t, active.ValidateProfile())
	assert.Equal(t, 8, active.GridSize())
}

func TestProfiles_ValidationCatchesProblems(t *testing.T) {
	bad := OptimizerProfile{
		Strategy: "rsi",
		Ranges: map[string][]float64{
			"period":  {},
			"unknown": {1, 2},
		},
	}
	problems := bad.ValidateProfile()
	assert.Len(t, problems, 2)

	missing := OptimizerProfile{Strategy: "nope"}
	problems = missing.ValidateProfile()
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "Unknown strategy")
}

func TestProfiles_GetProfileMiss(t *testing.T) {
	cfg := GetDefaultProfilesConfig()
	_, err := cfg.GetProfile("absent")
	assert.Error(t, err)
}

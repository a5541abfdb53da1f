package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/quantfoundry/sigforge/internal/engine/strategy"
)

// ProfilesConfig holds named optimization profiles.
type ProfilesConfig struct {
	Active   string                      `yaml:"active_profile"`
	Profiles map[string]OptimizerProfile `yaml:"profiles"`
}

// OptimizerProfile is a reusable grid search preset for one strategy.
type OptimizerProfile struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	Strategy    string               `yaml:"strategy"`
	Ranges      map[string][]float64 `yaml:"ranges"`
	Workers     int                  `yaml:"workers"`
}

// LoadProfilesConfig loads optimization profiles from file.
func LoadProfilesConfig(configPath string) (*ProfilesConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles config: %w", err)
	}

	var config ProfilesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse profiles YAML: %w", err)
	}

	return &config, nil
}

// SaveProfilesConfig saves optimization profiles to file.
func SaveProfilesConfig(config *ProfilesConfig, configPath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal profiles config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write profiles config: %w", err)
	}

	return nil
}

// GetActiveProfile returns the currently active optimization profile.
func (pc *ProfilesConfig) GetActiveProfile() (*OptimizerProfile, error) {
	if pc.Active == "" {
		return nil, fmt.Errorf("no active profile set")
	}

	profile, exists := pc.Profiles[pc.Active]
	if !exists {
		return nil, fmt.Errorf("active profile '%s' not found", pc.Active)
	}

	return &profile, nil
}

// GetProfile returns a profile by name.
func (pc *ProfilesConfig) GetProfile(name string) (*OptimizerProfile, error) {
	profile, exists := pc.Profiles[name]
	if !exists {
		return nil, fmt.Errorf("profile '%s' not found", name)
	}
	return &profile, nil
}

// ValidateProfile checks a profile against the registered strategies and
// returns human readable problems.
func (op *OptimizerProfile) ValidateProfile() []string {
	var errors []string

	strat, ok := strategy.Get(op.Strategy)
	if !ok {
		errors = append(errors, fmt.Sprintf("Unknown strategy: %s (known: %v)", op.Strategy, strategy.IDs()))
		return errors
	}

	for name, values := range op.Ranges {
		if len(values) == 0 {
			errors = append(errors, fmt.Sprintf("Parameter %s: empty range", name))
		}
		if _, known := strat.Defaults[name]; !known {
			errors = append(errors, fmt.Sprintf("Parameter %s not used by strategy %s", name, op.Strategy))
		}
	}

	if op.Workers < 0 {
		errors = append(errors, fmt.Sprintf("Workers must be non-negative, got %d", op.Workers))
	}

	return errors
}

// GridSize returns the number of combinations the profile will evaluate,
// filling omitted ranges from the strategy defaults.
func (op *OptimizerProfile) GridSize() int {
	strat, ok := strategy.Get(op.Strategy)
	if !ok {
		return 0
	}
	size := 1
	for name, values := range strat.Defaults {
		if override, exists := op.Ranges[name]; exists {
			size *= len(override)
		} else {
			size *= len(values)
		}
	}
	return size
}

// GetDefaultProfilesConfig returns built-in optimization profiles.
func GetDefaultProfilesConfig() *ProfilesConfig {
	return &ProfilesConfig{
		Active: "quick",
		Profiles: map[string]OptimizerProfile{
			"quick": {
				Name:        "Quick",
				Description: "Coarse grids for fast iteration",
				Strategy:    "rsi",
				Ranges: map[string][]float64{
					"period":     {7, 14},
					"oversold":   {25, 30},
					"overbought": {70, 75},
				},
				Workers: 2,
			},
			"thorough": {
				Name:        "Thorough",
				Description: "Full default grids for overnight runs",
				Strategy:    "rsi",
				Ranges:      map[string][]float64{},
				Workers:     4,
			},
			"trend": {
				Name:        "Trend Following",
				Description: "Moving average cross sweep",
				Strategy:    "ma_cross",
				Ranges: map[string][]float64{
					"fast": {5, 10, 20},
					"slow": {50, 100, 200},
				},
				Workers: 2,
			},
		},
	}
}

// GetProfilesConfigPath returns the default path for profiles configuration.
func GetProfilesConfigPath() string {
	return filepath.Join("config", "profiles.yaml")
}

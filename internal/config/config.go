// Package config provides configuration loading and validation for rumorsim.
// It supports loading from YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrConfiguration marks parameters that cannot describe a valid run.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrCapacity marks a requested population larger than the grid.
	ErrCapacity = errors.New("population exceeds grid capacity")
)

// Mode selects how skepticism tiers are assigned at initialization.
type Mode string

const (
	ModeDefault Mode = "default"
	ModeFast    Mode = "fast"
	ModeSlow    Mode = "slow"
)

// Valid reports whether m is a recognized mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeDefault, ModeFast, ModeSlow:
		return true
	}
	return false
}

// Placement selects how populated cells are sampled.
type Placement string

const (
	PlacementUniform Placement = "uniform"
	PlacementNoise   Placement = "noise"
)

// Valid reports whether p is a recognized placement.
func (p Placement) Valid() bool {
	return p == PlacementUniform || p == PlacementNoise
}

// Config contains all rumorsim configuration settings.
type Config struct {
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`
	Engine     EngineConfig     `json:"engine" yaml:"engine"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	API        APIConfig        `json:"api" yaml:"api"`
	Render     RenderConfig     `json:"render" yaml:"render"`
	Report     ReportConfig     `json:"report" yaml:"report"`
	Entropy    EntropyConfig    `json:"entropy" yaml:"entropy"`
}

// SimulationConfig holds the parameters of a single run.
type SimulationConfig struct {
	// Name labels the run in output and exports. Display only.
	Name string `json:"name" yaml:"name"`

	Rows int `json:"rows" yaml:"rows"`
	Cols int `json:"cols" yaml:"cols"`

	// PopulationDensity is the fraction of cells that hold an agent, in (0, 1].
	PopulationDensity float64 `json:"population_density" yaml:"population_density"`

	// S1..S4 weight the four skepticism tiers. They need not sum to 1.
	S1 float64 `json:"s1" yaml:"s1"`
	S2 float64 `json:"s2" yaml:"s2"`
	S3 float64 `json:"s3" yaml:"s3"`
	S4 float64 `json:"s4" yaml:"s4"`

	// LGeneration is the number of generations an agent waits after spreading.
	LGeneration int `json:"l_generation" yaml:"l_generation"`

	Mode      Mode      `json:"mode" yaml:"mode"`
	Placement Placement `json:"placement" yaml:"placement"`

	// Seed fixes the random stream. 0 draws a fresh seed at startup.
	Seed int64 `json:"seed" yaml:"seed"`

	// MaxGenerations caps the run. 0 runs until stopped.
	MaxGenerations int `json:"max_generations" yaml:"max_generations"`

	// StopWhenSaturated ends the run early once every agent is informed.
	StopWhenSaturated bool `json:"stop_when_saturated" yaml:"stop_when_saturated"`
}

// Weights returns the tier weights indexed by tier-1.
func (s SimulationConfig) Weights() [4]float64 {
	return [4]float64{s.S1, s.S2, s.S3, s.S4}
}

// Population returns floor(rows*cols*density).
func (s SimulationConfig) Population() int {
	return int(float64(s.Rows*s.Cols) * s.PopulationDensity)
}

// EngineConfig controls pacing between generations.
type EngineConfig struct {
	// Interval is the wall-clock pause between generations at speed 1.
	Interval time.Duration `json:"interval" yaml:"interval"`

	// Speed multiplies the pace. 0 pauses.
	Speed float64 `json:"speed" yaml:"speed"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" also writes a per-generation trace to TraceDir.
	Level string `json:"level" yaml:"level"`

	TraceDir string `json:"trace_dir,omitempty" yaml:"trace_dir,omitempty"`
}

// StorageConfig configures the result store. An empty path disables it.
type StorageConfig struct {
	Path string `json:"path" yaml:"path"`
}

// APIConfig configures the HTTP API. Port 0 disables it.
type APIConfig struct {
	Port     int    `json:"port" yaml:"port"`
	AdminKey string `json:"admin_key,omitempty" yaml:"admin_key,omitempty"`
}

// RenderConfig configures frame output.
type RenderConfig struct {
	// Terminal draws each generation to stdout.
	Terminal bool `json:"terminal" yaml:"terminal"`

	// FramesDir, when set, receives one PNG per generation.
	FramesDir string `json:"frames_dir,omitempty" yaml:"frames_dir,omitempty"`

	// Scale is the pixel size of one cell in PNG frames.
	Scale int `json:"scale" yaml:"scale"`

	// VideoPath, when set, receives an MJPEG AVI of every generation.
	VideoPath string `json:"video_path,omitempty" yaml:"video_path,omitempty"`
	FPS       int    `json:"fps" yaml:"fps"`
}

// ReportConfig configures exports written after a run.
type ReportConfig struct {
	ChartPath string `json:"chart_path,omitempty" yaml:"chart_path,omitempty"`
	CSVPath   string `json:"csv_path,omitempty" yaml:"csv_path,omitempty"`
}

// EntropyConfig configures seed derivation for unseeded runs.
type EntropyConfig struct {
	// RandomOrgKey enables random.org seeds. Supports ${VAR} syntax.
	RandomOrgKey string `json:"random_org_key,omitempty" yaml:"random_org_key,omitempty"`
}

// RedactedKey returns the key with most characters masked.
func (c EntropyConfig) RedactedKey() string {
	if c.RandomOrgKey == "" {
		return ""
	}
	if len(c.RandomOrgKey) < 12 {
		return "(set)"
	}
	return c.RandomOrgKey[:4] + "..." + c.RandomOrgKey[len(c.RandomOrgKey)-4:]
}

// String implements fmt.Stringer to keep the key out of logs.
func (c EntropyConfig) String() string {
	return fmt.Sprintf("EntropyConfig{RandomOrgKey:%s}", c.RedactedKey())
}

// Default returns a Config with the reference parameters.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			Name:              "default simulation",
			Rows:              100,
			Cols:              100,
			PopulationDensity: 0.75,
			S1:                0.2,
			S2:                0.3,
			S3:                0.4,
			S4:                0.1,
			LGeneration:       2,
			Mode:              ModeDefault,
			Placement:         PlacementUniform,
			MaxGenerations:    251,
		},
		Engine: EngineConfig{
			Interval: 200 * time.Millisecond,
			Speed:    1,
		},
		Logging: LoggingConfig{
			Level:    "info",
			TraceDir: ".rumorsim",
		},
		Render: RenderConfig{
			Scale: 6,
			FPS:   10,
		},
	}
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.rumorsim/config.yaml -> environment variables
func Load() (*Config, error) {
	config := Default()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, ".rumorsim", "config.yaml")
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file, then applies
// environment overrides.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Entropy.RandomOrgKey = expandEnvVars(config.Entropy.RandomOrgKey)
	config.API.AdminKey = expandEnvVars(config.API.AdminKey)

	applyEnvOverrides(config)

	return config, nil
}

// Validate checks that the configuration is valid. Errors wrap
// ErrConfiguration or ErrCapacity.
func (c *Config) Validate() error {
	if err := c.Simulation.Validate(); err != nil {
		return err
	}

	if c.Engine.Interval < 0 {
		return fmt.Errorf("%w: interval must be non-negative, got %v", ErrConfiguration, c.Engine.Interval)
	}
	if c.Engine.Speed < 0 {
		return fmt.Errorf("%w: speed must be non-negative, got %v", ErrConfiguration, c.Engine.Speed)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("%w: invalid log level: %s (valid: info, debug, trace, or empty for default)", ErrConfiguration, c.Logging.Level)
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("%w: api port out of range: %d", ErrConfiguration, c.API.Port)
	}
	if c.Render.Scale <= 0 {
		return fmt.Errorf("%w: render scale must be positive, got %d", ErrConfiguration, c.Render.Scale)
	}
	if c.Render.VideoPath != "" && c.Render.FPS <= 0 {
		return fmt.Errorf("%w: render fps must be positive, got %d", ErrConfiguration, c.Render.FPS)
	}

	return nil
}

// Validate checks the run parameters.
func (s SimulationConfig) Validate() error {
	if s.Rows <= 0 || s.Cols <= 0 {
		return fmt.Errorf("%w: grid must be at least 1x1, got %dx%d", ErrConfiguration, s.Rows, s.Cols)
	}

	d := s.PopulationDensity
	if math.IsNaN(d) || d <= 0 || d > 1 {
		return fmt.Errorf("%w: population_density must be in (0, 1], got %v", ErrConfiguration, d)
	}

	sum := 0.0
	for i, w := range s.Weights() {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return fmt.Errorf("%w: s%d must be a non-negative number, got %v", ErrConfiguration, i+1, w)
		}
		sum += w
	}
	if sum == 0 {
		return fmt.Errorf("%w: tier weights are all zero", ErrConfiguration)
	}
	if math.IsInf(sum, 0) {
		return fmt.Errorf("%w: tier weights overflow when summed", ErrConfiguration)
	}

	if s.LGeneration <= 0 {
		return fmt.Errorf("%w: l_generation must be positive, got %d", ErrConfiguration, s.LGeneration)
	}

	if !s.Mode.Valid() {
		return fmt.Errorf("%w: invalid mode: %q (valid: default, fast, slow)", ErrConfiguration, s.Mode)
	}
	if !s.Placement.Valid() {
		return fmt.Errorf("%w: invalid placement: %q (valid: uniform, noise)", ErrConfiguration, s.Placement)
	}

	if s.MaxGenerations < 0 {
		return fmt.Errorf("%w: max_generations must be non-negative, got %d", ErrConfiguration, s.MaxGenerations)
	}

	n := s.Population()
	if n > s.Rows*s.Cols {
		return fmt.Errorf("%w: %d agents on %d cells", ErrCapacity, n, s.Rows*s.Cols)
	}
	if n < 1 {
		return fmt.Errorf("%w: density %v yields no agents on a %dx%d grid", ErrConfiguration, d, s.Rows, s.Cols)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	floatVar := func(name string, dst *float64) {
		if v := os.Getenv(name); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	intVar := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	if v := os.Getenv("RUMORSIM_NAME"); v != "" {
		config.Simulation.Name = v
	}
	floatVar("RUMORSIM_POPULATION_DENSITY", &config.Simulation.PopulationDensity)
	floatVar("RUMORSIM_S1", &config.Simulation.S1)
	floatVar("RUMORSIM_S2", &config.Simulation.S2)
	floatVar("RUMORSIM_S3", &config.Simulation.S3)
	floatVar("RUMORSIM_S4", &config.Simulation.S4)
	intVar("RUMORSIM_L_GENERATION", &config.Simulation.LGeneration)
	intVar("RUMORSIM_MAX_GENERATIONS", &config.Simulation.MaxGenerations)

	if v := os.Getenv("RUMORSIM_MODE"); v != "" {
		config.Simulation.Mode = Mode(strings.ToLower(v))
	}
	if v := os.Getenv("RUMORSIM_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Simulation.Seed = n
		}
	}

	if v := os.Getenv("RUMORSIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("RUMORSIM_DB"); v != "" {
		config.Storage.Path = v
	}
	intVar("RUMORSIM_API_PORT", &config.API.Port)
	if v := os.Getenv("RUMORSIM_ADMIN_KEY"); v != "" {
		config.API.AdminKey = v
	}
	if v := os.Getenv("RANDOM_ORG_API_KEY"); v != "" {
		config.Entropy.RandomOrgKey = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}

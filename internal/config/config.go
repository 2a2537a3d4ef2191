package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/abramin/flowseq/internal/sequence"
)

// FileName is the configuration file looked up in the working directory.
const FileName = "flowseq.yaml"

// Config represents the flowseq configuration.
type Config struct {
	Exclude       ExcludeConfig   `yaml:"exclude"`
	Sequence      SequenceConfig  `yaml:"sequence"`
	Filters       FiltersConfig   `yaml:"filters"`
	NoisePackages []string        `yaml:"noise_packages"`
	Server        ServerConfig    `yaml:"server"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

// ExcludeConfig defines patterns to exclude from indexing.
type ExcludeConfig struct {
	Dirs      []string `yaml:"dirs"`
	FilesGlob []string `yaml:"files_glob"`
}

// SequenceConfig holds the default build parameters of new sessions.
// Pointer fields distinguish "not set" from false in the file.
type SequenceConfig struct {
	MaxDepth          int   `yaml:"max_depth"`
	IncludeUnresolved *bool `yaml:"include_unresolved"`
	CoalesceRepeats   *bool `yaml:"coalesce_repeats"`
}

// FiltersConfig lists the exclusions every new session starts with.
type FiltersConfig struct {
	ExcludeTypes   []string     `yaml:"exclude_types"`
	ExcludeMethods []MethodRule `yaml:"exclude_methods"`
}

// MethodRule excludes one method. Omit params to exclude all overloads;
// "params: []" excludes only the parameterless one.
type MethodRule struct {
	Type   string   `yaml:"type"`
	Method string   `yaml:"method"`
	Params []string `yaml:"params"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// TelemetryConfig selects the trace and metric exporters.
type TelemetryConfig struct {
	// TraceExporter is "stdout" or "none".
	TraceExporter string `yaml:"trace_exporter"`
	// MetricExporter is "prometheus" or "none".
	MetricExporter string `yaml:"metric_exporter"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Exclude: ExcludeConfig{
			Dirs:      []string{"vendor", "third_party", "testdata"},
			FilesGlob: []string{"**/*.pb.go", "**/*_gen.go", "**/*_mock.go"},
		},
		Sequence: SequenceConfig{
			MaxDepth:          sequence.DefaultMaxDepth,
			IncludeUnresolved: boolPtr(false),
			CoalesceRepeats:   boolPtr(false),
		},
		NoisePackages: []string{
			"log",
			"log/slog",
			"go.uber.org/zap",
			"go.uber.org/zap/*",
			"github.com/sirupsen/logrus",
			"github.com/rs/zerolog",
			"github.com/rs/zerolog/*",
			"github.com/prometheus/client_golang/*",
			"go.opentelemetry.io/otel/*",
		},
		Server: ServerConfig{Port: 8080},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
		},
	}
}

func boolPtr(b bool) *bool { return &b }

// Load reads configuration from file, falling back to defaults.
// If configPath is empty, it looks for flowseq.yaml in the current directory.
// Values set in the file replace the defaults field by field.
func Load(configPath string) (*Config, error) {
	defaults := Default()

	if configPath == "" {
		configPath = FileName
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults, nil
		}
		return nil, err
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configPath, err)
	}

	defaults.Merge(&fileCfg)
	if _, err := defaults.FilterRules(); err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}
	return defaults, nil
}

// LoadFromDir loads configuration from the specified directory.
func LoadFromDir(dir string) (*Config, error) {
	return Load(filepath.Join(dir, FileName))
}

// Merge combines another config into this one, with other taking precedence.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if len(other.Exclude.Dirs) > 0 {
		c.Exclude.Dirs = other.Exclude.Dirs
	}
	if len(other.Exclude.FilesGlob) > 0 {
		c.Exclude.FilesGlob = other.Exclude.FilesGlob
	}
	if other.Sequence.MaxDepth > 0 {
		c.Sequence.MaxDepth = other.Sequence.MaxDepth
	}
	if other.Sequence.IncludeUnresolved != nil {
		c.Sequence.IncludeUnresolved = other.Sequence.IncludeUnresolved
	}
	if other.Sequence.CoalesceRepeats != nil {
		c.Sequence.CoalesceRepeats = other.Sequence.CoalesceRepeats
	}
	if len(other.Filters.ExcludeTypes) > 0 {
		c.Filters.ExcludeTypes = other.Filters.ExcludeTypes
	}
	if len(other.Filters.ExcludeMethods) > 0 {
		c.Filters.ExcludeMethods = other.Filters.ExcludeMethods
	}
	if len(other.NoisePackages) > 0 {
		c.NoisePackages = other.NoisePackages
	}
	if other.Server.Port > 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Telemetry.TraceExporter != "" {
		c.Telemetry.TraceExporter = other.Telemetry.TraceExporter
	}
	if other.Telemetry.MetricExporter != "" {
		c.Telemetry.MetricExporter = other.Telemetry.MetricExporter
	}
}

// IsExcludedDir checks if a directory should be excluded from indexing.
func (c *Config) IsExcludedDir(dir string) bool {
	base := filepath.Base(dir)
	for _, excluded := range c.Exclude.Dirs {
		if base == excluded {
			return true
		}
	}
	return false
}

// IsNoisePackage checks if a package should be considered noise.
func (c *Config) IsNoisePackage(pkgPath string) bool {
	for _, noise := range c.NoisePackages {
		matched, err := filepath.Match(noise, pkgPath)
		if err == nil && matched {
			return true
		}
		if prefix, ok := strings.CutSuffix(noise, "*"); ok && strings.HasPrefix(pkgPath, prefix) {
			return true
		}
	}
	return false
}

// Params returns the build parameters for new sessions.
func (c *Config) Params() sequence.Params {
	p := sequence.DefaultParams()
	if c.Sequence.MaxDepth > 0 {
		p.MaxDepth = c.Sequence.MaxDepth
	}
	if c.Sequence.IncludeUnresolved != nil {
		p.IncludeUnresolved = *c.Sequence.IncludeUnresolved
	}
	if c.Sequence.CoalesceRepeats != nil {
		p.CoalesceRepeats = *c.Sequence.CoalesceRepeats
	}
	return p
}

// FilterRules returns the rules every new session starts with: noise
// packages first, then the configured type and method exclusions.
//
// Owners of package-level functions are named by their package path and
// methods by "path.Type", so a noise package "log" hides both "log" and
// "log.*". A trailing "*" already covers both.
func (c *Config) FilterRules() ([]sequence.Rule, error) {
	var rules []sequence.Rule
	for _, noise := range c.NoisePackages {
		rules = append(rules, sequence.ExcludeType(noise))
		if !strings.HasSuffix(noise, "*") {
			rules = append(rules, sequence.ExcludeType(noise+".*"))
		}
	}
	for _, typ := range c.Filters.ExcludeTypes {
		rules = append(rules, sequence.ExcludeType(typ))
	}
	for _, m := range c.Filters.ExcludeMethods {
		rules = append(rules, sequence.ExcludeMethod(m.Type, m.Method, m.Params))
	}

	for i, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("filter rule %d (%s): %w", i, r, err)
		}
	}
	return rules, nil
}

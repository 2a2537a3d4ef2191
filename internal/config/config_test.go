package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/abramin/flowseq/internal/sequence"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if len(cfg.Exclude.Dirs) == 0 {
		t.Error("expected default excluded dirs")
	}
	if len(cfg.NoisePackages) == 0 {
		t.Error("expected default noise packages")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}

	p := cfg.Params()
	if p != sequence.DefaultParams() {
		t.Errorf("expected default params, got %+v", p)
	}
}

func TestLoadNonExistent(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("expected no error for nonexistent file, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected default config")
	}
	if len(cfg.Exclude.Dirs) == 0 {
		t.Error("expected default excluded dirs")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return tmpDir
}

func TestLoadFromFile(t *testing.T) {
	dir := writeConfig(t, `
exclude:
  dirs:
    - vendor
    - custom_exclude

sequence:
  max_depth: 8
  include_unresolved: true

filters:
  exclude_types:
    - "example.com/shop.Ledger"
  exclude_methods:
    - type: "example.com/shop.Payment"
      method: "charge"
      params: ["int", "string"]
    - type: "example.com/shop.Order"
      method: "String"

noise_packages:
  - "custom/logger"

server:
  port: 9090

telemetry:
  trace_exporter: stdout
`)

	cfg, err := LoadFromDir(dir)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if len(cfg.Exclude.Dirs) != 2 {
		t.Errorf("expected 2 excluded dirs, got %d", len(cfg.Exclude.Dirs))
	}
	if cfg.Exclude.Dirs[1] != "custom_exclude" {
		t.Errorf("expected custom_exclude, got %s", cfg.Exclude.Dirs[1])
	}
	if len(cfg.Exclude.FilesGlob) == 0 {
		t.Error("expected default files_glob to survive")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Telemetry.TraceExporter != "stdout" || cfg.Telemetry.MetricExporter != "prometheus" {
		t.Errorf("unexpected telemetry config %+v", cfg.Telemetry)
	}

	p := cfg.Params()
	if p.MaxDepth != 8 || !p.IncludeUnresolved || p.CoalesceRepeats {
		t.Errorf("unexpected params %+v", p)
	}

	rules, err := cfg.FilterRules()
	if err != nil {
		t.Fatalf("FilterRules: %v", err)
	}
	// custom/logger and custom/logger.*, one type, two methods
	if len(rules) != 5 {
		t.Fatalf("expected 5 rules, got %d: %v", len(rules), rules)
	}
	if rules[3].ParamTypes == nil || len(rules[3].ParamTypes) != 2 {
		t.Errorf("expected overload-scoped rule, got %v", rules[3])
	}
	if rules[4].ParamTypes != nil {
		t.Errorf("expected all-overloads rule, got %v", rules[4])
	}
}

func TestLoadRejectsMalformedFilter(t *testing.T) {
	dir := writeConfig(t, `
filters:
  exclude_methods:
    - type: "example.com/shop.Payment"
`)

	_, err := LoadFromDir(dir)
	if !errors.Is(err, sequence.ErrMalformedFilterRule) {
		t.Fatalf("expected ErrMalformedFilterRule, got %v", err)
	}
}

func TestFilterRulesHideNoise(t *testing.T) {
	cfg := Default()
	rules, err := cfg.FilterRules()
	if err != nil {
		t.Fatal(err)
	}
	fc, err := sequence.NewFilterChain(rules...)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		owner   string
		allowed bool
	}{
		{"log", false},
		{"log.Logger", false},
		{"log/slog.Logger", false},
		{"go.uber.org/zap/zapcore.Core", false},
		{"go.uber.org/zap.Logger", false},
		{"logger.Sink", true},
		{"example.com/shop.Order", true},
	}

	for _, tt := range tests {
		md := sequence.NewMethodDescriptor(tt.owner, "Do")
		if got := fc.IsAllowed(md); got != tt.allowed {
			t.Errorf("IsAllowed(%s) = %v, want %v", md, got, tt.allowed)
		}
	}
}

func TestIsExcludedDir(t *testing.T) {
	cfg := Default()

	tests := []struct {
		dir      string
		excluded bool
	}{
		{"vendor", true},
		{"/path/to/vendor", true},
		{"third_party", true},
		{"src", false},
		{"internal", false},
	}

	for _, tt := range tests {
		got := cfg.IsExcludedDir(tt.dir)
		if got != tt.excluded {
			t.Errorf("IsExcludedDir(%q) = %v, want %v", tt.dir, got, tt.excluded)
		}
	}
}

func TestIsNoisePackage(t *testing.T) {
	cfg := Default()

	tests := []struct {
		pkg   string
		noise bool
	}{
		{"log/slog", true},
		{"go.uber.org/zap", true},
		{"go.uber.org/zap/zapcore", true},
		{"github.com/prometheus/client_golang/prometheus", true},
		{"net/http", false},
		{"myapp/service", false},
	}

	for _, tt := range tests {
		got := cfg.IsNoisePackage(tt.pkg)
		if got != tt.noise {
			t.Errorf("IsNoisePackage(%q) = %v, want %v", tt.pkg, got, tt.noise)
		}
	}
}

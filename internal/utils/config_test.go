package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewConfigLoader(t *testing.T) {
	loader := NewConfigLoader()
	if loader == nil {
		t.Fatal("NewConfigLoader() returned nil")
	}
	if loader.v == nil {
		t.Fatal("ConfigLoader.v is nil")
	}
}

func TestConfigLoader_LoadDefaults(t *testing.T) {
	loader := NewConfigLoader()
	config, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Test default values
	if config.LogLevel != "info" {
		t.Errorf("Expected default log_level=info, got: %s", config.LogLevel)
	}
	if config.LogFormat != "text" {
		t.Errorf("Expected default log_format=text, got: %s", config.LogFormat)
	}
	if config.OutputDir != "./output" {
		t.Errorf("Expected default output_dir=./output, got: %s", config.OutputDir)
	}
	if config.Scan.Workers < 1 {
		t.Errorf("Expected default scan.workers >= 1, got: %d", config.Scan.Workers)
	}
	if config.Scan.SkipUnknown {
		t.Error("Expected default scan.skip_unknown=false")
	}
	if config.SBOM.DefaultFormat != "cyclonedx" {
		t.Errorf("Expected default sbom.default_format=cyclonedx, got: %s", config.SBOM.DefaultFormat)
	}
	if !config.SBOM.Validate {
		t.Error("Expected default sbom.validate=true")
	}
}

func TestConfigLoader_LoadFromFile(t *testing.T) {
	// Create a temporary config file
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "config.yaml")

	configContent := `
log_level: debug
log_format: json
output_dir: /tmp/test-output
scan:
  workers: 2
  skip_unknown: true
sbom:
  default_format: spdx
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	// Change to temp directory so config file is found
	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd)
	os.Chdir(tempDir)

	loader := NewConfigLoader()
	config, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Test loaded values
	if config.LogLevel != "debug" {
		t.Errorf("Expected log_level=debug, got: %s", config.LogLevel)
	}
	if config.LogFormat != "json" {
		t.Errorf("Expected log_format=json, got: %s", config.LogFormat)
	}
	if config.Scan.Workers != 2 {
		t.Errorf("Expected scan.workers=2, got: %d", config.Scan.Workers)
	}
	if !config.Scan.SkipUnknown {
		t.Error("Expected scan.skip_unknown=true")
	}
	if config.SBOM.DefaultFormat != "spdx" {
		t.Errorf("Expected sbom.default_format=spdx, got: %s", config.SBOM.DefaultFormat)
	}
}

func TestConfigLoader_LoadFromEnv(t *testing.T) {
	// Set environment variables
	os.Setenv("HEIMDALL_LOG_LEVEL", "error")
	os.Setenv("HEIMDALL_LOG_FORMAT", "json")
	os.Setenv("SCAN_WORKERS", "4")
	defer func() {
		os.Unsetenv("HEIMDALL_LOG_LEVEL")
		os.Unsetenv("HEIMDALL_LOG_FORMAT")
		os.Unsetenv("SCAN_WORKERS")
	}()

	loader := NewConfigLoader()
	config, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Test environment variable values
	if config.LogLevel != "error" {
		t.Errorf("Expected log_level=error from env, got: %s", config.LogLevel)
	}
	if config.LogFormat != "json" {
		t.Errorf("Expected log_format=json from env, got: %s", config.LogFormat)
	}
	if config.Scan.Workers != 4 {
		t.Errorf("Expected scan.workers=4 from env, got: %d", config.Scan.Workers)
	}
}

func TestConfigLoader_LoadWithOverrides(t *testing.T) {
	loader := NewConfigLoader()

	overrides := map[string]interface{}{
		"log_level":           "warn",
		"log_format":          "json",
		"sbom.default_format": "spdx",
	}

	config, err := loader.LoadWithOverrides(overrides)
	if err != nil {
		t.Fatalf("LoadWithOverrides() error = %v", err)
	}

	// Test override values
	if config.LogLevel != "warn" {
		t.Errorf("Expected log_level=warn from override, got: %s", config.LogLevel)
	}
	if config.LogFormat != "json" {
		t.Errorf("Expected log_format=json from override, got: %s", config.LogFormat)
	}
	if config.SBOM.DefaultFormat != "spdx" {
		t.Errorf("Expected sbom.default_format=spdx from override, got: %s", config.SBOM.DefaultFormat)
	}
}

func TestConfigValidation_InvalidLogLevel(t *testing.T) {
	loader := NewConfigLoader()

	overrides := map[string]interface{}{
		"log_level": "invalid",
	}

	_, err := loader.LoadWithOverrides(overrides)
	if err == nil {
		t.Error("Expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "invalid log level") {
		t.Errorf("Expected error message to contain 'invalid log level', got: %s", err.Error())
	}
}

func TestConfigValidation_InvalidLogFormat(t *testing.T) {
	loader := NewConfigLoader()

	overrides := map[string]interface{}{
		"log_format": "invalid",
	}

	_, err := loader.LoadWithOverrides(overrides)
	if err == nil {
		t.Error("Expected error for invalid log_format, got nil")
	}
}

func TestConfigValidation_InvalidSBOMFormat(t *testing.T) {
	loader := NewConfigLoader()

	overrides := map[string]interface{}{
		"sbom.default_format": "invalid",
	}

	_, err := loader.LoadWithOverrides(overrides)
	if err == nil {
		t.Error("Expected error for invalid sbom format, got nil")
	}
}

func TestConfigValidation_InvalidWorkerCount(t *testing.T) {
	loader := NewConfigLoader()

	overrides := map[string]interface{}{
		"scan.workers": -1,
	}

	_, err := loader.LoadWithOverrides(overrides)
	if err == nil {
		t.Error("Expected error for negative scan.workers, got nil")
	}
}

func TestContains(t *testing.T) {
	slice := []string{"a", "b", "c"}

	tests := []struct {
		item string
		want bool
	}{
		{"a", true},
		{"b", true},
		{"c", true},
		{"d", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.item, func(t *testing.T) {
			got := contains(slice, tt.item)
			if got != tt.want {
				t.Errorf("contains() = %v, want %v", got, tt.want)
			}
		})
	}
}

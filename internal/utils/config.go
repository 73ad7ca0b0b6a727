package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	// Top-level configuration for compatibility with tests
	LogLevel  string `yaml:"log_level" mapstructure:"log_level" env:"HEIMDALL_LOG_LEVEL"`
	LogFormat string `yaml:"log_format" mapstructure:"log_format" env:"HEIMDALL_LOG_FORMAT"`
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir" env:"HEIMDALL_OUTPUT_DIR"`

	// Logging configuration
	Log LoggerConfig `yaml:"log" mapstructure:"log"`

	// Binary scanning configuration
	Scan ScanConfig `yaml:"scan" mapstructure:"scan"`

	// SBOM generator configuration
	SBOM SBOMConfig `yaml:"sbom" mapstructure:"sbom"`
}

// ScanConfig holds binary extraction configuration
type ScanConfig struct {
	Workers     int  `yaml:"workers" mapstructure:"workers" env:"SCAN_WORKERS"`
	SkipUnknown bool `yaml:"skip_unknown" mapstructure:"skip_unknown" env:"SCAN_SKIP_UNKNOWN"`
}

// SBOMConfig holds SBOM generation configuration
type SBOMConfig struct {
	DefaultFormat string `yaml:"default_format" mapstructure:"default_format" env:"SBOM_DEFAULT_FORMAT"`
	OutputDir     string `yaml:"output_dir" mapstructure:"output_dir" env:"SBOM_OUTPUT_DIR"`
	Validate      bool   `yaml:"validate" mapstructure:"validate" env:"SBOM_VALIDATE"`
}

// ConfigManager handles configuration loading and management
type ConfigManager struct {
	config *Config
	viper  *viper.Viper
	logger *Logger
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config: &Config{},
		viper:  viper.New(),
		logger: NewDefaultLogger(),
	}
}

// LoadConfig loads configuration from file and environment variables
func (c *ConfigManager) LoadConfig(configFile string) error {
	// Set defaults
	c.setDefaults()

	// Configure viper
	c.viper.SetConfigType("yaml")
	c.viper.AutomaticEnv()
	c.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Load from file if specified
	if configFile != "" {
		c.viper.SetConfigFile(configFile)
		if err := c.viper.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("failed to read config file: %w", err)
			}
			c.logger.WithComponent("config").Warnf("Config file not found: %s", configFile)
		} else {
			c.logger.WithComponent("config").Infof("Loaded config from: %s", c.viper.ConfigFileUsed())
		}
	} else {
		// Look for config in standard locations
		c.viper.SetConfigName("config")
		c.viper.AddConfigPath(".")
		c.viper.AddConfigPath("$HOME/.heimdall-sbom")
		c.viper.AddConfigPath("/etc/heimdall-sbom")

		if err := c.viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("failed to read config file: %w", err)
			}
			c.logger.WithComponent("config").Debug("No config file found, using defaults and environment variables")
		} else {
			c.logger.WithComponent("config").Infof("Loaded config from: %s", c.viper.ConfigFileUsed())
		}
	}

	// Unmarshal into config struct
	if err := c.viper.Unmarshal(c.config); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load environment variables
	if err := c.loadFromEnv(); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Validate configuration
	if err := c.validateConfig(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	c.logger.WithComponent("config").Debug("Configuration loaded successfully")
	return nil
}

// setDefaults sets default configuration values
func (c *ConfigManager) setDefaults() {
	// Top-level defaults for compatibility with tests
	c.viper.SetDefault("log_level", "info")
	c.viper.SetDefault("log_format", "text")
	c.viper.SetDefault("output_dir", "./output")

	// Logging defaults
	c.viper.SetDefault("log.level", "info")
	c.viper.SetDefault("log.format", "text")

	// Scan defaults
	c.viper.SetDefault("scan.workers", runtime.NumCPU())
	c.viper.SetDefault("scan.skip_unknown", false)

	// SBOM defaults
	c.viper.SetDefault("sbom.default_format", "cyclonedx")
	c.viper.SetDefault("sbom.validate", true)
}

// loadFromEnv loads configuration from environment variables using struct tags
func (c *ConfigManager) loadFromEnv() error {
	return c.loadEnvForStruct(reflect.ValueOf(c.config).Elem(), "")
}

// loadEnvForStruct recursively loads environment variables for a struct
func (c *ConfigManager) loadEnvForStruct(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// Skip unexported fields
		if !field.CanSet() {
			continue
		}

		// Get env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" && field.Kind() != reflect.Struct {
			continue
		}

		// Handle nested structs
		if field.Kind() == reflect.Struct {
			newPrefix := prefix
			if prefix != "" {
				newPrefix += "_"
			}
			newPrefix += strings.ToUpper(fieldType.Name)

			if err := c.loadEnvForStruct(field, newPrefix); err != nil {
				return err
			}
			continue
		}

		// Load environment variable
		if envTag != "" {
			envValue := os.Getenv(envTag)
			if envValue != "" {
				if err := c.setFieldFromString(field, envValue); err != nil {
					return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, envTag, err)
				}
			}
		}
	}

	return nil
}

// setFieldFromString sets a field value from a string
func (c *ConfigManager) setFieldFromString(field reflect.Value, value string) error {
	// Handle time.Duration first (before int64 case)
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value: %s", value)
		}
		field.Set(reflect.ValueOf(duration))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value: %s", value)
		}
		field.SetBool(boolVal)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intVal, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value: %s", value)
		}
		field.SetInt(intVal)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		uintVal, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid unsigned integer value: %s", value)
		}
		field.SetUint(uintVal)
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value: %s", value)
		}
		field.SetFloat(floatVal)
	case reflect.Slice:
		// Handle string slices (comma-separated values)
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(value, ",")
			for i, v := range values {
				values[i] = strings.TrimSpace(v)
			}
			field.Set(reflect.ValueOf(values))
		}
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// validateConfig validates the loaded configuration
func (c *ConfigManager) validateConfig() error {
	// Validate top-level log level (for test compatibility)
	if c.config.LogLevel != "" {
		validLogLevels := []string{"debug", "info", "warn", "error"}
		if !contains(validLogLevels, strings.ToLower(c.config.LogLevel)) {
			return fmt.Errorf("invalid log level: %s (valid: %v)", c.config.LogLevel, validLogLevels)
		}
	}

	// Validate nested log level
	if c.config.Log.Level != "" {
		validLogLevels := []string{"debug", "info", "warn", "error"}
		if !contains(validLogLevels, strings.ToLower(string(c.config.Log.Level))) {
			return fmt.Errorf("invalid log level: %s (valid: %v)", c.config.Log.Level, validLogLevels)
		}
	}

	// Validate top-level log format (for test compatibility)
	if c.config.LogFormat != "" {
		validLogFormats := []string{"text", "json"}
		if !contains(validLogFormats, strings.ToLower(c.config.LogFormat)) {
			return fmt.Errorf("invalid log format: %s (valid: %v)", c.config.LogFormat, validLogFormats)
		}
	}

	// Validate nested log format
	if c.config.Log.Format != "" {
		validLogFormats := []string{"text", "json"}
		if !contains(validLogFormats, strings.ToLower(string(c.config.Log.Format))) {
			return fmt.Errorf("invalid log format: %s (valid: %v)", c.config.Log.Format, validLogFormats)
		}
	}

	// Validate worker count
	if c.config.Scan.Workers < 0 {
		return fmt.Errorf("invalid worker count: %d (must be >= 0)", c.config.Scan.Workers)
	}

	// Validate SBOM format
	validSBOMFormats := []string{"cyclonedx", "spdx"}
	if c.config.SBOM.DefaultFormat != "" && !contains(validSBOMFormats, strings.ToLower(c.config.SBOM.DefaultFormat)) {
		return fmt.Errorf("invalid SBOM format: %s (valid: %v)", c.config.SBOM.DefaultFormat, validSBOMFormats)
	}

	// Expand paths
	if err := c.expandPaths(); err != nil {
		return fmt.Errorf("failed to expand paths: %w", err)
	}

	return nil
}

// expandPaths expands relative paths and environment variables in path fields
func (c *ConfigManager) expandPaths() error {
	// Expand SBOM output directory
	if c.config.SBOM.OutputDir != "" {
		expanded, err := c.expandPath(c.config.SBOM.OutputDir)
		if err != nil {
			return fmt.Errorf("failed to expand SBOM output dir: %w", err)
		}
		c.config.SBOM.OutputDir = expanded
	}

	return nil
}

// expandPath expands a path with environment variables and home directory
func (c *ConfigManager) expandPath(path string) (string, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(path)

	// Expand home directory
	if strings.HasPrefix(expanded, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		expanded = filepath.Join(homeDir, expanded[2:])
	}

	// Convert to absolute path
	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	return absPath, nil
}

// GetConfig returns the loaded configuration
func (c *ConfigManager) GetConfig() *Config {
	return c.config
}

// SaveConfig saves the current configuration to a file
func (c *ConfigManager) SaveConfig(filename string) error {
	return c.viper.WriteConfigAs(filename)
}

// SetLogger sets the logger for the config manager
func (c *ConfigManager) SetLogger(logger *Logger) {
	c.logger = logger
}

// GetConfigValue gets a configuration value by key
func (c *ConfigManager) GetConfigValue(key string) interface{} {
	return c.viper.Get(key)
}

// SetConfigValue sets a configuration value by key
func (c *ConfigManager) SetConfigValue(key string, value interface{}) {
	c.viper.Set(key, value)
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// LoadDefaultConfig loads a default configuration
func LoadDefaultConfig() (*Config, error) {
	manager := NewConfigManager()
	if err := manager.LoadConfig(""); err != nil {
		return nil, err
	}
	return manager.GetConfig(), nil
}

// LoadConfigFromFile loads configuration from a specific file
func LoadConfigFromFile(filename string) (*Config, error) {
	manager := NewConfigManager()
	if err := manager.LoadConfig(filename); err != nil {
		return nil, err
	}
	return manager.GetConfig(), nil
}

// ConfigLoader provides a simpler interface for loading configuration
type ConfigLoader struct {
	v *viper.Viper
}

// NewConfigLoader creates a new config loader
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{
		v: viper.New(),
	}
}

// Load loads the default configuration
func (cl *ConfigLoader) Load() (*Config, error) {
	manager := NewConfigManager()
	if err := manager.LoadConfig(""); err != nil {
		return nil, err
	}
	return manager.GetConfig(), nil
}

// LoadWithOverrides loads configuration with the provided overrides
func (cl *ConfigLoader) LoadWithOverrides(overrides map[string]interface{}) (*Config, error) {
	manager := NewConfigManager()

	// Set defaults first
	manager.setDefaults()

	// Apply overrides to viper (after defaults)
	for key, value := range overrides {
		manager.viper.Set(key, value)
	}

	// Load configuration (without file)
	manager.viper.AutomaticEnv()
	manager.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Unmarshal into config struct
	if err := manager.viper.Unmarshal(manager.config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load environment variables
	if err := manager.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Validate configuration
	if err := manager.validateConfig(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return manager.GetConfig(), nil
}

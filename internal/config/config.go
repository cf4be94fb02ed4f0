// Package config provides configuration management for the receiptscan
// application.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/docuflow/receiptscan/internal/cascade"
	"github.com/docuflow/receiptscan/internal/engine"
	"github.com/docuflow/receiptscan/internal/preprocess"
)

// Config holds all configuration settings for the receiptscan application.
// Configuration precedence: CLI flags > Environment variables > Config file > Defaults
type Config struct {
	// Language is the recognition language spec (e.g. "kor", "kor+eng")
	Language string

	// Engines is the cascade order; entries are engine identifiers
	// (tesseract, ollama, openai, anthropic, gemini)
	Engines []string

	// StopEarly stops the cascade at the first sufficient result
	StopEarly bool

	// RequestTimeout bounds a single scan across all engines
	RequestTimeout time.Duration

	// LogLevel controls logging verbosity (debug, info, warn, error)
	LogLevel string

	// LogFormat selects the log encoder: console or json
	LogFormat string

	// StorePath is the bbolt database file holding scan results
	StorePath string

	// CacheEnabled answers duplicate images from the result store
	// instead of re-running the cascade
	CacheEnabled bool

	// Preprocess controls the image preparation pipeline
	Preprocess preprocess.Config

	// Evaluator controls confidence scoring and escalation
	Evaluator cascade.EvaluatorConfig

	// Engine holds per-engine connection settings
	Engine EngineConfig

	// Batch holds batch-run settings
	Batch BatchConfig
}

// EngineConfig holds connection settings shared by the recognition engines.
type EngineConfig struct {
	// Endpoint is the API endpoint (primarily for Ollama)
	Endpoint string

	// Model overrides the default vision model for the active engine
	// (empty means each engine uses its own default)
	Model string

	// APIKey is the credential for cloud engines. Populated from:
	// 1. macOS Keychain (if UseKeychain is true)
	// 2. Environment variables:
	//    - OPENAI_API_KEY for OpenAI
	//    - ANTHROPIC_API_KEY for Anthropic
	//    - GOOGLE_API_KEY or GOOGLE_APPLICATION_CREDENTIALS for Gemini
	APIKey string

	// MaxRetries is the maximum number of retry attempts for API calls
	MaxRetries int

	// Temperature controls randomness (0.0 = deterministic, recommended for OCR)
	Temperature float64

	// Timeout is the per-call HTTP timeout
	Timeout time.Duration

	// UseKeychain enables macOS Keychain lookup for API keys (macOS only)
	UseKeychain bool

	// KeychainServicePrefix is the prefix for keychain service names.
	// Service names will be: {prefix}-{engine} (e.g., "receiptscan-openai")
	KeychainServicePrefix string
}

// BatchConfig holds batch-run settings.
type BatchConfig struct {
	// MaxConcurrentTasks caps in-flight scans per batch
	MaxConcurrentTasks int

	// Timeout bounds a whole batch run
	Timeout time.Duration
}

// Load reads configuration from multiple sources and returns a Config instance.
// Sources are checked in this order: CLI flags > env vars > config file > defaults
func Load(configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		// Look for config in home directory
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
			v.SetConfigName(".receiptscan")
			v.SetConfigType("yaml")
		}
	}

	// Read config file if it exists (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK - we'll use env vars and defaults
	}

	v.SetEnvPrefix("RECEIPTSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	config := &Config{
		Language:       v.GetString("language"),
		Engines:        v.GetStringSlice("engines"),
		StopEarly:      v.GetBool("stop-early"),
		RequestTimeout: v.GetDuration("request-timeout"),
		LogLevel:       v.GetString("log-level"),
		LogFormat:      v.GetString("log-format"),
		StorePath:      v.GetString("store-path"),
		CacheEnabled:   v.GetBool("cache-enabled"),
		Preprocess:     preprocess.DefaultConfig(),
		Evaluator:      cascade.DefaultEvaluatorConfig(),
		Engine: EngineConfig{
			Endpoint:              v.GetString("engine-endpoint"),
			Model:                 v.GetString("engine-model"),
			MaxRetries:            v.GetInt("engine-max-retries"),
			Temperature:           v.GetFloat64("engine-temperature"),
			Timeout:               v.GetDuration("engine-timeout"),
			UseKeychain:           v.GetBool("engine-use-keychain"),
			KeychainServicePrefix: v.GetString("engine-keychain-service-prefix"),
		},
		Batch: BatchConfig{
			MaxConcurrentTasks: v.GetInt("batch-max-concurrent"),
			Timeout:            v.GetDuration("batch-timeout"),
		},
	}

	// Nested stage configuration comes from the config file only; the
	// structs carry mapstructure tags and overlay their defaults.
	if err := v.UnmarshalKey("preprocess", &config.Preprocess); err != nil {
		return nil, fmt.Errorf("invalid preprocess configuration: %w", err)
	}
	if err := v.UnmarshalKey("evaluator", &config.Evaluator); err != nil {
		return nil, fmt.Errorf("invalid evaluator configuration: %w", err)
	}

	// Load the API key for the first cloud engine in the cascade, from
	// keychain or environment variables.
	if cloud := firstCloudEngine(config.Engines); cloud != "" {
		config.Engine.APIKey = loadAPIKeyForEngine(cloud, config.Engine.UseKeychain, config.Engine.KeychainServicePrefix)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	defaultStorePath := filepath.Join(home, ".receiptscan", "results.db")

	v.SetDefault("language", "kor+eng")
	v.SetDefault("engines", []string{engine.IDTesseract, engine.IDOllama})
	v.SetDefault("stop-early", true)
	v.SetDefault("request-timeout", 2*time.Minute)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "console")
	v.SetDefault("store-path", defaultStorePath)
	v.SetDefault("cache-enabled", true)

	v.SetDefault("engine-endpoint", engine.DefaultOllamaEndpoint)
	v.SetDefault("engine-model", "")
	v.SetDefault("engine-max-retries", 3)
	v.SetDefault("engine-temperature", 0.0)
	v.SetDefault("engine-timeout", 5*time.Minute)
	v.SetDefault("engine-use-keychain", false)
	v.SetDefault("engine-keychain-service-prefix", "receiptscan")

	v.SetDefault("batch-max-concurrent", 4)
	v.SetDefault("batch-timeout", 60*time.Second)
}

// Validate checks that the configuration is valid and internally consistent
func (c *Config) Validate() error {
	if c.Language == "" {
		return fmt.Errorf("language cannot be empty")
	}

	if len(c.Engines) == 0 {
		return fmt.Errorf("engines cannot be empty")
	}
	for i, id := range c.Engines {
		c.Engines[i] = strings.ToLower(id)
		switch c.Engines[i] {
		case engine.IDTesseract, engine.IDOllama, engine.IDOpenAI, engine.IDAnthropic, engine.IDGemini:
		default:
			return fmt.Errorf("invalid engine %q, must be one of: tesseract, ollama, openai, anthropic, gemini", id)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log-level %q, must be one of: debug, info, warn, error", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log-format %q, must be console or json", c.LogFormat)
	}

	if c.StorePath == "" {
		return fmt.Errorf("store-path cannot be empty")
	}
	if strings.HasPrefix(c.StorePath, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to expand home directory in store-path: %w", err)
		}
		c.StorePath = filepath.Join(home, c.StorePath[2:])
	}
	storeDir := filepath.Dir(c.StorePath)
	if err := os.MkdirAll(storeDir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory %s: %w", storeDir, err)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request-timeout must be positive, got %s", c.RequestTimeout)
	}

	if err := c.Preprocess.Validate(); err != nil {
		return fmt.Errorf("invalid preprocess configuration: %w", err)
	}

	if c.Evaluator.SufficiencyThreshold < 0 || c.Evaluator.SufficiencyThreshold > 1 {
		return fmt.Errorf("sufficiency threshold must be between 0.0 and 1.0, got %f", c.Evaluator.SufficiencyThreshold)
	}

	if err := c.validateEngineConfig(); err != nil {
		return fmt.Errorf("invalid engine configuration: %w", err)
	}

	if c.Batch.MaxConcurrentTasks < 1 {
		return fmt.Errorf("batch-max-concurrent must be at least 1, got %d", c.Batch.MaxConcurrentTasks)
	}
	if c.Batch.Timeout <= 0 {
		return fmt.Errorf("batch-timeout must be positive, got %s", c.Batch.Timeout)
	}

	return nil
}

// validateEngineConfig validates the engine connection settings against
// the configured cascade.
func (c *Config) validateEngineConfig() error {
	if c.hasEngine(engine.IDOllama) && c.Engine.Endpoint == "" {
		return fmt.Errorf("engine-endpoint cannot be empty when ollama is in the cascade")
	}

	if cloud := firstCloudEngine(c.Engines); cloud != "" && c.Engine.APIKey == "" {
		return fmt.Errorf("API key not found for engine %s, check environment variables", cloud)
	}

	if c.Engine.Temperature < 0.0 || c.Engine.Temperature > 2.0 {
		return fmt.Errorf("engine-temperature must be between 0.0 and 2.0, got %f", c.Engine.Temperature)
	}

	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine-max-retries must be non-negative, got %d", c.Engine.MaxRetries)
	}

	return nil
}

// hasEngine reports whether the cascade includes the given engine.
func (c *Config) hasEngine(id string) bool {
	for _, e := range c.Engines {
		if strings.EqualFold(e, id) {
			return true
		}
	}
	return false
}

// firstCloudEngine returns the first cloud engine in the cascade order,
// or "" when the cascade is fully local.
func firstCloudEngine(engines []string) string {
	for _, id := range engines {
		switch strings.ToLower(id) {
		case engine.IDOpenAI, engine.IDAnthropic, engine.IDGemini:
			return strings.ToLower(id)
		}
	}
	return ""
}

// loadAPIKeyForEngine loads the appropriate API key from keychain or environment variables
func loadAPIKeyForEngine(engineID string, useKeychain bool, keychainPrefix string) string {
	// Try keychain first if enabled (macOS only)
	if useKeychain {
		if key := loadFromKeychain(engineID, keychainPrefix); key != "" {
			return key
		}
	}

	switch strings.ToLower(engineID) {
	case engine.IDOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case engine.IDAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case engine.IDGemini:
		// Try GOOGLE_API_KEY first, then GOOGLE_APPLICATION_CREDENTIALS
		if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	default:
		// Local engines don't need API keys
		return ""
	}
}

// loadFromKeychain attempts to retrieve an API key from macOS Keychain.
// Service name format: {prefix}-{engine} (e.g., "receiptscan-openai").
// Returns empty string if not found or on non-macOS platforms.
func loadFromKeychain(engineID, prefix string) string {
	if !isMacOS() {
		return ""
	}

	serviceName := fmt.Sprintf("%s-%s", prefix, strings.ToLower(engineID))

	// security find-generic-password -s "service-name" -w
	cmd := exec.Command("security", "find-generic-password", "-s", serviceName, "-w")
	output, err := cmd.Output()
	if err != nil {
		// Key not found or other error - silently fail and fall back to env vars
		return ""
	}

	return strings.TrimSpace(string(output))
}

// isMacOS checks if the current platform is macOS
func isMacOS() bool {
	return runtime.GOOS == "darwin"
}

// String returns a string representation of the configuration (with sensitive data redacted)
func (c *Config) String() string {
	apiKey := "not set"
	if c.Engine.APIKey != "" {
		if len(c.Engine.APIKey) > 8 {
			apiKey = "***" + c.Engine.APIKey[len(c.Engine.APIKey)-4:]
		} else {
			apiKey = "***"
		}
	}

	return fmt.Sprintf(`Configuration:
  Language: %s
  Engines: %v
  StopEarly: %t
  RequestTimeout: %s
  LogLevel: %s
  LogFormat: %s
  StorePath: %s
  CacheEnabled: %t
  Engine:
    Endpoint: %s
    Model: %s
    APIKey: %s
    MaxRetries: %d
    Temperature: %.2f
    Timeout: %s
    UseKeychain: %t
    KeychainServicePrefix: %s
  Batch:
    MaxConcurrentTasks: %d
    Timeout: %s`,
		c.Language,
		c.Engines,
		c.StopEarly,
		c.RequestTimeout,
		c.LogLevel,
		c.LogFormat,
		c.StorePath,
		c.CacheEnabled,
		c.Engine.Endpoint,
		c.Engine.Model,
		apiKey,
		c.Engine.MaxRetries,
		c.Engine.Temperature,
		c.Engine.Timeout,
		c.Engine.UseKeychain,
		c.Engine.KeychainServicePrefix,
		c.Batch.MaxConcurrentTasks,
		c.Batch.Timeout,
	)
}

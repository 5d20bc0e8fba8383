// Package config loads the single TOML configuration document described in
// spec.md §6 and validates it before the rest of the engine starts.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config is the root configuration document.
type Config struct {
	Workdir                 string `toml:"workdir" validate:"required"`
	MaxTokens               int    `toml:"max_tokens" validate:"gt=0"`
	MaxRounds               int    `toml:"max_rounds" validate:"gt=0"`
	MaxOptimizationAttempts int    `toml:"max_optimization_attempts" validate:"gt=0"`
	DefaultLLMProvider      string `toml:"default_llm_provider" validate:"required"`
	Locale                  string `toml:"locale"`

	LLM          map[string]LLMProvider `toml:"llm"`
	CacheCode    CodeCacheConfig        `toml:"cache_code"`
	Security     SecurityConfig         `toml:"security"`
	Optimization OptimizationConfig     `toml:"optimization"`
}

// LLMProvider configures one named `[llm.<name>]` backend.
type LLMProvider struct {
	Type      string `toml:"type" validate:"required,oneof=anthropic openai groq mock"`
	APIKey    string `toml:"api_key"`
	BaseURL   string `toml:"base_url"`
	Model     string `toml:"model"`
	Timeout   int    `toml:"timeout"`
	MaxTokens int    `toml:"max_tokens"`
	Enable    bool   `toml:"enable"`
	Default   bool   `toml:"default"`
}

// CodeCacheConfig configures the `[cache_code]` table.
type CodeCacheConfig struct {
	Enabled         bool `toml:"enabled"`
	RetainPerType   int  `toml:"retain_per_type"`
	SemanticCluster bool `toml:"semantic_cluster"`
}

// NetworkConfig configures the `[security.network]` table.
type NetworkConfig struct {
	BlockNetworkAccess       bool `toml:"block_network_access"`
	RestrictNetworkAccess    bool `toml:"restrict_network_access"`
	BlockNetworkModules      bool `toml:"block_network_modules"`
	DisableNetworkValidation bool `toml:"disable_network_validation"`
}

// SecurityConfig configures the `[security]` table that drives the sandbox.
type SecurityConfig struct {
	ExecutionTimeout    int           `toml:"execution_timeout" validate:"gt=0"`
	MemoryLimitMB       int           `toml:"memory_limit_mb" validate:"gt=0"`
	CPUTimeLimit        int           `toml:"cpu_time_limit" validate:"gt=0"`
	FileDescriptorLimit int           `toml:"file_descriptor_limit" validate:"gt=0"`
	MaxFileSizeMB       int           `toml:"max_file_size_mb" validate:"gt=0"`
	MaxProcesses        int           `toml:"max_processes" validate:"gt=0"`
	Network             NetworkConfig `toml:"network"`
}

// OptimizationConfig configures the `[optimization]` table.
type OptimizationConfig struct {
	OptimizeTokens bool `toml:"optimize_tokens"`
}

// Default returns a configuration with sane defaults, mirroring the teacher's
// DefaultSandboxConfig/DefaultConfig pattern.
func Default() Config {
	return Config{
		Workdir:                 "aiforge_work",
		MaxTokens:               4096,
		MaxRounds:               3,
		MaxOptimizationAttempts: 3,
		DefaultLLMProvider:      "mock",
		Locale:                  "en",
		LLM: map[string]LLMProvider{
			"mock": {Type: "mock", Enable: true, Default: true},
		},
		CacheCode: CodeCacheConfig{
			Enabled:       true,
			RetainPerType: 20,
		},
		Security: SecurityConfig{
			ExecutionTimeout:    30,
			MemoryLimitMB:       512,
			CPUTimeLimit:        30,
			FileDescriptorLimit: 64,
			MaxFileSizeMB:       10,
			MaxProcesses:        10,
			Network: NetworkConfig{
				RestrictNetworkAccess: true,
			},
		},
	}
}

// Load reads a TOML configuration document from path, overlays `.env`-style
// secrets, applies defaults for anything left zero, and validates the result.
// Parse/validation failures are fatal per spec.md §7.
func Load(path string) (*Config, error) {
	LoadEnv()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	for name, provider := range cfg.LLM {
		if provider.APIKey == "" {
			provider.APIKey = os.Getenv(strings.ToUpper(name) + "_API_KEY")
			cfg.LLM[name] = provider
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadEnv loads environment variables from a .env file if present, without
// clobbering variables already set by the real environment.
func LoadEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// GetEnvOrDefault returns an environment variable's value or a default,
// preserved from the teacher's internal/config/config.go.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetKafkaBrokers returns the configured Kafka brokers for the optional
// events.KafkaPublisher transport (spec.md §5).
func GetKafkaBrokers() []string {
	brokersStr := os.Getenv("KAFKA_BROKERS")
	if brokersStr == "" {
		return []string{}
	}
	return strings.Split(brokersStr, ",")
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type SamplerConfig struct {
	Path        string        `yaml:"path"`
	Args        []string      `yaml:"args"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
}

type Config struct {
	Port          int           `yaml:"port"`
	DataDir       string        `yaml:"data_dir"`
	AuditEnabled  bool          `yaml:"audit_enabled"`
	MaxInterfaces int           `yaml:"max_interfaces"`
	ListLimit     int           `yaml:"list_limit"`
	Sampler       SamplerConfig `yaml:"sampler"`
	LogLevel      string        `yaml:"log_level"`
	LogFormat     string        `yaml:"log_format"`
}

func Default() *Config {
	return &Config{
		Port:          8090,
		DataDir:       "./data",
		AuditEnabled:  true,
		MaxInterfaces: 16,
		ListLimit:     64,
		Sampler: SamplerConfig{
			Path:        "vnstat",
			Args:        []string{"-l", "--json", "-i"},
			StopTimeout: 5 * time.Second,
		},
		LogLevel:  "info",
		LogFormat: "default",
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path and NETIF_* environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
		}
	}

	cfg.Port = getEnvInt("NETIF_PORT", cfg.Port)
	cfg.DataDir = getEnvString("NETIF_DATA_DIR", cfg.DataDir)
	cfg.AuditEnabled = getEnvBool("NETIF_AUDIT_ENABLED", cfg.AuditEnabled)
	cfg.MaxInterfaces = getEnvInt("NETIF_MAX_INTERFACES", cfg.MaxInterfaces)
	cfg.ListLimit = getEnvInt("NETIF_LIST_LIMIT", cfg.ListLimit)
	cfg.Sampler.Path = getEnvString("NETIF_SAMPLER_PATH", cfg.Sampler.Path)
	if args := os.Getenv("NETIF_SAMPLER_ARGS"); args != "" {
		cfg.Sampler.Args = strings.Fields(args)
	}
	cfg.Sampler.StopTimeout = getEnvDuration("NETIF_STOP_TIMEOUT", cfg.Sampler.StopTimeout)
	cfg.LogLevel = getEnvString("NETIF_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnvString("NETIF_LOG_FORMAT", cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.AuditEnabled {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxInterfaces <= 0 {
		return fmt.Errorf("max_interfaces must be positive, got %d", c.MaxInterfaces)
	}
	if c.Sampler.Path == "" {
		return fmt.Errorf("sampler path is required")
	}
	if c.Sampler.StopTimeout <= 0 {
		return fmt.Errorf("sampler stop_timeout must be positive, got %s", c.Sampler.StopTimeout)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

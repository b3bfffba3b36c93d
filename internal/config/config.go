package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete client configuration.
type Config struct {
	License LicenseConfig `yaml:"license" envconfig:"LICENSE"`
	Sync    SyncConfig    `yaml:"sync" envconfig:"SYNC"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
}

// LicenseConfig contains license verification configuration.
type LicenseConfig struct {
	// PublicKey overrides the embedded verification key. Base64,
	// raw 32-byte Ed25519 public key.
	PublicKey string `yaml:"public_key" envconfig:"PUBLIC_KEY"`
	// RequiredProgram is the program_id this deployment expects a
	// license to authorize.
	RequiredProgram string `yaml:"required_program" envconfig:"REQUIRED_PROGRAM" default:"emv"`
	// EnforceDeviceBinding turns on the device fingerprint check
	// for licenses that carry a fingerprint allowlist.
	EnforceDeviceBinding bool `yaml:"enforce_device_binding" envconfig:"ENFORCE_DEVICE_BINDING" default:"false"`
}

// SyncConfig contains outbox synchronization configuration.
type SyncConfig struct {
	BaseURL     string        `yaml:"base_url" envconfig:"BASE_URL"`
	APIKey      string        `yaml:"api_key" envconfig:"API_KEY"`
	MaxAttempts int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS" default:"5"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"60s"`
	// Concurrency bounds parallel bundle uploads. 1 keeps the
	// strictly sequential behavior.
	Concurrency int `yaml:"concurrency" envconfig:"CONCURRENCY" default:"1"`
	// UploadsPerSecond rate-limits seal requests; 0 disables the
	// limiter.
	UploadsPerSecond float64 `yaml:"uploads_per_second" envconfig:"UPLOADS_PER_SECOND" default:"0"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"stderr"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// Load loads configuration from environment variables and, when
// EMV_CONFIG_FILE points at a YAML file, merges file values underneath
// the environment (environment wins).
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("EMV", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if configFile := os.Getenv("EMV_CONFIG_FILE"); configFile != "" {
		fileCfg, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileCfg, cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync.max_attempts must be at least 1, got %d", c.Sync.MaxAttempts)
	}
	if c.Sync.Timeout <= 0 {
		return fmt.Errorf("sync.timeout must be positive, got %s", c.Sync.Timeout)
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync.concurrency must be at least 1, got %d", c.Sync.Concurrency)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	return nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// mergeConfigs overlays env-provided values on top of the file values.
// A zero value in the env config defers to the file.
func mergeConfigs(file, env Config) Config {
	out := file

	if env.License.PublicKey != "" {
		out.License.PublicKey = env.License.PublicKey
	}
	if env.License.RequiredProgram != "" {
		out.License.RequiredProgram = env.License.RequiredProgram
	}
	if env.License.EnforceDeviceBinding {
		out.License.EnforceDeviceBinding = true
	}

	if env.Sync.BaseURL != "" {
		out.Sync.BaseURL = env.Sync.BaseURL
	}
	if env.Sync.APIKey != "" {
		out.Sync.APIKey = env.Sync.APIKey
	}
	if env.Sync.MaxAttempts != 0 {
		out.Sync.MaxAttempts = env.Sync.MaxAttempts
	}
	if env.Sync.Timeout != 0 {
		out.Sync.Timeout = env.Sync.Timeout
	}
	if env.Sync.Concurrency != 0 {
		out.Sync.Concurrency = env.Sync.Concurrency
	}
	if env.Sync.UploadsPerSecond != 0 {
		out.Sync.UploadsPerSecond = env.Sync.UploadsPerSecond
	}

	if env.Logging.Level != "" {
		out.Logging.Level = env.Logging.Level
	}
	if env.Logging.Format != "" {
		out.Logging.Format = env.Logging.Format
	}
	if env.Logging.Output != "" {
		out.Logging.Output = env.Logging.Output
	}
	if env.Logging.FilePath != "" {
		out.Logging.FilePath = env.Logging.FilePath
	}

	return out
}

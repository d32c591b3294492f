package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete engine configuration
type Config struct {
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Paths    PathsConfig    `yaml:"paths" envconfig:"PATHS"`
	Admin    AdminConfig    `yaml:"admin" envconfig:"ADMIN"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info" validate:"omitempty,oneof=debug info warn warning error"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json" validate:"omitempty,oneof=json text"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console" validate:"omitempty,oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/arcavault.log"`
}

// SecurityConfig contains rate limits for the sensitive issuance paths.
// Limits apply per process; there is no shared state between processes.
type SecurityConfig struct {
	RedeemRatePerMinute     float64 `yaml:"redeem_rate_per_minute" envconfig:"REDEEM_RATE_PER_MINUTE" default:"10" validate:"gte=0"`
	RedeemBurst             int     `yaml:"redeem_burst" envconfig:"REDEEM_BURST" default:"5" validate:"gte=0"`
	BreakGlassRatePerMinute float64 `yaml:"break_glass_rate_per_minute" envconfig:"BREAK_GLASS_RATE_PER_MINUTE" default:"3" validate:"gte=0"`
	BreakGlassBurst         int     `yaml:"break_glass_burst" envconfig:"BREAK_GLASS_BURST" default:"3" validate:"gte=0"`
}

// PathsConfig allows overriding the private data directory. When DataDir is
// empty the per-user default is used (see GetPaths).
type PathsConfig struct {
	DataDir string `yaml:"data_dir" envconfig:"DATA_DIR"`
}

// AdminConfig controls the environment elevation path. ProductionBuild is
// decided once by the embedding application; when true the environment path
// is never consulted regardless of the other fields.
type AdminConfig struct {
	ProductionBuild bool   `yaml:"production_build" envconfig:"PRODUCTION_BUILD" default:"true"`
	EnvEnabled      bool   `yaml:"env_enabled" envconfig:"ENV_ENABLED"`
	EnvScope        string `yaml:"env_scope" envconfig:"ENV_SCOPE"`
}

// Load loads configuration from environment variables and an optional YAML
// config file. Environment variables take precedence over the file.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("ARCA", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	configFile := getConfigFilePath()
	if _, err := os.Stat(configFile); err == nil {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration against the struct validation tags
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// loadFromFile loads configuration from a YAML file. The struct is seeded
// with the defaults first, so keys the file omits keep their default values
// instead of collapsing to Go zero values.
func loadFromFile(path string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("ARCA", &cfg); err != nil {
		return nil, fmt.Errorf("failed to seed config defaults: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// mergeConfigs merges file config with env config. A field from the env side
// wins only when its variable is actually set in the environment; envconfig
// fills defaults into unset fields, so the values alone cannot tell an
// explicit setting from a default.
func mergeConfigs(file, env Config) Config {
	merged := file

	if envSet("ARCA_LOGGING_LEVEL") {
		merged.Logging.Level = env.Logging.Level
	}
	if envSet("ARCA_LOGGING_FORMAT") {
		merged.Logging.Format = env.Logging.Format
	}
	if envSet("ARCA_LOGGING_OUTPUT") {
		merged.Logging.Output = env.Logging.Output
	}
	if envSet("ARCA_LOGGING_FILE_PATH") {
		merged.Logging.FilePath = env.Logging.FilePath
	}
	if envSet("ARCA_PATHS_DATA_DIR") {
		merged.Paths.DataDir = env.Paths.DataDir
	}
	if envSet("ARCA_SECURITY_REDEEM_RATE_PER_MINUTE") {
		merged.Security.RedeemRatePerMinute = env.Security.RedeemRatePerMinute
	}
	if envSet("ARCA_SECURITY_REDEEM_BURST") {
		merged.Security.RedeemBurst = env.Security.RedeemBurst
	}
	if envSet("ARCA_SECURITY_BREAK_GLASS_RATE_PER_MINUTE") {
		merged.Security.BreakGlassRatePerMinute = env.Security.BreakGlassRatePerMinute
	}
	if envSet("ARCA_SECURITY_BREAK_GLASS_BURST") {
		merged.Security.BreakGlassBurst = env.Security.BreakGlassBurst
	}
	if envSet("ARCA_ADMIN_PRODUCTION_BUILD") {
		merged.Admin.ProductionBuild = env.Admin.ProductionBuild
	}
	if envSet("ARCA_ADMIN_ENV_ENABLED") {
		merged.Admin.EnvEnabled = env.Admin.EnvEnabled
	}
	if envSet("ARCA_ADMIN_ENV_SCOPE") {
		merged.Admin.EnvScope = env.Admin.EnvScope
	}

	return merged
}

func envSet(name string) bool {
	_, ok := os.LookupEnv(name)
	return ok
}

// getConfigFilePath returns the path to the optional YAML config file
func getConfigFilePath() string {
	if p := os.Getenv("ARCA_CONFIG_FILE"); p != "" {
		return p
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "arcavault.yaml"
	}
	return filepath.Join(base, "arcavault", "config.yaml")
}

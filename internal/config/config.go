package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/crowdsale-migrations/internal/artifact"
)

const (
	defaultNetwork            = "development"
	defaultRPCURL             = "http://127.0.0.1:8545"
	defaultRecordsFile        = "build/deployments.yaml"
	defaultPort               = "8080"
	defaultGasPriceMultiplier = 1.0
	defaultConfirmations      = 1
	defaultRateLimitRPS       = 25.0
	defaultRateLimitBurst     = 50
	defaultLogLevel           = "info"
)

// MinGasPriceMultiplier is the smallest accepted gas_price_multiplier.
const MinGasPriceMultiplier = 0.1

// PrivateKeyEnv names the only source of the signing key.
const PrivateKeyEnv = "DEPLOYER_PRIVATE_KEY"

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	Network            string
	RPCURL             string
	ChainID            int64
	PrivateKey         string
	ArtifactsDir       string
	RecordsFile        string
	GasLimit           uint64
	GasPriceMultiplier float64
	Confirmations      uint64
	PollInterval       time.Duration
	DeployTimeout      time.Duration
	DryRun             bool
	LogLevel           string

	Port                 string
	ShutdownGracePeriod  time.Duration
	ReadHeaderTimeout    time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	EnableRequestLogging bool
	RateLimitRPS         float64
	RateLimitBurst       int
}

// yamlConfig represents the YAML configuration file structure.
type yamlConfig struct {
	Network              string                 `yaml:"network"`
	Networks             map[string]yamlNetwork `yaml:"networks"`
	ArtifactsDir         string                 `yaml:"artifacts_dir"`
	RecordsFile          string                 `yaml:"records_file"`
	PollInterval         string                 `yaml:"poll_interval"`
	DeployTimeout        string                 `yaml:"deploy_timeout"`
	DryRun               *bool                  `yaml:"dry_run"`
	LogLevel             string                 `yaml:"log_level"`
	Port                 string                 `yaml:"port"`
	ShutdownGracePeriod  string                 `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string                 `yaml:"read_header_timeout"`
	WriteTimeout         string                 `yaml:"write_timeout"`
	IdleTimeout          string                 `yaml:"idle_timeout"`
	EnableRequestLogging *bool                  `yaml:"enable_request_logging"`
	RateLimit            yamlRateLimit          `yaml:"rate_limit"`
}

// yamlNetwork is one entry of the networks section.
type yamlNetwork struct {
	RPCURL             string  `yaml:"rpc_url"`
	ChainID            int64   `yaml:"chain_id"`
	GasLimit           uint64  `yaml:"gas_limit"`
	GasPriceMultiplier float64 `yaml:"gas_price_multiplier"`
	Confirmations      uint64  `yaml:"confirmations"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile   string
	Network      *string
	RPCURL       *string
	ArtifactsDir *string
	RecordsFile  *string
	LogLevel     *string
	Port         *string
	DryRun       *bool
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	// Environment goes first so the YAML file can override it.
	applyEnvConfig(&cfg)

	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg, overrides.Network); err != nil {
			return Config{}, err
		}
	}

	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	// The signing key never comes from a file or a flag.
	cfg.PrivateKey = strings.TrimSpace(os.Getenv(PrivateKeyEnv))

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		Network:              defaultNetwork,
		RPCURL:               defaultRPCURL,
		ArtifactsDir:         artifact.DefaultDir,
		RecordsFile:          defaultRecordsFile,
		GasPriceMultiplier:   defaultGasPriceMultiplier,
		Confirmations:        defaultConfirmations,
		PollInterval:         2 * time.Second,
		DeployTimeout:        5 * time.Minute,
		LogLevel:             defaultLogLevel,
		Port:                 defaultPort,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
	}
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct. The
// network entry is selected by the CLI network flag when given, otherwise by
// the file's network key, otherwise by whatever network is already configured.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig, networkFlag *string) error {
	if yamlCfg.Network != "" {
		cfg.Network = yamlCfg.Network
	}
	selected := cfg.Network
	if networkFlag != nil && *networkFlag != "" {
		selected = *networkFlag
	}

	if len(yamlCfg.Networks) > 0 {
		entry, ok := yamlCfg.Networks[selected]
		if !ok {
			return fmt.Errorf("network %q is not defined in config file", selected)
		}
		if entry.RPCURL != "" {
			cfg.RPCURL = entry.RPCURL
		}
		if entry.ChainID > 0 {
			cfg.ChainID = entry.ChainID
		}
		if entry.GasLimit > 0 {
			cfg.GasLimit = entry.GasLimit
		}
		if entry.GasPriceMultiplier > 0 {
			cfg.GasPriceMultiplier = entry.GasPriceMultiplier
		}
		if entry.Confirmations > 0 {
			cfg.Confirmations = entry.Confirmations
		}
	}

	if yamlCfg.ArtifactsDir != "" {
		cfg.ArtifactsDir = yamlCfg.ArtifactsDir
	}
	if yamlCfg.RecordsFile != "" {
		cfg.RecordsFile = yamlCfg.RecordsFile
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.Port != "" {
		cfg.Port = yamlCfg.Port
	}
	if yamlCfg.DryRun != nil {
		cfg.DryRun = *yamlCfg.DryRun
	}
	if yamlCfg.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *yamlCfg.EnableRequestLogging
	}

	durations := []struct {
		raw    string
		target *time.Duration
		key    string
	}{
		{yamlCfg.PollInterval, &cfg.PollInterval, "poll_interval"},
		{yamlCfg.DeployTimeout, &cfg.DeployTimeout, "deploy_timeout"},
		{yamlCfg.ShutdownGracePeriod, &cfg.ShutdownGracePeriod, "shutdown_grace_period"},
		{yamlCfg.ReadHeaderTimeout, &cfg.ReadHeaderTimeout, "read_header_timeout"},
		{yamlCfg.WriteTimeout, &cfg.WriteTimeout, "write_timeout"},
		{yamlCfg.IdleTimeout, &cfg.IdleTimeout, "idle_timeout"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.target = parsed
	}

	if yamlCfg.RateLimit.RPS != nil && *yamlCfg.RateLimit.RPS >= 0 {
		cfg.RateLimitRPS = *yamlCfg.RateLimit.RPS
	}
	if yamlCfg.RateLimit.Burst != nil && *yamlCfg.RateLimit.Burst >= 0 {
		cfg.RateLimitBurst = *yamlCfg.RateLimit.Burst
	}

	return nil
}

// applyEnvConfig applies environment variable configuration.
func applyEnvConfig(cfg *Config) {
	if network := strings.TrimSpace(os.Getenv("MIGRATE_NETWORK")); network != "" {
		cfg.Network = network
	}

	if rpcURL := strings.TrimSpace(os.Getenv("RPC_URL")); rpcURL != "" {
		cfg.RPCURL = rpcURL
	}

	if dir := strings.TrimSpace(os.Getenv("ARTIFACTS_DIR")); dir != "" {
		cfg.ArtifactsDir = dir
	}

	if records := strings.TrimSpace(os.Getenv("RECORDS_FILE")); records != "" {
		cfg.RecordsFile = records
	}

	if gasLimit := strings.TrimSpace(os.Getenv("GAS_LIMIT")); gasLimit != "" {
		if value, err := strconv.ParseUint(gasLimit, 10, 64); err == nil {
			cfg.GasLimit = value
		}
	}

	if confirmations := strings.TrimSpace(os.Getenv("CONFIRMATIONS")); confirmations != "" {
		if value, err := strconv.ParseUint(confirmations, 10, 64); err == nil && value > 0 {
			cfg.Confirmations = value
		}
	}

	if level := strings.TrimSpace(os.Getenv("LOG_LEVEL")); level != "" {
		cfg.LogLevel = level
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.Port = port
	}

	if rps := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); rps != "" {
		if value, err := strconv.ParseFloat(rps, 64); err == nil && value >= 0 {
			cfg.RateLimitRPS = value
		}
	}

	if burst := strings.TrimSpace(os.Getenv("RATE_LIMIT_BURST")); burst != "" {
		if value, err := strconv.Atoi(burst); err == nil && value >= 0 {
			cfg.RateLimitBurst = value
		}
	}
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	if overrides.Network != nil && *overrides.Network != "" {
		cfg.Network = *overrides.Network
	}
	if overrides.RPCURL != nil && *overrides.RPCURL != "" {
		cfg.RPCURL = *overrides.RPCURL
	}
	if overrides.ArtifactsDir != nil && *overrides.ArtifactsDir != "" {
		cfg.ArtifactsDir = *overrides.ArtifactsDir
	}
	if overrides.RecordsFile != nil && *overrides.RecordsFile != "" {
		cfg.RecordsFile = *overrides.RecordsFile
	}
	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		cfg.LogLevel = *overrides.LogLevel
	}
	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Port = *overrides.Port
	}
	if overrides.DryRun != nil && *overrides.DryRun {
		cfg.DryRun = true
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Network) == "" {
		return fmt.Errorf("network must not be empty")
	}
	if !cfg.DryRun && strings.TrimSpace(cfg.RPCURL) == "" {
		return fmt.Errorf("rpc_url is required unless running dry")
	}
	if cfg.GasPriceMultiplier < MinGasPriceMultiplier {
		return fmt.Errorf("gas_price_multiplier must be >= %g", MinGasPriceMultiplier)
	}
	if cfg.Confirmations < 1 {
		return fmt.Errorf("confirmations must be >= 1")
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be > 0")
	}
	if cfg.DeployTimeout <= cfg.PollInterval {
		return fmt.Errorf("deploy_timeout must be greater than poll_interval")
	}
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	return nil
}

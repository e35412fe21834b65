// Package config enables config file parsing.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"

	"timelock/internal/codec"
	"timelock/internal/log"
	"timelock/internal/timeauth"
)

// EnvPrefix marks environment variables that override the config file.
const EnvPrefix = "TIMELOCK_"

// Config contains the CLI configuration.
type Config struct {
	Registry *RegistryConfig `koanf:"registry"`
	Release  *ReleaseConfig  `koanf:"release"`
	Log      *LogConfig      `koanf:"log"`
	Devnet   *DevnetConfig   `koanf:"devnet"`
	Metrics  *MetricsConfig  `koanf:"metrics"`
	Storage  *StorageConfig  `koanf:"storage"`
}

// Validate performs config validation.
func (cfg *Config) Validate() error {
	if cfg.Registry != nil {
		if err := cfg.Registry.Validate(); err != nil {
			return fmt.Errorf("registry: %w", err)
		}
	}
	if cfg.Release != nil {
		if err := cfg.Release.Validate(); err != nil {
			return fmt.Errorf("release: %w", err)
		}
	}
	if cfg.Log != nil {
		if err := cfg.Log.Validate(); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}
	if cfg.Devnet != nil {
		if err := cfg.Devnet.Validate(); err != nil {
			return fmt.Errorf("devnet: %w", err)
		}
	}
	if cfg.Metrics != nil {
		if err := cfg.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}

// RegistryConfig selects the key-release network.
type RegistryConfig struct {
	// Backend is one of devnet, http or drand.
	Backend string `koanf:"backend"`

	// URL is the service base URL for the http and drand backends.
	URL string `koanf:"url"`

	// Timeout bounds each registry call.
	Timeout time.Duration `koanf:"timeout"`
}

// Validate validates the registry configuration.
func (cfg *RegistryConfig) Validate() error {
	switch cfg.Backend {
	case timeauth.BackendDevnet, timeauth.BackendDrand:
	case timeauth.BackendHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("backend %s requires url", cfg.Backend)
		}
	default:
		return fmt.Errorf("unknown backend '%s'", cfg.Backend)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("invalid timeout %v", cfg.Timeout)
	}
	return nil
}

// ReleaseConfig holds release clock parameters.
type ReleaseConfig struct {
	// Delay is how far in the future a new release timestamp is placed.
	Delay time.Duration `koanf:"delay"`

	// Margin is waited after the release timestamp before fetching the key.
	Margin time.Duration `koanf:"margin"`

	// Tick is the readiness polling interval.
	Tick time.Duration `koanf:"tick"`
}

// Validate validates the release configuration.
func (cfg *ReleaseConfig) Validate() error {
	if cfg.Delay <= 0 {
		return fmt.Errorf("invalid delay %v", cfg.Delay)
	}
	if cfg.Margin < 0 {
		return fmt.Errorf("invalid margin %v", cfg.Margin)
	}
	if cfg.Tick <= 0 {
		return fmt.Errorf("invalid tick %v", cfg.Tick)
	}
	return nil
}

// LogConfig contains the logging configuration.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// Validate validates the logging configuration.
func (cfg *LogConfig) Validate() error {
	var format log.Format
	if err := format.Set(cfg.Format); err != nil {
		return err
	}
	var level log.Level
	return level.Set(cfg.Level)
}

// DevnetConfig configures the local key-release network.
type DevnetConfig struct {
	// Listen is the address `timelock devnet` serves on.
	Listen string `koanf:"listen"`

	// Secret is the hex master secret. When empty, one is generated and kept
	// in the storage directory.
	Secret string `koanf:"secret"`
}

// Validate validates the devnet configuration.
func (cfg *DevnetConfig) Validate() error {
	if cfg.Listen == "" {
		return fmt.Errorf("malformed listen address '%s'", cfg.Listen)
	}
	if cfg.Secret == "" {
		return nil
	}
	secret, err := cfg.SecretBytes()
	if err != nil {
		return err
	}
	if len(secret) < timeauth.MinDevnetSecretSize || len(secret) > timeauth.MaxDevnetSecretSize {
		return fmt.Errorf("secret must be %d to %d bytes", timeauth.MinDevnetSecretSize, timeauth.MaxDevnetSecretSize)
	}
	return nil
}

// SecretBytes decodes the configured secret.
func (cfg *DevnetConfig) SecretBytes() ([]byte, error) {
	b, err := codec.DecodeHex(codec.Hex(cfg.Secret))
	if err != nil {
		return nil, fmt.Errorf("secret: %w", err)
	}
	return b, nil
}

// MetricsConfig contains the metrics configuration.
type MetricsConfig struct {
	// PullEndpoint is where Prometheus scrapes; empty disables metrics.
	PullEndpoint string `koanf:"pull_endpoint"`
}

// Validate validates the metrics configuration.
func (cfg *MetricsConfig) Validate() error {
	if cfg.PullEndpoint != "" && !strings.Contains(cfg.PullEndpoint, ":") {
		return fmt.Errorf("malformed Prometheus pull endpoint '%s'", cfg.PullEndpoint)
	}
	return nil
}

// StorageConfig locates sealed envelopes on disk.
type StorageConfig struct {
	// Dir overrides the default XDG data directory.
	Dir string `koanf:"dir"`
}

// defaults are loaded before the config file and the environment.
var defaults = map[string]interface{}{
	"registry.backend": timeauth.BackendDevnet,
	"registry.url":     "",
	"registry.timeout": "10s",

	"release.delay":  "120s",
	"release.margin": "5s",
	"release.tick":   "1s",

	"log.format": "logfmt",
	"log.level":  "info",

	"devnet.listen": "127.0.0.1:8547",
	"devnet.secret": "",

	"metrics.pull_endpoint": "",

	"storage.dir": "",
}

// InitConfig initializes configuration from file. An empty path uses the
// defaults and the environment only.
func InitConfig(f string) (*Config, error) {
	var p koanf.Provider
	if f != "" {
		p = file.Provider(f)
	}
	return initConfig(p)
}

func initConfig(p koanf.Provider) (*Config, error) {
	var config Config
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, err
	}

	// Load configuration from the yaml config.
	if p != nil {
		if err := k.Load(p, yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// Load environment variables and merge into the loaded config.
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		// `__` is used as a hierarchy delimiter.
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	// Unmarshal into config.
	if err := k.Unmarshal("", &config); err != nil {
		return nil, err
	}

	// Validate config.
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

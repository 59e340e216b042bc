package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"EnrichmentRelay/internal/logging"
)

const (
	configPathEnv      = "ENRICH_RELAY_CONFIG"
	listenAddrEnv      = "LISTEN_ADDR"
	upstreamBaseURLEnv = "UPSTREAM_BASE_URL"
	upstreamAPIKeyEnv  = "UPSTREAM_API_KEY"
	databaseDriverEnv  = "DATABASE_DRIVER"
	databaseDSNEnv     = "DATABASE_DSN"
	logLevelEnv        = "LOG_LEVEL"
)

// Config holds high-level settings required across the application.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Database    DatabaseConfig    `yaml:"database"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Client      ClientConfig      `yaml:"client"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig describes the relay's HTTP listener.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listenAddr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// UpstreamConfig defines how to reach the enrichment service.
type UpstreamConfig struct {
	BaseURL string `yaml:"baseUrl"`
	APIKey  string `yaml:"apiKey"`
	// Timeout bounds the total lifetime of one relayed stream.
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
}

// DatabaseConfig describes the profile store connection.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// PersistenceConfig bounds background phase writes.
type PersistenceConfig struct {
	MaxInFlight  int           `yaml:"maxInFlight"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// ClientConfig tunes the subscription used by the watch command.
type ClientConfig struct {
	RelayURL   string `yaml:"relayUrl"`
	MaxRetries int    `yaml:"maxRetries"`
}

// LoggingConfig selects slog level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()

	return cfg
}

// supportedDrivers are the database/sql driver names the profile store registers.
var supportedDrivers = []string{"sqlite", "postgres"}

// Validate reports every setting the relay cannot start with. Load never fails,
// so callers that are about to serve check the result here.
func (c Config) Validate() error {
	var errs []error

	if !slices.Contains(supportedDrivers, c.Database.Driver) {
		errs = append(errs, fmt.Errorf("database.driver %q: want one of %s",
			c.Database.Driver, strings.Join(supportedDrivers, ", ")))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn is empty"))
	}

	if err := checkHTTPURL(c.Upstream.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("upstream.baseUrl: %w", err))
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("upstream.timeout must be positive, got %s", c.Upstream.Timeout))
	}
	if c.Upstream.RequestsPerSecond < 0 || c.Upstream.Burst < 0 {
		errs = append(errs, errors.New("upstream rate limits must not be negative"))
	}

	if c.Persistence.MaxInFlight < 0 || c.Persistence.WriteTimeout < 0 {
		errs = append(errs, errors.New("persistence limits must not be negative"))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("logging.format %q: want text or json", c.Logging.Format))
	}

	return errors.Join(errs...)
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an absolute http(s) url", raw)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(listenAddrEnv); v != "" {
		c.Server.ListenAddr = v
	}

	if v := os.Getenv(upstreamBaseURLEnv); v != "" {
		c.Upstream.BaseURL = v
	}

	if v := os.Getenv(upstreamAPIKeyEnv); v != "" {
		c.Upstream.APIKey = v
	}

	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}

	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Server.ListenAddr != "" {
		base.Server.ListenAddr = override.Server.ListenAddr
	}
	if override.Server.ShutdownTimeout > 0 {
		base.Server.ShutdownTimeout = override.Server.ShutdownTimeout
	}

	if override.Upstream.BaseURL != "" {
		base.Upstream.BaseURL = override.Upstream.BaseURL
	}
	if override.Upstream.APIKey != "" {
		base.Upstream.APIKey = override.Upstream.APIKey
	}
	if override.Upstream.Timeout > 0 {
		base.Upstream.Timeout = override.Upstream.Timeout
	}
	if override.Upstream.RequestsPerSecond > 0 {
		base.Upstream.RequestsPerSecond = override.Upstream.RequestsPerSecond
	}
	if override.Upstream.Burst > 0 {
		base.Upstream.Burst = override.Upstream.Burst
	}

	// Driver and DSN only make sense together.
	if override.Database.DSN != "" {
		base.Database = override.Database
		if base.Database.Driver == "" {
			base.Database.Driver = defaultConfig().Database.Driver
		}
	}

	if override.Persistence.MaxInFlight > 0 {
		base.Persistence.MaxInFlight = override.Persistence.MaxInFlight
	}
	if override.Persistence.WriteTimeout > 0 {
		base.Persistence.WriteTimeout = override.Persistence.WriteTimeout
	}

	if override.Client.RelayURL != "" {
		base.Client.RelayURL = override.Client.RelayURL
	}
	if override.Client.MaxRetries > 0 {
		base.Client.MaxRetries = override.Client.MaxRetries
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{ListenAddr: ":8080", ShutdownTimeout: 15 * time.Second},
		Upstream: UpstreamConfig{
			BaseURL:           "http://localhost:9000",
			Timeout:           110 * time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Database:    DatabaseConfig{Driver: "sqlite", DSN: "enrichment.db"},
		Persistence: PersistenceConfig{MaxInFlight: 16, WriteTimeout: 10 * time.Second},
		Client:      ClientConfig{RelayURL: "http://localhost:8080", MaxRetries: 3},
		Logging:     LoggingConfig{Level: "info", Format: "text"},
	}
}

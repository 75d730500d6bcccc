// Package config loads Paygress's flat environment-variable configuration
// surface (spec §6.4) into a validated Config struct.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration, loaded from environment variables.
type Config struct {
	// Front-end toggles — at least one must be true.
	EnableHTTP  bool `env:"ENABLE_HTTP" envDefault:"true"`
	EnableRelay bool `env:"ENABLE_RELAY" envDefault:"false"`
	EnableStdio bool `env:"ENABLE_STDIO" envDefault:"false"`

	// HTTP transport.
	HTTPBind string `env:"HTTP_BIND" envDefault:"0.0.0.0:8080"`

	// Relay transport.
	RelayURLs []string `env:"RELAY_URLS" envSeparator:","`

	// Identity.
	ServicePrivateKey string `env:"SERVICE_PRIVATE_KEY"`

	// Token verification.
	WhitelistedMints []string `env:"WHITELISTED_MINTS" envSeparator:","`

	// Offer catalog.
	PodSpecsFile string `env:"POD_SPECS_FILE" envDefault:"pod_specs.json"`

	// Redemption ledger.
	LedgerPath string `env:"LEDGER_PATH" envDefault:"data/ledger.db"`

	// Advertised SSH endpoint.
	HostPublicAddress string `env:"HOST_PUBLIC_ADDRESS" envDefault:"127.0.0.1"`

	// Port pool.
	PortRangeStart int `env:"PORT_RANGE_START" envDefault:"30000"`
	PortRangeEnd   int `env:"PORT_RANGE_END" envDefault:"31000"`

	// Admission bounds.
	MinDurationSecs int64 `env:"MIN_DURATION_SECS" envDefault:"60"`
	MaxDurationSecs int64 `env:"MAX_DURATION_SECS" envDefault:"86400"`

	// Reaper.
	ReapIntervalSecs int64 `env:"REAP_INTERVAL_SECS" envDefault:"10"`

	// Container driver.
	ContainerDriver       string `env:"CONTAINER_DRIVER" envDefault:"localsim"`
	DefaultContainerImage string `env:"DEFAULT_CONTAINER_IMAGE" envDefault:"paygress/ssh-box:latest"`

	// Logging.
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Metrics (HTTP transport only).
	MetricsPath string `env:"METRICS_PATH" envDefault:"/metrics"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that env struct tags cannot express. Failures
// here are fatal configuration errors (spec §6.1's non-zero exit contract).
func (c *Config) Validate() error {
	if !c.EnableHTTP && !c.EnableRelay && !c.EnableStdio {
		return fmt.Errorf("at least one of ENABLE_HTTP, ENABLE_RELAY, ENABLE_STDIO must be true")
	}
	if c.ServicePrivateKey == "" {
		return fmt.Errorf("SERVICE_PRIVATE_KEY is required")
	}
	if c.PortRangeStart < 0 || c.PortRangeEnd <= c.PortRangeStart {
		return fmt.Errorf("invalid port range [%d, %d)", c.PortRangeStart, c.PortRangeEnd)
	}
	if c.MinDurationSecs <= 0 || c.MaxDurationSecs < c.MinDurationSecs {
		return fmt.Errorf("invalid duration bounds: min=%d max=%d", c.MinDurationSecs, c.MaxDurationSecs)
	}
	if c.ReapIntervalSecs <= 0 {
		return fmt.Errorf("REAP_INTERVAL_SECS must be positive")
	}
	if c.EnableRelay && len(c.RelayURLs) == 0 {
		return fmt.Errorf("RELAY_URLS must be set when ENABLE_RELAY is true")
	}
	for i, u := range c.WhitelistedMints {
		c.WhitelistedMints[i] = strings.TrimSpace(u)
	}
	return nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return c.HTTPBind
}

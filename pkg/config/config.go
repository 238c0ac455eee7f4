// Package config provides configuration structures and loading logic for lizzy.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the global configuration for the lizzy server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Senza     SenzaConfig     `yaml:"senza"`
	Security  SecurityConfig  `yaml:"security"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// SenzaConfig holds configuration for the senza command-line tool.
type SenzaConfig struct {
	Region string `yaml:"region"`
}

// SecurityConfig holds configuration for caller authentication and
// authorization.
//
// AllowedUsers distinguishes nil from empty: nil means any authenticated
// user may call the API, an empty list means nobody may. The list is fixed
// for the lifetime of the process; changing it requires a restart.
type SecurityConfig struct {
	AllowedUsers []string `yaml:"allowed_users"`
	TokenInfoURL string   `yaml:"token_info_url"`
}

// TelemetryConfig holds configuration for OpenTelemetry. Tracing is enabled
// by setting an OTLP endpoint.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	Environment  string `yaml:"environment"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads configuration from a file and applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		// Defaults
		Server: ServerConfig{
			ListenAddress: ":8080",
		},
		Telemetry: TelemetryConfig{
			Environment: "production",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("LIZZY_LISTEN_ADDRESS"); val != "" {
		cfg.Server.ListenAddress = val
	}

	if val := os.Getenv("LIZZY_REGION"); val != "" {
		cfg.Senza.Region = val
	}

	// LookupEnv so that an explicitly empty list (deny everyone) can be
	// told apart from an unset one (allow any authenticated user).
	if val, ok := os.LookupEnv("LIZZY_ALLOWED_USERS"); ok {
		cfg.Security.AllowedUsers = splitUsers(val)
	}
	if val := os.Getenv("LIZZY_TOKEN_INFO_URL"); val != "" {
		cfg.Security.TokenInfoURL = val
	}

	if val := os.Getenv("LIZZY_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("LIZZY_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("LIZZY_ENVIRONMENT"); val != "" {
		cfg.Telemetry.Environment = val
	}

	if val := os.Getenv("LIZZY_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("LIZZY_LOG_PRETTY"); val == "true" {
		cfg.Logging.Pretty = true
	}
}

// splitUsers parses a comma-separated identity list, dropping empty entries.
// The result is never nil: an empty value yields an empty list.
func splitUsers(val string) []string {
	users := []string{}
	for _, u := range strings.Split(val, ",") {
		if u = strings.TrimSpace(u); u != "" {
			users = append(users, u)
		}
	}
	return users
}

// Validate performs validation of the entire configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}

	if err := c.Senza.Validate(); err != nil {
		return fmt.Errorf("senza configuration: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("security configuration: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	return nil
}

// Validate performs validation of server configuration.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8080"
	}
	return nil
}

// Validate performs validation of senza configuration.
func (c *SenzaConfig) Validate() error {
	if strings.TrimSpace(c.Region) == "" {
		return fmt.Errorf("region is required (set senza.region or LIZZY_REGION)")
	}
	return nil
}

// Validate performs validation of security configuration.
func (c *SecurityConfig) Validate() error {
	if c.TokenInfoURL == "" {
		return nil
	}

	u, err := url.Parse(c.TokenInfoURL)
	if err != nil {
		return fmt.Errorf("invalid token info URL %q: %w", c.TokenInfoURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("token info URL %q must use http or https", c.TokenInfoURL)
	}
	return nil
}

// Validate performs validation of logging configuration.
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}

// Package platform holds server configuration and MCP resource wiring.
package platform

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/toorpia/toorpia-mcp-server/pkg/backend"
)

// Config holds the complete server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Sessions SessionsConfig `yaml:"sessions"`
	Audit    AuditConfig    `yaml:"audit"`
	Backend  backend.Config `yaml:"backend"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Name      string `yaml:"name"`
	Version   string `yaml:"version"`
	Transport string `yaml:"transport"` // "stdio", "http"
	Address   string `yaml:"address"`
}

// AuthConfig configures token verification.
type AuthConfig struct {
	Audience   string `yaml:"audience"`
	HMACSecret string `yaml:"hmac_secret"`
	JWKSURL    string `yaml:"jwks_url"`
	DevBypass  bool   `yaml:"dev_bypass"`
}

// SessionsConfig configures the session store.
type SessionsConfig struct {
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// AuditConfig configures the audit sink.
type AuditConfig struct {
	Backend       string `yaml:"backend"` // "file", "postgres", "none"
	Path          string `yaml:"path"`
	DSN           string `yaml:"dsn"`
	RetentionDays int    `yaml:"retention_days"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns a config with defaults applied and nothing else set.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadConfig loads configuration from a YAML file, expanding ${VAR}
// references from the environment before parsing.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "toorpia-mcp-server"
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = "dev"
	}
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = "stdio"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Sessions.Retention == 0 {
		cfg.Sessions.Retention = 24 * time.Hour
	}
	if cfg.Sessions.SweepInterval == 0 {
		cfg.Sessions.SweepInterval = time.Hour
	}
	if cfg.Audit.Backend == "" {
		cfg.Audit.Backend = "file"
	}
	if cfg.Audit.Backend == "file" && cfg.Audit.Path == "" {
		cfg.Audit.Path = "audit.jsonl"
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = 90
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		errs = append(errs, fmt.Sprintf("server.transport must be stdio or http, got %q", c.Server.Transport))
	}

	if !c.Auth.DevBypass {
		if c.Auth.Audience == "" {
			errs = append(errs, "auth.audience is required")
		}
		if c.Auth.HMACSecret == "" && c.Auth.JWKSURL == "" {
			errs = append(errs, "auth requires hmac_secret or jwks_url unless dev_bypass is set")
		}
	}
	if c.Auth.HMACSecret != "" && c.Auth.JWKSURL != "" {
		errs = append(errs, "auth.hmac_secret and auth.jwks_url are mutually exclusive")
	}

	switch c.Audit.Backend {
	case "file":
		if c.Audit.Path == "" {
			errs = append(errs, "audit.path is required for the file backend")
		}
	case "postgres":
		if c.Audit.DSN == "" {
			errs = append(errs, "audit.dsn is required for the postgres backend")
		}
	case "none":
	default:
		errs = append(errs, fmt.Sprintf("audit.backend must be file, postgres, or none, got %q", c.Audit.Backend))
	}

	if c.Backend.BaseURL == "" {
		errs = append(errs, "backend.base_url is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ABOUTME: Configuration loading and parsing for parley
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/parley/internal/auth"
)

// Database drivers
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Config represents the complete parley configuration.
// The gateway and the chat client read the same file; each validates the
// sections it uses.
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	Generation GenerationConfig `yaml:"generation" toml:"generation"`
	Video      VideoConfig      `yaml:"video" toml:"video"`
	Upload     UploadConfig     `yaml:"upload" toml:"upload"`
	Client     ClientConfig     `yaml:"client" toml:"client"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig selects and configures the storage backend
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // sqlite | mongo
	Path   string `yaml:"path" toml:"path"`     // sqlite file
	URI    string `yaml:"uri" toml:"uri"`       // mongo connection string
	Name   string `yaml:"name" toml:"name"`     // mongo database
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// GenerationConfig configures the OpenAI-compatible text generation source
type GenerationConfig struct {
	APIKey  string        `yaml:"api_key" toml:"api_key"`
	BaseURL string        `yaml:"base_url" toml:"base_url"`
	Model   string        `yaml:"model" toml:"model"`
	Timeout time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// VideoConfig configures the YouTube video lookup source
type VideoConfig struct {
	APIKey  string        `yaml:"api_key" toml:"api_key"`
	BaseURL string        `yaml:"base_url" toml:"base_url"`
	Timeout time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// UploadConfig holds the image CDN credentials used to sign upload parameters
type UploadConfig struct {
	URLEndpoint string        `yaml:"url_endpoint" toml:"url_endpoint"`
	PublicKey   string        `yaml:"public_key" toml:"public_key"`
	PrivateKey  string        `yaml:"private_key" toml:"private_key"`
	Expire      time.Duration `yaml:"-" toml:"-"`

	ExpireRaw string `yaml:"expire" toml:"expire"`
}

// ClientConfig tells parley-chat where the gateway is and who it is
type ClientConfig struct {
	GatewayURL string `yaml:"gateway_url" toml:"gateway_url"`
	Token      string `yaml:"token" toml:"token"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// DefaultPath returns the config path from PARLEY_CONFIG, or the first of
// ./parley.yaml and ~/.config/parley/config.yaml that exists.
func DefaultPath() string {
	if p := os.Getenv("PARLEY_CONFIG"); p != "" {
		return p
	}
	candidates := []string{"parley.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "parley", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return candidates[0]
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if p := os.Getenv("PARLEY_DB_PATH"); p != "" {
		cfg.Database.Path = p
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:3000"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		c.Database.Path = "parley.db"
	}
	if c.Database.Name == "" {
		c.Database.Name = "parley"
	}
	if c.Generation.Model == "" {
		c.Generation.Model = "gpt-4o-mini"
	}
	if c.Generation.Timeout == 0 {
		c.Generation.Timeout = 60 * time.Second
	}
	if c.Video.BaseURL == "" {
		c.Video.BaseURL = "https://www.googleapis.com/youtube/v3"
	}
	if c.Video.Timeout == 0 {
		c.Video.Timeout = 10 * time.Second
	}
	if c.Upload.Expire == 0 {
		c.Upload.Expire = 30 * time.Minute
	}
	if c.Client.GatewayURL == "" {
		c.Client.GatewayURL = "http://" + c.Server.HTTPAddr
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks the fields shared by every binary.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverMongo:
		if c.Database.URI == "" {
			return fmt.Errorf("database.uri is required for the mongo driver")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverMongo, c.Database.Driver)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	return nil
}

// ValidateGateway checks what the gateway needs on top of Validate.
func (c *Config) ValidateGateway() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < auth.MinSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", auth.MinSecretLength)
	}
	if c.Upload.PrivateKey != "" && c.Upload.PublicKey == "" {
		return fmt.Errorf("upload.public_key is required when upload.private_key is set")
	}
	return nil
}

// ValidateClient checks what parley-chat needs on top of Validate.
func (c *Config) ValidateClient() error {
	var errs []error
	if c.Client.GatewayURL == "" {
		errs = append(errs, fmt.Errorf("client.gateway_url is required"))
	}
	if c.Client.Token == "" {
		errs = append(errs, fmt.Errorf("client.token is required"))
	}
	if c.Generation.APIKey == "" && c.Video.APIKey == "" {
		errs = append(errs, fmt.Errorf("at least one of generation.api_key and video.api_key is required"))
	}
	return errors.Join(errs...)
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"generation.timeout", cfg.Generation.TimeoutRaw, &cfg.Generation.Timeout},
		{"video.timeout", cfg.Video.TimeoutRaw, &cfg.Video.Timeout},
		{"upload.expire", cfg.Upload.ExpireRaw, &cfg.Upload.Expire},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}

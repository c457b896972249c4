// Package config loads service configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	Profiling     ProfilingConfig     `yaml:"profiling"`
	Observability ObservabilityConfig `yaml:"observability"`
	Assist        AssistConfig        `yaml:"assist"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host           string  `yaml:"host"`
	Port           int     `yaml:"port"`
	RateLimit      float64 `yaml:"rate_limit"` // requests per second, 0 disables
	RateBurst      int     `yaml:"rate_burst"`
	MaxUploadBytes int64   `yaml:"max_upload_bytes"`
}

// DatabaseConfig identifies the PostgreSQL database.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// AuthConfig holds the bearer-token verification secret.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// ProfilingConfig toggles the pprof listener.
type ProfilingConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// ObservabilityConfig toggles the metrics endpoint.
type ObservabilityConfig struct {
	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// AssistConfig configures the optional chat-completions collaborator.
type AssistConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

// DSN renders the database settings as a connection URL.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.Name,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Default returns a Config with local-development defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			RateLimit:      20,
			RateBurst:      40,
			MaxUploadBytes: 10 << 20,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "postgres",
			Name:    "reconciler",
			SSLMode: "disable",
		},
		Profiling: ProfilingConfig{
			Port: 6060,
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
		},
		Assist: AssistConfig{
			BaseURL:           "https://api.openai.com/v1",
			Model:             "gpt-4",
			Timeout:           60 * time.Second,
			RequestsPerMinute: 60,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE (if set), then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.Assist.APIKey == "" {
		cfg.Assist.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error

	setString(&c.Server.Host, "SERVER_HOST")
	errs = append(errs,
		setInt(&c.Server.Port, "SERVER_PORT"),
		setFloat(&c.Server.RateLimit, "RATE_LIMIT_RPS"),
		setInt(&c.Server.RateBurst, "RATE_LIMIT_BURST"),
		setInt64(&c.Server.MaxUploadBytes, "MAX_UPLOAD_BYTES"),
	)

	setString(&c.Database.Host, "DB_HOST")
	errs = append(errs, setInt(&c.Database.Port, "DB_PORT"))
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.Name, "DB_NAME")
	setString(&c.Database.SSLMode, "DB_SSLMODE")

	setString(&c.Auth.JWTSecret, "JWT_SECRET")

	errs = append(errs,
		setBool(&c.Profiling.Enabled, "PROFILING_ENABLED"),
		setInt(&c.Profiling.Port, "PROFILING_PORT"),
		setBool(&c.Observability.MetricsEnabled, "METRICS_ENABLED"),
		setBool(&c.Assist.Enabled, "ASSIST_ENABLED"),
	)

	setString(&c.Assist.BaseURL, "ASSIST_BASE_URL")
	setString(&c.Assist.APIKey, "OPENAI_API_KEY")
	setString(&c.Assist.APIKey, "ASSIST_API_KEY")
	setString(&c.Assist.Model, "ASSIST_MODEL")
	errs = append(errs,
		setDuration(&c.Assist.Timeout, "ASSIST_TIMEOUT"),
		setInt(&c.Assist.RequestsPerMinute, "ASSIST_REQUESTS_PER_MINUTE"),
	)

	return errors.Join(errs...)
}

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max upload bytes must be positive"))
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		errs = append(errs, errors.New("rate limit settings must not be negative"))
	}
	if c.Database.Name == "" {
		errs = append(errs, errors.New("database name is required"))
	}
	if c.Assist.Enabled && c.Assist.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("assist requests per minute must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

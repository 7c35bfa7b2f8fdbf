// ABOUTME: Configuration loading and parsing for coven-hub
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultJWTSecret is only suitable for local operation.
const DefaultJWTSecret = "coven-hub-insecure-local-secret"

// Config represents the complete coven-hub configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	Auth        AuthConfig        `yaml:"auth" toml:"auth"`
	Messaging   MessagingConfig   `yaml:"messaging" toml:"messaging"`
	Scheduler   SchedulerConfig   `yaml:"scheduler" toml:"scheduler"`
	Conflicts   ConflictsConfig   `yaml:"conflicts" toml:"conflicts"`
	Quality     QualityConfig     `yaml:"quality" toml:"quality"`
	Persistence PersistenceConfig `yaml:"persistence" toml:"persistence"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" toml:"metrics"`
	Events      EventsConfig      `yaml:"events" toml:"events"`
}

// ServerConfig holds server address configuration. An empty GRPCAddr
// disables the gRPC health listener.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds token signing and login throttling configuration
type AuthConfig struct {
	JWTSecret  string  `yaml:"jwt_secret" toml:"jwt_secret"`
	BcryptCost int     `yaml:"bcrypt_cost" toml:"bcrypt_cost"`
	LoginRate  float64 `yaml:"login_rate" toml:"login_rate"`
	LoginBurst int     `yaml:"login_burst" toml:"login_burst"`

	TokenTTL    time.Duration `yaml:"-" toml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl" toml:"token_ttl"`
}

// MessagingConfig holds message router configuration
type MessagingConfig struct {
	DeliveryInterval time.Duration `yaml:"-" toml:"-"`
	IdempotencyTTL   time.Duration `yaml:"-" toml:"-"`

	DeliveryIntervalRaw string `yaml:"delivery_interval" toml:"delivery_interval"`
	IdempotencyTTLRaw   string `yaml:"idempotency_ttl" toml:"idempotency_ttl"`
}

// SchedulerConfig holds the cron expression of every cadence
type SchedulerConfig struct {
	Timezone      string `yaml:"timezone" toml:"timezone"`
	DailyStandup  string `yaml:"daily_standup" toml:"daily_standup"`
	WeeklyReview  string `yaml:"weekly_review" toml:"weekly_review"`
	QualityCheck  string `yaml:"quality_check" toml:"quality_check"`
	ConflictSweep string `yaml:"conflict_sweep" toml:"conflict_sweep"`
	ProgressCheck string `yaml:"progress_check" toml:"progress_check"`

	// StaleAfter is how long an agent may go without an update before the
	// progress check reports it.
	StaleAfter    time.Duration `yaml:"-" toml:"-"`
	StaleAfterRaw string        `yaml:"stale_after" toml:"stale_after"`
}

// Specs returns cadence name to cron expression.
func (s SchedulerConfig) Specs() map[string]string {
	return map[string]string{
		"daily_standup":  s.DailyStandup,
		"weekly_review":  s.WeeklyReview,
		"quality_check":  s.QualityCheck,
		"conflict_sweep": s.ConflictSweep,
		"progress_check": s.ProgressCheck,
	}
}

// Location resolves Timezone. Empty means the process local zone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

// ConflictsConfig holds conflict detection configuration
type ConflictsConfig struct {
	DetectionProbability float64 `yaml:"detection_probability" toml:"detection_probability"`
}

// QualityConfig holds quality gate configuration
type QualityConfig struct {
	RunInterval    time.Duration `yaml:"-" toml:"-"`
	RunIntervalRaw string        `yaml:"run_interval" toml:"run_interval"`
}

// PersistenceConfig bounds store calls
type PersistenceConfig struct {
	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
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

// EventsConfig holds the optional NATS relay configuration. An empty
// NATSURL disables the relay.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url" toml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix" toml:"subject_prefix"`
}

// Default returns a configuration usable for local operation.
func Default() *Config {
	cfg := &Config{
		Server:   ServerConfig{HTTPAddr: "127.0.0.1:8080"},
		Database: DatabaseConfig{Path: "./coven-hub.db"},
		Auth: AuthConfig{
			JWTSecret:   DefaultJWTSecret,
			BcryptCost:  10,
			LoginRate:   1,
			LoginBurst:  5,
			TokenTTLRaw: "24h",
		},
		Messaging: MessagingConfig{
			DeliveryIntervalRaw: "5s",
			IdempotencyTTLRaw:   "10m",
		},
		Scheduler: SchedulerConfig{
			DailyStandup:  "0 9 * * *",
			WeeklyReview:  "0 14 * * 5",
			QualityCheck:  "0 */2 * * *",
			ConflictSweep: "*/30 * * * *",
			ProgressCheck: "0 * * * *",
			StaleAfterRaw: "2h",
		},
		Conflicts:   ConflictsConfig{DetectionProbability: 0.1},
		Quality:     QualityConfig{RunIntervalRaw: "2h"},
		Persistence: PersistenceConfig{TimeoutRaw: "5s"},
		Logging:     LoggingConfig{Level: "info", Format: "text"},
		Metrics:     MetricsConfig{Enabled: true, Path: "/metrics"},
		Events:      EventsConfig{SubjectPrefix: "coven.hub"},
	}
	// Defaults are valid durations.
	_ = parseDurations(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML. Fields
// absent from the file keep their Default values. Environment variables in the
// format ${VAR_NAME} are expanded, then COVEN_DB_PATH and COVEN_JWT_SECRET
// override their fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Finalize applies environment overrides, parses durations and validates.
func (c *Config) Finalize() error {
	applyEnvOverrides(c)

	if err := parseDurations(c); err != nil {
		return fmt.Errorf("parsing durations: %w", err)
	}

	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("COVEN_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("COVEN_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth.jwt_secret must be at least 16 bytes")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("auth.bcrypt_cost must be between 4 and 31")
	}
	if c.Auth.LoginRate <= 0 || c.Auth.LoginBurst < 1 {
		return fmt.Errorf("auth.login_rate must be positive and auth.login_burst at least 1")
	}

	for name, spec := range c.Scheduler.Specs() {
		if strings.TrimSpace(spec) == "" {
			return fmt.Errorf("scheduler.%s is required", name)
		}
	}
	if _, err := c.Scheduler.Location(); err != nil {
		return fmt.Errorf("scheduler.timezone %q: %w", c.Scheduler.Timezone, err)
	}

	if p := c.Conflicts.DetectionProbability; p < 0 || p > 1 {
		return fmt.Errorf("conflicts.detection_probability must be between 0 and 1")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"messaging.delivery_interval", cfg.Messaging.DeliveryIntervalRaw, &cfg.Messaging.DeliveryInterval},
		{"messaging.idempotency_ttl", cfg.Messaging.IdempotencyTTLRaw, &cfg.Messaging.IdempotencyTTL},
		{"scheduler.stale_after", cfg.Scheduler.StaleAfterRaw, &cfg.Scheduler.StaleAfter},
		{"quality.run_interval", cfg.Quality.RunIntervalRaw, &cfg.Quality.RunInterval},
		{"persistence.timeout", cfg.Persistence.TimeoutRaw, &cfg.Persistence.Timeout},
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

// Package config resolves runtime tunables from an optional YAML file and
// HUB_* environment variables. Environment values win over file values.
// Invalid configuration is fatal at process startup and nowhere else.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultAddr is the default TCP address the hub listens on.
	DefaultAddr = ":8090"
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultIdleThreshold is how long a session may stay silent before the
	// liveness sweep reaps it.
	DefaultIdleThreshold = 90 * time.Second
	// DefaultSweepInterval is the cadence of the liveness sweep.
	DefaultSweepInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 1 << 20
	// DefaultSendBuffer sizes each session's private outbound channel.
	DefaultSendBuffer = 64

	// DefaultLogLevel controls verbosity for hub logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "hub.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10

	// DefaultJournalStatsInterval is the cadence of journal stats frames.
	DefaultJournalStatsInterval = 30 * time.Second
)

// Config captures all runtime tunables for the hub service.
type Config struct {
	Address         string
	AllowedOrigins  []string
	MaxPayloadBytes int64
	PingInterval    time.Duration
	SendBuffer      int

	IdleThreshold time.Duration
	SweepInterval time.Duration

	TLSCertPath string
	TLSKeyPath  string

	// IdentitySecret verifies the HS256 identity tokens minted by the
	// external auth service. Empty disables verification (development only).
	IdentitySecret string
	// IngestToken authorises the producer-facing HTTP ingest endpoints.
	IngestToken string

	JournalPath          string
	JournalStatsInterval time.Duration

	Logging LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

// fileConfig mirrors Config for the optional YAML file.
type fileConfig struct {
	Address         string   `yaml:"address"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	MaxPayloadBytes int64    `yaml:"max_payload_bytes"`
	PingInterval    string   `yaml:"ping_interval"`
	SendBuffer      int      `yaml:"send_buffer"`
	IdleThreshold   string   `yaml:"idle_threshold"`
	SweepInterval   string   `yaml:"sweep_interval"`
	TLSCertPath     string   `yaml:"tls_cert"`
	TLSKeyPath      string   `yaml:"tls_key"`
	IdentitySecret  string   `yaml:"identity_secret"`
	IngestToken     string   `yaml:"ingest_token"`
	JournalPath     string   `yaml:"journal_path"`
	JournalStats    string   `yaml:"journal_stats_interval"`
	Logging         struct {
		Level      string `yaml:"level"`
		Path       string `yaml:"path"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
	} `yaml:"logging"`
}

// Load resolves the configuration, applying defaults, then the YAML file
// named by HUB_CONFIG_FILE, then environment overrides. All problems are
// aggregated into one descriptive error.
func Load() (*Config, error) {
	cfg := &Config{
		Address:              DefaultAddr,
		MaxPayloadBytes:      DefaultMaxPayloadBytes,
		PingInterval:         DefaultPingInterval,
		SendBuffer:           DefaultSendBuffer,
		IdleThreshold:        DefaultIdleThreshold,
		SweepInterval:        DefaultSweepInterval,
		JournalStatsInterval: DefaultJournalStatsInterval,
		Logging: LoggingConfig{
			Level:      DefaultLogLevel,
			Path:       DefaultLogPath,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
		},
	}

	var problems []string

	if path := strings.TrimSpace(os.Getenv("HUB_CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			problems = append(problems, err.Error())
		}
	}
	cfg.applyEnvironment(&problems)

	if cfg.IdleThreshold <= 0 {
		problems = append(problems, "idle threshold must be a positive duration")
	}
	if cfg.SweepInterval <= 0 {
		problems = append(problems, "sweep interval must be a positive duration")
	}
	if cfg.PingInterval <= 0 {
		problems = append(problems, "ping interval must be a positive duration")
	}
	if cfg.SendBuffer <= 0 {
		problems = append(problems, "send buffer must be a positive integer")
	}
	if cfg.MaxPayloadBytes <= 0 {
		problems = append(problems, "max payload bytes must be positive")
	}
	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		problems = append(problems, "HUB_TLS_CERT and HUB_TLS_KEY must be provided together")
	}

	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("HUB_CONFIG_FILE %q does not exist", path)
		}
		return fmt.Errorf("read HUB_CONFIG_FILE: %v", err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse HUB_CONFIG_FILE: %v", err)
	}

	setString(&c.Address, file.Address)
	if len(file.AllowedOrigins) > 0 {
		c.AllowedOrigins = file.AllowedOrigins
	}
	if file.MaxPayloadBytes > 0 {
		c.MaxPayloadBytes = file.MaxPayloadBytes
	}
	if file.SendBuffer > 0 {
		c.SendBuffer = file.SendBuffer
	}
	setString(&c.TLSCertPath, file.TLSCertPath)
	setString(&c.TLSKeyPath, file.TLSKeyPath)
	setString(&c.IdentitySecret, file.IdentitySecret)
	setString(&c.IngestToken, file.IngestToken)
	setString(&c.JournalPath, file.JournalPath)
	setString(&c.Logging.Level, file.Logging.Level)
	setString(&c.Logging.Path, file.Logging.Path)
	if file.Logging.MaxSizeMB > 0 {
		c.Logging.MaxSizeMB = file.Logging.MaxSizeMB
	}
	if file.Logging.MaxBackups > 0 {
		c.Logging.MaxBackups = file.Logging.MaxBackups
	}

	var problems []string
	parseFileDuration(&c.PingInterval, file.PingInterval, "ping_interval", &problems)
	parseFileDuration(&c.IdleThreshold, file.IdleThreshold, "idle_threshold", &problems)
	parseFileDuration(&c.SweepInterval, file.SweepInterval, "sweep_interval", &problems)
	parseFileDuration(&c.JournalStatsInterval, file.JournalStats, "journal_stats_interval", &problems)
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) applyEnvironment(problems *[]string) {
	c.Address = getString("HUB_ADDR", c.Address)
	if raw := strings.TrimSpace(os.Getenv("HUB_ALLOWED_ORIGINS")); raw != "" {
		c.AllowedOrigins = parseList(raw)
	}
	c.TLSCertPath = getString("HUB_TLS_CERT", c.TLSCertPath)
	c.TLSKeyPath = getString("HUB_TLS_KEY", c.TLSKeyPath)
	c.IdentitySecret = getString("HUB_IDENTITY_SECRET", c.IdentitySecret)
	c.IngestToken = getString("HUB_INGEST_TOKEN", c.IngestToken)
	c.JournalPath = getString("HUB_JOURNAL_PATH", c.JournalPath)
	c.Logging.Level = getString("HUB_LOG_LEVEL", c.Logging.Level)
	c.Logging.Path = getString("HUB_LOG_PATH", c.Logging.Path)

	parseEnvDuration(&c.PingInterval, "HUB_PING_INTERVAL", problems)
	parseEnvDuration(&c.IdleThreshold, "HUB_IDLE_THRESHOLD", problems)
	parseEnvDuration(&c.SweepInterval, "HUB_SWEEP_INTERVAL", problems)
	parseEnvDuration(&c.JournalStatsInterval, "HUB_JOURNAL_STATS_INTERVAL", problems)
	parseEnvInt64(&c.MaxPayloadBytes, "HUB_MAX_PAYLOAD_BYTES", problems)
	parseEnvInt(&c.SendBuffer, "HUB_SEND_BUFFER", problems)
	parseEnvInt(&c.Logging.MaxSizeMB, "HUB_LOG_MAX_SIZE_MB", problems)
	parseEnvInt(&c.Logging.MaxBackups, "HUB_LOG_MAX_BACKUPS", problems)
}

func setString(dst *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*dst = trimmed
	}
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	return values
}

func parseFileDuration(dst *time.Duration, raw, key string, problems *[]string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
		return
	}
	*dst = value
}

func parseEnvDuration(dst *time.Duration, key string, problems *[]string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
		return
	}
	*dst = value
}

func parseEnvInt(dst *int, key string, problems *[]string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s must be a positive integer, got %q", key, raw))
		return
	}
	*dst = value
}

func parseEnvInt64(dst *int64, key string, problems *[]string) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s must be a positive integer, got %q", key, raw))
		return
	}
	*dst = value
}

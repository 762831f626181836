package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/servicedg/internal/model"
)

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = "servicedg.db"

	defaultBlockCount          = 10
	defaultStatusPollSeconds   = 60
	defaultMetricsPollSeconds  = 30
	defaultSnapshotMaxAgeHours = 7 * 24

	defaultAxisStart     = "10:25"
	defaultAxisEnd       = "23:00"
	defaultBucketMinutes = 1

	envListenAddr = "SERVICEDG_LISTEN_ADDR"
	envDBPath     = "SERVICEDG_DB_PATH"
	envLogLevel   = "SERVICEDG_LOG_LEVEL"
	envAPIKey     = "SERVICEDG_PROVIDER_API_KEY"
)

// EnvConfigPath names the environment variable holding the YAML config path.
const EnvConfigPath = "SERVICEDG_CONFIG"

// Config holds application configuration loaded from environment variables
// and an optional YAML file.
type Config struct {
	ListenAddr string     `yaml:"-"`
	DBPath     string     `yaml:"-"`
	LogLevel   slog.Level `yaml:"-"`

	Provider ProviderConfig `yaml:"provider"`
	History  HistoryConfig  `yaml:"history"`
	Report   ReportConfig   `yaml:"report"`
	Engine   EngineConfig   `yaml:"engine"`
	Notify   NotifyConfig   `yaml:"notify"`
	Blocks   []BlockConfig  `yaml:"blocks"`
}

// ProviderConfig configures the SMM reseller API client.
type ProviderConfig struct {
	BaseURL   string                   `yaml:"baseURL"`
	APIKey    string                   `yaml:"apiKey"`
	TimeoutMs int                      `yaml:"timeoutMs"`
	Retry     RetryConfig              `yaml:"retry"`
	QPS       float64                  `yaml:"qps"`
	Burst     int                      `yaml:"burst"`
	Services  map[string]ServiceConfig `yaml:"services"`
}

// ServiceConfig maps a service duration id to a reseller service.
type ServiceConfig struct {
	ServiceID   int     `yaml:"serviceId"`
	RatePer1000 float64 `yaml:"ratePer1000"`
}

// RetryConfig configures transport level retries.
type RetryConfig struct {
	Count     int `yaml:"count"`
	WaitMs    int `yaml:"waitMs"`
	MaxWaitMs int `yaml:"maxWaitMs"`
}

// HistoryConfig configures the best-effort operations history side-channel.
type HistoryConfig struct {
	BaseURL   string `yaml:"baseURL"`
	UserID    string `yaml:"userId"`
	TimeoutMs int    `yaml:"timeoutMs"`
}

// ReportConfig configures the time axis of the bucketed report sheet.
type ReportConfig struct {
	AxisStart     string `yaml:"axisStart"`
	AxisEnd       string `yaml:"axisEnd"`
	BucketMinutes int    `yaml:"bucketMinutes"`
	Timezone      string `yaml:"timezone"`
}

// EngineConfig configures the block orchestrator.
type EngineConfig struct {
	BlockCount          int `yaml:"blockCount"`
	StatusPollSeconds   int `yaml:"statusPollSeconds"`
	MetricsPollSeconds  int `yaml:"metricsPollSeconds"`
	SnapshotMaxAgeHours int `yaml:"snapshotMaxAgeHours"`
}

// NotifyConfig configures completion notifications.
type NotifyConfig struct {
	SlackWebhook string      `yaml:"slackWebhook"`
	Email        EmailConfig `yaml:"email"`
}

// EmailConfig configures SMTP delivery of completion notifications.
type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// BlockConfig is the initial title and configuration of one block.
type BlockConfig struct {
	Title  string            `yaml:"title"`
	Config model.BlockConfig `yaml:"config"`
}

// Load reads configuration from environment variables with sensible defaults,
// then merges the YAML file named by SERVICEDG_CONFIG when set.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr: defaultListenAddr,
		DBPath:     defaultDBPath,
		LogLevel:   slog.LevelInfo,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}

	if path := os.Getenv(EnvConfigPath); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	if v := os.Getenv(envAPIKey); v != "" {
		cfg.Provider.APIKey = v
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "http://127.0.0.1:8090/api/v2"
	}
	if c.Provider.QPS <= 0 {
		c.Provider.QPS = 2
	}
	if c.Provider.Burst <= 0 {
		c.Provider.Burst = 4
	}
	if len(c.Provider.Services) == 0 {
		c.Provider.Services = DefaultServices()
	}
	if c.Provider.Retry.Count < 0 {
		c.Provider.Retry.Count = 0
	}
	if c.Report.AxisStart == "" {
		c.Report.AxisStart = defaultAxisStart
	}
	if c.Report.AxisEnd == "" {
		c.Report.AxisEnd = defaultAxisEnd
	}
	if c.Report.BucketMinutes <= 0 {
		c.Report.BucketMinutes = defaultBucketMinutes
	}
	if c.Engine.BlockCount <= 0 {
		c.Engine.BlockCount = defaultBlockCount
	}
	if c.Engine.StatusPollSeconds <= 0 {
		c.Engine.StatusPollSeconds = defaultStatusPollSeconds
	}
	if c.Engine.MetricsPollSeconds <= 0 {
		c.Engine.MetricsPollSeconds = defaultMetricsPollSeconds
	}
	if c.Engine.SnapshotMaxAgeHours <= 0 {
		c.Engine.SnapshotMaxAgeHours = defaultSnapshotMaxAgeHours
	}
	if c.Notify.Email.Port == 0 {
		c.Notify.Email.Port = 465
	}
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	start, err := model.ParseClock(c.Report.AxisStart)
	if err != nil {
		return fmt.Errorf("report.axisStart: %w", err)
	}
	end, err := model.ParseClock(c.Report.AxisEnd)
	if err != nil {
		return fmt.Errorf("report.axisEnd: %w", err)
	}
	if end.Hour*60+end.Minute <= start.Hour*60+start.Minute {
		return errors.New("report.axisEnd must be after report.axisStart")
	}
	if _, err := c.Report.Location(); err != nil {
		return fmt.Errorf("report.timezone: %w", err)
	}
	if len(c.Blocks) > c.Engine.BlockCount {
		return fmt.Errorf("%d blocks configured but engine.blockCount is %d", len(c.Blocks), c.Engine.BlockCount)
	}
	for i, b := range c.Blocks {
		if err := b.Config.Validate(); err != nil {
			return fmt.Errorf("blocks[%d]: %w", i, err)
		}
	}
	for id := range c.Provider.Services {
		if _, ok := model.DurationMinutes(id); !ok {
			return fmt.Errorf("provider.services: unknown duration %q", id)
		}
	}
	if c.Notify.Email.Enabled && (c.Notify.Email.Host == "" || len(c.Notify.Email.To) == 0) {
		return errors.New("notify.email requires host and at least one recipient")
	}
	return nil
}

// DefaultServices maps every service duration to panel services 101 and up
// in duration order, at 1.00 per 1000 viewers.
func DefaultServices() map[string]ServiceConfig {
	ids := model.DurationIDs()
	out := make(map[string]ServiceConfig, len(ids))
	for i, id := range ids {
		out[id] = ServiceConfig{ServiceID: 101 + i, RatePer1000: 1.0}
	}
	return out
}

// Timeout returns the provider request timeout.
func (c ProviderConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Wait returns the initial retry back-off.
func (c RetryConfig) Wait() time.Duration {
	if c.WaitMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.WaitMs) * time.Millisecond
}

// MaxWait returns the maximum retry back-off.
func (c RetryConfig) MaxWait() time.Duration {
	if c.MaxWaitMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}

// Timeout returns the history side-channel request timeout.
func (c HistoryConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Location resolves the report time zone, defaulting to local time.
func (c ReportConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// StatusPollInterval returns the order status poll cadence.
func (c EngineConfig) StatusPollInterval() time.Duration {
	return time.Duration(c.StatusPollSeconds) * time.Second
}

// MetricsPollInterval returns the metrics recompute cadence.
func (c EngineConfig) MetricsPollInterval() time.Duration {
	return time.Duration(c.MetricsPollSeconds) * time.Second
}

// SnapshotMaxAge returns the age after which saved block snapshots are stale.
func (c EngineConfig) SnapshotMaxAge() time.Duration {
	return time.Duration(c.SnapshotMaxAgeHours) * time.Hour
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

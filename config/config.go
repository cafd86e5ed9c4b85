// Package config loads the collector configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/CillianDeasy/esb-smart-meter-reading-automation/esb"
	pkgconfig "github.com/CillianDeasy/esb-smart-meter-reading-automation/pkg/config"
	"github.com/CillianDeasy/esb-smart-meter-reading-automation/storage"
)

// Config holds all configuration for the meter reading collector
type Config struct {
	ESB      ESBConfig      `yaml:"esb"`
	Export   ExportConfig   `yaml:"export"`
	Storage  StorageConfig  `yaml:"storage"`
	Schedule ScheduleConfig `yaml:"schedule"`

	Logging       pkgconfig.LoggingConfig       `yaml:"logging"`
	OpenTelemetry pkgconfig.OpenTelemetryConfig `yaml:"opentelemetry"`
	Profiling     pkgconfig.ProfilingConfig     `yaml:"profiling"`
}

// ESBConfig holds the portal account and connection settings
type ESBConfig struct {
	Username string `yaml:"username" env:"ESB_USERNAME" env-required:"true"`
	// Password may be left empty and entered interactively
	Password       string `yaml:"password" env:"ESB_PASSWORD"`
	MPRN           string `yaml:"mprn" env:"ESB_MPRN" env-required:"true"`
	UserAgent      string `yaml:"userAgent" env:"ESB_USER_AGENT"`
	TimeoutSeconds int    `yaml:"timeoutSeconds" env:"ESB_TIMEOUT_SECONDS" env-default:"60"`

	PortalURL string `yaml:"portalUrl" env:"ESB_PORTAL_URL"`
	LoginURL  string `yaml:"loginUrl" env:"ESB_LOGIN_URL"`
	Policy    string `yaml:"policy" env:"ESB_POLICY"`
	ExportURL string `yaml:"exportUrl" env:"ESB_EXPORT_URL"`
}

// ExportConfig controls which readings are requested and how they are converted
type ExportConfig struct {
	// StartDate is YYYY-MM-DD. Empty means today minus LookbackDays.
	StartDate    string `yaml:"startDate" env:"EXPORT_START_DATE"`
	LookbackDays int    `yaml:"lookbackDays" env:"EXPORT_LOOKBACK_DAYS" env-default:"0"`
	Timezone     string `yaml:"timezone" env:"EXPORT_TIMEZONE" env-default:"Europe/Dublin"`
	Measurement  string `yaml:"measurement" env:"EXPORT_MEASUREMENT" env-default:"meter_reading"`
}

// StorageConfig selects the time-series backend
type StorageConfig struct {
	Backend     string            `yaml:"backend" env:"STORAGE_BACKEND" env-default:"remote_write"`
	RemoteWrite RemoteWriteConfig `yaml:"remoteWrite"`
	Postgres    PostgresConfig    `yaml:"postgres"`
}

// RemoteWriteConfig holds Prometheus remote_write settings
type RemoteWriteConfig struct {
	URL            string `yaml:"url" env:"REMOTE_WRITE_URL"`
	Username       string `yaml:"username" env:"REMOTE_WRITE_USERNAME"`
	Password       string `yaml:"password" env:"REMOTE_WRITE_PASSWORD"`
	Attempts       int    `yaml:"attempts" env:"REMOTE_WRITE_ATTEMPTS" env-default:"1"`
	TimeoutSeconds int    `yaml:"timeoutSeconds" env:"REMOTE_WRITE_TIMEOUT_SECONDS" env-default:"30"`
}

// PostgresConfig holds PostgreSQL settings
type PostgresConfig struct {
	DSN   string `yaml:"dsn" env:"POSTGRES_DSN"`
	Table string `yaml:"table" env:"POSTGRES_TABLE" env-default:"meter_readings"`
}

// ScheduleConfig controls the serve command
type ScheduleConfig struct {
	Cron              string `yaml:"cron" env:"SCHEDULE_CRON" env-default:"@daily"`
	RunOnStart        bool   `yaml:"runOnStart" env:"SCHEDULE_RUN_ON_START" env-default:"true"`
	HealthCheckPort   int    `yaml:"healthCheckPort" env:"HEALTH_CHECK_PORT" env-default:"8080"`
	PendingBufferSize int    `yaml:"pendingBufferSize" env:"PENDING_BUFFER_SIZE" env-default:"50000"`
}

// Load reads configuration from the specified file path and applies environment variable overrides
func Load(configPath string) (*Config, error) {
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from %s: %w", configPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all configuration parameters are valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ESB.Username) == "" {
		return fmt.Errorf("esb.username cannot be empty")
	}
	if strings.TrimSpace(c.ESB.MPRN) == "" {
		return fmt.Errorf("esb.mprn cannot be empty")
	}
	if c.ESB.TimeoutSeconds <= 0 {
		return fmt.Errorf("esb.timeoutSeconds must be positive, got %d", c.ESB.TimeoutSeconds)
	}
	for name, raw := range map[string]string{
		"esb.portalUrl": c.ESB.PortalURL,
		"esb.loginUrl":  c.ESB.LoginURL,
		"esb.exportUrl": c.ESB.ExportURL,
	} {
		if raw == "" {
			continue
		}
		if _, err := url.ParseRequestURI(raw); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if c.Export.StartDate != "" {
		if _, err := time.Parse(esb.StartDateLayout, c.Export.StartDate); err != nil {
			return fmt.Errorf("export.startDate must be YYYY-MM-DD, got %q", c.Export.StartDate)
		}
	}
	if c.Export.LookbackDays < 0 {
		return fmt.Errorf("export.lookbackDays cannot be negative, got %d", c.Export.LookbackDays)
	}
	if _, err := time.LoadLocation(c.Export.Timezone); err != nil {
		return fmt.Errorf("invalid export.timezone: %w", err)
	}
	if strings.TrimSpace(c.Export.Measurement) == "" {
		return fmt.Errorf("export.measurement cannot be empty")
	}

	if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
		return fmt.Errorf("invalid schedule.cron: %w", err)
	}
	if c.Schedule.HealthCheckPort <= 0 || c.Schedule.HealthCheckPort > 65535 {
		return fmt.Errorf("schedule.healthCheckPort must be between 1 and 65535, got %d", c.Schedule.HealthCheckPort)
	}
	if c.Schedule.PendingBufferSize <= 0 {
		return fmt.Errorf("schedule.pendingBufferSize must be positive, got %d", c.Schedule.PendingBufferSize)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging validation failed: %w", err)
	}
	if err := c.OpenTelemetry.Validate(); err != nil {
		return fmt.Errorf("opentelemetry validation failed: %w", err)
	}
	if err := c.Profiling.Validate(); err != nil {
		return fmt.Errorf("profiling validation failed: %w", err)
	}

	return nil
}

// ValidateStorage checks the storage backend settings. Only commands that
// write readings need them.
func (c *Config) ValidateStorage() error {
	switch c.Storage.Backend {
	case storage.BackendRemoteWrite:
		if _, err := url.ParseRequestURI(c.Storage.RemoteWrite.URL); err != nil {
			return fmt.Errorf("invalid storage.remoteWrite.url: %w", err)
		}
		if c.Storage.RemoteWrite.Attempts < 1 {
			return fmt.Errorf("storage.remoteWrite.attempts must be at least 1, got %d", c.Storage.RemoteWrite.Attempts)
		}
		if c.Storage.RemoteWrite.TimeoutSeconds <= 0 {
			return fmt.Errorf("storage.remoteWrite.timeoutSeconds must be positive, got %d", c.Storage.RemoteWrite.TimeoutSeconds)
		}
	case storage.BackendPostgres:
		if strings.TrimSpace(c.Storage.Postgres.DSN) == "" {
			return fmt.Errorf("storage.postgres.dsn cannot be empty")
		}
		if strings.TrimSpace(c.Storage.Postgres.Table) == "" {
			return fmt.Errorf("storage.postgres.table cannot be empty")
		}
	default:
		return fmt.Errorf("storage.backend must be '%s' or '%s', got '%s'",
			storage.BackendRemoteWrite, storage.BackendPostgres, c.Storage.Backend)
	}

	return nil
}

// Location returns the timezone readings are recorded in
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Export.Timezone)
}

// StartDate resolves the export start date relative to now
func (c *Config) StartDate(now time.Time) (time.Time, error) {
	loc, err := c.Location()
	if err != nil {
		return time.Time{}, err
	}
	if c.Export.StartDate != "" {
		return time.ParseInLocation(esb.StartDateLayout, c.Export.StartDate, loc)
	}
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d-c.Export.LookbackDays, 0, 0, 0, 0, loc), nil
}

// StaleAfter is how long serve may go without a successful run before it
// reports unhealthy: three scheduled intervals
func (c *Config) StaleAfter(now time.Time) (time.Duration, error) {
	schedule, err := cron.ParseStandard(c.Schedule.Cron)
	if err != nil {
		return 0, err
	}
	next := schedule.Next(now)
	return 3 * schedule.Next(next).Sub(next), nil
}

// Credentials returns the portal login credentials
func (c *Config) Credentials() esb.Credentials {
	return esb.Credentials{
		Username: c.ESB.Username,
		Password: c.ESB.Password,
		MPRN:     c.ESB.MPRN,
	}
}

// ClientConfig returns the portal client configuration
func (c *Config) ClientConfig() esb.Config {
	userAgent := c.ESB.UserAgent
	if userAgent == "" {
		userAgent = esb.DefaultUserAgent
	}
	return esb.Config{
		Endpoints: esb.Endpoints{
			PortalURL: c.ESB.PortalURL,
			LoginURL:  c.ESB.LoginURL,
			Policy:    c.ESB.Policy,
			ExportURL: c.ESB.ExportURL,
		},
		UserAgent: userAgent,
		Timeout:   time.Duration(c.ESB.TimeoutSeconds) * time.Second,
	}
}

// StorageConfig returns the storage backend configuration
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Backend: c.Storage.Backend,
		RemoteWrite: storage.RemoteWriteConfig{
			URL:      c.Storage.RemoteWrite.URL,
			Username: c.Storage.RemoteWrite.Username,
			Password: c.Storage.RemoteWrite.Password,
			Attempts: c.Storage.RemoteWrite.Attempts,
			Timeout:  time.Duration(c.Storage.RemoteWrite.TimeoutSeconds) * time.Second,
		},
		Postgres: storage.PostgresConfig{
			DSN:   c.Storage.Postgres.DSN,
			Table: c.Storage.Postgres.Table,
		},
	}
}

// Redacted returns a copy of the config with sensitive fields redacted for logging
func (c *Config) Redacted() map[string]interface{} {
	return map[string]interface{}{
		"esb": map[string]interface{}{
			"username":       c.ESB.Username,
			"passwordSet":    c.ESB.Password != "",
			"mprn":           c.ESB.MPRN,
			"timeoutSeconds": c.ESB.TimeoutSeconds,
			"portalUrl":      c.ESB.PortalURL,
			"loginUrl":       c.ESB.LoginURL,
			"exportUrl":      c.ESB.ExportURL,
		},
		"export": map[string]interface{}{
			"startDate":    c.Export.StartDate,
			"lookbackDays": c.Export.LookbackDays,
			"timezone":     c.Export.Timezone,
			"measurement":  c.Export.Measurement,
		},
		"storage": map[string]interface{}{
			"backend": c.Storage.Backend,
			"remoteWrite": map[string]interface{}{
				"url":      redactURL(c.Storage.RemoteWrite.URL),
				"username": c.Storage.RemoteWrite.Username,
				"password": "***",
				"attempts": c.Storage.RemoteWrite.Attempts,
			},
			"postgres": map[string]interface{}{
				"dsn":   redactURL(c.Storage.Postgres.DSN),
				"table": c.Storage.Postgres.Table,
			},
		},
		"schedule": map[string]interface{}{
			"cron":              c.Schedule.Cron,
			"runOnStart":        c.Schedule.RunOnStart,
			"healthCheckPort":   c.Schedule.HealthCheckPort,
			"pendingBufferSize": c.Schedule.PendingBufferSize,
		},
		"logging": map[string]interface{}{
			"logFormat": c.Logging.Format,
			"logLevel":  c.Logging.Level,
			"logOutput": c.Logging.Output,
		},
		"opentelemetry": map[string]interface{}{
			"enabled":        c.OpenTelemetry.Enabled,
			"serviceName":    c.OpenTelemetry.ServiceName,
			"tracesEnabled":  c.OpenTelemetry.Traces.Enabled,
			"metricsEnabled": c.OpenTelemetry.Metrics.Enabled,
			"endpointSet":    c.OpenTelemetry.Endpoint != "",
		},
		"profiling": map[string]interface{}{
			"enabled":       c.Profiling.Enabled,
			"serverAddress": c.Profiling.ServerAddress,
		},
	}
}

// NewLogger creates a zap logger based on the configuration
func (c *Config) NewLogger() (*zap.Logger, error) {
	return pkgconfig.NewLogger(&c.Logging)
}

// redactURL removes credentials from URLs for logging
func redactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		// key=value DSNs may carry a password anywhere
		return "***"
	}
	return u.Redacted()
}

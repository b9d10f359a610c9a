package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileEnv names the environment variable pointing at an optional YAML file
const FileEnv = "LEADFLOW_CONFIG_FILE"

// Audit drivers
const (
	AuditDriverNone     = ""
	AuditDriverPostgres = "postgres"
	AuditDriverSQLite   = "sqlite3"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Directory     DirectoryConfig     `yaml:"directory"`
	Identity      IdentityConfig      `yaml:"identity"`
	Redis         RedisConfig         `yaml:"redis"`
	Notification  NotificationConfig  `yaml:"notification"`
	Audit         AuditConfig         `yaml:"audit"`
	Conversion    ConversionConfig    `yaml:"conversion"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DirectoryConfig holds the organization directory connection
type DirectoryConfig struct {
	BaseURL            string        `yaml:"base_url"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	MutateTimeout      time.Duration `yaml:"mutate_timeout"`
}

// IdentityConfig holds the token endpoint and the organization-scoped
// user APIs. Endpoints left empty are derived from the directory base URL.
type IdentityConfig struct {
	TokenURL         string        `yaml:"token_url"`
	ClientID         string        `yaml:"client_id"`
	ClientSecret     string        `yaml:"client_secret"`
	Scope            string        `yaml:"scope"`
	UsersURL         string        `yaml:"users_url"`
	RolesURL         string        `yaml:"roles_url"`
	BulkURL          string        `yaml:"bulk_url"`
	RoleName         string        `yaml:"role_name"`
	UserStorePrefix  string        `yaml:"user_store_prefix"`
	TokenTimeout     time.Duration `yaml:"token_timeout"`
	TokenMaxAttempts int           `yaml:"token_max_attempts"`
	RoleCacheTTL     time.Duration `yaml:"role_cache_ttl"`
}

// RedisConfig enables the shared token cache and conversion lock. Both
// stay process-local when URL is empty.
type RedisConfig struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

// NotificationConfig selects the notification relay. Notifications are
// only logged when WebhookURL is empty.
type NotificationConfig struct {
	WebhookURL    string        `yaml:"webhook_url"`
	WebhookSecret string        `yaml:"webhook_secret"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxAttempts   int           `yaml:"max_attempts"`
}

// ReportScheduleOff disables the orphaned user report
const ReportScheduleOff = "off"

// AuditConfig selects the audit store database. ReportSchedule is a
// five-field cron spec for the orphaned user report; "off" disables it.
type AuditConfig struct {
	Driver         string `yaml:"driver"`
	DSN            string `yaml:"dsn"`
	ReportSchedule string `yaml:"report_schedule"`
}

// ConversionConfig tunes the conversion run. RateLimit caps convert
// requests per client within RateWindow; 0 disables the limit.
type ConversionConfig struct {
	LockTTL    time.Duration `yaml:"lock_ttl"`
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
	RateBurst  int           `yaml:"rate_burst"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// DefaultConfig returns the configuration used before any file or
// environment variable is applied
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    90 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Directory: DirectoryConfig{
			ReadTimeout:   10 * time.Second,
			MutateTimeout: 60 * time.Second,
		},
		Identity: IdentityConfig{
			Scope:            "SYSTEM",
			RoleName:         "superadmin",
			UserStorePrefix:  "PRIMARY",
			TokenTimeout:     10 * time.Second,
			TokenMaxAttempts: 3,
			RoleCacheTTL:     10 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:  10,
			KeyPrefix: "leadflow",
		},
		Notification: NotificationConfig{
			Timeout:     10 * time.Second,
			MaxAttempts: 3,
		},
		Audit: AuditConfig{
			ReportSchedule: "0 * * * *",
		},
		Conversion: ConversionConfig{
			LockTTL:    5 * time.Minute,
			RateLimit:  30,
			RateWindow: time.Minute,
			RateBurst:  5,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "leadflow",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// LoadConfig loads the defaults, then the YAML file named by
// LEADFLOW_CONFIG_FILE when set, then LEADFLOW_* environment variables
func LoadConfig() (*Config, error) {
	return Load(os.Getenv(FileEnv))
}

// Load is LoadConfig with an explicit file path. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadEnv()
	cfg.deriveEndpoints()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays a YAML file onto cfg. Keys absent from the file keep
// their current values.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays LEADFLOW_* variables onto cfg
func (c *Config) loadEnv() {
	s := &c.Server
	s.Host = getEnv("LEADFLOW_HOST", s.Host)
	s.Port = getEnv("LEADFLOW_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("LEADFLOW_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("LEADFLOW_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("LEADFLOW_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("LEADFLOW_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	d := &c.Directory
	d.BaseURL = getEnv("LEADFLOW_DIRECTORY_URL", d.BaseURL)
	d.Username = getEnv("LEADFLOW_DIRECTORY_USERNAME", d.Username)
	d.Password = getEnv("LEADFLOW_DIRECTORY_PASSWORD", d.Password)
	d.InsecureSkipVerify = getEnvBool("LEADFLOW_DIRECTORY_INSECURE_SKIP_VERIFY", d.InsecureSkipVerify)
	d.ReadTimeout = getEnvDuration("LEADFLOW_DIRECTORY_READ_TIMEOUT", d.ReadTimeout)
	d.MutateTimeout = getEnvDuration("LEADFLOW_DIRECTORY_MUTATE_TIMEOUT", d.MutateTimeout)

	i := &c.Identity
	i.TokenURL = getEnv("LEADFLOW_TOKEN_URL", i.TokenURL)
	i.ClientID = getEnv("LEADFLOW_CLIENT_ID", i.ClientID)
	i.ClientSecret = getEnv("LEADFLOW_CLIENT_SECRET", i.ClientSecret)
	i.Scope = getEnv("LEADFLOW_TOKEN_SCOPE", i.Scope)
	i.UsersURL = getEnv("LEADFLOW_USERS_URL", i.UsersURL)
	i.RolesURL = getEnv("LEADFLOW_ROLES_URL", i.RolesURL)
	i.BulkURL = getEnv("LEADFLOW_BULK_URL", i.BulkURL)
	i.RoleName = getEnv("LEADFLOW_ROLE_NAME", i.RoleName)
	i.UserStorePrefix = getEnv("LEADFLOW_USER_STORE_PREFIX", i.UserStorePrefix)
	i.TokenTimeout = getEnvDuration("LEADFLOW_TOKEN_TIMEOUT", i.TokenTimeout)
	i.TokenMaxAttempts = getEnvInt("LEADFLOW_TOKEN_MAX_ATTEMPTS", i.TokenMaxAttempts)
	i.RoleCacheTTL = getEnvDuration("LEADFLOW_ROLE_CACHE_TTL", i.RoleCacheTTL)

	r := &c.Redis
	r.URL = getEnv("LEADFLOW_REDIS_URL", r.URL)
	r.Password = getEnv("LEADFLOW_REDIS_PASSWORD", r.Password)
	r.DB = getEnvInt("LEADFLOW_REDIS_DB", r.DB)
	r.PoolSize = getEnvInt("LEADFLOW_REDIS_POOL_SIZE", r.PoolSize)
	r.KeyPrefix = getEnv("LEADFLOW_REDIS_KEY_PREFIX", r.KeyPrefix)

	n := &c.Notification
	n.WebhookURL = getEnv("LEADFLOW_NOTIFY_WEBHOOK_URL", n.WebhookURL)
	n.WebhookSecret = getEnv("LEADFLOW_NOTIFY_WEBHOOK_SECRET", n.WebhookSecret)
	n.Timeout = getEnvDuration("LEADFLOW_NOTIFY_TIMEOUT", n.Timeout)
	n.MaxAttempts = getEnvInt("LEADFLOW_NOTIFY_MAX_ATTEMPTS", n.MaxAttempts)

	c.Audit.Driver = getEnv("LEADFLOW_AUDIT_DRIVER", c.Audit.Driver)
	c.Audit.DSN = getEnv("LEADFLOW_AUDIT_DSN", c.Audit.DSN)
	c.Audit.ReportSchedule = getEnv("LEADFLOW_AUDIT_REPORT_SCHEDULE", c.Audit.ReportSchedule)

	cv := &c.Conversion
	cv.LockTTL = getEnvDuration("LEADFLOW_LOCK_TTL", cv.LockTTL)
	cv.RateLimit = getEnvInt("LEADFLOW_RATE_LIMIT", cv.RateLimit)
	cv.RateWindow = getEnvDuration("LEADFLOW_RATE_WINDOW", cv.RateWindow)
	cv.RateBurst = getEnvInt("LEADFLOW_RATE_BURST", cv.RateBurst)

	o := &c.Observability
	o.LogLevel = getEnv("LEADFLOW_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("LEADFLOW_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("LEADFLOW_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("LEADFLOW_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("LEADFLOW_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("LEADFLOW_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("LEADFLOW_OTEL_INSECURE", o.OTelInsecure)
}

// deriveEndpoints fills identity endpoints that live on the directory host
func (c *Config) deriveEndpoints() {
	u, err := url.Parse(c.Directory.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return
	}
	base := u.Scheme + "://" + u.Host
	if c.Identity.TokenURL == "" {
		c.Identity.TokenURL = base + "/oauth2/token"
	}
	if c.Identity.UsersURL == "" {
		c.Identity.UsersURL = base + "/scim2/Users"
	}
	if c.Identity.RolesURL == "" {
		c.Identity.RolesURL = base + "/scim2/Roles"
	}
	if c.Identity.BulkURL == "" {
		c.Identity.BulkURL = base + "/scim2/Bulk"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Directory.BaseURL == "" {
		return fmt.Errorf("directory URL is required")
	}
	if u, err := url.Parse(c.Directory.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("directory URL %q must be absolute", c.Directory.BaseURL)
	}
	if c.Directory.Username == "" || c.Directory.Password == "" {
		return fmt.Errorf("directory username and password are required")
	}
	if c.Directory.ReadTimeout <= 0 || c.Directory.MutateTimeout <= 0 {
		return fmt.Errorf("directory timeouts must be positive")
	}

	if c.Identity.TokenURL == "" {
		return fmt.Errorf("token URL is required")
	}
	if c.Identity.ClientID == "" || c.Identity.ClientSecret == "" {
		return fmt.Errorf("client ID and client secret are required")
	}
	if c.Identity.UsersURL == "" || c.Identity.RolesURL == "" || c.Identity.BulkURL == "" {
		return fmt.Errorf("users, roles and bulk URLs are required")
	}
	if c.Identity.TokenMaxAttempts < 1 {
		return fmt.Errorf("token max attempts must be at least 1")
	}

	switch c.Audit.Driver {
	case AuditDriverNone:
	case AuditDriverPostgres, AuditDriverSQLite:
		if c.Audit.DSN == "" {
			return fmt.Errorf("audit DSN is required for the %s driver", c.Audit.Driver)
		}
	default:
		return fmt.Errorf("invalid audit driver: %s (must be postgres or sqlite3)", c.Audit.Driver)
	}

	if c.Notification.MaxAttempts < 1 {
		return fmt.Errorf("notification max attempts must be at least 1")
	}

	if c.Conversion.LockTTL <= 0 {
		return fmt.Errorf("conversion lock TTL must be positive")
	}
	if c.Conversion.RateLimit < 0 || c.Conversion.RateBurst < 0 {
		return fmt.Errorf("conversion rate limit and burst must not be negative")
	}
	if c.Conversion.RateLimit > 0 && c.Conversion.RateWindow <= 0 {
		return fmt.Errorf("conversion rate window must be positive when a rate limit is set")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

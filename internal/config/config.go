// Package config handles loading and validating Warden configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Warden.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.warden/data. Override: WARDEN_DATA_DIR env var.
	Server        ServerConfig         `json:"server" yaml:"server"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"` // nil = SQLite under data_dir.
	Confirmation  ConfirmationConfig   `json:"confirmation" yaml:"confirmation"`
	Budget        BudgetConfig         `json:"budget" yaml:"budget"`
	Backup        BackupConfig         `json:"backup" yaml:"backup"`
	Audit         AuditConfig          `json:"audit" yaml:"audit"`
	Backend       BackendConfig        `json:"backend" yaml:"backend"`
	Intent        IntentConfig         `json:"intent" yaml:"intent"`
	Notification  NotificationConfig   `json:"notification" yaml:"notification"`
	Secrets       *SecretsConfig       `json:"secrets,omitempty" yaml:"secrets,omitempty"` // nil = only env:// references resolve.
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	ListenAddr          string            `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080"
	EnableDocs          bool              `json:"enable_docs" yaml:"enable_docs"`
	MaxRequestSizeBytes int64             `json:"max_request_size_bytes" yaml:"max_request_size_bytes"` // Default: 1 MiB
	APIKeys             map[string]string `json:"api_keys" yaml:"api_keys"`                             // API key → caller identity. Override: WARDEN_API_KEYS ("key=caller,...").
	RateLimit           RateLimitConfig   `json:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig configures per-caller rate limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // Default: 60
	BurstSize         int `json:"burst_size" yaml:"burst_size"`                   // Default: 10
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from data_dir.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: <data_dir>/warden.db.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: WARDEN_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ConfirmationConfig configures the confirmation token store.
type ConfirmationConfig struct {
	Backend              string       `json:"backend" yaml:"backend"`                               // "database" (default), "memory" or "redis".
	TTLSeconds           int          `json:"ttl_seconds" yaml:"ttl_seconds"`                       // Default: 300
	SweepIntervalSeconds int          `json:"sweep_interval_seconds" yaml:"sweep_interval_seconds"` // Default: 60
	Redis                *RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
}

// TTL returns the token lifetime.
func (c *ConfirmationConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// SweepInterval returns the expired-token sweep interval.
func (c *ConfirmationConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// RedisConfig holds connection settings for the redis token store.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`                             // Override: WARDEN_REDIS_ADDR env var.
	Password string `json:"password,omitempty" yaml:"password,omitempty"` // Override: WARDEN_REDIS_PASSWORD env var.
	DB       int    `json:"db" yaml:"db"`
}

// BudgetConfig configures the cost ceiling and the pricing table.
type BudgetConfig struct {
	MaxHourlyCostUSD float64            `json:"max_hourly_cost_usd" yaml:"max_hourly_cost_usd"` // Default: 1.0. Override: WARDEN_MAX_HOURLY_COST env var.
	Pricing          map[string]float64 `json:"pricing,omitempty" yaml:"pricing,omitempty"`      // Overrides on top of the built-in table.
	PricingFile      string             `json:"pricing_file,omitempty" yaml:"pricing_file,omitempty"`
	WatchPricing     bool               `json:"watch_pricing" yaml:"watch_pricing"` // Reload pricing_file on change.
}

// BackupConfig configures the backup recency gate.
type BackupConfig struct {
	FreshnessDays int `json:"freshness_days" yaml:"freshness_days"` // Default: 7
}

// Freshness returns the age under which a backup is recent.
func (b *BackupConfig) Freshness() time.Duration {
	return time.Duration(b.FreshnessDays) * 24 * time.Hour
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Backend       string `json:"backend" yaml:"backend"`               // "database" (default), "file" or "memory".
	Path          string `json:"path,omitempty" yaml:"path,omitempty"` // JSONL path for backend=file. Default: <data_dir>/audit.jsonl.
	RetentionDays int    `json:"retention_days" yaml:"retention_days"` // Default: 90
	PurgeSchedule string `json:"purge_schedule" yaml:"purge_schedule"` // Cron spec. Default: "@every 1h"
}

// Retention returns how long records are kept.
func (a *AuditConfig) Retention() time.Duration {
	return time.Duration(a.RetentionDays) * 24 * time.Hour
}

// BackendConfig selects the resource backend.
type BackendConfig struct {
	Driver string     `json:"driver" yaml:"driver"` // "memory" (default) or "aws".
	AWS    *AWSConfig `json:"aws,omitempty" yaml:"aws,omitempty"`
}

// AWSConfig holds AWS backend settings. Credentials come from the default
// provider chain.
type AWSConfig struct {
	Region        string `json:"region" yaml:"region"` // Override: WARDEN_AWS_REGION env var.
	Profile       string `json:"profile,omitempty" yaml:"profile,omitempty"`
	Endpoint      string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"` // Custom endpoint, e.g. LocalStack.
	AlarmTopicARN string `json:"alarm_topic_arn,omitempty" yaml:"alarm_topic_arn,omitempty"`
	DefaultImage  string `json:"default_image,omitempty" yaml:"default_image,omitempty"`
}

// IntentConfig selects how free-form queries are parsed.
type IntentConfig struct {
	Provider string `json:"provider" yaml:"provider"` // "anthropic" or "none". Default: anthropic when an API key is set.
	Model    string `json:"model" yaml:"model"`
	APIKey   string `json:"api_key,omitempty" yaml:"api_key,omitempty"` // Override: ANTHROPIC_API_KEY env var.
	BaseURL  string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// NotificationConfig configures notices for executed high-risk actions.
// No channels = notifications disabled.
type NotificationConfig struct {
	MinRisk  string                      `json:"min_risk" yaml:"min_risk"` // "low", "medium", "high" (default) or "critical".
	Channels []NotificationChannelConfig `json:"channels,omitempty" yaml:"channels,omitempty"`
}

// NotificationChannelConfig is one webhook or Slack target.
type NotificationChannelConfig struct {
	Name         string `json:"name" yaml:"name"`
	Type         string `json:"type" yaml:"type"`                                     // "webhook" or "slack".
	URL          string `json:"url,omitempty" yaml:"url,omitempty"`                   // webhook.
	ChannelID    string `json:"channel_id,omitempty" yaml:"channel_id,omitempty"`     // slack.
	Token        string `json:"token,omitempty" yaml:"token,omitempty"`               // slack bot token. Override: WARDEN_SLACK_TOKEN env var.
	AllowPrivate bool   `json:"allow_private,omitempty" yaml:"allow_private,omitempty"` // webhook: permit private/loopback hosts.
}

// SecretsConfig configures credential reference resolution. Credential
// fields may hold "env://NAME" or "vault://path#field" instead of a literal.
type SecretsConfig struct {
	Vault *VaultSecretsConfig `json:"vault,omitempty" yaml:"vault,omitempty"`
}

// VaultSecretsConfig holds HashiCorp Vault (KV v2) connection settings.
type VaultSecretsConfig struct {
	Address        string `json:"address" yaml:"address"`                         // Override: VAULT_ADDR env var.
	Token          string `json:"token,omitempty" yaml:"token,omitempty"`         // Override: VAULT_TOKEN env var.
	Namespace      string `json:"namespace,omitempty" yaml:"namespace,omitempty"` // Override: VAULT_NAMESPACE env var.
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`         // Default: 5
	TLSSkipVerify  bool   `json:"tls_skip_verify" yaml:"tls_skip_verify"`
}

// ObservabilityConfig configures metrics, tracing and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "warden"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// HealthConfig configures dependency checks for readiness probes.
type HealthConfig struct {
	IncludeDB    bool `json:"include_db" yaml:"include_db"`
	IncludeRedis bool `json:"include_redis" yaml:"include_redis"`
}

// DefaultConfigPath returns the default config file path (~/.warden/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/warden.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".warden", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}
	return finish(&cfg)
}

// Default returns the zero-config setup (SQLite, memory backend) with
// environment overrides applied.
func Default() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(home, ".warden", "data")
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() error {
	if v := os.Getenv("WARDEN_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("WARDEN_DB_DSN"); v != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("WARDEN_REDIS_ADDR"); v != "" {
		if c.Confirmation.Redis == nil {
			c.Confirmation.Redis = &RedisConfig{}
		}
		c.Confirmation.Redis.Addr = v
	}
	if v := os.Getenv("WARDEN_REDIS_PASSWORD"); v != "" {
		if c.Confirmation.Redis == nil {
			c.Confirmation.Redis = &RedisConfig{}
		}
		c.Confirmation.Redis.Password = v
	}
	if v := os.Getenv("WARDEN_MAX_HOURLY_COST"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("WARDEN_MAX_HOURLY_COST: %w", err)
		}
		c.Budget.MaxHourlyCostUSD = f
	}
	if v := os.Getenv("WARDEN_AWS_REGION"); v != "" {
		if c.Backend.AWS == nil {
			c.Backend.AWS = &AWSConfig{}
		}
		c.Backend.AWS.Region = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Intent.APIKey = v
	}
	if v := os.Getenv("WARDEN_SLACK_TOKEN"); v != "" {
		for i := range c.Notification.Channels {
			if c.Notification.Channels[i].Type == "slack" && c.Notification.Channels[i].Token == "" {
				c.Notification.Channels[i].Token = v
			}
		}
	}
	if v := os.Getenv("WARDEN_API_KEYS"); v != "" {
		keys, err := parseAPIKeys(v)
		if err != nil {
			return fmt.Errorf("WARDEN_API_KEYS: %w", err)
		}
		if c.Server.APIKeys == nil {
			c.Server.APIKeys = make(map[string]string, len(keys))
		}
		for k, caller := range keys {
			c.Server.APIKeys[k] = caller
		}
	}
	return nil
}

// parseAPIKeys parses "key=caller,key2=caller2".
func parseAPIKeys(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, caller, ok := strings.Cut(pair, "=")
		key, caller = strings.TrimSpace(key), strings.TrimSpace(caller)
		if !ok || key == "" || caller == "" {
			return nil, fmt.Errorf("entry %q must be key=caller", pair)
		}
		out[key] = caller
	}
	return out, nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		return "data"
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the SQLite database path.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "warden.db")
}

// AuditLogPath returns the JSONL audit path used by audit.backend=file.
func (c *Config) AuditLogPath() string {
	if c.Audit.Path != "" {
		return c.Audit.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "audit.jsonl")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	return c.Storage.StorageDriver()
}

// CredentialFields returns the values that may hold credential references,
// keyed by config path.
func (c *Config) CredentialFields() map[string]*string {
	fields := map[string]*string{
		"intent.api_key": &c.Intent.APIKey,
	}
	if c.Storage != nil && c.Storage.Postgres != nil {
		fields["storage.postgres.dsn"] = &c.Storage.Postgres.DSN
	}
	if c.Confirmation.Redis != nil {
		fields["confirmation.redis.password"] = &c.Confirmation.Redis.Password
	}
	for i := range c.Notification.Channels {
		ch := &c.Notification.Channels[i]
		fields[fmt.Sprintf("notification.channels[%s].token", ch.Name)] = &ch.Token
		fields[fmt.Sprintf("notification.channels[%s].url", ch.Name)] = &ch.URL
	}
	return fields
}

// MetricsEnabled reports whether Prometheus metrics are on.
func (c *Config) MetricsEnabled() bool {
	return c.Observability != nil && c.Observability.Metrics != nil && c.Observability.Metrics.Enabled
}

// MetricsPath returns the metrics endpoint path.
func (c *Config) MetricsPath() string {
	if c.MetricsEnabled() && c.Observability.Metrics.Path != "" {
		return c.Observability.Metrics.Path
	}
	return "/metrics"
}

func (c *Config) validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}

	switch c.StorageDriverName() {
	case "sqlite":
	case "postgres":
		if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required (set WARDEN_DB_DSN env var)")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
	}

	if c.Confirmation.Backend == "" {
		c.Confirmation.Backend = "database"
	}
	switch c.Confirmation.Backend {
	case "database", "memory":
	case "redis":
		if c.Confirmation.Redis == nil || c.Confirmation.Redis.Addr == "" {
			return fmt.Errorf("confirmation.redis.addr is required for the redis backend (set WARDEN_REDIS_ADDR env var)")
		}
	default:
		return fmt.Errorf("confirmation.backend %q is not supported (use database, memory, or redis)", c.Confirmation.Backend)
	}
	if c.Confirmation.TTLSeconds < 0 || c.Confirmation.SweepIntervalSeconds < 0 {
		return fmt.Errorf("confirmation.ttl_seconds and sweep_interval_seconds must not be negative")
	}
	if c.Confirmation.TTLSeconds == 0 {
		c.Confirmation.TTLSeconds = 300
	}
	if c.Confirmation.SweepIntervalSeconds == 0 {
		c.Confirmation.SweepIntervalSeconds = 60
	}

	if c.Budget.MaxHourlyCostUSD < 0 {
		return fmt.Errorf("budget.max_hourly_cost_usd must not be negative")
	}
	if c.Budget.MaxHourlyCostUSD == 0 {
		c.Budget.MaxHourlyCostUSD = 1.0
	}
	for class, cost := range c.Budget.Pricing {
		if cost < 0 {
			return fmt.Errorf("budget.pricing.%s must not be negative", class)
		}
	}
	if c.Budget.WatchPricing && c.Budget.PricingFile == "" {
		return fmt.Errorf("budget.watch_pricing requires budget.pricing_file")
	}

	if c.Backup.FreshnessDays < 0 {
		return fmt.Errorf("backup.freshness_days must not be negative")
	}
	if c.Backup.FreshnessDays == 0 {
		c.Backup.FreshnessDays = 7
	}

	if err := c.validateAudit(); err != nil {
		return err
	}

	if c.Backend.Driver == "" {
		c.Backend.Driver = "memory"
	}
	switch c.Backend.Driver {
	case "memory":
	case "aws":
		if c.Backend.AWS == nil {
			c.Backend.AWS = &AWSConfig{}
		}
	default:
		return fmt.Errorf("backend.driver %q is not supported (use memory or aws)", c.Backend.Driver)
	}

	if err := c.validateNotification(); err != nil {
		return err
	}
	return c.validateIntent()
}

func (c *Config) validateNotification() error {
	switch c.Notification.MinRisk {
	case "":
		c.Notification.MinRisk = "high"
	case "low", "medium", "high", "critical":
	default:
		return fmt.Errorf("notification.min_risk %q is not supported (use low, medium, high, or critical)", c.Notification.MinRisk)
	}

	seen := make(map[string]bool, len(c.Notification.Channels))
	for i := range c.Notification.Channels {
		ch := &c.Notification.Channels[i]
		if ch.Name == "" {
			ch.Name = fmt.Sprintf("%s-%d", ch.Type, i)
		}
		if seen[ch.Name] {
			return fmt.Errorf("notification channel %q is defined twice", ch.Name)
		}
		seen[ch.Name] = true

		switch ch.Type {
		case "webhook":
			if ch.URL == "" {
				return fmt.Errorf("notification channel %q: url is required", ch.Name)
			}
		case "slack":
			if ch.ChannelID == "" || ch.Token == "" {
				return fmt.Errorf("notification channel %q: channel_id and token are required (or set WARDEN_SLACK_TOKEN env var)", ch.Name)
			}
		default:
			return fmt.Errorf("notification channel %q: type %q is not supported (use webhook or slack)", ch.Name, ch.Type)
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.MaxRequestSizeBytes < 0 {
		return fmt.Errorf("server.max_request_size_bytes must not be negative")
	}
	if c.Server.MaxRequestSizeBytes == 0 {
		c.Server.MaxRequestSizeBytes = 1 << 20
	}
	if c.Server.RateLimit.RequestsPerMinute < 0 || c.Server.RateLimit.BurstSize < 0 {
		return fmt.Errorf("server.rate_limit values must not be negative")
	}
	if c.Server.RateLimit.RequestsPerMinute == 0 {
		c.Server.RateLimit.RequestsPerMinute = 60
	}
	if c.Server.RateLimit.BurstSize == 0 {
		c.Server.RateLimit.BurstSize = 10
	}
	for key, caller := range c.Server.APIKeys {
		if key == "" || caller == "" {
			return fmt.Errorf("server.api_keys entries need a non-empty key and caller")
		}
	}
	return nil
}

func (c *Config) validateAudit() error {
	if c.Audit.Backend == "" {
		c.Audit.Backend = "database"
	}
	switch c.Audit.Backend {
	case "database", "file", "memory":
	default:
		return fmt.Errorf("audit.backend %q is not supported (use database, file, or memory)", c.Audit.Backend)
	}
	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("audit.retention_days must not be negative")
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 90
	}
	if c.Audit.PurgeSchedule == "" {
		c.Audit.PurgeSchedule = "@every 1h"
	}
	if _, err := cron.ParseStandard(c.Audit.PurgeSchedule); err != nil {
		return fmt.Errorf("audit.purge_schedule %q: %w", c.Audit.PurgeSchedule, err)
	}
	return nil
}

// validateIntent picks a parser provider and checks it has what it needs.
func (c *Config) validateIntent() error {
	if c.Intent.Provider == "" {
		c.Intent.Provider = "none"
		if c.Intent.APIKey != "" {
			c.Intent.Provider = "anthropic"
		}
	}
	switch c.Intent.Provider {
	case "none":
	case "anthropic":
		if c.Intent.APIKey == "" {
			return fmt.Errorf("intent.api_key is required for the anthropic provider (set ANTHROPIC_API_KEY env var)")
		}
	default:
		return fmt.Errorf("intent.provider %q is not supported (use anthropic or none)", c.Intent.Provider)
	}
	return nil
}

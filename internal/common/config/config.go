// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Rules       RulesConfig       `mapstructure:"rules"`
	Templates   TemplateConfig    `mapstructure:"templates"`
	Suppression SuppressionConfig `mapstructure:"suppression"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Delivery    DeliveryConfig    `mapstructure:"delivery"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	DeviceID    string `mapstructure:"device_id"`
	SchoolTZ    string `mapstructure:"school_timezone"`
	ListenAddr  string `mapstructure:"listen_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	AuditIndex string   `mapstructure:"audit_index"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RulesConfig points at the rule set loaded read-only at startup.
type RulesConfig struct {
	Path string `mapstructure:"path"`
}

// TemplateConfig holds settings for the template catalog.
type TemplateConfig struct {
	RegistryPath string `mapstructure:"registry_path"`
	CacheTTL     int    `mapstructure:"cache_ttl"` // seconds
}

// SuppressionConfig controls the dedup ledger.
type SuppressionConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
	PruneInterval int `mapstructure:"prune_interval"` // minutes
}

// QueueConfig controls the delayed delivery queue.
type QueueConfig struct {
	PollInterval   int `mapstructure:"poll_interval"`   // seconds
	SendTimeout    int `mapstructure:"send_timeout"`    // milliseconds
	MaxRetries     int `mapstructure:"max_retries"`     // delivery attempts per dispatch
	BackoffBase    int `mapstructure:"backoff_base"`    // milliseconds
	EscalationScan int `mapstructure:"escalation_scan"` // seconds
}

// SyncConfig controls the offline sync engine.
type SyncConfig struct {
	UpsertTimeout int `mapstructure:"upsert_timeout"` // milliseconds
	MaxRetries    int `mapstructure:"max_retries"`    // sync passes before terminal failed
}

// DeliveryConfig holds settings for the delivery channel adapters.
type DeliveryConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"sms"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
	Webhook struct {
		Enabled bool   `mapstructure:"enabled"`
		URL     string `mapstructure:"url"`
		Timeout int    `mapstructure:"timeout"` // milliseconds
	} `mapstructure:"webhook"`
}

// AuditConfig controls the evaluation audit trail.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

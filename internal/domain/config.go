package domain

// ServerConfig holds server-related settings
type ServerConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	BaseURL string `mapstructure:"base_url"`
}

// PostgresConfig holds PostgreSQL-specific settings
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"username"`
	Pass     string `mapstructure:"password"`
	SslMode  string `mapstructure:"ssl_mode"`
}

// DatabaseConfig holds general database settings and nested specific configs
type DatabaseConfig struct {
	Type     string         `mapstructure:"type"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Path           string `mapstructure:"path"`
	Level          string `mapstructure:"level"`
	MaxFileSize    int    `mapstructure:"max_file_size"`
	MaxBackupCount int    `mapstructure:"max_backup_count"`
}

// ValkeyConfig holds Valkey-specific settings
type ValkeyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	Enabled               bool   `mapstructure:"enabled"`
	RequestsPerMinute     int    `mapstructure:"requests_per_minute"`
	SyncRequestsPerMinute int    `mapstructure:"sync_requests_per_minute"`
	WindowSeconds         int    `mapstructure:"window_seconds"`
	ExemptInternalIPs     string `mapstructure:"exempt_internal_ips"`
}

// SocialGraphConfig points at the scraping sidecar.
type SocialGraphConfig struct {
	BaseURL               string `mapstructure:"base_url"`
	APIKey                string `mapstructure:"api_key"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
	MaxFollowers          int    `mapstructure:"max_followers"`
}

// SyncConfig holds orchestrator tuning.
type SyncConfig struct {
	CooldownHours          float64 `mapstructure:"cooldown_hours"`
	FetchTimeoutSeconds    int     `mapstructure:"fetch_timeout_seconds"`
	MaxRetries             int     `mapstructure:"max_retries"`
	RetryInitialIntervalMs int     `mapstructure:"retry_initial_interval_ms"`
	RetryMaxIntervalMs     int     `mapstructure:"retry_max_interval_ms"`
	AutoSyncOnLogin        bool    `mapstructure:"auto_sync_on_login"`
}

// ImageCacheConfig holds profile picture pipeline tuning.
type ImageCacheConfig struct {
	Workers             int `mapstructure:"workers"`
	FetchDelayMs        int `mapstructure:"fetch_delay_ms"`
	FetchTimeoutSeconds int `mapstructure:"fetch_timeout_seconds"`
}

type AuthConfig struct {
	TokenTTLMinutes int `mapstructure:"token_ttl_minutes"`
}

// RetentionConfig holds settings for the scheduled snapshot pruning job
type RetentionConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Schedule     string `mapstructure:"schedule"`
	SnapshotDays int    `mapstructure:"snapshot_days"`
}

type AutoSyncConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Config holds the application's configuration, mapped from config.toml
type Config struct {
	Version       string
	ConfigPath    string
	SessionSecret string `mapstructure:"session_secret"`

	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Valkey      ValkeyConfig      `mapstructure:"valkey"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	SocialGraph SocialGraphConfig `mapstructure:"social_graph"`
	Sync        SyncConfig        `mapstructure:"sync"`
	ImageCache  ImageCacheConfig  `mapstructure:"image_cache"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Retention   RetentionConfig   `mapstructure:"retention"`
	AutoSync    AutoSyncConfig    `mapstructure:"auto_sync"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// ConfigUpdate carries the runtime-adjustable subset of Config.
type ConfigUpdate struct {
	LogLevel      *string  `json:"log_level,omitempty"`
	CooldownHours *float64 `json:"cooldown_hours,omitempty"`
}

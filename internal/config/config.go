package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/flurbudurbur/Gramsight/internal/logger"
	"github.com/flurbudurbur/Gramsight/pkg/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var configTemplate = `# config.toml

# Session secret
# Seals stored social network sessions and signs access tokens.
# Generated on first run.
session_secret = "{{ .sessionSecret }}"

[server]
  # Hostname or IP address to listen on.
  # Default: "{{ .host }}"
  host = "{{ .host }}"

  # Default: 8383
  port = 8383

  # Base URL when served from a subdirectory (e.g. /gramsight/).
  # Default: ""
  #base_url = ""

[database]
  # Supported: "sqlite", "postgres"
  # Default: "sqlite"
  type = "sqlite"

  [database.postgres]
    host = "localhost"
    port = 5432
    database = "gramsight"
    username = "postgres"
    password = "postgres"
    ssl_mode = "disable"

[logging]
  # Log file directory. Empty logs to stderr only.
  path = "log/"

  # Options: "ERROR", "WARN", "INFO", "DEBUG", "TRACE"
  level = "INFO"

  # Megabytes before rotation.
  max_file_size = 50

  max_backup_count = 3

[valkey]
  # Backs the request rate limiter.
  enabled = false
  address = "localhost:6379"
  password = ""
  db = 0

[rate_limit]
  enabled = false
  requests_per_minute = 120
  # Applied to POST /api/analytics/sync on top of the sync cooldown.
  sync_requests_per_minute = 6
  window_seconds = 60
  exempt_internal_ips = "127.0.0.1,::1"

[social_graph]
  # Address of the scraping sidecar.
  base_url = "http://127.0.0.1:8390"
  api_key = ""
  request_timeout_seconds = 30
  # Upper bound on followers/following fetched per sync.
  max_followers = 5000

[sync]
  # Minimum hours between two successful syncs.
  # Default: 24
  cooldown_hours = 24

  # Wall clock limit for the whole fetch phase.
  fetch_timeout_seconds = 600

  # Retries for transient network failures while fetching.
  max_retries = 3
  retry_initial_interval_ms = 2000
  retry_max_interval_ms = 60000

  # Start a sync right after a successful login.
  auto_sync_on_login = true

[image_cache]
  # Concurrent profile picture downloads.
  workers = 4
  # Pause each worker between downloads.
  fetch_delay_ms = 1000
  fetch_timeout_seconds = 15

[auth]
  # Access token lifetime. Default: 30 days.
  token_ttl_minutes = 43200

[retention]
  enabled = true
  schedule = "0 4 * * *"
  # Snapshots older than this are pruned. The newest per account is always kept.
  snapshot_days = 90

[auto_sync]
  enabled = false
  schedule = "0 */6 * * *"

[metrics]
  enabled = true
`

var generateRandomString = func(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func writeConfig(configPath string, configFile string) error {
	cfgPath := filepath.Join(configPath, configFile)

	// check if configPath exists, if not create it
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		err := os.MkdirAll(configPath, os.ModePerm)
		if err != nil {
			log.Println(err)
			return err
		}
	}

	// check if config exists, if not create it
	if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
		// set default host
		host := "127.0.0.1"

		if _, dockerErr := os.Stat("/.dockerenv"); dockerErr == nil {
			host = "0.0.0.0"
		} else if pd, cgroupErr := os.Open("/proc/1/cgroup"); cgroupErr == nil {
			defer func(pd *os.File) {
				errClose := pd.Close()
				if errClose != nil {
					log.Printf("error closing proc/cgroup: %q", errClose)
				}
			}(pd)
			b := make([]byte, 4096)
			_, readErr := pd.Read(b)
			if readErr != nil {
				log.Printf("error reading /proc/1/cgroup: %v", readErr)
			} else {
				if strings.Contains(string(b), "/docker") || strings.Contains(string(b), "/lxc") {
					host = "0.0.0.0"
				}
			}
		}

		f, createErr := os.Create(cfgPath)
		if createErr != nil {
			log.Printf("error creating file: %q", createErr)
			return createErr
		}
		defer func(f *os.File) {
			errClose := f.Close()
			if errClose != nil {
				log.Printf("error closing file: %q", errClose)
			}
		}(f)

		sessionSecretVal, secretErr := generateRandomString(32)
		if secretErr != nil {
			log.Printf("Failed to generate session secret: %v. Using a default placeholder.", secretErr)
			sessionSecretVal = "fallback-please-replace-this-secret-immediately"
		}

		tmpl, tmplErr := template.New("config").Parse(configTemplate)
		if tmplErr != nil {
			return errors.Wrap(tmplErr, "could not create config template")
		}

		tmplVars := map[string]string{
			"host":          host,
			"sessionSecret": sessionSecretVal,
		}

		var buffer bytes.Buffer
		if execErr := tmpl.Execute(&buffer, &tmplVars); execErr != nil {
			return errors.Wrap(execErr, "could not write config template output")
		}

		if _, writeErr := f.WriteString(buffer.String()); writeErr != nil {
			log.Printf("error writing contents to file: %v %q", configPath, writeErr)
			return writeErr
		}

		return f.Sync()
	}

	return nil
}

type Config interface {
	DynamicReload(log logger.Logger)
	OnReload(fn func(cfg *domain.Config))
}

type AppConfig struct {
	Config *domain.Config
	m      sync.Mutex

	reloadHooks []func(cfg *domain.Config)
}

// OnReload registers fn to run with the new config after every reload.
func (c *AppConfig) OnReload(fn func(cfg *domain.Config)) {
	c.m.Lock()
	defer c.m.Unlock()
	c.reloadHooks = append(c.reloadHooks, fn)
}

// Snapshot returns the current config under the lock.
func (c *AppConfig) Snapshot() *domain.Config {
	c.m.Lock()
	defer c.m.Unlock()
	return c.Config
}

// Update applies fn to a copy of the current config and swaps it in. The
// change lives in memory only; config.toml is left untouched.
func (c *AppConfig) Update(fn func(cfg *domain.Config)) *domain.Config {
	c.m.Lock()
	defer c.m.Unlock()

	next := *c.Config
	fn(&next)
	c.Config = &next
	return c.Config
}

func New(configPath string, version string) *AppConfig {
	c := &AppConfig{}
	c.defaults()
	c.Config.Version = version
	c.Config.ConfigPath = configPath

	c.load(configPath)

	return c
}

func (c *AppConfig) defaults() {
	c.Config = &domain.Config{
		Version:       "dev",
		SessionSecret: "secret-session-key",
		Server: domain.ServerConfig{
			Host: "127.0.0.1",
			Port: 8383,
		},
		Database: domain.DatabaseConfig{
			Type: "sqlite",
			Postgres: domain.PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "gramsight",
				User:     "postgres",
				Pass:     "postgres",
				SslMode:  "disable",
			},
		},
		Logging: domain.LoggingConfig{
			Level:          "INFO",
			MaxFileSize:    50,
			MaxBackupCount: 3,
		},
		Valkey: domain.ValkeyConfig{
			Address: "localhost:6379",
		},
		RateLimit: domain.RateLimitConfig{
			RequestsPerMinute:     120,
			SyncRequestsPerMinute: 6,
			WindowSeconds:         60,
			ExemptInternalIPs:     "127.0.0.1,::1",
		},
		SocialGraph: domain.SocialGraphConfig{
			BaseURL:               "http://127.0.0.1:8390",
			RequestTimeoutSeconds: 30,
			MaxFollowers:          5000,
		},
		Sync: domain.SyncConfig{
			CooldownHours:          24,
			FetchTimeoutSeconds:    600,
			MaxRetries:             3,
			RetryInitialIntervalMs: 2000,
			RetryMaxIntervalMs:     60000,
			AutoSyncOnLogin:        true,
		},
		ImageCache: domain.ImageCacheConfig{
			Workers:             4,
			FetchDelayMs:        1000,
			FetchTimeoutSeconds: 15,
		},
		Auth: domain.AuthConfig{
			TokenTTLMinutes: 30 * 24 * 60,
		},
		Retention: domain.RetentionConfig{
			Enabled:      true,
			Schedule:     "0 4 * * *",
			SnapshotDays: 90,
		},
		AutoSync: domain.AutoSyncConfig{
			Schedule: "0 */6 * * *",
		},
		Metrics: domain.MetricsConfig{
			Enabled: true,
		},
	}
}

func (c *AppConfig) load(configPath string) {
	viper.SetConfigType("toml")
	configPath = path.Clean(configPath)

	if configPath != "" {
		if err := writeConfig(configPath, "config.toml"); err != nil {
			log.Printf("writeConfig error during load: %q", err)
			// Continue to attempt reading, defaults might be used or file might exist partially
		}
		viper.SetConfigFile(path.Join(configPath, "config.toml"))
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/gramsight")
		viper.AddConfigPath("$HOME/.gramsight")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Config file not found, using defaults: %s", viper.ConfigFileUsed())
		} else {
			log.Printf("Config read error: %q. Using defaults.", err)
		}
	}

	if err := viper.Unmarshal(&c.Config); err != nil {
		log.Fatalf("Could not unmarshal config file into struct: %v. Config file used: %s", err, viper.ConfigFileUsed())
	}
}

func (c *AppConfig) DynamicReload(log logger.Logger) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		c.m.Lock()
		defer c.m.Unlock()

		log.Info().Msgf("Config file changed: %s. Reloading configuration.", e.Name)

		if err := viper.ReadInConfig(); err != nil {
			log.Error().Err(err).Msg("Error reading config file during dynamic reload")
			return
		}

		// start from the current values so keys missing from the file keep them
		newConfig := *c.Config
		if err := viper.Unmarshal(&newConfig); err != nil {
			log.Error().Err(err).Msg("Error unmarshalling config during dynamic reload")
			return
		}

		c.Config = &newConfig
		log.SetLogLevel(c.Config.Logging.Level)

		for _, hook := range c.reloadHooks {
			hook(c.Config)
		}

		log.Debug().Msg("Configuration reloaded successfully!")
	})
	viper.WatchConfig()
}

package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/flurbudurbur/Gramsight/internal/config"
	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

var logLevels = map[string]bool{
	"TRACE": true,
	"DEBUG": true,
	"INFO":  true,
	"WARN":  true,
	"ERROR": true,
}

type configJson struct {
	Host             string  `json:"host"`
	Port             int     `json:"port"`
	LogLevel         string  `json:"log_level"`
	LogPath          string  `json:"log_path"`
	LogMaxSize       int     `json:"log_max_size"`
	LogMaxBackups    int     `json:"log_max_backups"`
	BaseURL          string  `json:"base_url"`
	CooldownHours    float64 `json:"cooldown_hours"`
	AutoSyncEnabled  bool    `json:"auto_sync_enabled"`
	AutoSyncSchedule string  `json:"auto_sync_schedule"`
	RateLimitEnabled bool    `json:"rate_limit_enabled"`
	ValkeyEnabled    bool    `json:"valkey_enabled"`
	Version          string  `json:"version"`
	Commit           string  `json:"commit"`
	Date             string  `json:"date"`
}

type logLeveler interface {
	SetLogLevel(level string)
}

type configHandler struct {
	encoder encoder

	cfg      *config.AppConfig
	server   *Server
	leveler  logLeveler
	cooldown cooldownService
}

func newConfigHandler(encoder encoder, server *Server, cfg *config.AppConfig) *configHandler {
	return &configHandler{
		encoder:  encoder,
		cfg:      cfg,
		server:   server,
		leveler:  server.baseLog,
		cooldown: server.cooldown,
	}
}

func (h configHandler) Routes(r chi.Router) {
	r.Get("/", h.getConfig)
	r.Patch("/", h.updateConfig)
}

func (h configHandler) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.cfg.Snapshot()

	conf := configJson{
		Host:             cfg.Server.Host,
		Port:             cfg.Server.Port,
		LogLevel:         cfg.Logging.Level,
		LogPath:          cfg.Logging.Path,
		LogMaxSize:       cfg.Logging.MaxFileSize,
		LogMaxBackups:    cfg.Logging.MaxBackupCount,
		BaseURL:          cfg.Server.BaseURL,
		CooldownHours:    cfg.Sync.CooldownHours,
		AutoSyncEnabled:  cfg.AutoSync.Enabled,
		AutoSyncSchedule: cfg.AutoSync.Schedule,
		RateLimitEnabled: cfg.RateLimit.Enabled,
		ValkeyEnabled:    cfg.Valkey.Enabled,
		Version:          h.server.version,
		Commit:           h.server.commit,
		Date:             h.server.date,
	}

	render.JSON(w, r, conf)
}

// updateConfig applies runtime changes in memory. They are lost on restart
// and overwritten by the next reload of config.toml.
func (h configHandler) updateConfig(w http.ResponseWriter, r *http.Request) {
	var data domain.ConfigUpdate

	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		h.encoder.StatusError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if data.LogLevel != nil {
		level := strings.ToUpper(strings.TrimSpace(*data.LogLevel))
		if !logLevels[level] {
			h.encoder.StatusError(w, http.StatusBadRequest, "unknown log level")
			return
		}
		data.LogLevel = &level
	}

	if data.CooldownHours != nil && *data.CooldownHours < 0 {
		h.encoder.StatusError(w, http.StatusBadRequest, "cooldown_hours must not be negative")
		return
	}

	h.cfg.Update(func(cfg *domain.Config) {
		if data.LogLevel != nil {
			cfg.Logging.Level = *data.LogLevel
		}
		if data.CooldownHours != nil {
			cfg.Sync.CooldownHours = *data.CooldownHours
		}
	})

	if data.LogLevel != nil && h.leveler != nil {
		h.leveler.SetLogLevel(*data.LogLevel)
	}
	if data.CooldownHours != nil && h.cooldown != nil {
		h.cooldown.SetCooldown(time.Duration(*data.CooldownHours * float64(time.Hour)))
	}

	render.NoContent(w, r)
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flurbudurbur/Gramsight/internal/config"
	"github.com/flurbudurbur/Gramsight/internal/cooldown"
	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLeveler struct {
	levels []string
}

func (l *recordingLeveler) SetLogLevel(level string) {
	l.levels = append(l.levels, level)
}

type fakeCooldown struct {
	decision cooldown.Decision
	cooldown time.Duration
}

func (f *fakeCooldown) CanSync(ctx context.Context, accountID int64) cooldown.Decision {
	return f.decision
}

func (f *fakeCooldown) Cooldown() time.Duration { return f.cooldown }

func (f *fakeCooldown) SetCooldown(d time.Duration) { f.cooldown = d }

func TestGetConfigHandler(t *testing.T) {
	appConfig := &config.AppConfig{
		Config: &domain.Config{
			Server: domain.ServerConfig{
				Host:    "localhost",
				Port:    8080,
				BaseURL: "/gramsight",
			},
			Logging: domain.LoggingConfig{
				Level:          "DEBUG",
				Path:           "/logs",
				MaxFileSize:    100,
				MaxBackupCount: 5,
			},
			Sync:     domain.SyncConfig{CooldownHours: 12},
			AutoSync: domain.AutoSyncConfig{Enabled: true, Schedule: "0 */6 * * *"},
		},
	}
	server := &Server{
		version: "1.0.0",
		commit:  "abcdef",
		date:    "2023-01-01",
	}

	handler := newConfigHandler(encoder{}, server, appConfig)
	router := chi.NewRouter()
	handler.Routes(router)

	req := httptest.NewRequest("GET", "/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp configJson
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	assert.Equal(t, "localhost", resp.Host)
	assert.Equal(t, 8080, resp.Port)
	assert.Equal(t, "DEBUG", resp.LogLevel)
	assert.Equal(t, "/logs", resp.LogPath)
	assert.Equal(t, 100, resp.LogMaxSize)
	assert.Equal(t, 5, resp.LogMaxBackups)
	assert.Equal(t, "/gramsight", resp.BaseURL)
	assert.Equal(t, 12.0, resp.CooldownHours)
	assert.True(t, resp.AutoSyncEnabled)
	assert.Equal(t, "0 */6 * * *", resp.AutoSyncSchedule)
	assert.Equal(t, "1.0.0", resp.Version)
	assert.Equal(t, "abcdef", resp.Commit)
	assert.Equal(t, "2023-01-01", resp.Date)
}

func TestUpdateConfigHandler(t *testing.T) {
	appConfig := &config.AppConfig{
		Config: &domain.Config{
			Logging: domain.LoggingConfig{Level: "INFO", Path: "/var/log"},
			Sync:    domain.SyncConfig{CooldownHours: 24},
		},
	}

	leveler := &recordingLeveler{}
	gate := &fakeCooldown{cooldown: 24 * time.Hour}

	handler := newConfigHandler(encoder{}, &Server{}, appConfig)
	handler.leveler = leveler
	handler.cooldown = gate

	router := chi.NewRouter()
	handler.Routes(router)

	patch := func(t *testing.T, body []byte) *httptest.ResponseRecorder {
		t.Helper()
		req := httptest.NewRequest("PATCH", "/", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	t.Run("log level and cooldown", func(t *testing.T) {
		level := "debug"
		hours := 6.0
		body, _ := json.Marshal(domain.ConfigUpdate{LogLevel: &level, CooldownHours: &hours})

		rr := patch(t, body)

		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "DEBUG", appConfig.Snapshot().Logging.Level)
		assert.Equal(t, 6.0, appConfig.Snapshot().Sync.CooldownHours)
		assert.Equal(t, "/var/log", appConfig.Snapshot().Logging.Path)
		assert.Equal(t, []string{"DEBUG"}, leveler.levels)
		assert.Equal(t, 6*time.Hour, gate.cooldown)
	})

	t.Run("only one field", func(t *testing.T) {
		level := "WARN"
		body, _ := json.Marshal(domain.ConfigUpdate{LogLevel: &level})

		rr := patch(t, body)

		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "WARN", appConfig.Snapshot().Logging.Level)
		assert.Equal(t, 6.0, appConfig.Snapshot().Sync.CooldownHours)
		assert.Equal(t, 6*time.Hour, gate.cooldown)
	})

	t.Run("unknown log level", func(t *testing.T) {
		level := "LOUD"
		body, _ := json.Marshal(domain.ConfigUpdate{LogLevel: &level})

		rr := patch(t, body)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "WARN", appConfig.Snapshot().Logging.Level)
	})

	t.Run("negative cooldown", func(t *testing.T) {
		hours := -1.0
		body, _ := json.Marshal(domain.ConfigUpdate{CooldownHours: &hours})

		rr := patch(t, body)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, 6*time.Hour, gate.cooldown)
	})

	t.Run("invalid JSON body", func(t *testing.T) {
		rr := patch(t, []byte("invalid json"))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "invalid request body")
	})
}

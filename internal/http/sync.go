package http

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/flurbudurbur/Gramsight/internal/domain"
	syncsvc "github.com/flurbudurbur/Gramsight/internal/sync"
	"github.com/flurbudurbur/Gramsight/pkg/errors"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type startSyncResponse struct {
	Success              bool               `json:"success"`
	Message              string             `json:"message"`
	Detail               string             `json:"detail,omitempty"`
	Status               *domain.SyncStatus `json:"status,omitempty"`
	CanSync              *bool              `json:"can_sync,omitempty"`
	SecondsUntilNextSync *int               `json:"seconds_until_next_sync,omitempty"`
}

type canSyncResponse struct {
	CanSync              bool       `json:"can_sync"`
	SecondsUntilNextSync *int       `json:"seconds_until_next_sync"`
	HoursUntilNextSync   *float64   `json:"hours_until_next_sync"`
	LastSync             *time.Time `json:"last_sync"`
	CooldownHours        float64    `json:"cooldown_hours"`
	Message              string     `json:"message,omitempty"`
}

func (h analyticsHandler) startSync(w http.ResponseWriter, r *http.Request) {
	account := accountFromContext(r.Context())
	if account == nil {
		h.encoder.StatusError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	status, err := h.sync.Start(r.Context(), *account)
	if err == nil {
		h.encoder.StatusResponse(r.Context(), w, startSyncResponse{
			Success: true,
			Message: "Sync started",
			Status:  &status,
		}, http.StatusAccepted)
		return
	}

	var cooldownErr *syncsvc.CooldownError
	switch {
	case errors.As(err, &cooldownErr):
		allowed := false
		h.encoder.StatusResponse(r.Context(), w, startSyncResponse{
			Message:              syncsvc.ErrCooldownActive.Error(),
			Detail:               cooldownErr.Decision.Message(),
			CanSync:              &allowed,
			SecondsUntilNextSync: cooldownErr.Decision.SecondsRemaining,
			Status:               &status,
		}, http.StatusTooManyRequests)

	case errors.Is(err, syncsvc.ErrAlreadySyncing):
		h.encoder.StatusResponse(r.Context(), w, startSyncResponse{
			Message: syncsvc.ErrAlreadySyncing.Error(),
			Status:  &status,
		}, http.StatusConflict)

	case errors.Is(err, syncsvc.ErrNoSession):
		h.encoder.StatusError(w, http.StatusUnauthorized, "Session expired. Please login again.")

	default:
		h.log.Error().Err(err).Int64("account_id", account.ID).Msg("could not start sync")
		h.encoder.StatusInternalError(w)
	}
}

func (h analyticsHandler) syncStatus(w http.ResponseWriter, r *http.Request) {
	account := accountFromContext(r.Context())
	if account == nil {
		h.encoder.StatusError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	h.encoder.StatusResponse(r.Context(), w, h.sync.Status(account.ID), http.StatusOK)
}

func (h analyticsHandler) canSync(w http.ResponseWriter, r *http.Request) {
	account := accountFromContext(r.Context())
	if account == nil {
		h.encoder.StatusError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	decision := h.cooldown.CanSync(r.Context(), account.ID)

	resp := canSyncResponse{
		CanSync:              decision.Allowed,
		SecondsUntilNextSync: decision.SecondsRemaining,
		LastSync:             decision.LastSync,
		CooldownHours:        decision.Cooldown.Hours(),
		Message:              decision.Message(),
	}
	if decision.SecondsRemaining != nil {
		hours := math.Round(float64(*decision.SecondsRemaining)/3600*10) / 10
		resp.HoursUntilNextSync = &hours
	}

	h.encoder.StatusResponse(r.Context(), w, resp, http.StatusOK)
}

func (h analyticsHandler) syncHistory(w http.ResponseWriter, r *http.Request) {
	account := accountFromContext(r.Context())
	if account == nil {
		h.encoder.StatusError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.encoder.StatusError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	runs, err := h.history.List(r.Context(), account.ID, limit)
	if err != nil {
		h.log.Error().Err(err).Int64("account_id", account.ID).Msg("could not load sync history")
		h.encoder.StatusInternalError(w)
		return
	}
	if runs == nil {
		runs = []domain.SyncRun{}
	}

	h.encoder.StatusResponse(r.Context(), w, runs, http.StatusOK)
}

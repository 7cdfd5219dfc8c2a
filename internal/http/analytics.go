package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

const noAnalyticsMessage = "No analytics data available. Please sync your account first."

type analyticsHandler struct {
	log     zerolog.Logger
	encoder encoder

	analytics domain.AnalyticsRepo
	history   domain.SyncHistoryRepo
	sync      syncService
	cooldown  cooldownService
	images    imageService
	profiles  profileService

	syncLimit func(http.Handler) http.Handler
}

func newAnalyticsHandler(encoder encoder, log zerolog.Logger, analytics domain.AnalyticsRepo, history domain.SyncHistoryRepo, sync syncService, cooldown cooldownService, images imageService, profiles profileService, syncLimit func(http.Handler) http.Handler) *analyticsHandler {
	if syncLimit == nil {
		syncLimit = func(next http.Handler) http.Handler { return next }
	}
	return &analyticsHandler{
		log:       log,
		encoder:   encoder,
		analytics: analytics,
		history:   history,
		sync:      sync,
		cooldown:  cooldown,
		images:    images,
		profiles:  profiles,
		syncLimit: syncLimit,
	}
}

// Routes registers the endpoints that need an authenticated account.
func (h analyticsHandler) Routes(r chi.Router) {
	r.Get("/profile", h.profile)
	r.Get("/overview", h.overview)
	r.Get("/detailed", h.detailed)
	r.Get("/not-following-back", h.list(func(a *domain.AnalyticsResult) domain.IDSet { return a.NotFollowingBack }))
	r.Get("/not-followed-back", h.list(func(a *domain.AnalyticsResult) domain.IDSet { return a.NotFollowedBack }))
	r.Get("/mutual", h.list(func(a *domain.AnalyticsResult) domain.IDSet { return a.Mutual }))
	r.Get("/new-followers", h.all(func(a *domain.AnalyticsResult) domain.IDSet { return a.NewFollowers }))
	r.Get("/lost-followers", h.all(func(a *domain.AnalyticsResult) domain.IDSet { return a.LostFollowers }))

	r.Get("/can-sync", h.canSync)
	r.With(h.syncLimit).Post("/sync", h.startSync)
	r.Get("/sync/status", h.syncStatus)
	r.Get("/sync/history", h.syncHistory)
}

// ImageRoutes registers the public profile picture endpoints.
func (h analyticsHandler) ImageRoutes(r chi.Router) {
	r.Get("/image-cache/status", h.imageCacheStatus)
	r.Get("/profile-pic/{userID}", h.profilePic)
	r.Get("/has-cached-pic/{userID}", h.hasCachedPic)
}

type overviewResponse struct {
	domain.AnalyticsOverview
	LastSync *time.Time `json:"last_sync"`
}

type detailedResponse struct {
	Overview         overviewResponse `json:"overview"`
	Followers        []domain.UserRef `json:"followers"`
	Following        []domain.UserRef `json:"following"`
	NotFollowingBack []domain.UserRef `json:"not_following_back"`
	NotFollowedBack  []domain.UserRef `json:"not_followed_back"`
	Mutual           []domain.UserRef `json:"mutual"`
	NewFollowers     []domain.UserRef `json:"new_followers"`
	LostFollowers    []domain.UserRef `json:"lost_followers"`
}

func newOverviewResponse(result *domain.AnalyticsResult) overviewResponse {
	computed := result.ComputedAt
	return overviewResponse{AnalyticsOverview: result.Overview, LastSync: &computed}
}

// load fetches the account's cached analytics. It writes the response and
// returns nil when there is nothing to show.
func (h analyticsHandler) load(w http.ResponseWriter, r *http.Request) (*domain.Account, *domain.AnalyticsResult, bool) {
	account := accountFromContext(r.Context())
	if account == nil {
		h.encoder.StatusError(w, http.StatusUnauthorized, "Not authenticated")
		return nil, nil, false
	}

	result, err := h.analytics.Get(r.Context(), account.ID)
	if err != nil {
		h.log.Error().Err(err).Int64("account_id", account.ID).Msg("could not load analytics")
		h.encoder.StatusInternalError(w)
		return nil, nil, false
	}
	return account, result, true
}

func (h analyticsHandler) overview(w http.ResponseWriter, r *http.Request) {
	_, result, ok := h.load(w, r)
	if !ok {
		return
	}
	if result == nil {
		h.encoder.StatusError(w, http.StatusNotFound, noAnalyticsMessage)
		return
	}

	h.encoder.StatusResponse(r.Context(), w, newOverviewResponse(result), http.StatusOK)
}

// profile fetches the live profile, so an expired session shows up here
// before the next sync.
func (h analyticsHandler) profile(w http.ResponseWriter, r *http.Request) {
	account := accountFromContext(r.Context())
	if account == nil {
		h.encoder.StatusError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	profile, err := h.profiles.Profile(r.Context(), *account)
	if err != nil {
		if _, ok := domain.AsSocialError(err); !ok {
			h.log.Error().Err(err).Int64("account_id", account.ID).Msg("could not load profile")
			h.encoder.StatusInternalError(w)
			return
		}
		status, message := authErrorStatus(err)
		h.encoder.StatusError(w, status, message)
		return
	}

	h.encoder.StatusResponse(r.Context(), w, profile, http.StatusOK)
}

func (h analyticsHandler) detailed(w http.ResponseWriter, r *http.Request) {
	_, result, ok := h.load(w, r)
	if !ok {
		return
	}

	if result == nil {
		empty := []domain.UserRef{}
		h.encoder.StatusResponse(r.Context(), w, detailedResponse{
			Followers:        empty,
			Following:        empty,
			NotFollowingBack: empty,
			NotFollowedBack:  empty,
			Mutual:           empty,
			NewFollowers:     empty,
			LostFollowers:    empty,
		}, http.StatusOK)
		return
	}

	h.encoder.StatusResponse(r.Context(), w, detailedResponse{
		Overview:         newOverviewResponse(result),
		Followers:        result.Resolve(result.Followers),
		Following:        result.Resolve(result.Following),
		NotFollowingBack: result.Resolve(result.NotFollowingBack),
		NotFollowedBack:  result.Resolve(result.NotFollowedBack),
		Mutual:           result.Resolve(result.Mutual),
		NewFollowers:     result.Resolve(result.NewFollowers),
		LostFollowers:    result.Resolve(result.LostFollowers),
	}, http.StatusOK)
}

// list serves one set sorted by username, paged with limit and offset.
func (h analyticsHandler) list(set func(*domain.AnalyticsResult) domain.IDSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := pageParams(r)
		if err != nil {
			h.encoder.StatusError(w, http.StatusBadRequest, err.Error())
			return
		}

		_, result, ok := h.load(w, r)
		if !ok {
			return
		}
		if result == nil {
			h.encoder.StatusError(w, http.StatusNotFound, noAnalyticsMessage)
			return
		}

		users := result.Resolve(set(result))
		h.encoder.StatusResponse(r.Context(), w, page(users, limit, offset), http.StatusOK)
	}
}

// all serves one set sorted by username without paging.
func (h analyticsHandler) all(set func(*domain.AnalyticsResult) domain.IDSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, result, ok := h.load(w, r)
		if !ok {
			return
		}
		if result == nil {
			h.encoder.StatusError(w, http.StatusNotFound, noAnalyticsMessage)
			return
		}

		h.encoder.StatusResponse(r.Context(), w, result.Resolve(set(result)), http.StatusOK)
	}
}

type badParamError string

func (e badParamError) Error() string { return string(e) }

func pageParams(r *http.Request) (int, int, error) {
	limit, offset := defaultListLimit, 0

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, badParamError("limit must be a non-negative integer")
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, badParamError("offset must be a non-negative integer")
		}
		offset = n
	}

	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, offset, nil
}

func page(users []domain.UserRef, limit, offset int) []domain.UserRef {
	if offset >= len(users) {
		return []domain.UserRef{}
	}
	end := offset + limit
	if end > len(users) {
		end = len(users)
	}
	return users[offset:end]
}

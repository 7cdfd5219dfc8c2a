package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/flurbudurbur/Gramsight/internal/auth"
	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/flurbudurbur/Gramsight/pkg/errors"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type authHandler struct {
	log          zerolog.Logger
	encoder      encoder
	service      authService
	authenticate func(http.Handler) http.Handler
}

func newAuthHandler(encoder encoder, log zerolog.Logger, service authService, authenticate func(http.Handler) http.Handler) *authHandler {
	return &authHandler{
		log:          log,
		encoder:      encoder,
		service:      service,
		authenticate: authenticate,
	}
}

func (h authHandler) Routes(r chi.Router) {
	r.Post("/login", h.login)
	r.Post("/verify-2fa", h.verifyTwoFactor)
	r.Post("/verify-challenge", h.verifyChallenge)
	r.Post("/logout", h.logout)

	if h.authenticate != nil {
		r.With(h.authenticate).Get("/me", h.me)
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type twoFactorRequest struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

type challengeRequest struct {
	SessionID     string `json:"session_id"`
	Code          string `json:"code"`
	ChallengeType string `json:"challenge_type,omitempty"`
}

type authResponse struct {
	Success           bool            `json:"success"`
	Message           string          `json:"message"`
	RequiresChallenge bool            `json:"requires_challenge"`
	ChallengeType     string          `json:"challenge_type,omitempty"`
	SessionID         string          `json:"session_id,omitempty"`
	AccessToken       string          `json:"access_token,omitempty"`
	ExpiresAt         string          `json:"expires_at,omitempty"`
	User              *domain.Account `json:"user,omitempty"`
}

func (h authHandler) login(w http.ResponseWriter, r *http.Request) {
	var data loginRequest
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		h.encoder.StatusError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	data.Username = strings.TrimSpace(data.Username)
	if data.Username == "" || data.Password == "" {
		h.encoder.StatusError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	outcome, err := h.service.Login(r.Context(), data.Username, data.Password)
	h.respond(w, r, outcome, err)
}

func (h authHandler) verifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var data twoFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		h.encoder.StatusError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcome, err := h.service.VerifyTwoFactor(r.Context(), auth.TwoFactorRequest{
		SessionID: data.SessionID,
		Code:      data.Code,
		Username:  strings.TrimSpace(data.Username),
		Password:  data.Password,
	})
	h.respond(w, r, outcome, err)
}

func (h authHandler) verifyChallenge(w http.ResponseWriter, r *http.Request) {
	var data challengeRequest
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		h.encoder.StatusError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcome, err := h.service.VerifyChallenge(r.Context(), auth.ChallengeRequest{
		SessionID: data.SessionID,
		Code:      data.Code,
	})
	h.respond(w, r, outcome, err)
}

// logout is stateless, the client drops its token.
func (h authHandler) logout(w http.ResponseWriter, r *http.Request) {
	h.encoder.StatusResponse(r.Context(), w, authResponse{Success: true, Message: "Logged out"}, http.StatusOK)
}

func (h authHandler) me(w http.ResponseWriter, r *http.Request) {
	account := accountFromContext(r.Context())
	if account == nil {
		h.encoder.StatusError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	h.encoder.StatusResponse(r.Context(), w, account, http.StatusOK)
}

func (h authHandler) respond(w http.ResponseWriter, r *http.Request, outcome *auth.Outcome, err error) {
	if err != nil {
		status, message := authErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Msg("login step failed")
		}
		h.encoder.StatusError(w, status, message)
		return
	}

	resp := authResponse{
		Success:           outcome.Success,
		Message:           outcome.Message,
		RequiresChallenge: outcome.RequiresChallenge,
		ChallengeType:     outcome.ChallengeType,
		SessionID:         outcome.SessionID,
		AccessToken:       outcome.Token,
		User:              outcome.Account,
	}
	if !outcome.ExpiresAt.IsZero() {
		resp.ExpiresAt = outcome.ExpiresAt.UTC().Format(time.RFC3339)
	}

	h.encoder.StatusResponse(r.Context(), w, resp, http.StatusOK)
}

// authErrorStatus maps login failures to a status code and display message.
func authErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrMissingCode):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, auth.ErrLockedOut):
		return http.StatusTooManyRequests, err.Error()
	}

	se, ok := domain.AsSocialError(err)
	if !ok {
		return http.StatusInternalServerError, "login failed"
	}

	message := se.Message
	if message == "" {
		message = string(se.Kind)
	}

	switch se.Kind {
	case domain.SocialErrLoginFailed, domain.SocialErrSessionExpired:
		return http.StatusUnauthorized, message
	case domain.SocialErrRateLimited:
		return http.StatusTooManyRequests, message
	case domain.SocialErrChallengeRequired:
		return http.StatusForbidden, message
	default:
		return http.StatusBadGateway, message
	}
}

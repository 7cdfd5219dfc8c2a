package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/flurbudurbur/Gramsight/internal/auth"
	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/flurbudurbur/Gramsight/pkg/errors"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

const (
	// AccountContextKey holds the *domain.Account resolved from the bearer token.
	AccountContextKey ContextKey = "account"
)

// RateLimitStore counts hits in a sliding window.
type RateLimitStore interface {
	Hit(ctx context.Context, key string, window time.Duration) (int, error)
}

// accountFromContext returns the authenticated account, or nil.
func accountFromContext(ctx context.Context) *domain.Account {
	account, _ := ctx.Value(AccountContextKey).(*domain.Account)
	return account
}

// AuthenticateToken requires a valid "Authorization: Bearer <jwt>" header and
// stores the account it belongs to in the request context.
func (s *Server) AuthenticateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := s.log.With().Str("middleware", "AuthenticateToken").Logger()

		token, ok := bearerToken(r)
		if !ok {
			log.Debug().Msg("missing or malformed Authorization header")
			s.encoder.StatusError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		account, err := s.authService.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				log.Debug().Err(err).Msg("token rejected")
				s.encoder.StatusError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			log.Error().Err(err).Msg("could not resolve token")
			s.encoder.StatusInternalError(w)
			return
		}

		ctx := context.WithValue(r.Context(), AccountContextKey, account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// EventSource and WebSocket requests, those pass the token as ?token=.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		token := r.URL.Query().Get("token")
		return token, token != ""
	}

	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// LoggerMiddleware provides structured logging for HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				reqID := middleware.GetReqID(r.Context())

				if rec := recover(); rec != nil {
					logger.Error().
						Str("type", "error").
						Timestamp().
						Interface("recover_info", rec).
						Bytes("debug_stack", debug.Stack()).
						Str("request_id", reqID).
						Msg("Unhandled panic recovered by middleware")
					http.Error(ww, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}

				logger.Debug().
					Str("request_id", reqID).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("elapsed", time.Since(start)).
					Msg("request")
			}()

			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}

// RateLimiter limits requests per account, or per client IP before login,
// in a sliding window kept in valkey. scope separates independent budgets and
// limit reads the allowance from the live config.
func (s *Server) RateLimiter(scope string, limit func(cfg *domain.Config) int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := s.config.Snapshot()
			if !cfg.RateLimit.Enabled || s.limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			log := s.log.With().Str("middleware", "RateLimiter").Str("scope", scope).Logger()

			identifier, identifierType := clientIdentifier(r)
			if identifierType == "ip_address" && isExemptIP(cfg.RateLimit.ExemptInternalIPs, identifier) {
				next.ServeHTTP(w, r)
				return
			}

			requests := limit(cfg)
			if requests <= 0 {
				requests = 20
			}
			windowSeconds := cfg.RateLimit.WindowSeconds
			if windowSeconds <= 0 {
				windowSeconds = 60
			}

			key := fmt.Sprintf("%s:%s:%s", scope, identifierType, identifier)
			count, err := s.limiter.Hit(r.Context(), key, time.Duration(windowSeconds)*time.Second)
			if err != nil {
				// fail open
				log.Error().Err(err).Str("identifier", identifier).Msg("Error checking rate limit")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(requests))
			if count > requests {
				log.Warn().
					Str("identifier", identifier).
					Str("type", identifierType).
					Int("current_count", count).
					Int("limit", requests).
					Msg("Rate limit exceeded")

				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", strconv.Itoa(windowSeconds))
				s.encoder.StatusError(w, http.StatusTooManyRequests, "Too Many Requests")
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(requests-count))
			next.ServeHTTP(w, r)
		})
	}
}

func clientIdentifier(r *http.Request) (string, string) {
	if account := accountFromContext(r.Context()); account != nil {
		return strconv.FormatInt(account.ID, 10), "account"
	}
	return getClientIP(r), "ip_address"
}

// getClientIP extracts the client IP address, honouring proxy headers.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}

	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return strings.TrimSpace(xrip)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func isExemptIP(list, ip string) bool {
	for _, exempt := range strings.Split(list, ",") {
		if exempt = strings.TrimSpace(exempt); exempt != "" && exempt == ip {
			return true
		}
	}
	return false
}

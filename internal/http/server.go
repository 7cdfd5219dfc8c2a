package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/flurbudurbur/Gramsight/internal/auth"
	"github.com/flurbudurbur/Gramsight/internal/config"
	"github.com/flurbudurbur/Gramsight/internal/cooldown"
	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/flurbudurbur/Gramsight/internal/logger"
	"github.com/flurbudurbur/Gramsight/internal/logstream"
	"github.com/flurbudurbur/Gramsight/internal/metrics"
	frontend "github.com/flurbudurbur/Gramsight/web"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/r3labs/sse/v2"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

type authService = auth.Service

type syncService interface {
	Start(ctx context.Context, account domain.Account) (domain.SyncStatus, error)
	Status(accountID int64) domain.SyncStatus
}

type profileService interface {
	Profile(ctx context.Context, account domain.Account) (*domain.UserRef, error)
}

type cooldownService interface {
	CanSync(ctx context.Context, accountID int64) cooldown.Decision
	Cooldown() time.Duration
	SetCooldown(d time.Duration)
}

type imageService interface {
	Status() domain.ImageCacheStatus
	GetCachedImage(ctx context.Context, userID string) ([]byte, string, error)
	HasCachedImage(ctx context.Context, userID string) (bool, error)
}

// Services groups what the API needs from the rest of the application.
// Limiter may be nil, rate limiting is then skipped.
type Services struct {
	Auth      authService
	Sync      syncService
	Cooldown  cooldownService
	Analytics domain.AnalyticsRepo
	History   domain.SyncHistoryRepo
	Images    imageService
	Logs      *logstream.Broadcaster
	Metrics   *metrics.Metrics
	Limiter   RateLimitStore
}

type Server struct {
	log     zerolog.Logger
	baseLog logger.Logger
	sse     *sse.Server
	db      DBPinger
	encoder encoder

	config *config.AppConfig

	version string
	commit  string
	date    string

	authService authService
	syncService syncService
	cooldown    cooldownService
	analytics   domain.AnalyticsRepo
	history     domain.SyncHistoryRepo
	images      imageService
	logs        *logstream.Broadcaster
	metrics     *metrics.Metrics
	limiter     RateLimitStore

	httpServer *http.Server
}

func NewServer(log logger.Logger, config *config.AppConfig, sse *sse.Server, db DBPinger, version, commit, date string, svc Services) *Server {
	return &Server{
		log:     log.With().Str("module", "http").Logger(),
		baseLog: log,
		sse:     sse,
		db:      db,
		config:  config,
		version: version,
		commit:  commit,
		date:    date,

		authService: svc.Auth,
		syncService: svc.Sync,
		cooldown:    svc.Cooldown,
		analytics:   svc.Analytics,
		history:     svc.History,
		images:      svc.Images,
		logs:        svc.Logs,
		metrics:     svc.Metrics,
		limiter:     svc.Limiter,
	}
}

// Open listens on the configured address and serves until Shutdown.
func (s *Server) Open() error {
	cfg := s.config.Snapshot()
	addr := fmt.Sprintf("%v:%v", cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info().Msgf("Starting server. Listening on %s", listener.Addr().String())

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggerMiddleware(&s.log))
	r.Use(s.metrics.Middleware)

	c := cors.New(cors.Options{
		AllowCredentials:   true,
		AllowedMethods:     []string{"HEAD", "OPTIONS", "GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:     []string{"Authorization", "Content-Type"},
		AllowOriginFunc:    func(origin string) bool { return true },
		OptionsPassthrough: true,
		Debug:              false,
	})

	r.Use(c.Handler)

	s.sse.Headers = map[string]string{
		"Content-Type":      "text/event-stream",
		"Cache-Control":     "no-cache",
		"Connection":        "keep-alive",
		"X-Accel-Buffering": "no",
	}

	apiLimit := s.RateLimiter("api", func(cfg *domain.Config) int { return cfg.RateLimit.RequestsPerMinute })
	syncLimit := s.RateLimiter("sync", func(cfg *domain.Config) int { return cfg.RateLimit.SyncRequestsPerMinute })

	r.Route("/api", func(r chi.Router) {
		r.Route("/healthz", newHealthHandler(s.encoder, s.db).Routes)

		r.Group(func(r chi.Router) {
			r.Use(apiLimit)
			r.Route("/auth", newAuthHandler(s.encoder, s.log, s.authService, s.AuthenticateToken).Routes)
		})

		analytics := newAnalyticsHandler(s.encoder, s.log, s.analytics, s.history, s.syncService, s.cooldown, s.images, s.authService, syncLimit)
		r.Route("/analytics", func(r chi.Router) {
			// profile pictures are loaded by <img> tags, which cannot send a bearer token
			analytics.ImageRoutes(r)

			r.Group(func(r chi.Router) {
				r.Use(s.AuthenticateToken)
				r.Use(apiLimit)
				analytics.Routes(r)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(s.AuthenticateToken)
			r.Use(apiLimit)

			r.Route("/config", newConfigHandler(s.encoder, s, s.config).Routes)
			r.Route("/logs", newLogsHandler(s.config).withStream(s.log, s.logs).Routes)

			r.HandleFunc("/events", s.sse.ServeHTTP)
		})
	})

	cfg := s.config.Snapshot()
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", s.metrics.Handler())
	}

	frontend.RegisterHandler(r, s.version, cfg.Server.BaseURL)

	return r
}

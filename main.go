package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/flurbudurbur/Gramsight/internal/auth"
	"github.com/flurbudurbur/Gramsight/internal/config"
	"github.com/flurbudurbur/Gramsight/internal/cooldown"
	"github.com/flurbudurbur/Gramsight/internal/database"
	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/flurbudurbur/Gramsight/internal/events"
	"github.com/flurbudurbur/Gramsight/internal/http"
	"github.com/flurbudurbur/Gramsight/internal/imagecache"
	"github.com/flurbudurbur/Gramsight/internal/logger"
	"github.com/flurbudurbur/Gramsight/internal/logstream"
	"github.com/flurbudurbur/Gramsight/internal/metrics"
	"github.com/flurbudurbur/Gramsight/internal/scheduler"
	"github.com/flurbudurbur/Gramsight/internal/server"
	"github.com/flurbudurbur/Gramsight/internal/socialgraph"
	"github.com/flurbudurbur/Gramsight/internal/sync"
	"github.com/flurbudurbur/Gramsight/internal/valkey"
	"github.com/r3labs/sse/v2"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

const shutdownTimeout = 30 * time.Second

func main() {
	var configPath string
	pflag.StringVar(&configPath, "config", "", "path to configuration file")
	pflag.Parse()

	// read config
	cfg := config.New(configPath, version)

	// init new logger
	log := logger.New(cfg.Config)

	// init dynamic config
	cfg.DynamicReload(log)

	// setup metrics
	var m *metrics.Metrics
	if cfg.Config.Metrics.Enabled {
		m = metrics.New()
	}

	// setup server-sent-events and the live log stream
	serverEvents := sse.New()
	logs := logstream.New(logstream.WithObserverGauge(m.SetLogObservers))

	log.RegisterStreamWriter(logs)
	log.RegisterStreamWriter(http.NewSSELogPublisher(serverEvents))

	// setup internal eventbus
	bus := EventBus.New()

	// open database connection
	db, err := database.NewDB(cfg.Config, log)
	if err != nil {
		log.Fatal().Err(err).Msg("could not create new db")
	}

	if err := db.Open(); err != nil {
		log.Fatal().Err(err).Msg("could not open db connection")
	}

	log.Info().Msgf("Starting Gramsight")
	log.Info().Msgf("Version: %s", version)
	log.Info().Msgf("Commit: %s", commit)
	log.Info().Msgf("Build date: %s", date)
	log.Info().Msgf("Log-level: %s", cfg.Config.Logging.Level)
	log.Info().Msgf("Using database: %s", db.Driver)

	// setup repos
	var (
		accountRepo   = database.NewAccountRepo(log, db)
		snapshotRepo  = database.NewSnapshotRepo(log, db)
		analyticsRepo = database.NewAnalyticsRepo(log, db)
		historyRepo   = database.NewSyncHistoryRepo(log, db)
		cooldownRepo  = database.NewCooldownRepo(log, db)
		imageRepo     = database.NewImageRepo(log, db)
	)

	// optional Valkey for rate limiting and login lockouts
	var (
		limiter http.RateLimitStore
		lockout auth.LockoutStore
	)
	if cfg.Config.Valkey.Enabled {
		valkeyService, err := valkey.NewService(log, cfg.Config.Valkey)
		if err != nil {
			log.Fatal().Err(err).Msg("could not create new valkey service")
		}
		defer valkeyService.Close()

		limiter = valkeyService
		lockout = valkeyService
		log.Info().Msg("Valkey service initialized")
	} else {
		log.Info().Msg("Valkey is disabled, rate limiting and login lockouts are off")
	}

	tokens, err := auth.NewTokens(cfg.Config.SessionSecret, time.Duration(cfg.Config.Auth.TokenTTLMinutes)*time.Minute)
	if err != nil {
		log.Fatal().Err(err).Msg("could not set up access tokens")
	}

	sealer, err := auth.NewSealer(cfg.Config.SessionSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("could not set up session sealing")
	}

	// setup services
	var (
		client        = socialgraph.NewClient(log, cfg.Config.SocialGraph)
		gate          = cooldown.NewGate(log, cooldownRepo, hours(cfg.Config.Sync.CooldownHours))
		imagePipeline = imagecache.NewPipeline(log, imageRepo, client, cfg.Config.ImageCache, imagecache.WithObserver(m))
		syncService   = sync.NewService(log, *cfg.Config, sync.Deps{
			Client:    client,
			Snapshots: snapshotRepo,
			Analytics: analyticsRepo,
			Images:    imageRepo,
			Gate:      gate,
			Queue:     imagePipeline,
			Sessions:  sealer,
			Bus:       bus,
			Tx:        db,
		})
		authService       = auth.NewService(log, *cfg.Config, client, accountRepo, tokens, sealer, lockout, syncService)
		schedulingService = scheduler.NewService(log, cfg.Config, snapshotRepo, accountRepo, syncService)
	)

	// register event subscribers
	events.NewSubscribers(log, bus, historyRepo, accountRepo, m)

	cfg.OnReload(func(c *domain.Config) {
		gate.SetCooldown(hours(c.Sync.CooldownHours))
	})

	srv := server.NewServer(log, cfg.Config, schedulingService, syncService, imagePipeline)
	if err := srv.Start(); err != nil {
		log.Fatal().Stack().Err(err).Msg("could not start server")
		return
	}

	httpServer := http.NewServer(log, cfg, serverEvents, db, version, commit, date, http.Services{
		Auth:      authService,
		Sync:      syncService,
		Cooldown:  gate,
		Analytics: analyticsRepo,
		History:   historyRepo,
		Images:    imagePipeline,
		Logs:      logs,
		Metrics:   m,
		Limiter:   limiter,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(httpServer.Open)

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("could not shut down http server")
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("could not shut down background workers")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Stack().Err(err).Msg("server stopped with error")
	}

	if err := db.Close(); err != nil {
		log.Error().Stack().Err(err).Msg("could not close db connection")
		os.Exit(1)
	}
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

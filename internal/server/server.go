package server

import (
	"context"
	"sync"

	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/flurbudurbur/Gramsight/internal/logger"
	"github.com/flurbudurbur/Gramsight/internal/scheduler"
	"github.com/flurbudurbur/Gramsight/pkg/errors"
	"github.com/rs/zerolog"
)

// Syncer is the part of the sync orchestrator that owns goroutines.
type Syncer interface {
	Shutdown(ctx context.Context) error
}

// ImageCache is the part of the image pipeline that owns workers.
type ImageCache interface {
	Shutdown()
}

// Server owns the background workers that run next to the HTTP API.
type Server struct {
	log    zerolog.Logger
	config *domain.Config

	scheduler scheduler.Service
	syncer    Syncer
	images    ImageCache

	lock    sync.Mutex
	started bool
}

func NewServer(log logger.Logger, config *domain.Config, scheduler scheduler.Service, syncer Syncer, images ImageCache) *Server {
	return &Server{
		log:       log.With().Str("module", "server").Logger(),
		config:    config,
		scheduler: scheduler,
		syncer:    syncer,
		images:    images,
	}
}

func (s *Server) Start() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.started {
		return errors.New("server already started")
	}

	// start cron scheduler
	s.scheduler.Start()
	s.started = true

	s.log.Debug().
		Bool("auto_sync", s.config.AutoSync.Enabled).
		Bool("retention", s.config.Retention.Enabled).
		Msg("background workers started")

	return nil
}

// Shutdown stops scheduling new work, then waits for running syncs until ctx
// expires and finally stops the image workers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.started {
		return nil
	}
	s.started = false

	s.log.Info().Msg("Shutting down background workers")

	s.scheduler.Stop()

	var err error
	if s.syncer != nil {
		if err = s.syncer.Shutdown(ctx); err != nil {
			s.log.Warn().Err(err).Msg("syncs did not finish before shutdown")
		}
	}

	if s.images != nil {
		s.images.Shutdown()
	}

	return err
}

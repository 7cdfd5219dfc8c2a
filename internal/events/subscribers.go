package events

import (
	"context"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/flurbudurbur/Gramsight/internal/logger"
	"github.com/rs/zerolog"
)

const storeTimeout = 10 * time.Second

type SyncObserver interface {
	ObserveSyncRun(outcome domain.SyncOutcome, d time.Duration)
}

type Subscriber struct {
	log      zerolog.Logger
	eventbus EventBus.Bus

	history  domain.SyncHistoryRepo
	accounts domain.AccountRepo
	metrics  SyncObserver
}

// NewSubscribers registers the handlers for finished syncs. metrics may be nil.
func NewSubscribers(log logger.Logger, eventbus EventBus.Bus, history domain.SyncHistoryRepo, accounts domain.AccountRepo, metrics SyncObserver) Subscriber {
	s := Subscriber{
		log:      log.With().Str("module", "events").Logger(),
		eventbus: eventbus,
		history:  history,
		accounts: accounts,
		metrics:  metrics,
	}

	s.Register()

	return s
}

func (s Subscriber) Register() {
	if err := s.eventbus.Subscribe(domain.EventSyncCompleted, s.syncCompleted); err != nil {
		s.log.Error().Err(err).Msgf("failed to subscribe to %s", domain.EventSyncCompleted)
	}
	if err := s.eventbus.Subscribe(domain.EventSyncFailed, s.syncFailed); err != nil {
		s.log.Error().Err(err).Msgf("failed to subscribe to %s", domain.EventSyncFailed)
	}
}

func (s Subscriber) syncCompleted(event *domain.SyncEvent) {
	s.record(event)
}

// syncFailed also drops the stored session once upstream rejected it, so
// scheduled syncs stop until the user logs in again.
func (s Subscriber) syncFailed(event *domain.SyncEvent) {
	s.record(event)

	if event.ErrorKind != domain.SocialErrSessionExpired {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := s.accounts.ClearSession(ctx, event.Run.AccountID); err != nil {
		s.log.Error().Err(err).Int64("account_id", event.Run.AccountID).Msg("could not clear expired session")
		return
	}
	s.log.Info().Int64("account_id", event.Run.AccountID).Msg("cleared expired session")
}

func (s Subscriber) record(event *domain.SyncEvent) {
	if s.metrics != nil {
		s.metrics.ObserveSyncRun(event.Run.Outcome, event.Duration)
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := s.history.Store(ctx, event.Run); err != nil {
		s.log.Error().Err(err).Str("run_id", event.Run.ID).Msg("could not store sync history")
	}
}

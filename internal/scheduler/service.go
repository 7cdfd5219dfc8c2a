package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/flurbudurbur/Gramsight/internal/logger"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	jobPruneSnapshots = "app-prune-snapshots"
	jobAutoSync       = "app-auto-sync"
)

type Service interface {
	Start()
	Stop()
	// AddJob adds a job that runs periodically at the given interval.
	AddJob(job cron.Job, interval time.Duration, identifier string) (int, error)
	// AddJobWithSpec adds a job using a cron spec string (e.g., "0 3 * * *").
	AddJobWithSpec(job cron.Job, spec string, identifier string) (int, error)
	RemoveJobByIdentifier(id string) error
	GetNextRun(id string) (time.Time, error)
}

type service struct {
	log       zerolog.Logger
	config    *domain.Config
	snapshots domain.SnapshotRepo
	accounts  domain.AccountRepo
	syncer    Syncer

	cron *cron.Cron
	jobs map[string]cron.EntryID
	m    sync.RWMutex
}

func NewService(log logger.Logger, config *domain.Config, snapshots domain.SnapshotRepo, accounts domain.AccountRepo, syncer Syncer) Service {
	return &service{
		log:       log.With().Str("module", "scheduler").Logger(),
		config:    config,
		snapshots: snapshots,
		accounts:  accounts,
		syncer:    syncer,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
		)),
		jobs: map[string]cron.EntryID{},
	}
}

func (s *service) Start() {
	s.log.Info().Msg("Starting scheduler service")

	s.cron.Start()

	s.addAppJobs()
}

func (s *service) addAppJobs() {
	if s.config.Retention.Enabled {
		prune := &PruneSnapshotsJob{
			Name: jobPruneSnapshots,
			Log:  s.log.With().Str("job", jobPruneSnapshots).Logger(),
			Repo: s.snapshots,
			Days: s.config.Retention.SnapshotDays,
		}

		spec := s.config.Retention.Schedule
		if spec == "" {
			spec = "0 4 * * *"
		}
		if _, err := s.AddJobWithSpec(prune, spec, jobPruneSnapshots); err != nil {
			s.log.Error().Err(err).Msgf("Failed to add '%s' job", jobPruneSnapshots)
		}
	} else {
		s.log.Info().Msgf("Snapshot retention is disabled, skipping '%s' job", jobPruneSnapshots)
	}

	if s.config.AutoSync.Enabled && s.syncer != nil {
		autoSync := &AutoSyncJob{
			Name:     jobAutoSync,
			Log:      s.log.With().Str("job", jobAutoSync).Str(logger.TagFieldName, logger.TagSync).Logger(),
			Accounts: s.accounts,
			Syncer:   s.syncer,
		}

		spec := s.config.AutoSync.Schedule
		if spec == "" {
			spec = "0 */6 * * *"
		}
		if _, err := s.AddJobWithSpec(autoSync, spec, jobAutoSync); err != nil {
			s.log.Error().Err(err).Msgf("Failed to add '%s' job", jobAutoSync)
		}
	}
}

func (s *service) Stop() {
	s.log.Info().Msg("Stopping scheduler service")
	<-s.cron.Stop().Done()
}

func (s *service) AddJob(job cron.Job, interval time.Duration, identifier string) (int, error) {
	return s.add(job, fmt.Sprintf("@every %s", interval.String()), identifier)
}

func (s *service) AddJobWithSpec(job cron.Job, spec string, identifier string) (int, error) {
	return s.add(job, spec, identifier)
}

func (s *service) add(job cron.Job, spec string, identifier string) (int, error) {
	s.m.Lock()
	defer s.m.Unlock()

	if _, exists := s.jobs[identifier]; exists {
		s.log.Warn().Str("identifier", identifier).Msg("Job with this identifier already exists, skipping add.")
		return 0, fmt.Errorf("job with identifier '%s' already exists", identifier)
	}

	entryID, err := s.cron.AddJob(spec, cron.NewChain(
		cron.SkipIfStillRunning(cron.DefaultLogger)).Then(job))
	if err != nil {
		s.log.Error().Err(err).Str("identifier", identifier).Str("spec", spec).Msg("Failed to add job")
		return 0, fmt.Errorf("failed to add job '%s' with spec '%s': %w", identifier, spec, err)
	}

	s.log.Info().Str("identifier", identifier).Str("spec", spec).Int("entryID", int(entryID)).Msg("Scheduled job added")
	s.jobs[identifier] = entryID
	return int(entryID), nil
}

func (s *service) RemoveJobByIdentifier(id string) error {
	s.m.Lock()
	defer s.m.Unlock()

	v, ok := s.jobs[id]
	if !ok {
		return nil
	}

	s.log.Debug().Msgf("scheduler.Remove: removing job: %v", id)

	s.cron.Remove(v)
	delete(s.jobs, id)

	return nil
}

func (s *service) GetNextRun(id string) (time.Time, error) {
	entry := s.getEntryById(id)

	if !entry.Valid() {
		return time.Time{}, nil
	}

	s.log.Debug().Msgf("scheduler.GetNextRun: %s next run: %s", id, entry.Next)

	return entry.Next, nil
}

func (s *service) getEntryById(id string) cron.Entry {
	s.m.RLock()
	defer s.m.RUnlock()

	v, ok := s.jobs[id]
	if !ok {
		return cron.Entry{}
	}

	return s.cron.Entry(v)
}

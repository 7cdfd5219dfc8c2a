package scheduler

import (
	"context"
	"time"

	"github.com/flurbudurbur/Gramsight/internal/domain"
	syncsvc "github.com/flurbudurbur/Gramsight/internal/sync"
	"github.com/flurbudurbur/Gramsight/pkg/errors"
	"github.com/rs/zerolog"
)

const jobTimeout = 5 * time.Minute

// Syncer is the part of the sync service the auto-sync job needs.
type Syncer interface {
	StartUnattended(ctx context.Context, account domain.Account) (domain.SyncStatus, error)
}

// PruneSnapshotsJob deletes snapshots older than Days. Each account keeps its
// latest snapshot regardless of age.
type PruneSnapshotsJob struct {
	Name string
	Log  zerolog.Logger
	Repo domain.SnapshotRepo
	Days int

	now func() time.Time
}

func (j *PruneSnapshotsJob) Run() {
	if j.Days <= 0 {
		j.Log.Debug().Msg("Snapshot retention days not set, nothing to prune")
		return
	}

	now := time.Now
	if j.now != nil {
		now = j.now
	}
	cutoff := now().AddDate(0, 0, -j.Days)

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	j.Log.Info().Time("cutoff", cutoff).Msg("Starting snapshot pruning job")

	n, err := j.Repo.PruneOlderThan(ctx, cutoff)
	if err != nil {
		j.Log.Error().Err(err).Msg("Failed to prune snapshots")
		return
	}

	j.Log.Info().Msgf("Snapshot pruning job finished. Deleted: %d", n)
}

// AutoSyncJob tries to start a sync for every account with a stored session.
type AutoSyncJob struct {
	Name     string
	Log      zerolog.Logger
	Accounts domain.AccountRepo
	Syncer   Syncer
}

func (j *AutoSyncJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	accounts, err := j.Accounts.List(ctx)
	if err != nil {
		j.Log.Error().Err(err).Msg("Failed to list accounts for auto sync")
		return
	}

	started := 0
	for _, account := range accounts {
		if len(account.SessionData) == 0 {
			continue
		}

		if _, err := j.Syncer.StartUnattended(ctx, account); err != nil {
			if errors.Is(err, syncsvc.ErrAlreadySyncing) || errors.Is(err, syncsvc.ErrCooldownActive) || errors.Is(err, syncsvc.ErrResultUnread) {
				j.Log.Debug().Err(err).Msgf("Auto sync skipped for @%s", account.Username)
			} else {
				j.Log.Warn().Err(err).Msgf("Auto sync could not start for @%s", account.Username)
			}
			continue
		}
		started++
	}

	j.Log.Info().Msgf("Auto sync started %d of %d accounts", started, len(accounts))
}

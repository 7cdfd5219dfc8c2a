package database

import (
	"context"

	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/flurbudurbur/Gramsight/internal/logger"
	"github.com/flurbudurbur/Gramsight/pkg/errors"
	"github.com/rs/zerolog"
)

type SyncHistoryRepo struct {
	log zerolog.Logger
	db  *DB
}

func NewSyncHistoryRepo(log logger.Logger, db *DB) domain.SyncHistoryRepo {
	return &SyncHistoryRepo{
		log: log.With().Str("repo", "sync_history").Logger(),
		db:  db,
	}
}

func (r *SyncHistoryRepo) Store(ctx context.Context, run domain.SyncRun) error {
	if result := r.db.Get().WithContext(ctx).Create(&run); result.Error != nil {
		r.log.Error().Err(result.Error).Str("run_id", run.ID).Msg("Failed to store sync run")
		return errors.Wrap(result.Error, "failed to store sync run")
	}

	return nil
}

// List returns the newest runs first.
func (r *SyncHistoryRepo) List(ctx context.Context, accountID int64, limit int) ([]domain.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}

	var runs []domain.SyncRun
	result := r.db.Get().WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs)

	if result.Error != nil {
		r.log.Error().Err(result.Error).Int64("account_id", accountID).Msg("Failed to list sync history")
		return nil, errors.Wrap(result.Error, "failed to list sync history")
	}

	return runs, nil
}

package database

import (
	"context"

	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/flurbudurbur/Gramsight/internal/logger"
	"github.com/flurbudurbur/Gramsight/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CooldownRepo struct {
	log zerolog.Logger
	db  *DB
}

func NewCooldownRepo(log logger.Logger, db *DB) domain.CooldownRepo {
	return &CooldownRepo{
		log: log.With().Str("repo", "cooldown").Logger(),
		db:  db,
	}
}

func (r *CooldownRepo) Get(ctx context.Context, accountID int64) (*domain.CooldownRecord, error) {
	var record domain.CooldownRecord
	result := r.db.conn(ctx).Where("account_id = ?", accountID).Take(&record)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Error().Err(result.Error).Int64("account_id", accountID).Msg("Failed to get cooldown record")
		return nil, errors.Wrap(result.Error, "failed to get cooldown record")
	}

	return &record, nil
}

func (r *CooldownRepo) Put(ctx context.Context, record domain.CooldownRecord) error {
	result := r.db.conn(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_sync_completed_at", "cooldown_duration"}),
		}).
		Create(&record)

	if result.Error != nil {
		r.log.Error().Err(result.Error).Int64("account_id", record.AccountID).Msg("Failed to store cooldown record")
		return errors.Wrap(result.Error, "failed to store cooldown record")
	}

	return nil
}

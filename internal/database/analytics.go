package database

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/flurbudurbur/Gramsight/internal/logger"
	"github.com/flurbudurbur/Gramsight/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// analyticsRow caches the latest AnalyticsResult per account.
type analyticsRow struct {
	AccountID  int64     `gorm:"primaryKey;autoIncrement:false;column:account_id"`
	Data       []byte    `gorm:"column:data"`
	ComputedAt time.Time `gorm:"column:computed_at"`
}

func (analyticsRow) TableName() string {
	return "analytics_cache"
}

type AnalyticsRepo struct {
	log zerolog.Logger
	db  *DB
}

func NewAnalyticsRepo(log logger.Logger, db *DB) domain.AnalyticsRepo {
	return &AnalyticsRepo{
		log: log.With().Str("repo", "analytics").Logger(),
		db:  db,
	}
}

// Get returns nil, nil before the account's first successful sync.
func (r *AnalyticsRepo) Get(ctx context.Context, accountID int64) (*domain.AnalyticsResult, error) {
	var row analyticsRow
	result := r.db.conn(ctx).Where("account_id = ?", accountID).Take(&row)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Error().Err(result.Error).Int64("account_id", accountID).Msg("Failed to get analytics")
		return nil, errors.Wrap(result.Error, "failed to get analytics")
	}

	var analytics domain.AnalyticsResult
	if err := sonic.Unmarshal(row.Data, &analytics); err != nil {
		return nil, errors.Wrap(err, "failed to decode analytics for account %d", accountID)
	}

	return &analytics, nil
}

func (r *AnalyticsRepo) Store(ctx context.Context, accountID int64, analytics *domain.AnalyticsResult) error {
	data, err := sonic.Marshal(analytics)
	if err != nil {
		return errors.Wrap(err, "failed to encode analytics")
	}

	row := analyticsRow{
		AccountID:  accountID,
		Data:       data,
		ComputedAt: analytics.ComputedAt,
	}

	result := r.db.conn(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "computed_at"}),
		}).
		Create(&row)

	if result.Error != nil {
		r.log.Error().Err(result.Error).Int64("account_id", accountID).Msg("Failed to store analytics")
		return errors.Wrap(result.Error, "failed to store analytics")
	}

	return nil
}

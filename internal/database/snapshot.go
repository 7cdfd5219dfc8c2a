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
)

// snapshotRow stores one RelationshipSnapshot. The user maps are kept as a
// single JSON document; only the counts are queryable.
type snapshotRow struct {
	ID             int64     `gorm:"primaryKey;autoIncrement;column:id"`
	AccountID      int64     `gorm:"column:account_id;index"`
	AsOf           time.Time `gorm:"column:as_of;index"`
	FollowersCount int       `gorm:"column:followers_count"`
	FollowingCount int       `gorm:"column:following_count"`
	Data           []byte    `gorm:"column:data"`
}

func (snapshotRow) TableName() string {
	return "relationship_snapshots"
}

type snapshotDocument struct {
	Followers map[string]domain.UserRef `json:"followers"`
	Following map[string]domain.UserRef `json:"following"`
}

type SnapshotRepo struct {
	log zerolog.Logger
	db  *DB
}

func NewSnapshotRepo(log logger.Logger, db *DB) domain.SnapshotRepo {
	return &SnapshotRepo{
		log: log.With().Str("repo", "snapshot").Logger(),
		db:  db,
	}
}

func (r *SnapshotRepo) Latest(ctx context.Context, accountID int64) (*domain.RelationshipSnapshot, error) {
	var row snapshotRow
	result := r.db.conn(ctx).
		Where("account_id = ?", accountID).
		Order("id DESC").
		Take(&row)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Error().Err(result.Error).Int64("account_id", accountID).Msg("Failed to load latest snapshot")
		return nil, errors.Wrap(result.Error, "failed to load latest snapshot")
	}

	var doc snapshotDocument
	if err := sonic.Unmarshal(row.Data, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to decode snapshot %d", row.ID)
	}

	snapshot := domain.RelationshipSnapshot{
		AsOf:      row.AsOf,
		Followers: doc.Followers,
		Following: doc.Following,
	}
	if snapshot.Followers == nil {
		snapshot.Followers = map[string]domain.UserRef{}
	}
	if snapshot.Following == nil {
		snapshot.Following = map[string]domain.UserRef{}
	}

	return &snapshot, nil
}

func (r *SnapshotRepo) Store(ctx context.Context, accountID int64, snapshot domain.RelationshipSnapshot) error {
	data, err := sonic.Marshal(snapshotDocument{
		Followers: snapshot.Followers,
		Following: snapshot.Following,
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode snapshot")
	}

	row := snapshotRow{
		AccountID:      accountID,
		AsOf:           snapshot.AsOf,
		FollowersCount: len(snapshot.Followers),
		FollowingCount: len(snapshot.Following),
		Data:           data,
	}

	if result := r.db.conn(ctx).Create(&row); result.Error != nil {
		r.log.Error().Err(result.Error).Int64("account_id", accountID).Msg("Failed to store snapshot")
		return errors.Wrap(result.Error, "failed to store snapshot")
	}

	r.log.Debug().Int64("account_id", accountID).Int("followers", row.FollowersCount).Int("following", row.FollowingCount).Msg("Stored snapshot")
	return nil
}

func (r *SnapshotRepo) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	latest := r.db.Get().Model(&snapshotRow{}).Select("MAX(id)").Group("account_id")

	result := r.db.Get().WithContext(ctx).
		Where("as_of < ?", cutoff).
		Where("id NOT IN (?)", latest).
		Delete(&snapshotRow{})

	if result.Error != nil {
		r.log.Error().Err(result.Error).Time("cutoff", cutoff).Msg("Failed to prune snapshots")
		return 0, errors.Wrap(result.Error, "failed to prune snapshots")
	}

	return result.RowsAffected, nil
}

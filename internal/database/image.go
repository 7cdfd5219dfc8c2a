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

// uncachedChunk keeps IN lists under sqlite's bound parameter limit.
const uncachedChunk = 500

type ImageRepo struct {
	log zerolog.Logger
	db  *DB
}

func NewImageRepo(log logger.Logger, db *DB) domain.ImageRepo {
	return &ImageRepo{
		log: log.With().Str("repo", "image").Logger(),
		db:  db,
	}
}

func (r *ImageRepo) Get(ctx context.Context, userID string) (*domain.CachedImage, error) {
	var image domain.CachedImage
	result := r.db.Get().WithContext(ctx).Where("user_id = ?", userID).Take(&image)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Error().Err(result.Error).Str("user_id", userID).Msg("Failed to get cached image")
		return nil, errors.Wrap(result.Error, "failed to get cached image")
	}

	return &image, nil
}

// Put stores a fetched image. A failure marker only replaces another failure
// marker, never a stored image.
func (r *ImageRepo) Put(ctx context.Context, image domain.CachedImage) error {
	conflict := clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
	}

	if image.Failed {
		image.Data = nil
		image.ContentType = ""
		conflict.DoUpdates = clause.AssignmentColumns([]string{"fetched_at"})
		conflict.Where = clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "cached_images.failed = ?", Vars: []interface{}{true}},
		}}
	} else {
		conflict.DoUpdates = clause.AssignmentColumns([]string{"data", "content_type", "fetched_at", "failed"})
	}

	result := r.db.Get().WithContext(ctx).Clauses(conflict).Create(&image)
	if result.Error != nil {
		r.log.Error().Err(result.Error).Str("user_id", image.UserID).Msg("Failed to store cached image")
		return errors.Wrap(result.Error, "failed to store cached image")
	}

	return nil
}

func (r *ImageRepo) Uncached(ctx context.Context, ids []string) ([]string, error) {
	cached := make(map[string]struct{}, len(ids))

	for start := 0; start < len(ids); start += uncachedChunk {
		end := start + uncachedChunk
		if end > len(ids) {
			end = len(ids)
		}

		var found []string
		result := r.db.Get().WithContext(ctx).
			Model(&domain.CachedImage{}).
			Where("user_id IN ?", ids[start:end]).
			Where("failed = ?", false).
			Pluck("user_id", &found)

		if result.Error != nil {
			r.log.Error().Err(result.Error).Int("ids", len(ids)).Msg("Failed to look up cached images")
			return nil, errors.Wrap(result.Error, "failed to look up cached images")
		}

		for _, id := range found {
			cached[id] = struct{}{}
		}
	}

	missing := make([]string, 0, len(ids)-len(cached))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := cached[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		missing = append(missing, id)
	}

	return missing, nil
}

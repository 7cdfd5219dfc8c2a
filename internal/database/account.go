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

type AccountRepo struct {
	log zerolog.Logger
	db  *DB
}

func NewAccountRepo(log logger.Logger, db *DB) domain.AccountRepo {
	return &AccountRepo{
		log: log.With().Str("repo", "account").Logger(),
		db:  db,
	}
}

func (r *AccountRepo) FindByID(ctx context.Context, id int64) (*domain.Account, error) {
	var account domain.Account
	result := r.db.Get().WithContext(ctx).Where("id = ?", id).Take(&account)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Error().Err(result.Error).Int64("account_id", id).Msg("Failed to find account")
		return nil, errors.Wrap(result.Error, "failed to find account")
	}

	return &account, nil
}

func (r *AccountRepo) FindBySocialUserID(ctx context.Context, socialUserID string) (*domain.Account, error) {
	var account domain.Account
	result := r.db.Get().WithContext(ctx).Where("social_user_id = ?", socialUserID).Take(&account)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Error().Err(result.Error).Str("social_user_id", socialUserID).Msg("Failed to find account by social user id")
		return nil, errors.Wrap(result.Error, "failed to find account by social user id")
	}

	return &account, nil
}

// Upsert keeps one row per social user id. Profile fields and the session are
// refreshed on every login.
func (r *AccountRepo) Upsert(ctx context.Context, account *domain.Account) error {
	result := r.db.Get().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "social_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "full_name", "profile_pic_url", "session_data", "updated_at"}),
		}).
		Create(account)

	if result.Error != nil {
		r.log.Error().Err(result.Error).Str("username", account.Username).Msg("Failed to upsert account")
		return errors.Wrap(result.Error, "failed to upsert account")
	}

	// some dialects do not return the id of an updated row
	if account.ID == 0 {
		existing, err := r.FindBySocialUserID(ctx, account.SocialUserID)
		if err != nil {
			return err
		}
		if existing == nil {
			return errors.New("account %s vanished after upsert", account.SocialUserID)
		}
		account.ID = existing.ID
		account.CreatedAt = existing.CreatedAt
	}

	r.log.Debug().Int64("account_id", account.ID).Str("username", account.Username).Msg("Stored account")
	return nil
}

func (r *AccountRepo) List(ctx context.Context) ([]domain.Account, error) {
	var accounts []domain.Account
	result := r.db.Get().WithContext(ctx).Order("id").Find(&accounts)

	if result.Error != nil {
		r.log.Error().Err(result.Error).Msg("Failed to list accounts")
		return nil, errors.Wrap(result.Error, "failed to list accounts")
	}

	return accounts, nil
}

func (r *AccountRepo) ClearSession(ctx context.Context, id int64) error {
	result := r.db.Get().WithContext(ctx).
		Model(&domain.Account{}).
		Where("id = ?", id).
		Update("session_data", nil)

	if result.Error != nil {
		r.log.Error().Err(result.Error).Int64("account_id", id).Msg("Failed to clear session")
		return errors.Wrap(result.Error, "failed to clear session")
	}

	return nil
}

package domain

import (
	"context"
	"time"
)

type AccountRepo interface {
	FindByID(ctx context.Context, id int64) (*Account, error)
	FindBySocialUserID(ctx context.Context, socialUserID string) (*Account, error)
	// Upsert inserts or updates by SocialUserID and fills in ID.
	Upsert(ctx context.Context, account *Account) error
	List(ctx context.Context) ([]Account, error)
	ClearSession(ctx context.Context, id int64) error
}

// Account is a logged-in social network user tracked by this server.
type Account struct {
	ID            int64     `json:"id" gorm:"primaryKey;autoIncrement;column:id"`
	SocialUserID  string    `json:"social_user_id" gorm:"column:social_user_id;uniqueIndex"`
	Username      string    `json:"username" gorm:"column:username"`
	FullName      string    `json:"full_name" gorm:"column:full_name"`
	ProfilePicURL string    `json:"profile_pic_url" gorm:"column:profile_pic_url"`
	SessionData   []byte    `json:"-" gorm:"column:session_data"`
	CreatedAt     time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (Account) TableName() string {
	return "accounts"
}

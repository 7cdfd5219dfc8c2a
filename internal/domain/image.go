package domain

import (
	"context"
	"time"
)

// CachedImage is a stored profile picture. Failed marks a fetch that did not
// produce an image; it never replaces an earlier success.
type CachedImage struct {
	UserID      string    `gorm:"primaryKey;column:user_id"`
	Data        []byte    `gorm:"column:data"`
	ContentType string    `gorm:"column:content_type"`
	FetchedAt   time.Time `gorm:"column:fetched_at"`
	Failed      bool      `gorm:"column:failed"`
}

func (CachedImage) TableName() string {
	return "cached_images"
}

type ImageRepo interface {
	// Get returns nil, nil when nothing is stored for userID.
	Get(ctx context.Context, userID string) (*CachedImage, error)
	Put(ctx context.Context, image CachedImage) error
	// Uncached returns the subset of ids without a successful image.
	Uncached(ctx context.Context, ids []string) ([]string, error)
}

// ImageCacheStatus is a copy of the active or most recent cache batch.
type ImageCacheStatus struct {
	Total       int        `json:"total"`
	Completed   int        `json:"completed"`
	Failed      int        `json:"failed"`
	CurrentUser string     `json:"current_user"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	IsCaching   bool       `json:"is_caching"`
}

package domain

import (
	"context"
	"time"
)

type SyncState string

const (
	SyncStateIdle          SyncState = "idle"
	SyncStateFetching      SyncState = "fetching"
	SyncStateDiffing       SyncState = "diffing"
	SyncStatePersisting    SyncState = "persisting"
	SyncStateCachingImages SyncState = "caching_images"
	SyncStateCompleted     SyncState = "completed"
	SyncStateFailed        SyncState = "failed"
)

// Terminal reports whether no further transitions happen without a new start.
func (s SyncState) Terminal() bool {
	return s == SyncStateCompleted || s == SyncStateFailed
}

// SyncStatus is a consistent copy of one account's sync job.
type SyncStatus struct {
	RunID       string     `json:"run_id,omitempty"`
	State       SyncState  `json:"state"`
	IsSyncing   bool       `json:"is_syncing"`
	Progress    int        `json:"progress"`
	CurrentTask string     `json:"current_task"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// CooldownRecord is written only when a sync completes successfully.
type CooldownRecord struct {
	AccountID           int64         `gorm:"primaryKey;autoIncrement:false;column:account_id"`
	LastSyncCompletedAt time.Time     `gorm:"column:last_sync_completed_at"`
	CooldownDuration    time.Duration `gorm:"column:cooldown_duration"`
}

func (CooldownRecord) TableName() string {
	return "sync_cooldowns"
}

type CooldownRepo interface {
	// Get returns nil, nil when no record exists.
	Get(ctx context.Context, accountID int64) (*CooldownRecord, error)
	Put(ctx context.Context, record CooldownRecord) error
}

// Transactor groups repo writes. Writes made with the ctx passed to fn are
// committed together or not at all.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type SyncOutcome string

const (
	SyncOutcomeCompleted SyncOutcome = "completed"
	SyncOutcomeFailed    SyncOutcome = "failed"
)

// SyncRun is one finished sync, kept for the history view.
type SyncRun struct {
	ID                string      `json:"id" gorm:"primaryKey;column:id"`
	AccountID         int64       `json:"account_id" gorm:"column:account_id;index"`
	StartedAt         time.Time   `json:"started_at" gorm:"column:started_at"`
	FinishedAt        time.Time   `json:"finished_at" gorm:"column:finished_at"`
	Outcome           SyncOutcome `json:"outcome" gorm:"column:outcome"`
	Message           string      `json:"message,omitempty" gorm:"column:message"`
	FollowersCount    int         `json:"followers_count" gorm:"column:followers_count"`
	FollowingCount    int         `json:"following_count" gorm:"column:following_count"`
	NewFollowersCount int         `json:"new_followers_count" gorm:"column:new_followers_count"`
	LostFollowerCount int         `json:"lost_followers_count" gorm:"column:lost_followers_count"`
}

func (SyncRun) TableName() string {
	return "sync_history"
}

type SyncHistoryRepo interface {
	Store(ctx context.Context, run SyncRun) error
	List(ctx context.Context, accountID int64, limit int) ([]SyncRun, error)
}

// Event bus topics published by the orchestrator.
const (
	EventSyncCompleted = "sync:completed"
	EventSyncFailed    = "sync:failed"
)

// SyncEvent is the payload of EventSyncCompleted and EventSyncFailed.
type SyncEvent struct {
	Run      SyncRun
	Duration time.Duration
	// ErrorKind is set when a failed run ended on a social graph error.
	ErrorKind SocialErrorKind
}

// Package cooldown enforces the minimum time between two successful syncs.
package cooldown

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/flurbudurbur/Gramsight/internal/logger"
	"github.com/flurbudurbur/Gramsight/pkg/errors"
	"github.com/rs/zerolog"
)

const DefaultCooldown = 24 * time.Hour

// Decision is the answer to "may a sync start now".
type Decision struct {
	Allowed          bool
	SecondsRemaining *int
	LastSync         *time.Time
	Cooldown         time.Duration
}

// Message renders a rejected decision for display.
func (d Decision) Message() string {
	if d.Allowed || d.SecondsRemaining == nil {
		return ""
	}
	next := time.Now().Add(time.Duration(*d.SecondsRemaining) * time.Second)
	return "next sync available " + humanize.Time(next)
}

type Gate struct {
	log  zerolog.Logger
	repo domain.CooldownRepo
	now  func() time.Time

	m        sync.RWMutex
	cooldown time.Duration
}

type Option func(*Gate)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

func NewGate(log logger.Logger, repo domain.CooldownRepo, cooldown time.Duration, opts ...Option) *Gate {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	g := &Gate{
		log:      log.With().Str("module", "cooldown").Logger(),
		repo:     repo,
		now:      time.Now,
		cooldown: cooldown,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Cooldown returns the duration applied to the next recorded completion.
func (g *Gate) Cooldown() time.Duration {
	g.m.RLock()
	defer g.m.RUnlock()
	return g.cooldown
}

func (g *Gate) SetCooldown(d time.Duration) {
	if d <= 0 {
		return
	}
	g.m.Lock()
	g.cooldown = d
	g.m.Unlock()
}

// CanSync never fails. A missing or unreadable record allows the sync.
func (g *Gate) CanSync(ctx context.Context, accountID int64) Decision {
	rec, err := g.repo.Get(ctx, accountID)
	if err != nil {
		g.log.Warn().Err(err).Int64("account_id", accountID).Msg("could not read cooldown record, allowing sync")
		rec = nil
	}

	d := Decision{Allowed: true, Cooldown: g.Cooldown()}
	if rec == nil {
		return d
	}

	if rec.CooldownDuration > 0 {
		d.Cooldown = rec.CooldownDuration
	}
	last := rec.LastSyncCompletedAt
	d.LastSync = &last

	remaining := d.Cooldown - g.now().Sub(last)
	if remaining <= 0 {
		return d
	}

	secs := int(math.Ceil(remaining.Seconds()))
	d.Allowed = false
	d.SecondsRemaining = &secs
	return d
}

// RecordCompletion stores now as the last successful sync.
func (g *Gate) RecordCompletion(ctx context.Context, accountID int64, now time.Time) error {
	rec := domain.CooldownRecord{
		AccountID:           accountID,
		LastSyncCompletedAt: now,
		CooldownDuration:    g.Cooldown(),
	}
	if err := g.repo.Put(ctx, rec); err != nil {
		return errors.Wrap(err, "could not record sync completion for account %d", accountID)
	}
	g.log.Debug().Int64("account_id", accountID).Time("completed_at", now).Msg("cooldown recorded")
	return nil
}

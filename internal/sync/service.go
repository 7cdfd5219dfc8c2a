// Package sync runs one background follower sync per account and exposes
// its progress as a consistent status snapshot.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/cenkalti/backoff/v4"
	"github.com/flurbudurbur/Gramsight/internal/analytics"
	"github.com/flurbudurbur/Gramsight/internal/cooldown"
	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/flurbudurbur/Gramsight/internal/logger"
	"github.com/flurbudurbur/Gramsight/pkg/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrAlreadySyncing = errors.New("AlreadySyncing")
	ErrCooldownActive = errors.New("CooldownActive")
	ErrNoSession      = errors.New("account has no stored session")
	ErrResultUnread   = errors.New("previous sync result has not been read yet")
)

// CooldownError rejects a start while the cooldown is running.
type CooldownError struct {
	Decision cooldown.Decision
}

func (e *CooldownError) Error() string {
	if e.Decision.SecondsRemaining == nil {
		return ErrCooldownActive.Error()
	}
	return fmt.Sprintf("%s: %d seconds remaining", ErrCooldownActive.Error(), *e.Decision.SecondsRemaining)
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldownActive
}

// Gate answers whether a sync may start and records successful ones.
type Gate interface {
	CanSync(ctx context.Context, accountID int64) cooldown.Decision
	RecordCompletion(ctx context.Context, accountID int64, now time.Time) error
}

// ImageQueue receives users whose profile pictures should be cached.
type ImageQueue interface {
	Enqueue(users []domain.UserRef) (int, error)
}

// SessionOpener turns the stored session blob back into the client session.
type SessionOpener interface {
	Open(sealed []byte) ([]byte, error)
}

type Service interface {
	Start(ctx context.Context, account domain.Account) (domain.SyncStatus, error)
	StartUnattended(ctx context.Context, account domain.Account) (domain.SyncStatus, error)
	Status(accountID int64) domain.SyncStatus
	Shutdown(ctx context.Context) error
}

type Option func(s *service)

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// WithTerminalGrace keeps a finished job visible for d after it was first
// read, so several pollers all see the outcome.
func WithTerminalGrace(d time.Duration) Option {
	return func(s *service) { s.terminalGrace = d }
}

// WithUnreadHold sets how long StartUnattended leaves a finished job that
// nobody has read in place.
func WithUnreadHold(d time.Duration) Option {
	return func(s *service) { s.unreadHold = d }
}

type Deps struct {
	Client    domain.SocialGraphClient
	Snapshots domain.SnapshotRepo
	Analytics domain.AnalyticsRepo
	Images    domain.ImageRepo
	Gate      Gate
	Queue     ImageQueue
	Sessions  SessionOpener
	Bus       EventBus.Bus
	// Tx makes the snapshot, analytics and cooldown writes atomic.
	Tx domain.Transactor
}

type service struct {
	log zerolog.Logger
	Deps

	now           func() time.Time
	terminalGrace time.Duration
	unreadHold    time.Duration

	fetchTimeout time.Duration
	maxRetries   int
	retryInitial time.Duration
	retryMax     time.Duration
	maxFollowers int

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup

	mu   gosync.Mutex
	jobs map[int64]*job
}

// job is the state of one account. Only the run goroutine writes to it
// after Start hands it over.
type job struct {
	mu         gosync.Mutex
	status     domain.SyncStatus
	finishedAt time.Time
	observedAt time.Time
}

func NewService(log logger.Logger, cfg domain.Config, deps Deps, opts ...Option) Service {
	ctx, cancel := context.WithCancel(context.Background())

	s := &service{
		log:           log.With().Str("module", "sync").Str(logger.TagFieldName, logger.TagSync).Logger(),
		Deps:          deps,
		now:           time.Now,
		terminalGrace: 10 * time.Second,
		unreadHold:    time.Hour,
		fetchTimeout:  time.Duration(cfg.Sync.FetchTimeoutSeconds) * time.Second,
		maxRetries:    cfg.Sync.MaxRetries,
		retryInitial:  time.Duration(cfg.Sync.RetryInitialIntervalMs) * time.Millisecond,
		retryMax:      time.Duration(cfg.Sync.RetryMaxIntervalMs) * time.Millisecond,
		maxFollowers:  cfg.SocialGraph.MaxFollowers,
		ctx:           ctx,
		cancel:        cancel,
		jobs:          map[int64]*job{},
	}
	if s.fetchTimeout <= 0 {
		s.fetchTimeout = 10 * time.Minute
	}
	if s.maxRetries < 0 {
		s.maxRetries = 0
	}
	if s.retryInitial <= 0 {
		s.retryInitial = 2 * time.Second
	}
	if s.retryMax < s.retryInitial {
		s.retryMax = s.retryInitial
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func idleStatus() domain.SyncStatus {
	return domain.SyncStatus{State: domain.SyncStateIdle, CurrentTask: "Idle"}
}

func (s *service) job(accountID int64) *job {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[accountID]
	if !ok {
		j = &job{status: idleStatus()}
		s.jobs[accountID] = j
	}
	return j
}

func (j *job) snapshot() domain.SyncStatus {
	st := j.status
	if st.StartedAt != nil {
		t := *st.StartedAt
		st.StartedAt = &t
	}
	return st
}

// Start accepts a new run when the account's job is idle or finished and the
// cooldown allows it. The run continues after ctx is cancelled.
func (s *service) Start(ctx context.Context, account domain.Account) (domain.SyncStatus, error) {
	return s.start(ctx, account, false)
}

// StartUnattended is Start for background callers. A finished job that no
// Status call has read yet is kept until unreadHold has passed since it
// finished, and ErrResultUnread is returned with it.
func (s *service) StartUnattended(ctx context.Context, account domain.Account) (domain.SyncStatus, error) {
	return s.start(ctx, account, true)
}

func (s *service) start(ctx context.Context, account domain.Account, unattended bool) (domain.SyncStatus, error) {
	if s.ctx.Err() != nil {
		return idleStatus(), errors.New("sync service is shutting down")
	}

	j := s.job(account.ID)

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.State != domain.SyncStateIdle && !j.status.State.Terminal() {
		return j.snapshot(), ErrAlreadySyncing
	}

	if unattended && j.status.State.Terminal() && j.observedAt.IsZero() && s.now().Sub(j.finishedAt) < s.unreadHold {
		return j.snapshot(), ErrResultUnread
	}

	decision := s.Gate.CanSync(ctx, account.ID)
	if !decision.Allowed {
		s.log.Debug().Int64("account_id", account.ID).Msgf("Cooldown active, %s", decision.Message())
		return j.snapshot(), &CooldownError{Decision: decision}
	}

	if len(account.SessionData) == 0 {
		return j.snapshot(), ErrNoSession
	}

	started := s.now()
	j.status = domain.SyncStatus{
		RunID:       uuid.NewString(),
		State:       domain.SyncStateFetching,
		IsSyncing:   true,
		CurrentTask: "Starting sync...",
		StartedAt:   &started,
	}
	j.finishedAt = time.Time{}
	j.observedAt = time.Time{}
	st := j.snapshot()

	s.wg.Add(1)
	go s.run(j, account, st.RunID, started)

	return st, nil
}

// Status never fails. A finished job is reported until it has been read and
// the grace period passed, then the account reads as idle.
func (s *service) Status(accountID int64) domain.SyncStatus {
	s.mu.Lock()
	j, ok := s.jobs[accountID]
	s.mu.Unlock()
	if !ok {
		return idleStatus()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.status.State.Terminal() {
		return j.snapshot()
	}

	now := s.now()
	if j.observedAt.IsZero() {
		j.observedAt = now
		return j.snapshot()
	}
	if now.Sub(j.observedAt) < s.terminalGrace {
		return j.snapshot()
	}

	j.status = idleStatus()
	return j.snapshot()
}

func (s *service) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// advance moves the job forward. Progress never decreases.
func (s *service) advance(j *job, state domain.SyncState, progress int, task string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.status.State = state
	if progress > j.status.Progress {
		j.status.Progress = progress
	}
	j.status.CurrentTask = task
}

func (s *service) finish(j *job, state domain.SyncState, task string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.status.State = state
	j.status.IsSyncing = false
	j.status.CurrentTask = task
	if state == domain.SyncStateCompleted {
		j.status.Progress = 100
	}
	if err != nil {
		j.status.Error = err.Error()
	}
	j.finishedAt = s.now()
}

type runResult struct {
	followers, following, newFollowers, lostFollowers int
}

func (s *service) run(j *job, account domain.Account, runID string, started time.Time) {
	defer s.wg.Done()

	log := s.log.With().Str("run_id", runID).Int64("account_id", account.ID).Logger()
	log.Info().Msgf("Sync started for @%s", account.Username)

	res, err := s.execute(j, log, account)

	run := domain.SyncRun{
		ID:                runID,
		AccountID:         account.ID,
		StartedAt:         started,
		FinishedAt:        s.now(),
		FollowersCount:    res.followers,
		FollowingCount:    res.following,
		NewFollowersCount: res.newFollowers,
		LostFollowerCount: res.lostFollowers,
	}

	if err != nil {
		task := "Error: " + err.Error()
		var kind domain.SocialErrorKind
		if se, ok := domain.AsSocialError(err); ok {
			task = se.Error()
			kind = se.Kind
		}
		s.finish(j, domain.SyncStateFailed, task, err)
		log.Error().Err(err).Msg("Sync failed")

		run.Outcome = domain.SyncOutcomeFailed
		run.Message = task
		s.publish(domain.EventSyncFailed, run, kind)
		return
	}

	s.finish(j, domain.SyncStateCompleted, "Sync complete!", nil)
	log.Info().Msgf("Complete! Followers: %d, Following: %d", res.followers, res.following)

	run.Outcome = domain.SyncOutcomeCompleted
	s.publish(domain.EventSyncCompleted, run, "")
}

func (s *service) publish(topic string, run domain.SyncRun, kind domain.SocialErrorKind) {
	if s.Bus == nil {
		return
	}
	s.Bus.Publish(topic, &domain.SyncEvent{Run: run, Duration: run.FinishedAt.Sub(run.StartedAt), ErrorKind: kind})
}

func (s *service) execute(j *job, log zerolog.Logger, account domain.Account) (runResult, error) {
	var res runResult
	ctx := s.ctx

	session, err := s.Sessions.Open(account.SessionData)
	if err != nil {
		return res, domain.NewSocialError(domain.SocialErrSessionExpired, "stored session could not be opened, please log in again")
	}
	s.advance(j, domain.SyncStateFetching, 5, "Restoring session...")

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	s.advance(j, domain.SyncStateFetching, 8, "Validating session...")
	if err := s.retry(fetchCtx, log, "validate session", func(ctx context.Context) error {
		_, err := s.Client.ValidateSession(ctx, session)
		return err
	}); err != nil {
		return res, err
	}

	s.advance(j, domain.SyncStateFetching, 10, "Loading previous data...")
	previous, err := s.Snapshots.Latest(ctx, account.ID)
	if err != nil {
		return res, errors.Wrap(err, "could not load previous snapshot")
	}
	if previous != nil {
		log.Debug().Msgf("Previous followers count: %d", len(previous.Followers))
	}

	s.advance(j, domain.SyncStateFetching, 20, "Fetching followers...")
	log.Info().Msg("Fetching followers...")
	var followers []domain.UserRef
	if err := s.retry(fetchCtx, log, "fetch followers", func(ctx context.Context) error {
		var err error
		followers, err = s.Client.FetchFollowers(ctx, session, account.SocialUserID, s.maxFollowers)
		return err
	}); err != nil {
		return res, err
	}
	s.advance(j, domain.SyncStateFetching, 45, fmt.Sprintf("Found %d followers", len(followers)))
	log.Info().Msgf("Got %d followers", len(followers))

	s.advance(j, domain.SyncStateFetching, 50, "Fetching following...")
	log.Info().Msg("Fetching following...")
	var following []domain.UserRef
	if err := s.retry(fetchCtx, log, "fetch following", func(ctx context.Context) error {
		var err error
		following, err = s.Client.FetchFollowing(ctx, session, account.SocialUserID, s.maxFollowers)
		return err
	}); err != nil {
		return res, err
	}
	s.advance(j, domain.SyncStateFetching, 75, fmt.Sprintf("Found %d following", len(following)))
	log.Info().Msgf("Got %d following", len(following))

	s.advance(j, domain.SyncStateDiffing, 85, "Computing analytics...")
	snapshot := domain.NewSnapshot(s.now().UTC(), followers, following)
	result := analytics.Compute(previous, snapshot)
	res = runResult{
		followers:     result.Overview.FollowersCount,
		following:     result.Overview.FollowingCount,
		newFollowers:  result.Overview.NewFollowersCount,
		lostFollowers: result.Overview.LostFollowersCount,
	}
	log.Info().Msgf("Computed analytics: %d new, %d lost, %d not following back",
		res.newFollowers, res.lostFollowers, result.Overview.NotFollowingBackCount)

	s.advance(j, domain.SyncStatePersisting, 90, "Saving data...")
	if err := s.persist(ctx, account.ID, snapshot, result); err != nil {
		return res, errors.Wrap(err, "could not save sync results")
	}

	s.advance(j, domain.SyncStateCachingImages, 95, "Caching profile pictures...")
	s.enqueueImages(ctx, log, account, result)

	return res, nil
}

// persist stores the snapshot, the analytics and the cooldown record as one
// unit, so a failed run never becomes the next run's diff baseline.
func (s *service) persist(ctx context.Context, accountID int64, snapshot domain.RelationshipSnapshot, result *domain.AnalyticsResult) error {
	write := func(ctx context.Context) error {
		if err := s.Snapshots.Store(ctx, accountID, snapshot); err != nil {
			return err
		}
		if err := s.Analytics.Store(ctx, accountID, result); err != nil {
			return err
		}
		return s.Gate.RecordCompletion(ctx, accountID, s.now())
	}

	if s.Tx == nil {
		return write(ctx)
	}
	return s.Tx.WithinTx(ctx, write)
}

// enqueueImages hands new followers and every user without a stored picture
// to the image cache. Failures here never fail the sync.
func (s *service) enqueueImages(ctx context.Context, log zerolog.Logger, account domain.Account, result *domain.AnalyticsResult) {
	if s.Queue == nil {
		return
	}

	ids := make([]string, 0, len(result.Users)+1)
	ids = append(ids, account.SocialUserID)
	for id := range result.Users {
		ids = append(ids, id)
	}

	want := domain.NewIDSet()
	for id := range result.NewFollowers {
		want.Add(id)
	}

	if s.Images != nil {
		missing, err := s.Images.Uncached(ctx, ids)
		if err != nil {
			log.Warn().Err(err).Msg("Could not look up cached pictures")
		}
		for _, id := range missing {
			want.Add(id)
		}
	}

	if len(want) == 0 {
		log.Debug().Msg("All profile pictures already cached")
		return
	}

	users := make([]domain.UserRef, 0, len(want))
	for _, id := range want.Sorted() {
		u, ok := result.Users[id]
		if !ok {
			u = domain.UserRef{ID: id}
			if id == account.SocialUserID {
				u.Username = account.Username
			}
		}
		users = append(users, u)
	}

	n, err := s.Queue.Enqueue(users)
	if err != nil {
		log.Warn().Err(err).Msg("Could not start image caching")
		return
	}
	log.Info().Msgf("Starting background image caching for %d users", n)
}

// retry runs op until it succeeds, fails with a non-transient error, or the
// retry budget or fetch deadline is used up. A passed deadline is reported as
// a transient network error.
func (s *service) retry(ctx context.Context, log zerolog.Logger, what string, op func(ctx context.Context) error) error {
	b := backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(s.retryInitial),
			backoff.WithMaxInterval(s.retryMax),
			backoff.WithMaxElapsedTime(0),
		),
		uint64(s.maxRetries),
	)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(domain.NewSocialError(domain.SocialErrTransientNetworkError, what+" timed out"))
		}
		if errors.Is(err, domain.ErrTransientNetworkError) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		log.Warn().Err(err).Msgf("%s failed (attempt %d), retrying in %s", what, attempt, wait.Round(time.Millisecond))
	})

	if err != nil && ctx.Err() != nil {
		if _, ok := domain.AsSocialError(err); !ok {
			return domain.NewSocialError(domain.SocialErrTransientNetworkError, what+" timed out")
		}
	}
	return err
}

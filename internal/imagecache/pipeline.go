// Package imagecache downloads profile pictures in the background with a
// bounded number of concurrent fetches.
package imagecache

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/flurbudurbur/Gramsight/internal/logger"
	"github.com/flurbudurbur/Gramsight/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

var (
	ErrNotCached = errors.New("image not cached")
	ErrClosed    = errors.New("image cache pipeline is shut down")
)

const (
	DefaultWorkers      = 4
	DefaultFetchTimeout = 15 * time.Second
)

// Fetcher is the part of the social graph client the pipeline needs.
type Fetcher interface {
	FetchProfileImage(ctx context.Context, userID string) ([]byte, string, error)
}

// FetchObserver is told about every finished fetch.
type FetchObserver interface {
	ObserveImageFetch(ok bool)
}

type Option func(p *Pipeline)

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func WithObserver(o FetchObserver) Option {
	return func(p *Pipeline) { p.observer = o }
}

type Pipeline struct {
	log      zerolog.Logger
	repo     domain.ImageRepo
	fetcher  Fetcher
	observer FetchObserver
	now      func() time.Time

	workers      int
	delay        time.Duration
	fetchTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	status  domain.ImageCacheStatus
	queue   []string
	batch   map[string]struct{}
	names   map[string]string
	running bool
}

func NewPipeline(log logger.Logger, repo domain.ImageRepo, fetcher Fetcher, cfg domain.ImageCacheConfig, opts ...Option) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pipeline{
		log:          log.With().Str("module", "imagecache").Str(logger.TagFieldName, logger.TagImageCache).Logger(),
		repo:         repo,
		fetcher:      fetcher,
		now:          time.Now,
		workers:      cfg.Workers,
		delay:        time.Duration(cfg.FetchDelayMs) * time.Millisecond,
		fetchTimeout: time.Duration(cfg.FetchTimeoutSeconds) * time.Second,
		ctx:          ctx,
		cancel:       cancel,
	}
	if p.workers <= 0 {
		p.workers = DefaultWorkers
	}
	if p.fetchTimeout <= 0 {
		p.fetchTimeout = DefaultFetchTimeout
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Enqueue schedules users for download and returns how many were added.
// Users join the active batch when one is running, otherwise they start a
// new one. Ids already part of the active batch are skipped.
func (p *Pipeline) Enqueue(users []domain.UserRef) (int, error) {
	if p.ctx.Err() != nil {
		return 0, ErrClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	active := p.status.IsCaching
	fresh := make([]string, 0, len(users))
	seen := make(map[string]struct{}, len(users))

	for _, u := range users {
		if u.ID == "" {
			continue
		}
		if _, ok := seen[u.ID]; ok {
			continue
		}
		if active {
			if _, ok := p.batch[u.ID]; ok {
				continue
			}
		}
		seen[u.ID] = struct{}{}
		fresh = append(fresh, u.ID)
	}

	if len(fresh) == 0 {
		return 0, nil
	}

	if !active {
		started := p.now()
		p.status = domain.ImageCacheStatus{StartedAt: &started, IsCaching: true}
		p.batch = make(map[string]struct{}, len(fresh))
		p.names = make(map[string]string, len(fresh))
		p.queue = nil
	}

	for _, u := range users {
		if _, ok := seen[u.ID]; ok && u.Username != "" {
			p.names[u.ID] = u.Username
		}
	}
	for _, id := range fresh {
		p.batch[id] = struct{}{}
	}
	p.queue = append(p.queue, fresh...)
	p.status.Total += len(fresh)

	if active {
		p.log.Info().Msgf("Added %d users to running batch (total %d)", len(fresh), p.status.Total)
	} else {
		p.log.Info().Msgf("Caching %d profile pictures with %d workers", len(fresh), p.workers)
	}

	if !p.running {
		p.running = true
		p.wg.Add(1)
		go p.drain()
	}

	return len(fresh), nil
}

// Status returns a copy of the active or most recent batch.
func (p *Pipeline) Status() domain.ImageCacheStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.status
	if s.StartedAt != nil {
		t := *s.StartedAt
		s.StartedAt = &t
	}
	return s
}

// GetCachedImage never fetches. It returns ErrNotCached when no successful
// download is stored.
func (p *Pipeline) GetCachedImage(ctx context.Context, userID string) ([]byte, string, error) {
	image, err := p.repo.Get(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	if image == nil || image.Failed || len(image.Data) == 0 {
		return nil, "", ErrNotCached
	}

	contentType := image.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return image.Data, contentType, nil
}

func (p *Pipeline) HasCachedImage(ctx context.Context, userID string) (bool, error) {
	_, _, err := p.GetCachedImage(ctx, userID)
	if errors.Is(err, ErrNotCached) {
		return false, nil
	}
	return err == nil, err
}

// Wait blocks until no batch is being drained.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Shutdown stops taking work and waits for in-flight fetches to return.
func (p *Pipeline) Shutdown() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pipeline) next() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) == 0 || p.ctx.Err() != nil {
		return "", false
	}
	id := p.queue[0]
	p.queue = p.queue[1:]
	return id, true
}

func (p *Pipeline) drain() {
	defer p.wg.Done()

	for {
		workers := pool.New().WithMaxGoroutines(p.workers)
		for {
			id, ok := p.next()
			if !ok {
				break
			}
			workers.Go(func() {
				p.process(id)
			})
		}
		workers.Wait()

		p.mu.Lock()
		if len(p.queue) > 0 && p.ctx.Err() == nil {
			p.mu.Unlock()
			continue
		}
		p.running = false
		if p.ctx.Err() != nil && p.status.IsCaching {
			p.log.Warn().Msgf("Stopped with %d pictures left", len(p.queue))
			p.status.IsCaching = false
			p.queue = nil
		}
		p.mu.Unlock()
		return
	}
}

func (p *Pipeline) process(id string) {
	ctx, cancel := context.WithTimeout(p.ctx, p.fetchTimeout)
	data, contentType, err := p.fetcher.FetchProfileImage(ctx, id)
	cancel()

	image := domain.CachedImage{UserID: id, FetchedAt: p.now().UTC()}
	if err == nil {
		image.Data = data
		image.ContentType = contentType
	} else {
		image.Failed = true
	}

	if putErr := p.repo.Put(p.ctx, image); putErr != nil {
		if err == nil {
			err = errors.Wrap(putErr, "could not store image")
		} else {
			p.log.Warn().Err(putErr).Str("user_id", id).Msg("Could not store failure marker")
		}
	}

	p.record(id, len(data), err)

	if p.delay > 0 {
		t := time.NewTimer(p.delay)
		select {
		case <-t.C:
		case <-p.ctx.Done():
			t.Stop()
		}
	}
}

func (p *Pipeline) record(id string, size int, err error) {
	p.mu.Lock()
	if err == nil {
		p.status.Completed++
	} else {
		p.status.Failed++
	}
	p.status.CurrentUser = id
	done := p.status.Completed + p.status.Failed
	total := p.status.Total
	completed, failed := p.status.Completed, p.status.Failed
	name := p.names[id]
	if done >= total {
		p.status.IsCaching = false
	}
	p.mu.Unlock()

	if p.observer != nil {
		p.observer.ObserveImageFetch(err == nil)
	}

	if name == "" {
		name = id
	}
	if err != nil {
		p.log.Debug().Err(err).Msgf("(%d/%d) Failed @%s", done, total, name)
	} else {
		p.log.Debug().Msgf("(%d/%d) Cached @%s (%s)", done, total, name, humanize.Bytes(uint64(size)))
	}

	if done >= total {
		p.log.Info().Msgf("Complete! Cached: %d, Failed: %d", completed, failed)
	}
}

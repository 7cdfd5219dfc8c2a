package imagecache

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/flurbudurbur/Gramsight/internal/logger"
	"github.com/flurbudurbur/Gramsight/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu     sync.Mutex
	images map[string]domain.CachedImage
}

func newMemRepo() *memRepo {
	return &memRepo{images: map[string]domain.CachedImage{}}
}

func (r *memRepo) Get(_ context.Context, userID string) (*domain.CachedImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.images[userID]
	if !ok {
		return nil, nil
	}
	return &img, nil
}

func (r *memRepo) Put(_ context.Context, image domain.CachedImage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.images[image.UserID]; ok && !prev.Failed && image.Failed {
		return nil
	}
	r.images[image.UserID] = image
	return nil
}

func (r *memRepo) Uncached(_ context.Context, ids []string) ([]string, error) {
	return ids, nil
}

type fakeFetcher struct {
	fail    map[string]bool
	gate    chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
	fetched atomic.Int32
}

func (f *fakeFetcher) FetchProfileImage(ctx context.Context, userID string) ([]byte, string, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}
	f.fetched.Add(1)

	if f.fail[userID] {
		return nil, "", domain.NewSocialError(domain.SocialErrTransientNetworkError, "boom")
	}
	return bytes.Repeat([]byte(userID), 600), "image/jpeg", nil
}

func users(ids ...string) []domain.UserRef {
	out := make([]domain.UserRef, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.UserRef{ID: id, Username: "user_" + id})
	}
	return out
}

func newTestPipeline(repo domain.ImageRepo, f Fetcher, workers int) *Pipeline {
	return NewPipeline(logger.Mock(), repo, f, domain.ImageCacheConfig{Workers: workers})
}

func TestPipeline_PartialFailure(t *testing.T) {
	repo := newMemRepo()
	p := newTestPipeline(repo, &fakeFetcher{fail: map[string]bool{"u1": true}}, 3)
	defer p.Shutdown()

	n, err := p.Enqueue(users("u1", "u2", "u3"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	p.Wait()

	status := p.Status()
	assert.Equal(t, 3, status.Total)
	assert.Equal(t, 2, status.Completed)
	assert.Equal(t, 1, status.Failed)
	assert.False(t, status.IsCaching)
	assert.NotNil(t, status.StartedAt)

	_, _, err = p.GetCachedImage(context.Background(), "u1")
	assert.True(t, errors.Is(err, ErrNotCached))

	data, contentType, err := p.GetCachedImage(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", contentType)
	assert.NotEmpty(t, data)

	// the status outlives the batch
	assert.Equal(t, status, p.Status())
}

func TestPipeline_BoundedConcurrency(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{})}
	p := newTestPipeline(newMemRepo(), f, 2)
	defer p.Shutdown()

	_, err := p.Enqueue(users("a", "b", "c", "d", "e", "f"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.active.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(f.gate)
	p.Wait()

	assert.Equal(t, int32(2), f.peak.Load())
	assert.Equal(t, int32(6), f.fetched.Load())
	assert.Equal(t, 6, p.Status().Completed)
}

func TestPipeline_MergesIntoActiveBatch(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{})}
	p := newTestPipeline(newMemRepo(), f, 1)
	defer p.Shutdown()

	_, err := p.Enqueue(users("a", "b"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.active.Load() == 1 }, time.Second, 5*time.Millisecond)

	// b is already queued, c is new
	n, err := p.Enqueue(users("b", "c"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	status := p.Status()
	assert.Equal(t, 3, status.Total)
	assert.True(t, status.IsCaching)

	close(f.gate)
	p.Wait()

	status = p.Status()
	assert.Equal(t, 3, status.Total)
	assert.Equal(t, 3, status.Completed)
	assert.False(t, status.IsCaching)
}

func TestPipeline_NewBatchResetsCounters(t *testing.T) {
	p := newTestPipeline(newMemRepo(), &fakeFetcher{fail: map[string]bool{"x": true}}, 2)
	defer p.Shutdown()

	_, err := p.Enqueue(users("x", "y"))
	require.NoError(t, err)
	p.Wait()
	require.Equal(t, 1, p.Status().Failed)

	// a failed id is retried by a later enqueue
	_, err = p.Enqueue(users("x"))
	require.NoError(t, err)
	p.Wait()

	status := p.Status()
	assert.Equal(t, 1, status.Total)
	assert.Equal(t, 0, status.Completed)
	assert.Equal(t, 1, status.Failed)
	assert.Equal(t, "x", status.CurrentUser)
}

func TestPipeline_EmptyEnqueueIsNoop(t *testing.T) {
	p := newTestPipeline(newMemRepo(), &fakeFetcher{}, 2)
	defer p.Shutdown()

	n, err := p.Enqueue(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, domain.ImageCacheStatus{}, p.Status())

	n, err = p.Enqueue([]domain.UserRef{{ID: ""}})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPipeline_HasCachedImage(t *testing.T) {
	repo := newMemRepo()
	require.NoError(t, repo.Put(context.Background(), domain.CachedImage{UserID: "ok", Data: []byte("img")}))
	require.NoError(t, repo.Put(context.Background(), domain.CachedImage{UserID: "bad", Failed: true}))

	p := newTestPipeline(repo, &fakeFetcher{}, 1)
	defer p.Shutdown()

	ok, err := p.HasCachedImage(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, ok)

	for _, id := range []string{"bad", "missing"} {
		ok, err = p.HasCachedImage(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, ok, id)
	}
}

func TestPipeline_RejectsAfterShutdown(t *testing.T) {
	p := newTestPipeline(newMemRepo(), &fakeFetcher{}, 1)
	p.Shutdown()

	_, err := p.Enqueue(users("a"))
	assert.ErrorIs(t, err, ErrClosed)
}

package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/flurbudurbur/Gramsight/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncHistoryRepo_ListNewestFirst(t *testing.T) {
	db, cleanup := setupTestDBInstance(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewSyncHistoryRepo(logger.Mock(), db)

	t0 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		outcome := domain.SyncOutcomeCompleted
		if i%2 == 1 {
			outcome = domain.SyncOutcomeFailed
		}
		require.NoError(t, repo.Store(ctx, domain.SyncRun{
			ID:         fmt.Sprintf("run-%d", i),
			AccountID:  1,
			StartedAt:  t0.Add(time.Duration(i) * time.Hour),
			FinishedAt: t0.Add(time.Duration(i)*time.Hour + time.Minute),
			Outcome:    outcome,
		}))
	}
	require.NoError(t, repo.Store(ctx, domain.SyncRun{ID: "other", AccountID: 2, StartedAt: t0}))

	runs, err := repo.List(ctx, 1, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-4", runs[0].ID)
	assert.Equal(t, "run-3", runs[1].ID)
	assert.Equal(t, domain.SyncOutcomeFailed, runs[1].Outcome)

	all, err := repo.List(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

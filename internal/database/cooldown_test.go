package database

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/flurbudurbur/Gramsight/internal/domain"
	"github.com/flurbudurbur/Gramsight/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCooldownRepo_PutOverwrites(t *testing.T) {
	db, cleanup := setupTestDBInstance(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewCooldownRepo(logger.Mock(), db)

	record, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, record)

	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Put(ctx, domain.CooldownRecord{AccountID: 1, LastSyncCompletedAt: t0, CooldownDuration: 24 * time.Hour}))
	require.NoError(t, repo.Put(ctx, domain.CooldownRecord{AccountID: 1, LastSyncCompletedAt: t0.Add(25 * time.Hour), CooldownDuration: 12 * time.Hour}))

	record, err = repo.Get(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.True(t, record.LastSyncCompletedAt.Equal(t0.Add(25*time.Hour)))
	assert.Equal(t, 12*time.Hour, record.CooldownDuration)
}

func TestCooldownRepo_Get_DatabaseError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCooldownRepo(logger.Mock(), db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "sync_cooldowns" WHERE account_id = $1`)).
		WillReturnError(sql.ErrConnDone)

	record, err := repo.Get(context.Background(), 1)
	require.Error(t, err)
	assert.Nil(t, record)
	assert.Contains(t, err.Error(), "failed to get cooldown record")
	assert.NoError(t, mock.ExpectationsWereMet())
}

package database

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/flurbudurbur/Gramsight/internal/logger"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newMockDB creates a new GORM DB instance with a sqlmock.
func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	mockSqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	silentLogger := gormlogger.New(
		log.New(io.Discard, "", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: mockSqlDB,
	}), &gorm.Config{
		Logger: silentLogger,
	})
	require.NoError(t, err)

	db := &DB{
		handler: gormDB,
		log:     logger.Mock().With().Logger(),
	}
	return db, mock
}

package dbcontext

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	sqlDB.SetMaxOpenConns(4)

	ac, err := NewWithDB(sqlDB, DefaultConfig("sqlmock", "shop"))
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectPing()
	status := ac.Health(ctx)
	assert.True(t, status.Healthy)
	assert.Equal(t, "shop", status.Schema)
	assert.Empty(t, status.Error)
	assert.Equal(t, 4, status.PoolStats.MaxOpenConnections)
	assert.GreaterOrEqual(t, status.PoolStats.InUse, 0)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	status = ac.Health(ctx)
	assert.False(t, status.Healthy)
	assert.Equal(t, "connection refused", status.Error)

	mock.ExpectPing()
	assert.True(t, ac.IsHealthy(ctx))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolStatsFromSQL(t *testing.T) {
	stats := PoolStatsFromSQL(sql.DBStats{
		MaxOpenConnections: 10,
		OpenConnections:    3,
		InUse:              2,
		Idle:               1,
		WaitCount:          5,
		WaitDuration:       time.Second,
		MaxIdleClosed:      1,
		MaxIdleTimeClosed:  2,
		MaxLifetimeClosed:  3,
	})

	assert.Equal(t, PoolStats{
		MaxOpenConnections: 10,
		OpenConnections:    3,
		InUse:              2,
		Idle:               1,
		WaitCount:          5,
		WaitDuration:       time.Second,
		MaxIdleClosed:      1,
		MaxIdleTimeClosed:  2,
		MaxLifetimeClosed:  3,
	}, stats)
}

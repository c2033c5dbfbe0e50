package datastore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/fleetpulse/alertcore/internal/conf"
	"github.com/fleetpulse/alertcore/internal/datastore/entities"
	"github.com/fleetpulse/alertcore/internal/errors"
	"github.com/fleetpulse/alertcore/internal/logger"
)

func TestOpen_SQLite(t *testing.T) {
	t.Parallel()

	db, err := Open(conf.DatastoreSettings{Driver: "sqlite", DSN: "file::memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	assert.True(t, db.Migrator().HasTable(&entities.Rule{}))
	assert.True(t, db.Migrator().HasTable(&entities.Alert{}))
	assert.True(t, db.Migrator().HasIndex(&entities.Alert{}, "idx_alerts_equipment_rule"))
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     conf.DatastoreSettings
		wantErr string
	}{
		{"unknown driver", conf.DatastoreSettings{Driver: "oracle"}, "unsupported datastore driver"},
		{"mysql without dsn", conf.DatastoreSettings{Driver: "mysql"}, "requires a dsn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Open(tt.cfg, logger.NewNop())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGormLogger_Trace(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	gl := NewGormLogger(logger.NewZapLogger(zap.New(core)), 100*time.Millisecond)
	ctx := context.Background()
	query := func() (string, int64) { return "SELECT 1", 1 }

	gl.Trace(ctx, time.Now(), query, nil)
	assert.Zero(t, logs.Len(), "fast queries are not logged at warn level")

	gl.Trace(ctx, time.Now().Add(-time.Second), query, nil)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "slow query", logs.All()[0].Message)

	gl.Trace(ctx, time.Now(), query, errors.New("disk I/O error"))
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "query failed", logs.All()[1].Message)

	gl.Trace(ctx, time.Now(), query, gorm_logger.ErrRecordNotFound)
	assert.Equal(t, 2, logs.Len(), "not found is not an error")

	verbose := gl.LogMode(gorm_logger.Info)
	verbose.Trace(ctx, time.Now(), query, nil)
	assert.Equal(t, 3, logs.Len())

	silent := gl.LogMode(gorm_logger.Silent)
	silent.Trace(ctx, time.Now(), query, errors.New("ignored"))
	silent.Error(ctx, "ignored %d", 1)
	assert.Equal(t, 3, logs.Len())
}

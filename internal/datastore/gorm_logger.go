package datastore

import (
	"context"
	"fmt"
	"time"

	gorm_logger "gorm.io/gorm/logger"

	"github.com/fleetpulse/alertcore/internal/errors"
	"github.com/fleetpulse/alertcore/internal/logger"
)

// GormLogger forwards gorm's log output to a Logger. Queries are logged at
// debug level, slow queries and failures at warn and error.
type GormLogger struct {
	log           logger.Logger
	level         gorm_logger.LogLevel
	slowThreshold time.Duration
}

var _ gorm_logger.Interface = (*GormLogger)(nil)

// NewGormLogger creates a GormLogger at warn level.
func NewGormLogger(log logger.Logger, slowThreshold time.Duration) *GormLogger {
	return &GormLogger{log: log, level: gorm_logger.Warn, slowThreshold: slowThreshold}
}

func (g *GormLogger) LogMode(level gorm_logger.LogLevel) gorm_logger.Interface {
	out := *g
	out.level = level
	return &out
}

func (g *GormLogger) Info(_ context.Context, msg string, args ...any) {
	if g.level >= gorm_logger.Info {
		g.log.Info(fmt.Sprintf(msg, args...))
	}
}

func (g *GormLogger) Warn(_ context.Context, msg string, args ...any) {
	if g.level >= gorm_logger.Warn {
		g.log.Warn(fmt.Sprintf(msg, args...))
	}
}

func (g *GormLogger) Error(_ context.Context, msg string, args ...any) {
	if g.level >= gorm_logger.Error {
		g.log.Error(fmt.Sprintf(msg, args...))
	}
}

func (g *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gorm_logger.Silent {
		return
	}
	elapsed := time.Since(begin)

	switch {
	case err != nil && g.level >= gorm_logger.Error && !errors.Is(err, gorm_logger.ErrRecordNotFound):
		sql, rows := fc()
		g.log.Error("query failed", logger.Error(err), logger.String("sql", sql),
			logger.Int64("rows", rows), logger.Duration("elapsed", elapsed))
	case g.slowThreshold > 0 && elapsed > g.slowThreshold && g.level >= gorm_logger.Warn:
		sql, rows := fc()
		g.log.Warn("slow query", logger.String("sql", sql),
			logger.Int64("rows", rows), logger.Duration("elapsed", elapsed))
	case g.level >= gorm_logger.Info:
		sql, rows := fc()
		g.log.Debug("query", logger.String("sql", sql),
			logger.Int64("rows", rows), logger.Duration("elapsed", elapsed))
	}
}

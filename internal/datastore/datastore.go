// Package datastore opens the gorm connection backing the rule and alert
// repositories.
package datastore

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fleetpulse/alertcore/internal/conf"
	"github.com/fleetpulse/alertcore/internal/datastore/entities"
	"github.com/fleetpulse/alertcore/internal/logger"
)

const slowQueryThreshold = 500 * time.Millisecond

// Open connects to the configured database and migrates the schema.
func Open(cfg conf.DatastoreSettings, log logger.Logger) (*gorm.DB, error) {
	if log == nil {
		log = logger.NewNop()
	}

	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewGormLogger(log.With(logger.Component("datastore")), slowQueryThreshold),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	if isSQLite(cfg.Driver) {
		// SQLite allows a single writer.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		_ = Close(db)
		return nil, err
	}

	log.Info("datastore opened", logger.String("driver", cfg.Driver))
	return db, nil
}

// Migrate creates or updates the rule and alert tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&entities.Rule{}, &entities.Alert{}); err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func dialectorFor(cfg conf.DatastoreSettings) (gorm.Dialector, error) {
	switch {
	case isSQLite(cfg.Driver):
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file::memory:"
		}
		return sqlite.Open(dsn), nil
	case strings.EqualFold(cfg.Driver, "mysql"):
		if cfg.DSN == "" {
			return nil, fmt.Errorf("mysql datastore requires a dsn")
		}
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported datastore driver %q", cfg.Driver)
	}
}

func isSQLite(driver string) bool {
	return driver == "" || strings.EqualFold(driver, "sqlite")
}

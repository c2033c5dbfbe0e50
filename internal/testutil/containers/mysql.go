//go:build integration

package containers

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	"gorm.io/gorm"

	"github.com/fleetpulse/alertcore/internal/conf"
	"github.com/fleetpulse/alertcore/internal/datastore"
	"github.com/fleetpulse/alertcore/internal/logger"
)

// alertcoreTables are truncated by Reset, children first.
var alertcoreTables = []string{"alerts", "alert_rules"}

// MySQLContainer is a disposable MySQL server holding the alertcore schema.
type MySQLContainer struct {
	container *mysql.MySQLContainer
	db        *gorm.DB
	dsn       string
}

// MySQLConfig holds the database credentials and image.
type MySQLConfig struct {
	Database string
	Username string
	Password string
	ImageTag string
}

// DefaultMySQLConfig returns an 8.0 server with an alertcore_test database.
func DefaultMySQLConfig() MySQLConfig {
	return MySQLConfig{
		Database: "alertcore_test",
		Username: "alertcore",
		Password: "alertcore",
		ImageTag: "8.0",
	}
}

// NewMySQLContainer starts MySQL and opens it through datastore.Open, which
// migrates the schema. A nil config uses DefaultMySQLConfig.
func NewMySQLContainer(ctx context.Context, config *MySQLConfig) (*MySQLContainer, error) {
	if config == nil {
		defaultCfg := DefaultMySQLConfig()
		config = &defaultCfg
	}

	opts := []testcontainers.ContainerCustomizer{
		mysql.WithDatabase(config.Database),
		mysql.WithUsername(config.Username),
		mysql.WithPassword(config.Password),
	}
	// Run waits until the server accepts connections.
	container, err := mysql.Run(ctx, "mysql:"+config.ImageTag, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to start mysql container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "parseTime=true", "charset=utf8mb4")
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	mc := &MySQLContainer{container: container, dsn: dsn}
	err = retry(ctx, 5, 500*time.Millisecond, 4*time.Second, func() error {
		db, openErr := datastore.Open(mc.Settings(), logger.NewNop())
		if openErr != nil {
			return openErr
		}
		mc.db = db
		return nil
	})
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to open datastore: %w", err)
	}
	return mc, nil
}

// Settings returns the datastore settings for the container.
func (c *MySQLContainer) Settings() conf.DatastoreSettings {
	return conf.DatastoreSettings{
		Driver:    "mysql",
		DSN:       c.dsn,
		Retention: conf.Duration(24 * time.Hour),
	}
}

// DB returns the shared, migrated connection. Tests must not close it.
func (c *MySQLContainer) DB() *gorm.DB {
	return c.db
}

// Reset empties every alertcore table.
func (c *MySQLContainer) Reset(ctx context.Context) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SET FOREIGN_KEY_CHECKS = 0").Error; err != nil {
			return fmt.Errorf("failed to disable foreign key checks: %w", err)
		}
		for _, table := range alertcoreTables {
			if err := tx.Exec(fmt.Sprintf("TRUNCATE TABLE `%s`", table)).Error; err != nil {
				return fmt.Errorf("failed to truncate %s: %w", table, err)
			}
		}
		if err := tx.Exec("SET FOREIGN_KEY_CHECKS = 1").Error; err != nil {
			return fmt.Errorf("failed to enable foreign key checks: %w", err)
		}
		return nil
	})
}

// Terminate closes the connection and removes the container.
func (c *MySQLContainer) Terminate(ctx context.Context) error {
	if c.db != nil {
		_ = datastore.Close(c.db)
		c.db = nil
	}
	if c.container != nil {
		if err := c.container.Terminate(ctx); err != nil {
			return fmt.Errorf("failed to terminate container: %w", err)
		}
	}
	return nil
}

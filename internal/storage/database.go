package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aman-churiwal/property-listings/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrDatabaseUnavailable = errors.New("database unavailable")

type Database struct {
	DB     *gorm.DB
	Driver string
}

// Opens the database named by url. postgres:// and postgresql:// URLs use the
// postgres driver, sqlite:// URLs use sqlite with the remainder as the DSN.
// No connection is made here; use Ping or WaitReady to reach the server.
func NewDatabase(url string, logLevel logger.LogLevel) (*Database, error) {
	dialector, driver, err := dialectorFor(url)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:               logger.Default.LogMode(logLevel),
		TranslateError:       true,
		DisableAutomaticPing: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if driver == "sqlite" {
		// sqlite serialises writers; one connection also keeps in-memory databases shared
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	return &Database{DB: db, Driver: driver}, nil
}

func dialectorFor(url string) (gorm.Dialector, string, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return postgres.Open(url), "postgres", nil
	case strings.HasPrefix(url, "sqlite://"):
		dsn := strings.TrimPrefix(url, "sqlite://")
		if dsn == "" {
			return nil, "", fmt.Errorf("sqlite url %q has no path", url)
		}
		return sqlite.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("unsupported database url scheme: %q", url)
	}
}

// Runs a trivial round-trip query
func (d *Database) Ping(ctx context.Context) error {
	var one int
	if err := d.DB.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		return err
	}
	if one != 1 {
		return fmt.Errorf("unexpected liveness result %d", one)
	}
	return nil
}

// Blocks until the database answers a ping, retrying every interval until timeout elapses
func (d *Database) WaitReady(ctx context.Context, timeout, interval time.Duration) error {
	if timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if interval <= 0 {
		return errors.New("interval must be positive")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxAttempts := int(timeout / interval)
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		pingCtx, pingCancel := context.WithTimeout(ctx, interval)
		lastErr = d.Ping(pingCtx)
		pingCancel()
		if lastErr == nil {
			slog.Info("Database connection verified", "driver", d.Driver)
			return nil
		}

		slog.Warn("Database not ready",
			"attempt", fmt.Sprintf("%d/%d", attempt, maxAttempts),
			"retry_in", interval,
			"error", lastErr,
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w after %s: %v", ErrDatabaseUnavailable, timeout, lastErr)
		case <-time.After(interval):
		}
	}

	return fmt.Errorf("%w after %s: %v", ErrDatabaseUnavailable, timeout, lastErr)
}

func (d *Database) AutoMigrate() error {
	return d.DB.AutoMigrate(
		&models.User{},
		&models.Property{},
		&models.Offer{},
		&models.SecurityEvent{},
	)
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

// Runs fn in a transaction bound to ctx
func (d *Database) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return d.DB.WithContext(ctx).Transaction(fn)
}

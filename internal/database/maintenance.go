package database

import (
	"context"
	"fmt"
	"log/slog"
)

// IntegrityCheck runs the store's self-check and returns an error when
// corruption is reported. Only meaningful for SQLite; other drivers
// report OK.
func (db *DB) IntegrityCheck(ctx context.Context) error {
	if db.closed {
		return ErrClosed
	}
	if db.cfg.Driver != "sqlite" {
		return nil
	}

	var result string
	if err := db.DB.WithContext(ctx).Raw("PRAGMA integrity_check").Scan(&result).Error; err != nil {
		return fmt.Errorf("running integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// SizeBytes returns the store's on-disk size. The write lock bounds the
// read so the figure is stable against concurrent vacuum.
func (db *DB) SizeBytes(ctx context.Context) (int64, error) {
	if db.closed {
		return 0, ErrClosed
	}
	if err := db.lock.Acquire(ctx); err != nil {
		return 0, err
	}
	defer db.lock.Release()

	if db.cfg.Driver != "sqlite" {
		return 0, nil
	}

	var pageCount, pageSize int64
	if err := db.DB.WithContext(ctx).Raw("PRAGMA page_count").Scan(&pageCount).Error; err != nil {
		return 0, fmt.Errorf("reading page count: %w", err)
	}
	if err := db.DB.WithContext(ctx).Raw("PRAGMA page_size").Scan(&pageSize).Error; err != nil {
		return 0, fmt.Errorf("reading page size: %w", err)
	}
	return pageCount * pageSize, nil
}

// Vacuum reclaims free pages. Serialized behind the write lock; callers
// treat failure as advisory.
func (db *DB) Vacuum(ctx context.Context) error {
	if db.closed {
		return ErrClosed
	}
	if db.cfg.Driver != "sqlite" {
		return nil
	}
	if err := db.lock.Acquire(ctx); err != nil {
		return err
	}
	defer db.lock.Release()

	if err := db.DB.WithContext(ctx).Exec("VACUUM").Error; err != nil {
		return fmt.Errorf("vacuuming database: %w", err)
	}
	db.logger.Debug("catalog vacuumed")
	return nil
}

// LogStats logs connection pool statistics.
func (db *DB) LogStats() {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return
	}
	stats := sqlDB.Stats()
	db.logger.Info("catalog connection pool stats",
		slog.Int("open_conns", stats.OpenConnections),
		slog.Int("in_use", stats.InUse),
		slog.Int("idle", stats.Idle),
		slog.Int64("wait_count", stats.WaitCount),
		slog.String("wait_duration", stats.WaitDuration.String()),
	)
}

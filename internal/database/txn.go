package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"
)

// ErrLockTimeout is returned when the process-wide write lock cannot be
// acquired within the configured timeout.
var ErrLockTimeout = errors.New("catalog write lock acquisition timed out")

// ErrClosed is returned by operations on a shut-down catalog handle.
var ErrClosed = errors.New("catalog is closed")

// WriteLock serializes catalog writers across the process. Acquisition is
// bounded by a timeout; the holder count is observable so tests can assert
// the lock always returns to zero.
type WriteLock struct {
	timeout time.Duration
	sem     chan struct{}
	holders atomic.Int32
}

// NewWriteLock creates a write lock with the given acquisition timeout.
func NewWriteLock(timeout time.Duration) *WriteLock {
	return &WriteLock{
		timeout: timeout,
		sem:     make(chan struct{}, 1),
	}
}

// Acquire takes the lock, waiting up to the configured timeout.
func (l *WriteLock) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case l.sem <- struct{}{}:
		l.holders.Add(1)
		return nil
	case <-timer.C:
		return ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns the lock. Releasing an unheld lock panics; every
// acquisition path must release exactly once.
func (l *WriteLock) Release() {
	select {
	case <-l.sem:
		l.holders.Add(-1)
	default:
		panic("database: release of unheld write lock")
	}
}

// Holders returns the current holder count (0 or 1).
func (l *WriteLock) Holders() int {
	return int(l.holders.Load())
}

// Tx is a catalog transaction holding the process-wide write lock from
// Begin until Commit or Rollback. If neither was called by the time the
// guard is finished (Close), the transaction rolls back.
type Tx struct {
	db       *gorm.DB
	lock     *WriteLock
	done     bool
	mu       sync.Mutex
	unlocked bool
}

// Begin starts a transaction, acquiring the write lock first (5 s default
// timeout). The lock is held until Commit or Rollback releases it.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	if db.closed {
		return nil, ErrClosed
	}
	if err := db.lock.Acquire(ctx); err != nil {
		return nil, err
	}

	tx := db.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		db.lock.Release()
		return nil, fmt.Errorf("beginning transaction: %w", tx.Error)
	}

	return &Tx{db: tx, lock: db.lock}, nil
}

// DB returns the transactional gorm handle for statement execution.
func (t *Tx) DB() *gorm.DB {
	return t.db
}

// Commit commits the transaction and releases the lock. On commit failure
// a rollback is attempted and the lock is still released.
func (t *Tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	defer t.release()

	if err := t.db.Commit().Error; err != nil {
		if rbErr := t.db.Rollback().Error; rbErr != nil && !errors.Is(rbErr, gorm.ErrInvalidTransaction) {
			slog.Warn("rollback after failed commit also failed",
				slog.String("commit_error", err.Error()),
				slog.String("rollback_error", rbErr.Error()),
			)
		}
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction and releases the lock.
func (t *Tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	defer t.release()

	if err := t.db.Rollback().Error; err != nil {
		return fmt.Errorf("rolling back transaction: %w", err)
	}
	return nil
}

// Close rolls back if the transaction was neither committed nor rolled
// back. Intended for defer; the scoped-guard discipline means every Begin
// is paired with exactly one Commit or Rollback on every path.
func (t *Tx) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	defer t.release()
	_ = t.db.Rollback()
}

func (t *Tx) release() {
	if !t.unlocked {
		t.unlocked = true
		t.lock.Release()
	}
}

// WithTx runs fn inside a transaction guarded by the write lock. fn's
// error rolls back; otherwise the transaction commits.
func (db *DB) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Close()

	if err := fn(tx.DB()); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

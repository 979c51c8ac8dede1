package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestWriteLock_Timeout(t *testing.T) {
	lock := NewWriteLock(100 * time.Millisecond)
	require.NoError(t, lock.Acquire(context.Background()))

	err := lock.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrLockTimeout)

	lock.Release()
	assert.Equal(t, 0, lock.Holders())
}

func TestWriteLock_ReleaseUnheldPanics(t *testing.T) {
	lock := NewWriteLock(time.Second)
	assert.Panics(t, func() { lock.Release() })
}

func TestTx_CommitReleasesLock(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY)").Error)

	tx, err := db.Begin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, db.Lock().Holders())

	require.NoError(t, tx.DB().Exec("INSERT INTO t (id) VALUES (1)").Error)
	require.NoError(t, tx.Commit())
	assert.Equal(t, 0, db.Lock().Holders())

	var count int64
	require.NoError(t, db.Raw("SELECT COUNT(*) FROM t").Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTx_RollbackReleasesLock(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY)").Error)

	tx, err := db.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.DB().Exec("INSERT INTO t (id) VALUES (1)").Error)
	require.NoError(t, tx.Rollback())
	assert.Equal(t, 0, db.Lock().Holders())

	var count int64
	require.NoError(t, db.Raw("SELECT COUNT(*) FROM t").Scan(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestTx_CloseRollsBackAbandonedTransaction(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY)").Error)

	tx, err := db.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.DB().Exec("INSERT INTO t (id) VALUES (1)").Error)
	tx.Close()
	assert.Equal(t, 0, db.Lock().Holders())

	var count int64
	require.NoError(t, db.Raw("SELECT COUNT(*) FROM t").Scan(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestTx_BeginBlocksUntilRelease(t *testing.T) {
	db := openTestDB(t)

	tx, err := db.Begin(context.Background())
	require.NoError(t, err)

	_, err = db.Begin(context.Background())
	assert.ErrorIs(t, err, ErrLockTimeout)

	require.NoError(t, tx.Commit())

	tx2, err := db.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx2.Rollback())
}

func TestWithTx(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY)").Error)

	sentinel := errors.New("boom")
	err := db.WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := tx.Exec("INSERT INTO t (id) VALUES (1)").Error; err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 0, db.Lock().Holders())

	var count int64
	require.NoError(t, db.Raw("SELECT COUNT(*) FROM t").Scan(&count).Error)
	assert.Equal(t, int64(0), count, "failed fn must roll back")

	require.NoError(t, db.WithTx(context.Background(), func(tx *gorm.DB) error {
		return tx.Exec("INSERT INTO t (id) VALUES (2)").Error
	}))
	require.NoError(t, db.Raw("SELECT COUNT(*) FROM t").Scan(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 0, db.Lock().Holders())
}

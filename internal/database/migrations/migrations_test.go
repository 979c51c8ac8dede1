package migrations

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupMigrationTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func TestMigrator_AppliesInOrder(t *testing.T) {
	db := setupMigrationTestDB(t)
	m := NewMigrator(db, nil)

	var order []string
	m.RegisterAll([]Migration{
		{Version: "002", Description: "second", Up: func(tx *gorm.DB) error {
			order = append(order, "002")
			return nil
		}},
		{Version: "001", Description: "first", Up: func(tx *gorm.DB) error {
			order = append(order, "001")
			return nil
		}},
	})

	require.NoError(t, m.Up(context.Background()))
	assert.Equal(t, []string{"001", "002"}, order)
}

func TestMigrator_Idempotent(t *testing.T) {
	db := setupMigrationTestDB(t)
	m := NewMigrator(db, nil)

	runs := 0
	m.RegisterAll([]Migration{
		{Version: "001", Description: "once", Up: func(tx *gorm.DB) error {
			runs++
			return nil
		}},
	})

	require.NoError(t, m.Up(context.Background()))
	require.NoError(t, m.Up(context.Background()))
	assert.Equal(t, 1, runs)
}

func TestMigrator_FailureRollsBack(t *testing.T) {
	db := setupMigrationTestDB(t)
	m := NewMigrator(db, nil)

	sentinel := errors.New("bad migration")
	m.RegisterAll([]Migration{
		{Version: "001", Description: "creates then fails", Up: func(tx *gorm.DB) error {
			if err := tx.Exec("CREATE TABLE half_done (id INTEGER PRIMARY KEY)").Error; err != nil {
				return err
			}
			return sentinel
		}},
	})

	err := m.Up(context.Background())
	assert.ErrorIs(t, err, sentinel)

	// The version must not be recorded.
	var count int64
	require.NoError(t, db.Model(&MigrationRecord{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestMigrator_Status(t *testing.T) {
	db := setupMigrationTestDB(t)
	m := NewMigrator(db, nil)
	m.RegisterAll([]Migration{
		{Version: "001", Description: "a", Up: func(tx *gorm.DB) error { return nil }},
		{Version: "002", Description: "b", Up: func(tx *gorm.DB) error { return nil }},
	})

	require.NoError(t, m.Up(context.Background()))
	statuses, err := m.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Applied)
	assert.True(t, statuses[1].Applied)
}

func TestMigrator_Down(t *testing.T) {
	db := setupMigrationTestDB(t)
	m := NewMigrator(db, nil)
	m.RegisterAll([]Migration{
		{
			Version:     "001",
			Description: "reversible",
			Up: func(tx *gorm.DB) error {
				return tx.Exec("CREATE TABLE up_table (id INTEGER PRIMARY KEY)").Error
			},
			Down: func(tx *gorm.DB) error {
				return tx.Exec("DROP TABLE up_table").Error
			},
		},
	})

	require.NoError(t, m.Up(context.Background()))
	require.NoError(t, m.Down(context.Background()))

	var count int64
	require.NoError(t, db.Model(&MigrationRecord{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

package migrations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/opensensor/lightnvr/internal/models"
)

func applyAll(t *testing.T, db *gorm.DB) {
	t.Helper()
	m := NewMigrator(db, nil)
	m.RegisterAll(AllMigrations())
	require.NoError(t, m.Up(context.Background()))
}

func TestAllMigrations_FreshDatabase(t *testing.T) {
	db := setupMigrationTestDB(t)
	applyAll(t, db)

	for _, table := range []string{
		"streams", "recordings", "detections", "events",
		"stream_tombstones", "motion_configs", "motion_recordings",
	} {
		assert.True(t, db.Migrator().HasTable(table), "missing table %s", table)
	}
	assert.True(t, db.Migrator().HasColumn("streams", "detection_api_url"))
}

func TestAllMigrations_AdditiveColumnDefault(t *testing.T) {
	db := setupMigrationTestDB(t)

	// Simulate an older on-disk schema: the core tables exist without the
	// later column, and rows predate the migration.
	m := NewMigrator(db, nil)
	m.RegisterAll([]Migration{AllMigrations()[0], AllMigrations()[1]})
	require.NoError(t, m.Up(context.Background()))

	require.NoError(t, db.Exec("ALTER TABLE streams DROP COLUMN detection_api_url").Error)
	require.NoError(t, db.Exec(
		"INSERT INTO streams (name, url, enabled, priority, detection_threshold, detection_interval) VALUES ('old', 'rtsp://cam', 1, 5, 0.5, 5)",
	).Error)

	// Upgrading the binary registers the remaining migrations.
	applyAll(t, db)

	var apiURL string
	require.NoError(t, db.Raw("SELECT detection_api_url FROM streams WHERE name = 'old'").Scan(&apiURL).Error)
	assert.Equal(t, "", apiURL, "existing rows read the column default")
}

func TestAllMigrations_StreamRoundTrip(t *testing.T) {
	db := setupMigrationTestDB(t)
	applyAll(t, db)

	stream := &models.Stream{
		Name: "front",
		URL:  "rtsp://camera.local/stream1",
	}
	require.NoError(t, db.Create(stream).Error)

	var loaded models.Stream
	require.NoError(t, db.Where("name = ?", "front").First(&loaded).Error)
	assert.Equal(t, 0.5, loaded.DetectionThreshold)
	assert.Equal(t, 5, loaded.DetectionInterval)
	assert.Equal(t, 10, loaded.PreDetectionBuffer)
	assert.True(t, loaded.IsEnabled())
}

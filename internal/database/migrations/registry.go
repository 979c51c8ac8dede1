// Package migrations defines the lightnvr catalog migration set.
package migrations

import (
	"github.com/opensensor/lightnvr/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns all registered migrations in order.
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002Indexes(),
		migration003Tombstones(),
		migration004MotionRecording(),
		migration005DetectionAPIURL(),
	}
}

// migration001Schema creates the core catalog tables.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create streams, recordings, detections, and events tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.Stream{},
				&models.Recording{},
				&models.Detection{},
				&models.Event{},
			)
		},
		Down: func(tx *gorm.DB) error {
			tables := []string{"events", "detections", "recordings", "streams"}
			for _, table := range tables {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

// migration002Indexes adds the composite listing index. The
// (is_complete, stream_name, start_time) shape serves the "complete
// recordings for stream X newest first" query the web UI issues.
func migration002Indexes() Migration {
	return Migration{
		Version:     "002",
		Description: "Add recording listing index",
		Up: func(tx *gorm.DB) error {
			return tx.Exec(
				"CREATE INDEX IF NOT EXISTS idx_recordings_listing ON recordings (is_complete, stream_name, start_time)",
			).Error
		},
		Down: func(tx *gorm.DB) error {
			return tx.Exec("DROP INDEX IF EXISTS idx_recordings_listing").Error
		},
	}
}

// migration003Tombstones adds the stream tombstone table. Permanent
// deletion records the name here so the recordings sync scanner does not
// re-create a disabled stream from leftover files.
func migration003Tombstones() Migration {
	return Migration{
		Version:     "003",
		Description: "Add stream tombstones",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.StreamTombstone{})
		},
		Down: func(tx *gorm.DB) error {
			if tx.Migrator().HasTable("stream_tombstones") {
				return tx.Migrator().DropTable("stream_tombstones")
			}
			return nil
		},
	}
}

// migration004MotionRecording adds motion configuration and motion
// recordings tables.
func migration004MotionRecording() Migration {
	return Migration{
		Version:     "004",
		Description: "Add motion configuration and motion recordings",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.MotionConfig{},
				&models.MotionRecording{},
			)
		},
		Down: func(tx *gorm.DB) error {
			tables := []string{"motion_recordings", "motion_configs"}
			for _, table := range tables {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

// migration005DetectionAPIURL adds the per-stream detection endpoint
// override. Additive with a default so binaries a version behind keep
// reading the table.
func migration005DetectionAPIURL() Migration {
	return Migration{
		Version:     "005",
		Description: "Add detection_api_url column to streams",
		Up: func(tx *gorm.DB) error {
			if !tx.Migrator().HasColumn("streams", "detection_api_url") {
				return tx.Exec("ALTER TABLE streams ADD COLUMN detection_api_url VARCHAR(2048) NOT NULL DEFAULT ''").Error
			}
			return nil
		},
		Down: func(tx *gorm.DB) error {
			// Dropping a column requires a table rebuild on SQLite; the
			// column is harmless so rollback leaves it in place.
			return nil
		},
	}
}

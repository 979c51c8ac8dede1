package retention

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensensor/lightnvr/internal/config"
	"github.com/opensensor/lightnvr/internal/database"
	"github.com/opensensor/lightnvr/internal/models"
	"github.com/opensensor/lightnvr/internal/repository"
)

func setupEngineTest(t *testing.T) (*Engine, *database.DB, repository.RecordingRepository, repository.StreamRepository) {
	t.Helper()

	db, err := database.Open(":memory:", config.DatabaseConfig{
		Driver:      "sqlite",
		LogLevel:    "silent",
		LockTimeout: time.Second,
	}, nil, &database.Options{PrepareStmt: false})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Stream{}, &models.StreamTombstone{},
		&models.Recording{}, &models.Detection{}, &models.Event{},
	))

	streams := repository.NewStreamRepository(db.DB)
	recordings := repository.NewRecordingRepository(db.DB)
	detections := repository.NewDetectionRepository(db.DB)
	events := repository.NewEventRepository(db.DB)

	engine := NewEngine(config.RetentionConfig{
		Enabled:  models.BoolPtr(true),
		Interval: time.Minute,
	}, db, streams, recordings, detections, events, nil)

	return engine, db, recordings, streams
}

func addFinishedRecording(t *testing.T, repo repository.RecordingRepository, stream, path string, start time.Time, size int64) uint {
	t.Helper()
	ctx := context.Background()
	id, err := repo.Add(ctx, &models.Recording{
		StreamName: stream,
		FilePath:   path,
		StartTime:  start,
	})
	require.NoError(t, err)
	require.NoError(t, repo.Finish(ctx, id, start.Add(time.Minute), size, true))
	return id
}

func TestSweep_DeletesExpiredRowsAndFiles(t *testing.T) {
	engine, _, recordings, streams := setupEngineTest(t)
	ctx := context.Background()

	stream := &models.Stream{Name: "front", URL: "rtsp://cam", RetentionDays: 7}
	require.NoError(t, streams.Create(ctx, stream))

	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.mp4")
	require.NoError(t, os.WriteFile(oldPath, []byte("old"), 0o644))
	freshPath := filepath.Join(dir, "fresh.mp4")
	require.NoError(t, os.WriteFile(freshPath, []byte("fresh"), 0o644))

	addFinishedRecording(t, recordings, "front", oldPath, time.Now().AddDate(0, 0, -10), 3)
	freshID := addFinishedRecording(t, recordings, "front", freshPath, time.Now().Add(-time.Hour), 5)

	require.NoError(t, engine.Sweep(ctx))

	_, err := os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err), "expired file must be removed")
	assert.FileExists(t, freshPath)

	rec, err := recordings.GetByID(ctx, freshID)
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestSweep_MissingFileIsNotFatal(t *testing.T) {
	engine, _, recordings, streams := setupEngineTest(t)
	ctx := context.Background()

	require.NoError(t, streams.Create(ctx, &models.Stream{Name: "front", URL: "rtsp://cam", RetentionDays: 1}))
	addFinishedRecording(t, recordings, "front", "/nonexistent/gone.mp4", time.Now().AddDate(0, 0, -2), 3)

	require.NoError(t, engine.Sweep(ctx))

	count, err := recordings.Count(ctx, repository.RecordingFilters{StreamName: "front"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "row deletion proceeds despite the missing file")
}

func TestSweep_InFlightRecordingsAreImmortal(t *testing.T) {
	engine, _, recordings, streams := setupEngineTest(t)
	ctx := context.Background()

	require.NoError(t, streams.Create(ctx, &models.Stream{Name: "front", URL: "rtsp://cam", RetentionDays: 1}))

	// A stuck open row from long ago: end_time is null so the age policy
	// never matches it.
	_, err := recordings.Add(ctx, &models.Recording{
		StreamName: "front",
		FilePath:   "/data/front/stuck.mp4",
		StartTime:  time.Now().AddDate(0, 0, -30),
	})
	require.NoError(t, err)

	require.NoError(t, engine.Sweep(ctx))

	open, err := recordings.OpenRows(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestSweep_SizeBudgetEvictsOldestFirst(t *testing.T) {
	engine, _, recordings, streams := setupEngineTest(t)
	ctx := context.Background()

	// 3 MB of recordings against a 2 MB budget.
	require.NoError(t, streams.Create(ctx, &models.Stream{
		Name: "front", URL: "rtsp://cam", RetentionDays: 0, MaxStorageMB: 2,
	}))

	dir := t.TempDir()
	base := time.Now().Add(-3 * time.Hour)
	var ids []uint
	for i := 0; i < 3; i++ {
		path := filepath.Join(dir, time.Duration(i).String()+".mp4")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		ids = append(ids, addFinishedRecording(t, recordings, "front", path, base.Add(time.Duration(i)*time.Hour), 1024*1024))
	}

	require.NoError(t, engine.Sweep(ctx))

	// The oldest recording goes; the newer two fit the budget.
	rec, err := recordings.GetByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Nil(t, rec)

	total, err := recordings.SizeForStream(ctx, "front")
	require.NoError(t, err)
	assert.LessOrEqual(t, total, int64(2*1024*1024))
}

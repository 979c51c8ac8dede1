package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensensor/lightnvr/internal/models"
)

func addRecording(t *testing.T, repo RecordingRepository, stream, path string, start time.Time) uint {
	t.Helper()
	id, err := repo.Add(context.Background(), &models.Recording{
		StreamName:  stream,
		FilePath:    path,
		StartTime:   start,
		TriggerType: models.TriggerDetection,
	})
	require.NoError(t, err)
	return id
}

func TestRecordingRepo_Lifecycle(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	id := addRecording(t, repo, "front", "/data/front/detection_20250601_120000.mp4", start)

	// Open row: end_time null, is_complete false, id assigned.
	rec, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Nil(t, rec.EndTime)
	assert.False(t, rec.Complete())
	assert.Equal(t, "front", rec.StreamName)

	// Not listed while in-flight.
	listed, err := repo.List(ctx, RecordingFilters{CompleteOnly: true}, "", "", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, listed)

	// Finished exactly once at close.
	end := start.Add(20 * time.Second)
	require.NoError(t, repo.Finish(ctx, id, end, 4096, true))

	rec, err = repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.Complete())
	assert.Equal(t, int64(4096), rec.SizeBytes)
	assert.InDelta(t, 20, rec.Duration(), 0.01)

	listed, err = repo.List(ctx, RecordingFilters{CompleteOnly: true}, "", "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestRecordingRepo_ListSortAllowList(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		id := addRecording(t, repo, "front", "/data/front/"+time.Duration(i).String()+".mp4", base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, repo.Finish(ctx, id, base.Add(time.Duration(i)*time.Hour+time.Minute), 100, true))
	}

	// Allowed sort.
	recs, err := repo.List(ctx, RecordingFilters{}, "start_time", "ASC", 0, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.True(t, recs[0].StartTime.Before(recs[2].StartTime))

	// Unknown sort field falls back to start_time DESC.
	recs, err = repo.List(ctx, RecordingFilters{}, "file_path; DROP TABLE recordings", "ASC", 0, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.True(t, recs[0].StartTime.After(recs[2].StartTime))
}

func TestRecordingRepo_DeleteOlderThanSkipsOpenRows(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	oldID := addRecording(t, repo, "front", "/data/front/old.mp4", old)
	require.NoError(t, repo.Finish(ctx, oldID, old.Add(time.Minute), 100, true))

	// An open row far in the past must survive: retention never touches
	// rows with a null end time.
	addRecording(t, repo, "front", "/data/front/stuck.mp4", old)

	freshID := addRecording(t, repo, "front", "/data/front/new.mp4", time.Now())
	require.NoError(t, repo.Finish(ctx, freshID, time.Now(), 100, true))

	victims, err := repo.DeleteOlderThan(ctx, "front", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, victims, 1)
	assert.Equal(t, "/data/front/old.mp4", victims[0].FilePath)

	open, err := repo.OpenRows(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestRecordingRepo_SizeBudgetHelpers(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		id := addRecording(t, repo, "front", "/data/front/seg"+string(rune('a'+i))+".mp4", base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, repo.Finish(ctx, id, base.Add(time.Duration(i)*time.Hour+time.Minute), 1000, true))
	}

	total, err := repo.SizeForStream(ctx, "front")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), total)

	oldest, err := repo.OldestComplete(ctx, "front", 2)
	require.NoError(t, err)
	require.Len(t, oldest, 2)
	assert.Equal(t, base, oldest[0].StartTime.UTC())
}

func TestRecordingRepo_UniquePath(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	addRecording(t, repo, "front", "/data/front/dup.mp4", time.Now())
	_, err := repo.Add(ctx, &models.Recording{
		StreamName: "front",
		FilePath:   "/data/front/dup.mp4",
		StartTime:  time.Now(),
	})
	assert.Error(t, err)
}

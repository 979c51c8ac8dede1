package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensensor/lightnvr/internal/models"
)

func TestDetectionRepo_InsertAndQueryRange(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewDetectionRepository(db)
	ctx := context.Background()

	batch := []*models.Detection{
		{StreamName: "front", Timestamp: 100, Label: "person", Confidence: 0.9, X: 0.1, Y: 0.2, Width: 0.3, Height: 0.4},
		{StreamName: "front", Timestamp: 150, Label: "person", Confidence: 0.8, X: 0.2, Y: 0.2, Width: 0.3, Height: 0.4},
		{StreamName: "front", Timestamp: 200, Label: "car", Confidence: 0.7, X: 0.5, Y: 0.5, Width: 0.2, Height: 0.2},
		{StreamName: "back", Timestamp: 150, Label: "person", Confidence: 0.95, X: 0, Y: 0, Width: 1, Height: 1},
	}
	require.NoError(t, repo.InsertBatch(ctx, batch))

	// Exactly the subset with timestamps in [t0, t1] for the stream.
	got, err := repo.Query(ctx, "front", 100, 150)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, float64(100), got[0].Timestamp)
	assert.Equal(t, float64(150), got[1].Timestamp)
	for _, d := range got {
		assert.Equal(t, "front", d.StreamName)
	}

	got, err = repo.Query(ctx, "front", 201, 300)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDetectionRepo_ValidatesBoxes(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewDetectionRepository(db)
	ctx := context.Background()

	bad := []*models.Detection{
		{StreamName: "front", Timestamp: 1, Label: "person", Confidence: 0.9, X: 1.2},
	}
	assert.ErrorIs(t, repo.InsertBatch(ctx, bad), models.ErrInvalidBoundingBox)

	overConfident := []*models.Detection{
		{StreamName: "front", Timestamp: 1, Label: "person", Confidence: 1.5},
	}
	assert.ErrorIs(t, repo.InsertBatch(ctx, overConfident), models.ErrInvalidConfidence)
}

func TestDetectionRepo_DeleteOlderThan(t *testing.T) {
	db := setupRepoTestDB(t)
	repo := NewDetectionRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.InsertBatch(ctx, []*models.Detection{
		{StreamName: "front", Timestamp: 100, Label: "person", Confidence: 0.9},
		{StreamName: "front", Timestamp: 200, Label: "person", Confidence: 0.9},
	}))

	n, err := repo.DeleteOlderThan(ctx, "front", 150)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.Query(ctx, "front", 0, 1000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, float64(200), got[0].Timestamp)
}

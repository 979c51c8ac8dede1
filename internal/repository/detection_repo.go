package repository

import (
	"context"
	"fmt"

	"github.com/opensensor/lightnvr/internal/models"
	"gorm.io/gorm"
)

// detectionRepo implements DetectionRepository using GORM.
type detectionRepo struct {
	db *gorm.DB
}

// NewDetectionRepository creates a new DetectionRepository.
func NewDetectionRepository(db *gorm.DB) *detectionRepo {
	return &detectionRepo{db: db}
}

// detectionBatchSize bounds one INSERT statement.
const detectionBatchSize = 100

// InsertBatch inserts detection events in batches.
func (r *detectionRepo) InsertBatch(ctx context.Context, detections []*models.Detection) error {
	if len(detections) == 0 {
		return nil
	}
	for _, d := range detections {
		if err := d.Validate(); err != nil {
			return err
		}
	}
	if err := r.db.WithContext(ctx).CreateInBatches(detections, detectionBatchSize).Error; err != nil {
		return fmt.Errorf("inserting detections: %w", err)
	}
	return nil
}

// Query returns a stream's detections with timestamps in [start, end],
// oldest first.
func (r *detectionRepo) Query(ctx context.Context, streamName string, start, end float64) ([]*models.Detection, error) {
	var detections []*models.Detection
	err := r.db.WithContext(ctx).
		Where("stream_name = ? AND timestamp >= ? AND timestamp <= ?", streamName, start, end).
		Order("timestamp ASC").
		Find(&detections).Error
	if err != nil {
		return nil, fmt.Errorf("querying detections: %w", err)
	}
	return detections, nil
}

// DeleteOlderThan removes a stream's detections older than the cutoff
// timestamp, returning the deleted row count.
func (r *detectionRepo) DeleteOlderThan(ctx context.Context, streamName string, cutoff float64) (int64, error) {
	q := r.db.WithContext(ctx).Where("timestamp < ?", cutoff)
	if streamName != "" {
		q = q.Where("stream_name = ?", streamName)
	}
	result := q.Delete(&models.Detection{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting old detections: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Ensure detectionRepo implements DetectionRepository at compile time.
var _ DetectionRepository = (*detectionRepo)(nil)

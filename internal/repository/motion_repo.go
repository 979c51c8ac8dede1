package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opensensor/lightnvr/internal/models"
	"gorm.io/gorm"
)

// motionRepo implements MotionRepository using GORM.
type motionRepo struct {
	db *gorm.DB
}

// NewMotionRepository creates a new MotionRepository.
func NewMotionRepository(db *gorm.DB) *motionRepo {
	return &motionRepo{db: db}
}

// GetConfig returns the motion configuration for a stream, or nil if none
// has been set.
func (r *motionRepo) GetConfig(ctx context.Context, streamName string) (*models.MotionConfig, error) {
	var cfg models.MotionConfig
	if err := r.db.WithContext(ctx).Where("stream_name = ?", streamName).First(&cfg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting motion config: %w", err)
	}
	return &cfg, nil
}

// SetConfig inserts or updates a stream's motion configuration.
func (r *motionRepo) SetConfig(ctx context.Context, cfg *models.MotionConfig) error {
	var existing models.MotionConfig
	err := r.db.WithContext(ctx).Where("stream_name = ?", cfg.StreamName).First(&existing).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		if err := r.db.WithContext(ctx).Create(cfg).Error; err != nil {
			return fmt.Errorf("creating motion config: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("checking motion config: %w", err)
	}

	cfg.ID = existing.ID
	cfg.CreatedAt = existing.CreatedAt
	if err := r.db.WithContext(ctx).Save(cfg).Error; err != nil {
		return fmt.Errorf("updating motion config: %w", err)
	}
	return nil
}

// AddRecording inserts an open motion recording row.
func (r *motionRepo) AddRecording(ctx context.Context, rec *models.MotionRecording) (uint, error) {
	rec.EndTime = nil
	rec.IsComplete = models.BoolPtr(false)
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return 0, fmt.Errorf("adding motion recording: %w", err)
	}
	return rec.ID, nil
}

// FinishRecording updates the row once at close.
func (r *motionRepo) FinishRecording(ctx context.Context, id uint, endTime time.Time, sizeBytes int64) error {
	updates := map[string]any{
		"end_time":    endTime,
		"size_bytes":  sizeBytes,
		"is_complete": true,
	}
	result := r.db.WithContext(ctx).Model(&models.MotionRecording{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("finishing motion recording: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListRecordings returns a stream's complete motion recordings, newest
// first.
func (r *motionRepo) ListRecordings(ctx context.Context, streamName string, limit, offset int) ([]*models.MotionRecording, error) {
	q := r.db.WithContext(ctx).
		Where("is_complete = ? AND end_time IS NOT NULL", true).
		Order("start_time DESC")
	if streamName != "" {
		q = q.Where("stream_name = ?", streamName)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}

	var recs []*models.MotionRecording
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing motion recordings: %w", err)
	}
	return recs, nil
}

// Ensure motionRepo implements MotionRepository at compile time.
var _ MotionRepository = (*motionRepo)(nil)

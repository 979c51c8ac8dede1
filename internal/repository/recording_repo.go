package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opensensor/lightnvr/internal/models"
	"gorm.io/gorm"
)

// recordingRepo implements RecordingRepository using GORM.
type recordingRepo struct {
	db *gorm.DB
}

// NewRecordingRepository creates a new RecordingRepository.
func NewRecordingRepository(db *gorm.DB) *recordingRepo {
	return &recordingRepo{db: db}
}

// Add inserts an open recording row and returns the assigned id.
func (r *recordingRepo) Add(ctx context.Context, rec *models.Recording) (uint, error) {
	rec.EndTime = nil
	rec.IsComplete = models.BoolPtr(false)
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return 0, fmt.Errorf("adding recording: %w", err)
	}
	return rec.ID, nil
}

// Finish updates the row once at close with the final end time and size.
func (r *recordingRepo) Finish(ctx context.Context, id uint, endTime time.Time, sizeBytes int64, complete bool) error {
	updates := map[string]any{
		"end_time":    endTime,
		"size_bytes":  sizeBytes,
		"is_complete": complete,
	}
	result := r.db.WithContext(ctx).Model(&models.Recording{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("finishing recording: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetByID retrieves a recording by id.
func (r *recordingRepo) GetByID(ctx context.Context, id uint) (*models.Recording, error) {
	var rec models.Recording
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting recording by id: %w", err)
	}
	return &rec, nil
}

// GetByPath retrieves a recording by its file path.
func (r *recordingRepo) GetByPath(ctx context.Context, path string) (*models.Recording, error) {
	var rec models.Recording
	if err := r.db.WithContext(ctx).Where("file_path = ?", path).First(&rec).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting recording by path: %w", err)
	}
	return &rec, nil
}

// applyFilters narrows a query by the zero-value-ignored filter set.
func applyFilters(q *gorm.DB, filters RecordingFilters) *gorm.DB {
	if filters.StreamName != "" {
		q = q.Where("stream_name = ?", filters.StreamName)
	}
	if !filters.Start.IsZero() {
		q = q.Where("start_time >= ?", filters.Start)
	}
	if !filters.End.IsZero() {
		q = q.Where("start_time <= ?", filters.End)
	}
	if filters.TriggerType != "" {
		q = q.Where("trigger_type = ?", filters.TriggerType)
	}
	if filters.CompleteOnly {
		q = q.Where("is_complete = ? AND end_time IS NOT NULL", true)
	}
	return q
}

// List returns recordings matching filters. The sort field and direction
// are accepted only from the allow-list; unknown inputs fall back to
// start_time DESC.
func (r *recordingRepo) List(ctx context.Context, filters RecordingFilters, sortField, sortDir string, limit, offset int) ([]*models.Recording, error) {
	q := applyFilters(r.db.WithContext(ctx).Model(&models.Recording{}), filters)
	q = q.Order(SafeOrderClause(sortField, sortDir))
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}

	var recs []*models.Recording
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing recordings: %w", err)
	}
	return recs, nil
}

// Count returns the number of recordings matching filters.
func (r *recordingRepo) Count(ctx context.Context, filters RecordingFilters) (int64, error) {
	var count int64
	q := applyFilters(r.db.WithContext(ctx).Model(&models.Recording{}), filters)
	if err := q.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting recordings: %w", err)
	}
	return count, nil
}

// Delete removes a recording row.
func (r *recordingRepo) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Recording{})
	if result.Error != nil {
		return fmt.Errorf("deleting recording: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteOlderThan removes a stream's complete recordings whose end time
// predates the cutoff, inside one transaction, and returns the deleted
// rows so the caller can unlink the backing files. Rows with a null end
// time are in-flight and skipped.
func (r *recordingRepo) DeleteOlderThan(ctx context.Context, streamName string, cutoff time.Time) ([]*models.Recording, error) {
	var victims []*models.Recording
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("end_time IS NOT NULL AND end_time < ?", cutoff)
		if streamName != "" {
			q = q.Where("stream_name = ?", streamName)
		}
		if err := q.Find(&victims).Error; err != nil {
			return fmt.Errorf("selecting expired recordings: %w", err)
		}
		if len(victims) == 0 {
			return nil
		}
		ids := make([]uint, len(victims))
		for i, v := range victims {
			ids[i] = v.ID
		}
		if err := tx.Where("id IN ?", ids).Delete(&models.Recording{}).Error; err != nil {
			return fmt.Errorf("deleting expired recordings: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return victims, nil
}

// OldestComplete returns up to limit oldest complete recordings for a
// stream, for size-budget eviction.
func (r *recordingRepo) OldestComplete(ctx context.Context, streamName string, limit int) ([]*models.Recording, error) {
	var recs []*models.Recording
	err := r.db.WithContext(ctx).
		Where("stream_name = ? AND is_complete = ? AND end_time IS NOT NULL", streamName, true).
		Order("start_time ASC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("getting oldest recordings: %w", err)
	}
	return recs, nil
}

// SizeForStream sums size_bytes over a stream's recordings.
func (r *recordingRepo) SizeForStream(ctx context.Context, streamName string) (int64, error) {
	var total *int64
	err := r.db.WithContext(ctx).Model(&models.Recording{}).
		Where("stream_name = ?", streamName).
		Select("SUM(size_bytes)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("summing recording sizes: %w", err)
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// OpenRows returns in-flight rows for crash recovery by the sync scanner.
func (r *recordingRepo) OpenRows(ctx context.Context) ([]*models.Recording, error) {
	var recs []*models.Recording
	if err := r.db.WithContext(ctx).Where("end_time IS NULL").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("getting open recordings: %w", err)
	}
	return recs, nil
}

// Ensure recordingRepo implements RecordingRepository at compile time.
var _ RecordingRepository = (*recordingRepo)(nil)

package repository

import (
	"context"
	"fmt"

	"github.com/opensensor/lightnvr/internal/models"
	"gorm.io/gorm"
)

// streamRepo implements StreamRepository using GORM.
type streamRepo struct {
	db *gorm.DB
}

// NewStreamRepository creates a new StreamRepository.
func NewStreamRepository(db *gorm.DB) *streamRepo {
	return &streamRepo{db: db}
}

// Create inserts a new stream. If a row with the same name already exists
// (typically soft-deleted), it is updated in place and re-enabled, so the
// row count is unchanged and history keyed by name is preserved.
func (r *streamRepo) Create(ctx context.Context, stream *models.Stream) error {
	if err := stream.Validate(); err != nil {
		return err
	}

	var existing models.Stream
	err := r.db.WithContext(ctx).Where("name = ?", stream.Name).First(&existing).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		if err := r.db.WithContext(ctx).Create(stream).Error; err != nil {
			return fmt.Errorf("creating stream: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("checking for existing stream: %w", err)
	}

	stream.ID = existing.ID
	stream.CreatedAt = existing.CreatedAt
	stream.Enabled = models.BoolPtr(true)
	if err := r.db.WithContext(ctx).Save(stream).Error; err != nil {
		return fmt.Errorf("reviving stream: %w", err)
	}
	return nil
}

// GetByID retrieves a stream by catalog id.
func (r *streamRepo) GetByID(ctx context.Context, id uint) (*models.Stream, error) {
	var stream models.Stream
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&stream).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream by id: %w", err)
	}
	return &stream, nil
}

// GetByName retrieves a stream by name.
func (r *streamRepo) GetByName(ctx context.Context, name string) (*models.Stream, error) {
	var stream models.Stream
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&stream).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream by name: %w", err)
	}
	return &stream, nil
}

// GetAll retrieves all streams, highest priority first.
func (r *streamRepo) GetAll(ctx context.Context) ([]*models.Stream, error) {
	var streams []*models.Stream
	if err := r.db.WithContext(ctx).Order("priority DESC, name ASC").Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("getting all streams: %w", err)
	}
	return streams, nil
}

// GetEnabled retrieves all enabled streams.
func (r *streamRepo) GetEnabled(ctx context.Context) ([]*models.Stream, error) {
	var streams []*models.Stream
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Order("priority DESC, name ASC").Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("getting enabled streams: %w", err)
	}
	return streams, nil
}

// Update updates an existing stream.
func (r *streamRepo) Update(ctx context.Context, stream *models.Stream) error {
	if err := r.db.WithContext(ctx).Save(stream).Error; err != nil {
		return fmt.Errorf("updating stream: %w", err)
	}
	return nil
}

// SoftDelete sets enabled=false without removing the row.
func (r *streamRepo) SoftDelete(ctx context.Context, name string) error {
	result := r.db.WithContext(ctx).Model(&models.Stream{}).
		Where("name = ?", name).
		Update("enabled", false)
	if result.Error != nil {
		return fmt.Errorf("soft-deleting stream: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// PermanentDelete removes the row and writes a tombstone so the sync
// scanner does not resurrect the stream from leftover files.
func (r *streamRepo) PermanentDelete(ctx context.Context, name string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("name = ?", name).Delete(&models.Stream{})
		if result.Error != nil {
			return fmt.Errorf("deleting stream: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		tombstone := models.StreamTombstone{Name: name, DeletedAt: models.Now()}
		if err := tx.Where("name = ?", name).FirstOrCreate(&tombstone).Error; err != nil {
			return fmt.Errorf("writing tombstone: %w", err)
		}
		return nil
	})
}

// Count returns the stream row count, soft-deleted included.
func (r *streamRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Stream{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting streams: %w", err)
	}
	return count, nil
}

// IsTombstoned reports whether the name was permanently deleted.
func (r *streamRepo) IsTombstoned(ctx context.Context, name string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.StreamTombstone{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking tombstone: %w", err)
	}
	return count > 0, nil
}

// Ensure streamRepo implements StreamRepository at compile time.
var _ StreamRepository = (*streamRepo)(nil)

// Package repository provides data access for lightnvr catalog entities.
package repository

import (
	"context"
	"time"

	"github.com/opensensor/lightnvr/internal/models"
)

// StreamRepository manages stream configurations.
type StreamRepository interface {
	// Create inserts a new stream, or revives a soft-deleted row with the
	// same name by updating it in place.
	Create(ctx context.Context, stream *models.Stream) error
	GetByID(ctx context.Context, id uint) (*models.Stream, error)
	GetByName(ctx context.Context, name string) (*models.Stream, error)
	GetAll(ctx context.Context) ([]*models.Stream, error)
	GetEnabled(ctx context.Context) ([]*models.Stream, error)
	Update(ctx context.Context, stream *models.Stream) error
	// SoftDelete disables the stream, keeping the row.
	SoftDelete(ctx context.Context, name string) error
	// PermanentDelete removes the row and writes a tombstone.
	PermanentDelete(ctx context.Context, name string) error
	Count(ctx context.Context) (int64, error)
	IsTombstoned(ctx context.Context, name string) (bool, error)
}

// RecordingFilters narrows recording queries. Zero values are ignored.
type RecordingFilters struct {
	StreamName   string
	Start        time.Time
	End          time.Time
	TriggerType  models.TriggerType
	CompleteOnly bool
}

// RecordingRepository manages recording rows.
type RecordingRepository interface {
	// Add inserts an open row (end_time null, is_complete false) and
	// returns the catalog-assigned id.
	Add(ctx context.Context, rec *models.Recording) (uint, error)
	// Finish updates the row once at close.
	Finish(ctx context.Context, id uint, endTime time.Time, sizeBytes int64, complete bool) error
	GetByID(ctx context.Context, id uint) (*models.Recording, error)
	GetByPath(ctx context.Context, path string) (*models.Recording, error)
	// List returns rows matching filters, sorted and paged. Sort fields
	// outside the allow-list fall back to start_time DESC.
	List(ctx context.Context, filters RecordingFilters, sortField, sortDir string, limit, offset int) ([]*models.Recording, error)
	Count(ctx context.Context, filters RecordingFilters) (int64, error)
	Delete(ctx context.Context, id uint) error
	// DeleteOlderThan removes complete rows whose end time predates the
	// cutoff, returning the deleted rows so callers can unlink files.
	DeleteOlderThan(ctx context.Context, streamName string, cutoff time.Time) ([]*models.Recording, error)
	// OldestComplete returns up to limit oldest complete recordings for a
	// stream, for size-budget eviction.
	OldestComplete(ctx context.Context, streamName string, limit int) ([]*models.Recording, error)
	// SizeForStream sums size_bytes over a stream's recordings.
	SizeForStream(ctx context.Context, streamName string) (int64, error)
	// OpenRows returns in-flight rows (end_time null) for sync recovery.
	OpenRows(ctx context.Context) ([]*models.Recording, error)
}

// DetectionRepository manages detection events.
type DetectionRepository interface {
	InsertBatch(ctx context.Context, detections []*models.Detection) error
	// Query returns detections for a stream whose timestamps fall in
	// [start, end].
	Query(ctx context.Context, streamName string, start, end float64) ([]*models.Detection, error)
	DeleteOlderThan(ctx context.Context, streamName string, cutoff float64) (int64, error)
}

// EventRepository manages the append-only event log.
type EventRepository interface {
	Append(ctx context.Context, event *models.Event) error
	List(ctx context.Context, eventType models.EventType, streamName string, limit int) ([]*models.Event, error)
}

// MotionRepository manages motion configuration and motion recordings.
type MotionRepository interface {
	GetConfig(ctx context.Context, streamName string) (*models.MotionConfig, error)
	SetConfig(ctx context.Context, cfg *models.MotionConfig) error
	AddRecording(ctx context.Context, rec *models.MotionRecording) (uint, error)
	FinishRecording(ctx context.Context, id uint, endTime time.Time, sizeBytes int64) error
	ListRecordings(ctx context.Context, streamName string, limit, offset int) ([]*models.MotionRecording, error)
}

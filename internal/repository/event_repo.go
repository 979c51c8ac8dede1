package repository

import (
	"context"
	"fmt"

	"github.com/opensensor/lightnvr/internal/models"
	"gorm.io/gorm"
)

// eventRepo implements EventRepository using GORM.
type eventRepo struct {
	db *gorm.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *gorm.DB) *eventRepo {
	return &eventRepo{db: db}
}

// Append writes one event. The log is append-only; there is no update or
// delete path outside retention.
func (r *eventRepo) Append(ctx context.Context, event *models.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = models.Now()
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// List returns recent events, newest first, optionally filtered by type
// and stream.
func (r *eventRepo) List(ctx context.Context, eventType models.EventType, streamName string, limit int) ([]*models.Event, error) {
	q := r.db.WithContext(ctx).Model(&models.Event{})
	if eventType != "" {
		q = q.Where("type = ?", eventType)
	}
	if streamName != "" {
		q = q.Where("stream_name = ?", streamName)
	}
	if limit <= 0 {
		limit = 100
	}

	var events []*models.Event
	if err := q.Order("timestamp DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	return events, nil
}

// Ensure eventRepo implements EventRepository at compile time.
var _ EventRepository = (*eventRepo)(nil)

package models

// EventType classifies system events for the event log.
type EventType string

const (
	// EventStreamStarted is logged when an ingest thread starts.
	EventStreamStarted EventType = "stream_started"
	// EventStreamStopped is logged when an ingest thread stops.
	EventStreamStopped EventType = "stream_stopped"
	// EventStreamReconnect is logged when ingest loses the source and
	// re-enters CONNECTING.
	EventStreamReconnect EventType = "stream_reconnect"
	// EventRecordingStarted is logged when a recording file is opened.
	EventRecordingStarted EventType = "recording_started"
	// EventRecordingStopped is logged when a recording file is finalized.
	EventRecordingStopped EventType = "recording_stopped"
	// EventRetentionSweep is logged after a retention pass deletes rows.
	EventRetentionSweep EventType = "retention_sweep"
	// EventSyncCompleted is logged after a recordings sync pass.
	EventSyncCompleted EventType = "sync_completed"
	// EventServerRestarted is logged when the health supervisor restarts
	// the HTTP surface.
	EventServerRestarted EventType = "server_restarted"
)

// Event is one row in the append-only event log.
type Event struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	Type       EventType `gorm:"index;not null;size:32" json:"type"`
	Timestamp  Time      `gorm:"index;not null" json:"timestamp"`
	StreamName string    `gorm:"index;size:63" json:"stream_name,omitempty"`
	Description string   `gorm:"size:512" json:"description,omitempty"`
	// Details carries optional JSON-encoded context.
	Details string `gorm:"size:4096" json:"details,omitempty"`
}

// TableName returns the table name for Event.
func (Event) TableName() string {
	return "events"
}

package models

import (
	"gorm.io/gorm"
)

// TriggerType is the reason a recording was created.
type TriggerType string

const (
	// TriggerContinuous is a scheduled, always-on recording segment.
	TriggerContinuous TriggerType = "continuous"
	// TriggerDetection is a recording started by a positive object detection.
	TriggerDetection TriggerType = "detection"
	// TriggerMotion is a recording started by pixel-motion analysis.
	TriggerMotion TriggerType = "motion"
)

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerContinuous, TriggerDetection, TriggerMotion:
		return true
	}
	return false
}

// Recording is one completed or in-progress capture file.
//
// A row is inserted with EndTime nil and IsComplete false when the file is
// opened, and updated exactly once at close. Rows are listed to users only
// when IsComplete is true and EndTime is set.
type Recording struct {
	BaseModel

	// StreamName references the owning stream by name. Name rather than ID
	// so rows survive stream re-creation and the sync scanner can adopt
	// files for streams that no longer exist.
	StreamName string `gorm:"index:idx_recordings_stream_start,priority:1;not null;size:63" json:"stream_name"`

	// FilePath is the absolute path of the capture file. Unique: one row
	// per file.
	FilePath string `gorm:"uniqueIndex;not null;size:4096" json:"file_path"`

	StartTime Time  `gorm:"index:idx_recordings_stream_start,priority:2;not null" json:"start_time"`
	EndTime   *Time `json:"end_time,omitempty"`

	SizeBytes int64   `gorm:"default:0" json:"size_bytes"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FPS       float64 `json:"fps"`
	Codec     string  `gorm:"size:32" json:"codec"`

	IsComplete  *bool       `gorm:"index:idx_recordings_complete;default:false" json:"is_complete"`
	TriggerType TriggerType `gorm:"size:16;default:'detection'" json:"trigger_type"`
}

// TableName returns the table name for Recording.
func (Recording) TableName() string {
	return "recordings"
}

// Complete reports whether the recording has been finalized.
func (r *Recording) Complete() bool {
	return BoolValDefault(r.IsComplete, false) && r.EndTime != nil
}

// Duration returns the recorded span, or zero while in-flight.
func (r *Recording) Duration() float64 {
	if r.EndTime == nil {
		return 0
	}
	return r.EndTime.Sub(r.StartTime).Seconds()
}

// Validate performs basic validation on the recording row.
func (r *Recording) Validate() error {
	if r.StreamName == "" {
		return ErrStreamNameRequired
	}
	if r.FilePath == "" {
		return ErrFilePathRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the recording.
func (r *Recording) BeforeCreate(tx *gorm.DB) error {
	if !r.TriggerType.Valid() {
		r.TriggerType = TriggerDetection
	}
	return r.Validate()
}

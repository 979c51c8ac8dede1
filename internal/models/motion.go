package models

// MotionConfig holds per-stream motion recording configuration. Motion
// analysis itself runs in the front-end collaborator; the catalog stores
// its policy and its recordings with the same lifecycle rules as the
// primary recordings table.
type MotionConfig struct {
	BaseModel

	StreamName string `gorm:"uniqueIndex;not null;size:63" json:"stream_name"`

	Enabled *bool `gorm:"default:false" json:"enabled"`

	// Sensitivity 0-100; higher triggers on smaller changes.
	Sensitivity int `gorm:"default:50" json:"sensitivity"`

	// MinMotionArea is the fraction of the frame [0,1] that must change.
	MinMotionArea float64 `gorm:"default:0.01" json:"min_motion_area"`

	// CooldownSeconds suppresses retriggering after a motion recording ends.
	CooldownSeconds int `gorm:"default:10" json:"cooldown_seconds"`

	PreBufferSeconds  int `gorm:"default:5" json:"pre_buffer_seconds"`
	PostBufferSeconds int `gorm:"default:10" json:"post_buffer_seconds"`
}

// TableName returns the table name for MotionConfig.
func (MotionConfig) TableName() string {
	return "motion_configs"
}

// MotionRecording is one motion-triggered capture file. Same lifecycle as
// Recording: inserted open, updated once at close, listed only when
// complete.
type MotionRecording struct {
	BaseModel

	StreamName string `gorm:"index:idx_motion_stream_start,priority:1;not null;size:63" json:"stream_name"`
	FilePath   string `gorm:"uniqueIndex;not null;size:4096" json:"file_path"`

	StartTime Time  `gorm:"index:idx_motion_stream_start,priority:2;not null" json:"start_time"`
	EndTime   *Time `json:"end_time,omitempty"`

	SizeBytes  int64 `gorm:"default:0" json:"size_bytes"`
	IsComplete *bool `gorm:"default:false" json:"is_complete"`
}

// TableName returns the table name for MotionRecording.
func (MotionRecording) TableName() string {
	return "motion_recordings"
}

// Complete reports whether the motion recording has been finalized.
func (m *MotionRecording) Complete() bool {
	return BoolValDefault(m.IsComplete, false) && m.EndTime != nil
}

package models

import (
	"gorm.io/gorm"
)

// Detection is one object found in a frame. Box coordinates are normalized
// to [0,1] relative to the frame dimensions.
type Detection struct {
	ID uint `gorm:"primarykey" json:"id"`

	StreamName string `gorm:"index:idx_detections_stream_ts,priority:1;not null;size:63" json:"stream_name"`

	// Timestamp is seconds since the Unix epoch, fractional. Stored as a
	// float so sub-second frame times survive the round trip.
	Timestamp float64 `gorm:"index:idx_detections_stream_ts,priority:2;not null" json:"timestamp"`

	Label      string  `gorm:"not null;size:64" json:"label"`
	Confidence float64 `gorm:"not null" json:"confidence"`

	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`

	CreatedAt Time `json:"created_at"`
}

// TableName returns the table name for Detection.
func (Detection) TableName() string {
	return "detections"
}

// Validate checks confidence and box normalization.
func (d *Detection) Validate() error {
	if d.StreamName == "" {
		return ErrStreamNameRequired
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return ErrInvalidConfidence
	}
	for _, v := range [...]float64{d.X, d.Y, d.Width, d.Height} {
		if v < 0 || v > 1 {
			return ErrInvalidBoundingBox
		}
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the detection.
func (d *Detection) BeforeCreate(tx *gorm.DB) error {
	return d.Validate()
}

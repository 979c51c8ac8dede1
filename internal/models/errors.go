package models

import "errors"

// Validation errors shared across models.
var (
	// ErrNameRequired is returned when a required name field is empty.
	ErrNameRequired = errors.New("name is required")
	// ErrNameTooLong is returned when a stream name exceeds the 63 byte limit.
	ErrNameTooLong = errors.New("name exceeds 63 bytes")
	// ErrURLRequired is returned when a required URL field is empty.
	ErrURLRequired = errors.New("url is required")
	// ErrInvalidURL is returned when a URL cannot be parsed.
	ErrInvalidURL = errors.New("invalid url")
	// ErrInvalidThreshold is returned when a detection threshold is outside [0,1].
	ErrInvalidThreshold = errors.New("detection threshold must be between 0.0 and 1.0")
	// ErrInvalidPriority is returned when a stream priority is outside 0-10.
	ErrInvalidPriority = errors.New("priority must be between 0 and 10")
	// ErrInvalidTransport is returned for an unknown transport preference.
	ErrInvalidTransport = errors.New("transport must be tcp or udp")
	// ErrInvalidBoundingBox is returned when detection box coordinates are
	// outside the normalized [0,1] range.
	ErrInvalidBoundingBox = errors.New("bounding box coordinates must be normalized to [0,1]")
	// ErrInvalidConfidence is returned when a detection confidence is outside [0,1].
	ErrInvalidConfidence = errors.New("confidence must be between 0.0 and 1.0")
	// ErrFilePathRequired is returned when a recording has no file path.
	ErrFilePathRequired = errors.New("file path is required")
	// ErrStreamNameRequired is returned when a row has no stream name.
	ErrStreamNameRequired = errors.New("stream name is required")
)

package models

import (
	"net/url"
	"strings"

	"gorm.io/gorm"
)

// Transport is the RTSP transport preference for a stream.
type Transport string

const (
	// TransportTCP prefers RTSP interleaved over TCP. This is the default;
	// it survives NAT and lossy networks better than UDP.
	TransportTCP Transport = "tcp"
	// TransportUDP prefers RTP over UDP.
	TransportUDP Transport = "udp"
)

// MaxStreamNameBytes is the upper bound on a stream name. Names become
// directory components on disk, so they are kept short and filesystem-safe.
const MaxStreamNameBytes = 63

// Stream represents a configured ingest source (one camera).
type Stream struct {
	BaseModel

	// Name is the unique human-readable identity of the stream. It is also
	// used as the on-disk directory name for recordings and HLS output.
	Name string `gorm:"uniqueIndex;not null;size:63" json:"name"`

	// URL is the RTSP (or MPEG-TS over HTTP/TCP) source address. May embed
	// credentials; those are redacted before logging.
	URL string `gorm:"not null;size:2048" json:"url"`

	// Enabled controls whether an ingest thread is spawned for this stream.
	// Soft deletion flips this to false without removing the row.
	Enabled *bool `gorm:"default:true" json:"enabled"`

	// StreamingEnabled controls live HLS output alongside capture.
	StreamingEnabled *bool `gorm:"default:true" json:"streaming_enabled"`

	Width  int     `gorm:"default:1920" json:"width"`
	Height int     `gorm:"default:1080" json:"height"`
	FPS    float64 `gorm:"default:30" json:"fps"`
	Codec  string  `gorm:"size:32;default:'h264'" json:"codec"`

	// Priority orders streams for admission when slots are scarce (0-10,
	// higher wins).
	Priority int `gorm:"default:5" json:"priority"`

	// Record enables the continuous (non-detection) recording path.
	Record *bool `gorm:"default:true" json:"record"`

	// SegmentDuration bounds continuous recording segments, in seconds.
	SegmentDuration int `gorm:"default:900" json:"segment_duration"`

	// Protocol is the transport preference handed to the source opener.
	Protocol Transport `gorm:"size:8;default:'tcp'" json:"protocol"`

	// Username and Password are optional source credentials, used when the
	// URL does not already embed them.
	Username string `gorm:"size:255" json:"username,omitempty"`
	Password string `gorm:"size:255" json:"password,omitempty"`

	// Detection policy.
	DetectionBasedRecording *bool   `gorm:"default:false" json:"detection_based_recording"`
	DetectionModel          string  `gorm:"size:512" json:"detection_model,omitempty"`
	DetectionThreshold      float64 `gorm:"default:0.5" json:"detection_threshold"`
	// DetectionInterval inspects one in every N video keyframes.
	DetectionInterval int `gorm:"default:5" json:"detection_interval"`
	// PreDetectionBuffer is the pre-roll, in seconds of buffered video kept
	// ahead of a detection.
	PreDetectionBuffer int `gorm:"default:10" json:"pre_detection_buffer"`
	// PostDetectionBuffer is the post-roll, in seconds written after the
	// last positive detection.
	PostDetectionBuffer int `gorm:"default:5" json:"post_detection_buffer"`
	// DetectionAPIURL is the endpoint the "api-detection" model sentinel
	// resolves to.
	DetectionAPIURL string `gorm:"size:2048" json:"detection_api_url,omitempty"`

	// Retention policy.
	RetentionDays          int `gorm:"default:30" json:"retention_days"`
	DetectionRetentionDays int `gorm:"default:30" json:"detection_retention_days"`
	// MaxStorageMB caps this stream's total recording size (0 = unlimited).
	MaxStorageMB int `gorm:"default:0" json:"max_storage_mb"`

	// Audio.
	RecordAudio *bool `gorm:"default:true" json:"record_audio"`

	// ONVIF / PTZ metadata. Opaque to the capture pipeline; stored for the
	// front-end.
	IsONVIF            *bool  `gorm:"default:false" json:"is_onvif"`
	ONVIFProfile       string `gorm:"size:255" json:"onvif_profile,omitempty"`
	ONVIFUsername      string `gorm:"size:255" json:"onvif_username,omitempty"`
	ONVIFPassword      string `gorm:"size:255" json:"onvif_password,omitempty"`
	PTZEnabled         *bool  `gorm:"default:false" json:"ptz_enabled"`
	PTZPresets         string `gorm:"size:4096" json:"ptz_presets,omitempty"`
	BackchannelEnabled *bool  `gorm:"default:false" json:"backchannel_enabled"`
}

// TableName returns the table name for Stream.
func (Stream) TableName() string {
	return "streams"
}

// IsEnabled reports whether the stream should have a live ingest thread.
func (s *Stream) IsEnabled() bool {
	return BoolVal(s.Enabled)
}

// IsStreamingEnabled reports whether live HLS output is on.
func (s *Stream) IsStreamingEnabled() bool {
	return BoolVal(s.StreamingEnabled)
}

// IsRecordEnabled reports whether continuous recording is on.
func (s *Stream) IsRecordEnabled() bool {
	return BoolVal(s.Record)
}

// IsDetectionEnabled reports whether detection-based recording is on.
func (s *Stream) IsDetectionEnabled() bool {
	return BoolValDefault(s.DetectionBasedRecording, false)
}

// SourceURL returns the URL with configured credentials merged into the
// userinfo section when the URL itself carries none.
func (s *Stream) SourceURL() string {
	if s.Username == "" {
		return s.URL
	}
	u, err := url.Parse(s.URL)
	if err != nil || u.User != nil {
		return s.URL
	}
	if s.Password != "" {
		u.User = url.UserPassword(s.Username, s.Password)
	} else {
		u.User = url.User(s.Username)
	}
	return u.String()
}

// Sanitize trims whitespace from user-provided fields.
func (s *Stream) Sanitize() {
	s.Name = strings.TrimSpace(s.Name)
	s.URL = strings.TrimSpace(s.URL)
	s.Username = strings.TrimSpace(s.Username)
	s.Password = strings.TrimSpace(s.Password)
	s.DetectionModel = strings.TrimSpace(s.DetectionModel)
	s.DetectionAPIURL = strings.TrimSpace(s.DetectionAPIURL)
}

// Validate performs basic validation on the stream configuration.
func (s *Stream) Validate() error {
	s.Sanitize()

	if s.Name == "" {
		return ErrNameRequired
	}
	if len(s.Name) > MaxStreamNameBytes {
		return ErrNameTooLong
	}
	if s.URL == "" {
		return ErrURLRequired
	}
	if _, err := url.Parse(s.URL); err != nil {
		return ErrInvalidURL
	}
	if s.Priority < 0 || s.Priority > 10 {
		return ErrInvalidPriority
	}
	if s.DetectionThreshold < 0 || s.DetectionThreshold > 1 {
		return ErrInvalidThreshold
	}
	if s.Protocol != "" && s.Protocol != TransportTCP && s.Protocol != TransportUDP {
		return ErrInvalidTransport
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the stream.
func (s *Stream) BeforeCreate(tx *gorm.DB) error {
	return s.Validate()
}

// BeforeUpdate is a GORM hook that validates the stream before update.
func (s *Stream) BeforeUpdate(tx *gorm.DB) error {
	return s.Validate()
}

// StreamTombstone records a permanently deleted stream name so the
// recording sync scanner does not resurrect it from orphaned files.
type StreamTombstone struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	Name      string `gorm:"uniqueIndex;not null;size:63" json:"name"`
	DeletedAt Time   `json:"deleted_at"`
}

// TableName returns the table name for StreamTombstone.
func (StreamTombstone) TableName() string {
	return "stream_tombstones"
}

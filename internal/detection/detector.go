// Package detection provides the object detection capability used by the
// ingest pipeline: an embedded native-model variant and a remote
// snapshot-based HTTP variant.
package detection

import (
	"context"
	"strings"

	"github.com/opensensor/lightnvr/internal/media"
)

// APIDetectionSentinel is the model-path value that resolves to the
// configured remote detection endpoint. Factory.ForStream resolves it once,
// when it builds the stream's detector; a detector already built keeps the
// endpoint it was given and does not see later configuration changes.
const APIDetectionSentinel = "api-detection"

// Box is one detected object. Coordinates are normalized to [0,1]
// relative to the frame.
type Box struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}

// Frame is a decoded RGB image handed to an embedded model.
type Frame struct {
	RGB    []byte // packed RGB24, Width*Height*3 bytes
	Width  int
	Height int
}

// Detector inspects keyframes for objects of interest. Implementations
// return an empty slice rather than an error when the underlying source
// is temporarily unavailable; hard protocol errors propagate.
type Detector interface {
	// Detect runs inference for the given video keyframe. Remote
	// implementations may ignore the packet and fetch their own snapshot.
	Detect(ctx context.Context, keyframe *media.Packet) ([]Box, error)
	Close() error
}

// IsRemoteModel reports whether a model reference names the remote HTTP
// detection path: the sentinel, or a literal http(s) URL.
func IsRemoteModel(modelRef string) bool {
	if modelRef == APIDetectionSentinel {
		return true
	}
	return strings.HasPrefix(modelRef, "http://") || strings.HasPrefix(modelRef, "https://")
}

package detection

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/opensensor/lightnvr/internal/media"
)

// Model is a loaded native detection model. The neural network internals
// live behind this interface; implementations register a Backend per
// model file extension.
type Model interface {
	// Predict runs inference on an RGB frame and returns raw candidates.
	Predict(frame *Frame) ([]Box, error)
	// InputSize returns the frame dimensions the model expects.
	InputSize() (width, height int)
	Close() error
}

// Backend loads models of one file format.
type Backend interface {
	LoadModel(path string) (Model, error)
}

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Backend)
)

// RegisterBackend registers a model backend for a file extension
// (".tflite", ".rknn", ...). Later registrations for the same extension
// win, mirroring database/sql driver registration.
func RegisterBackend(ext string, b Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[strings.ToLower(ext)] = b
}

// backendFor returns the backend registered for a model path.
func backendFor(path string) (Backend, error) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	ext := strings.ToLower(filepath.Ext(path))
	b, ok := backends[ext]
	if !ok {
		return nil, fmt.Errorf("no detection backend registered for %q models", ext)
	}
	return b, nil
}

// FrameDecoder turns a compressed video keyframe into an RGB frame of the
// requested size. Factory.ForStream always supplies a SnapshotFrameDecoder;
// decode failures read as "no detection" upstream.
type FrameDecoder interface {
	DecodeKeyframe(data []byte, width, height int) (*Frame, error)
	Close() error
}

// EmbeddedDetector owns a native model loaded from a file path. The model
// handle is single-threaded; Detect serializes callers. Thresholding
// happens internally.
type EmbeddedDetector struct {
	mu        sync.Mutex
	model     Model
	decoder   FrameDecoder
	threshold float64
	logger    *slog.Logger
	closed    bool
}

// NewEmbeddedDetector loads the model at path through its registered
// backend.
func NewEmbeddedDetector(path string, decoder FrameDecoder, threshold float64, logger *slog.Logger) (*EmbeddedDetector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	backend, err := backendFor(path)
	if err != nil {
		return nil, err
	}
	model, err := backend.LoadModel(path)
	if err != nil {
		return nil, fmt.Errorf("loading model %s: %w", filepath.Base(path), err)
	}
	return &EmbeddedDetector{
		model:     model,
		decoder:   decoder,
		threshold: threshold,
		logger:    logger,
	}, nil
}

// Detect decodes the keyframe and runs the model on it. Boxes below the
// threshold are filtered out.
func (d *EmbeddedDetector) Detect(ctx context.Context, keyframe *media.Packet) ([]Box, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("detector closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, h := d.model.InputSize()
	frame, err := d.decoder.DecodeKeyframe(keyframe.Data, w, h)
	if err != nil {
		// A frame the decoder cannot handle reads as no detection.
		d.logger.Debug("keyframe decode failed", slog.String("error", err.Error()))
		return nil, nil
	}

	boxes, err := d.model.Predict(frame)
	if err != nil {
		return nil, fmt.Errorf("running model: %w", err)
	}
	return filterThreshold(boxes, d.threshold), nil
}

// Close releases the model and decoder. The handle is owned exclusively
// by one ingest goroutine and dropped once.
func (d *EmbeddedDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.decoder != nil {
		d.decoder.Close()
	}
	return d.model.Close()
}

// filterThreshold drops boxes below the confidence threshold and clamps
// coordinates into [0,1].
func filterThreshold(boxes []Box, threshold float64) []Box {
	out := boxes[:0]
	for _, b := range boxes {
		if b.Confidence < threshold {
			continue
		}
		b.X = clamp01(b.X)
		b.Y = clamp01(b.Y)
		b.Width = clamp01(b.Width)
		b.Height = clamp01(b.Height)
		out = append(out, b)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Ensure EmbeddedDetector implements Detector at compile time.
var _ Detector = (*EmbeddedDetector)(nil)

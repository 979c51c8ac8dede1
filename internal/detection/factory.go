package detection

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/opensensor/lightnvr/internal/config"
	"github.com/opensensor/lightnvr/internal/httpclient"
	"github.com/opensensor/lightnvr/internal/models"
)

// Factory builds per-stream detectors, resolving the "api-detection"
// sentinel against configuration at construction time.
type Factory struct {
	cfg       config.DetectionConfig
	modelsDir string
	client    *httpclient.Client
	logger    *slog.Logger
}

// NewFactory creates a detector factory.
func NewFactory(cfg config.DetectionConfig, modelsDir string, client *httpclient.Client, logger *slog.Logger) *Factory {
	if client == nil {
		client = httpclient.NewWithDefaults()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{cfg: cfg, modelsDir: modelsDir, client: client, logger: logger}
}

// ForStream builds the detector a stream's policy asks for.
func (f *Factory) ForStream(stream *models.Stream) (Detector, error) {
	modelRef := stream.DetectionModel
	if modelRef == "" {
		return nil, fmt.Errorf("stream %s has no detection model configured", stream.Name)
	}

	logger := f.logger.With(slog.String("stream", stream.Name))

	if IsRemoteModel(modelRef) {
		endpoint := modelRef
		if modelRef == APIDetectionSentinel {
			endpoint = stream.DetectionAPIURL
			if endpoint == "" {
				endpoint = f.cfg.APIURL
			}
			if endpoint == "" {
				return nil, fmt.Errorf("stream %s uses %s but no detection endpoint is configured", stream.Name, APIDetectionSentinel)
			}
		}
		return NewRemoteDetector(RemoteConfig{
			EndpointURL: endpoint,
			SnapshotURL: f.snapshotURL(stream.Name),
			Threshold:   stream.DetectionThreshold,
			Logger:      logger,
			Client:      f.client,
		})
	}

	modelPath := modelRef
	if !filepath.IsAbs(modelPath) {
		modelPath = filepath.Join(f.modelsDir, modelPath)
	}
	decoder := NewSnapshotFrameDecoder(f.client, f.snapshotURL(stream.Name), logger)
	return NewEmbeddedDetector(modelPath, decoder, stream.DetectionThreshold, logger)
}

// snapshotURL expands the configured snapshot template for a stream.
func (f *Factory) snapshotURL(streamName string) string {
	if f.cfg.SnapshotURL == "" {
		return ""
	}
	if strings.Contains(f.cfg.SnapshotURL, "%s") {
		return fmt.Sprintf(f.cfg.SnapshotURL, streamName)
	}
	return f.cfg.SnapshotURL
}

// SnapshotFrameDecoder satisfies FrameDecoder by fetching a current still
// from the companion snapshot service instead of decoding the compressed
// keyframe locally. It is the only FrameDecoder ForStream wires.
type SnapshotFrameDecoder struct {
	client *httpclient.Client
	url    string
	logger *slog.Logger
}

// NewSnapshotFrameDecoder creates a snapshot-backed frame decoder.
func NewSnapshotFrameDecoder(client *httpclient.Client, url string, logger *slog.Logger) *SnapshotFrameDecoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotFrameDecoder{client: client, url: url, logger: logger}
}

// DecodeKeyframe fetches and scales the latest still. The keyframe bytes
// only time the call; the still is the inference input.
func (d *SnapshotFrameDecoder) DecodeKeyframe(_ []byte, width, height int) (*Frame, error) {
	if d.url == "" {
		return nil, fmt.Errorf("no snapshot service configured")
	}
	resp, err := d.client.Get(context.Background(), d.url)
	if err != nil {
		return nil, fmt.Errorf("fetching snapshot: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("snapshot service returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	return DecodeToFrame(data, width, height)
}

// Close releases nothing; the HTTP client is shared.
func (d *SnapshotFrameDecoder) Close() error {
	return nil
}

// Ensure SnapshotFrameDecoder implements FrameDecoder at compile time.
var _ FrameDecoder = (*SnapshotFrameDecoder)(nil)

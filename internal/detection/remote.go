package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/opensensor/lightnvr/internal/httpclient"
	"github.com/opensensor/lightnvr/internal/media"
)

// RemoteConfig configures a snapshot-based remote detector.
type RemoteConfig struct {
	// EndpointURL is the detection service. The caller resolves the
	// "api-detection" sentinel before constructing the detector; literal
	// http(s) model references are passed through unchanged.
	EndpointURL string
	// SnapshotURL serves a current JPEG still of the stream.
	SnapshotURL string
	Threshold   float64
	Logger      *slog.Logger
	// Client is the shared HTTP client; nil creates a default one.
	Client *httpclient.Client
}

// RemoteDetector fetches a JPEG snapshot of the stream from a companion
// service and POSTs it to a detection endpoint. The keyframe packet is
// ignored; the snapshot is the inference input.
type RemoteDetector struct {
	cfg    RemoteConfig
	client *httpclient.Client
	logger *slog.Logger
}

// NewRemoteDetector creates a snapshot-based detector.
func NewRemoteDetector(cfg RemoteConfig) (*RemoteDetector, error) {
	if cfg.EndpointURL == "" {
		return nil, fmt.Errorf("remote detector needs an endpoint URL")
	}
	if cfg.SnapshotURL == "" {
		return nil, fmt.Errorf("remote detector needs a snapshot URL")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		client = httpclient.NewWithDefaults()
	}
	return &RemoteDetector{cfg: cfg, client: client, logger: cfg.Logger}, nil
}

// detectionResponse is the wire format of the detection endpoint.
type detectionResponse struct {
	Detections []struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
		X          float64 `json:"x"`
		Y          float64 `json:"y"`
		Width      float64 `json:"width"`
		Height     float64 `json:"height"`
	} `json:"detections"`
}

// Detect fetches a snapshot and posts it for inference. An unreachable
// snapshot or detection service yields an empty result, not an error;
// malformed responses propagate.
func (d *RemoteDetector) Detect(ctx context.Context, _ *media.Packet) ([]Box, error) {
	snapshot, ok, err := d.fetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	resp, err := d.client.Post(ctx, d.cfg.EndpointURL, "image/jpeg", bytes.NewReader(snapshot))
	if err != nil {
		if isTransient(err) {
			d.logger.Debug("detection service unreachable",
				slog.String("error", err.Error()))
			return nil, nil
		}
		return nil, fmt.Errorf("posting snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detection endpoint returned status %d: %s", resp.StatusCode, body)
	}

	var parsed detectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding detection response: %w", err)
	}

	boxes := make([]Box, 0, len(parsed.Detections))
	for _, det := range parsed.Detections {
		boxes = append(boxes, Box{
			Label:      det.Label,
			Confidence: det.Confidence,
			X:          det.X,
			Y:          det.Y,
			Width:      det.Width,
			Height:     det.Height,
		})
	}
	return filterThreshold(boxes, d.cfg.Threshold), nil
}

// fetchSnapshot retrieves a JPEG still. ok is false when the service is
// temporarily unavailable.
func (d *RemoteDetector) fetchSnapshot(ctx context.Context) (data []byte, ok bool, err error) {
	resp, err := d.client.Get(ctx, d.cfg.SnapshotURL)
	if err != nil {
		if isTransient(err) {
			d.logger.Debug("snapshot service unreachable",
				slog.String("error", err.Error()))
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("fetching snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// A snapshot service that exists but has no frame yet is a
		// temporary condition.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return nil, false, nil
	}

	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("reading snapshot: %w", err)
	}
	if err := ValidateJPEG(data); err != nil {
		return nil, false, fmt.Errorf("snapshot is not a usable image: %w", err)
	}
	return data, true, nil
}

// Close releases nothing; the HTTP client is shared.
func (d *RemoteDetector) Close() error {
	return nil
}

// isTransient reports whether an error indicates a temporarily
// unavailable peer rather than a protocol fault.
func isTransient(err error) bool {
	if errors.Is(err, httpclient.ErrCircuitOpen) || errors.Is(err, httpclient.ErrMaxRetries) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Ensure RemoteDetector implements Detector at compile time.
var _ Detector = (*RemoteDetector)(nil)

package ingest

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/opensensor/lightnvr/internal/config"
	"github.com/opensensor/lightnvr/internal/media"
	"github.com/opensensor/lightnvr/internal/models"
	"github.com/opensensor/lightnvr/internal/recorder"
	"github.com/opensensor/lightnvr/internal/repository"
)

// continuousFilePrefix names continuous recording files.
const continuousFilePrefix = "recording_"

// ContinuousRecorder is the always-on recording path, independent of
// detection. Writers live in the shared registry so externally driven
// capture can replace them; rotation happens on the first keyframe past
// the segment duration.
type ContinuousRecorder struct {
	registry   *WriterRegistry
	recordings repository.RecordingRepository
	storage    config.StorageConfig
	stream     *models.Stream
	logger     *slog.Logger

	segment   time.Duration
	currentID uint
	codec     string
}

// NewContinuousRecorder creates the continuous path for one stream.
func NewContinuousRecorder(
	registry *WriterRegistry,
	recordings repository.RecordingRepository,
	storage config.StorageConfig,
	stream *models.Stream,
	logger *slog.Logger,
) *ContinuousRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	segment := time.Duration(stream.SegmentDuration) * time.Second
	if segment <= 0 {
		segment = 15 * time.Minute
	}
	return &ContinuousRecorder{
		registry:   registry,
		recordings: recordings,
		storage:    storage,
		stream:     stream,
		logger:     logger,
		segment:    segment,
	}
}

// HandlePacket writes one packet into the current segment, opening or
// rotating on keyframes as needed.
func (c *ContinuousRecorder) HandlePacket(pkt *media.Packet, codec string) {
	c.codec = codec
	writer := c.registry.Get(c.stream.Name)

	if pkt.Kind == media.KindVideo && pkt.Keyframe {
		if writer == nil {
			c.openSegment(pkt)
			return
		}
		if time.Since(writer.CreatedAt()) >= c.segment {
			c.finishRow(writer)
			c.openSegment(pkt)
			return
		}
	}

	if writer == nil {
		return
	}
	if err := writer.WritePacket(pkt); err != nil {
		c.logger.Warn("continuous write failed, dropping segment",
			slog.String("error", err.Error()))
		c.finishRow(writer)
		c.registry.Unregister(c.stream.Name)
	}
}

// openSegment starts a new segment on a keyframe. Registration closes any
// previous writer; its catalog row was already finished.
func (c *ContinuousRecorder) openSegment(keyframe *media.Packet) {
	now := keyframe.Receipt
	path := filepath.Join(
		c.storage.MP4Path(c.stream.Name),
		continuousFilePrefix+now.UTC().Format(recordingTimeFormat)+".mp4",
	)

	writer, err := recorder.Create(path, c.stream.Name, c.logger)
	if err != nil {
		c.logger.Error("creating continuous writer failed", slog.String("error", err.Error()))
		return
	}
	writer.ConfigureAudio(models.BoolVal(c.stream.RecordAudio))
	if err := writer.Initialize(keyframe, c.codec); err != nil {
		c.logger.Warn("initializing continuous writer failed", slog.String("error", err.Error()))
		writer.Abort()
		return
	}
	if err := writer.WritePacket(keyframe); err != nil {
		c.logger.Warn("writing first continuous packet failed", slog.String("error", err.Error()))
		writer.Abort()
		return
	}

	c.registry.Register(c.stream.Name, writer)

	c.currentID = 0
	if c.recordings != nil {
		ctx, cancel := context.WithTimeout(context.Background(), catalogOpTimeout)
		defer cancel()
		id, err := c.recordings.Add(ctx, &models.Recording{
			StreamName:  c.stream.Name,
			FilePath:    path,
			StartTime:   now,
			Width:       c.stream.Width,
			Height:      c.stream.Height,
			FPS:         c.stream.FPS,
			Codec:       c.codec,
			TriggerType: models.TriggerContinuous,
		})
		if err != nil {
			c.logger.Warn("inserting continuous row failed", slog.String("error", err.Error()))
		} else {
			c.currentID = id
		}
	}
}

// finishRow finalizes the current segment's catalog row. The writer
// itself is closed by the registry on replacement or unregistration.
func (c *ContinuousRecorder) finishRow(writer *recorder.Writer) {
	if c.recordings == nil || c.currentID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), catalogOpTimeout)
	defer cancel()
	if err := c.recordings.Finish(ctx, c.currentID, time.Now(), writer.SizeBytes(), true); err != nil {
		c.logger.Warn("finalizing continuous row failed", slog.String("error", err.Error()))
	}
	c.currentID = 0
}

// Close finalizes and unregisters the current segment.
func (c *ContinuousRecorder) Close() {
	if writer := c.registry.Get(c.stream.Name); writer != nil {
		c.finishRow(writer)
	}
	c.registry.Unregister(c.stream.Name)
}

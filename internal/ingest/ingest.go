package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensensor/lightnvr/internal/config"
	"github.com/opensensor/lightnvr/internal/detection"
	"github.com/opensensor/lightnvr/internal/media"
	"github.com/opensensor/lightnvr/internal/models"
	"github.com/opensensor/lightnvr/internal/recorder"
	"github.com/opensensor/lightnvr/internal/repository"
)

// detectionFilePrefix names detection-triggered recording files.
const detectionFilePrefix = "detection_"

// recordingTimeFormat is the timestamp embedded in recording file names.
const recordingTimeFormat = "20060102_150405"

// catalogOpTimeout bounds one catalog write issued from the hot path.
const catalogOpTimeout = 5 * time.Second

// SourceDialer opens a packet source. Production uses media.Dial; tests
// substitute fakes.
type SourceDialer func(ctx context.Context, cfg media.SourceConfig) (media.Source, error)

// ThreadConfig wires one ingest thread.
type ThreadConfig struct {
	// Stream is a read-only configuration snapshot borrowed from the
	// registry.
	Stream  *models.Stream
	Ingest  config.IngestConfig
	Storage config.StorageConfig
	// Grace is the window after the last positive detection during which
	// a negative keyframe does not end the recording.
	Grace time.Duration

	Detector   detection.Detector
	Recordings repository.RecordingRepository
	Detections repository.DetectionRepository
	Events     repository.EventRepository

	// PacketSink, when set, receives every video packet for live output
	// (HLS). Sink failures never interrupt capture.
	PacketSink func(*media.Packet)

	// Writers, when set together with the stream's record flag, enables
	// the continuous recording path through the shared writer registry.
	Writers *WriterRegistry

	Dial   SourceDialer
	Logger *slog.Logger
}

// Thread is one per-stream ingest worker. External accessors synchronize
// through atomic state plus the detection mutex; everything else is owned
// by the goroutine.
type Thread struct {
	cfg  ThreadConfig
	name string

	running atomic.Bool
	state   atomic.Int32
	cancel  context.CancelFunc
	done    chan struct{}

	// detectMu serializes detection work against supervisor operations.
	detectMu sync.Mutex

	buffer     *media.PacketBuffer
	continuous *ContinuousRecorder

	writer         *recorder.Writer
	recordingID    uint
	recordingStart time.Time
	maxRecording   time.Duration

	keyframeCount     int
	lastDetectionTime time.Time
	postBufferEnd     time.Time

	packetsReceived    atomic.Uint64
	bytesReceived      atomic.Uint64
	keyframesSeen      atomic.Uint64
	detectionsRun      atomic.Uint64
	detectionsPositive atomic.Uint64
	recordingsStarted  atomic.Uint64
	reconnects         atomic.Uint64
	connectFailures    atomic.Uint64
}

// NewThread creates an ingest thread for a stream. Call Start to run it.
func NewThread(cfg ThreadConfig) *Thread {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Dial == nil {
		cfg.Dial = func(ctx context.Context, sc media.SourceConfig) (media.Source, error) {
			return media.Dial(ctx, sc)
		}
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 2 * time.Second
	}
	t := &Thread{
		cfg:  cfg,
		name: cfg.Stream.Name,
		done: make(chan struct{}),
	}
	t.state.Store(int32(StateInitializing))
	t.maxRecording = time.Duration(cfg.Stream.PreDetectionBuffer+cfg.Stream.PostDetectionBuffer) * time.Second
	return t
}

// Start launches the worker goroutine.
func (t *Thread) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.running.Store(true)
	go t.run(runCtx)
}

// Stop signals cooperative shutdown: the running flag drops, the state
// moves to STOPPING, and the cancellation hook unwinds any blocking call.
func (t *Thread) Stop() {
	t.running.Store(false)
	t.setState(StateStopping)
	if t.cancel != nil {
		t.cancel()
	}
}

// Done is closed once the thread reaches STOPPED.
func (t *Thread) Done() <-chan struct{} {
	return t.done
}

// State returns the current lifecycle state.
func (t *Thread) State() State {
	return State(t.state.Load())
}

// Name returns the stream name.
func (t *Thread) Name() string {
	return t.name
}

// Stats returns a snapshot of the thread counters.
func (t *Thread) Stats() Counters {
	return Counters{
		PacketsReceived:    t.packetsReceived.Load(),
		BytesReceived:      t.bytesReceived.Load(),
		KeyframesSeen:      t.keyframesSeen.Load(),
		DetectionsRun:      t.detectionsRun.Load(),
		DetectionsPositive: t.detectionsPositive.Load(),
		RecordingsStarted:  t.recordingsStarted.Load(),
		Reconnects:         t.reconnects.Load(),
		ConnectFailures:    t.connectFailures.Load(),
	}
}

func (t *Thread) setState(s State) {
	t.state.Store(int32(s))
}

// run is the thread main loop.
func (t *Thread) run(ctx context.Context) {
	logger := t.cfg.Logger

	defer func() {
		t.closeRecording(true)
		t.releaseDetector()
		t.setState(StateStopped)
		close(t.done)
		logger.Info("ingest thread stopped")
	}()

	t.buffer = media.NewPacketBuffer(
		time.Duration(t.cfg.Stream.PreDetectionBuffer)*time.Second,
		t.cfg.Ingest.BufferMemoryLimit.Bytes(),
	)
	if t.cfg.Writers != nil && t.cfg.Stream.IsRecordEnabled() {
		t.continuous = NewContinuousRecorder(t.cfg.Writers, t.cfg.Recordings, t.cfg.Storage, t.cfg.Stream, t.cfg.Logger)
		defer t.continuous.Close()
	}
	t.appendEvent(models.EventStreamStarted, "ingest thread started")

	consecutiveFailures := 0

	for t.running.Load() {
		t.setState(StateConnecting)

		src, err := t.cfg.Dial(ctx, media.SourceConfig{
			URL:            t.cfg.Stream.SourceURL(),
			ConnectTimeout: t.cfg.Ingest.ConnectTimeout,
			ReadTimeout:    t.cfg.Ingest.ReadTimeout,
			Logger:         logger,
		})
		if err != nil {
			if !t.running.Load() {
				return
			}
			consecutiveFailures++
			t.connectFailures.Add(1)
			delay := backoff(t.cfg.Ingest.BackoffBase, t.cfg.Ingest.BackoffCap, consecutiveFailures)
			logger.Warn("source connect failed",
				slog.Int("consecutive_failures", consecutiveFailures),
				slog.Duration("retry_in", delay),
				slog.String("error", err.Error()),
			)
			if !t.sleep(ctx, delay) {
				return
			}
			continue
		}

		consecutiveFailures = 0
		t.setState(StateBuffering)
		logger.Info("source connected", slog.String("codec", src.VideoCodec()))

		t.readLoop(ctx, src)
		src.Close()

		if !t.running.Load() {
			return
		}

		// Source lost: terminate any open recording cleanly and drop the
		// now-stale buffer before reconnecting.
		t.setState(StateReconnecting)
		t.reconnects.Add(1)
		t.closeRecording(true)
		t.buffer.Clear()
		t.appendEvent(models.EventStreamReconnect, "source lost, reconnecting")
	}
}

// readLoop consumes packets until the source fails or the thread stops.
func (t *Thread) readLoop(ctx context.Context, src media.Source) {
	for t.running.Load() {
		pkt, err := src.ReadPacket(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, media.ErrReadTimeout) {
				t.cfg.Logger.Warn("packet read timed out")
			} else {
				t.cfg.Logger.Warn("packet read failed", slog.String("error", err.Error()))
			}
			return
		}
		t.handlePacket(ctx, pkt, src.VideoCodec())
	}
}

// handlePacket advances the state machine for one packet.
func (t *Thread) handlePacket(ctx context.Context, pkt *media.Packet, codec string) {
	t.packetsReceived.Add(1)
	t.bytesReceived.Add(uint64(pkt.Size()))

	if pkt.Kind == media.KindVideo && t.cfg.PacketSink != nil {
		t.cfg.PacketSink(pkt)
	}
	if t.continuous != nil {
		t.continuous.HandlePacket(pkt, codec)
	}

	t.buffer.Push(pkt)

	positive := false
	inspected := false
	if pkt.Kind == media.KindVideo && pkt.Keyframe {
		t.keyframesSeen.Add(1)
		positive, inspected = t.maybeDetect(ctx, pkt)
	}

	now := pkt.Receipt

	switch t.State() {
	case StateBuffering:
		if positive {
			t.startRecording(ctx, now, codec)
		}

	case StateRecording:
		t.writeLive(pkt)
		if t.writer == nil {
			return
		}
		if positive {
			t.lastDetectionTime = now
		}
		if t.capReached(now) {
			t.closeRecording(true)
			t.setState(StateBuffering)
			return
		}
		if inspected && !positive && now.Sub(t.lastDetectionTime) > t.cfg.Grace {
			t.postBufferEnd = now.Add(time.Duration(t.cfg.Stream.PostDetectionBuffer) * time.Second)
			t.setState(StatePostBuffer)
		}

	case StatePostBuffer:
		t.writeLive(pkt)
		if t.writer == nil {
			return
		}
		if positive && now.Before(t.postBufferEnd) {
			t.lastDetectionTime = now
			t.setState(StateRecording)
			return
		}
		if t.capReached(now) || !now.Before(t.postBufferEnd) {
			t.closeRecording(true)
			t.setState(StateBuffering)
		}
	}
}

// maybeDetect runs detection on every N-th keyframe. Returns whether the
// frame was positive and whether detection ran at all.
func (t *Thread) maybeDetect(ctx context.Context, pkt *media.Packet) (positive, inspected bool) {
	if t.cfg.Detector == nil {
		return false, false
	}

	t.keyframeCount++
	interval := t.cfg.Stream.DetectionInterval
	if interval < 1 {
		interval = 1
	}
	if t.keyframeCount < interval {
		return false, false
	}
	t.keyframeCount = 0

	t.detectMu.Lock()
	boxes, err := t.cfg.Detector.Detect(ctx, pkt)
	t.detectMu.Unlock()

	t.detectionsRun.Add(1)
	if err != nil {
		// Detection failure reads as "no detection" and never interrupts
		// ingest.
		t.cfg.Logger.Debug("detection failed", slog.String("error", err.Error()))
		return false, true
	}
	if len(boxes) == 0 {
		return false, true
	}

	t.detectionsPositive.Add(1)
	t.storeDetections(pkt, boxes)
	return true, true
}

// storeDetections writes detection rows for one frame.
func (t *Thread) storeDetections(pkt *media.Packet, boxes []detection.Box) {
	if t.cfg.Detections == nil {
		return
	}
	ts := float64(pkt.Receipt.UnixNano()) / float64(time.Second)
	rows := make([]*models.Detection, 0, len(boxes))
	for _, b := range boxes {
		rows = append(rows, &models.Detection{
			StreamName: t.name,
			Timestamp:  ts,
			Label:      b.Label,
			Confidence: b.Confidence,
			X:          b.X,
			Y:          b.Y,
			Width:      b.Width,
			Height:     b.Height,
		})
	}
	ctx, cancel := context.WithTimeout(context.Background(), catalogOpTimeout)
	defer cancel()
	if err := t.cfg.Detections.InsertBatch(ctx, rows); err != nil {
		t.cfg.Logger.Warn("storing detections failed", slog.String("error", err.Error()))
	}
}

// startRecording opens a writer, drains the pre-roll buffer through it,
// and inserts the open catalog row.
func (t *Thread) startRecording(ctx context.Context, now time.Time, codec string) {
	path := filepath.Join(
		t.cfg.Storage.DetectionPath(t.name),
		detectionFilePrefix+now.UTC().Format(recordingTimeFormat)+".mp4",
	)

	writer, err := recorder.Create(path, t.name, t.cfg.Logger)
	if err != nil {
		t.cfg.Logger.Error("creating recording writer failed", slog.String("error", err.Error()))
		return
	}
	writer.ConfigureAudio(models.BoolVal(t.cfg.Stream.RecordAudio))

	startTime := now
	flushed, err := t.buffer.Flush(func(pkt *media.Packet) error {
		if !writer.Initialized() {
			if pkt.Kind != media.KindVideo || !pkt.Keyframe {
				return nil
			}
			if err := writer.Initialize(pkt, codec); err != nil {
				return err
			}
			if pkt.Receipt.Before(startTime) {
				startTime = pkt.Receipt
			}
		}
		return writer.WritePacket(pkt)
	})
	if err != nil {
		// A writer failure during flush aborts the recording attempt and
		// returns to plain buffering.
		t.cfg.Logger.Warn("pre-roll flush failed, recording aborted",
			slog.String("error", err.Error()))
		writer.Abort()
		t.setState(StateBuffering)
		return
	}

	t.writer = writer
	t.recordingStart = now
	t.lastDetectionTime = now
	t.recordingsStarted.Add(1)
	t.setState(StateRecording)

	t.recordingID = 0
	if t.cfg.Recordings != nil {
		rec := &models.Recording{
			StreamName:  t.name,
			FilePath:    path,
			StartTime:   startTime,
			Width:       t.cfg.Stream.Width,
			Height:      t.cfg.Stream.Height,
			FPS:         t.cfg.Stream.FPS,
			Codec:       codec,
			TriggerType: models.TriggerDetection,
		}
		opCtx, cancel := context.WithTimeout(context.Background(), catalogOpTimeout)
		defer cancel()
		id, err := t.cfg.Recordings.Add(opCtx, rec)
		if err != nil {
			t.cfg.Logger.Warn("inserting recording row failed", slog.String("error", err.Error()))
		} else {
			t.recordingID = id
		}
	}

	t.appendEvent(models.EventRecordingStarted, fmt.Sprintf("recording started (%d pre-roll packets)", flushed))
	t.cfg.Logger.Info("recording started",
		slog.String("path", path),
		slog.Int("preroll_packets", flushed),
	)
}

// writeLive streams one live packet into the open writer. A write failure
// aborts the recording, finalizes the catalog row with what was captured,
// and reverts to buffering.
func (t *Thread) writeLive(pkt *media.Packet) {
	if t.writer == nil {
		return
	}
	if err := t.writer.WritePacket(pkt); err != nil {
		t.cfg.Logger.Warn("recording write failed, closing recording",
			slog.String("error", err.Error()))
		t.closeRecording(true)
		t.setState(StateBuffering)
	}
}

// capReached reports whether the open recording hit the pre+post roll
// duration cap. Measured in packet receipt time so a stalled source does
// not age the recording.
func (t *Thread) capReached(now time.Time) bool {
	if t.writer == nil || t.maxRecording <= 0 {
		return false
	}
	return now.Sub(t.recordingStart) >= t.maxRecording
}

// closeRecording finalizes the open writer and its catalog row. Closing a
// recording also clears the pre-roll buffer: its contents were already
// written, so the next recording starts from live packets.
func (t *Thread) closeRecording(complete bool) {
	if t.writer == nil {
		return
	}
	writer := t.writer
	t.writer = nil

	initialized := writer.Initialized()
	if err := writer.Close(); err != nil {
		t.cfg.Logger.Warn("closing recording writer failed", slog.String("error", err.Error()))
	}
	t.buffer.Clear()

	if t.cfg.Recordings == nil || t.recordingID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), catalogOpTimeout)
	defer cancel()

	if !initialized {
		// No keyframe ever reached the writer; the file was removed, so
		// the open row goes with it.
		if err := t.cfg.Recordings.Delete(ctx, t.recordingID); err != nil {
			t.cfg.Logger.Warn("deleting empty recording row failed", slog.String("error", err.Error()))
		}
		t.recordingID = 0
		return
	}

	size := writer.SizeBytes()
	if err := t.cfg.Recordings.Finish(ctx, t.recordingID, time.Now(), size, complete); err != nil {
		t.cfg.Logger.Warn("finalizing recording row failed", slog.String("error", err.Error()))
	}
	t.appendEvent(models.EventRecordingStopped, fmt.Sprintf("recording closed (%d bytes)", size))
	t.recordingID = 0
}

// releaseDetector closes the detector under the detection lock so a stop
// cannot race an in-flight decode.
func (t *Thread) releaseDetector() {
	if t.cfg.Detector == nil {
		return
	}
	t.detectMu.Lock()
	defer t.detectMu.Unlock()
	if err := t.cfg.Detector.Close(); err != nil {
		t.cfg.Logger.Warn("closing detector failed", slog.String("error", err.Error()))
	}
	t.cfg.Detector = nil
}

// appendEvent writes one event row, best effort.
func (t *Thread) appendEvent(eventType models.EventType, description string) {
	if t.cfg.Events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), catalogOpTimeout)
	defer cancel()
	_ = t.cfg.Events.Append(ctx, &models.Event{
		Type:        eventType,
		Timestamp:   time.Now(),
		StreamName:  t.name,
		Description: description,
	})
}

// sleep waits interruptibly; false means the thread should exit.
func (t *Thread) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return t.running.Load()
	}
}

// backoff returns the exponential reconnect delay for the given failure
// count: base doubling per failure, capped.
func backoff(base, cap time.Duration, failures int) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if cap <= 0 {
		cap = 30 * time.Second
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

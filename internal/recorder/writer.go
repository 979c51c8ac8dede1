// Package recorder writes demuxed packets into seekable fragmented MP4
// files for lightnvr recordings.
package recorder

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/opensensor/lightnvr/internal/media"
)

// ErrNotKeyframe is returned when Initialize is called on a non-keyframe.
var ErrNotKeyframe = fmt.Errorf("recorder: initialize requires a video keyframe")

// ErrNotInitialized is returned when a write arrives after Close. Writes
// that arrive before Initialize are discarded without error.
var ErrNotInitialized = fmt.Errorf("recorder: writer not initialized")

const (
	videoTrackID = 1
	audioTrackID = 2
	// timeScale matches the transport stream's 90 kHz tick units so
	// timestamps pass through without rescaling.
	timeScale = 90000
	// defaultSampleDuration is ~33ms at 90kHz, used until a DTS delta is
	// known.
	defaultSampleDuration = 3000
)

// Writer accepts demuxed packets and produces one seekable MP4 file.
// Timestamps are rewritten so the file starts at zero and audio DTS is
// strictly monotonic.
type Writer struct {
	path       string
	streamName string
	logger     *slog.Logger
	createdAt  time.Time

	file *os.File

	audioEnabled bool
	audioSeen    bool

	videoCodec string
	h264SPS    []byte
	h264PPS    []byte
	h265VPS    []byte
	h265SPS    []byte
	h265PPS    []byte

	initialized bool
	initWritten bool

	videoOriginSet bool
	videoOrigin    int64
	audioOriginSet bool
	audioOrigin    int64
	lastVideoDTS   int64
	lastAudioDTS   int64

	videoSamples  []*fmp4.Sample
	audioSamples  []*fmp4.Sample
	videoBaseTime uint64
	audioBaseTime uint64
	seq           uint32

	closed bool
}

// Create allocates writer state and the backing file. Format headers are
// not committed until Initialize; a writer closed before initialization
// leaves no file behind.
func Create(path, streamName string, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating recording directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating recording file: %w", err)
	}
	return &Writer{
		path:         path,
		streamName:   streamName,
		logger:       logger,
		createdAt:    time.Now(),
		file:         f,
		audioEnabled: true,
	}, nil
}

// ConfigureAudio enables or disables the audio track. Ignored after
// Initialize.
func (w *Writer) ConfigureAudio(enabled bool) {
	if !w.initialized {
		w.audioEnabled = enabled
	}
}

// Initialize commits the container header. It must be called with a video
// keyframe; the keyframe supplies the codec parameter sets.
func (w *Writer) Initialize(first *media.Packet, videoCodec string) error {
	if w.initialized {
		return nil
	}
	if first.Kind != media.KindVideo || !first.Keyframe {
		return ErrNotKeyframe
	}

	w.videoCodec = videoCodec
	if w.videoCodec == "" {
		w.videoCodec = "h264"
	}
	if err := w.extractVideoParams(first.Data); err != nil {
		return fmt.Errorf("extracting codec parameters: %w", err)
	}

	if err := w.writeInit(); err != nil {
		return err
	}
	w.initialized = true
	w.initWritten = true

	w.logger.Debug("recording writer initialized",
		slog.String("stream", w.streamName),
		slog.String("path", w.path),
		slog.String("codec", w.videoCodec),
		slog.Bool("audio", w.audioEnabled),
	)
	return nil
}

// Initialized reports whether the container header has been written.
func (w *Writer) Initialized() bool {
	return w.initialized
}

// WritePacket routes a packet by kind and rewrites its timestamps. The
// first packet of each kind establishes the origin DTS; all subsequent
// timestamps are offset so the stream starts at zero. Packets arriving
// before Initialize are discarded.
func (w *Writer) WritePacket(pkt *media.Packet) error {
	if w.closed {
		return ErrNotInitialized
	}
	if !w.initialized {
		return nil
	}

	switch pkt.Kind {
	case media.KindVideo:
		return w.writeVideo(pkt)
	case media.KindAudio:
		if !w.audioEnabled {
			return nil
		}
		return w.writeAudio(pkt)
	}
	return nil
}

func (w *Writer) writeVideo(pkt *media.Packet) error {
	if !w.videoOriginSet {
		w.videoOriginSet = true
		w.videoOrigin = pkt.DTS
		w.lastVideoDTS = 0
	}
	dts := pkt.DTS - w.videoOrigin
	pts := pkt.PTS - w.videoOrigin
	if pts < dts {
		pts = dts
	}

	// A new keyframe closes the current fragment so every fragment starts
	// at a random access point.
	if pkt.Keyframe && len(w.videoSamples) > 0 {
		if err := w.flushFragment(); err != nil {
			return err
		}
	}

	sample := &fmp4.Sample{
		Duration:        defaultSampleDuration,
		PTSOffset:       int32(pts - dts),
		IsNonSyncSample: !pkt.Keyframe,
	}
	if len(w.videoSamples) > 0 && dts > w.lastVideoDTS {
		w.videoSamples[len(w.videoSamples)-1].Duration = uint32(dts - w.lastVideoDTS)
	}

	au, err := accessUnit(pkt.Data)
	if err != nil {
		return fmt.Errorf("parsing access unit: %w", err)
	}
	switch w.videoCodec {
	case "h265":
		if err := sample.FillH265(sample.PTSOffset, au); err != nil {
			return fmt.Errorf("filling h265 sample: %w", err)
		}
	default:
		if err := sample.FillH264(sample.PTSOffset, au); err != nil {
			return fmt.Errorf("filling h264 sample: %w", err)
		}
	}

	w.videoSamples = append(w.videoSamples, sample)
	w.lastVideoDTS = dts
	return nil
}

func (w *Writer) writeAudio(pkt *media.Packet) error {
	w.audioSeen = true
	if !w.audioOriginSet {
		w.audioOriginSet = true
		w.audioOrigin = pkt.DTS
		w.lastAudioDTS = -1
	}
	dts := pkt.DTS - w.audioOrigin

	// Audio DTS is forced strictly increasing; a stalled or rewound clock
	// is bumped one tick past the previous sample.
	if dts <= w.lastAudioDTS {
		dts = w.lastAudioDTS + 1
	}

	sample := &fmp4.Sample{
		Duration: 1024 * timeScale / 48000, // AAC frame at 48kHz
		Payload:  stripADTS(pkt.Data),
	}
	if w.lastAudioDTS >= 0 && len(w.audioSamples) > 0 && dts > w.lastAudioDTS {
		w.audioSamples[len(w.audioSamples)-1].Duration = uint32(dts - w.lastAudioDTS)
	}

	w.audioSamples = append(w.audioSamples, sample)
	w.lastAudioDTS = dts
	return nil
}

// Close flushes buffered samples, syncs, and releases the file handle.
// Safe to call on a never-initialized writer: the empty file is removed.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if !w.initWritten {
		w.file.Close()
		if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
			w.logger.Warn("removing uninitialized recording file",
				slog.String("path", w.path),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}

	if err := w.flushFragment(); err != nil {
		w.file.Close()
		return err
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("syncing recording file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing recording file: %w", err)
	}
	return nil
}

// Abort closes the handle and removes the partial file. Used when a write
// failure invalidates the recording.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	w.file.Close()
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		w.logger.Warn("removing aborted recording file",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
	}
}

// Path returns the backing file path.
func (w *Writer) Path() string {
	return w.path
}

// StreamName returns the owning stream name.
func (w *Writer) StreamName() string {
	return w.streamName
}

// CreatedAt returns the writer creation time, used for continuous segment
// rotation.
func (w *Writer) CreatedAt() time.Time {
	return w.createdAt
}

// SizeBytes returns the current file size.
func (w *Writer) SizeBytes() int64 {
	info, err := os.Stat(w.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// extractVideoParams pulls SPS/PPS (and VPS for H.265) from the keyframe.
func (w *Writer) extractVideoParams(data []byte) error {
	au, err := accessUnit(data)
	if err != nil {
		return err
	}
	switch w.videoCodec {
	case "h265":
		for _, nalu := range au {
			if len(nalu) == 0 {
				continue
			}
			switch h265.NALUType((nalu[0] >> 1) & 0x3F) {
			case h265.NALUType_VPS_NUT:
				w.h265VPS = append([]byte(nil), nalu...)
			case h265.NALUType_SPS_NUT:
				w.h265SPS = append([]byte(nil), nalu...)
			case h265.NALUType_PPS_NUT:
				w.h265PPS = append([]byte(nil), nalu...)
			}
		}
		if len(w.h265VPS) == 0 || len(w.h265SPS) == 0 || len(w.h265PPS) == 0 {
			return fmt.Errorf("keyframe carries no VPS/SPS/PPS")
		}
	default:
		for _, nalu := range au {
			if len(nalu) == 0 {
				continue
			}
			switch h264.NALUType(nalu[0] & 0x1F) {
			case h264.NALUTypeSPS:
				w.h264SPS = append([]byte(nil), nalu...)
			case h264.NALUTypePPS:
				w.h264PPS = append([]byte(nil), nalu...)
			}
		}
		if len(w.h264SPS) == 0 || len(w.h264PPS) == 0 {
			return fmt.Errorf("keyframe carries no SPS/PPS")
		}
	}
	return nil
}

// writeInit writes the MP4 initialization segment.
func (w *Writer) writeInit() error {
	init := &fmp4.Init{}

	videoCodec, err := w.videoMP4Codec()
	if err != nil {
		return err
	}
	init.Tracks = append(init.Tracks, &fmp4.InitTrack{
		ID:        videoTrackID,
		TimeScale: timeScale,
		Codec:     videoCodec,
	})

	if w.audioEnabled {
		init.Tracks = append(init.Tracks, &fmp4.InitTrack{
			ID:        audioTrackID,
			TimeScale: timeScale,
			Codec: &mp4.CodecMPEG4Audio{
				Config: mpeg4audio.AudioSpecificConfig{
					Type:         mpeg4audio.ObjectTypeAACLC,
					SampleRate:   48000,
					ChannelCount: 2,
				},
			},
		})
	}

	var buf bytes.Buffer
	if err := init.Marshal(&seekableBuffer{Buffer: &buf}); err != nil {
		return fmt.Errorf("marshaling init segment: %w", err)
	}
	if _, err := w.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing init segment: %w", err)
	}
	return nil
}

func (w *Writer) videoMP4Codec() (mp4.Codec, error) {
	switch w.videoCodec {
	case "h265":
		return &mp4.CodecH265{VPS: w.h265VPS, SPS: w.h265SPS, PPS: w.h265PPS}, nil
	case "h264":
		return &mp4.CodecH264{SPS: w.h264SPS, PPS: w.h264PPS}, nil
	default:
		return nil, fmt.Errorf("unsupported video codec %q", w.videoCodec)
	}
}

// flushFragment writes buffered samples as one moof/mdat pair.
func (w *Writer) flushFragment() error {
	if len(w.videoSamples) == 0 && len(w.audioSamples) == 0 {
		return nil
	}

	w.seq++
	part := &fmp4.Part{SequenceNumber: w.seq}

	if len(w.videoSamples) > 0 {
		part.Tracks = append(part.Tracks, &fmp4.PartTrack{
			ID:       videoTrackID,
			BaseTime: w.videoBaseTime,
			Samples:  w.videoSamples,
		})
		for _, s := range w.videoSamples {
			w.videoBaseTime += uint64(s.Duration)
		}
		w.videoSamples = nil
	}
	if len(w.audioSamples) > 0 {
		part.Tracks = append(part.Tracks, &fmp4.PartTrack{
			ID:       audioTrackID,
			BaseTime: w.audioBaseTime,
			Samples:  w.audioSamples,
		})
		for _, s := range w.audioSamples {
			w.audioBaseTime += uint64(s.Duration)
		}
		w.audioSamples = nil
	}

	var buf bytes.Buffer
	if err := part.Marshal(&seekableBuffer{Buffer: &buf}); err != nil {
		return fmt.Errorf("marshaling fragment: %w", err)
	}
	if _, err := w.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing fragment: %w", err)
	}
	return nil
}

// stripADTS removes an ADTS header when present; MP4 carries raw AAC.
func stripADTS(data []byte) []byte {
	if len(data) >= 7 && data[0] == 0xFF && (data[1]&0xF0) == 0xF0 {
		headerLen := 7
		if data[1]&0x01 == 0 { // CRC present
			headerLen = 9
		}
		if len(data) > headerLen {
			return data[headerLen:]
		}
	}
	return data
}

// accessUnit splits an Annex-B payload into NAL units.
func accessUnit(data []byte) ([][]byte, error) {
	var au h264.AnnexB
	if err := au.Unmarshal(data); err != nil {
		return nil, err
	}
	return au, nil
}

// seekableBuffer wraps bytes.Buffer to satisfy io.WriteSeeker for the
// fmp4 marshaller.
type seekableBuffer struct {
	*bytes.Buffer
	pos int64
}

func (s *seekableBuffer) Write(p []byte) (n int, err error) {
	if int(s.pos) > s.Buffer.Len() {
		s.Buffer.Write(make([]byte, int(s.pos)-s.Buffer.Len()))
	}
	if int(s.pos) == s.Buffer.Len() {
		n, err = s.Buffer.Write(p)
	} else {
		b := s.Buffer.Bytes()
		n = copy(b[s.pos:], p)
		if n < len(p) {
			var m int
			m, err = s.Buffer.Write(p[n:])
			n += m
		}
	}
	s.pos += int64(n)
	return n, err
}

func (s *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = s.pos + offset
	case io.SeekEnd:
		newPos = int64(s.Buffer.Len()) + offset
	default:
		return 0, fmt.Errorf("invalid whence")
	}
	if newPos < 0 {
		return 0, fmt.Errorf("negative position")
	}
	s.pos = newPos
	return newPos, nil
}

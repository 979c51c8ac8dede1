package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
)

// ErrReadTimeout is returned by ReadPacket when no packet arrives within
// the configured read timeout. The ingest state machine treats it as a
// source loss and reconnects.
var ErrReadTimeout = errors.New("media: packet read timed out")

// ErrSourceClosed is returned after Close.
var ErrSourceClosed = errors.New("media: source closed")

// SourceConfig configures a packet source.
type SourceConfig struct {
	// URL of the source: rtsp://, tcp:// (raw MPEG-TS over TCP), or
	// http(s):// (MPEG-TS over HTTP).
	URL string
	// ConnectTimeout bounds the blocking dial.
	ConnectTimeout time.Duration
	// ReadTimeout bounds one packet read.
	ReadTimeout time.Duration
	Logger      *slog.Logger
}

// Source produces demuxed packets from a network stream. ReadPacket
// honors context cancellation inside the blocking read, so a stop signal
// unwinds promptly.
type Source interface {
	ReadPacket(ctx context.Context) (*Packet, error)
	// VideoCodec returns the detected video codec name once the program
	// map has been seen ("h264", "h265", or "" before that).
	VideoCodec() string
	Close() error
}

// TSSource demuxes an MPEG-TS byte stream into packets using go-astits.
// The transport-level session setup (RTSP negotiation) is treated as an
// opaque concern of the byte stream: the demuxer consumes whatever TS
// payload the connection yields.
type TSSource struct {
	cfg    SourceConfig
	conn   io.ReadCloser
	dl     *deadlineReader
	dmx    *astits.Demuxer
	cancel context.CancelFunc

	videoPID   uint16
	audioPID   uint16
	videoCodec string

	closed bool
}

// Dial opens the source with the configured connect timeout. The context
// cancels both the dial and all subsequent demuxer reads.
func Dial(ctx context.Context, cfg SourceConfig) (*TSSource, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing source url: %w", err)
	}

	var conn io.ReadCloser
	var dl *deadlineReader

	switch u.Scheme {
	case "rtsp", "rtsps", "tcp":
		host := u.Host
		if u.Port() == "" {
			if u.Scheme == "tcp" {
				return nil, fmt.Errorf("tcp source %q needs an explicit port", cfg.URL)
			}
			host = net.JoinHostPort(u.Hostname(), "554")
		}
		dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
		c, err := dialer.DialContext(ctx, "tcp", host)
		if err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", host, err)
		}
		dl = &deadlineReader{conn: c, timeout: cfg.ReadTimeout}
		conn = c
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("building source request: %w", err)
		}
		client := &http.Client{Timeout: 0} // streaming body; dial bounded below
		client.Transport = &http.Transport{
			DialContext: (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("requesting source: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("source returned status %d", resp.StatusCode)
		}
		conn = resp.Body
	default:
		return nil, fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}

	dmxCtx, cancel := context.WithCancel(ctx)
	if dl != nil {
		// Closing the connection unblocks a read in progress, so
		// cancellation reaches a source that is waiting for data.
		context.AfterFunc(dmxCtx, func() { dl.conn.Close() })
	}

	var r io.Reader = conn
	if dl != nil {
		r = dl
	}

	s := &TSSource{
		cfg:    cfg,
		conn:   conn,
		dl:     dl,
		cancel: cancel,
		dmx:    astits.NewDemuxer(dmxCtx, bufio.NewReaderSize(r, 64*1024)),
	}
	return s, nil
}

// ReadPacket returns the next demuxed packet. It blocks until a packet is
// available, the read times out, the source ends, or ctx is cancelled.
func (s *TSSource) ReadPacket(ctx context.Context) (*Packet, error) {
	if s.closed {
		return nil, ErrSourceClosed
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := s.dmx.NextData()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, ErrReadTimeout
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("demuxing: %w", err)
		}

		if data.PMT != nil {
			s.handlePMT(data.PMT)
			continue
		}
		if data.PES == nil {
			continue
		}

		pkt := s.packetFromPES(data)
		if pkt == nil {
			continue
		}
		return pkt, nil
	}
}

// handlePMT records the elementary stream layout.
func (s *TSSource) handlePMT(pmt *astits.PMTData) {
	for _, es := range pmt.ElementaryStreams {
		switch es.StreamType {
		case astits.StreamTypeH264Video:
			s.videoPID = es.ElementaryPID
			s.videoCodec = "h264"
		case astits.StreamTypeH265Video:
			s.videoPID = es.ElementaryPID
			s.videoCodec = "h265"
		case astits.StreamTypeAACAudio, astits.StreamTypeMPEG1Audio, astits.StreamTypeAC3Audio:
			s.audioPID = es.ElementaryPID
		}
	}
	s.cfg.Logger.Debug("program map received",
		slog.String("video_codec", s.videoCodec),
		slog.Int("video_pid", int(s.videoPID)),
		slog.Int("audio_pid", int(s.audioPID)),
	)
}

// packetFromPES converts one PES payload into a Packet, or nil for PIDs
// outside the selected program.
func (s *TSSource) packetFromPES(data *astits.DemuxerData) *Packet {
	pes := data.PES
	if len(pes.Data) == 0 || pes.Header == nil || pes.Header.OptionalHeader == nil {
		return nil
	}

	var pts, dts int64
	if p := pes.Header.OptionalHeader.PTS; p != nil {
		pts = p.Base
	}
	dts = pts
	if d := pes.Header.OptionalHeader.DTS; d != nil {
		dts = d.Base
	}

	switch data.PID {
	case s.videoPID:
		payload := make([]byte, len(pes.Data))
		copy(payload, pes.Data)
		return &Packet{
			Kind:     KindVideo,
			Keyframe: s.isKeyframe(payload),
			Data:     payload,
			PTS:      pts,
			DTS:      dts,
			Receipt:  time.Now(),
		}
	case s.audioPID:
		payload := make([]byte, len(pes.Data))
		copy(payload, pes.Data)
		return &Packet{
			Kind:    KindAudio,
			Data:    payload,
			PTS:     pts,
			DTS:     dts,
			Receipt: time.Now(),
		}
	}
	return nil
}

// isKeyframe inspects the Annex-B access unit for a random access point.
func (s *TSSource) isKeyframe(data []byte) bool {
	switch s.videoCodec {
	case "h265":
		var au h264.AnnexB
		if err := au.Unmarshal(data); err != nil {
			return false
		}
		return h265.IsRandomAccess(au)
	default:
		var au h264.AnnexB
		if err := au.Unmarshal(data); err != nil {
			return false
		}
		return h264.IsRandomAccess(au)
	}
}

// VideoCodec returns the detected video codec name.
func (s *TSSource) VideoCodec() string {
	return s.videoCodec
}

// Close tears down the connection. Safe to call more than once.
func (s *TSSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return s.conn.Close()
}

// deadlineReader arms a read deadline before every Read so a silent
// source surfaces as a timeout instead of blocking forever.
type deadlineReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r *deadlineReader) Read(p []byte) (int, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
		return 0, err
	}
	return r.conn.Read(p)
}

// Ensure TSSource implements Source at compile time.
var _ Source = (*TSSource)(nil)

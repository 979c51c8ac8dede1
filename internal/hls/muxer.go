// Package hls serves live HLS for streams with streaming enabled. The
// capture pipeline tees video packets in; playlist and segment output is
// delegated to gohlslib.
package hls

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bluenviron/gohlslib/v2"
	"github.com/bluenviron/gohlslib/v2/pkg/codecs"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/opensensor/lightnvr/internal/config"
	"github.com/opensensor/lightnvr/internal/media"
)

// streamMuxer is one live stream's HLS state.
type streamMuxer struct {
	muxer *gohlslib.Muxer
	track *gohlslib.Track
}

// Server holds per-stream HLS muxers and serves their output over HTTP.
// Sink failures are logged and never interrupt capture.
type Server struct {
	cfg    config.HLSConfig
	logger *slog.Logger

	mu      sync.Mutex
	streams map[string]*streamMuxer
}

// NewServer creates the HLS server.
func NewServer(cfg config.HLSConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		streams: make(map[string]*streamMuxer),
	}
}

// Sink returns the packet sink for a stream, creating its muxer lazily on
// the first keyframe.
func (s *Server) Sink(streamName string) func(*media.Packet) {
	return func(pkt *media.Packet) {
		if pkt.Kind != media.KindVideo {
			return
		}
		if err := s.write(streamName, pkt); err != nil {
			s.logger.Debug("hls write failed",
				slog.String("stream", streamName),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *Server) write(streamName string, pkt *media.Packet) error {
	s.mu.Lock()
	sm, ok := s.streams[streamName]
	if !ok {
		if !pkt.Keyframe {
			s.mu.Unlock()
			return nil
		}
		var err error
		sm, err = s.newStreamMuxer()
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.streams[streamName] = sm
	}
	s.mu.Unlock()

	var au h264.AnnexB
	if err := au.Unmarshal(pkt.Data); err != nil {
		return fmt.Errorf("parsing access unit: %w", err)
	}
	return sm.muxer.WriteH264(sm.track, time.Now(), pkt.PTS, au)
}

func (s *Server) newStreamMuxer() (*streamMuxer, error) {
	track := &gohlslib.Track{Codec: &codecs.H264{}}
	m := &gohlslib.Muxer{
		Variant:            gohlslib.MuxerVariantMPEGTS,
		SegmentCount:       s.cfg.SegmentCount,
		SegmentMinDuration: s.cfg.SegmentDuration,
		Tracks:             []*gohlslib.Track{track},
	}
	if err := m.Start(); err != nil {
		return nil, fmt.Errorf("starting hls muxer: %w", err)
	}
	return &streamMuxer{muxer: m, track: track}, nil
}

// Handle serves a stream's playlist and segments.
func (s *Server) Handle(streamName string, w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sm, ok := s.streams[streamName]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	sm.muxer.Handle(w, r)
}

// CloseStream tears down one stream's muxer. Stopping an ingest thread
// does not call it; CloseAll tears every muxer down at shutdown.
func (s *Server) CloseStream(streamName string) {
	s.mu.Lock()
	sm, ok := s.streams[streamName]
	delete(s.streams, streamName)
	s.mu.Unlock()

	if ok {
		sm.muxer.Close()
	}
}

// CloseAll tears down every muxer.
func (s *Server) CloseAll() {
	s.mu.Lock()
	streams := s.streams
	s.streams = make(map[string]*streamMuxer)
	s.mu.Unlock()

	for _, sm := range streams {
		sm.muxer.Close()
	}
}

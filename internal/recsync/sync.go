package recsync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opensensor/lightnvr/internal/config"
	"github.com/opensensor/lightnvr/internal/models"
	"github.com/opensensor/lightnvr/internal/repository"
)

// filenameTimeFormat matches recording_YYYYMMDD_HHMMSS / detection_... names.
const filenameTimeFormat = "20060102_150405"

// Result summarizes one sync pass.
type Result struct {
	FilesScanned    int `json:"files_scanned"`
	RowsInserted    int `json:"rows_inserted"`
	RowsCompleted   int `json:"rows_completed"`
	StreamsCreated  int `json:"streams_created"`
	TombstoneSkips  int `json:"tombstone_skips"`
	UnreadableFiles int `json:"unreadable_files"`
}

// Syncer reconciles recording files on disk with the catalog.
type Syncer struct {
	storage    config.StorageConfig
	streams    repository.StreamRepository
	recordings repository.RecordingRepository
	events     repository.EventRepository
	logger     *slog.Logger
}

// NewSyncer creates a sync scanner.
func NewSyncer(
	storage config.StorageConfig,
	streams repository.StreamRepository,
	recordings repository.RecordingRepository,
	events repository.EventRepository,
	logger *slog.Logger,
) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		storage:    storage,
		streams:    streams,
		recordings: recordings,
		events:     events,
		logger:     logger,
	}
}

// Sync rescans the recording trees and repopulates the catalog.
//
// For each MP4 found: a row already complete is left alone; an open row
// (a crash left end_time null) is completed using the file's actual
// duration; a missing row is inserted. Files under a stream name the
// catalog does not know produce a *disabled* stream row — unless the name
// was permanently deleted, in which case its tombstone suppresses
// re-creation.
func (s *Syncer) Sync(ctx context.Context) (*Result, error) {
	result := &Result{}

	// Continuous recordings: mp4/<stream>/recording_*.mp4
	mp4Root := filepath.Join(s.storage.BaseDir, s.storage.MP4Dir)
	if err := s.scanTree(ctx, mp4Root, models.TriggerContinuous, result); err != nil {
		return result, err
	}

	// Detection recordings: <stream>/detection_*.mp4
	if err := s.scanDetectionTree(ctx, result); err != nil {
		return result, err
	}

	// Any remaining open rows whose files vanished entirely are left for
	// the operator; retention never touches them.
	_ = s.events.Append(ctx, &models.Event{
		Type:      models.EventSyncCompleted,
		Timestamp: time.Now(),
		Description: fmt.Sprintf(
			"sync scanned %d files: %d inserted, %d completed, %d streams created",
			result.FilesScanned, result.RowsInserted, result.RowsCompleted, result.StreamsCreated,
		),
	})

	return result, nil
}

// scanTree walks root/<stream>/*.mp4.
func (s *Syncer) scanTree(ctx context.Context, root string, trigger models.TriggerType, result *Result) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", root, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		streamName := entry.Name()
		streamDir := filepath.Join(root, streamName)
		files, err := os.ReadDir(streamDir)
		if err != nil {
			s.logger.Warn("reading stream directory failed",
				slog.String("dir", streamDir),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".mp4") {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			s.syncFile(ctx, streamName, filepath.Join(streamDir, file.Name()), trigger, result)
		}
	}
	return nil
}

// scanDetectionTree walks <base>/<stream>/detection_*.mp4, skipping the
// reserved subdirectories of the storage root.
func (s *Syncer) scanDetectionTree(ctx context.Context, result *Result) error {
	reserved := map[string]bool{
		s.storage.MP4Dir:      true,
		s.storage.HLSDir:      true,
		s.storage.DatabaseDir: true,
		s.storage.ModelsDir:   true,
		"backups":             true,
	}

	entries, err := os.ReadDir(s.storage.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading storage root: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || reserved[entry.Name()] {
			continue
		}
		streamName := entry.Name()
		streamDir := filepath.Join(s.storage.BaseDir, streamName)
		files, err := os.ReadDir(streamDir)
		if err != nil {
			continue
		}
		for _, file := range files {
			if file.IsDir() || !strings.HasPrefix(file.Name(), "detection_") || !strings.HasSuffix(file.Name(), ".mp4") {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			s.syncFile(ctx, streamName, filepath.Join(streamDir, file.Name()), models.TriggerDetection, result)
		}
	}
	return nil
}

// syncFile reconciles one file with the catalog.
func (s *Syncer) syncFile(ctx context.Context, streamName, path string, trigger models.TriggerType, result *Result) {
	result.FilesScanned++

	row, err := s.recordings.GetByPath(ctx, path)
	if err != nil {
		s.logger.Warn("looking up recording row failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		result.UnreadableFiles++
		return
	}

	if row != nil {
		if row.Complete() {
			return
		}
		// Crash recovery: the row was left open; the file's trailer knows
		// the real duration.
		duration, err := ProbeDuration(path)
		if err != nil {
			result.UnreadableFiles++
			s.logger.Warn("probing recording duration failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return
		}
		end := row.StartTime.Add(duration)
		if err := s.recordings.Finish(ctx, row.ID, end, info.Size(), true); err != nil {
			s.logger.Warn("completing open recording failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return
		}
		result.RowsCompleted++
		return
	}

	if !s.ensureStream(ctx, streamName, result) {
		return
	}

	start := parseFileTime(path)
	duration, err := ProbeDuration(path)
	if err != nil {
		result.UnreadableFiles++
		s.logger.Warn("probing recording duration failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	end := start.Add(duration)

	rec := &models.Recording{
		StreamName:  streamName,
		FilePath:    path,
		StartTime:   start,
		TriggerType: trigger,
	}
	id, err := s.recordings.Add(ctx, rec)
	if err != nil {
		s.logger.Warn("inserting recording row failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.recordings.Finish(ctx, id, end, info.Size(), true); err != nil {
		s.logger.Warn("completing inserted recording failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	result.RowsInserted++
}

// ensureStream guarantees a stream row exists for adopted files. Unknown
// names get a disabled row; tombstoned names are skipped entirely.
func (s *Syncer) ensureStream(ctx context.Context, name string, result *Result) bool {
	stream, err := s.streams.GetByName(ctx, name)
	if err != nil {
		s.logger.Warn("looking up stream failed",
			slog.String("stream", name),
			slog.String("error", err.Error()),
		)
		return false
	}
	if stream != nil {
		return true
	}

	tombstoned, err := s.streams.IsTombstoned(ctx, name)
	if err != nil {
		s.logger.Warn("checking tombstone failed",
			slog.String("stream", name),
			slog.String("error", err.Error()),
		)
		return false
	}
	if tombstoned {
		result.TombstoneSkips++
		return false
	}

	placeholder := &models.Stream{
		Name:    name,
		URL:     "unknown://recovered",
		Enabled: models.BoolPtr(false),
	}
	if err := s.streams.Create(ctx, placeholder); err != nil {
		s.logger.Warn("creating placeholder stream failed",
			slog.String("stream", name),
			slog.String("error", err.Error()),
		)
		return false
	}
	result.StreamsCreated++
	s.logger.Info("created disabled stream for recovered recordings",
		slog.String("stream", name))
	return true
}

// parseFileTime recovers the start time embedded in the file name,
// falling back to the file's modification time.
func parseFileTime(path string) time.Time {
	base := strings.TrimSuffix(filepath.Base(path), ".mp4")
	if idx := strings.Index(base, "_"); idx >= 0 {
		stamp := base[idx+1:]
		if t, err := time.ParseInLocation(filenameTimeFormat, stamp, time.UTC); err == nil {
			return t
		}
	}
	if info, err := os.Stat(path); err == nil {
		return info.ModTime()
	}
	return time.Now()
}

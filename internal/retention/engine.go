// Package retention evicts expired recordings by age and size policy.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opensensor/lightnvr/internal/config"
	"github.com/opensensor/lightnvr/internal/database"
	"github.com/opensensor/lightnvr/internal/models"
	"github.com/opensensor/lightnvr/internal/repository"
)

// Engine periodically scans the catalog and deletes expired recordings
// plus their backing files. The age cutoff deletes a stream's expired rows
// in one transaction; size-budget eviction deletes one row at a time, with
// no transaction around the batch. Recordings still open (end_time null)
// are never considered.
type Engine struct {
	cfg        config.RetentionConfig
	db         *database.DB
	streams    repository.StreamRepository
	recordings repository.RecordingRepository
	detections repository.DetectionRepository
	events     repository.EventRepository
	logger     *slog.Logger

	cron *cron.Cron
}

// NewEngine creates a retention engine.
func NewEngine(
	cfg config.RetentionConfig,
	db *database.DB,
	streams repository.StreamRepository,
	recordings repository.RecordingRepository,
	detections repository.DetectionRepository,
	events repository.EventRepository,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:        cfg,
		db:         db,
		streams:    streams,
		recordings: recordings,
		detections: detections,
		events:     events,
		logger:     logger,
	}
}

// Start schedules recurring sweeps and the opportunistic vacuum. The
// engine runs until Stop.
func (e *Engine) Start(ctx context.Context) error {
	if !models.BoolVal(e.cfg.Enabled) {
		e.logger.Info("retention engine disabled")
		return nil
	}

	e.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)))

	interval := e.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if _, err := e.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if err := e.Sweep(ctx); err != nil {
			e.logger.Error("retention sweep failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("scheduling retention sweep: %w", err)
	}

	if e.cfg.VacuumCron != "" {
		if _, err := e.cron.AddFunc(e.cfg.VacuumCron, func() {
			if err := e.db.Vacuum(ctx); err != nil {
				e.logger.Warn("vacuum failed", slog.String("error", err.Error()))
			}
		}); err != nil {
			return fmt.Errorf("scheduling vacuum: %w", err)
		}
	}

	e.cron.Start()
	e.logger.Info("retention engine started", slog.Duration("interval", interval))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (e *Engine) Stop() {
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
}

// Sweep runs one full retention pass over every stream.
func (e *Engine) Sweep(ctx context.Context) error {
	streams, err := e.streams.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("loading streams: %w", err)
	}

	var deleted int
	for _, stream := range streams {
		n, err := e.sweepStream(ctx, stream)
		if err != nil {
			e.logger.Warn("retention sweep failed for stream",
				slog.String("stream", stream.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		deleted += n
	}

	if deleted > 0 {
		_ = e.events.Append(ctx, &models.Event{
			Type:        models.EventRetentionSweep,
			Timestamp:   time.Now(),
			Description: fmt.Sprintf("retention removed %d recordings", deleted),
		})
	}
	return nil
}

// sweepStream applies one stream's age and size policies.
func (e *Engine) sweepStream(ctx context.Context, stream *models.Stream) (int, error) {
	deleted := 0

	if stream.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -stream.RetentionDays)
		victims, err := e.recordings.DeleteOlderThan(ctx, stream.Name, cutoff)
		if err != nil {
			return deleted, fmt.Errorf("deleting expired rows: %w", err)
		}
		e.removeFiles(victims)
		deleted += len(victims)
	}

	if stream.DetectionRetentionDays > 0 {
		cutoff := float64(time.Now().AddDate(0, 0, -stream.DetectionRetentionDays).Unix())
		if _, err := e.detections.DeleteOlderThan(ctx, stream.Name, cutoff); err != nil {
			e.logger.Warn("deleting expired detections failed",
				slog.String("stream", stream.Name),
				slog.String("error", err.Error()),
			)
		}
	}

	if stream.MaxStorageMB > 0 {
		n, err := e.enforceSizeBudget(ctx, stream)
		if err != nil {
			return deleted, err
		}
		deleted += n
	}

	return deleted, nil
}

// enforceSizeBudget deletes oldest complete recordings until the stream
// fits its byte budget.
func (e *Engine) enforceSizeBudget(ctx context.Context, stream *models.Stream) (int, error) {
	budget := int64(stream.MaxStorageMB) * 1024 * 1024
	deleted := 0

	for {
		total, err := e.recordings.SizeForStream(ctx, stream.Name)
		if err != nil {
			return deleted, fmt.Errorf("summing stream size: %w", err)
		}
		if total <= budget {
			return deleted, nil
		}

		victims, err := e.recordings.OldestComplete(ctx, stream.Name, 10)
		if err != nil {
			return deleted, fmt.Errorf("selecting oldest recordings: %w", err)
		}
		if len(victims) == 0 {
			return deleted, nil
		}

		for _, v := range victims {
			if total <= budget {
				return deleted, nil
			}
			if err := e.recordings.Delete(ctx, v.ID); err != nil {
				return deleted, fmt.Errorf("deleting recording %d: %w", v.ID, err)
			}
			e.removeFiles([]*models.Recording{v})
			total -= v.SizeBytes
			deleted++
		}
	}
}

// removeFiles unlinks backing files, logging but not failing on missing
// ones.
func (e *Engine) removeFiles(victims []*models.Recording) {
	for _, v := range victims {
		if err := os.Remove(v.FilePath); err != nil {
			if os.IsNotExist(err) {
				e.logger.Debug("recording file already absent",
					slog.String("path", v.FilePath))
				continue
			}
			e.logger.Warn("removing recording file failed",
				slog.String("path", v.FilePath),
				slog.String("error", err.Error()),
			)
		}
	}
}

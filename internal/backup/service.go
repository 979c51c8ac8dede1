// Package backup snapshots the catalog file on a schedule and restores
// archives. Archives are xz-compressed; restore also accepts gzip and
// legacy bzip2 archives.
package backup

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
	"github.com/ulikunitz/xz"

	"github.com/opensensor/lightnvr/internal/config"
)

// archivePrefix names backup archives: catalog_<ulid>.db.xz.
const archivePrefix = "catalog_"

// Service creates and restores catalog backups.
type Service struct {
	cfg    config.BackupConfig
	dbPath string
	dir    string
	logger *slog.Logger
	cron   *cron.Cron
}

// NewService creates a backup service for the catalog file at dbPath.
func NewService(cfg config.BackupConfig, storageBaseDir, dbPath string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		dbPath: dbPath,
		dir:    cfg.BackupPath(storageBaseDir),
		logger: logger,
	}
}

// Start schedules recurring backups per the configured cron expression.
func (s *Service) Start() error {
	if !s.cfg.Enabled || s.cfg.Cron == "" {
		s.logger.Info("scheduled backups disabled")
		return nil
	}

	s.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)))
	if _, err := s.cron.AddFunc(s.cfg.Cron, func() {
		if _, err := s.Backup(context.Background()); err != nil {
			s.logger.Error("scheduled backup failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("scheduling backups: %w", err)
	}
	s.cron.Start()
	s.logger.Info("scheduled backups started", slog.String("cron", s.cfg.Cron))
	return nil
}

// Stop halts the schedule.
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Backup snapshots the catalog into a new xz archive and prunes old
// archives past the retention count. Returns the archive path.
func (s *Service) Backup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}

	src, err := os.Open(s.dbPath)
	if err != nil {
		return "", fmt.Errorf("opening catalog: %w", err)
	}
	defer src.Close()

	name := archivePrefix + ulid.Make().String() + ".db.xz"
	path := filepath.Join(s.dir, name)

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating archive: %w", err)
	}

	xzw, err := xz.NewWriter(dst)
	if err != nil {
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("creating xz writer: %w", err)
	}

	if _, err := io.Copy(xzw, src); err != nil {
		xzw.Close()
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing archive: %w", err)
	}
	if err := xzw.Close(); err != nil {
		dst.Close()
		os.Remove(path)
		return "", fmt.Errorf("finishing archive: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("closing archive: %w", err)
	}

	s.logger.Info("catalog backup written", slog.String("path", path))
	s.prune()
	return path, nil
}

// Restore decompresses an archive over the catalog file. The caller must
// hold the process exclusively: the catalog must not be open while its
// file is replaced.
func (s *Service) Restore(archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	var r io.Reader
	switch {
	case strings.HasSuffix(archivePath, ".xz"):
		r, err = xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("reading xz archive: %w", err)
		}
	case strings.HasSuffix(archivePath, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("reading gzip archive: %w", err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(archivePath, ".bz2"):
		bz, err := bzip2.NewReader(f, nil)
		if err != nil {
			return fmt.Errorf("reading bzip2 archive: %w", err)
		}
		defer bz.Close()
		r = bz
	default:
		return fmt.Errorf("unsupported archive format: %s", filepath.Ext(archivePath))
	}

	tmp := s.dbPath + ".restore"
	dst, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating restore file: %w", err)
	}
	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		os.Remove(tmp)
		return fmt.Errorf("decompressing archive: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing restore file: %w", err)
	}

	if err := os.Rename(tmp, s.dbPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing catalog: %w", err)
	}
	s.logger.Info("catalog restored", slog.String("archive", archivePath))
	return nil
}

// List returns the available archives, newest first.
func (s *Service) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}
	var archives []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), archivePrefix) {
			archives = append(archives, filepath.Join(s.dir, entry.Name()))
		}
	}
	// ULID names sort lexicographically by creation time.
	sort.Sort(sort.Reverse(sort.StringSlice(archives)))
	return archives, nil
}

// prune removes archives past the retention count.
func (s *Service) prune() {
	if s.cfg.Retention <= 0 {
		return
	}
	archives, err := s.List()
	if err != nil {
		s.logger.Warn("listing backups for pruning failed", slog.String("error", err.Error()))
		return
	}
	for _, old := range archives[minInt(len(archives), s.cfg.Retention):] {
		if err := os.Remove(old); err != nil {
			s.logger.Warn("pruning backup failed",
				slog.String("path", old),
				slog.String("error", err.Error()),
			)
		}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

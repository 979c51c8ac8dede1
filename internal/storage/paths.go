// Package storage manages the on-disk layout under the storage root.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/opensensor/lightnvr/internal/config"
)

// dirMode is the mode for directories created on demand.
const dirMode = 0o755

// EnsureLayout creates the storage root and its standard subdirectories.
func EnsureLayout(cfg config.StorageConfig) error {
	dirs := []string{
		cfg.BaseDir,
		filepath.Join(cfg.BaseDir, cfg.DatabaseDir),
		filepath.Join(cfg.BaseDir, cfg.MP4Dir),
		filepath.Join(cfg.BaseDir, cfg.HLSDir),
		filepath.Join(cfg.BaseDir, cfg.ModelsDir),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// EnsureStreamDirs creates the per-stream recording directories.
func EnsureStreamDirs(cfg config.StorageConfig, streamName string) error {
	dirs := []string{
		cfg.MP4Path(streamName),
		cfg.DetectionPath(streamName),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

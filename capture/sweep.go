package capture

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SweepResult reports one cleanup pass over the clip directory.
type SweepResult struct {
	Removed    int
	BytesFreed int64
	Errors     int
}

// Sweep deletes clips older than maxAge left behind by runs that never discarded
// them (crash, kill). Only *.mp4 files directly inside OutDir are considered.
func (s *Station) Sweep(maxAge time.Duration) (SweepResult, error) {
	var res SweepResult
	entries, err := os.ReadDir(s.OutDir)
	if err != nil {
		return res, fmt.Errorf("read clip dir: %w", err)
	}
	logger := slog.Default().With(slog.String("component", "capture"), slog.String("dir", s.OutDir))
	cutoff := s.clock().Add(-maxAge)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".mp4") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			res.Errors++
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.OutDir, e.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove stale clip", slog.String("path", path), slog.Any("err", err))
			res.Errors++
			continue
		}
		res.Removed++
		res.BytesFreed += info.Size()
	}
	if res.Removed > 0 || res.Errors > 0 {
		logger.Info("stale clips swept", slog.Int("removed", res.Removed), slog.Int64("bytes_freed", res.BytesFreed), slog.Int("errors", res.Errors))
	}
	return res, nil
}

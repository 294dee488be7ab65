// Package identify drives the capture → fingerprint → setlist pipeline.
//
// Matcher wraps the fingerprint service and exposes a busy flag. Orchestrator runs
// the bounded retry loop, including the throttling fallback that rotates the tunnel,
// and turns results into chat replies and setlist mutations. At most one run is in
// flight per Orchestrator; concurrent triggers are counted instead of queued.
package identify

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/onnwee/trackid/acrcloud"
	"github.com/onnwee/trackid/capture"
	"github.com/onnwee/trackid/telemetry"
)

// Recognizer is the fingerprint capability.
type Recognizer interface {
	IdentifyFile(ctx context.Context, path string) (*acrcloud.SongMatch, error)
}

// Matcher serialises recognition requests behind a busy flag.
type Matcher struct {
	rec  Recognizer
	busy atomic.Bool
}

// NewMatcher wraps rec.
func NewMatcher(rec Recognizer) *Matcher { return &Matcher{rec: rec} }

// Busy reports whether a recognition request is in flight.
func (m *Matcher) Busy() bool { return m.busy.Load() }

// Identify returns the top match for clip, or nil on any failure. No-match and
// transport errors are only told apart in the logs.
func (m *Matcher) Identify(ctx context.Context, clip *capture.Clip) *acrcloud.SongMatch {
	if clip == nil || clip.Path == "" {
		return nil
	}
	m.busy.Store(true)
	defer m.busy.Store(false)

	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "identify"))
	start := time.Now()
	match, err := m.rec.IdentifyFile(ctx, clip.Path)
	if telemetry.MatchDuration != nil {
		telemetry.MatchDuration.Observe(time.Since(start).Seconds())
	}
	switch {
	case errors.Is(err, acrcloud.ErrNoMatch):
		logger.Info("no match for clip", slog.String("path", clip.Path))
		return nil
	case err != nil:
		logger.Warn("recognition failed", slog.Any("err", err))
		return nil
	}
	if match.MultipleResults {
		logger.Debug("recognition returned several candidates, using the first")
	}
	return match
}

// Package capture records short audio clips from a live stream with streamlink.
//
// A Station runs one capture at a time. While the subprocess writes, the output file
// size is polled; growth past a fixed byte threshold before the requested duration
// has elapsed marks the clip as throttled (the network path is serving something
// other than the live audio). The subprocess is always terminated and reaped before
// Capture returns.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/onnwee/trackid/telemetry"
)

// ErrNoAudio is returned when the capture finished without producing a file.
var ErrNoAudio = errors.New("capture produced no audio file")

// DefaultSizeThreshold is the throttling heuristic in bytes.
const DefaultSizeThreshold int64 = 1_000_000

// Clip is the result of one capture attempt.
type Clip struct {
	Path      string
	Size      int64
	Throttled bool
	Elapsed   time.Duration
}

// Process is a running capture subprocess.
type Process interface {
	Kill() error
	// Wait blocks until exit; it is called exactly once per process.
	Wait() error
}

// LaunchFunc starts a capture of source at quality into out.
type LaunchFunc func(ctx context.Context, source, quality, out string) (Process, error)

// Station wraps the capture subprocess with the size watchdog.
type Station struct {
	Channel       string
	OutDir        string
	Quality       string
	SizeThreshold int64
	StartupGrace  time.Duration
	PollInterval  time.Duration
	Launch        LaunchFunc

	now func() time.Time
}

// NewStation returns a Station recording twitch.tv/<channel> into <dataDir>/recorded/<channel>.
func NewStation(channel, dataDir, quality string, launch LaunchFunc) (*Station, error) {
	out := filepath.Join(dataDir, "recorded", channel)
	if err := os.MkdirAll(out, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir capture dir: %w", err)
	}
	if launch == nil {
		launch = StreamlinkLauncher()
	}
	return &Station{
		Channel:       channel,
		OutDir:        out,
		Quality:       quality,
		SizeThreshold: DefaultSizeThreshold,
		StartupGrace:  5 * time.Second,
		PollInterval:  time.Second,
		Launch:        launch,
		now:           time.Now,
	}, nil
}

// SetClock overrides the time source used for file names and elapsed time.
func (s *Station) SetClock(now func() time.Time) { s.now = now }

func (s *Station) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// fileName builds "<channel> - YYYY-MM-DD HHhMMmSSs.mp4" keeping only safe characters.
func (s *Station) fileName() string {
	raw := s.Channel + " - " + s.clock().Format("2006-01-02 15h04m05s") + ".mp4"
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_', r == '.':
			return r
		}
		return -1
	}, raw)
}

// Capture records for duration (plus the startup grace) and returns the clip.
// The returned clip carries the file path even when throttled. A missing output file
// yields ErrNoAudio; a launch failure or an early subprocess failure is returned wrapped.
func (s *Station) Capture(ctx context.Context, duration time.Duration) (*Clip, error) {
	out := filepath.Join(s.OutDir, s.fileName())
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "capture"), slog.String("path", out))
	started := s.clock()

	proc, err := s.Launch(ctx, "twitch.tv/"+s.Channel, s.Quality, out)
	if err != nil {
		return nil, fmt.Errorf("launch capture: %w", err)
	}
	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()

	clip := &Clip{Path: out}
	var exitErr error
	exited := false

	deadline := time.NewTimer(s.StartupGrace + duration)
	defer deadline.Stop()
	poll := time.NewTicker(s.PollInterval)
	defer poll.Stop()

watch:
	for {
		select {
		case <-ctx.Done():
			exitErr = ctx.Err()
			break watch
		case <-deadline.C:
			break watch
		case err := <-done:
			exited = true
			exitErr = err
			break watch
		case <-poll.C:
			if fi, err := os.Stat(out); err == nil {
				clip.Size = fi.Size()
				if clip.Size > s.SizeThreshold {
					clip.Throttled = true
					break watch
				}
			}
		}
	}

	if !exited {
		if err := proc.Kill(); err != nil {
			logger.Debug("kill capture process", slog.Any("err", err))
		}
		<-done
	}
	clip.Elapsed = s.clock().Sub(started)

	if fi, err := os.Stat(out); err == nil {
		clip.Size = fi.Size()
	} else {
		if exitErr == nil {
			return nil, fmt.Errorf("capture %s: %w", s.Channel, ErrNoAudio)
		}
		return nil, fmt.Errorf("capture %s: %w", s.Channel, errors.Join(ErrNoAudio, exitErr))
	}
	if clip.Throttled && telemetry.CaptureThrottled != nil {
		telemetry.CaptureThrottled.Inc()
	}
	if telemetry.CaptureDuration != nil {
		telemetry.CaptureDuration.Observe(clip.Elapsed.Seconds())
	}
	if ctx.Err() != nil {
		return clip, ctx.Err()
	}
	logger.Debug("capture finished", slog.Int64("bytes", clip.Size), slog.Bool("throttled", clip.Throttled), slog.Duration("elapsed", clip.Elapsed))
	return clip, nil
}

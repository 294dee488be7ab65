package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/trackid/setlist"
	"github.com/onnwee/trackid/telemetry"
	"github.com/onnwee/trackid/twitchapi"
)

// StreamLister reports the live streams of a channel.
type StreamLister interface {
	GetStreams(ctx context.Context, login string) ([]twitchapi.Stream, error)
}

// LiveWatcher polls the channel's live status. The first time the channel is
// seen live the setlist session start is recorded. Once the channel has been
// offline for OfflineGrace after being live, OnOffline is called and Run returns.
type LiveWatcher struct {
	Channel      string
	Streams      StreamLister
	Store        *setlist.Store
	Interval     time.Duration
	OfflineGrace time.Duration
	OnOffline    func()

	now       func() time.Time
	seenLive  bool
	lastLive  time.Time
	lastState *bool
}

func (w *LiveWatcher) clock() time.Time {
	if w.now == nil {
		return time.Now()
	}
	return w.now()
}

// Run polls until ctx is cancelled or the offline grace expires.
func (w *LiveWatcher) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("live watcher started", slog.String("component", "live"), slog.Duration("interval", interval))
	for {
		if w.poll(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// poll performs one status check and reports whether the watcher should stop.
func (w *LiveWatcher) poll(ctx context.Context) bool {
	log := slog.Default().With(slog.String("component", "live"), slog.String("channel", w.Channel))
	streams, err := w.Streams.GetStreams(ctx, w.Channel)
	if err != nil {
		if ctx.Err() == nil {
			log.Debug("streams request failed", slog.Any("err", err))
		}
		return false
	}
	now := w.clock()
	live := len(streams) > 0
	telemetry.SetLive(live)
	if w.lastState == nil || *w.lastState != live {
		log.Info("live status", slog.Bool("live", live))
		w.lastState = &live
	}

	if live {
		w.seenLive = true
		w.lastLive = now
		if _, started := w.Store.Started(); !started {
			at := streams[0].StartedAt
			if at.IsZero() {
				at = now
			}
			if err := w.Store.MarkStarted(at); err != nil {
				log.Error("failed to persist session start", slog.Any("err", err))
			}
		}
		return false
	}

	if w.seenLive && w.OfflineGrace > 0 && now.Sub(w.lastLive) >= w.OfflineGrace {
		log.Info("channel offline past grace; stopping", slog.Duration("grace", w.OfflineGrace))
		if w.OnOffline != nil {
			w.OnOffline()
		}
		return true
	}
	return false
}

package identify

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/trackid/capture"
	"github.com/onnwee/trackid/setlist"
	"github.com/onnwee/trackid/telemetry"
)

// Outcome is the terminal state of one Trigger call.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRefresh   Outcome = "refresh"   // matched a song already in the setlist
	OutcomeExhausted Outcome = "exhausted" // attempt budget spent
	OutcomeOffline   Outcome = "offline"
	OutcomeBusy      Outcome = "busy"
	OutcomeCooldown  Outcome = "cooldown"
	OutcomeCancelled Outcome = "cancelled"
)

// busyReplyEvery is how many triggers during a run produce one "still trying" reply.
const busyReplyEvery = 5

// Capturer records one clip.
type Capturer interface {
	Capture(ctx context.Context, duration time.Duration) (*capture.Clip, error)
}

// Rotator switches the outbound network path.
type Rotator interface {
	Connected() bool
	Disconnect() error
	ConnectRandom() (string, error)
}

// LiveChecker reports whether the watched channel is streaming.
type LiveChecker interface {
	IsLive(ctx context.Context) (bool, error)
}

// Sender delivers chat text. Only its errors escape a run.
type Sender interface {
	Send(ctx context.Context, text string, separators ...string) error
}

// Sink receives every newly identified song (MQTT, database mirror, ...).
type Sink interface {
	Publish(ctx context.Context, song setlist.Song) error
}

// Phrases supplies the randomised user-facing failure replies.
type Phrases struct {
	Trouble     func() string
	Unknown     func() string
	StillTrying func() string
}

func (p Phrases) pick(f func() string, fallback string) string {
	if f == nil {
		return fallback
	}
	return f()
}

// Options tunes the retry loop.
type Options struct {
	MaxAttempts     int
	RetryPause      time.Duration
	CaptureDuration time.Duration
	Cooldown        time.Duration
	CooldownGrace   time.Duration
	Rotation        bool
	TeardownWait    time.Duration
	EstablishWait   time.Duration
}

// DefaultOptions mirrors the config defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:     10,
		RetryPause:      5 * time.Second,
		CaptureDuration: 20 * time.Second,
		Cooldown:        30 * time.Second,
		CooldownGrace:   10 * time.Second,
		TeardownWait:    2 * time.Second,
		EstablishWait:   7 * time.Second,
	}
}

// State is the orchestrator's shared status. Identifying enforces single-flight.
type State struct {
	Identifying  bool      `json:"identifying"`
	Silenced     bool      `json:"silenced"`
	TriggerCount int       `json:"trigger_count"`
	LastOutcome  Outcome   `json:"last_outcome,omitempty"`
	LastRunAt    time.Time `json:"last_run_at,omitempty"`
}

// Orchestrator ties capture, recognition and the setlist together.
type Orchestrator struct {
	opts    Options
	station Capturer
	matcher *Matcher
	rotator Rotator
	live    LiveChecker
	store   *setlist.Store
	out     Sender
	sinks   []Sink
	phrases Phrases

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu    sync.Mutex
	state State
}

// Deps groups the collaborators of an Orchestrator. Rotator, Live and Sinks are optional.
type Deps struct {
	Station Capturer
	Matcher *Matcher
	Rotator Rotator
	Live    LiveChecker
	Store   *setlist.Store
	Out     Sender
	Sinks   []Sink
	Phrases Phrases
}

// New builds an Orchestrator. silenced sets the initial quiet mode.
func New(opts Options, deps Deps, silenced bool) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	return &Orchestrator{
		opts:    opts,
		station: deps.Station,
		matcher: deps.Matcher,
		rotator: deps.Rotator,
		live:    deps.Live,
		store:   deps.Store,
		out:     deps.Out,
		sinks:   deps.Sinks,
		phrases: deps.Phrases,
		sleep:   sleepCtx,
		now:     time.Now,
		state:   State{Silenced: silenced},
	}
}

// SetSleep replaces the pause function (tests).
func (o *Orchestrator) SetSleep(f func(ctx context.Context, d time.Duration) error) { o.sleep = f }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SetSilenced toggles quiet mode for failure replies.
func (o *Orchestrator) SetSilenced(v bool) {
	o.mu.Lock()
	o.state.Silenced = v
	o.mu.Unlock()
}

// Silenced reports quiet mode.
func (o *Orchestrator) Silenced() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Silenced
}

// Trigger starts an identification run unless one is in flight or the last song is
// recent enough to repeat. quiet suppresses every reply except a new-song announcement
// (used by the periodic auto trigger). Only chat send errors are returned.
func (o *Orchestrator) Trigger(ctx context.Context, quiet bool) (Outcome, error) {
	o.mu.Lock()
	if o.state.Identifying || (o.matcher != nil && o.matcher.Busy()) {
		o.state.TriggerCount++
		nag := o.state.TriggerCount >= busyReplyEvery
		if nag {
			o.state.TriggerCount = 0
		}
		o.mu.Unlock()
		telemetry.RecordRun(string(OutcomeBusy))
		if nag && !quiet {
			return OutcomeBusy, o.out.Send(ctx, o.phrases.pick(o.phrases.StillTrying, "I'm already trying to identify!"))
		}
		return OutcomeBusy, nil
	}
	if since, ok := o.store.SinceLast(); ok && since < o.opts.Cooldown {
		o.mu.Unlock()
		telemetry.RecordRun(string(OutcomeCooldown))
		if quiet {
			return OutcomeCooldown, nil
		}
		msg, err := o.store.RecentMessage(o.opts.Cooldown + o.opts.CooldownGrace)
		if err != nil {
			return OutcomeCooldown, nil
		}
		return OutcomeCooldown, o.out.Send(ctx, msg)
	}
	o.state.Identifying = true
	o.state.TriggerCount = 0
	o.mu.Unlock()
	telemetry.SetBusy(true)

	start := o.now()
	outcome, err := o.run(ctx, quiet)

	o.mu.Lock()
	o.state.Identifying = false
	o.state.LastOutcome = outcome
	o.state.LastRunAt = start
	o.mu.Unlock()
	telemetry.SetBusy(false)
	telemetry.RecordRun(string(outcome))
	if telemetry.RunDuration != nil {
		telemetry.RunDuration.Observe(o.now().Sub(start).Seconds())
	}
	return outcome, err
}

func (o *Orchestrator) run(ctx context.Context, quiet bool) (outcome Outcome, err error) {
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerIdentify, "identify.run", attribute.Int("max_attempts", o.opts.MaxAttempts))
	defer func() {
		span.SetAttributes(attribute.String("outcome", string(outcome)))
		telemetry.RecordError(span, err)
		span.End()
	}()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "identify"))
	logger.Info("identification started")

	for attempt := 1; attempt <= o.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if o.sleep(ctx, o.opts.RetryPause) != nil {
				return OutcomeCancelled, nil
			}
		}
		outcome, done, err := o.attempt(ctx, attempt, quiet)
		if err != nil || done {
			logger.Info("identification finished", slog.String("outcome", string(outcome)), slog.Int("attempts", attempt))
			return outcome, err
		}
	}
	logger.Info("identification gave up", slog.Int("attempts", o.opts.MaxAttempts))
	return OutcomeExhausted, nil
}

// attempt runs one capture+match cycle. done ends the loop.
func (o *Orchestrator) attempt(ctx context.Context, n int, quiet bool) (Outcome, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerIdentify, "identify.attempt", attribute.Int("attempt", n))
	defer span.End()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "identify"), slog.Int("attempt", n))
	telemetry.Inc(telemetry.IdentifyAttempts)

	if o.live != nil {
		live, err := o.live.IsLive(ctx)
		switch {
		case err != nil:
			logger.Warn("live check failed, capturing anyway", slog.Any("err", err))
		case !live:
			logger.Info("channel offline, aborting identification")
			return OutcomeOffline, true, nil
		}
	}

	clip, err := o.capture(ctx, logger)
	if ctx.Err() != nil {
		o.discard(clip)
		return OutcomeCancelled, true, nil
	}
	if clip != nil && clip.Throttled && o.opts.Rotation && o.rotator != nil {
		logger.Warn("capture throttled, rotating tunnel", slog.Int64("bytes", clip.Size))
		o.discard(clip)
		if o.rotate(ctx, logger) != nil {
			return OutcomeCancelled, true, nil
		}
		clip, err = o.capture(ctx, logger)
		if ctx.Err() != nil {
			o.discard(clip)
			return OutcomeCancelled, true, nil
		}
		if clip != nil {
			logger.Info("re-captured after rotation", slog.Bool("throttled", clip.Throttled))
		}
	}
	if err != nil || clip == nil {
		return "", false, o.failureReply(ctx, quiet, o.phrases.pick(o.phrases.Trouble, "I had trouble listening. Please try again ..."))
	}
	defer o.discard(clip)

	match := o.matcher.Identify(ctx, clip)
	if match == nil {
		reply := o.phrases.pick(o.phrases.Unknown, "I can't tell what's playing...")
		if clip.Throttled {
			reply = o.phrases.pick(o.phrases.Trouble, "I had trouble listening. Please try again ...")
		}
		return "", false, o.failureReply(ctx, quiet, reply)
	}

	song := setlist.Song{Title: match.Title, Artists: match.Artists, Album: match.Album, Duration: match.Duration}
	isNew, err := o.addWithRetry(song)
	if err != nil {
		logger.Error("setlist persist failed, song not recorded", slog.String("title", song.Title), slog.Any("err", err))
		telemetry.Inc(telemetry.PersistFailures)
		isNew = true
	}
	telemetry.SetSetlistSize(o.store.Len())
	if !isNew {
		logger.Info("song already in setlist, refreshed", slog.String("title", song.Title))
		return OutcomeRefresh, true, nil
	}

	logger.Info("song identified", slog.String("title", song.Title), slog.String("artists", song.ArtistList()))
	if err := o.out.Send(ctx, setlist.NowPlayingMessage(song)); err != nil {
		telemetry.RecordError(span, err)
		return OutcomeSuccess, true, err
	}
	o.publish(ctx, song, logger)
	return OutcomeSuccess, true, nil
}

func (o *Orchestrator) capture(ctx context.Context, logger *slog.Logger) (*capture.Clip, error) {
	clip, err := o.station.Capture(ctx, o.opts.CaptureDuration)
	if err != nil && ctx.Err() == nil {
		class := capture.Classify(err)
		logger.Warn("capture failed", slog.String("class", class.String()), slog.Any("err", err))
		if telemetry.CaptureFailures != nil {
			telemetry.CaptureFailures.WithLabelValues(class.String()).Inc()
		}
	}
	return clip, err
}

// rotate swaps the tunnel. Tunnel failures are logged and the caller re-captures
// without the rotation benefit; only cancellation is returned.
func (o *Orchestrator) rotate(ctx context.Context, logger *slog.Logger) error {
	wasConnected := o.rotator.Connected()
	if err := o.rotator.Disconnect(); err != nil {
		logger.Warn("tunnel disconnect failed", slog.Any("err", err))
	}
	if wasConnected {
		if err := o.sleep(ctx, o.opts.TeardownWait); err != nil {
			return err
		}
	}
	profile, err := o.rotator.ConnectRandom()
	if err != nil {
		logger.Warn("tunnel connect failed, continuing without rotation", slog.Any("err", err))
		return ctx.Err()
	}
	telemetry.Inc(telemetry.TunnelRotations)
	logger.Info("tunnel rotated", slog.String("profile", profile))
	return o.sleep(ctx, o.opts.EstablishWait)
}

// addWithRetry retries a failed persist once; setlist loss is not acceptable silently.
func (o *Orchestrator) addWithRetry(song setlist.Song) (bool, error) {
	isNew, err := o.store.Add(song)
	if err == nil {
		return isNew, nil
	}
	slog.Warn("setlist persist failed, retrying", slog.Any("err", err), slog.String("component", "identify"))
	return o.store.Add(song)
}

func (o *Orchestrator) failureReply(ctx context.Context, quiet bool, text string) error {
	if quiet || o.Silenced() {
		telemetry.RecordSuppressed("silenced")
		return nil
	}
	return o.out.Send(ctx, text)
}

func (o *Orchestrator) publish(ctx context.Context, song setlist.Song, logger *slog.Logger) {
	for _, s := range o.sinks {
		if err := s.Publish(ctx, song); err != nil {
			logger.Warn("publish identified song", slog.Any("err", err))
		}
	}
}

func (o *Orchestrator) discard(clip *capture.Clip) {
	if clip == nil || clip.Path == "" {
		return
	}
	if err := os.Remove(clip.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Debug("remove clip", slog.Any("err", err), slog.String("component", "identify"))
	}
}

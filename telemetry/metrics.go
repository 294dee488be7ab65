// Package telemetry provides Prometheus metrics, OpenTelemetry tracing and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	IdentifyRuns       *prometheus.CounterVec // label: outcome
	IdentifyAttempts   prometheus.Counter
	CaptureThrottled   prometheus.Counter
	CaptureFailures    *prometheus.CounterVec // label: class
	TunnelRotations    prometheus.Counter
	MessagesSent       prometheus.Counter
	MessagesSuppressed *prometheus.CounterVec // label: reason
	ChatCommands       *prometheus.CounterVec // label: command
	PersistFailures    prometheus.Counter

	// Histograms (seconds)
	CaptureDuration prometheus.Observer
	MatchDuration   prometheus.Observer
	RunDuration     prometheus.Observer

	// Gauges
	SetlistSize   prometheus.Gauge
	IdentifyBusy  prometheus.Gauge // 1=run in flight
	StreamLive    prometheus.Gauge
	TunnelEnabled prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		IdentifyRuns = promauto.NewCounterVec(prometheus.CounterOpts{Name: "trackid_identify_runs_total", Help: "Identification runs by outcome"}, []string{"outcome"})
		IdentifyAttempts = promauto.NewCounter(prometheus.CounterOpts{Name: "trackid_identify_attempts_total", Help: "Capture+match attempts across all runs"})
		CaptureThrottled = promauto.NewCounter(prometheus.CounterOpts{Name: "trackid_capture_throttled_total", Help: "Captures that exceeded the size threshold early"})
		CaptureFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "trackid_capture_failures_total", Help: "Failed captures by error class"}, []string{"class"})
		TunnelRotations = promauto.NewCounter(prometheus.CounterOpts{Name: "trackid_tunnel_rotations_total", Help: "Tunnel profile rotations"})
		MessagesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "trackid_chat_messages_sent_total", Help: "Chat messages handed to the transport"})
		MessagesSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "trackid_chat_messages_suppressed_total", Help: "Chat messages not sent, by reason"}, []string{"reason"})
		ChatCommands = promauto.NewCounterVec(prometheus.CounterOpts{Name: "trackid_chat_commands_total", Help: "Recognised chat commands"}, []string{"command"})
		PersistFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "trackid_setlist_persist_failures_total", Help: "Setlist writes that failed after retry"})
		CaptureDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "trackid_capture_duration_seconds", Help: "Wall time of one capture", Buckets: []float64{1, 5, 10, 15, 20, 25, 30, 45, 60}})
		MatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "trackid_match_duration_seconds", Help: "Wall time of one recognition request", Buckets: prometheus.DefBuckets})
		RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "trackid_identify_run_duration_seconds", Help: "Wall time of one identification run", Buckets: []float64{5, 30, 60, 120, 300, 600}})
		SetlistSize = promauto.NewGauge(prometheus.GaugeOpts{Name: "trackid_setlist_songs", Help: "Songs in today's setlist"})
		IdentifyBusy = promauto.NewGauge(prometheus.GaugeOpts{Name: "trackid_identify_busy", Help: "Identification in flight=1 idle=0"})
		StreamLive = promauto.NewGauge(prometheus.GaugeOpts{Name: "trackid_stream_live", Help: "Watched channel live=1 offline=0"})
		TunnelEnabled = promauto.NewGauge(prometheus.GaugeOpts{Name: "trackid_tunnel_enabled", Help: "Tunnel rotation enabled=1"})
	})
}

// RecordRun counts a finished identification run.
func RecordRun(outcome string) {
	if IdentifyRuns != nil {
		IdentifyRuns.WithLabelValues(outcome).Inc()
	}
}

// RecordSuppressed counts a chat message that was dropped before the transport.
func RecordSuppressed(reason string) {
	if MessagesSuppressed != nil {
		MessagesSuppressed.WithLabelValues(reason).Inc()
	}
}

// RecordCommand counts a dispatched chat command.
func RecordCommand(name string) {
	if ChatCommands != nil {
		ChatCommands.WithLabelValues(name).Inc()
	}
}

// SetSetlistSize records the current song count.
func SetSetlistSize(n int) {
	if SetlistSize != nil {
		SetlistSize.Set(float64(n))
	}
}

// SetBusy sets the in-flight gauge.
func SetBusy(busy bool) { setBool(IdentifyBusy, busy) }

// SetLive sets the stream-live gauge.
func SetLive(live bool) { setBool(StreamLive, live) }

func setBool(g prometheus.Gauge, v bool) {
	if g == nil {
		return
	}
	if v {
		g.Set(1)
	} else {
		g.Set(0)
	}
}

// Inc increments c if non-nil.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}

package identify

import (
	"context"
	"log/slog"
	"time"
)

// RunAuto triggers a quiet run every interval until ctx is cancelled.
// Ticks that land on a busy or cooling-down orchestrator are skipped by Trigger itself.
func (o *Orchestrator) RunAuto(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("auto identify started", slog.Duration("interval", interval), slog.String("component", "identify"))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		outcome, err := o.Trigger(ctx, true)
		if err != nil {
			slog.Warn("auto identify reply failed", slog.Any("err", err), slog.String("component", "identify"))
			continue
		}
		slog.Debug("auto identify tick", slog.String("outcome", string(outcome)), slog.String("component", "identify"))
	}
}

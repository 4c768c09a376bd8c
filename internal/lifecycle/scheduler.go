package lifecycle

import (
	"context"
	"log/slog"
	"time"
)

// RunScheduler issues a non-forced rebuild request every interval until
// ctx ends. The freshness window decides whether each tick builds. A
// non-positive interval disables the ticker.
func (m *Manager) RunScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	m.logger.Info("scheduler_started", slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("scheduler_stopped")
			return
		case <-ticker.C:
			m.RequestRebuild(false)
		}
	}
}

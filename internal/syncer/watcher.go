package syncer

import (
	"context"
	"time"

	"github.com/mpoliveira/medtrack/internal/api"
)

// WatchOnline probes the backend on an interval and feeds connectivity
// transitions into the engine. Blocks until ctx is cancelled; run it in its
// own goroutine.
func (e *Engine) WatchOnline(ctx context.Context, client api.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := client.Ping(probeCtx)
			cancel()
			e.SetOnline(err == nil)
		case <-ctx.Done():
			return
		}
	}
}

package authcore

import (
	"context"
	"time"
)

// PurgeExpired deletes expired one-time tokens, refresh tokens and
// blacklist entries. It is housekeeping only: every read already treats
// expired records as absent.
func (e *Engine) PurgeExpired(ctx context.Context) (int, error) {
	ctx, cancel := e.operationContext(ctx)
	defer cancel()

	n, err := e.store.PurgeExpired(ctx, e.now())
	if err != nil {
		e.metricInc(MetricUnavailable)
		return 0, storageError(err, KindUnavailable)
	}
	e.metrics.Add(MetricPurged, uint64(n))
	return n, nil
}

// StartSweeper runs PurgeExpired every interval until ctx ends, StopSweeper
// is called or the engine is closed. A running sweeper is replaced.
func (e *Engine) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	e.StopSweeper()

	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.sweepCancel = cancel
	e.sweepDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := e.PurgeExpired(ctx)
				if err != nil {
					e.logger.Warn("expired record sweep failed", "error", err)
					continue
				}
				if n > 0 {
					e.logger.Debug("expired records purged", "count", n)
				}
			}
		}
	}()
}

// StopSweeper stops the sweeper and waits for a sweep in progress.
func (e *Engine) StopSweeper() {
	e.sweepMu.Lock()
	cancel, done := e.sweepCancel, e.sweepDone
	e.sweepCancel, e.sweepDone = nil, nil
	e.sweepMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

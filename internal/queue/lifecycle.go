package queue

import (
	"context"
	"fmt"
	"time"

	"actlog/internal/logging"
)

const drainRetryDelay = 10 * time.Millisecond

// Start registers the periodic flush timer. Only the first call has an
// effect; the timer stops when ctx is cancelled or Shutdown is called.
func (q *Queue) Start(ctx context.Context) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Debug("flush timer not started: queue is shut down")
		return false
	}
	if q.started {
		q.mu.Unlock()
		q.logger.Debug("flush timer already started")
		return false
	}
	q.started = true
	runCtx, cancel := context.WithCancel(ctx)
	q.stopTimer = cancel
	q.timerDone = make(chan struct{})
	done := q.timerDone
	q.mu.Unlock()

	go q.run(runCtx, done)
	q.logger.Debug("flush timer started", logging.Duration("interval", q.cfg.FlushInterval))
	return true
}

func (q *Queue) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.tick(context.WithoutCancel(ctx))
		}
	}
}

func (q *Queue) tick(ctx context.Context) {
	defer q.recoverFlush("timer")
	q.Flush(ctx)
}

// Shutdown stops the timer, waits for in-flight flushes, and then flushes
// repeatedly until the buffer is empty, a flush persists nothing, or ctx
// expires. Entries still buffered after that are removed, logged as dropped,
// and counted; their number is returned with ErrDrainIncomplete.
func (q *Queue) Shutdown(ctx context.Context) (int, error) {
	q.mu.Lock()
	q.closed = true
	stop := q.stopTimer
	done := q.timerDone
	q.mu.Unlock()

	if stop != nil {
		stop()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}

	waited := make(chan struct{})
	go func() {
		q.inflight.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
	}

	start := time.Now()
	var persisted int
	for ctx.Err() == nil && q.Size() > 0 {
		report := q.Flush(ctx)
		if report.Skipped {
			// a caller-initiated Flush is still running
			select {
			case <-time.After(drainRetryDelay):
			case <-ctx.Done():
			}
			continue
		}
		persisted += report.Persisted
		if report.Persisted == 0 {
			break
		}
	}

	left := q.takeAll()
	if len(left) == 0 {
		q.logger.Info("activity queue drained",
			logging.Int("persisted", persisted),
			logging.Duration("elapsed", time.Since(start)),
		)
		return 0, nil
	}

	logging.ErrorWithContext(q.logger, "activity queue drain incomplete", "activity_drain_incomplete",
		logging.Int("persisted", persisted),
		logging.Int("remaining", len(left)),
		logging.String(logging.FieldErrorHint, "remaining payloads are logged individually"),
	)
	for _, entry := range left {
		q.drop(entry, "shutdown")
	}
	q.observer.Dropped(len(left))
	return len(left), fmt.Errorf("%w: %d entries not persisted", ErrDrainIncomplete, len(left))
}

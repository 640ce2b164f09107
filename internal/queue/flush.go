package queue

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"actlog/internal/activity"
	"actlog/internal/logging"
	"actlog/internal/store"
	"actlog/internal/tracing"
)

// FlushReport describes the outcome of one flush attempt.
type FlushReport struct {
	// Skipped is set when another flush was running or the buffer was empty.
	Skipped   bool   `json:"skipped"`
	Attempted int    `json:"attempted"`
	Persisted int    `json:"persisted"`
	Inserted  int64  `json:"inserted"`
	Requeued  int    `json:"requeued"`
	Dropped   int    `json:"dropped"`
	Error     string `json:"error,omitempty"`
}

// Flush persists up to MaxBatchSize entries from the head of the buffer. It
// returns immediately with Skipped set if a flush is already in flight or
// there is nothing to write.
func (q *Queue) Flush(ctx context.Context) FlushReport {
	if !q.flushing.CompareAndSwap(false, true) {
		return FlushReport{Skipped: true}
	}
	defer q.flushing.Store(false)

	batch := q.takeBatch(q.cfg.MaxBatchSize)
	if len(batch) == 0 {
		return FlushReport{Skipped: true}
	}
	return q.persist(ctx, batch)
}

func (q *Queue) persist(ctx context.Context, batch []Entry) FlushReport {
	if ctx == nil {
		ctx = context.Background()
	}
	report := FlushReport{Attempted: len(batch)}

	ctx, span := tracing.StartSpan(ctx, "activity.flush", attribute.Int("activity.batch_size", len(batch)))
	defer span.End()

	records := make([]activity.Record, len(batch))
	for i := range batch {
		records[i] = batch[i].Record
	}

	start := time.Now()
	inserted, err := q.insert(ctx, records)
	elapsed := time.Since(start)

	if err == nil {
		report.Persisted = len(batch)
		report.Inserted = inserted
		span.SetAttributes(attribute.Int64("activity.inserted", inserted))
		q.logger.Debug("flushed activity batch",
			logging.Int("count", len(batch)),
			logging.Int64("inserted", inserted),
			logging.Duration("elapsed", elapsed),
		)
		q.observer.Flushed(len(batch), inserted, elapsed)
		return report
	}

	tracing.Fail(span, err)
	kind := FailureKind(err)
	report.Error = err.Error()
	logging.ErrorWithContext(q.logger, "failed to flush activity batch", "activity_flush_failed",
		logging.Int("count", len(batch)),
		logging.String("error_kind", kind),
		logging.String(logging.FieldErrorHint, failureHint(kind)),
		logging.Duration("elapsed", elapsed),
		logging.Error(err),
	)
	q.observer.FlushFailed(len(batch), kind, elapsed)

	retry := make([]Entry, 0, len(batch))
	for i := range batch {
		entry := batch[i]
		entry.RetryCount++
		if entry.RetryCount < q.cfg.MaxRetries {
			retry = append(retry, entry)
			continue
		}
		q.drop(entry, "retries exhausted")
		report.Dropped++
	}
	q.requeue(retry)
	report.Requeued = len(retry)
	if report.Requeued > 0 {
		q.observer.Requeued(report.Requeued)
	}
	if report.Dropped > 0 {
		q.observer.Dropped(report.Dropped)
	}
	return report
}

// insert calls the sink with the insert timeout applied. A panic in the sink
// is converted to an error.
func (q *Queue) insert(ctx context.Context, records []activity.Record) (inserted int64, err error) {
	if q.cfg.InsertTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.InsertTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			inserted = 0
			err = recoveredError(r)
		}
	}()
	return q.sink.InsertBatch(ctx, records, store.InsertOptions{SkipDuplicates: true})
}

func (q *Queue) drop(entry Entry, reason string) {
	payload, err := json.Marshal(entry.Record)
	if err != nil {
		payload = []byte(entry.Record.ID)
	}
	logging.ErrorWithContext(q.logger, "dropped activity entry", "activity_dropped",
		logging.String(logging.FieldActivityID, entry.Record.ID),
		logging.Int("retry_count", entry.RetryCount),
		logging.String("reason", reason),
		logging.Any("enqueued_at", entry.EnqueuedAt),
		logging.String("payload", string(payload)),
		logging.String(logging.FieldErrorHint, "payload can be replayed with `actlog log --json`"),
	)
}

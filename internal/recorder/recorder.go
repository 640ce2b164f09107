// Package recorder is the entry point application code uses to record an
// activity. LogActivity never returns an error and never blocks on storage.
package recorder

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"actlog/internal/activity"
	"actlog/internal/logging"
	"actlog/internal/redact"
)

// Enqueuer accepts normalized records. *queue.Queue satisfies it.
type Enqueuer interface {
	Enqueue(rec activity.Record)
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator overrides the record identifier source.
func WithIDGenerator(next func() string) Option {
	return func(r *Recorder) {
		if next != nil {
			r.newID = next
		}
	}
}

// Recorder normalizes, redacts and enqueues activity records.
type Recorder struct {
	queue    Enqueuer
	redactor atomic.Pointer[redact.Redactor]
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// New returns a Recorder feeding q. A nil redactor uses redact.Default.
func New(q Enqueuer, r *redact.Redactor, logger *slog.Logger, opts ...Option) *Recorder {
	rec := &Recorder{
		queue:  q,
		logger: logging.NewComponentLogger(logger, "recorder"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	if r == nil {
		r = redact.Default()
	}
	rec.redactor.Store(r)
	for _, opt := range opts {
		if opt != nil {
			opt(rec)
		}
	}
	return rec
}

// SetRedactor replaces the redactor used for subsequent calls.
func (r *Recorder) SetRedactor(red *redact.Redactor) {
	if red == nil {
		return
	}
	r.redactor.Store(red)
}

// LogActivity records one activity. Invalid input and internal failures are
// logged and swallowed. It returns the assigned record ID, or "" when
// nothing was enqueued.
func (r *Recorder) LogActivity(ctx context.Context, opts activity.Options) (id string) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.WithContext(ctx, r.logger)
	defer func() {
		if p := recover(); p != nil {
			id = ""
			logging.ErrorWithContext(logger, "activity logging panicked", "activity_record_panic",
				logging.String("action", opts.Action),
				logging.Any("panic", p),
				logging.String(logging.FieldErrorHint, "activity was not recorded; report this as a bug"),
			)
		}
	}()

	if r.queue == nil {
		logging.WarnWithContext(logger, "activity recorder has no queue", "activity_record_unconfigured",
			logging.String(logging.FieldImpact, "activity was not recorded"),
		)
		return ""
	}

	if actor, ok := activity.ActorFromContext(ctx); ok {
		if opts.ActorID == "" {
			opts.ActorID = actor.ID
		}
		if opts.ActorRole == "" {
			opts.ActorRole = actor.Role
		}
	}

	id = strings.TrimSpace(opts.ID)
	if id == "" {
		id = r.newID()
	}
	rec, err := activity.Normalize(opts, r.now(), id)
	if err != nil {
		logging.WarnWithContext(logger, "rejected activity", "activity_invalid",
			logging.String("action", opts.Action),
			logging.String("resource_type", opts.ResourceType),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fix the caller to send a known action and resource type"),
			logging.String(logging.FieldImpact, "activity was not recorded"),
		)
		return ""
	}

	metadata, err := activity.EncodeMetadata(r.redactor.Load().Redact(opts.Metadata))
	if err != nil {
		logging.WarnWithContext(logger, "activity metadata not encodable", "activity_metadata_invalid",
			logging.String(logging.FieldActivityID, rec.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "metadata must be JSON-compatible"),
			logging.String(logging.FieldImpact, "activity recorded without metadata"),
		)
		metadata = ""
	}
	rec.Metadata = metadata

	r.queue.Enqueue(rec)
	return rec.ID
}

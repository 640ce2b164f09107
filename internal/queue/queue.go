package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"actlog/internal/activity"
	"actlog/internal/config"
	"actlog/internal/logging"
	"actlog/internal/store"
)

// Defaults applied when a Config field is zero or negative.
const (
	DefaultMaxBatchSize  = 100
	DefaultMaxRetries    = 3
	DefaultFlushInterval = 5 * time.Second
	DefaultInsertTimeout = 30 * time.Second
)

// Sink is the durable storage the queue flushes into.
type Sink interface {
	InsertBatch(ctx context.Context, records []activity.Record, opts store.InsertOptions) (int64, error)
}

// Entry is one buffered record with its retry bookkeeping.
type Entry struct {
	Record     activity.Record
	EnqueuedAt time.Time
	RetryCount int
}

// Config holds the queue tuning knobs.
type Config struct {
	MaxBatchSize  int
	MaxRetries    int
	FlushInterval time.Duration
	// InsertTimeout bounds each storage call. Zero disables the bound.
	InsertTimeout time.Duration
}

// DefaultConfig returns the stock queue settings.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:  DefaultMaxBatchSize,
		MaxRetries:    DefaultMaxRetries,
		FlushInterval: DefaultFlushInterval,
		InsertTimeout: DefaultInsertTimeout,
	}
}

// ConfigFrom maps the [queue] configuration section.
func ConfigFrom(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return Config{
		MaxBatchSize:  cfg.Queue.MaxBatchSize,
		MaxRetries:    cfg.Queue.MaxRetries,
		FlushInterval: cfg.FlushInterval(),
		InsertTimeout: cfg.InsertTimeout(),
	}
}

func (c Config) withDefaults() Config {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.InsertTimeout < 0 {
		c.InsertTimeout = 0
	}
	return c
}

// Option customizes a Queue.
type Option func(*Queue)

// WithLogger sets the logger used for flush and drop reports.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithObserver registers a metrics observer.
func WithObserver(observer Observer) Option {
	return func(q *Queue) {
		if observer != nil {
			q.observer = observer
		}
	}
}

// WithClock overrides the time source used for EnqueuedAt.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// Queue buffers activity records and flushes them to a Sink.
type Queue struct {
	sink     Sink
	cfg      Config
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	mu     sync.Mutex
	buffer []Entry
	// closed is set by Shutdown; afterwards Enqueue still buffers but no
	// longer starts background flushes.
	closed bool

	flushing atomic.Bool
	inflight sync.WaitGroup

	started   bool
	stopTimer context.CancelFunc
	timerDone chan struct{}
}

// New constructs a queue writing into sink.
func New(sink Sink, cfg Config, opts ...Option) (*Queue, error) {
	if sink == nil {
		return nil, errors.New("activity queue: sink is required")
	}
	q := &Queue{
		sink:     sink,
		cfg:      cfg.withDefaults(),
		logger:   logging.NewNop(),
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	q.logger = logging.NewComponentLogger(q.logger, "queue")
	return q, nil
}

// Config returns the effective settings.
func (q *Queue) Config() Config { return q.cfg }

// Enqueue appends rec to the buffer and returns without touching storage.
// When the buffer reaches MaxBatchSize and no flush is running, a batch is
// detached immediately and persisted on a background goroutine.
func (q *Queue) Enqueue(rec activity.Record) {
	entry := Entry{Record: rec, EnqueuedAt: q.now()}

	q.mu.Lock()
	q.buffer = append(q.buffer, entry)
	var batch []Entry
	if len(q.buffer) >= q.cfg.MaxBatchSize && !q.closed && q.flushing.CompareAndSwap(false, true) {
		batch = q.takeLocked(q.cfg.MaxBatchSize)
		q.inflight.Add(1)
	}
	q.mu.Unlock()

	q.observer.Enqueued()
	if batch == nil {
		return
	}
	go func() {
		defer q.inflight.Done()
		defer q.flushing.Store(false)
		defer q.recoverFlush("auto")
		q.persist(context.Background(), batch)
	}()
}

// Size returns the number of buffered entries.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffer)
}

// Flushing reports whether a flush is in flight.
func (q *Queue) Flushing() bool {
	return q.flushing.Load()
}

// Pending returns a copy of the buffered entries in flush order.
func (q *Queue) Pending() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.buffer...)
}

// takeBatch removes and returns up to n entries from the head of the buffer.
func (q *Queue) takeBatch(n int) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.takeLocked(n)
}

func (q *Queue) takeLocked(n int) []Entry {
	if n <= 0 || len(q.buffer) == 0 {
		return nil
	}
	if n > len(q.buffer) {
		n = len(q.buffer)
	}
	batch := q.buffer[:n:n]
	q.buffer = q.buffer[n:]
	if len(q.buffer) == 0 {
		q.buffer = nil
	}
	return batch
}

// takeAll empties the buffer and returns what it held.
func (q *Queue) takeAll() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	left := q.buffer
	q.buffer = nil
	return left
}

// requeue appends entries to the tail of the buffer.
func (q *Queue) requeue(entries []Entry) {
	if len(entries) == 0 {
		return
	}
	q.mu.Lock()
	q.buffer = append(q.buffer, entries...)
	q.mu.Unlock()
}

func (q *Queue) recoverFlush(trigger string) {
	if r := recover(); r != nil {
		logging.ErrorWithContext(q.logger, "activity flush panicked", "activity_flush_panic",
			logging.String("trigger", trigger),
			logging.Any("panic", r),
		)
	}
}

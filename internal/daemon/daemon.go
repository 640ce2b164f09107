package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"actlog/internal/activity"
	"actlog/internal/config"
	"actlog/internal/logging"
	"actlog/internal/metrics"
	"actlog/internal/queue"
	"actlog/internal/recorder"
	"actlog/internal/store"
)

// Daemon owns the queue lifecycle and the HTTP API, and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	backend  store.Backend
	queue    *queue.Queue
	recorder *recorder.Recorder
	metrics  *metrics.Registry

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	mu        sync.Mutex
	running   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	StartedAt    time.Time
	LockFilePath string
	QueueSize    int
	Flushing     bool
	QueueConfig  queue.Config
	Health       store.Health
	Stats        store.Stats
	// StorageError is set when health or stats could not be read.
	StorageError string
}

// New constructs a daemon with initialized dependencies. metrics may be nil.
func New(cfg *config.Config, backend store.Backend, q *queue.Queue, rec *recorder.Recorder, logger *slog.Logger, reg *metrics.Registry) (*Daemon, error) {
	if cfg == nil || backend == nil || q == nil || rec == nil {
		return nil, errors.New("daemon requires config, storage backend, queue, and recorder")
	}
	logger = logging.NewComponentLogger(logger, "daemon")

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		backend:  backend,
		queue:    q,
		recorder: rec,
		metrics:  reg,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, starts the flush timer, and begins serving
// the API.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another actlog daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api: %w", err)
	}
	d.queue.Start(runCtx)
	if d.metrics != nil {
		d.metrics.RegisterQueue(d.queue)
	}

	d.cancel = cancel
	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("actlog daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
		logging.String("storage", d.cfg.StoragePath()),
	)
	return nil
}

// Stop closes the API, drains the queue within ctx, and releases the lock.
// The returned error wraps queue.ErrDrainIncomplete when entries were left
// behind.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return nil
	}

	d.api.stop(ctx)
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	remaining, drainErr := d.queue.Shutdown(ctx)

	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.String("lock", d.lockPath),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the lock file if no daemon is running"),
			logging.String(logging.FieldImpact, "next start may report another instance"),
		)
	}
	d.running.Store(false)
	d.logger.Info("actlog daemon stopped", logging.Int("unpersisted", remaining))
	return drainErr
}

// Close stops the daemon using the configured shutdown timeout and closes the
// storage backend.
func (d *Daemon) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout())
	defer cancel()
	stopErr := d.Stop(ctx)
	return errors.Join(stopErr, d.backend.Close())
}

// Running reports whether Start succeeded and Stop has not run.
func (d *Daemon) Running() bool { return d.running.Load() }

// Recorder returns the activity recorder fed by the API.
func (d *Daemon) Recorder() *recorder.Recorder { return d.recorder }

// APIAddress returns the address the API is listening on, or "" when it is
// not serving.
func (d *Daemon) APIAddress() string { return d.api.address() }

// Flush persists one batch now. Cancelling ctx does not abort the write;
// the insert timeout still bounds it.
func (d *Daemon) Flush(ctx context.Context) queue.FlushReport {
	return d.queue.Flush(context.WithoutCancel(ctx))
}

// ListActivity reads persisted records.
func (d *Daemon) ListActivity(ctx context.Context, filter store.Filter) ([]activity.Record, error) {
	return d.backend.List(ctx, filter)
}

// Status gathers queue and storage diagnostics.
func (d *Daemon) Status(ctx context.Context) Status {
	d.mu.Lock()
	startedAt := d.startedAt
	d.mu.Unlock()

	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StartedAt:    startedAt,
		LockFilePath: d.lockPath,
		QueueSize:    d.queue.Size(),
		Flushing:     d.queue.Flushing(),
		QueueConfig:  d.queue.Config(),
	}
	health, err := d.backend.CheckHealth(ctx)
	if err != nil {
		status.StorageError = err.Error()
	}
	status.Health = health
	stats, err := d.backend.Stats(ctx)
	if err != nil && status.StorageError == "" {
		status.StorageError = err.Error()
	}
	status.Stats = stats
	return status
}

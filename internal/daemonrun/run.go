// Package daemonrun assembles and runs the actlog daemon process.
package daemonrun

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"actlog/internal/config"
	"actlog/internal/daemon"
	"actlog/internal/daemonctl"
	"actlog/internal/logging"
	"actlog/internal/metrics"
	"actlog/internal/preflight"
	"actlog/internal/queue"
	"actlog/internal/recorder"
	"actlog/internal/redact"
	"actlog/internal/store"
	"actlog/internal/tracing"
)

// TraceFileName receives spans when the stdout trace exporter is enabled.
const TraceFileName = "traces.jsonl"

// Options configures daemon process runtime behavior.
type Options struct {
	// ConfigPath is the resolved configuration file; it is watched for
	// redaction and log level changes when set.
	ConfigPath string
	// LogLevel overrides logging.level from the config when set.
	LogLevel    string
	Development bool
	// Ready, when set, is called once the daemon is serving.
	Ready func(*daemon.Daemon)
}

// Run starts the actlog daemon and blocks until ctx is cancelled or the
// process receives SIGINT/SIGTERM. The queue is drained within
// queue.shutdown_timeout_seconds before Run returns.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	levelVar := new(slog.LevelVar)
	logger, err := logging.NewFromConfig(cfg, levelVar)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if opts.LogLevel != "" {
		levelVar.Set(logging.ParseLevel(opts.LogLevel))
	}
	if opts.Development {
		levelVar.Set(slog.LevelDebug)
	}

	logStartupSnapshot(signalCtx, logger, cfg, opts.ConfigPath)

	traceOut, closeTraces, err := traceWriter(cfg)
	if err != nil {
		return err
	}
	defer closeTraces()
	shutdownTracing, err := tracing.Init(signalCtx, cfg.Tracing, traceOut)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", logging.Error(err))
		}
	}()

	backend, err := store.Open(cfg)
	if err != nil {
		logging.ErrorWithContext(logger, "open activity store", "store_open_failed",
			logging.String("path", cfg.StoragePath()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run `actlog health` to check the storage path"),
		)
		return err
	}

	var reg *metrics.Registry
	queueOpts := []queue.Option{queue.WithLogger(logger)}
	if cfg.Metrics.Enabled {
		reg = metrics.NewRegistry(cfg.Metrics.Namespace)
		queueOpts = append(queueOpts, queue.WithObserver(reg))
	}
	q, err := queue.New(backend, queue.ConfigFrom(cfg), queueOpts...)
	if err != nil {
		_ = backend.Close()
		return fmt.Errorf("create queue: %w", err)
	}
	rec := recorder.New(q, redact.New(redact.OptionsFrom(cfg.Redaction)), logger)

	d, err := daemon.New(cfg, backend, q, rec, logger, reg)
	if err != nil {
		_ = backend.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("close activity store", logging.Error(err))
		}
	}()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	pidPath := cfg.PIDPath()
	if err := daemonctl.WritePIDFile(pidPath); err != nil {
		logging.WarnWithContext(logger, "unable to write pid file", "pid_file_failed",
			logging.String("path", pidPath),
			logging.Error(err),
			logging.String(logging.FieldImpact, "`actlog stop` cannot find this daemon"),
		)
	}
	defer os.Remove(pidPath)

	if cfg.Redaction.WatchConfig && opts.ConfigPath != "" {
		go watchConfig(signalCtx, opts.ConfigPath, rec, levelVar, opts.LogLevel == "" && !opts.Development, logger)
	}
	if opts.Ready != nil {
		opts.Ready(d)
	}

	<-signalCtx.Done()
	logger.Info("actlog daemon shutting down", logging.Duration("timeout", cfg.ShutdownTimeout()))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer stopCancel()
	if err := d.Stop(stopCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// watchConfig applies redaction and log level changes without a restart.
// Other sections need a restart and are ignored here.
func watchConfig(ctx context.Context, path string, rec *recorder.Recorder, levelVar *slog.LevelVar, followLevel bool, logger *slog.Logger) {
	logger = logging.NewComponentLogger(logger, "config-watch")
	err := config.Watch(ctx, path, config.WatchOptions{
		OnChange: func(next *config.Config) {
			rec.SetRedactor(redact.New(redact.OptionsFrom(next.Redaction)))
			if followLevel {
				levelVar.Set(logging.ParseLevel(next.Logging.Level))
			}
			logger.Info("configuration reloaded",
				logging.String("path", path),
				logging.Int("redaction_extra_keys", len(next.Redaction.ExtraKeys)),
				logging.String("log_level", next.Logging.Level),
			)
		},
		OnError: func(err error) {
			logging.WarnWithContext(logger, "configuration reload failed", "config_reload_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "run `actlog config validate`"),
				logging.String(logging.FieldImpact, "previous redaction settings stay in effect"),
			)
		},
	})
	if err != nil {
		logging.WarnWithContext(logger, "configuration watch unavailable", "config_watch_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "config changes need a daemon restart"),
		)
	}
}

func traceWriter(cfg *config.Config) (io.Writer, func(), error) {
	if cfg.Tracing.Exporter != "stdout" || cfg.Paths.LogDir == "" {
		return nil, func() {}, nil
	}
	path := filepath.Join(cfg.Paths.LogDir, TraceFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open trace file: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}

func logStartupSnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config, configPath string) {
	logger.Info("startup snapshot",
		logging.String(logging.FieldEventType, "startup_snapshot"),
		logging.String("config_path", configPath),
		logging.String("storage_backend", cfg.Storage.Backend),
		logging.String("storage_path", cfg.StoragePath()),
		logging.String("api_bind", cfg.Paths.APIBind),
		logging.Bool("api_token_present", cfg.Paths.APIToken != ""),
		logging.Int("max_batch_size", cfg.Queue.MaxBatchSize),
		logging.Int("max_retries", cfg.Queue.MaxRetries),
		logging.Duration("flush_interval", cfg.FlushInterval()),
		logging.Bool("metrics_enabled", cfg.Metrics.Enabled),
		logging.String("tracing_exporter", cfg.Tracing.Exporter),
	)
	for _, result := range preflight.Failed(preflight.RunAll(ctx, cfg, false)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "run `actlog health` for details"),
		)
	}
}

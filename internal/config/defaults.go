package config

const (
	defaultDataDir                = "~/.local/share/actlog"
	defaultLogDir                 = "~/.local/share/actlog/logs"
	defaultAPIBind                = "127.0.0.1:7488"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultStorageBackend         = BackendSQLite
	defaultMaxBatchSize           = 100
	defaultMaxRetries             = 3
	defaultFlushIntervalMillis    = 5000
	defaultInsertTimeoutSeconds   = 30
	defaultShutdownTimeoutSeconds = 10
	defaultRedactionMask          = "[REDACTED]"
	defaultMetricsNamespace       = "actlog"
	defaultTracingExporter        = "none"
	defaultTracingServiceName     = "actlog"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Queue: Queue{
			MaxBatchSize:           defaultMaxBatchSize,
			MaxRetries:             defaultMaxRetries,
			FlushIntervalMillis:    defaultFlushIntervalMillis,
			InsertTimeoutSeconds:   defaultInsertTimeoutSeconds,
			ShutdownTimeoutSeconds: defaultShutdownTimeoutSeconds,
		},
		Storage: Storage{
			Backend: defaultStorageBackend,
		},
		Redaction: Redaction{
			Mask:        defaultRedactionMask,
			MaskEmails:  true,
			WatchConfig: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Metrics: Metrics{
			Enabled:   true,
			Namespace: defaultMetricsNamespace,
		},
		Tracing: Tracing{
			Exporter:    defaultTracingExporter,
			ServiceName: defaultTracingServiceName,
			SampleRatio: 1,
		},
	}
}

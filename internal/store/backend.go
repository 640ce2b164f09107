package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"actlog/internal/activity"
	"actlog/internal/config"
)

var (
	// ErrDuplicate reports an activity ID that already exists when
	// SkipDuplicates is false.
	ErrDuplicate = errors.New("duplicate activity id")
	// ErrSchemaMismatch indicates the on-disk schema version differs from the
	// version this build writes.
	ErrSchemaMismatch = errors.New("schema version mismatch")
	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("store closed")
)

// InsertOptions controls InsertBatch.
type InsertOptions struct {
	// SkipDuplicates silently ignores records whose ID is already stored,
	// including repeats within the same batch.
	SkipDuplicates bool
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	ActorID      string
	Action       activity.Action
	ResourceType activity.ResourceType
	Success      *bool
	// Limit caps the number of records returned. Zero means no limit.
	Limit int
	// Newest returns records in reverse insertion order.
	Newest bool
}

// Stats summarizes stored activity.
type Stats struct {
	Total        int64
	Failures     int64
	ByAction     map[activity.Action]int64
	LastRecorded time.Time
}

// Health captures diagnostic information about a backend.
type Health struct {
	Backend       string
	Path          string
	Exists        bool
	Readable      bool
	SchemaVersion int
	IntegrityOK   bool
	Records       int64
	Error         string
}

// Backend is the durable sink for activity records.
type Backend interface {
	// InsertBatch writes records atomically and returns how many were newly
	// stored. Records keep their slice order.
	InsertBatch(ctx context.Context, records []activity.Record, opts InsertOptions) (int64, error)
	List(ctx context.Context, filter Filter) ([]activity.Record, error)
	Stats(ctx context.Context) (Stats, error)
	CheckHealth(ctx context.Context) (Health, error)
	Close() error
}

// Open opens the backend selected by cfg.Storage.Backend.
func Open(cfg *config.Config) (Backend, error) {
	if cfg == nil {
		return nil, errors.New("store: config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	switch cfg.Storage.Backend {
	case config.BackendSQLite, "":
		return OpenSQLite(cfg.StoragePath())
	case config.BackendPebble:
		return OpenPebble(cfg.StoragePath())
	default:
		return nil, fmt.Errorf("store: unsupported backend %q", cfg.Storage.Backend)
	}
}

func matches(rec activity.Record, filter Filter) bool {
	if filter.ActorID != "" && rec.ActorID != filter.ActorID {
		return false
	}
	if filter.Action != "" && rec.Action != filter.Action {
		return false
	}
	if filter.ResourceType != "" && rec.ResourceType != filter.ResourceType {
		return false
	}
	if filter.Success != nil && rec.Success != *filter.Success {
		return false
	}
	return true
}

func validateRecords(records []activity.Record) error {
	for i, rec := range records {
		if rec.ID == "" {
			return &Error{Kind: KindValidation, Op: "insert batch", Err: fmt.Errorf("record %d has no id", i)}
		}
		if rec.Action == "" || rec.ResourceType == "" {
			return &Error{Kind: KindValidation, Op: "insert batch", Err: fmt.Errorf("record %s is missing action or resource type", rec.ID)}
		}
	}
	return nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

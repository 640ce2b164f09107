package testsupport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"actlog/internal/activity"
	"actlog/internal/config"
	"actlog/internal/store"
)

// MustOpenStore opens the configured backend for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) store.Backend {
	t.Helper()

	backend, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		backend.Close()
	})
	return backend
}

// NewRecord returns a valid record numbered n with deterministic fields.
func NewRecord(n int) activity.Record {
	return activity.Record{
		ID:           fmt.Sprintf("rec-%05d", n),
		ActorID:      fmt.Sprintf("user-%d", n%3),
		Action:       activity.ActionView,
		ResourceType: activity.ResourceBook,
		ResourceID:   fmt.Sprintf("book-%d", n),
		Success:      true,
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Second),
	}
}

// Seed inserts count records into backend.
func Seed(t testing.TB, backend store.Backend, count int) []activity.Record {
	t.Helper()

	records := make([]activity.Record, count)
	for i := range records {
		records[i] = NewRecord(i)
	}
	if _, err := backend.InsertBatch(context.Background(), records, store.InsertOptions{}); err != nil {
		t.Fatalf("seed records: %v", err)
	}
	return records
}

package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"actlog/internal/activity"
	"actlog/internal/config"
)

type opener func(t *testing.T, path string) Backend

func backends() map[string]opener {
	return map[string]opener{
		"sqlite": func(t *testing.T, path string) Backend {
			t.Helper()
			s, err := OpenSQLite(filepath.Join(path, "activity.db"))
			if err != nil {
				t.Fatalf("OpenSQLite: %v", err)
			}
			return s
		},
		"pebble": func(t *testing.T, path string) Backend {
			t.Helper()
			s, err := OpenPebble(filepath.Join(path, "activity.pebble"))
			if err != nil {
				t.Fatalf("OpenPebble: %v", err)
			}
			return s
		},
	}
}

func sampleRecords(n int, prefix string) []activity.Record {
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	out := make([]activity.Record, n)
	for i := range out {
		out[i] = activity.Record{
			ID:           fmt.Sprintf("%s-%03d", prefix, i),
			ActorID:      fmt.Sprintf("user-%d", i%2),
			Action:       activity.ActionView,
			ResourceType: activity.ResourceBook,
			ResourceID:   fmt.Sprint(i),
			Success:      true,
			CreatedAt:    base.Add(time.Duration(i) * time.Second),
		}
	}
	return out
}

func ids(records []activity.Record) []string {
	out := make([]string, len(records))
	for i, rec := range records {
		out[i] = rec.ID
	}
	return out
}

func TestBackendsPreserveInsertionOrder(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t, t.TempDir())
			defer s.Close()
			ctx := context.Background()

			// Insert in an order that differs from lexical id order.
			records := sampleRecords(5, "ord")
			records[0], records[4] = records[4], records[0]
			if n, err := s.InsertBatch(ctx, records, InsertOptions{SkipDuplicates: true}); err != nil || n != 5 {
				t.Fatalf("InsertBatch: n=%d err=%v", n, err)
			}

			got, err := s.List(ctx, Filter{})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if fmt.Sprint(ids(got)) != fmt.Sprint(ids(records)) {
				t.Fatalf("order mismatch:\n got %v\nwant %v", ids(got), ids(records))
			}

			newest, err := s.List(ctx, Filter{Newest: true, Limit: 2})
			if err != nil {
				t.Fatalf("List newest: %v", err)
			}
			if len(newest) != 2 || newest[0].ID != records[4].ID || newest[1].ID != records[3].ID {
				t.Fatalf("unexpected newest page %v", ids(newest))
			}
		})
	}
}

func TestBackendsSkipDuplicates(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t, t.TempDir())
			defer s.Close()
			ctx := context.Background()
			records := sampleRecords(3, "dup")

			if _, err := s.InsertBatch(ctx, records[:2], InsertOptions{SkipDuplicates: true}); err != nil {
				t.Fatalf("first insert: %v", err)
			}
			// Same logical entries again plus one new and one repeated within the batch.
			again := append(append([]activity.Record{}, records...), records[2])
			n, err := s.InsertBatch(ctx, again, InsertOptions{SkipDuplicates: true})
			if err != nil {
				t.Fatalf("second insert: %v", err)
			}
			if n != 1 {
				t.Fatalf("expected 1 new row, got %d", n)
			}

			got, err := s.List(ctx, Filter{})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("expected 3 visible rows, got %d (%v)", len(got), ids(got))
			}
		})
	}
}

func TestBackendsRejectDuplicatesWithoutSkip(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t, t.TempDir())
			defer s.Close()
			ctx := context.Background()
			records := sampleRecords(2, "strict")

			if _, err := s.InsertBatch(ctx, records[:1], InsertOptions{}); err != nil {
				t.Fatalf("first insert: %v", err)
			}
			_, err := s.InsertBatch(ctx, records, InsertOptions{})
			if !errors.Is(err, ErrDuplicate) {
				t.Fatalf("expected ErrDuplicate, got %v", err)
			}
			var classified interface{ ErrorKind() string }
			if !errors.As(err, &classified) || classified.ErrorKind() != KindValidation {
				t.Fatalf("expected validation kind, got %v", err)
			}
			got, _ := s.List(ctx, Filter{})
			if len(got) != 1 {
				t.Fatalf("failed batch must not write rows, got %v", ids(got))
			}
		})
	}
}

func TestBackendsFilterAndStats(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t, t.TempDir())
			defer s.Close()
			ctx := context.Background()

			duration := int64(12)
			records := sampleRecords(4, "flt")
			records[1].Action = activity.ActionLogin
			records[1].ResourceType = activity.ResourceAuth
			records[1].Success = false
			records[1].ErrorMessage = "bad otp"
			records[1].DurationMs = &duration
			records[1].Metadata = `{"ip":"x"}`
			if _, err := s.InsertBatch(ctx, records, InsertOptions{SkipDuplicates: true}); err != nil {
				t.Fatalf("InsertBatch: %v", err)
			}

			failed := false
			got, err := s.List(ctx, Filter{Success: &failed})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != 1 || got[0].ID != records[1].ID {
				t.Fatalf("unexpected failures %v", ids(got))
			}
			rec := got[0]
			if rec.ErrorMessage != "bad otp" || rec.DurationMs == nil || *rec.DurationMs != 12 || rec.Metadata != `{"ip":"x"}` {
				t.Fatalf("round trip lost fields: %+v", rec)
			}
			if !rec.CreatedAt.Equal(records[1].CreatedAt) {
				t.Fatalf("created_at mismatch %v vs %v", rec.CreatedAt, records[1].CreatedAt)
			}

			byActor, err := s.List(ctx, Filter{ActorID: "user-0", Action: activity.ActionView, ResourceType: activity.ResourceBook})
			if err != nil {
				t.Fatalf("List by actor: %v", err)
			}
			if len(byActor) != 2 {
				t.Fatalf("expected 2 rows for user-0, got %v", ids(byActor))
			}

			stats, err := s.Stats(ctx)
			if err != nil {
				t.Fatalf("Stats: %v", err)
			}
			if stats.Total != 4 || stats.Failures != 1 || stats.ByAction[activity.ActionView] != 3 || stats.ByAction[activity.ActionLogin] != 1 {
				t.Fatalf("unexpected stats %+v", stats)
			}
			if !stats.LastRecorded.Equal(records[3].CreatedAt) {
				t.Fatalf("unexpected last recorded %v", stats.LastRecorded)
			}

			health, err := s.CheckHealth(ctx)
			if err != nil {
				t.Fatalf("CheckHealth: %v", err)
			}
			if !health.Exists || !health.Readable || !health.IntegrityOK || health.Records != 4 {
				t.Fatalf("unexpected health %+v", health)
			}
		})
	}
}

func TestBackendsReopenKeepsSequence(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			ctx := context.Background()
			first := open(t, dir)
			if _, err := first.InsertBatch(ctx, sampleRecords(2, "a"), InsertOptions{SkipDuplicates: true}); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if err := first.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}

			second := open(t, dir)
			defer second.Close()
			if _, err := second.InsertBatch(ctx, sampleRecords(1, "b"), InsertOptions{SkipDuplicates: true}); err != nil {
				t.Fatalf("insert after reopen: %v", err)
			}
			got, err := second.List(ctx, Filter{})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			want := []string{"a-000", "a-001", "b-000"}
			if fmt.Sprint(ids(got)) != fmt.Sprint(want) {
				t.Fatalf("got %v want %v", ids(got), want)
			}
		})
	}
}

func TestInsertBatchValidatesRecords(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t, t.TempDir())
			defer s.Close()
			_, err := s.InsertBatch(context.Background(), []activity.Record{{Action: activity.ActionView}}, InsertOptions{})
			var classified *Error
			if !errors.As(err, &classified) || classified.Kind != KindValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestClosedBackendReportsUnavailable(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			s := open(t, t.TempDir())
			if err := s.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}
			_, err := s.InsertBatch(context.Background(), sampleRecords(1, "c"), InsertOptions{})
			if !errors.Is(err, ErrClosed) {
				t.Fatalf("expected ErrClosed, got %v", err)
			}
			if err := s.Close(); err != nil {
				t.Fatalf("second close: %v", err)
			}
		})
	}
}

func TestOpenSelectsBackendFromConfig(t *testing.T) {
	cfg := config.Default()
	base := t.TempDir()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	cfg.Storage.Backend = config.BackendPebble
	backend, err := Open(&cfg)
	if err != nil {
		t.Fatalf("Open pebble: %v", err)
	}
	if _, ok := backend.(*PebbleStore); !ok {
		t.Fatalf("expected *PebbleStore, got %T", backend)
	}
	_ = backend.Close()

	cfg.Storage.Backend = config.BackendSQLite
	backend, err = Open(&cfg)
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	defer backend.Close()
	if s, ok := backend.(*SQLiteStore); !ok || s.Path() != filepath.Join(cfg.Paths.DataDir, "activity.db") {
		t.Fatalf("unexpected backend %T", backend)
	}
}

func TestSQLiteSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if _, err := s.db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = s.Close()

	if _, err := OpenSQLite(path); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

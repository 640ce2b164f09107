package recorder

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"actlog/internal/activity"
	"actlog/internal/redact"
)

type captureQueue struct {
	mu      sync.Mutex
	records []activity.Record
}

func (c *captureQueue) Enqueue(rec activity.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

type panicQueue struct{}

func (panicQueue) Enqueue(activity.Record) { panic("queue broke") }

func fixedClock() time.Time {
	return time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("x", 3600))
}

func newRecorder(q Enqueuer, logs *bytes.Buffer) *Recorder {
	logger := slog.New(slog.NewJSONHandler(logs, nil))
	return New(q, nil, logger, WithClock(fixedClock), WithIDGenerator(func() string { return "fixed-id" }))
}

func TestLogActivityEnqueuesNormalizedRecord(t *testing.T) {
	q := &captureQueue{}
	var logs bytes.Buffer
	r := newRecorder(q, &logs)

	ctx := activity.WithActor(context.Background(), activity.Actor{ID: "user-1", Role: "admin"})
	id := r.LogActivity(ctx, activity.Options{
		Action:       "Purchase",
		ResourceType: "marketplace-listing",
		ResourceID:   " 42 ",
		Metadata: map[string]any{
			"price":    12.5,
			"password": "hunter2",
			"contact":  "jane@example.com",
		},
	})
	if id != "fixed-id" {
		t.Fatalf("unexpected id %q", id)
	}
	if len(q.records) != 1 {
		t.Fatalf("expected one record, got %d", len(q.records))
	}
	rec := q.records[0]
	if rec.ActorID != "user-1" || rec.ActorRole != "admin" {
		t.Fatalf("actor not filled from context: %+v", rec)
	}
	if rec.Action != activity.ActionPurchase || rec.ResourceType != activity.ResourceMarketplaceListing {
		t.Fatalf("enums not normalized: %s %s", rec.Action, rec.ResourceType)
	}
	if rec.ResourceID != "42" || !rec.Success {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !rec.CreatedAt.Equal(fixedClock()) || rec.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %v", rec.CreatedAt)
	}
	if strings.Contains(rec.Metadata, "hunter2") || !strings.Contains(rec.Metadata, redact.DefaultMask) {
		t.Fatalf("metadata not redacted: %s", rec.Metadata)
	}
	if strings.Contains(rec.Metadata, "jane@example.com") {
		t.Fatalf("email not masked: %s", rec.Metadata)
	}
}

func TestLogActivityExplicitActorWins(t *testing.T) {
	q := &captureQueue{}
	var logs bytes.Buffer
	r := newRecorder(q, &logs)
	ctx := activity.WithActor(context.Background(), activity.Actor{ID: "ctx-user"})
	r.LogActivity(ctx, activity.Options{ActorID: "explicit", Action: "login", ResourceType: "auth"})
	if got := q.records[0].ActorID; got != "explicit" {
		t.Fatalf("expected explicit actor, got %q", got)
	}
}

func TestLogActivityRejectsUnknownAction(t *testing.T) {
	q := &captureQueue{}
	var logs bytes.Buffer
	r := newRecorder(q, &logs)

	if id := r.LogActivity(context.Background(), activity.Options{Action: "teleport", ResourceType: "book"}); id != "" {
		t.Fatalf("expected no id, got %q", id)
	}
	if len(q.records) != 0 {
		t.Fatal("invalid activity must not be enqueued")
	}
	if !strings.Contains(logs.String(), `"event_type":"activity_invalid"`) {
		t.Fatalf("expected warning log, got %s", logs.String())
	}
}

func TestLogActivityUnencodableMetadataStillRecords(t *testing.T) {
	q := &captureQueue{}
	var logs bytes.Buffer
	r := newRecorder(q, &logs)

	r.LogActivity(context.Background(), activity.Options{
		Action:       "export",
		ResourceType: "file",
		Metadata:     map[string]any{"callback": func() {}},
	})
	if len(q.records) != 1 || q.records[0].Metadata != "" {
		t.Fatalf("expected record without metadata, got %+v", q.records)
	}
	if !strings.Contains(logs.String(), "activity_metadata_invalid") {
		t.Fatalf("expected metadata warning, got %s", logs.String())
	}
}

func TestLogActivitySwallowsPanics(t *testing.T) {
	var logs bytes.Buffer
	r := newRecorder(panicQueue{}, &logs)
	if id := r.LogActivity(context.Background(), activity.Options{Action: "view", ResourceType: "book"}); id != "" {
		t.Fatalf("expected empty id after panic, got %q", id)
	}
	if !strings.Contains(logs.String(), "activity logging panicked") {
		t.Fatalf("expected panic log, got %s", logs.String())
	}
}

func TestSetRedactorAppliesToLaterCalls(t *testing.T) {
	q := &captureQueue{}
	var logs bytes.Buffer
	r := newRecorder(q, &logs)
	opts := activity.Options{Action: "update", ResourceType: "user", Metadata: map[string]any{"national_id": "123"}}

	r.LogActivity(context.Background(), opts)
	r.SetRedactor(redact.New(redact.Options{ExtraKeys: []string{"national_id"}, Mask: "***"}))
	r.SetRedactor(nil)
	r.LogActivity(context.Background(), opts)

	if !strings.Contains(q.records[0].Metadata, `"123"`) {
		t.Fatalf("first call should not mask national_id: %s", q.records[0].Metadata)
	}
	if q.records[1].Metadata != `{"national_id":"***"}` {
		t.Fatalf("second call should use new redactor: %s", q.records[1].Metadata)
	}
}

func TestLogActivityWithoutQueue(t *testing.T) {
	var logs bytes.Buffer
	r := New(nil, nil, slog.New(slog.NewJSONHandler(&logs, nil)))
	if id := r.LogActivity(context.Background(), activity.Options{Action: "view", ResourceType: "book"}); id != "" {
		t.Fatalf("expected empty id, got %q", id)
	}
}

func TestLogActivityKeepsProvidedID(t *testing.T) {
	q := &captureQueue{}
	var logs bytes.Buffer
	r := newRecorder(q, &logs)
	id := r.LogActivity(context.Background(), activity.Options{ID: "replayed-1", Action: "view", ResourceType: "book"})
	if id != "replayed-1" || q.records[0].ID != "replayed-1" {
		t.Fatalf("expected provided id to be kept, got %q", id)
	}
}

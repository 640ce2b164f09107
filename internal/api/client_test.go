package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"actlog/internal/activity"
	"actlog/internal/redact"
)

func TestClientSubmitActivity(t *testing.T) {
	var got ActivityRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/activity" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(ActivityAccepted{ID: "abc", QueueSize: 1})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "secret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	resp, err := client.SubmitActivity(context.Background(), ActivityRequest{
		Action:       "login",
		ResourceType: "auth",
		Metadata:     json.RawMessage(`{"method":"otp"}`),
	})
	if err != nil {
		t.Fatalf("SubmitActivity: %v", err)
	}
	if resp.ID != "abc" || resp.QueueSize != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got.Action != "login" || string(got.Metadata) != `{"method":"otp"}` {
		t.Fatalf("unexpected request body %+v", got)
	}
}

func TestClientListActivityQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("actor") != "u1" || q.Get("action") != "view" || q.Get("failed") != "1" || q.Get("limit") != "5" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(ActivityListResponse{Records: []ActivityRecord{{ID: "r1", Action: "view"}}})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, "")
	records, err := client.ListActivity(context.Background(), ListQuery{ActorID: "u1", Action: "view", FailedOnly: true, Limit: 5})
	if err != nil {
		t.Fatalf("ListActivity: %v", err)
	}
	if len(records) != 1 || records[0].ID != "r1" {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "unauthorized"})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, "wrong")
	_, err := client.Flush(context.Background())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusUnauthorized || statusErr.Message != "unauthorized" {
		t.Fatalf("expected 401 StatusError, got %v", err)
	}
	if IsUnavailable(err) {
		t.Fatal("status errors are not unavailability")
	}
}

func TestClientUnavailable(t *testing.T) {
	var nilClient *Client
	if _, err := nilClient.Status(context.Background()); !IsUnavailable(err) {
		t.Fatalf("nil client should be unavailable, got %v", err)
	}
	if client, err := NewClient("", ""); client != nil || err != nil {
		t.Fatalf("empty bind should yield nil client, got %v %v", client, err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := listener.Addr().String()
	listener.Close()

	client, _ := NewClient(addr, "")
	if _, err := client.Status(context.Background()); !IsUnavailable(err) {
		t.Fatalf("expected unavailable for closed port, got %v", err)
	}
}

func TestRequestRoundTripsRecord(t *testing.T) {
	duration := int64(12)
	rec := activity.Record{
		ID:           "id-1",
		ActorID:      "u1",
		Action:       activity.ActionDownload,
		ResourceType: activity.ResourceFile,
		Metadata:     `{"size":10}`,
		Success:      false,
		ErrorMessage: "quota",
		DurationMs:   &duration,
		CreatedAt:    time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	opts, err := RequestFromRecord(rec).Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if opts.ID != "id-1" || opts.Success == nil || *opts.Success || *opts.DurationMs != 12 {
		t.Fatalf("unexpected options %+v", opts)
	}
	if !opts.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("created_at not carried over: %v", opts.CreatedAt)
	}
	if m, ok := opts.Metadata.(map[string]any); !ok || m["size"] != json.Number("10") {
		t.Fatalf("metadata not decoded: %#v", opts.Metadata)
	}

	dto := FromRecord(rec)
	if dto.CreatedAt != "2026-05-01T12:00:00.000Z" || string(dto.Metadata) != `{"size":10}` {
		t.Fatalf("unexpected dto %+v", dto)
	}
}

func TestActivityRequestKeepsLargeIntegers(t *testing.T) {
	req := ActivityRequest{Action: "purchase", ResourceType: "order", Metadata: json.RawMessage(`{"orderId":9007199254740993}`)}
	opts, err := req.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	stored, err := activity.EncodeMetadata(redact.Default().Redact(opts.Metadata))
	if err != nil {
		t.Fatalf("EncodeMetadata: %v", err)
	}
	if stored != `{"orderId":9007199254740993}` {
		t.Fatalf("integer metadata changed: %s", stored)
	}
}

func TestActivityRequestRejectsBadMetadata(t *testing.T) {
	req := ActivityRequest{Action: "view", ResourceType: "book", Metadata: json.RawMessage(`{bad`)}
	if _, err := req.Options(); err == nil {
		t.Fatal("expected metadata decode error")
	}
	req = ActivityRequest{Action: "view", ResourceType: "book", CreatedAt: "yesterday"}
	if _, err := req.Options(); err == nil {
		t.Fatal("expected createdAt parse error")
	}
}

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"actlog/internal/activity"
	"actlog/internal/queue"
	"actlog/internal/store"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ActivityRequest is the body of POST /api/activity.
type ActivityRequest struct {
	ID           string          `json:"id,omitempty"`
	ActorID      string          `json:"actorId,omitempty"`
	ActorRole    string          `json:"actorRole,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resourceType"`
	ResourceID   string          `json:"resourceId,omitempty"`
	ResourceName string          `json:"resourceName,omitempty"`
	Description  string          `json:"description,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	Endpoint     string          `json:"endpoint,omitempty"`
	IPAddress    string          `json:"ipAddress,omitempty"`
	UserAgent    string          `json:"userAgent,omitempty"`
	Success      *bool           `json:"success,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	DurationMs   *int64          `json:"durationMs,omitempty"`
	// CreatedAt is an RFC3339 event time. Empty means the time of recording.
	CreatedAt string `json:"createdAt,omitempty"`
}

// Options converts the request into recorder input.
func (r ActivityRequest) Options() (activity.Options, error) {
	opts := activity.Options{
		ID:           r.ID,
		ActorID:      r.ActorID,
		ActorRole:    r.ActorRole,
		Action:       r.Action,
		ResourceType: r.ResourceType,
		ResourceID:   r.ResourceID,
		ResourceName: r.ResourceName,
		Description:  r.Description,
		Endpoint:     r.Endpoint,
		IPAddress:    r.IPAddress,
		UserAgent:    r.UserAgent,
		Success:      r.Success,
		ErrorMessage: r.ErrorMessage,
		DurationMs:   r.DurationMs,
	}
	if value := strings.TrimSpace(r.CreatedAt); value != "" {
		createdAt, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return activity.Options{}, fmt.Errorf("invalid createdAt %q: %w", r.CreatedAt, err)
		}
		opts.CreatedAt = createdAt
	}
	if len(r.Metadata) > 0 && string(r.Metadata) != "null" {
		dec := json.NewDecoder(bytes.NewReader(r.Metadata))
		dec.UseNumber()
		var metadata any
		if err := dec.Decode(&metadata); err != nil {
			return activity.Options{}, fmt.Errorf("decode metadata: %w", err)
		}
		opts.Metadata = metadata
	}
	return opts, nil
}

// RequestFromRecord rebuilds a request from a stored or dropped record. The
// record ID is kept so replays deduplicate, and the creation time so the
// replayed entry keeps its original event time.
func RequestFromRecord(rec activity.Record) ActivityRequest {
	success := rec.Success
	req := ActivityRequest{
		ID:           rec.ID,
		ActorID:      rec.ActorID,
		ActorRole:    rec.ActorRole,
		Action:       string(rec.Action),
		ResourceType: string(rec.ResourceType),
		ResourceID:   rec.ResourceID,
		ResourceName: rec.ResourceName,
		Description:  rec.Description,
		Endpoint:     rec.Endpoint,
		IPAddress:    rec.IPAddress,
		UserAgent:    rec.UserAgent,
		Success:      &success,
		ErrorMessage: rec.ErrorMessage,
		DurationMs:   rec.DurationMs,
	}
	if !rec.CreatedAt.IsZero() {
		req.CreatedAt = rec.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if rec.Metadata != "" {
		req.Metadata = json.RawMessage(rec.Metadata)
	}
	return req
}

// ActivityAccepted is returned by POST /api/activity.
type ActivityAccepted struct {
	ID        string `json:"id"`
	QueueSize int    `json:"queueSize"`
}

// ActivityRecord is a persisted activity in transport form.
type ActivityRecord struct {
	ID           string          `json:"id"`
	ActorID      string          `json:"actorId,omitempty"`
	ActorRole    string          `json:"actorRole,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resourceType"`
	ResourceID   string          `json:"resourceId,omitempty"`
	ResourceName string          `json:"resourceName,omitempty"`
	Description  string          `json:"description,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	Endpoint     string          `json:"endpoint,omitempty"`
	IPAddress    string          `json:"ipAddress,omitempty"`
	UserAgent    string          `json:"userAgent,omitempty"`
	Success      bool            `json:"success"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	DurationMs   *int64          `json:"durationMs,omitempty"`
	CreatedAt    string          `json:"createdAt"`
}

// FromRecord converts a stored record.
func FromRecord(rec activity.Record) ActivityRecord {
	out := ActivityRecord{
		ID:           rec.ID,
		ActorID:      rec.ActorID,
		ActorRole:    rec.ActorRole,
		Action:       string(rec.Action),
		ResourceType: string(rec.ResourceType),
		ResourceID:   rec.ResourceID,
		ResourceName: rec.ResourceName,
		Description:  rec.Description,
		Endpoint:     rec.Endpoint,
		IPAddress:    rec.IPAddress,
		UserAgent:    rec.UserAgent,
		Success:      rec.Success,
		ErrorMessage: rec.ErrorMessage,
		DurationMs:   rec.DurationMs,
		CreatedAt:    formatTime(rec.CreatedAt),
	}
	if rec.Metadata != "" && json.Valid([]byte(rec.Metadata)) {
		out.Metadata = json.RawMessage(rec.Metadata)
	}
	return out
}

// FromRecords converts a slice of stored records.
func FromRecords(records []activity.Record) []ActivityRecord {
	out := make([]ActivityRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, FromRecord(rec))
	}
	return out
}

// ActivityListResponse is returned by GET /api/activity.
type ActivityListResponse struct {
	Records []ActivityRecord `json:"records"`
}

// FlushResponse is returned by POST /api/flush.
type FlushResponse struct {
	Skipped   bool   `json:"skipped"`
	Attempted int    `json:"attempted"`
	Persisted int    `json:"persisted"`
	Inserted  int64  `json:"inserted"`
	Requeued  int    `json:"requeued"`
	Dropped   int    `json:"dropped"`
	Error     string `json:"error,omitempty"`
	QueueSize int    `json:"queueSize"`
}

// FromFlushReport converts a flush report.
func FromFlushReport(report queue.FlushReport, size int) FlushResponse {
	return FlushResponse{
		Skipped:   report.Skipped,
		Attempted: report.Attempted,
		Persisted: report.Persisted,
		Inserted:  report.Inserted,
		Requeued:  report.Requeued,
		Dropped:   report.Dropped,
		Error:     report.Error,
		QueueSize: size,
	}
}

// QueueStatus describes the in-memory queue.
type QueueStatus struct {
	Size            int   `json:"size"`
	Flushing        bool  `json:"flushing"`
	MaxBatchSize    int   `json:"maxBatchSize"`
	MaxRetries      int   `json:"maxRetries"`
	FlushIntervalMs int64 `json:"flushIntervalMs"`
}

// StorageStatus describes the durable store.
type StorageStatus struct {
	Backend       string           `json:"backend"`
	Path          string           `json:"path"`
	Healthy       bool             `json:"healthy"`
	SchemaVersion int              `json:"schemaVersion"`
	Records       int64            `json:"records"`
	Failures      int64            `json:"failures"`
	ByAction      map[string]int64 `json:"byAction,omitempty"`
	LastRecorded  string           `json:"lastRecorded,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// FromStorage merges backend health and stats.
func FromStorage(health store.Health, stats store.Stats) StorageStatus {
	out := StorageStatus{
		Backend:       health.Backend,
		Path:          health.Path,
		Healthy:       health.Error == "" && health.IntegrityOK,
		SchemaVersion: health.SchemaVersion,
		Records:       health.Records,
		Failures:      stats.Failures,
		LastRecorded:  formatTime(stats.LastRecorded),
		Error:         health.Error,
	}
	if stats.Total > out.Records {
		out.Records = stats.Total
	}
	if len(stats.ByAction) > 0 {
		out.ByAction = make(map[string]int64, len(stats.ByAction))
		for action, count := range stats.ByAction {
			out.ByAction[string(action)] = count
		}
	}
	return out
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Running      bool          `json:"running"`
	PID          int           `json:"pid"`
	StartedAt    string        `json:"startedAt,omitempty"`
	LockFilePath string        `json:"lockFilePath"`
	Queue        QueueStatus   `json:"queue"`
	Storage      StorageStatus `json:"storage"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

package logs

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"actlog/internal/activity"
	"actlog/internal/logging"
)

const droppedEventType = "activity_dropped"

// DroppedEntry is one activity the queue gave up on.
type DroppedEntry struct {
	LoggedAt   time.Time
	Reason     string
	RetryCount int
	Record     activity.Record
}

// Dropped returns the dropped activities logged at or after since, oldest
// first. Lines that are not JSON or whose payload cannot be decoded are
// skipped. A missing file yields no entries.
func Dropped(path string, since time.Time) ([]DroppedEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	var entries []DroppedEntry
	_, err = scanLines(file, func(line string) {
		if entry, ok := parseDropped(line); ok && !entry.LoggedAt.Before(since) {
			entries = append(entries, entry)
		}
	})
	return entries, err
}

func parseDropped(line string) (DroppedEntry, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return DroppedEntry{}, false
	}
	if stringField(fields, logging.FieldEventType) != droppedEventType {
		return DroppedEntry{}, false
	}
	payload := stringField(fields, "payload")
	if payload == "" {
		return DroppedEntry{}, false
	}
	var rec activity.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return DroppedEntry{}, false
	}

	entry := DroppedEntry{Reason: stringField(fields, "reason"), Record: rec}
	entry.LoggedAt, _ = time.Parse(time.RFC3339Nano, stringField(fields, logging.JSONTimeKey))
	if raw, ok := fields["retry_count"]; ok {
		_ = json.Unmarshal(raw, &entry.RetryCount)
	}
	return entry, true
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	return value
}

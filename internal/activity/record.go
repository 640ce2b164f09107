package activity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Free text limits, counted in runes.
const (
	MaxDescriptionLength  = 2000
	MaxErrorMessageLength = 2000
	MaxUserAgentLength    = 512
)

// Options is the loosely typed request to record one activity.
type Options struct {
	// ID, when set, is kept as the record identifier so a replayed payload
	// deduplicates against an earlier partial write.
	ID           string
	ActorID      string
	ActorRole    string
	Action       string
	ResourceType string
	ResourceID   string
	ResourceName string
	Description  string
	// Metadata is an arbitrary JSON-compatible value. It is redacted before
	// it is stored.
	Metadata  any
	Endpoint  string
	IPAddress string
	UserAgent string
	// Success defaults to true when nil.
	Success      *bool
	ErrorMessage string
	DurationMs   *int64
	// CreatedAt, when set, is kept as the event time. Replays use it to
	// preserve the original timestamp.
	CreatedAt time.Time
}

// Record is one normalized activity awaiting or after persistence.
type Record struct {
	ID           string       `json:"id"`
	ActorID      string       `json:"actor_id,omitempty"`
	ActorRole    string       `json:"actor_role,omitempty"`
	Action       Action       `json:"action"`
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   string       `json:"resource_id,omitempty"`
	ResourceName string       `json:"resource_name,omitempty"`
	Description  string       `json:"description,omitempty"`
	// Metadata holds the redacted metadata encoded as JSON, empty when absent.
	Metadata     string    `json:"metadata,omitempty"`
	Endpoint     string    `json:"endpoint,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMs   *int64    `json:"duration_ms,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate reports the first field of opts that Normalize would reject.
func Validate(opts Options) error {
	_, _, err := parseKinds(opts)
	return err
}

func parseKinds(opts Options) (Action, ResourceType, error) {
	action, err := ParseAction(opts.Action)
	if err != nil {
		return "", "", err
	}
	resource, err := ParseResourceType(opts.ResourceType)
	if err != nil {
		return "", "", err
	}
	if opts.DurationMs != nil && *opts.DurationMs < 0 {
		return "", "", fmt.Errorf("activity duration must be >= 0, got %d", *opts.DurationMs)
	}
	return action, resource, nil
}

// Normalize validates opts and produces a Record with the given id. The record
// is stamped with opts.CreatedAt when set, otherwise now. Metadata is left
// empty; callers encode the redacted value with EncodeMetadata.
func Normalize(opts Options, now time.Time, id string) (Record, error) {
	if strings.TrimSpace(id) == "" {
		return Record{}, errors.New("activity id is required")
	}
	action, resource, err := parseKinds(opts)
	if err != nil {
		return Record{}, err
	}

	success := true
	if opts.Success != nil {
		success = *opts.Success
	}
	if !opts.CreatedAt.IsZero() {
		now = opts.CreatedAt
	}
	if now.IsZero() {
		now = time.Now()
	}

	rec := Record{
		ID:           strings.TrimSpace(id),
		ActorID:      strings.TrimSpace(opts.ActorID),
		ActorRole:    strings.TrimSpace(opts.ActorRole),
		Action:       action,
		ResourceType: resource,
		ResourceID:   strings.TrimSpace(opts.ResourceID),
		ResourceName: strings.TrimSpace(opts.ResourceName),
		Description:  truncate(strings.TrimSpace(opts.Description), MaxDescriptionLength),
		Endpoint:     strings.TrimSpace(opts.Endpoint),
		IPAddress:    strings.TrimSpace(opts.IPAddress),
		UserAgent:    truncate(strings.TrimSpace(opts.UserAgent), MaxUserAgentLength),
		Success:      success,
		ErrorMessage: truncate(strings.TrimSpace(opts.ErrorMessage), MaxErrorMessageLength),
		CreatedAt:    now.UTC(),
	}
	if opts.DurationMs != nil {
		d := *opts.DurationMs
		rec.DurationMs = &d
	}
	return rec, nil
}

// EncodeMetadata renders a metadata value as JSON text. Nil yields "".
func EncodeMetadata(value any) (string, error) {
	if value == nil {
		return "", nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode activity metadata: %w", err)
	}
	if string(data) == "null" {
		return "", nil
	}
	return string(data), nil
}

func truncate(value string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}

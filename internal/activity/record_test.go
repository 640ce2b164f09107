package activity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseActionAcceptsLooseSpelling(t *testing.T) {
	tests := map[string]Action{
		"create":          ActionCreate,
		" LOGIN ":         ActionLogin,
		"password-reset":  ActionPasswordReset,
		"Settings Change": ActionSettingsChange,
		"otp_verify":      ActionOTPVerify,
	}
	for input, want := range tests {
		got, err := ParseAction(input)
		if err != nil {
			t.Fatalf("ParseAction(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseAction(%q) = %q, want %q", input, got, want)
		}
	}
	if _, err := ParseAction("teleport"); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestParseResourceType(t *testing.T) {
	got, err := ParseResourceType("Marketplace-Listing")
	if err != nil || got != ResourceMarketplaceListing {
		t.Fatalf("ParseResourceType: got %q err %v", got, err)
	}
	if _, err := ParseResourceType(""); !errors.Is(err, ErrUnknownResource) {
		t.Fatalf("expected ErrUnknownResource, got %v", err)
	}
	if len(ResourceTypes()) != 17 || len(Actions()) != 19 {
		t.Fatalf("unexpected enum sizes: %d resources, %d actions", len(ResourceTypes()), len(Actions()))
	}
}

func TestNormalizeDefaultsAndTrims(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	rec, err := Normalize(Options{
		ActorID:      " user-1 ",
		Action:       "update",
		ResourceType: "book",
		ResourceID:   " 42 ",
		Description:  "  changed title ",
	}, now, "id-1")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !rec.Success {
		t.Fatal("expected success to default to true")
	}
	if rec.ActorID != "user-1" || rec.ResourceID != "42" || rec.Description != "changed title" {
		t.Fatalf("fields not trimmed: %+v", rec)
	}
	if !rec.CreatedAt.Equal(now) || rec.CreatedAt.Location() != time.UTC {
		t.Fatalf("unexpected created_at %v", rec.CreatedAt)
	}
	if rec.Metadata != "" {
		t.Fatalf("expected empty metadata, got %q", rec.Metadata)
	}
}

func TestNormalizeKeepsExplicitFailureAndDuration(t *testing.T) {
	failed := false
	duration := int64(87)
	rec, err := Normalize(Options{
		Action:       "login",
		ResourceType: "auth",
		Success:      &failed,
		ErrorMessage: "invalid credentials",
		DurationMs:   &duration,
	}, time.Now(), "id-2")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	duration = 1
	if rec.Success || rec.ErrorMessage != "invalid credentials" {
		t.Fatalf("unexpected failure fields: %+v", rec)
	}
	if rec.DurationMs == nil || *rec.DurationMs != 87 {
		t.Fatalf("duration should be copied, got %v", rec.DurationMs)
	}
}

func TestNormalizeRejectsInvalidInput(t *testing.T) {
	negative := int64(-1)
	cases := []struct {
		name string
		opts Options
		id   string
	}{
		{"missing id", Options{Action: "view", ResourceType: "book"}, ""},
		{"bad action", Options{Action: "fly", ResourceType: "book"}, "x"},
		{"bad resource", Options{Action: "view", ResourceType: "spaceship"}, "x"},
		{"negative duration", Options{Action: "view", ResourceType: "book", DurationMs: &negative}, "x"},
	}
	for _, tc := range cases {
		if _, err := Normalize(tc.opts, time.Now(), tc.id); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if tc.id != "" && Validate(tc.opts) == nil {
			t.Fatalf("%s: Validate should reject", tc.name)
		}
	}
	if err := Validate(Options{Action: "view", ResourceType: "spaceship"}); !errors.Is(err, ErrUnknownResource) {
		t.Fatalf("expected ErrUnknownResource, got %v", err)
	}
	if err := Validate(Options{Action: "view", ResourceType: "book"}); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestNormalizeKeepsExplicitCreatedAt(t *testing.T) {
	original := time.Date(2025, 11, 3, 8, 30, 0, 0, time.FixedZone("CET", 3600))
	rec, err := Normalize(Options{Action: "view", ResourceType: "book", CreatedAt: original}, time.Now(), "x")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !rec.CreatedAt.Equal(original) || rec.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected original time in UTC, got %v", rec.CreatedAt)
	}
}

func TestNormalizeTruncatesByRunes(t *testing.T) {
	long := strings.Repeat("é", MaxDescriptionLength+10)
	agent := strings.Repeat("a", MaxUserAgentLength+1)
	rec, err := Normalize(Options{Action: "search", ResourceType: "book", Description: long, UserAgent: agent}, time.Now(), "id")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got := len([]rune(rec.Description)); got != MaxDescriptionLength {
		t.Fatalf("description length %d", got)
	}
	if len(rec.UserAgent) != MaxUserAgentLength {
		t.Fatalf("user agent length %d", len(rec.UserAgent))
	}
}

func TestEncodeMetadata(t *testing.T) {
	if got, err := EncodeMetadata(nil); err != nil || got != "" {
		t.Fatalf("nil metadata: %q %v", got, err)
	}
	got, err := EncodeMetadata(map[string]any{"query": "tolstoy"})
	if err != nil || got != `{"query":"tolstoy"}` {
		t.Fatalf("unexpected encoding %q %v", got, err)
	}
	if _, err := EncodeMetadata(map[string]any{"ch": make(chan int)}); err == nil {
		t.Fatal("expected error for unencodable metadata")
	}
}

func TestActorContextRoundTrip(t *testing.T) {
	if _, ok := ActorFromContext(context.Background()); ok {
		t.Fatal("expected no actor on empty context")
	}
	ctx := WithActor(context.Background(), Actor{ID: "u", Role: "reader"})
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.ID != "u" || actor.Role != "reader" {
		t.Fatalf("unexpected actor %+v ok=%v", actor, ok)
	}
}

package redact

import (
	"encoding/json"
	"reflect"
	"testing"

	"actlog/internal/config"
)

func TestRedactMasksDenylistedKeys(t *testing.T) {
	r := Default()
	input := map[string]any{
		"title":         "War and Peace",
		"Password":      "hunter2",
		"new-password":  "hunter3",
		"Access.Token":  "abc",
		"x_api_key":     "k",
		"Authorization": "Bearer z",
		"nested": map[string]any{
			"otp_code": "123456",
			"page":     float64(3),
		},
		"list": []any{map[string]any{"client_secret": "s"}, "plain"},
	}

	got := r.Redact(input).(map[string]any)

	for _, key := range []string{"Password", "new-password", "Access.Token", "x_api_key", "Authorization"} {
		if got[key] != DefaultMask {
			t.Fatalf("expected %s masked, got %v", key, got[key])
		}
	}
	if got["title"] != "War and Peace" {
		t.Fatalf("title changed: %v", got["title"])
	}
	nested := got["nested"].(map[string]any)
	if nested["otp_code"] != DefaultMask || nested["page"] != float64(3) {
		t.Fatalf("unexpected nested map: %v", nested)
	}
	list := got["list"].([]any)
	if list[0].(map[string]any)["client_secret"] != DefaultMask || list[1] != "plain" {
		t.Fatalf("unexpected list: %v", list)
	}
	if input["Password"] != "hunter2" {
		t.Fatal("input map was modified")
	}
}

func TestRedactExtraKeysAndCustomMask(t *testing.T) {
	r := New(Options{ExtraKeys: []string{"National ID"}, Mask: "***"})
	got := r.Redact(map[string]string{"national_id": "123", "city": "Tehran"}).(map[string]string)
	if got["national_id"] != "***" || got["city"] != "Tehran" {
		t.Fatalf("unexpected result: %v", got)
	}
}

func TestRedactMasksEmails(t *testing.T) {
	r := Default()
	got := r.Redact(map[string]any{"contact": "jane.doe@example.com", "note": "not an @ email"}).(map[string]any)
	if got["contact"] != "j***@example.com" {
		t.Fatalf("unexpected email mask: %v", got["contact"])
	}
	if got["note"] != "not an @ email" {
		t.Fatalf("note changed: %v", got["note"])
	}

	plain := New(Options{})
	if out := plain.Redact("jane@example.com"); out != "jane@example.com" {
		t.Fatalf("email masked while disabled: %v", out)
	}
}

func TestRedactIsIdempotent(t *testing.T) {
	r := Default()
	input := map[string]any{
		"password": "p",
		"email":    "reader@example.org",
		"tags":     []any{"a", "b"},
	}
	once := r.Redact(input)
	twice := r.Redact(once)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("not idempotent:\n%v\n%v", once, twice)
	}
}

func TestRedactStructsThroughJSON(t *testing.T) {
	type payment struct {
		Amount     int    `json:"amount"`
		CardNumber string `json:"card_number"`
	}
	got, ok := Default().Redact(payment{Amount: 10, CardNumber: "4111"}).(map[string]any)
	if !ok {
		t.Fatalf("expected map result")
	}
	if got["card_number"] != DefaultMask || got["amount"] != json.Number("10") {
		t.Fatalf("unexpected: %v", got)
	}

	raw := json.RawMessage(`{"token":"t","q":"x"}`)
	fromRaw := Default().Redact(raw).(map[string]any)
	if fromRaw["token"] != DefaultMask || fromRaw["q"] != "x" {
		t.Fatalf("unexpected raw result: %v", fromRaw)
	}
}

func TestRedactPassesThroughUnprocessable(t *testing.T) {
	r := Default()
	ch := make(chan int)
	if got := r.Redact(ch); got != any(ch) {
		t.Fatalf("expected channel passthrough")
	}
	if got := r.Redact(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	var nilRedactor *Redactor
	if got := nilRedactor.Redact("x"); got != "x" {
		t.Fatalf("nil redactor should pass through, got %v", got)
	}
}

func TestRedactStopsAtMaxDepth(t *testing.T) {
	deepest := map[string]any{"password": "still-here"}
	var value any = deepest
	for i := 0; i < MaxDepth+5; i++ {
		value = map[string]any{"child": value}
	}

	got := Default().Redact(value)
	node := got.(map[string]any)
	for {
		child, ok := node["child"].(map[string]any)
		if !ok {
			break
		}
		node = child
	}
	if node["password"] != "still-here" {
		t.Fatalf("expected values beyond max depth untouched, got %v", node["password"])
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Redaction.ExtraKeys = []string{"national_id"}
	r := New(OptionsFrom(cfg.Redaction))
	if !r.IsSensitiveKey("National-ID") {
		t.Fatal("configured extra key should be sensitive")
	}
	out := r.Redact(map[string]any{"national_id": "123"}).(map[string]any)
	if out["national_id"] != cfg.Redaction.Mask {
		t.Fatalf("expected configured mask, got %v", out["national_id"])
	}
}

func TestRedactKeepsLargeIntegers(t *testing.T) {
	raw := json.RawMessage(`{"orderId":9007199254740993,"token":"t"}`)
	got, ok := Default().Redact(raw).(map[string]any)
	if !ok {
		t.Fatalf("expected map result")
	}
	data, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if want := `{"orderId":9007199254740993,"token":"[REDACTED]"}`; string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}

	type order struct {
		ID uint64 `json:"id"`
	}
	fromStruct := Default().Redact(order{ID: 18446744073709551615}).(map[string]any)
	if fromStruct["id"] != json.Number("18446744073709551615") {
		t.Fatalf("struct integer changed: %v", fromStruct["id"])
	}
}

// Package redact masks sensitive values in free-form activity metadata before
// it is queued for storage.
package redact

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"actlog/internal/config"
)

// DefaultMask replaces the value of every sensitive key.
const DefaultMask = "[REDACTED]"

// MaxDepth bounds recursion; deeper values are returned untouched.
const MaxDepth = 32

var defaultKeys = []string{
	"password",
	"passwd",
	"pwd",
	"secret",
	"token",
	"api_key",
	"authorization",
	"cookie",
	"set_cookie",
	"session_id",
	"otp",
	"otp_code",
	"pin",
	"cvv",
	"card_number",
	"credit_card",
	"iban",
	"ssn",
	"private_key",
}

var substringMarkers = []string{"password", "secret", "token", "apikey"}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Options configures a Redactor.
type Options struct {
	// ExtraKeys are matched in addition to the built-in denylist.
	ExtraKeys []string
	// Mask replaces sensitive values. Empty uses DefaultMask.
	Mask string
	// MaskEmails partially masks email addresses found in string values.
	MaskEmails bool
}

// Redactor removes sensitive data from metadata values. It is safe for
// concurrent use and never panics.
type Redactor struct {
	keys       map[string]struct{}
	mask       string
	maskEmails bool
}

// New builds a Redactor from opts.
func New(opts Options) *Redactor {
	r := &Redactor{
		keys:       make(map[string]struct{}, len(defaultKeys)+len(opts.ExtraKeys)),
		mask:       opts.Mask,
		maskEmails: opts.MaskEmails,
	}
	if r.mask == "" {
		r.mask = DefaultMask
	}
	for _, key := range defaultKeys {
		r.keys[normalizeKey(key)] = struct{}{}
	}
	for _, key := range opts.ExtraKeys {
		if normalized := normalizeKey(key); normalized != "" {
			r.keys[normalized] = struct{}{}
		}
	}
	return r
}

// OptionsFrom maps the [redaction] configuration section.
func OptionsFrom(cfg config.Redaction) Options {
	return Options{
		ExtraKeys:  append([]string(nil), cfg.ExtraKeys...),
		Mask:       cfg.Mask,
		MaskEmails: cfg.MaskEmails,
	}
}

// Default returns a Redactor with the built-in denylist and email masking.
func Default() *Redactor {
	return New(Options{MaskEmails: true})
}

// Redact returns a copy of value with sensitive keys masked. Inputs are never
// modified. If value cannot be processed it is returned unchanged.
func (r *Redactor) Redact(value any) (out any) {
	if r == nil || value == nil {
		return value
	}
	defer func() {
		if recover() != nil {
			out = value
		}
	}()
	return r.walk(value, 0)
}

// IsSensitiveKey reports whether values stored under key are masked.
func (r *Redactor) IsSensitiveKey(key string) bool {
	normalized := normalizeKey(key)
	if normalized == "" {
		return false
	}
	if _, ok := r.keys[normalized]; ok {
		return true
	}
	for _, marker := range substringMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

func (r *Redactor) walk(value any, depth int) any {
	if depth > MaxDepth {
		return value
	}
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			if r.IsSensitiveKey(key) {
				out[key] = r.mask
				continue
			}
			out[key] = r.walk(item, depth+1)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(v))
		for key, item := range v {
			if r.IsSensitiveKey(key) {
				out[key] = r.mask
				continue
			}
			out[key] = r.maskString(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = r.walk(item, depth+1)
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = r.maskString(item)
		}
		return out
	case string:
		return r.maskString(v)
	case json.RawMessage:
		decoded, err := decodeJSON(v)
		if err != nil {
			return value
		}
		return r.walk(decoded, depth)
	case bool, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return v
	default:
		// Structs and typed maps are inspected through their JSON form.
		data, err := json.Marshal(v)
		if err != nil {
			return value
		}
		decoded, err := decodeJSON(data)
		if err != nil {
			return value
		}
		return r.walk(decoded, depth)
	}
}

// decodeJSON keeps numbers as json.Number so large integers survive.
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return decoded, nil
}

func (r *Redactor) maskString(value string) string {
	if !r.maskEmails || !emailPattern.MatchString(value) {
		return value
	}
	return MaskEmail(value)
}

// MaskEmail keeps the first character of the local part and the full domain:
// jane.doe@example.com becomes j***@example.com.
func MaskEmail(value string) string {
	at := strings.LastIndex(value, "@")
	if at <= 0 {
		return value
	}
	local := []rune(value[:at])
	return string(local[0]) + "***" + value[at:]
}

func normalizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', '.', ' ':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(key)))
}

package logging

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler renders one human readable line per record:
//
//	2026-01-02 15:04:05 INFO  queue: flushed activity batch count=3
type consoleHandler struct {
	out       *lockedWriter
	level     slog.Leveler
	bound     []field
	prefix    []string
	addSource bool
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) write(p []byte) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	_, err := lw.w.Write(p)
	return err
}

type field struct {
	key   string
	value slog.Value
}

func newConsoleHandler(w io.Writer, lvl slog.Leveler, addSource bool) slog.Handler {
	return &consoleHandler{out: &lockedWriter{w: w}, level: lvl, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	fields := append([]field(nil), h.bound...)
	record.Attrs(func(attr slog.Attr) bool {
		fields = flatten(fields, h.prefix, attr)
		return true
	})

	var component string
	var line strings.Builder
	line.Grow(128)

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	line.WriteString(formatTimestamp(ts))
	line.WriteString(" " + levelLabel(record.Level) + " ")

	kv := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.key == FieldComponent {
			if component == "" {
				component = attrString(f.value)
			}
			continue
		}
		kv = append(kv, f.key+"="+formatValue(f.value))
	}
	if component != "" {
		line.WriteString(component + ": ")
	}
	msg := strings.TrimSpace(record.Message)
	if msg == "" {
		msg = "(no message)"
	}
	line.WriteString(msg)
	if src := h.source(record); src != "" {
		line.WriteString(" [" + src + "]")
	}
	for _, pair := range kv {
		line.WriteByte(' ')
		line.WriteString(pair)
	}
	line.WriteByte('\n')
	return h.out.write([]byte(line.String()))
}

func (h *consoleHandler) source(record slog.Record) string {
	if !h.addSource || record.PC == 0 {
		return ""
	}
	src := record.Source()
	if src == nil {
		return ""
	}
	return filepath.Base(src.File) + ":" + strconv.Itoa(src.Line)
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	next.bound = flatten(append([]field(nil), h.bound...), h.prefix, attrs...)
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = append(append([]string(nil), h.prefix...), name)
	return &next
}

// flatten appends attrs to dst, expanding groups into dotted keys.
func flatten(dst []field, prefix []string, attrs ...slog.Attr) []field {
	for _, attr := range attrs {
		if attr.Equal(slog.Attr{}) {
			continue
		}
		value := attr.Value.Resolve()
		path := prefix
		if attr.Key != "" {
			path = append(append([]string(nil), prefix...), attr.Key)
		}
		if value.Kind() == slog.KindGroup {
			dst = flatten(dst, path, value.Group()...)
			continue
		}
		dst = append(dst, field{key: strings.Join(path, "."), value: value})
	}
	return dst
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN "
	case level >= slog.LevelInfo:
		return "INFO "
	default:
		return "DEBUG"
	}
}

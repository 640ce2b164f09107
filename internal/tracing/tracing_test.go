package tracing

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"

	"actlog/internal/config"
)

func TestInitStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), config.Tracing{Exporter: "stdout", ServiceName: "actlog-test", SampleRatio: 1}, &buf)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	_, span := StartSpan(context.Background(), "activity.flush", attribute.Int("batch.size", 3))
	Fail(span, errors.New("storage offline"))
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"activity.flush", "batch.size", "storage offline", "actlog-test"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in exported span: %s", want, out)
		}
	}
}

func TestRecordStatusMarksServerErrors(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), config.Tracing{Exporter: "stdout", SampleRatio: 1}, &buf)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	_, ok := StartSpan(context.Background(), "api ok")
	RecordStatus(ok, 202)
	ok.End()
	_, failed := StartSpan(context.Background(), "api failed")
	RecordStatus(failed, 503)
	failed.End()
	RecordStatus(nil, 500)

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"http.response.status_code", "Service Unavailable"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in exported spans: %s", want, out)
		}
	}
}

func TestInitNoneInstallsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), config.Tracing{Exporter: "none"}, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	_, span := StartSpan(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatal("expected invalid span context from noop provider")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitRejectsUnknownExporter(t *testing.T) {
	if _, err := Init(context.Background(), config.Tracing{Exporter: "zipkin"}, nil); err == nil {
		t.Fatal("expected error")
	}
}

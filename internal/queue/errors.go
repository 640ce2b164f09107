package queue

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDrainIncomplete is returned by Shutdown when entries remain buffered.
	ErrDrainIncomplete = errors.New("activity queue drain incomplete")
	// ErrSinkPanic wraps a panic recovered from the storage call.
	ErrSinkPanic = errors.New("activity sink panicked")
)

// ErrorClassifier lets storage errors declare a classification that is
// attached to flush failure logs and metrics.
type ErrorClassifier interface {
	ErrorKind() string
}

// FailureKind returns the classification of a flush error. Panics and
// deadline expiry take precedence over ErrorClassifier; anything else without
// a classification is "unknown".
func FailureKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrSinkPanic):
		return "panic"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		if kind := classifier.ErrorKind(); kind != "" {
			return kind
		}
	}
	return "unknown"
}

func failureHint(kind string) string {
	switch kind {
	case "validation":
		return "storage rejected the batch; inspect dropped payloads"
	case "timeout":
		return "storage write exceeded queue.insert_timeout_seconds; check database load"
	case "panic":
		return "storage backend panicked; check daemon logs for the stack"
	default:
		return "check storage availability with `actlog health`"
	}
}

func recoveredError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("%w: %w", ErrSinkPanic, err)
	}
	return fmt.Errorf("%w: %v", ErrSinkPanic, r)
}

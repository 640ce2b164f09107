package store

// Error kinds reported through ErrorKind.
const (
	KindValidation  = "validation"
	KindUnavailable = "unavailable"
)

// Error wraps a backend failure with a classification the queue uses to
// describe failed flushes.
type Error struct {
	Kind string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorKind implements the classifier interface consumed by the queue.
func (e *Error) ErrorKind() string { return e.Kind }

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindUnavailable, Op: op, Err: err}
}

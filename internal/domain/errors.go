package domain

import "github.com/pkg/errors"

// Validation errors: never retried, surfaced to the caller or written to
// the record as a terminal failure.
var (
	ErrUnknownQueue             = errors.New("unknown queue")
	ErrUnknownJobType           = errors.New("unknown job type")
	ErrPayloadNotSerializable   = errors.New("payload not serializable")
	ErrSubjectNotFound          = errors.New("subject not found")
	ErrExportNotFound           = errors.New("export not found")
	ErrExportForbidden          = errors.New("export belongs to another requester")
	ErrExportNotReady           = errors.New("export not ready")
	ErrUnsupportedExportKind    = errors.New("unsupported export kind")
	ErrAggregationSourceFailure = errors.New("aggregation source unreachable")
)

type transientError struct{ err error }

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

// Transient marks err as retryable at the queue level. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Transientf wraps a formatted cause as a transient error.
func Transientf(err error, format string, args ...any) error {
	return Transient(errors.Wrapf(err, format, args...))
}

// IsTransient reports whether err (or anything it wraps) was marked
// transient. Everything else is treated as terminal at the job boundary.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

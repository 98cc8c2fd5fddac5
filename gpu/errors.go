package gpu

import "github.com/cockroachdb/errors"

// ErrFatal marks device errors the frame loop cannot recover from: failed
// submissions, acquisitions, presentations and fence waits.
var ErrFatal = errors.New("fatal device error")

// ErrReleased is returned when an operation is attempted through a
// reference that has already been released.
var ErrReleased = errors.New("object already released")

// ErrUnsupported is returned by drivers for program kinds or features they
// cannot build.
var ErrUnsupported = errors.New("unsupported by driver")

// Fatal wraps err with op and marks it with ErrFatal.
func Fatal(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, op), ErrFatal)
}

// IsFatal reports whether err carries the ErrFatal mark.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

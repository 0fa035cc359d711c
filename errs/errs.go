// Package errs classifies the failures the controller logs but never
// surfaces to the caller as a Go error value. cache.go wraps every
// dormant-store or timer-fault error with Wrap and a Kind before logging
// it, so the log line carries the classification even though the wrapped
// error itself goes no further.
package errs

import "github.com/pkg/errors"

// Kind classifies a contained failure for logging purposes. It is not a Go
// error type itself; Wrap records it only as a prefix of the error message,
// so there is no sentinel to match with errors.Is.
type Kind string

const (
	KindDormantUnavailable   Kind = "dormant-unavailable"
	KindDeserializationError Kind = "deserialization-failure"
	KindTimerFault           Kind = "timer-fault"
)

// Wrap attaches kind as context to err using pkg/errors, so a logged
// failure keeps a call-site-rooted chain even though it never reaches a
// caller.
func Wrap(err error, kind Kind, msg string) error {
	return errors.Wrap(err, string(kind)+": "+msg)
}

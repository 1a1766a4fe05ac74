package envelope

import (
	"errors"
	"fmt"
)

// MalformedError reports a body that could not be turned into an event.
// Recoverable errors are acknowledged to the sender; the rest become a 400.
type MalformedError struct {
	Source      Source
	Reason      string
	Recoverable bool
	Err         error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s envelope: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed %s envelope: %s", e.Source, e.Reason)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// IsRecoverable reports whether err is a MalformedError that is safe to acknowledge.
func IsRecoverable(err error) bool {
	var me *MalformedError
	return errors.As(err, &me) && me.Recoverable
}

func recoverable(src Source, reason string, err error) error {
	return &MalformedError{Source: src, Reason: reason, Recoverable: true, Err: err}
}

func fatal(src Source, reason string, err error) error {
	return &MalformedError{Source: src, Reason: reason, Recoverable: false, Err: err}
}

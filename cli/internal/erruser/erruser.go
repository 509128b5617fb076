// Package erruser provides errors whose Error() returns only a user-facing
// message; the cause stays available via Unwrap() for logs and details.
package erruser

import "errors"

// Err pairs a user-facing message with an optional cause. Error() returns
// only Msg so the primary line never leaks command names or exit codes.
type Err struct {
	Msg string
	Err error
}

// Error returns the user-facing message only.
func (e *Err) Error() string {
	if e == nil {
		return ""
	}
	return e.Msg
}

// Unwrap returns the underlying cause, if any.
func (e *Err) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New returns an error carrying the given user-facing message. A non-nil
// err is wrapped and available via Unwrap() so callers can print
// "Details: %v". With a nil err a plain error is returned.
func New(msg string, err error) error {
	if err == nil {
		return errors.New(msg)
	}
	return &Err{Msg: msg, Err: err}
}

// Message reports the user-facing message when err (or anything it wraps)
// is an *Err.
func Message(err error) (string, bool) {
	var ue *Err
	if errors.As(err, &ue) {
		return ue.Msg, true
	}
	return "", false
}

package timedrestart

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTime    = errors.New("invalid time, expected HH:MM")
	ErrInvalidWarning = errors.New("invalid warning minutes")
	ErrTimezoneFormat = errors.New("invalid timezone format, expected an integer")
	ErrTimezoneRange  = fmt.Errorf("timezone out of range [%d, %d]", MinTimezone, MaxTimezone)
	ErrAlreadyExists  = errors.New("restart time already exists")
	ErrNotFound       = errors.New("restart time not found")
	// ErrNotSaved marks a change that was applied in memory but not persisted.
	ErrNotSaved = errors.New("change not saved")
)

// ParseError reports a stored schedule document that could not be decoded.
// The defaults are used instead; the document itself is left untouched.
type ParseError struct {
	Document string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Document, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

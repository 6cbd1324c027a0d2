package project

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedProbeReport    = errors.New("malformed probe report")
	ErrInsufficientMeshSamples = errors.New("insufficient mesh samples")
	ErrDegenerateArc           = errors.New("degenerate arc")
	ErrAlreadyApplied          = errors.New("compensation already applied")
	ErrNothingApplied          = errors.New("no new compensation applied")
	ErrNoProgram               = errors.New("no gcode loaded")
	ErrNoProbeArea             = errors.New("no probe area")
	ErrProbeRunActive          = errors.New("probe run in progress")
)

// ParseError aborts a compensation run. Line is 1 based.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v: %q", e.Line, e.Err, e.Text)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

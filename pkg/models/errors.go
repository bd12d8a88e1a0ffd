package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every stage of the pipeline. Callers match them
// with errors.Is; stages add context by wrapping.
var (
	// ErrInvalidParameter covers fusion weights that sum to zero or are
	// negative, empty clusterings handed to a scorer, and similar misuse.
	ErrInvalidParameter = errors.New("mobility: invalid parameter")

	// ErrMissingData is returned when a day, tower or feature matrix is absent.
	ErrMissingData = errors.New("mobility: missing data")

	// ErrDegenerateInput marks samples that cannot be scored, e.g. a
	// trajectory with no remaining stops after the seen prefix.
	ErrDegenerateInput = errors.New("mobility: degenerate input")
)

// DayError identifies the day (and optionally the feature) a batch failed on.
type DayError struct {
	Day     int
	Stage   string
	Feature string
	Err     error
}

func (e *DayError) Error() string {
	if e.Feature != "" {
		return fmt.Sprintf("%s failed for day %d (feature %s): %v", e.Stage, e.Day, e.Feature, e.Err)
	}
	return fmt.Sprintf("%s failed for day %d: %v", e.Stage, e.Day, e.Err)
}

func (e *DayError) Unwrap() error {
	return e.Err
}

// WrapDay attaches day/stage context to err. A nil err stays nil.
func WrapDay(stage string, day int, err error) error {
	if err == nil {
		return nil
	}
	var de *DayError
	if errors.As(err, &de) && de.Day == day {
		return err
	}
	return &DayError{Day: day, Stage: stage, Err: err}
}

package calendar

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidWindow     = errors.New("calendar: work window must satisfy 0 <= start < end <= 24")
	ErrInvalidDuration   = errors.New("calendar: duration must be > 0")
	ErrInvalidInterval   = errors.New("calendar: interval end before start")
	ErrUnknownRecurrence = errors.New("calendar: unknown recurrence")
)

// ConflictError is returned by strict placement when the candidate interval
// overlaps existing events.
type ConflictError struct {
	Candidate Interval
	Conflicts []Event
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("calendar conflict: %s-%s overlaps %d event(s)",
		e.Candidate.Start.Format("2006-01-02 15:04"), e.Candidate.End.Format("15:04"), len(e.Conflicts))
}

// IsConflict reports whether err carries a *ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

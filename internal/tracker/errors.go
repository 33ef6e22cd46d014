package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when the job id is not registered with
	// the tracker
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotTerminal is returned when acknowledging a job that has not
	// reached a terminal state yet
	ErrJobNotTerminal = errors.New("job has not reached a terminal state")
)

// AlreadyActiveError is returned by Start when a non-terminal job already
// exists for the same logical request. Rejected synchronously, never
// queued.
type AlreadyActiveError struct {
	RequestKey  string
	ActiveJobID string
}

func (e *AlreadyActiveError) Error() string {
	return fmt.Sprintf("request %q already has active job %s", e.RequestKey, e.ActiveJobID)
}

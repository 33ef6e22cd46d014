package publisher

import "errors"

var (
	// ErrInvalidMessage is returned when a queue message is malformed
	ErrInvalidMessage = errors.New("invalid publish message")

	// ErrEpisodeNotFound is returned when the referenced episode row is gone
	ErrEpisodeNotFound = errors.New("episode not found")

	// ErrAlreadyPublished is returned when the episode was published by an
	// earlier delivery of the same message
	ErrAlreadyPublished = errors.New("episode already published")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

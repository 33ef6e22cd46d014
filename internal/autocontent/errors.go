package autocontent

import "fmt"

// SubmissionError is returned when the remote service rejects a job
// creation request or is unreachable. It is never retried internally;
// retrying is the caller's decision.
type SubmissionError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("submission rejected (HTTP %d): %s", e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return "submission failed: " + e.Err.Error()
	}
	return fmt.Sprintf("submission rejected (HTTP %d)", e.StatusCode)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// PollError is a transient network/HTTP failure while polling a job
// status. The tracker absorbs these and retries on the next tick; a
// "not yet ready" response body is a valid RawStatus, not a PollError.
type PollError struct {
	StatusCode int
	Err        error
}

func (e *PollError) Error() string {
	if e.Err != nil {
		return "status poll failed: " + e.Err.Error()
	}
	return fmt.Sprintf("status poll failed (HTTP %d)", e.StatusCode)
}

func (e *PollError) Unwrap() error {
	return e.Err
}

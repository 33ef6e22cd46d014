package tracker

import "fmt"

// Stage identifies where a job is in its lifecycle. Transitions only move
// forward: Created -> Submitted -> InProgress -> {Succeeded | Failed | TimedOut}.
type Stage string

const (
	StageCreated    Stage = "CREATED"
	StageSubmitted  Stage = "SUBMITTED"
	StageInProgress Stage = "IN_PROGRESS"
	StageSucceeded  Stage = "SUCCEEDED"
	StageFailed     Stage = "FAILED"
	StageTimedOut   Stage = "TIMED_OUT"
)

// Terminal reports whether the stage is final. Terminal stages are sticky;
// no observation moves a job out of one.
func (s Stage) Terminal() bool {
	return s == StageSucceeded || s == StageFailed || s == StageTimedOut
}

// State is the canonical job state derived from raw upstream payloads.
// AudioURL is set exactly once, at the transition into Succeeded;
// ErrorMessage exactly once, at the transition into Failed.
type State struct {
	Stage        Stage
	Progress     int
	AudioURL     string
	ErrorMessage string

	// Diagnostic marks a state derived from a payload that carried no
	// usable status information at all.
	Diagnostic bool
}

// Terminal reports whether the state's stage is final.
func (s State) Terminal() bool {
	return s.Stage.Terminal()
}

func (s State) String() string {
	switch s.Stage {
	case StageInProgress:
		return fmt.Sprintf("%s(%d)", s.Stage, s.Progress)
	case StageSucceeded:
		return fmt.Sprintf("%s(%s)", s.Stage, s.AudioURL)
	case StageFailed:
		return fmt.Sprintf("%s(%s)", s.Stage, s.ErrorMessage)
	default:
		return string(s.Stage)
	}
}

package tracker

import "github.com/cuongbtq/paperpod/internal/autocontent"

// Normalize maps a raw upstream status payload onto the canonical state.
// It is a pure function: no side effects, identical input yields identical
// output.
//
// Precedence: a non-empty audio_url means Succeeded regardless of the
// numeric progress value; a non-empty error_message means Failed. Numeric
// progress alone is always InProgress, including 100 — the upstream service
// reports 100 while the artifact is still rendering, so completion is only
// ever inferred from the artifact itself. A payload carrying no usable
// status information normalizes to InProgress(0) with the Diagnostic flag;
// absence of information is never completion or failure.
func Normalize(raw autocontent.RawStatus) State {
	if raw.AudioURL != "" {
		return State{Stage: StageSucceeded, Progress: 100, AudioURL: raw.AudioURL}
	}

	if raw.ErrorMessage != "" {
		return State{Stage: StageFailed, ErrorMessage: raw.ErrorMessage}
	}

	if !raw.Status.Known {
		return State{Stage: StageInProgress, Progress: 0, Diagnostic: true}
	}

	progress := raw.Status.Value
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	return State{Stage: StageInProgress, Progress: progress}
}

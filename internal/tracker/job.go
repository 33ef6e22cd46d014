package tracker

import (
	"sync"
	"time"
)

// Source identifies which channel delivered an observation. Informational
// only; merge correctness never depends on it.
type Source string

const (
	SourcePoll    Source = "poll"
	SourceWebhook Source = "webhook"
)

// Conflict records a terminal observation that disagreed with an earlier
// terminal state. The first terminal observation wins; later disagreeing
// ones are kept here for diagnostics instead of being applied or silently
// dropped.
type Conflict struct {
	Source     Source    `json:"source"`
	State      State     `json:"state"`
	ObservedAt time.Time `json:"observed_at"`
}

// Job is a point-in-time snapshot of one tracked remote job. Snapshots are
// copies; mutating one has no effect on the tracker.
type Job struct {
	ID               string
	RequestKey       string
	State            State
	CreatedAt        time.Time
	LastObservedAt   time.Time
	CompletedAt      time.Time
	ObservationCount int
	LastUpdateSource Source
	Conflicts        []Conflict
}

// entry is the tracker's internal mutable record for one job. Its mutex
// serializes merges for the job; entries for different jobs never
// cross-block.
type entry struct {
	mu sync.Mutex

	id               string
	requestKey       string
	state            State
	createdAt        time.Time
	lastObservedAt   time.Time
	completedAt      time.Time
	observationCount int
	lastUpdateSource Source
	conflicts        []Conflict

	// stopPolling cancels this job's polling goroutine. Nil for jobs
	// registered without polling.
	stopPolling func()
}

// snapshotLocked copies the entry into an immutable Job. Callers must hold
// e.mu.
func (e *entry) snapshotLocked() Job {
	job := Job{
		ID:               e.id,
		RequestKey:       e.requestKey,
		State:            e.state,
		CreatedAt:        e.createdAt,
		LastObservedAt:   e.lastObservedAt,
		CompletedAt:      e.completedAt,
		ObservationCount: e.observationCount,
		LastUpdateSource: e.lastUpdateSource,
	}
	if len(e.conflicts) > 0 {
		job.Conflicts = make([]Conflict, len(e.conflicts))
		copy(job.Conflicts, e.conflicts)
	}
	return job
}

package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/paperpod/internal/autocontent"
)

// Default bounds, used when the corresponding Config field is zero
const (
	DefaultPollInterval    = 15 * time.Second
	DefaultMaxWallClock    = 600 * time.Second
	DefaultMaxObservations = 40
	DefaultRetentionWindow = 30 * time.Minute
	DefaultSweepInterval   = time.Minute
)

// Poller pulls the current raw status of a remote job. Implemented by the
// AutoContent client.
type Poller interface {
	Poll(ctx context.Context, jobID string) (autocontent.RawStatus, error)
}

// UpdateFunc receives a snapshot after every applied job mutation. It runs
// outside the job's lock, so implementations may do I/O (persist the
// snapshot, publish an event) without stalling merges or reads.
type UpdateFunc func(job Job)

// Config holds tracker tuning parameters
type Config struct {
	PollInterval    time.Duration
	MaxWallClock    time.Duration
	MaxObservations int
	RetentionWindow time.Duration
	SweepInterval   time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxWallClock <= 0 {
		c.MaxWallClock = DefaultMaxWallClock
	}
	if c.MaxObservations <= 0 {
		c.MaxObservations = DefaultMaxObservations
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = DefaultRetentionWindow
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

// Tracker is the reconciliation engine. It owns the job table, merges
// observations from the poll and webhook channels into one monotonic state
// per job, runs the per-job polling loops, and evicts settled jobs.
//
// The table lock is held only for map lookups; merges serialize on a
// per-job mutex, so observations for different jobs never cross-block.
type Tracker struct {
	config   Config
	poller   Poller
	logger   *slog.Logger
	onUpdate UpdateFunc

	mu     sync.RWMutex
	jobs   map[string]*entry
	active map[string]string // logical request key -> active job id

	wg sync.WaitGroup
}

// New creates a tracker. onUpdate may be nil.
func New(config Config, poller Poller, logger *slog.Logger, onUpdate UpdateFunc) *Tracker {
	return &Tracker{
		config:   config.withDefaults(),
		poller:   poller,
		logger:   logger,
		onUpdate: onUpdate,
		jobs:     make(map[string]*entry),
		active:   make(map[string]string),
	}
}

// Start registers a new job in Submitted state and launches its polling
// loop. requestKey identifies the logical request; at most one non-terminal
// job may exist per key, and a second Start for the same key fails with
// *AlreadyActiveError. ctx bounds the polling goroutine's lifetime.
func (t *Tracker) Start(ctx context.Context, jobID, requestKey string) error {
	now := time.Now()

	t.mu.Lock()
	if activeID, ok := t.active[requestKey]; ok {
		t.mu.Unlock()
		return &AlreadyActiveError{RequestKey: requestKey, ActiveJobID: activeID}
	}
	if _, ok := t.jobs[jobID]; ok {
		t.mu.Unlock()
		return &AlreadyActiveError{RequestKey: requestKey, ActiveJobID: jobID}
	}

	pollCtx, stop := context.WithCancel(ctx)
	e := &entry{
		id:          jobID,
		requestKey:  requestKey,
		state:       State{Stage: StageSubmitted},
		createdAt:   now,
		stopPolling: stop,
	}
	t.jobs[jobID] = e
	t.active[requestKey] = jobID
	t.mu.Unlock()

	t.logger.Info("Job registered",
		slog.String("job_id", jobID),
		slog.String("request_key", requestKey),
	)

	t.wg.Add(1)
	go t.pollLoop(pollCtx, e)

	t.notify(e)
	return nil
}

// Observe normalizes a raw status payload and merges it into the job's
// canonical state. Terminal states are sticky: the first terminal
// observation wins, and a later disagreeing terminal is recorded as a
// conflict diagnostic instead of being applied. Progress never regresses.
func (t *Tracker) Observe(jobID string, raw autocontent.RawStatus, source Source) error {
	e := t.lookup(jobID)
	if e == nil {
		return ErrJobNotFound
	}

	incoming := Normalize(raw)
	now := time.Now()

	e.mu.Lock()
	e.observationCount++
	e.lastObservedAt = now
	e.lastUpdateSource = source

	settled := false
	switch {
	case e.state.Terminal():
		if incoming.Terminal() && incoming != e.state {
			e.conflicts = append(e.conflicts, Conflict{Source: source, State: incoming, ObservedAt: now})
			t.logger.Warn("Conflicting terminal observation discarded",
				slog.String("job_id", jobID),
				slog.String("source", string(source)),
				slog.String("kept", e.state.String()),
				slog.String("discarded", incoming.String()),
			)
		}

	case incoming.Terminal():
		e.state = incoming
		e.completedAt = now
		settled = true
		t.logger.Info("Job reached terminal state",
			slog.String("job_id", jobID),
			slog.String("state", incoming.String()),
			slog.String("source", string(source)),
			slog.Int("observations", e.observationCount),
		)

	default:
		if incoming.Progress < e.state.Progress {
			incoming.Progress = e.state.Progress
		}
		e.state = incoming
	}
	e.mu.Unlock()

	if settled {
		t.settle(e)
	}
	t.notify(e)
	return nil
}

// Snapshot returns a copy of the job's current state. Non-blocking beyond
// the time it takes to copy the record; never triggers a poll.
func (t *Tracker) Snapshot(jobID string) (Job, bool) {
	e := t.lookup(jobID)
	if e == nil {
		return Job{}, false
	}

	e.mu.Lock()
	job := e.snapshotLocked()
	e.mu.Unlock()
	return job, true
}

// Cancel marks a non-terminal job TimedOut and stops its polling loop. The
// remote job is left untouched; only local tracking ends. Cancelling an
// already-terminal job is a no-op.
func (t *Tracker) Cancel(jobID string) error {
	e := t.lookup(jobID)
	if e == nil {
		return ErrJobNotFound
	}

	e.mu.Lock()
	if e.state.Terminal() {
		e.mu.Unlock()
		return nil
	}
	e.state = State{Stage: StageTimedOut}
	e.completedAt = time.Now()
	e.mu.Unlock()

	t.logger.Info("Job cancelled", slog.String("job_id", jobID))

	t.settle(e)
	t.notify(e)
	return nil
}

// Ack acknowledges a terminal job and evicts it from the table. Fails with
// ErrJobNotTerminal while the job is still running.
func (t *Tracker) Ack(jobID string) error {
	e := t.lookup(jobID)
	if e == nil {
		return ErrJobNotFound
	}

	e.mu.Lock()
	terminal := e.state.Terminal()
	e.mu.Unlock()
	if !terminal {
		return ErrJobNotTerminal
	}

	t.mu.Lock()
	delete(t.jobs, jobID)
	t.mu.Unlock()
	return nil
}

// Run sweeps terminal jobs past the retention window until ctx is
// cancelled, then waits for the polling goroutines to drain.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.wg.Wait()
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

// Active returns the id of the non-terminal job registered for requestKey,
// if any. Callers can use it to reject a duplicate submission before paying
// for the remote call; Start still enforces the invariant either way.
func (t *Tracker) Active(requestKey string) (string, bool) {
	t.mu.RLock()
	id, ok := t.active[requestKey]
	t.mu.RUnlock()
	return id, ok
}

// lookup returns the entry for jobID, or nil.
func (t *Tracker) lookup(jobID string) *entry {
	t.mu.RLock()
	e := t.jobs[jobID]
	t.mu.RUnlock()
	return e
}

// settle stops the job's polling loop and frees its logical request key so
// a new job for the same request can start.
func (t *Tracker) settle(e *entry) {
	if e.stopPolling != nil {
		e.stopPolling()
	}

	t.mu.Lock()
	if t.active[e.requestKey] == e.id {
		delete(t.active, e.requestKey)
	}
	t.mu.Unlock()
}

// notify delivers a snapshot to the onUpdate hook outside the job's lock.
func (t *Tracker) notify(e *entry) {
	if t.onUpdate == nil {
		return
	}

	e.mu.Lock()
	job := e.snapshotLocked()
	e.mu.Unlock()
	t.onUpdate(job)
}

// pollLoop pulls the remote status on a fixed interval until the job
// settles or exhausts its wall-clock / observation bounds, at which point a
// still-running job is forced to TimedOut. Transient poll failures are
// logged and retried on the next tick; they never fail the job. A result
// landing after the job settled is discarded by the merge in Observe.
func (t *Tracker) pollLoop(ctx context.Context, e *entry) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.PollInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(t.config.MaxWallClock)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-deadline.C:
			t.forceTimeout(e, "wall-clock limit reached")
			return

		case <-ticker.C:
			e.mu.Lock()
			terminal := e.state.Terminal()
			e.mu.Unlock()
			if terminal {
				return
			}

			raw, err := t.poller.Poll(ctx, e.id)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				t.logger.Warn("Status poll failed, will retry",
					slog.String("job_id", e.id),
					slog.Any("error", err),
				)
				continue
			}

			if err := t.Observe(e.id, raw, SourcePoll); err != nil {
				return
			}

			e.mu.Lock()
			terminal = e.state.Terminal()
			exhausted := e.observationCount >= t.config.MaxObservations
			e.mu.Unlock()
			if terminal {
				return
			}
			if exhausted {
				t.forceTimeout(e, "observation limit reached")
				return
			}
		}
	}
}

// forceTimeout moves a still-running job to TimedOut after its polling
// bounds are exhausted.
func (t *Tracker) forceTimeout(e *entry, reason string) {
	e.mu.Lock()
	if e.state.Terminal() {
		e.mu.Unlock()
		return
	}
	e.state = State{Stage: StageTimedOut}
	e.completedAt = time.Now()
	observations := e.observationCount
	e.mu.Unlock()

	t.logger.Warn("Job timed out",
		slog.String("job_id", e.id),
		slog.String("reason", reason),
		slog.Int("observations", observations),
	)

	t.settle(e)
	t.notify(e)
}

// sweep evicts terminal jobs whose retention window has elapsed.
func (t *Tracker) sweep() {
	cutoff := time.Now().Add(-t.config.RetentionWindow)

	t.mu.Lock()
	for id, e := range t.jobs {
		e.mu.Lock()
		expired := e.state.Terminal() && !e.completedAt.IsZero() && e.completedAt.Before(cutoff)
		e.mu.Unlock()
		if expired {
			delete(t.jobs, id)
			t.logger.Debug("Evicted settled job", slog.String("job_id", id))
		}
	}
	t.mu.Unlock()
}

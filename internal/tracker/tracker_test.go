package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/paperpod/internal/autocontent"
)

// pollerFunc adapts a function to the Poller interface
type pollerFunc func(ctx context.Context, jobID string) (autocontent.RawStatus, error)

func (f pollerFunc) Poll(ctx context.Context, jobID string) (autocontent.RawStatus, error) {
	return f(ctx, jobID)
}

var idlePoller = pollerFunc(func(ctx context.Context, jobID string) (autocontent.RawStatus, error) {
	return autocontent.RawStatus{ID: jobID, Status: known(0)}, nil
})

func newTestTracker(cfg Config, poller Poller, onUpdate UpdateFunc) *Tracker {
	if poller == nil {
		poller = idlePoller
	}
	return New(cfg, poller, slog.New(slog.NewTextHandler(io.Discard, nil)), onUpdate)
}

// slowConfig keeps polling effectively out of the picture so tests can
// drive Observe directly.
var slowConfig = Config{
	PollInterval: time.Hour,
	MaxWallClock: time.Hour,
}

func TestTracker_Start(t *testing.T) {
	t.Run("registers job in submitted state", func(t *testing.T) {
		tr := newTestTracker(slowConfig, nil, nil)

		require.NoError(t, tr.Start(context.Background(), "job-1", "https://arxiv.org/abs/2401.02843"))

		job, ok := tr.Snapshot("job-1")
		require.True(t, ok)
		assert.Equal(t, StageSubmitted, job.State.Stage)
		assert.Equal(t, "https://arxiv.org/abs/2401.02843", job.RequestKey)
		assert.Zero(t, job.ObservationCount)
		assert.False(t, job.CreatedAt.IsZero())
	})

	t.Run("second start for the same request is rejected", func(t *testing.T) {
		tr := newTestTracker(slowConfig, nil, nil)

		require.NoError(t, tr.Start(context.Background(), "job-1", "paper-a"))
		err := tr.Start(context.Background(), "job-2", "paper-a")

		var activeErr *AlreadyActiveError
		require.ErrorAs(t, err, &activeErr)
		assert.Equal(t, "paper-a", activeErr.RequestKey)
		assert.Equal(t, "job-1", activeErr.ActiveJobID)

		_, ok := tr.Snapshot("job-2")
		assert.False(t, ok)
	})

	t.Run("request key is released once the job settles", func(t *testing.T) {
		tr := newTestTracker(slowConfig, nil, nil)

		require.NoError(t, tr.Start(context.Background(), "job-1", "paper-a"))
		require.NoError(t, tr.Observe("job-1", autocontent.RawStatus{AudioURL: "https://x/a.mp3"}, SourceWebhook))

		require.NoError(t, tr.Start(context.Background(), "job-2", "paper-a"))
	})

	t.Run("different requests run independently", func(t *testing.T) {
		tr := newTestTracker(slowConfig, nil, nil)

		require.NoError(t, tr.Start(context.Background(), "job-1", "paper-a"))
		require.NoError(t, tr.Start(context.Background(), "job-2", "paper-b"))
	})
}

func TestTracker_Observe(t *testing.T) {
	t.Run("unknown job", func(t *testing.T) {
		tr := newTestTracker(slowConfig, nil, nil)
		err := tr.Observe("missing", autocontent.RawStatus{Status: known(10)}, SourcePoll)
		assert.ErrorIs(t, err, ErrJobNotFound)
	})

	t.Run("progress advances and records the source", func(t *testing.T) {
		tr := newTestTracker(slowConfig, nil, nil)
		require.NoError(t, tr.Start(context.Background(), "job-1", "paper-a"))

		require.NoError(t, tr.Observe("job-1", autocontent.RawStatus{Status: known(10)}, SourcePoll))
		require.NoError(t, tr.Observe("job-1", autocontent.RawStatus{Status: known(40)}, SourceWebhook))

		job, _ := tr.Snapshot("job-1")
		assert.Equal(t, StageInProgress, job.State.Stage)
		assert.Equal(t, 40, job.State.Progress)
		assert.Equal(t, 2, job.ObservationCount)
		assert.Equal(t, SourceWebhook, job.LastUpdateSource)
		assert.False(t, job.LastObservedAt.IsZero())
	})

	t.Run("progress never regresses", func(t *testing.T) {
		tr := newTestTracker(slowConfig, nil, nil)
		require.NoError(t, tr.Start(context.Background(), "job-1", "paper-a"))

		require.NoError(t, tr.Observe("job-1", autocontent.RawStatus{Status: known(60)}, SourcePoll))
		require.NoError(t, tr.Observe("job-1", autocontent.RawStatus{Status: known(20)}, SourcePoll))

		job, _ := tr.Snapshot("job-1")
		assert.Equal(t, 60, job.State.Progress)
	})

	t.Run("terminal state is sticky", func(t *testing.T) {
		tr := newTestTracker(slowConfig, nil, nil)
		require.NoError(t, tr.Start(context.Background(), "job-1", "paper-a"))

		require.NoError(t, tr.Observe("job-1", autocontent.RawStatus{Status: known(10)}, SourcePoll))
		require.NoError(t, tr.Observe("job-1", autocontent.RawStatus{Status: known(100), AudioURL: "https://x/a.mp3"}, SourceWebhook))

		// Stale and duplicate observations after the terminal one.
		require.NoError(t, tr.Observe("job-1", autocontent.RawStatus{Status: known(50)}, SourcePoll))
		require.NoError(t, tr.Observe("job-1", autocontent.RawStatus{}, SourcePoll))
		require.NoError(t, tr.Observe("job-1", autocontent.RawStatus{AudioURL: "https://x/a.mp3"}, SourcePoll))

		job, _ := tr.Snapshot("job-1")
		assert.Equal(t, StageSucceeded, job.State.Stage)
		assert.Equal(t, "https://x/a.mp3", job.State.AudioURL)
		assert.Equal(t, 5, job.ObservationCount)
		assert.Empty(t, job.Conflicts, "agreeing duplicate is not a conflict")
	})

	t.Run("first terminal wins, second recorded as conflict", func(t *testing.T) {
		tr := newTestTracker(slowConfig, nil, nil)
		require.NoError(t, tr.Start(context.Background(), "job-1", "paper-a"))

		require.NoError(t, tr.Observe("job-1", autocontent.RawStatus{AudioURL: "https://x/a.mp3"}, SourceWebhook))
		require.NoError(t, tr.Observe("job-1", autocontent.RawStatus{ErrorMessage: "render crashed"}, SourcePoll))

		job, _ := tr.Snapshot("job-1")
		assert.Equal(t, StageSucceeded, job.State.Stage)
		assert.Equal(t, "https://x/a.mp3", job.State.AudioURL)

		require.Len(t, job.Conflicts, 1)
		assert.Equal(t, SourcePoll, job.Conflicts[0].Source)
		assert.Equal(t, StageFailed, job.Conflicts[0].State.Stage)
		assert.Equal(t, "render crashed", job.Conflicts[0].State.ErrorMessage)
	})

	t.Run("first terminal wins in the opposite order", func(t *testing.T) {
		tr := newTestTracker(slowConfig, nil, nil)
		require.NoError(t, tr.Start(context.Background(), "job-1", "paper-a"))

		require.NoError(t, tr.Observe("job-1", autocontent.RawStatus{ErrorMessage: "render crashed"}, SourcePoll))
		require.NoError(t, tr.Observe("job-1", autocontent.RawStatus{AudioURL: "https://x/a.mp3"}, SourceWebhook))

		job, _ := tr.Snapshot("job-1")
		assert.Equal(t, StageFailed, job.State.Stage)
		assert.Equal(t, "render crashed", job.State.ErrorMessage)
		require.Len(t, job.Conflicts, 1)
		assert.Equal(t, StageSucceeded, job.Conflicts[0].State.Stage)
	})

	t.Run("remote failure is the job outcome", func(t *testing.T) {
		tr := newTestTracker(slowConfig, nil, nil)
		require.NoError(t, tr.Start(context.Background(), "job-1", "paper-a"))

		require.NoError(t, tr.Observe("job-1", autocontent.RawStatus{Status: known(70), ErrorMessage: "source paper unreadable"}, SourcePoll))

		job, _ := tr.Snapshot("job-1")
		assert.Equal(t, StageFailed, job.State.Stage)
		assert.Equal(t, "source paper unreadable", job.State.ErrorMessage)
	})
}

func TestTracker_Cancel(t *testing.T) {
	t.Run("marks running job timed out", func(t *testing.T) {
		tr := newTestTracker(slowConfig, nil, nil)
		require.NoError(t, tr.Start(context.Background(), "job-1", "paper-a"))

		require.NoError(t, tr.Cancel("job-1"))

		job, _ := tr.Snapshot("job-1")
		assert.Equal(t, StageTimedOut, job.State.Stage)
		assert.False(t, job.CompletedAt.IsZero())

		// Key is free again.
		require.NoError(t, tr.Start(context.Background(), "job-2", "paper-a"))
	})

	t.Run("noop on terminal job", func(t *testing.T) {
		tr := newTestTracker(slowConfig, nil, nil)
		require.NoError(t, tr.Start(context.Background(), "job-1", "paper-a"))
		require.NoError(t, tr.Observe("job-1", autocontent.RawStatus{AudioURL: "https://x/a.mp3"}, SourceWebhook))

		require.NoError(t, tr.Cancel("job-1"))

		job, _ := tr.Snapshot("job-1")
		assert.Equal(t, StageSucceeded, job.State.Stage)
	})

	t.Run("unknown job", func(t *testing.T) {
		tr := newTestTracker(slowConfig, nil, nil)
		assert.ErrorIs(t, tr.Cancel("missing"), ErrJobNotFound)
	})
}

func TestTracker_Ack(t *testing.T) {
	tr := newTestTracker(slowConfig, nil, nil)
	require.NoError(t, tr.Start(context.Background(), "job-1", "paper-a"))

	assert.ErrorIs(t, tr.Ack("job-1"), ErrJobNotTerminal)

	require.NoError(t, tr.Observe("job-1", autocontent.RawStatus{AudioURL: "https://x/a.mp3"}, SourceWebhook))
	require.NoError(t, tr.Ack("job-1"))

	_, ok := tr.Snapshot("job-1")
	assert.False(t, ok)
	assert.ErrorIs(t, tr.Ack("job-1"), ErrJobNotFound)
}

func TestTracker_PollLoop(t *testing.T) {
	t.Run("polls until the remote reports the artifact", func(t *testing.T) {
		var calls atomic.Int32
		poller := pollerFunc(func(ctx context.Context, jobID string) (autocontent.RawStatus, error) {
			n := calls.Add(1)
			if n < 3 {
				return autocontent.RawStatus{ID: jobID, Status: known(int(n) * 20)}, nil
			}
			return autocontent.RawStatus{ID: jobID, Status: known(100), AudioURL: "https://x/a.mp3"}, nil
		})

		tr := newTestTracker(Config{
			PollInterval: 5 * time.Millisecond,
			MaxWallClock: time.Second,
		}, poller, nil)

		require.NoError(t, tr.Start(context.Background(), "job-1", "paper-a"))

		require.Eventually(t, func() bool {
			job, ok := tr.Snapshot("job-1")
			return ok && job.State.Terminal()
		}, time.Second, time.Millisecond)

		job, _ := tr.Snapshot("job-1")
		assert.Equal(t, StageSucceeded, job.State.Stage)
		assert.Equal(t, "https://x/a.mp3", job.State.AudioURL)
		assert.Equal(t, SourcePoll, job.LastUpdateSource)

		// Polling stops once terminal.
		settled := calls.Load()
		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, settled, calls.Load())
	})

	t.Run("transient poll errors are absorbed", func(t *testing.T) {
		var calls atomic.Int32
		poller := pollerFunc(func(ctx context.Context, jobID string) (autocontent.RawStatus, error) {
			if calls.Add(1) < 3 {
				return autocontent.RawStatus{}, &autocontent.PollError{StatusCode: 502}
			}
			return autocontent.RawStatus{ID: jobID, AudioURL: "https://x/a.mp3"}, nil
		})

		tr := newTestTracker(Config{
			PollInterval: 5 * time.Millisecond,
			MaxWallClock: time.Second,
		}, poller, nil)

		require.NoError(t, tr.Start(context.Background(), "job-1", "paper-a"))

		require.Eventually(t, func() bool {
			job, ok := tr.Snapshot("job-1")
			return ok && job.State.Stage == StageSucceeded
		}, time.Second, time.Millisecond)

		// Failed polls are not observations.
		job, _ := tr.Snapshot("job-1")
		assert.Equal(t, 1, job.ObservationCount)
	})

	t.Run("wall-clock bound forces timed out", func(t *testing.T) {
		tr := newTestTracker(Config{
			PollInterval: 5 * time.Millisecond,
			MaxWallClock: 40 * time.Millisecond,
		}, idlePoller, nil)

		require.NoError(t, tr.Start(context.Background(), "job-1", "paper-a"))

		require.Eventually(t, func() bool {
			job, ok := tr.Snapshot("job-1")
			return ok && job.State.Stage == StageTimedOut
		}, time.Second, time.Millisecond)

		job, _ := tr.Snapshot("job-1")
		assert.Empty(t, job.State.AudioURL)
	})

	t.Run("observation bound forces timed out", func(t *testing.T) {
		tr := newTestTracker(Config{
			PollInterval:    2 * time.Millisecond,
			MaxWallClock:    time.Second,
			MaxObservations: 5,
		}, idlePoller, nil)

		require.NoError(t, tr.Start(context.Background(), "job-1", "paper-a"))

		require.Eventually(t, func() bool {
			job, ok := tr.Snapshot("job-1")
			return ok && job.State.Stage == StageTimedOut
		}, time.Second, time.Millisecond)

		job, _ := tr.Snapshot("job-1")
		assert.Equal(t, 5, job.ObservationCount)
	})

	t.Run("poll errors alone still hit the wall clock", func(t *testing.T) {
		poller := pollerFunc(func(ctx context.Context, jobID string) (autocontent.RawStatus, error) {
			return autocontent.RawStatus{}, errors.New("connection refused")
		})

		tr := newTestTracker(Config{
			PollInterval: 5 * time.Millisecond,
			MaxWallClock: 40 * time.Millisecond,
		}, poller, nil)

		require.NoError(t, tr.Start(context.Background(), "job-1", "paper-a"))

		require.Eventually(t, func() bool {
			job, ok := tr.Snapshot("job-1")
			return ok && job.State.Stage == StageTimedOut
		}, time.Second, time.Millisecond)
	})

	t.Run("webhook result makes in-flight polling moot", func(t *testing.T) {
		tr := newTestTracker(Config{
			PollInterval: 5 * time.Millisecond,
			MaxWallClock: time.Second,
		}, idlePoller, nil)

		require.NoError(t, tr.Start(context.Background(), "job-1", "paper-a"))
		require.NoError(t, tr.Observe("job-1", autocontent.RawStatus{AudioURL: "https://x/a.mp3"}, SourceWebhook))

		// Stale poll results arriving afterwards never revert the state.
		time.Sleep(30 * time.Millisecond)
		job, _ := tr.Snapshot("job-1")
		assert.Equal(t, StageSucceeded, job.State.Stage)
	})
}

func TestTracker_OnUpdate(t *testing.T) {
	var mu sync.Mutex
	var seen []Job
	onUpdate := func(job Job) {
		mu.Lock()
		seen = append(seen, job)
		mu.Unlock()
	}

	tr := newTestTracker(slowConfig, nil, onUpdate)

	require.NoError(t, tr.Start(context.Background(), "job-1", "paper-a"))
	require.NoError(t, tr.Observe("job-1", autocontent.RawStatus{Status: known(30)}, SourcePoll))
	require.NoError(t, tr.Observe("job-1", autocontent.RawStatus{AudioURL: "https://x/a.mp3"}, SourceWebhook))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	assert.Equal(t, StageSubmitted, seen[0].State.Stage)
	assert.Equal(t, StageInProgress, seen[1].State.Stage)
	assert.Equal(t, StageSucceeded, seen[2].State.Stage)
}

func TestTracker_Sweep(t *testing.T) {
	tr := newTestTracker(Config{
		PollInterval:    time.Hour,
		MaxWallClock:    time.Hour,
		RetentionWindow: 10 * time.Millisecond,
		SweepInterval:   5 * time.Millisecond,
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	require.NoError(t, tr.Start(ctx, "job-done", "paper-a"))
	require.NoError(t, tr.Start(ctx, "job-live", "paper-b"))
	require.NoError(t, tr.Observe("job-done", autocontent.RawStatus{AudioURL: "https://x/a.mp3"}, SourceWebhook))

	require.Eventually(t, func() bool {
		_, ok := tr.Snapshot("job-done")
		return !ok
	}, time.Second, time.Millisecond)

	// Running jobs are never swept.
	_, ok := tr.Snapshot("job-live")
	assert.True(t, ok)
}

func TestTracker_ConcurrentObserve(t *testing.T) {
	tr := newTestTracker(slowConfig, nil, nil)
	require.NoError(t, tr.Start(context.Background(), "job-1", "paper-a"))

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				switch {
				case w == 0 && i == perWriter/2:
					tr.Observe("job-1", autocontent.RawStatus{AudioURL: "https://x/a.mp3"}, SourceWebhook)
				case w == 1 && i == perWriter/2:
					tr.Observe("job-1", autocontent.RawStatus{ErrorMessage: "boom"}, SourcePoll)
				default:
					tr.Observe("job-1", autocontent.RawStatus{Status: known(i % 100)}, SourcePoll)
				}
			}
		}(w)
	}
	wg.Wait()

	job, ok := tr.Snapshot("job-1")
	require.True(t, ok)

	// Exactly one of the two competing terminals won; the loser is on the
	// conflict list, never applied.
	require.True(t, job.State.Terminal())
	switch job.State.Stage {
	case StageSucceeded:
		assert.Equal(t, "https://x/a.mp3", job.State.AudioURL)
	case StageFailed:
		assert.Equal(t, "boom", job.State.ErrorMessage)
	default:
		t.Fatalf("unexpected terminal stage %s", job.State.Stage)
	}
	assert.Equal(t, writers*perWriter, job.ObservationCount)
	assert.Len(t, job.Conflicts, 1)
}

func TestTracker_ExampleScenario(t *testing.T) {
	// Submit; poll reports 10; webhook delivers the artifact; a stale poll
	// reporting 50 afterwards changes nothing.
	tr := newTestTracker(slowConfig, nil, nil)
	require.NoError(t, tr.Start(context.Background(), "J1", "paper-a"))

	require.NoError(t, tr.Observe("J1", autocontent.RawStatus{Status: known(10)}, SourcePoll))
	job, _ := tr.Snapshot("J1")
	assert.Equal(t, State{Stage: StageInProgress, Progress: 10}, job.State)

	require.NoError(t, tr.Observe("J1", autocontent.RawStatus{Status: known(100), AudioURL: "https://x/a.mp3"}, SourceWebhook))
	job, _ = tr.Snapshot("J1")
	assert.Equal(t, State{Stage: StageSucceeded, Progress: 100, AudioURL: "https://x/a.mp3"}, job.State)

	require.NoError(t, tr.Observe("J1", autocontent.RawStatus{Status: known(50)}, SourcePoll))
	job, _ = tr.Snapshot("J1")
	assert.Equal(t, State{Stage: StageSucceeded, Progress: 100, AudioURL: "https://x/a.mp3"}, job.State)
}

package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/paperpod/internal/autocontent"
	"github.com/cuongbtq/paperpod/internal/tracker"
)

// Defaults for the ingestion queue and the pre-registration buffer
const (
	DefaultQueueSize  = 256
	DefaultPendingTTL = 2 * time.Minute
)

// Sink consumes status observations. Implemented by the tracker.
type Sink interface {
	Observe(jobID string, raw autocontent.RawStatus, source tracker.Source) error
}

// Config holds adapter tuning parameters
type Config struct {
	QueueSize  int
	PendingTTL time.Duration
}

type notification struct {
	raw        autocontent.RawStatus
	receivedAt time.Time
}

// Adapter receives pushed status notifications over HTTP and feeds them
// into the tracker. The HTTP handler only validates and enqueues; delivery
// happens on a dispatcher goroutine, so ingestion never waits on tracker
// locks.
//
// Notifications for job ids the tracker has not registered yet (a webhook
// can outrun the submit call that created the job) are buffered per id
// until Replay is called, and dropped after PendingTTL so stray ids cannot
// grow the buffer forever.
type Adapter struct {
	sink   Sink
	logger *slog.Logger

	events     chan notification
	pendingTTL time.Duration

	mu      sync.Mutex
	pending map[string][]notification
}

// NewAdapter creates an adapter delivering into sink
func NewAdapter(cfg Config, sink Sink, logger *slog.Logger) *Adapter {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	pendingTTL := cfg.PendingTTL
	if pendingTTL <= 0 {
		pendingTTL = DefaultPendingTTL
	}

	return &Adapter{
		sink:       sink,
		logger:     logger,
		events:     make(chan notification, queueSize),
		pendingTTL: pendingTTL,
		pending:    make(map[string][]notification),
	}
}

// Handle handles POST /webhook. The payload is the poll-response shape plus
// the mandatory id field. Malformed payloads get 400 and never touch job
// state; accepted ones get 200 once enqueued.
func (a *Adapter) Handle(c *gin.Context) {
	var raw autocontent.RawStatus
	if err := c.ShouldBindJSON(&raw); err != nil {
		a.logger.Error("Malformed webhook payload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid notification payload",
		})
		return
	}

	if raw.ID == "" {
		a.logger.Error("Webhook payload missing job id")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "id is required",
		})
		return
	}

	select {
	case a.events <- notification{raw: raw, receivedAt: time.Now()}:
		c.JSON(http.StatusOK, gin.H{
			"status": "accepted",
		})
	default:
		a.logger.Error("Webhook queue full, notification rejected",
			slog.String("job_id", raw.ID),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Notification queue full",
		})
	}
}

// Run dispatches queued notifications until ctx is cancelled. Expired
// pending notifications are swept on the same loop.
func (a *Adapter) Run(ctx context.Context) {
	sweep := time.NewTicker(a.pendingTTL / 2)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n := <-a.events:
			a.dispatch(n)
		case <-sweep.C:
			a.dropExpired()
		}
	}
}

// Replay delivers any buffered notifications for jobID, in arrival order.
// Called right after the job is registered with the tracker to close the
// submit/webhook race. Notifications for a still-unregistered job go back
// into the buffer instead of being dropped.
func (a *Adapter) Replay(jobID string) {
	a.mu.Lock()
	buffered := a.pending[jobID]
	delete(a.pending, jobID)
	a.mu.Unlock()

	delivered := 0
	for i, n := range buffered {
		err := a.sink.Observe(jobID, n.raw, tracker.SourceWebhook)
		if errors.Is(err, tracker.ErrJobNotFound) {
			// Still unregistered; keep the remainder for the next replay
			// or the TTL sweep. Anything buffered meanwhile is newer.
			a.mu.Lock()
			a.pending[jobID] = append(buffered[i:], a.pending[jobID]...)
			a.mu.Unlock()
			break
		}
		if err != nil {
			a.logger.Warn("Replayed notification not applied",
				slog.String("job_id", jobID),
				slog.Any("error", err),
			)
		}
		delivered++
	}

	if delivered > 0 {
		a.logger.Info("Replayed buffered notifications",
			slog.String("job_id", jobID),
			slog.Int("count", delivered),
		)
	}
}

func (a *Adapter) dispatch(n notification) {
	err := a.sink.Observe(n.raw.ID, n.raw, tracker.SourceWebhook)
	if err == nil {
		return
	}

	if errors.Is(err, tracker.ErrJobNotFound) {
		// Webhook beat the registration; hold the payload for Replay.
		a.mu.Lock()
		a.pending[n.raw.ID] = append(a.pending[n.raw.ID], n)
		a.mu.Unlock()

		a.logger.Debug("Buffered notification for unregistered job",
			slog.String("job_id", n.raw.ID),
		)

		// Registration and its Replay can both finish between the failed
		// delivery above and the buffer append, leaving the notification
		// stranded until the TTL sweep. Replaying once more closes that
		// window; if the job is still unregistered this re-buffers.
		a.Replay(n.raw.ID)
		return
	}

	a.logger.Warn("Notification not applied",
		slog.String("job_id", n.raw.ID),
		slog.Any("error", err),
	)
}

func (a *Adapter) dropExpired() {
	cutoff := time.Now().Add(-a.pendingTTL)

	a.mu.Lock()
	for id, buffered := range a.pending {
		kept := buffered[:0]
		for _, n := range buffered {
			if n.receivedAt.After(cutoff) {
				kept = append(kept, n)
			}
		}
		if len(kept) == 0 {
			delete(a.pending, id)
			a.logger.Debug("Dropped expired notifications", slog.String("job_id", id))
			continue
		}
		a.pending[id] = kept
	}
	a.mu.Unlock()
}

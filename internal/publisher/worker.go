package publisher

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/paperpod/internal/cloudinary"
	"github.com/cuongbtq/paperpod/internal/podbean"
	"github.com/cuongbtq/paperpod/shared/rabbitmq"
)

// AudioHost re-hosts audio on stable storage. Implemented by the
// Cloudinary client.
type AudioHost interface {
	UploadAudio(ctx context.Context, filename string, audio io.Reader) (cloudinary.UploadResult, error)
}

// PodcastHost publishes episodes. Implemented by the Podbean client.
type PodcastHost interface {
	AuthorizeUpload(ctx context.Context, filename string, filesize int64) (podbean.UploadAuthorization, error)
	UploadToPresignedURL(ctx context.Context, presignedURL string, audio io.Reader, size int64) error
	PublishEpisode(ctx context.Context, title, description, fileKey string) (podbean.Episode, error)
}

// Store records publish outcomes against the episode rows
type Store interface {
	MarkPublished(ctx context.Context, jobID, episodeURL string) error
	MarkPublishFailed(ctx context.Context, jobID, reason string) error
}

// Config holds publisher worker configuration
type Config struct {
	Logger        *slog.Logger
	RabbitClient  *rabbitmq.Client
	AudioHost     AudioHost
	PodcastHost   PodcastHost
	Store         Store
	Concurrency   int
	JobTimeout    time.Duration
	PrefetchCount int
}

// Worker consumes succeeded-job messages and runs the publish pipeline:
// download the generated audio, re-host it, publish the episode.
type Worker struct {
	workerID     string
	logger       *slog.Logger
	rabbitClient *rabbitmq.Client
	audioHost    AudioHost
	podcastHost  PodcastHost
	store        Store

	concurrency   int
	jobTimeout    time.Duration
	prefetchCount int

	jobsChan chan *PublishMessage
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWorker creates a new publisher worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	prefetchCount := cfg.PrefetchCount
	if prefetchCount <= 0 {
		prefetchCount = concurrency
	}

	return &Worker{
		workerID:      "publisher-" + uuid.New().String()[:8],
		logger:        cfg.Logger,
		rabbitClient:  cfg.RabbitClient,
		audioHost:     cfg.AudioHost,
		podcastHost:   cfg.PodcastHost,
		store:         cfg.Store,
		concurrency:   concurrency,
		jobTimeout:    jobTimeout,
		prefetchCount: prefetchCount,
		jobsChan:      make(chan *PublishMessage, concurrency),
		stopChan:      make(chan struct{}),
	}
}

// Start begins consuming publish messages until ctx is canceled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting publisher worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping publisher worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Publisher worker stopped")
}

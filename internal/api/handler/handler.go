package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/paperpod/internal/api/model"
	"github.com/cuongbtq/paperpod/internal/api/storage"
	"github.com/cuongbtq/paperpod/internal/autocontent"
	"github.com/cuongbtq/paperpod/internal/content"
	"github.com/cuongbtq/paperpod/internal/tracker"
)

// JobTracker is the reconciliation engine surface the handlers use
type JobTracker interface {
	Start(ctx context.Context, jobID, requestKey string) error
	Snapshot(jobID string) (tracker.Job, bool)
	Cancel(jobID string) error
	Active(requestKey string) (string, bool)
}

// Submitter creates remote generation jobs. Implemented by the
// AutoContent client.
type Submitter interface {
	Submit(ctx context.Context, resources []autocontent.Resource, text string) (string, error)
}

// ContentGenerator produces episode metadata for a paper link
type ContentGenerator interface {
	Generate(ctx context.Context, paperLink string) (content.Payload, error)
}

// Replayer drains webhook notifications buffered before registration
type Replayer interface {
	Replay(jobID string)
}

// EpisodeStore is the persistence surface the handlers use
type EpisodeStore interface {
	CreateEpisode(ctx context.Context, episode *model.Episode) error
	GetEpisodeByJobID(ctx context.Context, jobID string) (*model.Episode, error)
	ListEpisodes(ctx context.Context, filter storage.EpisodeFilter) ([]model.Episode, error)
	DeleteEpisode(ctx context.Context, jobID string) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger        *slog.Logger
	Store         EpisodeStore
	Tracker       JobTracker
	Submitter     Submitter
	Generator     ContentGenerator
	Notifications Replayer

	// BaseCtx bounds the polling goroutines spawned on submission. It
	// must outlive individual requests.
	BaseCtx context.Context
}

// EpisodeHandler handles episode-related HTTP requests
type EpisodeHandler struct {
	logger        *slog.Logger
	store         EpisodeStore
	tracker       JobTracker
	submitter     Submitter
	generator     ContentGenerator
	notifications Replayer
	baseCtx       context.Context
}

// NewEpisodeHandler creates a new EpisodeHandler instance
func NewEpisodeHandler(deps *Dependencies) *EpisodeHandler {
	baseCtx := deps.BaseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	return &EpisodeHandler{
		logger:        deps.Logger,
		store:         deps.Store,
		tracker:       deps.Tracker,
		submitter:     deps.Submitter,
		generator:     deps.Generator,
		notifications: deps.Notifications,
		baseCtx:       baseCtx,
	}
}

package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/paperpod/internal/api/dto"
	"github.com/cuongbtq/paperpod/internal/api/model"
	"github.com/cuongbtq/paperpod/internal/api/storage"
	"github.com/cuongbtq/paperpod/internal/autocontent"
	"github.com/cuongbtq/paperpod/internal/content"
	"github.com/cuongbtq/paperpod/internal/tracker"
)

// CreateEpisode handles POST /api/v1/episodes
// Submits a generation job for a paper and registers it with the tracker
func (h *EpisodeHandler) CreateEpisode(c *gin.Context) {
	h.logger.Info("CreateEpisode called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	var req dto.CreateEpisodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	paperLink := strings.TrimSpace(req.PaperLink)
	if paperLink == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "paper_link is required",
		})
		return
	}

	// Reject a duplicate submission before paying for the remote call.
	if activeID, ok := h.tracker.Active(paperLink); ok {
		c.JSON(http.StatusConflict, gin.H{
			"error":         "A job for this paper is already running",
			"active_job_id": activeID,
		})
		return
	}

	payload, err := h.resolvePayload(c, req)
	if err != nil {
		h.logger.Error("Failed to generate episode content",
			slog.String("paper_link", paperLink),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Failed to generate episode content",
		})
		return
	}

	resources := autocontent.ExpandResources([]autocontent.Resource{
		autocontent.Website(paperLink),
	})

	jobID, err := h.submitter.Submit(c.Request.Context(), resources, payload.PromptText)
	if err != nil {
		var subErr *autocontent.SubmissionError
		if errors.As(err, &subErr) {
			h.logger.Error("Generation request rejected",
				slog.String("paper_link", paperLink),
				slog.String("error", subErr.Error()),
			)
			c.JSON(http.StatusBadGateway, gin.H{
				"error": "Generation service rejected the request",
			})
			return
		}
		h.logger.Error("Failed to submit generation request", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Failed to submit generation request",
		})
		return
	}

	episode := model.Episode{
		JobID:       jobID,
		PaperLink:   paperLink,
		Title:       payload.Title,
		Description: payload.Description,
		PromptText:  payload.PromptText,
		Status:      string(tracker.StageSubmitted),
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	// The row must exist before the job is registered: a buffered webhook
	// replayed right after Start can settle the job immediately, and its
	// status flush has to find something to update.
	if err := h.store.CreateEpisode(c.Request.Context(), &episode); err != nil {
		h.logger.Error("Failed to persist episode",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to persist episode",
		})
		return
	}

	// Polling must outlive this request, so registration uses the
	// service-lifetime context.
	if err := h.tracker.Start(h.baseCtx, jobID, paperLink); err != nil {
		h.removeEpisodeRow(c, jobID)

		var activeErr *tracker.AlreadyActiveError
		if errors.As(err, &activeErr) {
			c.JSON(http.StatusConflict, gin.H{
				"error":         "A job for this paper is already running",
				"active_job_id": activeErr.ActiveJobID,
			})
			return
		}
		h.logger.Error("Failed to register job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to register job",
		})
		return
	}

	// Deliver any webhook notification that outran the registration.
	h.notifications.Replay(jobID)

	c.JSON(http.StatusCreated, gin.H{
		"job_id":      jobID,
		"paper_link":  paperLink,
		"title":       episode.Title,
		"description": episode.Description,
		"status":      episode.Status,
		"created_at":  episode.CreatedAt,
	})
}

// removeEpisodeRow undoes the insert when registration fails. Best effort;
// a leftover row is only cosmetic since nothing tracks the job.
func (h *EpisodeHandler) removeEpisodeRow(c *gin.Context, jobID string) {
	if err := h.store.DeleteEpisode(c.Request.Context(), jobID); err != nil {
		h.logger.Error("Failed to remove episode after registration failure",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// resolvePayload uses the caller-provided metadata when complete, and asks
// the content generator otherwise.
func (h *EpisodeHandler) resolvePayload(c *gin.Context, req dto.CreateEpisodeRequest) (content.Payload, error) {
	payload := content.Payload{
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		PaperLink:   strings.TrimSpace(req.PaperLink),
		PromptText:  strings.TrimSpace(req.PromptText),
	}

	if payload.Validate() == nil {
		return payload, nil
	}

	return h.generator.Generate(c.Request.Context(), payload.PaperLink)
}

// GetEpisode handles GET /api/v1/episodes/:job_id
// Returns the persisted row, refreshed with the live snapshot when the job
// is still tracked
func (h *EpisodeHandler) GetEpisode(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id is required",
		})
		return
	}

	episode, err := h.store.GetEpisodeByJobID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, storage.ErrEpisodeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Episode not found",
			})
			return
		}
		h.logger.Error("Failed to get episode", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get episode",
		})
		return
	}

	episodeDTO := toEpisodeDTO(episode)

	// The live snapshot is fresher than the last flushed row.
	if job, ok := h.tracker.Snapshot(jobID); ok {
		episodeDTO.Status = string(job.State.Stage)
		episodeDTO.Progress = job.State.Progress
		episodeDTO.AudioURL = job.State.AudioURL
		episodeDTO.ErrorMessage = job.State.ErrorMessage
		episodeDTO.ObservationCount = job.ObservationCount
		episodeDTO.LastUpdateSource = string(job.LastUpdateSource)
	}

	c.JSON(http.StatusOK, episodeDTO)
}

// GetEpisodeStatus handles GET /api/v1/episodes/:job_id/status
// Snapshot read only; never triggers a poll
func (h *EpisodeHandler) GetEpisodeStatus(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id is required",
		})
		return
	}

	if job, ok := h.tracker.Snapshot(jobID); ok {
		c.JSON(http.StatusOK, dto.StatusResponse{
			JobID:            job.ID,
			Status:           string(job.State.Stage),
			Progress:         job.State.Progress,
			AudioURL:         job.State.AudioURL,
			ErrorMessage:     job.State.ErrorMessage,
			ObservationCount: job.ObservationCount,
			LastUpdateSource: string(job.LastUpdateSource),
			Conflicts:        len(job.Conflicts),
		})
		return
	}

	// Evicted from the tracker; the row still has the settled state.
	episode, err := h.store.GetEpisodeByJobID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, storage.ErrEpisodeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get episode status", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get episode status",
		})
		return
	}

	c.JSON(http.StatusOK, dto.StatusResponse{
		JobID:            episode.JobID,
		Status:           episode.Status,
		Progress:         episode.Progress,
		AudioURL:         episode.AudioURL,
		ErrorMessage:     episode.ErrorMessage,
		ObservationCount: episode.ObservationCount,
		LastUpdateSource: episode.LastUpdateSource,
	})
}

// CancelEpisode handles POST /api/v1/episodes/:job_id/cancel
// Stops tracking locally; the remote job is left to finish on its own
func (h *EpisodeHandler) CancelEpisode(c *gin.Context) {
	jobID := c.Param("job_id")

	h.logger.Info("CancelEpisode called",
		slog.String("job_id", jobID),
	)

	if err := h.tracker.Cancel(jobID); err != nil {
		if errors.Is(err, tracker.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to cancel job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to cancel job",
		})
		return
	}

	job, _ := h.tracker.Snapshot(jobID)
	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"status": string(job.State.Stage),
	})
}

// ListEpisodes handles GET /api/v1/episodes
// Lists episodes with optional status filtering and cursor pagination
func (h *EpisodeHandler) ListEpisodes(c *gin.Context) {
	var req dto.ListEpisodesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeEpisodeCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.EpisodeFilter{
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	episodes, err := h.store.ListEpisodes(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list episodes", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list episodes",
		})
		return
	}

	hasMore := len(episodes) > req.PageSize
	if hasMore {
		episodes = episodes[:req.PageSize]
	}

	episodeDTOs := make([]dto.EpisodeDTO, len(episodes))
	for i := range episodes {
		episodeDTOs[i] = toEpisodeDTO(&episodes[i])
	}

	var nextCursor string
	if hasMore {
		last := episodes[len(episodes)-1]
		nextCursor, err = EncodeEpisodeCursor(&storage.EpisodeCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.JobID,
		})
		if err != nil {
			h.logger.Error("Failed to encode next cursor", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode next cursor",
			})
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListEpisodesResponse{
		Episodes:   episodeDTOs,
		NextCursor: nextCursor,
	})
}

func toEpisodeDTO(episode *model.Episode) dto.EpisodeDTO {
	out := dto.EpisodeDTO{
		JobID:            episode.JobID,
		PaperLink:        episode.PaperLink,
		Title:            episode.Title,
		Description:      episode.Description,
		Status:           episode.Status,
		Progress:         episode.Progress,
		AudioURL:         episode.AudioURL,
		EpisodeURL:       episode.EpisodeURL,
		ErrorMessage:     episode.ErrorMessage,
		ObservationCount: episode.ObservationCount,
		LastUpdateSource: episode.LastUpdateSource,
		Published:        episode.Published,
		CreatedAt:        episode.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        episode.UpdatedAt.Format(time.RFC3339),
	}
	if episode.CompletedAt.Valid {
		out.CompletedAt = episode.CompletedAt.Time.Format(time.RFC3339)
	}
	return out
}

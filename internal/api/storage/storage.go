package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/paperpod/internal/api/model"
	"github.com/cuongbtq/paperpod/internal/publisher"
	"github.com/cuongbtq/paperpod/shared/postgresql"
)

// ErrEpisodeNotFound is returned when no row exists for the job id
var ErrEpisodeNotFound = errors.New("episode not found")

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

func (s *Storage) CreateEpisode(ctx context.Context, episode *model.Episode) error {
	query := `
		INSERT INTO episodes (
			job_id, paper_link, title, description, prompt_text,
			status, progress, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		episode.JobID,
		episode.PaperLink,
		episode.Title,
		episode.Description,
		episode.PromptText,
		episode.Status,
		episode.Progress,
		episode.CreatedAt,
		episode.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create episode: %w", err)
	}

	return nil
}

func (s *Storage) GetEpisodeByJobID(ctx context.Context, jobID string) (*model.Episode, error) {
	var episode model.Episode
	query := `
		SELECT
			job_id, paper_link, title, description, prompt_text,
			status, progress, audio_url, episode_url, error_message,
			observation_count, last_update_source, published,
			created_at, updated_at, completed_at
		FROM episodes
		WHERE job_id = $1
	`

	err := s.db.GetContext(ctx, &episode, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEpisodeNotFound
		}
		return nil, fmt.Errorf("failed to get episode: %w", err)
	}

	return &episode, nil
}

// StatusUpdate carries the tracked fields flushed into a row as
// observations arrive
type StatusUpdate struct {
	Status           string
	Progress         int
	AudioURL         string
	ErrorMessage     string
	ObservationCount int
	LastUpdateSource string
	CompletedAt      *time.Time
}

// UpdateStatus flushes the latest tracked state into the episode row
func (s *Storage) UpdateStatus(ctx context.Context, jobID string, update StatusUpdate) error {
	query := `
		UPDATE episodes SET
			status = $2,
			progress = $3,
			audio_url = $4,
			error_message = $5,
			observation_count = $6,
			last_update_source = $7,
			completed_at = $8,
			updated_at = NOW()
		WHERE job_id = $1
	`

	var completedAt sql.NullTime
	if update.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *update.CompletedAt, Valid: true}
	}

	result, err := s.db.ExecContext(
		ctx,
		query,
		jobID,
		update.Status,
		update.Progress,
		update.AudioURL,
		update.ErrorMessage,
		update.ObservationCount,
		update.LastUpdateSource,
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update episode status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update episode status: %w", err)
	}
	if rows == 0 {
		return ErrEpisodeNotFound
	}

	return nil
}

// MarkPublished records the published episode URL. Publishing twice for
// the same job is reported so the caller can drop the duplicate delivery.
func (s *Storage) MarkPublished(ctx context.Context, jobID, episodeURL string) error {
	query := `
		UPDATE episodes SET
			episode_url = $2,
			published = TRUE,
			updated_at = NOW()
		WHERE job_id = $1 AND published = FALSE
	`

	result, err := s.db.ExecContext(ctx, query, jobID, episodeURL)
	if err != nil {
		return fmt.Errorf("failed to mark episode published: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark episode published: %w", err)
	}
	if rows == 0 {
		if _, getErr := s.GetEpisodeByJobID(ctx, jobID); getErr != nil {
			return publisher.ErrEpisodeNotFound
		}
		return publisher.ErrAlreadyPublished
	}

	return nil
}

// MarkPublishFailed records a permanent publish failure on the row
func (s *Storage) MarkPublishFailed(ctx context.Context, jobID, reason string) error {
	query := `
		UPDATE episodes SET
			error_message = $2,
			updated_at = NOW()
		WHERE job_id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, jobID, "publish failed: "+reason); err != nil {
		return fmt.Errorf("failed to record publish failure: %w", err)
	}
	return nil
}

type EpisodeFilter struct {
	Status   string
	PageSize int
	Cursor   *EpisodeCursor
}

type EpisodeCursor struct {
	CreatedAt time.Time
	JobID     string
}

func (s *Storage) ListEpisodes(ctx context.Context, filter EpisodeFilter) ([]model.Episode, error) {
	query := `
        SELECT
            job_id, paper_link, title, description, prompt_text,
            status, progress, audio_url, episode_url, error_message,
            observation_count, last_update_source, published,
            created_at, updated_at, completed_at
        FROM episodes
        WHERE 1=1
    `
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, job_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var episodes []model.Episode
	err := s.db.SelectContext(ctx, &episodes, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}

	return episodes, nil
}

// DeleteEpisode removes a single row. Used to undo a persisted episode
// whose job registration failed.
func (s *Storage) DeleteEpisode(ctx context.Context, jobID string) error {
	query := `DELETE FROM episodes WHERE job_id = $1`

	if _, err := s.db.ExecContext(ctx, query, jobID); err != nil {
		return fmt.Errorf("failed to delete episode: %w", err)
	}

	return nil
}

// DeleteExpired removes settled rows older than the retention window
func (s *Storage) DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM episodes
		WHERE completed_at IS NOT NULL AND completed_at < $1
	`

	result, err := s.db.ExecContext(ctx, query, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired episodes: %w", err)
	}

	return result.RowsAffected()
}

package model

import (
	"database/sql"
	"time"
)

// Episode is one tracked generation request and its publish outcome
type Episode struct {
	JobID            string       `db:"job_id"`
	PaperLink        string       `db:"paper_link"`
	Title            string       `db:"title"`
	Description      string       `db:"description"`
	PromptText       string       `db:"prompt_text"`
	Status           string       `db:"status"`
	Progress         int          `db:"progress"`
	AudioURL         string       `db:"audio_url"`
	EpisodeURL       string       `db:"episode_url"`
	ErrorMessage     string       `db:"error_message"`
	ObservationCount int          `db:"observation_count"`
	LastUpdateSource string       `db:"last_update_source"`
	Published        bool         `db:"published"`
	CreatedAt        time.Time    `db:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at"`
	CompletedAt      sql.NullTime `db:"completed_at"`
}

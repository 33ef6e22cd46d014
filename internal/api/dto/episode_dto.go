package dto

type CreateEpisodeRequest struct {
	PaperLink   string `json:"paper_link" binding:"required"`
	Title       string `json:"title"`
	Description string `json:"description"`
	PromptText  string `json:"prompt_text"`
}

type ListEpisodesRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListEpisodesResponse struct {
	Episodes   []EpisodeDTO `json:"episodes"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type EpisodeDTO struct {
	JobID            string `json:"job_id"`
	PaperLink        string `json:"paper_link"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	Status           string `json:"status"`
	Progress         int    `json:"progress"`
	AudioURL         string `json:"audio_url,omitempty"`
	EpisodeURL       string `json:"episode_url,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
	ObservationCount int    `json:"observation_count"`
	LastUpdateSource string `json:"last_update_source,omitempty"`
	Published        bool   `json:"published"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
	CompletedAt      string `json:"completed_at,omitempty"`
}

type StatusResponse struct {
	JobID            string `json:"job_id"`
	Status           string `json:"status"`
	Progress         int    `json:"progress"`
	AudioURL         string `json:"audio_url,omitempty"`
	ErrorMessage     string `json:"error_message,omitempty"`
	ObservationCount int    `json:"observation_count"`
	LastUpdateSource string `json:"last_update_source,omitempty"`
	Conflicts        int    `json:"conflicts,omitempty"`
}

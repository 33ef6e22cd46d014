package publisher

// PublishMessage is the queue message emitted by the tracker service when
// a job succeeds: everything the publish pipeline needs to turn the
// generated audio into a podcast episode.
type PublishMessage struct {
	JobID       string `json:"job_id"`
	AudioURL    string `json:"audio_url"`
	Title       string `json:"title"`
	Description string `json:"description"`

	DeliveryTag uint64 `json:"-"`
}

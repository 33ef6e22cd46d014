package publisher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// publish runs the pipeline for one succeeded job: fetch the generated
// audio from its short-lived URL, re-host it, upload it to the podcast
// host and publish the episode, then record the outcome.
//
// Network failures before the episode exists are retryable; once the
// publish call itself fails the message is not redelivered, since a blind
// retry risks a duplicate episode.
func (w *Worker) publish(ctx context.Context, msg *PublishMessage) error {
	ctx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	audio, err := w.downloadAudio(ctx, msg.AudioURL)
	if err != nil {
		return NewRetryableError(fmt.Errorf("download audio: %w", err))
	}

	filename := msg.JobID + ".mp3"

	hosted, err := w.audioHost.UploadAudio(ctx, filename, bytes.NewReader(audio))
	if err != nil {
		return NewRetryableError(fmt.Errorf("re-host audio: %w", err))
	}
	w.logger.Info("Audio re-hosted",
		slog.String("job_id", msg.JobID),
		slog.String("hosted_url", hosted.SecureURL),
	)

	auth, err := w.podcastHost.AuthorizeUpload(ctx, filename, int64(len(audio)))
	if err != nil {
		return NewRetryableError(fmt.Errorf("authorize upload: %w", err))
	}

	if err := w.podcastHost.UploadToPresignedURL(ctx, auth.PresignedURL, bytes.NewReader(audio), int64(len(audio))); err != nil {
		return NewRetryableError(fmt.Errorf("upload to presigned url: %w", err))
	}

	title := msg.Title
	if strings.TrimSpace(title) == "" {
		title = "Episode " + msg.JobID
	}

	episode, err := w.podcastHost.PublishEpisode(ctx, title, msg.Description, auth.FileKey)
	if err != nil {
		if markErr := w.store.MarkPublishFailed(ctx, msg.JobID, err.Error()); markErr != nil {
			w.logger.Error("Failed to record publish failure",
				slog.String("job_id", msg.JobID),
				slog.String("error", markErr.Error()),
			)
		}
		return fmt.Errorf("publish episode: %w", err)
	}

	episodeURL := episode.PermalinkURL
	if episodeURL == "" {
		episodeURL = hosted.SecureURL
	}

	if err := w.store.MarkPublished(ctx, msg.JobID, episodeURL); err != nil {
		return err
	}

	return nil
}

// downloadAudio fetches the artifact bytes from the generation service's
// short-lived URL.
func (w *Worker) downloadAudio(ctx context.Context, audioURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching audio", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("audio download was empty")
	}
	return audio, nil
}

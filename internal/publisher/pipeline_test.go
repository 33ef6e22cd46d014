package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/paperpod/internal/cloudinary"
	"github.com/cuongbtq/paperpod/internal/podbean"
)

type fakeAudioHost struct {
	uploaded []byte
	err      error
}

func (f *fakeAudioHost) UploadAudio(ctx context.Context, filename string, audio io.Reader) (cloudinary.UploadResult, error) {
	if f.err != nil {
		return cloudinary.UploadResult{}, f.err
	}
	f.uploaded, _ = io.ReadAll(audio)
	return cloudinary.UploadResult{SecureURL: "https://res.cloudinary.com/demo/" + filename, PublicID: filename}, nil
}

type fakePodcastHost struct {
	authorizeErr error
	uploadErr    error
	publishErr   error

	publishedTitle   string
	publishedFileKey string
}

func (f *fakePodcastHost) AuthorizeUpload(ctx context.Context, filename string, filesize int64) (podbean.UploadAuthorization, error) {
	if f.authorizeErr != nil {
		return podbean.UploadAuthorization{}, f.authorizeErr
	}
	return podbean.UploadAuthorization{PresignedURL: "https://s3.example.com/slot", FileKey: "key-" + filename}, nil
}

func (f *fakePodcastHost) UploadToPresignedURL(ctx context.Context, presignedURL string, audio io.Reader, size int64) error {
	return f.uploadErr
}

func (f *fakePodcastHost) PublishEpisode(ctx context.Context, title, description, fileKey string) (podbean.Episode, error) {
	if f.publishErr != nil {
		return podbean.Episode{}, f.publishErr
	}
	f.publishedTitle = title
	f.publishedFileKey = fileKey
	return podbean.Episode{ID: "ep-1", Title: title, PermalinkURL: "https://pb.example.com/e/ep-1"}, nil
}

type fakeStore struct {
	publishedURL string
	failedReason string
}

func (f *fakeStore) MarkPublished(ctx context.Context, jobID, episodeURL string) error {
	f.publishedURL = episodeURL
	return nil
}

func (f *fakeStore) MarkPublishFailed(ctx context.Context, jobID, reason string) error {
	f.failedReason = reason
	return nil
}

func newTestWorker(audioHost AudioHost, podcastHost PodcastHost, store Store) *Worker {
	return NewWorker(&Config{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		AudioHost:   audioHost,
		PodcastHost: podcastHost,
		Store:       store,
	})
}

func audioServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWorker_Publish(t *testing.T) {
	t.Run("full pipeline", func(t *testing.T) {
		srv := audioServer(t, "mp3-bytes", http.StatusOK)
		audioHost := &fakeAudioHost{}
		podcastHost := &fakePodcastHost{}
		store := &fakeStore{}
		w := newTestWorker(audioHost, podcastHost, store)

		err := w.publish(context.Background(), &PublishMessage{
			JobID:       "job-1",
			AudioURL:    srv.URL,
			Title:       "Mamba Explained",
			Description: "A tour.",
		})
		require.NoError(t, err)

		assert.Equal(t, "mp3-bytes", string(audioHost.uploaded))
		assert.Equal(t, "Mamba Explained", podcastHost.publishedTitle)
		assert.Equal(t, "key-job-1.mp3", podcastHost.publishedFileKey)
		assert.Equal(t, "https://pb.example.com/e/ep-1", store.publishedURL)
		assert.Empty(t, store.failedReason)
	})

	t.Run("download failure is retryable", func(t *testing.T) {
		srv := audioServer(t, "", http.StatusBadGateway)
		w := newTestWorker(&fakeAudioHost{}, &fakePodcastHost{}, &fakeStore{})

		err := w.publish(context.Background(), &PublishMessage{JobID: "job-1", AudioURL: srv.URL})
		require.Error(t, err)

		var retryable *RetryableError
		assert.ErrorAs(t, err, &retryable)
	})

	t.Run("re-host failure is retryable", func(t *testing.T) {
		srv := audioServer(t, "mp3-bytes", http.StatusOK)
		w := newTestWorker(&fakeAudioHost{err: errors.New("timeout")}, &fakePodcastHost{}, &fakeStore{})

		err := w.publish(context.Background(), &PublishMessage{JobID: "job-1", AudioURL: srv.URL})
		var retryable *RetryableError
		assert.ErrorAs(t, err, &retryable)
	})

	t.Run("publish failure is permanent and recorded", func(t *testing.T) {
		srv := audioServer(t, "mp3-bytes", http.StatusOK)
		store := &fakeStore{}
		w := newTestWorker(&fakeAudioHost{}, &fakePodcastHost{publishErr: errors.New("duplicate title")}, store)

		err := w.publish(context.Background(), &PublishMessage{JobID: "job-1", AudioURL: srv.URL, Title: "T"})
		require.Error(t, err)

		var retryable *RetryableError
		assert.False(t, errors.As(err, &retryable))
		assert.Contains(t, store.failedReason, "duplicate title")
	})

	t.Run("blank title gets a fallback", func(t *testing.T) {
		srv := audioServer(t, "mp3-bytes", http.StatusOK)
		podcastHost := &fakePodcastHost{}
		w := newTestWorker(&fakeAudioHost{}, podcastHost, &fakeStore{})

		require.NoError(t, w.publish(context.Background(), &PublishMessage{JobID: "job-1", AudioURL: srv.URL}))
		assert.Equal(t, "Episode job-1", podcastHost.publishedTitle)
	})
}

func TestWorker_ShouldRequeue(t *testing.T) {
	w := newTestWorker(&fakeAudioHost{}, &fakePodcastHost{}, &fakeStore{})

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"retryable error", NewRetryableError(errors.New("timeout")), true},
		{"wrapped retryable error", fmt.Errorf("pipeline: %w", NewRetryableError(errors.New("x"))), true},
		{"episode not found", fmt.Errorf("lookup: %w", ErrEpisodeNotFound), false},
		{"already published", ErrAlreadyPublished, false},
		{"invalid message", ErrInvalidMessage, false},
		{"unknown error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.shouldRequeue(tt.err))
		})
	}
}

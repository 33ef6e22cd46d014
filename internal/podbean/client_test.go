package podbean

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient(&Config{
		BaseURL:      srv.URL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	return client, srv
}

func TestClient_Token(t *testing.T) {
	var tokenCalls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/oauth/token":
			tokenCalls.Add(1)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
			assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
			w.Write([]byte(`{"access_token": "tok-1", "expires_in": 3600}`))
		case "/v1/files/uploadAuthorize":
			assert.Equal(t, "tok-1", r.URL.Query().Get("access_token"))
			w.Write([]byte(`{"presigned_url": "https://s3.example.com/slot", "file_key": "key-1"}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	_, err := client.AuthorizeUpload(context.Background(), "a.mp3", 1024)
	require.NoError(t, err)
	_, err = client.AuthorizeUpload(context.Background(), "b.mp3", 2048)
	require.NoError(t, err)

	// Token fetched once and cached across calls.
	assert.Equal(t, int32(1), tokenCalls.Load())
}

func TestClient_AuthorizeUpload(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/oauth/token" {
			w.Write([]byte(`{"access_token": "tok-1", "expires_in": 3600}`))
			return
		}

		assert.Equal(t, "/v1/files/uploadAuthorize", r.URL.Path)
		query := r.URL.Query()
		assert.Equal(t, "episode.mp3", query.Get("filename"))
		assert.Equal(t, "1048576", query.Get("filesize"))
		assert.Equal(t, "audio/mpeg", query.Get("content_type"))

		w.Write([]byte(`{"presigned_url": "https://s3.example.com/slot", "file_key": "key-1", "expire_at": 600}`))
	}))

	auth, err := client.AuthorizeUpload(context.Background(), "episode.mp3", 1<<20)
	require.NoError(t, err)
	assert.Equal(t, "https://s3.example.com/slot", auth.PresignedURL)
	assert.Equal(t, "key-1", auth.FileKey)
}

func TestClient_UploadToPresignedURL(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var received []byte
		slot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPut, r.Method)
			assert.Equal(t, "audio/mpeg", r.Header.Get("Content-Type"))
			received, _ = io.ReadAll(r.Body)
		}))
		defer slot.Close()

		client, _ := newTestClient(t, http.NotFoundHandler())

		audio := "fake mp3 bytes"
		err := client.UploadToPresignedURL(context.Background(), slot.URL, strings.NewReader(audio), int64(len(audio)))
		require.NoError(t, err)
		assert.Equal(t, audio, string(received))
	})

	t.Run("rejected upload", func(t *testing.T) {
		slot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer slot.Close()

		client, _ := newTestClient(t, http.NotFoundHandler())

		err := client.UploadToPresignedURL(context.Background(), slot.URL, strings.NewReader("x"), 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "403")
	})
}

func TestClient_PublishEpisode(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/v1/oauth/token" {
				w.Write([]byte(`{"access_token": "tok-1", "expires_in": 3600}`))
				return
			}

			assert.Equal(t, "/v1/episodes", r.URL.Path)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "tok-1", r.PostForm.Get("access_token"))
			assert.Equal(t, "Mamba Explained", r.PostForm.Get("title"))
			assert.Equal(t, "publish", r.PostForm.Get("status"))
			assert.Equal(t, "public", r.PostForm.Get("type"))
			assert.Equal(t, "key-1", r.PostForm.Get("media_key"))

			w.Write([]byte(`{"episode": {"id": "ep-1", "title": "Mamba Explained", "permalink_url": "https://pb.example.com/e/ep-1"}}`))
		}))

		episode, err := client.PublishEpisode(context.Background(), "Mamba Explained", "A tour.", "key-1")
		require.NoError(t, err)
		assert.Equal(t, "ep-1", episode.ID)
		assert.Equal(t, "https://pb.example.com/e/ep-1", episode.PermalinkURL)
	})

	t.Run("token failure propagates", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": "invalid_client"}`))
		}))

		_, err := client.PublishEpisode(context.Background(), "T", "D", "key-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "access token")
	})
}

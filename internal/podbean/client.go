package podbean

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds Podbean OAuth credentials
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// UploadAuthorization is the response to an upload authorize call: where
// to PUT the file and the key to reference it by when publishing.
type UploadAuthorization struct {
	PresignedURL string `json:"presigned_url"`
	FileKey      string `json:"file_key"`
	Expire       int    `json:"expire_at"`
}

// Episode is the published episode record
type Episode struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	PermalinkURL string `json:"permalink_url"`
	MediaURL     string `json:"media_url"`
}

// Client publishes episodes on Podbean: client-credentials token, upload
// authorization, presigned upload, episode publish.
type Client struct {
	config     *Config
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates a Podbean client
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.podbean.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Client{
		config:     cfg,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// token returns a cached access token, refreshing it when absent or close
// to expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var token tokenResponse
	if err := c.do(req, &token); err != nil {
		return "", fmt.Errorf("obtain access token: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	c.accessToken = token.AccessToken
	// Refresh a minute early so in-flight calls never carry a stale token.
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn)*time.Second - time.Minute)

	c.logger.Debug("Podbean access token refreshed")
	return c.accessToken, nil
}

// AuthorizeUpload asks Podbean for a presigned upload slot for an audio
// file of the given size.
func (c *Client) AuthorizeUpload(ctx context.Context, filename string, filesize int64) (UploadAuthorization, error) {
	token, err := c.token(ctx)
	if err != nil {
		return UploadAuthorization{}, err
	}

	query := url.Values{
		"access_token": {token},
		"filename":     {filename},
		"filesize":     {strconv.FormatInt(filesize, 10)},
		"content_type": {"audio/mpeg"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/files/uploadAuthorize?"+query.Encode(), nil)
	if err != nil {
		return UploadAuthorization{}, err
	}

	var auth UploadAuthorization
	if err := c.do(req, &auth); err != nil {
		return UploadAuthorization{}, fmt.Errorf("authorize upload: %w", err)
	}
	if auth.PresignedURL == "" || auth.FileKey == "" {
		return UploadAuthorization{}, fmt.Errorf("upload authorization incomplete")
	}
	return auth, nil
}

// UploadToPresignedURL PUTs the audio bytes to the presigned slot
func (c *Client) UploadToPresignedURL(ctx context.Context, presignedURL string, audio io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presignedURL, audio)
	if err != nil {
		return err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "audio/mpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("presigned upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("presigned upload rejected (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// PublishEpisode publishes a public episode referencing an uploaded media
// key and returns the episode record.
func (c *Client) PublishEpisode(ctx context.Context, title, description, fileKey string) (Episode, error) {
	token, err := c.token(ctx)
	if err != nil {
		return Episode{}, err
	}

	form := url.Values{
		"access_token":       {token},
		"title":              {title},
		"content":            {description},
		"status":             {"publish"},
		"type":               {"public"},
		"media_key":          {fileKey},
		"apple_episode_type": {"full"},
		"content_explicit":   {"clean"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/episodes", strings.NewReader(form.Encode()))
	if err != nil {
		return Episode{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var result struct {
		Episode Episode `json:"episode"`
	}
	if err := c.do(req, &result); err != nil {
		return Episode{}, fmt.Errorf("publish episode: %w", err)
	}

	c.logger.Info("Episode published",
		slog.String("episode_id", result.Episode.ID),
		slog.String("permalink", result.Episode.PermalinkURL),
	)

	return result.Episode, nil
}

// do executes a request and decodes a JSON body into out
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config holds Cloudinary credentials
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	Timeout   time.Duration
}

// UploadResult is the subset of the upload response the pipeline needs
type UploadResult struct {
	SecureURL string `json:"secure_url"`
	PublicID  string `json:"public_id"`
}

// Client re-hosts generated audio on Cloudinary. The upstream service
// serves artifacts from short-lived URLs; uploading to Cloudinary gives the
// episode a stable one.
type Client struct {
	config     *Config
	httpClient *http.Client
	logger     *slog.Logger

	baseURL string // override in tests
	now     func() time.Time
}

// NewClient creates a Cloudinary client
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		baseURL:    "https://api.cloudinary.com",
		now:        time.Now,
	}
}

// UploadAudio uploads an audio file with a signed request and returns its
// stable URL.
func (c *Client) UploadAudio(ctx context.Context, filename string, audio io.Reader) (UploadResult, error) {
	timestamp := strconv.FormatInt(c.now().Unix(), 10)

	params := map[string]string{
		"timestamp":       timestamp,
		"folder":          c.config.Folder,
		"use_filename":    "true",
		"unique_filename": "true",
		"overwrite":       "true",
	}
	if c.config.Folder == "" {
		delete(params, "folder")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range params {
		if err := writer.WriteField(key, value); err != nil {
			return UploadResult{}, fmt.Errorf("build upload form: %w", err)
		}
	}
	if err := writer.WriteField("api_key", c.config.APIKey); err != nil {
		return UploadResult{}, fmt.Errorf("build upload form: %w", err)
	}
	if err := writer.WriteField("signature", c.sign(params)); err != nil {
		return UploadResult{}, fmt.Errorf("build upload form: %w", err)
	}

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return UploadResult{}, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return UploadResult{}, fmt.Errorf("copy audio into form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("finalize upload form: %w", err)
	}

	url := fmt.Sprintf("%s/v1_1/%s/auto/upload", c.baseURL, c.config.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return UploadResult{}, fmt.Errorf("read upload response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return UploadResult{}, fmt.Errorf("upload rejected (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result UploadResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return UploadResult{}, fmt.Errorf("decode upload response: %w", err)
	}
	if result.SecureURL == "" {
		return UploadResult{}, fmt.Errorf("upload response missing secure_url")
	}

	c.logger.Info("Audio uploaded to Cloudinary",
		slog.String("public_id", result.PublicID),
		slog.String("url", result.SecureURL),
	)

	return result, nil
}

// sign builds the request signature: the parameters sorted by key, joined
// as key=value pairs, with the API secret appended, hashed with SHA-1.
func (c *Client) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+params[key])
	}

	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + c.config.APISecret))
	return hex.EncodeToString(sum[:])
}

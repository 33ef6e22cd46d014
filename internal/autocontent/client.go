package autocontent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Config holds AutoContent API client configuration
type Config struct {
	BaseURL    string
	APIKey     string
	WebhookURL string
	Timeout    time.Duration
}

// Client is a thin request/response wrapper around the AutoContent API.
// It holds no mutable state between calls beyond fixed credentials and
// endpoint configuration.
type Client struct {
	baseURL    string
	apiKey     string
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new AutoContent API client
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		webhookURL: cfg.WebhookURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type createRequest struct {
	Resources  []Resource `json:"resources"`
	Text       string     `json:"text"`
	OutputType string     `json:"outputType"`
	Webhook    string     `json:"webhook,omitempty"`
}

type createResponse struct {
	RequestID    string `json:"request_id"`
	ErrorMessage string `json:"error_message"`
}

// Submit sends a content creation request and returns the opaque
// request id assigned by the remote service. It fails with a
// *SubmissionError when the service rejects the payload or is
// unreachable; it never retries.
func (c *Client) Submit(ctx context.Context, resources []Resource, text string) (string, error) {
	payload := createRequest{
		Resources:  resources,
		Text:       text,
		OutputType: "audio",
		Webhook:    c.webhookURL,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", &SubmissionError{Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/content/create", bytes.NewReader(body))
	if err != nil {
		return "", &SubmissionError{Err: err}
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &SubmissionError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Message: errorMessageFrom(respBody)}
	}

	var result createResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	if result.RequestID == "" {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Message: result.ErrorMessage}
	}

	c.logger.Info("Generation request submitted",
		slog.String("request_id", result.RequestID),
		slog.Int("resources", len(resources)),
	)

	return result.RequestID, nil
}

// Poll fetches the current raw status of a previously submitted
// request. A "not yet ready" body is a valid RawStatus; only
// network/HTTP failures produce a *PollError.
func (c *Client) Poll(ctx context.Context, requestID string) (RawStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/content/status/"+requestID, nil)
	if err != nil {
		return RawStatus{}, &PollError{Err: err}
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RawStatus{}, &PollError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return RawStatus{}, &PollError{StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return RawStatus{}, &PollError{StatusCode: resp.StatusCode}
	}

	var status RawStatus
	if err := json.Unmarshal(respBody, &status); err != nil {
		return RawStatus{}, &PollError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode status: %w", err)}
	}

	if status.ID == "" {
		status.ID = requestID
	}

	return status, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if req.Method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
}

// errorMessageFrom extracts error_message from an error response body,
// falling back to the raw body text
func errorMessageFrom(body []byte) string {
	var parsed struct {
		ErrorMessage string `json:"error_message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.ErrorMessage != "" {
		return parsed.ErrorMessage
	}
	return strings.TrimSpace(string(body))
}

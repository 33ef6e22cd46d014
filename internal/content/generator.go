package content

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

// Config holds OpenAI-backed generator configuration
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Generator produces episode metadata for a paper link with a single
// chat-completion call. It is an opaque collaborator: the submission flow
// only depends on Generate returning a valid Payload or an error.
type Generator struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGenerator creates a content generator
func NewGenerator(cfg *Config, logger *slog.Logger) *Generator {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Generator{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

const systemPrompt = "You are a podcast producer. Given a research paper link, produce a JSON object " +
	"with exactly these fields: title (catchy episode title), description (2-3 sentence episode summary), " +
	"paper_link (the link you were given), prompt_text (detailed instructions for an audio generator " +
	"covering the paper's motivation, method and findings in an accessible tone). Respond with JSON only."

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *formatSpec   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type formatSpec struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate produces an episode payload for paperLink. Failures surface
// synchronously; generation is not part of job tracking.
func (g *Generator) Generate(ctx context.Context, paperLink string) (Payload, error) {
	reqBody := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Paper link: " + paperLink},
		},
		ResponseFormat: &formatSpec{Type: "json_object"},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return Payload{}, fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Payload{}, err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Payload{}, fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Payload{}, fmt.Errorf("read completion response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Payload{}, fmt.Errorf("decode completion response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := ""
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return Payload{}, fmt.Errorf("completion failed (HTTP %d): %s", resp.StatusCode, msg)
	}

	if len(parsed.Choices) == 0 {
		return Payload{}, fmt.Errorf("completion returned no choices")
	}

	payload, err := NormalizePayload([]byte(parsed.Choices[0].Message.Content))
	if err != nil {
		return Payload{}, err
	}

	// The model occasionally paraphrases the link; pin it.
	payload.PaperLink = paperLink

	g.logger.Info("Episode content generated",
		slog.String("paper_link", paperLink),
		slog.String("title", payload.Title),
	)

	return payload, nil
}

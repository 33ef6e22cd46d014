package content

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is the episode metadata handed to the submission flow: what to
// generate audio about and how to describe the episode afterwards.
type Payload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	PaperLink   string `json:"paper_link"`
	PromptText  string `json:"prompt_text"`
}

// NormalizePayload decodes a model-produced JSON document into a Payload.
// Upstream output is inconsistent: the prompt field arrives as either
// "prompt_text" or "prompt", and the document is often wrapped in a
// markdown code fence. Both quirks are absorbed here so callers only ever
// see the canonical shape.
func NormalizePayload(data []byte) (Payload, error) {
	text := stripCodeFence(string(data))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return Payload{}, fmt.Errorf("decode content payload: %w", err)
	}

	if _, ok := fields["prompt_text"]; !ok {
		if prompt, ok := fields["prompt"]; ok {
			fields["prompt_text"] = prompt
			delete(fields, "prompt")
		}
	}

	normalized, err := json.Marshal(fields)
	if err != nil {
		return Payload{}, fmt.Errorf("re-encode content payload: %w", err)
	}

	var payload Payload
	if err := json.Unmarshal(normalized, &payload); err != nil {
		return Payload{}, fmt.Errorf("decode content payload: %w", err)
	}

	if err := payload.Validate(); err != nil {
		return Payload{}, err
	}
	return payload, nil
}

// Validate checks that every required field is present
func (p Payload) Validate() error {
	var missing []string
	if strings.TrimSpace(p.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(p.Description) == "" {
		missing = append(missing, "description")
	}
	if strings.TrimSpace(p.PaperLink) == "" {
		missing = append(missing, "paper_link")
	}
	if strings.TrimSpace(p.PromptText) == "" {
		missing = append(missing, "prompt_text")
	}
	if len(missing) > 0 {
		return fmt.Errorf("content payload missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// stripCodeFence removes a surrounding ```json ... ``` (or plain ```)
// fence, if present.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

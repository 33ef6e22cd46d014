package autocontent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Progress is the upstream 0-100 status value. The API is inconsistent
// about its wire type: depending on the backend revision it arrives as a
// JSON number, a numeric string, or not at all. Known reports whether
// the field was present and parseable.
type Progress struct {
	Value int
	Known bool
}

// UnmarshalJSON accepts a JSON number, a numeric string, or null.
func (p *Progress) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*p = Progress{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*p = Progress{}
			return nil
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			// Non-numeric strings ("unknown", "pending") carry no
			// usable progress information.
			*p = Progress{}
			return nil
		}
		*p = Progress{Value: v, Known: true}
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("invalid status value: %w", err)
	}
	*p = Progress{Value: int(f), Known: true}
	return nil
}

// MarshalJSON writes the numeric value, or null when unknown.
func (p Progress) MarshalJSON() ([]byte, error) {
	if !p.Known {
		return []byte("null"), nil
	}
	return json.Marshal(p.Value)
}

// RawStatus is the status payload shape shared by the poll endpoint and
// webhook notifications. All fields are optional upstream; absence of
// information is handled by the normalizer, never here.
type RawStatus struct {
	ID           string   `json:"id,omitempty"`
	Status       Progress `json:"status"`
	UpdatedOn    string   `json:"updated_on,omitempty"`
	AudioURL     string   `json:"audio_url,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
	ResponseText string   `json:"response_text,omitempty"`
}

package record

import "encoding/json"

const (
	CommitEvent = "COMMIT"
	DeleteEvent = "DELETE"
)

// Event is what the commit feed pushes to subscribers.
type Event struct {
	Type       string          `json:"type"`
	DocumentID string          `json:"document_id"`
	Owners     []string        `json:"owners"`
	Key        string          `json:"key,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

package notify

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the message published for every lifecycle event.
type Envelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// NewEnvelope creates a new Envelope with a generated ID and the given
// timestamp in UTC.
func NewEnvelope(eventType, source string, ts time.Time, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: ts.UTC(),
		Data:      raw,
	}, nil
}

// Marshal serialises the envelope to JSON bytes.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEnvelope deserialises an envelope from JSON bytes.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var ev Envelope
	err := json.Unmarshal(data, &ev)
	return ev, err
}

// LifecycleData is the payload of lifecycle envelopes.
type LifecycleData struct {
	Project string            `json:"project"`
	Target  string            `json:"target"`
	Fields  map[string]string `json:"fields,omitempty"`
}

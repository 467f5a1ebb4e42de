// Package ingestion defines the response bodies of the event endpoint and
// the envelope published to the queue in queue mode.
package ingestion

import (
	"encoding/json"
	"time"

	"github.com/ThaoDoan2/ElasticClient/internal/telemetry"
)

// LogResponse acknowledges a stored event.
type LogResponse struct {
	Message   string         `json:"message"`
	EventType telemetry.Kind `json:"eventType"`
	ID        string         `json:"id"`
}

// BatchItem is the outcome of one element of a batch submission.
type BatchItem struct {
	Index     int               `json:"index"`
	EventType telemetry.Kind    `json:"eventType,omitempty"`
	ID        string            `json:"id,omitempty"`
	Error     string            `json:"error,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// BatchResponse summarises a batch submission.
type BatchResponse struct {
	Accepted int         `json:"accepted"`
	Rejected int         `json:"rejected"`
	Items    []BatchItem `json:"items"`
}

// Envelope is the queue message carrying one record to the indexer.
type Envelope struct {
	Kind       telemetry.Kind  `json:"kind"`
	ID         string          `json:"id"`
	ReceivedAt time.Time       `json:"receivedAt"`
	Record     json.RawMessage `json:"record"`
}

// NewEnvelope wraps the stored document shape of rec.
func NewEnvelope(id string, rec telemetry.Record, receivedAt time.Time) (Envelope, error) {
	raw, err := json.Marshal(rec.Document())
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: rec.Kind(), ID: id, ReceivedAt: receivedAt.UTC(), Record: raw}, nil
}

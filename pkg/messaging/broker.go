package messaging

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Close() error
}

// Envelope wraps an event payload on the wire.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Channel returns the channel an event type is published on, for example
// "diagnosis.diagnosis_created".
func Channel(prefix, eventType string) string {
	name := strings.ToLower(eventType)
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

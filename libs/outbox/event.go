// Package outbox implements the transactional outbox: events are inserted in
// the same database transaction as the business mutation they describe, then
// moved to Kafka by a polling relay (or by the standalone log-tap process).
package outbox

import (
	"encoding/json"
	"fmt"
	"time"
)

// Row status lifecycle. Only the relay transitions status.
const (
	StatusPending   = "PENDING"
	StatusPublished = "PUBLISHED"
	StatusFailed    = "FAILED"
)

// Event is what producers hand to Append. Payload may be a []byte /
// json.RawMessage already serialized by the caller, or any JSON-marshalable
// value; marshaling happens before the insert so a serialization failure
// surfaces to the caller and never creates a row.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	Payload       any
}

func (e Event) validate() error {
	if e.AggregateType == "" || e.AggregateID == "" {
		return fmt.Errorf("outbox: aggregate type and id are required")
	}
	if e.EventType == "" {
		return fmt.Errorf("outbox: event type is required")
	}
	if e.Topic == "" {
		return fmt.Errorf("outbox: topic is required")
	}
	return nil
}

func (e Event) marshalPayload() ([]byte, error) {
	switch p := e.Payload.(type) {
	case nil:
		return nil, fmt.Errorf("outbox: payload is required")
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("outbox: marshal payload: %w", err)
		}
		return b, nil
	}
}

// Record is a stored outbox row as read back by the relay and the tap.
type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	Payload       []byte
	Status        string
	RetryCount    int
	LastError     string
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

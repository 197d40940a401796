package agent

import (
	"encoding/json"
	"time"
)

// IdempotencyHeader carries the per-item key that makes redelivery safe.
const IdempotencyHeader = "Idempotency-Key"

// QueueItem is a durable outbound request destined for the remote service.
type QueueItem struct {
	ID            string            `json:"id"`
	CreatedAt     time.Time         `json:"created_at"`
	Endpoint      string            `json:"endpoint"`
	Method        string            `json:"method"`
	Payload       json.RawMessage   `json:"payload"`
	Headers       map[string]string `json:"headers"`
	Attempts      int               `json:"attempts"`
	NextAttemptAt time.Time         `json:"next_attempt_at"`
	LastError     string            `json:"last_error,omitempty"`
}

// IdempotencyKey returns the key stored in the item's headers.
func (q *QueueItem) IdempotencyKey() string {
	return q.Headers[IdempotencyHeader]
}

// Payload is an outbound request body bound to a specific remote endpoint.
// Every payload is validated before it is persisted or sent.
type Payload interface {
	Endpoint() string
	Method() string
	Validate() error
}

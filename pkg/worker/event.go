package worker

import (
	"encoding/json"
	"strconv"
)

// Event is a task event received by the worker.
type Event struct {
	// ID is the event id, shared by the copies published to several drivers.
	ID string `json:"id"`
	// Provider is the source system, "gitlab" for every event emitted today.
	Provider string `json:"provider"`
	// Kind is the event kind, e.g. "gitlab.webhook.commit".
	Kind string `json:"kind"`
	// Topic is the name of the topic the message was received on.
	Topic string `json:"topic"`
	// RequestID identifies the webhook delivery that produced the event.
	RequestID string `json:"request_id"`
	// ProjectID is the internal project the delivery was addressed to.
	ProjectID int64 `json:"project_id"`
	// Attributes are the event attributes, e.g. task_id or comment.
	Attributes map[string]interface{} `json:"attributes"`
	// Metadata contains message-broker-specific metadata.
	Metadata map[string]string `json:"metadata"`
	// Payload is the raw JSON payload of the message.
	Payload json.RawMessage `json:"payload"`
}

// String returns the string attribute key, or "" when absent.
func (e *Event) String(key string) string {
	value, _ := e.Attributes[key].(string)
	return value
}

// Int returns the integer attribute key. Numbers decoded from JSON are
// accepted as json.Number, float64 or decimal strings.
func (e *Event) Int(key string) (int64, bool) {
	switch v := e.Attributes[key].(type) {
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case float64:
		return int64(v), v == float64(int64(v))
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

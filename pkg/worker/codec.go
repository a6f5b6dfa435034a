package worker

import (
	"bytes"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Codec is an interface for decoding messages from a message broker into an Event.
type Codec interface {
	// Decode transforms a Watermill message into an Event.
	Decode(topic string, msg *message.Message) (*Event, error)
}

// DefaultCodec decodes the JSON envelope published by the webhook service.
// Attribute numbers are kept as json.Number; use Event.Int to read them.
type DefaultCodec struct{}

type envelope struct {
	ID        string                 `json:"id"`
	Provider  string                 `json:"provider"`
	Name      string                 `json:"name"`
	RequestID string                 `json:"request_id"`
	ProjectID int64                  `json:"project_id"`
	Data      map[string]interface{} `json:"data"`
}

// Decode unmarshals a Watermill message into an Event.
func (DefaultCodec) Decode(topic string, msg *message.Message) (*Event, error) {
	var env envelope
	decoder := json.NewDecoder(bytes.NewReader(msg.Payload))
	decoder.UseNumber()
	if err := decoder.Decode(&env); err != nil {
		return nil, err
	}

	metadata := make(map[string]string, len(msg.Metadata))
	for key, value := range msg.Metadata {
		metadata[key] = value
	}

	provider := env.Provider
	if provider == "" {
		provider = msg.Metadata.Get("provider")
	}
	kind := env.Name
	if kind == "" {
		kind = msg.Metadata.Get("event")
	}
	requestID := env.RequestID
	if requestID == "" {
		requestID = msg.Metadata.Get("request_id")
	}
	id := env.ID
	if id == "" {
		id = msg.UUID
	}
	attributes := env.Data
	if attributes == nil {
		attributes = map[string]interface{}{}
	}

	return &Event{
		ID:         id,
		Provider:   provider,
		Kind:       kind,
		Topic:      topic,
		RequestID:  requestID,
		ProjectID:  env.ProjectID,
		Attributes: attributes,
		Metadata:   metadata,
		Payload:    json.RawMessage(msg.Payload),
	}, nil
}

package worker

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Handler processes one task event. A returned error goes to the retry policy.
type Handler func(ctx context.Context, evt *Event) error

// Middleware wraps every handler the worker dispatches to.
type Middleware func(Handler) Handler

// MiddlewareFromWatermill lets watermill router middleware such as
// middleware.Recoverer or middleware.Timeout wrap worker handlers. The
// middleware sees a message rebuilt from the event payload and metadata.
func MiddlewareFromWatermill(m message.HandlerMiddleware) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, evt *Event) error {
			id := evt.ID
			if id == "" {
				id = watermill.NewUUID()
			}
			msg := message.NewMessage(id, message.Payload(evt.Payload))
			for key, value := range evt.Metadata {
				msg.Metadata.Set(key, value)
			}
			if evt.RequestID != "" {
				msg.Metadata.Set("request_id", evt.RequestID)
			}
			msg.SetContext(ctx)
			wrapped := m(func(msg *message.Message) ([]*message.Message, error) {
				return nil, next(msg.Context(), evt)
			})
			_, err := wrapped(msg)
			return err
		}
	}
}

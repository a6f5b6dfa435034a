package worker

import "context"

// Listener observes a worker. Every hook is optional.
type Listener struct {
	// OnStart runs once the topics are about to be subscribed.
	OnStart func(ctx context.Context)
	// OnExit runs after Run has drained in-flight events.
	OnExit func(ctx context.Context)
	// OnMessageStart runs before the handler for a decoded event.
	OnMessageStart func(ctx context.Context, evt *Event)
	// OnMessageFinish runs after the handler, with its error.
	OnMessageFinish func(ctx context.Context, evt *Event, err error)
	// OnUnhandled runs for events no topic or kind handler is registered for.
	// Such events are acked.
	OnUnhandled func(ctx context.Context, evt *Event)
	// OnError runs for decode failures, with a nil event, and handler failures.
	OnError func(ctx context.Context, evt *Event, err error)
}

package worker

import (
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Option configures a Worker.
type Option func(*Worker)

// WithSubscriber sets where task events are read from, usually the result of
// BuildSubscriber.
func WithSubscriber(sub message.Subscriber) Option {
	return func(w *Worker) {
		w.subscriber = sub
	}
}

// WithTopics subscribes to topics, typically LoadTopicsFromConfig or
// KindTopics. Once set, HandleTopic only accepts these topics.
func WithTopics(topics ...string) Option {
	return func(w *Worker) {
		for _, topic := range topics {
			topic = strings.TrimSpace(topic)
			if topic == "" {
				continue
			}
			if _, ok := w.allowedTopics[topic]; ok {
				continue
			}
			w.topics = append(w.topics, topic)
			w.allowedTopics[topic] = struct{}{}
		}
	}
}

// WithKindTopics subscribes to the default topic of every event kind, which
// is where the service publishes when it has no routing rules.
func WithKindTopics() Option {
	return WithTopics(KindTopics()...)
}

// WithConcurrency caps the events handled at once across all topics.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithCodec replaces DefaultCodec.
func WithCodec(c Codec) Option {
	return func(w *Worker) {
		if c != nil {
			w.codec = c
		}
	}
}

// WithMiddleware wraps every handler; the first middleware is outermost.
func WithMiddleware(mw ...Middleware) Option {
	return func(w *Worker) {
		w.middleware = append(w.middleware, mw...)
	}
}

// WithRetry decides whether failed events are acked or nacked.
func WithRetry(policy RetryPolicy) Option {
	return func(w *Worker) {
		if policy != nil {
			w.retry = policy
		}
	}
}

func WithLogger(l Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

func WithListener(listener Listener) Option {
	return func(w *Worker) {
		w.listeners = append(w.listeners, listener)
	}
}

// Package dispatch routes task events to the configured watermill drivers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"

	"taskhooks/internal"
	"taskhooks/pkg/gitlabhook"
)

const provider = "gitlab"

// Dispatcher publishes gitlabhook events. Topics come from the rule engine;
// with no rules configured every event goes to a topic named after its kind.
type Dispatcher struct {
	rules     *internal.RuleEngine
	publisher internal.Publisher
	logger    *log.Logger
}

func New(rules *internal.RuleEngine, publisher internal.Publisher, logger *log.Logger) (*Dispatcher, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{rules: rules, publisher: publisher, logger: logger}, nil
}

// Dispatch publishes event to every matching topic and joins the failures.
func (d *Dispatcher) Dispatch(ctx context.Context, event gitlabhook.Event) error {
	requestID := internal.RequestIDFromContext(ctx)
	logger := internal.WithRequestID(d.logger, requestID)

	envelope := internal.Event{
		Provider:  provider,
		Name:      string(event.Kind),
		RequestID: requestID,
		ProjectID: event.ProjectID,
		Data:      event.Attributes,
	}
	internal.IncEvent(envelope.Name)

	var matches []internal.RuleMatch
	if d.rules.Empty() {
		matches = []internal.RuleMatch{{Topic: envelope.Name}}
	} else {
		matches = d.rules.EvaluateWithLogger(envelope, logger)
	}
	logger.Printf("event provider=%s name=%s project=%d topics=%v", envelope.Provider, envelope.Name, envelope.ProjectID, matches)
	if len(matches) == 0 {
		logger.Printf("event %s matched no rule; dropped", envelope.Name)
		return nil
	}

	var err error
	for _, match := range matches {
		if publishErr := d.publisher.PublishForDrivers(ctx, match.Topic, envelope, match.Drivers); publishErr != nil {
			err = errors.Join(err, fmt.Errorf("publish %s: %w", match.Topic, publishErr))
		}
	}
	return err
}

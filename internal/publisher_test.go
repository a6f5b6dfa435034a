package internal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// stubPublisher is a mock publisher for testing.
type stubPublisher struct {
	published    int
	failures     int
	lastTopic    string
	lastUUID     string
	lastPayload  []byte
	lastMetadata message.Metadata
}

// Publish increments the published count and records the topic. It fails
// while failures is positive.
func (s *stubPublisher) Publish(topic string, msgs ...*message.Message) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("broker unavailable")
	}
	s.published += len(msgs)
	s.lastTopic = topic
	if len(msgs) > 0 {
		s.lastUUID = msgs[0].UUID
		s.lastPayload = append([]byte(nil), msgs[0].Payload...)
		s.lastMetadata = msgs[0].Metadata
	}
	return nil
}

// Close is a no-op.
func (s *stubPublisher) Close() error {
	return nil
}

func registerStub(t *testing.T, name string, stub *stubPublisher, closeFn func() error) {
	t.Helper()
	orig, had := publisherFactories[name]
	t.Cleanup(func() {
		if had {
			publisherFactories[name] = orig
		} else {
			delete(publisherFactories, name)
		}
	})
	RegisterPublisherDriver(name, func(cfg WatermillConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error) {
		return stub, closeFn, nil
	})
}

// TestRegisterPublisherDriver tests that a custom publisher driver can be registered and used.
func TestRegisterPublisherDriver(t *testing.T) {
	stub := &stubPublisher{}
	closed := false
	registerStub(t, "custom", stub, func() error { closed = true; return nil })

	pub, err := NewPublisher(WatermillConfig{Driver: "custom"})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	if err := pub.PublishForDrivers(context.Background(), "custom.topic", Event{Provider: "gitlab"}, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if stub.published != 1 || stub.lastTopic != "custom.topic" {
		t.Fatalf("expected publish to custom.topic once, got %d to %q", stub.published, stub.lastTopic)
	}

	if err := pub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !closed {
		t.Fatalf("expected custom close to be called")
	}
}

// TestHTTPURLTarget tests that the HTTP target URL is constructed correctly.
func TestHTTPURLTarget(t *testing.T) {
	url, err := httpTargetURL(HTTPConfig{Mode: "base_url", BaseURL: "http://localhost:8080/hooks/"}, "/topic")
	if err != nil {
		t.Fatalf("httpTargetURL: %v", err)
	}
	if url != "http://localhost:8080/hooks/topic" {
		t.Fatalf("unexpected url: %q", url)
	}
	if _, err := httpTargetURL(HTTPConfig{Mode: "topic_url"}, ""); err == nil {
		t.Fatalf("expected error for empty topic url")
	}
}

// TestMultipleDrivers tests that the publisher can be configured to publish to multiple drivers.
func TestMultipleDrivers(t *testing.T) {
	a := &stubPublisher{}
	b := &stubPublisher{}
	registerStub(t, "multi-a", a, nil)
	registerStub(t, "multi-b", b, nil)

	pub, err := NewPublisher(WatermillConfig{Drivers: []string{"multi-a", "multi-b"}})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	if err := pub.PublishForDrivers(context.Background(), "multi.topic", Event{Provider: "gitlab"}, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if a.published != 1 || b.published != 1 {
		t.Fatalf("expected publish to both drivers, got a=%d b=%d", a.published, b.published)
	}
	if a.lastUUID == "" || a.lastUUID != b.lastUUID {
		t.Fatalf("expected both drivers to share the event id, got %q and %q", a.lastUUID, b.lastUUID)
	}
	var decoded Event
	if err := json.Unmarshal(b.lastPayload, &decoded); err != nil || decoded.ID != b.lastUUID {
		t.Fatalf("expected envelope id %q, got %q (%v)", b.lastUUID, decoded.ID, err)
	}

	if err := pub.PublishForDrivers(context.Background(), "multi.topic", Event{Provider: "gitlab"}, []string{"MULTI-B"}); err != nil {
		t.Fatalf("publish pinned: %v", err)
	}
	if a.published != 1 || b.published != 2 {
		t.Fatalf("expected pinned publish to reach only multi-b, got a=%d b=%d", a.published, b.published)
	}

	if err := pub.PublishForDrivers(context.Background(), "multi.topic", Event{}, []string{"missing"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

// TestPublishEncodesEventAndMetadata ensures the event envelope is the payload and metadata is set.
func TestPublishEncodesEventAndMetadata(t *testing.T) {
	stub := &stubPublisher{}
	registerStub(t, "payload", stub, nil)

	pub, err := NewPublisher(WatermillConfig{Driver: "payload"})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	event := Event{
		Provider:  "gitlab",
		Name:      "gitlab.webhook.commit",
		RequestID: "req-123",
		ProjectID: 7,
		Data:      map[string]interface{}{"task_id": int64(42), "commit_message": "fix #42"},
	}
	if err := pub.PublishForDrivers(context.Background(), "payload.topic", event, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var decoded Event
	if err := json.Unmarshal(stub.lastPayload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Name != event.Name || decoded.ProjectID != 7 {
		t.Fatalf("unexpected envelope %+v", decoded)
	}
	if decoded.Data["commit_message"] != "fix #42" {
		t.Fatalf("expected data to be forwarded, got %v", decoded.Data)
	}
	if stub.lastMetadata.Get("provider") != "gitlab" {
		t.Fatalf("expected provider metadata")
	}
	if stub.lastMetadata.Get("event") != "gitlab.webhook.commit" {
		t.Fatalf("expected event metadata")
	}
	if stub.lastMetadata.Get("request_id") != "req-123" {
		t.Fatalf("expected request_id metadata")
	}
}

// TestPublishRetries tests that transient publish failures are retried up to the configured attempts.
func TestPublishRetries(t *testing.T) {
	stub := &stubPublisher{failures: 2}
	registerStub(t, "flaky", stub, nil)

	pub, err := NewPublisher(WatermillConfig{
		Driver:       "flaky",
		PublishRetry: PublishRetryConfig{Attempts: 3},
	})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := pub.Publish(context.Background(), "retry.topic", Event{Name: "gitlab.webhook.issue.closed"}); err != nil {
		t.Fatalf("expected publish to succeed after retries: %v", err)
	}
	if stub.published != 1 {
		t.Fatalf("expected one delivered message, got %d", stub.published)
	}

	stub.failures = 5
	if err := pub.Publish(context.Background(), "retry.topic", Event{}); err == nil {
		t.Fatalf("expected error once attempts are exhausted")
	}
}

// TestNewPublisherNoDrivers tests that construction fails when no driver can be built.
func TestNewPublisherNoDrivers(t *testing.T) {
	if _, err := NewPublisher(WatermillConfig{Driver: "kafka"}); err == nil {
		t.Fatalf("expected error when kafka has no brokers")
	}
}

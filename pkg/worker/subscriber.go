package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmamaqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/pkg/kafka"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/hashicorp/golang-lru/v2/expirable"
	stan "github.com/nats-io/stan.go"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// SubscriberFactory builds the subscriber for one driver.
type SubscriberFactory func(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error)

var subscriberFactories = map[string]SubscriberFactory{
	"gochannel": newGoChannelSubscriber,
	"amqp":      newAMQPSubscriber,
	"nats":      newNATSSubscriber,
	"kafka":     newKafkaSubscriber,
	"sql":       newSQLSubscriber,
}

// RegisterSubscriberDriver adds or replaces the subscriber factory for name,
// mirroring the service's publisher driver registry.
func RegisterSubscriberDriver(name string, factory SubscriberFactory) {
	if name == "" || factory == nil {
		return
	}
	subscriberFactories[strings.ToLower(name)] = factory
}

// NewFromConfig creates a worker reading from the configured drivers.
func NewFromConfig(cfg SubscriberConfig, opts ...Option) (*Worker, error) {
	sub, err := BuildSubscriber(cfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts, WithSubscriber(sub))
	return New(opts...), nil
}

// BuildSubscriber returns the subscriber for cfg. With several drivers the
// result fans their messages in, so a task event the service published to
// each of them is delivered once.
func BuildSubscriber(cfg SubscriberConfig) (message.Subscriber, error) {
	logger := watermill.NewStdLogger(false, false)

	drivers := subscriberDrivers(cfg)
	if len(drivers) == 1 {
		return buildDriver(cfg, logger, drivers[0])
	}

	subs := make([]namedSubscriber, 0, len(drivers))
	for _, driver := range drivers {
		sub, err := buildDriver(cfg, logger, driver)
		if err != nil {
			logger.Error("subscriber init failed, skipping driver", err, watermill.LogFields{
				"driver": driver,
			})
			continue
		}
		subs = append(subs, namedSubscriber{driver: driver, sub: sub})
	}
	if len(subs) == 0 {
		return nil, errors.New("no supported subscriber drivers configured")
	}
	return newFanInSubscriber(subs, cfg, logger), nil
}

func subscriberDrivers(cfg SubscriberConfig) []string {
	drivers := uniqueStrings(append(append([]string{}, cfg.Drivers...), cfg.Driver))
	if len(drivers) == 0 {
		return []string{"gochannel"}
	}
	return drivers
}

func buildDriver(cfg SubscriberConfig, logger watermill.LoggerAdapter, driver string) (message.Subscriber, error) {
	factory, ok := subscriberFactories[strings.ToLower(driver)]
	if !ok {
		return nil, fmt.Errorf("unsupported subscriber driver: %s", driver)
	}
	return factory(cfg, logger)
}

func newGoChannelSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            cfg.GoChannel.OutputChannelBuffer,
		Persistent:                     cfg.GoChannel.Persistent,
		BlockPublishUntilSubscriberAck: cfg.GoChannel.BlockPublishUntilSubscriberAck,
	}, logger), nil
}

func newAMQPSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if cfg.AMQP.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	amqpCfg, err := amqpSubscriberConfig(cfg.AMQP.URL, cfg.AMQP.Mode)
	if err != nil {
		return nil, err
	}
	return retrySubscriber(cfg.BuildRetry, func() (message.Subscriber, error) {
		return wmamaqp.NewSubscriber(amqpCfg, logger)
	})
}

func newNATSSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if cfg.NATS.ClusterID == "" || cfg.NATS.ClientID == "" {
		return nil, errors.New("nats cluster_id and client_id are required")
	}
	natsCfg := wmnats.StreamingSubscriberConfig{
		ClusterID:   cfg.NATS.ClusterID,
		ClientID:    cfg.NATS.ClientID + cfg.NATS.ClientIDSuffix,
		DurableName: cfg.NATS.Durable,
		Unmarshaler: wmnats.GobMarshaler{},
	}
	if cfg.NATS.URL != "" {
		natsCfg.StanOptions = append(natsCfg.StanOptions, stan.NatsURL(cfg.NATS.URL))
	}
	return retrySubscriber(cfg.BuildRetry, func() (message.Subscriber, error) {
		return wmnats.NewStreamingSubscriber(natsCfg, logger)
	})
}

func newKafkaSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	return retrySubscriber(cfg.BuildRetry, func() (message.Subscriber, error) {
		return wmkafka.NewSubscriber(wmkafka.SubscriberConfig{
			Brokers:       cfg.Kafka.Brokers,
			ConsumerGroup: cfg.Kafka.ConsumerGroup,
		}, nil, wmkafka.DefaultMarshaler{}, logger)
	})
}

func newSQLSubscriber(cfg SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	if cfg.SQL.Driver == "" || cfg.SQL.DSN == "" {
		return nil, errors.New("sql driver and dsn are required")
	}
	schemaAdapter, offsetsAdapter, err := sqlAdapters(cfg.SQL.Dialect)
	if err != nil {
		return nil, err
	}
	return retrySubscriber(cfg.BuildRetry, func() (message.Subscriber, error) {
		db, err := sql.Open(cfg.SQL.Driver, cfg.SQL.DSN)
		if err != nil {
			return nil, err
		}
		sub, err := wmsql.NewSubscriber(db, wmsql.SubscriberConfig{
			ConsumerGroup:    cfg.SQL.ConsumerGroup,
			SchemaAdapter:    schemaAdapter,
			OffsetsAdapter:   offsetsAdapter,
			InitializeSchema: cfg.SQL.InitializeSchema || cfg.SQL.AutoInitializeSchema,
		}, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return &closingSubscriber{Subscriber: sub, closeFn: db.Close}, nil
	})
}

// retrySubscriber builds until the broker accepts the connection or the
// attempts run out.
func retrySubscriber(cfg BuildRetryConfig, build func() (message.Subscriber, error)) (message.Subscriber, error) {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := time.Duration(cfg.DelayMS) * time.Millisecond

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(delay)
		}
		sub, err := build()
		if err == nil {
			return sub, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

type closingSubscriber struct {
	message.Subscriber
	closeFn func() error
}

func (c *closingSubscriber) Close() error {
	err := c.Subscriber.Close()
	if c.closeFn != nil {
		err = errors.Join(err, c.closeFn())
	}
	return err
}

type namedSubscriber struct {
	driver string
	sub    message.Subscriber
}

// fanInSubscriber merges several drivers into one stream. The service
// publishes the same event id to every driver, so copies of an id already
// seen on a topic are acked and dropped.
type fanInSubscriber struct {
	subscribers []namedSubscriber
	bufferSize  int64
	logger      watermill.LoggerAdapter

	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

func newFanInSubscriber(subs []namedSubscriber, cfg SubscriberConfig, logger watermill.LoggerAdapter) *fanInSubscriber {
	size := cfg.Dedupe.Size
	if size <= 0 {
		size = defaultDedupeSize
	}
	ttl := time.Duration(cfg.Dedupe.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &fanInSubscriber{
		subscribers: subs,
		bufferSize:  cfg.GoChannel.OutputChannelBuffer,
		logger:      logger,
		seen:        expirable.NewLRU[string, struct{}](size, nil, ttl),
	}
}

func (f *fanInSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	buffer := f.bufferSize
	if buffer <= 0 {
		buffer = 64
	}
	out := make(chan *message.Message, buffer)

	var wg sync.WaitGroup
	for _, entry := range f.subscribers {
		ch, err := entry.sub.Subscribe(ctx, topic)
		if err != nil {
			return nil, fmt.Errorf("subscribe %s on %s: %w", topic, entry.driver, err)
		}
		wg.Add(1)
		go func(ch <-chan *message.Message, driver string) {
			defer wg.Done()
			f.forward(ctx, topic, driver, ch, out)
		}(ch, entry.driver)
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func (f *fanInSubscriber) forward(ctx context.Context, topic, driver string, in <-chan *message.Message, out chan<- *message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			if !f.firstDelivery(topic, msg.UUID) {
				f.logger.Debug("duplicate event dropped", watermill.LogFields{
					"topic": topic, "driver": driver, "uuid": msg.UUID,
				})
				msg.Ack()
				continue
			}
			if msg.Metadata == nil {
				msg.Metadata = message.Metadata{}
			}
			msg.Metadata.Set("driver", driver)
			select {
			case out <- msg:
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}
}

func (f *fanInSubscriber) firstDelivery(topic, id string) bool {
	if id == "" {
		return true
	}
	key := topic + "/" + id
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen.Contains(key) {
		return false
	}
	f.seen.Add(key, struct{}{})
	return true
}

func (f *fanInSubscriber) Close() error {
	var err error
	for _, entry := range f.subscribers {
		err = errors.Join(err, entry.sub.Close())
	}
	return err
}

func amqpSubscriberConfig(url, mode string) (wmamaqp.Config, error) {
	switch strings.ToLower(mode) {
	case "", "durable_queue":
		return wmamaqp.NewDurableQueueConfig(url), nil
	case "nondurable_queue":
		return wmamaqp.NewNonDurableQueueConfig(url), nil
	case "durable_pubsub":
		return wmamaqp.NewDurablePubSubConfig(url, nil), nil
	case "nondurable_pubsub":
		return wmamaqp.NewNonDurablePubSubConfig(url, nil), nil
	default:
		return wmamaqp.Config{}, fmt.Errorf("unsupported amqp mode: %s", mode)
	}
}

func sqlAdapters(dialect string) (wmsql.SchemaAdapter, wmsql.OffsetsAdapter, error) {
	switch strings.ToLower(dialect) {
	case "postgres", "postgresql":
		return wmsql.DefaultPostgreSQLSchema{}, wmsql.DefaultPostgreSQLOffsetsAdapter{}, nil
	case "mysql":
		return wmsql.DefaultMySQLSchema{}, wmsql.DefaultMySQLOffsetsAdapter{}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported sql dialect: %s", dialect)
	}
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

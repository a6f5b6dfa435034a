package internal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
)

// riverJobArgs is the job body inserted for each event.
type riverJobArgs struct {
	kind  string
	Topic string `json:"topic"`
	Event Event  `json:"event"`
}

func (a riverJobArgs) Kind() string { return a.kind }

// riverQueuePublisher inserts events as river jobs into a Postgres-backed queue.
type riverQueuePublisher struct {
	pool   *pgxpool.Pool
	client *river.Client[pgx.Tx]
	cfg    RiverQueueConfig
}

func newRiverQueuePublisher(cfg RiverQueueConfig) (*riverQueuePublisher, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("riverqueue dsn is required")
	}
	if cfg.Kind == "" {
		return nil, errors.New("riverqueue kind is required")
	}
	pool, err := pgxpool.New(context.Background(), cfg.DSN)
	if err != nil {
		return nil, err
	}
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{})
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &riverQueuePublisher{pool: pool, client: client, cfg: cfg}, nil
}

// Publish inserts a job carrying the event into the configured queue.
func (p *riverQueuePublisher) Publish(ctx context.Context, topic string, event Event) error {
	_, err := p.client.Insert(ctx, riverJobArgs{kind: p.cfg.Kind, Topic: topic, Event: event}, p.insertOpts())
	return err
}

func (p *riverQueuePublisher) insertOpts() *river.InsertOpts {
	return &river.InsertOpts{
		Queue:       p.cfg.Queue,
		MaxAttempts: p.cfg.MaxAttempts,
		Priority:    p.cfg.Priority,
		Tags:        p.cfg.Tags,
	}
}

// PublishForDrivers is a convenience method that calls Publish.
func (p *riverQueuePublisher) PublishForDrivers(ctx context.Context, topic string, event Event, drivers []string) error {
	return p.Publish(ctx, topic, event)
}

// Close closes the connection pool.
func (p *riverQueuePublisher) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

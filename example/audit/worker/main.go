package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"taskhooks/pkg/gitlabhook"
	worker "taskhooks/pkg/worker"

	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to app config")
	driver := flag.String("driver", "", "Override subscriber driver (amqp|nats|kafka|sql|gochannel)")
	concurrency := flag.Int("concurrency", 5, "Concurrent handlers")
	kindTopics := flag.Bool("kind-topics", false, "Subscribe to every kind topic instead of the configured rule topics")
	flag.Parse()

	log.SetPrefix("taskhooks/audit-worker ")
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	subCfg, err := worker.LoadSubscriberConfig(*configPath)
	if err != nil {
		log.Fatalf("load subscriber config: %v", err)
	}
	if *driver != "" {
		subCfg.Driver = *driver
		subCfg.Drivers = nil
	}
	topicOption := worker.WithKindTopics()
	topics := worker.KindTopics()
	if !*kindTopics {
		topics, err = worker.LoadTopicsFromConfig(*configPath)
		if err != nil {
			log.Fatalf("load topics: %v", err)
		}
		topicOption = worker.WithTopics(topics...)
	}

	sub, err := worker.BuildSubscriber(subCfg)
	if err != nil {
		log.Fatalf("subscriber: %v", err)
	}

	wk := worker.New(
		worker.WithSubscriber(sub),
		topicOption,
		worker.WithConcurrency(*concurrency),
		worker.WithRetry(worker.DropUndecodable{}),
		worker.WithMiddleware(worker.MiddlewareFromWatermill(middleware.Recoverer)),
		worker.WithListener(worker.Listener{
			OnStart:     func(ctx context.Context) { log.Printf("listening on %v", topics) },
			OnExit:      func(ctx context.Context) { log.Printf("stopped") },
			OnUnhandled: func(ctx context.Context, evt *worker.Event) {
				log.Printf("no audit handler for %s on %s", evt.Kind, evt.Topic)
			},
		}),
	)
	defer func() {
		if err := wk.Close(); err != nil {
			log.Printf("worker close: %v", err)
		}
	}()

	wk.HandleKind(string(gitlabhook.KindCommit), func(ctx context.Context, evt *worker.Event) error {
		taskID, _ := evt.Int("task_id")
		log.Printf("project=%d task=%d commit %s", evt.ProjectID, taskID, evt.String("commit_url"))
		return nil
	})
	wk.HandleKind(string(gitlabhook.KindIssueOpened), func(ctx context.Context, evt *worker.Event) error {
		log.Printf("project=%d create task %q from issue %s", evt.ProjectID, evt.String("title"), evt.String("reference"))
		return nil
	})
	transition := func(ctx context.Context, evt *worker.Event) error {
		taskID, _ := evt.Int("task_id")
		log.Printf("project=%d task=%d %s", evt.ProjectID, taskID, evt.Kind)
		return nil
	}
	wk.HandleKind(string(gitlabhook.KindIssueClosed), transition)
	wk.HandleKind(string(gitlabhook.KindIssueReopened), transition)
	wk.HandleKind(string(gitlabhook.KindIssueCommented), func(ctx context.Context, evt *worker.Event) error {
		taskID, _ := evt.Int("task_id")
		userID, _ := evt.Int("user_id")
		log.Printf("project=%d task=%d comment by user %d", evt.ProjectID, taskID, userID)
		return nil
	})

	if err := wk.Run(ctx); err != nil {
		log.Fatalf("worker run: %v", err)
	}
}

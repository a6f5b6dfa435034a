package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"taskhooks/internal"
	"taskhooks/pkg/api"
	"taskhooks/pkg/dispatch"
	"taskhooks/pkg/gitlabhook"
	"taskhooks/pkg/storage"
	"taskhooks/pkg/storage/tasks"
	"taskhooks/pkg/storage/users"
	"taskhooks/pkg/webhook"
)

func main() {
	logger := internal.NewLogger("server")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	db, err := storage.Open(config.Storage)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	defer func() {
		if err := storage.Close(db); err != nil {
			logger.Printf("storage close: %v", err)
		}
	}()
	taskStore, err := tasks.New(db, config.Storage)
	if err != nil {
		logger.Fatalf("task store: %v", err)
	}
	userStore, err := users.New(db, config.Storage)
	if err != nil {
		logger.Fatalf("user store: %v", err)
	}

	ruleEngine, err := internal.NewRuleEngine(internal.RulesConfig{
		Rules:  config.Rules,
		Strict: config.RulesStrict,
		Logger: logger,
	})
	if err != nil {
		logger.Fatalf("compile rules: %v", err)
	}

	publisher, err := internal.NewPublisher(config.Watermill)
	if err != nil {
		logger.Fatalf("publisher: %v", err)
	}
	defer publisher.Close()

	dispatcher, err := dispatch.New(ruleEngine, publisher, internal.NewLogger("dispatch"))
	if err != nil {
		logger.Fatalf("dispatcher: %v", err)
	}
	correlator, err := gitlabhook.NewCorrelator(taskStore, config.Correlation.TaskPattern)
	if err != nil {
		logger.Fatalf("correlator: %v", err)
	}
	handler, err := gitlabhook.NewHandler(correlator, userStore, dispatcher, internal.NewLogger("gitlab"))
	if err != nil {
		logger.Fatalf("gitlab handler: %v", err)
	}

	mux := http.NewServeMux()

	if config.GitLab.Enabled {
		glHandler, err := webhook.NewGitLabHandler(
			config.GitLab.Secret,
			handler,
			logger,
			config.Server.MaxBodyBytes,
			config.GitLab.DebugEvents,
		)
		if err != nil {
			logger.Fatalf("gitlab webhook: %v", err)
		}
		route := "POST " + config.GitLab.Path + "/{" + webhook.ProjectIDParam + "}"
		mux.Handle(route, internal.NewRateLimitHandler(
			glHandler,
			config.Server.RateLimitRPS,
			config.Server.RateLimitBurst,
			config.Server.RateLimitKeys,
			time.Duration(config.Server.RateLimitTTLMS)*time.Millisecond,
		))
		logger.Printf("gitlab webhook enabled on %s/{%s}", config.GitLab.Path, webhook.ProjectIDParam)
	}

	if config.Server.APIEnabled {
		mux.Handle("/api/events", &api.EventsHandler{})
		mux.Handle("/api/tasks", &api.TasksHandler{Store: taskStore, Logger: logger})
		logger.Printf("admin api enabled on /api")
	}

	if config.Server.MetricsEnabled {
		mux.Handle(config.Server.MetricsPath, internal.MetricsHandler())
		logger.Printf("metrics enabled on %s", config.Server.MetricsPath)
	}

	addr := ":" + strconv.Itoa(config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       time.Duration(config.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:      time.Duration(config.Server.WriteTimeoutMS) * time.Millisecond,
		IdleTimeout:       time.Duration(config.Server.IdleTimeoutMS) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(config.Server.ReadHeaderMS) * time.Millisecond,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}

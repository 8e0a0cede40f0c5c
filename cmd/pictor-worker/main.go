package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"pictor/internal/app"
	"pictor/internal/config"
	"pictor/internal/taskqueue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defaults, err := app.GetDefaults()
	if err != nil {
		log.Fatalf("get defaults: %v", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		log.Fatalf("read config: %v", err)
	}
	if cfg.Queue.Type != "asynq" {
		log.Fatalf("the worker consumes an asynq queue, config has type %q", cfg.Queue.Type)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("initialize app: %v", err)
	}
	defer a.Close()

	a.ServeMetrics(ctx)

	concurrency := cfg.Queue.Workers
	if concurrency <= 0 {
		concurrency = 4
	}
	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr: cfg.Queue.RedisAddr,
	}, asynq.Config{
		Concurrency: concurrency,
	})

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(taskqueue.NewServeMux(a.Registry())); err != nil {
		log.Printf("worker stopped: %v", err)
		os.Exit(1)
	}
}

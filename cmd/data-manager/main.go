package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/i474232898/weather-batch-ingestion/internal/config"
	"github.com/i474232898/weather-batch-ingestion/internal/ingest"
	"github.com/i474232898/weather-batch-ingestion/internal/scheduler"
	"github.com/i474232898/weather-batch-ingestion/internal/store"
	"github.com/i474232898/weather-batch-ingestion/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	log.Printf("INFO: connecting to database %s", cfg.RedactedMongoURI())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		log.Fatalf("failed to connect to mongodb: %v", err)
	}

	// Shared HTTP client for outbound upstream calls.
	httpClient := &http.Client{
		Timeout: cfg.UpstreamTimeout,
	}

	client := upstream.NewClient(httpClient, cfg.UpstreamBaseURL, upstream.RetryConfig{
		MaxRetries: cfg.UpstreamMaxRetries,
		Delay:      cfg.UpstreamRetryDelay,
	})

	engine := ingest.NewEngine(client, db.Batches, db.Observations)

	// Run one cycle at startup, then on every tick. Cycles run on a
	// background context: an in-flight batch pipeline is never cancelled
	// mid-operation, it drains inside the shutdown grace window.
	sched := scheduler.New(cfg.PollInterval, engine)
	if err := sched.Start(context.Background()); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	log.Printf("INFO: data manager running, processing batches every %s", cfg.PollInterval)

	<-ctx.Done()
	log.Println("INFO: shutdown signal received, draining in-flight work")

	// Stop scheduling new cycles and give the running cycle a bounded
	// grace window to finish.
	sched.Stop()
	time.Sleep(cfg.ShutdownGrace)

	disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.Disconnect(disconnectCtx); err != nil {
		log.Printf("ERROR: disconnecting from mongodb: %v", err)
	}

	log.Println("INFO: data manager stopped")
}

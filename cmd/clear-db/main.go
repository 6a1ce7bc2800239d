// Command clear-db drops the batch-metadata and weather-data collections.
// Development utility only.
package main

import (
	"context"
	"log"
	"time"

	"github.com/i474232898/weather-batch-ingestion/internal/config"
	"github.com/i474232898/weather-batch-ingestion/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := store.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		log.Fatalf("failed to connect to mongodb: %v", err)
	}
	defer db.Disconnect(context.Background())

	if err := db.Batches.Drop(ctx); err != nil {
		log.Fatalf("failed to drop batch metadata: %v", err)
	}
	if err := db.Observations.Drop(ctx); err != nil {
		log.Fatalf("failed to drop weather data: %v", err)
	}

	log.Println("INFO: database cleared")
}

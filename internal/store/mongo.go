package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	batchCollection       = "batchmetadata"
	observationCollection = "weatherdata"

	connectTimeout = 10 * time.Second
)

// DB bundles the Mongo client and the two collections this service owns.
type DB struct {
	client       *mongo.Client
	Batches      *BatchStore
	Observations *ObservationStore
}

// Connect opens a Mongo connection, pings it, and ensures indexes.
func Connect(ctx context.Context, uri, database string) (*DB, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect failed: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}

	db := client.Database(database)
	s := &DB{
		client:       client,
		Batches:      &BatchStore{collection: db.Collection(batchCollection)},
		Observations: &ObservationStore{collection: db.Collection(observationCollection)},
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo index ensure failed: %w", err)
	}

	return s, nil
}

// Disconnect closes the underlying client.
func (s *DB) Disconnect(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *DB) ensureIndexes(ctx context.Context) error {
	_, err := s.Batches.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "batchId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}

	_, err = s.Observations.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			// Duplicate suppression key for retried pages.
			Keys:    bson.D{{Key: "latitude", Value: 1}, {Key: "longitude", Value: 1}, {Key: "batchId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "batchId", Value: 1}, {Key: "forecastTime", Value: 1}},
		},
	})
	return err
}

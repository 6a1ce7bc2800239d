package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound is returned when a batch record does not exist.
var ErrNotFound = errors.New("batch not found")

// BatchStore persists batch metadata records.
type BatchStore struct {
	collection *mongo.Collection
}

// Create inserts a new batch record. A duplicate batchId is not an error:
// re-discovery of an already-known batch is a no-op and Create reports
// created=false.
func (s *BatchStore) Create(ctx context.Context, rec *BatchRecord) (created bool, err error) {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err = s.collection.InsertOne(ctx, rec)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// FindByID returns the record for batchID, or ErrNotFound.
func (s *BatchStore) FindByID(ctx context.Context, batchID string) (*BatchRecord, error) {
	var rec BatchRecord
	err := s.collection.FindOne(ctx, bson.M{"batchId": batchID}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Complete marks a fully ingested batch ACTIVE and stamps endIngestTime.
func (s *BatchStore) Complete(ctx context.Context, batchID string) error {
	return s.updateOne(ctx, batchID, bson.M{
		"status":        StatusActive,
		"endIngestTime": time.Now().UTC(),
	})
}

// MarkCleanedUp records that a batch vanished upstream mid-ingest: its rows
// are gone, it is INACTIVE, and that state is terminal.
func (s *BatchStore) MarkCleanedUp(ctx context.Context, batchID string) error {
	return s.updateOne(ctx, batchID, bson.M{
		"status":        StatusInactive,
		"isDeleted":     true,
		"endIngestTime": time.Now().UTC(),
	})
}

// MarkRowsDeleted flags a batch whose observation rows were purged by
// retention. Status is left untouched; only the row data is gone.
func (s *BatchStore) MarkRowsDeleted(ctx context.Context, batchID string) error {
	return s.updateOne(ctx, batchID, bson.M{"isDeleted": true})
}

// IncrementRowCount atomically adds n to the batch's numberOfRows.
func (s *BatchStore) IncrementRowCount(ctx context.Context, batchID string, n int64) error {
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"batchId": batchID},
		bson.M{
			"$inc": bson.M{"numberOfRows": n},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// FindByStatusSorted returns every batch in the given status, newest
// forecastTime first.
func (s *BatchStore) FindByStatusSorted(ctx context.Context, status BatchStatus) ([]BatchRecord, error) {
	return s.findSorted(ctx, bson.M{"status": status}, nil)
}

// LatestActiveIDs returns up to limit ACTIVE batch IDs, newest
// forecastTime first.
func (s *BatchStore) LatestActiveIDs(ctx context.Context, limit int64) ([]string, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "forecastTime", Value: -1}}).
		SetLimit(limit).
		SetProjection(bson.M{"batchId": 1})

	cur, err := s.collection.Find(ctx, bson.M{"status": StatusActive}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var rec BatchRecord
		if err := cur.Decode(&rec); err != nil {
			return nil, err
		}
		ids = append(ids, rec.BatchID)
	}
	return ids, cur.Err()
}

// IDsIn returns the subset of batchIDs already present in the store.
func (s *BatchStore) IDsIn(ctx context.Context, batchIDs []string) ([]string, error) {
	opts := options.Find().SetProjection(bson.M{"batchId": 1})
	cur, err := s.collection.Find(ctx, bson.M{"batchId": bson.M{"$in": batchIDs}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var rec BatchRecord
		if err := cur.Decode(&rec); err != nil {
			return nil, err
		}
		ids = append(ids, rec.BatchID)
	}
	return ids, cur.Err()
}

// DeactivateNotIn sets INACTIVE on every stored batch whose ID is absent
// from upstreamIDs and returns how many records changed.
func (s *BatchStore) DeactivateNotIn(ctx context.Context, upstreamIDs []string) (int64, error) {
	res, err := s.collection.UpdateMany(ctx,
		bson.M{"batchId": bson.M{"$nin": upstreamIDs}},
		bson.M{"$set": bson.M{
			"status":    StatusInactive,
			"updatedAt": time.Now().UTC(),
		}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// ListAll returns every batch record, newest forecastTime first.
func (s *BatchStore) ListAll(ctx context.Context) ([]BatchRecord, error) {
	return s.findSorted(ctx, bson.M{}, nil)
}

// Drop removes the whole collection.
func (s *BatchStore) Drop(ctx context.Context) error {
	return s.collection.Drop(ctx)
}

func (s *BatchStore) updateOne(ctx context.Context, batchID string, set bson.M) error {
	set["updatedAt"] = time.Now().UTC()
	res, err := s.collection.UpdateOne(ctx, bson.M{"batchId": batchID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *BatchStore) findSorted(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]BatchRecord, error) {
	if opts == nil {
		opts = options.Find()
	}
	opts.SetSort(bson.D{{Key: "forecastTime", Value: -1}})

	cur, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var recs []BatchRecord
	if err := cur.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

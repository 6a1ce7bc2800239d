package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Tolerance is the half-width, in degrees, of the latitude/longitude box
// used to match a query coordinate to stored observations.
const Tolerance = 0.01

// ObservationStore persists individual weather observations.
type ObservationStore struct {
	collection *mongo.Collection
}

// InsertPage bulk-inserts one page of observations unordered and returns how
// many rows were actually inserted. Duplicate-key rejections are expected
// under at-least-once ingestion and are not errors; any other write error
// fails the page.
func (s *ObservationStore) InsertPage(ctx context.Context, rows []ObservationRecord) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	docs := make([]interface{}, len(rows))
	for i := range rows {
		rows[i].CreatedAt = now
		docs[i] = rows[i]
	}

	res, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		return insertedDespiteDuplicates(err, len(rows))
	}
	return int64(len(res.InsertedIDs)), nil
}

// insertedDespiteDuplicates inspects a bulk-write failure. If every write
// error is a duplicate-key rejection the insert is a partial success and the
// surviving row count is returned; otherwise the original error stands.
func insertedDespiteDuplicates(err error, attempted int) (int64, error) {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		return 0, err
	}
	for _, we := range bwe.WriteErrors {
		if !isDuplicateWriteError(we) {
			return 0, err
		}
	}
	return int64(attempted - len(bwe.WriteErrors)), nil
}

func isDuplicateWriteError(we mongo.BulkWriteError) bool {
	return we.Code == 11000
}

// DeleteByBatch removes every observation belonging to batchID and returns
// the number of rows deleted.
func (s *ObservationStore) DeleteByBatch(ctx context.Context, batchID string) (int64, error) {
	res, err := s.collection.DeleteMany(ctx, bson.M{"batchId": batchID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// FindNear returns observations within the tolerance box around (lat, lon)
// restricted to the given batches, oldest forecastTime first.
func (s *ObservationStore) FindNear(ctx context.Context, lat, lon float64, batchIDs []string) ([]ObservationRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "forecastTime", Value: 1}})

	cur, err := s.collection.Find(ctx, toleranceFilter(lat, lon, batchIDs), opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var recs []ObservationRecord
	if err := cur.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Summarize computes min/max/avg of temperature, precipitation rate and
// humidity over the tolerance box and batch set. Returns nil when no
// observations match.
func (s *ObservationStore) Summarize(ctx context.Context, lat, lon float64, batchIDs []string) (*SummaryStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: toleranceFilter(lat, lon, batchIDs)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "maxTemp", Value: bson.M{"$max": "$temperature"}},
			{Key: "minTemp", Value: bson.M{"$min": "$temperature"}},
			{Key: "avgTemp", Value: bson.M{"$avg": "$temperature"}},
			{Key: "maxPrecip", Value: bson.M{"$max": "$precipitationRate"}},
			{Key: "minPrecip", Value: bson.M{"$min": "$precipitationRate"}},
			{Key: "avgPrecip", Value: bson.M{"$avg": "$precipitationRate"}},
			{Key: "maxHumidity", Value: bson.M{"$max": "$humidity"}},
			{Key: "minHumidity", Value: bson.M{"$min": "$humidity"}},
			{Key: "avgHumidity", Value: bson.M{"$avg": "$humidity"}},
		}}},
	}

	cur, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var results []SummaryStats
	if err := cur.All(ctx, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return &results[0], nil
}

// Drop removes the whole collection.
func (s *ObservationStore) Drop(ctx context.Context) error {
	return s.collection.Drop(ctx)
}

func toleranceFilter(lat, lon float64, batchIDs []string) bson.M {
	return bson.M{
		"batchId": bson.M{"$in": batchIDs},
		"latitude": bson.M{
			"$gte": lat - Tolerance,
			"$lte": lat + Tolerance,
		},
		"longitude": bson.M{
			"$gte": lon - Tolerance,
			"$lte": lon + Tolerance,
		},
	}
}

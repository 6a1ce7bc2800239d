package store

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// BatchStatus is the lifecycle state of an ingested batch.
type BatchStatus string

const (
	// StatusRunning means pages are still being fetched.
	StatusRunning BatchStatus = "RUNNING"
	// StatusActive means the batch is fully ingested and eligible for reads.
	StatusActive BatchStatus = "ACTIVE"
	// StatusInactive means the batch was retired or is no longer reported
	// upstream. Terminal.
	StatusInactive BatchStatus = "INACTIVE"
)

// BatchRecord is the persisted metadata for one upstream batch.
type BatchRecord struct {
	BatchID         string      `bson:"batchId" json:"batchId"`
	ForecastTime    time.Time   `bson:"forecastTime" json:"forecastTime"`
	NumberOfRows    int64       `bson:"numberOfRows" json:"numberOfRows"`
	StartIngestTime time.Time   `bson:"startIngestTime" json:"startIngestTime"`
	EndIngestTime   *time.Time  `bson:"endIngestTime,omitempty" json:"endIngestTime,omitempty"`
	Status          BatchStatus `bson:"status" json:"status"`
	IsDeleted       bool        `bson:"isDeleted" json:"isDeleted"`
	// RawData is the upstream metadata snapshot, stored verbatim.
	RawData   bson.M    `bson:"rawData,omitempty" json:"-"`
	CreatedAt time.Time `bson:"createdAt" json:"-"`
	UpdatedAt time.Time `bson:"updatedAt" json:"-"`
}

// ObservationRecord is one stored weather data point. Uniqueness is enforced
// on (latitude, longitude, batchId).
type ObservationRecord struct {
	BatchID           string    `bson:"batchId" json:"batchId"`
	Latitude          float64   `bson:"latitude" json:"latitude"`
	Longitude         float64   `bson:"longitude" json:"longitude"`
	ForecastTime      time.Time `bson:"forecastTime" json:"forecastTime"`
	Temperature       float64   `bson:"temperature" json:"temperature"`
	Humidity          float64   `bson:"humidity" json:"humidity"`
	PrecipitationRate float64   `bson:"precipitationRate" json:"precipitationRate"`
	CreatedAt         time.Time `bson:"createdAt" json:"-"`
}

// SummaryStats holds min/max/avg over a set of observations.
type SummaryStats struct {
	MaxTemp     float64 `bson:"maxTemp"`
	MinTemp     float64 `bson:"minTemp"`
	AvgTemp     float64 `bson:"avgTemp"`
	MaxPrecip   float64 `bson:"maxPrecip"`
	MinPrecip   float64 `bson:"minPrecip"`
	AvgPrecip   float64 `bson:"avgPrecip"`
	MaxHumidity float64 `bson:"maxHumidity"`
	MinHumidity float64 `bson:"minHumidity"`
	AvgHumidity float64 `bson:"avgHumidity"`
}

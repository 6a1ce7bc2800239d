package httpapi

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-batch-ingestion/internal/store"
)

// activeBatchLimit is how many of the most recent ACTIVE batches serve
// point queries and summaries.
const activeBatchLimit = 3

var validate = validator.New()

// BatchReader is the read-only slice of the batch store the API uses.
type BatchReader interface {
	ListAll(ctx context.Context) ([]store.BatchRecord, error)
	LatestActiveIDs(ctx context.Context, limit int64) ([]string, error)
}

// ObservationReader is the read-only slice of the observation store the
// API uses.
type ObservationReader interface {
	FindNear(ctx context.Context, lat, lon float64, batchIDs []string) ([]store.ObservationRecord, error)
	Summarize(ctx context.Context, lat, lon float64, batchIDs []string) (*store.SummaryStats, error)
}

// WeatherMeasures is one triple of measurements in the external response
// shape.
type WeatherMeasures struct {
	Temperature       float64 `json:"Temperature"`
	PrecipitationRate float64 `json:"Precipitation_rate"`
	Humidity          float64 `json:"Humidity"`
}

// WeatherDataPoint is one observation in the point-query response.
type WeatherDataPoint struct {
	ForecastTime string `json:"forecastTime"`
	WeatherMeasures
}

// WeatherSummary is the min/max/avg response body.
type WeatherSummary struct {
	Max WeatherMeasures `json:"max"`
	Min WeatherMeasures `json:"min"`
	Avg WeatherMeasures `json:"avg"`
}

// BatchMetadata is one entry of the batch-listing response.
type BatchMetadata struct {
	BatchID         string  `json:"batchId"`
	ForecastTime    string  `json:"forecastTime"`
	NumberOfRows    int64   `json:"numberOfRows"`
	StartIngestTime string  `json:"startIngestTime"`
	EndIngestTime   *string `json:"endIngestTime,omitempty"`
	Status          string  `json:"status"`
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, batches BatchReader, observations ObservationReader) {
	api := app.Group("/api")

	api.Get("/weather/data", func(c *fiber.Ctx) error {
		coords, err := parseCoordinates(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		batchIDs, err := batches.LatestActiveIDs(c.Context(), activeBatchLimit)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather data")
		}
		if len(batchIDs) == 0 {
			return c.JSON([]WeatherDataPoint{})
		}

		points, err := observations.FindNear(c.Context(), coords.Lat, coords.Lon, batchIDs)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather data")
		}
		if len(points) == 0 {
			return fiber.NewError(fiber.StatusNotFound, "no weather data points found for location")
		}

		response := make([]WeatherDataPoint, 0, len(points))
		for _, p := range points {
			response = append(response, WeatherDataPoint{
				ForecastTime: p.ForecastTime.UTC().Format(time.RFC3339),
				WeatherMeasures: WeatherMeasures{
					Temperature:       p.Temperature,
					PrecipitationRate: p.PrecipitationRate,
					Humidity:          p.Humidity,
				},
			})
		}
		return c.JSON(response)
	})

	api.Get("/weather/summarize", func(c *fiber.Ctx) error {
		coords, err := parseCoordinates(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		batchIDs, err := batches.LatestActiveIDs(c.Context(), activeBatchLimit)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather summary")
		}
		if len(batchIDs) == 0 {
			// An empty active set is a zeroed summary, not an error.
			return c.JSON(WeatherSummary{})
		}

		stats, err := observations.Summarize(c.Context(), coords.Lat, coords.Lon, batchIDs)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather summary")
		}
		if stats == nil {
			return fiber.NewError(fiber.StatusNotFound, "no weather data points found for location")
		}

		return c.JSON(WeatherSummary{
			Max: WeatherMeasures{
				Temperature:       round1(stats.MaxTemp),
				PrecipitationRate: round1(stats.MaxPrecip),
				Humidity:          round1(stats.MaxHumidity),
			},
			Min: WeatherMeasures{
				Temperature:       round1(stats.MinTemp),
				PrecipitationRate: round1(stats.MinPrecip),
				Humidity:          round1(stats.MinHumidity),
			},
			Avg: WeatherMeasures{
				Temperature:       round1(stats.AvgTemp),
				PrecipitationRate: round1(stats.AvgPrecip),
				Humidity:          round1(stats.AvgHumidity),
			},
		})
	})

	api.Get("/batches", func(c *fiber.Ctx) error {
		recs, err := batches.ListAll(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch batches")
		}

		response := make([]BatchMetadata, 0, len(recs))
		for _, rec := range recs {
			meta := BatchMetadata{
				BatchID:         rec.BatchID,
				ForecastTime:    rec.ForecastTime.UTC().Format(time.RFC3339),
				NumberOfRows:    rec.NumberOfRows,
				StartIngestTime: rec.StartIngestTime.UTC().Format(time.RFC3339),
				Status:          string(rec.Status),
			}
			if rec.EndIngestTime != nil {
				end := rec.EndIngestTime.UTC().Format(time.RFC3339)
				meta.EndIngestTime = &end
			}
			response = append(response, meta)
		}
		return c.JSON(response)
	})
}

// coordinatesQuery holds the validated lat/lon query parameters.
type coordinatesQuery struct {
	Lat float64 `validate:"gte=-90,lte=90"`
	Lon float64 `validate:"gte=-180,lte=180"`
}

func parseCoordinates(c *fiber.Ctx) (coordinatesQuery, error) {
	var q coordinatesQuery

	latStr := c.Query("lat")
	lonStr := c.Query("lon")
	if latStr == "" || lonStr == "" {
		return q, fiber.NewError(fiber.StatusBadRequest, "missing required query parameters: lat and lon")
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return q, fiber.NewError(fiber.StatusBadRequest, "invalid lat/lon values, must be valid numbers")
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return q, fiber.NewError(fiber.StatusBadRequest, "invalid lat/lon values, must be valid numbers")
	}

	q.Lat = lat
	q.Lon = lon
	if err := validate.Struct(q); err != nil {
		return q, fiber.NewError(fiber.StatusBadRequest, "latitude must be in [-90,90] and longitude in [-180,180]")
	}
	return q, nil
}

// round1 rounds to one decimal place.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

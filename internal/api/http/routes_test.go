package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-batch-ingestion/internal/store"
)

type fakeReadStore struct {
	batches    []store.BatchRecord
	activeIDs  []string
	points     []store.ObservationRecord
	summary    *store.SummaryStats
	lastLat    float64
	lastLon    float64
	lastLimit  int64
	lastFilter []string
}

func (f *fakeReadStore) ListAll(ctx context.Context) ([]store.BatchRecord, error) {
	return f.batches, nil
}

func (f *fakeReadStore) LatestActiveIDs(ctx context.Context, limit int64) ([]string, error) {
	f.lastLimit = limit
	return f.activeIDs, nil
}

func (f *fakeReadStore) FindNear(ctx context.Context, lat, lon float64, batchIDs []string) ([]store.ObservationRecord, error) {
	f.lastLat, f.lastLon, f.lastFilter = lat, lon, batchIDs
	return f.points, nil
}

func (f *fakeReadStore) Summarize(ctx context.Context, lat, lon float64, batchIDs []string) (*store.SummaryStats, error) {
	f.lastLat, f.lastLon, f.lastFilter = lat, lon, batchIDs
	return f.summary, nil
}

func newTestApp(fake *fakeReadStore) *fiber.App {
	app := fiber.New()
	RegisterRoutes(app, fake, fake)
	return app
}

func doRequest(t *testing.T, app *fiber.App, url string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resp
}

// TestCoordinateValidation verifies missing, non-numeric, and out-of-range
// lat/lon all return 400.
func TestCoordinateValidation(t *testing.T) {
	app := newTestApp(&fakeReadStore{})

	cases := []string{
		"/api/weather/data",
		"/api/weather/data?lat=40.5",
		"/api/weather/data?lat=abc&lon=10",
		"/api/weather/data?lat=91&lon=10",
		"/api/weather/data?lat=40&lon=-181",
		"/api/weather/summarize?lat=-90.1&lon=0",
	}
	for _, url := range cases {
		resp := doRequest(t, app, url)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", url, resp.StatusCode)
		}
	}
}

// TestWeatherDataEmptyActiveSet verifies no ACTIVE batches yields an empty
// 200 array, not an error.
func TestWeatherDataEmptyActiveSet(t *testing.T) {
	app := newTestApp(&fakeReadStore{})

	resp := doRequest(t, app, "/api/weather/data?lat=10&lon=10")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body []WeatherDataPoint
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body) != 0 {
		t.Fatalf("expected empty array, got %v", body)
	}
}

// TestWeatherDataNoMatchIs404 verifies active batches but no nearby points
// returns 404.
func TestWeatherDataNoMatchIs404(t *testing.T) {
	app := newTestApp(&fakeReadStore{activeIDs: []string{"a"}})

	resp := doRequest(t, app, "/api/weather/data?lat=10&lon=10")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

// TestWeatherDataResponseShape verifies the point-query payload and that the
// query is limited to the 3 most recent active batches.
func TestWeatherDataResponseShape(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := &fakeReadStore{
		activeIDs: []string{"a", "b", "c"},
		points: []store.ObservationRecord{
			{BatchID: "a", ForecastTime: ts, Temperature: 10.5, Humidity: 50, PrecipitationRate: 0.2},
		},
	}
	app := newTestApp(fake)

	resp := doRequest(t, app, "/api/weather/data?lat=40.5&lon=-73.9")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if fake.lastLimit != 3 {
		t.Fatalf("expected active-batch limit 3, got %d", fake.lastLimit)
	}
	if fake.lastLat != 40.5 || fake.lastLon != -73.9 {
		t.Fatalf("coordinates not passed through: %v, %v", fake.lastLat, fake.lastLon)
	}

	var body []WeatherDataPoint
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body) != 1 {
		t.Fatalf("expected 1 point, got %d", len(body))
	}
	if body[0].ForecastTime != "2024-01-01T00:00:00Z" {
		t.Fatalf("expected ISO-8601 forecastTime, got %q", body[0].ForecastTime)
	}
	if body[0].Temperature != 10.5 {
		t.Fatalf("unexpected temperature: %v", body[0].Temperature)
	}
}

// TestSummaryEmptyActiveSetIsZeroed verifies the all-zero summary body when
// no ACTIVE batches exist.
func TestSummaryEmptyActiveSetIsZeroed(t *testing.T) {
	app := newTestApp(&fakeReadStore{})

	resp := doRequest(t, app, "/api/weather/summarize?lat=10&lon=10")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body WeatherSummary
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	zero := WeatherMeasures{}
	if body.Max != zero || body.Min != zero || body.Avg != zero {
		t.Fatalf("expected all-zero summary, got %+v", body)
	}
}

// TestSummaryRoundsToOneDecimal verifies aggregate values come back rounded.
func TestSummaryRoundsToOneDecimal(t *testing.T) {
	fake := &fakeReadStore{
		activeIDs: []string{"a"},
		summary: &store.SummaryStats{
			MaxTemp: 10.55, MinTemp: 9.94, AvgTemp: 10.249,
			MaxPrecip: 0.26, MinPrecip: 0.04, AvgPrecip: 0.15,
			MaxHumidity: 51.16, MinHumidity: 49.99, AvgHumidity: 50.5,
		},
	}
	app := newTestApp(fake)

	resp := doRequest(t, app, "/api/weather/summarize?lat=10&lon=10")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body WeatherSummary
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Max.Temperature != 10.6 || body.Min.Temperature != 9.9 || body.Avg.Temperature != 10.2 {
		t.Fatalf("temperatures not rounded to one decimal: %+v", body)
	}
	if body.Max.Humidity != 51.2 || body.Min.Humidity != 50.0 {
		t.Fatalf("humidity not rounded to one decimal: %+v", body)
	}
}

// TestBatchListing verifies the batch metadata payload with ISO-8601
// timestamps, including the optional endIngestTime.
func TestBatchListing(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)
	fake := &fakeReadStore{
		batches: []store.BatchRecord{
			{
				BatchID:         "done",
				ForecastTime:    start,
				NumberOfRows:    100,
				StartIngestTime: start,
				EndIngestTime:   &end,
				Status:          store.StatusActive,
			},
			{
				BatchID:         "running",
				ForecastTime:    start,
				NumberOfRows:    10,
				StartIngestTime: start,
				Status:          store.StatusRunning,
			},
		},
	}
	app := newTestApp(fake)

	resp := doRequest(t, app, "/api/batches")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body []BatchMetadata
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(body))
	}
	if body[0].EndIngestTime == nil || *body[0].EndIngestTime != "2024-01-01T12:01:00Z" {
		t.Fatalf("unexpected endIngestTime: %v", body[0].EndIngestTime)
	}
	if body[1].EndIngestTime != nil {
		t.Fatal("running batch should have no endIngestTime")
	}
	if body[1].Status != "RUNNING" {
		t.Fatalf("unexpected status: %s", body[1].Status)
	}
}

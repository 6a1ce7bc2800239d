package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(ts *httptest.Server, maxRetries int) *Client {
	return NewClient(ts.Client(), ts.URL, RetryConfig{
		MaxRetries: maxRetries,
		Delay:      time.Millisecond,
	})
}

// TestRetryOnServerError verifies that 5xx responses are retried and the
// call eventually succeeds.
func TestRetryOnServerError(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode([]Batch{{BatchID: "a", ForecastTime: "2024-01-01T00:00:00Z"}})
	}))
	defer ts.Close()

	client := newTestClient(ts, 5)

	batches, err := client.ListBatches(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batches) != 1 || batches[0].BatchID != "a" {
		t.Fatalf("unexpected batches: %+v", batches)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

// TestRetriesExhausted verifies the retry ceiling is enforced.
func TestRetriesExhausted(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	client := newTestClient(ts, 2)

	if _, err := client.ListBatches(context.Background()); err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", got)
	}
}

// TestNotFoundIsNotRetried verifies a 404 maps to ErrBatchUnavailable and
// short-circuits the retry loop.
func TestNotFoundIsNotRetried(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := newTestClient(ts, 10)

	_, err := client.GetBatchPage(context.Background(), "gone", 0)
	if !errors.Is(err, ErrBatchUnavailable) {
		t.Fatalf("expected ErrBatchUnavailable, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

// TestForEachPageOrderAndTermination verifies pages are fetched in ascending
// order from 0 and iteration stops once page == totalPages-1 is processed.
func TestForEachPageOrderAndTermination(t *testing.T) {
	const totalPages = 3

	var requested []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		requested = append(requested, page)
		var p int
		fmt.Sscanf(page, "%d", &p)
		json.NewEncoder(w).Encode(BatchPage{
			Metadata: PageMetadata{BatchID: "b1", TotalPages: totalPages, Page: p},
			Data:     []Observation{{Latitude: 1, Longitude: 1}},
		})
	}))
	defer ts.Close()

	client := newTestClient(ts, 0)

	var seen []int
	err := client.ForEachPage(context.Background(), "b1", func(p *BatchPage) error {
		seen = append(seen, p.Metadata.Page)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != totalPages {
		t.Fatalf("expected %d pages, got %d", totalPages, len(seen))
	}
	for i, p := range seen {
		if p != i {
			t.Fatalf("pages out of order: %v", seen)
		}
	}
	if len(requested) != totalPages || requested[0] != "0" {
		t.Fatalf("unexpected request sequence: %v", requested)
	}
}

// TestForEachPageMidIngest404 verifies a 404 mid-pagination aborts the
// iteration with ErrBatchUnavailable.
func TestForEachPageMidIngest404(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "0" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(BatchPage{
			Metadata: PageMetadata{BatchID: "b1", TotalPages: 5, Page: 0},
		})
	}))
	defer ts.Close()

	client := newTestClient(ts, 0)

	var pages int
	err := client.ForEachPage(context.Background(), "b1", func(p *BatchPage) error {
		pages++
		return nil
	})
	if !errors.Is(err, ErrBatchUnavailable) {
		t.Fatalf("expected ErrBatchUnavailable, got %v", err)
	}
	if pages != 1 {
		t.Fatalf("expected exactly one page processed before abort, got %d", pages)
	}
}

func TestIsLastPage(t *testing.T) {
	p := &BatchPage{Metadata: PageMetadata{Page: 4, TotalPages: 5}}
	if !p.IsLastPage() {
		t.Fatal("page 4 of 5 should be the last page")
	}
	p.Metadata.Page = 3
	if p.IsLastPage() {
		t.Fatal("page 3 of 5 should not be the last page")
	}
}

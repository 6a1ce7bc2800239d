package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/i474232898/weather-batch-ingestion/internal/store"
	"github.com/i474232898/weather-batch-ingestion/internal/upstream"
)

// retentionWindow is how many of the most recently forecast ACTIVE batches
// keep their observation rows.
const retentionWindow = 3

// duplicateWarnRatio is the fraction of a page's rows that may be rejected
// as duplicates before the page is flagged in the logs.
const duplicateWarnRatio = 0.1

// UpstreamClient is the slice of the upstream API the engine needs.
type UpstreamClient interface {
	ListBatches(ctx context.Context) ([]upstream.Batch, error)
	GetBatchPage(ctx context.Context, batchID string, page int) (*upstream.BatchPage, error)
	ForEachPage(ctx context.Context, batchID string, fn func(*upstream.BatchPage) error) error
}

// BatchStore is the batch-metadata persistence the engine depends on.
type BatchStore interface {
	Create(ctx context.Context, rec *store.BatchRecord) (bool, error)
	FindByID(ctx context.Context, batchID string) (*store.BatchRecord, error)
	Complete(ctx context.Context, batchID string) error
	MarkCleanedUp(ctx context.Context, batchID string) error
	MarkRowsDeleted(ctx context.Context, batchID string) error
	IncrementRowCount(ctx context.Context, batchID string, n int64) error
	FindByStatusSorted(ctx context.Context, status store.BatchStatus) ([]store.BatchRecord, error)
	IDsIn(ctx context.Context, batchIDs []string) ([]string, error)
	DeactivateNotIn(ctx context.Context, upstreamIDs []string) (int64, error)
}

// ObservationStore is the observation persistence the engine depends on.
type ObservationStore interface {
	InsertPage(ctx context.Context, rows []store.ObservationRecord) (int64, error)
	DeleteByBatch(ctx context.Context, batchID string) (int64, error)
}

// Engine runs the batch-ingestion cycle: discover upstream batches,
// deactivate ones no longer reported, ingest new ones page by page, and
// retire old data.
type Engine struct {
	client       UpstreamClient
	batches      BatchStore
	observations ObservationStore
}

func NewEngine(client UpstreamClient, batches BatchStore, observations ObservationStore) *Engine {
	return &Engine{
		client:       client,
		batches:      batches,
		observations: observations,
	}
}

// ProcessBatches runs one full ingestion cycle. A failure to reach the
// upstream listing aborts the cycle; per-batch failures are isolated and
// never abort sibling batches.
func (e *Engine) ProcessBatches(ctx context.Context) {
	log.Println("INFO: ingest: fetching batches from weather API")

	batches, err := e.client.ListBatches(ctx)
	if err != nil {
		log.Printf("ERROR: ingest: listing upstream batches failed, cycle aborted: %v", err)
		return
	}

	upstreamIDs := make([]string, 0, len(batches))
	for _, b := range batches {
		upstreamIDs = append(upstreamIDs, b.BatchID)
	}

	if err := e.deactivateMissing(ctx, upstreamIDs); err != nil {
		log.Printf("ERROR: ingest: deactivation check failed: %v", err)
	}

	toProcess, err := e.filterKnown(ctx, batches, upstreamIDs)
	if err != nil {
		log.Printf("ERROR: ingest: looking up known batches failed, cycle aborted: %v", err)
		return
	}

	log.Printf("INFO: ingest: processing %d new of %d upstream batches", len(toProcess), len(batches))

	var wg sync.WaitGroup
	for _, b := range toProcess {
		b := b
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.processSingleBatch(ctx, b); err != nil {
				log.Printf("ERROR: ingest: batch %s failed: %v", b.BatchID, err)
			}
		}()
	}
	wg.Wait()

	log.Println("INFO: ingest: batch processing cycle completed")
}

// deactivateMissing sets INACTIVE on every stored batch the upstream listing
// no longer reports.
func (e *Engine) deactivateMissing(ctx context.Context, upstreamIDs []string) error {
	modified, err := e.batches.DeactivateNotIn(ctx, upstreamIDs)
	if err != nil {
		return err
	}
	if modified > 0 {
		log.Printf("INFO: ingest: deactivated %d batches no longer reported upstream", modified)
	}
	return nil
}

// filterKnown drops batches whose IDs already exist in the store; a batch is
// ingested in exactly one cycle, successful or not.
func (e *Engine) filterKnown(ctx context.Context, batches []upstream.Batch, upstreamIDs []string) ([]upstream.Batch, error) {
	if len(batches) == 0 {
		return nil, nil
	}

	knownIDs, err := e.batches.IDsIn(ctx, upstreamIDs)
	if err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(knownIDs))
	for _, id := range knownIDs {
		known[id] = struct{}{}
	}

	var fresh []upstream.Batch
	for _, b := range batches {
		if _, ok := known[b.BatchID]; !ok {
			fresh = append(fresh, b)
		}
	}
	return fresh, nil
}

// processSingleBatch ingests one newly discovered batch end to end.
func (e *Engine) processSingleBatch(ctx context.Context, b upstream.Batch) error {
	log.Printf("INFO: ingest: processing batch %s (forecast %s)", b.BatchID, b.ForecastTime)

	forecastTime, err := time.Parse(time.RFC3339, b.ForecastTime)
	if err != nil {
		return fmt.Errorf("invalid forecast_time %q: %w", b.ForecastTime, err)
	}

	probe, err := e.probeBatch(ctx, b.BatchID)
	if err != nil || probe == nil {
		return err
	}

	if err := e.createBatchRecord(ctx, probe.Metadata, forecastTime); err != nil {
		return err
	}

	if err := e.insertAllPages(ctx, b.BatchID, forecastTime); err != nil {
		if errors.Is(err, upstream.ErrBatchUnavailable) {
			log.Printf("WARN: ingest: batch %s became unavailable mid-ingest, cleaning up", b.BatchID)
			e.cleanupFailedBatch(ctx, b.BatchID)
		}
		return err
	}
	return nil
}

// probeBatch fetches page 0 to confirm the batch still exists before any
// state is created for it. A nil page with nil error means the batch should
// be skipped.
func (e *Engine) probeBatch(ctx context.Context, batchID string) (*upstream.BatchPage, error) {
	page, err := e.client.GetBatchPage(ctx, batchID, 0)
	if err == nil {
		if page.Metadata.BatchID == "" {
			return nil, fmt.Errorf("batch %s: upstream page missing metadata", batchID)
		}
		return page, nil
	}

	if !errors.Is(err, upstream.ErrBatchUnavailable) {
		return nil, fmt.Errorf("probing batch %s: %w", batchID, err)
	}

	// 404 on the probe: only clean up if a previous attempt left state.
	if _, findErr := e.batches.FindByID(ctx, batchID); findErr == nil {
		log.Printf("INFO: ingest: found existing metadata for 404 batch %s, cleaning up", batchID)
		e.cleanupFailedBatch(ctx, batchID)
	} else {
		log.Printf("WARN: ingest: batch %s not found upstream (404)", batchID)
	}
	return nil, nil
}

// createBatchRecord inserts the RUNNING metadata record. Duplicate-key
// creation means another cycle got here first and is swallowed.
func (e *Engine) createBatchRecord(ctx context.Context, meta upstream.PageMetadata, forecastTime time.Time) error {
	created, err := e.batches.Create(ctx, &store.BatchRecord{
		BatchID:         meta.BatchID,
		ForecastTime:    forecastTime,
		NumberOfRows:    0,
		StartIngestTime: time.Now().UTC(),
		Status:          store.StatusRunning,
		RawData:         rawMetadata(meta),
	})
	if err != nil {
		return fmt.Errorf("creating record for batch %s: %w", meta.BatchID, err)
	}
	if !created {
		log.Printf("INFO: ingest: batch metadata already exists (duplicate key), batch %s", meta.BatchID)
	}
	return nil
}

// insertAllPages walks every page of the batch in order, inserting rows and
// advancing the stored row count as each page lands.
func (e *Engine) insertAllPages(ctx context.Context, batchID string, forecastTime time.Time) error {
	return e.client.ForEachPage(ctx, batchID, func(page *upstream.BatchPage) error {
		if err := e.insertPageData(ctx, page, batchID, forecastTime); err != nil {
			return err
		}
		if page.IsLastPage() {
			return e.onLastPage(ctx, batchID)
		}
		return nil
	})
}

// insertPageData bulk-inserts one page's rows. Duplicate rows from retried
// pages are silently dropped by the store; only the surviving count advances
// numberOfRows.
func (e *Engine) insertPageData(ctx context.Context, page *upstream.BatchPage, batchID string, forecastTime time.Time) error {
	rows := make([]store.ObservationRecord, 0, len(page.Data))
	for _, obs := range page.Data {
		rows = append(rows, store.ObservationRecord{
			BatchID:           batchID,
			Latitude:          obs.Latitude,
			Longitude:         obs.Longitude,
			ForecastTime:      forecastTime,
			Temperature:       obs.Temperature,
			Humidity:          obs.Humidity,
			PrecipitationRate: obs.PrecipitationRate,
		})
	}

	inserted, err := e.observations.InsertPage(ctx, rows)
	if err != nil {
		return fmt.Errorf("inserting page %d of batch %s: %w", page.Metadata.Page, batchID, err)
	}

	skipped := int64(len(rows)) - inserted
	if float64(skipped) > float64(len(rows))*duplicateWarnRatio {
		log.Printf("WARN: ingest: many duplicates skipped on batch %s page %d: inserted=%d skipped=%d total=%d",
			batchID, page.Metadata.Page, inserted, skipped, len(rows))
	}

	if inserted > 0 {
		if err := e.batches.IncrementRowCount(ctx, batchID, inserted); err != nil {
			log.Printf("ERROR: ingest: failed to update row count for batch %s: %v", batchID, err)
		}
	}
	return nil
}

// onLastPage marks the batch fully ingested and enforces retention: among
// ACTIVE batches ordered by forecast time, everything past the newest three
// has its rows purged. Runs after every completion, not on its own schedule.
func (e *Engine) onLastPage(ctx context.Context, batchID string) error {
	log.Printf("INFO: ingest: batch %s fully ingested, marking active", batchID)
	if err := e.batches.Complete(ctx, batchID); err != nil {
		return fmt.Errorf("completing batch %s: %w", batchID, err)
	}

	active, err := e.batches.FindByStatusSorted(ctx, store.StatusActive)
	if err != nil {
		return fmt.Errorf("listing active batches for retention: %w", err)
	}

	if len(active) <= retentionWindow {
		return nil
	}

	for _, rec := range active[retentionWindow:] {
		e.deleteBatchRows(ctx, rec.BatchID)
	}
	return nil
}

// deleteBatchRows purges a retired batch's observations and flags the
// metadata record. The record itself, and its status, stay for audit.
func (e *Engine) deleteBatchRows(ctx context.Context, batchID string) {
	log.Printf("INFO: ingest: retiring rows of batch %s", batchID)

	deleted, err := e.observations.DeleteByBatch(ctx, batchID)
	if err != nil {
		log.Printf("ERROR: ingest: deleting rows of batch %s: %v", batchID, err)
		return
	}

	if err := e.batches.MarkRowsDeleted(ctx, batchID); err != nil {
		log.Printf("ERROR: ingest: marking batch %s rows deleted: %v", batchID, err)
		return
	}

	if deleted == 0 {
		log.Printf("WARN: ingest: no rows found to delete for batch %s (may have been already deleted)", batchID)
		return
	}
	log.Printf("INFO: ingest: deleted %d rows of batch %s", deleted, batchID)
}

// cleanupFailedBatch erases all trace of a batch that vanished upstream:
// rows deleted, record marked INACTIVE, deleted, and closed out.
func (e *Engine) cleanupFailedBatch(ctx context.Context, batchID string) {
	deleted, err := e.observations.DeleteByBatch(ctx, batchID)
	if err != nil {
		log.Printf("ERROR: ingest: cleanup of batch %s: deleting rows: %v", batchID, err)
	}

	if err := e.batches.MarkCleanedUp(ctx, batchID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("WARN: ingest: batch metadata not found for cleanup, batch %s", batchID)
			return
		}
		log.Printf("ERROR: ingest: cleanup of batch %s: updating record: %v", batchID, err)
		return
	}

	log.Printf("INFO: ingest: cleaned up unavailable batch %s, deleted %d rows", batchID, deleted)
}

func rawMetadata(meta upstream.PageMetadata) bson.M {
	return bson.M{
		"batch_id":    meta.BatchID,
		"count":       meta.Count,
		"total_pages": meta.TotalPages,
		"page":        meta.Page,
		"total_items": meta.TotalItems,
	}
}

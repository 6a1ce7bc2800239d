package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/weather-batch-ingestion/internal/ingest"
)

// Scheduler runs the ingestion cycle once at startup and thereafter on a
// fixed interval.
type Scheduler struct {
	scheduler *gocron.Scheduler
	engine    *ingest.Engine
	interval  time.Duration
}

// New creates a new Scheduler.
func New(interval time.Duration, engine *ingest.Engine) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		engine:    engine,
		interval:  interval,
	}
}

// Start schedules the periodic ingestion job and starts the underlying
// scheduler. The first run happens immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	interval := s.interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	// SingletonMode keeps a slow cycle from overlapping the next tick.
	_, err := s.scheduler.Every(interval).SingletonMode().StartImmediately().Do(func() {
		log.Println("scheduler: running ingestion cycle")
		s.engine.ProcessBatches(ctx)
		log.Println("scheduler: ingestion cycle finished")
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops scheduling new cycles. In-flight work is drained by the
// caller's shutdown grace window.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

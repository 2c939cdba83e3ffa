// Package sweeper expires stale pending requests and purges results past
// their retention deadline on a fixed interval.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"agentscan/internal/model"
	"agentscan/internal/storage"
)

const (
	// DefaultInterval is how often both sweeps run
	DefaultInterval = 60 * time.Second

	// DefaultBatchSize bounds how many results are purged per query
	DefaultBatchSize = 100

	// sweepTimeout bounds a single pass
	sweepTimeout = 2 * time.Minute
)

// RequestExpirer flips pending requests past their deadline to expired.
type RequestExpirer interface {
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// ResultPurger finds and removes results past auto_delete_at.
type ResultPurger interface {
	ListExpired(ctx context.Context, now time.Time, limit int) ([]model.ScanResult, error)
	Delete(ctx context.Context, id string) error
}

// Config holds configuration for the sweeper.
type Config struct {
	Interval  time.Duration
	BatchSize int
}

// Stats is what one pass did.
type Stats struct {
	ExpiredRequests int64
	PurgedResults   int
}

// Sweeper runs both sweeps on a cron schedule. Passes never overlap.
type Sweeper struct {
	requests  RequestExpirer
	results   ResultPurger
	blobs     storage.Blob
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
	now       func() time.Time

	cron *cron.Cron
	job  cron.Job
	wg   sync.WaitGroup
}

func New(requests RequestExpirer, results ResultPurger, blobs storage.Blob, cfg Config, logger *zap.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	logger = logger.Named("sweeper")
	cronLogger := cronLogger{logger.Sugar()}

	s := &Sweeper{
		requests:  requests,
		results:   results,
		blobs:     blobs,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		logger:    logger,
		now:       time.Now,
		cron:      cron.New(cron.WithLogger(cronLogger)),
	}
	s.job = cron.NewChain(cron.SkipIfStillRunning(cronLogger)).Then(cron.FuncJob(s.tick))
	return s
}

// Start schedules the sweeps and runs one pass right away.
// Call Stop() to shut down.
func (s *Sweeper) Start() {
	s.cron.Schedule(cron.Every(s.interval), s.job)
	s.cron.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.job.Run()
	}()

	s.logger.Info("started", zap.Duration("interval", s.interval))
}

// Stop blocks until any running pass has finished.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("stopped")
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	stats, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("sweep failed", zap.Error(err))
	}
	if stats.ExpiredRequests > 0 || stats.PurgedResults > 0 {
		s.logger.Info("sweep",
			zap.Int64("expired_requests", stats.ExpiredRequests),
			zap.Int("purged_results", stats.PurgedResults),
		)
	}
}

// RunOnce performs a single pass. Both sweeps are idempotent, and the second
// still runs when the first fails.
func (s *Sweeper) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats
	now := s.now()

	expired, expireErr := s.requests.ExpireStale(ctx, now)
	stats.ExpiredRequests = expired

	purged, purgeErr := s.purgeResults(ctx, now)
	stats.PurgedResults = purged

	if expireErr != nil {
		return stats, expireErr
	}
	return stats, purgeErr
}

// purgeResults deletes the blob first (best-effort) and then the row, so a
// row is never left pointing at bytes that were kept.
func (s *Sweeper) purgeResults(ctx context.Context, now time.Time) (int, error) {
	purged := 0
	for {
		batch, err := s.results.ListExpired(ctx, now, s.batchSize)
		if err != nil {
			return purged, err
		}

		for _, res := range batch {
			if err := s.blobs.Delete(ctx, res.PDFPath); err != nil {
				s.logger.Warn("delete blob", zap.String("handle", res.PDFPath), zap.Error(err))
			}
			if err := s.results.Delete(ctx, res.ID); err != nil {
				return purged, err
			}
			purged++
		}

		if len(batch) < s.batchSize {
			return purged, nil
		}
	}
}

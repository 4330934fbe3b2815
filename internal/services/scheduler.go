package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/steamlens/steamlens-go/internal/config"
)

// Scheduler drives the recurring background work: the nightly warehouse
// refresh and the analysis job retention sweep.
type Scheduler struct {
	scheduler *gocron.Scheduler
	ingest    *IngestService
	analysis  *AnalysisService
	cfg       config.IngestionConfig
	logger    *slog.Logger
}

// NewScheduler creates an idle scheduler; Start arms it.
func NewScheduler(ingest *IngestService, analysis *AnalysisService, cfg config.IngestionConfig) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		ingest:    ingest,
		analysis:  analysis,
		cfg:       cfg,
		logger:    slog.Default().With("component", "scheduler"),
	}
}

// Start registers the jobs and runs the scheduler asynchronously until the
// context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.ScheduledIngestion {
		if _, err := s.scheduler.Cron(s.cfg.RefreshCron).Do(func() {
			s.logger.Info("starting scheduled ingestion")
			if err := s.ingest.Run(ctx); err != nil {
				s.logger.Error("scheduled ingestion failed", "error", err)
			}
		}); err != nil {
			return err
		}
		s.logger.Info("scheduled ingestion armed", "cron", s.cfg.RefreshCron)
	}

	if _, err := s.scheduler.Every(1).Hour().Do(func() {
		if _, err := s.analysis.Cleanup(ctx); err != nil {
			s.logger.Error("analysis cleanup failed", "error", err)
		}
	}); err != nil {
		return err
	}

	s.scheduler.StartAsync()

	go func() {
		<-ctx.Done()
		s.scheduler.Stop()
		s.logger.Info("scheduler stopped")
	}()
	return nil
}

/*
scheduler.go - Periodic remote sync

PURPOSE:
  Periodically pulls the remote counter and history and imports them, so
  drafts keep tracking the backend's numbering even when nobody presses
  "sync". Every attempt, scheduled or manual, is recorded in the sync log
  for the dashboard's "local only" advisory.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on Start
  - An interval of zero disables the loop; RunOnce still works
  - Remote failures are recorded and logged, never fatal

USAGE:
  scheduler := NewSyncScheduler(lifecycle, client, runs, logger)
  scheduler.Interval = cfg.SyncInterval
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerSync endpoint (manual sync)
  - fieldreport/lifecycle.go: Sync
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/fieldops/report-engine/fieldreport"
	"github.com/fieldops/report-engine/remote"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// SyncScheduler runs remote syncs on a timer and on demand.
type SyncScheduler struct {
	Lifecycle *fieldreport.Lifecycle
	Remote    *remote.Client
	Runs      fieldreport.SyncLog
	Logger    logrus.FieldLogger
	Clock     fieldreport.Clock
	Interval  time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSyncScheduler creates a scheduler with a five minute interval.
func NewSyncScheduler(lc *fieldreport.Lifecycle, client *remote.Client, runs fieldreport.SyncLog, logger logrus.FieldLogger) *SyncScheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SyncScheduler{
		Lifecycle: lc,
		Remote:    client,
		Runs:      runs,
		Logger:    logger.WithField("component", "scheduler"),
		Clock:     fieldreport.SystemClock{},
		Interval:  5 * time.Minute,
	}
}

// Start begins the scheduler.
func (s *SyncScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Interval <= 0 {
		s.Logger.Info("scheduled sync disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.Logger.WithField("interval", s.Interval.String()).Info("scheduler started")
}

// Stop stops the scheduler and waits for an in-flight run.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info("scheduler stopped")
}

func (s *SyncScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	s.tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-stop:
			return
		}
	}
}

func (s *SyncScheduler) tick(ctx context.Context) {
	if s.Remote.Offline() {
		s.Logger.Debug("no remote endpoint, skipping scheduled sync")
		return
	}
	_, _ = s.RunOnce(ctx, TriggerScheduled)
}

// RunOnce performs one sync and records it in the sync log. The returned
// run is recorded even when err is non-nil.
func (s *SyncScheduler) RunOnce(ctx context.Context, trigger string) (fieldreport.SyncRun, error) {
	run := fieldreport.SyncRun{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: s.Clock.Now(),
	}

	res, err := s.sync(ctx)
	run.CompletedAt = s.Clock.Now()
	if err != nil {
		run.Status = fieldreport.SyncFailed
		run.Error = err.Error()
	} else {
		run.Status = fieldreport.SyncOK
		run.Raised = res.Raised
		run.Number = res.Number
		run.Imported = res.Imported
		counterNumber.Set(float64(res.Number))
	}
	syncRunsTotal.WithLabelValues(trigger, string(run.Status)).Inc()

	logger := s.Logger.WithFields(logrus.Fields{
		"run_id":  run.ID,
		"trigger": trigger,
	})
	if appendErr := s.Runs.AppendSyncRun(context.WithoutCancel(ctx), run); appendErr != nil {
		logger.WithError(appendErr).Error("failed to record sync run")
	}

	switch {
	case err == nil:
		logger.WithFields(logrus.Fields{
			"number":   run.Number,
			"imported": run.Imported,
		}).Info("sync completed")
	case fieldreport.IsRetryable(err):
		logger.WithError(err).Warn("remote unavailable, working local only")
	default:
		logger.WithError(err).Error("sync failed")
	}
	return run, err
}

func (s *SyncScheduler) sync(ctx context.Context) (fieldreport.ImportResult, error) {
	profile, err := s.Lifecycle.Profile(ctx)
	if err != nil {
		return fieldreport.ImportResult{}, err
	}
	return s.Lifecycle.Sync(ctx, s.Remote.WithTechnician(profile.Name))
}

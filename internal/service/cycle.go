package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"homespark/harvester/internal/config"
	"homespark/harvester/internal/domain"
	"homespark/harvester/internal/queue"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// CycleReport summarises one crawl cycle of a target.
type CycleReport struct {
	Target        string          `json:"target"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
	PagesEnqueued int             `json:"pages_enqueued"`
	DeadJobs      []queue.DeadJob `json:"dead_jobs"`
	Reconciled    bool            `json:"reconciled"`
	StoreEvicted  int64           `json:"store_evicted"`
	IndexEvicted  int             `json:"index_evicted"`
	Err           error           `json:"-"`
}

// RunCycle runs one full cycle for target: enumerate pages, work both queues until they are
// quiescent, then evict listings the cycle did not refresh.
func (s *Service) RunCycle(ctx context.Context, target domain.CrawlTarget) (*CycleReport, error) {
	if !s.tryStart(target.ID()) {
		return nil, ErrCycleRunning
	}
	defer s.finish(target.ID())

	report := s.runCycle(ctx, target)
	return report, report.Err
}

// StartCycle runs a cycle in the background. The cycle outlives ctx's cancellation.
func (s *Service) StartCycle(ctx context.Context, target domain.CrawlTarget) error {
	if !s.tryStart(target.ID()) {
		return ErrCycleRunning
	}

	go func() {
		defer s.finish(target.ID())
		s.runCycle(context.WithoutCancel(ctx), target)
	}()
	return nil
}

// RunAll runs a cycle for every configured target concurrently. A failing target does not stop the others.
func (s *Service) RunAll(ctx context.Context) ([]*CycleReport, error) {
	reports := make([]*CycleReport, len(s.targets))
	errs := make([]error, len(s.targets))

	g := new(errgroup.Group)
	for i, target := range s.targets {
		i, target := i, target
		g.Go(func() error {
			report, err := s.RunCycle(ctx, target)
			reports[i] = report
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", target.ID(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Infof("✅ Completed cycles for %d targets", len(s.targets))
	return reports, errors.Join(errs...)
}

func (s *Service) runCycle(ctx context.Context, target domain.CrawlTarget) *CycleReport {
	startedAt := s.now()
	report := &CycleReport{Target: target.ID(), StartedAt: startedAt}
	logger := log.WithField("target", target.ID())
	logger.Infof("🔄 Starting cycle for %s (%s)", target.ID(), target.ListingType.GetDisplayName())

	defer func() {
		report.FinishedAt = s.now()
		result := "ok"
		if report.Err != nil {
			result = "error"
		}
		s.metrics.CyclesTotal.WithLabelValues(target.ID(), result).Inc()
		s.metrics.CycleDurationSeconds.WithLabelValues(target.ID()).Observe(report.FinishedAt.Sub(startedAt).Seconds())
	}()

	if err := s.prepare(ctx, target, startedAt); err != nil {
		report.Err = err
		logger.Errorf("❌ Failed to prepare cycle: %v", err)
		return report
	}

	if err := s.runPipeline(ctx, target, report); err != nil {
		// Without quiescence there is no safe cutoff, so nothing is evicted.
		report.Err = err
		logger.Errorf("❌ Cycle aborted before quiescence, skipping eviction: %v", err)
		return report
	}

	report.DeadJobs = s.collectDeadJobs(ctx, target, startedAt)

	cutoff := startedAt.Add(-s.settings.EvictionGrace)
	eviction, err := s.Reconcile(ctx, target, cutoff)
	report.StoreEvicted = eviction.StoreDeleted
	report.IndexEvicted = eviction.IndexDeleted
	if err != nil {
		report.Err = fmt.Errorf("reconcile failed: %w", err)
		return report
	}
	report.Reconciled = true

	if err := s.stateManager.FinishCycle(ctx, target.ID(), s.now()); err != nil {
		logger.Warnf("⚠️ Failed to record cycle finish: %v", err)
	}

	logger.Infof("✅ Completed cycle: %d pages, %d dead jobs, %d listings evicted",
		report.PagesEnqueued, len(report.DeadJobs), report.StoreEvicted)
	return report
}

func (s *Service) prepare(ctx context.Context, target domain.CrawlTarget, startedAt time.Time) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if err := s.stateManager.BeginCycle(ctx, target.ID(), startedAt); err != nil {
		return err
	}
	for _, name := range []string{target.PageQueue(), target.ItemQueue()} {
		if err := s.queue.EnsureQueue(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// runPipeline returns once both queues are quiescent, or with the first broker failure.
func (s *Service) runPipeline(ctx context.Context, target domain.CrawlTarget, report *CycleReport) error {
	rules, err := s.rules.ForSite(target.Site)
	if err != nil {
		return err
	}

	session := s.sessions(target.ID())
	defer func() {
		if err := session.Close(); err != nil {
			log.WithField("target", target.ID()).Warnf("⚠️ Failed to close browser: %v", err)
		}
	}()

	pageHandler := s.pageHandler(target, session, rules)
	itemHandler := s.itemHandler(target, session, rules)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	g, gctx := errgroup.WithContext(workerCtx)

	g.Go(func() error {
		return s.consume(gctx, target.ID(), "page", target.PageQueue(), pageHandler)
	})
	staged := s.settings.Sequencing != config.SequencingConcurrent
	if !staged {
		g.Go(func() error {
			return s.consume(gctx, target.ID(), "item", target.ItemQueue(), itemHandler)
		})
	}

	g.Go(func() error {
		enqueued, err := s.Enumerate(gctx, target)
		report.PagesEnqueued = enqueued
		if err != nil {
			return err
		}

		if staged {
			if err := s.monitor.WaitDrained(gctx, target.PageQueue()); err != nil {
				return err
			}
			log.WithField("target", target.ID()).Info("📄 Page queue drained, starting item worker")
			g.Go(func() error {
				return s.consume(gctx, target.ID(), "item", target.ItemQueue(), itemHandler)
			})
		}

		if err := s.monitor.WaitDrained(gctx, target.PageQueue(), target.ItemQueue()); err != nil {
			return err
		}
		stopWorkers()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// collectDeadJobs logs the jobs that ran out of attempts during this cycle.
func (s *Service) collectDeadJobs(ctx context.Context, target domain.CrawlTarget, since time.Time) []queue.DeadJob {
	dead := make([]queue.DeadJob, 0)
	for _, name := range []string{target.PageQueue(), target.ItemQueue()} {
		jobs, err := s.queue.DeadJobs(ctx, name, since)
		if err != nil {
			log.WithField("target", target.ID()).Warnf("⚠️ Failed to read dead jobs from %s: %v", name, err)
			continue
		}
		for _, job := range jobs {
			log.WithFields(log.Fields{"target": target.ID(), "queue": name, "job": job.ID}).
				Errorf("💀 Dead job after %d attempts: %s", job.Attempts, job.Error)
		}
		dead = append(dead, jobs...)
	}
	return dead
}

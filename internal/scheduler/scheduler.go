package scheduler

import (
	"context"
	"fmt"
	"time"

	"homespark/harvester/internal/service"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Runner runs one cycle for every target.
type Runner interface {
	RunAll(ctx context.Context) ([]*service.CycleReport, error)
}

// Scheduler re-runs all targets on a cron schedule. A tick that fires while the
// previous run is still going is skipped.
type Scheduler struct {
	ctx     context.Context
	cron    *cron.Cron
	runner  Runner
	entryID cron.EntryID
}

func New(ctx context.Context, expression string, runner Runner) (*Scheduler, error) {
	logger := cron.PrintfLogger(log.StandardLogger())
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	s := &Scheduler{
		ctx:    ctx,
		runner: runner,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}

	entryID, err := s.cron.AddFunc(expression, s.run)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expression, err)
	}
	s.entryID = entryID
	return s, nil
}

func (s *Scheduler) run() {
	log.Info("⏰ Scheduled run starting")
	reports, err := s.runner.RunAll(s.ctx)
	if err != nil {
		log.Errorf("❌ Scheduled run finished with errors: %v", err)
		return
	}
	log.Infof("✅ Scheduled run finished for %d targets", len(reports))
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Infof("⏰ Scheduler started, next run at %s", s.Next().Format(time.RFC3339))
}

// Stop stops scheduling and waits for a running cycle to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		log.Warn("⚠️ Scheduler stopped before the running cycle finished")
	}
}

func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// Trigger runs the scheduled job now, through the same skip-if-running chain.
func (s *Scheduler) Trigger() {
	s.cron.Entry(s.entryID).WrappedJob.Run()
}

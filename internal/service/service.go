package service

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"homespark/harvester/internal/browser"
	"homespark/harvester/internal/client"
	"homespark/harvester/internal/config"
	"homespark/harvester/internal/domain"
	"homespark/harvester/internal/extract"
	"homespark/harvester/internal/index"
	"homespark/harvester/internal/metrics"
	"homespark/harvester/internal/queue"
	"homespark/harvester/internal/repository"
	"homespark/harvester/internal/state"
)

var ErrCycleRunning = errors.New("a cycle is already running for this target")

// Settings are the crawl knobs shared by every target.
type Settings struct {
	MaxAttempts     int
	BackoffBase     time.Duration
	EnqueueDelayMin time.Duration
	EnqueueDelayMax time.Duration
	PollInterval    time.Duration
	JobTimeout      time.Duration
	Sequencing      string
	StoreRetries    int
	StoreRetryDelay time.Duration
	EvictionGrace   time.Duration
}

func SettingsFromConfig(cfg config.CrawlConfig) Settings {
	return Settings{
		MaxAttempts:     cfg.MaxAttempts,
		BackoffBase:     cfg.BackoffBase,
		EnqueueDelayMin: cfg.EnqueueDelayMin,
		EnqueueDelayMax: cfg.EnqueueDelayMax,
		PollInterval:    cfg.PollInterval,
		JobTimeout:      cfg.JobTimeout,
		Sequencing:      cfg.Sequencing,
		StoreRetries:    cfg.StoreRetries,
		StoreRetryDelay: cfg.StoreRetryDelay,
		EvictionGrace:   cfg.EvictionGrace,
	}
}

// SessionFactory builds the browser session a target uses for one cycle.
type SessionFactory func(targetID string) *browser.SessionManager

type Dependencies struct {
	Queue      queue.Queue
	State      state.StateManager
	Repository repository.ListingRepository
	Index      index.Index
	Embedder   client.Embedder
	Rules      extract.Registry
	Sessions   SessionFactory
	Metrics    *metrics.Metrics
}

type Service struct {
	queue        queue.Queue
	stateManager state.StateManager
	repository   repository.ListingRepository
	index        index.Index
	embedder     client.Embedder
	rules        extract.Registry
	sessions     SessionFactory
	metrics      *metrics.Metrics
	monitor      *Monitor
	settings     Settings
	targets      []domain.CrawlTarget

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(min, max time.Duration) time.Duration

	runningMutex sync.Mutex
	running      map[string]bool
}

func NewService(deps Dependencies, settings Settings, targets []domain.CrawlTarget) *Service {
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}

	return &Service{
		queue:        deps.Queue,
		stateManager: deps.State,
		repository:   deps.Repository,
		index:        deps.Index,
		embedder:     deps.Embedder,
		rules:        deps.Rules,
		sessions:     deps.Sessions,
		metrics:      m,
		monitor:      NewMonitor(deps.Queue, settings.PollInterval, m),
		settings:     settings,
		targets:      targets,
		now:          time.Now,
		sleep:        sleepContext,
		jitter:       randomDelay,
		running:      make(map[string]bool),
	}
}

func (s *Service) Targets() []domain.CrawlTarget {
	return s.targets
}

func (s *Service) Target(id string) (domain.CrawlTarget, bool) {
	for _, target := range s.targets {
		if target.ID() == id {
			return target, true
		}
	}
	return domain.CrawlTarget{}, false
}

// IsRunning reports whether a cycle for the target is in progress in this process.
func (s *Service) IsRunning(targetID string) bool {
	s.runningMutex.Lock()
	defer s.runningMutex.Unlock()
	return s.running[targetID]
}

func (s *Service) tryStart(targetID string) bool {
	s.runningMutex.Lock()
	defer s.runningMutex.Unlock()
	if s.running[targetID] {
		return false
	}
	s.running[targetID] = true
	return true
}

func (s *Service) finish(targetID string) {
	s.runningMutex.Lock()
	defer s.runningMutex.Unlock()
	delete(s.running, targetID)
}

// Depth returns the page and item queue depth of a target.
func (s *Service) Depth(ctx context.Context, target domain.CrawlTarget) (queue.Depth, queue.Depth, error) {
	pages, err := s.queue.Depth(ctx, target.PageQueue())
	if err != nil {
		return queue.Depth{}, queue.Depth{}, err
	}
	items, err := s.queue.Depth(ctx, target.ItemQueue())
	if err != nil {
		return queue.Depth{}, queue.Depth{}, err
	}
	return pages, items, nil
}

func (s *Service) attemptPolicy() queue.AttemptPolicy {
	policy := queue.DefaultAttemptPolicy()
	if s.settings.MaxAttempts > 0 {
		policy.MaxAttempts = s.settings.MaxAttempts
	}
	if s.settings.BackoffBase > 0 {
		policy.BackoffBase = s.settings.BackoffBase
	}
	return policy
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min+1)))
}

package service

import (
	"context"
	"time"

	"homespark/harvester/internal/metrics"
	"homespark/harvester/internal/queue"

	log "github.com/sirupsen/logrus"
)

const defaultPollInterval = 2 * time.Second

// Monitor detects quiescence: every named queue with nothing waiting, delayed or active.
type Monitor struct {
	queue    queue.Queue
	interval time.Duration
	metrics  *metrics.Metrics
}

func NewMonitor(q queue.Queue, interval time.Duration, m *metrics.Metrics) *Monitor {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Monitor{queue: q, interval: interval, metrics: m}
}

// WaitDrained polls until all queues are drained in the same poll. Queues are read in
// the given order, so list producers before the queues they feed.
func (m *Monitor) WaitDrained(ctx context.Context, queueNames ...string) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		drained, err := m.drained(ctx, queueNames)
		if err != nil {
			return err
		}
		if drained {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Monitor) drained(ctx context.Context, queueNames []string) (bool, error) {
	for _, name := range queueNames {
		depth, err := m.queue.Depth(ctx, name)
		if err != nil {
			return false, err
		}
		if m.metrics != nil {
			m.metrics.QueueDepth.WithLabelValues(name, "waiting").Set(float64(depth.Waiting))
			m.metrics.QueueDepth.WithLabelValues(name, "active").Set(float64(depth.Active))
			m.metrics.QueueDepth.WithLabelValues(name, "dead").Set(float64(depth.Dead))
		}
		if !depth.Drained() {
			log.Debugf("⏳ %s not drained: %d waiting, %d active", name, depth.Waiting, depth.Active)
			return false, nil
		}
	}
	return true, nil
}

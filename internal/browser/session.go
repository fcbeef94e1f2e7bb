package browser

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"
)

type State int

const (
	StateUninitialized State = iota
	StateReady
	StateRecreating
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateRecreating:
		return "recreating"
	default:
		return "unknown"
	}
}

type Mode string

const (
	ModeShared    Mode = "shared"    // one browser per target, recreated on failure
	ModeEphemeral Mode = "ephemeral" // one browser per job
)

// SessionManager owns the browser used by one target's workers.
type SessionManager struct {
	targetID string
	launcher Launcher
	mode     Mode
	limiter  ratelimit.Limiter

	mutex       sync.Mutex
	browser     Browser
	state       State
	recreations int
	closed      bool

	// OnRecreate is called after a replacement browser is launched.
	OnRecreate func(targetID string)
}

func NewSessionManager(targetID string, launcher Launcher, mode Mode, navigationsPerSecond int) *SessionManager {
	limiter := ratelimit.NewUnlimited()
	if navigationsPerSecond > 0 {
		limiter = ratelimit.New(navigationsPerSecond)
	}
	if mode == "" {
		mode = ModeShared
	}

	return &SessionManager{
		targetID: targetID,
		launcher: launcher,
		mode:     mode,
		limiter:  limiter,
		state:    StateUninitialized,
	}
}

// Do opens a page, runs fn on it and closes the page. In shared mode any
// failure, including one returned by fn, replaces the browser before Do returns.
func (m *SessionManager) Do(ctx context.Context, fn func(ctx context.Context, page Page) error) error {
	b, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	if m.mode == ModeEphemeral {
		defer func() {
			if err := b.Close(); err != nil {
				log.WithField("target", m.targetID).Warnf("⚠️ Failed to close ephemeral browser: %v", err)
			}
		}()
	}

	m.limiter.Take()

	if err := m.run(ctx, b, fn); err != nil {
		if m.mode == ModeShared {
			if recreateErr := m.recreate(ctx, b); recreateErr != nil {
				log.WithField("target", m.targetID).Errorf("❌ Failed to recreate browser: %v", recreateErr)
			}
		}
		return err
	}
	return nil
}

func (m *SessionManager) run(ctx context.Context, b Browser, fn func(ctx context.Context, page Page) error) error {
	page, err := b.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}
	defer func() {
		_ = page.Close()
	}()

	return fn(ctx, page)
}

func (m *SessionManager) acquire(ctx context.Context) (Browser, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return nil, ErrSessionClosed
	}

	if m.mode == ModeEphemeral {
		b, err := m.launcher.Launch(ctx)
		if err != nil {
			m.state = StateRecreating
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		m.state = StateReady
		return b, nil
	}

	if m.state == StateReady && m.browser != nil {
		return m.browser, nil
	}

	b, err := m.launcher.Launch(ctx)
	if err != nil {
		m.state = StateRecreating
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	if m.state == StateRecreating {
		m.recreations++
		if m.OnRecreate != nil {
			m.OnRecreate(m.targetID)
		}
	}
	m.browser = b
	m.state = StateReady
	log.WithField("target", m.targetID).Info("🌐 Browser launched")
	return b, nil
}

// recreate replaces failed unless another worker already did.
func (m *SessionManager) recreate(ctx context.Context, failed Browser) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed || m.browser != failed {
		return nil
	}

	log.WithField("target", m.targetID).Warn("🔄 Recreating browser after failure")

	if err := failed.Close(); err != nil {
		log.WithField("target", m.targetID).Warnf("⚠️ Failed to close browser: %v", err)
	}
	m.browser = nil
	m.state = StateRecreating

	b, err := m.launcher.Launch(ctx)
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	m.browser = b
	m.state = StateReady
	m.recreations++
	if m.OnRecreate != nil {
		m.OnRecreate(m.targetID)
	}
	return nil
}

func (m *SessionManager) State() State {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.state
}

func (m *SessionManager) Recreations() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.recreations
}

func (m *SessionManager) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.closed = true
	if m.browser == nil {
		return nil
	}
	err := m.browser.Close()
	m.browser = nil
	return err
}

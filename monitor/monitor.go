package monitor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"autoexit/broker"
	"autoexit/config"
	"autoexit/notify"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Monitor reconciles long positions against resting SELL orders and places
// target exits for any uncovered quantity.
type Monitor struct {
	gateway  broker.Gateway
	notifier notify.Notifier
	store    StateStore
	journal  ExitRecorder
	metrics  Metrics
	log      logrus.FieldLogger
	cfg      Config

	registry *exitRegistry

	mu         sync.RWMutex
	state      RuntimeState
	running    bool
	allCovered bool
	lastTickAt time.Time
	lastError  string
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// Options carries the optional collaborators of a Monitor.
type Options struct {
	Store   StateStore
	Journal ExitRecorder
	Metrics Metrics
}

// Status is a consistent snapshot of the monitor.
type Status struct {
	Paused              bool            `json:"paused"`
	Running             bool            `json:"running"`
	TargetPoints        decimal.Decimal `json:"target_points"`
	TrackedCount        int             `json:"tracked_count"`
	PendingCount        int             `json:"pending_count"`
	BlockedCount        int             `json:"blocked_count"`
	PaperMode           bool            `json:"paper_mode"`
	AutoExitEnabled     bool            `json:"enable_auto_exit"`
	PollIntervalSeconds float64         `json:"poll_interval_seconds"`
	AllCovered          bool            `json:"all_covered"`
	LastTickAt          time.Time       `json:"last_tick_at"`
	LastError           string          `json:"last_error,omitempty"`
}

// New builds a monitor. Persisted runtime settings and pending exits, when a
// store is supplied, take precedence over cfg.Initial.
func New(ctx context.Context, gateway broker.Gateway, notifier notify.Notifier, cfg Config, opts Options, log logrus.FieldLogger) (*Monitor, error) {
	if gateway == nil {
		return nil, fmt.Errorf("monitor requires a broker gateway")
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}
	cfg = cfg.withDefaults()
	if !cfg.Initial.TargetPoints.IsPositive() {
		return nil, &ValidationError{Field: "target_points", Reason: "must be > 0"}
	}

	m := &Monitor{
		gateway:  gateway,
		notifier: notifier,
		store:    opts.Store,
		journal:  opts.Journal,
		metrics:  opts.Metrics,
		log:      log,
		cfg:      cfg,
		registry: newExitRegistry(),
		state:    cfg.Initial,
		stopCh:   make(chan struct{}),
	}

	if m.store != nil {
		saved, ok, err := m.store.LoadRuntime(ctx)
		if err != nil {
			return nil, fmt.Errorf("load runtime state: %w", err)
		}
		if ok {
			if saved.TargetPoints.IsPositive() {
				m.state.TargetPoints = saved.TargetPoints
			}
			if saved.PollIntervalSeconds > 0 {
				m.state.PollIntervalSeconds = config.ClampPollInterval(saved.PollIntervalSeconds)
			}
			m.state.PaperMode = saved.PaperMode
			m.state.Paused = saved.Paused
			m.state.AutoExitEnabled = saved.AutoExitEnabled
			log.Infof("♻️  [AutoExit] Restored runtime state: target=%s paper=%v paused=%v", m.state.TargetPoints, m.state.PaperMode, m.state.Paused)
		}

		pending, err := m.store.LoadPendingExits(ctx)
		if err != nil {
			return nil, fmt.Errorf("load pending exits: %w", err)
		}
		m.registry.restore(pending)
		if len(pending) > 0 {
			log.Infof("♻️  [AutoExit] Restored %d pending exit remainder(s)", len(pending))
		}
	}
	return m, nil
}

// Start launches the polling loop. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.log.Warn("⚠️  [AutoExit] Monitor already running, skipping start")
		return
	}
	m.stopCh = make(chan struct{})
	m.running = true
	stopCh := m.stopCh
	m.mu.Unlock()

	m.notifier.Notify("✅ AutoExit Bot Started\nMonitoring positions...")
	m.log.Infof("🚀 [AutoExit] Monitor started (every %.0fs)", m.PollInterval().Seconds())

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.loop(ctx, stopCh)
	}()
}

func (m *Monitor) loop(ctx context.Context, stopCh <-chan struct{}) {
	for {
		wait := m.PollInterval()
		if !m.isPaused() {
			if _, err := m.Tick(ctx); err != nil {
				m.log.WithError(err).Errorf("❌ [AutoExit] Monitoring tick failed, retrying in %s", m.cfg.RetryBackoff)
				wait = m.cfg.RetryBackoff
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			m.log.Info("⏹  [AutoExit] Monitor stopped (context cancelled)")
			return
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Stop ends the loop and waits for an in-flight tick to finish. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		m.wg.Wait()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	m.log.Info("✅ [AutoExit] Monitor stopped")
}

// Pause suspends ticks without stopping the loop.
func (m *Monitor) Pause() {
	m.update(func(s *RuntimeState) { s.Paused = true })
	m.log.Info("⏸️  [AutoExit] Monitoring paused")
	m.notifier.Notify("⏸️ Monitoring Paused")
}

func (m *Monitor) Resume() {
	m.update(func(s *RuntimeState) { s.Paused = false })
	m.log.Info("▶️  [AutoExit] Monitoring resumed")
	m.notifier.Notify("▶️ Monitoring Resumed")
}

// SetTarget changes the profit offset used for exits placed from now on.
// Orders already resting keep their price.
func (m *Monitor) SetTarget(points decimal.Decimal) error {
	if !points.IsPositive() {
		return &ValidationError{Field: "target_points", Reason: fmt.Sprintf("must be > 0, got %s", points)}
	}
	m.update(func(s *RuntimeState) { s.TargetPoints = points })
	m.log.Infof("🎯 [AutoExit] Target updated to %s points", points)
	m.notifier.Notify(fmt.Sprintf("🎯 Target updated: %s points", points))
	return nil
}

// SetPollInterval clamps seconds into the supported range and returns the
// applied value.
func (m *Monitor) SetPollInterval(seconds float64) (float64, error) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, &ValidationError{Field: "poll_interval_seconds", Reason: "must be a finite number"}
	}
	applied := config.ClampPollInterval(seconds)
	m.update(func(s *RuntimeState) { s.PollIntervalSeconds = applied })
	m.log.Infof("⏱️  [AutoExit] Poll interval set to %.1fs", applied)
	m.notifier.Notify(fmt.Sprintf("⏱️ Poll interval set to %gs", applied))
	return applied, nil
}

// SetPaperMode switches between simulated and live exits. Leaving paper mode
// forgets positions whose exit was only simulated, so the next tick places
// real orders for them.
func (m *Monitor) SetPaperMode(enabled bool) {
	var wasPaper bool
	m.update(func(s *RuntimeState) {
		wasPaper = s.PaperMode
		s.PaperMode = enabled
	})
	mode := "LIVE"
	if enabled {
		mode = "PAPER"
	}
	m.log.Warnf("🔁 [AutoExit] Trading mode switched to %s", mode)
	msg := fmt.Sprintf("🔁 Mode switched: <b>%s</b>", mode)
	if wasPaper && !enabled {
		if keys := m.registry.forgetSimulated(); len(keys) > 0 {
			m.log.Infof("🔄 [AutoExit] Re-arming %d paper-settled position(s) for live exits: %v", len(keys), keys)
			msg += fmt.Sprintf("\n🔄 %d paper-settled position(s) will get live exit orders on the next tick", len(keys))
		}
	}
	m.notifier.Notify(msg)
}

func (m *Monitor) SetAutoExit(enabled bool) {
	m.update(func(s *RuntimeState) { s.AutoExitEnabled = enabled })
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	m.log.Infof("🔧 [AutoExit] Auto-exit %s", state)
	m.notifier.Notify(fmt.Sprintf("🔧 Auto-exit %s", state))
}

// RetryBlocked re-enables placement for keys blocked after repeated
// permanent failures and returns them.
func (m *Monitor) RetryBlocked() []string {
	keys := m.registry.unblockAll()
	if len(keys) > 0 {
		m.log.Infof("🔓 [AutoExit] Unblocked %d key(s): %v", len(keys), keys)
	}
	return keys
}

// Status returns a snapshot taken under one lock.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := m.registry.counts()
	return Status{
		Paused:              m.state.Paused,
		Running:             m.running,
		TargetPoints:        m.state.TargetPoints,
		TrackedCount:        counts.tracked,
		PendingCount:        counts.pending,
		BlockedCount:        counts.blocked,
		PaperMode:           m.state.PaperMode,
		AutoExitEnabled:     m.state.AutoExitEnabled,
		PollIntervalSeconds: m.state.PollIntervalSeconds,
		AllCovered:          m.allCovered,
		LastTickAt:          m.lastTickAt,
		LastError:           m.lastError,
	}
}

// PendingExits returns a copy of the uncovered remainders by key.
func (m *Monitor) PendingExits() map[string]int {
	return m.registry.pendingSnapshot()
}

func (m *Monitor) PollInterval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return secondsToDuration(m.state.PollIntervalSeconds)
}

func (m *Monitor) isPaused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Paused
}

func (m *Monitor) runtime() RuntimeState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// update applies fn under the lock and persists the result.
func (m *Monitor) update(fn func(s *RuntimeState)) {
	m.mu.Lock()
	fn(&m.state)
	snapshot := m.state
	m.mu.Unlock()

	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.SaveRuntime(ctx, snapshot); err != nil {
		m.log.WithError(err).Warn("⚠️  [AutoExit] Failed to persist runtime state")
	}
}

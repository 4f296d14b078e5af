// Package monitor decides when the offline order queue is drained: on a
// fixed interval, when the page comes back online, when it regains focus,
// and once immediately on start.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mare-catalogo/backend/internal/logging"
	"github.com/mare-catalogo/backend/internal/netstate"
	"github.com/mare-catalogo/backend/internal/sync/queue"
)

// Trigger names why a check ran.
type Trigger string

const (
	TriggerStart    Trigger = "start"
	TriggerInterval Trigger = "interval"
	TriggerOnline   Trigger = "online"
	TriggerFocus    Trigger = "focus"
	TriggerManual   Trigger = "manual"
)

// Drainer is the queue surface the monitor uses.
type Drainer interface {
	PendingCount(ctx context.Context) (int, error)
	Drain(ctx context.Context) (*queue.DrainResult, error)
}

// Prober checks that the remote order service is reachable.
type Prober interface {
	TestConnection(ctx context.Context) bool
}

// EventSource delivers page connectivity events.
type EventSource interface {
	Subscribe(buffer int) (<-chan netstate.Event, func())
}

// Notifier raises a local notification. Failures are not errors for the
// monitor.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Config holds monitor configuration.
type Config struct {
	Interval time.Duration // How often to check the queue (default: 30 seconds)
}

// DefaultConfig returns default monitor configuration.
func DefaultConfig() *Config {
	return &Config{Interval: 30 * time.Second}
}

// Status describes the monitor's recent activity.
type Status struct {
	IsRunning   bool               `json:"is_running"`
	LastCheck   *time.Time         `json:"last_check,omitempty"`
	LastTrigger Trigger            `json:"last_trigger,omitempty"`
	LastDrain   *queue.DrainResult `json:"last_drain,omitempty"`
	ProbeFailed bool               `json:"probe_failed"`
}

// Monitor runs queue checks on its triggers. All triggers are handled on a
// single goroutine, so checks from one monitor never overlap.
type Monitor struct {
	queue    Drainer
	prober   Prober
	events   EventSource
	notifier Notifier
	interval time.Duration

	mu          sync.RWMutex
	isRunning   bool
	lastCheck   time.Time
	lastTrigger Trigger
	lastDrain   *queue.DrainResult
	probeFailed bool

	log *logging.Logger
}

// New creates a Monitor. events and notifier may be nil.
func New(q Drainer, prober Prober, events EventSource, notifier Notifier, config *Config) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	interval := config.Interval
	if interval <= 0 {
		interval = DefaultConfig().Interval
	}
	return &Monitor{
		queue:    q,
		prober:   prober,
		events:   events,
		notifier: notifier,
		interval: interval,
		log:      logging.Named("monitor"),
	}
}

// Start launches the monitor loop and returns its teardown function. The
// teardown stops the ticker, detaches the event subscription and waits for
// the loop to exit; calling it again is a no-op. Starting a running monitor
// returns a no-op teardown.
func (m *Monitor) Start(ctx context.Context) (stop func()) {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		m.log.Warn("Monitor already running")
		return func() {}
	}
	m.isRunning = true
	m.mu.Unlock()

	var (
		events <-chan netstate.Event
		detach = func() {}
	)
	if m.events != nil {
		events, detach = m.events.Subscribe(8)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go m.loop(loopCtx, events, done)

	m.log.Info("Connectivity monitor started", logging.Fields{"interval": m.interval.String()})

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			detach()
			<-done

			m.mu.Lock()
			m.isRunning = false
			m.mu.Unlock()
			m.log.Info("Connectivity monitor stopped")
		})
	}
}

func (m *Monitor) loop(ctx context.Context, events <-chan netstate.Event, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx, TriggerStart)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx, TriggerInterval)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev {
			case netstate.EventOnline:
				m.Check(ctx, TriggerOnline)
			case netstate.EventFocus:
				m.Check(ctx, TriggerFocus)
			}
		}
	}
}

// Check runs one trigger: an empty queue returns immediately, otherwise the
// remote service is probed and, if reachable, the queue is drained. It
// returns the drain result, or nil when no drain ran.
func (m *Monitor) Check(ctx context.Context, trigger Trigger) *queue.DrainResult {
	m.mu.Lock()
	m.lastCheck = time.Now()
	m.lastTrigger = trigger
	m.mu.Unlock()

	pending, err := m.queue.PendingCount(ctx)
	if err != nil {
		m.log.Error("Failed to read pending orders", err, logging.Fields{"trigger": string(trigger)})
		return nil
	}
	if pending == 0 {
		return nil
	}

	if !m.prober.TestConnection(ctx) {
		m.setProbeFailed(true)
		m.log.Info("Remote order service unreachable, waiting for next trigger",
			logging.Fields{"trigger": string(trigger), "pending": pending})
		return nil
	}
	m.setProbeFailed(false)

	m.log.Info("Syncing pending orders", logging.Fields{"trigger": string(trigger), "pending": pending})

	result, err := m.queue.Drain(ctx)
	if err != nil {
		m.log.Error("Drain failed", err, logging.Fields{"trigger": string(trigger)})
	}
	if result == nil {
		return nil
	}

	m.mu.Lock()
	m.lastDrain = result
	m.mu.Unlock()

	if result.Succeeded > 0 {
		m.notify(ctx, result.Succeeded)
	}
	return result
}

func (m *Monitor) notify(ctx context.Context, delivered int) {
	if m.notifier == nil {
		return
	}
	msg := fmt.Sprintf("%d pending orders were sent successfully.", delivered)
	if delivered == 1 {
		msg = "1 pending order was sent successfully."
	}
	if err := m.notifier.Notify(ctx, "Orders synced", msg); err != nil {
		m.log.Debug("Notification not delivered", logging.Fields{"error": err.Error()})
	}
}

func (m *Monitor) setProbeFailed(failed bool) {
	m.mu.Lock()
	m.probeFailed = failed
	m.mu.Unlock()
}

// GetStatus returns the monitor's recent activity.
func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := Status{
		IsRunning:   m.isRunning,
		LastTrigger: m.lastTrigger,
		LastDrain:   m.lastDrain,
		ProbeFailed: m.probeFailed,
	}
	if !m.lastCheck.IsZero() {
		t := m.lastCheck
		status.LastCheck = &t
	}
	return status
}

// IsRunning returns whether the monitor loop is running.
func (m *Monitor) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning
}

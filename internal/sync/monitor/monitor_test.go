// Package monitor tests for connectivity-triggered queue draining.
package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/mare-catalogo/backend/internal/netstate"
	"github.com/mare-catalogo/backend/internal/sync/queue"
)

// =====================================================
// Test Helpers
// =====================================================

type fakeQueue struct {
	pending   atomic.Int32
	drains    atomic.Int32
	succeeded int
	drained   chan struct{}
}

func (f *fakeQueue) PendingCount(ctx context.Context) (int, error) {
	return int(f.pending.Load()), nil
}

func (f *fakeQueue) Drain(ctx context.Context) (*queue.DrainResult, error) {
	f.drains.Add(1)
	if f.drained != nil {
		f.drained <- struct{}{}
	}
	return &queue.DrainResult{Succeeded: f.succeeded}, nil
}

type fakeProber struct {
	reachable atomic.Bool
	probes    atomic.Int32
}

func (f *fakeProber) TestConnection(ctx context.Context) bool {
	f.probes.Add(1)
	return f.reachable.Load()
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (f *fakeNotifier) Notify(ctx context.Context, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return f.err
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func waitDrain(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for drain")
	}
}

// =====================================================
// Config Tests
// =====================================================

// TestDefaultConfig verifies the default interval.
func TestDefaultConfig(t *testing.T) {
	if got := DefaultConfig().Interval; got != 30*time.Second {
		t.Errorf("Interval = %v, want 30s", got)
	}
	m := New(&fakeQueue{}, &fakeProber{}, nil, nil, &Config{})
	if m.interval != 30*time.Second {
		t.Errorf("zero interval should fall back to default, got %v", m.interval)
	}
}

// =====================================================
// Check Tests
// =====================================================

// TestCheck_emptyQueueShortCircuits verifies no probe runs for an empty queue.
func TestCheck_emptyQueueShortCircuits(t *testing.T) {
	q := &fakeQueue{}
	p := &fakeProber{}
	p.reachable.Store(true)
	m := New(q, p, nil, nil, nil)

	if res := m.Check(context.Background(), TriggerManual); res != nil {
		t.Errorf("Check() = %+v, want nil", res)
	}
	if p.probes.Load() != 0 || q.drains.Load() != 0 {
		t.Errorf("probes = %d, drains = %d; want 0, 0", p.probes.Load(), q.drains.Load())
	}
}

// TestCheck_probeFailure verifies an unreachable remote leaves the queue alone.
func TestCheck_probeFailure(t *testing.T) {
	q := &fakeQueue{}
	q.pending.Store(2)
	p := &fakeProber{}
	m := New(q, p, nil, nil, nil)

	if res := m.Check(context.Background(), TriggerInterval); res != nil {
		t.Errorf("Check() = %+v, want nil", res)
	}
	if p.probes.Load() != 1 || q.drains.Load() != 0 {
		t.Errorf("probes = %d, drains = %d; want 1, 0", p.probes.Load(), q.drains.Load())
	}
	if !m.GetStatus().ProbeFailed {
		t.Error("status should report the failed probe")
	}
}

// TestCheck_notifiesOnSuccess verifies the best-effort notification.
func TestCheck_notifiesOnSuccess(t *testing.T) {
	q := &fakeQueue{succeeded: 2}
	q.pending.Store(2)
	p := &fakeProber{}
	p.reachable.Store(true)
	n := &fakeNotifier{err: errors.New("permission denied")}
	m := New(q, p, nil, n, nil)

	res := m.Check(context.Background(), TriggerManual)
	if res == nil || res.Succeeded != 2 {
		t.Fatalf("Check() = %+v", res)
	}
	if n.count() != 1 {
		t.Errorf("notifications = %d, want 1", n.count())
	}

	st := m.GetStatus()
	if st.LastDrain != res || st.LastTrigger != TriggerManual || st.LastCheck == nil {
		t.Errorf("GetStatus() = %+v", st)
	}
}

// TestCheck_noNotificationWithoutSuccess verifies silence when nothing was sent.
func TestCheck_noNotificationWithoutSuccess(t *testing.T) {
	q := &fakeQueue{succeeded: 0}
	q.pending.Store(1)
	p := &fakeProber{}
	p.reachable.Store(true)
	n := &fakeNotifier{}
	m := New(q, p, nil, n, nil)

	m.Check(context.Background(), TriggerManual)
	if n.count() != 0 {
		t.Errorf("notifications = %d, want 0", n.count())
	}
}

// =====================================================
// Start/Stop Tests
// =====================================================

// TestStart_triggers verifies the initial check and the online/focus triggers.
func TestStart_triggers(t *testing.T) {
	q := &fakeQueue{drained: make(chan struct{}, 8)}
	q.pending.Store(1)
	p := &fakeProber{}
	p.reachable.Store(true)
	tracker := netstate.NewTracker(false)

	m := New(q, p, tracker, nil, &Config{Interval: time.Hour})
	stop := m.Start(context.Background())
	defer stop()

	waitDrain(t, q.drained) // immediate first check

	tracker.Report(netstate.EventOnline)
	waitDrain(t, q.drained)

	tracker.Report(netstate.EventFocus)
	waitDrain(t, q.drained)

	// Going offline is not a trigger
	tracker.Report(netstate.EventOffline)
	select {
	case <-q.drained:
		t.Error("offline event should not trigger a drain")
	case <-time.After(100 * time.Millisecond):
	}
}

// TestStart_interval verifies the periodic trigger.
func TestStart_interval(t *testing.T) {
	q := &fakeQueue{drained: make(chan struct{}, 8)}
	q.pending.Store(1)
	p := &fakeProber{}
	p.reachable.Store(true)

	m := New(q, p, nil, nil, &Config{Interval: 20 * time.Millisecond})
	stop := m.Start(context.Background())
	defer stop()

	for i := 0; i < 3; i++ {
		waitDrain(t, q.drained)
	}
}

// TestStart_teardown verifies teardown detaches, stops the loop and leaks
// nothing.
func TestStart_teardown(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := &fakeQueue{}
	tracker := netstate.NewTracker(true)
	m := New(q, &fakeProber{}, tracker, nil, &Config{Interval: 10 * time.Millisecond})

	stop := m.Start(context.Background())
	if !m.IsRunning() || tracker.Subscribers() != 1 {
		t.Fatalf("running = %v, subscribers = %d", m.IsRunning(), tracker.Subscribers())
	}

	// A second Start is a no-op
	m.Start(context.Background())()
	if tracker.Subscribers() != 1 {
		t.Errorf("second Start() subscribed again")
	}

	stop()
	stop()

	if m.IsRunning() {
		t.Error("IsRunning() should be false after teardown")
	}
	if tracker.Subscribers() != 0 {
		t.Errorf("subscribers = %d after teardown, want 0", tracker.Subscribers())
	}
}

// TestStart_parentCancel verifies the loop exits with its context.
func TestStart_parentCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	m := New(&fakeQueue{}, &fakeProber{}, nil, nil, nil)
	stop := m.Start(ctx)
	cancel()
	stop()
}

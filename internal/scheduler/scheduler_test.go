package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"courtbot/internal/domain"
	"courtbot/internal/eventbus"
	"courtbot/pkg/logx"
)

var thursday = time.Date(2026, 8, 20, 17, 0, 0, 0, time.Local)

func saturdayConfig(id string) domain.ReservationConfig {
	return domain.ReservationConfig{
		ID:        id,
		Name:      id,
		Activity:  "tennis",
		PartySize: 2,
		Enabled:   true,
		Slots:     map[string][]domain.TimeSlot{"saturday": {{Hour: 10}}},
	}
}

type fakeChecker struct {
	mu    sync.Mutex
	calls int
}

func (c *fakeChecker) CheckDue(ctx context.Context) ([]domain.RunOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil, nil
}

func (c *fakeChecker) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeRegistry struct {
	mu           sync.Mutex
	registered   []time.Time
	unregistered int
}

func (r *fakeRegistry) Register(ctx context.Context, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered = append(r.registered, at)
	return nil
}

func (r *fakeRegistry) Query(ctx context.Context) (time.Time, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.registered) == 0 {
		return time.Time{}, false, nil
	}
	return r.registered[len(r.registered)-1], true, nil
}

func (r *fakeRegistry) Unregister(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregistered++
	return nil
}

func (r *fakeRegistry) Close() error { return nil }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func startScheduler(t *testing.T, s *Scheduler) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestSchedulerArmsForNextInstant(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{}
	reg := &fakeRegistry{}
	s := New(checker, reg, eventbus.New(), logx.Nop(), Options{
		Backstop: time.Hour,
		Clock:    func() time.Time { return thursday },
	})
	s.Apply([]domain.ReservationConfig{saturdayConfig("court-a")}, domain.DefaultPolicy())
	startScheduler(t, s)

	want := time.Date(2026, 8, 20, 18, 0, 0, 0, time.Local)
	waitFor(t, time.Second, func() bool {
		st, at := s.State()
		return st == StateArmed && at.Equal(want)
	})

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.registered) == 0 || !reg.registered[len(reg.registered)-1].Equal(want) {
		t.Fatalf("os trigger registrations = %v, want %v", reg.registered, want)
	}
}

func TestSchedulerIdleWithoutConfigs(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{}
	reg := &fakeRegistry{}
	s := New(checker, reg, eventbus.New(), logx.Nop(), Options{
		Backstop: time.Hour,
		Clock:    func() time.Time { return thursday },
	})
	startScheduler(t, s)

	waitFor(t, time.Second, func() bool {
		st, _ := s.State()
		return st == StateIdle
	})
	waitFor(t, time.Second, func() bool {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		return reg.unregistered > 0
	})
}

func TestSchedulerApplyRearms(t *testing.T) {
	t.Parallel()

	checker := &fakeChecker{}
	s := New(checker, &fakeRegistry{}, eventbus.New(), logx.Nop(), Options{
		Backstop: time.Hour,
		Clock:    func() time.Time { return thursday },
	})
	startScheduler(t, s)

	waitFor(t, time.Second, func() bool {
		st, _ := s.State()
		return st == StateIdle
	})

	s.Apply([]domain.ReservationConfig{saturdayConfig("court-a")}, domain.DefaultPolicy())
	waitFor(t, time.Second, func() bool {
		st, _ := s.State()
		return st == StateArmed
	})
}

func TestSchedulerPreciseFire(t *testing.T) {
	t.Parallel()

	// 100ms before the trigger instant; the one-shot timer fires for real.
	clock := time.Date(2026, 8, 20, 17, 59, 59, int(900*time.Millisecond), time.Local)
	checker := &fakeChecker{}
	s := New(checker, &fakeRegistry{}, eventbus.New(), logx.Nop(), Options{
		Backstop: time.Hour,
		Clock:    func() time.Time { return clock },
	})
	s.Apply([]domain.ReservationConfig{saturdayConfig("court-a")}, domain.DefaultPolicy())
	startScheduler(t, s)

	waitFor(t, 2*time.Second, func() bool { return checker.count() >= 1 })
}

func TestSchedulerBackstopCoversMissedFire(t *testing.T) {
	t.Parallel()

	// Exactly at the trigger instant the precise timer is already past
	// (NextArmInstant is strictly after now), so only the backstop can
	// catch today's due configs.
	clock := time.Date(2026, 8, 20, 18, 0, 0, 0, time.Local)
	checker := &fakeChecker{}
	s := New(checker, &fakeRegistry{}, eventbus.New(), logx.Nop(), Options{
		Backstop: 50 * time.Millisecond,
		Clock:    func() time.Time { return clock },
	})
	s.Apply([]domain.ReservationConfig{saturdayConfig("court-a")}, domain.DefaultPolicy())
	startScheduler(t, s)

	waitFor(t, 2*time.Second, func() bool { return checker.count() >= 1 })
}

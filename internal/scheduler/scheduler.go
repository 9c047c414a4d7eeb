// Package scheduler arms a precise one-shot timer for the next autorun
// instant and keeps two safety nets behind it: a low-frequency in-process
// backstop poll and a durable OS-level trigger registration.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"courtbot/internal/domain"
	"courtbot/internal/eventbus"
	"courtbot/internal/orchestrator"
	"courtbot/internal/ostrigger"
	"courtbot/internal/timerules"
	"courtbot/pkg/logx"
)

// State is the scheduler's arm cycle position.
type State string

const (
	// StateIdle means nothing is armed (no enabled config has slots).
	StateIdle State = "idle"
	// StateArmed means a one-shot timer is pending for a known instant.
	StateArmed State = "armed"
)

const defaultBackstop = time.Minute

// DueChecker is the orchestrator entry point the scheduler fires into.
type DueChecker interface {
	CheckDue(ctx context.Context) ([]domain.RunOutcome, error)
}

type Options struct {
	// Backstop is the low-frequency re-check interval (default 1m). It
	// covers missed precise fires after clock changes or sleep/wake.
	Backstop time.Duration
	Clock    func() time.Time
}

type Scheduler struct {
	checker  DueChecker
	trigger  ostrigger.Registry
	bus      eventbus.Bus
	log      logx.Logger
	clock    func() time.Time
	backstop time.Duration

	mu      sync.Mutex
	cfgs    []domain.ReservationConfig
	policy  domain.AutorunPolicy
	state   State
	armedAt time.Time

	recompute chan struct{}
}

func New(checker DueChecker, trigger ostrigger.Registry, bus eventbus.Bus, log logx.Logger, opts Options) *Scheduler {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	backstop := opts.Backstop
	if backstop <= 0 {
		backstop = defaultBackstop
	}
	if trigger == nil {
		trigger = ostrigger.Nop{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		checker:   checker,
		trigger:   trigger,
		bus:       bus,
		log:       log.With(logx.String("component", "scheduler")),
		clock:     clock,
		backstop:  backstop,
		policy:    domain.DefaultPolicy(),
		state:     StateIdle,
		recompute: make(chan struct{}, 1),
	}
}

// Apply swaps the reservation set and policy, cancels any pending arm,
// and recomputes. Safe to call at any time and any rate; the single run
// loop guarantees the timer is never double-armed.
func (s *Scheduler) Apply(cfgs []domain.ReservationConfig, policy domain.AutorunPolicy) {
	s.mu.Lock()
	s.cfgs = append([]domain.ReservationConfig(nil), cfgs...)
	s.policy = policy.Normalized()
	s.mu.Unlock()

	select {
	case s.recompute <- struct{}{}:
	default:
	}
}

// State reports the current arm cycle position and, when armed, the
// pending instant.
func (s *Scheduler) State() (State, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.armedAt
}

func (s *Scheduler) snapshot() ([]domain.ReservationConfig, domain.AutorunPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfgs, s.policy
}

func (s *Scheduler) setState(state State, at time.Time) {
	s.mu.Lock()
	s.state = state
	s.armedAt = at
	s.mu.Unlock()
}

// Run drives arm cycles until the context ends. One loop iteration is
// one cycle: compute the next instant, arm the timer, re-register the OS
// trigger, then sleep until fire / recompute / shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc("@every "+s.backstop.String(), func() { s.backstopTick(ctx) }); err != nil {
		return err
	}
	c.Start()
	defer c.Stop()

	for {
		cfgs, policy := s.snapshot()
		now := s.clock()

		var (
			timerC <-chan time.Time
			tm     *time.Timer
		)
		next, ok := timerules.NextArmInstant(cfgs, policy, now)
		if ok {
			s.setState(StateArmed, next)
			s.publishArm(next)
			if err := s.trigger.Register(ctx, next); err != nil {
				// Registration failure degrades durability, not operation:
				// the backstop poll still covers the instant.
				s.log.Warn("os trigger registration failed", logx.Err(err))
			}
			tm = time.NewTimer(next.Sub(now))
			timerC = tm.C
			s.log.Debug("armed", logx.Time("at", next))
		} else {
			s.setState(StateIdle, time.Time{})
			if err := s.trigger.Unregister(ctx); err != nil {
				s.log.Debug("os trigger unregister failed", logx.Err(err))
			}
			s.log.Debug("idle: no enabled config has slots")
		}

		select {
		case <-ctx.Done():
			stopTimer(tm)
			s.setState(StateIdle, time.Time{})
			return ctx.Err()
		case <-s.recompute:
			stopTimer(tm)
			continue
		case <-timerC:
			s.log.Info("precise trigger fired", logx.Time("at", next))
			s.check(ctx)
			continue
		}
	}
}

// backstopTick is the cron-driven safety net behind the precise timer.
func (s *Scheduler) backstopTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.check(ctx)
}

func (s *Scheduler) check(ctx context.Context) {
	if _, err := s.checker.CheckDue(ctx); err != nil && !errors.Is(err, orchestrator.ErrCheckInFlight) {
		s.log.Error("due check failed", logx.Err(err))
	}
}

func (s *Scheduler) publishArm(at time.Time) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeSchedulerArm, Data: at})
}

func stopTimer(tm *time.Timer) {
	if tm != nil {
		tm.Stop()
	}
}

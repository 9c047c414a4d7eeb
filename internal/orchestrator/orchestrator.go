// Package orchestrator fans reservation runs out, serializes all status
// writes, and guards the autorun path against duplicate execution.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"courtbot/internal/automation"
	"courtbot/internal/domain"
	"courtbot/internal/eventbus"
	"courtbot/internal/storage"
	"courtbot/internal/timerules"
	"courtbot/pkg/logx"
)

// ErrCheckInFlight means a due-configs check was requested while a
// previous one is still running. The caller treats it as a no-op.
var ErrCheckInFlight = errors.New("autorun check already in flight")

// dedupTTL keeps claimed trigger keys long enough to survive a restart
// on the same day; the key embeds the date, so expiry is only pruning.
const dedupTTL = 48 * time.Hour

// Runner executes one booking attempt. Satisfied by *automation.Machine.
type Runner interface {
	Run(ctx context.Context, cfg domain.ReservationConfig, day time.Time, slots []domain.TimeSlot) (automation.Result, error)
}

// Deps are the orchestrator's collaborators. Store may be nil (no
// persistence: the dedup guarantee then holds only within the process).
type Deps struct {
	Runner Runner
	Store  storage.Store
	Bus    eventbus.Bus
	Log    logx.Logger
	Clock  func() time.Time
}

type Orchestrator struct {
	runner Runner
	store  storage.Store
	bus    eventbus.Bus
	status *StatusStore
	log    logx.Logger
	clock  func() time.Time

	mu      sync.Mutex
	policy  domain.AutorunPolicy
	configs []domain.ReservationConfig
	cancels map[uint64]context.CancelFunc
	nextRun atomic.Uint64

	checking atomic.Bool
}

func New(d Deps) *Orchestrator {
	clock := d.Clock
	if clock == nil {
		clock = time.Now
	}
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{
		runner:  d.Runner,
		store:   d.Store,
		bus:     d.Bus,
		status:  NewStatusStore(clock),
		log:     log.With(logx.String("component", "orchestrator")),
		clock:   clock,
		policy:  domain.DefaultPolicy(),
		cancels: map[uint64]context.CancelFunc{},
	}
}

// Apply swaps the active reservation set and policy. Called at startup
// and on every config reload; in-flight runs keep the snapshot they
// started with.
func (o *Orchestrator) Apply(cfgs []domain.ReservationConfig, policy domain.AutorunPolicy) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.configs = append([]domain.ReservationConfig(nil), cfgs...)
	o.policy = policy.Normalized()
}

func (o *Orchestrator) snapshot() ([]domain.ReservationConfig, domain.AutorunPolicy) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.configs, o.policy
}

// Status exposes the status store to read-only consumers (IPC, notify).
func (o *Orchestrator) Status() *StatusStore { return o.status }

// RunSingle runs one config and blocks until it finishes. The outcome is
// tri-state: success, failure with reason, or not eligible today.
func (o *Orchestrator) RunSingle(ctx context.Context, cfg domain.ReservationConfig, rt domain.RunType) domain.RunOutcome {
	_, policy := o.snapshot()
	now := o.clock()
	out := domain.RunOutcome{ConfigID: cfg.ID, RunType: rt, Started: now}

	if !cfg.Enabled {
		out.Eligibility = domain.Disabled
		return out
	}

	var day time.Time
	switch rt {
	case domain.RunAutorun:
		if !timerules.IsDueNow(cfg, policy, now) {
			out.Eligibility = domain.NotDueToday
			return out
		}
		day = timerules.ReservationDay(policy, now)
	default:
		d, ok := timerules.NextReservationDay(cfg, now)
		if !ok {
			out.Eligibility = domain.NotDueToday
			out.Reason = "no slots configured"
			return out
		}
		day = d
	}

	return o.execute(ctx, cfg, rt, day)
}

// RunMultiple runs every config concurrently, one browser session each,
// and returns the outcomes in input order.
func (o *Orchestrator) RunMultiple(ctx context.Context, cfgs []domain.ReservationConfig, rt domain.RunType) []domain.RunOutcome {
	return o.runMany(ctx, cfgs, rt)
}

func (o *Orchestrator) runMany(ctx context.Context, cfgs []domain.ReservationConfig, rt domain.RunType) []domain.RunOutcome {
	outcomes := make([]domain.RunOutcome, len(cfgs))
	// One run's failure must not cancel its siblings, so no shared
	// errgroup context here.
	var g errgroup.Group
	for i, cfg := range cfgs {
		i, cfg := i, cfg
		g.Go(func() error {
			if rt == domain.RunAutorun {
				_, policy := o.snapshot()
				now := o.clock()
				out := domain.RunOutcome{ConfigID: cfg.ID, RunType: rt, Started: now}
				if !cfg.Enabled {
					out.Eligibility = domain.Disabled
					outcomes[i] = out
					return nil
				}
				if !timerules.IsDueNow(cfg, policy, now) {
					out.Eligibility = domain.NotDueToday
					outcomes[i] = out
					return nil
				}
				outcomes[i] = o.execute(ctx, cfg, rt, timerules.ReservationDay(policy, now))
				return nil
			}
			outcomes[i] = o.RunSingle(ctx, cfg, rt)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// CheckDue is the scheduler's entry point: find the configs due right
// now and run them. A check while a previous check's runs are still in
// flight returns ErrCheckInFlight and spawns nothing. Each (config, day)
// trigger event is claimed in storage before running, so a restarted
// process cannot re-fire a trigger it already acted on.
func (o *Orchestrator) CheckDue(ctx context.Context) ([]domain.RunOutcome, error) {
	if !o.checking.CompareAndSwap(false, true) {
		o.log.Debug("due check skipped: previous check still in flight")
		return nil, ErrCheckInFlight
	}
	defer o.checking.Store(false)

	cfgs, policy := o.snapshot()
	now := o.clock()
	due := timerules.DueConfigs(cfgs, policy, now)
	if len(due) == 0 {
		return nil, nil
	}

	fresh := due[:0:0]
	for _, cfg := range due {
		key := triggerEventKey(cfg.ID, now)
		if o.claimTrigger(ctx, key, now) {
			fresh = append(fresh, cfg)
		} else {
			o.log.Info("trigger already claimed, skipping",
				logx.String("config", cfg.ID),
				logx.String("key", key))
		}
	}
	if len(fresh) == 0 {
		return nil, nil
	}

	o.log.Info("autorun due", logx.Int("configs", len(fresh)))
	return o.runMany(ctx, fresh, domain.RunAutorun), nil
}

// EmergencyCleanup cancels every in-flight run and finalizes its status
// as aborted. Invoked on shutdown; must leave no live browser session or
// mailbox connection behind.
func (o *Orchestrator) EmergencyCleanup(reason string) {
	o.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(o.cancels))
	for _, c := range o.cancels {
		cancels = append(cancels, c)
	}
	o.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	aborted := o.status.AbortRunning(reason)
	for _, st := range aborted {
		o.publish(eventbus.TypeRunFailed, st)
		o.publish(eventbus.TypeStatusChanged, st)
	}
	if len(aborted) > 0 {
		o.log.Warn("aborted in-flight runs", logx.Int("count", len(aborted)), logx.String("reason", reason))
	}
}

func (o *Orchestrator) execute(ctx context.Context, cfg domain.ReservationConfig, rt domain.RunType, day time.Time) domain.RunOutcome {
	now := o.clock()
	out := domain.RunOutcome{ConfigID: cfg.ID, RunType: rt, Eligibility: domain.Eligible, Started: now}

	st, err := o.status.MarkRunning(cfg.ID)
	if err != nil {
		out.Success = false
		out.Reason = err.Error()
		return out
	}
	o.publish(eventbus.TypeRunStarted, st)
	o.publish(eventbus.TypeStatusChanged, st)

	runCtx, cancel := context.WithCancel(ctx)
	id := o.nextRun.Add(1)
	o.mu.Lock()
	o.cancels[id] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, id)
		o.mu.Unlock()
		cancel()
	}()

	slots := cfg.WeekdaySlots()[day.Weekday()]
	res, runErr := o.runner.Run(runCtx, cfg, day, slots)
	out.Duration = o.clock().Sub(now)
	out.Success = runErr == nil
	if runErr != nil {
		out.Reason = runErr.Error()
	}

	st, err = o.status.MarkResult(cfg.ID, out.Success, out.Reason)
	if err != nil {
		// Cleanup already finalized this run as aborted.
		o.log.Debug("result after finalized status", logx.String("config", cfg.ID), logx.Err(err))
	} else {
		if out.Success {
			o.publish(eventbus.TypeRunFinished, st)
		} else {
			o.publish(eventbus.TypeRunFailed, st)
		}
		o.publish(eventbus.TypeStatusChanged, st)
	}

	o.appendRun(out)
	o.log.Info("run finished",
		logx.String("config", cfg.ID),
		logx.String("type", string(rt)),
		logx.Bool("success", out.Success),
		logx.String("state", string(res.State)),
		logx.Duration("took", out.Duration))
	return out
}

func (o *Orchestrator) claimTrigger(ctx context.Context, key string, now time.Time) bool {
	if o.store == nil {
		return true
	}
	if _, ok, err := o.store.GetDedup(ctx, key); err != nil {
		o.log.Warn("dedup lookup failed, running anyway", logx.Err(err))
		return true
	} else if ok {
		return false
	}
	if err := o.store.PutDedup(ctx, key, now.Add(dedupTTL)); err != nil {
		o.log.Warn("dedup claim failed", logx.Err(err))
	}
	return true
}

func (o *Orchestrator) appendRun(out domain.RunOutcome) {
	if o.store == nil {
		return
	}
	var triggerKey string
	if out.RunType == domain.RunAutorun {
		triggerKey = triggerEventKey(out.ConfigID, out.Started)
	}
	rec := storage.RunRecord{
		At:         out.Started,
		ConfigID:   out.ConfigID,
		RunType:    string(out.RunType),
		Success:    out.Success,
		Reason:     out.Reason,
		TookMS:     out.Duration.Milliseconds(),
		TriggerKey: triggerKey,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.AppendRun(ctx, rec); err != nil {
		o.log.Warn("run record not persisted", logx.Err(err))
	}
}

func (o *Orchestrator) publish(typ string, st domain.RunStatus) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(eventbus.Event{Type: typ, Data: st})
}

// triggerEventKey identifies one autorun trigger event: config + the
// calendar day the trigger fired on.
func triggerEventKey(configID string, now time.Time) string {
	return fmt.Sprintf("autorun:%s:%s", configID, now.Format("2006-01-02"))
}

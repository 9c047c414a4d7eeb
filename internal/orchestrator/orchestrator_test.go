package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"courtbot/internal/automation"
	"courtbot/internal/domain"
	"courtbot/internal/eventbus"
	"courtbot/internal/storage"
	"courtbot/pkg/logx"
)

// thursday1800 is a Thursday; with PriorDays=2 a Saturday slot is due at
// the 18:00 trigger.
var thursday1800 = time.Date(2026, 8, 20, 18, 0, 0, 0, time.Local)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func saturdayConfig(id string, enabled bool) domain.ReservationConfig {
	return domain.ReservationConfig{
		ID:          id,
		Name:        id,
		FacilityURL: "https://courts.example/f/1",
		Activity:    "tennis",
		PartySize:   2,
		Enabled:     enabled,
		Slots:       map[string][]domain.TimeSlot{"saturday": {{Hour: 10}}},
		Contact:     domain.Contact{Name: "Jamie", Phone: "010-0000-0000"},
	}
}

// fakeRunner records which configs ran. With block set, runs park until
// the channel closes or their context is canceled.
type fakeRunner struct {
	mu      sync.Mutex
	runs    []string
	started chan string
	block   chan struct{}
	err     error
}

func (r *fakeRunner) Run(ctx context.Context, cfg domain.ReservationConfig, day time.Time, slots []domain.TimeSlot) (automation.Result, error) {
	r.mu.Lock()
	r.runs = append(r.runs, cfg.ID)
	r.mu.Unlock()
	if r.started != nil {
		r.started <- cfg.ID
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return automation.Result{State: automation.StateStart}, ctx.Err()
		}
	}
	if r.err != nil {
		return automation.Result{}, r.err
	}
	return automation.Result{State: automation.StateDone}, nil
}

func (r *fakeRunner) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.runs...)
}

// memStore is an in-memory storage.Store.
type memStore struct {
	mu    sync.Mutex
	runs  []storage.RunRecord
	dedup map[string]time.Time
}

func newMemStore() *memStore { return &memStore{dedup: map[string]time.Time{}} }

func (s *memStore) AppendRun(ctx context.Context, r storage.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, r)
	return nil
}

func (s *memStore) RecentRuns(ctx context.Context, configID string, limit int) ([]storage.RunRecord, error) {
	return nil, nil
}

func (s *memStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dedup[key] = until
	return nil
}

func (s *memStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.dedup[key]
	return until, ok, nil
}

func (s *memStore) Close() error { return nil }

func newTestOrchestrator(r Runner, st storage.Store, clock func() time.Time) *Orchestrator {
	return New(Deps{
		Runner: r,
		Store:  st,
		Bus:    eventbus.New(),
		Log:    logx.Nop(),
		Clock:  clock,
	})
}

func TestCheckDueRunsOnlyEligible(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	store := newMemStore()
	o := newTestOrchestrator(runner, store, fixedClock(thursday1800))
	o.Apply([]domain.ReservationConfig{
		saturdayConfig("court-a", true),
		saturdayConfig("court-b", false),
	}, domain.DefaultPolicy())

	outcomes, err := o.CheckDue(context.Background())
	if err != nil {
		t.Fatalf("CheckDue() err = %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].ConfigID != "court-a" || !outcomes[0].Success {
		t.Fatalf("outcomes = %+v", outcomes)
	}
	if got := runner.ran(); len(got) != 1 || got[0] != "court-a" {
		t.Fatalf("runner ran %v", got)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.runs) != 1 || store.runs[0].TriggerKey == "" {
		t.Fatalf("persisted runs = %+v", store.runs)
	}
}

func TestCheckDueReentrancyIsNoOp(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{started: make(chan string, 1), block: make(chan struct{})}
	o := newTestOrchestrator(runner, newMemStore(), fixedClock(thursday1800))
	o.Apply([]domain.ReservationConfig{saturdayConfig("court-a", true)}, domain.DefaultPolicy())

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := o.CheckDue(context.Background()); err != nil {
			t.Errorf("first CheckDue() err = %v", err)
		}
	}()
	<-runner.started

	if _, err := o.CheckDue(context.Background()); !errors.Is(err, ErrCheckInFlight) {
		t.Fatalf("second CheckDue() err = %v, want ErrCheckInFlight", err)
	}
	close(runner.block)
	<-done

	if got := runner.ran(); len(got) != 1 {
		t.Fatalf("runner ran %v, want exactly one run", got)
	}
}

func TestCheckDueSkipsClaimedTrigger(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	store := newMemStore()
	// A previous process instance already claimed today's trigger.
	key := triggerEventKey("court-a", thursday1800)
	store.dedup[key] = thursday1800.Add(dedupTTL)

	o := newTestOrchestrator(runner, store, fixedClock(thursday1800))
	o.Apply([]domain.ReservationConfig{saturdayConfig("court-a", true)}, domain.DefaultPolicy())

	outcomes, err := o.CheckDue(context.Background())
	if err != nil {
		t.Fatalf("CheckDue() err = %v", err)
	}
	if len(outcomes) != 0 {
		t.Fatalf("outcomes = %+v, want none", outcomes)
	}
	if got := runner.ran(); len(got) != 0 {
		t.Fatalf("runner ran %v, want none", got)
	}
}

func TestRunSingleEligibility(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	// Monday: Saturday slots are not due under PriorDays=2.
	monday := time.Date(2026, 8, 17, 18, 0, 0, 0, time.Local)
	o := newTestOrchestrator(runner, nil, fixedClock(monday))

	out := o.RunSingle(context.Background(), saturdayConfig("court-a", false), domain.RunAutorun)
	if out.Eligibility != domain.Disabled {
		t.Fatalf("disabled config eligibility = %v", out.Eligibility)
	}
	out = o.RunSingle(context.Background(), saturdayConfig("court-a", true), domain.RunAutorun)
	if out.Eligibility != domain.NotDueToday {
		t.Fatalf("not-due config eligibility = %v", out.Eligibility)
	}
	if len(runner.ran()) != 0 {
		t.Fatalf("runner ran for ineligible configs")
	}

	// Manual runs ignore the autorun calendar.
	out = o.RunSingle(context.Background(), saturdayConfig("court-a", true), domain.RunManual)
	if out.Eligibility != domain.Eligible || !out.Success {
		t.Fatalf("manual outcome = %+v", out)
	}
}

func TestRunMultipleRunsEachConfigOnce(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{started: make(chan string, 2), block: make(chan struct{})}
	o := newTestOrchestrator(runner, nil, fixedClock(thursday1800))

	cfgs := []domain.ReservationConfig{
		saturdayConfig("court-a", true),
		saturdayConfig("court-b", true),
	}
	done := make(chan []domain.RunOutcome, 1)
	go func() { done <- o.RunMultiple(context.Background(), cfgs, domain.RunManual) }()

	// Both runs must be in flight at once before either is released.
	seen := map[string]bool{}
	for len(seen) < 2 {
		seen[<-runner.started] = true
	}
	close(runner.block)

	outcomes := <-done
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %+v", outcomes)
	}
	for i, want := range []string{"court-a", "court-b"} {
		if outcomes[i].ConfigID != want || !outcomes[i].Success {
			t.Fatalf("outcome[%d] = %+v", i, outcomes[i])
		}
	}
	if got := runner.ran(); len(got) != 2 {
		t.Fatalf("runner ran %v", got)
	}
}

func TestEmergencyCleanupAbortsInFlightRuns(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{started: make(chan string, 1), block: make(chan struct{})}
	o := newTestOrchestrator(runner, nil, fixedClock(thursday1800))

	done := make(chan domain.RunOutcome, 1)
	go func() {
		done <- o.RunSingle(context.Background(), saturdayConfig("court-a", true), domain.RunManual)
	}()
	<-runner.started

	o.EmergencyCleanup("shutdown")

	out := <-done
	if out.Success {
		t.Fatalf("outcome = %+v, want aborted failure", out)
	}
	st, ok := o.Status().Get("court-a")
	if !ok || st.State != domain.StateFailed || st.Reason != "shutdown" {
		t.Fatalf("status = %+v, want failed(shutdown)", st)
	}
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	s := NewStatusStore(fixedClock(thursday1800))

	if _, err := s.MarkResult("x", true, ""); err == nil {
		t.Fatalf("MarkResult before MarkRunning should fail")
	}
	if _, err := s.MarkRunning("x"); err != nil {
		t.Fatalf("MarkRunning() err = %v", err)
	}
	if _, err := s.MarkRunning("x"); err == nil {
		t.Fatalf("double MarkRunning should fail")
	}
	st, err := s.MarkResult("x", false, "boom")
	if err != nil {
		t.Fatalf("MarkResult() err = %v", err)
	}
	if st.State != domain.StateFailed || st.Reason != "boom" || st.LastFailure.IsZero() {
		t.Fatalf("status = %+v", st)
	}
	// A terminal config can start a fresh run.
	if _, err := s.MarkRunning("x"); err != nil {
		t.Fatalf("MarkRunning after terminal err = %v", err)
	}
	st, err = s.MarkResult("x", true, "")
	if err != nil {
		t.Fatalf("MarkResult() err = %v", err)
	}
	if st.State != domain.StateSuccess || st.Reason != "" || st.LastSuccess.IsZero() {
		t.Fatalf("status = %+v", st)
	}
	running, succeeded, failed := s.Counts()
	if running != 0 || succeeded != 1 || failed != 0 {
		t.Fatalf("counts = %d/%d/%d", running, succeeded, failed)
	}
}

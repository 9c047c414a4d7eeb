package automation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"courtbot/internal/browser"
	"courtbot/internal/domain"
	"courtbot/internal/mailcode"
	"courtbot/pkg/logx"
)

// fakeSession scripts the booking page: every primitive succeeds unless
// its selector matches failOn, and Evaluate answers the code-challenge
// probe with challenge.
type fakeSession struct {
	mu        sync.Mutex
	actions   []string
	typed     map[string]string
	failOn    string
	failErr   error
	challenge bool
	closed    bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{typed: map[string]string{}}
}

func (f *fakeSession) record(action, selector string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action+" "+selector)
	if f.failOn != "" && selector == f.failOn {
		return f.failErr
	}
	return nil
}

func (f *fakeSession) Navigate(ctx context.Context, url string) error {
	return f.record("navigate", url)
}

func (f *fakeSession) WaitVisible(ctx context.Context, selector string) error {
	return f.record("wait", selector)
}

func (f *fakeSession) Click(ctx context.Context, selector string) error {
	return f.record("click", selector)
}

func (f *fakeSession) Type(ctx context.Context, selector, text string) error {
	if err := f.record("type", selector); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed[selector] = text
	return nil
}

func (f *fakeSession) SelectOption(ctx context.Context, selector, value string) error {
	if err := f.record("select", selector); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typed[selector] = value
	return nil
}

func (f *fakeSession) Evaluate(ctx context.Context, js string, out any) error {
	if err := f.record("eval", ""); err != nil {
		return err
	}
	if b, ok := out.(*bool); ok {
		*b = f.challenge
	}
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeRetriever struct {
	code string
	err  error
}

func (r fakeRetriever) Retrieve(ctx context.Context, since time.Time) (string, error) {
	return r.code, r.err
}

func testConfig() domain.ReservationConfig {
	return domain.ReservationConfig{
		ID:          "court-a",
		Name:        "Court A",
		FacilityURL: "https://courts.example/facility/12",
		Activity:    "tennis",
		PartySize:   4,
		Enabled:     true,
		Slots:       map[string][]domain.TimeSlot{"saturday": {{Hour: 10}, {Hour: 14}}},
		Contact:     domain.Contact{Name: "Jamie", Phone: "010-0000-0000", Email: "jamie@example.com"},
	}
}

func machineWith(sess *fakeSession, r CodeRetriever) *Machine {
	factory := func(ctx context.Context) (browser.Session, error) { return sess, nil }
	return New(factory, r, logx.Nop())
}

func TestRunHappyPathNoChallenge(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	m := machineWith(sess, fakeRetriever{})
	cfg := testConfig()
	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.Local) // a Saturday

	res, err := m.Run(context.Background(), cfg, day, cfg.WeekdaySlots()[time.Saturday])
	if err != nil {
		t.Fatalf("Run() err = %v", err)
	}
	if res.State != StateDone {
		t.Fatalf("final state = %s, want %s", res.State, StateDone)
	}
	if res.Verified {
		t.Fatalf("Verified = true without a challenge")
	}
	if !sess.closed {
		t.Fatalf("session not closed after run")
	}
	if got := sess.typed[DefaultSelectors().NameInput]; got != "Jamie" {
		t.Fatalf("contact name typed = %q", got)
	}
	// Both Saturday slots clicked, in order.
	var clicks []string
	for _, a := range sess.actions {
		if strings.HasPrefix(a, "click button[data-date") {
			clicks = append(clicks, a)
		}
	}
	if len(clicks) != 2 || !strings.Contains(clicks[0], `data-time="10:00"`) || !strings.Contains(clicks[1], `data-time="14:00"`) {
		t.Fatalf("slot clicks = %v", clicks)
	}
}

func TestRunCodeChallenge(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	sess.challenge = true
	m := machineWith(sess, fakeRetriever{code: "482913"})
	cfg := testConfig()
	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.Local)

	res, err := m.Run(context.Background(), cfg, day, cfg.WeekdaySlots()[time.Saturday])
	if err != nil {
		t.Fatalf("Run() err = %v", err)
	}
	if res.State != StateDone || !res.Verified {
		t.Fatalf("res = %+v, want done+verified", res)
	}
	if got := sess.typed[DefaultSelectors().CodeInput]; got != "482913" {
		t.Fatalf("code typed = %q, want 482913", got)
	}
}

func TestRunFailureCarriesStepAndSelector(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	sess.failOn = DefaultSelectors().SubmitButton
	sess.failErr = errors.New("element not clickable")
	m := machineWith(sess, fakeRetriever{})
	cfg := testConfig()
	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.Local)

	res, err := m.Run(context.Background(), cfg, day, cfg.WeekdaySlots()[time.Saturday])
	if err == nil {
		t.Fatalf("Run() err = nil, want step error")
	}
	var step *StepError
	if !errors.As(err, &step) {
		t.Fatalf("Run() err = %T, want *StepError", err)
	}
	if step.State != StateSubmitted || step.Selector != DefaultSelectors().SubmitButton {
		t.Fatalf("step error = %+v", step)
	}
	if res.State != StateContactFormFilled {
		t.Fatalf("last good state = %s, want %s", res.State, StateContactFormFilled)
	}
	if !sess.closed {
		t.Fatalf("session not closed after failed run")
	}
}

func TestRunVerificationTimeoutFailsRun(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	sess.challenge = true
	m := machineWith(sess, fakeRetriever{err: mailcode.ErrCodeTimeout})
	cfg := testConfig()
	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.Local)

	res, err := m.Run(context.Background(), cfg, day, cfg.WeekdaySlots()[time.Saturday])
	if !errors.Is(err, mailcode.ErrCodeTimeout) {
		t.Fatalf("Run() err = %v, want code timeout", err)
	}
	if res.State != StateAwaitingVerification {
		t.Fatalf("state = %s, want %s", res.State, StateAwaitingVerification)
	}
	if !sess.closed {
		t.Fatalf("session not closed after timeout")
	}
}

// Concurrent runs must each get their own session from the factory.
func TestConcurrentRunsUseDistinctSessions(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var handed []*fakeSession
	factory := func(ctx context.Context) (browser.Session, error) {
		s := newFakeSession()
		mu.Lock()
		handed = append(handed, s)
		mu.Unlock()
		return s, nil
	}
	m := New(factory, fakeRetriever{}, logx.Nop())
	cfg := testConfig()
	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.Local)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Run(context.Background(), cfg, day, cfg.WeekdaySlots()[time.Saturday]); err != nil {
				t.Errorf("Run() err = %v", err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(handed) != 4 {
		t.Fatalf("factory handed out %d sessions, want 4", len(handed))
	}
	seen := map[*fakeSession]bool{}
	for _, s := range handed {
		if seen[s] {
			t.Fatalf("session shared between runs")
		}
		seen[s] = true
		if !s.closed {
			t.Fatalf("session not closed after its run")
		}
	}
}

func TestRunSessionFactoryError(t *testing.T) {
	t.Parallel()

	boom := errors.New("no browser")
	factory := func(ctx context.Context) (browser.Session, error) { return nil, boom }
	m := New(factory, fakeRetriever{}, logx.Nop())
	cfg := testConfig()

	_, err := m.Run(context.Background(), cfg, time.Now(), nil)
	if !errors.Is(err, boom) {
		t.Fatalf("Run() err = %v, want factory error", err)
	}
}

package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"courtbot/internal/config"
	"courtbot/internal/domain"
	"courtbot/internal/eventbus"
	"courtbot/pkg/logx"
)

type captureSink struct {
	mu   sync.Mutex
	sent []string
}

func (s *captureSink) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	return nil
}

func (s *captureSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func waitForSent(t *testing.T, sink *captureSink, n int) []string {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if got := sink.all(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sink got %v, want %d messages", sink.all(), n)
	return nil
}

func startNotify(t *testing.T, cfg *config.NotifyConfig, bus eventbus.Bus, sink Sink) {
	t.Helper()
	svc, err := New(cfg, bus, sink, logx.Nop())
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestNotifyRendersRunEvents(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	sink := &captureSink{}
	startNotify(t, nil, bus, sink)
	time.Sleep(20 * time.Millisecond) // let Run subscribe

	st := domain.RunStatus{ConfigID: "court-a", State: domain.StateFailed, Reason: "selector missing"}
	bus.Publish(eventbus.Event{Type: eventbus.TypeRunFailed, Data: st})

	got := waitForSent(t, sink, 1)
	if got[0] != "court-a: reservation failed: selector missing" {
		t.Fatalf("message = %q", got[0])
	}
}

func TestNotifyDeduplicatesWithinWindow(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	sink := &captureSink{}
	cfg := &config.NotifyConfig{Enabled: true, DedupWindow: "1m"}
	startNotify(t, cfg, bus, sink)
	time.Sleep(20 * time.Millisecond)

	st := domain.RunStatus{ConfigID: "court-a", State: domain.StateSuccess}
	for i := 0; i < 3; i++ {
		bus.Publish(eventbus.Event{Type: eventbus.TypeRunFinished, Data: st})
	}
	// A different config is not a duplicate.
	bus.Publish(eventbus.Event{Type: eventbus.TypeRunFinished, Data: domain.RunStatus{ConfigID: "court-b"}})

	got := waitForSent(t, sink, 2)
	time.Sleep(50 * time.Millisecond)
	if got = sink.all(); len(got) != 2 {
		t.Fatalf("sent = %v, want exactly 2", got)
	}
}

func TestNotifyIgnoresStatusChangedEcho(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	sink := &captureSink{}
	startNotify(t, nil, bus, sink)
	time.Sleep(20 * time.Millisecond)

	st := domain.RunStatus{ConfigID: "court-a", State: domain.StateRunning}
	bus.Publish(eventbus.Event{Type: eventbus.TypeStatusChanged, Data: st})
	bus.Publish(eventbus.Event{Type: eventbus.TypeRunStarted, Data: st})

	got := waitForSent(t, sink, 1)
	time.Sleep(50 * time.Millisecond)
	if got = sink.all(); len(got) != 1 {
		t.Fatalf("sent = %v, want only the run-started message", got)
	}
}

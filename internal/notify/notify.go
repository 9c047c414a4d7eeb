// Package notify turns run/status events into human-readable messages
// for an external surface. The default sink writes to the log; a GUI or
// chat frontend plugs in its own Sink.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"courtbot/internal/config"
	"courtbot/internal/domain"
	"courtbot/internal/eventbus"
	"courtbot/pkg/logx"
)

const (
	defaultRatePerSec  = 5
	defaultDedupWindow = time.Minute
	subscribeBuffer    = 64
)

// Sink delivers one rendered message.
type Sink interface {
	Send(ctx context.Context, text string) error
}

// LogSink is the default sink.
type LogSink struct {
	Log logx.Logger
}

func (s LogSink) Send(_ context.Context, text string) error {
	s.Log.Info("notify", logx.String("message", text))
	return nil
}

type Service struct {
	bus     eventbus.Bus
	sink    Sink
	log     logx.Logger
	enabled bool

	limiter *rate.Limiter
	window  time.Duration
	clock   func() time.Time

	mu     sync.Mutex
	recent map[string]time.Time
}

// New builds the notifier. A nil cfg section means enabled with defaults.
func New(cfg *config.NotifyConfig, bus eventbus.Bus, sink Sink, log logx.Logger) (*Service, error) {
	log = log.With(logx.String("component", "notify"))
	enabled := true
	ratePerSec := defaultRatePerSec
	window := defaultDedupWindow
	if cfg != nil {
		enabled = cfg.Enabled
		if cfg.RatePerSec > 0 {
			ratePerSec = cfg.RatePerSec
		}
		w, err := config.ParseDurationOrDefault("notify.dedup_window", cfg.DedupWindow, defaultDedupWindow)
		if err != nil {
			return nil, err
		}
		window = w
	}
	if sink == nil {
		sink = LogSink{Log: log}
	}
	return &Service{
		bus:     bus,
		sink:    sink,
		log:     log,
		enabled: enabled,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		window:  window,
		clock:   time.Now,
		recent:  map[string]time.Time{},
	}, nil
}

// Run consumes bus events until the context ends.
func (s *Service) Run(ctx context.Context) error {
	if !s.enabled {
		<-ctx.Done()
		return ctx.Err()
	}
	events, unsubscribe := s.bus.Subscribe(subscribeBuffer)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			s.handle(ctx, e)
		}
	}
}

func (s *Service) handle(ctx context.Context, e eventbus.Event) {
	text, ok := render(e)
	if !ok {
		return
	}
	if s.isDuplicate(text) {
		return
	}
	if !s.limiter.Allow() {
		s.log.Debug("notification dropped by rate limit", logx.String("message", text))
		return
	}
	if err := s.sink.Send(ctx, text); err != nil {
		s.log.Warn("notification delivery failed", logx.Err(err))
	}
}

// isDuplicate suppresses identical messages inside the dedup window.
func (s *Service) isDuplicate(text string) bool {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if at, ok := s.recent[text]; ok && now.Sub(at) < s.window {
		return true
	}
	for k, at := range s.recent {
		if now.Sub(at) >= s.window {
			delete(s.recent, k)
		}
	}
	s.recent[text] = now
	return false
}

func render(e eventbus.Event) (string, bool) {
	st, ok := e.Data.(domain.RunStatus)
	if !ok {
		return "", false
	}
	switch e.Type {
	case eventbus.TypeRunStarted:
		return fmt.Sprintf("%s: reservation run started", st.ConfigID), true
	case eventbus.TypeRunFinished:
		return fmt.Sprintf("%s: reservation confirmed", st.ConfigID), true
	case eventbus.TypeRunFailed:
		if st.Reason != "" {
			return fmt.Sprintf("%s: reservation failed: %s", st.ConfigID, st.Reason), true
		}
		return fmt.Sprintf("%s: reservation failed", st.ConfigID), true
	default:
		// Status-changed events duplicate the run events above.
		return "", false
	}
}

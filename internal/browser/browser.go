// Package browser drives an embedded Chrome via chromedp.
//
// It exposes a small Session surface (navigate, wait, click, type,
// evaluate) so the booking flow above it can be tested against a fake
// without a real browser.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"courtbot/internal/config"
	"courtbot/pkg/logx"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

	defaultWindowWidth  = 1366
	defaultWindowHeight = 768

	defaultPageLoadTimeout = 30 * time.Second
	defaultElementTimeout  = 10 * time.Second
)

// Options is the resolved browser configuration.
type Options struct {
	Headless bool
	ExecPath string

	UserAgent    string
	WindowWidth  int
	WindowHeight int

	PageLoadTimeout time.Duration
	ElementTimeout  time.Duration
}

// OptionsFrom resolves the config section, filling defaults. Headless
// defaults to true when omitted.
func OptionsFrom(cfg config.BrowserConfig) (Options, error) {
	o := Options{
		Headless:     true,
		ExecPath:     cfg.ExecPath,
		UserAgent:    cfg.UserAgent,
		WindowWidth:  cfg.WindowWidth,
		WindowHeight: cfg.WindowHeight,
	}
	if cfg.Headless != nil {
		o.Headless = *cfg.Headless
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.WindowWidth <= 0 {
		o.WindowWidth = defaultWindowWidth
	}
	if o.WindowHeight <= 0 {
		o.WindowHeight = defaultWindowHeight
	}

	var err error
	o.PageLoadTimeout, err = config.ParseDurationOrDefault("browser.page_load_timeout", cfg.PageLoadTimeout, defaultPageLoadTimeout)
	if err != nil {
		return Options{}, err
	}
	o.ElementTimeout, err = config.ParseDurationOrDefault("browser.element_timeout", cfg.ElementTimeout, defaultElementTimeout)
	if err != nil {
		return Options{}, err
	}
	return o, nil
}

// Session is one live page. Not safe for concurrent use; each
// reservation run owns exactly one.
type Session interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	// Type replaces the field's value and fires input/change so
	// framework-bound forms observe the edit.
	Type(ctx context.Context, selector, text string) error
	// SelectOption picks a <select> option by value.
	SelectOption(ctx context.Context, selector, value string) error
	Evaluate(ctx context.Context, js string, out any) error
	Close() error
}

// Engine owns the allocator options and spawns sessions.
type Engine struct {
	opts Options
	log  logx.Logger
}

func NewEngine(cfg config.BrowserConfig, log logx.Logger) (*Engine, error) {
	opts, err := OptionsFrom(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{opts: opts, log: log.With(logx.String("component", "browser"))}, nil
}

// NewSession launches a fresh Chrome with its own profile directory and
// installs the fingerprint patches before any page loads.
func (e *Engine) NewSession(ctx context.Context) (Session, error) {
	o := e.opts

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.Flag("headless", o.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(o.UserAgent),
		chromedp.WindowSize(o.WindowWidth, o.WindowHeight),
	)
	if o.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(o.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &chromeSession{
		opts:   o,
		log:    e.log,
		ctx:    browserCtx,
		cancel: func() { browserCancel(); allocCancel() },
	}

	// Starting the browser and registering the stealth script must happen
	// before the first Navigate, or the landing page sees the raw
	// automation fingerprint.
	if err := s.run(ctx, o.PageLoadTimeout, installStealth()); err != nil {
		s.cancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	e.log.Debug("browser session started",
		logx.Bool("headless", o.Headless),
		logx.Int("width", o.WindowWidth),
		logx.Int("height", o.WindowHeight))
	return s, nil
}

type chromeSession struct {
	opts   Options
	log    logx.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions on the browser context under a timeout, while
// still honoring the caller's context for cancelation.
func (s *chromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, s.opts.PageLoadTimeout, chromedp.Navigate(url))
}

func (s *chromeSession) WaitVisible(ctx context.Context, selector string) error {
	return s.run(ctx, s.opts.ElementTimeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (s *chromeSession) Click(ctx context.Context, selector string) error {
	return s.run(ctx, s.opts.ElementTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
}

func (s *chromeSession) Type(ctx context.Context, selector, text string) error {
	return s.run(ctx, s.opts.ElementTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
		dispatchEdit(selector),
	)
}

func (s *chromeSession) SelectOption(ctx context.Context, selector, value string) error {
	return s.run(ctx, s.opts.ElementTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, value, chromedp.ByQuery),
		dispatchEdit(selector),
	)
}

func (s *chromeSession) Evaluate(ctx context.Context, js string, out any) error {
	return s.run(ctx, s.opts.ElementTimeout, chromedp.Evaluate(js, out))
}

func (s *chromeSession) Close() error {
	if s.cancel == nil {
		return errors.New("browser session already closed")
	}
	cancel := s.cancel
	s.cancel = nil
	cancel()
	return nil
}

func installStealth() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
		return err
	})
}

// dispatchEdit fires input and change events on the element so value
// writes done outside the keyboard path are seen by page scripts.
func dispatchEdit(selector string) chromedp.Action {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector(%q);
		if (!el) return false;
		el.dispatchEvent(new Event('input', {bubbles: true}));
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})()`, selector)
	var ok bool
	return chromedp.Evaluate(js, &ok)
}

// Package app wires the daemon together: config, logging, storage,
// browser engine, orchestrator, scheduler, notifier, and the IPC socket.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"courtbot/internal/automation"
	"courtbot/internal/browser"
	"courtbot/internal/config"
	"courtbot/internal/domain"
	"courtbot/internal/eventbus"
	"courtbot/internal/ipc"
	"courtbot/internal/notify"
	"courtbot/internal/orchestrator"
	"courtbot/internal/ostrigger"
	"courtbot/internal/runtime/supervisor"
	"courtbot/internal/scheduler"
	"courtbot/internal/storage"
	"courtbot/pkg/logx"
)

// Options selects the config file and the credential source.
type Options struct {
	ConfigPath string

	// CredentialFile points at a 0600 YAML vault; empty falls back to
	// environment variables.
	CredentialFile string
}

type App struct {
	opts Options

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	bus     eventbus.Bus
	store   storage.Store
	engine  *browser.Engine
	orch    *orchestrator.Orchestrator
	sched   *scheduler.Scheduler
	notif   *notify.Service
	ipcSrv  *ipc.Server
	trigger ostrigger.Registry
	vault   config.CredentialSource
}

func New(opts Options) (*App, error) {
	cfgm := config.NewManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logxConfig(cfg.Logging))
	log = log.With(logx.String("comp", "app"))

	var vault config.CredentialSource
	if strings.TrimSpace(opts.CredentialFile) != "" {
		vault = config.NewFileVault(opts.CredentialFile)
	} else {
		vault = config.EnvVault{}
	}

	bus := eventbus.New()

	storeCfg, err := storageConfig(cfg.Storage)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	engine, err := browser.NewEngine(cfg.Browser, log)
	if err != nil {
		return nil, err
	}

	retriever := &vaultRetriever{cfgm: cfgm, vault: vault, log: log}
	machine := automation.New(engine.NewSession, retriever, log)

	orch := orchestrator.New(orchestrator.Deps{
		Runner: machine,
		Store:  store,
		Bus:    bus,
		Log:    log,
	})

	trigger, err := ostrigger.New(cfg.OSTrigger, log)
	if err != nil {
		// Degraded durability, not a startup failure: the in-process
		// backstop still covers autorun.
		log.Warn("os trigger unavailable", logx.Err(err))
		trigger = ostrigger.Nop{}
	}

	backstop, err := config.ParseDurationOrDefault("autorun.backstop_interval", cfg.Autorun.BackstopInterval, time.Minute)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(orch, trigger, bus, log, scheduler.Options{Backstop: backstop})

	notif, err := notify.New(cfg.Notify, bus, nil, log)
	if err != nil {
		return nil, err
	}

	a := &App{
		opts:    opts,
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		bus:     bus,
		store:   store,
		engine:  engine,
		orch:    orch,
		sched:   sched,
		notif:   notif,
		trigger: trigger,
		vault:   vault,
	}
	a.ipcSrv = ipc.NewServer(cfg.IPC, ipcHandler{a}, log)
	a.applyConfig(cfg)
	return a, nil
}

// Done is closed once the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		// Reject a hot reload that would break components at apply time.
		if _, err := browser.OptionsFrom(cfg.Browser); err != nil {
			return err
		}
		if _, err := cfg.Autorun.Policy(); err != nil {
			return err
		}
		if _, err := config.ParseDurationOrDefault("autorun.backstop_interval", cfg.Autorun.BackstopInterval, time.Minute); err != nil {
			return err
		}
		return nil
	})

	if err := a.ipcSrv.Listen(); err != nil {
		return err
	}
	a.sup.Go("ipc.serve", func(c context.Context) error {
		return ignoreCanceled(a.ipcSrv.Serve(c))
	})
	a.sup.Go("scheduler.run", func(c context.Context) error {
		return ignoreCanceled(a.sched.Run(c))
	})
	a.sup.Go("notify.run", func(c context.Context) error {
		return ignoreCanceled(a.notif.Run(c))
	})

	// Hot-reload fan-out: the watcher commits, this loop applies.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			var cfg *config.Config
			select {
			case <-c.Done():
				return
			case cfg = <-sub:
				if cfg == nil {
					return
				}
			}
			// Coalesce bursts, keep only the newest.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(cfg)
			a.log.Info("config reloaded")
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return ignoreCanceled(a.cfgm.Watch(c))
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a committed config into the live components.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logxConfig(cfg.Logging))

	policy, err := cfg.Autorun.Policy()
	if err != nil {
		// Load and Watch both validate before commit.
		a.log.Warn("autorun policy invalid, keeping previous", logx.Err(err))
		return
	}
	a.orch.Apply(cfg.Reservations, policy)

	// A disabled autorun section parks the scheduler idle; manual and
	// IPC-triggered runs keep working.
	if cfg.Autorun.Enabled {
		a.sched.Apply(cfg.Reservations, policy)
	} else {
		a.sched.Apply(nil, policy)
	}
}

// RunConfig performs one manual run of the named config and returns its
// outcome. Used by the -run CLI path.
func (a *App) RunConfig(ctx context.Context, id string) (domain.RunOutcome, error) {
	cfg := a.cfgm.Get()
	for _, r := range cfg.Reservations {
		if r.ID == id {
			return a.orch.RunSingle(ctx, r, domain.RunManual), nil
		}
	}
	return domain.RunOutcome{}, fmt.Errorf("unknown reservation config %q", id)
}

// RunAll performs one manual run of every configured reservation.
func (a *App) RunAll(ctx context.Context) []domain.RunOutcome {
	return a.orch.RunMultiple(ctx, a.cfgm.Get().Reservations, domain.RunManual)
}

// CheckDue runs the autorun due check once. Used by the -trigger CLI
// path when no daemon is listening.
func (a *App) CheckDue(ctx context.Context) ([]domain.RunOutcome, error) {
	return a.orch.CheckDue(ctx)
}

func (a *App) Stop(ctx context.Context, reason string) error {
	if a.sup == nil {
		return a.closeResources()
	}
	a.log.Info("stopping", logx.String("reason", reason))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			} else {
				a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Orchestrator first: tears down in-flight browser sessions and
	// mailbox connections, marks their runs aborted.
	step("orchestrator", 5*time.Second, func(context.Context) error {
		a.orch.EmergencyCleanup("aborted: " + reason)
		return nil
	})
	step("ipc", time.Second, func(context.Context) error { return a.ipcSrv.Close() })
	step("os-trigger", time.Second, func(context.Context) error { return a.trigger.Close() })
	if a.store != nil {
		step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })
	}
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	_ = a.logs.Close()
	return nil
}

// closeResources releases everything New acquired. Used when the app
// was built but never started (one-shot CLI paths).
func (a *App) closeResources() error {
	var first error
	if err := a.trigger.Close(); err != nil && first == nil {
		first = err
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && first == nil {
			first = err
		}
	}
	_ = a.logs.Close()
	return first
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func logxConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
	}
}

func storageConfig(c *config.StorageConfig) (storage.Config, error) {
	if c == nil {
		return storage.Config{}, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", c.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: c.Driver, Path: c.Path, BusyTimeout: busy}, nil
}

// vaultRetriever defers the mailbox credential lookup to the moment a
// code challenge actually appears, so the daemon can start before the
// vault is populated.
type vaultRetriever struct {
	cfgm  *config.Manager
	vault config.CredentialSource
	log   logx.Logger
}

func (r *vaultRetriever) Retrieve(ctx context.Context, since time.Time) (string, error) {
	cfg := r.cfgm.Get()
	kind := strings.TrimSpace(cfg.Mailbox.CredentialKind)
	if kind == "" {
		kind = "mailbox"
	}
	creds, err := r.vault.Lookup(kind)
	if err != nil {
		return "", fmt.Errorf("mailbox credentials: %w", err)
	}
	mr, err := automation.NewMailboxRetriever(cfg.Mailbox, creds, r.log)
	if err != nil {
		return "", err
	}
	return mr.Retrieve(ctx, since)
}

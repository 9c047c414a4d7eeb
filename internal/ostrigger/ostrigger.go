// Package ostrigger registers a durable OS-level trigger for the next
// autorun instant. If the daemon is down when the instant arrives, the
// OS starts a short-lived `courtbot -trigger` process, which pokes a
// live daemon over IPC or exits without side effects.
package ostrigger

import (
	"context"
	"time"

	"courtbot/internal/config"
	"courtbot/pkg/logx"
)

const defaultUnitName = "courtbot-autorun"

// Registry manages the single named OS trigger entry. Register replaces
// any previous registration.
type Registry interface {
	Register(ctx context.Context, at time.Time) error
	Query(ctx context.Context) (at time.Time, ok bool, err error)
	Unregister(ctx context.Context) error
	Close() error
}

// New builds the platform registry; disabled config yields a no-op.
func New(cfg config.OSTriggerConfig, log logx.Logger) (Registry, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	unit := cfg.UnitName
	if unit == "" {
		unit = defaultUnitName
	}
	return newPlatformRegistry(unit, cfg.UserScope, log.With(logx.String("component", "ostrigger")))
}

// Nop is the registry used when OS triggers are disabled or unsupported;
// the in-process backstop poll remains the only durability layer.
type Nop struct{}

func (Nop) Register(context.Context, time.Time) error      { return nil }
func (Nop) Query(context.Context) (time.Time, bool, error) { return time.Time{}, false, nil }
func (Nop) Unregister(context.Context) error               { return nil }
func (Nop) Close() error                                   { return nil }

//go:build linux

package ostrigger

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"

	"courtbot/pkg/logx"
)

// systemdRegistry keeps one transient systemd timer pointing at the next
// autorun instant. Registration shells out to systemd-run because the
// D-Bus transient-unit API cannot attach the auxiliary service unit a
// timer needs; query and teardown go over D-Bus.
type systemdRegistry struct {
	unit      string
	userScope bool
	log       logx.Logger

	mu   sync.Mutex
	conn *dbus.Conn
}

func newPlatformRegistry(unit string, userScope bool, log logx.Logger) (Registry, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	if userScope {
		conn, err = dbus.NewUserConnectionContext(context.Background())
	} else {
		conn, err = dbus.NewSystemConnectionContext(context.Background())
	}
	if err != nil {
		return nil, fmt.Errorf("connect to systemd: %w", err)
	}
	return &systemdRegistry{unit: unit, userScope: userScope, log: log, conn: conn}, nil
}

func (r *systemdRegistry) timerUnit() string { return r.unit + ".timer" }

// Register replaces the trigger entry with one firing at `at`. The timer
// re-invokes this binary with -trigger, which talks to a live daemon over
// IPC or exits quietly.
func (r *systemdRegistry) Register(ctx context.Context, at time.Time) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	// A still-pending previous registration must go first; systemd-run
	// refuses to reuse a live unit name.
	if err := r.stopUnits(ctx); err != nil {
		r.log.Debug("previous trigger teardown", logx.Err(err))
	}

	args := []string{
		"--collect",
		"--timer-property=AccuracySec=1s",
		"--on-calendar=" + at.Format("2006-01-02 15:04:05"),
		"--unit=" + r.unit,
	}
	if r.userScope {
		args = append([]string{"--user"}, args...)
	}
	args = append(args, exe, "-trigger")

	cmd := exec.CommandContext(ctx, "systemd-run", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("systemd-run: %w: %s", err, strings.TrimSpace(string(out)))
	}
	r.log.Info("os trigger registered",
		logx.String("unit", r.timerUnit()),
		logx.Time("at", at))
	return nil
}

// Query reports the timer's next elapse instant, if one is registered.
func (r *systemdRegistry) Query(ctx context.Context) (time.Time, bool, error) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return time.Time{}, false, fmt.Errorf("systemd connection is closed")
	}

	props, err := conn.GetUnitPropertiesContext(ctx, r.timerUnit())
	if err != nil {
		if isNoSuchUnitErr(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("query %s: %w", r.timerUnit(), err)
	}
	if load, _ := props["LoadState"].(string); load == "not-found" {
		return time.Time{}, false, nil
	}
	usec, _ := props["NextElapseUSecRealtime"].(uint64)
	if usec == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMicro(int64(usec)), true, nil
}

func (r *systemdRegistry) Unregister(ctx context.Context) error {
	if err := r.stopUnits(ctx); err != nil {
		return err
	}
	r.log.Debug("os trigger unregistered", logx.String("unit", r.timerUnit()))
	return nil
}

func (r *systemdRegistry) stopUnits(ctx context.Context) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("systemd connection is closed")
	}

	var firstErr error
	for _, unit := range []string{r.timerUnit(), r.unit + ".service"} {
		if _, err := conn.StopUnitContext(ctx, unit, "replace", nil); err != nil && !isNoSuchUnitErr(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", unit, err)
			}
		}
	}
	return firstErr
}

func (r *systemdRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	return nil
}

func isNoSuchUnitErr(err error) bool {
	if err == nil {
		return false
	}
	es := err.Error()
	if strings.Contains(es, "NoSuchUnit") {
		return true
	}
	return strings.Contains(es, "not-found") || strings.Contains(es, "not loaded")
}

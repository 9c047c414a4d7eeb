package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"courtbot/internal/domain"
	"courtbot/internal/orchestrator"
	"courtbot/internal/timerules"
)

// ipcHandler answers trigger/status commands arriving on the unix
// socket from a short-lived courtbot process.
type ipcHandler struct {
	app *App
}

func (h ipcHandler) TriggerDue(ctx context.Context) (string, error) {
	outcomes, err := h.app.orch.CheckDue(ctx)
	if errors.Is(err, orchestrator.ErrCheckInFlight) {
		return "a due check is already running", nil
	}
	if err != nil {
		return "", err
	}
	if len(outcomes) == 0 {
		return "no configs due", nil
	}
	ok := 0
	for _, o := range outcomes {
		if o.Success {
			ok++
		}
	}
	return fmt.Sprintf("ran %d config(s), %d succeeded", len(outcomes), ok), nil
}

func (h ipcHandler) StatusText(ctx context.Context) (string, error) {
	cfg := h.app.cfgm.Get()
	if len(cfg.Reservations) == 0 {
		return "no reservations configured", nil
	}
	policy, err := cfg.Autorun.Policy()
	if err != nil {
		policy = domain.DefaultPolicy()
	}

	byID := map[string]domain.RunStatus{}
	for _, st := range h.app.orch.Status().All() {
		byID[st.ConfigID] = st
	}

	now := time.Now()
	var b strings.Builder
	for _, r := range cfg.Reservations {
		state := domain.StateIdle
		reason := ""
		if st, ok := byID[r.ID]; ok {
			state = st.State
			reason = st.Reason
		}
		fmt.Fprintf(&b, "%s: %s", r.ID, state)
		if reason != "" {
			fmt.Fprintf(&b, " (%s)", reason)
		}
		if cfg.Autorun.Enabled && r.Enabled {
			if next, ok := timerules.NextAutorunInstant(r, policy, now); ok {
				fmt.Fprintf(&b, " [next autorun %s]", next.Format("2006-01-02 15:04:05"))
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

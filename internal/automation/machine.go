// Package automation sequences one reservation attempt end to end: open
// the facility page, pick the activity and slots, fill the contact form,
// submit, and clear the optional email code challenge.
package automation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"courtbot/internal/browser"
	"courtbot/internal/domain"
	"courtbot/pkg/logx"
)

// State names one position in the booking flow. Failures are terminal
// within a run; retries happen only at the next trigger.
type State string

const (
	StateStart                State = "start"
	StateNavigatedToFacility  State = "navigated_to_facility"
	StateSportSelected        State = "sport_selected"
	StateContactFormFilled    State = "contact_form_filled"
	StateSubmitted            State = "submitted"
	StateAwaitingVerification State = "awaiting_verification"
	StateCodeRetrieved        State = "code_retrieved"
	StateConfirmed            State = "confirmed"
	StateDone                 State = "done"
)

// StepError records where a run failed: the state being entered and the
// selector in play, so a markup change is diagnosable from the log alone.
type StepError struct {
	State    State
	Selector string
	Err      error
}

func (e *StepError) Error() string {
	if e.Selector != "" {
		return fmt.Sprintf("step %s (%s): %v", e.State, e.Selector, e.Err)
	}
	return fmt.Sprintf("step %s: %v", e.State, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// SessionFactory opens a fresh browser session. The machine owns the
// session for exactly one run and always closes it.
type SessionFactory func(ctx context.Context) (browser.Session, error)

// Result reports how far a run got.
type Result struct {
	State    State
	Verified bool // a code challenge was presented and cleared
}

// Machine drives the booking flow. Safe to share across runs; per-run
// state lives on the stack of Run.
type Machine struct {
	newSession SessionFactory
	verifier   CodeRetriever
	sel        Selectors
	log        logx.Logger
}

func New(newSession SessionFactory, verifier CodeRetriever, log logx.Logger) *Machine {
	return &Machine{
		newSession: newSession,
		verifier:   verifier,
		sel:        DefaultSelectors(),
		log:        log.With(logx.String("component", "automation")),
	}
}

// WithSelectors overrides the site selector set; used by tests and kept
// for the day the site reworks its markup.
func (m *Machine) WithSelectors(sel Selectors) *Machine {
	cp := *m
	cp.sel = sel
	return &cp
}

// Run books cfg's slots for the given reservation day. Strictly
// sequential; the first failing step aborts the run with a StepError.
func (m *Machine) Run(ctx context.Context, cfg domain.ReservationConfig, day time.Time, slots []domain.TimeSlot) (Result, error) {
	res := Result{State: StateStart}
	log := m.log.With(logx.String("config", cfg.ID))

	sess, err := m.newSession(ctx)
	if err != nil {
		return res, &StepError{State: StateStart, Err: err}
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn("session close failed", logx.Err(cerr))
		}
	}()

	step := func(next State, selector string, fn func() error) error {
		if err := fn(); err != nil {
			return &StepError{State: next, Selector: selector, Err: err}
		}
		res.State = next
		log.Debug("step done", logx.String("state", string(next)))
		return nil
	}

	if err := step(StateNavigatedToFacility, "", func() error {
		return sess.Navigate(ctx, cfg.FacilityURL)
	}); err != nil {
		return res, err
	}

	if err := step(StateSportSelected, m.sel.ActivitySelect, func() error {
		if err := sess.SelectOption(ctx, m.sel.ActivitySelect, cfg.Activity); err != nil {
			return err
		}
		date := day.Format("2006-01-02")
		for _, slot := range slots {
			if err := sess.Click(ctx, m.sel.SlotSelector(date, slot.String())); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return res, err
	}

	if err := step(StateContactFormFilled, m.sel.NameInput, func() error {
		if err := sess.SelectOption(ctx, m.sel.PartySizeSelect, strconv.Itoa(cfg.PartySize)); err != nil {
			return err
		}
		if err := sess.Type(ctx, m.sel.NameInput, cfg.Contact.Name); err != nil {
			return err
		}
		if err := sess.Type(ctx, m.sel.PhoneInput, cfg.Contact.Phone); err != nil {
			return err
		}
		if cfg.Contact.Email != "" {
			return sess.Type(ctx, m.sel.EmailInput, cfg.Contact.Email)
		}
		return nil
	}); err != nil {
		return res, err
	}

	// Submission instant doubles as the mail cutoff: a code from a
	// previous run predates it and is never accepted.
	submittedAt := time.Now()
	if err := step(StateSubmitted, m.sel.SubmitButton, func() error {
		return sess.Click(ctx, m.sel.SubmitButton)
	}); err != nil {
		return res, err
	}

	challenged, err := m.codeChallengePresent(ctx, sess)
	if err != nil {
		return res, &StepError{State: StateSubmitted, Selector: m.sel.CodeInput, Err: err}
	}

	if challenged {
		res.State = StateAwaitingVerification
		code, err := m.verifier.Retrieve(ctx, submittedAt)
		if err != nil {
			return res, &StepError{State: StateAwaitingVerification, Err: err}
		}
		res.State = StateCodeRetrieved
		res.Verified = true

		if err := step(StateConfirmed, m.sel.CodeInput, func() error {
			if err := sess.Type(ctx, m.sel.CodeInput, code); err != nil {
				return err
			}
			return sess.Click(ctx, m.sel.CodeConfirm)
		}); err != nil {
			return res, err
		}
	} else {
		res.State = StateConfirmed
	}

	if err := step(StateDone, m.sel.ConfirmMarker, func() error {
		return sess.WaitVisible(ctx, m.sel.ConfirmMarker)
	}); err != nil {
		return res, err
	}

	log.Info("reservation confirmed",
		logx.String("day", day.Format("2006-01-02")),
		logx.Int("slots", len(slots)),
		logx.Bool("verified", res.Verified))
	return res, nil
}

// codeChallengePresent asks the post-submit page whether the code input
// is in the DOM. Presence of the element, not visibility, is the signal
// the site uses.
func (m *Machine) codeChallengePresent(ctx context.Context, sess browser.Session) (bool, error) {
	js := fmt.Sprintf(`!!document.querySelector(%q)`, m.sel.CodeInput)
	var present bool
	if err := sess.Evaluate(ctx, js, &present); err != nil {
		return false, err
	}
	return present, nil
}

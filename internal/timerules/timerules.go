// Package timerules holds the pure calendar math behind autorun scheduling.
//
// The booking site opens each day's reservation window a fixed number of
// days ahead, so an autorun for a weekday slot must fire PriorDays before
// that weekday, at the policy's trigger time. Everything here is a pure
// function of (config, policy, now); no clocks, no state.
package timerules

import (
	"time"

	"courtbot/internal/domain"
)

// daysUntil returns how many calendar days from `day` until the next
// occurrence of `target` (same-day counts as 0).
func daysUntil(day time.Time, target time.Weekday) int {
	return (int(target) - int(day.Weekday()) + 7) % 7
}

// midnight truncates t to its calendar day.
func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// NextAutorunInstant reports whether today is an autorun day for cfg under
// policy, and if so at which instant the trigger fires. For each weekday
// carrying slots, the next occurrence at-or-after now minus PriorDays must
// land on today's calendar day. When several weekdays land on today, any
// one match suffices; the returned instant is the same either way.
func NextAutorunInstant(cfg domain.ReservationConfig, policy domain.AutorunPolicy, now time.Time) (time.Time, bool) {
	policy = policy.Normalized()
	for day := range cfg.WeekdaySlots() {
		if daysUntil(now, day) == policy.PriorDays {
			return policy.TriggerTime.At(now), true
		}
	}
	return time.Time{}, false
}

// IsDueNow reports whether cfg should run right now: today is an autorun
// day and now is within DueTolerance of the trigger time. Disabled configs
// are never due.
func IsDueNow(cfg domain.ReservationConfig, policy domain.AutorunPolicy, now time.Time) bool {
	if !cfg.Enabled {
		return false
	}
	policy = policy.Normalized()
	trigger, ok := NextAutorunInstant(cfg, policy, now)
	if !ok {
		return false
	}
	diff := now.Sub(trigger)
	if diff < 0 {
		diff = -diff
	}
	return diff <= policy.DueTolerance
}

// DueConfigs filters the configs due at `now`.
func DueConfigs(cfgs []domain.ReservationConfig, policy domain.AutorunPolicy, now time.Time) []domain.ReservationConfig {
	var due []domain.ReservationConfig
	for _, c := range cfgs {
		if IsDueNow(c, policy, now) {
			due = append(due, c)
		}
	}
	return due
}

// ReservationDay returns the calendar day a trigger firing at `now` books
// for: PriorDays ahead, at midnight.
func ReservationDay(policy domain.AutorunPolicy, now time.Time) time.Time {
	return midnight(now).AddDate(0, 0, policy.Normalized().PriorDays)
}

// NextReservationDay finds the nearest upcoming day (same-day counts) for
// which cfg has slots. Manual runs book this day regardless of the autorun
// calendar.
func NextReservationDay(cfg domain.ReservationConfig, now time.Time) (time.Time, bool) {
	best := -1
	for day := range cfg.WeekdaySlots() {
		if d := daysUntil(now, day); best < 0 || d < best {
			best = d
		}
	}
	if best < 0 {
		return time.Time{}, false
	}
	return midnight(now).AddDate(0, 0, best), true
}

// NextArmInstant computes the earliest upcoming trigger instant across all
// enabled configs, strictly after now. Used by the scheduler to arm its
// precise one-shot timer. The scan window is 8 days: with PriorDays in
// 0..6 every weekday's autorun day falls inside it.
func NextArmInstant(cfgs []domain.ReservationConfig, policy domain.AutorunPolicy, now time.Time) (time.Time, bool) {
	policy = policy.Normalized()
	for ahead := 0; ahead <= 7; ahead++ {
		day := midnight(now).AddDate(0, 0, ahead)
		instant := policy.TriggerTime.At(day)
		if !instant.After(now) {
			continue
		}
		for _, c := range cfgs {
			if !c.Enabled {
				continue
			}
			if _, ok := NextAutorunInstant(c, policy, instant); ok {
				return instant, true
			}
		}
	}
	return time.Time{}, false
}

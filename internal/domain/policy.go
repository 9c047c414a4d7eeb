package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Defaults for AutorunPolicy.
const (
	DefaultPriorDays    = 2
	DefaultDueTolerance = 2 * time.Second
)

// DefaultTriggerTime is 18:00:00, when the booking site opens the window
// for new reservations.
var DefaultTriggerTime = TimeOfDay{Hour: 18}

// TimeOfDay is a wall-clock time with second precision ("HH:MM:SS" on the
// wire; "HH:MM" is accepted and means :00).
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// At pins the time of day to a calendar day.
func (t TimeOfDay) At(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, t.Second, 0, day.Location())
}

// SecondsFromMidnight is used for tolerance comparisons.
func (t TimeOfDay) SecondsFromMidnight() int {
	return t.Hour*3600 + t.Minute*60 + t.Second
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	td, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = td
	return nil
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM[:SS]", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	sec := 0
	if len(parts) == 3 {
		sec, err = strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return TimeOfDay{}, fmt.Errorf("invalid second in %q", s)
		}
	}
	return TimeOfDay{Hour: h, Minute: m, Second: sec}, nil
}

// AutorunPolicy carries the global timing parameters: when during the day
// the autorun fires and how many days ahead of the reservation weekday.
type AutorunPolicy struct {
	// TriggerTime is the daily autorun clock time.
	TriggerTime TimeOfDay `json:"trigger_time"`
	// PriorDays is how many calendar days before the reservation weekday
	// the trigger must fire.
	PriorDays int `json:"prior_days"`
	// DueTolerance absorbs timer jitter around TriggerTime.
	DueTolerance time.Duration `json:"-"`
}

// DefaultPolicy returns the policy used when the config omits overrides.
func DefaultPolicy() AutorunPolicy {
	return AutorunPolicy{
		TriggerTime:  DefaultTriggerTime,
		PriorDays:    DefaultPriorDays,
		DueTolerance: DefaultDueTolerance,
	}
}

func (p AutorunPolicy) Validate() error {
	if p.PriorDays < 0 || p.PriorDays > 6 {
		return fmt.Errorf("prior_days must be 0..6, got %d", p.PriorDays)
	}
	if p.DueTolerance < 0 {
		return fmt.Errorf("due tolerance must be >= 0")
	}
	return nil
}

func (p AutorunPolicy) withDefaults() AutorunPolicy {
	if p.DueTolerance == 0 {
		p.DueTolerance = DefaultDueTolerance
	}
	return p
}

// Normalized applies defaults for zero-valued fields.
func (p AutorunPolicy) Normalized() AutorunPolicy { return p.withDefaults() }

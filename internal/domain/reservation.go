package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Limits for ReservationConfig fields. The booking site rejects parties
// larger than 8 and only ever offers two bookable slots per day.
const (
	MinPartySize      = 1
	MaxPartySize      = 8
	MaxSlotsPerDay    = 2
	weekdayNameFormat = "monday..sunday (lowercase)"
)

// TimeSlot is a clock time (hour:minute) with no date component. It is
// combined with a concrete calendar day only when a run is evaluated.
//
// On the wire it is the string "HH:MM".
type TimeSlot struct {
	Hour   int
	Minute int
}

func (t TimeSlot) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ID returns a stable identity for the slot within one weekday.
func (t TimeSlot) ID(day time.Weekday) string {
	return strings.ToLower(day.String()) + "@" + t.String()
}

// At pins the slot to a calendar day.
func (t TimeSlot) At(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, 0, 0, day.Location())
}

func (t TimeSlot) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeSlot) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	ts, err := ParseTimeSlot(s)
	if err != nil {
		return err
	}
	*t = ts
	return nil
}

// ParseTimeSlot parses "HH:MM" (seconds are not accepted; the site books
// on whole minutes).
func ParseTimeSlot(s string) (TimeSlot, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return TimeSlot{}, fmt.Errorf("invalid time slot %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeSlot{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeSlot{}, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeSlot{Hour: h, Minute: m}, nil
}

// Contact is the information typed into the booking form.
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

// ReservationConfig describes one automation target. It is owned by the
// external configuration store and passed into the core by value.
type ReservationConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	FacilityURL string `json:"facility_url"`
	Activity    string `json:"activity"`
	PartySize   int    `json:"party_size"`
	Enabled     bool   `json:"enabled"`

	// Slots maps lowercase weekday names ("monday".."sunday") to the
	// bookable clock times for that day.
	Slots map[string][]TimeSlot `json:"slots"`

	Contact Contact `json:"contact"`
}

var weekdayByName = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday maps a lowercase weekday name to time.Weekday.
func ParseWeekday(name string) (time.Weekday, error) {
	d, ok := weekdayByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("invalid weekday %q, expected %s", name, weekdayNameFormat)
	}
	return d, nil
}

func (c ReservationConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("id required")
	}
	if strings.TrimSpace(c.FacilityURL) == "" {
		return fmt.Errorf("facility_url required")
	}
	if strings.TrimSpace(c.Activity) == "" {
		return fmt.Errorf("activity required")
	}
	if c.PartySize < MinPartySize || c.PartySize > MaxPartySize {
		return fmt.Errorf("party_size must be %d..%d, got %d", MinPartySize, MaxPartySize, c.PartySize)
	}
	for name, slots := range c.Slots {
		if _, err := ParseWeekday(name); err != nil {
			return err
		}
		if len(slots) > MaxSlotsPerDay {
			return fmt.Errorf("%s: at most %d slots per weekday", name, MaxSlotsPerDay)
		}
		seen := map[string]bool{}
		for _, s := range slots {
			if seen[s.String()] {
				return fmt.Errorf("%s: duplicate slot %s", name, s)
			}
			seen[s.String()] = true
		}
	}
	return nil
}

// WeekdaySlots returns the slot mapping keyed by time.Weekday, slots sorted
// by clock time. Weekdays without slots are absent.
func (c ReservationConfig) WeekdaySlots() map[time.Weekday][]TimeSlot {
	out := make(map[time.Weekday][]TimeSlot, len(c.Slots))
	for name, slots := range c.Slots {
		d, err := ParseWeekday(name)
		if err != nil || len(slots) == 0 {
			continue
		}
		cp := append([]TimeSlot(nil), slots...)
		sort.Slice(cp, func(i, j int) bool {
			if cp[i].Hour != cp[j].Hour {
				return cp[i].Hour < cp[j].Hour
			}
			return cp[i].Minute < cp[j].Minute
		})
		out[d] = cp
	}
	return out
}

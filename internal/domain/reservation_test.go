package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func validConfig() ReservationConfig {
	return ReservationConfig{
		ID:          "court-a",
		Name:        "Court A",
		FacilityURL: "https://booking.example.net/court-a",
		Activity:    "tennis",
		PartySize:   2,
		Enabled:     true,
		Slots: map[string][]TimeSlot{
			"saturday": {{Hour: 10}, {Hour: 14}},
			"sunday":   {{Hour: 9, Minute: 30}},
		},
		Contact: Contact{Name: "Jo Park", Phone: "010-1234-5678"},
	}
}

func TestParseTimeSlot(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    TimeSlot
		wantErr bool
	}{
		{in: "10:00", want: TimeSlot{Hour: 10}},
		{in: "09:30", want: TimeSlot{Hour: 9, Minute: 30}},
		{in: " 23:59 ", want: TimeSlot{Hour: 23, Minute: 59}},
		{in: "24:00", wantErr: true},
		{in: "10:60", wantErr: true},
		{in: "10:00:00", wantErr: true},
		{in: "ten", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseTimeSlot(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseTimeSlot(%q) succeeded, want error", tc.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTimeSlot(%q) err = %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("ParseTimeSlot(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestReservationConfigValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*ReservationConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(*ReservationConfig) {}},
		{name: "missing id", mutate: func(c *ReservationConfig) { c.ID = " " }, wantErr: true},
		{name: "missing url", mutate: func(c *ReservationConfig) { c.FacilityURL = "" }, wantErr: true},
		{name: "missing activity", mutate: func(c *ReservationConfig) { c.Activity = "" }, wantErr: true},
		{name: "party too small", mutate: func(c *ReservationConfig) { c.PartySize = 0 }, wantErr: true},
		{name: "party too large", mutate: func(c *ReservationConfig) { c.PartySize = 9 }, wantErr: true},
		{name: "bad weekday", mutate: func(c *ReservationConfig) {
			c.Slots["caturday"] = []TimeSlot{{Hour: 10}}
		}, wantErr: true},
		{name: "too many slots", mutate: func(c *ReservationConfig) {
			c.Slots["monday"] = []TimeSlot{{Hour: 9}, {Hour: 10}, {Hour: 11}}
		}, wantErr: true},
		{name: "duplicate slot", mutate: func(c *ReservationConfig) {
			c.Slots["monday"] = []TimeSlot{{Hour: 10}, {Hour: 10}}
		}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("Validate() succeeded, want error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("Validate() err = %v", err)
			}
		})
	}
}

// Encoding then decoding must preserve the weekday→slots mapping as a
// set of (weekday, time) pairs and keep it valid.
func TestReservationConfigRoundTrip(t *testing.T) {
	t.Parallel()

	in := validConfig()
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() err = %v", err)
	}

	var out ReservationConfig
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("Unmarshal() err = %v", err)
	}
	if err := out.Validate(); err != nil {
		t.Fatalf("round-tripped config invalid: %v", err)
	}

	want := map[string]bool{}
	for day, slots := range in.Slots {
		for _, s := range slots {
			want[day+" "+s.String()] = true
		}
	}
	got := map[string]bool{}
	for day, slots := range out.Slots {
		for _, s := range slots {
			key := day + " " + s.String()
			if got[key] {
				t.Fatalf("duplicate slot %s after round trip", key)
			}
			got[key] = true
		}
	}
	if len(got) != len(want) {
		t.Fatalf("slot set = %v, want %v", got, want)
	}
	for key := range want {
		if !got[key] {
			t.Fatalf("slot %s lost in round trip", key)
		}
	}
}

func TestTimeSlotAt(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 8, 22, 17, 45, 12, 0, time.Local)
	got := TimeSlot{Hour: 10, Minute: 30}.At(day)
	want := time.Date(2026, 8, 22, 10, 30, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Fatalf("At() = %v, want %v", got, want)
	}
}

func TestWeekdaySlotsSorted(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Slots["saturday"] = []TimeSlot{{Hour: 14}, {Hour: 10}}

	byDay := cfg.WeekdaySlots()
	sat := byDay[time.Saturday]
	if len(sat) != 2 || sat[0].Hour != 10 || sat[1].Hour != 14 {
		t.Fatalf("saturday slots = %v, want sorted by clock time", sat)
	}
	if _, ok := byDay[time.Monday]; ok {
		t.Fatalf("weekday without slots present in mapping")
	}
}

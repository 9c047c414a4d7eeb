package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"courtbot/internal/domain"
)

const sampleYAML = `
logging:
  level: debug
  console: true
autorun:
  enabled: true
  trigger_time: "18:00:00"
  prior_days: 2
  due_tolerance: "2s"
browser:
  headless: true
mailbox:
  provider: imap
  host: imap.example.test
  tls: true
  credential_kind: mailbox
reservations:
  - id: court-a
    name: Saturday badminton
    facility_url: https://example.test/facility/12
    activity: badminton
    party_size: 4
    enabled: true
    slots:
      saturday: ["10:00", "14:00"]
      sunday: ["09:30"]
    contact:
      name: Kim
      phone: "010-0000-0000"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Reservations) != 1 {
		t.Fatalf("reservations = %d, want 1", len(cfg.Reservations))
	}
	r := cfg.Reservations[0]
	if r.ID != "court-a" || r.PartySize != 4 || !r.Enabled {
		t.Fatalf("unexpected reservation: %+v", r)
	}
	slots := r.WeekdaySlots()
	if got := len(slots[time.Saturday]); got != 2 {
		t.Fatalf("saturday slots = %d, want 2", got)
	}
	if slots[time.Saturday][0].String() != "10:00" {
		t.Fatalf("slots not sorted: %v", slots[time.Saturday])
	}

	policy, err := cfg.Autorun.Policy()
	if err != nil {
		t.Fatalf("Policy: %v", err)
	}
	if policy.TriggerTime.Hour != 18 || policy.PriorDays != 2 || policy.DueTolerance != 2*time.Second {
		t.Fatalf("unexpected policy: %+v", policy)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, sampleYAML+"\nbogus_section:\n  x: 1\n"))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected unknown-field error")
	}
}

func TestLoadRejectsDuplicateSlot(t *testing.T) {
	t.Parallel()
	bad := `
logging: {level: info, console: true}
autorun: {enabled: true}
browser: {}
mailbox: {provider: imap, host: h, tls: true, credential_kind: mailbox}
reservations:
  - id: x
    facility_url: https://example.test/f
    activity: tennis
    party_size: 2
    enabled: true
    slots:
      monday: ["10:00", "10:00"]
`
	m := NewManager(writeConfig(t, bad))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected duplicate-slot error")
	}
}

// Encoding then decoding a reservation must preserve the (weekday, time)
// pairs and keep the no-duplicate invariant checkable.
func TestReservationRoundTrip(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	orig := cfg.Reservations[0]

	b, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back domain.ReservationConfig
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := back.Validate(); err != nil {
		t.Fatalf("round-tripped config invalid: %v", err)
	}

	want := orig.WeekdaySlots()
	got := back.WeekdaySlots()
	if len(got) != len(want) {
		t.Fatalf("weekday count = %d, want %d", len(got), len(want))
	}
	for day, ws := range want {
		gs := got[day]
		if len(gs) != len(ws) {
			t.Fatalf("%v: slot count = %d, want %d", day, len(gs), len(ws))
		}
		// WeekdaySlots sorts, so order-insensitive equality reduces to this.
		for i := range ws {
			if gs[i] != ws[i] {
				t.Fatalf("%v[%d] = %v, want %v", day, i, gs[i], ws[i])
			}
		}
	}
}

func TestFileVaultPermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds.yaml")
	body := "mailbox:\n  address: bot@example.test\n  secret: hunter2\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	v := NewFileVault(path)
	if _, err := v.Lookup("mailbox"); err == nil {
		t.Fatal("expected permission error for 0644 vault file")
	}
	if err := os.Chmod(path, 0o600); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	c, err := v.Lookup("mailbox")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if c.Address != "bot@example.test" || c.Secret != "hunter2" {
		t.Fatalf("unexpected credentials: %+v", c)
	}
	if _, err := v.Lookup("unknown"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

package config

import (
	"fmt"
	"strings"

	"courtbot/internal/domain"
)

// Config is the single on-disk configuration document (YAML or JSON).
//
// ReservationConfig entries and the autorun policy are owned by the
// external configuration editor; the core treats them as read-only input.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Autorun AutorunConfig `json:"autorun"`
	Browser BrowserConfig `json:"browser"`
	Mailbox MailboxConfig `json:"mailbox"`

	Storage   *StorageConfig  `json:"storage,omitempty"`
	Notify    *NotifyConfig   `json:"notify,omitempty"`
	IPC       IPCConfig       `json:"ipc,omitempty"`
	OSTrigger OSTriggerConfig `json:"os_trigger,omitempty"`

	Reservations []domain.ReservationConfig `json:"reservations"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// AutorunConfig controls when unattended runs fire.
//
// All durations are Go duration strings (e.g. "2s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - trigger_time: "18:00:00"
//   - prior_days: 2
//   - due_tolerance: "2s"
//   - backstop_interval: "1m"
type AutorunConfig struct {
	Enabled     bool   `json:"enabled"`
	TriggerTime string `json:"trigger_time,omitempty"`
	PriorDays   *int   `json:"prior_days,omitempty"`

	// DueTolerance absorbs timer jitter around the trigger time.
	DueTolerance string `json:"due_tolerance,omitempty"`

	// BackstopInterval is the low-frequency re-check covering missed
	// precise fires (clock changes, sleep/wake).
	BackstopInterval string `json:"backstop_interval,omitempty"`
}

// Policy resolves the autorun section into a domain policy.
func (a AutorunConfig) Policy() (domain.AutorunPolicy, error) {
	p := domain.DefaultPolicy()
	if s := strings.TrimSpace(a.TriggerTime); s != "" {
		t, err := domain.ParseTimeOfDay(s)
		if err != nil {
			return p, fmt.Errorf("autorun.trigger_time: %w", err)
		}
		p.TriggerTime = t
	}
	if a.PriorDays != nil {
		p.PriorDays = *a.PriorDays
	}
	tol, err := ParseDurationOrDefault("autorun.due_tolerance", a.DueTolerance, domain.DefaultDueTolerance)
	if err != nil {
		return p, err
	}
	p.DueTolerance = tol
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("autorun: %w", err)
	}
	return p, nil
}

// BrowserConfig controls the embedded Chrome session.
//
// Headless is a pointer so "omitted" (default true) is distinguishable
// from an explicit false (useful when debugging a booking flow visually).
type BrowserConfig struct {
	Headless *bool  `json:"headless,omitempty"`
	ExecPath string `json:"exec_path,omitempty"`

	UserAgent    string `json:"user_agent,omitempty"`
	WindowWidth  int    `json:"window_width,omitempty"`
	WindowHeight int    `json:"window_height,omitempty"`

	// PageLoadTimeout bounds Navigate; ElementTimeout bounds waits for
	// selectors to appear/click.
	PageLoadTimeout string `json:"page_load_timeout,omitempty"`
	ElementTimeout  string `json:"element_timeout,omitempty"`
}

// MailboxConfig selects and tunes the verification-mail retrieval path.
type MailboxConfig struct {
	// Provider is "imap" or "pop3".
	Provider string `json:"provider"`
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	TLS      bool   `json:"tls"`

	// CredentialKind names the vault entry holding address/secret.
	CredentialKind string `json:"credential_kind"`

	// Senders/Keywords feed the verification-mail classifier.
	Senders  []string `json:"senders,omitempty"`
	Keywords []string `json:"keywords,omitempty"`

	// PollInterval/PollTimeout bound the wait-for-code loop; mail
	// delivery is asynchronous and the mailbox has no push channel.
	PollInterval string `json:"poll_interval,omitempty"`
	PollTimeout  string `json:"poll_timeout,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./courtbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// NotifyConfig controls the status notification pipeline.
// If the whole section is omitted, notifications default to enabled.
type NotifyConfig struct {
	Enabled     bool   `json:"enabled"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	DedupWindow string `json:"dedup_window,omitempty"`
}

// IPCConfig names the unix socket a short-lived trigger process uses to
// reach a live daemon.
type IPCConfig struct {
	SocketPath string `json:"socket_path,omitempty"`
}

// OSTriggerConfig controls the durable OS-level trigger registration.
type OSTriggerConfig struct {
	Enabled bool `json:"enabled"`
	// UnitName is the transient systemd unit base name (default "courtbot-autorun").
	UnitName string `json:"unit_name,omitempty"`
	// UserScope registers against the user manager instead of the system one.
	UserScope bool `json:"user_scope,omitempty"`
}

// Validate checks everything that must hold before a config is committed.
func (c *Config) Validate() error {
	if _, err := c.Autorun.Policy(); err != nil {
		return err
	}
	seen := map[string]bool{}
	for i := range c.Reservations {
		r := c.Reservations[i]
		if err := r.Validate(); err != nil {
			return fmt.Errorf("reservations[%d]: %w", i, err)
		}
		if seen[r.ID] {
			return fmt.Errorf("reservations[%d]: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = true
	}
	switch p := strings.ToLower(strings.TrimSpace(c.Mailbox.Provider)); p {
	case "", "imap", "pop3":
	default:
		return fmt.Errorf("mailbox.provider: unknown provider %q", p)
	}
	for _, field := range []struct{ path, raw string }{
		{"autorun.backstop_interval", c.Autorun.BackstopInterval},
		{"browser.page_load_timeout", c.Browser.PageLoadTimeout},
		{"browser.element_timeout", c.Browser.ElementTimeout},
		{"mailbox.poll_interval", c.Mailbox.PollInterval},
		{"mailbox.poll_timeout", c.Mailbox.PollTimeout},
	} {
		if _, err := ParseDurationField(field.path, field.raw); err != nil {
			return err
		}
	}
	return nil
}

package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration-valued config fields (poll intervals, backstop interval,
// browser timeouts) are Go duration strings. An absent field parses to
// zero; the caller decides whether zero means "default" or "disabled".

// ParseDurationField parses one such field, naming it in the error so a
// bad value points at the config line.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault substitutes def for an absent or zero field.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

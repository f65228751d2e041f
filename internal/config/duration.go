package config

import (
	"fmt"
	"strings"
	"time"

	"enel/internal/task/scheduler"
)

// ParseDurationField parses a Go duration such as "750ms" or "1h30m" found at
// path in the config. An empty value is 0; negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField returning def in place of 0.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// ParseCompactField parses the compact task timing form ("1m", "2h", "1d").
// Errors are *scheduler.ConfigError.
func ParseCompactField(path, raw string) (time.Duration, error) {
	d, err := scheduler.ParseDuration(raw)
	if err != nil {
		return 0, &scheduler.ConfigError{Field: path, Err: err}
	}
	return d, nil
}

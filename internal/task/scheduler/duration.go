package scheduler

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var reCompact = regexp.MustCompile(`^(\d+)([A-Za-z]+)$`)

var unitSizes = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
}

// ParseDuration parses "<digits><unit>" where unit is one of s, m, h, d.
//
// "2h" is 7200s and "1d" is 86400s. Input that is not digits followed by
// letters fails with ErrInvalidDurationFormat; an unrecognized unit fails
// with ErrUnknownUnit.
func ParseDuration(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	m := reCompact.FindStringSubmatch(s)
	if len(m) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDurationFormat, raw)
	}
	unit, ok := unitSizes[m[2]]
	if !ok {
		return 0, fmt.Errorf("%w: %q in %q", ErrUnknownUnit, m[2], raw)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n > int64(math.MaxInt64/unit) {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidDurationFormat, raw)
	}
	return time.Duration(n) * unit, nil
}

// FormatDuration renders d in the largest unit that divides it exactly.
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	for _, u := range []struct {
		code string
		size time.Duration
	}{{"d", 24 * time.Hour}, {"h", time.Hour}, {"m", time.Minute}, {"s", time.Second}} {
		if d%u.size == 0 {
			return strconv.FormatInt(int64(d/u.size), 10) + u.code
		}
	}
	return d.String()
}

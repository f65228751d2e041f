package scheduler

import (
	"errors"
	"testing"
	"time"
)

func TestParseDurationUnits(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{raw: "30s", want: 30 * time.Second},
		{raw: "1m", want: time.Minute},
		{raw: "2h", want: 7200 * time.Second},
		{raw: "1d", want: 86400 * time.Second},
		{raw: " 15m ", want: 15 * time.Minute},
		{raw: "0s", want: 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDuration(tt.raw)
			if err != nil {
				t.Fatalf("ParseDuration(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParseDuration(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseDurationErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want error
	}{
		{raw: "2x", want: ErrUnknownUnit},
		{raw: "2H", want: ErrUnknownUnit},
		{raw: "5ms", want: ErrUnknownUnit},
		{raw: "h2", want: ErrInvalidDurationFormat},
		{raw: "2", want: ErrInvalidDurationFormat},
		{raw: "", want: ErrInvalidDurationFormat},
		{raw: "1.5h", want: ErrInvalidDurationFormat},
		{raw: "-1h", want: ErrInvalidDurationFormat},
		{raw: "1h30m", want: ErrInvalidDurationFormat},
		{raw: "99999999999999999999d", want: ErrInvalidDurationFormat},
		{raw: "9999999999d", want: ErrInvalidDurationFormat},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			_, err := ParseDuration(tt.raw)
			if !errors.Is(err, tt.want) {
				t.Fatalf("ParseDuration(%q) error = %v, want %v", tt.raw, err, tt.want)
			}
		})
	}
}

func TestParseDurationPure(t *testing.T) {
	t.Parallel()
	a, errA := ParseDuration("2h")
	b, errB := ParseDuration("2h")
	if a != b || errA != nil || errB != nil {
		t.Fatalf("ParseDuration not referentially transparent: %v/%v %v/%v", a, errA, b, errB)
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()
	tests := map[time.Duration]string{
		0:                       "0s",
		90 * time.Second:        "90s",
		2 * time.Hour:           "2h",
		48 * time.Hour:          "2d",
		61 * time.Minute:        "61m",
		1500 * time.Millisecond: "1.5s",
	}
	for d, want := range tests {
		if got := FormatDuration(d); got != want {
			t.Fatalf("FormatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}

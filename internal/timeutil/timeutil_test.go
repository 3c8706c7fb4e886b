package timeutil

import (
	"testing"
	"time"
)

func TestParseAcceptsBackendVariants(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  time.Time
	}{
		{name: "noFraction", input: "2024-01-01T00:00:00Z", want: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{name: "millis", input: "2024-06-15T14:00:00.000Z", want: time.Date(2024, 6, 15, 14, 0, 0, 0, time.UTC)},
		{name: "micros", input: "2024-01-15T12:30:45.123456Z", want: time.Date(2024, 1, 15, 12, 30, 45, 123456000, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.input)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tc.input, err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("Parse(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "  ", "yesterday", "2024-13-40T00:00:00Z"} {
		if _, err := Parse(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestFormatCanonicalLayout(t *testing.T) {
	moment := time.Date(2024, 1, 15, 12, 30, 45, 123456000, time.UTC)
	if got := Format(moment); got != "2024-01-15T12:30:45.123456Z" {
		t.Fatalf("unexpected stamp %q", got)
	}
}

func TestFormatNormalisesZone(t *testing.T) {
	zone := time.FixedZone("EST", -5*60*60)
	moment := time.Date(2024, 1, 15, 7, 30, 45, 0, zone)
	if got := Format(moment); got != "2024-01-15T12:30:45.000000Z" {
		t.Fatalf("expected UTC stamp, got %q", got)
	}
}

func TestPathSafe(t *testing.T) {
	cases := []struct {
		name string
		in   time.Time
		want string
	}{
		{name: "afternoon", in: time.Date(2024, 1, 15, 14, 30, 45, 0, time.UTC), want: "20240115T143045"},
		{name: "midnight", in: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), want: "20241231T000000"},
		{name: "singleDigits", in: time.Date(2024, 1, 1, 1, 1, 1, 0, time.UTC), want: "20240101T010101"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PathSafe(tc.in); got != tc.want {
				t.Fatalf("PathSafe = %q, want %q", got, tc.want)
			}
		})
	}
}

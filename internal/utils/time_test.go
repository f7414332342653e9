package utils

import (
	"testing"
	"time"
)

func TestLoadLocation(t *testing.T) {
	tests := []struct {
		name     string
		timezone string
		wantErr  bool
	}{
		{
			name:     "empty string returns local",
			timezone: "",
			wantErr:  false,
		},
		{
			name:     "Local returns local",
			timezone: "Local",
			wantErr:  false,
		},
		{
			name:     "valid timezone UTC",
			timezone: "UTC",
			wantErr:  false,
		},
		{
			name:     "valid timezone America/New_York",
			timezone: "America/New_York",
			wantErr:  false,
		},
		{
			name:     "invalid timezone",
			timezone: "Invalid/Timezone",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := LoadLocation(tt.timezone)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadLocation() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && loc == nil {
				t.Errorf("LoadLocation() returned nil location without error")
			}
		})
	}
}

func TestStartOfDay(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// 03:30 UTC on the 15th is still the 14th in New York
	in := time.Date(2024, 3, 15, 3, 30, 0, 0, time.UTC)
	got := StartOfDay(in, loc)
	want := time.Date(2024, 3, 14, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("StartOfDay() = %v, want %v", got, want)
	}
}

func TestCalendarDaysBetween(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	tests := []struct {
		name string
		a    time.Time
		b    time.Time
		want int
	}{
		{
			name: "same day",
			a:    time.Date(2024, 5, 1, 1, 0, 0, 0, loc),
			b:    time.Date(2024, 5, 1, 23, 0, 0, 0, loc),
			want: 0,
		},
		{
			name: "late night to early morning is one day",
			a:    time.Date(2024, 5, 1, 23, 59, 0, 0, loc),
			b:    time.Date(2024, 5, 2, 0, 1, 0, 0, loc),
			want: 1,
		},
		{
			name: "across spring forward",
			a:    time.Date(2024, 3, 9, 12, 0, 0, 0, loc),
			b:    time.Date(2024, 3, 11, 0, 30, 0, 0, loc),
			want: 2,
		},
		{
			name: "across fall back",
			a:    time.Date(2024, 11, 2, 23, 30, 0, 0, loc),
			b:    time.Date(2024, 11, 3, 23, 30, 0, 0, loc),
			want: 1,
		},
		{
			name: "reversed is negative",
			a:    time.Date(2024, 5, 3, 8, 0, 0, 0, loc),
			b:    time.Date(2024, 5, 1, 8, 0, 0, 0, loc),
			want: -2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalendarDaysBetween(tt.a, tt.b, loc); got != tt.want {
				t.Errorf("CalendarDaysBetween() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	in := time.Date(2024, 7, 4, 9, 15, 30, 123000000, time.FixedZone("X", 2*3600))
	s := FormatTimestamp(in)
	if s != "2024-07-04T07:15:30.123Z" {
		t.Fatalf("FormatTimestamp() = %q", s)
	}
	out, err := ParseTimestamp(s)
	if err != nil {
		t.Fatalf("ParseTimestamp() error = %v", err)
	}
	if !out.Equal(in) {
		t.Errorf("ParseTimestamp() = %v, want %v", out, in)
	}

	// RFC3339 written by other clients is accepted
	if _, err := ParseTimestamp("2024-07-04T07:15:30+02:00"); err != nil {
		t.Errorf("ParseTimestamp(RFC3339) error = %v", err)
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Error("ParseTimestamp() expected error for garbage input")
	}
}

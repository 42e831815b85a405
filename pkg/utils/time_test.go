package utils

import (
	"testing"
	"time"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("timezone %s not available: %v", name, err)
	}
	return loc
}

func TestDayStartIn(t *testing.T) {
	seoul := mustLoc(t, "Asia/Seoul")

	tests := []struct {
		name     string
		input    time.Time
		loc      *time.Location
		expected time.Time
	}{
		{
			name:     "middle of day utc",
			input:    time.Date(2024, 1, 15, 14, 30, 45, 123456789, time.UTC),
			loc:      time.UTC,
			expected: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "nil location falls back to utc",
			input:    time.Date(2024, 1, 15, 23, 59, 59, 0, time.UTC),
			loc:      nil,
			expected: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "utc afternoon is next day in seoul",
			input:    time.Date(2024, 1, 15, 16, 30, 0, 0, time.UTC),
			loc:      seoul,
			expected: time.Date(2024, 1, 16, 0, 0, 0, 0, seoul),
		},
		{
			name:     "leap day",
			input:    time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC),
			loc:      time.UTC,
			expected: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DayStartIn(tt.input, tt.loc)
			if !result.Equal(tt.expected) {
				t.Errorf("DayStartIn(%v) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestDayEndIn(t *testing.T) {
	input := time.Date(2024, 1, 15, 14, 30, 45, 0, time.UTC)
	expected := time.Date(2024, 1, 15, 23, 59, 59, 999999999, time.UTC)

	if got := DayEndIn(input, time.UTC); !got.Equal(expected) {
		t.Errorf("DayEndIn() = %v, want %v", got, expected)
	}
}

func TestSameTradingDay(t *testing.T) {
	seoul := mustLoc(t, "Asia/Seoul")

	a := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC) // 23:00 KST
	b := time.Date(2024, 1, 15, 15, 30, 0, 0, time.UTC) // 00:30 KST следующего дня

	if !SameTradingDay(a, b, time.UTC) {
		t.Error("expected same day in UTC")
	}
	if SameTradingDay(a, b, seoul) {
		t.Error("expected different days in Asia/Seoul")
	}
	if got := TradingDay(b, seoul); got != "2024-01-16" {
		t.Errorf("TradingDay() = %s, want 2024-01-16", got)
	}
}

func TestParseDayRange(t *testing.T) {
	r, err := ParseDayRange("2024-03-01", time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Start.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected start: %v", r.Start)
	}
	if !r.Contains(time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)) {
		t.Error("range should contain 23:00")
	}
	if r.Contains(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Error("range should not contain next day")
	}

	if _, err := ParseDayRange("01/03/2024", time.UTC); err == nil {
		t.Error("expected error for invalid format")
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		input   string
		want    ClockTime
		wantErr bool
	}{
		{"08:30", ClockTime{8, 30}, false},
		{"00:00", ClockTime{0, 0}, false},
		{"23:59", ClockTime{23, 59}, false},
		{"24:00", ClockTime{}, true},
		{"8.30", ClockTime{}, true},
		{"", ClockTime{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseClock(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseClock(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseClock(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNextDailyAt(t *testing.T) {
	at := ClockTime{Hour: 8, Minute: 30}

	tests := []struct {
		name     string
		now      time.Time
		expected time.Time
	}{
		{
			name:     "before report time",
			now:      time.Date(2024, 1, 15, 7, 0, 0, 0, time.UTC),
			expected: time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC),
		},
		{
			name:     "after report time",
			now:      time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
			expected: time.Date(2024, 1, 16, 8, 30, 0, 0, time.UTC),
		},
		{
			name:     "exactly at report time schedules next day",
			now:      time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC),
			expected: time.Date(2024, 1, 16, 8, 30, 0, 0, time.UTC),
		},
		{
			name:     "month boundary",
			now:      time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC),
			expected: time.Date(2024, 2, 1, 8, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextDailyAt(tt.now, at, time.UTC)
			if !got.Equal(tt.expected) {
				t.Errorf("NextDailyAt() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{45 * time.Second, "45s"},
		{5*time.Minute + 30*time.Second, "5m30s"},
		{2*time.Hour + 15*time.Minute, "2h15m"},
		{77 * time.Hour, "3d5h"},
		{-45 * time.Second, "45s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := FormatDuration(tt.input); got != tt.expected {
				t.Errorf("FormatDuration(%v) = %s, want %s", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	if err != nil || loc != time.UTC {
		t.Errorf("LoadLocation(\"\") = %v, %v; want UTC", loc, err)
	}
	if _, err := LoadLocation("Mars/Olympus"); err == nil {
		t.Error("expected error for unknown zone")
	}
}

func TestFromUnixMillis(t *testing.T) {
	got := FromUnixMillis(1704067200000)
	if !got.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("FromUnixMillis() = %v", got)
	}
}

package cron

import (
	"errors"
	"testing"
	"time"

	robfig "github.com/robfig/cron/v3"
)

func TestCronExpression(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"09:00:00", "0 9 * * *"},
		{"23:45:00", "45 23 * * *"},
		{"00:00", "0 0 * * *"},
		{"07:05:59", "5 7 * * *"},
		{"9:00:00", "0 9 * * *"},
		{"9:00", "0 9 * * *"},
		{"7:5", "5 7 * * *"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CronExpression(tt.in)
			if err != nil {
				t.Fatalf("CronExpression(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("CronExpression(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCronExpression_Invalid(t *testing.T) {
	for _, in := range []string{"", "9", ":00", "9:", "009:00", "+9:00", "-1:00", "24:00:00", "12:60", "12:00:60", "aa:bb", "12:00:00:00"} {
		t.Run(in, func(t *testing.T) {
			if _, err := CronExpression(in); !errors.Is(err, ErrInvalidTimeOfDay) {
				t.Errorf("CronExpression(%q) error = %v, want ErrInvalidTimeOfDay", in, err)
			}
		})
	}
}

func TestParser_InvalidInput(t *testing.T) {
	p := NewParser()

	if _, err := p.Parse("* * * *", "UTC"); err == nil {
		t.Error("expected error for four-field expression")
	}
	if _, err := p.Parse("0 25 * * *", "UTC"); err == nil {
		t.Error("expected error for hour 25")
	}
	if _, err := p.Parse("0 9 * * *", "Invalid/Zone"); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestParser_DailyInRecipientTimezone(t *testing.T) {
	p := NewParser()
	expr, err := CronExpression("09:00:00")
	if err != nil {
		t.Fatal(err)
	}

	jakarta, err := p.Parse(expr, "Asia/Jakarta")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	tokyo, err := p.Parse(expr, "Asia/Tokyo")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	ref := time.Date(2024, 12, 26, 12, 0, 0, 0, time.UTC)

	// 09:00 WIB is 02:00 UTC, 09:00 JST is 00:00 UTC.
	if got, want := jakarta.Next(ref), time.Date(2024, 12, 27, 2, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Jakarta Next = %v, want %v", got.UTC(), want)
	}
	if got, want := tokyo.Next(ref), time.Date(2024, 12, 27, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Tokyo Next = %v, want %v", got.UTC(), want)
	}
}

func TestParser_DSTSpringForward(t *testing.T) {
	p := NewParser()
	sched, err := p.Parse("30 2 * * *", "America/New_York")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	before := time.Date(2024, 3, 10, 1, 0, 0, 0, ny)
	next := sched.Next(before)

	if next.Equal(time.Date(2024, 3, 10, 2, 30, 0, 0, ny)) {
		t.Error("scheduled at a wall time that does not exist")
	}
	if !next.After(before) {
		t.Errorf("Next() = %v, want after %v", next, before)
	}
}

func TestSchedule_SatisfiesRobfigSchedule(t *testing.T) {
	sched, err := NewParser().Parse("0 9 * * *", "UTC")
	if err != nil {
		t.Fatal(err)
	}
	var _ robfig.Schedule = sched
}

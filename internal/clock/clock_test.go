package clock

import (
	"testing"
	"time"
)

func TestLocalDayKey(t *testing.T) {
	// 2024-03-10 03:30 UTC is still March 9 in Los Angeles.
	instant := time.Date(2024, 3, 10, 3, 30, 0, 0, time.UTC)

	key, err := LocalDayKey(instant, "America/Los_Angeles")
	if err != nil {
		t.Fatalf("LocalDayKey failed: %v", err)
	}
	if key != "2024-03-09" {
		t.Errorf("Expected 2024-03-09, got %s", key)
	}

	key, err = LocalDayKey(instant, "UTC")
	if err != nil {
		t.Fatalf("LocalDayKey failed: %v", err)
	}
	if key != "2024-03-10" {
		t.Errorf("Expected 2024-03-10, got %s", key)
	}
}

func TestLocalDayKeyInvalidTimezone(t *testing.T) {
	_, err := LocalDayKey(time.Now(), "Not/AZone")
	if err == nil {
		t.Fatal("Expected error for invalid timezone")
	}
}

func TestLocalDayBoundsDST(t *testing.T) {
	// March 10 2024 is the spring-forward day in Los Angeles: 23 wall hours.
	instant := time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC)

	start, end, err := LocalDayBounds(instant, "America/Los_Angeles")
	if err != nil {
		t.Fatalf("LocalDayBounds failed: %v", err)
	}
	if got := end.Sub(start); got != 23*time.Hour {
		t.Errorf("Expected 23h day on spring-forward date, got %v", got)
	}
	if !start.Before(instant) || !end.After(instant) {
		t.Errorf("Instant %v not within [%v, %v)", instant, start, end)
	}

	// November 3 2024 is fall-back: 25 wall hours.
	instant = time.Date(2024, 11, 3, 20, 0, 0, 0, time.UTC)
	start, end, err = LocalDayBounds(instant, "America/Los_Angeles")
	if err != nil {
		t.Fatalf("LocalDayBounds failed: %v", err)
	}
	if got := end.Sub(start); got != 25*time.Hour {
		t.Errorf("Expected 25h day on fall-back date, got %v", got)
	}
}

func TestAddLocalDays(t *testing.T) {
	instant := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	yesterday, err := AddLocalDays(instant, "UTC", -1)
	if err != nil {
		t.Fatalf("AddLocalDays failed: %v", err)
	}
	want := time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC)
	if !yesterday.Equal(want) {
		t.Errorf("Expected %v, got %v", want, yesterday)
	}
}

func TestAddLocalDaysAcrossDST(t *testing.T) {
	// Start the day before spring-forward; +1 day must land on local
	// midnight of March 10, which is 22 UTC hours later, not 24.
	instant := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	next, err := AddLocalDays(instant, "America/Los_Angeles", 1)
	if err != nil {
		t.Fatalf("AddLocalDays failed: %v", err)
	}
	key, _ := LocalDayKey(next, "America/Los_Angeles")
	if key != "2024-03-10" {
		t.Errorf("Expected start of 2024-03-10, got %s (%v)", key, next)
	}
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	b := time.Date(2024, 1, 4, 1, 0, 0, 0, time.UTC)

	days, err := DaysBetween(a, b, "UTC")
	if err != nil {
		t.Fatalf("DaysBetween failed: %v", err)
	}
	if days != 3 {
		t.Errorf("Expected 3 days, got %d", days)
	}

	days, err = DaysBetween(b, a, "UTC")
	if err != nil {
		t.Fatalf("DaysBetween failed: %v", err)
	}
	if days != -3 {
		t.Errorf("Expected -3 days, got %d", days)
	}
}

func TestDaysBetweenAcrossDST(t *testing.T) {
	// Spanning the spring-forward weekend still counts whole calendar days.
	a := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)
	b := time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC)

	days, err := DaysBetween(a, b, "America/Los_Angeles")
	if err != nil {
		t.Fatalf("DaysBetween failed: %v", err)
	}
	if days != 4 {
		t.Errorf("Expected 4 days across DST, got %d", days)
	}
}

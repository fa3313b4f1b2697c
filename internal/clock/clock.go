package clock

import (
	"fmt"
	"time"
)

// DayKeyFormat is the layout for local day keys (YYYY-MM-DD).
const DayKeyFormat = "2006-01-02"

// ErrInvalidTimezone is returned when an IANA timezone name cannot be loaded.
var ErrInvalidTimezone = fmt.Errorf("invalid timezone")

// LoadLocation loads a timezone location from an IANA timezone name.
// An empty name or "Local" resolves to the system timezone.
func LoadLocation(timezone string) (*time.Location, error) {
	if timezone == "" || timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidTimezone, timezone, err)
	}
	return loc, nil
}

// LocalDayKey returns a stable key identifying the timezone-local calendar
// day that the instant falls on. Two instants share a key iff they fall on
// the same local date in the given timezone.
func LocalDayKey(instant time.Time, timezone string) (string, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return "", err
	}
	return instant.In(loc).Format(DayKeyFormat), nil
}

// LocalDayBounds returns the UTC instants bounding the local calendar day
// containing the instant: [start, end). Around DST transitions a local day
// can span 23 or 25 UTC hours, so the end is computed by date arithmetic in
// the location, never by adding a fixed 24h.
func LocalDayBounds(instant time.Time, timezone string) (time.Time, time.Time, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	local := instant.In(loc)
	year, month, day := local.Date()
	start := time.Date(year, month, day, 0, 0, 0, 0, loc)
	end := time.Date(year, month, day+1, 0, 0, 0, 0, loc)
	return start.UTC(), end.UTC(), nil
}

// AddLocalDays returns the start of the local day n calendar days away from
// the local day containing the instant. n may be negative.
func AddLocalDays(instant time.Time, timezone string, n int) (time.Time, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}
	local := instant.In(loc)
	year, month, day := local.Date()
	return time.Date(year, month, day+n, 0, 0, 0, 0, loc).UTC(), nil
}

// DaysBetween returns the number of whole local calendar days from the day
// containing a to the day containing b. Positive when b is on a later day.
func DaysBetween(a, b time.Time, timezone string) (int, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return 0, err
	}
	la, lb := a.In(loc), b.In(loc)
	ya, ma, da := la.Date()
	yb, mb, db := lb.Date()
	// Normalize both dates to UTC midnights so the division is exact even
	// when the local span crosses a DST transition.
	ua := time.Date(ya, ma, da, 0, 0, 0, 0, time.UTC)
	ub := time.Date(yb, mb, db, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24), nil
}

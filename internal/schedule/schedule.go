package schedule

import (
	"encoding/json"
	"fmt"
	"time"

	"remindMeAPI/internal/clock"
	"remindMeAPI/internal/recurrence"
)

// Type tags the closed set of schedule descriptor variants.
type Type string

const (
	TypeDaily      Type = "daily"
	TypeWeekdays   Type = "weekdays"
	TypeWeekends   Type = "weekends"
	TypeDaysOfWeek Type = "days_of_week"
	TypeEveryN     Type = "every_n"
	TypeRule       Type = "rule"
)

// Descriptor describes when a habit is due. The tag decides which fields
// are meaningful; the whole struct round-trips through JSON unchanged so the
// stored payload is exactly what the owner wrote.
type Descriptor struct {
	Type         Type           `json:"type"`
	Days         []time.Weekday `json:"days,omitempty"`
	IntervalDays int            `json:"interval_days,omitempty"`
	AnchorDate   string         `json:"anchor_date,omitempty"`
	Rule         string         `json:"rule,omitempty"`
}

// ParseDescriptor decodes and validates a descriptor payload. Used on the
// write path; anything that fails here never reaches the store.
func ParseDescriptor(payload []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, fmt.Errorf("invalid schedule payload: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate rejects malformed descriptors at write time. Evaluation assumes
// a validated descriptor and never re-checks.
func (d *Descriptor) Validate() error {
	switch d.Type {
	case TypeDaily, TypeWeekdays, TypeWeekends:
		return nil
	case TypeDaysOfWeek:
		for _, wd := range d.Days {
			if wd < time.Sunday || wd > time.Saturday {
				return fmt.Errorf("invalid weekday %d in schedule", wd)
			}
		}
		return nil
	case TypeEveryN:
		if d.IntervalDays <= 0 {
			return fmt.Errorf("interval_days must be positive, got %d", d.IntervalDays)
		}
		if _, err := time.Parse(clock.DayKeyFormat, d.AnchorDate); err != nil {
			return fmt.Errorf("invalid anchor_date %q: %v", d.AnchorDate, err)
		}
		return nil
	case TypeRule:
		if err := recurrence.Validate(d.Rule); err != nil {
			return fmt.Errorf("invalid schedule rule: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown schedule type %q", d.Type)
	}
}

// IsDue reports whether the habit is due on the local calendar day that
// date falls on in the given timezone. Pure: no state, safe to call
// repeatedly with identical inputs.
func IsDue(d *Descriptor, date time.Time, timezone string) (bool, error) {
	loc, err := clock.LoadLocation(timezone)
	if err != nil {
		return false, err
	}
	weekday := date.In(loc).Weekday()

	switch d.Type {
	case TypeDaily:
		return true, nil

	case TypeWeekdays:
		return weekday >= time.Monday && weekday <= time.Friday, nil

	case TypeWeekends:
		return weekday == time.Saturday || weekday == time.Sunday, nil

	case TypeDaysOfWeek:
		// An empty set is a valid "never due" schedule.
		for _, wd := range d.Days {
			if wd == weekday {
				return true, nil
			}
		}
		return false, nil

	case TypeEveryN:
		if d.IntervalDays <= 0 {
			return false, nil
		}
		anchorDate, err := time.Parse(clock.DayKeyFormat, d.AnchorDate)
		if err != nil {
			return false, nil
		}
		anchor := time.Date(anchorDate.Year(), anchorDate.Month(), anchorDate.Day(), 12, 0, 0, 0, loc)
		days, err := clock.DaysBetween(anchor, date, timezone)
		if err != nil {
			return false, err
		}
		return days >= 0 && days%d.IntervalDays == 0, nil

	case TypeRule:
		start, end, err := clock.LocalDayBounds(date, timezone)
		if err != nil {
			return false, err
		}
		next := recurrence.NextFireAfter(d.Rule, start.Add(-time.Nanosecond), loc)
		return !next.IsZero() && next.Before(end), nil

	default:
		return false, nil
	}
}

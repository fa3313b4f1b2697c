package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Rule is a parsed recurrence rule. Rule text is a compact
// semicolon-separated KEY=VALUE list, e.g.:
//
//	FREQ=DAILY;BYHOUR=7;BYMINUTE=30
//	FREQ=WEEKLY;BYDAY=MO,WE,FR;BYHOUR=9
//	FREQ=ONCE;AT=2024-05-01T07:00:00Z
//
// BYHOUR/BYMINUTE default to midnight when omitted. A WEEKLY rule with no
// BYDAY fires every day at the target time.
type Rule struct {
	Freq     string
	Hour     int
	Minute   int
	Weekdays map[time.Weekday]bool
	At       time.Time
}

const (
	FreqOnce   = "ONCE"
	FreqDaily  = "DAILY"
	FreqWeekly = "WEEKLY"
)

var weekdayTokens = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

// Validate parses the rule text strictly. It is the write-time gate: any
// unknown key, unknown frequency, malformed weekday or out-of-range time
// component is an error. Stored rules are assumed to have passed this.
func Validate(text string) error {
	_, err := parse(text, true)
	return err
}

// Parse parses rule text leniently: unknown or missing frequency falls back
// to DAILY, unparseable fragments are skipped. Used on the evaluation path
// so that a legacy stored row can never brick an alarm.
func Parse(text string) *Rule {
	r, _ := parse(text, false)
	return r
}

func parse(text string, strict bool) (*Rule, error) {
	r := &Rule{Freq: FreqDaily}

	for _, part := range strings.Split(text, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			if strict {
				return nil, fmt.Errorf("invalid rule fragment %q", part)
			}
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "FREQ":
			freq := strings.ToUpper(value)
			switch freq {
			case FreqOnce, FreqDaily, FreqWeekly:
				r.Freq = freq
			default:
				if strict {
					return nil, fmt.Errorf("unknown frequency %q", value)
				}
				r.Freq = FreqDaily
			}
		case "BYHOUR":
			hour, err := strconv.Atoi(value)
			if err != nil || hour < 0 || hour > 23 {
				if strict {
					return nil, fmt.Errorf("invalid BYHOUR %q", value)
				}
				continue
			}
			r.Hour = hour
		case "BYMINUTE":
			minute, err := strconv.Atoi(value)
			if err != nil || minute < 0 || minute > 59 {
				if strict {
					return nil, fmt.Errorf("invalid BYMINUTE %q", value)
				}
				continue
			}
			r.Minute = minute
		case "BYDAY":
			days := make(map[time.Weekday]bool)
			for _, token := range strings.Split(value, ",") {
				token = strings.ToUpper(strings.TrimSpace(token))
				wd, ok := weekdayTokens[token]
				if !ok {
					if strict {
						return nil, fmt.Errorf("invalid BYDAY token %q", token)
					}
					continue
				}
				days[wd] = true
			}
			if strict && len(days) == 0 {
				return nil, fmt.Errorf("BYDAY has no valid weekdays: %q", value)
			}
			if len(days) > 0 {
				r.Weekdays = days
			}
		case "AT":
			at, err := time.Parse(time.RFC3339, value)
			if err != nil {
				if strict {
					return nil, fmt.Errorf("invalid AT instant %q: %v", value, err)
				}
				continue
			}
			r.At = at
		default:
			if strict {
				return nil, fmt.Errorf("unknown rule key %q", key)
			}
		}
	}

	if strict && r.Freq == FreqOnce && r.At.IsZero() {
		return nil, fmt.Errorf("ONCE rule requires AT=<RFC3339 instant>")
	}

	return r, nil
}

// NextFireAfter computes the next fire instant strictly after from, with
// time-of-day interpreted in loc. The zero time means the rule is exhausted
// (only possible for ONCE); every non-zero result is strictly after from.
func NextFireAfter(text string, from time.Time, loc *time.Location) time.Time {
	return Parse(text).NextAfter(from, loc)
}

// NextAfter is NextFireAfter for an already-parsed rule.
func (r *Rule) NextAfter(from time.Time, loc *time.Location) time.Time {
	switch r.Freq {
	case FreqOnce:
		if r.At.After(from) {
			return r.At
		}
		// Exhausted. The caller disables the alarm; looping on a past
		// instant here would re-fire forever.
		return time.Time{}

	case FreqWeekly:
		local := from.In(loc)
		for offset := 0; offset <= 8; offset++ {
			candidate := r.atTime(local, offset, loc)
			if !r.allowedDay(candidate.Weekday()) {
				continue
			}
			if candidate.After(from) {
				return candidate
			}
		}
		// Unreachable for a non-empty weekday set, but never return a
		// past instant.
		return r.atTime(local, 7, loc)

	default: // DAILY and anything lenient parsing mapped onto it
		local := from.In(loc)
		candidate := r.atTime(local, 0, loc)
		if candidate.After(from) {
			return candidate
		}
		return r.atTime(local, 1, loc)
	}
}

func (r *Rule) atTime(local time.Time, dayOffset int, loc *time.Location) time.Time {
	year, month, day := local.Date()
	return time.Date(year, month, day+dayOffset, r.Hour, r.Minute, 0, 0, loc)
}

func (r *Rule) allowedDay(wd time.Weekday) bool {
	if len(r.Weekdays) == 0 {
		return true
	}
	return r.Weekdays[wd]
}

// Package completion is the tick/fire/dismiss state machine. It coordinates
// the schedule evaluator, the recurrence calculator and the lock service so
// that each occurrence of a habit or alarm is processed exactly once, no
// matter how many concurrent or retried requests observe it.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"remindMeAPI/internal/clock"
	"remindMeAPI/internal/lock"
	"remindMeAPI/internal/recurrence"
	"remindMeAPI/internal/schedule"
	"remindMeAPI/internal/types/alarm"
	"remindMeAPI/internal/types/event"
	"remindMeAPI/internal/types/habit"
)

var (
	ErrNotFound          = errors.New("entity not found")
	ErrNotOwned          = errors.New("entity not owned by caller")
	ErrInvalidRecurrence = errors.New("invalid recurrence rule")
)

const (
	ReasonNotScheduled = "not_scheduled"
	ReasonDisabled     = "disabled"
)

// Streak lengths that produce a milestone event alongside the completion.
var milestones = map[int]bool{7: true, 30: true, 100: true}

// HabitStore is the persistence contract for habits. Get must return
// ErrNotFound for a missing id and ErrNotOwned on an ownership mismatch.
type HabitStore interface {
	GetHabit(ctx context.Context, ownerID string, habitID uuid.UUID) (*habit.Habit, error)
	RecordCompletion(ctx context.Context, habitID uuid.UUID, completedAt time.Time, streak int) error
}

// AlarmStore is the persistence contract for alarms.
type AlarmStore interface {
	GetAlarm(ctx context.Context, ownerID string, alarmID uuid.UUID) (*alarm.Alarm, error)
	// SetNextFire persists the recomputed schedule position. A nil next with
	// enabled=false records an exhausted ONCE alarm.
	SetNextFire(ctx context.Context, alarmID uuid.UUID, next *time.Time, enabled bool) error
}

// EventSink receives durable event records. Implementations must not block
// the caller on downstream delivery.
type EventSink interface {
	Emit(ctx context.Context, e *event.Event)
}

type TickResult struct {
	Accepted    bool   `json:"accepted"`
	Idempotent  bool   `json:"idempotent"`
	Reason      string `json:"reason,omitempty"`
	Streak      int    `json:"streak"`
	LocalDayKey string `json:"local_day_key,omitempty"`
}

type FireResult struct {
	Accepted     bool       `json:"accepted"`
	Deduplicated bool       `json:"deduplicated"`
	Reason       string     `json:"reason,omitempty"`
	NextFireAt   *time.Time `json:"next_fire_at,omitempty"`
}

type DismissResult struct {
	Snoozed    bool       `json:"snoozed"`
	NextFireAt *time.Time `json:"next_fire_at,omitempty"`
}

// Processor orchestrates completion transitions. All cross-request
// coordination goes through the Locker; the processor itself holds no
// mutable state, so one instance is shared by every request goroutine.
type Processor struct {
	habits HabitStore
	alarms AlarmStore
	locker lock.Locker
	events EventSink

	// AlarmDedupWindow collapses near-simultaneous duplicate fire signals.
	// It must exceed the end-to-end processing time of one fire by a safe
	// margin; the processing path is sub-second, so the default of 90s is
	// comfortable.
	AlarmDedupWindow time.Duration

	// TickLockMargin extends the tick lock past the end of the local day so
	// a write that straddles midnight stays covered.
	TickLockMargin time.Duration
}

func NewProcessor(habits HabitStore, alarms AlarmStore, locker lock.Locker, events EventSink) *Processor {
	return &Processor{
		habits:           habits,
		alarms:           alarms,
		locker:           locker,
		events:           events,
		AlarmDedupWindow: 90 * time.Second,
		TickLockMargin:   time.Hour,
	}
}

// Tick records a habit completion for the local day containing asOf.
// Duplicate ticks for the same (owner, habit, local day) are reported as
// idempotent successes carrying the current streak, never as errors.
func (p *Processor) Tick(ctx context.Context, ownerID string, habitID uuid.UUID, asOf time.Time, idempotencyKey string) (*TickResult, error) {
	h, err := p.habits.GetHabit(ctx, ownerID, habitID)
	if err != nil {
		return nil, err
	}

	dayKey, err := clock.LocalDayKey(asOf, h.Timezone)
	if err != nil {
		return nil, err
	}

	desc, err := schedule.ParseDescriptor([]byte(h.Schedule))
	if err != nil {
		return nil, fmt.Errorf("stored schedule for habit %s failed to parse: %w", h.ID, err)
	}

	due, err := schedule.IsDue(desc, asOf, h.Timezone)
	if err != nil {
		return nil, err
	}
	if !due {
		return &TickResult{Accepted: false, Reason: ReasonNotScheduled, Streak: h.Streak, LocalDayKey: dayKey}, nil
	}

	lockKey := fmt.Sprintf("tick:%s:%s:%s", ownerID, habitID, dayKey)
	if idempotencyKey != "" {
		lockKey += ":" + idempotencyKey
	}

	won, err := p.locker.TryAcquire(ctx, lockKey, p.tickLockTTL(asOf, h.Timezone))
	if err != nil {
		return nil, err
	}
	if !won {
		// Another request owns this occurrence. Re-read so the response
		// carries the winner's write if it already landed.
		if current, err := p.habits.GetHabit(ctx, ownerID, habitID); err == nil {
			h = current
		}
		return &TickResult{Accepted: true, Idempotent: true, Streak: h.Streak, LocalDayKey: dayKey}, nil
	}

	// The lock can expire while the durable completion survives, e.g. a
	// backfill tick hours later. The persisted day key is the truth.
	if h.LastCompletedAt != nil {
		lastKey, err := clock.LocalDayKey(*h.LastCompletedAt, h.Timezone)
		if err == nil && lastKey == dayKey {
			return &TickResult{Accepted: true, Idempotent: true, Streak: h.Streak, LocalDayKey: dayKey}, nil
		}
	}

	newStreak := 1
	if h.LastCompletedAt != nil {
		yesterday, err := clock.AddLocalDays(asOf, h.Timezone, -1)
		if err != nil {
			return nil, err
		}
		yesterdayKey, _ := clock.LocalDayKey(yesterday, h.Timezone)
		lastKey, _ := clock.LocalDayKey(*h.LastCompletedAt, h.Timezone)
		if lastKey == yesterdayKey {
			newStreak = h.Streak + 1
		}
	}

	if err := p.habits.RecordCompletion(ctx, h.ID, asOf, newStreak); err != nil {
		return nil, fmt.Errorf("failed to record completion: %w", err)
	}

	p.emit(ctx, ownerID, h.ID, event.KindHabitCompleted, dayKey, map[string]any{
		"habit_name": h.Name,
		"streak":     newStreak,
	})
	if milestones[newStreak] {
		p.emit(ctx, ownerID, h.ID, event.KindStreakMilestone, dayKey, map[string]any{
			"habit_name": h.Name,
			"streak":     newStreak,
		})
	}

	return &TickResult{Accepted: true, Streak: newStreak, LocalDayKey: dayKey}, nil
}

// tickLockTTL covers the remainder of the local day plus the margin. The
// key already pins the local day, so the TTL is only a backstop. A fixed
// 24h here would drift across DST transitions.
func (p *Processor) tickLockTTL(asOf time.Time, timezone string) time.Duration {
	_, end, err := clock.LocalDayBounds(asOf, timezone)
	if err != nil {
		return 24*time.Hour + p.TickLockMargin
	}
	ttl := time.Until(end) + p.TickLockMargin
	if ttl < p.TickLockMargin {
		// Backfill for an already-ended day: the margin alone covers the
		// processing window.
		return p.TickLockMargin
	}
	return ttl
}

// FireAlarm processes a fire signal, deduplicating near-simultaneous
// duplicates and advancing the alarm's schedule position.
func (p *Processor) FireAlarm(ctx context.Context, ownerID string, alarmID uuid.UUID, asOf time.Time) (*FireResult, error) {
	a, err := p.alarms.GetAlarm(ctx, ownerID, alarmID)
	if err != nil {
		return nil, err
	}
	if !a.Enabled {
		return &FireResult{Accepted: false, Reason: ReasonDisabled}, nil
	}

	lockKey := fmt.Sprintf("fire:%s:%s:fired", ownerID, alarmID)
	won, err := p.locker.TryAcquire(ctx, lockKey, p.AlarmDedupWindow)
	if err != nil {
		return nil, err
	}
	if !won {
		return &FireResult{Accepted: true, Deduplicated: true, NextFireAt: a.NextFireAt}, nil
	}

	loc, err := clock.LoadLocation(a.Timezone)
	if err != nil {
		return nil, err
	}

	dayKey, _ := clock.LocalDayKey(asOf, a.Timezone)
	p.emit(ctx, ownerID, a.ID, event.KindAlarmFired, dayKey, map[string]any{
		"label": a.Label,
	})

	next := recurrence.NextFireAfter(a.RecurrenceRule, asOf, loc)
	if next.IsZero() {
		// ONCE rule exhausted: disable instead of looping on a past instant.
		if err := p.alarms.SetNextFire(ctx, a.ID, nil, false); err != nil {
			return nil, fmt.Errorf("failed to disable exhausted alarm: %w", err)
		}
		return &FireResult{Accepted: true}, nil
	}

	if err := p.alarms.SetNextFire(ctx, a.ID, &next, true); err != nil {
		return nil, fmt.Errorf("failed to persist next fire: %w", err)
	}
	return &FireResult{Accepted: true, NextFireAt: &next}, nil
}

// DismissAlarm acknowledges a fire. A positive snooze overrides the
// recurrence rule for the immediate next occurrence; otherwise the alarm
// resumes its normal cadence.
func (p *Processor) DismissAlarm(ctx context.Context, ownerID string, alarmID uuid.UUID, asOf time.Time, snoozeMinutes int) (*DismissResult, error) {
	a, err := p.alarms.GetAlarm(ctx, ownerID, alarmID)
	if err != nil {
		return nil, err
	}

	dayKey, _ := clock.LocalDayKey(asOf, a.Timezone)

	if snoozeMinutes > 0 {
		next := asOf.Add(time.Duration(snoozeMinutes) * time.Minute)
		if err := p.alarms.SetNextFire(ctx, a.ID, &next, a.Enabled); err != nil {
			return nil, fmt.Errorf("failed to persist snooze: %w", err)
		}
		p.emit(ctx, ownerID, a.ID, event.KindAlarmSnoozed, dayKey, map[string]any{
			"label":          a.Label,
			"snooze_minutes": snoozeMinutes,
		})
		return &DismissResult{Snoozed: true, NextFireAt: &next}, nil
	}

	loc, err := clock.LoadLocation(a.Timezone)
	if err != nil {
		return nil, err
	}

	p.emit(ctx, ownerID, a.ID, event.KindAlarmDismissed, dayKey, map[string]any{
		"label": a.Label,
	})

	next := recurrence.NextFireAfter(a.RecurrenceRule, asOf, loc)
	if next.IsZero() {
		if err := p.alarms.SetNextFire(ctx, a.ID, nil, false); err != nil {
			return nil, fmt.Errorf("failed to disable exhausted alarm: %w", err)
		}
		return &DismissResult{}, nil
	}

	if err := p.alarms.SetNextFire(ctx, a.ID, &next, a.Enabled); err != nil {
		return nil, fmt.Errorf("failed to persist next fire: %w", err)
	}
	return &DismissResult{NextFireAt: &next}, nil
}

func (p *Processor) emit(ctx context.Context, ownerID string, entityID uuid.UUID, kind event.Kind, dayKey string, payload map[string]any) {
	if p.events == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Event sink panicked for %s/%s: %v", kind, entityID, r)
		}
	}()
	p.events.Emit(ctx, &event.Event{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		EntityID:    entityID,
		Kind:        kind,
		LocalDayKey: dayKey,
		Payload:     payload,
		CreatedAt:   time.Now(),
	})
}

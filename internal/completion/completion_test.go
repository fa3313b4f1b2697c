package completion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"remindMeAPI/internal/lock"
	"remindMeAPI/internal/types/alarm"
	"remindMeAPI/internal/types/event"
	"remindMeAPI/internal/types/habit"
)

type fakeHabitStore struct {
	mu     sync.Mutex
	habits map[uuid.UUID]*habit.Habit
}

func newFakeHabitStore(habits ...*habit.Habit) *fakeHabitStore {
	s := &fakeHabitStore{habits: make(map[uuid.UUID]*habit.Habit)}
	for _, h := range habits {
		s.habits[h.ID] = h
	}
	return s
}

func (s *fakeHabitStore) GetHabit(ctx context.Context, ownerID string, habitID uuid.UUID) (*habit.Habit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.habits[habitID]
	if !ok {
		return nil, ErrNotFound
	}
	if h.OwnerID != ownerID {
		return nil, ErrNotOwned
	}
	copied := *h
	return &copied, nil
}

func (s *fakeHabitStore) RecordCompletion(ctx context.Context, habitID uuid.UUID, completedAt time.Time, streak int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.habits[habitID]
	if !ok {
		return ErrNotFound
	}
	at := completedAt
	h.LastCompletedAt = &at
	h.Streak = streak
	if streak > h.LongestStreak {
		h.LongestStreak = streak
	}
	return nil
}

type fakeAlarmStore struct {
	mu     sync.Mutex
	alarms map[uuid.UUID]*alarm.Alarm
}

func newFakeAlarmStore(alarms ...*alarm.Alarm) *fakeAlarmStore {
	s := &fakeAlarmStore{alarms: make(map[uuid.UUID]*alarm.Alarm)}
	for _, a := range alarms {
		s.alarms[a.ID] = a
	}
	return s
}

func (s *fakeAlarmStore) GetAlarm(ctx context.Context, ownerID string, alarmID uuid.UUID) (*alarm.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alarms[alarmID]
	if !ok {
		return nil, ErrNotFound
	}
	if a.OwnerID != ownerID {
		return nil, ErrNotOwned
	}
	copied := *a
	return &copied, nil
}

func (s *fakeAlarmStore) SetNextFire(ctx context.Context, alarmID uuid.UUID, next *time.Time, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alarms[alarmID]
	if !ok {
		return ErrNotFound
	}
	a.NextFireAt = next
	a.Enabled = enabled
	return nil
}

type fakeSink struct {
	mu     sync.Mutex
	events []*event.Event
}

func (s *fakeSink) Emit(ctx context.Context, e *event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *fakeSink) kinds() []event.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]event.Kind, len(s.events))
	for i, e := range s.events {
		kinds[i] = e.Kind
	}
	return kinds
}

type failingLocker struct{}

func (failingLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, lock.ErrUnavailable
}

const owner = "user_2abc"

func dailyHabit() *habit.Habit {
	return &habit.Habit{
		ID:       uuid.New(),
		OwnerID:  owner,
		Name:     "meditate",
		Schedule: `{"type":"daily"}`,
		Timezone: "UTC",
	}
}

func newTestProcessor(habits *fakeHabitStore, alarms *fakeAlarmStore) (*Processor, *fakeSink) {
	sink := &fakeSink{}
	return NewProcessor(habits, alarms, lock.NewMemoryLocker(), sink), sink
}

func TestTickFirstCompletion(t *testing.T) {
	h := dailyHabit()
	p, sink := newTestProcessor(newFakeHabitStore(h), newFakeAlarmStore())

	asOf := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	res, err := p.Tick(context.Background(), owner, h.ID, asOf, "")
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if !res.Accepted || res.Idempotent || res.Streak != 1 {
		t.Errorf("Unexpected result: %+v", res)
	}
	if res.LocalDayKey != "2024-01-10" {
		t.Errorf("Expected day key 2024-01-10, got %s", res.LocalDayKey)
	}
	if kinds := sink.kinds(); len(kinds) != 1 || kinds[0] != event.KindHabitCompleted {
		t.Errorf("Expected one habit_completed event, got %v", kinds)
	}
}

func TestTickIdempotentSameDay(t *testing.T) {
	h := dailyHabit()
	p, sink := newTestProcessor(newFakeHabitStore(h), newFakeAlarmStore())
	ctx := context.Background()

	asOf := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	if _, err := p.Tick(ctx, owner, h.ID, asOf, ""); err != nil {
		t.Fatalf("First tick failed: %v", err)
	}

	// Later the same local day, lock still held.
	res, err := p.Tick(ctx, owner, h.ID, asOf.Add(3*time.Hour), "")
	if err != nil {
		t.Fatalf("Second tick failed: %v", err)
	}
	if !res.Accepted || !res.Idempotent || res.Streak != 1 {
		t.Errorf("Expected idempotent success with streak 1, got %+v", res)
	}
	if got := len(sink.kinds()); got != 1 {
		t.Errorf("Expected no second event, got %d events", got)
	}
}

func TestTickIdempotentAfterLockExpiry(t *testing.T) {
	// A fresh locker simulates the lock expiring while the durable
	// completion survives; the persisted day key must still dedupe.
	h := dailyHabit()
	store := newFakeHabitStore(h)
	ctx := context.Background()
	asOf := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

	p1, _ := newTestProcessor(store, newFakeAlarmStore())
	if _, err := p1.Tick(ctx, owner, h.ID, asOf, ""); err != nil {
		t.Fatalf("First tick failed: %v", err)
	}

	p2, sink2 := newTestProcessor(store, newFakeAlarmStore())
	res, err := p2.Tick(ctx, owner, h.ID, asOf.Add(time.Hour), "")
	if err != nil {
		t.Fatalf("Second tick failed: %v", err)
	}
	if !res.Accepted || !res.Idempotent || res.Streak != 1 {
		t.Errorf("Expected idempotent success, got %+v", res)
	}
	if len(sink2.kinds()) != 0 {
		t.Error("Duplicate tick must not emit events")
	}
}

func TestStreakContinuityAndReset(t *testing.T) {
	h := dailyHabit()
	store := newFakeHabitStore(h)
	p, _ := newTestProcessor(store, newFakeAlarmStore())
	ctx := context.Background()

	day := func(d int) time.Time {
		return time.Date(2024, 1, d, 8, 0, 0, 0, time.UTC)
	}

	for i, want := range []int{1, 2, 3} {
		res, err := p.Tick(ctx, owner, h.ID, day(10+i), "")
		if err != nil {
			t.Fatalf("Tick day %d failed: %v", 10+i, err)
		}
		if res.Streak != want {
			t.Errorf("Day %d: expected streak %d, got %d", 10+i, want, res.Streak)
		}
	}

	// Skip to day 17: gap resets to 1.
	res, err := p.Tick(ctx, owner, h.ID, day(17), "")
	if err != nil {
		t.Fatalf("Tick after gap failed: %v", err)
	}
	if res.Streak != 1 {
		t.Errorf("Expected streak reset to 1 after gap, got %d", res.Streak)
	}
}

func TestStreakAcrossDST(t *testing.T) {
	h := dailyHabit()
	h.Timezone = "America/Los_Angeles"
	p, _ := newTestProcessor(newFakeHabitStore(h), newFakeAlarmStore())
	ctx := context.Background()

	// Consecutive local evenings across the 2024-03-10 spring-forward.
	loc, _ := time.LoadLocation("America/Los_Angeles")
	first := time.Date(2024, 3, 9, 21, 0, 0, 0, loc)
	second := time.Date(2024, 3, 10, 21, 0, 0, 0, loc)

	if res, _ := p.Tick(ctx, owner, h.ID, first, ""); res.Streak != 1 {
		t.Fatalf("Expected streak 1, got %+v", res)
	}
	res, err := p.Tick(ctx, owner, h.ID, second, "")
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if res.Streak != 2 {
		t.Errorf("Expected streak 2 across DST transition, got %d", res.Streak)
	}
}

func TestTickNotScheduled(t *testing.T) {
	h := dailyHabit()
	h.Schedule = `{"type":"weekdays"}`
	p, sink := newTestProcessor(newFakeHabitStore(h), newFakeAlarmStore())

	// 2024-01-06 is a Saturday.
	saturday := time.Date(2024, 1, 6, 9, 0, 0, 0, time.UTC)
	res, err := p.Tick(context.Background(), owner, h.ID, saturday, "")
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if res.Accepted || res.Reason != ReasonNotScheduled {
		t.Errorf("Expected not_scheduled rejection, got %+v", res)
	}
	if res.Streak != 0 {
		t.Errorf("Streak must be untouched, got %d", res.Streak)
	}
	if len(sink.kinds()) != 0 {
		t.Error("Not-scheduled tick must not emit events")
	}
}

func TestTickOwnershipAndExistence(t *testing.T) {
	h := dailyHabit()
	p, _ := newTestProcessor(newFakeHabitStore(h), newFakeAlarmStore())
	ctx := context.Background()
	asOf := time.Now()

	if _, err := p.Tick(ctx, "someone_else", h.ID, asOf, ""); !errors.Is(err, ErrNotOwned) {
		t.Errorf("Expected ErrNotOwned, got %v", err)
	}
	if _, err := p.Tick(ctx, owner, uuid.New(), asOf, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestTickLockUnavailable(t *testing.T) {
	h := dailyHabit()
	sink := &fakeSink{}
	p := NewProcessor(newFakeHabitStore(h), newFakeAlarmStore(), failingLocker{}, sink)

	_, err := p.Tick(context.Background(), owner, h.ID, time.Now(), "")
	if !errors.Is(err, lock.ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable, got %v", err)
	}
	if len(sink.kinds()) != 0 {
		t.Error("Failed tick must not emit events")
	}
}

func TestConcurrentTicksSingleWinner(t *testing.T) {
	h := dailyHabit()
	store := newFakeHabitStore(h)
	p, sink := newTestProcessor(store, newFakeAlarmStore())
	asOf := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

	const n = 32
	var wg sync.WaitGroup
	results := make(chan *TickResult, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Tick(context.Background(), owner, h.ID, asOf, "")
			if err != nil {
				t.Errorf("Tick failed: %v", err)
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	fresh, idempotent := 0, 0
	for res := range results {
		if !res.Accepted {
			t.Errorf("Unexpected rejection: %+v", res)
			continue
		}
		if res.Idempotent {
			idempotent++
		} else {
			fresh++
		}
	}
	if fresh != 1 || idempotent != n-1 {
		t.Errorf("Expected 1 fresh and %d idempotent, got %d and %d", n-1, fresh, idempotent)
	}

	stored, _ := store.GetHabit(context.Background(), owner, h.ID)
	if stored.Streak != 1 {
		t.Errorf("Expected streak 1 after concurrent ticks, got %d", stored.Streak)
	}
	if got := len(sink.kinds()); got != 1 {
		t.Errorf("Expected exactly one completion event, got %d", got)
	}
}

func TestStreakMilestoneEvent(t *testing.T) {
	h := dailyHabit()
	h.Streak = 6
	sixDaysAgo := time.Date(2024, 1, 9, 8, 0, 0, 0, time.UTC)
	h.LastCompletedAt = &sixDaysAgo

	p, sink := newTestProcessor(newFakeHabitStore(h), newFakeAlarmStore())
	res, err := p.Tick(context.Background(), owner, h.ID, sixDaysAgo.AddDate(0, 0, 1), "")
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if res.Streak != 7 {
		t.Fatalf("Expected streak 7, got %d", res.Streak)
	}

	kinds := sink.kinds()
	if len(kinds) != 2 || kinds[1] != event.KindStreakMilestone {
		t.Errorf("Expected completion + milestone events, got %v", kinds)
	}
}

func testAlarm(rule string) *alarm.Alarm {
	return &alarm.Alarm{
		ID:             uuid.New(),
		OwnerID:        owner,
		Label:          "wake up",
		RecurrenceRule: rule,
		Timezone:       "UTC",
		Enabled:        true,
	}
}

func TestFireAlarmAdvancesSchedule(t *testing.T) {
	a := testAlarm("FREQ=DAILY;BYHOUR=7")
	store := newFakeAlarmStore(a)
	p, sink := newTestProcessor(newFakeHabitStore(), store)

	asOf := time.Date(2024, 1, 10, 7, 0, 5, 0, time.UTC)
	res, err := p.FireAlarm(context.Background(), owner, a.ID, asOf)
	if err != nil {
		t.Fatalf("FireAlarm failed: %v", err)
	}
	if !res.Accepted || res.Deduplicated {
		t.Errorf("Unexpected result: %+v", res)
	}
	want := time.Date(2024, 1, 11, 7, 0, 0, 0, time.UTC)
	if res.NextFireAt == nil || !res.NextFireAt.Equal(want) {
		t.Errorf("Expected next fire %v, got %v", want, res.NextFireAt)
	}
	if kinds := sink.kinds(); len(kinds) != 1 || kinds[0] != event.KindAlarmFired {
		t.Errorf("Expected one alarm_fired event, got %v", kinds)
	}
}

func TestFireAlarmDedup(t *testing.T) {
	a := testAlarm("FREQ=DAILY;BYHOUR=7")
	p, sink := newTestProcessor(newFakeHabitStore(), newFakeAlarmStore(a))
	ctx := context.Background()
	asOf := time.Date(2024, 1, 10, 7, 0, 5, 0, time.UTC)

	if _, err := p.FireAlarm(ctx, owner, a.ID, asOf); err != nil {
		t.Fatalf("First fire failed: %v", err)
	}

	res, err := p.FireAlarm(ctx, owner, a.ID, asOf.Add(2*time.Second))
	if err != nil {
		t.Fatalf("Second fire failed: %v", err)
	}
	if !res.Accepted || !res.Deduplicated {
		t.Errorf("Expected deduplicated success, got %+v", res)
	}
	if got := len(sink.kinds()); got != 1 {
		t.Errorf("Duplicate fire must not emit a second event, got %d", got)
	}
}

func TestFireAlarmDisabled(t *testing.T) {
	a := testAlarm("FREQ=DAILY;BYHOUR=7")
	a.Enabled = false
	p, sink := newTestProcessor(newFakeHabitStore(), newFakeAlarmStore(a))

	res, err := p.FireAlarm(context.Background(), owner, a.ID, time.Now())
	if err != nil {
		t.Fatalf("FireAlarm failed: %v", err)
	}
	if res.Accepted || res.Reason != ReasonDisabled {
		t.Errorf("Expected disabled rejection, got %+v", res)
	}
	if len(sink.kinds()) != 0 {
		t.Error("Disabled fire must not emit events")
	}
}

func TestFireOnceExhaustedDisables(t *testing.T) {
	a := testAlarm("FREQ=ONCE;AT=2024-01-10T07:00:00Z")
	store := newFakeAlarmStore(a)
	p, _ := newTestProcessor(newFakeHabitStore(), store)

	asOf := time.Date(2024, 1, 10, 7, 0, 1, 0, time.UTC)
	res, err := p.FireAlarm(context.Background(), owner, a.ID, asOf)
	if err != nil {
		t.Fatalf("FireAlarm failed: %v", err)
	}
	if !res.Accepted || res.NextFireAt != nil {
		t.Errorf("Expected accepted fire with no next occurrence, got %+v", res)
	}

	stored, _ := store.GetAlarm(context.Background(), owner, a.ID)
	if stored.Enabled || stored.NextFireAt != nil {
		t.Errorf("Exhausted alarm must be disabled with cleared next fire, got %+v", stored)
	}
}

func TestDismissWithSnooze(t *testing.T) {
	a := testAlarm("FREQ=DAILY;BYHOUR=7")
	store := newFakeAlarmStore(a)
	p, sink := newTestProcessor(newFakeHabitStore(), store)

	asOf := time.Date(2024, 1, 10, 7, 1, 0, 0, time.UTC)
	res, err := p.DismissAlarm(context.Background(), owner, a.ID, asOf, 10)
	if err != nil {
		t.Fatalf("DismissAlarm failed: %v", err)
	}
	want := asOf.Add(10 * time.Minute)
	if !res.Snoozed || res.NextFireAt == nil || !res.NextFireAt.Equal(want) {
		t.Errorf("Expected snooze until %v, got %+v", want, res)
	}
	if kinds := sink.kinds(); len(kinds) != 1 || kinds[0] != event.KindAlarmSnoozed {
		t.Errorf("Expected alarm_snoozed event, got %v", kinds)
	}
}

func TestDismissResumesCadence(t *testing.T) {
	a := testAlarm("FREQ=DAILY;BYHOUR=7")
	store := newFakeAlarmStore(a)
	p, _ := newTestProcessor(newFakeHabitStore(), store)

	asOf := time.Date(2024, 1, 10, 7, 1, 0, 0, time.UTC)
	res, err := p.DismissAlarm(context.Background(), owner, a.ID, asOf, 0)
	if err != nil {
		t.Fatalf("DismissAlarm failed: %v", err)
	}
	want := time.Date(2024, 1, 11, 7, 0, 0, 0, time.UTC)
	if res.Snoozed || res.NextFireAt == nil || !res.NextFireAt.Equal(want) {
		t.Errorf("Expected resume at %v, got %+v", want, res)
	}
}

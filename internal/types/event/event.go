package event

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindHabitCompleted  Kind = "habit_completed"
	KindStreakMilestone Kind = "streak_milestone"
	KindAlarmFired      Kind = "alarm_fired"
	KindAlarmDismissed  Kind = "alarm_dismissed"
	KindAlarmSnoozed    Kind = "alarm_snoozed"
)

// Event is the durable record emitted after a state transition. Emission is
// fire-and-forget: a sink failure never rolls the transition back.
type Event struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	OwnerID     string         `json:"owner_id" db:"owner_id"`
	EntityID    uuid.UUID      `json:"entity_id" db:"entity_id"`
	Kind        Kind           `json:"kind" db:"kind"`
	LocalDayKey string         `json:"local_day_key" db:"local_day_key"`
	Payload     map[string]any `json:"payload" db:"payload"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

package alarm

import (
	"time"

	"github.com/google/uuid"
)

// Alarm is a user-owned recurring trigger. NextFireAt is recomputed by the
// completion flow after every fire/dismiss while enabled, and cleared when
// disabled or when a ONCE rule is exhausted.
type Alarm struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	OwnerID        string     `json:"owner_id" db:"owner_id"`
	Label          string     `json:"label" db:"label"`
	RecurrenceRule string     `json:"recurrence_rule" db:"recurrence_rule"`
	Timezone       string     `json:"timezone" db:"timezone"`
	Enabled        bool       `json:"enabled" db:"enabled"`
	NextFireAt     *time.Time `json:"next_fire_at" db:"next_fire_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

type CreateAlarmRequest struct {
	Label          string `json:"label" validate:"required"`
	RecurrenceRule string `json:"recurrence_rule" validate:"required"`
	Timezone       string `json:"timezone"`
	Enabled        *bool  `json:"enabled,omitempty"`
}

type UpdateAlarmRequest struct {
	Label          *string `json:"label,omitempty"`
	RecurrenceRule *string `json:"recurrence_rule,omitempty"`
	Timezone       *string `json:"timezone,omitempty"`
	Enabled        *bool   `json:"enabled,omitempty"`
}

type DismissAlarmRequest struct {
	SnoozeMinutes int `json:"snooze_minutes"`
}

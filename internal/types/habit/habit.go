package habit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Habit is a user-owned recurring commitment. Schedule holds the descriptor
// JSON exactly as the owner wrote it; it is validated on write and re-parsed
// on every evaluation, never normalized in place.
type Habit struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	OwnerID         string     `json:"owner_id" db:"owner_id"`
	Name            string     `json:"name" db:"name"`
	Schedule        string     `json:"schedule" db:"schedule"`
	Timezone        string     `json:"timezone" db:"timezone"`
	Streak          int        `json:"streak" db:"streak"`
	LongestStreak   int        `json:"longest_streak" db:"longest_streak"`
	LastCompletedAt *time.Time `json:"last_completed_at" db:"last_completed_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

type CreateHabitRequest struct {
	Name     string          `json:"name" validate:"required"`
	Schedule json.RawMessage `json:"schedule" validate:"required"`
	Timezone string          `json:"timezone"`
}

type UpdateHabitRequest struct {
	Name     *string         `json:"name,omitempty"`
	Schedule json.RawMessage `json:"schedule,omitempty"`
	Timezone *string         `json:"timezone,omitempty"`
}

type TickRequest struct {
	AsOf *time.Time `json:"as_of,omitempty"`
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"remindMeAPI/internal/clock"
	"remindMeAPI/internal/completion"
	"remindMeAPI/internal/schedule"
	"remindMeAPI/internal/types/habit"
)

// HabitService owns habit CRUD and implements completion.HabitStore.
type HabitService struct {
	db *pgxpool.Pool
}

func NewHabitService(db *pgxpool.Pool) *HabitService {
	return &HabitService{db: db}
}

const habitColumns = `id, owner_id, name, schedule, timezone, streak, longest_streak, last_completed_at, created_at, updated_at`

func scanHabit(row pgx.Row) (*habit.Habit, error) {
	h := &habit.Habit{}
	err := row.Scan(
		&h.ID,
		&h.OwnerID,
		&h.Name,
		&h.Schedule,
		&h.Timezone,
		&h.Streak,
		&h.LongestStreak,
		&h.LastCompletedAt,
		&h.CreatedAt,
		&h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (s *HabitService) CreateHabit(ctx context.Context, ownerID string, req *habit.CreateHabitRequest) (*habit.Habit, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: habit name is required", completion.ErrInvalidRecurrence)
	}
	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := clock.LoadLocation(timezone); err != nil {
		return nil, err
	}
	// Fail closed: a descriptor that does not validate never reaches the
	// store. The raw payload is stored verbatim so it round-trips exactly.
	if _, err := schedule.ParseDescriptor(req.Schedule); err != nil {
		return nil, fmt.Errorf("%w: %v", completion.ErrInvalidRecurrence, err)
	}

	query := `
	INSERT INTO habits (id, owner_id, name, schedule, timezone, streak, longest_streak, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, 0, 0, now(), now())
	RETURNING ` + habitColumns

	h, err := scanHabit(s.db.QueryRow(ctx, query, uuid.New(), ownerID, req.Name, string(req.Schedule), timezone))
	if err != nil {
		return nil, fmt.Errorf("failed to create habit: %w", err)
	}
	return h, nil
}

// GetHabit implements completion.HabitStore. Ownership mismatches are
// distinguished from missing rows so handlers can answer 403 vs 404.
func (s *HabitService) GetHabit(ctx context.Context, ownerID string, habitID uuid.UUID) (*habit.Habit, error) {
	query := `SELECT ` + habitColumns + ` FROM habits WHERE id = $1`

	h, err := scanHabit(s.db.QueryRow(ctx, query, habitID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, completion.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get habit: %w", err)
	}
	if h.OwnerID != ownerID {
		return nil, completion.ErrNotOwned
	}
	return h, nil
}

func (s *HabitService) GetHabits(ctx context.Context, ownerID string) ([]*habit.Habit, error) {
	query := `SELECT ` + habitColumns + ` FROM habits WHERE owner_id = $1 ORDER BY created_at`

	rows, err := s.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list habits: %w", err)
	}
	defer rows.Close()

	habits := []*habit.Habit{}
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan habit: %w", err)
		}
		habits = append(habits, h)
	}
	return habits, rows.Err()
}

func (s *HabitService) UpdateHabit(ctx context.Context, ownerID string, habitID uuid.UUID, req *habit.UpdateHabitRequest) (*habit.Habit, error) {
	h, err := s.GetHabit(ctx, ownerID, habitID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		h.Name = *req.Name
	}
	if req.Timezone != nil {
		if _, err := clock.LoadLocation(*req.Timezone); err != nil {
			return nil, err
		}
		h.Timezone = *req.Timezone
	}
	if len(req.Schedule) > 0 {
		if _, err := schedule.ParseDescriptor(req.Schedule); err != nil {
			return nil, fmt.Errorf("%w: %v", completion.ErrInvalidRecurrence, err)
		}
		h.Schedule = string(req.Schedule)
	}

	query := `
	UPDATE habits SET name = $2, schedule = $3, timezone = $4, updated_at = now()
	WHERE id = $1
	RETURNING ` + habitColumns

	updated, err := scanHabit(s.db.QueryRow(ctx, query, h.ID, h.Name, h.Schedule, h.Timezone))
	if err != nil {
		return nil, fmt.Errorf("failed to update habit: %w", err)
	}
	return updated, nil
}

func (s *HabitService) DeleteHabit(ctx context.Context, ownerID string, habitID uuid.UUID) error {
	if _, err := s.GetHabit(ctx, ownerID, habitID); err != nil {
		return err
	}
	// Pending completion locks are left to expire; they carry no state
	// beyond existence.
	if _, err := s.db.Exec(ctx, `DELETE FROM habits WHERE id = $1`, habitID); err != nil {
		return fmt.Errorf("failed to delete habit: %w", err)
	}
	return nil
}

// RecordCompletion implements completion.HabitStore.
func (s *HabitService) RecordCompletion(ctx context.Context, habitID uuid.UUID, completedAt time.Time, streak int) error {
	query := `
	UPDATE habits
	SET last_completed_at = $2,
	    streak = $3,
	    longest_streak = GREATEST(longest_streak, $3),
	    updated_at = now()
	WHERE id = $1
	`

	tag, err := s.db.Exec(ctx, query, habitID, completedAt, streak)
	if err != nil {
		return fmt.Errorf("failed to record completion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return completion.ErrNotFound
	}
	return nil
}

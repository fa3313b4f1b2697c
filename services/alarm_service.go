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
	"remindMeAPI/internal/recurrence"
	"remindMeAPI/internal/types/alarm"
)

// AlarmService owns alarm CRUD and implements completion.AlarmStore.
type AlarmService struct {
	db *pgxpool.Pool
}

func NewAlarmService(db *pgxpool.Pool) *AlarmService {
	return &AlarmService{db: db}
}

const alarmColumns = `id, owner_id, label, recurrence_rule, timezone, enabled, next_fire_at, created_at, updated_at`

func scanAlarm(row pgx.Row) (*alarm.Alarm, error) {
	a := &alarm.Alarm{}
	err := row.Scan(
		&a.ID,
		&a.OwnerID,
		&a.Label,
		&a.RecurrenceRule,
		&a.Timezone,
		&a.Enabled,
		&a.NextFireAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *AlarmService) CreateAlarm(ctx context.Context, ownerID string, req *alarm.CreateAlarmRequest) (*alarm.Alarm, error) {
	if req.Label == "" {
		return nil, fmt.Errorf("%w: alarm label is required", completion.ErrInvalidRecurrence)
	}
	if err := recurrence.Validate(req.RecurrenceRule); err != nil {
		return nil, fmt.Errorf("%w: %v", completion.ErrInvalidRecurrence, err)
	}
	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := clock.LoadLocation(timezone)
	if err != nil {
		return nil, err
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	var nextFireAt *time.Time
	if enabled {
		if next := recurrence.NextFireAfter(req.RecurrenceRule, time.Now(), loc); !next.IsZero() {
			nextFireAt = &next
		} else {
			// A ONCE rule already in the past starts out exhausted.
			enabled = false
		}
	}

	query := `
	INSERT INTO alarms (id, owner_id, label, recurrence_rule, timezone, enabled, next_fire_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
	RETURNING ` + alarmColumns

	a, err := scanAlarm(s.db.QueryRow(ctx, query, uuid.New(), ownerID, req.Label, req.RecurrenceRule, timezone, enabled, nextFireAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create alarm: %w", err)
	}
	return a, nil
}

// GetAlarm implements completion.AlarmStore.
func (s *AlarmService) GetAlarm(ctx context.Context, ownerID string, alarmID uuid.UUID) (*alarm.Alarm, error) {
	query := `SELECT ` + alarmColumns + ` FROM alarms WHERE id = $1`

	a, err := scanAlarm(s.db.QueryRow(ctx, query, alarmID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, completion.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get alarm: %w", err)
	}
	if a.OwnerID != ownerID {
		return nil, completion.ErrNotOwned
	}
	return a, nil
}

func (s *AlarmService) GetAlarms(ctx context.Context, ownerID string) ([]*alarm.Alarm, error) {
	query := `SELECT ` + alarmColumns + ` FROM alarms WHERE owner_id = $1 ORDER BY created_at`

	rows, err := s.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alarms: %w", err)
	}
	defer rows.Close()

	alarms := []*alarm.Alarm{}
	for rows.Next() {
		a, err := scanAlarm(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alarm: %w", err)
		}
		alarms = append(alarms, a)
	}
	return alarms, rows.Err()
}

func (s *AlarmService) UpdateAlarm(ctx context.Context, ownerID string, alarmID uuid.UUID, req *alarm.UpdateAlarmRequest) (*alarm.Alarm, error) {
	a, err := s.GetAlarm(ctx, ownerID, alarmID)
	if err != nil {
		return nil, err
	}

	if req.Label != nil {
		a.Label = *req.Label
	}
	if req.RecurrenceRule != nil {
		if err := recurrence.Validate(*req.RecurrenceRule); err != nil {
			return nil, fmt.Errorf("%w: %v", completion.ErrInvalidRecurrence, err)
		}
		a.RecurrenceRule = *req.RecurrenceRule
	}
	if req.Timezone != nil {
		if _, err := clock.LoadLocation(*req.Timezone); err != nil {
			return nil, err
		}
		a.Timezone = *req.Timezone
	}
	if req.Enabled != nil {
		a.Enabled = *req.Enabled
	}

	// Any edit repositions the schedule: recompute from now while enabled,
	// clear when disabled.
	a.NextFireAt = nil
	if a.Enabled {
		loc, err := clock.LoadLocation(a.Timezone)
		if err != nil {
			return nil, err
		}
		if next := recurrence.NextFireAfter(a.RecurrenceRule, time.Now(), loc); !next.IsZero() {
			a.NextFireAt = &next
		} else {
			a.Enabled = false
		}
	}

	query := `
	UPDATE alarms SET label = $2, recurrence_rule = $3, timezone = $4, enabled = $5, next_fire_at = $6, updated_at = now()
	WHERE id = $1
	RETURNING ` + alarmColumns

	updated, err := scanAlarm(s.db.QueryRow(ctx, query, a.ID, a.Label, a.RecurrenceRule, a.Timezone, a.Enabled, a.NextFireAt))
	if err != nil {
		return nil, fmt.Errorf("failed to update alarm: %w", err)
	}
	return updated, nil
}

func (s *AlarmService) DeleteAlarm(ctx context.Context, ownerID string, alarmID uuid.UUID) error {
	if _, err := s.GetAlarm(ctx, ownerID, alarmID); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM alarms WHERE id = $1`, alarmID); err != nil {
		return fmt.Errorf("failed to delete alarm: %w", err)
	}
	return nil
}

// SetNextFire implements completion.AlarmStore.
func (s *AlarmService) SetNextFire(ctx context.Context, alarmID uuid.UUID, next *time.Time, enabled bool) error {
	query := `UPDATE alarms SET next_fire_at = $2, enabled = $3, updated_at = now() WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, alarmID, next, enabled)
	if err != nil {
		return fmt.Errorf("failed to set next fire: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return completion.ErrNotFound
	}
	return nil
}

// ListDue returns enabled alarms whose next fire instant has passed.
// Used by the background poller; each hit goes through the same FireAlarm
// path as an externally delivered signal.
func (s *AlarmService) ListDue(ctx context.Context, asOf time.Time, limit int) ([]*alarm.Alarm, error) {
	query := `
	SELECT ` + alarmColumns + `
	FROM alarms
	WHERE enabled = true AND next_fire_at IS NOT NULL AND next_fire_at <= $1
	ORDER BY next_fire_at
	LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due alarms: %w", err)
	}
	defer rows.Close()

	alarms := []*alarm.Alarm{}
	for rows.Next() {
		a, err := scanAlarm(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alarm: %w", err)
		}
		alarms = append(alarms, a)
	}
	return alarms, rows.Err()
}

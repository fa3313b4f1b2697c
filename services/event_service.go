package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"remindMeAPI/internal/notification"
	"remindMeAPI/internal/types/event"
)

// PushProvider delivers push notifications for dispatched events.
type PushProvider interface {
	SendPush(ctx context.Context, tokens []notification.DeviceToken, title, body string, data map[string]any) error
}

// EventService is the durable event sink. Emit writes the event record and
// hands it to a worker pool for push delivery; both are fire-and-forget from
// the state machine's point of view.
type EventService struct {
	db           *pgxpool.Pool
	pushProvider PushProvider
	jobQueue     chan *event.Event
	stopChan     chan struct{}
	wg           sync.WaitGroup
}

func NewEventService(db *pgxpool.Pool) *EventService {
	s := &EventService{
		db:       db,
		jobQueue: make(chan *event.Event, 100),
		stopChan: make(chan struct{}),
	}

	for i := 0; i < 5; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	return s
}

// SetPushProvider injects the real FCM provider from main.go. Without one,
// events are still recorded durably but nothing is pushed.
func (s *EventService) SetPushProvider(provider PushProvider) {
	s.pushProvider = provider
}

// Emit implements completion.EventSink. Failures are logged and dropped;
// the state transition that produced the event has already committed.
func (s *EventService) Emit(ctx context.Context, e *event.Event) {
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		log.Printf("Failed to marshal event payload for %s: %v", e.EntityID, err)
		payload = []byte("{}")
	}

	query := `
	INSERT INTO events (id, owner_id, entity_id, kind, local_day_key, payload, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	if _, err := s.db.Exec(writeCtx, query, e.ID, e.OwnerID, e.EntityID, e.Kind, e.LocalDayKey, payload, e.CreatedAt); err != nil {
		log.Printf("Failed to persist %s event for %s: %v", e.Kind, e.EntityID, err)
	}

	select {
	case s.jobQueue <- e:
	default:
		log.Printf("Event dispatch queue full, dropping push for %s event %s", e.Kind, e.ID)
	}
}

// GetEvents returns the owner's recent event records, newest first.
func (s *EventService) GetEvents(ctx context.Context, ownerID string, limit int) ([]*event.Event, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}

	query := `
	SELECT id, owner_id, entity_id, kind, local_day_key, payload, created_at
	FROM events
	WHERE owner_id = $1
	ORDER BY created_at DESC
	LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*event.Event{}
	for rows.Next() {
		e := &event.Event{}
		var payload []byte
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.EntityID, &e.Kind, &e.LocalDayKey, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			e.Payload = map[string]any{}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// RegisterDevice stores a push token for the owner.
func (s *EventService) RegisterDevice(ctx context.Context, ownerID, token, platform string) error {
	query := `
	INSERT INTO device_tokens (owner_id, token, platform, created_at)
	VALUES ($1, $2, $3, now())
	ON CONFLICT (token) DO UPDATE SET owner_id = EXCLUDED.owner_id, platform = EXCLUDED.platform
	`

	if _, err := s.db.Exec(ctx, query, ownerID, token, platform); err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	return nil
}

func (s *EventService) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

func (s *EventService) worker() {
	defer s.wg.Done()
	for {
		select {
		case e := <-s.jobQueue:
			s.dispatch(e)
		case <-s.stopChan:
			return
		}
	}
}

func (s *EventService) dispatch(e *event.Event) {
	if s.pushProvider == nil {
		return
	}

	title, body := pushText(e)
	if title == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tokens, err := s.deviceTokens(ctx, e.OwnerID)
	if err != nil {
		log.Printf("Failed to load device tokens for %s: %v", e.OwnerID, err)
		return
	}
	if len(tokens) == 0 {
		return
	}

	if err := s.pushProvider.SendPush(ctx, tokens, title, body, e.Payload); err != nil {
		log.Printf("Failed to push %s event %s: %v", e.Kind, e.ID, err)
	}
}

// pushText maps event kinds to notification copy. Kinds with no copy are
// recorded but never pushed.
func pushText(e *event.Event) (string, string) {
	switch e.Kind {
	case event.KindAlarmFired:
		label, _ := e.Payload["label"].(string)
		return "Alarm", label
	case event.KindStreakMilestone:
		name, _ := e.Payload["habit_name"].(string)
		return "Streak milestone!", fmt.Sprintf("%v days of %s", e.Payload["streak"], name)
	default:
		return "", ""
	}
}

func (s *EventService) deviceTokens(ctx context.Context, ownerID string) ([]notification.DeviceToken, error) {
	rows, err := s.db.Query(ctx, `SELECT token, platform FROM device_tokens WHERE owner_id = $1`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := []notification.DeviceToken{}
	for rows.Next() {
		var t notification.DeviceToken
		if err := rows.Scan(&t.Token, &t.Platform); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

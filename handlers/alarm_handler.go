package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"remindMeAPI/internal/completion"
	"remindMeAPI/internal/types/alarm"
	"remindMeAPI/middleware"
	"remindMeAPI/services"
)

type AlarmHandler struct {
	alarmService *services.AlarmService
	processor    *completion.Processor
}

func NewAlarmHandler(alarmService *services.AlarmService, processor *completion.Processor) *AlarmHandler {
	return &AlarmHandler{
		alarmService: alarmService,
		processor:    processor,
	}
}

// POST /api/v1/alarms
func (h *AlarmHandler) CreateAlarm(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ownerID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req alarm.CreateAlarmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	created, err := h.alarmService.CreateAlarm(ctx, ownerID, &req)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, created)
}

// GET /api/v1/alarms
func (h *AlarmHandler) GetAlarms(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ownerID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	alarms, err := h.alarmService.GetAlarms(ctx, ownerID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, alarms)
}

// GET /api/v1/alarms/{id}
func (h *AlarmHandler) GetAlarm(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ownerID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	alarmID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid alarm id")
		return
	}

	found, err := h.alarmService.GetAlarm(ctx, ownerID, alarmID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, found)
}

// PUT /api/v1/alarms/{id}
func (h *AlarmHandler) UpdateAlarm(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ownerID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	alarmID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid alarm id")
		return
	}

	var req alarm.UpdateAlarmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	updated, err := h.alarmService.UpdateAlarm(ctx, ownerID, alarmID, &req)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, updated)
}

// DELETE /api/v1/alarms/{id}
func (h *AlarmHandler) DeleteAlarm(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ownerID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	alarmID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid alarm id")
		return
	}

	if err := h.alarmService.DeleteAlarm(ctx, ownerID, alarmID); err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// POST /api/v1/alarms/{id}/fire
// Duplicate deliveries inside the dedup window come back as accepted with
// deduplicated=true, never as errors.
func (h *AlarmHandler) FireAlarm(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	ownerID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	alarmID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid alarm id")
		return
	}

	result, err := h.processor.FireAlarm(ctx, ownerID, alarmID, time.Now())
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	middleware.CountFire(result)
	respondWithJSON(w, http.StatusOK, result)
}

// POST /api/v1/alarms/{id}/dismiss
func (h *AlarmHandler) DismissAlarm(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	ownerID, ok := middleware.GetClerkID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	alarmID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid alarm id")
		return
	}

	var req alarm.DismissAlarmRequest
	if r.Body != nil {
		// Missing or empty body means a plain dismiss.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	result, err := h.processor.DismissAlarm(ctx, ownerID, alarmID, time.Now(), req.SnoozeMinutes)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"remindMeAPI/internal/clock"
	"remindMeAPI/internal/completion"
	"remindMeAPI/internal/lock"
)

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithServiceError maps the error taxonomy onto HTTP statuses.
// Lock-service outages answer 503 so clients retry the whole operation,
// which the idempotency design makes safe.
func respondWithServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, completion.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, completion.ErrNotOwned):
		respondWithError(w, http.StatusForbidden, "Not yours")
	case errors.Is(err, completion.ErrInvalidRecurrence):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, clock.ErrInvalidTimezone):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, lock.ErrUnavailable):
		w.Header().Set("Retry-After", "1")
		respondWithError(w, http.StatusServiceUnavailable, "Temporarily unavailable, retry")
	default:
		respondWithError(w, http.StatusInternalServerError, err.Error())
	}
}

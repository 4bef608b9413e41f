// Package handlers holds the narrow HTTP surface SPEC_FULL.md §6 puts in
// scope: the WebSocket upgrade, health checks, and Prometheus exposition.
// The REST CRUD controllers the teacher built around SessionStore,
// MessageStore, ChatStore, and ContactStore are an explicit non-goal here;
// this package's job is getting an authenticated socket onto the Hub.
package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"chatcore/internal/apperrors"
)

// RespondWithError writes a JSON error body shaped by the error's
// apperrors.Kind, following the teacher's RespondWithError convention
// generalized to the tagged-variant error design.
func RespondWithError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		log.Printf("[handlers] non-apperrors error reached the HTTP boundary: %v", err)
		RespondWithJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if appErr.Kind == apperrors.Internal || appErr.Kind == apperrors.ServiceUnavailable {
		log.Printf("[handlers] responding with %s: %v", appErr.Kind, err)
	}
	RespondWithJSON(w, apperrors.ToHTTP(appErr.Kind), appErr)
}

// RespondWithJSON marshals payload and writes it with the given status code.
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[handlers] failed to marshal JSON response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"failed to serialize response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	w.Write(body)
}

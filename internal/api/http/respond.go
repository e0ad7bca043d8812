package http

import (
	"encoding/json"
	"errors"
	"net/http"

	authmw "github.com/mind-engage/provas/internal/auth/middleware"
	"github.com/mind-engage/provas/internal/docstore"
	"github.com/mind-engage/provas/internal/exam"
	"github.com/mind-engage/provas/internal/identity"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP codes; anything unknown gets fallback.
func statusFor(err error, fallback int) int {
	switch {
	case errors.Is(err, exam.ErrMalformedExam):
		return http.StatusUnprocessableEntity
	case errors.Is(err, exam.ErrNotInProgress),
		errors.Is(err, exam.ErrFinishInFlight),
		errors.Is(err, exam.ErrKeyFrozen):
		return http.StatusConflict
	case errors.Is(err, exam.ErrAutosave):
		return http.StatusServiceUnavailable
	case errors.Is(err, exam.ErrInvalidAnswer),
		errors.Is(err, exam.ErrInvalidRecord),
		errors.Is(err, docstore.ErrBadPath):
		return http.StatusBadRequest
	case errors.Is(err, exam.ErrProvaNotFound),
		errors.Is(err, exam.ErrAttemptNotFound),
		errors.Is(err, exam.ErrUnknownQuestion),
		errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, identity.ErrAuthFailed):
		return http.StatusUnauthorized
	}
	return fallback
}

func writeError(w http.ResponseWriter, err error, fallback int) {
	http.Error(w, err.Error(), statusFor(err, fallback))
}

// currentUser is the signed-in student behind the request.
func currentUser(w http.ResponseWriter, r *http.Request) (identity.User, bool) {
	c := authmw.ClaimsFromContext(r.Context())
	if c == nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return identity.User{}, false
	}
	return c.User(), true
}

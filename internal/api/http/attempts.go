package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/provas/internal/exam"
)

// GET /provas
func ListProvasHandler(ed *exam.Editor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ps, err := ed.Provas(r.Context())
		if err != nil {
			writeError(w, err, http.StatusInternalServerError)
			return
		}
		if ps == nil {
			ps = []exam.Prova{}
		}
		writeJSON(w, http.StatusOK, ps)
	}
}

// POST /provas/{provaID}/attempt starts the clock on first call and resumes
// it afterwards.
func OpenAttemptHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := currentUser(w, r)
		if !ok {
			return
		}
		_, v, err := svc.Open(r.Context(), chi.URLParam(r, "provaID"), u)
		if err != nil {
			writeError(w, err, http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// GET /provas/{provaID}/attempt never creates an attempt; before the first
// Open it reports not_started. A stored attempt stays readable after its
// prova is deleted.
func GetAttemptHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := currentUser(w, r)
		if !ok {
			return
		}
		provaID := chi.URLParam(r, "provaID")
		a, err := svc.Repo().Attempt(r.Context(), exam.AttemptID(u.ID, provaID))
		if errors.Is(err, exam.ErrAttemptNotFound) {
			p, err := svc.Repo().Prova(r.Context(), provaID)
			if err != nil {
				writeError(w, err, http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, exam.View{State: exam.StateNotStarted, Prova: p})
			return
		}
		if err != nil {
			writeError(w, err, http.StatusServiceUnavailable)
			return
		}
		_, v, err := svc.Resume(r.Context(), a, u)
		if err != nil {
			writeError(w, err, http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// PUT /provas/{provaID}/attempt/answers/{questionID}  { "letter": "C" }
// A failed autosave answers 503 with the view, so the client can show which
// answers are not saved yet.
func AnswerHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := currentUser(w, r)
		if !ok {
			return
		}
		var req struct {
			Letter string `json:"letter"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		v, err := svc.RecordAnswer(r.Context(), chi.URLParam(r, "provaID"), u, chi.URLParam(r, "questionID"), req.Letter)
		if errors.Is(err, exam.ErrAutosave) {
			writeJSON(w, http.StatusServiceUnavailable, v)
			return
		}
		if err != nil {
			writeError(w, err, http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// POST /provas/{provaID}/attempt/flush
func FlushHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := currentUser(w, r)
		if !ok {
			return
		}
		v, err := svc.Flush(r.Context(), chi.URLParam(r, "provaID"), u)
		if errors.Is(err, exam.ErrAutosave) {
			writeJSON(w, http.StatusServiceUnavailable, v)
			return
		}
		if err != nil {
			writeError(w, err, http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// POST /provas/{provaID}/attempt/finish
func FinishHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := currentUser(w, r)
		if !ok {
			return
		}
		v, err := svc.Finish(r.Context(), chi.URLParam(r, "provaID"), u, exam.ReasonManual)
		if err != nil {
			// the attempt is still in progress; the student may retry
			writeError(w, err, http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

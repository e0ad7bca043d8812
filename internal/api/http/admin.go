package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/provas/internal/exam"
)

type provaRequest struct {
	Name string `json:"name"`
	Day  string `json:"day"`
}

// GET /admin/provas
func AdminProvasHandler(ed *exam.Editor) http.HandlerFunc {
	return ListProvasHandler(ed)
}

// POST /admin/provas  { "name": "ENEM", "day": "1" }
func CreateProvaHandler(ed *exam.Editor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req provaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		p, err := ed.CreateProva(r.Context(), req.Name, req.Day)
		if err != nil {
			writeError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

// PUT /admin/provas/{provaID}
func UpdateProvaHandler(ed *exam.Editor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req provaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		p, err := ed.UpdateProva(r.Context(), chi.URLParam(r, "provaID"), req.Name, req.Day)
		if err != nil {
			writeError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// DELETE /admin/provas/{provaID}
func DeleteProvaHandler(ed *exam.Editor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := ed.DeleteProva(r.Context(), chi.URLParam(r, "provaID")); err != nil {
			writeError(w, err, http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /admin/provas/{provaID}/questions, key included.
func ListQuestionsHandler(ed *exam.Editor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qs, err := ed.Questions(r.Context(), chi.URLParam(r, "provaID"))
		if err != nil {
			writeError(w, err, http.StatusInternalServerError)
			return
		}
		if qs == nil {
			qs = []exam.Question{}
		}
		writeJSON(w, http.StatusOK, qs)
	}
}

// POST /admin/provas/{provaID}/questions
func AddQuestionHandler(ed *exam.Editor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q exam.Question
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		saved, err := ed.AddQuestion(r.Context(), chi.URLParam(r, "provaID"), q)
		if err != nil {
			writeError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

// PUT /admin/provas/{provaID}/questions/{questionID}
func UpdateQuestionHandler(ed *exam.Editor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q exam.Question
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		saved, err := ed.UpdateQuestion(r.Context(), chi.URLParam(r, "provaID"), chi.URLParam(r, "questionID"), q)
		if err != nil {
			writeError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

// DELETE /admin/provas/{provaID}/questions/{questionID}
func DeleteQuestionHandler(ed *exam.Editor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := ed.DeleteQuestion(r.Context(), chi.URLParam(r, "provaID"), chi.URLParam(r, "questionID")); err != nil {
			writeError(w, err, http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /admin/results
func ResultsHandler(ed *exam.Editor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := ed.Results(r.Context())
		if err != nil {
			writeError(w, err, http.StatusInternalServerError)
			return
		}
		if res == nil {
			res = []exam.Attempt{}
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// DELETE /admin/results/{attemptID} lets the student start over.
func ResetAttemptHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Reset(r.Context(), chi.URLParam(r, "attemptID")); err != nil {
			writeError(w, err, http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /admin/results/{attemptID}/audit
func AuditHandler(svc *exam.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := svc.Audit(r.Context(), chi.URLParam(r, "attemptID"))
		if err != nil {
			writeError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

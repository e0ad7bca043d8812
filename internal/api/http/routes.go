package http

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/provas/internal/exam"
	"github.com/mind-engage/provas/internal/identity"
	"github.com/mind-engage/provas/internal/rbac"
)

// MountStudent mounts the attempt flow. Callers put JWT auth in front.
func MountStudent(r chi.Router, svc *exam.Service, ed *exam.Editor) {
	r.With(rbac.RequireAny("prova:view", "prova:manage")).Get("/provas", ListProvasHandler(ed))
	r.Route("/provas/{provaID}/attempt", func(ar chi.Router) {
		ar.With(rbac.Require("attempt:open")).Post("/", OpenAttemptHandler(svc))
		ar.With(rbac.Require("attempt:view-own")).Get("/", GetAttemptHandler(svc))
		ar.With(rbac.Require("attempt:answer")).Put("/answers/{questionID}", AnswerHandler(svc))
		ar.With(rbac.Require("attempt:answer")).Post("/flush", FlushHandler(svc))
		ar.With(rbac.Require("attempt:finish")).Post("/finish", FinishHandler(svc))
	})
}

// MountTicks is kept apart from MountStudent: the stream outlives any
// request timeout.
func MountTicks(r chi.Router, svc *exam.Service, sessions *identity.Sessions, origins []string, poll time.Duration) {
	r.With(rbac.Require("attempt:view-own")).
		Get("/provas/{provaID}/attempt/ticks", TicksHandler(svc, sessions, origins, poll))
}

func MountAdmin(r chi.Router, svc *exam.Service, ed *exam.Editor) {
	r.Route("/admin", func(ar chi.Router) {
		ar.Use(rbac.Require("prova:manage"))

		ar.Get("/provas", AdminProvasHandler(ed))
		ar.Post("/provas", CreateProvaHandler(ed))
		ar.Put("/provas/{provaID}", UpdateProvaHandler(ed))
		ar.Delete("/provas/{provaID}", DeleteProvaHandler(ed))

		ar.Get("/provas/{provaID}/questions", ListQuestionsHandler(ed))
		ar.Post("/provas/{provaID}/questions", AddQuestionHandler(ed))
		ar.Put("/provas/{provaID}/questions/{questionID}", UpdateQuestionHandler(ed))
		ar.Delete("/provas/{provaID}/questions/{questionID}", DeleteQuestionHandler(ed))

		ar.Get("/results", ResultsHandler(ed))
		ar.Delete("/results/{attemptID}", ResetAttemptHandler(svc))
		ar.Get("/results/{attemptID}/audit", AuditHandler(svc))
	})
}

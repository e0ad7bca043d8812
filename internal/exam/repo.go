package exam

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mind-engage/provas/internal/docstore"
	"github.com/mind-engage/provas/internal/grading"
)

const (
	colProvas  = "provas"
	colResults = "results"
)

var validate = validator.New()

func questionsCollection(name, day string) string {
	return docstore.Join("exams", name, "days", day, "questions")
}

// Repo maps exam records onto document paths:
//
//	provas/{provaID}
//	exams/{name}/days/{day}/questions/{questionID}
//	results/{userID}-{provaID}
type Repo struct {
	store docstore.Store
}

func NewRepo(s docstore.Store) *Repo { return &Repo{store: s} }

// ---- provas ----

func (r *Repo) Prova(ctx context.Context, id string) (Prova, error) {
	doc, err := r.store.Get(ctx, docstore.Join(colProvas, id))
	if errors.Is(err, docstore.ErrNotFound) {
		return Prova{}, ErrProvaNotFound
	}
	if err != nil {
		return Prova{}, err
	}
	return provaFromDoc(doc), nil
}

// Provas lists every prova, most recently edited first.
func (r *Repo) Provas(ctx context.Context) ([]Prova, error) {
	docs, err := r.store.Query(ctx, colProvas, "updatedAt", docstore.Desc)
	if err != nil {
		return nil, err
	}
	out := make([]Prova, 0, len(docs))
	for _, d := range docs {
		out = append(out, provaFromDoc(d))
	}
	return out, nil
}

func (r *Repo) PutProva(ctx context.Context, p Prova) (Prova, error) {
	if err := validate.Struct(p); err != nil {
		return Prova{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	fields := map[string]any{
		"name":          p.Name,
		"day":           p.Day,
		"questionCount": p.QuestionCount,
		"updatedAt":     docstore.ServerTimestamp,
	}
	if err := r.store.Set(ctx, docstore.Join(colProvas, p.ID), fields, false); err != nil {
		return Prova{}, err
	}
	return r.Prova(ctx, p.ID)
}

func (r *Repo) DeleteProva(ctx context.Context, id string) error {
	return r.store.Delete(ctx, docstore.Join(colProvas, id))
}

// RefreshQuestionCount rewrites the cached count on every prova that points
// at the (name, day) bucket.
func (r *Repo) RefreshQuestionCount(ctx context.Context, name, day string) error {
	qs, err := r.Questions(ctx, name, day)
	if err != nil {
		return err
	}
	provas, err := r.Provas(ctx)
	if err != nil {
		return err
	}
	for _, p := range provas {
		if p.Name != name || p.Day != day || p.QuestionCount == len(qs) {
			continue
		}
		patch := map[string]any{"questionCount": len(qs)}
		if err := r.store.Set(ctx, docstore.Join(colProvas, p.ID), patch, true); err != nil {
			return err
		}
	}
	return nil
}

func provaFromDoc(d docstore.Document) Prova {
	p := Prova{
		ID:            d.ID,
		Name:          docstore.String(d.Fields, "name"),
		Day:           docstore.String(d.Fields, "day"),
		QuestionCount: docstore.Int(d.Fields, "questionCount"),
	}
	p.UpdatedAt, _ = docstore.Time(d.Fields, "updatedAt")
	return p
}

// ---- questions ----

// Questions returns the bucket in creation order. Questions written without
// a createdAt are not listed.
func (r *Repo) Questions(ctx context.Context, name, day string) ([]Question, error) {
	docs, err := r.store.Query(ctx, questionsCollection(name, day), "createdAt", docstore.Asc)
	if err != nil {
		return nil, err
	}
	out := make([]Question, 0, len(docs))
	for _, d := range docs {
		out = append(out, questionFromDoc(d))
	}
	return out, nil
}

func (r *Repo) Question(ctx context.Context, name, day, id string) (Question, error) {
	doc, err := r.store.Get(ctx, docstore.Join(questionsCollection(name, day), id))
	if err != nil {
		return Question{}, err
	}
	return questionFromDoc(doc), nil
}

// PutQuestion creates the question when q.ID is empty and replaces it
// otherwise, keeping its original createdAt.
func (r *Repo) PutQuestion(ctx context.Context, name, day string, q Question) (Question, error) {
	if err := ValidateQuestion(q); err != nil {
		return Question{}, err
	}
	coll := questionsCollection(name, day)
	fields := questionFields(q)
	if q.ID == "" {
		q.ID = uuid.NewString()
		fields["createdAt"] = docstore.ServerTimestamp
		if err := r.store.Create(ctx, docstore.Join(coll, q.ID), fields); err != nil {
			return Question{}, err
		}
	} else {
		prev, err := r.Question(ctx, name, day, q.ID)
		if err != nil {
			return Question{}, err
		}
		fields["createdAt"] = prev.CreatedAt
		if prev.CreatedAt.IsZero() {
			fields["createdAt"] = docstore.ServerTimestamp
		}
		if err := r.store.Set(ctx, docstore.Join(coll, q.ID), fields, false); err != nil {
			return Question{}, err
		}
	}
	return r.Question(ctx, name, day, q.ID)
}

func (r *Repo) DeleteQuestion(ctx context.Context, name, day, id string) error {
	return r.store.Delete(ctx, docstore.Join(questionsCollection(name, day), id))
}

func ValidateQuestion(q Question) error {
	if err := validate.Struct(q); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

// CheckQuestions rejects a bucket that cannot be taken or scored: it must be
// non-empty and every question complete with a key among A-E.
func CheckQuestions(qs []Question) error {
	if len(qs) == 0 {
		return fmt.Errorf("%w: no questions", ErrMalformedExam)
	}
	seen := map[string]bool{}
	for _, q := range qs {
		if seen[q.ID] {
			return fmt.Errorf("%w: duplicate question %s", ErrMalformedExam, q.ID)
		}
		seen[q.ID] = true
		if err := validate.Struct(q); err != nil {
			return fmt.Errorf("%w: question %s: %v", ErrMalformedExam, q.ID, err)
		}
	}
	return nil
}

func questionFields(q Question) map[string]any {
	f := map[string]any{
		"text": q.Text,
		"options": map[string]any{
			"A": q.Options.A, "B": q.Options.B, "C": q.Options.C, "D": q.Options.D, "E": q.Options.E,
		},
		"correct": q.Correct,
	}
	if q.Tema != "" {
		f["tema"] = q.Tema
	}
	if q.ImageData != "" {
		f["imageData"] = q.ImageData
	}
	return f
}

func questionFromDoc(d docstore.Document) Question {
	opts := docstore.StringMap(d.Fields, "options")
	q := Question{
		ID:      d.ID,
		Text:    docstore.String(d.Fields, "text"),
		Correct: docstore.String(d.Fields, "correct"),
		Options: Choices{
			A: opts["A"], B: opts["B"], C: opts["C"], D: opts["D"], E: opts["E"],
		},
		Tema:      docstore.String(d.Fields, "tema"),
		ImageData: docstore.String(d.Fields, "imageData"),
	}
	q.CreatedAt, _ = docstore.Time(d.Fields, "createdAt")
	return q
}

// ---- attempts ----

func attemptPath(id string) string { return docstore.Join(colResults, id) }

func (r *Repo) Attempt(ctx context.Context, id string) (Attempt, error) {
	doc, err := r.store.Get(ctx, attemptPath(id))
	if errors.Is(err, docstore.ErrNotFound) {
		return Attempt{}, ErrAttemptNotFound
	}
	if err != nil {
		return Attempt{}, err
	}
	return attemptFromDoc(doc), nil
}

// CreateAttempt writes the initial record with a server-assigned startedAt.
// A concurrent creator wins silently: the caller re-reads either way.
func (r *Repo) CreateAttempt(ctx context.Context, a Attempt) error {
	fields := map[string]any{
		"studentId":    a.StudentID,
		"studentName":  a.StudentName,
		"studentEmail": a.StudentEmail,
		"examId":       a.ExamID,
		"examName":     a.ExamName,
		"examDay":      a.ExamDay,
		"answers":      map[string]any{},
		"score":        0,
		"total":        a.Total,
		"startedAt":    docstore.ServerTimestamp,
	}
	err := r.store.Create(ctx, attemptPath(a.ID), fields)
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return nil
	}
	return err
}

// SaveAnswer merges one answer into the record without touching the others.
// A record removed by a reset is not recreated; the error wraps
// docstore.ErrNotFound.
func (r *Repo) SaveAnswer(ctx context.Context, id, questionID, letter string) error {
	patch := map[string]any{"answers": map[string]any{questionID: letter}}
	return r.store.Update(ctx, attemptPath(id), patch)
}

// SaveFinish is the single finishing write.
func (r *Repo) SaveFinish(ctx context.Context, id string, answers map[string]string, res grading.Result, reason Reason) error {
	ans := make(map[string]any, len(answers))
	for k, v := range answers {
		ans[k] = v
	}
	patch := map[string]any{
		"answers":      ans,
		"score":        res.Score,
		"total":        res.Total,
		"finishReason": string(reason),
		"finishedAt":   docstore.ServerTimestamp,
	}
	return r.store.Update(ctx, attemptPath(id), patch)
}

func (r *Repo) DeleteAttempt(ctx context.Context, id string) error {
	return r.store.Delete(ctx, attemptPath(id))
}

// FinishedAttempts lists finished attempts, newest first.
func (r *Repo) FinishedAttempts(ctx context.Context) ([]Attempt, error) {
	docs, err := r.store.Query(ctx, colResults, "finishedAt", docstore.Desc)
	if err != nil {
		return nil, err
	}
	return attemptsFromDocs(docs), nil
}

// StartedAttempts lists every attempt in start order, finished or not.
func (r *Repo) StartedAttempts(ctx context.Context) ([]Attempt, error) {
	docs, err := r.store.Query(ctx, colResults, "startedAt", docstore.Asc)
	if err != nil {
		return nil, err
	}
	return attemptsFromDocs(docs), nil
}

// HasAttempts reports whether anyone has started a prova drawing from the
// (name, day) bucket.
func (r *Repo) HasAttempts(ctx context.Context, name, day string) (bool, error) {
	all, err := r.StartedAttempts(ctx)
	if err != nil {
		return false, err
	}
	for _, a := range all {
		if a.ExamName == name && a.ExamDay == day {
			return true, nil
		}
	}
	return false, nil
}

func attemptsFromDocs(docs []docstore.Document) []Attempt {
	out := make([]Attempt, 0, len(docs))
	for _, d := range docs {
		out = append(out, attemptFromDoc(d))
	}
	return out
}

func attemptFromDoc(d docstore.Document) Attempt {
	a := Attempt{
		ID:           d.ID,
		StudentID:    docstore.String(d.Fields, "studentId"),
		StudentName:  docstore.String(d.Fields, "studentName"),
		StudentEmail: docstore.String(d.Fields, "studentEmail"),
		ExamID:       docstore.String(d.Fields, "examId"),
		ExamName:     docstore.String(d.Fields, "examName"),
		ExamDay:      docstore.String(d.Fields, "examDay"),
		Answers:      docstore.StringMap(d.Fields, "answers"),
		Score:        docstore.Int(d.Fields, "score"),
		Total:        docstore.Int(d.Fields, "total"),
		FinishReason: Reason(docstore.String(d.Fields, "finishReason")),
	}
	a.StartedAt, _ = docstore.Time(d.Fields, "startedAt")
	if t, ok := docstore.Time(d.Fields, "finishedAt"); ok {
		a.FinishedAt = &t
	}
	return a
}

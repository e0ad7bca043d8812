package exam

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/mind-engage/provas/internal/docstore"
)

// Editor is the admin side of exam content. Once anyone has started a prova
// drawing from a bucket, the answer key of that bucket is frozen: questions
// can be reworded but not re-keyed or removed.
type Editor struct {
	repo *Repo
}

func NewEditor(repo *Repo) *Editor { return &Editor{repo: repo} }

func (e *Editor) Provas(ctx context.Context) ([]Prova, error) { return e.repo.Provas(ctx) }

func (e *Editor) Prova(ctx context.Context, id string) (Prova, error) { return e.repo.Prova(ctx, id) }

func (e *Editor) CreateProva(ctx context.Context, name, day string) (Prova, error) {
	if err := validateBucket(name, day); err != nil {
		return Prova{}, err
	}
	qs, err := e.repo.Questions(ctx, name, day)
	if err != nil {
		return Prova{}, err
	}
	return e.repo.PutProva(ctx, Prova{Name: name, Day: day, QuestionCount: len(qs)})
}

// UpdateProva renames a prova or points it at another bucket. Moving a prova
// that already has attempts would orphan their scoring, so it is refused.
func (e *Editor) UpdateProva(ctx context.Context, id, name, day string) (Prova, error) {
	if err := validateBucket(name, day); err != nil {
		return Prova{}, err
	}
	cur, err := e.repo.Prova(ctx, id)
	if err != nil {
		return Prova{}, err
	}
	if cur.Name != name || cur.Day != day {
		started, err := e.repo.HasAttempts(ctx, cur.Name, cur.Day)
		if err != nil {
			return Prova{}, err
		}
		if started {
			return Prova{}, fmt.Errorf("%w: prova %s", ErrKeyFrozen, id)
		}
	}
	qs, err := e.repo.Questions(ctx, name, day)
	if err != nil {
		return Prova{}, err
	}
	return e.repo.PutProva(ctx, Prova{ID: id, Name: name, Day: day, QuestionCount: len(qs)})
}

// DeleteProva removes the prova only; its bucket and results stay.
func (e *Editor) DeleteProva(ctx context.Context, id string) error {
	if _, err := e.repo.Prova(ctx, id); err != nil {
		return err
	}
	return e.repo.DeleteProva(ctx, id)
}

func (e *Editor) Questions(ctx context.Context, provaID string) ([]Question, error) {
	p, err := e.repo.Prova(ctx, provaID)
	if err != nil {
		return nil, err
	}
	return e.repo.Questions(ctx, p.Name, p.Day)
}

func (e *Editor) AddQuestion(ctx context.Context, provaID string, q Question) (Question, error) {
	p, err := e.repo.Prova(ctx, provaID)
	if err != nil {
		return Question{}, err
	}
	// a new question changes the total of every existing attempt
	if err := e.checkUnfrozen(ctx, p); err != nil {
		return Question{}, err
	}
	q.ID = ""
	saved, err := e.repo.PutQuestion(ctx, p.Name, p.Day, q)
	if err != nil {
		return Question{}, err
	}
	e.refresh(ctx, p)
	return saved, nil
}

func (e *Editor) UpdateQuestion(ctx context.Context, provaID, questionID string, q Question) (Question, error) {
	p, err := e.repo.Prova(ctx, provaID)
	if err != nil {
		return Question{}, err
	}
	prev, err := e.repo.Question(ctx, p.Name, p.Day, questionID)
	if err != nil {
		return Question{}, err
	}
	if prev.Correct != q.Correct {
		if err := e.checkUnfrozen(ctx, p); err != nil {
			return Question{}, err
		}
	}
	q.ID = questionID
	return e.repo.PutQuestion(ctx, p.Name, p.Day, q)
}

func (e *Editor) DeleteQuestion(ctx context.Context, provaID, questionID string) error {
	p, err := e.repo.Prova(ctx, provaID)
	if err != nil {
		return err
	}
	if _, err := e.repo.Question(ctx, p.Name, p.Day, questionID); err != nil {
		return err
	}
	if err := e.checkUnfrozen(ctx, p); err != nil {
		return err
	}
	if err := e.repo.DeleteQuestion(ctx, p.Name, p.Day, questionID); err != nil {
		return err
	}
	e.refresh(ctx, p)
	return nil
}

// Results lists finished attempts, newest first.
func (e *Editor) Results(ctx context.Context) ([]Attempt, error) {
	return e.repo.FinishedAttempts(ctx)
}

// validateBucket runs before the name and day are used in document paths.
func validateBucket(name, day string) error {
	if err := validate.Struct(Prova{Name: name, Day: day}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

func (e *Editor) checkUnfrozen(ctx context.Context, p Prova) error {
	started, err := e.repo.HasAttempts(ctx, p.Name, p.Day)
	if err != nil {
		return err
	}
	if started {
		return fmt.Errorf("%w: %s/%s", ErrKeyFrozen, p.Name, p.Day)
	}
	return nil
}

// refresh is best effort: the count is a display cache.
func (e *Editor) refresh(ctx context.Context, p Prova) {
	if err := e.repo.RefreshQuestionCount(ctx, p.Name, p.Day); err != nil && !errors.Is(err, docstore.ErrNotFound) {
		log.Printf("[editor] refresh question count %s/%s: %v", p.Name, p.Day, err)
	}
}

package exam

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mind-engage/provas/internal/docstore"
	"github.com/mind-engage/provas/internal/grading"
	"github.com/mind-engage/provas/internal/identity"
	"github.com/mind-engage/provas/internal/metrics"
)

const (
	DefaultDuration     = 6 * time.Hour
	DefaultUrgentWindow = 30 * time.Minute
)

type MachineOptions struct {
	Duration     time.Duration
	UrgentWindow time.Duration
	Now          func() time.Time
	Guard        Guard
}

func (o MachineOptions) withDefaults() MachineOptions {
	if o.Duration <= 0 {
		o.Duration = DefaultDuration
	}
	if o.UrgentWindow <= 0 {
		o.UrgentWindow = DefaultUrgentWindow
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Guard == nil {
		o.Guard = LocalGuard{}
	}
	return o
}

type slot struct {
	letter string
	status SaveStatus
	seq    uint64
}

// Machine drives one student's attempt at one prova through
// not_started -> in_progress -> finished. The persisted record is the source
// of truth; the machine holds the question set, the local answer cache and
// the timer.
type Machine struct {
	repo *Repo
	opts MachineOptions

	openMu sync.Mutex
	// saveMu orders answer writes so the store ends with the latest letter.
	saveMu sync.Mutex

	mu        sync.Mutex
	state     State
	finishing bool
	prova     Prova
	questions []Question
	index     map[string]int
	attempt   Attempt
	slots     map[string]*slot
	seq       uint64
	timer     *Timer
}

func NewMachine(repo *Repo, opts MachineOptions) *Machine {
	return &Machine{
		repo:  repo,
		opts:  opts.withDefaults(),
		state: StateNotStarted,
		slots: map[string]*slot{},
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Timer is nil unless the attempt was opened in progress.
func (m *Machine) Timer() *Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer
}

func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

// Open loads the question set and creates or resumes the attempt record.
// Opening an already open machine just returns its view.
func (m *Machine) Open(ctx context.Context, prova Prova, student identity.User) (View, error) {
	m.openMu.Lock()
	defer m.openMu.Unlock()

	m.mu.Lock()
	if m.state != StateNotStarted {
		v := m.viewLocked()
		m.mu.Unlock()
		return v, nil
	}
	m.mu.Unlock()

	qs, err := m.repo.Questions(ctx, prova.Name, prova.Day)
	if err != nil {
		return View{}, fmt.Errorf("load questions %s/%s: %w", prova.Name, prova.Day, err)
	}
	if err := CheckQuestions(qs); err != nil {
		return View{}, err
	}

	id := AttemptID(student.ID, prova.ID)
	a, err := m.repo.Attempt(ctx, id)
	if errors.Is(err, ErrAttemptNotFound) {
		err = m.repo.CreateAttempt(ctx, Attempt{
			ID:           id,
			StudentID:    student.ID,
			StudentName:  student.DisplayName,
			StudentEmail: student.Email,
			ExamID:       prova.ID,
			ExamName:     prova.Name,
			ExamDay:      prova.Day,
			Total:        len(qs),
		})
		if err == nil {
			// re-read: whoever created first owns startedAt
			a, err = m.repo.Attempt(ctx, id)
		}
	}
	if err != nil {
		return View{}, fmt.Errorf("open attempt %s: %w", id, err)
	}
	if a.StartedAt.IsZero() {
		log.Printf("[exam] attempt %s has no startedAt; counting from now", id)
		a.StartedAt = m.opts.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.prova = prova
	m.questions = qs
	m.index = make(map[string]int, len(qs))
	for i, q := range qs {
		m.index[q.ID] = i
	}
	m.adoptLocked(a)
	if m.state == StateInProgress {
		m.timer = NewTimer(a.StartedAt, m.opts.Duration, m.opts.UrgentWindow, m.expire)
	}
	metrics.AttemptsOpened.Inc()
	return m.viewLocked(), nil
}

// RecordAnswer caches the answer locally and writes it through. A failed
// write keeps the answer (status failed) and returns ErrAutosave; Flush
// retries it.
func (m *Machine) RecordAnswer(ctx context.Context, questionID, letter string) (View, error) {
	m.mu.Lock()
	if m.state != StateInProgress || m.finishing || m.remainingLocked() == 0 {
		m.mu.Unlock()
		return View{}, ErrNotInProgress
	}
	if _, ok := m.index[questionID]; !ok {
		m.mu.Unlock()
		return View{}, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if !grading.ValidLetter(letter) {
		m.mu.Unlock()
		return View{}, fmt.Errorf("%w: %q", ErrInvalidAnswer, letter)
	}
	m.seq++
	m.slots[questionID] = &slot{letter: letter, status: SavePending, seq: m.seq}
	m.mu.Unlock()

	err := m.saveSlot(ctx, questionID)
	return m.View(), err
}

// Flush retries every answer that has not reached the store yet.
func (m *Machine) Flush(ctx context.Context) (View, error) {
	m.mu.Lock()
	var ids []string
	for qid, s := range m.slots {
		if s.status != SaveSynced {
			ids = append(ids, qid)
		}
	}
	m.mu.Unlock()

	var firstErr error
	for _, qid := range ids {
		if err := m.saveSlot(ctx, qid); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return m.View(), firstErr
}

func (m *Machine) saveSlot(ctx context.Context, questionID string) error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.Lock()
	s, ok := m.slots[questionID]
	if !ok || m.state != StateInProgress || m.finishing {
		// a running finish carries the cached answers itself
		m.mu.Unlock()
		return nil
	}
	letter, seq, id := s.letter, s.seq, m.attempt.ID
	m.mu.Unlock()

	err := m.repo.SaveAnswer(ctx, id, questionID, letter)

	m.mu.Lock()
	if errors.Is(err, docstore.ErrNotFound) {
		// the record was reset underneath us
		if m.attempt.ID == id {
			m.resetLocked()
		}
		m.mu.Unlock()
		return fmt.Errorf("%w: attempt %s was reset", ErrNotInProgress, id)
	}
	if cur := m.slots[questionID]; cur != nil && cur.seq == seq {
		if err == nil {
			cur.status = SaveSynced
		} else {
			cur.status = SaveFailed
		}
	}
	m.mu.Unlock()
	if err != nil {
		metrics.AutosaveFailures.Inc()
		log.Printf("[exam] autosave %s/%s failed: %v", id, questionID, err)
		return fmt.Errorf("%w: question %s: %v", ErrAutosave, questionID, err)
	}
	return nil
}

// Finish scores the cached answers and writes the result once. Calls while a
// finish is running, or after it succeeded, return the current view. If the
// write fails the attempt stays in progress and Finish may be called again.
func (m *Machine) Finish(ctx context.Context, reason Reason) (View, error) {
	m.mu.Lock()
	if m.state == StateFinished || m.finishing {
		v := m.viewLocked()
		m.mu.Unlock()
		return v, nil
	}
	if m.state != StateInProgress {
		m.mu.Unlock()
		return View{}, ErrNotInProgress
	}
	m.finishing = true
	id := m.attempt.ID
	answers := make(map[string]string, len(m.slots))
	for qid, s := range m.slots {
		answers[qid] = s.letter
	}
	keys := keysOf(m.questions)
	m.mu.Unlock()

	v, err := m.finish(ctx, id, answers, keys, reason)
	if err != nil {
		m.mu.Lock()
		m.finishing = false
		v = m.viewLocked()
		m.mu.Unlock()
	}
	return v, err
}

func (m *Machine) finish(ctx context.Context, id string, answers map[string]string, keys []grading.Key, reason Reason) (View, error) {
	release, ok, err := m.opts.Guard.Acquire(ctx, id)
	if err != nil {
		return View{}, err
	}
	if !ok {
		return View{}, ErrFinishInFlight
	}
	defer release()

	// another session or replica may have finished already
	cur, err := m.repo.Attempt(ctx, id)
	switch {
	case errors.Is(err, ErrAttemptNotFound):
		m.mu.Lock()
		m.resetLocked()
		m.mu.Unlock()
		return View{}, fmt.Errorf("%w: attempt %s was reset", ErrNotInProgress, id)
	case err != nil:
		return View{}, fmt.Errorf("finish attempt %s: %w", id, err)
	case cur.Finished():
		return m.settle(cur), nil
	}

	res := grading.Score(keys, answers)
	err = m.repo.SaveFinish(ctx, id, answers, res, reason)
	if errors.Is(err, docstore.ErrNotFound) {
		m.mu.Lock()
		m.resetLocked()
		m.mu.Unlock()
		return View{}, fmt.Errorf("%w: attempt %s was reset", ErrNotInProgress, id)
	}
	if err != nil {
		metrics.FinishFailures.Inc()
		log.Printf("[exam] finish %s failed: %v", id, err)
		return View{}, fmt.Errorf("finish attempt %s: %w", id, err)
	}

	done, err := m.repo.Attempt(ctx, id)
	if err != nil || !done.Finished() {
		// the write was acknowledged; fill in what we know
		at := m.opts.Now()
		done = cur
		done.Answers, done.Score, done.Total = answers, res.Score, res.Total
		done.FinishedAt, done.FinishReason = &at, reason
	}
	metrics.AttemptsFinished.WithLabelValues(string(reason)).Inc()
	log.Printf("[exam] attempt %s finished (%s): %d/%d", id, reason, res.Score, res.Total)
	return m.settle(done), nil
}

func (m *Machine) settle(a Attempt) View {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adoptLocked(a)
	m.finishing = false
	if m.timer != nil {
		m.timer.Stop()
	}
	return m.viewLocked()
}

func (m *Machine) expire(ctx context.Context) error {
	_, err := m.Finish(ctx, ReasonTimeout)
	if errors.Is(err, ErrNotInProgress) {
		return nil
	}
	return err
}

// Reset drops local state after the record was deleted by an admin.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *Machine) resetLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = nil
	m.state = StateNotStarted
	m.finishing = false
	m.attempt = Attempt{}
	m.slots = map[string]*slot{}
}

func (m *Machine) adoptLocked(a Attempt) {
	m.attempt = a
	if a.Finished() {
		m.state = StateFinished
	} else {
		m.state = StateInProgress
	}
	m.slots = make(map[string]*slot, len(a.Answers))
	for qid, letter := range a.Answers {
		m.slots[qid] = &slot{letter: letter, status: SaveSynced}
	}
}

func (m *Machine) deadlineLocked() time.Time {
	return m.attempt.StartedAt.Add(m.opts.Duration)
}

func (m *Machine) remainingLocked() time.Duration {
	r := m.deadlineLocked().Sub(m.opts.Now())
	if r < 0 {
		return 0
	}
	return r
}

func (m *Machine) viewLocked() View {
	v := View{
		AttemptID: m.attempt.ID,
		State:     m.state,
		Prova:     m.prova,
		Questions: make([]QuestionView, 0, len(m.questions)),
		Answers:   map[string]AnswerView{},
		Total:     len(m.questions),
	}
	finished := m.state == StateFinished
	for _, q := range m.questions {
		qv := QuestionView{ID: q.ID, Text: q.Text, Options: q.Options, Tema: q.Tema, ImageData: q.ImageData}
		if finished {
			qv.Correct = q.Correct
		}
		v.Questions = append(v.Questions, qv)
	}
	for qid, s := range m.slots {
		if _, known := m.index[qid]; !known {
			continue
		}
		v.Answers[qid] = AnswerView{Letter: s.letter, Status: s.status}
		if s.status != SaveSynced {
			v.Unsaved++
		}
	}
	if m.state == StateNotStarted {
		return v
	}

	v.StartedAt = m.attempt.StartedAt
	v.Deadline = m.deadlineLocked()
	if m.state == StateInProgress {
		r := m.remainingLocked()
		v.RemainingMs = r.Milliseconds()
		v.Urgent = r <= m.opts.UrgentWindow
	}
	if finished {
		score := m.attempt.Score
		v.Score = &score
		v.Total = m.attempt.Total
		v.FinishedAt = m.attempt.FinishedAt
		v.Review = grading.Review(keysOf(m.questions), m.attempt.Answers)
	}
	return v
}

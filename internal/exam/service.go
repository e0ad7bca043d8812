package exam

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mind-engage/provas/internal/grading"
	"github.com/mind-engage/provas/internal/identity"
	"github.com/mind-engage/provas/internal/metrics"
)

type Options struct {
	Duration     time.Duration
	UrgentWindow time.Duration
	TickInterval time.Duration
	Now          func() time.Time
	Guard        Guard
}

// Service owns the live attempt machines of this process and runs their
// timers.
type Service struct {
	repo *Repo
	opts Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	machines map[string]*Machine
	running  map[string]*Timer // the timer each loop goroutine drives
}

func NewService(repo *Repo, opts Options) *Service {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	mo := MachineOptions{Duration: opts.Duration, UrgentWindow: opts.UrgentWindow, Now: opts.Now, Guard: opts.Guard}.withDefaults()
	opts.Duration, opts.UrgentWindow, opts.Now, opts.Guard = mo.Duration, mo.UrgentWindow, mo.Now, mo.Guard

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		repo:     repo,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		machines: map[string]*Machine{},
		running:  map[string]*Timer{},
	}
}

func (s *Service) Repo() *Repo { return s.repo }

func (s *Service) Duration() time.Duration { return s.opts.Duration }

func (s *Service) machineOptions() MachineOptions {
	return MachineOptions{Duration: s.opts.Duration, UrgentWindow: s.opts.UrgentWindow, Now: s.opts.Now, Guard: s.opts.Guard}
}

func (s *Service) machine(id string) *Machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[id]
	if !ok {
		m = NewMachine(s.repo, s.machineOptions())
		s.machines[id] = m
	}
	return m
}

// Live returns the machine for an attempt if this process holds one.
func (s *Service) Live(attemptID string) (*Machine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[attemptID]
	return m, ok
}

// Open creates or resumes the student's attempt at provaID and makes sure
// its timer runs.
func (s *Service) Open(ctx context.Context, provaID string, student identity.User) (*Machine, View, error) {
	prova, err := s.repo.Prova(ctx, provaID)
	if err != nil {
		return nil, View{}, err
	}
	id := AttemptID(student.ID, prova.ID)
	m := s.machine(id)
	v, err := m.Open(ctx, prova, student)
	if err != nil {
		s.evict(id, m, StateNotStarted)
		return nil, View{}, err
	}
	if v.State == StateInProgress {
		s.startTimer(id, m)
	}
	return m, v, nil
}

// Resume reopens a stored attempt. Unlike Open it still works after the prova
// was deleted, so a student can read a result whose prova is gone.
func (s *Service) Resume(ctx context.Context, a Attempt, student identity.User) (*Machine, View, error) {
	prova, err := s.provaOf(ctx, a)
	if err != nil {
		return nil, View{}, err
	}
	m := s.machine(a.ID)
	v, err := m.Open(ctx, prova, student)
	if err != nil {
		s.evict(a.ID, m, StateNotStarted)
		return nil, View{}, err
	}
	if v.State == StateInProgress {
		s.startTimer(a.ID, m)
	}
	return m, v, nil
}

// provaOf falls back to the name and day kept on the record when the prova
// was deleted; its bucket may still be scorable.
func (s *Service) provaOf(ctx context.Context, a Attempt) (Prova, error) {
	prova, err := s.repo.Prova(ctx, a.ExamID)
	if errors.Is(err, ErrProvaNotFound) {
		return Prova{ID: a.ExamID, Name: a.ExamName, Day: a.ExamDay}, nil
	}
	return prova, err
}

func (s *Service) RecordAnswer(ctx context.Context, provaID string, student identity.User, questionID, letter string) (View, error) {
	m, _, err := s.Open(ctx, provaID, student)
	if err != nil {
		return View{}, err
	}
	return m.RecordAnswer(ctx, questionID, letter)
}

func (s *Service) Flush(ctx context.Context, provaID string, student identity.User) (View, error) {
	m, _, err := s.Open(ctx, provaID, student)
	if err != nil {
		return View{}, err
	}
	return m.Flush(ctx)
}

func (s *Service) Finish(ctx context.Context, provaID string, student identity.User, reason Reason) (View, error) {
	m, _, err := s.Open(ctx, provaID, student)
	if err != nil {
		return View{}, err
	}
	v, err := m.Finish(ctx, reason)
	if err == nil {
		s.evict(v.AttemptID, m, StateFinished)
	}
	return v, err
}

func (s *Service) startTimer(id string, m *Machine) {
	t := m.Timer()
	if t == nil {
		return
	}
	s.mu.Lock()
	if s.running[id] == t {
		s.mu.Unlock()
		return
	}
	s.running[id] = t
	s.mu.Unlock()

	metrics.LiveAttempts.Inc()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer metrics.LiveAttempts.Dec()
		t.Run(s.ctx, s.opts.Now, s.opts.TickInterval)

		s.mu.Lock()
		// a reset may have handed id to a newer timer already
		if s.running[id] == t {
			delete(s.running, id)
		}
		s.mu.Unlock()
		s.evict(id, m, StateFinished)
	}()
}

// evict forgets m if it is still registered under id and sits in state.
// Finished attempts are reloaded from the store on demand.
func (s *Service) evict(id string, m *Machine, state State) {
	if m.State() != state {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machines[id] == m && s.running[id] == nil {
		delete(s.machines, id)
	}
}

// Reset deletes an attempt so the student can start over. Resetting a
// missing attempt is not an error. Nothing of the old attempt is kept.
func (s *Service) Reset(ctx context.Context, attemptID string) error {
	if err := s.repo.DeleteAttempt(ctx, attemptID); err != nil {
		return fmt.Errorf("reset %s: %w", attemptID, err)
	}
	s.mu.Lock()
	m, ok := s.machines[attemptID]
	delete(s.machines, attemptID)
	delete(s.running, attemptID)
	s.mu.Unlock()
	if ok {
		m.Reset()
	}
	log.Printf("[exam] attempt %s reset", attemptID)
	return nil
}

// Audit re-scores a stored attempt against the current key.
func (s *Service) Audit(ctx context.Context, attemptID string) (Audit, error) {
	a, err := s.repo.Attempt(ctx, attemptID)
	if err != nil {
		return Audit{}, err
	}
	qs, err := s.repo.Questions(ctx, a.ExamName, a.ExamDay)
	if err != nil {
		return Audit{}, err
	}
	keys := keysOf(qs)
	return Audit{
		Attempt:   a,
		Rows:      grading.Review(keys, a.Answers),
		Recounted: grading.Score(keys, a.Answers),
	}, nil
}

// SweepExpired finishes attempts whose time ran out while no timer was
// watching them, e.g. the student closed the tab or the process restarted.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	all, err := s.repo.StartedAttempts(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range all {
		if a.Finished() || now.Before(a.StartedAt.Add(s.opts.Duration)) {
			continue
		}
		if err := s.sweepOne(ctx, a); err != nil {
			log.Printf("[sweep] %s: %v", a.ID, err)
			continue
		}
		n++
	}
	if n > 0 {
		metrics.SweptAttempts.Add(float64(n))
	}
	return n, nil
}

func (s *Service) sweepOne(ctx context.Context, a Attempt) error {
	if a.StudentID == "" || AttemptID(a.StudentID, a.ExamID) != a.ID {
		return fmt.Errorf("record does not name its student and prova")
	}
	prova, err := s.provaOf(ctx, a)
	if err != nil {
		return err
	}
	student := identity.User{ID: a.StudentID, DisplayName: a.StudentName, Email: a.StudentEmail}
	m := s.machine(a.ID)
	if _, err := m.Open(ctx, prova, student); err != nil {
		s.evict(a.ID, m, StateNotStarted)
		return err
	}
	v, err := m.Finish(ctx, ReasonTimeout)
	if err != nil {
		return err
	}
	s.evict(a.ID, m, v.State)
	return nil
}

// Close stops every timer and waits for them.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

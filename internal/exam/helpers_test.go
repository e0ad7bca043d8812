package exam

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mind-engage/provas/internal/docstore"
	"github.com/mind-engage/provas/internal/identity"
)

var errStoreDown = errors.New("store unavailable")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// flakyStore counts finishing writes and can fail answer or finish writes.
type flakyStore struct {
	docstore.Store

	mu           sync.Mutex
	failAnswers  bool
	failFinish   bool
	finishWrites int
}

func (f *flakyStore) Update(ctx context.Context, path string, fields map[string]any) error {
	f.mu.Lock()
	_, finishing := fields["finishedAt"]
	_, answering := fields["answers"]
	switch {
	case finishing && f.failFinish, !finishing && answering && f.failAnswers:
		f.mu.Unlock()
		return errStoreDown
	case finishing:
		f.finishWrites++
	}
	f.mu.Unlock()
	return f.Store.Update(ctx, path, fields)
}

func (f *flakyStore) set(fn func(*flakyStore)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *flakyStore) finishes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finishWrites
}

type fixture struct {
	clock *fakeClock
	store *flakyStore
	repo  *Repo
}

var (
	alice = identity.User{ID: "u1", DisplayName: "Alice", Email: "alice@example.com"}
	bob   = identity.User{ID: "u2", DisplayName: "Bob", Email: "bob@example.com"}
)

// newFixture seeds prova p1 over bucket ENEM/1 with q1 (key A) and q2 (key B).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Unix(0, 0).UTC()}
	store := &flakyStore{Store: docstore.NewMemory(clock.Now)}
	ctx := context.Background()

	for _, q := range []struct{ id, key string }{{"q1", "A"}, {"q2", "B"}} {
		err := store.Create(ctx, "exams/ENEM/days/1/questions/"+q.id, map[string]any{
			"text":      "question " + q.id,
			"options":   map[string]any{"A": "a", "B": "b", "C": "c", "D": "d", "E": "e"},
			"correct":   q.key,
			"createdAt": docstore.ServerTimestamp,
		})
		if err != nil {
			t.Fatalf("seed %s: %v", q.id, err)
		}
		clock.Advance(time.Millisecond)
	}
	if err := store.Set(ctx, "provas/p1", map[string]any{
		"name": "ENEM", "day": "1", "questionCount": 2, "updatedAt": docstore.ServerTimestamp,
	}, false); err != nil {
		t.Fatalf("seed prova: %v", err)
	}
	clock.t = time.Unix(0, 0).UTC()
	return &fixture{clock: clock, store: store, repo: NewRepo(store)}
}

// service builds a fresh service, standing in for a new tab or replica.
// Its own timer loop ticks rarely; tests drive ticks by hand.
func (f *fixture) service(t *testing.T) *Service {
	t.Helper()
	s := NewService(f.repo, Options{
		Duration:     6 * time.Hour,
		UrgentWindow: 30 * time.Minute,
		TickInterval: time.Hour,
		Now:          f.clock.Now,
	})
	t.Cleanup(s.Close)
	return s
}

// machine opens alice's attempt at p1 on a bare machine with no timer loop.
func (f *fixture) machine(t *testing.T) *Machine {
	t.Helper()
	ctx := context.Background()
	p, err := f.repo.Prova(ctx, "p1")
	if err != nil {
		t.Fatalf("prova: %v", err)
	}
	m := NewMachine(f.repo, MachineOptions{Duration: 6 * time.Hour, UrgentWindow: 30 * time.Minute, Now: f.clock.Now})
	if _, err := m.Open(ctx, p, alice); err != nil {
		t.Fatalf("open: %v", err)
	}
	return m
}

func (f *fixture) attempt(t *testing.T, id string) Attempt {
	t.Helper()
	a, err := f.repo.Attempt(context.Background(), id)
	if err != nil {
		t.Fatalf("read attempt %s: %v", id, err)
	}
	return a
}

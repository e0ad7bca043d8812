package exam

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestFinishTwiceWritesOnce(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t)
	ctx := context.Background()

	m, _, err := svc.Open(ctx, "p1", alice)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := m.RecordAnswer(ctx, "q1", "A"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	first, err := m.Finish(ctx, ReasonManual)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	f.clock.Advance(time.Minute)
	second, err := m.Finish(ctx, ReasonTimeout)
	if err != nil {
		t.Fatalf("second finish: %v", err)
	}

	if n := f.store.finishes(); n != 1 {
		t.Fatalf("expected exactly one finishing write, got %d", n)
	}
	if first.FinishedAt == nil || second.FinishedAt == nil || !first.FinishedAt.Equal(*second.FinishedAt) {
		t.Fatalf("finishedAt must not move: %v vs %v", first.FinishedAt, second.FinishedAt)
	}
	if a := f.attempt(t, first.AttemptID); a.FinishReason != ReasonManual {
		t.Fatalf("expected the manual finish to stick, got %q", a.FinishReason)
	}
}

func TestConcurrentFinishWritesOnce(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t)
	ctx := context.Background()

	m, _, err := svc.Open(ctx, "p1", alice)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reason := ReasonManual
			if i%2 == 0 {
				reason = ReasonTimeout
			}
			if _, err := m.Finish(ctx, reason); err != nil {
				t.Errorf("finish: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if n := f.store.finishes(); n != 1 {
		t.Fatalf("expected one finishing write, got %d", n)
	}
	if m.State() != StateFinished {
		t.Fatalf("expected finished, got %s", m.State())
	}
}

func TestRemainingAfterReopen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, _, err := f.service(t).Open(ctx, "p1", alice); err != nil {
		t.Fatalf("open: %v", err)
	}

	steps := []struct {
		advance time.Duration
		want    int64
		urgent  bool
	}{
		{time.Hour, 18000000, false},
		{0, 18000000, false},
		{4*time.Hour + 45*time.Minute, 900000, true},
		{2 * time.Hour, 0, true},
	}
	for i, st := range steps {
		f.clock.Advance(st.advance)
		// every reopen goes through a brand new service, like a page reload
		_, v, err := f.service(t).Open(ctx, "p1", alice)
		if err != nil {
			t.Fatalf("step %d reopen: %v", i, err)
		}
		if v.RemainingMs != st.want || v.Urgent != st.urgent {
			t.Fatalf("step %d: expected remaining=%d urgent=%v, got %d %v", i, st.want, st.urgent, v.RemainingMs, v.Urgent)
		}
		if !v.StartedAt.Equal(time.Unix(0, 0)) {
			t.Fatalf("step %d: startedAt moved to %v", i, v.StartedAt)
		}
	}
}

func TestFinishScoresCachedAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, _, err := f.service(t).Open(ctx, "p1", alice)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = m.RecordAnswer(ctx, "q1", "A")
	_, _ = m.RecordAnswer(ctx, "q2", "C")
	v, err := m.Finish(ctx, ReasonManual)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if v.Score == nil || *v.Score != 1 || v.Total != 2 {
		t.Fatalf("expected 1/2, got %v/%d", v.Score, v.Total)
	}
	a := f.attempt(t, v.AttemptID)
	if a.Score != 1 || a.Total != 2 || a.FinishedAt == nil {
		t.Fatalf("stored result wrong: %+v", a)
	}

	// nobody answered anything
	mb, _, err := f.service(t).Open(ctx, "p1", bob)
	if err != nil {
		t.Fatalf("open bob: %v", err)
	}
	vb, err := mb.Finish(ctx, ReasonManual)
	if err != nil {
		t.Fatalf("finish bob: %v", err)
	}
	if *vb.Score != 0 || vb.Total != 2 {
		t.Fatalf("expected 0/2, got %d/%d", *vb.Score, vb.Total)
	}
}

func TestConcurrentOpenCreatesOneAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tabs := []*Service{f.service(t), f.service(t), f.service(t)}
	views := make([]View, len(tabs))
	var wg sync.WaitGroup
	for i, svc := range tabs {
		wg.Add(1)
		go func(i int, svc *Service) {
			defer wg.Done()
			_, v, err := svc.Open(ctx, "p1", alice)
			if err != nil {
				t.Errorf("open %d: %v", i, err)
				return
			}
			views[i] = v
		}(i, svc)
	}
	wg.Wait()

	all, err := f.repo.StartedAttempts(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one attempt document, got %d", len(all))
	}
	for i, v := range views {
		if !v.StartedAt.Equal(all[0].StartedAt) {
			t.Fatalf("tab %d sees startedAt %v, stored %v", i, v.StartedAt, all[0].StartedAt)
		}
	}
}

func TestAnswerOverwrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, _, err := f.service(t).Open(ctx, "p1", alice)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, a := range []struct{ q, l string }{{"q1", "A"}, {"q1", "B"}, {"q2", "C"}} {
		if _, err := m.RecordAnswer(ctx, a.q, a.l); err != nil {
			t.Fatalf("answer %s=%s: %v", a.q, a.l, err)
		}
	}
	stored := f.attempt(t, AttemptID(alice.ID, "p1")).Answers
	if stored["q1"] != "B" || stored["q2"] != "C" {
		t.Fatalf("unexpected stored answers %v", stored)
	}
	v := m.View()
	if v.Answers["q1"].Letter != "B" || v.Answers["q1"].Status != SaveSynced || v.Unsaved != 0 {
		t.Fatalf("unexpected local view %+v", v.Answers)
	}
}

func TestRecordAnswerRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, _, err := f.service(t).Open(ctx, "p1", alice)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := m.RecordAnswer(ctx, "q9", "A"); !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("expected ErrUnknownQuestion, got %v", err)
	}
	if _, err := m.RecordAnswer(ctx, "q1", "F"); !errors.Is(err, ErrInvalidAnswer) {
		t.Fatalf("expected ErrInvalidAnswer, got %v", err)
	}
	if _, err := m.Finish(ctx, ReasonManual); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := m.RecordAnswer(ctx, "q1", "A"); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("expected ErrNotInProgress after finish, got %v", err)
	}

	fresh := NewMachine(f.repo, MachineOptions{Now: f.clock.Now})
	if _, err := fresh.Finish(ctx, ReasonManual); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("finish before open: expected ErrNotInProgress, got %v", err)
	}
}

func TestKeyHiddenUntilFinished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, v, err := f.service(t).Open(ctx, "p1", alice)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, q := range v.Questions {
		if q.Correct != "" {
			t.Fatalf("key of %s leaked while in progress", q.ID)
		}
	}
	if v.Score != nil {
		t.Fatalf("score shown while in progress")
	}
	v, _ = m.Finish(ctx, ReasonManual)
	if v.Questions[0].Correct != "A" || len(v.Review) != 2 {
		t.Fatalf("finished view should carry keys and review: %+v", v)
	}
}

func TestResetRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.service(t)

	m, _, err := svc.Open(ctx, "p1", alice)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = m.RecordAnswer(ctx, "q1", "A")
	v, err := m.Finish(ctx, ReasonManual)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}

	if err := svc.Reset(ctx, v.AttemptID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := f.repo.Attempt(ctx, v.AttemptID); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("expected the record gone, got %v", err)
	}

	f.clock.Advance(2 * time.Hour)
	_, again, err := svc.Open(ctx, "p1", alice)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if again.State != StateInProgress || len(again.Answers) != 0 {
		t.Fatalf("expected a fresh attempt, got %+v", again)
	}
	if !again.StartedAt.Equal(time.Unix(0, 0).Add(2 * time.Hour)) {
		t.Fatalf("expected fresh startedAt, got %v", again.StartedAt)
	}
	if again.RemainingMs != (6 * time.Hour).Milliseconds() {
		t.Fatalf("expected full time, got %d", again.RemainingMs)
	}

	if err := svc.Reset(ctx, "nobody-p1"); err != nil {
		t.Fatalf("reset of a missing attempt should succeed: %v", err)
	}
}

func TestTimeoutFinishesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.machine(t)
	_, _ = m.RecordAnswer(ctx, "q2", "B")
	timer := m.Timer()

	f.clock.Advance(6*time.Hour - time.Second)
	if tick := timer.Tick(ctx, f.clock.Now()); tick.Expired || !tick.Urgent {
		t.Fatalf("one second left should be urgent, not expired: %+v", tick)
	}
	if m.State() != StateInProgress {
		t.Fatalf("finished too early")
	}

	f.clock.Advance(2 * time.Second)
	for i := 0; i < 3; i++ {
		timer.Tick(ctx, f.clock.Now())
	}
	if n := f.store.finishes(); n != 1 {
		t.Fatalf("expected one finishing write, got %d", n)
	}
	a := f.attempt(t, AttemptID(alice.ID, "p1"))
	if a.FinishedAt == nil || a.FinishReason != ReasonTimeout || a.Score != 1 {
		t.Fatalf("expected a timeout finish scoring 1, got %+v", a)
	}
	if !timer.Fired() {
		t.Fatalf("timer should report fired")
	}
}

func TestTimeoutRetriesAfterFailedWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.machine(t)
	f.store.set(func(s *flakyStore) { s.failFinish = true })
	f.clock.Advance(7 * time.Hour)
	m.Timer().Tick(ctx, f.clock.Now())
	if m.State() != StateInProgress || m.Timer().Fired() {
		t.Fatalf("failed finish must leave the attempt in progress")
	}

	f.store.set(func(s *flakyStore) { s.failFinish = false })
	m.Timer().Tick(ctx, f.clock.Now())
	if m.State() != StateFinished {
		t.Fatalf("expected the retry to finish, got %s", m.State())
	}
}

func TestManualFinishFailureStaysInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, _, err := f.service(t).Open(ctx, "p1", alice)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = m.RecordAnswer(ctx, "q1", "A")
	f.store.set(func(s *flakyStore) { s.failFinish = true })

	v, err := m.Finish(ctx, ReasonManual)
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("expected the store error, got %v", err)
	}
	if v.State != StateInProgress || v.Answers["q1"].Letter != "A" {
		t.Fatalf("expected in-progress view with the answer kept, got %+v", v)
	}
	if a := f.attempt(t, v.AttemptID); a.Finished() {
		t.Fatalf("record must not be finished")
	}

	f.store.set(func(s *flakyStore) { s.failFinish = false })
	if v, err = m.Finish(ctx, ReasonManual); err != nil || v.State != StateFinished {
		t.Fatalf("retry: %v %s", err, v.State)
	}
}

func TestAutosaveFailureIsVisibleAndFlushable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, _, err := f.service(t).Open(ctx, "p1", alice)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.store.set(func(s *flakyStore) { s.failAnswers = true })
	v, err := m.RecordAnswer(ctx, "q1", "C")
	if !errors.Is(err, ErrAutosave) {
		t.Fatalf("expected ErrAutosave, got %v", err)
	}
	if v.Answers["q1"].Status != SaveFailed || v.Unsaved != 1 {
		t.Fatalf("expected a failed slot, got %+v", v.Answers)
	}
	if _, err := m.Flush(ctx); !errors.Is(err, ErrAutosave) {
		t.Fatalf("flush while down: expected ErrAutosave, got %v", err)
	}

	f.store.set(func(s *flakyStore) { s.failAnswers = false })
	v, err = m.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if v.Answers["q1"].Status != SaveSynced || v.Unsaved != 0 {
		t.Fatalf("expected synced after flush, got %+v", v.Answers)
	}
	if got := f.attempt(t, v.AttemptID).Answers["q1"]; got != "C" {
		t.Fatalf("stored q1 = %q", got)
	}
}

func TestFinishCarriesUnsavedAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, _, err := f.service(t).Open(ctx, "p1", alice)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.store.set(func(s *flakyStore) { s.failAnswers = true })
	_, _ = m.RecordAnswer(ctx, "q1", "A")
	f.store.set(func(s *flakyStore) { s.failAnswers = false })

	v, err := m.Finish(ctx, ReasonManual)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if *v.Score != 1 || f.attempt(t, v.AttemptID).Answers["q1"] != "A" {
		t.Fatalf("finish should persist the cached answer: %+v", v)
	}
}

func TestFinishAdoptsResultFromElsewhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tabA, _, err := f.service(t).Open(ctx, "p1", alice)
	if err != nil {
		t.Fatalf("open A: %v", err)
	}
	tabB, _, err := f.service(t).Open(ctx, "p1", alice)
	if err != nil {
		t.Fatalf("open B: %v", err)
	}
	_, _ = tabA.RecordAnswer(ctx, "q1", "A")
	va, err := tabA.Finish(ctx, ReasonManual)
	if err != nil {
		t.Fatalf("finish A: %v", err)
	}

	f.clock.Advance(time.Minute)
	vb, err := tabB.Finish(ctx, ReasonManual)
	if err != nil {
		t.Fatalf("finish B: %v", err)
	}
	if n := f.store.finishes(); n != 1 {
		t.Fatalf("second tab must adopt the stored result, got %d writes", n)
	}
	if !vb.FinishedAt.Equal(*va.FinishedAt) || *vb.Score != 1 {
		t.Fatalf("tab B should show tab A's result: %+v", vb)
	}
}

func TestOpenRejectsMalformedExam(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.store.Set(ctx, "provas/empty", map[string]any{"name": "ENEM", "day": "9", "updatedAt": f.clock.Now()}, false); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := f.service(t)
	if _, _, err := svc.Open(ctx, "empty", alice); !errors.Is(err, ErrMalformedExam) {
		t.Fatalf("empty bucket: expected ErrMalformedExam, got %v", err)
	}

	if err := f.store.Create(ctx, "exams/ENEM/days/1/questions/q3", map[string]any{
		"text": "broken", "options": map[string]any{"A": "a"}, "correct": "Z", "createdAt": f.clock.Now(),
	}); err != nil {
		t.Fatalf("seed broken: %v", err)
	}
	if _, _, err := svc.Open(ctx, "p1", alice); !errors.Is(err, ErrMalformedExam) {
		t.Fatalf("broken key: expected ErrMalformedExam, got %v", err)
	}
	if _, err := f.repo.Attempt(ctx, AttemptID(alice.ID, "p1")); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("no attempt should be created for a malformed exam")
	}

	if _, _, err := svc.Open(ctx, "missing", alice); !errors.Is(err, ErrProvaNotFound) {
		t.Fatalf("expected ErrProvaNotFound, got %v", err)
	}
}

func TestWritesAfterResetDoNotRecreateRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// each machine still believes its attempt is in progress when the
	// record disappears
	for _, write := range []func(*Machine) error{
		func(m *Machine) error {
			_, err := m.RecordAnswer(ctx, "q2", "C")
			return err
		},
		func(m *Machine) error {
			_, err := m.Flush(ctx)
			return err
		},
		func(m *Machine) error {
			_, err := m.Finish(ctx, ReasonManual)
			return err
		},
	} {
		m := f.machine(t)
		if _, err := m.RecordAnswer(ctx, "q1", "A"); err != nil {
			t.Fatalf("answer: %v", err)
		}
		f.store.set(func(s *flakyStore) { s.failAnswers = true })
		_, _ = m.RecordAnswer(ctx, "q1", "B")
		f.store.set(func(s *flakyStore) { s.failAnswers = false })

		id := m.View().AttemptID
		if err := f.repo.DeleteAttempt(ctx, id); err != nil {
			t.Fatalf("delete: %v", err)
		}

		if err := write(m); !errors.Is(err, ErrNotInProgress) {
			t.Fatalf("expected ErrNotInProgress after reset, got %v", err)
		}
		if _, err := f.repo.Attempt(ctx, id); !errors.Is(err, ErrAttemptNotFound) {
			t.Fatalf("a write after reset recreated the record: %v", err)
		}
		if m.State() != StateNotStarted {
			t.Fatalf("machine should drop the reset attempt, got %s", m.State())
		}
	}
	if n := f.store.finishes(); n != 0 {
		t.Fatalf("no finishing write should land, got %d", n)
	}
}

package exam

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTimerRemaining(t *testing.T) {
	t0 := time.Unix(0, 0)
	tm := NewTimer(t0, 6*time.Hour, 30*time.Minute, func(context.Context) error { return nil })

	cases := []struct {
		at   time.Duration
		want time.Duration
	}{
		{0, 6 * time.Hour},
		{time.Hour, 5 * time.Hour},
		{6 * time.Hour, 0},
		{48 * time.Hour, 0},
		{-time.Hour, 7 * time.Hour},
	}
	for _, c := range cases {
		if got := tm.Remaining(t0.Add(c.at)); got != c.want {
			t.Fatalf("at %v: expected %v, got %v", c.at, c.want, got)
		}
	}
	if !tm.Deadline().Equal(t0.Add(6 * time.Hour)) {
		t.Fatalf("deadline %v", tm.Deadline())
	}
}

func TestTimerFiresOnceAndNotifies(t *testing.T) {
	t0 := time.Unix(0, 0)
	var mu sync.Mutex
	calls := 0
	tm := NewTimer(t0, time.Hour, 10*time.Minute, func(context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	var ticks []Tick
	unsubscribe := tm.OnTick(func(tk Tick) { ticks = append(ticks, tk) })

	ctx := context.Background()
	tm.Tick(ctx, t0.Add(30*time.Minute))
	tm.Tick(ctx, t0.Add(55*time.Minute))
	tm.Tick(ctx, t0.Add(time.Hour))
	tm.Tick(ctx, t0.Add(2*time.Hour))
	unsubscribe()
	tm.Tick(ctx, t0.Add(3*time.Hour))

	if calls != 1 {
		t.Fatalf("expire should run once, ran %d times", calls)
	}
	if len(ticks) != 4 {
		t.Fatalf("expected 4 ticks before unsubscribing, got %d", len(ticks))
	}
	if ticks[0].Urgent || !ticks[1].Urgent || ticks[1].Expired || !ticks[2].Expired {
		t.Fatalf("unexpected tick flags %+v", ticks)
	}
	if ticks[1].RemainingMs() != (5 * time.Minute).Milliseconds() {
		t.Fatalf("remaining %d", ticks[1].RemainingMs())
	}
}

func TestTimerRetriesFailedExpire(t *testing.T) {
	t0 := time.Unix(0, 0)
	fail := true
	calls := 0
	tm := NewTimer(t0, time.Minute, 0, func(context.Context) error {
		calls++
		if fail {
			return errors.New("boom")
		}
		return nil
	})
	ctx := context.Background()
	tm.Tick(ctx, t0.Add(2*time.Minute))
	if tm.Fired() {
		t.Fatalf("a failed expire must not count as fired")
	}
	fail = false
	tm.Tick(ctx, t0.Add(3*time.Minute))
	tm.Tick(ctx, t0.Add(4*time.Minute))
	if !tm.Fired() || calls != 2 {
		t.Fatalf("expected fired after 2 calls, got fired=%v calls=%d", tm.Fired(), calls)
	}
}

func TestTimerRunStopsAfterFiring(t *testing.T) {
	fired := make(chan struct{})
	tm := NewTimer(time.Unix(0, 0), time.Minute, 0, func(context.Context) error {
		close(fired)
		return nil
	})
	done := make(chan struct{})
	go func() {
		tm.Run(context.Background(), func() time.Time { return time.Unix(3600, 0) }, time.Millisecond)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after firing")
	}
	select {
	case <-fired:
	default:
		t.Fatalf("expire was not called")
	}
}

func TestTimerRunStops(t *testing.T) {
	tm := NewTimer(time.Unix(0, 0), time.Hour, 0, func(context.Context) error { return nil })
	done := make(chan struct{})
	go func() {
		tm.Run(context.Background(), func() time.Time { return time.Unix(0, 0) }, time.Millisecond)
		close(done)
	}()
	tm.Stop()
	tm.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after Stop")
	}
}

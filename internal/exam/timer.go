package exam

import (
	"context"
	"log"
	"sync"
	"time"
)

// Tick is one timer observation.
type Tick struct {
	At        time.Time     `json:"at"`
	Remaining time.Duration `json:"-"`
	Urgent    bool          `json:"urgent"`
	Expired   bool          `json:"expired"`
}

func (t Tick) RemainingMs() int64 { return t.Remaining.Milliseconds() }

// Timer counts down from a server-assigned start. Remaining time is always
// derived from startedAt, never from a local counter, so a reload resumes the
// countdown where it really is. When it reaches zero it calls expire exactly
// once; a failed expire is retried on the next tick.
type Timer struct {
	startedAt time.Time
	duration  time.Duration
	urgent    time.Duration
	expire    func(context.Context) error

	mu      sync.Mutex
	fired   bool
	firing  bool
	subs    map[int]func(Tick)
	nextSub int

	stop     chan struct{}
	stopOnce sync.Once
}

func NewTimer(startedAt time.Time, duration, urgent time.Duration, expire func(context.Context) error) *Timer {
	return &Timer{
		startedAt: startedAt,
		duration:  duration,
		urgent:    urgent,
		expire:    expire,
		subs:      map[int]func(Tick){},
		stop:      make(chan struct{}),
	}
}

func (t *Timer) Deadline() time.Time { return t.startedAt.Add(t.duration) }

// Remaining never goes below zero.
func (t *Timer) Remaining(now time.Time) time.Duration {
	r := t.Deadline().Sub(now)
	if r < 0 {
		return 0
	}
	return r
}

func (t *Timer) observe(now time.Time) Tick {
	r := t.Remaining(now)
	return Tick{At: now, Remaining: r, Urgent: r <= t.urgent, Expired: r == 0}
}

// Tick observes the clock, notifies subscribers and, once expired, fires
// expire unless it already succeeded or is running.
func (t *Timer) Tick(ctx context.Context, now time.Time) Tick {
	tick := t.observe(now)

	t.mu.Lock()
	subs := make([]func(Tick), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	fire := tick.Expired && !t.fired && !t.firing
	if fire {
		t.firing = true
	}
	t.mu.Unlock()

	for _, fn := range subs {
		fn(tick)
	}
	if !fire {
		return tick
	}

	err := t.expire(ctx)
	t.mu.Lock()
	t.firing = false
	t.fired = err == nil
	t.mu.Unlock()
	if err != nil {
		log.Printf("[timer] expire failed, will retry: %v", err)
	}
	return tick
}

// Fired reports whether expire has completed successfully.
func (t *Timer) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// OnTick subscribes fn to every tick until the returned func is called.
func (t *Timer) OnTick(fn func(Tick)) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Run ticks every interval until the timer fires, Stop is called or ctx ends.
func (t *Timer) Run(ctx context.Context, now func() time.Time, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.Tick(ctx, now())
	for !t.Fired() {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.Tick(ctx, now())
		}
	}
}

func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

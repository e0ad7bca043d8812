package jobs

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mind-engage/provas/internal/exam"
	"github.com/mind-engage/provas/internal/identity"
)

// Sweeper periodically finishes attempts whose deadline passed with no live
// timer behind them, and forgets expired session revocations.
type Sweeper struct {
	svc      *exam.Service
	sessions *identity.Sessions
	now      func() time.Time
	timeout  time.Duration

	c *cron.Cron
}

func NewSweeper(svc *exam.Service, sessions *identity.Sessions, now func() time.Time) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{svc: svc, sessions: sessions, now: now, timeout: 2 * time.Minute}
}

// RunOnce does one pass and reports what it did.
func (s *Sweeper) RunOnce(ctx context.Context) (swept, pruned int, err error) {
	swept, err = s.svc.SweepExpired(ctx, s.now())
	if s.sessions != nil {
		pruned = s.sessions.Prune()
	}
	return swept, pruned, err
}

// Start runs a pass right away, to catch attempts that expired while the
// process was down, then on schedule. Overlapping runs are skipped.
func (s *Sweeper) Start(schedule string) error {
	s.c = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := s.c.AddFunc(schedule, s.run); err != nil {
		return err
	}
	go s.run()
	s.c.Start()
	log.Printf("[sweep] started schedule=%q", schedule)
	return nil
}

// Stop halts the schedule; the returned context is done once a running pass
// has returned.
func (s *Sweeper) Stop() context.Context {
	if s.c == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.c.Stop()
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	swept, pruned, err := s.RunOnce(ctx)
	if err != nil {
		log.Printf("[sweep] error: %v", err)
		return
	}
	if swept > 0 || pruned > 0 {
		log.Printf("[sweep] finished %d expired attempts, pruned %d revocations", swept, pruned)
	}
}

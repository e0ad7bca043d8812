// Package identity wraps the external sign-in provider: it turns an
// interactive authentication into a stable User and tracks which sessions
// are still signed in.
package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrAuthFailed = errors.New("authentication failed")

type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// Authenticator completes an interactive sign-in. code is whatever the
// interactive step handed back (an OAuth authorization code for Google).
type Authenticator interface {
	AuthenticateInteractively(ctx context.Context, code string) (User, error)
}

// Sessions tracks signed-in sessions on this process. A session stays valid
// across reloads until SignOut or until ttl passes without it being seen;
// SignOut is remembered until the session would have expired anyway.
type Sessions struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	active  map[string]session
	revoked map[string]time.Time
	subs    map[string]map[int]func(*User)
	nextSub int
}

type session struct {
	user  User
	until time.Time
}

func NewSessions(ttl time.Duration, now func() time.Time) *Sessions {
	if now == nil {
		now = time.Now
	}
	return &Sessions{
		ttl:     ttl,
		now:     now,
		active:  map[string]session{},
		revoked: map[string]time.Time{},
		subs:    map[string]map[int]func(*User){},
	}
}

// Start registers a new session for u and returns its id.
func (s *Sessions) Start(u User) string {
	sid := uuid.NewString()
	s.mu.Lock()
	s.active[sid] = session{user: u, until: s.now().Add(s.ttl)}
	subs := s.subscribers(sid)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(&u)
	}
	return sid
}

// Resume re-attaches a session presented by a still-valid token, e.g. after
// a restart. It reports false for signed-out sessions.
func (s *Sessions) Resume(sid string, u User) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, gone := s.revoked[sid]; gone {
		return false
	}
	s.active[sid] = session{user: u, until: s.now().Add(s.ttl)}
	return true
}

// Current is nil when the session is unknown or signed out.
func (s *Sessions) Current(sid string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(sid, s.now())
}

func (s *Sessions) currentLocked(sid string, now time.Time) *User {
	a, ok := s.active[sid]
	if !ok || s.expired(a, now) {
		return nil
	}
	u := a.user
	return &u
}

// a non-positive ttl never expires active sessions
func (s *Sessions) expired(a session, now time.Time) bool {
	return s.ttl > 0 && now.After(a.until)
}

func (s *Sessions) Revoked(sid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, gone := s.revoked[sid]
	return gone
}

// OnSessionChange calls fn right away with the current user (or nil), and
// again whenever the session signs in or out, until unsubscribe is called.
func (s *Sessions) OnSessionChange(sid string, fn func(*User)) (unsubscribe func()) {
	s.mu.Lock()
	if s.subs[sid] == nil {
		s.subs[sid] = map[int]func(*User){}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[sid][id] = fn
	cur := s.currentLocked(sid, s.now())
	s.mu.Unlock()

	fn(cur)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[sid], id)
			if len(s.subs[sid]) == 0 {
				delete(s.subs, sid)
			}
			s.mu.Unlock()
		})
	}
}

// SignOut ends the session and notifies subscribers with nil.
func (s *Sessions) SignOut(sid string) {
	s.mu.Lock()
	delete(s.active, sid)
	s.revoked[sid] = s.now().Add(s.ttl)
	subs := s.subscribers(sid)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(nil)
	}
}

// Prune forgets revocations whose tokens have expired and sessions idle for
// longer than ttl. Subscribers of a dropped session are told it is gone.
func (s *Sessions) Prune() int {
	now := s.now()
	s.mu.Lock()
	n := 0
	for sid, until := range s.revoked {
		if now.After(until) {
			delete(s.revoked, sid)
			n++
		}
	}
	var notify []func(*User)
	for sid, a := range s.active {
		if s.expired(a, now) {
			delete(s.active, sid)
			notify = append(notify, s.subscribers(sid)...)
			n++
		}
	}
	s.mu.Unlock()
	for _, fn := range notify {
		fn(nil)
	}
	return n
}

// caller holds s.mu
func (s *Sessions) subscribers(sid string) []func(*User) {
	out := make([]func(*User), 0, len(s.subs[sid]))
	for _, fn := range s.subs[sid] {
		out = append(out, fn)
	}
	return out
}

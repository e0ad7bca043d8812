package http

import (
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	authmw "github.com/mind-engage/provas/internal/auth/middleware"
	"github.com/mind-engage/provas/internal/exam"
	"github.com/mind-engage/provas/internal/identity"
)

const writeWait = 10 * time.Second

type WSMessage struct {
	Type string `json:"type"` // tick | finished | signed_out
	Data any    `json:"data,omitempty"`
}

type tickData struct {
	RemainingMs int64 `json:"remaining_ms"`
	Urgent      bool  `json:"urgent"`
	Expired     bool  `json:"expired"`
}

// TicksHandler streams the countdown of the caller's attempt over a
// websocket. The stream ends with "finished" once the attempt is over,
// whether by timeout or from another tab, or with "signed_out".
func TicksHandler(svc *exam.Service, sessions *identity.Sessions, origins []string, poll time.Duration) http.HandlerFunc {
	upgrader := websocket.Upgrader{CheckOrigin: allowOrigins(origins)}
	if poll <= 0 {
		poll = time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		c := authmw.ClaimsFromContext(r.Context())
		if c == nil {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		provaID := chi.URLParam(r, "provaID")
		// only an attempt the student already opened is streamed
		if _, err := svc.Repo().Attempt(r.Context(), exam.AttemptID(c.Sub, provaID)); err != nil {
			writeError(w, err, http.StatusServiceUnavailable)
			return
		}
		m, _, err := svc.Open(r.Context(), provaID, c.User())
		if err != nil {
			writeError(w, err, http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[ws] upgrade: %v", err)
			return
		}
		defer conn.Close()

		ticks := make(chan WSMessage, 4)
		final := make(chan WSMessage, 1)
		gone := make(chan struct{})

		if t := m.Timer(); t != nil {
			unsubscribe := t.OnTick(func(tk exam.Tick) {
				msg := WSMessage{Type: "tick", Data: tickData{RemainingMs: tk.RemainingMs(), Urgent: tk.Urgent, Expired: tk.Expired}}
				select {
				case ticks <- msg:
				default: // client is lagging; it gets the next one
				}
			})
			defer unsubscribe()
		}
		unsubscribe := sessions.OnSessionChange(c.Sid, func(u *identity.User) {
			if u == nil {
				select {
				case final <- WSMessage{Type: "signed_out"}:
				default:
				}
			}
		})
		defer unsubscribe()

		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		watch := time.NewTicker(poll)
		defer watch.Stop()
		for {
			var msg WSMessage
			select {
			case <-gone:
				return
			case msg = <-final:
			case msg = <-ticks:
			case <-watch.C:
				if m.State() != exam.StateFinished {
					continue
				}
				msg = WSMessage{Type: "finished", Data: m.View()}
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			if msg.Type != "tick" {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, msg.Type), time.Now().Add(writeWait))
				return
			}
		}
	}
}

// allowOrigins accepts requests without an Origin header and those from the
// configured CORS origins.
func allowOrigins(origins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		o := r.Header.Get("Origin")
		if o == "" {
			return true
		}
		u, err := url.Parse(o)
		if err != nil {
			return false
		}
		if u.Host == r.Host {
			return true
		}
		for _, allowed := range origins {
			if allowed == "*" || allowed == o {
				return true
			}
		}
		return false
	}
}

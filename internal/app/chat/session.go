package chat

import (
	"cmp"
	"slices"
	"time"

	"github.com/benbjohnson/clock"

	"fnchat/internal/app/room"
	"fnchat/internal/pkg/randx"
)

// SessionState is the presence state of a logged-in user.
type SessionState int

const (
	// StateActive means the user is connected (or has just logged in and not connected yet).
	StateActive SessionState = iota

	// StateAwayGrace means the last connection dropped and a leave task is pending.
	StateAwayGrace
)

func (s SessionState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateAwayGrace:
		return "away_grace"
	default:
		return "unknown"
	}
}

// Session binds a login to a username, independent of any live connection.
// It is owned by the coordinator loop and must not be touched from other goroutines.
type Session struct {
	Token      string
	Username   string
	Gender     string
	Room       string
	CreatedAt  time.Time
	LastActive time.Time
	State      SessionState

	// leave is armed exactly while State is StateAwayGrace.
	leave *clock.Timer

	// epoch identifies the current leave task; a firing with another epoch is stale.
	epoch uint64

	seq uint64
}

// Away reports the derived away flag: in the grace window and not yet timed out.
func (s *Session) Away(now time.Time, timeout time.Duration) bool {
	return s.State == StateAwayGrace && now.Sub(s.LastActive) < timeout
}

// goAway enters the grace window and arms the leave task, replacing any pending one.
func (s *Session) goAway(now time.Time, arm func(epoch uint64) *clock.Timer) {
	s.cancelLeave()

	s.State = StateAwayGrace
	s.LastActive = now
	s.leave = arm(s.epoch)
}

// resume returns the session to StateActive and cancels the pending leave task.
func (s *Session) resume(now time.Time) {
	s.cancelLeave()

	s.State = StateActive
	s.LastActive = now
}

// cancelLeave stops the pending leave task, if any. Safe to call repeatedly.
func (s *Session) cancelLeave() {
	if s.leave != nil {
		s.leave.Stop()
		s.leave = nil
	}
	s.epoch++
}

func (s *Session) leaveArmed() bool {
	return s.leave != nil
}

// SessionTable maps session tokens to sessions.
type SessionTable struct {
	byToken map[string]*Session
	nextSeq uint64
}

// NewSessionTable returns an empty table.
func NewSessionTable() *SessionTable {
	return &SessionTable{byToken: make(map[string]*Session)}
}

// Create adds an active session in the lobby.
func (t *SessionTable) Create(username, gender string, now time.Time) *Session {
	t.nextSeq++
	s := &Session{
		seq:        t.nextSeq,
		Token:      randx.SessionToken(),
		Username:   username,
		Gender:     gender,
		Room:       room.LobbyID,
		CreatedAt:  now,
		LastActive: now,
		State:      StateActive,
	}
	t.byToken[s.Token] = s
	return s
}

// Get returns the session for token, or nil.
func (t *SessionTable) Get(token string) *Session {
	return t.byToken[token]
}

// FindByUsername returns the most recently created session for the exact username, or nil.
func (t *SessionTable) FindByUsername(username string) *Session {
	var found *Session
	for _, s := range t.byToken {
		if s.Username != username {
			continue
		}
		if found == nil || s.seq > found.seq {
			found = s
		}
	}
	return found
}

// Delete cancels the session's leave task and removes it.
func (t *SessionTable) Delete(token string) {
	if s, ok := t.byToken[token]; ok {
		s.cancelLeave()
		delete(t.byToken, token)
	}
}

// Len returns the number of sessions.
func (t *SessionTable) Len() int {
	return len(t.byToken)
}

// all returns every session in login order.
func (t *SessionTable) all() []*Session {
	out := make([]*Session, 0, len(t.byToken))
	for _, s := range t.byToken {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *Session) int { return cmp.Compare(a.seq, b.seq) })
	return out
}

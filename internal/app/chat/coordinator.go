/*
Package chat contains the presence and room coordinator, the tables it owns, the wire
protocol and the websocket client pumps.

All presence state (sessions, connections, room membership) is owned by a single
goroutine started with Coordinator.Run. Public methods hand a closure to that goroutine
and wait for it, so every operation runs as one synchronous pass over the state.
*/
package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"fnchat/internal/app/room"
	"fnchat/internal/app/user"
	"fnchat/internal/pkg/errs"
	"fnchat/internal/pkg/logx"
	"fnchat/internal/pkg/randx"
)

const (
	// DefaultAwayTimeout is the grace window after the last connection of a user drops.
	DefaultAwayTimeout = 2 * time.Minute

	// MaxUsernameRunes caps the name announced with register-user.
	MaxUsernameRunes = 30

	// MaxChatRunes caps the text of a single chat message.
	MaxChatRunes = 2000

	// GuestName replaces an empty name at register-user.
	GuestName = "Gast"
)

// ErrStopped is returned by operations issued after Run has returned.
var ErrStopped = errors.New("coordinator stopped")

// NameGuard reports names that only a password-verified login may use.
type NameGuard interface {
	IsRegistered(name string) bool
}

// Options configures a Coordinator. Zero values select the defaults.
type Options struct {
	Rooms       *room.Registry
	Roles       *user.RoleBook
	Protected   NameGuard
	Clock       clock.Clock
	AwayTimeout time.Duration
}

// Status is the login state of a session as reported by /me.
type Status struct {
	LoggedIn bool   `json:"loggedIn"`
	Username string `json:"username,omitempty"`
	Gender   string `json:"gender,omitempty"`
	Away     bool   `json:"away"`
}

// Snapshot is the state pushed to every connection after a change.
type Snapshot struct {
	Users []user.User       `json:"users"`
	Rooms []room.ClientRoom `json:"rooms"`
}

// Coordinator owns the session table and the connection registry.
type Coordinator struct {
	rooms       *room.Registry
	roles       *user.RoleBook
	protected   NameGuard
	clock       clock.Clock
	awayTimeout time.Duration

	sessions *SessionTable
	conns    *ConnectionRegistry

	// ops carries work into the Run loop.
	ops chan func()

	// stopped is closed when Run returns.
	stopped chan struct{}

	logger zerolog.Logger
}

// NewCoordinator builds a coordinator. Call Run to start processing.
func NewCoordinator(opts Options) *Coordinator {
	if opts.Rooms == nil {
		opts.Rooms = room.Default()
	}
	if opts.Roles == nil {
		opts.Roles = user.DefaultRoleBook()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.AwayTimeout <= 0 {
		opts.AwayTimeout = DefaultAwayTimeout
	}

	return &Coordinator{
		rooms:       opts.Rooms,
		roles:       opts.Roles,
		protected:   opts.Protected,
		clock:       opts.Clock,
		awayTimeout: opts.AwayTimeout,
		sessions:    NewSessionTable(),
		conns:       NewConnectionRegistry(),
		ops:         make(chan func()),
		stopped:     make(chan struct{}),
		logger:      logx.Component("coordinator"),
	}
}

// Run processes operations until ctx is done. It must be called exactly once.
// On return all pending leave tasks are cancelled and every connection queue is closed.
func (c *Coordinator) Run(ctx context.Context) {
	c.logger.Info().
		Dur("away_timeout", c.awayTimeout).
		Int("rooms", c.rooms.Len()).
		Msg("Coordinator loop started.")

	defer c.shutdown()

	for {
		select {
		case op := <-c.ops:
			op()
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) shutdown() {
	for _, s := range c.sessions.all() {
		s.cancelLeave()
	}
	for _, conn := range c.conns.All() {
		conn.close()
	}

	close(c.stopped)

	c.logger.Info().
		Int("sessions", c.sessions.Len()).
		Int("connections", c.conns.Len()).
		Msg("Coordinator loop stopped.")
}

// exec runs fn on the loop and waits for it to finish.
func (c *Coordinator) exec(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}

	select {
	case c.ops <- op:
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	<-done
	return nil
}

// post hands fn to the loop without waiting; used by timer callbacks.
func (c *Coordinator) post(fn func()) {
	select {
	case c.ops <- fn:
	case <-c.stopped:
	}
}

// Login creates an active session and returns its token. Older sessions of the same
// name are superseded.
func (c *Coordinator) Login(ctx context.Context, username, gender string) (string, error) {
	var token string
	err := c.exec(ctx, func() {
		now := c.clock.Now()
		s := c.sessions.Create(cleanUsername(username), gender, now)
		token = s.Token

		c.supersede(s, now)

		c.logger.Info().
			Str("username", s.Username).
			Str("state", s.State.String()).
			Int("sessions", c.sessions.Len()).
			Msg("Session created.")
	})
	return token, err
}

// supersede deletes the other sessions of next's username. A grace window that is still
// running moves over to next; one that already ran out gets its leave notice now.
func (c *Coordinator) supersede(next *Session, now time.Time) {
	ended := false

	for _, old := range c.sessions.all() {
		if old == next || old.Username != next.Username {
			continue
		}

		switch {
		case old.Away(now, c.awayTimeout):
			token := next.Token
			remaining := c.awayTimeout - now.Sub(old.LastActive)
			next.Room = old.Room
			next.goAway(old.LastActive, func(epoch uint64) *clock.Timer {
				return c.scheduleLeave(token, epoch, remaining)
			})
		case old.State == StateAwayGrace:
			ended = true
		}

		c.sessions.Delete(old.Token)
		c.logger.Debug().Str("username", old.Username).Msg("Superseded session removed.")
	}

	if ended {
		c.broadcastSystem(SystemLeave, next.Username)
		c.broadcastState()
	}
}

// Logout deletes the session immediately and announces the leave.
// It reports whether a session existed.
func (c *Coordinator) Logout(ctx context.Context, token string) (bool, error) {
	var found bool
	err := c.exec(ctx, func() {
		s := c.sessions.Get(token)
		if s == nil {
			return
		}
		found = true

		c.sessions.Delete(token)
		for _, conn := range c.conns.BySession(token) {
			c.conns.Remove(conn.ID)
			conn.close()
		}
		c.logger.Info().Str("username", s.Username).Msg("Session logged out.")

		c.broadcastSystem(SystemLeave, s.Username)
		c.broadcastState()
	})
	return found, err
}

// Status reports the login state of token.
func (c *Coordinator) Status(ctx context.Context, token string) (Status, error) {
	var st Status
	err := c.exec(ctx, func() {
		s := c.sessions.Get(token)
		if s == nil {
			return
		}

		st = Status{
			LoggedIn: true,
			Username: s.Username,
			Gender:   s.Gender,
			Away:     s.Away(c.clock.Now(), c.awayTimeout),
		}
	})
	return st, err
}

// SessionUser returns the username bound to token.
func (c *Coordinator) SessionUser(ctx context.Context, token string) (string, bool, error) {
	var name string
	var ok bool
	err := c.exec(ctx, func() {
		if s := c.sessions.Get(token); s != nil {
			name, ok = s.Username, true
		}
	})
	return name, ok, err
}

// Attach adds a new unregistered connection and pushes the current lists to it.
// sessionToken is the login the connection was opened with, or "" for an anonymous one.
func (c *Coordinator) Attach(ctx context.Context, sessionToken string) (*Connection, error) {
	var conn *Connection
	err := c.exec(ctx, func() {
		id := randx.ConnectionID()
		for c.conns.Get(id) != nil {
			id = randx.ConnectionID()
		}

		conn = NewConnection(id)
		conn.session = sessionToken
		c.conns.Add(conn)

		c.logger.Debug().
			Str("conn_id", id).
			Bool("session", sessionToken != "").
			Int("connections", c.conns.Len()).
			Msg("Connection attached.")

		c.sendState(conn)
	})
	return conn, err
}

// RegisterUser binds connection connID to a user and decides between a fresh join
// and a reconnect inside the grace window. A connection opened with a live session always
// registers as that session's user; username and gender only apply to anonymous ones.
func (c *Coordinator) RegisterUser(ctx context.Context, connID, username, gender string) error {
	return c.exec(ctx, func() {
		conn := c.conns.Get(connID)
		if conn == nil {
			c.logger.Warn().Str("conn_id", connID).Msg("register-user for unknown connection.")
			return
		}
		c.register(conn, username, gender)
	})
}

func (c *Coordinator) register(conn *Connection, requested, gender string) {
	now := c.clock.Now()

	s := c.sessions.Get(conn.session)
	if s == nil {
		// Logged out or expired: the connection continues anonymously.
		conn.session = ""
	}
	name, role := c.identify(s, requested)
	if s != nil {
		gender = s.Gender
	}

	if conn.registered && conn.Username != name {
		c.release(conn, now)
	}

	alreadyPresent := len(c.conns.ByUsername(name, conn.ID)) > 0

	conn.Username = name
	conn.Gender = gender
	conn.Role = role
	c.conns.markRegistered(conn)

	announce := !alreadyPresent

	switch {
	case s == nil:
		conn.Room = room.LobbyID

	case s.Away(now, c.awayTimeout):
		s.resume(now)
		conn.Room = s.Room
		announce = false

		c.logger.Info().
			Str("username", name).
			Str("conn_id", conn.ID).
			Msg("User reconnected within grace window.")

	default:
		if s.State == StateAwayGrace {
			// The grace window ran out before the leave task was processed: close that
			// episode before announcing the new arrival.
			c.broadcastSystem(SystemLeave, name)
			s.Room = room.LobbyID
			announce = true
		}
		s.resume(now)
		conn.Room = s.Room
	}

	if announce {
		c.broadcastSystem(SystemJoin, name)
	}

	c.logger.Info().
		Str("username", name).
		Str("conn_id", conn.ID).
		Str("room", conn.Room).
		Str("role", string(conn.Role)).
		Bool("announced", announce).
		Msg("Connection registered.")

	c.sendTo(conn, TypeRoomChanged, RoomChangedPayload{RoomID: conn.Room})
	c.broadcastState()
}

// identify picks the name and role of a registration. A live session decides both.
// Anonymous connections keep the requested name unless it is protected, and always get
// the plain user role.
func (c *Coordinator) identify(s *Session, requested string) (string, user.Role) {
	if s != nil {
		return s.Username, c.roles.Resolve(s.Username)
	}

	name := cleanUsername(requested)
	if c.protected != nil && c.protected.IsRegistered(name) {
		c.logger.Warn().Str("requested", name).Msg("Protected name claimed without a session, using guest name.")
		name = GuestName
	}
	return name, user.RoleUser
}

// sessionOf returns the session backing a registered connection. A connection whose login
// was superseded follows the newest session of its name.
func (c *Coordinator) sessionOf(conn *Connection) *Session {
	if conn.session == "" {
		return nil
	}
	if s := c.sessions.Get(conn.session); s != nil {
		return s
	}
	return c.sessions.FindByUsername(conn.Username)
}

// Disconnect drops connection connID. When it was the last connection of its user,
// the user's session enters the grace window.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) error {
	return c.exec(ctx, func() {
		conn := c.conns.Remove(connID)
		if conn == nil {
			return
		}
		conn.close()

		c.logger.Debug().
			Str("conn_id", connID).
			Str("username", conn.Username).
			Int("connections", c.conns.Len()).
			Msg("Connection detached.")

		if !conn.registered {
			return
		}

		c.release(conn, c.clock.Now())
		c.broadcastState()
	})
}

// release moves the session behind conn into the grace window unless another
// registered connection still carries the name.
func (c *Coordinator) release(conn *Connection, now time.Time) {
	username := conn.Username
	if len(c.conns.ByUsername(username, conn.ID)) > 0 {
		return
	}

	s := c.sessionOf(conn)
	if s == nil || s.State == StateAwayGrace {
		return
	}

	token := s.Token
	s.goAway(now, func(epoch uint64) *clock.Timer {
		return c.scheduleLeave(token, epoch, c.awayTimeout)
	})

	c.logger.Info().
		Str("username", username).
		Dur("grace", c.awayTimeout).
		Msg("User away, leave scheduled.")
}

func (c *Coordinator) scheduleLeave(token string, epoch uint64, after time.Duration) *clock.Timer {
	return c.clock.AfterFunc(after, func() {
		c.post(func() { c.leaveDue(token, epoch) })
	})
}

// leaveDue runs on the loop when a leave task fires. Stale or raced firings are ignored.
func (c *Coordinator) leaveDue(token string, epoch uint64) {
	s := c.sessions.Get(token)
	if s == nil || s.epoch != epoch || s.State != StateAwayGrace {
		c.logger.Debug().Uint64("epoch", epoch).Msg("Ignoring stale leave task.")
		return
	}

	elapsed := c.clock.Now().Sub(s.LastActive)
	if elapsed < c.awayTimeout {
		if s.leave != nil {
			s.leave.Stop()
		}
		s.leave = c.scheduleLeave(token, epoch, c.awayTimeout-elapsed)
		return
	}

	c.sessions.Delete(token)
	for _, lingering := range c.conns.BySession(token) {
		c.conns.Remove(lingering.ID)
		lingering.close()
	}

	c.logger.Info().
		Str("username", s.Username).
		Dur("away_for", elapsed).
		Msg("Grace window elapsed, session removed.")

	c.broadcastSystem(SystemLeave, s.Username)
	c.broadcastState()
}

// SendChat relays text to every other registered connection in the sender's room.
// Text over MaxChatRunes is rejected and reported to the sender only.
func (c *Coordinator) SendChat(ctx context.Context, connID, text string) error {
	var result error
	err := c.exec(ctx, func() {
		conn := c.conns.Get(connID)
		if conn == nil || !conn.registered {
			c.logger.Warn().Str("conn_id", connID).Msg("chat-message from unregistered connection dropped.")
			return
		}

		text = strings.TrimSpace(text)
		if text == "" {
			return
		}

		if utf8.RuneCountInString(text) > MaxChatRunes {
			customErr := errs.NewError(errs.ErrMessageContentTooLong, MaxChatRunes)
			c.sendTo(conn, TypeError, ErrorPayload{Code: customErr.Code, Message: customErr.Message})
			result = customErr
			return
		}

		frame, err := encodeFrame(TypeChatMessage, ChatMessagePayload{Username: conn.Username, Text: text})
		if err != nil {
			c.logger.Error().Err(err).Msg("Failed to build chat frame.")
			return
		}

		delivered := 0
		for _, other := range c.conns.Registered() {
			if other.ID == conn.ID || other.Room != conn.Room {
				continue
			}
			c.deliver(other, frame)
			delivered++
		}

		c.logger.Debug().
			Str("username", conn.Username).
			Str("room", conn.Room).
			Int("recipients", delivered).
			Msg("Chat message relayed.")
	})
	if err != nil {
		return err
	}
	return result
}

// JoinRoom moves connection connID into roomID. Failures are reported to the requesting
// connection with a join-room-error frame and leave all state unchanged.
func (c *Coordinator) JoinRoom(ctx context.Context, connID, roomID, password string) error {
	var result error
	err := c.exec(ctx, func() {
		conn := c.conns.Get(connID)
		if conn == nil || !conn.registered {
			c.logger.Warn().Str("conn_id", connID).Msg("join-room from unregistered connection dropped.")
			return
		}

		if customErr := c.checkJoin(conn, roomID, password); customErr != nil {
			c.logger.Info().
				Str("username", conn.Username).
				Str("room", roomID).
				Int("code", customErr.Code).
				Msg("Room change rejected.")

			c.sendTo(conn, TypeJoinRoomError, ErrorPayload{Code: customErr.Code, Message: customErr.Message})
			result = customErr
			return
		}

		from := conn.Room
		conn.Room = roomID
		if s := c.sessionOf(conn); s != nil {
			s.Room = roomID
			s.LastActive = c.clock.Now()
		}

		c.logger.Info().
			Str("username", conn.Username).
			Str("from", from).
			Str("to", roomID).
			Msg("Room changed.")

		c.sendTo(conn, TypeRoomChanged, RoomChangedPayload{RoomID: roomID})
		c.broadcastState()
	})
	if err != nil {
		return err
	}
	return result
}

func (c *Coordinator) checkJoin(conn *Connection, roomID, password string) *errs.CustomError {
	_, err := c.rooms.Authorize(roomID, conn.Role.Privileged(), password)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, room.ErrNotFound):
		return errs.NewError(errs.ErrRoomNotFound)
	case errors.Is(err, room.ErrLocked):
		return errs.NewError(errs.ErrRoomLocked)
	case errors.Is(err, room.ErrWrongPassword):
		return errs.NewError(errs.ErrWrongRoomPassword)
	default:
		return errs.As(err)
	}
}

// Snapshot returns the current user list and room list.
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.exec(ctx, func() {
		snap = Snapshot{
			Users: c.userList(c.clock.Now()),
			Rooms: c.rooms.ForClient(c.conns.RoomCounts()),
		}
	})
	return snap, err
}

// RoomList returns the client projection of the rooms with live counts.
func (c *Coordinator) RoomList(ctx context.Context) ([]room.ClientRoom, error) {
	var rooms []room.ClientRoom
	err := c.exec(ctx, func() {
		rooms = c.rooms.ForClient(c.conns.RoomCounts())
	})
	return rooms, err
}

// userList lists registered connections in registration order, followed by users
// inside their grace window that have no live connection.
func (c *Coordinator) userList(now time.Time) []user.User {
	users := make([]user.User, 0, c.conns.Len())
	listed := make(map[string]bool)

	for _, conn := range c.conns.Registered() {
		away := false
		if s := c.sessionOf(conn); s != nil {
			away = s.Away(now, c.awayTimeout)
		}
		users = append(users, conn.User(away))
		listed[conn.Username] = true
	}

	for _, s := range c.sessions.all() {
		if listed[s.Username] || !s.Away(now, c.awayTimeout) {
			continue
		}
		users = append(users, user.User{
			Username: s.Username,
			Gender:   s.Gender,
			Away:     true,
			Role:     c.roles.Resolve(s.Username),
			Room:     s.Room,
		})
		listed[s.Username] = true
	}

	return users
}

// broadcastState pushes the room list and the user list to every connection.
func (c *Coordinator) broadcastState() {
	roomFrame, userFrame, err := c.stateFrames()
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to build state frames.")
		return
	}

	for _, conn := range c.conns.All() {
		c.deliver(conn, roomFrame)
		c.deliver(conn, userFrame)
	}
}

func (c *Coordinator) sendState(conn *Connection) {
	roomFrame, userFrame, err := c.stateFrames()
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to build state frames.")
		return
	}

	c.deliver(conn, roomFrame)
	c.deliver(conn, userFrame)
}

func (c *Coordinator) stateFrames() ([]byte, []byte, error) {
	roomFrame, err := encodeFrame(TypeRoomList, roomListPayload(c.rooms.ForClient(c.conns.RoomCounts())))
	if err != nil {
		return nil, nil, err
	}

	userFrame, err := encodeFrame(TypeUserList, userListPayload(c.userList(c.clock.Now())))
	if err != nil {
		return nil, nil, err
	}

	return roomFrame, userFrame, nil
}

// broadcastSystem sends a join or leave notice to every connection, whatever its room.
func (c *Coordinator) broadcastSystem(kind SystemKind, username string) {
	frame, err := encodeFrame(TypeSystemMessage, systemMessage(kind, username))
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to build system frame.")
		return
	}

	for _, conn := range c.conns.All() {
		c.deliver(conn, frame)
	}
}

func (c *Coordinator) sendTo(conn *Connection, t MessageType, payload any) {
	frame, err := encodeFrame(t, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("msg_type", string(t)).Msg("Failed to build frame.")
		return
	}
	c.deliver(conn, frame)
}

func (c *Coordinator) deliver(conn *Connection, frame []byte) {
	if conn.enqueue(frame) || conn.closed {
		return
	}

	c.logger.Warn().
		Str("conn_id", conn.ID).
		Int("queue_len", len(conn.send)).
		Msg("Connection send queue full, dropping frame.")
}

// cleanUsername cuts name to MaxUsernameRunes and substitutes GuestName for an empty name.
func cleanUsername(name string) string {
	if name == "" {
		return GuestName
	}

	if utf8.RuneCountInString(name) > MaxUsernameRunes {
		runes := []rune(name)
		name = string(runes[:MaxUsernameRunes])
	}
	return name
}

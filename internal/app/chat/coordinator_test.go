package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"fnchat/internal/app/room"
	"fnchat/internal/app/user"
	"fnchat/internal/pkg/errs"
)

const testAwayTimeout = time.Minute

type frame struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newTestCoordinator(t *testing.T) (*Coordinator, *clock.Mock) {
	t.Helper()
	return startCoordinator(t, Options{})
}

func startCoordinator(t *testing.T, opts Options) (*Coordinator, *clock.Mock) {
	t.Helper()

	mock := clock.NewMock()
	opts.Clock = mock
	opts.AwayTimeout = testAwayTimeout
	c := NewCoordinator(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return c, mock
}

func attach(t *testing.T, c *Coordinator) *Connection {
	t.Helper()
	return attachSession(t, c, "")
}

func attachSession(t *testing.T, c *Coordinator, token string) *Connection {
	t.Helper()
	conn, err := c.Attach(context.Background(), token)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	drainFrames(conn)
	return conn
}

// connect attaches an anonymous connection and sends register-user for name on it.
func connect(t *testing.T, c *Coordinator, name, gender string) *Connection {
	t.Helper()
	conn := attach(t, c)
	if err := c.RegisterUser(context.Background(), conn.ID, name, gender); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	return conn
}

// enter attaches a connection opened with the session token and registers it.
func enter(t *testing.T, c *Coordinator, token string) *Connection {
	t.Helper()
	conn := attachSession(t, c, token)
	if err := c.RegisterUser(context.Background(), conn.ID, "", ""); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	return conn
}

func login(t *testing.T, c *Coordinator, name, gender string) string {
	t.Helper()
	token, err := c.Login(context.Background(), name, gender)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return token
}

func disconnect(t *testing.T, c *Coordinator, conn *Connection) {
	t.Helper()
	if err := c.Disconnect(context.Background(), conn.ID); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
}

func decodeFrame(t *testing.T, b []byte) frame {
	t.Helper()
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		t.Fatalf("bad frame %s: %v", b, err)
	}
	return f
}

// drainFrames returns every frame currently queued on conn without blocking.
func drainFrames(conn *Connection) []frame {
	var out []frame
	for {
		select {
		case b, ok := <-conn.Send():
			if !ok {
				return out
			}
			var f frame
			_ = json.Unmarshal(b, &f)
			out = append(out, f)
		default:
			return out
		}
	}
}

// expectFrame waits for the next frame of type typ, skipping others.
func expectFrame(t *testing.T, conn *Connection, typ MessageType) frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case b, ok := <-conn.Send():
			if !ok {
				t.Fatalf("queue of %s closed while waiting for %s", conn.ID, typ)
			}
			if f := decodeFrame(t, b); f.Type == typ {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s on %s", typ, conn.ID)
		}
	}
}

func ofType(frames []frame, typ MessageType) []frame {
	var out []frame
	for _, f := range frames {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func systemPayloads(t *testing.T, frames []frame) []SystemMessagePayload {
	t.Helper()
	var out []SystemMessagePayload
	for _, f := range ofType(frames, TypeSystemMessage) {
		var p SystemMessagePayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			t.Fatal(err)
		}
		out = append(out, p)
	}
	return out
}

func lastUserList(t *testing.T, frames []frame) []user.User {
	t.Helper()
	lists := ofType(frames, TypeUserList)
	if len(lists) == 0 {
		t.Fatalf("no user-list frame among %d frames", len(frames))
	}
	var users []user.User
	if err := json.Unmarshal(lists[len(lists)-1].Payload, &users); err != nil {
		t.Fatal(err)
	}
	return users
}

func roomCount(t *testing.T, c *Coordinator, id string) int {
	t.Helper()
	rooms, err := c.RoomList(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range rooms {
		if r.ID == id {
			return r.UserCount
		}
	}
	t.Fatalf("room %q missing from list", id)
	return 0
}

type sessionView struct {
	found bool
	state SessionState
	armed bool
	token string
	epoch uint64
	room  string
}

func inspectSession(t *testing.T, c *Coordinator, username string) sessionView {
	t.Helper()
	var v sessionView
	err := c.exec(context.Background(), func() {
		s := c.sessions.FindByUsername(username)
		if s == nil {
			return
		}
		v = sessionView{true, s.State, s.leaveArmed(), s.Token, s.epoch, s.Room}
	})
	if err != nil {
		t.Fatal(err)
	}
	return v
}

// assertTimerInvariant checks that away sessions, and only those, hold a leave task.
func assertTimerInvariant(t *testing.T, c *Coordinator) {
	t.Helper()
	err := c.exec(context.Background(), func() {
		for _, s := range c.sessions.all() {
			if (s.State == StateAwayGrace) != s.leaveArmed() {
				t.Errorf("session %s: state %s, leave armed %v", s.Username, s.State, s.leaveArmed())
			}
		}
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestFreshJoinIsAnnounced(t *testing.T) {
	c, _ := newTestCoordinator(t)
	observer := attach(t, c)

	token := login(t, c, "Ann", "f")
	ann := enter(t, c, token)

	frames := drainFrames(observer)
	sys := systemPayloads(t, frames)
	if len(sys) != 1 || sys[0].Text != "Ann hat den Chat betreten." || sys[0].Type != SystemJoin {
		t.Fatalf("system messages = %+v", sys)
	}

	users := lastUserList(t, frames)
	want := user.User{Username: "Ann", Gender: "f", Away: false, Role: user.RoleUser, Room: room.LobbyID}
	if len(users) != 1 || users[0] != want {
		t.Fatalf("user list = %+v", users)
	}

	changed := expectFrame(t, ann, TypeRoomChanged)
	var rc RoomChangedPayload
	if err := json.Unmarshal(changed.Payload, &rc); err != nil || rc.RoomID != room.LobbyID {
		t.Fatalf("room-changed = %s (%v)", changed.Payload, err)
	}

	if got := roomCount(t, c, room.LobbyID); got != 1 {
		t.Fatalf("lobby count = %d", got)
	}
	assertTimerInvariant(t, c)
}

func TestJoinWithoutSessionIsAnnounced(t *testing.T) {
	c, _ := newTestCoordinator(t)
	observer := attach(t, c)

	connect(t, c, "Zed", "")

	if sys := systemPayloads(t, drainFrames(observer)); len(sys) != 1 || sys[0].Type != SystemJoin {
		t.Fatalf("system messages = %+v", sys)
	}
}

func TestDisconnectArmsLeaveAndMarksAway(t *testing.T) {
	c, _ := newTestCoordinator(t)
	observer := attach(t, c)

	token := login(t, c, "Ann", "f")
	ann := enter(t, c, token)
	drainFrames(observer)

	disconnect(t, c, ann)

	v := inspectSession(t, c, "Ann")
	if !v.found || v.state != StateAwayGrace || !v.armed {
		t.Fatalf("after disconnect: %+v", v)
	}
	assertTimerInvariant(t, c)

	frames := drainFrames(observer)
	if sys := systemPayloads(t, frames); len(sys) != 0 {
		t.Fatalf("disconnect emitted system messages: %+v", sys)
	}
	users := lastUserList(t, frames)
	if len(users) != 1 || !users[0].Away || users[0].Username != "Ann" {
		t.Fatalf("user list after disconnect = %+v", users)
	}

	st, err := c.Status(context.Background(), token)
	if err != nil {
		t.Fatal(err)
	}
	if !st.LoggedIn || !st.Away || st.Username != "Ann" || st.Gender != "f" {
		t.Fatalf("status = %+v", st)
	}

	// The dropped connection's queue is closed.
	for range ann.Send() {
	}
}

func TestReconnectWithinGraceIsSilent(t *testing.T) {
	c, mock := newTestCoordinator(t)
	observer := attach(t, c)

	token := login(t, c, "Ann", "f")
	ann := enter(t, c, token)
	disconnect(t, c, ann)
	drainFrames(observer)

	mock.Add(testAwayTimeout / 2)
	enter(t, c, token)

	v := inspectSession(t, c, "Ann")
	if v.state != StateActive || v.armed {
		t.Fatalf("after reconnect: %+v", v)
	}
	assertTimerInvariant(t, c)

	// The cancelled leave task must never fire.
	mock.Add(2 * testAwayTimeout)
	if _, err := c.Snapshot(context.Background()); err != nil {
		t.Fatal(err)
	}

	frames := drainFrames(observer)
	if sys := systemPayloads(t, frames); len(sys) != 0 {
		t.Fatalf("reconnect emitted system messages: %+v", sys)
	}
	users := lastUserList(t, frames)
	if len(users) != 1 || users[0].Away {
		t.Fatalf("user list after reconnect = %+v", users)
	}
	if v := inspectSession(t, c, "Ann"); !v.found {
		t.Fatalf("session removed after cancelled grace")
	}
}

func TestReconnectRestoresRoom(t *testing.T) {
	c, _ := newTestCoordinator(t)

	token := login(t, c, "Ann", "f")
	ann := enter(t, c, token)
	if err := c.JoinRoom(context.Background(), ann.ID, "vip", "vip123"); err != nil {
		t.Fatal(err)
	}
	disconnect(t, c, ann)

	again := enter(t, c, token)
	changed := expectFrame(t, again, TypeRoomChanged)
	var rc RoomChangedPayload
	if err := json.Unmarshal(changed.Payload, &rc); err != nil || rc.RoomID != "vip" {
		t.Fatalf("room after reconnect = %s", changed.Payload)
	}
	if got := roomCount(t, c, "vip"); got != 1 {
		t.Fatalf("vip count = %d", got)
	}
}

func TestGraceExpiryEmitsSingleLeave(t *testing.T) {
	c, mock := newTestCoordinator(t)
	observer := attach(t, c)

	token := login(t, c, "Ann", "f")
	ann := enter(t, c, token)
	disconnect(t, c, ann)
	drainFrames(observer)

	mock.Add(testAwayTimeout)

	leave := expectFrame(t, observer, TypeSystemMessage)
	var p SystemMessagePayload
	if err := json.Unmarshal(leave.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.Type != SystemLeave || p.Text != "Ann hat den Chat verlassen." {
		t.Fatalf("leave = %+v", p)
	}

	mock.Add(testAwayTimeout)
	if _, err := c.Snapshot(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sys := systemPayloads(t, drainFrames(observer)); len(sys) != 0 {
		t.Fatalf("extra system messages: %+v", sys)
	}

	if v := inspectSession(t, c, "Ann"); v.found {
		t.Fatalf("session survived the grace window")
	}
	st, err := c.Status(context.Background(), token)
	if err != nil {
		t.Fatal(err)
	}
	if st.LoggedIn {
		t.Fatalf("status after expiry = %+v", st)
	}
}

func TestReconnectAfterGraceIsAnnounced(t *testing.T) {
	c, mock := newTestCoordinator(t)
	observer := attach(t, c)

	token := login(t, c, "Ann", "f")
	ann := enter(t, c, token)
	disconnect(t, c, ann)

	mock.Add(testAwayTimeout)
	expectFrame(t, observer, TypeSystemMessage)
	drainFrames(observer)

	token = login(t, c, "Ann", "f")
	enter(t, c, token)
	sys := systemPayloads(t, drainFrames(observer))
	if len(sys) != 1 || sys[0].Type != SystemJoin || sys[0].Text != "Ann hat den Chat betreten." {
		t.Fatalf("system messages = %+v", sys)
	}
}

func TestLateReconnectBeforeLeaveTaskRuns(t *testing.T) {
	c, mock := newTestCoordinator(t)
	observer := attach(t, c)

	token := login(t, c, "Ann", "f")
	ann := enter(t, c, token)

	disconnect(t, c, ann)

	// The grace window is over but the leave task has not run yet.
	err := c.exec(context.Background(), func() {
		s := c.sessions.FindByUsername("Ann")
		s.LastActive = s.LastActive.Add(-testAwayTimeout)
	})
	if err != nil {
		t.Fatal(err)
	}
	drainFrames(observer)

	// Grace elapsed: the old episode ends with its leave, then this is a new arrival.
	enter(t, c, token)
	v := inspectSession(t, c, "Ann")
	if v.state != StateActive || v.armed {
		t.Fatalf("after late reconnect: %+v", v)
	}

	mock.Add(2 * testAwayTimeout)
	if _, err := c.Snapshot(context.Background()); err != nil {
		t.Fatal(err)
	}
	sys := systemPayloads(t, drainFrames(observer))
	if len(sys) != 2 || sys[0].Type != SystemLeave || sys[1].Type != SystemJoin {
		t.Fatalf("system messages = %+v", sys)
	}
}

func TestStaleLeaveTaskIsIgnored(t *testing.T) {
	c, _ := newTestCoordinator(t)
	observer := attach(t, c)

	token := login(t, c, "Ann", "f")
	ann := enter(t, c, token)
	disconnect(t, c, ann)
	away := inspectSession(t, c, "Ann")

	enter(t, c, token)
	drainFrames(observer)

	// A firing that raced the reconnect carries the old epoch.
	if err := c.exec(context.Background(), func() { c.leaveDue(away.token, away.epoch) }); err != nil {
		t.Fatal(err)
	}

	if v := inspectSession(t, c, "Ann"); !v.found || v.state != StateActive {
		t.Fatalf("stale leave task changed the session: %+v", v)
	}
	if sys := systemPayloads(t, drainFrames(observer)); len(sys) != 0 {
		t.Fatalf("stale leave task emitted %+v", sys)
	}
	assertTimerInvariant(t, c)
}

func TestEarlyLeaveTaskIsRescheduled(t *testing.T) {
	c, mock := newTestCoordinator(t)
	observer := attach(t, c)

	token := login(t, c, "Ann", "f")
	ann := enter(t, c, token)
	disconnect(t, c, ann)
	away := inspectSession(t, c, "Ann")
	drainFrames(observer)

	if err := c.exec(context.Background(), func() { c.leaveDue(away.token, away.epoch) }); err != nil {
		t.Fatal(err)
	}
	if v := inspectSession(t, c, "Ann"); !v.found || !v.armed {
		t.Fatalf("early firing dropped the session or its task: %+v", v)
	}

	mock.Add(testAwayTimeout)
	expectFrame(t, observer, TypeSystemMessage)

	mock.Add(testAwayTimeout)
	if _, err := c.Snapshot(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sys := systemPayloads(t, drainFrames(observer)); len(sys) != 0 {
		t.Fatalf("duplicate leave: %+v", sys)
	}
}

func TestLogoutBypassesGrace(t *testing.T) {
	c, mock := newTestCoordinator(t)
	observer := attach(t, c)

	token := login(t, c, "Ann", "f")
	ann := enter(t, c, token)
	disconnect(t, c, ann)
	drainFrames(observer)

	found, err := c.Logout(context.Background(), token)
	if err != nil || !found {
		t.Fatalf("Logout = %v, %v", found, err)
	}

	frames := drainFrames(observer)
	sys := systemPayloads(t, frames)
	if len(sys) != 1 || sys[0].Type != SystemLeave {
		t.Fatalf("logout system messages = %+v", sys)
	}
	if users := lastUserList(t, frames); len(users) != 0 {
		t.Fatalf("user list after logout = %+v", users)
	}

	mock.Add(2 * testAwayTimeout)
	if _, err := c.Snapshot(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sys := systemPayloads(t, drainFrames(observer)); len(sys) != 0 {
		t.Fatalf("cancelled task fired after logout: %+v", sys)
	}

	found, err = c.Logout(context.Background(), token)
	if err != nil || found {
		t.Fatalf("second Logout = %v, %v", found, err)
	}
}

func TestSecondTabKeepsPresence(t *testing.T) {
	c, _ := newTestCoordinator(t)
	observer := attach(t, c)

	token := login(t, c, "Ann", "f")
	tab1 := enter(t, c, token)
	enter(t, c, token)

	if sys := systemPayloads(t, drainFrames(observer)); len(sys) != 1 {
		t.Fatalf("second tab announced again: %+v", sys)
	}

	disconnect(t, c, tab1)
	if v := inspectSession(t, c, "Ann"); v.state != StateActive || v.armed {
		t.Fatalf("closing one of two tabs made the user away: %+v", v)
	}
	assertTimerInvariant(t, c)
}

func TestLastLoginWins(t *testing.T) {
	c, _ := newTestCoordinator(t)

	first := login(t, c, "Ann", "f")
	second := login(t, c, "Ann", "f")

	if v := inspectSession(t, c, "Ann"); v.token != second {
		t.Fatalf("FindByUsername returned %q, want newest session", v.token)
	}

	st, err := c.Status(context.Background(), first)
	if err != nil || st.LoggedIn {
		t.Fatalf("superseded session still logged in: %+v, %v", st, err)
	}
	st, err = c.Status(context.Background(), second)
	if err != nil || !st.LoggedIn || st.Away {
		t.Fatalf("Status(second) = %+v, %v", st, err)
	}
	assertTimerInvariant(t, c)
}

func TestReloginInsideGraceTakesOverEpisode(t *testing.T) {
	c, mock := newTestCoordinator(t)
	observer := attach(t, c)

	first := login(t, c, "Ann", "f")
	ann := enter(t, c, first)
	if err := c.JoinRoom(context.Background(), ann.ID, "vip", "vip123"); err != nil {
		t.Fatal(err)
	}
	disconnect(t, c, ann)
	mock.Add(testAwayTimeout / 2)

	second := login(t, c, "Ann", "f")
	v := inspectSession(t, c, "Ann")
	if v.token != second || v.state != StateAwayGrace || !v.armed || v.room != "vip" {
		t.Fatalf("new login did not take over the grace window: %+v", v)
	}
	assertTimerInvariant(t, c)
	drainFrames(observer)

	// The inherited window keeps its original deadline.
	mock.Add(testAwayTimeout / 2)
	leave := expectFrame(t, observer, TypeSystemMessage)
	var p SystemMessagePayload
	if err := json.Unmarshal(leave.Payload, &p); err != nil || p.Type != SystemLeave {
		t.Fatalf("leave = %s (%v)", leave.Payload, err)
	}
	if v := inspectSession(t, c, "Ann"); v.found {
		t.Fatalf("session survived the inherited window: %+v", v)
	}
}

func TestReloginInsideGraceThenReconnectIsSilent(t *testing.T) {
	c, _ := newTestCoordinator(t)
	observer := attach(t, c)

	first := login(t, c, "Ann", "f")
	disconnect(t, c, enter(t, c, first))
	drainFrames(observer)

	second := login(t, c, "Ann", "f")
	enter(t, c, second)

	if sys := systemPayloads(t, drainFrames(observer)); len(sys) != 0 {
		t.Fatalf("relogin inside grace emitted %+v", sys)
	}
	if v := inspectSession(t, c, "Ann"); v.state != StateActive || v.armed {
		t.Fatalf("after reconnect: %+v", v)
	}
}

func TestReloginAfterExpiredGraceClosesEpisode(t *testing.T) {
	c, _ := newTestCoordinator(t)
	observer := attach(t, c)

	first := login(t, c, "Ann", "f")
	disconnect(t, c, enter(t, c, first))

	// The window is over but the leave task has not run yet.
	err := c.exec(context.Background(), func() {
		s := c.sessions.Get(first)
		s.LastActive = s.LastActive.Add(-testAwayTimeout)
	})
	if err != nil {
		t.Fatal(err)
	}
	drainFrames(observer)

	second := login(t, c, "Ann", "f")
	enter(t, c, second)

	sys := systemPayloads(t, drainFrames(observer))
	if len(sys) != 2 || sys[0].Type != SystemLeave || sys[1].Type != SystemJoin {
		t.Fatalf("system messages = %+v", sys)
	}
	assertTimerInvariant(t, c)
}

func TestSessionDecidesIdentity(t *testing.T) {
	c, _ := newTestCoordinator(t)

	token := login(t, c, "MAXX", "m")
	conn := attachSession(t, c, token)
	if err := c.RegisterUser(context.Background(), conn.ID, "Somebody", "f"); err != nil {
		t.Fatal(err)
	}

	snap, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := user.User{Username: "MAXX", Gender: "m", Role: user.RoleAdmin, Room: room.LobbyID}
	if len(snap.Users) != 1 || snap.Users[0] != want {
		t.Fatalf("users = %+v", snap.Users)
	}
}

type protectedNames map[string]bool

func (p protectedNames) IsRegistered(name string) bool {
	return p[name]
}

func TestAnonymousConnectionCannotClaimProtectedName(t *testing.T) {
	c, _ := startCoordinator(t, Options{Protected: protectedNames{"Ann": true}})
	observer := attach(t, c)

	connect(t, c, "Ann", "m")

	frames := drainFrames(observer)
	sys := systemPayloads(t, frames)
	if len(sys) != 1 || sys[0].Text != GuestName+" hat den Chat betreten." {
		t.Fatalf("system messages = %+v", sys)
	}
	for _, u := range lastUserList(t, frames) {
		if u.Username == "Ann" {
			t.Fatalf("anonymous connection listed as Ann: %+v", u)
		}
	}

	// A verified login still gets the name.
	token := login(t, c, "Ann", "f")
	enter(t, c, token)
	sys = systemPayloads(t, drainFrames(observer))
	if len(sys) != 1 || sys[0].Text != "Ann hat den Chat betreten." {
		t.Fatalf("system messages after login = %+v", sys)
	}
}

func TestAnonymousConnectionGetsNoStaffRole(t *testing.T) {
	c, _ := newTestCoordinator(t)

	impostor := connect(t, c, "MAXX", "m")
	drainFrames(impostor)

	err := c.JoinRoom(context.Background(), impostor.ID, "staff", "")
	var customErr *errs.CustomError
	if !errors.As(err, &customErr) || customErr.Code != errs.ErrRoomLocked {
		t.Fatalf("anonymous MAXX into locked room: %v", err)
	}
	if got := roomCount(t, c, "staff"); got != 0 {
		t.Fatalf("staff count = %d", got)
	}
}

func TestLogoutClosesSessionConnections(t *testing.T) {
	c, _ := newTestCoordinator(t)

	token := login(t, c, "Ann", "f")
	ann := enter(t, c, token)

	if _, err := c.Logout(context.Background(), token); err != nil {
		t.Fatal(err)
	}
	for range ann.Send() {
	}

	snap, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Users) != 0 || roomCount(t, c, room.LobbyID) != 0 {
		t.Fatalf("logged out connection still listed: %+v", snap.Users)
	}
}

func TestJoinPrivateRoom(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	ann := connect(t, c, "Ann", "f")
	bob := connect(t, c, "Bob", "m")
	drainFrames(ann)
	drainFrames(bob)

	err := c.JoinRoom(ctx, ann.ID, "vip", "nope")
	var customErr *errs.CustomError
	if !errors.As(err, &customErr) || customErr.Code != errs.ErrWrongRoomPassword {
		t.Fatalf("wrong password: %v", err)
	}
	rejected := expectFrame(t, ann, TypeJoinRoomError)
	var ep ErrorPayload
	if err := json.Unmarshal(rejected.Payload, &ep); err != nil || ep.Code != errs.ErrWrongRoomPassword || ep.Message == "" {
		t.Fatalf("join-room-error = %s", rejected.Payload)
	}
	if got := roomCount(t, c, room.LobbyID); got != 2 {
		t.Fatalf("lobby count after rejection = %d", got)
	}
	if frames := drainFrames(bob); len(frames) != 0 {
		t.Fatalf("rejection leaked to others: %+v", frames)
	}

	if err := c.JoinRoom(ctx, ann.ID, "vip", "vip123"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if got := roomCount(t, c, room.LobbyID); got != 1 {
		t.Fatalf("lobby count = %d", got)
	}
	if got := roomCount(t, c, "vip"); got != 1 {
		t.Fatalf("vip count = %d", got)
	}

	expectFrame(t, ann, TypeRoomChanged)
	bobFrames := drainFrames(bob)
	if len(ofType(bobFrames, TypeRoomChanged)) != 0 {
		t.Fatalf("room-changed sent to a bystander")
	}
	if len(ofType(bobFrames, TypeRoomList)) != 1 {
		t.Fatalf("bystander did not get the room list")
	}
	users := lastUserList(t, bobFrames)
	for _, u := range users {
		if u.Username == "Ann" && u.Room != "vip" {
			t.Fatalf("user list shows Ann in %q", u.Room)
		}
	}

}

func TestJoinRoomMirrorsSession(t *testing.T) {
	c, _ := newTestCoordinator(t)

	token := login(t, c, "Ann", "f")
	ann := enter(t, c, token)
	if err := c.JoinRoom(context.Background(), ann.ID, "vip", "vip123"); err != nil {
		t.Fatal(err)
	}

	if v := inspectSession(t, c, "Ann"); v.room != "vip" {
		t.Fatalf("session room = %q", v.room)
	}
}

func TestJoinLockedRoom(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	ann := connect(t, c, "Ann", "f")
	err := c.JoinRoom(ctx, ann.ID, "staff", "")
	var customErr *errs.CustomError
	if !errors.As(err, &customErr) || customErr.Code != errs.ErrRoomLocked {
		t.Fatalf("USER into locked room: %v", err)
	}
	if got := roomCount(t, c, "staff"); got != 0 {
		t.Fatalf("staff count = %d", got)
	}

	maxx := enter(t, c, login(t, c, "MAXX", "m"))
	if err := c.JoinRoom(ctx, maxx.ID, "staff", ""); err != nil {
		t.Fatalf("ADMIN into locked room: %v", err)
	}
	if got := roomCount(t, c, "staff"); got != 1 {
		t.Fatalf("staff count = %d", got)
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	c, _ := newTestCoordinator(t)

	ann := connect(t, c, "Ann", "f")
	err := c.JoinRoom(context.Background(), ann.ID, "attic", "")
	var customErr *errs.CustomError
	if !errors.As(err, &customErr) || customErr.Code != errs.ErrRoomNotFound {
		t.Fatalf("unknown room: %v", err)
	}
	expectFrame(t, ann, TypeJoinRoomError)
}

func TestChatIsRoomScoped(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	ann := connect(t, c, "Ann", "f")
	bob := connect(t, c, "Bob", "m")
	cat := connect(t, c, "Cat", "f")
	lurker := attach(t, c)

	if err := c.JoinRoom(ctx, bob.ID, "vip", "vip123"); err != nil {
		t.Fatal(err)
	}
	for _, conn := range []*Connection{ann, bob, cat, lurker} {
		drainFrames(conn)
	}

	if err := c.SendChat(ctx, ann.ID, "  hallo  "); err != nil {
		t.Fatal(err)
	}

	got := ofType(drainFrames(cat), TypeChatMessage)
	if len(got) != 1 {
		t.Fatalf("cat received %d chat frames", len(got))
	}
	var p ChatMessagePayload
	if err := json.Unmarshal(got[0].Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.Username != "Ann" || p.Text != "hallo" {
		t.Fatalf("chat payload = %+v", p)
	}

	for name, conn := range map[string]*Connection{"sender": ann, "other room": bob, "unregistered": lurker} {
		if n := len(ofType(drainFrames(conn), TypeChatMessage)); n != 0 {
			t.Fatalf("%s received %d chat frames", name, n)
		}
	}

	if err := c.SendChat(ctx, ann.ID, "   "); err != nil {
		t.Fatal(err)
	}
	if n := len(drainFrames(cat)); n != 0 {
		t.Fatalf("blank text relayed (%d frames)", n)
	}
}

func TestChatTooLongGoesBackToSender(t *testing.T) {
	c, _ := newTestCoordinator(t)

	ann := connect(t, c, "Ann", "f")
	bob := connect(t, c, "Bob", "m")
	drainFrames(ann)
	drainFrames(bob)

	err := c.SendChat(context.Background(), ann.ID, strings.Repeat("ä", MaxChatRunes+1))
	var customErr *errs.CustomError
	if !errors.As(err, &customErr) || customErr.Code != errs.ErrMessageContentTooLong {
		t.Fatalf("SendChat = %v", err)
	}

	expectFrame(t, ann, TypeError)
	if frames := drainFrames(bob); len(frames) != 0 {
		t.Fatalf("bystander got %+v", frames)
	}

	if err := c.SendChat(context.Background(), ann.ID, strings.Repeat("ä", MaxChatRunes)); err != nil {
		t.Fatalf("message at the limit rejected: %v", err)
	}
	expectFrame(t, bob, TypeChatMessage)
}

func TestRegisterUserCleansName(t *testing.T) {
	c, _ := newTestCoordinator(t)

	connect(t, c, "", "")
	connect(t, c, strings.Repeat("ß", 40), "m")

	snap, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Users) != 2 {
		t.Fatalf("users = %+v", snap.Users)
	}
	if snap.Users[0].Username != GuestName {
		t.Fatalf("empty name became %q", snap.Users[0].Username)
	}
	if got := []rune(snap.Users[1].Username); len(got) != MaxUsernameRunes {
		t.Fatalf("long name cut to %d runes", len(got))
	}
}

func TestUserListOrderAndAwayEntries(t *testing.T) {
	c, _ := newTestCoordinator(t)

	token := login(t, c, "Ann", "f")
	ann := enter(t, c, token)
	connect(t, c, "Bob", "m")
	enter(t, c, login(t, c, "MAXX", "m"))
	disconnect(t, c, ann)

	snap, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	want := []user.User{
		{Username: "Bob", Gender: "m", Role: user.RoleUser, Room: room.LobbyID},
		{Username: "MAXX", Gender: "m", Role: user.RoleAdmin, Room: room.LobbyID},
		{Username: "Ann", Gender: "f", Away: true, Role: user.RoleUser, Room: room.LobbyID},
	}
	if len(snap.Users) != len(want) {
		t.Fatalf("users = %+v", snap.Users)
	}
	for i := range want {
		if snap.Users[i] != want[i] {
			t.Fatalf("users[%d] = %+v, want %+v", i, snap.Users[i], want[i])
		}
	}

	// Away users do not occupy a room.
	if got := roomCount(t, c, room.LobbyID); got != 2 {
		t.Fatalf("lobby count = %d", got)
	}
}

func TestUnregisteredConnectionsAreIgnored(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()
	lurker := attach(t, c)

	if err := c.SendChat(ctx, lurker.ID, "hi"); err != nil {
		t.Fatal(err)
	}
	if err := c.JoinRoom(ctx, lurker.ID, "vip", "vip123"); err != nil {
		t.Fatal(err)
	}
	if err := c.Disconnect(ctx, lurker.ID); err != nil {
		t.Fatal(err)
	}
	if err := c.Disconnect(ctx, "missing"); err != nil {
		t.Fatal(err)
	}
	if got := roomCount(t, c, "vip"); got != 0 {
		t.Fatalf("vip count = %d", got)
	}
}

func TestStoppedCoordinator(t *testing.T) {
	c := NewCoordinator(Options{Clock: clock.NewMock()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	conn, err := c.Attach(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}

	cancel()
	<-done

	for range conn.Send() {
	}

	if _, err := c.Login(context.Background(), "Ann", "f"); !errors.Is(err, ErrStopped) {
		t.Fatalf("Login after stop = %v", err)
	}
}

func TestConnectionQueueDropsWhenFull(t *testing.T) {
	conn := NewConnection("c1")
	for i := range sendQueueSize {
		if !conn.enqueue([]byte("x")) {
			t.Fatalf("frame %d dropped early", i)
		}
	}
	if conn.enqueue([]byte("x")) {
		t.Fatalf("frame accepted beyond queue size")
	}

	conn.close()
	conn.close()
	if conn.enqueue([]byte("x")) {
		t.Fatalf("frame accepted after close")
	}
}

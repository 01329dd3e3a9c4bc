package chat

import (
	"cmp"
	"slices"

	"fnchat/internal/app/room"
	"fnchat/internal/app/user"
)

// sendQueueSize is the number of outbound frames buffered per connection.
const sendQueueSize = 256

// Connection is the coordinator's view of one live realtime link.
// Every field is owned by the coordinator loop.
type Connection struct {
	ID       string
	Username string
	Gender   string
	Role     user.Role
	Room     string

	// session is the login token presented at upgrade time; empty for anonymous connections.
	session string

	// registered is set by register-user; unregistered connections only receive broadcasts.
	registered bool
	regSeq     uint64

	send   chan []byte
	closed bool
}

// NewConnection returns an unregistered connection in the lobby.
func NewConnection(id string) *Connection {
	return &Connection{
		ID:   id,
		Room: room.LobbyID,
		send: make(chan []byte, sendQueueSize),
	}
}

// Send is the outbound frame queue. It is closed when the coordinator drops the connection.
func (c *Connection) Send() <-chan []byte {
	return c.send
}

// Registered reports whether the client has announced its user.
func (c *Connection) Registered() bool {
	return c.registered
}

// User returns the user-list view of the connection.
func (c *Connection) User(away bool) user.User {
	return user.User{
		Username: c.Username,
		Gender:   c.Gender,
		Away:     away,
		Role:     c.Role,
		Room:     c.Room,
	}
}

// enqueue queues a frame without blocking. It reports false when the frame was dropped.
func (c *Connection) enqueue(frame []byte) bool {
	if c.closed {
		return false
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Connection) close() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ConnectionRegistry maps connection ids to live connections.
type ConnectionRegistry struct {
	byID    map[string]*Connection
	nextSeq uint64
}

// NewConnectionRegistry returns an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{byID: make(map[string]*Connection)}
}

// Add inserts c, replacing any connection with the same id.
func (r *ConnectionRegistry) Add(c *Connection) {
	r.byID[c.ID] = c
}

// Get returns the connection for id, or nil.
func (r *ConnectionRegistry) Get(id string) *Connection {
	return r.byID[id]
}

// Remove deletes and returns the connection for id, or nil.
func (r *ConnectionRegistry) Remove(id string) *Connection {
	c, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)
	return c
}

// markRegistered records the registration order of c on first registration.
func (r *ConnectionRegistry) markRegistered(c *Connection) {
	if c.registered {
		return
	}
	r.nextSeq++
	c.registered = true
	c.regSeq = r.nextSeq
}

// All returns every connection, registered or not.
func (r *ConnectionRegistry) All() []*Connection {
	out := make([]*Connection, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	return out
}

// Registered returns registered connections in registration order.
func (r *ConnectionRegistry) Registered() []*Connection {
	out := make([]*Connection, 0, len(r.byID))
	for _, c := range r.byID {
		if c.registered {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b *Connection) int { return cmp.Compare(a.regSeq, b.regSeq) })
	return out
}

// ByUsername returns the registered connections of username, excluding the one with id except.
func (r *ConnectionRegistry) ByUsername(username, except string) []*Connection {
	var out []*Connection
	for _, c := range r.Registered() {
		if c.Username == username && c.ID != except {
			out = append(out, c)
		}
	}
	return out
}

// BySession returns the connections opened with the session token.
func (r *ConnectionRegistry) BySession(token string) []*Connection {
	var out []*Connection
	for _, c := range r.byID {
		if c.session == token {
			out = append(out, c)
		}
	}
	return out
}

// RoomCounts counts registered connections per room.
func (r *ConnectionRegistry) RoomCounts() map[string]int {
	counts := make(map[string]int)
	for _, c := range r.byID {
		if c.registered {
			counts[c.Room]++
		}
	}
	return counts
}

// Len returns the number of live connections.
func (r *ConnectionRegistry) Len() int {
	return len(r.byID)
}

/*
Package room holds the static room catalog.

Rooms are loaded once at startup (built-in defaults or a YAML file) and never change
afterwards, so a Registry is safe for concurrent reads without locking.
*/
package room

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Type is the access policy of a room.
type Type string

const (
	TypePublic  Type = "public"
	TypePrivate Type = "private"
	TypeLocked  Type = "locked"
)

// LobbyID is the room every new session starts in.
const LobbyID = "lobby"

var (
	ErrNotFound      = errors.New("room not found")
	ErrLocked        = errors.New("room is locked")
	ErrWrongPassword = errors.New("wrong room password")
)

// Room is one entry of the catalog. Password is only set for private rooms.
type Room struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Type     Type   `yaml:"type"`
	Password string `yaml:"password,omitempty"`
}

// ClientRoom is the projection sent to browsers: no password, live occupancy.
type ClientRoom struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      Type   `json:"type"`
	UserCount int    `json:"userCount"`
}

// Registry is the immutable, ordered room catalog.
type Registry struct {
	rooms []Room
	byID  map[string]int
}

// Default returns the built-in catalog.
func Default() *Registry {
	r, err := NewRegistry([]Room{
		{ID: LobbyID, Name: "Hauptlobby", Type: TypePublic},
		{ID: "vip", Name: "VIP-Lounge", Type: TypePrivate, Password: "vip123"},
		{ID: "staff", Name: "Backstage", Type: TypeLocked},
	})
	if err != nil {
		panic(err)
	}
	return r
}

// NewRegistry validates rooms and builds a Registry preserving their order.
func NewRegistry(rooms []Room) (*Registry, error) {
	r := &Registry{
		rooms: make([]Room, 0, len(rooms)),
		byID:  make(map[string]int, len(rooms)),
	}

	for _, rm := range rooms {
		if rm.ID == "" {
			return nil, errors.New("room without id")
		}
		if _, dup := r.byID[rm.ID]; dup {
			return nil, fmt.Errorf("duplicate room id %q", rm.ID)
		}

		switch rm.Type {
		case TypePublic, TypeLocked:
			rm.Password = ""
		case TypePrivate:
			if rm.Password == "" {
				return nil, fmt.Errorf("private room %q needs a password", rm.ID)
			}
		default:
			return nil, fmt.Errorf("room %q has unknown type %q", rm.ID, rm.Type)
		}

		if rm.Name == "" {
			rm.Name = rm.ID
		}

		r.byID[rm.ID] = len(r.rooms)
		r.rooms = append(r.rooms, rm)
	}

	if _, ok := r.byID[LobbyID]; !ok {
		return nil, fmt.Errorf("room catalog must contain %q", LobbyID)
	}

	return r, nil
}

type catalogFile struct {
	Rooms []Room `yaml:"rooms"`
}

// LoadFile reads a YAML catalog of the form `rooms: [{id, name, type, password}]`.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read room catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse room catalog %s: %w", path, err)
	}

	return NewRegistry(file.Rooms)
}

// Find looks up a room by id.
func (r *Registry) Find(id string) (Room, bool) {
	idx, ok := r.byID[id]
	if !ok {
		return Room{}, false
	}
	return r.rooms[idx], true
}

// Len returns the number of rooms.
func (r *Registry) Len() int {
	return len(r.rooms)
}

// ForClient projects the catalog for browsers in declaration order, annotated with counts.
func (r *Registry) ForClient(counts map[string]int) []ClientRoom {
	out := make([]ClientRoom, 0, len(r.rooms))
	for _, rm := range r.rooms {
		out = append(out, ClientRoom{
			ID:        rm.ID,
			Name:      rm.Name,
			Type:      rm.Type,
			UserCount: counts[rm.ID],
		})
	}
	return out
}

// Authorize looks up room id and applies its access policy.
// It returns ErrNotFound, ErrLocked or ErrWrongPassword on refusal.
func (r *Registry) Authorize(id string, privileged bool, password string) (Room, error) {
	rm, ok := r.Find(id)
	if !ok {
		return Room{}, ErrNotFound
	}
	if err := rm.CheckAccess(privileged, password); err != nil {
		return Room{}, err
	}
	return rm, nil
}

// CheckAccess applies the room's access policy.
func (rm Room) CheckAccess(privileged bool, password string) error {
	switch rm.Type {
	case TypeLocked:
		if !privileged {
			return ErrLocked
		}
	case TypePrivate:
		if password != rm.Password {
			return ErrWrongPassword
		}
	}
	return nil
}

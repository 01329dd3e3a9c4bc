package chat

import (
	"bytes"
	"encoding/json"
	"fmt"

	"fnchat/internal/app/room"
	"fnchat/internal/app/user"
)

// MessageType is the "type" field of a frame.
type MessageType string

const (
	// client -> server
	TypeRegisterUser MessageType = "register-user"
	TypeJoinRoom     MessageType = "join-room"

	// both directions
	TypeChatMessage MessageType = "chat-message"

	// server -> client
	TypeSystemMessage MessageType = "system-message"
	TypeUserList      MessageType = "user-list"
	TypeRoomList      MessageType = "room-list"
	TypeRoomChanged   MessageType = "room-changed"
	TypeJoinRoomError MessageType = "join-room-error"
	TypeError         MessageType = "error"
)

// SystemKind tells clients how to render a system message.
type SystemKind string

const (
	SystemJoin  SystemKind = "join"
	SystemLeave SystemKind = "leave"
)

// InboundMessage is a frame received from a client; the payload is decoded per type.
type InboundMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutboundMessage is a frame sent to clients.
type OutboundMessage struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

// RegisterUserPayload accepts any JSON value for the fields; they are stringified.
type RegisterUserPayload struct {
	Username json.RawMessage `json:"username"`
	Gender   json.RawMessage `json:"gender"`
}

type ChatInPayload struct {
	Text json.RawMessage `json:"text"`
}

type JoinRoomPayload struct {
	RoomID   string `json:"roomId"`
	Password string `json:"password,omitempty"`
}

type ChatMessagePayload struct {
	Username string `json:"username"`
	Text     string `json:"text"`
}

type SystemMessagePayload struct {
	Text string     `json:"text"`
	Type SystemKind `json:"type"`
}

type RoomChangedPayload struct {
	RoomID string `json:"roomId"`
}

// ErrorPayload is used by both join-room-error and error frames.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func encodeFrame(t MessageType, payload any) ([]byte, error) {
	b, err := json.Marshal(OutboundMessage{Type: t, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", t, err)
	}
	return b, nil
}

func systemMessage(kind SystemKind, username string) SystemMessagePayload {
	var text string
	switch kind {
	case SystemJoin:
		text = fmt.Sprintf("%s hat den Chat betreten.", username)
	default:
		text = fmt.Sprintf("%s hat den Chat verlassen.", username)
	}
	return SystemMessagePayload{Text: text, Type: kind}
}

// userListPayload keeps an empty list encoded as [] rather than null.
func userListPayload(users []user.User) []user.User {
	if users == nil {
		return []user.User{}
	}
	return users
}

func roomListPayload(rooms []room.ClientRoom) []room.ClientRoom {
	if rooms == nil {
		return []room.ClientRoom{}
	}
	return rooms
}

// stringify renders a loosely typed JSON value as text: strings are unquoted,
// null or absent values become "", anything else keeps its JSON spelling.
func stringify(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

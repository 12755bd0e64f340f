// Package v1 defines the betsweb notification protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the notify server and clients to keep the wire
// protocol authoritative. All frames are JSON text messages.
package v1

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Type constants (wire-stable).
const (
	// TypeRegister binds a freshly opened connection to a user (client -> server).
	TypeRegister = "register"
	// TypeOnlineUsers requests or carries the online-user roster.
	// Client -> server frames have no content; server -> client frames do.
	TypeOnlineUsers = "online_users"
	// TypeChatMessage carries a direct chat message in either direction.
	TypeChatMessage = "chat_message"
)

// Defaults applied to inbound generic notifications with missing fields.
const (
	DefaultType  = "info"
	DefaultTitle = "Notification"
)

// ---- Outbound frames (client -> server) ----

// RegisterUser is the identity snapshot sent on register.
// Role is upper-cased on the wire (server-side convention).
type RegisterUser struct {
	LocalID string `json:"localId"`
	Role    string `json:"role"`
}

// Register is the first frame a client sends after the transport opens.
type Register struct {
	Type string       `json:"type"`
	User RegisterUser `json:"user"`
}

// NewRegister builds a register frame for uid/role.
func NewRegister(uid, role string) Register {
	return Register{
		Type: TypeRegister,
		User: RegisterUser{
			LocalID: uid,
			Role:    strings.ToUpper(strings.TrimSpace(role)),
		},
	}
}

// Validate performs structural validation for an inbound register frame.
func (r Register) Validate() error {
	if r.Type != TypeRegister {
		return errors.New("not a register frame")
	}
	if strings.TrimSpace(r.User.LocalID) == "" {
		return errors.New("missing field: user.localId")
	}
	return nil
}

// OnlineUsersRequest asks the server for the current roster.
type OnlineUsersRequest struct {
	Type string `json:"type"`
}

// NewOnlineUsersRequest builds a roster request frame.
func NewOnlineUsersRequest() OnlineUsersRequest {
	return OnlineUsersRequest{Type: TypeOnlineUsers}
}

// ChatSend is an outbound direct message. The sender is implicit: the
// server stamps "from" with the registered uid when relaying.
type ChatSend struct {
	Type    string `json:"type"`
	To      string `json:"to"`
	Message string `json:"message"`
}

// NewChatSend builds a chat frame addressed to uid "to".
func NewChatSend(to, message string) ChatSend {
	return ChatSend{Type: TypeChatMessage, To: to, Message: message}
}

// ---- Server -> client frames ----

// OnlineUsers is the full-roster snapshot. Receipt replaces any prior
// roster on the client, it is never merged.
type OnlineUsers struct {
	Type    string   `json:"type"`
	Content []string `json:"content"`
}

// NewOnlineUsers builds a roster snapshot frame.
func NewOnlineUsers(users []string) OnlineUsers {
	return OnlineUsers{Type: TypeOnlineUsers, Content: users}
}

// ChatRelay is a chat message relayed to its addressee.
type ChatRelay struct {
	Type    string `json:"type"`
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message"`
}

// ErrorFrame reports a server-side failure for the previous frame.
// Its presence takes dispatch priority over any "type" field.
type ErrorFrame struct {
	Error string `json:"error"`
}

// Notification is the generic server push. Unknown inbound frames decode
// into this shape with documented defaults for missing id/title/timestamp.
type Notification struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"` // Unix milliseconds.
}

// ---- Inbound tagged union ----

// Event is the closed set of decoded inbound frames.
type Event interface{ event() }

// ErrorEvent surfaces a frame carrying an "error" field.
type ErrorEvent struct {
	Err string
}

// OnlineUsersEvent carries a full roster replacement.
type OnlineUsersEvent struct {
	Users []string
}

// ChatEvent carries a relayed direct message.
type ChatEvent struct {
	From    string
	To      string
	Message string
}

func (ErrorEvent) event()       {}
func (OnlineUsersEvent) event() {}
func (ChatEvent) event()        {}
func (Notification) event()     {}

// wireFrame is the superset shape used to sniff inbound frames.
type wireFrame struct {
	Error   string   `json:"error"`
	Type    string   `json:"type"`
	Title   string   `json:"title"`
	Message string   `json:"message"`
	From    string   `json:"from"`
	To      string   `json:"to"`
	Content []string `json:"content"`
}

// DecodeEvent decodes one inbound JSON frame into the closed union.
//
// Dispatch priority (wire contract, do not reorder):
//  1. a non-empty "error" field wins over everything else
//  2. type == online_users replaces the roster
//  3. type == chat_message is a relayed direct message
//  4. anything else is a generic Notification with defaults applied
//
// newID supplies the notification id when the frame has none; now
// supplies the default timestamp. A decode error means the frame is
// malformed and must be dropped by the caller.
func DecodeEvent(data []byte, now time.Time, newID func() string) (Event, error) {
	var f wireFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	if f.Error != "" {
		return ErrorEvent{Err: f.Error}, nil
	}

	switch f.Type {
	case TypeOnlineUsers:
		return OnlineUsersEvent{Users: f.Content}, nil
	case TypeChatMessage:
		return ChatEvent{From: f.From, To: f.To, Message: f.Message}, nil
	}

	// Generic notification: keep the raw payload under Data so observers
	// can react to fields this contract does not model.
	var raw map[string]any
	_ = json.Unmarshal(data, &raw)

	n := Notification{
		ID:        newID(),
		Type:      f.Type,
		Title:     f.Title,
		Message:   f.Message,
		Data:      raw,
		Timestamp: now.UnixMilli(),
	}
	if n.Type == "" {
		n.Type = DefaultType
	}
	if n.Title == "" {
		n.Title = DefaultTitle
	}
	return n, nil
}

// Package protocol defines the websocket wire format: the inbound command
// envelope, its parser, and the outbound event payloads.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/fathima-sithara/realtime-service/internal/domain"
)

// Inbound events.
const (
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventMarkRead    = "mark_read"
	EventDocJoin     = "doc:join"
	EventDocLeave    = "doc:leave"
	EventDocUpdate   = "doc:update"
	EventDocCursor   = "doc:cursor"
	EventDocSave     = "doc:save"
)

// Outbound events.
const (
	EventRoomJoined            = "room_joined"
	EventMessage               = "message"
	EventMessageEnriched       = "message_enriched"
	EventUserJoined            = "user_joined"
	EventUserLeft              = "user_left"
	EventTypingStatus          = "typing_status"
	EventDocJoined             = "doc:joined"
	EventDocCollaboratorJoined = "doc:collaborator_joined"
	EventDocCollaboratorLeft   = "doc:collaborator_left"
	EventDocCursorUpdate       = "doc:cursor_update"
	EventDocSaved              = "doc:saved"
	EventError                 = "error"
)

// Frame is the outbound envelope.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func Encode(event string, data any) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data})
}

type RoomJoined struct {
	RoomID   string                `json:"room_id"`
	RoomName string                `json:"room_name"`
	Messages []*domain.ChatMessage `json:"messages"`
	Members  []domain.RoomPresence `json:"members"`
}

// UserJoined and UserLeft are sent per connection. A user with several tabs
// shows up once in the member list; FirstConnection and StillPresent tell
// clients whether that list changed.
type UserJoined struct {
	RoomID          string              `json:"room_id"`
	User            domain.RoomPresence `json:"user"`
	FirstConnection bool                `json:"first_connection"`
}

type UserLeft struct {
	RoomID       string `json:"room_id"`
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
	StillPresent bool   `json:"still_present"`
}

type TypingStatus struct {
	RoomID      string    `json:"room_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	IsTyping    bool      `json:"is_typing"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type MessageEnriched struct {
	MessageID    string            `json:"message_id"`
	RoomID       string            `json:"room_id"`
	Sentiment    *float64          `json:"sentiment,omitempty"`
	Translations map[string]string `json:"translations,omitempty"`
}

type DocJoined struct {
	DocumentID    string                        `json:"document_id"`
	Title         string                        `json:"title"`
	Content       string                        `json:"content"`
	Type          domain.DocumentType           `json:"type"`
	Version       int64                         `json:"version"`
	Color         string                        `json:"color"`
	Collaborators []domain.DocumentCollaborator `json:"collaborators"`
}

type DocUpdate struct {
	DocumentID string            `json:"document_id"`
	Content    string            `json:"content"`
	Version    int64             `json:"version"`
	AuthorID   string            `json:"author_id"`
	AuthorName string            `json:"author_name"`
	Cursor     *int              `json:"cursor,omitempty"`
	Selection  *domain.Selection `json:"selection,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

type CollaboratorJoined struct {
	DocumentID   string                      `json:"document_id"`
	Collaborator domain.DocumentCollaborator `json:"collaborator"`
}

type CollaboratorLeft struct {
	DocumentID   string `json:"document_id"`
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
}

type CursorUpdate struct {
	DocumentID   string            `json:"document_id"`
	UserID       string            `json:"user_id"`
	ConnectionID string            `json:"connection_id"`
	Color        string            `json:"color"`
	Position     int               `json:"position"`
	Selection    *domain.Selection `json:"selection,omitempty"`
}

type DocSaved struct {
	DocumentID string    `json:"document_id"`
	VersionID  string    `json:"version_id"`
	Version    int64     `json:"version"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Message    string    `json:"message,omitempty"`
	SavedAt    time.Time `json:"saved_at"`
}

type Error struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Ref     string `json:"ref,omitempty"`
}

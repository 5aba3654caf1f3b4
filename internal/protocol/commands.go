package protocol

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/domain"
)

// Envelope is the inbound frame. Ref is echoed back on error frames.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Ref   string          `json:"ref,omitempty"`
}

// Command is a validated inbound action.
type Command interface {
	Event() string
}

type JoinRoom struct {
	RoomID string `json:"room_id"`
}

type LeaveRoom struct {
	RoomID string `json:"room_id"`
}

type SendMessage struct {
	RoomID      string              `json:"room_id"`
	Content     string              `json:"content"`
	Type        domain.MessageType  `json:"type"`
	ReplyToID   string              `json:"reply_to_id,omitempty"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

type Typing struct {
	RoomID   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

type MarkRead struct {
	RoomID string `json:"room_id"`
}

type DocJoin struct {
	DocumentID string `json:"document_id"`
}

type DocLeave struct {
	DocumentID string `json:"document_id"`
}

type DocUpdateContent struct {
	DocumentID string            `json:"document_id"`
	Content    string            `json:"content"`
	Cursor     *int              `json:"cursor,omitempty"`
	Selection  *domain.Selection `json:"selection,omitempty"`
}

type DocCursor struct {
	DocumentID string            `json:"document_id"`
	Position   int               `json:"position"`
	Selection  *domain.Selection `json:"selection,omitempty"`
}

type DocSave struct {
	DocumentID string `json:"document_id"`
	Message    string `json:"message,omitempty"`
}

func (JoinRoom) Event() string         { return EventJoinRoom }
func (LeaveRoom) Event() string        { return EventLeaveRoom }
func (SendMessage) Event() string      { return EventSendMessage }
func (Typing) Event() string           { return EventTyping }
func (MarkRead) Event() string         { return EventMarkRead }
func (DocJoin) Event() string          { return EventDocJoin }
func (DocLeave) Event() string         { return EventDocLeave }
func (DocUpdateContent) Event() string { return EventDocUpdate }
func (DocCursor) Event() string        { return EventDocCursor }
func (DocSave) Event() string          { return EventDocSave }

// Limits bounds the size of user supplied content.
type Limits struct {
	MaxMessageLength int
	MaxDocumentBytes int
}

// Parse decodes raw into a typed command. The envelope ref is returned even
// when validation fails so the error frame can carry it.
func Parse(raw []byte, lim Limits) (Command, string, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, "", apperr.Validation("malformed frame")
	}
	cmd, err := decode(env, lim)
	return cmd, env.Ref, err
}

func decode(env Envelope, lim Limits) (Command, error) {
	switch env.Event {
	case EventJoinRoom:
		var c JoinRoom
		if err := unmarshal(env, &c); err != nil {
			return nil, err
		}
		return c, required("room_id", c.RoomID)
	case EventLeaveRoom:
		var c LeaveRoom
		if err := unmarshal(env, &c); err != nil {
			return nil, err
		}
		return c, required("room_id", c.RoomID)
	case EventSendMessage:
		var c SendMessage
		if err := unmarshal(env, &c); err != nil {
			return nil, err
		}
		if err := c.validate(lim); err != nil {
			return nil, err
		}
		return c, nil
	case EventTyping:
		var c Typing
		if err := unmarshal(env, &c); err != nil {
			return nil, err
		}
		return c, required("room_id", c.RoomID)
	case EventMarkRead:
		var c MarkRead
		if err := unmarshal(env, &c); err != nil {
			return nil, err
		}
		return c, required("room_id", c.RoomID)
	case EventDocJoin:
		var c DocJoin
		if err := unmarshal(env, &c); err != nil {
			return nil, err
		}
		return c, required("document_id", c.DocumentID)
	case EventDocLeave:
		var c DocLeave
		if err := unmarshal(env, &c); err != nil {
			return nil, err
		}
		return c, required("document_id", c.DocumentID)
	case EventDocUpdate:
		var c DocUpdateContent
		if err := unmarshal(env, &c); err != nil {
			return nil, err
		}
		return c, c.validate(lim)
	case EventDocCursor:
		var c DocCursor
		if err := unmarshal(env, &c); err != nil {
			return nil, err
		}
		if err := required("document_id", c.DocumentID); err != nil {
			return nil, err
		}
		if c.Position < 0 {
			return nil, apperr.Validation("position must not be negative")
		}
		return c, validSelection(c.Selection)
	case EventDocSave:
		var c DocSave
		if err := unmarshal(env, &c); err != nil {
			return nil, err
		}
		return c, required("document_id", c.DocumentID)
	case "":
		return nil, apperr.Validation("event is required")
	}
	return nil, apperr.Validation("unknown event %q", env.Event)
}

func unmarshal(env Envelope, v any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return apperr.Validation("%s: data is required", env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return apperr.Validation("%s: malformed data", env.Event)
	}
	return nil
}

func required(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return apperr.Validation("%s is required", field)
	}
	return nil
}

func (c *SendMessage) validate(lim Limits) error {
	if err := required("room_id", c.RoomID); err != nil {
		return err
	}
	if c.Type == "" {
		c.Type = domain.MessageText
	}
	if !c.Type.Valid() {
		return apperr.Validation("unknown message type %q", c.Type)
	}
	if c.Type == domain.MessageSystem || c.Type == domain.MessageAI {
		return apperr.Validation("message type %q is server authored", c.Type)
	}
	if strings.TrimSpace(c.Content) == "" && len(c.Attachments) == 0 {
		return apperr.Validation("content or attachments required")
	}
	if lim.MaxMessageLength > 0 && utf8.RuneCountInString(c.Content) > lim.MaxMessageLength {
		return apperr.Validation("content exceeds %d characters", lim.MaxMessageLength)
	}
	for _, a := range c.Attachments {
		if a.URL == "" {
			return apperr.Validation("attachment url is required")
		}
	}
	return nil
}

func (c DocUpdateContent) validate(lim Limits) error {
	if err := required("document_id", c.DocumentID); err != nil {
		return err
	}
	if lim.MaxDocumentBytes > 0 && len(c.Content) > lim.MaxDocumentBytes {
		return apperr.Validation("content exceeds %d bytes", lim.MaxDocumentBytes)
	}
	if c.Cursor != nil && *c.Cursor < 0 {
		return apperr.Validation("cursor must not be negative")
	}
	return validSelection(c.Selection)
}

func validSelection(s *domain.Selection) error {
	if s == nil {
		return nil
	}
	if s.Start < 0 || s.End < s.Start {
		return apperr.Validation("selection must satisfy 0 <= start <= end")
	}
	return nil
}

package domain

import "time"

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageHTML   MessageType = "html"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
	MessageAI     MessageType = "ai"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageHTML, MessageImage, MessageFile, MessageSystem, MessageAI:
		return true
	}
	return false
}

type Attachment struct {
	URL       string `bson:"url" json:"url"`
	Name      string `bson:"name,omitempty" json:"name,omitempty"`
	MimeType  string `bson:"mime_type,omitempty" json:"mime_type,omitempty"`
	SizeBytes int64  `bson:"size_bytes,omitempty" json:"size_bytes,omitempty"`

	// ThumbnailURL is set for uploaded images.
	ThumbnailURL string `bson:"thumbnail_url,omitempty" json:"thumbnail_url,omitempty"`
}

// ChatMessage is never removed; deletes only flip Deleted.
type ChatMessage struct {
	ID           string              `bson:"_id" json:"id"`
	RoomID       string              `bson:"room_id" json:"room_id"`
	SenderID     string              `bson:"sender_id,omitempty" json:"sender_id,omitempty"`
	SenderName   string              `bson:"sender_name,omitempty" json:"sender_name,omitempty"`
	Content      string              `bson:"content" json:"content"`
	Type         MessageType         `bson:"type" json:"type"`
	ReplyToID    string              `bson:"reply_to_id,omitempty" json:"reply_to_id,omitempty"`
	Edited       bool                `bson:"edited" json:"edited"`
	Deleted      bool                `bson:"deleted" json:"deleted"`
	Pinned       bool                `bson:"pinned" json:"pinned"`
	Attachments  []Attachment        `bson:"attachments,omitempty" json:"attachments,omitempty"`
	Reactions    map[string][]string `bson:"reactions,omitempty" json:"reactions,omitempty"`
	Sentiment    *float64            `bson:"sentiment,omitempty" json:"sentiment,omitempty"`
	Translations map[string]string   `bson:"translations,omitempty" json:"translations,omitempty"`
	CreatedAt    time.Time           `bson:"created_at" json:"created_at"`
}

// Enrichment is the asynchronous patch applied to a stored message.
type Enrichment struct {
	Sentiment    *float64          `json:"sentiment,omitempty"`
	Translations map[string]string `json:"translations,omitempty"`
}

func (e Enrichment) Empty() bool {
	return e.Sentiment == nil && len(e.Translations) == 0
}

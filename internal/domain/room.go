package domain

import "time"

type Room struct {
	ID        string    `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// RoomMembership authorizes a user to take part in a room's live presence.
type RoomMembership struct {
	RoomID     string    `bson:"room_id" json:"room_id"`
	UserID     string    `bson:"user_id" json:"user_id"`
	LastReadAt time.Time `bson:"last_read_at" json:"last_read_at"`
	JoinedAt   time.Time `bson:"joined_at" json:"joined_at"`
}

const StatusOnline = "online"

type RoomPresence struct {
	UserID       string    `json:"user_id"`
	ConnectionID string    `json:"connection_id"`
	DisplayName  string    `json:"display_name"`
	Avatar       string    `json:"avatar,omitempty"`
	Status       string    `json:"status"`
	LastSeen     time.Time `json:"last_seen"`
	JoinedAt     time.Time `json:"joined_at"`
}

type TypingState struct {
	IsTyping  bool      `json:"is_typing"`
	UpdatedAt time.Time `json:"updated_at"`
}

package domain

import (
	"slices"
	"time"
)

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
	VisibilityShared  Visibility = "shared"
)

type DocumentType string

const (
	DocumentText     DocumentType = "text"
	DocumentMarkdown DocumentType = "markdown"
	DocumentHTML     DocumentType = "html"
	DocumentCode     DocumentType = "code"
)

type Document struct {
	ID            string       `bson:"_id" json:"id"`
	Title         string       `bson:"title" json:"title"`
	Content       string       `bson:"content" json:"content"`
	Type          DocumentType `bson:"type" json:"type"`
	Version       int64        `bson:"version" json:"version"`
	OwnerID       string       `bson:"owner_id" json:"owner_id"`
	Visibility    Visibility   `bson:"visibility" json:"visibility"`
	Collaborators []string     `bson:"collaborators,omitempty" json:"collaborators,omitempty"`
	LastEditedBy  string       `bson:"last_edited_by,omitempty" json:"last_edited_by,omitempty"`
	LastEditedAt  time.Time    `bson:"last_edited_at,omitempty" json:"last_edited_at,omitempty"`
	CreatedAt     time.Time    `bson:"created_at" json:"created_at"`
}

// CanAccess reports whether userID may collaborate: owner, public, or listed.
func (d *Document) CanAccess(userID string) bool {
	if userID == "" {
		return false
	}
	if d.OwnerID == userID || d.Visibility == VisibilityPublic {
		return true
	}
	return slices.Contains(d.Collaborators, userID)
}

type DocumentVersion struct {
	ID         string    `bson:"_id" json:"id"`
	DocumentID string    `bson:"document_id" json:"document_id"`
	Version    int64     `bson:"version" json:"version"`
	Content    string    `bson:"content" json:"content"`
	AuthorID   string    `bson:"author_id" json:"author_id"`
	Message    string    `bson:"message,omitempty" json:"message,omitempty"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
}

type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type DocumentCollaborator struct {
	ConnectionID string     `json:"connection_id"`
	UserID       string     `json:"user_id"`
	DisplayName  string     `json:"display_name"`
	Avatar       string     `json:"avatar,omitempty"`
	Color        string     `json:"color"`
	Cursor       int        `json:"cursor"`
	Selection    *Selection `json:"selection,omitempty"`
	JoinedAt     time.Time  `json:"joined_at"`
}

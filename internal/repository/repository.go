// Package repository is the durable side of the realtime service: rooms,
// memberships, messages, documents and document versions.
//
// Lookups of missing records return the apperr not-found sentinels. Any
// other error is a storage failure and callers classify it as transient.
package repository

import (
	"context"
	"time"

	"github.com/fathima-sithara/realtime-service/internal/domain"
)

type RoomStore interface {
	GetRoom(ctx context.Context, roomID string) (*domain.Room, error)
	// GetMembership returns apperr.ErrNotAMember when no record exists.
	GetMembership(ctx context.Context, roomID, userID string) (*domain.RoomMembership, error)
	// RecentMessages returns at most limit messages, oldest first.
	RecentMessages(ctx context.Context, roomID string, limit int) ([]*domain.ChatMessage, error)
	GetMessage(ctx context.Context, messageID string) (*domain.ChatMessage, error)
	InsertMessage(ctx context.Context, m *domain.ChatMessage) error
	ApplyEnrichment(ctx context.Context, messageID string, e domain.Enrichment) error
	UpdateLastRead(ctx context.Context, roomID, userID string, at time.Time) error

	CreateRoom(ctx context.Context, r *domain.Room) error
	AddRoomMember(ctx context.Context, m domain.RoomMembership) error
}

type DocumentStore interface {
	GetDocument(ctx context.Context, docID string) (*domain.Document, error)
	// UpdateDocumentContent replaces the content and bumps version by one atomically.
	UpdateDocumentContent(ctx context.Context, docID, content, editorID string, at time.Time) (*domain.Document, error)
	// InsertVersion appends a snapshot; several may share one version. It
	// returns apperr.ErrVersionExists only when the snapshot id is taken.
	InsertVersion(ctx context.Context, v *domain.DocumentVersion) error
	// ListVersions returns newest first.
	ListVersions(ctx context.Context, docID string, limit int) ([]*domain.DocumentVersion, error)

	CreateDocument(ctx context.Context, d *domain.Document) error
}

type Gateway interface {
	RoomStore
	DocumentStore
	Close(ctx context.Context) error
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/domain"
)

// MemoryStore is a process-local Gateway used by the memory driver and tests.
// Every read returns a copy.
type MemoryStore struct {
	mu          sync.RWMutex
	rooms       map[string]*domain.Room
	members     map[string]*domain.RoomMembership // roomID:userID
	messages    map[string]*domain.ChatMessage
	roomHistory map[string][]string // roomID -> message ids in insert order
	documents   map[string]*domain.Document
	versions    map[string][]*domain.DocumentVersion

	failWrites bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:       make(map[string]*domain.Room),
		members:     make(map[string]*domain.RoomMembership),
		messages:    make(map[string]*domain.ChatMessage),
		roomHistory: make(map[string][]string),
		documents:   make(map[string]*domain.Document),
		versions:    make(map[string][]*domain.DocumentVersion),
	}
}

var errWriteFailed = errors.New("memory store: write failed")

func memberKey(roomID, userID string) string { return roomID + ":" + userID }

func (s *MemoryStore) GetRoom(_ context.Context, roomID string) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, apperr.ErrRoomNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) GetMembership(_ context.Context, roomID, userID string) (*domain.RoomMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[memberKey(roomID, userID)]
	if !ok {
		return nil, apperr.ErrNotAMember
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) RecentMessages(_ context.Context, roomID string, limit int) ([]*domain.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.roomHistory[roomID]
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]*domain.ChatMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneMessage(s.messages[id]))
	}
	return out, nil
}

func (s *MemoryStore) GetMessage(_ context.Context, messageID string) (*domain.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, apperr.ErrMessageNotFound
	}
	return cloneMessage(m), nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, m *domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errWriteFailed
	}
	if _, ok := s.messages[m.ID]; ok {
		return fmt.Errorf("message %s already exists", m.ID)
	}
	s.messages[m.ID] = cloneMessage(m)
	s.roomHistory[m.RoomID] = append(s.roomHistory[m.RoomID], m.ID)
	return nil
}

func (s *MemoryStore) ApplyEnrichment(_ context.Context, messageID string, e domain.Enrichment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errWriteFailed
	}
	m, ok := s.messages[messageID]
	if !ok {
		return apperr.ErrMessageNotFound
	}
	if e.Sentiment != nil {
		v := *e.Sentiment
		m.Sentiment = &v
	}
	if len(e.Translations) > 0 {
		if m.Translations == nil {
			m.Translations = make(map[string]string, len(e.Translations))
		}
		maps.Copy(m.Translations, e.Translations)
	}
	return nil
}

func (s *MemoryStore) UpdateLastRead(_ context.Context, roomID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errWriteFailed
	}
	m, ok := s.members[memberKey(roomID, userID)]
	if !ok {
		return apperr.ErrNotAMember
	}
	m.LastReadAt = at
	return nil
}

func (s *MemoryStore) CreateRoom(_ context.Context, r *domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errWriteFailed
	}
	cp := *r
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.rooms[r.ID] = &cp
	return nil
}

// AddRoomMember keeps an existing membership untouched.
func (s *MemoryStore) AddRoomMember(_ context.Context, m domain.RoomMembership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errWriteFailed
	}
	key := memberKey(m.RoomID, m.UserID)
	if _, ok := s.members[key]; ok {
		return nil
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	s.members[key] = &m
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, docID string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[docID]
	if !ok {
		return nil, apperr.ErrDocumentNotFound
	}
	return cloneDocument(d), nil
}

func (s *MemoryStore) UpdateDocumentContent(_ context.Context, docID, content, editorID string, at time.Time) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return nil, errWriteFailed
	}
	d, ok := s.documents[docID]
	if !ok {
		return nil, apperr.ErrDocumentNotFound
	}
	d.Content = content
	d.LastEditedBy = editorID
	d.LastEditedAt = at
	d.Version++
	return cloneDocument(d), nil
}

func (s *MemoryStore) InsertVersion(_ context.Context, v *domain.DocumentVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errWriteFailed
	}
	for _, existing := range s.versions[v.DocumentID] {
		if existing.ID == v.ID {
			return apperr.ErrVersionExists
		}
	}
	cp := *v
	s.versions[v.DocumentID] = append(s.versions[v.DocumentID], &cp)
	return nil
}

func (s *MemoryStore) ListVersions(_ context.Context, docID string, limit int) ([]*domain.DocumentVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.versions[docID]
	out := make([]*domain.DocumentVersion, 0, len(all))
	for _, v := range all {
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Version != out[j].Version {
			return out[i].Version > out[j].Version
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateDocument(_ context.Context, d *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errWriteFailed
	}
	cp := cloneDocument(d)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.documents[d.ID] = cp
	return nil
}

func (s *MemoryStore) Close(context.Context) error { return nil }

// SetFailWrites toggles write failures under the store lock.
func (s *MemoryStore) SetFailWrites(fail bool) {
	s.mu.Lock()
	s.failWrites = fail
	s.mu.Unlock()
}

// MessageCount returns how many messages roomID holds.
func (s *MemoryStore) MessageCount(roomID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.roomHistory[roomID])
}

func cloneMessage(m *domain.ChatMessage) *domain.ChatMessage {
	cp := *m
	cp.Attachments = append([]domain.Attachment(nil), m.Attachments...)
	cp.Translations = maps.Clone(m.Translations)
	if m.Reactions != nil {
		cp.Reactions = make(map[string][]string, len(m.Reactions))
		for k, v := range m.Reactions {
			cp.Reactions[k] = append([]string(nil), v...)
		}
	}
	if m.Sentiment != nil {
		v := *m.Sentiment
		cp.Sentiment = &v
	}
	return &cp
}

func cloneDocument(d *domain.Document) *domain.Document {
	cp := *d
	cp.Collaborators = append([]string(nil), d.Collaborators...)
	return &cp
}

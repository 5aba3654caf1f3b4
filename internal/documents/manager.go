// Package documents tracks live collaborators on shared documents, applies
// last-write-wins content updates and produces version snapshots.
package documents

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/domain"
	"github.com/fathima-sithara/realtime-service/internal/events"
	"github.com/fathima-sithara/realtime-service/internal/hub"
	"github.com/fathima-sithara/realtime-service/internal/keylock"
	"github.com/fathima-sithara/realtime-service/internal/metrics"
	"github.com/fathima-sithara/realtime-service/internal/protocol"
	"github.com/fathima-sithara/realtime-service/internal/registry"
	"github.com/fathima-sithara/realtime-service/internal/repository"
	"github.com/fathima-sithara/realtime-service/internal/sanitize"
)

type liveDoc struct {
	typ     domain.DocumentType
	collabs map[string]*domain.DocumentCollaborator // connID -> collaborator
}

type Manager struct {
	reg     *registry.Registry
	hub     *hub.Hub
	store   repository.DocumentStore
	locks   *keylock.Locker
	emitter *events.Emitter
	palette []string
	log     *zap.SugaredLogger

	mu   sync.RWMutex
	docs map[string]*liveDoc
}

func NewManager(reg *registry.Registry, h *hub.Hub, store repository.DocumentStore, em *events.Emitter,
	palette []string, log *zap.SugaredLogger) *Manager {
	if len(palette) == 0 {
		palette = []string{"#4363d8"}
	}
	return &Manager{
		reg:     reg,
		hub:     h,
		store:   store,
		locks:   keylock.New(),
		emitter: em,
		palette: palette,
		log:     log,
		docs:    make(map[string]*liveDoc),
	}
}

// Join checks access and makes the connection a live collaborator. Colors are
// handed out round robin from the palette and may repeat.
func (m *Manager) Join(ctx context.Context, connID, docID string) (*protocol.DocJoined, error) {
	s, err := m.reg.Get(connID)
	if err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(docID)
	defer unlock()

	doc, err := m.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, apperr.Persistence("load document", err)
	}
	if !doc.CanAccess(s.UserID()) {
		return nil, apperr.ErrAccessDenied
	}
	added, err := s.JoinDocument(docID)
	if err != nil {
		return nil, err
	}

	var self domain.DocumentCollaborator
	m.mu.Lock()
	live, ok := m.docs[docID]
	if !ok {
		live = &liveDoc{collabs: make(map[string]*domain.DocumentCollaborator)}
		m.docs[docID] = live
	}
	live.typ = doc.Type
	if added {
		c := &domain.DocumentCollaborator{
			ConnectionID: connID,
			UserID:       s.UserID(),
			DisplayName:  s.Identity.DisplayName,
			Avatar:       s.Identity.Avatar,
			Color:        m.palette[len(live.collabs)%len(m.palette)],
			JoinedAt:     time.Now().UTC(),
		}
		live.collabs[connID] = c
	}
	self = *live.collabs[connID]
	m.mu.Unlock()

	if added {
		m.hub.Subscribe(hub.DocumentScope(docID), connID)
		metrics.DocumentCollaborators.Inc()
	}

	snapshot := &protocol.DocJoined{
		DocumentID:    docID,
		Title:         doc.Title,
		Content:       doc.Content,
		Type:          doc.Type,
		Version:       doc.Version,
		Color:         self.Color,
		Collaborators: m.Collaborators(docID),
	}
	m.hub.ToConnection(connID, protocol.EventDocJoined, snapshot)
	if added {
		m.hub.ToDocument(docID, protocol.EventDocCollaboratorJoined, protocol.CollaboratorJoined{
			DocumentID:   docID,
			Collaborator: self,
		}, hub.Except(connID))
		m.log.Infow("document joined", "connection_id", connID, "user_id", s.UserID(), "document_id", docID)
	}
	return snapshot, nil
}

// UpdateContent stores the new content, bumping the version by one, and only
// then sends doc:update to the other collaborators.
func (m *Manager) UpdateContent(ctx context.Context, connID string, in protocol.DocUpdateContent) (*domain.Document, error) {
	s, err := m.reg.Get(connID)
	if err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(in.DocumentID)
	defer unlock()

	if s.DocState(in.DocumentID) != registry.DocJoined {
		return nil, apperr.ErrNotJoined
	}
	content := in.Content
	if m.docType(in.DocumentID) == domain.DocumentHTML {
		content = sanitize.HTML(content)
	}
	now := time.Now().UTC()
	doc, err := m.store.UpdateDocumentContent(ctx, in.DocumentID, content, s.UserID(), now)
	if err != nil {
		m.log.Errorw("persist document", "document_id", in.DocumentID, "user_id", s.UserID(), "error", err)
		return nil, apperr.Persistence("update document", err)
	}
	if in.Cursor != nil {
		m.setCursor(in.DocumentID, connID, *in.Cursor, in.Selection)
	}

	m.hub.ToDocument(in.DocumentID, protocol.EventDocUpdate, protocol.DocUpdate{
		DocumentID: in.DocumentID,
		Content:    doc.Content,
		Version:    doc.Version,
		AuthorID:   s.UserID(),
		AuthorName: s.Identity.DisplayName,
		Cursor:     in.Cursor,
		Selection:  in.Selection,
		UpdatedAt:  now,
	}, hub.Except(connID))
	m.emitter.Emit(events.DocumentUpdated, in.DocumentID, map[string]any{
		"document_id": in.DocumentID,
		"version":     doc.Version,
		"author_id":   s.UserID(),
		"updated_at":  now,
	})
	return doc, nil
}

// UpdateCursor is ephemeral: nothing is stored and the version is unchanged.
func (m *Manager) UpdateCursor(ctx context.Context, connID string, in protocol.DocCursor) error {
	s, err := m.reg.Get(connID)
	if err != nil {
		return err
	}
	unlock := m.locks.Lock(in.DocumentID)
	defer unlock()

	if s.DocState(in.DocumentID) != registry.DocJoined {
		return apperr.ErrNotJoined
	}
	c := m.setCursor(in.DocumentID, connID, in.Position, in.Selection)
	m.hub.ToDocument(in.DocumentID, protocol.EventDocCursorUpdate, protocol.CursorUpdate{
		DocumentID:   in.DocumentID,
		UserID:       s.UserID(),
		ConnectionID: connID,
		Color:        c.Color,
		Position:     in.Position,
		Selection:    in.Selection,
	}, hub.Except(connID))
	return nil
}

// Save snapshots the persisted content at its current version. Every save
// appends its own snapshot, so two saves of one version keep both authors.
func (m *Manager) Save(ctx context.Context, connID, docID, message string) (*domain.DocumentVersion, error) {
	s, err := m.reg.Get(connID)
	if err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(docID)
	defer unlock()

	if s.DocState(docID) != registry.DocJoined {
		return nil, apperr.ErrNotJoined
	}
	doc, err := m.store.GetDocument(ctx, docID)
	if err != nil {
		return nil, apperr.Persistence("load document", err)
	}
	v := &domain.DocumentVersion{
		ID:         uuid.Must(uuid.NewV7()).String(),
		DocumentID: docID,
		Version:    doc.Version,
		Content:    doc.Content,
		AuthorID:   s.UserID(),
		Message:    message,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.store.InsertVersion(ctx, v); err != nil {
		m.log.Errorw("persist version", "document_id", docID, "user_id", s.UserID(), "error", err)
		return nil, apperr.Transient("save version", err)
	}

	m.hub.ToDocument(docID, protocol.EventDocSaved, protocol.DocSaved{
		DocumentID: docID,
		VersionID:  v.ID,
		Version:    v.Version,
		AuthorID:   v.AuthorID,
		AuthorName: s.Identity.DisplayName,
		Message:    v.Message,
		SavedAt:    v.CreatedAt,
	})
	m.emitter.Emit(events.DocumentSaved, docID, v)
	return v, nil
}

// Leave ends collaboration; the document cannot be rejoined on this connection.
func (m *Manager) Leave(ctx context.Context, connID, docID string) error {
	s, err := m.reg.Get(connID)
	if err != nil {
		return err
	}
	m.leave(s, docID)
	return nil
}

func (m *Manager) leave(s *registry.Session, docID string) bool {
	unlock := m.locks.Lock(docID)
	defer unlock()

	if !s.LeaveDocument(docID) {
		return false
	}
	connID := s.ConnectionID
	m.mu.Lock()
	if live, ok := m.docs[docID]; ok {
		delete(live.collabs, connID)
	}
	m.mu.Unlock()
	m.hub.Unsubscribe(hub.DocumentScope(docID), connID)
	metrics.DocumentCollaborators.Dec()

	m.hub.ToDocument(docID, protocol.EventDocCollaboratorLeft, protocol.CollaboratorLeft{
		DocumentID:   docID,
		UserID:       s.UserID(),
		ConnectionID: connID,
	})
	m.log.Infow("document left", "connection_id", connID, "user_id", s.UserID(), "document_id", docID)
	return true
}

// Disconnect leaves every document s collaborates on, each independently.
func (m *Manager) Disconnect(s *registry.Session) int {
	left := 0
	for _, docID := range s.Documents() {
		if m.leaveSafely(s, docID) {
			left++
		}
	}
	return left
}

func (m *Manager) leaveSafely(s *registry.Session, docID string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorw("document cleanup panicked", "connection_id", s.ConnectionID, "document_id", docID, "panic", r)
			ok = false
		}
	}()
	return m.leave(s, docID)
}

// Collaborators lists live collaborators in join order.
func (m *Manager) Collaborators(docID string) []domain.DocumentCollaborator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	live, ok := m.docs[docID]
	if !ok {
		return []domain.DocumentCollaborator{}
	}
	out := make([]domain.DocumentCollaborator, 0, len(live.collabs))
	for _, c := range live.collabs {
		cp := *c
		if c.Selection != nil {
			sel := *c.Selection
			cp.Selection = &sel
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ConnectionID < out[j].ConnectionID
	})
	return out
}

// Authorize reports whether userID may read docID: owner, public or listed.
func (m *Manager) Authorize(ctx context.Context, userID, docID string) error {
	doc, err := m.store.GetDocument(ctx, docID)
	if err != nil {
		return apperr.Persistence("load document", err)
	}
	if !doc.CanAccess(userID) {
		return apperr.ErrAccessDenied
	}
	return nil
}

// Versions lists saved snapshots, newest first, to a user who may access docID.
func (m *Manager) Versions(ctx context.Context, userID, docID string, limit int) ([]*domain.DocumentVersion, error) {
	if err := m.Authorize(ctx, userID, docID); err != nil {
		return nil, err
	}
	vs, err := m.store.ListVersions(ctx, docID, limit)
	if err != nil {
		return nil, apperr.Persistence("load versions", err)
	}
	return vs, nil
}

func (m *Manager) docType(docID string) domain.DocumentType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if live, ok := m.docs[docID]; ok {
		return live.typ
	}
	return ""
}

func (m *Manager) setCursor(docID, connID string, pos int, sel *domain.Selection) domain.DocumentCollaborator {
	m.mu.Lock()
	defer m.mu.Unlock()
	live, ok := m.docs[docID]
	if !ok {
		return domain.DocumentCollaborator{}
	}
	c, ok := live.collabs[connID]
	if !ok {
		return domain.DocumentCollaborator{}
	}
	c.Cursor = pos
	if sel != nil {
		s := *sel
		c.Selection = &s
	} else {
		c.Selection = nil
	}
	return *c
}

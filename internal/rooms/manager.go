// Package rooms tracks live chat room presence, orders chat messages and
// fans out room events.
//
// Every operation on a room holds that room's key lock from validation until
// its broadcasts are enqueued, so two sends on one room never interleave.
package rooms

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
	"github.com/fathima-sithara/realtime-service/internal/jobs"
	"github.com/fathima-sithara/realtime-service/internal/keylock"
	"github.com/fathima-sithara/realtime-service/internal/metrics"
	"github.com/fathima-sithara/realtime-service/internal/protocol"
	"github.com/fathima-sithara/realtime-service/internal/registry"
	"github.com/fathima-sithara/realtime-service/internal/repository"
	"github.com/fathima-sithara/realtime-service/internal/sanitize"
)

const DefaultHistoryLimit = 50

// Enqueuer schedules post-broadcast enrichment of a stored message.
type Enqueuer interface {
	Enqueue(m *domain.ChatMessage)
}

type Options struct {
	HistoryLimit int
	Enricher     Enqueuer
}

type Manager struct {
	reg      *registry.Registry
	hub      *hub.Hub
	store    repository.RoomStore
	locks    *keylock.Locker
	queue    *jobs.Queue
	emitter  *events.Emitter
	enricher Enqueuer
	history  int
	log      *zap.SugaredLogger

	mu sync.RWMutex
	// roomID -> connID -> presence; emptied but kept when the last member leaves
	presence map[string]map[string]domain.RoomPresence
	// roomID -> userID -> typing
	typing map[string]map[string]domain.TypingState
}

func NewManager(reg *registry.Registry, h *hub.Hub, store repository.RoomStore, q *jobs.Queue,
	em *events.Emitter, opts Options, log *zap.SugaredLogger) *Manager {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	return &Manager{
		reg:      reg,
		hub:      h,
		store:    store,
		locks:    keylock.New(),
		queue:    q,
		emitter:  em,
		enricher: opts.Enricher,
		history:  opts.HistoryLimit,
		log:      log,
		presence: make(map[string]map[string]domain.RoomPresence),
		typing:   make(map[string]map[string]domain.TypingState),
	}
}

// Join adds the connection to the room's live presence. The caller receives
// room_joined with recent history and members; others receive user_joined.
func (m *Manager) Join(ctx context.Context, connID, roomID string) (*protocol.RoomJoined, error) {
	s, err := m.reg.Get(connID)
	if err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(roomID)
	defer unlock()

	room, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, apperr.Persistence("load room", err)
	}
	if _, err := m.store.GetMembership(ctx, roomID, s.UserID()); err != nil {
		return nil, apperr.Persistence("check membership", err)
	}
	history, err := m.store.RecentMessages(ctx, roomID, m.history)
	if err != nil {
		return nil, apperr.Persistence("load history", err)
	}

	added, err := s.JoinRoom(roomID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	first := false
	if added {
		p := domain.RoomPresence{
			UserID:       s.UserID(),
			ConnectionID: connID,
			DisplayName:  s.Identity.DisplayName,
			Avatar:       s.Identity.Avatar,
			Status:       domain.StatusOnline,
			LastSeen:     now,
			JoinedAt:     now,
		}
		m.mu.Lock()
		first = !m.userPresentLocked(roomID, s.UserID())
		if _, ok := m.presence[roomID]; !ok {
			m.presence[roomID] = make(map[string]domain.RoomPresence)
		}
		m.presence[roomID][connID] = p
		m.mu.Unlock()
		m.hub.Subscribe(hub.RoomScope(roomID), connID)
		metrics.RoomPresence.Inc()
	}

	snapshot := &protocol.RoomJoined{
		RoomID:   roomID,
		RoomName: room.Name,
		Messages: history,
		Members:  m.Members(roomID),
	}
	m.hub.ToConnection(connID, protocol.EventRoomJoined, snapshot)
	if !added {
		return snapshot, nil
	}

	m.hub.ToRoom(roomID, protocol.EventUserJoined, protocol.UserJoined{
		RoomID:          roomID,
		User:            m.presenceOf(roomID, connID),
		FirstConnection: first,
	}, hub.Except(connID))

	userID := s.UserID()
	m.queue.Submit("last_read", func(ctx context.Context) error {
		return m.store.UpdateLastRead(ctx, roomID, userID, now)
	})
	m.log.Infow("room joined", "connection_id", connID, "user_id", userID, "room_id", roomID)
	return snapshot, nil
}

// Leave is idempotent; user_left goes out only when presence was removed.
func (m *Manager) Leave(ctx context.Context, connID, roomID string) error {
	s, err := m.reg.Get(connID)
	if err != nil {
		return err
	}
	m.leave(s, roomID)
	return nil
}

func (m *Manager) leave(s *registry.Session, roomID string) bool {
	unlock := m.locks.Lock(roomID)
	defer unlock()

	if !s.LeaveRoom(roomID) {
		return false
	}
	connID := s.ConnectionID
	m.mu.Lock()
	delete(m.presence[roomID], connID)
	stillPresent := m.userPresentLocked(roomID, s.UserID())
	if !stillPresent {
		delete(m.typing[roomID], s.UserID())
	}
	m.mu.Unlock()
	m.hub.Unsubscribe(hub.RoomScope(roomID), connID)
	metrics.RoomPresence.Dec()

	m.hub.ToRoom(roomID, protocol.EventUserLeft, protocol.UserLeft{
		RoomID:       roomID,
		UserID:       s.UserID(),
		ConnectionID: connID,
		StillPresent: stillPresent,
	})
	m.log.Infow("room left", "connection_id", connID, "user_id", s.UserID(), "room_id", roomID)
	return true
}

// SendMessage persists the message and then broadcasts it to every live
// member, the sender included.
func (m *Manager) SendMessage(ctx context.Context, connID string, in protocol.SendMessage) (*domain.ChatMessage, error) {
	s, err := m.reg.Get(connID)
	if err != nil {
		return nil, err
	}
	unlock := m.locks.Lock(in.RoomID)
	defer unlock()

	if !s.InRoom(in.RoomID) {
		return nil, apperr.ErrNotInRoom
	}
	if in.ReplyToID != "" {
		target, err := m.store.GetMessage(ctx, in.ReplyToID)
		if err != nil {
			return nil, apperr.Persistence("load reply target", err)
		}
		if target.RoomID != in.RoomID {
			return nil, apperr.ErrMessageNotFound
		}
	}

	content := in.Content
	if in.Type == domain.MessageHTML {
		content = sanitize.HTML(content)
	}
	msg := &domain.ChatMessage{
		ID:          uuid.Must(uuid.NewV7()).String(),
		RoomID:      in.RoomID,
		SenderID:    s.UserID(),
		SenderName:  s.Identity.DisplayName,
		Content:     content,
		Type:        in.Type,
		ReplyToID:   in.ReplyToID,
		Attachments: in.Attachments,
		Reactions:   map[string][]string{},
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.store.InsertMessage(ctx, msg); err != nil {
		m.log.Errorw("persist message", "room_id", in.RoomID, "user_id", s.UserID(), "error", err)
		return nil, apperr.Transient("save message", err)
	}

	m.hub.ToRoom(in.RoomID, protocol.EventMessage, msg)
	m.emitter.Emit(events.MessageSent, in.RoomID, msg)
	if m.enricher != nil {
		m.enricher.Enqueue(msg)
	}
	return msg, nil
}

// SetTyping records or clears the user's typing state and tells the others.
func (m *Manager) SetTyping(ctx context.Context, connID, roomID string, isTyping bool) error {
	s, err := m.reg.Get(connID)
	if err != nil {
		return err
	}
	unlock := m.locks.Lock(roomID)
	defer unlock()

	if !s.InRoom(roomID) {
		return apperr.ErrNotInRoom
	}
	now := time.Now().UTC()
	m.mu.Lock()
	if isTyping {
		if _, ok := m.typing[roomID]; !ok {
			m.typing[roomID] = make(map[string]domain.TypingState)
		}
		m.typing[roomID][s.UserID()] = domain.TypingState{IsTyping: true, UpdatedAt: now}
	} else {
		delete(m.typing[roomID], s.UserID())
	}
	m.mu.Unlock()

	m.hub.ToRoom(roomID, protocol.EventTypingStatus, protocol.TypingStatus{
		RoomID:      roomID,
		UserID:      s.UserID(),
		DisplayName: s.Identity.DisplayName,
		IsTyping:    isTyping,
		UpdatedAt:   now,
	}, hub.Except(connID))
	return nil
}

// MarkRead persists last_read_at for the caller's membership.
func (m *Manager) MarkRead(ctx context.Context, connID, roomID string) error {
	s, err := m.reg.Get(connID)
	if err != nil {
		return err
	}
	if !s.InRoom(roomID) {
		return apperr.ErrNotInRoom
	}
	if err := m.store.UpdateLastRead(ctx, roomID, s.UserID(), time.Now().UTC()); err != nil {
		return apperr.Persistence("mark read", err)
	}
	return nil
}

// Disconnect leaves every room s is live in. Each room is handled on its own.
func (m *Manager) Disconnect(s *registry.Session) int {
	left := 0
	for _, roomID := range s.Rooms() {
		if m.leaveSafely(s, roomID) {
			left++
		}
	}
	return left
}

func (m *Manager) leaveSafely(s *registry.Session, roomID string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorw("room cleanup panicked", "connection_id", s.ConnectionID, "room_id", roomID, "panic", r)
			ok = false
		}
	}()
	return m.leave(s, roomID)
}

// Members returns the live members of roomID, one entry per user.
func (m *Manager) Members(roomID string) []domain.RoomPresence {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byUser := make(map[string]domain.RoomPresence)
	for _, p := range m.presence[roomID] {
		cur, ok := byUser[p.UserID]
		if !ok || p.JoinedAt.Before(cur.JoinedAt) ||
			(p.JoinedAt.Equal(cur.JoinedAt) && p.ConnectionID < cur.ConnectionID) {
			byUser[p.UserID] = p
		}
	}
	out := make([]domain.RoomPresence, 0, len(byUser))
	for _, p := range byUser {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Typing returns the users currently typing in roomID.
func (m *Manager) Typing(roomID string) map[string]domain.TypingState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.TypingState, len(m.typing[roomID]))
	for k, v := range m.typing[roomID] {
		out[k] = v
	}
	return out
}

// Known reports whether roomID has had a live view in this process.
func (m *Manager) Known(roomID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.presence[roomID]
	return ok
}

func (m *Manager) presenceOf(roomID, connID string) domain.RoomPresence {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.presence[roomID][connID]
}

func (m *Manager) userPresentLocked(roomID, userID string) bool {
	for _, p := range m.presence[roomID] {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

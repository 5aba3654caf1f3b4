package registry

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
)

// Identity is the authenticated user bound to a connection.
type Identity struct {
	UserID      string   `json:"user_id"`
	DisplayName string   `json:"display_name"`
	Avatar      string   `json:"avatar,omitempty"`
	Roles       []string `json:"-"`
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

// Sink delivers encoded frames to one live connection.
type Sink interface {
	Send(frame []byte) error
	Close() error
}

type DocState int

const (
	DocNotJoined DocState = iota
	DocJoined
	DocLeft
)

func (s DocState) String() string {
	switch s {
	case DocJoined:
		return "joined"
	case DocLeft:
		return "left"
	}
	return "not_joined"
}

type Session struct {
	ConnectionID string
	Identity     Identity
	ConnectedAt  time.Time

	sink Sink

	mu     sync.Mutex
	closed bool
	rooms  map[string]struct{}
	docs   map[string]DocState
}

func newSession(connID string, id Identity, sink Sink) *Session {
	return &Session{
		ConnectionID: connID,
		Identity:     id,
		ConnectedAt:  time.Now().UTC(),
		sink:         sink,
		rooms:        make(map[string]struct{}),
		docs:         make(map[string]DocState),
	}
}

func (s *Session) Sink() Sink { return s.sink }

func (s *Session) UserID() string { return s.Identity.UserID }

// JoinRoom records roomID on the session. added is false when it was already joined.
func (s *Session) JoinRoom(roomID string) (added bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, apperr.ErrSessionClosed
	}
	if _, ok := s.rooms[roomID]; ok {
		return false, nil
	}
	s.rooms[roomID] = struct{}{}
	return true, nil
}

func (s *Session) LeaveRoom(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return false
	}
	delete(s.rooms, roomID)
	return true
}

func (s *Session) InRoom(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[roomID]
	return ok
}

// Rooms returns the joined room ids, sorted.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Session) DocState(docID string) DocState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[docID]
}

// JoinDocument moves docID to DocJoined. LEFT is terminal for a connection.
func (s *Session) JoinDocument(docID string) (added bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, apperr.ErrSessionClosed
	}
	switch s.docs[docID] {
	case DocLeft:
		return false, apperr.ErrDocumentSessionClosed
	case DocJoined:
		return false, nil
	}
	s.docs[docID] = DocJoined
	return true, nil
}

// LeaveDocument moves a joined document to DocLeft and reports whether it was joined.
func (s *Session) LeaveDocument(docID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docs[docID] != DocJoined {
		return false
	}
	s.docs[docID] = DocLeft
	return true
}

// Documents returns the ids currently in DocJoined, sorted.
func (s *Session) Documents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.docs))
	for id, st := range s.docs {
		if st == DocJoined {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

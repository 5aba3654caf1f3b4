// Package coordinator is the single entry point of the realtime core. The
// transport hands it connections and parsed commands; other services reach
// it through the server side broadcast and query API.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/documents"
	"github.com/fathima-sithara/realtime-service/internal/domain"
	"github.com/fathima-sithara/realtime-service/internal/events"
	"github.com/fathima-sithara/realtime-service/internal/hub"
	"github.com/fathima-sithara/realtime-service/internal/jobs"
	"github.com/fathima-sithara/realtime-service/internal/metrics"
	"github.com/fathima-sithara/realtime-service/internal/protocol"
	"github.com/fathima-sithara/realtime-service/internal/redis"
	"github.com/fathima-sithara/realtime-service/internal/registry"
	"github.com/fathima-sithara/realtime-service/internal/repository"
	"github.com/fathima-sithara/realtime-service/internal/rooms"
)

// PresenceMirror publishes who is online for other instances. It is written
// from the job queue and read only for users this process does not hold.
type PresenceMirror interface {
	AddConnection(ctx context.Context, userID, connID string) error
	RemoveConnection(ctx context.Context, userID, connID string) error
	GetPresence(ctx context.Context, userID string) (*redis.Presence, error)
}

type Coordinator struct {
	reg     *registry.Registry
	hub     *hub.Hub
	rooms   *rooms.Manager
	docs    *documents.Manager
	store   repository.RoomStore
	queue   *jobs.Queue
	emitter *events.Emitter
	mirror  PresenceMirror
	log     *zap.SugaredLogger

	mu sync.Mutex
	// connID -> closed once the mirror add for that connection has run
	mirrorAdds map[string]chan struct{}
}

type Deps struct {
	Registry  *registry.Registry
	Hub       *hub.Hub
	Rooms     *rooms.Manager
	Documents *documents.Manager
	Store     repository.RoomStore
	Queue     *jobs.Queue
	Emitter   *events.Emitter
	// Mirror is optional.
	Mirror PresenceMirror
}

func New(d Deps, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		reg:     d.Registry,
		hub:     d.Hub,
		rooms:   d.Rooms,
		docs:    d.Documents,
		store:   d.Store,
		queue:   d.Queue,
		emitter: d.Emitter,
		mirror:  d.Mirror,
		log:     log,

		mirrorAdds: make(map[string]chan struct{}),
	}
}

// Connect admits an authenticated connection under a fresh connection id.
func (c *Coordinator) Connect(ctx context.Context, id registry.Identity, sink registry.Sink) (*registry.Session, error) {
	if strings.TrimSpace(id.UserID) == "" {
		return nil, apperr.ErrUnauthenticated
	}
	s, err := c.reg.Register(uuid.NewString(), id, sink)
	if err != nil {
		return nil, err
	}
	metrics.Connections.Inc()

	userID, connID := id.UserID, s.ConnectionID
	if c.mirror != nil {
		c.mirrorAdd(userID, connID)
	}
	c.emitter.Emit(events.PresenceConnected, userID, presencePayload(userID, connID))
	c.log.Infow("connection registered", "connection_id", connID, "user_id", userID)
	return s, nil
}

// Disconnect removes the connection and then leaves every room and document
// it was live in, emitting exactly one leave per scope.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) error {
	s, err := c.reg.Unregister(connID)
	if err != nil {
		return err
	}
	metrics.Connections.Dec()
	roomsLeft := c.rooms.Disconnect(s)
	docsLeft := c.docs.Disconnect(s)

	userID := s.UserID()
	if c.mirror != nil {
		c.mirrorRemove(userID, connID)
	}
	c.emitter.Emit(events.PresenceDisconnected, userID, presencePayload(userID, connID))
	c.log.Infow("connection closed", "connection_id", connID, "user_id", userID,
		"rooms_left", roomsLeft, "documents_left", docsLeft,
		"connected_for", time.Since(s.ConnectedAt).String())
	return nil
}

// mirrorAdd and mirrorRemove run on different workers; the remove waits for
// its connection's add so a late add never resurrects a closed connection.
func (c *Coordinator) mirrorAdd(userID, connID string) {
	added := make(chan struct{})
	c.mu.Lock()
	c.mirrorAdds[connID] = added
	c.mu.Unlock()
	ok := c.queue.Submit("presence add", func(ctx context.Context) error {
		defer close(added)
		return c.mirror.AddConnection(ctx, userID, connID)
	})
	if !ok {
		close(added)
	}
}

func (c *Coordinator) mirrorRemove(userID, connID string) {
	c.mu.Lock()
	added := c.mirrorAdds[connID]
	delete(c.mirrorAdds, connID)
	c.mu.Unlock()
	c.queue.Submit("presence remove", func(ctx context.Context) error {
		if added != nil {
			select {
			case <-added:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return c.mirror.RemoveConnection(ctx, userID, connID)
	})
}

func presencePayload(userID, connID string) map[string]string {
	return map[string]string{"user_id": userID, "connection_id": connID}
}

// Handle runs one parsed client command for connID. Replies and broadcasts
// are delivered by the managers; only the rejection is returned.
func (c *Coordinator) Handle(ctx context.Context, connID string, cmd protocol.Command) error {
	switch cmd := cmd.(type) {
	case protocol.JoinRoom:
		_, err := c.rooms.Join(ctx, connID, cmd.RoomID)
		return err
	case protocol.LeaveRoom:
		return c.rooms.Leave(ctx, connID, cmd.RoomID)
	case protocol.SendMessage:
		_, err := c.rooms.SendMessage(ctx, connID, cmd)
		return err
	case protocol.Typing:
		return c.rooms.SetTyping(ctx, connID, cmd.RoomID, cmd.IsTyping)
	case protocol.MarkRead:
		return c.rooms.MarkRead(ctx, connID, cmd.RoomID)
	case protocol.DocJoin:
		_, err := c.docs.Join(ctx, connID, cmd.DocumentID)
		return err
	case protocol.DocLeave:
		return c.docs.Leave(ctx, connID, cmd.DocumentID)
	case protocol.DocUpdateContent:
		_, err := c.docs.UpdateContent(ctx, connID, cmd)
		return err
	case protocol.DocCursor:
		return c.docs.UpdateCursor(ctx, connID, cmd)
	case protocol.DocSave:
		_, err := c.docs.Save(ctx, connID, cmd.DocumentID, cmd.Message)
		return err
	default:
		return apperr.Validation("unsupported command %T", cmd)
	}
}

func (c *Coordinator) BroadcastToRoom(roomID, event string, payload any) int {
	return c.hub.ToRoom(roomID, event, payload)
}

func (c *Coordinator) BroadcastToUser(userID, event string, payload any) int {
	return c.hub.ToUser(userID, event, payload)
}

func (c *Coordinator) GetOnlineUsers() []registry.Identity {
	return c.reg.OnlineUsers()
}

func (c *Coordinator) GetRoomMembers(roomID string) []domain.RoomPresence {
	return c.rooms.Members(roomID)
}

func (c *Coordinator) GetDocumentCollaborators(docID string) []domain.DocumentCollaborator {
	return c.docs.Collaborators(docID)
}

// authorizeRoom requires a durable membership of userID in roomID.
func (c *Coordinator) authorizeRoom(ctx context.Context, userID, roomID string) error {
	if _, err := c.store.GetRoom(ctx, roomID); err != nil {
		return apperr.Persistence("load room", err)
	}
	if _, err := c.store.GetMembership(ctx, roomID, userID); err != nil {
		return apperr.Persistence("check membership", err)
	}
	return nil
}

// RoomMembersFor is GetRoomMembers for a caller who must be a room member.
func (c *Coordinator) RoomMembersFor(ctx context.Context, userID, roomID string) ([]domain.RoomPresence, error) {
	if err := c.authorizeRoom(ctx, userID, roomID); err != nil {
		return nil, err
	}
	return c.rooms.Members(roomID), nil
}

// DocumentCollaboratorsFor is GetDocumentCollaborators for a caller with access.
func (c *Coordinator) DocumentCollaboratorsFor(ctx context.Context, userID, docID string) ([]domain.DocumentCollaborator, error) {
	if err := c.docs.Authorize(ctx, userID, docID); err != nil {
		return nil, err
	}
	return c.docs.Collaborators(docID), nil
}

// History returns recent messages of roomID to one of its members.
func (c *Coordinator) History(ctx context.Context, userID, roomID string, limit int) ([]*domain.ChatMessage, error) {
	if err := c.authorizeRoom(ctx, userID, roomID); err != nil {
		return nil, err
	}
	msgs, err := c.store.RecentMessages(ctx, roomID, limit)
	if err != nil {
		return nil, apperr.Persistence("load history", err)
	}
	return msgs, nil
}

func (c *Coordinator) Versions(ctx context.Context, userID, docID string, limit int) ([]*domain.DocumentVersion, error) {
	return c.docs.Versions(ctx, userID, docID, limit)
}

type UserPresence struct {
	UserID      string    `json:"user_id"`
	Status      string    `json:"status"`
	Connections int       `json:"connections"`
	LastSeen    time.Time `json:"last_seen,omitempty"`
	// Remote is set when the answer came from the shared mirror.
	Remote bool `json:"remote"`
}

// Presence answers from local sessions first and falls back to the mirror.
func (c *Coordinator) Presence(ctx context.Context, userID string) (UserPresence, error) {
	if conns := c.reg.FindByUser(userID); len(conns) > 0 {
		return UserPresence{UserID: userID, Status: domain.StatusOnline, Connections: len(conns), LastSeen: time.Now().UTC()}, nil
	}
	offline := UserPresence{UserID: userID, Status: "offline"}
	if c.mirror == nil {
		return offline, nil
	}
	p, err := c.mirror.GetPresence(ctx, userID)
	if errors.Is(err, redis.ErrNoPresence) {
		return offline, nil
	}
	if err != nil {
		return UserPresence{}, apperr.Transient("read presence", err)
	}
	return UserPresence{
		UserID:      userID,
		Status:      p.Status,
		Connections: int(p.Connections),
		LastSeen:    time.Unix(p.LastSeen, 0).UTC(),
		Remote:      true,
	}, nil
}

// BroadcastCommand lets other services fan out through this process.
type BroadcastCommand struct {
	Scope   string          `json:"scope"`
	ID      string          `json:"id"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

const (
	ScopeRoom       = "room"
	ScopeUser       = "user"
	ScopeDocument   = "document"
	ScopeConnection = "connection"
)

// Broadcast delivers cmd and reports how many connections were reached.
func (c *Coordinator) Broadcast(cmd BroadcastCommand) (int, error) {
	if cmd.ID == "" || cmd.Event == "" {
		return 0, apperr.Validation("broadcast needs id and event")
	}
	payload := cmd.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	switch cmd.Scope {
	case ScopeRoom:
		return c.hub.ToRoom(cmd.ID, cmd.Event, payload), nil
	case ScopeUser:
		return c.hub.ToUser(cmd.ID, cmd.Event, payload), nil
	case ScopeDocument:
		return c.hub.ToDocument(cmd.ID, cmd.Event, payload), nil
	case ScopeConnection:
		if c.hub.ToConnection(cmd.ID, cmd.Event, payload) {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, apperr.Validation("unknown broadcast scope %q", cmd.Scope)
	}
}

// HandleBroadcastCommand is the consumer callback for the broadcast topic.
// Malformed commands are logged and skipped so they never block the partition.
func (c *Coordinator) HandleBroadcastCommand(ctx context.Context, key string, value []byte) error {
	var cmd BroadcastCommand
	if err := json.Unmarshal(value, &cmd); err != nil {
		c.log.Warnw("bad broadcast command", "key", key, "error", err)
		return nil
	}
	n, err := c.Broadcast(cmd)
	if err != nil {
		c.log.Warnw("broadcast command rejected", "key", key, "scope", cmd.Scope, "error", err)
		return nil
	}
	c.log.Infow("broadcast command delivered", "scope", cmd.Scope, "id", cmd.ID, "event", cmd.Event, "delivered", n)
	return nil
}

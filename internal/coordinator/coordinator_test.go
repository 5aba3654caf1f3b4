package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/documents"
	"github.com/fathima-sithara/realtime-service/internal/domain"
	"github.com/fathima-sithara/realtime-service/internal/events"
	"github.com/fathima-sithara/realtime-service/internal/hub"
	"github.com/fathima-sithara/realtime-service/internal/jobs"
	"github.com/fathima-sithara/realtime-service/internal/protocol"
	"github.com/fathima-sithara/realtime-service/internal/redis"
	"github.com/fathima-sithara/realtime-service/internal/registry"
	"github.com/fathima-sithara/realtime-service/internal/repository"
	"github.com/fathima-sithara/realtime-service/internal/rooms"
	"github.com/fathima-sithara/realtime-service/internal/testutil"
)

type fakeMirror struct {
	mu      sync.Mutex
	added   []string
	removed []string
	ops     []string
	remote  map[string]*redis.Presence
	err     error
	// when set, AddConnection blocks until it is closed
	gate chan struct{}
}

func (f *fakeMirror) AddConnection(_ context.Context, userID, connID string) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, userID+"/"+connID)
	f.ops = append(f.ops, "add "+userID)
	return nil
}

func (f *fakeMirror) RemoveConnection(_ context.Context, userID, connID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, userID+"/"+connID)
	f.ops = append(f.ops, "remove "+userID)
	return nil
}

func (f *fakeMirror) GetPresence(_ context.Context, userID string) (*redis.Presence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.remote[userID]
	if !ok {
		return nil, redis.ErrNoPresence
	}
	return p, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type env struct {
	t      *testing.T
	co     *Coordinator
	store  *repository.MemoryStore
	queue  *jobs.Queue
	mirror *fakeMirror
	pub    *recordingPublisher
}

var lim = protocol.Limits{MaxMessageLength: 4000, MaxDocumentBytes: 1 << 16}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWithWorkers(t, 1, nil)
}

func newEnvWithWorkers(t *testing.T, workers int, gate chan struct{}) *env {
	t.Helper()
	ctx := context.Background()
	log := zap.NewNop().Sugar()
	reg := registry.New()
	h := hub.New(reg, log)
	store := repository.NewMemoryStore()
	q := jobs.New(workers, 256, log)
	t.Cleanup(func() { _ = q.Close(context.Background()) })
	pub := &recordingPublisher{}
	em := events.NewEmitter(pub, q)
	mirror := &fakeMirror{remote: map[string]*redis.Presence{}, gate: gate}

	e := &env{
		t:      t,
		store:  store,
		queue:  q,
		mirror: mirror,
		pub:    pub,
		co: New(Deps{
			Registry:  reg,
			Hub:       h,
			Rooms:     rooms.NewManager(reg, h, store, q, em, rooms.Options{}, log),
			Documents: documents.NewManager(reg, h, store, em, []string{"#e6194b"}, log),
			Store:     store,
			Queue:     q,
			Emitter:   em,
			Mirror:    mirror,
		}, log),
	}

	require.NoError(t, store.CreateRoom(ctx, &domain.Room{ID: "general", Name: "General"}))
	require.NoError(t, store.CreateRoom(ctx, &domain.Room{ID: "quiet", Name: "Quiet"}))
	for _, u := range []string{"alice", "bob"} {
		require.NoError(t, store.AddRoomMember(ctx, domain.RoomMembership{RoomID: "general", UserID: u}))
		require.NoError(t, store.AddRoomMember(ctx, domain.RoomMembership{RoomID: "quiet", UserID: u}))
	}
	require.NoError(t, store.CreateDocument(ctx, &domain.Document{
		ID: "d1", Title: "Notes", Content: "v1", Type: domain.DocumentText, Version: 1,
		OwnerID: "alice", Visibility: domain.VisibilityPrivate, Collaborators: []string{"bob"},
	}))
	return e
}

func (e *env) connect(userID string) (*registry.Session, *testutil.Sink) {
	e.t.Helper()
	sink := testutil.NewSink()
	s, err := e.co.Connect(context.Background(), registry.Identity{UserID: userID, DisplayName: userID}, sink)
	require.NoError(e.t, err)
	return s, sink
}

// do parses a raw client frame and runs it the way the websocket dispatcher does.
func (e *env) do(s *registry.Session, raw string) error {
	e.t.Helper()
	cmd, _, err := protocol.Parse([]byte(raw), lim)
	require.NoError(e.t, err)
	return e.co.Handle(context.Background(), s.ConnectionID, cmd)
}

func TestConnectAssignsIDsAndMirrors(t *testing.T) {
	e := newEnv(t)
	a1, _ := e.connect("alice")
	a2, _ := e.connect("alice")
	b, _ := e.connect("bob")
	assert.NotEqual(t, a1.ConnectionID, a2.ConnectionID)

	online := e.co.GetOnlineUsers()
	require.Len(t, online, 2)
	assert.Equal(t, "alice", online[0].UserID)
	assert.Equal(t, "bob", online[1].UserID)

	require.NoError(t, e.co.Disconnect(context.Background(), b.ConnectionID))
	e.queue.Wait()

	e.mirror.mu.Lock()
	assert.Len(t, e.mirror.added, 3)
	assert.Equal(t, []string{"bob/" + b.ConnectionID}, e.mirror.removed)
	e.mirror.mu.Unlock()
	assert.ElementsMatch(t, []string{
		events.PresenceConnected, events.PresenceConnected, events.PresenceConnected, events.PresenceDisconnected,
	}, e.pub.types())
}

func TestMirrorRemoveWaitsForAdd(t *testing.T) {
	gate := make(chan struct{})
	e := newEnvWithWorkers(t, 4, gate)
	a, _ := e.connect("alice")
	require.NoError(t, e.co.Disconnect(context.Background(), a.ConnectionID))

	// a free worker has the remove by now; it must not run ahead of the add
	time.Sleep(50 * time.Millisecond)
	e.mirror.mu.Lock()
	assert.Empty(t, e.mirror.ops)
	e.mirror.mu.Unlock()

	close(gate)
	e.queue.Wait()
	e.mirror.mu.Lock()
	defer e.mirror.mu.Unlock()
	assert.Equal(t, []string{"add alice", "remove alice"}, e.mirror.ops)
}

func TestConnectRejectsAnonymous(t *testing.T) {
	e := newEnv(t)
	_, err := e.co.Connect(context.Background(), registry.Identity{}, testutil.NewSink())
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
	assert.Empty(t, e.co.GetOnlineUsers())
}

func TestDisconnectUnknown(t *testing.T) {
	e := newEnv(t)
	assert.ErrorIs(t, e.co.Disconnect(context.Background(), "nope"), apperr.ErrConnectionNotFound)
}

func TestScenarioGeneralRoom(t *testing.T) {
	e := newEnv(t)
	a, sinkA := e.connect("alice")
	b, sinkB := e.connect("bob")
	c, sinkC := e.connect("carol")

	require.NoError(t, e.do(a, `{"event":"join_room","data":{"room_id":"general"}}`))
	require.NoError(t, e.do(b, `{"event":"join_room","data":{"room_id":"general"}}`))
	err := e.do(c, `{"event":"join_room","data":{"room_id":"general"}}`)
	assert.ErrorIs(t, err, apperr.ErrNotAMember)

	require.NoError(t, e.do(a, `{"event":"send_message","data":{"room_id":"general","content":"hello"}}`))

	for _, sink := range []*testutil.Sink{sinkA, sinkB} {
		msgs := sink.Named(protocol.EventMessage)
		require.Len(t, msgs, 1)
		assert.Equal(t, "hello", testutil.Decode[domain.ChatMessage](msgs[0]).Content)
	}
	assert.Empty(t, sinkC.Frames())
	assert.Len(t, e.co.GetRoomMembers("general"), 2)

	history, err := e.co.History(context.Background(), "alice", "general", 50)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "alice", history[0].SenderID)

	_, err = e.co.History(context.Background(), "carol", "general", 50)
	assert.ErrorIs(t, err, apperr.ErrNotAMember)
	_, err = e.co.History(context.Background(), "alice", "missing", 50)
	assert.ErrorIs(t, err, apperr.ErrRoomNotFound)

	members, err := e.co.RoomMembersFor(context.Background(), "bob", "general")
	require.NoError(t, err)
	assert.Len(t, members, 2)
	_, err = e.co.RoomMembersFor(context.Background(), "carol", "general")
	assert.ErrorIs(t, err, apperr.ErrNotAMember)
}

func TestSendToRoomWithoutPresenceWritesNothing(t *testing.T) {
	e := newEnv(t)
	a, sinkA := e.connect("alice")

	err := e.do(a, `{"event":"send_message","data":{"room_id":"quiet","content":"anyone?"}}`)
	assert.ErrorIs(t, err, apperr.ErrNotInRoom)
	assert.Zero(t, e.store.MessageCount("quiet"))
	assert.Empty(t, sinkA.Frames())
}

func TestDisconnectCascadesOncePerScope(t *testing.T) {
	e := newEnv(t)
	a, _ := e.connect("alice")
	b, sinkB := e.connect("bob")
	for _, s := range []*registry.Session{a, b} {
		require.NoError(t, e.do(s, `{"event":"join_room","data":{"room_id":"general"}}`))
		require.NoError(t, e.do(s, `{"event":"join_room","data":{"room_id":"quiet"}}`))
		require.NoError(t, e.do(s, `{"event":"doc:join","data":{"document_id":"d1"}}`))
	}
	sinkB.Reset()

	require.NoError(t, e.co.Disconnect(context.Background(), a.ConnectionID))

	assert.Equal(t, 2, sinkB.Count(protocol.EventUserLeft))
	assert.Equal(t, 1, sinkB.Count(protocol.EventDocCollaboratorLeft))
	assert.Len(t, e.co.GetRoomMembers("general"), 1)
	assert.Len(t, e.co.GetDocumentCollaborators("d1"), 1)
	assert.True(t, a.Closed())

	// commands from a closed connection are rejected
	assert.ErrorIs(t, e.do(a, `{"event":"join_room","data":{"room_id":"general"}}`), apperr.ErrConnectionNotFound)
}

func TestScenarioDocumentEdit(t *testing.T) {
	e := newEnv(t)
	a, sinkA := e.connect("alice")
	b, sinkB := e.connect("bob")
	require.NoError(t, e.do(a, `{"event":"doc:join","data":{"document_id":"d1"}}`))
	require.NoError(t, e.do(b, `{"event":"doc:join","data":{"document_id":"d1"}}`))

	require.NoError(t, e.do(a, `{"event":"doc:update","data":{"document_id":"d1","content":"v2"}}`))
	updates := sinkB.Named(protocol.EventDocUpdate)
	require.Len(t, updates, 1)
	u := testutil.Decode[protocol.DocUpdate](updates[0])
	assert.Equal(t, "v2", u.Content)
	assert.Equal(t, int64(2), u.Version)
	assert.Zero(t, sinkA.Count(protocol.EventDocUpdate))

	require.NoError(t, e.do(b, `{"event":"doc:save","data":{"document_id":"d1","message":"first"}}`))
	versions, err := e.co.Versions(context.Background(), "bob", "d1", 10)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, int64(2), versions[0].Version)
	_, err = e.co.Versions(context.Background(), "mallory", "d1", 10)
	assert.ErrorIs(t, err, apperr.ErrAccessDenied)
	_, err = e.co.DocumentCollaboratorsFor(context.Background(), "mallory", "d1")
	assert.ErrorIs(t, err, apperr.ErrAccessDenied)
	collabs, err := e.co.DocumentCollaboratorsFor(context.Background(), "alice", "d1")
	require.NoError(t, err)
	assert.Len(t, collabs, 2)

	require.NoError(t, e.do(b, `{"event":"doc:leave","data":{"document_id":"d1"}}`))
	assert.ErrorIs(t, e.do(b, `{"event":"doc:join","data":{"document_id":"d1"}}`), apperr.ErrDocumentSessionClosed)
}

func TestUnauthorizedDocumentJoinIsSilent(t *testing.T) {
	e := newEnv(t)
	a, sinkA := e.connect("alice")
	c, _ := e.connect("carol")
	require.NoError(t, e.do(a, `{"event":"doc:join","data":{"document_id":"d1"}}`))
	sinkA.Reset()

	assert.ErrorIs(t, e.do(c, `{"event":"doc:join","data":{"document_id":"d1"}}`), apperr.ErrAccessDenied)
	assert.Empty(t, sinkA.Frames())
}

func TestBroadcast(t *testing.T) {
	e := newEnv(t)
	a, sinkA := e.connect("alice")
	_, sinkA2 := e.connect("alice")
	b, sinkB := e.connect("bob")
	require.NoError(t, e.do(a, `{"event":"join_room","data":{"room_id":"general"}}`))
	require.NoError(t, e.do(b, `{"event":"doc:join","data":{"document_id":"d1"}}`))
	sinkA.Reset()
	sinkB.Reset()

	assert.Equal(t, 1, e.co.BroadcastToRoom("general", "announcement", map[string]string{"text": "sale"}))
	assert.Equal(t, 2, e.co.BroadcastToUser("alice", "order_shipped", map[string]string{"order": "42"}))
	assert.Equal(t, 1, sinkA.Count("announcement"))
	assert.Equal(t, 1, sinkA2.Count("order_shipped"))

	tests := []struct {
		name string
		cmd  BroadcastCommand
		want int
		ok   bool
	}{
		{"room", BroadcastCommand{Scope: ScopeRoom, ID: "general", Event: "promo"}, 1, true},
		{"user", BroadcastCommand{Scope: ScopeUser, ID: "alice", Event: "promo"}, 2, true},
		{"document", BroadcastCommand{Scope: ScopeDocument, ID: "d1", Event: "promo"}, 1, true},
		{"connection", BroadcastCommand{Scope: ScopeConnection, ID: b.ConnectionID, Event: "promo"}, 1, true},
		{"gone connection", BroadcastCommand{Scope: ScopeConnection, ID: "gone", Event: "promo"}, 0, true},
		{"bad scope", BroadcastCommand{Scope: "planet", ID: "x", Event: "promo"}, 0, false},
		{"missing event", BroadcastCommand{Scope: ScopeRoom, ID: "general"}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := e.co.Broadcast(tt.cmd)
			if !tt.ok {
				assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestHandleBroadcastCommand(t *testing.T) {
	e := newEnv(t)
	_, sinkB := e.connect("bob")

	err := e.co.HandleBroadcastCommand(context.Background(), "bob",
		[]byte(`{"scope":"user","id":"bob","event":"notice","payload":{"text":"hi"}}`))
	require.NoError(t, err)
	got := sinkB.Named("notice")
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"text":"hi"}`, string(got[0].Data))

	assert.NoError(t, e.co.HandleBroadcastCommand(context.Background(), "", []byte(`{`)))
	assert.NoError(t, e.co.HandleBroadcastCommand(context.Background(), "", []byte(`{"scope":"moon","id":"x","event":"y"}`)))
	assert.Equal(t, 1, sinkB.Count("notice"))
}

func TestPresence(t *testing.T) {
	e := newEnv(t)
	e.connect("alice")
	e.mirror.remote["zed"] = &redis.Presence{UserID: "zed", Status: "online", Connections: 2, LastSeen: 1700000000}

	p, err := e.co.Presence(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnline, p.Status)
	assert.Equal(t, 1, p.Connections)
	assert.False(t, p.Remote)

	p, err = e.co.Presence(context.Background(), "zed")
	require.NoError(t, err)
	assert.True(t, p.Remote)
	assert.Equal(t, 2, p.Connections)

	p, err = e.co.Presence(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, "offline", p.Status)

	e.mirror.err = errors.New("redis down")
	_, err = e.co.Presence(context.Background(), "nobody")
	assert.Equal(t, apperr.KindTransient, apperr.KindOf(err))
}

package ws

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/protocol"
	"github.com/fathima-sithara/realtime-service/internal/registry"
	"github.com/fathima-sithara/realtime-service/internal/testutil"
)

type fakeCore struct {
	mu   sync.Mutex
	cmds []protocol.Command
	err  error
}

func (f *fakeCore) Connect(context.Context, registry.Identity, registry.Sink) (*registry.Session, error) {
	return nil, errors.New("not used")
}

func (f *fakeCore) Disconnect(context.Context, string) error { return nil }

func (f *fakeCore) Handle(_ context.Context, _ string, cmd protocol.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return f.err
}

func newTestServer(core Core, conf Config) *Server {
	conf.Limits = protocol.Limits{MaxMessageLength: 100, MaxDocumentBytes: 100}
	return NewServer(core, conf, zap.NewNop().Sugar())
}

func TestConnectionSendBuffer(t *testing.T) {
	c := newConnection(nil, 2)
	require.NoError(t, c.Send([]byte("a")))
	require.NoError(t, c.Send([]byte("b")))
	assert.ErrorIs(t, c.Send([]byte("c")), ErrSendBufferFull)

	assert.Equal(t, []byte("a"), <-c.send)
	require.NoError(t, c.Send([]byte("c")))
	assert.Equal(t, []byte("b"), <-c.send)
	assert.Equal(t, []byte("c"), <-c.send)
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	c := newConnection(nil, 1)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send([]byte("x")), ErrConnClosed)
	select {
	case <-c.done:
	default:
		t.Fatal("done not closed")
	}
}

func TestInboundRunsCommands(t *testing.T) {
	core := &fakeCore{}
	srv := newTestServer(core, Config{})
	sink := testutil.NewSink()
	in := srv.newInbound(sink, "c1")

	in.handle(context.Background(), []byte(`{"event":"join_room","data":{"room_id":"general"}}`))
	require.Len(t, core.cmds, 1)
	assert.Equal(t, protocol.JoinRoom{RoomID: "general"}, core.cmds[0])
	assert.Empty(t, sink.Frames())
}

func TestInboundRejectsMalformed(t *testing.T) {
	core := &fakeCore{}
	srv := newTestServer(core, Config{})
	sink := testutil.NewSink()
	in := srv.newInbound(sink, "c1")

	in.handle(context.Background(), []byte(`{"event":"join_room","data":{},"ref":"r1"}`))
	assert.Empty(t, core.cmds)

	errs := sink.Named(protocol.EventError)
	require.Len(t, errs, 1)
	got := testutil.Decode[protocol.Error](errs[0])
	assert.Equal(t, "invalid_payload", got.Code)
	assert.Equal(t, "r1", got.Ref)
}

func TestInboundReportsCoreErrors(t *testing.T) {
	core := &fakeCore{err: apperr.ErrNotAMember}
	srv := newTestServer(core, Config{})
	sink := testutil.NewSink()
	in := srv.newInbound(sink, "c1")

	in.handle(context.Background(), []byte(`{"event":"join_room","data":{"room_id":"vip"},"ref":"7"}`))
	got := testutil.Decode[protocol.Error](sink.Named(protocol.EventError)[0])
	assert.Equal(t, protocol.Error{Message: "not a member of this room", Code: "not_a_member", Ref: "7"}, got)

	core.err = apperr.Transient("save message", errors.New("mongo: connection refused"))
	sink.Reset()
	in.handle(context.Background(), []byte(`{"event":"send_message","data":{"room_id":"vip","content":"x"}}`))
	got = testutil.Decode[protocol.Error](sink.Named(protocol.EventError)[0])
	assert.Equal(t, "persistence_failed", got.Code)
	assert.NotContains(t, got.Message, "mongo", "internal cause stays in the logs")
}

func TestInboundRateLimit(t *testing.T) {
	core := &fakeCore{}
	srv := newTestServer(core, Config{RateLimitPerSec: 1, RateBurst: 2})
	sink := testutil.NewSink()
	in := srv.newInbound(sink, "c1")

	for i := 0; i < 3; i++ {
		in.handle(context.Background(), []byte(`{"event":"typing","data":{"room_id":"r","is_typing":true}}`))
	}
	assert.Len(t, core.cmds, 2)
	errs := sink.Named(protocol.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "rate_limited", testutil.Decode[protocol.Error](errs[0]).Code)
}

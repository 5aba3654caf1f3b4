package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/testutil"
)

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := New()
	_, err := r.Register("c1", Identity{UserID: "u1"}, testutil.NewSink())
	require.NoError(t, err)

	_, err = r.Register("c1", Identity{UserID: "u2"}, testutil.NewSink())
	assert.True(t, errors.Is(err, apperr.ErrDuplicateConnection))
	assert.Equal(t, 1, r.Len())
}

func TestFindByUserTracksMultipleSessions(t *testing.T) {
	r := New()
	for _, c := range []string{"c2", "c1"} {
		_, err := r.Register(c, Identity{UserID: "alice"}, testutil.NewSink())
		require.NoError(t, err)
	}
	_, err := r.Register("c3", Identity{UserID: "bob"}, testutil.NewSink())
	require.NoError(t, err)

	assert.Equal(t, []string{"c1", "c2"}, r.FindByUser("alice"))
	assert.Len(t, r.OnlineUsers(), 2)

	_, err = r.Unregister("c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, r.FindByUser("alice"))

	_, err = r.Unregister("c2")
	require.NoError(t, err)
	assert.Empty(t, r.FindByUser("alice"))
	assert.Equal(t, []Identity{{UserID: "bob"}}, r.OnlineUsers())
}

func TestUnregisterClosesSession(t *testing.T) {
	r := New()
	s, err := r.Register("c1", Identity{UserID: "u1"}, testutil.NewSink())
	require.NoError(t, err)

	got, err := r.Unregister("c1")
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.True(t, s.Closed())

	_, err = s.JoinRoom("general")
	assert.True(t, errors.Is(err, apperr.ErrSessionClosed))
	_, err = s.JoinDocument("d1")
	assert.True(t, errors.Is(err, apperr.ErrSessionClosed))

	_, err = r.Unregister("c1")
	assert.True(t, errors.Is(err, apperr.ErrConnectionNotFound))
	_, err = r.Get("c1")
	assert.True(t, errors.Is(err, apperr.ErrConnectionNotFound))
}

func TestDocumentStateMachine(t *testing.T) {
	s := newSession("c1", Identity{UserID: "u1"}, testutil.NewSink())
	assert.Equal(t, DocNotJoined, s.DocState("d1"))
	assert.False(t, s.LeaveDocument("d1"), "leave before join is a no-op")

	added, err := s.JoinDocument("d1")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.JoinDocument("d1")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, []string{"d1"}, s.Documents())

	assert.True(t, s.LeaveDocument("d1"))
	assert.False(t, s.LeaveDocument("d1"))
	assert.Equal(t, DocLeft, s.DocState("d1"))
	assert.Empty(t, s.Documents())

	_, err = s.JoinDocument("d1")
	assert.True(t, errors.Is(err, apperr.ErrDocumentSessionClosed))
}

func TestSessionRooms(t *testing.T) {
	s := newSession("c1", Identity{UserID: "u1"}, testutil.NewSink())
	added, err := s.JoinRoom("b")
	require.NoError(t, err)
	assert.True(t, added)
	added, _ = s.JoinRoom("b")
	assert.False(t, added)
	_, _ = s.JoinRoom("a")

	assert.Equal(t, []string{"a", "b"}, s.Rooms())
	assert.True(t, s.LeaveRoom("a"))
	assert.False(t, s.LeaveRoom("a"))
	assert.False(t, s.InRoom("a"))
	assert.True(t, s.InRoom("b"))
}

func TestConcurrentRegister(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = r.Register(fmt.Sprintf("c%d", i), Identity{UserID: fmt.Sprintf("u%d", i%5)}, testutil.NewSink())
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, r.Len())
	assert.Len(t, r.OnlineUsers(), 5)
	assert.Len(t, r.FindByUser("u0"), 10)
}

package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQueueRunsJobs(t *testing.T) {
	q := New(2, 16, zap.NewNop().Sugar())
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		require.True(t, q.Submit("count", func(context.Context) error {
			n.Add(1)
			return nil
		}))
	}
	q.Wait()
	assert.Equal(t, int32(10), n.Load())
	require.NoError(t, q.Close(context.Background()))
}

func TestQueueSurvivesFailureAndPanic(t *testing.T) {
	q := New(1, 4, zap.NewNop().Sugar())
	var ran atomic.Bool
	q.Submit("fail", func(context.Context) error { return errors.New("boom") })
	q.Submit("panic", func(context.Context) error { panic("oops") })
	q.Submit("after", func(context.Context) error {
		ran.Store(true)
		return nil
	})
	q.Wait()
	assert.True(t, ran.Load())
	require.NoError(t, q.Close(context.Background()))
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := New(1, 1, zap.NewNop().Sugar())
	release := make(chan struct{})
	started := make(chan struct{})
	q.Submit("block", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	require.True(t, q.Submit("queued", func(context.Context) error { return nil }))
	assert.False(t, q.Submit("dropped", func(context.Context) error { return nil }))
	close(release)
	q.Wait()
	require.NoError(t, q.Close(context.Background()))
}

func TestQueueRejectsAfterClose(t *testing.T) {
	q := New(1, 1, zap.NewNop().Sugar())
	require.NoError(t, q.Close(context.Background()))
	assert.False(t, q.Submit("late", func(context.Context) error { return nil }))
	require.NoError(t, q.Close(context.Background()))
}

func TestCloseTimesOutAndCancels(t *testing.T) {
	q := New(1, 1, zap.NewNop().Sugar())
	cancelled := make(chan struct{})
	q.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Close(ctx), context.DeadlineExceeded)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("running job not cancelled")
	}
}

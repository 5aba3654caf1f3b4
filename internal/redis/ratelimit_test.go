package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterKey(t *testing.T) {
	l := NewRateLimiter(nil, "rt", 10, time.Minute)
	assert.Equal(t, "rt:ratelimit:broadcast:ops", l.key("broadcast:ops"))
}

// scriptedRedis answers pipelines in process and records what was sent.
type scriptedRedis struct {
	mu    sync.Mutex
	sent  [][]string
	count int64
}

func (h *scriptedRedis) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *scriptedRedis) ProcessHook(redis.ProcessHook) redis.ProcessHook {
	return func(_ context.Context, cmd redis.Cmder) error {
		return errors.New("unexpected command " + cmd.Name())
	}
}

func (h *scriptedRedis) ProcessPipelineHook(redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(_ context.Context, cmds []redis.Cmder) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, cmd := range cmds {
			var args []string
			for _, a := range cmd.Args() {
				args = append(args, strings.ToLower(fmt.Sprint(a)))
			}
			h.sent = append(h.sent, args)
			if c, ok := cmd.(*redis.IntCmd); ok && cmd.Name() == "incr" {
				h.count++
				c.SetVal(h.count)
			}
		}
		return nil
	}
}

func TestRateLimiterSetsExpiryWithFirstIncrement(t *testing.T) {
	h := &scriptedRedis{}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	client.AddHook(h)
	l := NewRateLimiter(client, "rt", 2, time.Minute)

	for i, want := range []bool{true, true, false} {
		ok, err := l.Allow(context.Background(), "ops")
		require.NoError(t, err)
		assert.Equal(t, want, ok, "request %d", i+1)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.sent, 12)
	names := make([]string, 4)
	for i := range names {
		names[i] = h.sent[i][0]
	}
	assert.Equal(t, []string{"multi", "set", "incr", "exec"}, names)
	set := h.sent[1]
	assert.Equal(t, "rt:ratelimit:ops", set[1])
	assert.Contains(t, set, "ex")
	assert.Contains(t, set, "nx")
}

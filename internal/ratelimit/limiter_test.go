package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestLimiter connects to a local Redis (DB 15) and skips when none is
// running.
func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() {
		iter := client.Scan(ctx, 0, "rl:test:*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		client.Close()
	})
	return NewLimiter(client)
}

func TestAllow_WithinAndOverLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:allow:", Limit: 3, Window: time.Minute}
	id := t.Name()
	require.NoError(t, l.Reset(ctx, id, rule))

	for i := 1; i <= 3; i++ {
		d, err := l.Allow(ctx, id, rule)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, i, d.Count)
	}

	d, err := l.Allow(ctx, id, rule)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.True(t, d.RetryAt.After(time.Now()))
	assert.True(t, d.RetryAt.Before(time.Now().Add(rule.Window+time.Second)))

	remaining, err := l.Remaining(ctx, id, rule)
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestAllow_WindowResets(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:window:", Limit: 1, Window: 200 * time.Millisecond}
	id := t.Name()
	require.NoError(t, l.Reset(ctx, id, rule))

	d, _ := l.Allow(ctx, id, rule)
	assert.True(t, d.Allowed)
	d, _ = l.Allow(ctx, id, rule)
	assert.False(t, d.Allowed)

	time.Sleep(300 * time.Millisecond)
	d, _ = l.Allow(ctx, id, rule)
	assert.True(t, d.Allowed)
}

func TestRemaining_UnknownKey(t *testing.T) {
	l := newTestLimiter(t)
	rule := Rule{Key: "rl:test:remaining:", Limit: 7, Window: time.Minute}
	n, err := l.Remaining(context.Background(), "never-seen", rule)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestNilLimiterAllows(t *testing.T) {
	var l *Limiter
	d, err := l.Allow(context.Background(), "x", RuleReport)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	n, err := l.Remaining(context.Background(), "x", RuleReport)
	require.NoError(t, err)
	assert.Equal(t, RuleReport.Limit, n)
}

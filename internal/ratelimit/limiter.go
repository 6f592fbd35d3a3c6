// Package ratelimit provides Redis-backed fixed-window rate limiting for
// abuse-prone radar actions. Each (rule, identifier) pair is one counter key
// that expires at the end of its window.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Rule is a rate limiting policy: key prefix, allowed count and window.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

var (
	// RuleChatRequest allows 10 chat requests per minute per session.
	RuleChatRequest = Rule{Key: "rl:chatreq:", Limit: 10, Window: time.Minute}

	// RuleReport allows 5 reports per 10 minutes per session.
	RuleReport = Rule{Key: "rl:report:", Limit: 5, Window: 10 * time.Minute}

	// RuleCreateSession allows 10 new sessions per minute per client IP.
	RuleCreateSession = Rule{Key: "rl:session:", Limit: 10, Window: time.Minute}
)

// Decision is the outcome of one Allow call. RetryAt is set when the call
// was rejected and tells the client when the window resets.
type Decision struct {
	Allowed bool
	Count   int
	RetryAt time.Time
}

// Limiter checks rules against Redis. A nil *Limiter allows everything,
// which is how rate limiting is disabled when no Redis is configured.
type Limiter struct {
	client *redis.Client
	now    func() time.Time
}

// NewLimiter creates a Limiter on client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client, now: time.Now}
}

// Allow counts one action for identifier under rule. INCR, EXPIRE NX and
// PTTL run in one transaction so a counter can never be left without a TTL.
// Redis errors fail open: the action is allowed and the error returned for
// logging.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (Decision, error) {
	if l == nil {
		return Decision{Allowed: true}, nil
	}
	key := rule.Key + identifier

	var (
		incr *redis.IntCmd
		pttl *redis.DurationCmd
	)
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.ExpireNX(ctx, key, rule.Window)
		pttl = p.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		log.Warn().Str("component", "ratelimit").Str("key", key).Err(err).Msg("redis error, failing open")
		return Decision{Allowed: true}, err
	}

	count := int(incr.Val())
	if count <= rule.Limit {
		return Decision{Allowed: true, Count: count}, nil
	}

	ttl := pttl.Val()
	if ttl <= 0 {
		ttl = rule.Window
	}
	return Decision{Allowed: false, Count: count, RetryAt: l.now().Add(ttl)}, nil
}

// Remaining returns how many actions identifier has left in the current
// window. Redis errors report the full limit.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	if l == nil {
		return rule.Limit, nil
	}
	count, err := l.client.Get(ctx, rule.Key+identifier).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		return rule.Limit, err
	}
	return max(rule.Limit-count, 0), nil
}

// Reset clears identifier's counter for rule.
func (l *Limiter) Reset(ctx context.Context, identifier string, rule Rule) error {
	if l == nil {
		return nil
	}
	return l.client.Del(ctx, rule.Key+identifier).Err()
}

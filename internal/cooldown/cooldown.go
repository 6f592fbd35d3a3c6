// Package cooldown throttles sessions that keep getting declined. Every
// decline is recorded against the requester in a rolling window; once the
// window holds Threshold declines the requester may not send new chat
// requests until the cooldown lapses.
package cooldown

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nearby/radar/internal/apperr"
	"github.com/nearby/radar/internal/metrics"
	"github.com/nearby/radar/internal/session"
)

const (
	DefaultThreshold = 3
	DefaultWindow    = 10 * time.Minute
	DefaultDuration  = 30 * time.Minute
)

// Config holds the decline window parameters.
type Config struct {
	Threshold int
	Window    time.Duration
	Duration  time.Duration
}

// DefaultConfig returns the reference parameters.
func DefaultConfig() Config {
	return Config{Threshold: DefaultThreshold, Window: DefaultWindow, Duration: DefaultDuration}
}

// Decline is the outcome of recording one decline.
type Decline struct {
	Count        int  // declines inside the window, including this one
	ThresholdMet bool // Count >= Threshold
}

// Status is a computed view of a session's cooldown at an instant.
type Status struct {
	Active    bool
	ExpiresAt time.Time     // set when Active
	Remaining time.Duration // zero unless Active
	Stale     bool          // a past deadline is still stored and should be cleared
}

// Publisher receives cooldown activations.
type Publisher interface {
	PublishCooldown(sessionID string, expiresAt time.Time)
}

// Tracker applies the cooldown rules to sessions held in a session.Store.
type Tracker struct {
	store     *session.Store
	config    Config
	publisher Publisher
}

// NewTracker creates a Tracker. publisher may be nil.
func NewTracker(store *session.Store, config Config, publisher Publisher) *Tracker {
	return &Tracker{store: store, config: config, publisher: publisher}
}

// Config returns the tracker's parameters.
func (t *Tracker) Config() Config {
	return t.config
}

// Evaluate computes the cooldown view of sess at now without mutating it.
func Evaluate(sess *session.Session, now time.Time) Status {
	if sess.CooldownExpiresAt.IsZero() {
		return Status{}
	}
	if now.Before(sess.CooldownExpiresAt) {
		return Status{
			Active:    true,
			ExpiresAt: sess.CooldownExpiresAt,
			Remaining: sess.CooldownExpiresAt.Sub(now),
		}
	}
	return Status{Stale: true}
}

// ClearStale drops a lapsed deadline. It is a no-op when the stored deadline
// is still in the future, so a concurrent re-trigger is never undone.
func ClearStale(sess *session.Session, now time.Time) {
	if !sess.CooldownExpiresAt.IsZero() && !now.Before(sess.CooldownExpiresAt) {
		sess.CooldownExpiresAt = time.Time{}
	}
}

// ApplyDecline appends a decline at now, prunes entries older than the
// window and refreshes the cached count. Caller holds the store lock.
func (t *Tracker) ApplyDecline(sess *session.Session, now time.Time) Decline {
	sess.DeclinedInvites = append(sess.DeclinedInvites, now)
	t.prune(sess, now)
	return Decline{Count: sess.DeclineCount, ThresholdMet: sess.DeclineCount >= t.config.Threshold}
}

// ApplyCooldown sets the deadline to now+Duration, replacing any existing
// deadline. Caller holds the store lock.
func (t *Tracker) ApplyCooldown(sess *session.Session, now time.Time) time.Time {
	sess.CooldownExpiresAt = now.Add(t.config.Duration)
	return sess.CooldownExpiresAt
}

// Announce records metrics, logs and publishes a cooldown activation. Call
// it after the store lock is released.
func (t *Tracker) Announce(sessionID string, expiresAt time.Time) {
	metrics.CooldownsTriggered.Inc()
	log.Info().Str("component", "cooldown").Str("session_id", sessionID).
		Time("expires_at", expiresAt).Msg("cooldown triggered after repeated declines")
	if t.publisher != nil {
		t.publisher.PublishCooldown(sessionID, expiresAt)
	}
}

func (t *Tracker) prune(sess *session.Session, now time.Time) {
	cutoff := now.Add(-t.config.Window)
	kept := sess.DeclinedInvites[:0]
	for _, ts := range sess.DeclinedInvites {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	sess.DeclinedInvites = kept
	sess.DeclineCount = len(kept)
}

// RecordDecline records a decline against sessionID, the original requester.
func (t *Tracker) RecordDecline(sessionID string) (Decline, error) {
	var d Decline
	err := t.store.Tx(func(tx *session.Tx) error {
		sess := tx.Get(sessionID)
		if sess == nil {
			return apperr.ErrSessionNotFound
		}
		d = t.ApplyDecline(sess, tx.Now())
		return nil
	})
	return d, err
}

// DeclinesInWindow prunes and returns the in-window decline count.
func (t *Tracker) DeclinesInWindow(sessionID string) int {
	count := 0
	_ = t.store.Tx(func(tx *session.Tx) error {
		if sess := tx.Get(sessionID); sess != nil {
			t.prune(sess, tx.Now())
			count = sess.DeclineCount
		}
		return nil
	})
	return count
}

// TriggerCooldown starts or restarts the cooldown for sessionID.
func (t *Tracker) TriggerCooldown(sessionID string) (time.Time, error) {
	var expiresAt time.Time
	err := t.store.Tx(func(tx *session.Tx) error {
		sess := tx.Get(sessionID)
		if sess == nil {
			return apperr.ErrSessionNotFound
		}
		expiresAt = t.ApplyCooldown(sess, tx.Now())
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	t.Announce(sessionID, expiresAt)
	return expiresAt, nil
}

// IsInCooldown reports whether sessionID is currently barred from sending
// requests. A lapsed deadline is cleared by a follow-up write.
func (t *Tracker) IsInCooldown(sessionID string) bool {
	return t.check(sessionID).Active
}

// Remaining returns the time left in the cooldown, or zero. It clears a
// lapsed deadline exactly like IsInCooldown.
func (t *Tracker) Remaining(sessionID string) time.Duration {
	return t.check(sessionID).Remaining
}

func (t *Tracker) check(sessionID string) Status {
	sess, ok := t.store.Get(sessionID)
	if !ok {
		return Status{}
	}
	status := Evaluate(&sess, t.store.Now())
	if status.Stale {
		_ = t.store.Tx(func(tx *session.Tx) error {
			if live := tx.Get(sessionID); live != nil {
				ClearStale(live, tx.Now())
			}
			return nil
		})
	}
	return status
}

package cooldown

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nearby/radar/internal/session"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type recordingPublisher struct {
	ids []string
}

func (p *recordingPublisher) PublishCooldown(sessionID string, _ time.Time) {
	p.ids = append(p.ids, sessionID)
}

func setup(t *testing.T) (*Tracker, *session.Store, *clock, *recordingPublisher) {
	t.Helper()
	signer, err := session.NewTokenSigner([]byte(strings.Repeat("s", session.MinSecretBytes)))
	require.NoError(t, err)

	c := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := session.NewStore(session.DefaultConfig(), signer, session.WithClock(c.Now))
	pub := &recordingPublisher{}
	return NewTracker(store, DefaultConfig(), pub), store, c, pub
}

func newSession(t *testing.T, store *session.Store) string {
	t.Helper()
	created, err := store.Create(session.CreateParams{Vibe: session.VibeChill})
	require.NoError(t, err)
	return created.SessionID
}

func TestRecordDecline_ThresholdMetOnThird(t *testing.T) {
	tracker, store, c, _ := setup(t)
	id := newSession(t, store)

	for i := 1; i <= 2; i++ {
		d, err := tracker.RecordDecline(id)
		require.NoError(t, err)
		assert.Equal(t, i, d.Count)
		assert.False(t, d.ThresholdMet)
		c.Advance(time.Minute)
	}

	d, err := tracker.RecordDecline(id)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Count)
	assert.True(t, d.ThresholdMet)
}

func TestRecordDecline_WindowPruning(t *testing.T) {
	tracker, store, c, _ := setup(t)
	id := newSession(t, store)

	_, err := tracker.RecordDecline(id)
	require.NoError(t, err)

	c.Advance(DefaultWindow)
	assert.Equal(t, 1, tracker.DeclinesInWindow(id), "a decline exactly one window old still counts")

	c.Advance(time.Millisecond)
	assert.Equal(t, 0, tracker.DeclinesInWindow(id))

	d, err := tracker.RecordDecline(id)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Count)

	sess, _ := store.Get(id)
	assert.Len(t, sess.DeclinedInvites, 1)
}

func TestRecordDecline_MissingSession(t *testing.T) {
	tracker, _, _, _ := setup(t)
	_, err := tracker.RecordDecline("ghost")
	assert.Error(t, err)
}

func TestTriggerCooldown_ResetsWindow(t *testing.T) {
	tracker, store, c, pub := setup(t)
	id := newSession(t, store)

	first, err := tracker.TriggerCooldown(id)
	require.NoError(t, err)
	assert.Equal(t, c.Now().Add(DefaultDuration), first)

	c.Advance(10 * time.Minute)
	second, err := tracker.TriggerCooldown(id)
	require.NoError(t, err)
	assert.Equal(t, c.Now().Add(DefaultDuration), second, "re-trigger restarts rather than stacks")

	assert.Equal(t, []string{id, id}, pub.ids)
}

func TestIsInCooldown_LazyClear(t *testing.T) {
	tracker, store, c, _ := setup(t)
	id := newSession(t, store)

	assert.False(t, tracker.IsInCooldown(id))
	assert.Equal(t, time.Duration(0), tracker.Remaining(id))

	_, err := tracker.TriggerCooldown(id)
	require.NoError(t, err)
	assert.True(t, tracker.IsInCooldown(id))

	c.Advance(DefaultDuration - time.Minute)
	assert.Equal(t, time.Minute, tracker.Remaining(id))

	c.Advance(time.Minute)
	assert.False(t, tracker.IsInCooldown(id), "deadline is exclusive")

	sess, _ := store.Get(id)
	assert.True(t, sess.CooldownExpiresAt.IsZero(), "stale deadline must be cleared")
}

func TestRemaining_ClearsStaleDeadline(t *testing.T) {
	tracker, store, c, _ := setup(t)
	id := newSession(t, store)

	_, err := tracker.TriggerCooldown(id)
	require.NoError(t, err)
	c.Advance(DefaultDuration + time.Second)

	assert.Equal(t, time.Duration(0), tracker.Remaining(id))
	sess, _ := store.Get(id)
	assert.True(t, sess.CooldownExpiresAt.IsZero())
	assert.False(t, tracker.IsInCooldown(id))
}

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, Status{}, Evaluate(&session.Session{}, now))

	active := Evaluate(&session.Session{CooldownExpiresAt: now.Add(time.Second)}, now)
	assert.True(t, active.Active)
	assert.Equal(t, time.Second, active.Remaining)

	stale := Evaluate(&session.Session{CooldownExpiresAt: now}, now)
	assert.False(t, stale.Active)
	assert.True(t, stale.Stale)
}

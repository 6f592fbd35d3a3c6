package session

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nearby/radar/internal/apperr"
	"github.com/nearby/radar/internal/proximity"
)

// fakeClock is a manually advanced time source shared by store tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *fakeClock) {
	t.Helper()
	signer, err := NewTokenSigner([]byte(strings.Repeat("k", MinSecretBytes)))
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewStore(DefaultConfig(), signer, opts...), clock
}

func TestCreate_Defaults(t *testing.T) {
	store, clock := newTestStore(t)

	created, err := store.Create(CreateParams{
		Vibe:    VibeThinking,
		Tags:    []string{"x", "y", "x", ""},
		Visible: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.SessionID)
	require.NotEmpty(t, created.Token)
	require.NotEmpty(t, created.Handle)

	sess, ok := store.Get(created.SessionID)
	require.True(t, ok)
	assert.Equal(t, created.Handle, sess.Handle)
	assert.Equal(t, []string{"x", "y"}, sess.Tags)
	assert.True(t, sess.Visible)
	assert.Nil(t, sess.Location)
	assert.Empty(t, sess.BlockedSessionIDs)
	assert.Equal(t, clock.Now().Add(DefaultTTL), sess.ExpiresAt)
}

func TestCreate_CoarsensLocation(t *testing.T) {
	store, _ := newTestStore(t)

	created, err := store.Create(CreateParams{
		Vibe:     VibeChill,
		Location: &proximity.Point{Lat: 40.7127753, Lng: -74.0059728},
	})
	require.NoError(t, err)

	sess, ok := store.Get(created.SessionID)
	require.True(t, ok)
	require.NotNil(t, sess.Location)
	assert.InDelta(t, 40.7128, sess.Location.Lat, 1e-9)
	assert.InDelta(t, -74.006, sess.Location.Lng, 1e-9)
}

func TestGet_ReturnsCopy(t *testing.T) {
	store, _ := newTestStore(t)
	created, err := store.Create(CreateParams{Vibe: VibeChill, Tags: []string{"a"}})
	require.NoError(t, err)

	sess, _ := store.Get(created.SessionID)
	sess.Tags[0] = "mutated"
	sess.BlockedSessionIDs["someone"] = struct{}{}

	again, _ := store.Get(created.SessionID)
	assert.Equal(t, []string{"a"}, again.Tags)
	assert.Empty(t, again.BlockedSessionIDs)
}

func TestGet_LazilyEvictsExpired(t *testing.T) {
	var expired []string
	store, clock := newTestStore(t, WithExpiryHook(func(s Session) { expired = append(expired, s.ID) }))

	created, err := store.Create(CreateParams{Vibe: VibeChill})
	require.NoError(t, err)
	require.Equal(t, 1, store.Count())

	clock.Advance(DefaultTTL)

	_, ok := store.Get(created.SessionID)
	assert.False(t, ok)
	assert.Equal(t, 0, store.Count())
	assert.Equal(t, []string{created.SessionID}, expired)
}

func TestGet_Missing(t *testing.T) {
	store, _ := newTestStore(t)
	_, ok := store.Get("nope")
	assert.False(t, ok)
}

func TestGetByToken(t *testing.T) {
	store, clock := newTestStore(t)
	created, err := store.Create(CreateParams{Vibe: VibeSocial})
	require.NoError(t, err)

	sess, ok := store.GetByToken(created.Token)
	require.True(t, ok)
	assert.Equal(t, created.SessionID, sess.ID)

	t.Run("malformed", func(t *testing.T) {
		_, ok := store.GetByToken("not-a-token")
		assert.False(t, ok)
	})

	t.Run("forged signature", func(t *testing.T) {
		other, err := NewTokenSigner([]byte(strings.Repeat("z", MinSecretBytes)))
		require.NoError(t, err)
		forged, err := other.Issue(created.SessionID, clock.Now(), clock.Now().Add(time.Hour))
		require.NoError(t, err)

		_, ok := store.GetByToken(forged)
		assert.False(t, ok)
	})

	t.Run("tampered payload", func(t *testing.T) {
		parts := strings.Split(created.Token, ".")
		require.Len(t, parts, 3)
		tampered := parts[0] + "." + parts[1] + "x." + parts[2]
		_, ok := store.GetByToken(tampered)
		assert.False(t, ok)
	})

	t.Run("expired", func(t *testing.T) {
		clock.Advance(DefaultTTL + time.Second)
		_, ok := store.GetByToken(created.Token)
		assert.False(t, ok)
	})
}

func TestUpdate_NotFound(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.Update("missing", func(*Session) error { return nil })
	assert.True(t, errors.Is(err, apperr.ErrSessionNotFound))
}

func TestSweepExpired_UnlinksPartner(t *testing.T) {
	store, clock := newTestStore(t)

	a, err := store.Create(CreateParams{Vibe: VibeChill})
	require.NoError(t, err)
	clock.Advance(30 * time.Minute)
	b, err := store.Create(CreateParams{Vibe: VibeChill})
	require.NoError(t, err)

	require.NoError(t, store.Tx(func(tx *Tx) error {
		x, y := tx.Get(a.SessionID), tx.Get(b.SessionID)
		x.ActiveChatPartnerID, y.ActiveChatPartnerID = y.ID, x.ID
		return nil
	}))

	clock.Advance(31 * time.Minute)
	removed := store.SweepExpired()
	require.Len(t, removed, 1)
	assert.Equal(t, a.SessionID, removed[0].ID)

	survivor, ok := store.Get(b.SessionID)
	require.True(t, ok)
	assert.Empty(t, survivor.ActiveChatPartnerID)
}

func TestReset(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Create(CreateParams{Vibe: VibeChill})
	require.NoError(t, err)

	store.Reset()
	assert.Equal(t, 0, store.Count())
}

func TestConcurrentAccess(t *testing.T) {
	store, clock := newTestStore(t)

	var wg sync.WaitGroup
	for g := 0; g < 50; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := store.Create(CreateParams{Vibe: VibeCurious})
			if err != nil {
				return
			}
			_, _ = store.Get(created.SessionID)
			_ = store.Update(created.SessionID, func(s *Session) error {
				s.ReportCount++
				return nil
			})
			_ = store.List()
		}()
	}
	go func() {
		clock.Advance(time.Minute)
		store.SweepExpired()
	}()
	wg.Wait()

	assert.Equal(t, 50, store.Count())
}

func TestParseVibe(t *testing.T) {
	v, ok := ParseVibe("thinking")
	assert.True(t, ok)
	assert.Equal(t, VibeThinking, v)

	_, ok = ParseVibe("grumpy")
	assert.False(t, ok)
}

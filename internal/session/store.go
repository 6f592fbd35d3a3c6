package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nearby/radar/internal/apperr"
	"github.com/nearby/radar/internal/proximity"
)

const (
	// DefaultTTL is the hard lifetime of a session.
	DefaultTTL = 1 * time.Hour

	// DefaultSweepInterval is how often expired sessions are reclaimed
	// independent of reads.
	DefaultSweepInterval = 60 * time.Second

	// DefaultLocationPrecision is the number of decimal places kept when a
	// location is coarsened for storage.
	DefaultLocationPrecision = 4
)

// Config holds the tunable lifetime parameters of the store.
type Config struct {
	TTL               time.Duration
	SweepInterval     time.Duration
	LocationPrecision int
}

// DefaultConfig returns the reference lifetime parameters.
func DefaultConfig() Config {
	return Config{
		TTL:               DefaultTTL,
		SweepInterval:     DefaultSweepInterval,
		LocationPrecision: DefaultLocationPrecision,
	}
}

// CreateParams are the onboarding inputs, validated by the caller.
type CreateParams struct {
	Vibe     Vibe
	Tags     []string
	Visible  bool
	Location *proximity.Point
}

// Created is returned to the onboarding flow.
type Created struct {
	SessionID string
	Token     string
	Handle    string
	ExpiresAt time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithExpiryHook registers a callback invoked, outside the store lock, with
// a copy of every session removed because its TTL passed.
func WithExpiryHook(fn func(expired Session)) Option {
	return func(s *Store) { s.onExpire = fn }
}

// Store is the in-memory session map. A single mutex guards every read and
// write so multi-field transitions stay atomic across goroutines.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	signer   *TokenSigner
	config   Config
	now      func() time.Time
	onExpire func(Session)
}

// NewStore creates an empty store.
func NewStore(config Config, signer *TokenSigner, opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		signer:   signer,
		config:   config,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// Create allocates a new session with a server-generated id, token and handle.
func (s *Store) Create(params CreateParams) (Created, error) {
	now := s.now()
	id := uuid.NewString()
	expiresAt := now.Add(s.config.TTL)

	token, err := s.signer.Issue(id, now, expiresAt)
	if err != nil {
		return Created{}, fmt.Errorf("session: create: %w", err)
	}

	sess := &Session{
		ID:                id,
		Token:             token,
		Handle:            newHandle(),
		Vibe:              params.Vibe,
		Tags:              dedupeTags(params.Tags),
		Visible:           params.Visible,
		BlockedSessionIDs: make(map[string]struct{}),
		CreatedAt:         now,
		ExpiresAt:         expiresAt,
	}
	if params.Location != nil && params.Location.Valid() {
		loc := proximity.Coarsen(*params.Location, s.config.LocationPrecision)
		sess.Location = &loc
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	log.Debug().Str("component", "session").Str("session_id", id).Str("vibe", string(sess.Vibe)).Msg("session created")

	return Created{SessionID: id, Token: token, Handle: sess.Handle, ExpiresAt: expiresAt}, nil
}

// Get returns a copy of the live session. Expired entries are evicted on
// access and reported as not found.
func (s *Store) Get(sessionID string) (Session, bool) {
	var (
		out   Session
		found bool
	)
	_ = s.Tx(func(tx *Tx) error {
		if sess := tx.Get(sessionID); sess != nil {
			out, found = sess.clone(), true
		}
		return nil
	})
	return out, found
}

// GetByToken verifies token and returns the one session bound to it.
func (s *Store) GetByToken(token string) (Session, bool) {
	sessionID, err := s.signer.Verify(token, s.now())
	if err != nil {
		return Session{}, false
	}
	sess, ok := s.Get(sessionID)
	if !ok || sess.Token != token {
		return Session{}, false
	}
	return sess, true
}

// List returns copies of every live session.
func (s *Store) List() []Session {
	var out []Session
	_ = s.Tx(func(tx *Tx) error {
		for _, sess := range tx.All() {
			out = append(out, sess.clone())
		}
		return nil
	})
	return out
}

// Count returns the number of stored sessions, expired or not.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Update applies fn to the live session under the store lock.
func (s *Store) Update(sessionID string, fn func(*Session) error) error {
	return s.Tx(func(tx *Tx) error {
		sess := tx.Get(sessionID)
		if sess == nil {
			return apperr.ErrSessionNotFound
		}
		return fn(sess)
	})
}

// Tx runs fn with exclusive access to the session map. Expiry evictions that
// happen inside fn are announced to the expiry hook after the lock is
// released.
func (s *Store) Tx(fn func(tx *Tx) error) error {
	s.mu.Lock()
	tx := &Tx{store: s, now: s.now()}
	err := fn(tx)
	evicted := tx.evicted
	s.mu.Unlock()

	s.announce(evicted)
	return err
}

// Delete removes a session immediately, unlinking any chat partner.
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	if sess, ok := s.sessions[sessionID]; ok {
		s.removeLocked(sess)
	}
	s.mu.Unlock()
}

// SweepExpired removes every session whose TTL has passed and returns copies
// of the removed records.
func (s *Store) SweepExpired() []Session {
	s.mu.Lock()
	now := s.now()
	var evicted []Session
	for _, sess := range s.sessions {
		if sess.Expired(now) {
			evicted = append(evicted, s.removeLocked(sess))
		}
	}
	s.mu.Unlock()

	if len(evicted) > 0 {
		log.Info().Str("component", "session").Int("removed", len(evicted)).Msg("swept expired sessions")
	}
	s.announce(evicted)
	return evicted
}

// StartSweeper runs SweepExpired on the configured interval until ctx is done.
func (s *Store) StartSweeper(ctx context.Context) {
	interval := s.config.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Info().Str("component", "session").Msg("sweeper stopped")
				return
			case <-ticker.C:
				s.SweepExpired()
			}
		}
	}()
}

// Reset drops every session. Intended for tests.
func (s *Store) Reset() {
	s.mu.Lock()
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()
}

// removeLocked deletes sess and clears the back-reference on its partner so
// the partner link never dangles. Caller holds s.mu.
func (s *Store) removeLocked(sess *Session) Session {
	delete(s.sessions, sess.ID)
	if partner, ok := s.sessions[sess.ActiveChatPartnerID]; ok && partner.ActiveChatPartnerID == sess.ID {
		partner.ActiveChatPartnerID = ""
	}
	return sess.clone()
}

func (s *Store) announce(evicted []Session) {
	if s.onExpire == nil {
		return
	}
	for _, sess := range evicted {
		s.onExpire(sess)
	}
}

// Tx is a locked view of the session map. Pointers returned by Get are live
// and must not escape fn.
type Tx struct {
	store   *Store
	now     time.Time
	evicted []Session
}

// Now is the instant the transaction started.
func (tx *Tx) Now() time.Time {
	return tx.now
}

// Get returns the live session or nil when it is absent or expired. Expired
// sessions are evicted as a side effect.
func (tx *Tx) Get(sessionID string) *Session {
	sess, ok := tx.store.sessions[sessionID]
	if !ok {
		return nil
	}
	if sess.Expired(tx.now) {
		tx.evicted = append(tx.evicted, tx.store.removeLocked(sess))
		return nil
	}
	return sess
}

// All returns every live session, evicting expired ones.
func (tx *Tx) All() []*Session {
	ids := make([]string, 0, len(tx.store.sessions))
	for id := range tx.store.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		if sess := tx.Get(id); sess != nil {
			out = append(out, sess)
		}
	}
	return out
}

// SetLocation coarsens and stores loc on sess. A nil loc clears it.
func (tx *Tx) SetLocation(sess *Session, loc *proximity.Point) {
	if loc == nil || !loc.Valid() {
		sess.Location = nil
		return
	}
	c := proximity.Coarsen(*loc, tx.store.config.LocationPrecision)
	sess.Location = &c
}

func dedupeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

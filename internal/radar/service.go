// Package radar wires the proximity core into one service object: the
// session store, cooldown tracker, safety guard, signal engine and chat
// manager are constructed together, share one clock and are exposed as the
// operations the gateway calls.
package radar

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nearby/radar/internal/apperr"
	"github.com/nearby/radar/internal/chat"
	"github.com/nearby/radar/internal/cooldown"
	"github.com/nearby/radar/internal/metrics"
	"github.com/nearby/radar/internal/moderation"
	"github.com/nearby/radar/internal/protocol"
	"github.com/nearby/radar/internal/proximity"
	"github.com/nearby/radar/internal/safety"
	"github.com/nearby/radar/internal/session"
	"github.com/nearby/radar/internal/signal"
)

// Events receives safety and cooldown events for other services.
type Events interface {
	safety.Publisher
	cooldown.Publisher
}

// Options configures a Service. Zero-valued configs fall back to the package
// defaults; Signer, Filter and Events are optional.
type Options struct {
	Session  session.Config
	Weights  signal.Weights
	Cooldown cooldown.Config
	Safety   safety.Config
	Chat     chat.Config

	Signer *session.TokenSigner
	Filter *moderation.Filter
	Events Events
	Clock  func() time.Time
}

// Entry is one radar row as shown to a viewer.
type Entry struct {
	SessionID  string
	Handle     string
	Vibe       session.Vibe
	Tags       []string
	SharedTags []string
	Score      float64
	Tier       proximity.Tier
}

// Service implements the radar operations.
type Service struct {
	store     *session.Store
	ledger    *safety.Ledger
	cooldowns *cooldown.Tracker
	guard     *safety.Guard
	engine    *signal.Engine
	chats     *chat.Manager
	filter    *moderation.Filter

	mu       sync.RWMutex
	notifier chat.Notifier
	onChange func()
}

// New builds a Service and all of its components.
func New(opts Options) (*Service, error) {
	if opts.Signer == nil {
		signer, err := session.NewRandomTokenSigner()
		if err != nil {
			return nil, err
		}
		opts.Signer = signer
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Session == (session.Config{}) {
		opts.Session = session.DefaultConfig()
	}
	if opts.Weights == (signal.Weights{}) {
		opts.Weights = signal.DefaultWeights()
	}
	if opts.Cooldown == (cooldown.Config{}) {
		opts.Cooldown = cooldown.DefaultConfig()
	}
	if opts.Safety == (safety.Config{}) {
		opts.Safety = safety.DefaultConfig()
	}
	if opts.Chat == (chat.Config{}) {
		opts.Chat = chat.DefaultConfig()
	}

	var (
		safetyPub   safety.Publisher
		cooldownPub cooldown.Publisher
	)
	if opts.Events != nil {
		safetyPub, cooldownPub = opts.Events, opts.Events
	}

	s := &Service{filter: opts.Filter}
	s.store = session.NewStore(opts.Session, opts.Signer,
		session.WithClock(opts.Clock),
		session.WithExpiryHook(s.sessionExpired),
	)
	s.ledger = safety.NewLedger()
	s.cooldowns = cooldown.NewTracker(s.store, opts.Cooldown, cooldownPub)
	s.guard = safety.NewGuard(s.store, s.ledger, opts.Safety, safetyPub)
	s.engine = signal.NewEngine(opts.Weights, s.ledger)
	s.chats = chat.NewManager(s.store, s.cooldowns, opts.Filter, opts.Chat, nil)
	s.guard.SetChatEnder(s.chats)
	return s, nil
}

// SetNotifier sets the push sink used for chat and expiry notifications.
func (s *Service) SetNotifier(n chat.Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
	s.chats.SetNotifier(n)
}

// OnChange registers fn to run after any change that can alter someone's
// radar. fn runs outside all locks and must not block.
func (s *Service) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Store exposes the session store.
func (s *Service) Store() *session.Store { return s.store }

// Chats exposes the chat manager.
func (s *Service) Chats() *chat.Manager { return s.chats }

// Guard exposes the safety guard.
func (s *Service) Guard() *safety.Guard { return s.guard }

// Cooldowns exposes the cooldown tracker.
func (s *Service) Cooldowns() *cooldown.Tracker { return s.cooldowns }

// CreateSession onboards a new session. Tags that fail the blocklist or
// carry contact details are dropped silently.
func (s *Service) CreateSession(params session.CreateParams) (session.Created, error) {
	if s.filter != nil {
		params.Tags = s.filter.CheckTags(params.Tags)
	}
	created, err := s.store.Create(params)
	if err != nil {
		return session.Created{}, err
	}
	metrics.SessionsCreated.Inc()
	s.changed()
	return created, nil
}

// Authenticate resolves a token to its live session.
func (s *Service) Authenticate(token string) (session.Session, bool) {
	return s.store.GetByToken(token)
}

// UpdateVisibility shows or hides sessionID on other radars.
func (s *Service) UpdateVisibility(sessionID string, visible bool) error {
	if err := s.update(sessionID, func(sess *session.Session) { sess.Visible = visible }); err != nil {
		return err
	}
	s.changed()
	return nil
}

// UpdateEmergencyContact stores contact, or clears it when contact is nil.
func (s *Service) UpdateEmergencyContact(sessionID string, contact *string) error {
	return s.update(sessionID, func(sess *session.Session) {
		sess.EmergencyContact = ""
		if contact != nil {
			sess.EmergencyContact = *contact
		}
	})
}

// UpdateLocation stores the coarsened location and re-checks the distance
// to any active chat partner.
func (s *Service) UpdateLocation(sessionID string, loc proximity.Point) (chat.ProximityCheck, error) {
	err := s.store.Tx(func(tx *session.Tx) error {
		sess := tx.Get(sessionID)
		if sess == nil {
			return apperr.ErrInvalidSession
		}
		tx.SetLocation(sess, &loc)
		return nil
	})
	if err != nil {
		return chat.ProximityCheck{}, err
	}

	check := s.chats.CheckProximity(sessionID)
	s.changed()
	return check, nil
}

// Radar ranks the sessions sessionID can see. Invisible sessions and
// sessions blocked in either direction are not candidates; excluded ones are
// dropped by the engine. Lapsed exclusions found while scoring are cleared
// afterwards.
func (s *Service) Radar(sessionID string) ([]Entry, error) {
	start := time.Now()

	var (
		entries []Entry
		stale   []string
	)
	err := s.store.Tx(func(tx *session.Tx) error {
		viewer := tx.Get(sessionID)
		if viewer == nil {
			return apperr.ErrInvalidSession
		}

		var candidates []session.Session
		for _, c := range tx.All() {
			if c.ID == viewer.ID || !c.Visible || viewer.HasBlocked(c.ID) || c.HasBlocked(viewer.ID) {
				continue
			}
			candidates = append(candidates, *c)
		}

		ranking := s.engine.Rank(*viewer, candidates, tx.Now())
		stale = ranking.StaleExclusions
		entries = make([]Entry, len(ranking.Entries))
		for i, e := range ranking.Entries {
			entries[i] = Entry{
				SessionID:  e.Session.ID,
				Handle:     e.Session.Handle,
				Vibe:       e.Session.Vibe,
				Tags:       slices.Clone(e.Session.Tags),
				SharedTags: e.Score.SharedTags,
				Score:      e.Score.Value,
				Tier:       e.Score.Tier,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.guard.ClearStaleExclusions(stale)
	metrics.RankDuration.Observe(time.Since(start).Seconds())
	return entries, nil
}

// RequestChat asks targetID for a chat.
func (s *Service) RequestChat(requesterID, targetID string) error {
	return s.chats.Request(requesterID, targetID)
}

// RequestCooldown returns ErrInCooldown with its deadline when requesterID
// is cooling down, and nil otherwise. Callers use it to answer a cooling
// requester before counting the attempt against any other limit.
func (s *Service) RequestCooldown(requesterID string) error {
	sess, ok := s.store.Get(requesterID)
	if !ok {
		return nil
	}
	if cd := cooldown.Evaluate(&sess, s.store.Now()); cd.Active {
		return apperr.WithExpiry(apperr.ErrInCooldown, cd.ExpiresAt)
	}
	return nil
}

// AcceptChat accepts requesterID's request.
func (s *Service) AcceptChat(accepterID, requesterID string) error {
	return s.chats.Accept(accepterID, requesterID)
}

// DeclineChat declines requesterID's request.
func (s *Service) DeclineChat(declinerID, requesterID string) error {
	_, err := s.chats.Decline(declinerID, requesterID)
	return err
}

// EndChat ends the chat between sessionID and partnerID.
func (s *Service) EndChat(sessionID, partnerID string) error {
	return s.chats.EndChat(sessionID, partnerID, chat.ReasonUserExit)
}

// SendMessage relays text to sessionID's partner.
func (s *Service) SendMessage(sessionID, text string) error {
	return s.chats.Relay(sessionID, text)
}

// Block adds targetID to requesterID's block list and ends their chat if
// they were partners.
func (s *Service) Block(requesterID, targetID string) error {
	if requesterID == targetID {
		return apperr.ErrSelfTarget
	}

	var partnered bool
	err := s.store.Tx(func(tx *session.Tx) error {
		req := tx.Get(requesterID)
		if req == nil {
			return apperr.ErrInvalidSession
		}
		if tx.Get(targetID) == nil {
			return apperr.ErrTargetNotFound
		}
		if req.HasBlocked(targetID) {
			return apperr.ErrAlreadyBlocked
		}
		req.BlockedSessionIDs[targetID] = struct{}{}
		partnered = req.ActiveChatPartnerID == targetID
		return nil
	})
	if err != nil {
		return err
	}

	log.Info().Str("component", "radar").Str("session_id", requesterID).Str("target_id", targetID).Msg("session blocked")
	if partnered {
		s.chats.End(requesterID, targetID, chat.ReasonUserBlocked)
	}
	s.changed()
	return nil
}

// Report files a report from requesterID against targetID with the pair's
// recent chat lines attached.
func (s *Service) Report(requesterID, targetID, category string) (safety.ReportOutcome, error) {
	out, err := s.guard.Report(safety.ReportInput{
		ReporterID: requesterID,
		TargetID:   targetID,
		Category:   category,
		Evidence:   s.chats.Evidence(requesterID, targetID),
	})
	if errors.Is(err, apperr.ErrSessionNotFound) {
		return safety.ReportOutcome{}, apperr.ErrInvalidSession
	}
	if err != nil {
		return safety.ReportOutcome{}, err
	}
	s.changed()
	return out, nil
}

// HasReported reports whether reporterID already reported targetID.
func (s *Service) HasReported(reporterID, targetID string) bool {
	return s.ledger.HasReported(reporterID, targetID)
}

// Panic hides sessionID from every radar and ends its chat.
func (s *Service) Panic(sessionID string) (time.Time, error) {
	expiresAt, err := s.guard.Panic(sessionID)
	if err != nil {
		return time.Time{}, apperr.ErrInvalidSession
	}
	s.changed()
	return expiresAt, nil
}

// Start runs the expired-session sweeper until ctx is done.
func (s *Service) Start(ctx context.Context) {
	s.store.StartSweeper(ctx)
}

// Reset drops all sessions, reports and buffered chat lines.
func (s *Service) Reset() {
	s.store.Reset()
	s.ledger.Reset()
	s.chats.Reset()
}

func (s *Service) update(sessionID string, fn func(*session.Session)) error {
	err := s.store.Update(sessionID, func(sess *session.Session) error {
		fn(sess)
		return nil
	})
	if err != nil {
		return apperr.ErrInvalidSession
	}
	return nil
}

// sessionExpired runs after the store drops an expired session.
func (s *Service) sessionExpired(gone session.Session) {
	metrics.SessionsExpired.Inc()
	s.ledger.Forget(gone.ID)

	if gone.ActiveChatPartnerID != "" {
		s.chats.PartnerGone(gone.ActiveChatPartnerID, gone.ID)
	} else {
		s.chats.Forget(gone.ID)
	}

	s.mu.RLock()
	n := s.notifier
	s.mu.RUnlock()
	if n != nil {
		n.Notify(gone.ID, protocol.TypeError, protocol.ErrorMsg{
			Code:    string(apperr.CodeInvalidSession),
			Message: "session expired",
		})
	}

	log.Debug().Str("component", "radar").Str("session_id", gone.ID).Msg("session expired")
	s.changed()
}

func (s *Service) changed() {
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Package chat drives the pairwise chat lifecycle: request, accept, decline,
// end and the distance checks that end chats between partners who drift
// apart. Chat state lives on the sessions themselves (ActiveChatPartnerID),
// so every transition runs inside a session.Store transaction and the
// partner link is always written on both sides at once.
package chat

import (
	"math"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nearby/radar/internal/apperr"
	"github.com/nearby/radar/internal/cooldown"
	"github.com/nearby/radar/internal/metrics"
	"github.com/nearby/radar/internal/moderation"
	"github.com/nearby/radar/internal/protocol"
	"github.com/nearby/radar/internal/proximity"
	"github.com/nearby/radar/internal/safety"
	"github.com/nearby/radar/internal/session"
)

// End reasons.
const (
	ReasonUserExit       = "user_exit"
	ReasonProximityLost  = "proximity_lost"
	ReasonUserBlocked    = "user_blocked"
	ReasonPanic          = safety.ReasonPanic
	ReasonSessionExpired = "session_expired"
)

var endMessages = map[string]string{
	ReasonUserExit:       "The chat has ended.",
	ReasonProximityLost:  "You are no longer near each other.",
	ReasonUserBlocked:    "This chat is no longer available.",
	ReasonPanic:          "This chat was closed for safety.",
	ReasonSessionExpired: "Your chat partner's session expired.",
}

const (
	DefaultEndDistance  = 100.0
	DefaultWarnDistance = 80.0
)

// Config holds the proximity thresholds in meters. WarnDistance must be
// below EndDistance.
type Config struct {
	EndDistance  float64
	WarnDistance float64
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() Config {
	return Config{EndDistance: DefaultEndDistance, WarnDistance: DefaultWarnDistance}
}

// Notifier delivers a server push to a session. Implementations must not
// block and must tolerate sessions without a live connection.
type Notifier interface {
	Notify(sessionID, msgType string, payload any)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, string, any) {}

// ProximityCheck reports what CheckProximity did.
type ProximityCheck struct {
	PartnerID string
	Distance  float64 // +Inf when either location is unknown
	Warned    bool
	Ended     bool
}

// Manager applies chat transitions to sessions held in a session.Store.
type Manager struct {
	store     *session.Store
	cooldowns *cooldown.Tracker
	filter    *moderation.Filter
	buffer    *MessageBuffer
	pending   *pendingInvites
	config    Config
	notifier  Notifier
}

// NewManager creates a Manager. filter and notifier may be nil.
func NewManager(store *session.Store, cooldowns *cooldown.Tracker, filter *moderation.Filter, config Config, notifier Notifier) *Manager {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Manager{
		store:     store,
		cooldowns: cooldowns,
		filter:    filter,
		buffer:    NewMessageBuffer(),
		pending:   newPendingInvites(),
		config:    config,
		notifier:  notifier,
	}
}

// SetNotifier replaces the push sink. Call before serving traffic.
func (m *Manager) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	m.notifier = n
}

// Request asks targetID for a chat on behalf of requesterID. The cooldown
// gate runs before any other check, including the target lookup. No state
// session state changes on success; the request is remembered as pending,
// the target is notified and the requester acknowledged.
func (m *Manager) Request(requesterID, targetID string) error {
	var from protocol.IncomingChatRequestMsg

	err := m.store.Tx(func(tx *session.Tx) error {
		now := tx.Now()
		req := tx.Get(requesterID)
		if req == nil {
			return apperr.ErrInvalidSession
		}

		cd := cooldown.Evaluate(req, now)
		if cd.Active {
			return apperr.WithExpiry(apperr.ErrInCooldown, cd.ExpiresAt)
		}
		if cd.Stale {
			cooldown.ClearStale(req, now)
		}

		ex := safety.EvaluateExclusion(req, now)
		if ex.Excluded {
			return apperr.WithExpiry(apperr.ErrExcluded, ex.ExpiresAt)
		}
		if ex.Stale {
			safety.ClearStaleExclusion(req, now)
		}

		if requesterID == targetID {
			return apperr.ErrSelfTarget
		}
		tgt := tx.Get(targetID)
		if tgt == nil {
			return apperr.ErrTargetNotFound
		}
		if !tgt.Visible || safety.EvaluateExclusion(tgt, now).Excluded {
			return apperr.ErrTargetNotVisible
		}
		if tgt.HasBlocked(requesterID) || req.HasBlocked(targetID) {
			return apperr.ErrBlocked
		}
		if req.InChat() {
			return apperr.ErrAlreadyInChat
		}
		if tgt.InChat() {
			return apperr.ErrTargetInChat
		}

		m.pending.add(requesterID, targetID)
		from = protocol.IncomingChatRequestMsg{
			FromID: req.ID,
			Handle: req.Handle,
			Vibe:   string(req.Vibe),
			Tags:   slices.Clone(req.Tags),
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.ChatTransitions.WithLabelValues("requested").Inc()
	log.Debug().Str("component", "chat").Str("requester_id", requesterID).Str("target_id", targetID).Msg("chat requested")

	m.notifier.Notify(targetID, protocol.TypeChatRequest, from)
	m.notifier.Notify(requesterID, protocol.TypeChatRequestAck, protocol.ChatRequestAckMsg{TargetID: targetID, Status: "pending"})
	return nil
}

// Accept links accepterID and requesterID. requesterID must have a pending
// request to accepterID, which is consumed on success. Availability is
// re-checked here because either side may have started another chat since
// the request.
func (m *Manager) Accept(accepterID, requesterID string) error {
	var accHandle, reqHandle string

	err := m.store.Tx(func(tx *session.Tx) error {
		acc := tx.Get(accepterID)
		if acc == nil {
			return apperr.ErrInvalidSession
		}
		if accepterID == requesterID {
			return apperr.ErrSelfTarget
		}
		req := tx.Get(requesterID)
		if req == nil {
			return apperr.ErrTargetNotFound
		}
		if acc.HasBlocked(requesterID) || req.HasBlocked(accepterID) {
			return apperr.ErrBlocked
		}
		if acc.InChat() {
			return apperr.ErrAlreadyInChat
		}
		if req.InChat() {
			return apperr.ErrTargetInChat
		}
		if !m.pending.has(requesterID, accepterID) {
			return apperr.ErrNoPendingRequest
		}

		m.pending.take(requesterID, accepterID)
		acc.ActiveChatPartnerID = req.ID
		req.ActiveChatPartnerID = acc.ID
		accHandle, reqHandle = acc.Handle, req.Handle
		return nil
	})
	if err != nil {
		return err
	}

	// A fresh chat starts without the previous conversation's context.
	m.buffer.Remove(accepterID, requesterID)

	metrics.ChatTransitions.WithLabelValues("accepted").Inc()
	metrics.ActiveChats.Inc()
	log.Info().Str("component", "chat").Str("a", accepterID).Str("b", requesterID).Msg("chat started")

	m.notifier.Notify(accepterID, protocol.TypeChatAccepted, protocol.ChatAcceptedMsg{PartnerID: requesterID, PartnerHandle: reqHandle})
	m.notifier.Notify(requesterID, protocol.TypeChatAccepted, protocol.ChatAcceptedMsg{PartnerID: accepterID, PartnerHandle: accHandle})
	return nil
}

// Decline answers requesterID's pending request to declinerID. It records
// a decline against requesterID (not the decliner) and
// starts the requester's cooldown once the window threshold is met. The
// requester only learns about the cooldown on its next request.
func (m *Manager) Decline(declinerID, requesterID string) (cooldown.Decline, error) {
	var (
		d         cooldown.Decline
		expiresAt time.Time
	)

	err := m.store.Tx(func(tx *session.Tx) error {
		if tx.Get(declinerID) == nil {
			return apperr.ErrInvalidSession
		}
		req := tx.Get(requesterID)
		if req == nil {
			return apperr.ErrTargetNotFound
		}
		if !m.pending.has(requesterID, declinerID) {
			return apperr.ErrNoPendingRequest
		}
		m.pending.take(requesterID, declinerID)

		now := tx.Now()
		d = m.cooldowns.ApplyDecline(req, now)
		if d.ThresholdMet {
			expiresAt = m.cooldowns.ApplyCooldown(req, now)
		}
		return nil
	})
	if err != nil {
		return cooldown.Decline{}, err
	}

	metrics.ChatTransitions.WithLabelValues("declined").Inc()
	if d.ThresholdMet {
		m.cooldowns.Announce(requesterID, expiresAt)
	}

	m.notifier.Notify(requesterID, protocol.TypeChatDeclined, protocol.ChatDeclinedMsg{ByID: declinerID})
	return d, nil
}

// End clears the link between a and b and notifies both. Each side is
// cleared only if it points at the other, so a stale or mistaken pair can
// never break a third session's link. Ending an already-ended chat is a
// no-op that reports false.
func (m *Manager) End(a, b, reason string) bool {
	var ended bool
	_ = m.store.Tx(func(tx *session.Tx) error {
		ended = unlink(tx.Get(a), tx.Get(b), a, b)
		return nil
	})
	if ended {
		m.ended(a, b, reason)
	}
	return ended
}

// EndChat is the user-facing end: sessionID must exist and be linked to
// partnerID.
func (m *Manager) EndChat(sessionID, partnerID, reason string) error {
	if _, ok := m.store.Get(sessionID); !ok {
		return apperr.ErrInvalidSession
	}
	if !m.End(sessionID, partnerID, reason) {
		return apperr.ErrNotInChat
	}
	return nil
}

// EndActiveChat ends whatever chat sessionID is in.
func (m *Manager) EndActiveChat(sessionID, reason string) bool {
	sess, ok := m.store.Get(sessionID)
	if !ok || !sess.InChat() {
		return false
	}
	return m.End(sessionID, sess.ActiveChatPartnerID, reason)
}

// PartnerGone handles a partner whose session was removed by TTL expiry.
// The store has already cleared the survivor's link.
func (m *Manager) PartnerGone(survivorID, goneID string) {
	m.buffer.RemoveSession(goneID)
	m.pending.dropSession(goneID)
	metrics.ChatEnds.WithLabelValues(ReasonSessionExpired).Inc()
	metrics.ActiveChats.Dec()
	m.notifier.Notify(survivorID, protocol.TypeChatEnd, protocol.ChatEndedMsg{
		PartnerID: goneID,
		Reason:    ReasonSessionExpired,
		Message:   endMessages[ReasonSessionExpired],
	})
}

// CheckProximity compares sessionID's location with its partner's. Beyond
// EndDistance the chat ends with ReasonProximityLost; between WarnDistance
// and EndDistance both sides get a warning and the chat continues. Unknown
// locations never end a chat.
func (m *Manager) CheckProximity(sessionID string) ProximityCheck {
	var res ProximityCheck
	_ = m.store.Tx(func(tx *session.Tx) error {
		sess := tx.Get(sessionID)
		if sess == nil || !sess.InChat() {
			return nil
		}
		res.PartnerID = sess.ActiveChatPartnerID
		partner := tx.Get(res.PartnerID)
		if partner == nil {
			res.Distance = proximity.DistanceMeters(nil, nil)
			return nil
		}

		res.Distance = proximity.DistanceMeters(sess.Location, partner.Location)
		if math.IsInf(res.Distance, 1) {
			return nil
		}
		switch {
		case res.Distance > m.config.EndDistance:
			res.Ended = unlink(sess, partner, sess.ID, partner.ID)
		case res.Distance > m.config.WarnDistance:
			res.Warned = true
		}
		return nil
	})

	switch {
	case res.Ended:
		m.ended(sessionID, res.PartnerID, ReasonProximityLost)
	case res.Warned:
		for _, pair := range [][2]string{{sessionID, res.PartnerID}, {res.PartnerID, sessionID}} {
			m.notifier.Notify(pair[0], protocol.TypeProximityWarning, protocol.ProximityWarningMsg{
				PartnerID:      pair[1],
				DistanceMeters: res.Distance,
				EndDistance:    m.config.EndDistance,
			})
		}
	}
	return res
}

// Relay validates and screens text, buffers it for the pair and forwards it
// to the sender's partner.
func (m *Manager) Relay(senderID, text string) error {
	if err := ValidateMessage(text); err != nil {
		metrics.MessagesTotal.WithLabelValues("invalid").Inc()
		return apperr.WithMessage(apperr.ErrInvalidMessage, err.Error())
	}
	if m.filter != nil {
		if r := m.filter.Check(text); r.Blocked {
			metrics.MessagesTotal.WithLabelValues("blocked").Inc()
			log.Info().Str("component", "chat").Str("session_id", senderID).
				Str("reason", r.Reason).Str("term", r.Term).Msg("message blocked")
			return apperr.WithMessage(apperr.ErrInvalidMessage, moderation.Describe(r))
		}
	}

	var (
		partnerID string
		now       time.Time
	)
	err := m.store.Tx(func(tx *session.Tx) error {
		sess := tx.Get(senderID)
		if sess == nil {
			return apperr.ErrInvalidSession
		}
		if !sess.InChat() {
			return apperr.ErrNotInChat
		}
		partnerID, now = sess.ActiveChatPartnerID, tx.Now()
		return nil
	})
	if err != nil {
		return err
	}

	msg := BufferedMessage{From: senderID, Text: text, Ts: now.UnixMilli()}
	m.buffer.Add(senderID, partnerID, msg)
	metrics.MessagesTotal.WithLabelValues("relayed").Inc()

	m.notifier.Notify(partnerID, protocol.TypeChatMessage, protocol.RelayedChatMsg{From: "partner", Text: text, Ts: msg.Ts})
	return nil
}

// Evidence returns the recent lines between reporter and target labeled
// from the reporter's point of view.
func (m *Manager) Evidence(reporterID, targetID string) []safety.Evidence {
	lines := m.buffer.Get(reporterID, targetID)
	if len(lines) == 0 {
		return nil
	}
	out := make([]safety.Evidence, len(lines))
	for i, l := range lines {
		from := "reported"
		if l.From == reporterID {
			from = "reporter"
		}
		out[i] = safety.Evidence{From: from, Text: l.Text, Ts: l.Ts}
	}
	return out
}

// Forget drops buffered lines and open requests involving sessionID.
func (m *Manager) Forget(sessionID string) {
	m.buffer.RemoveSession(sessionID)
	m.pending.dropSession(sessionID)
}

// Reset drops all buffered lines and open requests.
func (m *Manager) Reset() {
	m.buffer.Reset()
	m.pending.reset()
}

func (m *Manager) ended(a, b, reason string) {
	msg, ok := endMessages[reason]
	if !ok {
		msg = endMessages[ReasonUserExit]
	}

	metrics.ChatTransitions.WithLabelValues("ended").Inc()
	metrics.ChatEnds.WithLabelValues(reason).Inc()
	metrics.ActiveChats.Dec()
	log.Info().Str("component", "chat").Str("a", a).Str("b", b).Str("reason", reason).Msg("chat ended")

	m.notifier.Notify(a, protocol.TypeChatEnd, protocol.ChatEndedMsg{PartnerID: b, Reason: reason, Message: msg})
	m.notifier.Notify(b, protocol.TypeChatEnd, protocol.ChatEndedMsg{PartnerID: a, Reason: reason, Message: msg})
}

// unlink clears each side that points at the other. Either session may be
// nil. Reports whether anything changed.
func unlink(sa, sb *session.Session, a, b string) bool {
	changed := false
	if sa != nil && sa.ActiveChatPartnerID == b && b != "" {
		sa.ActiveChatPartnerID = ""
		changed = true
	}
	if sb != nil && sb.ActiveChatPartnerID == a && a != "" {
		sb.ActiveChatPartnerID = ""
		changed = true
	}
	return changed
}

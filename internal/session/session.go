// Package session owns the lifecycle of anonymous, ephemeral presences. A
// session is created by onboarding, mutated by every other component through
// a single store lock, and deleted once its hard TTL passes.
package session

import (
	"slices"
	"time"

	"github.com/nearby/radar/internal/proximity"
)

// Vibe is the single-select mood a session advertises.
type Vibe string

const (
	VibeChill       Vibe = "chill"
	VibeSocial      Vibe = "social"
	VibeCurious     Vibe = "curious"
	VibeThinking    Vibe = "thinking"
	VibeAdventurous Vibe = "adventurous"
)

// Vibes lists every accepted vibe in display order.
var Vibes = []Vibe{VibeChill, VibeSocial, VibeCurious, VibeThinking, VibeAdventurous}

// ParseVibe validates a raw vibe string.
func ParseVibe(s string) (Vibe, bool) {
	v := Vibe(s)
	if slices.Contains(Vibes, v) {
		return v, true
	}
	return "", false
}

// Session is one anonymous presence. Values handed out by the Store are
// copies; mutate through Store.Tx.
type Session struct {
	ID     string
	Token  string
	Handle string

	Vibe             Vibe
	Tags             []string // order preserved for display
	Visible          bool
	Location         *proximity.Point // coarsened; nil means unknown
	EmergencyContact string

	ActiveChatPartnerID string

	BlockedSessionIDs       map[string]struct{}
	ReportCount             int
	SafetyFlag              bool
	PanicExclusionExpiresAt time.Time // zero when unset

	DeclinedInvites   []time.Time // oldest first, pruned to the decline window
	DeclineCount      int
	CooldownExpiresAt time.Time // zero when unset

	CreatedAt time.Time
	ExpiresAt time.Time
}

// HasBlocked reports whether s refuses to see or chat with id.
func (s *Session) HasBlocked(id string) bool {
	_, ok := s.BlockedSessionIDs[id]
	return ok
}

// InChat reports whether s currently has a chat partner.
func (s *Session) InChat() bool {
	return s.ActiveChatPartnerID != ""
}

// Expired reports whether the hard TTL has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// clone returns a deep copy so callers never alias store-owned state.
func (s *Session) clone() Session {
	c := *s
	c.Tags = slices.Clone(s.Tags)
	c.DeclinedInvites = slices.Clone(s.DeclinedInvites)
	if s.Location != nil {
		loc := *s.Location
		c.Location = &loc
	}
	c.BlockedSessionIDs = make(map[string]struct{}, len(s.BlockedSessionIDs))
	for id := range s.BlockedSessionIDs {
		c.BlockedSessionIDs[id] = struct{}{}
	}
	return c
}

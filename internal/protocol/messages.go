// Package protocol defines the WebSocket messages exchanged between radar
// clients and the gateway. Every frame is a JSON object with a "type"
// discriminator; client frames are decoded into concrete structs and
// validated here so the core only ever sees typed, checked arguments.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Client -> Server message types.
const (
	TypeLocationUpdate         = "location:update"
	TypeRadarSubscribe         = "radar:subscribe"
	TypeRadarUnsubscribe       = "radar:unsubscribe"
	TypeVisibilityUpdate       = "visibility:update"
	TypeEmergencyContactUpdate = "emergency_contact:update"
	TypeChatRequest            = "chat:request"
	TypeChatAccept             = "chat:accept"
	TypeChatDecline            = "chat:decline"
	TypeChatEnd                = "chat:end"
	TypeChatMessage            = "chat:message"
	TypeUserBlock              = "user:block"
	TypeUserReport             = "user:report"
	TypePanicTrigger           = "panic:trigger"
	TypePing                   = "ping"
)

// Server -> Client message types. chat:request, chat:end and chat:message
// share their names with the client frames that cause them.
const (
	TypeSessionReady     = "session:ready"
	TypeChatRequestAck   = "chat:request:ack"
	TypeChatAccepted     = "chat:accepted"
	TypeChatDeclined     = "chat:declined"
	TypeProximityWarning = "chat:proximity_warning"
	TypeRadarUpdate      = "radar:update"
	TypePanicTriggered   = "panic:triggered"
	TypeVisibilityDone   = "visibility:updated"
	TypeError            = "error"
	TypePong             = "pong"
)

// Validation limits.
const (
	MaxTags        = 10
	MaxTagLength   = 32
	MaxIDLength    = 64
	MaxCategoryLen = 32
)

var (
	e164Pattern  = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// ClientMessage is implemented by every client frame.
type ClientMessage interface {
	Validate() error
}

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the type discriminator and the raw frame for deferred
// decoding into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the raw bytes and extracts only the type.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return errors.New(`protocol: missing or empty "type" field`)
	}
	e.Type = partial.Type
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server
// ---------------------------------------------------------------------------

// LocationUpdateMsg reports the client's current position.
type LocationUpdateMsg struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (m LocationUpdateMsg) Validate() error {
	if m.Lat == nil || m.Lng == nil {
		return errors.New("lat and lng are required")
	}
	if math.IsNaN(*m.Lat) || *m.Lat < -90 || *m.Lat > 90 {
		return errors.New("lat out of range")
	}
	if math.IsNaN(*m.Lng) || *m.Lng < -180 || *m.Lng > 180 {
		return errors.New("lng out of range")
	}
	return nil
}

// RadarSubscribeMsg asks for radar:update pushes.
type RadarSubscribeMsg struct{}

func (RadarSubscribeMsg) Validate() error { return nil }

// RadarUnsubscribeMsg stops radar:update pushes.
type RadarUnsubscribeMsg struct{}

func (RadarUnsubscribeMsg) Validate() error { return nil }

// VisibilityUpdateMsg toggles whether others can see and request the client.
type VisibilityUpdateMsg struct {
	Visible *bool `json:"visible"`
}

func (m VisibilityUpdateMsg) Validate() error {
	if m.Visible == nil {
		return errors.New("visible must be a boolean")
	}
	return nil
}

// EmergencyContactUpdateMsg sets or, with a null contact, clears the contact.
type EmergencyContactUpdateMsg struct {
	Contact *string `json:"contact"`
}

func (m EmergencyContactUpdateMsg) Validate() error {
	if m.Contact == nil {
		return nil
	}
	return ValidateEmergencyContact(*m.Contact)
}

// ChatRequestMsg asks target for a chat.
type ChatRequestMsg struct {
	TargetID string `json:"target_id"`
}

func (m ChatRequestMsg) Validate() error { return validateID("target_id", m.TargetID) }

// ChatAcceptMsg accepts a pending request from requester.
type ChatAcceptMsg struct {
	RequesterID string `json:"requester_id"`
}

func (m ChatAcceptMsg) Validate() error { return validateID("requester_id", m.RequesterID) }

// ChatDeclineMsg declines a pending request from requester.
type ChatDeclineMsg struct {
	RequesterID string `json:"requester_id"`
}

func (m ChatDeclineMsg) Validate() error { return validateID("requester_id", m.RequesterID) }

// EndChatMsg ends the chat with partner.
type EndChatMsg struct {
	PartnerID string `json:"partner_id"`
}

func (m EndChatMsg) Validate() error { return validateID("partner_id", m.PartnerID) }

// ChatMessageMsg is a line of text for the active partner. Content rules
// live in the chat package.
type ChatMessageMsg struct {
	Text string `json:"text"`
}

func (m ChatMessageMsg) Validate() error { return nil }

// BlockUserMsg blocks target.
type BlockUserMsg struct {
	TargetID string `json:"target_id"`
}

func (m BlockUserMsg) Validate() error { return validateID("target_id", m.TargetID) }

// ReportUserMsg reports target under category.
type ReportUserMsg struct {
	TargetID string `json:"target_id"`
	Category string `json:"category"`
}

func (m ReportUserMsg) Validate() error {
	if err := validateID("target_id", m.TargetID); err != nil {
		return err
	}
	if m.Category == "" || len(m.Category) > MaxCategoryLen {
		return errors.New("category is required")
	}
	return nil
}

// PanicTriggerMsg hides the client from every radar and ends its chat.
type PanicTriggerMsg struct{}

func (PanicTriggerMsg) Validate() error { return nil }

// PingMsg is a client keepalive.
type PingMsg struct{}

func (PingMsg) Validate() error { return nil }

// ---------------------------------------------------------------------------
// Server -> Client
// ---------------------------------------------------------------------------

// SessionReadyMsg confirms an authenticated connection.
type SessionReadyMsg struct {
	SessionID string `json:"session_id"`
	Handle    string `json:"handle"`
	ExpiresAt int64  `json:"expires_at"` // unix ms
}

// IncomingChatRequestMsg tells the target who is asking.
type IncomingChatRequestMsg struct {
	FromID string   `json:"from_id"`
	Handle string   `json:"handle"`
	Vibe   string   `json:"vibe"`
	Tags   []string `json:"tags"`
}

// ChatRequestAckMsg confirms a request is pending.
type ChatRequestAckMsg struct {
	TargetID string `json:"target_id"`
	Status   string `json:"status"`
}

// ChatAcceptedMsg tells both parties the chat is active.
type ChatAcceptedMsg struct {
	PartnerID     string `json:"partner_id"`
	PartnerHandle string `json:"partner_handle"`
}

// ChatDeclinedMsg tells the requester the target declined.
type ChatDeclinedMsg struct {
	ByID string `json:"by_id"`
}

// ChatEndedMsg tells a participant the chat is over.
type ChatEndedMsg struct {
	PartnerID string `json:"partner_id"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
}

// RelayedChatMsg is a line from the partner.
type RelayedChatMsg struct {
	From string `json:"from"`
	Text string `json:"text"`
	Ts   int64  `json:"ts"`
}

// ProximityWarningMsg warns that the partner is drifting out of range.
type ProximityWarningMsg struct {
	PartnerID      string  `json:"partner_id"`
	DistanceMeters float64 `json:"distance_m"`
	EndDistance    float64 `json:"end_distance_m"`
}

// RadarEntry is one ranked candidate.
type RadarEntry struct {
	SessionID  string   `json:"session_id"`
	Handle     string   `json:"handle"`
	Vibe       string   `json:"vibe"`
	Tags       []string `json:"tags"`
	SharedTags []string `json:"shared_tags"`
	Score      float64  `json:"score"`
	Tier       string   `json:"tier"`
}

// RadarUpdateMsg carries the viewer's ranked radar.
type RadarUpdateMsg struct {
	Entries []RadarEntry `json:"entries"`
}

// PanicTriggeredMsg confirms a panic and when the exclusion lifts.
type PanicTriggeredMsg struct {
	ExclusionExpiresAt int64 `json:"exclusion_expires_at"` // unix ms
}

// VisibilityUpdatedMsg confirms a visibility change.
type VisibilityUpdatedMsg struct {
	Visible bool `json:"visible"`
}

// ErrorMsg communicates a rejected action. ExpiresAt is set for time-boxed
// rejections so clients can render a countdown.
type ErrorMsg struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	ExpiresAt int64  `json:"expires_at,omitempty"` // unix ms
}

// PongMsg answers a ping.
type PongMsg struct{}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// ParseClientMessage decodes and validates a raw frame. Unknown types,
// server-only types and invalid payloads are errors.
func ParseClientMessage(data []byte) (string, ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var msg ClientMessage
	switch env.Type {
	case TypeLocationUpdate:
		msg = decode[LocationUpdateMsg](env.Raw)
	case TypeRadarSubscribe:
		msg = RadarSubscribeMsg{}
	case TypeRadarUnsubscribe:
		msg = RadarUnsubscribeMsg{}
	case TypeVisibilityUpdate:
		msg = decode[VisibilityUpdateMsg](env.Raw)
	case TypeEmergencyContactUpdate:
		msg = decode[EmergencyContactUpdateMsg](env.Raw)
	case TypeChatRequest:
		msg = decode[ChatRequestMsg](env.Raw)
	case TypeChatAccept:
		msg = decode[ChatAcceptMsg](env.Raw)
	case TypeChatDecline:
		msg = decode[ChatDeclineMsg](env.Raw)
	case TypeChatEnd:
		msg = decode[EndChatMsg](env.Raw)
	case TypeChatMessage:
		msg = decode[ChatMessageMsg](env.Raw)
	case TypeUserBlock:
		msg = decode[BlockUserMsg](env.Raw)
	case TypeUserReport:
		msg = decode[ReportUserMsg](env.Raw)
	case TypePanicTrigger:
		msg = PanicTriggerMsg{}
	case TypePing:
		msg = PingMsg{}
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if msg == nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload", env.Type)
	}
	if err := msg.Validate(); err != nil {
		return env.Type, nil, fmt.Errorf("protocol: invalid %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// decode unmarshals raw into T, returning nil on failure. A nil interface
// signals the decode error to ParseClientMessage.
func decode[T ClientMessage](raw json.RawMessage) ClientMessage {
	var m T
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// NewServerMessage encodes payload with msgType injected under "type".
func NewServerMessage(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	m := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: payload is not an object: %w", err)
	}
	typ, _ := json.Marshal(msgType)
	m["type"] = typ

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

// ValidateEmergencyContact accepts an E.164 phone number or a basic email.
func ValidateEmergencyContact(contact string) error {
	c := strings.TrimSpace(contact)
	if e164Pattern.MatchString(c) || emailPattern.MatchString(c) {
		return nil
	}
	return errors.New("contact must be an E.164 phone number or an email address")
}

// ValidateTags checks onboarding tags.
func ValidateTags(tags []string) error {
	if len(tags) > MaxTags {
		return fmt.Errorf("at most %d tags", MaxTags)
	}
	for _, t := range tags {
		if strings.TrimSpace(t) == "" || len(t) > MaxTagLength {
			return fmt.Errorf("invalid tag %q", t)
		}
	}
	return nil
}

func validateID(field, id string) error {
	if id == "" || len(id) > MaxIDLength {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

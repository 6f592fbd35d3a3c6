package messaging

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nearby/radar/internal/safety"
)

// Publisher is the publish half of NATSClient.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// CooldownEvent is published on SubjectCooldown.
type CooldownEvent struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Bus publishes safety and cooldown events. It satisfies safety.Publisher
// and cooldown.Publisher. Publishing is fire-and-forget: failures are logged
// and never reach the caller. A nil *Bus drops everything.
type Bus struct {
	pub Publisher
}

// NewBus creates a Bus on pub.
func NewBus(pub Publisher) *Bus {
	return &Bus{pub: pub}
}

// PublishReport publishes an accepted report with its evidence.
func (b *Bus) PublishReport(ev safety.ReportEvent) {
	b.publish(SubjectReport, ev)
}

// PublishExclusion publishes an exclusion. Panic exclusions go to
// SubjectPanic, report-driven ones to SubjectExclusion.
func (b *Bus) PublishExclusion(ev safety.ExclusionEvent) {
	subject := SubjectExclusion
	if ev.Source == safety.SourcePanic {
		subject = SubjectPanic
	}
	b.publish(subject, ev)
}

// PublishCooldown publishes a cooldown activation.
func (b *Bus) PublishCooldown(sessionID string, expiresAt time.Time) {
	b.publish(SubjectCooldown, CooldownEvent{SessionID: sessionID, ExpiresAt: expiresAt})
}

func (b *Bus) publish(subject string, v any) {
	if b == nil || b.pub == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Str("component", "bus").Str("subject", subject).Err(err).Msg("marshal event")
		return
	}
	if err := b.pub.Publish(subject, data); err != nil {
		log.Warn().Str("component", "bus").Str("subject", subject).Err(err).Msg("publish event")
	}
}

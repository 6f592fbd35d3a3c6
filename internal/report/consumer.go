package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nearby/radar/internal/messaging"
	"github.com/nearby/radar/internal/safety"
)

// RepeatWindow is how far back the consumer looks when flagging targets
// with a history of reports.
const RepeatWindow = 24 * time.Hour

// Recorder is the persistence half of Store.
type Recorder interface {
	SaveReport(ctx context.Context, ev safety.ReportEvent) error
	SaveExclusion(ctx context.Context, ev safety.ExclusionEvent) error
	CountRecent(ctx context.Context, targetID string, window time.Duration) (int, error)
}

// Consumer persists safety events received from the bus.
type Consumer struct {
	rec Recorder

	// RepeatThreshold is the number of reports within RepeatWindow that
	// marks a target as a repeat offender in the logs.
	RepeatThreshold int
}

// NewConsumer creates a Consumer writing to rec.
func NewConsumer(rec Recorder) *Consumer {
	return &Consumer{rec: rec, RepeatThreshold: 5}
}

// Handle decodes one event by subject and records it. Unknown subjects are
// ignored.
func (c *Consumer) Handle(ctx context.Context, subject string, data []byte) error {
	switch subject {
	case messaging.SubjectReport:
		var ev safety.ReportEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("report: decode %s: %w", subject, err)
		}
		return c.report(ctx, ev)

	case messaging.SubjectExclusion, messaging.SubjectPanic:
		var ev safety.ExclusionEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("report: decode %s: %w", subject, err)
		}
		if err := c.rec.SaveExclusion(ctx, ev); err != nil {
			return err
		}
		log.Info().Str("component", "moderator").Str("session_id", ev.SessionID).
			Str("source", ev.Source).Time("expires_at", ev.ExpiresAt).Msg("exclusion recorded")
		return nil

	case messaging.SubjectCooldown:
		var ev messaging.CooldownEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("report: decode %s: %w", subject, err)
		}
		log.Info().Str("component", "moderator").Str("session_id", ev.SessionID).
			Time("expires_at", ev.ExpiresAt).Msg("decline cooldown")
		return nil
	}
	return nil
}

func (c *Consumer) report(ctx context.Context, ev safety.ReportEvent) error {
	if err := c.rec.SaveReport(ctx, ev); err != nil {
		return err
	}
	r := ev.Report
	log.Info().Str("component", "moderator").Str("target_id", r.TargetID).
		Str("category", r.Category).Int("unique_reporters", ev.UniqueReporters).
		Int("evidence", len(ev.Evidence)).Msg("report recorded")

	n, err := c.rec.CountRecent(ctx, r.TargetID, RepeatWindow)
	if err != nil {
		return err
	}
	if c.RepeatThreshold > 0 && n >= c.RepeatThreshold {
		log.Warn().Str("component", "moderator").Str("target_id", r.TargetID).
			Int("reports", n).Dur("window", RepeatWindow).Msg("repeat offender")
	}
	return nil
}

package safety

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nearby/radar/internal/apperr"
	"github.com/nearby/radar/internal/metrics"
	"github.com/nearby/radar/internal/session"
)

const (
	DefaultReportThreshold = 3
	DefaultReportExclusion = 1 * time.Hour
	DefaultPanicExclusion  = 1 * time.Hour

	// ReasonPanic is the chat end reason used when a participant panics.
	ReasonPanic = "panic"

	SourceReports = "reports"
	SourcePanic   = "panic"
)

// Config holds the exclusion parameters. The report-driven and panic-driven
// durations are independent.
type Config struct {
	ReportThreshold int
	ReportExclusion time.Duration
	PanicExclusion  time.Duration
}

// DefaultConfig returns the reference parameters.
func DefaultConfig() Config {
	return Config{
		ReportThreshold: DefaultReportThreshold,
		ReportExclusion: DefaultReportExclusion,
		PanicExclusion:  DefaultPanicExclusion,
	}
}

// Evidence is one recent chat line attached to a report for moderators.
type Evidence struct {
	From string `json:"from"` // "reporter" or "reported"
	Text string `json:"text"`
	Ts   int64  `json:"ts"`
}

// ReportEvent is published for every accepted report.
type ReportEvent struct {
	Report          Report     `json:"report"`
	UniqueReporters int        `json:"unique_reporters"`
	Evidence        []Evidence `json:"evidence,omitempty"`
}

// ExclusionEvent is published whenever an exclusion is applied.
type ExclusionEvent struct {
	SessionID string    `json:"session_id"`
	Source    string    `json:"source"` // "reports" or "panic"
	ExpiresAt time.Time `json:"expires_at"`
}

// Publisher receives safety events. Implementations must not block.
type Publisher interface {
	PublishReport(ev ReportEvent)
	PublishExclusion(ev ExclusionEvent)
}

// ChatEnder terminates whatever chat a session is in.
type ChatEnder interface {
	EndActiveChat(sessionID, reason string) bool
}

// ReportInput is a validated report request.
type ReportInput struct {
	ReporterID string
	TargetID   string
	Category   string
	Evidence   []Evidence
}

// ReportOutcome describes the effect of an accepted report.
type ReportOutcome struct {
	UniqueReporters    int
	Excluded           bool
	ExclusionExpiresAt time.Time
}

// Guard applies reports and panics to sessions.
type Guard struct {
	store     *session.Store
	ledger    *Ledger
	config    Config
	chats     ChatEnder
	publisher Publisher
}

// NewGuard creates a Guard. publisher may be nil; chats may be set later
// with SetChatEnder to break the construction cycle with the chat manager.
func NewGuard(store *session.Store, ledger *Ledger, config Config, publisher Publisher) *Guard {
	return &Guard{store: store, ledger: ledger, config: config, publisher: publisher}
}

// SetChatEnder wires the chat manager used by Panic.
func (g *Guard) SetChatEnder(chats ChatEnder) {
	g.chats = chats
}

// Ledger returns the report ledger.
func (g *Guard) Ledger() *Ledger {
	return g.ledger
}

// Report files a report. One report per (reporter, target) pair is accepted;
// once the target's unique reporters reach the threshold it is excluded.
func (g *Guard) Report(in ReportInput) (ReportOutcome, error) {
	if in.ReporterID == in.TargetID {
		return ReportOutcome{}, apperr.ErrSelfTarget
	}
	if _, ok := g.store.Get(in.ReporterID); !ok {
		return ReportOutcome{}, apperr.ErrSessionNotFound
	}
	if g.ledger.HasReported(in.ReporterID, in.TargetID) {
		return ReportOutcome{}, apperr.ErrAlreadyReported
	}

	var (
		out    ReportOutcome
		record Report
	)
	err := g.store.Tx(func(tx *session.Tx) error {
		target := tx.Get(in.TargetID)
		if target == nil {
			return apperr.ErrTargetNotFound
		}
		now := tx.Now()

		var added bool
		record, out.UniqueReporters, added = g.ledger.AddReport(in.ReporterID, in.TargetID, in.Category, now)
		if !added {
			return apperr.ErrAlreadyReported
		}
		target.ReportCount++

		if out.UniqueReporters >= g.config.ReportThreshold {
			out.Excluded = true
			out.ExclusionExpiresAt = applyExclusion(target, now, g.config.ReportExclusion)
		}
		return nil
	})
	if err != nil {
		return ReportOutcome{}, err
	}

	metrics.Reports.WithLabelValues(in.Category).Inc()
	log.Info().Str("component", "safety").Str("target_id", in.TargetID).
		Str("category", in.Category).Int("unique_reporters", out.UniqueReporters).Msg("report filed")

	if g.publisher != nil {
		g.publisher.PublishReport(ReportEvent{Report: record, UniqueReporters: out.UniqueReporters, Evidence: in.Evidence})
	}
	if out.Excluded {
		g.announceExclusion(in.TargetID, SourceReports, out.ExclusionExpiresAt)
	}
	return out, nil
}

// Panic excludes sessionID from every radar for the panic duration and ends
// its active chat. Re-triggering extends the window.
func (g *Guard) Panic(sessionID string) (time.Time, error) {
	var expiresAt time.Time
	err := g.store.Update(sessionID, func(sess *session.Session) error {
		expiresAt = applyExclusion(sess, g.store.Now(), g.config.PanicExclusion)
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}

	if g.chats != nil {
		g.chats.EndActiveChat(sessionID, ReasonPanic)
	}
	g.announceExclusion(sessionID, SourcePanic, expiresAt)
	return expiresAt, nil
}

// ClearStaleExclusions issues the follow-up clear for sessions whose
// exclusion was found lapsed while scoring.
func (g *Guard) ClearStaleExclusions(ids []string) {
	if len(ids) == 0 {
		return
	}
	_ = g.store.Tx(func(tx *session.Tx) error {
		for _, id := range ids {
			if sess := tx.Get(id); sess != nil {
				ClearStaleExclusion(sess, tx.Now())
			}
		}
		return nil
	})
}

func (g *Guard) announceExclusion(sessionID, source string, expiresAt time.Time) {
	metrics.Exclusions.WithLabelValues(source).Inc()
	log.Warn().Str("component", "safety").Str("session_id", sessionID).Str("source", source).
		Time("expires_at", expiresAt).Msg("safety exclusion applied")
	if g.publisher != nil {
		g.publisher.PublishExclusion(ExclusionEvent{SessionID: sessionID, Source: source, ExpiresAt: expiresAt})
	}
}

func applyExclusion(sess *session.Session, now time.Time, d time.Duration) time.Time {
	sess.SafetyFlag = true
	sess.PanicExclusionExpiresAt = now.Add(d)
	return sess.PanicExclusionExpiresAt
}

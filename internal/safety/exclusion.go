package safety

import (
	"time"

	"github.com/nearby/radar/internal/session"
)

// Exclusion is the computed exclusion view of a session.
type Exclusion struct {
	Excluded  bool
	ExpiresAt time.Time // zero for a flag without a deadline
	Stale     bool      // flag set with a lapsed deadline; clear and score normally
}

// EvaluateExclusion inspects the shared flag/deadline pair without mutating
// it. Both reports and panic write these fields, so the source is irrelevant.
// A flag without any deadline is malformed and treated as permanent.
func EvaluateExclusion(sess *session.Session, now time.Time) Exclusion {
	if !sess.SafetyFlag {
		return Exclusion{}
	}
	if sess.PanicExclusionExpiresAt.IsZero() {
		return Exclusion{Excluded: true}
	}
	if now.Before(sess.PanicExclusionExpiresAt) {
		return Exclusion{Excluded: true, ExpiresAt: sess.PanicExclusionExpiresAt}
	}
	return Exclusion{Stale: true}
}

// ClearStaleExclusion drops a lapsed flag. A flag whose deadline is still in
// the future, or which has no deadline, is left alone.
func ClearStaleExclusion(sess *session.Session, now time.Time) {
	if EvaluateExclusion(sess, now).Stale {
		sess.SafetyFlag = false
		sess.PanicExclusionExpiresAt = time.Time{}
	}
}

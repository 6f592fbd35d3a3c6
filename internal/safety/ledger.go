// Package safety tracks reports between sessions and applies the timed
// safety exclusion that removes a session from everyone's radar, whether it
// was earned through unique reports or self-triggered with the panic button.
package safety

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// validCategories is the set of accepted report categories.
var validCategories = map[string]bool{
	"harassment": true,
	"spam":       true,
	"explicit":   true,
	"other":      true,
}

// ValidCategory reports whether category is accepted by the ledger.
func ValidCategory(category string) bool {
	return validCategories[category]
}

// Report is one immutable audit record.
type Report struct {
	ID         string    `json:"id"`
	ReporterID string    `json:"reporter_id"`
	TargetID   string    `json:"target_id"`
	Category   string    `json:"category"`
	CreatedAt  time.Time `json:"created_at"`
}

// Ledger is the in-memory report ledger. Unique reporters are kept as a set
// per target, so repeated reports from one reporter count once.
type Ledger struct {
	mu        sync.RWMutex
	reporters map[string]map[string]struct{} // target -> reporter set
	records   map[string][]Report            // target -> append-only records
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		reporters: make(map[string]map[string]struct{}),
		records:   make(map[string][]Report),
	}
}

// AddReport records reporter against target and appends an audit record.
// It returns the resulting unique-reporter count and whether the reporter
// was new for this target. A repeat from the same reporter records nothing
// and leaves the count unchanged.
func (l *Ledger) AddReport(reporter, target, category string, at time.Time) (Report, int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	set, ok := l.reporters[target]
	if !ok {
		set = make(map[string]struct{})
		l.reporters[target] = set
	}
	if _, seen := set[reporter]; seen {
		return Report{}, len(set), false
	}
	set[reporter] = struct{}{}

	rec := Report{
		ID:         uuid.NewString(),
		ReporterID: reporter,
		TargetID:   target,
		Category:   category,
		CreatedAt:  at,
	}
	l.records[target] = append(l.records[target], rec)

	return rec, len(set), true
}

// HasReported reports whether reporter already reported target.
func (l *Ledger) HasReported(reporter, target string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.reporters[target][reporter]
	return ok
}

// UniqueReporterCount returns the number of distinct reporters of target.
func (l *Ledger) UniqueReporterCount(target string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.reporters[target])
}

// Records returns a copy of the audit records filed against target.
func (l *Ledger) Records(target string) []Report {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Report, len(l.records[target]))
	copy(out, l.records[target])
	return out
}

// Forget drops everything held about target once its session is gone.
func (l *Ledger) Forget(target string) {
	l.mu.Lock()
	delete(l.reporters, target)
	delete(l.records, target)
	l.mu.Unlock()
}

// Reset empties the ledger. Intended for tests.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.reporters = make(map[string]map[string]struct{})
	l.records = make(map[string][]Report)
	l.mu.Unlock()
}

// Package signal scores how compatible a candidate session is for a viewer
// and orders the radar. Scores are additive:
//
//	vibe match          + Weights.Vibe
//	shared tags (<= 3)  + Weights.Tag * n
//	visible target      + Weights.Visibility
//	tagless viewer      + Weights.Tagless (negative)
//	proximity tier      + Weights.Distance * multiplier
//	unique reporters    + Weights.Report * n (negative)
//
// A target under an active safety exclusion gets the Excluded score and is
// dropped from rankings.
package signal

import (
	"cmp"
	"crypto/rand"
	"encoding/hex"
	"math"
	"slices"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/nearby/radar/internal/proximity"
	"github.com/nearby/radar/internal/safety"
	"github.com/nearby/radar/internal/session"
)

// MaxSharedTags caps how many overlapping tags earn the tag weight.
const MaxSharedTags = 3

// Excluded is the sentinel score of a safety-excluded target. It sorts last
// and is filtered by Rank.
var Excluded = math.Inf(-1)

// Weights are the additive score terms.
type Weights struct {
	Vibe       float64
	Tag        float64
	Visibility float64
	Tagless    float64
	Distance   float64
	Report     float64
}

// DefaultWeights returns the compiled-in weights.
func DefaultWeights() Weights {
	return Weights{
		Vibe:       10,
		Tag:        5,
		Visibility: 3,
		Tagless:    -2,
		Distance:   4,
		Report:     -5,
	}
}

// ReportCounter exposes unique-reporter counts.
type ReportCounter interface {
	UniqueReporterCount(target string) int
}

// Score is the result of scoring one target for one viewer.
type Score struct {
	Value          float64
	Tier           proximity.Tier
	SharedTags     []string // in the viewer's tag order, uncapped
	StaleExclusion bool     // target carried a lapsed exclusion to be cleared
}

// IsExcluded reports whether the score is the exclusion sentinel.
func (s Score) IsExcluded() bool {
	return math.IsInf(s.Value, -1)
}

// Entry is one ranked radar row.
type Entry struct {
	Session session.Session
	Score   Score
}

// Ranking is an ordered radar plus the lapsed exclusions found on the way.
type Ranking struct {
	Entries         []Entry
	StaleExclusions []string
}

// Engine scores and ranks candidates.
type Engine struct {
	weights Weights
	reports ReportCounter
	salt    string
}

// NewEngine creates an Engine. The tie-break salt is drawn once per process
// so orderings stay stable between refreshes but differ between runs.
func NewEngine(weights Weights, reports ReportCounter) *Engine {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return &Engine{weights: weights, reports: reports, salt: hex.EncodeToString(buf)}
}

// Weights returns the configured weights.
func (e *Engine) Weights() Weights {
	return e.weights
}

// Score computes the compatibility of target for source at now.
func (e *Engine) Score(source, target *session.Session, now time.Time) Score {
	var s Score

	excl := safety.EvaluateExclusion(target, now)
	if excl.Excluded {
		s.Value = Excluded
		return s
	}
	s.StaleExclusion = excl.Stale

	if source.Vibe != "" && source.Vibe == target.Vibe {
		s.Value += e.weights.Vibe
	}

	s.SharedTags = sharedTags(source.Tags, target.Tags)
	s.Value += e.weights.Tag * float64(min(len(s.SharedTags), MaxSharedTags))

	if target.Visible {
		s.Value += e.weights.Visibility
	}

	if len(source.Tags) == 0 {
		s.Value += e.weights.Tagless
	}

	s.Tier = proximity.Between(source.Location, target.Location)
	s.Value += e.weights.Distance * float64(proximity.Multiplier(s.Tier))

	if e.reports != nil {
		s.Value += e.weights.Report * float64(e.reports.UniqueReporterCount(target.ID))
	}

	return s
}

// Rank scores every candidate other than source, drops excluded ones and
// orders the rest by score, then a per-session stable hash, then handle.
func (e *Engine) Rank(source session.Session, candidates []session.Session, now time.Time) Ranking {
	type keyed struct {
		entry    Entry
		tiebreak uint64
	}

	rows := make([]keyed, 0, len(candidates))
	var ranking Ranking
	for i := range candidates {
		c := &candidates[i]
		if c.ID == source.ID {
			continue
		}
		sc := e.Score(&source, c, now)
		if sc.StaleExclusion {
			ranking.StaleExclusions = append(ranking.StaleExclusions, c.ID)
		}
		if sc.IsExcluded() {
			continue
		}
		rows = append(rows, keyed{entry: Entry{Session: *c, Score: sc}, tiebreak: e.Tiebreak(c.ID)})
	}

	slices.SortFunc(rows, func(a, b keyed) int {
		if c := cmp.Compare(b.entry.Score.Value, a.entry.Score.Value); c != 0 {
			return c
		}
		if c := cmp.Compare(b.tiebreak, a.tiebreak); c != 0 {
			return c
		}
		if c := cmp.Compare(a.entry.Session.Handle, b.entry.Session.Handle); c != 0 {
			return c
		}
		return cmp.Compare(a.entry.Session.ID, b.entry.Session.ID)
	})

	ranking.Entries = make([]Entry, len(rows))
	for i, r := range rows {
		ranking.Entries[i] = r.entry
	}
	return ranking
}

// Tiebreak is the stable pseudo-random value for sessionID in this process.
func (e *Engine) Tiebreak(sessionID string) uint64 {
	return xxhash.Sum64String(e.salt + sessionID)
}

func sharedTags(source, target []string) []string {
	if len(source) == 0 || len(target) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(target))
	for _, t := range target {
		set[t] = struct{}{}
	}
	var out []string
	for _, t := range source {
		if _, ok := set[t]; ok {
			out = append(out, t)
			delete(set, t)
		}
	}
	return out
}

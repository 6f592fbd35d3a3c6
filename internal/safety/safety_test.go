package safety

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nearby/radar/internal/apperr"
	"github.com/nearby/radar/internal/session"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fakePublisher struct {
	reports    []ReportEvent
	exclusions []ExclusionEvent
}

func (p *fakePublisher) PublishReport(ev ReportEvent)       { p.reports = append(p.reports, ev) }
func (p *fakePublisher) PublishExclusion(ev ExclusionEvent) { p.exclusions = append(p.exclusions, ev) }

type fakeChats struct {
	ended map[string]string
}

func (f *fakeChats) EndActiveChat(sessionID, reason string) bool {
	f.ended[sessionID] = reason
	return true
}

type fixture struct {
	store  *session.Store
	guard  *Guard
	ledger *Ledger
	clock  *clock
	pub    *fakePublisher
	chats  *fakeChats
}

func setup(t *testing.T) *fixture {
	t.Helper()
	signer, err := session.NewTokenSigner([]byte(strings.Repeat("p", session.MinSecretBytes)))
	require.NoError(t, err)

	c := &clock{now: time.Date(2026, 5, 5, 20, 0, 0, 0, time.UTC)}
	cfg := session.DefaultConfig()
	cfg.TTL = 3 * time.Hour
	store := session.NewStore(cfg, signer, session.WithClock(c.Now))
	ledger := NewLedger()
	pub := &fakePublisher{}
	chats := &fakeChats{ended: map[string]string{}}

	guard := NewGuard(store, ledger, DefaultConfig(), pub)
	guard.SetChatEnder(chats)
	return &fixture{store: store, guard: guard, ledger: ledger, clock: c, pub: pub, chats: chats}
}

func (f *fixture) newSession(t *testing.T) string {
	t.Helper()
	created, err := f.store.Create(session.CreateParams{Vibe: session.VibeSocial, Visible: true})
	require.NoError(t, err)
	return created.SessionID
}

func TestLedger_DedupByPair(t *testing.T) {
	l := NewLedger()
	now := time.Now()

	_, count, added := l.AddReport("r1", "t", "spam", now)
	assert.Equal(t, 1, count)
	assert.True(t, added)

	_, count, added = l.AddReport("r1", "t", "harassment", now)
	assert.Equal(t, 1, count, "same reporter must not increase the unique count")
	assert.False(t, added)
	assert.Len(t, l.Records("t"), 1, "a rejected repeat leaves no record")

	assert.True(t, l.HasReported("r1", "t"))
	assert.False(t, l.HasReported("r2", "t"))
	assert.Equal(t, 0, l.UniqueReporterCount("other"))
}

func TestLedger_ForgetAndReset(t *testing.T) {
	l := NewLedger()
	l.AddReport("r1", "t", "spam", time.Now())
	l.AddReport("r1", "u", "spam", time.Now())

	l.Forget("t")
	assert.Equal(t, 0, l.UniqueReporterCount("t"))
	assert.Equal(t, 1, l.UniqueReporterCount("u"))

	l.Reset()
	assert.Equal(t, 0, l.UniqueReporterCount("u"))
	assert.Empty(t, l.Records("u"))
}

func TestReport_ThreeUniqueReportersExclude(t *testing.T) {
	f := setup(t)
	target := f.newSession(t)

	for i := 0; i < 2; i++ {
		out, err := f.guard.Report(ReportInput{ReporterID: f.newSession(t), TargetID: target, Category: "spam"})
		require.NoError(t, err)
		assert.False(t, out.Excluded)
	}

	out, err := f.guard.Report(ReportInput{ReporterID: f.newSession(t), TargetID: target, Category: "harassment"})
	require.NoError(t, err)
	assert.Equal(t, 3, out.UniqueReporters)
	assert.True(t, out.Excluded)
	assert.Equal(t, f.clock.Now().Add(DefaultReportExclusion), out.ExclusionExpiresAt)

	sess, ok := f.store.Get(target)
	require.True(t, ok, "excluded sessions still exist")
	assert.True(t, sess.SafetyFlag)
	assert.Equal(t, 3, sess.ReportCount)
	assert.True(t, EvaluateExclusion(&sess, f.clock.Now()).Excluded)

	require.Len(t, f.pub.reports, 3)
	require.Len(t, f.pub.exclusions, 1)
	assert.Equal(t, SourceReports, f.pub.exclusions[0].Source)
}

func TestReport_DuplicateRejected(t *testing.T) {
	f := setup(t)
	reporter, target := f.newSession(t), f.newSession(t)

	_, err := f.guard.Report(ReportInput{ReporterID: reporter, TargetID: target, Category: "spam"})
	require.NoError(t, err)

	_, err = f.guard.Report(ReportInput{ReporterID: reporter, TargetID: target, Category: "spam"})
	assert.True(t, errors.Is(err, apperr.ErrAlreadyReported))
	assert.Equal(t, 1, f.ledger.UniqueReporterCount(target))
}

func TestReport_Failures(t *testing.T) {
	f := setup(t)
	reporter := f.newSession(t)

	_, err := f.guard.Report(ReportInput{ReporterID: reporter, TargetID: reporter, Category: "spam"})
	assert.True(t, errors.Is(err, apperr.ErrSelfTarget))

	_, err = f.guard.Report(ReportInput{ReporterID: reporter, TargetID: "gone", Category: "spam"})
	assert.True(t, errors.Is(err, apperr.ErrTargetNotFound))
	assert.Equal(t, 0, f.ledger.UniqueReporterCount("gone"))

	_, err = f.guard.Report(ReportInput{ReporterID: "gone", TargetID: reporter, Category: "spam"})
	assert.True(t, errors.Is(err, apperr.ErrSessionNotFound))
}

func TestPanic_ExcludesAndEndsChat(t *testing.T) {
	f := setup(t)
	id := f.newSession(t)

	expiresAt, err := f.guard.Panic(id)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(DefaultPanicExclusion), expiresAt)
	assert.Equal(t, ReasonPanic, f.chats.ended[id])

	f.clock.Advance(10 * time.Minute)
	extended, err := f.guard.Panic(id)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(DefaultPanicExclusion), extended)

	require.Len(t, f.pub.exclusions, 2)
	assert.Equal(t, SourcePanic, f.pub.exclusions[1].Source)
}

func TestPanic_MissingSession(t *testing.T) {
	f := setup(t)
	_, err := f.guard.Panic("gone")
	assert.True(t, errors.Is(err, apperr.ErrSessionNotFound))
	assert.Empty(t, f.chats.ended)
}

func TestEvaluateExclusion(t *testing.T) {
	now := time.Date(2026, 5, 5, 20, 0, 0, 0, time.UTC)

	assert.Equal(t, Exclusion{}, EvaluateExclusion(&session.Session{}, now))

	permanent := EvaluateExclusion(&session.Session{SafetyFlag: true}, now)
	assert.True(t, permanent.Excluded)
	assert.True(t, permanent.ExpiresAt.IsZero())

	active := EvaluateExclusion(&session.Session{SafetyFlag: true, PanicExclusionExpiresAt: now.Add(time.Minute)}, now)
	assert.True(t, active.Excluded)

	lapsed := &session.Session{SafetyFlag: true, PanicExclusionExpiresAt: now}
	assert.True(t, EvaluateExclusion(lapsed, now).Stale)
	ClearStaleExclusion(lapsed, now)
	assert.False(t, lapsed.SafetyFlag)
	assert.True(t, lapsed.PanicExclusionExpiresAt.IsZero())
}

func TestClearStaleExclusions(t *testing.T) {
	f := setup(t)
	id := f.newSession(t)

	_, err := f.guard.Panic(id)
	require.NoError(t, err)

	f.guard.ClearStaleExclusions([]string{id})
	sess, _ := f.store.Get(id)
	assert.True(t, sess.SafetyFlag, "active exclusion survives a clear request")

	f.clock.Advance(DefaultPanicExclusion)
	f.guard.ClearStaleExclusions([]string{id, "gone"})
	sess, _ = f.store.Get(id)
	assert.False(t, sess.SafetyFlag)
}

func TestValidCategory(t *testing.T) {
	assert.True(t, ValidCategory("harassment"))
	assert.False(t, ValidCategory("meh"))
}

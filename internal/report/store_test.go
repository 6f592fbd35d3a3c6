package report

import (
	"context"
	"io/fs"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nearby/radar/internal/safety"
)

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	require.NoError(t, err)

	ups, downs := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		}
	}
	assert.Positive(t, ups)
	assert.Equal(t, ups, downs)
}

// newTestStore connects to TEST_DATABASE_URL and skips when it is unset or
// unreachable.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(db))
	return NewStore(db)
}

func TestSaveReport_AndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	target := "test-target-" + uuid.NewString()

	ev := safety.ReportEvent{
		Report: safety.Report{
			ID:         uuid.NewString(),
			ReporterID: "r1",
			TargetID:   target,
			Category:   "harassment",
			CreatedAt:  time.Now(),
		},
		UniqueReporters: 1,
		Evidence:        []safety.Evidence{{From: "reported", Text: "hey", Ts: 1}},
	}
	require.NoError(t, s.SaveReport(ctx, ev))
	require.NoError(t, s.SaveReport(ctx, ev), "redelivery is ignored")

	n, err := s.CountRecent(ctx, target, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSaveReport_RejectsUnknownCategory(t *testing.T) {
	s := &Store{}
	err := s.SaveReport(context.Background(), safety.ReportEvent{Report: safety.Report{Category: "rude"}})
	assert.Error(t, err)
}

func TestSaveExclusion(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveExclusion(context.Background(), safety.ExclusionEvent{
		SessionID: "test-" + uuid.NewString(),
		Source:    safety.SourcePanic,
		ExpiresAt: time.Now().Add(time.Hour),
	})
	assert.NoError(t, err)
}

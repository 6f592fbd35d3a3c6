// Package report persists safety events for moderator review. Reports carry
// the last few chat lines between reporter and target; exclusions and panics
// are kept as an audit trail.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/nearby/radar/internal/safety"
)

// Open connects to Postgres at dsn and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("report: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("report: ping: %w", err)
	}
	return db, nil
}

// Store writes safety events to Postgres.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store on db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveReport inserts a report event. Re-delivered events are ignored.
func (s *Store) SaveReport(ctx context.Context, ev safety.ReportEvent) error {
	if !safety.ValidCategory(ev.Report.Category) {
		return fmt.Errorf("report: invalid category %q", ev.Report.Category)
	}

	var evidence []byte
	if len(ev.Evidence) > 0 {
		var err error
		if evidence, err = json.Marshal(ev.Evidence); err != nil {
			return fmt.Errorf("report: marshal evidence: %w", err)
		}
	}

	const query = `
		INSERT INTO abuse_reports (id, reporter_id, target_id, category, unique_reporters, evidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	r := ev.Report
	if _, err := s.db.ExecContext(ctx, query, r.ID, r.ReporterID, r.TargetID, r.Category, ev.UniqueReporters, evidence, r.CreatedAt); err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

// SaveExclusion records an applied exclusion.
func (s *Store) SaveExclusion(ctx context.Context, ev safety.ExclusionEvent) error {
	const query = `INSERT INTO safety_actions (session_id, source, expires_at) VALUES ($1, $2, $3)`
	if _, err := s.db.ExecContext(ctx, query, ev.SessionID, ev.Source, ev.ExpiresAt); err != nil {
		return fmt.Errorf("report: insert safety action: %w", err)
	}
	return nil
}

// CountRecent returns how many reports target received within window.
func (s *Store) CountRecent(ctx context.Context, targetID string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM abuse_reports
		WHERE target_id = $1
		  AND created_at >= $2`

	var count int
	if err := s.db.QueryRowContext(ctx, query, targetID, time.Now().Add(-window)).Scan(&count); err != nil {
		return 0, fmt.Errorf("report: count recent: %w", err)
	}
	return count, nil
}

package triage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// AdvisoryStatus tracks where a report is in its lifecycle.
type AdvisoryStatus string

const (
	StatusOpen         AdvisoryStatus = "open"
	StatusAcknowledged AdvisoryStatus = "acknowledged"
	StatusResolved     AdvisoryStatus = "resolved"
)

// Advisory is one triaged vulnerability report.
type Advisory struct {
	ID          int64
	Title       string
	CVSS        float64
	Exploitable bool
	Severity    Severity
	Status      AdvisoryStatus
	ReportedAt  time.Time
	AckBy       time.Time
	RemediateBy time.Time
}

// Overdue reports whether the advisory has blown a deadline as of now.
func (a Advisory) Overdue(now time.Time) bool {
	switch a.Status {
	case StatusOpen:
		return now.After(a.AckBy)
	case StatusAcknowledged:
		return now.After(a.RemediateBy)
	default:
		return false
	}
}

// Store manages the SQLite database of advisories.
type Store struct {
	db     *sql.DB
	policy Policy
}

// OpenStore creates the advisory database connection and initializes the
// schema.
func OpenStore(dbPath string, policy Policy) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_loc=auto")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db, policy: policy}
	if err = s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS advisories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		cvss REAL NOT NULL,
		exploitable INTEGER NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		reported_at DATETIME NOT NULL,
		ack_by DATETIME NOT NULL,
		remediate_by DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_advisories_status ON advisories(status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Add classifies a new report, computes its deadlines and persists it.
func (s *Store) Add(ctx context.Context, title string, cvss float64, exploitable bool, reportedAt time.Time) (*Advisory, error) {
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if cvss < 0 || cvss > 10 {
		return nil, fmt.Errorf("CVSS score %.1f out of range [0, 10]", cvss)
	}

	severity := Classify(exploitable, cvss)
	remediateBy, err := s.policy.RemediationDeadline(severity, reportedAt)
	if err != nil {
		return nil, err
	}

	adv := &Advisory{
		Title:       title,
		CVSS:        cvss,
		Exploitable: exploitable,
		Severity:    severity,
		Status:      StatusOpen,
		ReportedAt:  reportedAt,
		AckBy:       s.policy.AckDeadline(reportedAt),
		RemediateBy: remediateBy,
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO advisories (title, cvss, exploitable, severity, status, reported_at, ack_by, remediate_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		adv.Title, adv.CVSS, boolToInt(adv.Exploitable), string(adv.Severity), string(adv.Status),
		adv.ReportedAt.UTC(), adv.AckBy.UTC(), adv.RemediateBy.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert advisory: %w", err)
	}
	adv.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get advisory id: %w", err)
	}
	return adv, nil
}

// Acknowledge moves an open advisory to acknowledged.
func (s *Store) Acknowledge(ctx context.Context, id int64) error {
	return s.transition(ctx, id, StatusOpen, StatusAcknowledged)
}

// Resolve moves an acknowledged advisory to resolved.
func (s *Store) Resolve(ctx context.Context, id int64) error {
	return s.transition(ctx, id, StatusAcknowledged, StatusResolved)
}

func (s *Store) transition(ctx context.Context, id int64, from, to AdvisoryStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE advisories SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update advisory %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("advisory %d not found in status %s", id, from)
	}
	return nil
}

// Unresolved returns advisories that are not yet resolved, oldest first.
func (s *Store) Unresolved(ctx context.Context) ([]Advisory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, cvss, exploitable, severity, status, reported_at, ack_by, remediate_by
		FROM advisories WHERE status != ? ORDER BY reported_at ASC`, string(StatusResolved))
	if err != nil {
		return nil, fmt.Errorf("failed to query advisories: %w", err)
	}
	defer rows.Close()

	var advisories []Advisory
	for rows.Next() {
		var adv Advisory
		var exploitable int
		var severity, status string
		if err := rows.Scan(&adv.ID, &adv.Title, &adv.CVSS, &exploitable, &severity, &status,
			&adv.ReportedAt, &adv.AckBy, &adv.RemediateBy); err != nil {
			return nil, fmt.Errorf("failed to scan advisory: %w", err)
		}
		adv.Exploitable = exploitable != 0
		adv.Severity = Severity(severity)
		adv.Status = AdvisoryStatus(status)
		advisories = append(advisories, adv)
	}
	return advisories, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

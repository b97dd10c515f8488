// Package datastore implements the append-only persistence sink for call
// and review records.
package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/linguameet/linguameet/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// SQL is the SQLite-backed Store.
type SQL struct {
	db *sql.DB
}

// NewSQL opens (or creates) a SQLite database and runs migrations.
func NewSQL(dbPath string) (*SQL, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// WAL keeps appends from blocking the occasional offline read
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: enable FK: %w", err)
	}
	// Avoid "database is locked" under concurrent appends
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &SQL{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQL) Close() error {
	return s.db.Close()
}

func (s *SQL) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS calls (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		learner_email    TEXT    NOT NULL CHECK(length(learner_email) > 0),
		speaker_email    TEXT    NOT NULL CHECK(length(speaker_email) > 0),
		duration_seconds INTEGER NOT NULL DEFAULT 0 CHECK(duration_seconds >= 0),
		started_at       TEXT    NOT NULL,
		ended_at         TEXT    NOT NULL,
		created_at       TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS reviews (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		call_id           INTEGER NOT NULL DEFAULT 0,
		reviewed_email    TEXT    NOT NULL CHECK(length(reviewed_email) > 0),
		reviewed_by_email TEXT    NOT NULL CHECK(length(reviewed_by_email) > 0),
		rating            INTEGER NOT NULL CHECK(rating >= 1 AND rating <= 5),
		feedback          TEXT    NOT NULL DEFAULT '',
		created_at        TEXT    NOT NULL DEFAULT (datetime('now'))
	);

	CREATE INDEX IF NOT EXISTS idx_reviews_call_id ON reviews(call_id);
	`

	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{
			version:    1,
			statements: []string{schema},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("datastore: migrate v%d: %w", m.version, err)
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQL) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *SQL) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *SQL) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// ---- Calls ----

// AppendCall persists a completed call and returns its assigned id.
// The record is validated before insertion.
func (s *SQL) AppendCall(ctx context.Context, rec model.CallRecord) (int64, error) {
	if err := rec.Validate(); err != nil {
		return 0, fmt.Errorf("datastore: append call: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO calls (learner_email, speaker_email, duration_seconds, started_at, ended_at) VALUES (?, ?, ?, ?, ?)",
		rec.LearnerEmail, rec.SpeakerEmail, rec.DurationSeconds,
		formatDBTime(rec.StartedAt), formatDBTime(rec.EndedAt))
	if err != nil {
		return 0, fmt.Errorf("datastore: append call: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("datastore: append call: %w", err)
	}
	return id, nil
}

// GetCall retrieves one call record. Returns (nil, nil) if not found.
func (s *SQL) GetCall(ctx context.Context, id int64) (*model.CallRecord, error) {
	rec := &model.CallRecord{}
	var startedAt, endedAt, createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, learner_email, speaker_email, duration_seconds, started_at, ended_at, created_at FROM calls WHERE id = ?", id).
		Scan(&rec.ID, &rec.LearnerEmail, &rec.SpeakerEmail, &rec.DurationSeconds, &startedAt, &endedAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get call: %w", err)
	}
	if rec.StartedAt, err = parseDBTime(startedAt); err != nil {
		return nil, fmt.Errorf("datastore: get call: %w", err)
	}
	if rec.EndedAt, err = parseDBTime(endedAt); err != nil {
		return nil, fmt.Errorf("datastore: get call: %w", err)
	}
	if rec.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return nil, fmt.Errorf("datastore: get call: %w", err)
	}
	return rec, nil
}

// ListCalls returns call records, newest first.
func (s *SQL) ListCalls(ctx context.Context, limit int) ([]model.CallRecord, error) {
	query := "SELECT id, learner_email, speaker_email, duration_seconds, started_at, ended_at, created_at FROM calls ORDER BY id DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("datastore: list calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []model.CallRecord
	for rows.Next() {
		var rec model.CallRecord
		var startedAt, endedAt, createdAt string
		if err := rows.Scan(&rec.ID, &rec.LearnerEmail, &rec.SpeakerEmail, &rec.DurationSeconds, &startedAt, &endedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: list calls: %w", err)
		}
		if rec.StartedAt, err = parseDBTime(startedAt); err != nil {
			return nil, fmt.Errorf("datastore: list calls: %w", err)
		}
		if rec.EndedAt, err = parseDBTime(endedAt); err != nil {
			return nil, fmt.Errorf("datastore: list calls: %w", err)
		}
		if rec.CreatedAt, err = parseDBTime(createdAt); err != nil {
			return nil, fmt.Errorf("datastore: list calls: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("datastore: list calls: %w", err)
	}
	return result, nil
}

// ---- Reviews ----

// AppendReview persists a post-call review after validation.
func (s *SQL) AppendReview(ctx context.Context, rev model.Review) error {
	if err := rev.Validate(); err != nil {
		return fmt.Errorf("datastore: append review: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO reviews (call_id, reviewed_email, reviewed_by_email, rating, feedback) VALUES (?, ?, ?, ?, ?)",
		rev.CallID, rev.ReviewedEmail, rev.ReviewedByEmail, rev.Rating, rev.Feedback)
	if err != nil {
		return fmt.Errorf("datastore: append review: %w", err)
	}
	return nil
}

// ListReviews returns the reviews filed against one call, oldest first.
func (s *SQL) ListReviews(ctx context.Context, callID int64) ([]model.Review, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, call_id, reviewed_email, reviewed_by_email, rating, feedback, created_at FROM reviews WHERE call_id = ? ORDER BY id ASC", callID)
	if err != nil {
		return nil, fmt.Errorf("datastore: list reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []model.Review
	for rows.Next() {
		var rev model.Review
		var createdAt string
		if err := rows.Scan(&rev.ID, &rev.CallID, &rev.ReviewedEmail, &rev.ReviewedByEmail, &rev.Rating, &rev.Feedback, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: list reviews: %w", err)
		}
		if rev.CreatedAt, err = parseDBTime(createdAt); err != nil {
			return nil, fmt.Errorf("datastore: list reviews: %w", err)
		}
		result = append(result, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("datastore: list reviews: %w", err)
	}
	return result, nil
}

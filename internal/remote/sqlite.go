package remote

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/stridehq/stridesync/internal/challenge"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore implements Store on a local SQLite database. It is the
// self-hosted deployment adapter and the durable backend for integration
// tests; production deployments point the same contract at a hosted
// document store.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - foreign key enforcement
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens the store database at path. Idempotent: the
// schema is applied with IF NOT EXISTS guards.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect store database: %w", err)
	}

	// SQLite supports one writer at a time; a single pooled connection
	// avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply store schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) GetChallenge(ctx context.Context, id string) (challenge.Challenge, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, owner_id, start_date, days_completed, streak_count,
		       last_check_in, completed_today, completed, archived,
		       last_modified, version
		FROM challenges WHERE id = ?
	`, id)

	c, err := scanChallenge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return challenge.Challenge{}, fmt.Errorf("challenge %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return challenge.Challenge{}, mapSQLiteErr(err)
	}
	return c, nil
}

func (s *SQLiteStore) PutChallenge(ctx context.Context, c challenge.Challenge) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO challenges
		(id, title, owner_id, start_date, days_completed, streak_count,
		 last_check_in, completed_today, completed, archived, last_modified, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			owner_id = excluded.owner_id,
			start_date = excluded.start_date,
			days_completed = excluded.days_completed,
			streak_count = excluded.streak_count,
			last_check_in = excluded.last_check_in,
			completed_today = excluded.completed_today,
			completed = excluded.completed,
			archived = excluded.archived,
			last_modified = excluded.last_modified,
			version = challenges.version + 1
	`,
		c.ID, c.Title, c.OwnerID, encodeTime(c.StartDate), c.DaysCompleted,
		c.StreakCount, encodeTimePtr(c.LastCheckIn), boolToInt(c.CompletedToday),
		boolToInt(c.Completed), boolToInt(c.Archived), encodeTime(c.LastModified),
	)
	return mapSQLiteErr(err)
}

func (s *SQLiteStore) CompareAndPut(ctx context.Context, c challenge.Challenge, expectedVersion int64, rec *challenge.CompletionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLiteErr(err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE challenges SET
			title = ?, owner_id = ?, start_date = ?, days_completed = ?,
			streak_count = ?, last_check_in = ?, completed_today = ?,
			completed = ?, archived = ?, last_modified = ?, version = version + 1
		WHERE id = ? AND version = ?
	`,
		c.Title, c.OwnerID, encodeTime(c.StartDate), c.DaysCompleted,
		c.StreakCount, encodeTimePtr(c.LastCheckIn), boolToInt(c.CompletedToday),
		boolToInt(c.Completed), boolToInt(c.Archived), encodeTime(c.LastModified),
		c.ID, expectedVersion,
	)
	if err != nil {
		return mapSQLiteErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapSQLiteErr(err)
	}
	if n == 0 {
		// Either the document is missing or another writer bumped the
		// version first. Distinguish so callers retry only real conflicts.
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM challenges WHERE id = ?`, c.ID).Scan(&exists); err != nil {
			return mapSQLiteErr(err)
		}
		if exists == 0 {
			return fmt.Errorf("challenge %q: %w", c.ID, ErrNotFound)
		}
		return ErrVersionConflict
	}

	if rec != nil {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO completions (event_id, challenge_id, date, note, duration_minutes)
			VALUES (?, ?, ?, ?, ?)
		`, rec.EventID, rec.ChallengeID, encodeTime(rec.Date), rec.Note, rec.DurationMinutes)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("event %q: %w", rec.EventID, ErrDuplicateEvent)
			}
			return mapSQLiteErr(err)
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return mapSQLiteErr(err)
		}
		rec.ID = fmt.Sprintf("rec-%06d", rowID)
	}

	return mapSQLiteErr(tx.Commit())
}

func (s *SQLiteStore) Completions(ctx context.Context, challengeID string) ([]challenge.CompletionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, challenge_id, date, note, duration_minutes
		FROM completions WHERE challenge_id = ? ORDER BY id ASC
	`, challengeID)
	if err != nil {
		return nil, mapSQLiteErr(err)
	}
	defer rows.Close()

	var recs []challenge.CompletionRecord
	for rows.Next() {
		var (
			rowID int64
			rec   challenge.CompletionRecord
			date  string
		)
		if err := rows.Scan(&rowID, &rec.EventID, &rec.ChallengeID, &date, &rec.Note, &rec.DurationMinutes); err != nil {
			return nil, mapSQLiteErr(err)
		}
		rec.ID = fmt.Sprintf("rec-%06d", rowID)
		if rec.Date, err = decodeTime(date); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanChallenge(row scanner) (challenge.Challenge, error) {
	var (
		c                                   challenge.Challenge
		startDate, lastModified             string
		lastCheckIn                         sql.NullString
		completedToday, completed, archived int
	)
	err := row.Scan(&c.ID, &c.Title, &c.OwnerID, &startDate, &c.DaysCompleted,
		&c.StreakCount, &lastCheckIn, &completedToday, &completed, &archived,
		&lastModified, &c.Version)
	if err != nil {
		return challenge.Challenge{}, err
	}

	if c.StartDate, err = decodeTime(startDate); err != nil {
		return challenge.Challenge{}, err
	}
	if c.LastModified, err = decodeTime(lastModified); err != nil {
		return challenge.Challenge{}, err
	}
	if lastCheckIn.Valid {
		t, err := decodeTime(lastCheckIn.String)
		if err != nil {
			return challenge.Challenge{}, err
		}
		c.LastCheckIn = &t
	}
	c.CompletedToday = completedToday != 0
	c.Completed = completed != 0
	c.Archived = archived != 0
	return c, nil
}

func encodeTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode stored time %q: %w", s, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// mapSQLiteErr translates driver-level connection failures into the
// transient taxonomy so the gate and reconciler can classify them.
func mapSQLiteErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

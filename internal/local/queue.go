package local

import (
	"context"
	"fmt"
	"time"

	"github.com/stridehq/stridesync/internal/challenge"
)

// Queue is the durable pending-event store.
//
// Events are kept in insertion order; the reconciliation worker depends on
// that order within a challenge to preserve the streak engine's
// date-monotonicity assumption. Implementations serialize their own
// read-modify-write internally, since the coordinator (append) and the
// reconciler (drain) run concurrently.
type Queue interface {
	// Append adds an event to the back of the queue.
	Append(ctx context.Context, ev challenge.CheckInEvent) error

	// List returns all pending events in insertion order.
	List(ctx context.Context) ([]challenge.CheckInEvent, error)

	// Remove deletes the event with the given ID. Removing an absent ID is
	// a no-op: the reconciler may race a second drain of the same event.
	Remove(ctx context.Context, eventID string) error

	// Len returns the number of pending events.
	Len(ctx context.Context) (int, error)

	// Close releases the backing storage.
	Close() error
}

// SQLiteQueue is the default Queue backend, stored in the device database.
// The AUTOINCREMENT position column makes insertion order explicit and
// restart-stable.
type SQLiteQueue struct {
	d *DB
}

// NewSQLiteQueue attaches a queue to an open device database.
func NewSQLiteQueue(d *DB) *SQLiteQueue {
	return &SQLiteQueue{d: d}
}

func (q *SQLiteQueue) Append(ctx context.Context, ev challenge.CheckInEvent) error {
	_, err := q.d.db.ExecContext(ctx, `
		INSERT INTO pending_events
		(id, user_id, challenge_id, date, note, duration_minutes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		ev.ID, ev.UserID, ev.ChallengeID,
		ev.Date.UTC().Format(time.RFC3339Nano),
		ev.Note, ev.DurationMinutes,
		ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append pending event: %w", err)
	}
	return nil
}

func (q *SQLiteQueue) List(ctx context.Context) ([]challenge.CheckInEvent, error) {
	rows, err := q.d.db.QueryContext(ctx, `
		SELECT id, user_id, challenge_id, date, note, duration_minutes, created_at
		FROM pending_events ORDER BY position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending events: %w", err)
	}
	defer rows.Close()

	var events []challenge.CheckInEvent
	for rows.Next() {
		var (
			ev              challenge.CheckInEvent
			date, createdAt string
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.ChallengeID, &date,
			&ev.Note, &ev.DurationMinutes, &createdAt); err != nil {
			return nil, fmt.Errorf("scan pending event: %w", err)
		}
		if ev.Date, err = time.Parse(time.RFC3339Nano, date); err != nil {
			return nil, fmt.Errorf("decode pending date %q: %w", date, err)
		}
		if ev.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("decode pending created_at %q: %w", createdAt, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (q *SQLiteQueue) Remove(ctx context.Context, eventID string) error {
	if _, err := q.d.db.ExecContext(ctx,
		`DELETE FROM pending_events WHERE id = ?`, eventID); err != nil {
		return fmt.Errorf("remove pending event %s: %w", eventID, err)
	}
	return nil
}

func (q *SQLiteQueue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending events: %w", err)
	}
	return n, nil
}

// Close is a no-op; the shared device database owns the connection.
func (q *SQLiteQueue) Close() error { return nil }

package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stridehq/stridesync/internal/challenge"
)

// ErrCacheMiss indicates no cached copy exists for the challenge.
var ErrCacheMiss = errors.New("local: challenge not cached")

// Cache is the device mirror of confirmed challenge state.
//
// The coordinator writes here only AFTER the remote transaction confirms, so
// the cache never presents unconfirmed state as truth. Reads serve the
// fast "already completed today" check and the UI.
type Cache struct {
	d *DB
}

// NewCache attaches a cache to an open device database.
func NewCache(d *DB) *Cache {
	return &Cache{d: d}
}

// Put stores the confirmed snapshot, replacing any previous copy.
func (c *Cache) Put(ctx context.Context, ch challenge.Challenge) error {
	doc, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("serialize challenge %s: %w", ch.ID, err)
	}

	_, err = c.d.db.ExecContext(ctx, `
		INSERT INTO challenge_cache (id, document, cached_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document = excluded.document,
			cached_at = excluded.cached_at
	`, ch.ID, string(doc), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("cache challenge %s: %w", ch.ID, err)
	}
	return nil
}

// Get returns the cached snapshot for id, or ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, id string) (challenge.Challenge, error) {
	var doc string
	err := c.d.db.QueryRowContext(ctx,
		`SELECT document FROM challenge_cache WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return challenge.Challenge{}, fmt.Errorf("challenge %q: %w", id, ErrCacheMiss)
	}
	if err != nil {
		return challenge.Challenge{}, fmt.Errorf("read cached challenge %s: %w", id, err)
	}

	var ch challenge.Challenge
	if err := json.Unmarshal([]byte(doc), &ch); err != nil {
		return challenge.Challenge{}, fmt.Errorf("parse cached challenge %s: %w", id, err)
	}
	return ch, nil
}

// CompletedOn reports whether the cached copy shows a confirmed completion on
// the calendar day of t. A cache miss reports false: the check is
// best-effort and the remote transaction remains the authority.
func (c *Cache) CompletedOn(ctx context.Context, id string, t time.Time, loc *time.Location) bool {
	ch, err := c.Get(ctx, id)
	if err != nil || ch.LastCheckIn == nil {
		return false
	}
	return challenge.StartOfDay(*ch.LastCheckIn, loc).Equal(challenge.StartOfDay(t, loc))
}

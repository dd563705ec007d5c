// Package local owns the device-side durable state: the pending check-in
// queue (events awaiting remote confirmation) and the confirmed challenge
// cache (the eventually-consistent mirror the UI reads).
//
// Both live outside process memory so an offline check-in survives a restart.
// Two queue backends satisfy the same interface: SQLite (default) and a
// whole-file JSON rewrite for the simplest deployments.
package local

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

// DB is the shared handle for the device database. Queue and Cache both
// attach to it so one file holds all device state.
type DB struct {
	db *sql.DB
}

// Open creates or opens the device database at path. Idempotent.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open device database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect device database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply device schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database handle.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// DB wraps sql.DB for the participant record store. Driver is "pgx" (Postgres)
// or "sqlite" (local development and tests).
type DB struct {
	Client *sql.DB
	Driver string
}

// NewDB opens a connection with sane defaults and pings it.
func NewDB(driver, connString string) (*DB, error) {
	db, err := sql.Open(driver, connString)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// every sqlite connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return &DB{Client: db, Driver: driver}, db.PingContext(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS id_card_users (
	email_id            TEXT PRIMARY KEY,
	name                TEXT NOT NULL DEFAULT '',
	team                TEXT,
	user_type           TEXT NOT NULL DEFAULT 'student_participant',
	team_position       TEXT,
	certificate_hash_id TEXT UNIQUE,
	created_at          TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// Migrate creates the participant table when it does not exist yet.
// The production table is provisioned by the registration system.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.Client.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate id_card_users: %w", err)
	}
	return nil
}

// Healthy verifies database connectivity.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

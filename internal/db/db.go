package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when an operation references a participant with no assignment.
	ErrNotFound = errors.New("assignment not found")
	// ErrConflict is returned when an insert collides with an existing key or position.
	ErrConflict = errors.New("assignment conflict")
)

type DB struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

// RunMigrations creates the roster and assignments tables and seeds the single
// roster row with zero values.
func (db *DB) RunMigrations(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS assignments (
			participant_key TEXT NOT NULL PRIMARY KEY,
			display_name TEXT NOT NULL,
			position INT NOT NULL,
			roster_size INT NOT NULL,
			amount_due BIGINT NOT NULL,
			proof_reference TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			submitted_at TIMESTAMPTZ,
			CONSTRAINT assignments_position_key UNIQUE (position),
			CONSTRAINT assignments_position_nonneg CHECK (position >= 0),
			CONSTRAINT assignments_amount_nonneg CHECK (amount_due >= 0)
		);
		CREATE INDEX IF NOT EXISTS idx_assignments_display_name ON assignments(display_name);

		CREATE TABLE IF NOT EXISTS roster (
			id SMALLINT PRIMARY KEY DEFAULT 1,
			total_participants INT NOT NULL,
			total_amount BIGINT NOT NULL,
			participant_ids TEXT[] NOT NULL,
			paid_ids TEXT[] NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT roster_single_row CHECK (id = 1)
		);

		INSERT INTO roster (total_participants, total_amount, participant_ids)
		VALUES (0, 0, '{}')
		ON CONFLICT (id) DO NOTHING;
	`)
	return err
}

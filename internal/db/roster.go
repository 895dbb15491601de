package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/susu3304/paycollect/internal/roster"
)

const rosterColumns = `total_participants, total_amount, participant_ids, paid_ids, updated_at`

func scanRoster(row pgx.Row) (*roster.Snapshot, error) {
	var s roster.Snapshot
	if err := row.Scan(&s.TotalParticipants, &s.TotalAmount, &s.ParticipantIDs, &s.PaidIDs, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, roster.ErrUnavailable
		}
		return nil, err
	}
	return &s, nil
}

// LoadRoster reads the single roster row.
func (db *DB) LoadRoster(ctx context.Context) (*roster.Snapshot, error) {
	return scanRoster(db.pool.QueryRow(ctx,
		`SELECT `+rosterColumns+` FROM roster WHERE id = 1`,
	))
}

// ReplaceRoster overwrites the roster contents in one statement. The paid set
// is left untouched.
func (db *DB) ReplaceRoster(ctx context.Context, p roster.Payload) (*roster.Snapshot, error) {
	ids := p.ParticipantIDs
	if ids == nil {
		ids = []string{}
	}
	return scanRoster(db.pool.QueryRow(ctx,
		`UPDATE roster
		 SET total_participants = $1,
			 total_amount = $2,
			 participant_ids = $3,
			 updated_at = NOW()
		 WHERE id = 1
		 RETURNING `+rosterColumns,
		p.TotalParticipants, p.TotalAmount, ids,
	))
}

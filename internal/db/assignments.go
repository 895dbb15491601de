package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/susu3304/paycollect/internal/alloc"
	"github.com/susu3304/paycollect/internal/roster"
)

// Assignment is a participant's position in the payment order, the amount fixed
// for them at creation, and their proof submission.
type Assignment struct {
	ParticipantKey string     `json:"participant_key"`
	DisplayName    string     `json:"display_name"`
	Position       int        `json:"order"`
	RosterSize     int        `json:"roster_size_at_assignment"`
	AmountDue      int64      `json:"amount_due"`
	ProofReference *string    `json:"proof_reference,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
}

func (a *Assignment) Submitted() bool {
	return a.SubmittedAt != nil
}

// Submission is the result of recording a proof of payment.
type Submission struct {
	Assignment
	// Elapsed is the time between the first amount request and the submission.
	Elapsed time.Duration
}

// assignmentLockKey identifies the transaction-scoped advisory lock that
// serializes first-time assignments.
const assignmentLockKey int64 = 0x70617963

const assignmentColumns = `participant_key, display_name, position, roster_size, amount_due, proof_reference, created_at, submitted_at`

func scanAssignment(row pgx.Row) (*Assignment, error) {
	var a Assignment
	err := row.Scan(&a.ParticipantKey, &a.DisplayName, &a.Position, &a.RosterSize,
		&a.AmountDue, &a.ProofReference, &a.CreatedAt, &a.SubmittedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (db *DB) GetAssignment(ctx context.Context, participantKey string) (*Assignment, error) {
	return scanAssignment(db.pool.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE participant_key = $1`,
		participantKey,
	))
}

// GetOrCreateAssignment returns the participant's assignment, creating it on
// first request. A new assignment takes the next dense position and its amount
// is computed from the snapshot totals. An existing assignment is returned as
// stored, whatever the snapshot says now.
func (db *DB) GetOrCreateAssignment(ctx context.Context, participantKey, displayName string, snap *roster.Snapshot, decayRatio float64) (*Assignment, error) {
	if snap == nil {
		return nil, roster.ErrUnavailable
	}

	a, err := db.GetAssignment(ctx, participantKey)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, assignmentLockKey); err != nil {
		return nil, err
	}

	// Another request for the same participant may have won the lock first.
	a, err = scanAssignment(tx.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE participant_key = $1`,
		participantKey,
	))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var position int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM assignments`).Scan(&position); err != nil {
		return nil, err
	}
	amount := alloc.AmountDue(position, snap.TotalParticipants, snap.TotalAmount, decayRatio)

	a, err = scanAssignment(tx.QueryRow(ctx,
		`INSERT INTO assignments (participant_key, display_name, position, roster_size, amount_due)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+assignmentColumns,
		participantKey, displayName, position, snap.TotalParticipants, amount,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			_ = tx.Rollback(ctx)
			// A writer outside the advisory lock created this participant first.
			if existing, gerr := db.GetAssignment(ctx, participantKey); gerr == nil {
				return existing, nil
			}
			return nil, fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// MarkSubmitted records the proof of payment and adds the participant to the
// roster's paid set in one transaction. Returns ErrNotFound, with nothing
// written, when the participant has no assignment.
func (db *DB) MarkSubmitted(ctx context.Context, participantKey, proofReference string) (*Submission, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	a, err := scanAssignment(tx.QueryRow(ctx,
		`UPDATE assignments
		 SET submitted_at = NOW(), proof_reference = $2
		 WHERE participant_key = $1
		 RETURNING `+assignmentColumns,
		participantKey, proofReference,
	))
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE roster
		 SET paid_ids = CASE
				WHEN $1::text = ANY(paid_ids) THEN paid_ids
				ELSE array_append(paid_ids, $1::text)
			 END,
			 updated_at = NOW()
		 WHERE id = 1`,
		a.DisplayName,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	sub := &Submission{Assignment: *a}
	if a.SubmittedAt != nil {
		sub.Elapsed = a.SubmittedAt.Sub(a.CreatedAt)
	}
	return sub, nil
}

// ListAssignments returns all assignments in position order.
func (db *DB) ListAssignments(ctx context.Context) ([]Assignment, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+assignmentColumns+` FROM assignments ORDER BY position`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

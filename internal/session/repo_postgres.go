package session

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresRepo persists call sessions in the call_sessions table.
//
// Assumed schema:
//
//	CREATE TABLE call_sessions (
//	  id          TEXT PRIMARY KEY,
//	  family_id   TEXT NOT NULL,
//	  caller_id   TEXT NOT NULL,
//	  caller_role TEXT NOT NULL,
//	  callee_id   TEXT NOT NULL,
//	  callee_role TEXT NOT NULL,
//	  type        TEXT NOT NULL,
//	  status      TEXT NOT NULL,
//	  created_at  TIMESTAMPTZ NOT NULL,
//	  answered_at TIMESTAMPTZ,
//	  ended_at    TIMESTAMPTZ,
//	  answered_by TEXT NOT NULL DEFAULT '',
//	  ended_by    TEXT NOT NULL DEFAULT '',
//	  end_reason  TEXT NOT NULL DEFAULT ''
//	);
//
// The conditional UPDATE in Transition is the linearization point for the
// whole call lifecycle; no row locks are taken anywhere else.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const sessionColumns = `
id, family_id, caller_id, caller_role, callee_id, callee_role,
type, status, created_at, answered_at, ended_at, answered_by, ended_by, end_reason
`

func (r *PostgresRepo) Create(ctx context.Context, s CallSession) error {
	const q = `
INSERT INTO call_sessions (
  id, family_id, caller_id, caller_role, callee_id, callee_role,
  type, status, created_at, answered_by, ended_by, end_reason
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,'','',''
)
`
	_, err := r.db.ExecContext(ctx, q,
		s.ID,
		s.FamilyID,
		s.CallerID,
		s.CallerRole,
		s.CalleeID,
		s.CalleeRole,
		s.Type,
		s.Status,
		s.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, familyID, id string) (CallSession, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE family_id = $1 AND id = $2
`
	return scanSession(r.db.QueryRowContext(ctx, q, familyID, id))
}

func (r *PostgresRepo) Transition(ctx context.Context, familyID, id string, expected, next Status, f Fields) (CallSession, error) {
	// Single-statement compare-and-swap. COALESCE keeps columns untouched
	// when the corresponding field is not being set.
	const q = `
UPDATE call_sessions
SET status      = $4,
    answered_at = COALESCE($5, answered_at),
    ended_at    = COALESCE($6, ended_at),
    answered_by = CASE WHEN $7 = '' THEN answered_by ELSE $7 END,
    ended_by    = CASE WHEN $8 = '' THEN ended_by ELSE $8 END,
    end_reason  = CASE WHEN $9 = '' THEN end_reason ELSE $9 END
WHERE family_id = $1 AND id = $2 AND status = $3
RETURNING ` + sessionColumns + `
`
	out, err := scanSession(r.db.QueryRowContext(ctx, q,
		familyID,
		id,
		expected,
		next,
		f.AnsweredAt,
		f.EndedAt,
		f.AnsweredBy,
		f.EndedBy,
		string(f.EndReason),
	))
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return CallSession{}, err
	}

	// No row matched: distinguish a lost race from an unknown session.
	if _, gerr := r.Get(ctx, familyID, id); gerr != nil {
		return CallSession{}, gerr
	}
	return CallSession{}, ErrConflict
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (CallSession, error) {
	var s CallSession
	var answeredAt, endedAt sql.NullTime
	err := row.Scan(
		&s.ID,
		&s.FamilyID,
		&s.CallerID,
		&s.CallerRole,
		&s.CalleeID,
		&s.CalleeRole,
		&s.Type,
		&s.Status,
		&s.CreatedAt,
		&answeredAt,
		&endedAt,
		&s.AnsweredBy,
		&s.EndedBy,
		&s.EndReason,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallSession{}, ErrNotFound
		}
		return CallSession{}, err
	}
	if answeredAt.Valid {
		t := answeredAt.Time
		s.AnsweredAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	return s, nil
}

package history

import (
	"context"
	"database/sql"
	"time"
)

// PostgresRepo persists call history.
//
// Assumed schema:
//
//	CREATE TABLE call_history (
//	  id               TEXT PRIMARY KEY,
//	  session_id       TEXT NOT NULL UNIQUE,
//	  family_id        TEXT NOT NULL,
//	  caller_id        TEXT NOT NULL,
//	  callee_id        TEXT NOT NULL,
//	  type             TEXT NOT NULL,
//	  outcome          TEXT NOT NULL,
//	  started_at       TIMESTAMPTZ NOT NULL,
//	  answered_at      TIMESTAMPTZ,
//	  ended_at         TIMESTAMPTZ NOT NULL,
//	  duration_seconds INT NOT NULL DEFAULT 0,
//	  end_reason       TEXT NOT NULL DEFAULT ''
//	);
//
// INSERT-only; the unique session_id absorbs replayed terminal events.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const historyColumns = `
id, session_id, family_id, caller_id, callee_id, type, outcome,
started_at, answered_at, ended_at, duration_seconds, end_reason
`

func (r *PostgresRepo) Append(ctx context.Context, rec Record) error {
	const q = `
INSERT INTO call_history (
  id, session_id, family_id, caller_id, callee_id, type, outcome,
  started_at, answered_at, ended_at, duration_seconds, end_reason
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (session_id) DO NOTHING
`
	_, err := r.db.ExecContext(ctx, q,
		rec.ID,
		rec.SessionID,
		rec.FamilyID,
		rec.CallerID,
		rec.CalleeID,
		rec.Type,
		rec.Outcome,
		rec.StartedAt,
		rec.AnsweredAt,
		rec.EndedAt,
		rec.DurationSeconds,
		rec.EndReason,
	)
	return err
}

func (r *PostgresRepo) List(ctx context.Context, req ListRequest) ([]Record, error) {
	const q = `
SELECT ` + historyColumns + `
FROM call_history
WHERE family_id = $1
  AND (caller_id = $2 OR callee_id = $2)
  AND ($3::timestamptz IS NULL OR ended_at >= $3)
  AND ($4::timestamptz IS NULL OR ended_at <= $4)
ORDER BY ended_at DESC
LIMIT $5
`
	rows, err := r.db.QueryContext(ctx, q,
		req.FamilyID,
		req.ParticipantID,
		nullTime(req.Range.From),
		nullTime(req.Range.To),
		req.Limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (r *PostgresRepo) ListPair(ctx context.Context, familyID, participantID, contactID string, rng TimeRange) ([]Record, error) {
	const q = `
SELECT ` + historyColumns + `
FROM call_history
WHERE family_id = $1
  AND ((caller_id = $2 AND callee_id = $3) OR (caller_id = $3 AND callee_id = $2))
  AND ($4::timestamptz IS NULL OR ended_at >= $4)
  AND ($5::timestamptz IS NULL OR ended_at <= $5)
ORDER BY ended_at DESC
`
	rows, err := r.db.QueryContext(ctx, q,
		familyID,
		participantID,
		contactID,
		nullTime(rng.From),
		nullTime(rng.To),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var rec Record
		var answeredAt sql.NullTime
		err := rows.Scan(
			&rec.ID,
			&rec.SessionID,
			&rec.FamilyID,
			&rec.CallerID,
			&rec.CalleeID,
			&rec.Type,
			&rec.Outcome,
			&rec.StartedAt,
			&answeredAt,
			&rec.EndedAt,
			&rec.DurationSeconds,
			&rec.EndReason,
		)
		if err != nil {
			return nil, err
		}
		if answeredAt.Valid {
			t := answeredAt.Time
			rec.AnsweredAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

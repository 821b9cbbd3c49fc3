package badge

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"familycall-platform/pkg/utils"
)

// PostgresRepo persists badge events and clear watermarks.
//
// Assumed schema:
//
//	CREATE TABLE badge_events (
//	  participant_id TEXT NOT NULL,
//	  contact_id     TEXT NOT NULL,
//	  kind           TEXT NOT NULL,
//	  event_id       TEXT NOT NULL,
//	  occurred_at    TIMESTAMPTZ NOT NULL,
//	  PRIMARY KEY (participant_id, contact_id, event_id)
//	);
//
//	CREATE TABLE badge_watermarks (
//	  participant_id TEXT NOT NULL,
//	  contact_id     TEXT NOT NULL,
//	  kind           TEXT NOT NULL,
//	  cleared_at     TIMESTAMPTZ NOT NULL,
//	  PRIMARY KEY (participant_id, contact_id, kind)
//	);
//
// Counters are never stored; they are counted per request against the
// watermark, which is what makes replayed events harmless.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) RecordEvent(ctx context.Context, participantID, contactID string, kind Kind, eventID string, occurredAt time.Time) (bool, error) {
	if participantID == "" || contactID == "" || eventID == "" || !kind.Valid() {
		return false, ErrInvalidArgument
	}
	const q = `
INSERT INTO badge_events (participant_id, contact_id, kind, event_id, occurred_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (participant_id, contact_id, event_id) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q, participantID, contactID, kind, eventID, occurredAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetWatermark advances the watermark and prunes the events it covers.
// Events at or before the watermark can never count again, so deleting them
// keeps the table bounded; the two statements run in one transaction so the
// prune targets exactly the watermark that was written.
func (r *PostgresRepo) SetWatermark(ctx context.Context, participantID, contactID string, kind Kind, clearedAt time.Time) error {
	if participantID == "" || contactID == "" || !kind.Valid() {
		return ErrInvalidArgument
	}
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const upsert = `
INSERT INTO badge_watermarks (participant_id, contact_id, kind, cleared_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (participant_id, contact_id, kind)
DO UPDATE SET cleared_at = GREATEST(badge_watermarks.cleared_at, EXCLUDED.cleared_at)
RETURNING cleared_at
`
		var mark time.Time
		if err := tx.QueryRowContext(ctx, upsert, participantID, contactID, kind, clearedAt).Scan(&mark); err != nil {
			return err
		}

		const prune = `
DELETE FROM badge_events
WHERE participant_id = $1 AND contact_id = $2 AND kind = $3 AND occurred_at <= $4
`
		_, err := tx.ExecContext(ctx, prune, participantID, contactID, kind, mark)
		return err
	})
}

func (r *PostgresRepo) GetWatermarks(ctx context.Context, participantID, contactID string) (Watermarks, error) {
	const q = `
SELECT kind, cleared_at
FROM badge_watermarks
WHERE participant_id = $1 AND contact_id = $2
`
	rows, err := r.db.QueryContext(ctx, q, participantID, contactID)
	if err != nil {
		return Watermarks{}, err
	}
	defer rows.Close()

	var w Watermarks
	for rows.Next() {
		var kind Kind
		var at time.Time
		if err := rows.Scan(&kind, &at); err != nil {
			return Watermarks{}, err
		}
		switch kind {
		case KindMessages:
			w.Messages = at
		case KindCalls:
			w.Calls = at
		}
	}
	return w, rows.Err()
}

func (r *PostgresRepo) Counts(ctx context.Context, participantID, contactID string) (Counts, error) {
	const q = `
SELECT
  COUNT(*) FILTER (WHERE e.kind = 'messages') AS unread_messages,
  COUNT(*) FILTER (WHERE e.kind = 'calls')    AS missed_calls
FROM badge_events e
LEFT JOIN badge_watermarks w
  ON w.participant_id = e.participant_id
 AND w.contact_id     = e.contact_id
 AND w.kind           = e.kind
WHERE e.participant_id = $1
  AND e.contact_id     = $2
  AND e.occurred_at > COALESCE(w.cleared_at, 'epoch'::timestamptz)
`
	var c Counts
	err := r.db.QueryRowContext(ctx, q, participantID, contactID).Scan(&c.UnreadMessages, &c.MissedCalls)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Counts{}, nil
		}
		return Counts{}, err
	}
	return c, nil
}

package family

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresDirectory reads family membership from the shared database.
//
// Assumed schema (owned by the family service; read-only here):
//
//	CREATE TABLE family_members (
//	  id           TEXT NOT NULL,
//	  family_id    TEXT NOT NULL,
//	  role         TEXT NOT NULL,
//	  display_name TEXT NOT NULL DEFAULT '',
//	  PRIMARY KEY (family_id, id)
//	);
//
//	CREATE TABLE family_devices (
//	  id             TEXT PRIMARY KEY,
//	  family_id      TEXT NOT NULL,
//	  participant_id TEXT NOT NULL,
//	  platform       TEXT NOT NULL DEFAULT '',
//	  push_token     TEXT NOT NULL DEFAULT ''
//	);
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Member(ctx context.Context, familyID, participantID string) (Member, error) {
	const q = `
SELECT id, family_id, role, display_name
FROM family_members
WHERE family_id = $1 AND id = $2
`
	var m Member
	err := d.db.QueryRowContext(ctx, q, familyID, participantID).
		Scan(&m.ID, &m.FamilyID, &m.Role, &m.DisplayName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Member{}, ErrNotFound
		}
		return Member{}, err
	}
	return m, nil
}

// CanCall allows any two distinct members of the same family to call each
// other. Finer policy (per-contact blocks, quiet hours) belongs to the
// family service and would extend this query, not the call platform.
func (d *PostgresDirectory) CanCall(ctx context.Context, familyID, callerID, calleeID string) (bool, error) {
	if callerID == calleeID {
		return false, nil
	}
	const q = `
SELECT COUNT(*)
FROM family_members
WHERE family_id = $1 AND id IN ($2, $3)
`
	var n int
	if err := d.db.QueryRowContext(ctx, q, familyID, callerID, calleeID).Scan(&n); err != nil {
		return false, err
	}
	return n == 2, nil
}

func (d *PostgresDirectory) Devices(ctx context.Context, familyID, participantID string) ([]Device, error) {
	const q = `
SELECT id, participant_id, platform, push_token
FROM family_devices
WHERE family_id = $1 AND participant_id = $2
`
	rows, err := d.db.QueryContext(ctx, q, familyID, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		var dev Device
		if err := rows.Scan(&dev.ID, &dev.ParticipantID, &dev.Platform, &dev.PushToken); err != nil {
			return nil, err
		}
		out = append(out, dev)
	}
	return out, rows.Err()
}

func (d *PostgresDirectory) Contacts(ctx context.Context, familyID, participantID string) ([]Member, error) {
	const q = `
SELECT id, family_id, role, display_name
FROM family_members
WHERE family_id = $1 AND id <> $2
ORDER BY display_name, id
`
	rows, err := d.db.QueryContext(ctx, q, familyID, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.FamilyID, &m.Role, &m.DisplayName); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

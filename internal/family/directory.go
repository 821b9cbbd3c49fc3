package family

import (
	"context"
	"errors"
)

// Directory is the family-membership collaborator. Account/family CRUD lives
// in another service; the call platform only reads membership, contact
// authorization and device registrations through this boundary.
//
// Rules:
// - No persistence assumptions here; implementations may use Postgres or an
//   upstream API.
// - All lookups are family-scoped (family_id required).
type Directory interface {
	Member(ctx context.Context, familyID, participantID string) (Member, error)

	// CanCall reports whether caller is authorized to ring callee.
	// Authorization policy itself is owned by the family service.
	CanCall(ctx context.Context, familyID, callerID, calleeID string) (bool, error)

	// Devices lists the participant's registered devices; notification
	// fan-out targets every one of them.
	Devices(ctx context.Context, familyID, participantID string) ([]Device, error)

	Contacts(ctx context.Context, familyID, participantID string) ([]Member, error)
}

var ErrNotFound = errors.New("family: not found")

type Member struct {
	ID          string `json:"id"`
	FamilyID    string `json:"family_id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
}

type Device struct {
	ID            string `json:"id"`
	ParticipantID string `json:"participant_id"`
	Platform      string `json:"platform"`
	PushToken     string `json:"push_token,omitempty"`
}

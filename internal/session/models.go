package session

import "time"

// CallSession represents one call attempt, from request through termination.
//
// Family invariant: FamilyID is required on every row.
//
// Status invariant: transitions are monotone along
// ringing → {connecting|declined|missed} → active → ended, with
// connecting/active → failed as the error branch. Terminal statuses are
// immutable once written. The store enforces this with a conditional write;
// clients are never trusted to know the current status.
type CallSession struct {
	ID       string `json:"id" db:"id"`
	FamilyID string `json:"family_id" db:"family_id"`

	CallerID   string `json:"caller_id" db:"caller_id"`
	CallerRole string `json:"caller_role" db:"caller_role"`
	CalleeID   string `json:"callee_id" db:"callee_id"`
	CalleeRole string `json:"callee_role" db:"callee_role"`

	Type   CallType `json:"type" db:"type"`
	Status Status   `json:"status" db:"status"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// AnsweredBy is the device that won the answer race; it is the only
	// callee endpoint allowed to proceed to media negotiation.
	AnsweredBy string `json:"answered_by,omitempty" db:"answered_by"`

	EndedBy   string    `json:"ended_by,omitempty" db:"ended_by"`
	EndReason EndReason `json:"end_reason,omitempty" db:"end_reason"`
}

type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

type Status string

const (
	StatusRinging    Status = "ringing"
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusDeclined   Status = "declined"
	StatusMissed     Status = "missed"
	StatusEnded      Status = "ended"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is final. Terminal sessions never
// change again; signaling for them is stale and must be dropped.
func (s Status) Terminal() bool {
	switch s {
	case StatusDeclined, StatusMissed, StatusEnded, StatusFailed:
		return true
	default:
		return false
	}
}

type EndReason string

const (
	EndReasonHangup         EndReason = "hangup"
	EndReasonDeclined       EndReason = "declined"
	EndReasonTimeout        EndReason = "timeout"
	EndReasonNetworkFailure EndReason = "network_failure"
)

// allowedTransitions is the closed set of legal status edges.
var allowedTransitions = map[Status][]Status{
	StatusRinging:    {StatusConnecting, StatusDeclined, StatusMissed},
	StatusConnecting: {StatusActive, StatusEnded, StatusFailed},
	StatusActive:     {StatusEnded, StatusFailed},
}

// CanTransition reports whether from → to is a legal edge of the call
// lifecycle. It says nothing about the stored status; the conditional write
// decides races.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

package history

import "time"

// Record is an immutable call history row, written once when a session
// reaches a terminal status.
//
// Invariants:
// - Records are never updated or deleted.
// - family_id is required for tenancy isolation.
// - Recording is best-effort; call flows never block on history failures.
type Record struct {
	ID        string `json:"id" db:"id"`
	SessionID string `json:"session_id" db:"session_id"`
	FamilyID  string `json:"family_id" db:"family_id"`

	CallerID string `json:"caller_id" db:"caller_id"`
	CalleeID string `json:"callee_id" db:"callee_id"`

	Type    string `json:"type" db:"type"`
	Outcome string `json:"outcome" db:"outcome"`

	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    time.Time  `json:"ended_at" db:"ended_at"`

	DurationSeconds int    `json:"duration_seconds" db:"duration_seconds"`
	EndReason       string `json:"end_reason,omitempty" db:"end_reason"`
}

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ListRequest filters a participant's call log.
type ListRequest struct {
	FamilyID      string    `json:"family_id"`
	ParticipantID string    `json:"participant_id"`
	Range         TimeRange `json:"range"`
	Limit         int       `json:"limit,omitempty"`
}

// Summary aggregates one participant's calls with one contact.
type Summary struct {
	FamilyID      string `json:"family_id"`
	ParticipantID string `json:"participant_id"`
	ContactID     string `json:"contact_id"`

	TotalCalls    int `json:"total_calls"`
	CompletedCalls int `json:"completed_calls"`
	MissedCalls   int `json:"missed_calls"`
	DeclinedCalls int `json:"declined_calls"`
	FailedCalls   int `json:"failed_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`
}

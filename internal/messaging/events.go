package messaging

import "time"

// MessageEvent is the slice of a chat message this service consumes.
// Message storage and delivery belong to the messaging service; the call
// platform only reacts to these events for notifications and badges.
type MessageEvent struct {
	MessageID string `json:"message_id"`
	FamilyID  string `json:"family_id"`

	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`

	// Preview is a short plain-text excerpt for the notification body.
	Preview string `json:"preview,omitempty"`

	SentAt time.Time `json:"sent_at"`
}

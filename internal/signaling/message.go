package signaling

import (
	"encoding/json"
	"errors"
	"time"
)

// Variant is the closed set of signaling message kinds. Receivers switch on
// it exhaustively; an unknown variant is an error, never silently handled.
type Variant string

const (
	VariantCallRequest  Variant = "call_request"
	VariantOffer        Variant = "offer"
	VariantAnswer       Variant = "answer"
	VariantICECandidate Variant = "ice_candidate"
	VariantCallAccepted Variant = "call_accepted"
	VariantCallDeclined Variant = "call_declined"
	VariantCallEnded    Variant = "call_ended"
)

func (v Variant) Known() bool {
	switch v {
	case VariantCallRequest, VariantOffer, VariantAnswer, VariantICECandidate,
		VariantCallAccepted, VariantCallDeclined, VariantCallEnded:
		return true
	default:
		return false
	}
}

// MediaVariant reports whether the variant carries media negotiation data.
// Media variants for a terminal session are stale and dropped on receive.
func (v Variant) MediaVariant() bool {
	switch v {
	case VariantOffer, VariantAnswer, VariantICECandidate:
		return true
	default:
		return false
	}
}

// Message is a transient session-control message. It is not persisted beyond
// delivery.
//
// Seq is a monotone counter per (session, sender device), assigned by the
// relay on Send. Delivery is at-least-once; consumers deduplicate by
// (session_id, variant, seq) and rely on per-sender send order only.
type Message struct {
	SessionID string `json:"session_id"`
	FamilyID  string `json:"family_id"`

	From       string `json:"from"`
	FromDevice string `json:"from_device"`
	To         string `json:"to"`

	Variant Variant `json:"variant"`
	Seq     int64   `json:"seq"`

	SentAt  time.Time       `json:"sent_at"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var ErrInvalidMessage = errors.New("signaling: invalid message")

func (m Message) Validate() error {
	if m.SessionID == "" || m.FamilyID == "" || m.From == "" || m.To == "" {
		return ErrInvalidMessage
	}
	if !m.Variant.Known() {
		return ErrInvalidMessage
	}
	return nil
}

// --- Variant payloads ---

// CallRequestPayload rings the callee's devices.
type CallRequestPayload struct {
	CallerID   string `json:"caller_id"`
	CallerRole string `json:"caller_role"`
	CallType   string `json:"call_type"`
}

// SDPPayload carries an offer or answer description verbatim. The control
// plane never inspects it.
type SDPPayload struct {
	SDP string `json:"sdp"`
}

// ICECandidatePayload carries one trickled candidate.
type ICECandidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdp_mid,omitempty"`
	SDPMLineIndex int    `json:"sdp_mline_index,omitempty"`
}

// CallAcceptedPayload tells the losing devices which device won the answer
// race so they dismiss their ring UI and do not negotiate.
type CallAcceptedPayload struct {
	AnsweredBy string `json:"answered_by"`
}

// CallDeclinedPayload reports a decline to the caller.
type CallDeclinedPayload struct {
	DeclinedBy string `json:"declined_by"`
}

// CallEndedPayload reports termination to the counterpart.
type CallEndedPayload struct {
	EndedBy string `json:"ended_by"`
	Reason  string `json:"reason"`
}

func MarshalPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

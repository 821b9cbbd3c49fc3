package media

import "context"

// Negotiator is the media-plane boundary the call state machine drives.
//
// Rules:
// - No media API calls outside media adapters.
// - The control plane never inspects SDP or candidate contents; payloads
//   travel opaquely through the signaling relay.
// - Implementations live on the device runtime; the server side only needs
//   this contract for the connect-confirmation and teardown hooks.
type Negotiator interface {
	// Prepare is called when a session enters connecting; the returned
	// offer SDP is relayed to the accepted endpoint.
	Prepare(ctx context.Context, req PrepareRequest) (PrepareResult, error)

	// Teardown releases media resources for an ended or failed session.
	// It must be idempotent: sessions can end from both sides at once.
	Teardown(ctx context.Context, sessionID string) error
}

type PrepareRequest struct {
	SessionID string `json:"session_id"`
	CallType  string `json:"call_type"`

	// RemoteDevice is the endpoint that won the answer race.
	RemoteDevice string `json:"remote_device"`
}

type PrepareResult struct {
	SessionID string `json:"session_id"`

	// OfferSDP is relayed verbatim.
	OfferSDP string `json:"offer_sdp"`
}

// NewNoopNegotiator returns a negotiator that does nothing. Used in server
// wiring where negotiation happens entirely on the devices.
func NewNoopNegotiator() Negotiator { return noopNegotiator{} }

type noopNegotiator struct{}

func (noopNegotiator) Prepare(ctx context.Context, req PrepareRequest) (PrepareResult, error) {
	return PrepareResult{SessionID: req.SessionID}, nil
}

func (noopNegotiator) Teardown(ctx context.Context, sessionID string) error { return nil }

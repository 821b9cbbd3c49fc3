package signaling

import (
	"context"
	"errors"
	"sync"

	"familycall-platform/internal/session"
)

// StatusFunc reads the current session status. Receivers use it to discard
// stale media signaling for sessions that already terminated.
type StatusFunc func(ctx context.Context, familyID, sessionID string) (session.Status, error)

// Receiver applies the consumer-side delivery rules on top of a raw
// subscription stream:
//
// - dedupe by (session_id, from_device, variant, seq): at-least-once
//   transport may replay, and a replayed or reordered-behind message is
//   dropped
// - media variants (offer/answer/ice_candidate) for a session whose stored
//   status is terminal are discarded silently
//
// One Receiver serves one device; its state is per-subscription and is
// thrown away on reconnect, which is safe because the first message after a
// reconnect re-establishes the per-sender floor.
type Receiver struct {
	status StatusFunc

	mu   sync.Mutex
	seen map[string]int64
}

func NewReceiver(status StatusFunc) *Receiver {
	return &Receiver{status: status, seen: make(map[string]int64)}
}

// Accept reports whether the message should be delivered to the device.
// A false result with nil error means the message was a duplicate or stale
// and must be dropped without any state change.
func (r *Receiver) Accept(ctx context.Context, m Message) (bool, error) {
	if err := m.Validate(); err != nil {
		return false, err
	}

	if !r.fresh(m) {
		return false, nil
	}

	if m.Variant.MediaVariant() && r.status != nil {
		st, err := r.status(ctx, m.FamilyID, m.SessionID)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				// Unknown session is treated as already ended.
				return false, nil
			}
			return false, err
		}
		if st.Terminal() {
			return false, nil
		}
	}
	return true, nil
}

func (r *Receiver) fresh(m Message) bool {
	k := m.SessionID + "/" + m.FromDevice + "/" + string(m.Variant)

	r.mu.Lock()
	defer r.mu.Unlock()
	if m.Seq <= r.seen[k] {
		return false
	}
	r.seen[k] = m.Seq
	return true
}

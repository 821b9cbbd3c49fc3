package signaling

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDeliveryFailure wraps transport errors from the relay. Senders
	// retry with backoff; the message may arrive more than once, which the
	// receive-side dedupe absorbs.
	ErrDeliveryFailure = errors.New("signaling: delivery failure")

	ErrSubscriptionClosed = errors.New("signaling: subscription closed")
)

// Relay is the publish/subscribe fabric for session-control messages.
//
// Guarantees required of implementations:
// - at-least-once delivery to each live subscriber of the target channel
// - messages from one sender within one session arrive in send order
// - Seq is assigned on Send and is monotone per (session, sender device)
//
// No ordering is guaranteed across different senders, and no delivery is
// guaranteed to participants with no live subscription (push notifications
// cover that case).
type Relay interface {
	// Send assigns the message sequence number and publishes it to the
	// recipient's channel.
	Send(ctx context.Context, m Message) error

	// Subscribe opens the participant's channel. The caller owns the
	// subscription and must Close it.
	Subscribe(ctx context.Context, participantID string) (Subscription, error)
}

type Subscription interface {
	// Messages is closed when the subscription ends.
	Messages() <-chan Message
	Close() error
}

// ChannelFor names the one logical channel per participant.
func ChannelFor(participantID string) string {
	return fmt.Sprintf("participant:%s", participantID)
}

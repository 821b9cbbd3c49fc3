package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"familycall-platform/internal/family"
	"familycall-platform/internal/messaging"
	"familycall-platform/internal/session"
)

var (
	ErrInvalidArgument = errors.New("notify: invalid argument")

	// ErrDeliveryFailure means no device of the target participant could be
	// reached. Partial failure is not an error: devices are independent.
	ErrDeliveryFailure = errors.New("notify: delivery failure")
)

// Tag values are part of the push payload contract with device handlers.
type Tag string

const (
	TagIncomingCall Tag = "incoming-call"
	TagMissedCall   Tag = "missed-call"
	TagMessage      Tag = "message"
)

// Payload is the push notification body. The device-side handler maps the
// "answer" and "decline" actions of an incoming-call notification onto the
// call API, distinct from a plain tap.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   Tag    `json:"tag"`
	Data  Data   `json:"data"`
}

type Data struct {
	SessionID string `json:"session_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	ActionURL string `json:"action_url"`
}

// Pusher is the push-transport boundary (APNs/FCM plumbing lives elsewhere).
type Pusher interface {
	Push(ctx context.Context, device family.Device, p Payload) error
}

// Deduper suppresses duplicate alerts: MarkOnce returns true the first time
// a key is seen and false on replays.
type Deduper interface {
	MarkOnce(ctx context.Context, key string) (bool, error)
}

// Dispatcher fans alerts out to every registered device of the target
// participant. Delivery to each device is independent: one device failing
// must not block the others. Replays (push redelivery, event replay) are
// absorbed by the deduper, keyed on session or message id.
type Dispatcher struct {
	directory family.Directory
	pusher    Pusher
	dedupe    Deduper
	log       *slog.Logger
}

func NewDispatcher(directory family.Directory, pusher Pusher, dedupe Deduper, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{directory: directory, pusher: pusher, dedupe: dedupe, log: log}
}

func (d *Dispatcher) NotifyIncomingCall(ctx context.Context, s session.CallSession) error {
	if s.ID == "" || s.FamilyID == "" || s.CalleeID == "" {
		return ErrInvalidArgument
	}
	return d.fanOut(ctx, "incoming:"+s.ID, s.FamilyID, s.CalleeID, Payload{
		Title: "Incoming call",
		Body:  fmt.Sprintf("%s call from %s", s.Type, d.displayName(ctx, s.FamilyID, s.CallerID)),
		Tag:   TagIncomingCall,
		Data:  Data{SessionID: s.ID, ActionURL: "/calls/" + s.ID},
	})
}

func (d *Dispatcher) NotifyMissedCall(ctx context.Context, s session.CallSession) error {
	if s.ID == "" || s.FamilyID == "" || s.CalleeID == "" {
		return ErrInvalidArgument
	}
	return d.fanOut(ctx, "missed:"+s.ID, s.FamilyID, s.CalleeID, Payload{
		Title: "Missed call",
		Body:  fmt.Sprintf("Missed %s call from %s", s.Type, d.displayName(ctx, s.FamilyID, s.CallerID)),
		Tag:   TagMissedCall,
		Data:  Data{SessionID: s.ID, ActionURL: "/calls/" + s.ID},
	})
}

func (d *Dispatcher) NotifyNewMessage(ctx context.Context, m messaging.MessageEvent) error {
	if m.MessageID == "" || m.FamilyID == "" || m.RecipientID == "" {
		return ErrInvalidArgument
	}
	return d.fanOut(ctx, "message:"+m.MessageID, m.FamilyID, m.RecipientID, Payload{
		Title: d.displayName(ctx, m.FamilyID, m.SenderID),
		Body:  m.Preview,
		Tag:   TagMessage,
		Data:  Data{MessageID: m.MessageID, ActionURL: "/messages/" + m.MessageID},
	})
}

func (d *Dispatcher) fanOut(ctx context.Context, dedupeKey, familyID, participantID string, p Payload) error {
	if d.dedupe != nil {
		first, err := d.dedupe.MarkOnce(ctx, "notify:"+dedupeKey)
		if err != nil {
			// Dedup store trouble must not silence alerts; deliver anyway.
			d.log.Warn("notify: dedupe check failed, delivering", "key", dedupeKey, "err", err)
		} else if !first {
			return nil
		}
	}

	devices, err := d.directory.Devices(ctx, familyID, participantID)
	if err != nil {
		return fmt.Errorf("notify: device lookup: %w", err)
	}
	if len(devices) == 0 {
		return nil
	}

	delivered := 0
	for _, dev := range devices {
		if err := d.pusher.Push(ctx, dev, p); err != nil {
			// Independent, not transactional: log and keep going.
			d.log.Warn("notify: push failed", "device", dev.ID, "tag", p.Tag, "err", err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return fmt.Errorf("%w: participant %s, 0/%d devices", ErrDeliveryFailure, participantID, len(devices))
	}
	return nil
}

func (d *Dispatcher) displayName(ctx context.Context, familyID, participantID string) string {
	m, err := d.directory.Member(ctx, familyID, participantID)
	if err != nil || m.DisplayName == "" {
		return participantID
	}
	return m.DisplayName
}

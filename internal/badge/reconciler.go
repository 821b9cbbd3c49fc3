package badge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"familycall-platform/internal/messaging"
	"familycall-platform/internal/session"
)

var ErrInvalidArgument = errors.New("badge: invalid argument")

// Repository persists badge events and watermarks.
//
// RecordEvent must be idempotent on (participant, contact, kind, event_id):
// recording the same event twice returns false the second time and changes
// nothing. Counts are derived: the number of recorded events with an
// occurred_at after the corresponding watermark.
type Repository interface {
	RecordEvent(ctx context.Context, participantID, contactID string, kind Kind, eventID string, occurredAt time.Time) (bool, error)
	SetWatermark(ctx context.Context, participantID, contactID string, kind Kind, clearedAt time.Time) error
	GetWatermarks(ctx context.Context, participantID, contactID string) (Watermarks, error)
	Counts(ctx context.Context, participantID, contactID string) (Counts, error)
}

// Reconciler derives per-contact unread/missed counters from session and
// message events. It is a best-effort view: failures are logged and never
// propagate back to the event source, and the whole state converges under
// replay because events are id-deduplicated and counted against watermarks.
type Reconciler struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewReconciler(repo Repository, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{repo: repo, log: log, clock: time.Now}
}

// OnSessionEvent reacts to call session changes. Only misses produce badge
// events: the callee's missed counter for the caller as a contact.
func (r *Reconciler) OnSessionEvent(ctx context.Context, ev session.ChangeEvent) error {
	s := ev.Session
	if s.Status != session.StatusMissed {
		return nil
	}
	at := ev.At
	if at.IsZero() {
		at = r.clock().UTC()
	}
	_, err := r.repo.RecordEvent(ctx, s.CalleeID, s.CallerID, KindCalls, "call:"+s.ID, at)
	if err != nil {
		return err
	}
	return nil
}

func (r *Reconciler) OnMessageEvent(ctx context.Context, m messaging.MessageEvent) error {
	if m.MessageID == "" || m.RecipientID == "" || m.SenderID == "" {
		return ErrInvalidArgument
	}
	at := m.SentAt
	if at.IsZero() {
		at = r.clock().UTC()
	}
	_, err := r.repo.RecordEvent(ctx, m.RecipientID, m.SenderID, KindMessages, "msg:"+m.MessageID, at)
	return err
}

// Clear advances the watermark for one counter kind. Counts are not zeroed;
// they are recomputed as events-after-watermark, so a concurrent event with
// a later timestamp stays visible.
func (r *Reconciler) Clear(ctx context.Context, participantID, contactID string, kind Kind) error {
	if participantID == "" || contactID == "" || !kind.Valid() {
		return ErrInvalidArgument
	}
	return r.repo.SetWatermark(ctx, participantID, contactID, kind, r.clock().UTC())
}

func (r *Reconciler) GetCounts(ctx context.Context, participantID, contactID string) (Counts, error) {
	if participantID == "" || contactID == "" {
		return Counts{}, ErrInvalidArgument
	}
	return r.repo.Counts(ctx, participantID, contactID)
}

// Run consumes the session store's change events until ctx is done or the
// channel closes. Reconciler failures are logged and swallowed: badges are a
// derived view and must never hold up session event delivery.
func (r *Reconciler) Run(ctx context.Context, events <-chan session.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := r.OnSessionEvent(ctx, ev); err != nil {
				r.log.Warn("badge: session event dropped", "session_id", ev.Session.ID, "err", err)
			}
		}
	}
}

package calls

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"familycall-platform/internal/config"
	"familycall-platform/internal/family"
	"familycall-platform/internal/media"
	"familycall-platform/internal/session"
	"familycall-platform/internal/signaling"
)

var (
	// ErrNotAuthorized means the family directory rejected the caller/callee
	// pair. Who may call whom is family policy, not call-platform policy.
	ErrNotAuthorized = errors.New("calls: not authorized")

	// ErrNotParticipant means the acting participant is neither side of the
	// session.
	ErrNotParticipant = errors.New("calls: not a session participant")
)

// Notifier is the push fan-out boundary the machine drives. Best effort:
// push failures never fail a call operation.
type Notifier interface {
	NotifyIncomingCall(ctx context.Context, s session.CallSession) error
	NotifyMissedCall(ctx context.Context, s session.CallSession) error
}

// Machine drives the call lifecycle. It owns every timer of a call (ring
// timeout, connect timeout, heartbeat dead-man) and is the only component
// that asks the session store for transitions.
//
// All races resolve at the store's compare-and-swap: an expired ring timer
// and a simultaneous answer both try their transition and exactly one wins.
// The loser's ErrConflict is absorbed where losing is expected (timers,
// duplicate ends) and surfaced where the client must re-sync (late answers).
type Machine struct {
	store     *session.Store
	relay     signaling.Relay
	directory family.Directory
	notifier  Notifier
	media     media.Negotiator
	cfg       config.CallConfig
	log       *slog.Logger

	clock func() time.Time
	newID func() string

	mu     sync.Mutex
	timers map[string]*sessionTimers
}

type sessionTimers struct {
	ring    *time.Timer
	connect *time.Timer
	deadman *time.Timer
}

func NewMachine(store *session.Store, relay signaling.Relay, directory family.Directory, notifier Notifier, negotiator media.Negotiator, cfg config.CallConfig, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	if negotiator == nil {
		negotiator = media.NewNoopNegotiator()
	}
	return &Machine{
		store:     store,
		relay:     relay,
		directory: directory,
		notifier:  notifier,
		media:     negotiator,
		cfg:       cfg,
		log:       log,
		clock:     time.Now,
		newID:     uuid.NewString,
		timers:    make(map[string]*sessionTimers),
	}
}

// RequestCall authorizes the pair, creates a ringing session, rings every
// callee device over the relay and by push, and arms the ring timeout.
func (m *Machine) RequestCall(ctx context.Context, familyID, callerID, callerDevice, calleeID string, callType session.CallType) (session.CallSession, error) {
	if callerID == calleeID {
		return session.CallSession{}, session.ErrInvalidArgument
	}

	ok, err := m.directory.CanCall(ctx, familyID, callerID, calleeID)
	if err != nil {
		return session.CallSession{}, err
	}
	if !ok {
		return session.CallSession{}, ErrNotAuthorized
	}

	caller, err := m.directory.Member(ctx, familyID, callerID)
	if err != nil {
		return session.CallSession{}, err
	}
	callee, err := m.directory.Member(ctx, familyID, calleeID)
	if err != nil {
		return session.CallSession{}, err
	}

	s, err := m.store.Create(ctx, session.CallSession{
		ID:         m.newID(),
		FamilyID:   familyID,
		CallerID:   callerID,
		CallerRole: caller.Role,
		CalleeID:   calleeID,
		CalleeRole: callee.Role,
		Type:       callType,
		Status:     session.StatusRinging,
	})
	if err != nil {
		return session.CallSession{}, err
	}

	m.sendSignal(ctx, signaling.Message{
		SessionID:  s.ID,
		FamilyID:   familyID,
		From:       callerID,
		FromDevice: callerDevice,
		To:         calleeID,
		Variant:    signaling.VariantCallRequest,
		SentAt:     m.clock().UTC(),
		Payload: signaling.MarshalPayload(signaling.CallRequestPayload{
			CallerID:   callerID,
			CallerRole: caller.Role,
			CallType:   string(callType),
		}),
	})

	if err := m.notifier.NotifyIncomingCall(ctx, s); err != nil {
		m.log.Warn("incoming call push failed", "session_id", s.ID, "err", err)
	}

	m.armRing(s.FamilyID, s.ID)
	return s, nil
}

// Answer claims the ringing session for one callee device. The conditional
// transition is the answer race: if another device or the ring timer got
// there first this returns session.ErrConflict and the device must re-read
// the session.
func (m *Machine) Answer(ctx context.Context, familyID, sessionID, participantID, deviceID string) (session.CallSession, error) {
	s, err := m.store.Get(ctx, familyID, sessionID)
	if err != nil {
		return session.CallSession{}, err
	}
	if s.CalleeID != participantID {
		return session.CallSession{}, ErrNotParticipant
	}

	now := m.clock().UTC()
	s, err = m.store.Transition(ctx, familyID, sessionID, session.StatusRinging, session.StatusConnecting, session.Fields{
		AnsweredAt: &now,
		AnsweredBy: deviceID,
	})
	if err != nil {
		return session.CallSession{}, err
	}

	m.stopRing(sessionID)
	m.armConnect(familyID, sessionID)

	accepted := signaling.MarshalPayload(signaling.CallAcceptedPayload{AnsweredBy: deviceID})
	// Both sides need the verdict: the caller to start negotiating, the
	// callee's losing devices to dismiss their ring UI.
	for _, to := range []string{s.CallerID, s.CalleeID} {
		m.sendSignal(ctx, signaling.Message{
			SessionID:  sessionID,
			FamilyID:   familyID,
			From:       participantID,
			FromDevice: deviceID,
			To:         to,
			Variant:    signaling.VariantCallAccepted,
			SentAt:     now,
			Payload:    accepted,
		})
	}

	if res, perr := m.media.Prepare(ctx, media.PrepareRequest{
		SessionID:    sessionID,
		CallType:     string(s.Type),
		RemoteDevice: deviceID,
	}); perr != nil {
		m.log.Warn("media prepare failed", "session_id", sessionID, "err", perr)
	} else if res.OfferSDP != "" {
		m.sendSignal(ctx, signaling.Message{
			SessionID: sessionID,
			FamilyID:  familyID,
			From:      s.CallerID,
			To:        s.CalleeID,
			Variant:   signaling.VariantOffer,
			SentAt:    m.clock().UTC(),
			Payload:   signaling.MarshalPayload(signaling.SDPPayload{SDP: res.OfferSDP}),
		})
	}

	return s, nil
}

// Decline rejects a ringing call. A decline that loses the race to any
// other transition is a no-op success: whether a timeout landed first or
// another device answered, the caller gets the authoritative session back,
// never a conflict.
func (m *Machine) Decline(ctx context.Context, familyID, sessionID, participantID, deviceID string) (session.CallSession, error) {
	s, err := m.store.Get(ctx, familyID, sessionID)
	if err != nil {
		return session.CallSession{}, err
	}
	if s.CalleeID != participantID {
		return session.CallSession{}, ErrNotParticipant
	}

	now := m.clock().UTC()
	out, err := m.store.Transition(ctx, familyID, sessionID, session.StatusRinging, session.StatusDeclined, session.Fields{
		EndedAt:   &now,
		EndedBy:   participantID,
		EndReason: session.EndReasonDeclined,
	})
	if err != nil {
		if !errors.Is(err, session.ErrConflict) {
			return session.CallSession{}, err
		}
		cur, gerr := m.store.Get(ctx, familyID, sessionID)
		if gerr != nil {
			return session.CallSession{}, gerr
		}
		return cur, nil
	}

	m.stopAll(sessionID)
	m.sendSignal(ctx, signaling.Message{
		SessionID:  sessionID,
		FamilyID:   familyID,
		From:       participantID,
		FromDevice: deviceID,
		To:         out.CallerID,
		Variant:    signaling.VariantCallDeclined,
		SentAt:     now,
		Payload:    signaling.MarshalPayload(signaling.CallDeclinedPayload{DeclinedBy: participantID}),
	})
	return out, nil
}

// MarkActive confirms media is flowing and moves connecting → active. Called
// by either endpoint once negotiation completes; the first confirmation wins
// and later ones conflict harmlessly.
func (m *Machine) MarkActive(ctx context.Context, familyID, sessionID, participantID string) (session.CallSession, error) {
	s, err := m.store.Get(ctx, familyID, sessionID)
	if err != nil {
		return session.CallSession{}, err
	}
	if participantID != s.CallerID && participantID != s.CalleeID {
		return session.CallSession{}, ErrNotParticipant
	}
	if s.Status == session.StatusActive {
		return s, nil
	}

	out, err := m.store.Transition(ctx, familyID, sessionID, session.StatusConnecting, session.StatusActive, session.Fields{})
	if err != nil {
		return session.CallSession{}, err
	}

	m.stopConnect(sessionID)
	m.armDeadman(familyID, sessionID)
	return out, nil
}

// End terminates the session from whatever non-terminal state it is in.
// Ending an already-terminal session succeeds without effect: hangups race
// from both sides and both users did the right thing.
//
// A caller hanging up while still ringing records the attempt as missed; a
// callee "ending" a ringing call is a decline. A network_failure reason
// (the media layer giving up) lands in failed rather than ended.
func (m *Machine) End(ctx context.Context, familyID, sessionID, participantID string, reason session.EndReason) (session.CallSession, error) {
	s, err := m.store.Get(ctx, familyID, sessionID)
	if err != nil {
		return session.CallSession{}, err
	}
	if participantID != s.CallerID && participantID != s.CalleeID {
		return session.CallSession{}, ErrNotParticipant
	}
	if s.Status.Terminal() {
		return s, nil
	}
	if reason == "" {
		reason = session.EndReasonHangup
	}

	now := m.clock().UTC()
	var next session.Status
	switch s.Status {
	case session.StatusRinging:
		if participantID == s.CalleeID {
			return m.Decline(ctx, familyID, sessionID, participantID, "")
		}
		next = session.StatusMissed
	case session.StatusConnecting, session.StatusActive:
		next = session.StatusEnded
		if reason == session.EndReasonNetworkFailure {
			next = session.StatusFailed
		}
	default:
		return s, nil
	}

	out, err := m.store.Transition(ctx, familyID, sessionID, s.Status, next, session.Fields{
		EndedAt:   &now,
		EndedBy:   participantID,
		EndReason: reason,
	})
	if err != nil {
		if !errors.Is(err, session.ErrConflict) {
			return session.CallSession{}, err
		}
		cur, gerr := m.store.Get(ctx, familyID, sessionID)
		if gerr != nil {
			return session.CallSession{}, gerr
		}
		if cur.Status.Terminal() {
			return cur, nil
		}
		// Raced with answer or activation; retry from the fresh status.
		return m.End(ctx, familyID, sessionID, participantID, reason)
	}

	m.finish(ctx, out, participantID)
	return out, nil
}

// Heartbeat keeps an active call alive. Missing heartbeats past the grace
// period fail the call with network_failure. The returned session lets a
// reconnecting device discover that its call is already over.
func (m *Machine) Heartbeat(ctx context.Context, familyID, sessionID, participantID string) (session.CallSession, error) {
	s, err := m.store.Get(ctx, familyID, sessionID)
	if err != nil {
		return session.CallSession{}, err
	}
	if participantID != s.CallerID && participantID != s.CalleeID {
		return session.CallSession{}, ErrNotParticipant
	}
	if s.Status == session.StatusActive {
		m.armDeadman(familyID, sessionID)
	}
	return s, nil
}

// --- timers ---

type timerSlot int

const (
	slotRing timerSlot = iota
	slotConnect
	slotDeadman
)

func (m *Machine) armRing(familyID, sessionID string) {
	m.setTimer(sessionID, slotRing, m.cfg.RingTimeout, func() {
		m.onRingTimeout(familyID, sessionID)
	})
}

func (m *Machine) armConnect(familyID, sessionID string) {
	m.setTimer(sessionID, slotConnect, m.cfg.ConnectTimeout, func() {
		m.onExpiry(familyID, sessionID, session.StatusConnecting)
	})
}

func (m *Machine) armDeadman(familyID, sessionID string) {
	m.setTimer(sessionID, slotDeadman, m.cfg.HeartbeatGrace, func() {
		m.onExpiry(familyID, sessionID, session.StatusActive)
	})
}

func (m *Machine) setTimer(sessionID string, slot timerSlot, d time.Duration, fire func()) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[sessionID]
	if !ok {
		t = &sessionTimers{}
		m.timers[sessionID] = t
	}
	tm := time.AfterFunc(d, fire)
	switch slot {
	case slotRing:
		if t.ring != nil {
			t.ring.Stop()
		}
		t.ring = tm
	case slotConnect:
		if t.connect != nil {
			t.connect.Stop()
		}
		t.connect = tm
	case slotDeadman:
		if t.deadman != nil {
			t.deadman.Stop()
		}
		t.deadman = tm
	}
}

func (m *Machine) stopRing(sessionID string) { m.stopSlot(sessionID, slotRing) }

func (m *Machine) stopConnect(sessionID string) { m.stopSlot(sessionID, slotConnect) }

func (m *Machine) stopSlot(sessionID string, slot timerSlot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[sessionID]
	if !ok {
		return
	}
	switch slot {
	case slotRing:
		if t.ring != nil {
			t.ring.Stop()
			t.ring = nil
		}
	case slotConnect:
		if t.connect != nil {
			t.connect.Stop()
			t.connect = nil
		}
	case slotDeadman:
		if t.deadman != nil {
			t.deadman.Stop()
			t.deadman = nil
		}
	}
}

func (m *Machine) stopAll(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[sessionID]
	if !ok {
		return
	}
	for _, tm := range []*time.Timer{t.ring, t.connect, t.deadman} {
		if tm != nil {
			tm.Stop()
		}
	}
	delete(m.timers, sessionID)
}

func (m *Machine) onRingTimeout(familyID, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := m.clock().UTC()
	out, err := m.store.Transition(ctx, familyID, sessionID, session.StatusRinging, session.StatusMissed, session.Fields{
		EndedAt:   &now,
		EndReason: session.EndReasonTimeout,
	})
	if err != nil {
		// Lost to an answer or decline; nothing to do.
		if !errors.Is(err, session.ErrConflict) && !errors.Is(err, session.ErrNotFound) {
			m.log.Error("ring timeout transition failed", "session_id", sessionID, "err", err)
		}
		return
	}

	m.stopAll(sessionID)
	m.sendSignal(ctx, signaling.Message{
		SessionID: sessionID,
		FamilyID:  familyID,
		From:      out.CalleeID,
		To:        out.CallerID,
		Variant:   signaling.VariantCallEnded,
		SentAt:    now,
		Payload:   signaling.MarshalPayload(signaling.CallEndedPayload{Reason: string(session.EndReasonTimeout)}),
	})
	if err := m.notifier.NotifyMissedCall(ctx, out); err != nil {
		m.log.Warn("missed call push failed", "session_id", sessionID, "err", err)
	}
}

// onExpiry fails a call whose connect or heartbeat window lapsed.
func (m *Machine) onExpiry(familyID, sessionID string, expected session.Status) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := m.clock().UTC()
	out, err := m.store.Transition(ctx, familyID, sessionID, expected, session.StatusFailed, session.Fields{
		EndedAt:   &now,
		EndReason: session.EndReasonNetworkFailure,
	})
	if err != nil {
		if !errors.Is(err, session.ErrConflict) && !errors.Is(err, session.ErrNotFound) {
			m.log.Error("expiry transition failed", "session_id", sessionID, "err", err)
		}
		return
	}
	m.finish(ctx, out, "")
}

// finish handles the common tail of every termination: stop timers, tell
// both sides, release media.
func (m *Machine) finish(ctx context.Context, s session.CallSession, endedBy string) {
	m.stopAll(s.ID)

	payload := signaling.MarshalPayload(signaling.CallEndedPayload{
		EndedBy: endedBy,
		Reason:  string(s.EndReason),
	})
	for _, to := range []string{s.CallerID, s.CalleeID} {
		m.sendSignal(ctx, signaling.Message{
			SessionID: s.ID,
			FamilyID:  s.FamilyID,
			From:      endedBy,
			To:        to,
			Variant:   signaling.VariantCallEnded,
			SentAt:    m.clock().UTC(),
			Payload:   payload,
		})
	}

	if err := m.media.Teardown(ctx, s.ID); err != nil {
		m.log.Warn("media teardown failed", "session_id", s.ID, "err", err)
	}
}

func (m *Machine) sendSignal(ctx context.Context, msg signaling.Message) {
	if msg.From == "" {
		msg.From = "system"
	}
	if err := m.relay.Send(ctx, msg); err != nil {
		// At-least-once is only promised to live subscribers; push
		// notifications cover the rest.
		m.log.Warn("signal send failed", "session_id", msg.SessionID, "variant", msg.Variant, "err", err)
	}
}
